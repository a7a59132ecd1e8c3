package common

import (
	"context"
	"fmt"
	"sync"

	"github.com/whosonfirst/go-reader/v2"
)

var readers = make(map[string]reader.Reader)
var readers_mu = new(sync.RWMutex)

// NewReader returns a whosonfirst/go-reader.Reader instance for
// fetching COCO documents. Instances are cached per URI so the command
// line tools can resolve the same source repeatedly without
// reconnecting.
func NewReader(ctx context.Context, uri string) (reader.Reader, error) {

	readers_mu.RLock()
	r, ok := readers[uri]
	readers_mu.RUnlock()

	if ok {
		return r, nil
	}

	r, err := reader.NewReader(ctx, uri)

	if err != nil {
		return nil, fmt.Errorf("Failed to create reader for '%s', %w", uri, err)
	}

	readers_mu.Lock()
	readers[uri] = r
	readers_mu.Unlock()

	return r, nil
}
