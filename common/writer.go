package common

import (
	"context"
	"fmt"
	"sync"

	"github.com/whosonfirst/go-writer/v3"
)

var writers = make(map[string]writer.Writer)
var writers_mu = new(sync.RWMutex)

// NewWriter returns a whosonfirst/go-writer.Writer instance for
// publishing COCO documents and manifests. Instances are cached per
// URI; fold materialization writes many documents through the same
// writer.
func NewWriter(ctx context.Context, uri string) (writer.Writer, error) {

	writers_mu.RLock()
	wr, ok := writers[uri]
	writers_mu.RUnlock()

	if ok {
		return wr, nil
	}

	wr, err := writer.NewWriter(ctx, uri)

	if err != nil {
		return nil, fmt.Errorf("Failed to create writer for '%s', %w", uri, err)
	}

	writers_mu.Lock()
	writers[uri] = wr
	writers_mu.Unlock()

	return wr, nil
}
