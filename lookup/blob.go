package lookup

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"gocloud.dev/blob"
)

// ManifestSuffix is the filename suffix identifying tile manifest
// documents in a bucket.
const ManifestSuffix string = "tiles_manifest.json"

// BlobLookerUpper is a LookerUpper that reads tile manifest documents
// out of a gocloud.dev/blob bucket.
type BlobLookerUpper struct {
	LookerUpper
	bucket *blob.Bucket
}

func NewBlobLookerUpper(ctx context.Context) LookerUpper {
	l := &BlobLookerUpper{}
	return l
}

func NewBlobLookerUpperWithBucket(ctx context.Context, bucket *blob.Bucket) LookerUpper {

	l := &BlobLookerUpper{
		bucket: bucket,
	}

	return l
}

func (l *BlobLookerUpper) Open(ctx context.Context, uri string) error {

	bucket, err := blob.OpenBucket(ctx, uri)

	if err != nil {
		return fmt.Errorf("Failed to open bucket for '%s', %w", uri, err)
	}

	l.bucket = bucket
	return nil
}

func (l *BlobLookerUpper) Append(ctx context.Context, lookup_table *sync.Map, append_funcs ...AppendLookupFunc) error {

	iter := l.bucket.List(nil)

	for {

		obj, err := iter.Next(ctx)

		if err == io.EOF {
			break
		}

		if err != nil {
			return fmt.Errorf("Failed to iterate bucket, %w", err)
		}

		if !strings.HasSuffix(obj.Key, ManifestSuffix) {
			continue
		}

		for _, f := range append_funcs {

			r, err := l.bucket.NewReader(ctx, obj.Key, nil)

			if err != nil {
				return fmt.Errorf("Failed to open '%s' for reading, %w", obj.Key, err)
			}

			err = f(ctx, lookup_table, r)

			if err != nil {
				return fmt.Errorf("Failed to append lookups for '%s', %w", obj.Key, err)
			}
		}
	}

	return nil
}
