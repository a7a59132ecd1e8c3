/*

You might be thinking: I know, I'll make a common pool of buckets that the
assemble and crossval and merge codes can all share! It's okay, I thought
that too. The problem is that if you call the bucket's Close() method in
your code (and you should call it _somewhere_) then it will stop working
(as expected) for all the other code that currently has an instance of it.
It's just not worth the logistics to bother with a pool of buckets so
create them as one-offs, as needed.

*/
package common

import (
	"context"
	"fmt"
	"io"

	"gocloud.dev/blob"
)

// EmptyBucket deletes every key stored in a blob.Bucket instance. Runs
// never resume partial output; regenerating a dataset starts from a
// clean prefix.
func EmptyBucket(ctx context.Context, bucket *blob.Bucket) error {

	iter := bucket.List(nil)

	for {

		select {
		case <-ctx.Done():
			return nil
		default:
			// pass
		}

		obj, err := iter.Next(ctx)

		if err == io.EOF {
			break
		}

		if err != nil {
			return fmt.Errorf("Failed to list bucket, %w", err)
		}

		if obj.IsDir {
			continue
		}

		err = bucket.Delete(ctx, obj.Key)

		if err != nil {
			return fmt.Errorf("Failed to delete %s, %w", obj.Key, err)
		}
	}

	return nil
}

// CopyFile copies a single key from one blob.Bucket instance to another.
func CopyFile(ctx context.Context, source *blob.Bucket, target *blob.Bucket, source_path string, target_path string) error {

	r, err := source.NewReader(ctx, source_path, nil)

	if err != nil {
		return fmt.Errorf("Failed to create reader for %s, %w", source_path, err)
	}

	defer r.Close()

	wr, err := target.NewWriter(ctx, target_path, nil)

	if err != nil {
		return fmt.Errorf("Failed to create writer for %s, %w", target_path, err)
	}

	_, err = io.Copy(wr, r)

	if err != nil {
		wr.Close()
		return fmt.Errorf("Failed to copy %s to %s, %w", source_path, target_path, err)
	}

	err = wr.Close()

	if err != nil {
		return fmt.Errorf("Failed to close %s, %w", target_path, err)
	}

	return nil
}
