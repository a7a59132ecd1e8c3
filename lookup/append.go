package lookup

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/tidwall/gjson"
)

// FingerprintAppendLookupFunc indexes tiles by their SHA-1 fingerprint.
// Manifest entries without a fingerprint are skipped.
func FingerprintAppendLookupFunc(ctx context.Context, lookup_table *sync.Map, r io.ReadCloser) error {

	defer r.Close()

	body, err := io.ReadAll(r)

	if err != nil {
		return fmt.Errorf("Failed to read manifest document, %w", err)
	}

	entries := gjson.ParseBytes(body)

	if !entries.IsArray() {
		return fmt.Errorf("Manifest document is not a list of tiles")
	}

	for _, e := range entries.Array() {

		fingerprint := e.Get("fingerprint")

		if !fingerprint.Exists() {
			continue
		}

		file_name := e.Get("file_name").String()

		AppendMatch(lookup_table, fingerprint.String(), file_name)
	}

	return nil
}

// ImageHashAppendLookupFunc indexes tiles by their perceptual image
// hashes. Keys are prefixed with the hashing approach so that average
// and difference hashes never collide.
func ImageHashAppendLookupFunc(ctx context.Context, lookup_table *sync.Map, r io.ReadCloser) error {

	defer r.Close()

	body, err := io.ReadAll(r)

	if err != nil {
		return fmt.Errorf("Failed to read manifest document, %w", err)
	}

	entries := gjson.ParseBytes(body)

	if !entries.IsArray() {
		return fmt.Errorf("Manifest document is not a list of tiles")
	}

	for _, e := range entries.Array() {

		file_name := e.Get("file_name").String()

		for _, h := range e.Get("image_hashes").Array() {

			approach := h.Get("approach").String()
			hash := h.Get("hash").String()

			if hash == "" {
				continue
			}

			key := fmt.Sprintf("%s#%s", approach, hash)
			AppendMatch(lookup_table, key, file_name)
		}
	}

	return nil
}
