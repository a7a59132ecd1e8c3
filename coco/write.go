package coco

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/tidwall/sjson"
	"github.com/whosonfirst/go-ioutil"
	"github.com/whosonfirst/go-writer/v3"
	"gocloud.dev/blob"
)

// escapePath escapes a field name so sjson treats it as a single key
// rather than a dotted path.
func escapePath(k string) string {
	k = strings.ReplaceAll(k, `\`, `\\`)
	k = strings.ReplaceAll(k, ".", `\.`)
	k = strings.ReplaceAll(k, "*", `\*`)
	k = strings.ReplaceAll(k, "?", `\?`)
	return k
}

// marshalWithExtra encodes a record and then re-attaches any preserved
// unrecognized fields.
func marshalWithExtra(rec interface{}, extra map[string]json.RawMessage) (json.RawMessage, error) {

	body, err := json.Marshal(rec)

	if err != nil {
		return nil, err
	}

	for k, v := range extra {

		body, err = sjson.SetRawBytes(body, escapePath(k), v)

		if err != nil {
			return nil, fmt.Errorf("Failed to preserve field '%s', %w", k, err)
		}
	}

	return body, nil
}

// DefaultInfo returns a minimal well-formed info block for datasets that
// did not carry one of their own.
func DefaultInfo(description string) *Info {

	now := time.Now()

	return &Info{
		Year:        now.Year(),
		Version:     "1.0",
		Description: description,
		Contributor: "go-coco-tiles",
		URL:         "",
		DateCreated: now.Format(time.RFC3339),
	}
}

// MarshalDataset encodes a COCO document, writing info and licenses as
// structured records and re-attaching preserved passthrough fields on
// every image, annotation and category.
func MarshalDataset(ds *Dataset) ([]byte, error) {

	type shell struct {
		Info        json.RawMessage   `json:"info"`
		Licenses    []json.RawMessage `json:"licenses"`
		Images      []json.RawMessage `json:"images"`
		Annotations []json.RawMessage `json:"annotations"`
		Categories  []json.RawMessage `json:"categories"`
	}

	doc := shell{
		Licenses:    make([]json.RawMessage, 0, len(ds.Licenses)),
		Images:      make([]json.RawMessage, 0, len(ds.Images)),
		Annotations: make([]json.RawMessage, 0, len(ds.Annotations)),
		Categories:  make([]json.RawMessage, 0, len(ds.Categories)),
	}

	info := ds.Info

	if info == nil {
		info = DefaultInfo("")
	}

	enc_info, err := json.Marshal(info)

	if err != nil {
		return nil, fmt.Errorf("Failed to encode info block, %w", err)
	}

	doc.Info = enc_info

	for _, l := range ds.Licenses {

		enc, err := json.Marshal(l)

		if err != nil {
			return nil, fmt.Errorf("Failed to encode license %d, %w", l.ID, err)
		}

		doc.Licenses = append(doc.Licenses, enc)
	}

	for _, im := range ds.Images {

		enc, err := marshalWithExtra(im, im.Extra)

		if err != nil {
			return nil, fmt.Errorf("Failed to encode image %d, %w", im.ID, err)
		}

		doc.Images = append(doc.Images, enc)
	}

	for _, a := range ds.Annotations {

		enc, err := marshalWithExtra(a, a.Extra)

		if err != nil {
			return nil, fmt.Errorf("Failed to encode annotation %d, %w", a.ID, err)
		}

		doc.Annotations = append(doc.Annotations, enc)
	}

	for _, c := range ds.Categories {

		enc, err := marshalWithExtra(c, c.Extra)

		if err != nil {
			return nil, fmt.Errorf("Failed to encode category %d, %w", c.ID, err)
		}

		doc.Categories = append(doc.Categories, enc)
	}

	return json.MarshalIndent(doc, "", "  ")
}

// WriteDataset encodes a COCO document and stores it in a blob.Bucket
// instance at path.
func WriteDataset(ctx context.Context, bucket *blob.Bucket, path string, ds *Dataset) error {

	body, err := MarshalDataset(ds)

	if err != nil {
		return fmt.Errorf("Failed to encode dataset, %w", err)
	}

	wr, err := bucket.NewWriter(ctx, path, nil)

	if err != nil {
		return fmt.Errorf("Failed to create writer for %s, %w", path, err)
	}

	_, err = wr.Write(body)

	if err != nil {
		wr.Close()
		return fmt.Errorf("Failed to write %s, %w", path, err)
	}

	err = wr.Close()

	if err != nil {
		return fmt.Errorf("Failed to close %s, %w", path, err)
	}

	return nil
}

// WriteDatasetWithWriter encodes a COCO document and publishes it with a
// whosonfirst/go-writer Writer instance.
func WriteDatasetWithWriter(ctx context.Context, wr writer.Writer, path string, ds *Dataset) error {

	body, err := MarshalDataset(ds)

	if err != nil {
		return fmt.Errorf("Failed to encode dataset, %w", err)
	}

	br := bytes.NewReader(body)
	fh, err := ioutil.NewReadSeekCloser(br)

	if err != nil {
		return fmt.Errorf("Failed to create ReadSeekCloser for %s, %w", path, err)
	}

	_, err = wr.Write(ctx, path, fh)

	if err != nil {
		return fmt.Errorf("Failed to write %s, %w", path, err)
	}

	return nil
}
