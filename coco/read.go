package coco

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/tidwall/gjson"
	"github.com/whosonfirst/go-reader/v2"
	"gocloud.dev/blob"
)

// Known field names per record type. Anything else encountered during
// decoding ends up in the record's Extra bag.

var imageFields = fieldSet("id", "width", "height", "file_name", "tile_source")
var categoryFields = fieldSet("id", "name", "supercategory")
var annotationFields = fieldSet("id", "image_id", "category_id", "segmentation", "area", "bbox", "iscrowd")

func fieldSet(names ...string) map[string]bool {

	s := make(map[string]bool, len(names))

	for _, n := range names {
		s[n] = true
	}

	return s
}

// extraFields collects the members of a JSON object not named in known,
// preserving their raw encoding.
func extraFields(raw json.RawMessage, known map[string]bool) map[string]json.RawMessage {

	var extra map[string]json.RawMessage

	gjson.ParseBytes(raw).ForEach(func(key gjson.Result, value gjson.Result) bool {

		k := key.String()

		if known[k] {
			return true
		}

		if extra == nil {
			extra = make(map[string]json.RawMessage)
		}

		extra[k] = json.RawMessage(value.Raw)
		return true
	})

	return extra
}

// UnmarshalDataset decodes a COCO document. Fields the data model does
// not define are captured per record rather than rejected, since
// Roboflow exports routinely carry extras.
func UnmarshalDataset(body []byte) (*Dataset, error) {

	if !gjson.ValidBytes(body) {
		return nil, fmt.Errorf("Document is not valid JSON, %w", ErrInvalidDataset)
	}

	var shell struct {
		Info        json.RawMessage   `json:"info"`
		Licenses    []json.RawMessage `json:"licenses"`
		Images      []json.RawMessage `json:"images"`
		Annotations []json.RawMessage `json:"annotations"`
		Categories  []json.RawMessage `json:"categories"`
	}

	err := json.Unmarshal(body, &shell)

	if err != nil {
		return nil, fmt.Errorf("Failed to decode document, %w", err)
	}

	ds := &Dataset{
		Licenses:    make([]*License, 0, len(shell.Licenses)),
		Images:      make([]*Image, 0, len(shell.Images)),
		Annotations: make([]*Annotation, 0, len(shell.Annotations)),
		Categories:  make([]*Category, 0, len(shell.Categories)),
	}

	if len(shell.Info) > 0 && string(shell.Info) != "null" {

		var info Info

		err := json.Unmarshal(shell.Info, &info)

		if err != nil {
			return nil, fmt.Errorf("Failed to decode info block, %w", err)
		}

		ds.Info = &info
	}

	for i, raw := range shell.Licenses {

		var l License

		err := json.Unmarshal(raw, &l)

		if err != nil {
			return nil, fmt.Errorf("Failed to decode license at offset %d, %w", i, err)
		}

		ds.Licenses = append(ds.Licenses, &l)
	}

	for i, raw := range shell.Images {

		var im Image

		err := json.Unmarshal(raw, &im)

		if err != nil {
			return nil, fmt.Errorf("Failed to decode image at offset %d, %w", i, err)
		}

		im.Extra = extraFields(raw, imageFields)
		ds.Images = append(ds.Images, &im)
	}

	for i, raw := range shell.Annotations {

		var a Annotation

		err := json.Unmarshal(raw, &a)

		if err != nil {
			return nil, fmt.Errorf("Failed to decode annotation at offset %d, %w", i, err)
		}

		if a.Segmentation == nil {
			a.Segmentation = make([][]float64, 0)
		}

		a.Extra = extraFields(raw, annotationFields)
		ds.Annotations = append(ds.Annotations, &a)
	}

	for i, raw := range shell.Categories {

		var c Category

		err := json.Unmarshal(raw, &c)

		if err != nil {
			return nil, fmt.Errorf("Failed to decode category at offset %d, %w", i, err)
		}

		c.Extra = extraFields(raw, categoryFields)
		ds.Categories = append(ds.Categories, &c)
	}

	return ds, nil
}

// ReadDataset reads and decodes a COCO document stored in a blob.Bucket
// instance.
func ReadDataset(ctx context.Context, bucket *blob.Bucket, path string) (*Dataset, error) {

	r, err := bucket.NewReader(ctx, path, nil)

	if err != nil {
		return nil, fmt.Errorf("Failed to create reader for %s, %w", path, err)
	}

	defer r.Close()

	body, err := io.ReadAll(r)

	if err != nil {
		return nil, fmt.Errorf("Failed to read %s, %w", path, err)
	}

	ds, err := UnmarshalDataset(body)

	if err != nil {
		return nil, fmt.Errorf("Failed to parse %s, %w", path, err)
	}

	return ds, nil
}

// ReadDatasetWithReader reads and decodes a COCO document with a
// whosonfirst/go-reader Reader instance.
func ReadDatasetWithReader(ctx context.Context, r reader.Reader, path string) (*Dataset, error) {

	fh, err := r.Read(ctx, path)

	if err != nil {
		return nil, fmt.Errorf("Failed to open %s for reading, %w", path, err)
	}

	defer fh.Close()

	body, err := io.ReadAll(fh)

	if err != nil {
		return nil, fmt.Errorf("Failed to read %s, %w", path, err)
	}

	ds, err := UnmarshalDataset(body)

	if err != nil {
		return nil, fmt.Errorf("Failed to parse %s, %w", path, err)
	}

	return ds, nil
}
