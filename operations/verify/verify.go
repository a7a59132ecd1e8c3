// Package verify re-parses an emitted COCO document and checks its
// structural integrity: bounding boxes inside image bounds, identifier
// references that resolve, files that exist. It is a smoke test over
// what was written, not a geometric re-derivation.
package verify

import (
	"context"
	"fmt"
	"io"
	"mime"
	"path/filepath"
	"strings"

	"github.com/sfomuseum/go-coco-tiles/coco"
	"github.com/tidwall/gjson"
	"github.com/whosonfirst/go-reader/v2"
	"gocloud.dev/blob"
)

// bboxSlack absorbs float formatting wobble at image edges.
const bboxSlack = 1e-6

// Options configures a verification pass.
type Options struct {
	// Bucket, when non-nil, is checked for the existence of every
	// referenced image file.
	Bucket *blob.Bucket
	// CheckOrphans crawls Bucket for image files the document never
	// references. It is ignored when Bucket is nil.
	CheckOrphans bool
}

// Report is the outcome of a verification pass.
type Report struct {
	Images      int      `json:"images"`
	Annotations int      `json:"annotations"`
	Categories  int      `json:"categories"`
	Problems    []string `json:"problems"`
}

// Ok reports whether the pass found no problems.
func (r *Report) Ok() bool {
	return len(r.Problems) == 0
}

func (r *Report) problem(format string, args ...interface{}) {
	r.Problems = append(r.Problems, fmt.Sprintf(format, args...))
}

// Verify checks a COCO document body.
func Verify(ctx context.Context, body []byte, opts *Options) (*Report, error) {

	if !gjson.ValidBytes(body) {
		return nil, fmt.Errorf("Document is not valid JSON, %w", coco.ErrInvalidDataset)
	}

	doc := gjson.ParseBytes(body)

	for _, key := range []string{"images", "annotations", "categories"} {

		if !doc.Get(key).IsArray() {
			return nil, fmt.Errorf("Document is missing the '%s' list, %w", key, coco.ErrInvalidDataset)
		}
	}

	rsp := &Report{
		Problems: make([]string, 0),
	}

	type dims struct {
		w float64
		h float64
	}

	images := make(map[int64]dims)
	filenames := make([]string, 0)

	doc.Get("images").ForEach(func(_ gjson.Result, im gjson.Result) bool {

		id := im.Get("id").Int()

		_, exists := images[id]

		if exists {
			rsp.problem("duplicate image id %d", id)
		}

		images[id] = dims{
			w: im.Get("width").Float(),
			h: im.Get("height").Float(),
		}

		fname := im.Get("file_name").String()

		if fname == "" {
			rsp.problem("image %d has no file_name", id)
		} else {
			filenames = append(filenames, fname)
		}

		rsp.Images += 1
		return true
	})

	categories := make(map[int64]bool)

	doc.Get("categories").ForEach(func(_ gjson.Result, c gjson.Result) bool {

		id := c.Get("id").Int()

		if categories[id] {
			rsp.problem("duplicate category id %d", id)
		}

		categories[id] = true
		rsp.Categories += 1
		return true
	})

	annotation_ids := make(map[int64]bool)

	doc.Get("annotations").ForEach(func(_ gjson.Result, a gjson.Result) bool {

		rsp.Annotations += 1

		id := a.Get("id").Int()

		if annotation_ids[id] {
			rsp.problem("duplicate annotation id %d", id)
		}

		annotation_ids[id] = true

		image_id := a.Get("image_id").Int()
		im, ok := images[image_id]

		if !ok {
			rsp.problem("annotation %d references unknown image %d", id, image_id)
		}

		category_id := a.Get("category_id").Int()

		if !categories[category_id] {
			rsp.problem("annotation %d references unknown category %d", id, category_id)
		}

		bbox := a.Get("bbox").Array()

		if len(bbox) != 4 {
			rsp.problem("annotation %d has a bbox with %d elements", id, len(bbox))
			return true
		}

		x := bbox[0].Float()
		y := bbox[1].Float()
		w := bbox[2].Float()
		h := bbox[3].Float()

		if w <= 0 || h <= 0 {
			rsp.problem("annotation %d has a degenerate bbox", id)
		}

		if x < 0 || y < 0 {
			rsp.problem("annotation %d bbox origin (%f, %f) is negative", id, x, y)
		}

		if ok {

			if x+w > im.w+bboxSlack || y+h > im.h+bboxSlack {
				rsp.problem("annotation %d bbox exceeds image %d bounds", id, image_id)
			}
		}

		return true
	})

	if opts.Bucket != nil {

		for _, fname := range filenames {

			exists, err := opts.Bucket.Exists(ctx, fname)

			if err != nil {
				return nil, fmt.Errorf("Failed to check for %s, %w", fname, err)
			}

			if !exists {
				rsp.problem("image file %s is missing", fname)
			}
		}

		if opts.CheckOrphans {

			err := checkOrphans(ctx, opts.Bucket, filenames, rsp)

			if err != nil {
				return nil, err
			}
		}
	}

	return rsp, nil
}

// checkOrphans crawls bucket for image files absent from referenced and
// records each one as a problem.
func checkOrphans(ctx context.Context, bucket *blob.Bucket, referenced []string, rsp *Report) error {

	known := make(map[string]bool)

	for _, fname := range referenced {
		known[fname] = true
	}

	iter := bucket.List(nil)

	for {

		obj, err := iter.Next(ctx)

		if err == io.EOF {
			break
		}

		if err != nil {
			return fmt.Errorf("Failed to iterate bucket, %w", err)
		}

		t := mime.TypeByExtension(filepath.Ext(obj.Key))

		if !strings.HasPrefix(t, "image/") {
			continue
		}

		if !known[obj.Key] {
			rsp.problem("image file %s is not referenced by the document", obj.Key)
		}
	}

	return nil
}

// VerifyBucket reads a COCO document stored in a blob.Bucket instance
// and checks it.
func VerifyBucket(ctx context.Context, bucket *blob.Bucket, path string, opts *Options) (*Report, error) {

	fh, err := bucket.NewReader(ctx, path, nil)

	if err != nil {
		return nil, fmt.Errorf("Failed to create reader for %s, %w", path, err)
	}

	defer fh.Close()

	body, err := io.ReadAll(fh)

	if err != nil {
		return nil, fmt.Errorf("Failed to read %s, %w", path, err)
	}

	return Verify(ctx, body, opts)
}

// VerifyPath reads a COCO document with a whosonfirst/go-reader Reader
// instance and checks it.
func VerifyPath(ctx context.Context, r reader.Reader, path string, opts *Options) (*Report, error) {

	fh, err := r.Read(ctx, path)

	if err != nil {
		return nil, fmt.Errorf("Failed to open %s for reading, %w", path, err)
	}

	defer fh.Close()

	body, err := io.ReadAll(fh)

	if err != nil {
		return nil, fmt.Errorf("Failed to read %s, %w", path, err)
	}

	return Verify(ctx, body, opts)
}
