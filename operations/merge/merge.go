// Package merge consolidates multiple already-tiled COCO datasets in to
// a single dataset, remapping identifiers, unioning category
// vocabularies by name and resolving filename collisions.
package merge

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/sfomuseum/go-coco-tiles/coco"
	"github.com/sfomuseum/go-coco-tiles/common"
	"gocloud.dev/blob"
	"gocloud.dev/gcerrors"
)

// Input is one dataset to merge.
type Input struct {
	// URI names the input for error reporting.
	URI string
	// Name is the short dataset tag used to disambiguate colliding
	// filenames.
	Name string
	// Dataset is the decoded COCO document.
	Dataset *coco.Dataset
	// Bucket, when non-nil, is where the input's image files live so
	// they can be copied to the merged output.
	Bucket *blob.Bucket
}

// Options configures a merge.
type Options struct {
	// Target, when non-nil, receives copies of every input image file
	// under its (possibly rewritten) output filename.
	Target *blob.Bucket
	// Dryrun remaps and reports but copies nothing.
	Dryrun bool
}

// Result is the outcome of a merge.
type Result struct {
	// Dataset is the unified COCO dataset.
	Dataset *coco.Dataset
	// Renamed maps input filenames that collided to the prefixed
	// output filenames they were given.
	Renamed map[string]string
}

// Merge consolidates the inputs in order. Identifier spaces never
// alias: every image and annotation in the output carries a freshly
// allocated identifier, and every reference is rewritten. The total
// output annotation count always equals the sum of the inputs; drop
// policies belong to tiling, never to merging.
func Merge(ctx context.Context, inputs []*Input, opts *Options) (*Result, error) {

	if len(inputs) < 2 {
		return nil, fmt.Errorf("Merging requires at least 2 datasets, got %d, %w", len(inputs), coco.ErrInvalidDataset)
	}

	for _, in := range inputs {

		if in.Dataset == nil {
			return nil, fmt.Errorf("Input %s has no dataset, %w", in.URI, coco.ErrInvalidDataset)
		}

		err := in.Dataset.Validate()

		if err != nil {
			return nil, fmt.Errorf("Input %s failed validation, %w", in.URI, err)
		}
	}

	merged := &coco.Dataset{
		Info:        coco.DefaultInfo(fmt.Sprintf("Merged dataset from %d source datasets", len(inputs))),
		Licenses:    make([]*coco.License, 0),
		Images:      make([]*coco.Image, 0),
		Annotations: make([]*coco.Annotation, 0),
		Categories:  make([]*coco.Category, 0),
	}

	rsp := &Result{
		Dataset: merged,
		Renamed: make(map[string]string),
	}

	// Category identity is the name, matched case-sensitively. The
	// first dataset to mention a name defines its canonical id.

	category_ids := make(map[string]int64)

	next_category_id := int64(1)
	next_image_id := int64(1)
	next_annotation_id := int64(1)

	seen_filenames := make(map[string]bool)

	for _, in := range inputs {

		logger := slog.Default()
		logger = logger.With("dataset", in.Name)

		category_map := make(map[int64]int64)

		for _, c := range in.Dataset.Categories {

			id, exists := category_ids[c.Name]

			if !exists {

				id = next_category_id
				next_category_id += 1

				category_ids[c.Name] = id

				dup := *c
				dup.ID = id
				merged.Categories = append(merged.Categories, &dup)

				logger.Debug("New category", "name", c.Name, "id", id)
			}

			category_map[c.ID] = id
		}

		image_map := make(map[int64]int64)

		type copyTask struct {
			source_path string
			target_path string
		}

		copies := make([]copyTask, 0, len(in.Dataset.Images))

		for _, im := range in.Dataset.Images {

			out_name := im.FileName

			if seen_filenames[out_name] {

				out_name = fmt.Sprintf("%s_%s", in.Name, im.FileName)

				for i := 2; seen_filenames[out_name]; i++ {
					out_name = fmt.Sprintf("%s%d_%s", in.Name, i, im.FileName)
				}

				rsp.Renamed[im.FileName] = out_name
				logger.Debug("Filename collision", "filename", im.FileName, "renamed", out_name)
			}

			seen_filenames[out_name] = true

			dup := *im
			dup.ID = next_image_id
			dup.FileName = out_name

			image_map[im.ID] = next_image_id
			next_image_id += 1

			merged.Images = append(merged.Images, &dup)

			copies = append(copies, copyTask{
				source_path: im.FileName,
				target_path: out_name,
			})
		}

		for _, a := range in.Dataset.Annotations {

			new_image_id, ok := image_map[a.ImageID]

			if !ok {
				return nil, fmt.Errorf("Input %s annotation %d references unknown image %d, %w", in.URI, a.ID, a.ImageID, coco.ErrInvalidDataset)
			}

			new_category_id, ok := category_map[a.CategoryID]

			if !ok {
				return nil, fmt.Errorf("Input %s annotation %d references unknown category %d, %w", in.URI, a.ID, a.CategoryID, coco.ErrInvalidDataset)
			}

			dup := *a
			dup.ID = next_annotation_id
			dup.ImageID = new_image_id
			dup.CategoryID = new_category_id

			next_annotation_id += 1

			merged.Annotations = append(merged.Annotations, &dup)
		}

		if in.Bucket == nil || opts.Target == nil || opts.Dryrun {
			continue
		}

		// Inputs are independent once the remap tables are fixed, so
		// file copies fan out.

		done_ch := make(chan bool)
		err_ch := make(chan error)

		for _, task := range copies {

			go func(task copyTask) {

				defer func() {
					done_ch <- true
				}()

				select {
				case <-ctx.Done():
					return
				default:
					// pass
				}

				err := common.CopyFile(ctx, in.Bucket, opts.Target, task.source_path, task.target_path)

				if err != nil {

					if gcerrors.Code(err) == gcerrors.NotFound {
						logger.Warn("Image file not found, skipping copy", "path", task.source_path)
						return
					}

					err_ch <- fmt.Errorf("Failed to copy %s, %w", task.source_path, err)
				}

			}(task)
		}

		remaining := len(copies)
		copy_errors := make([]string, 0)

		for remaining > 0 {

			select {
			case <-done_ch:
				remaining -= 1
			case err := <-err_ch:
				copy_errors = append(copy_errors, err.Error())
			}
		}

		if len(copy_errors) > 0 {
			return nil, fmt.Errorf("Failed to copy images for %s: %s", in.URI, strings.Join(copy_errors, "; "))
		}
	}

	return rsp, nil
}

// OpenInput opens a dataset directory by bucket URI and decodes its
// COCO document, deriving the input's tag from the last path element of
// the URI.
func OpenInput(ctx context.Context, uri string) (*Input, error) {

	bucket, err := blob.OpenBucket(ctx, uri)

	if err != nil {
		return nil, fmt.Errorf("Failed to open bucket %s, %w", uri, err)
	}

	ds, err := coco.ReadDataset(ctx, bucket, coco.AnnotationsFilename)

	if err != nil {
		bucket.Close()
		return nil, fmt.Errorf("Failed to read dataset from %s, %w", uri, err)
	}

	in := &Input{
		URI:     uri,
		Name:    inputName(uri),
		Dataset: ds,
		Bucket:  bucket,
	}

	return in, nil
}

// inputName derives a short dataset tag from a bucket URI: the last
// path element, with any query string removed.
func inputName(uri string) string {

	name := uri

	if i := strings.Index(name, "?"); i >= 0 {
		name = name[0:i]
	}

	name = strings.Trim(name, "/")

	if i := strings.LastIndexAny(name, "/"); i >= 0 {
		name = name[i+1:]
	}

	return name
}
