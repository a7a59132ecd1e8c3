// Package coco provides a data model for COCO object-detection datasets
// as exported by tools like Roboflow, preserving fields it does not
// recognize so that documents round-trip without loss.
package coco

import (
	"encoding/json"
	"errors"
	"fmt"
)

// AnnotationsFilename is the conventional name for a COCO document inside
// a dataset directory.
const AnnotationsFilename = "_annotations.coco.json"

// ErrInvalidDataset is returned (wrapped) when a COCO document is missing
// or structurally unusable.
var ErrInvalidDataset = errors.New("invalid dataset")

// TileSource is a back-reference written on Image records that were
// produced by tiling, recording the source image and the tile's offset in
// source pixel space.
type TileSource struct {
	ImageID int64 `json:"image_id"`
	X       int   `json:"x"`
	Y       int   `json:"y"`
}

// Image is a COCO image record. Unrecognized fields encountered during
// decoding are preserved verbatim in Extra.
type Image struct {
	ID       int64  `json:"id"`
	Width    int    `json:"width"`
	Height   int    `json:"height"`
	FileName string `json:"file_name"`
	// TileSource is only present on images produced by tiling.
	TileSource *TileSource                `json:"tile_source,omitempty"`
	Extra      map[string]json.RawMessage `json:"-"`
}

// Category is a COCO category record. At merge time the name is the true
// identity; the numeric identifier is dataset-local.
type Category struct {
	ID            int64                      `json:"id"`
	Name          string                     `json:"name"`
	Supercategory string                     `json:"supercategory,omitempty"`
	Extra         map[string]json.RawMessage `json:"-"`
}

// Annotation is a COCO annotation record with an axis-aligned bounding
// box in [x, y, width, height] order, top-left origin.
type Annotation struct {
	ID           int64                      `json:"id"`
	ImageID      int64                      `json:"image_id"`
	CategoryID   int64                      `json:"category_id"`
	Segmentation [][]float64                `json:"segmentation"`
	Area         float64                    `json:"area"`
	BBox         []float64                  `json:"bbox"`
	IsCrowd      int                        `json:"iscrowd"`
	Extra        map[string]json.RawMessage `json:"-"`
}

// Info is the COCO info block. It is always written as a structured
// record, never as a bare map.
type Info struct {
	Year        int    `json:"year"`
	Version     string `json:"version"`
	Description string `json:"description"`
	Contributor string `json:"contributor"`
	URL         string `json:"url"`
	DateCreated string `json:"date_created"`
}

// License is a COCO license record.
type License struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
	URL  string `json:"url"`
}

// Dataset is a complete COCO document.
type Dataset struct {
	Info        *Info         `json:"info"`
	Licenses    []*License    `json:"licenses"`
	Images      []*Image      `json:"images"`
	Annotations []*Annotation `json:"annotations"`
	Categories  []*Category   `json:"categories"`
}

// Validate checks the structural preconditions that downstream
// operations (merging in particular) rely on.
func (ds *Dataset) Validate() error {

	if len(ds.Images) == 0 {
		return fmt.Errorf("Dataset has no images, %w", ErrInvalidDataset)
	}

	if ds.Categories == nil {
		return fmt.Errorf("Dataset has no categories list, %w", ErrInvalidDataset)
	}

	for _, c := range ds.Categories {

		if c.Name == "" {
			return fmt.Errorf("Dataset category %d has an empty name, %w", c.ID, ErrInvalidDataset)
		}
	}

	return nil
}

// AnnotationsByImage groups the dataset's annotations by their owning
// image identifier.
func (ds *Dataset) AnnotationsByImage() map[int64][]*Annotation {

	grouped := make(map[int64][]*Annotation)

	for _, a := range ds.Annotations {
		grouped[a.ImageID] = append(grouped[a.ImageID], a)
	}

	return grouped
}
