package assemble

import (
	"sort"

	"github.com/sfomuseum/go-coco-tiles/common"
)

// ManifestSource identifies the source image a tile was cut from.
type ManifestSource struct {
	ID       int64  `json:"id"`
	FileName string `json:"file_name"`
	Width    int    `json:"width"`
	Height   int    `json:"height"`
}

// ManifestOffset is a tile's origin in source pixel space.
type ManifestOffset struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// ManifestSize is a tile's pixel size.
type ManifestSize struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// ManifestAnnotation records one retained annotation together with the
// source annotation it derives from. Manifests exist for reconstruction
// and audit, never for training.
type ManifestAnnotation struct {
	ID                   int64     `json:"id"`
	CategoryID           int64     `json:"category_id"`
	BBox                 []float64 `json:"bbox"`
	Area                 float64   `json:"area"`
	IsCrowd              int       `json:"iscrowd"`
	SourceAnnotationID   int64     `json:"source_annotation_id"`
	IntersectionOverArea float64   `json:"intersection_over_area"`
	OriginalBBox         []float64 `json:"original_bbox"`
}

// ImageManifestEntry summarizes, per source image, which tiles were
// cut from it.
type ImageManifestEntry struct {
	ImageID       int64   `json:"image_id"`
	FileName      string  `json:"file_name"`
	Tiles         []int64 `json:"tiles"`
	PositiveTiles []int64 `json:"positive_tiles"`
	NegativeTiles []int64 `json:"negative_tiles"`
}

// ManifestEntry links an output tile back to its source image and to
// the original annotations that produced its retained annotations.
type ManifestEntry struct {
	TileID      int64                  `json:"tile_id"`
	FileName    string                 `json:"file_name"`
	SourceImage ManifestSource         `json:"source_image"`
	Offset      ManifestOffset         `json:"offset"`
	TileSize    ManifestSize           `json:"tile_size"`
	IsPositive  bool                   `json:"is_positive"`
	Fingerprint string                 `json:"fingerprint,omitempty"`
	ImageHashes []*common.ImageHashRsp `json:"image_hashes,omitempty"`
	Annotations []*ManifestAnnotation  `json:"annotations"`
}

// ImagesManifest derives the per-source-image manifest from the tile
// manifest, ordered by source image identifier.
func (r *Result) ImagesManifest() []*ImageManifestEntry {

	by_source := make(map[int64]*ImageManifestEntry)
	order := make([]int64, 0)

	for _, m := range r.Manifest {

		entry, exists := by_source[m.SourceImage.ID]

		if !exists {

			entry = &ImageManifestEntry{
				ImageID:       m.SourceImage.ID,
				FileName:      m.SourceImage.FileName,
				Tiles:         make([]int64, 0),
				PositiveTiles: make([]int64, 0),
				NegativeTiles: make([]int64, 0),
			}

			by_source[m.SourceImage.ID] = entry
			order = append(order, m.SourceImage.ID)
		}

		entry.Tiles = append(entry.Tiles, m.TileID)

		if m.IsPositive {
			entry.PositiveTiles = append(entry.PositiveTiles, m.TileID)
		} else {
			entry.NegativeTiles = append(entry.NegativeTiles, m.TileID)
		}
	}

	sort.Slice(order, func(i int, j int) bool {
		return order[i] < order[j]
	})

	manifest := make([]*ImageManifestEntry, 0, len(order))

	for _, id := range order {
		manifest = append(manifest, by_source[id])
	}

	return manifest
}

// Summary is the run-level report written alongside a tiled dataset.
type Summary struct {
	RunID  string                 `json:"run_id"`
	Config map[string]interface{} `json:"config"`
	Counts map[string]int         `json:"counts"`
}

// Summarize builds the run summary for a completed assembly.
func (r *Result) Summarize(opts *Options, source_images int, source_annotations int) *Summary {

	return &Summary{
		RunID: r.RunID,
		Config: map[string]interface{}{
			"tile_width":  opts.TileWidth,
			"tile_height": opts.TileHeight,
			"overlap":     opts.Overlap,
			"min_ioa":     opts.MinIoA,
		},
		Counts: map[string]int{
			"images":           source_images,
			"annotations":      source_annotations,
			"tiles":            len(r.Dataset.Images),
			"tile_annotations": len(r.Dataset.Annotations),
			"positive_tiles":   r.PositiveTiles,
			"negative_tiles":   len(r.Dataset.Images) - r.PositiveTiles,
			"skipped_images":   len(r.Skipped),
		},
	}
}
