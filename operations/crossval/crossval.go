// Package crossval partitions a tiled COCO dataset in to K
// cross-validation folds grouped by source image, so that no source
// image's tiles ever straddle a fold boundary.
package crossval

import (
	"context"
	"fmt"
	"math/rand"
	"sort"

	"github.com/sfomuseum/go-coco-tiles/coco"
	"github.com/sfomuseum/go-coco-tiles/common"
	"github.com/sfomuseum/go-coco-tiles/tiles"
	"github.com/whosonfirst/go-writer/v3"
	"gocloud.dev/blob"
)

// Splits, in the order they are materialized per fold.
var splitNames = []string{"train", "val", "test"}

// Options configures a cross-validation split.
type Options struct {
	// Folds is K, the number of folds. At least 2.
	Folds int
	// Seed drives the deterministic shuffle of source-image groups.
	// The same seed always produces the same fold assignment.
	Seed int64
	// ValFraction is the fraction of training groups carved out as a
	// validation split. When zero the validation split mirrors the
	// test split, which is what the reconstruction tooling expects.
	ValFraction float64
	// DocumentWriter, when non-nil, receives every per-fold COCO
	// document, tile listing and summary.
	DocumentWriter writer.Writer
	// TileSource and TileTarget, when both non-nil, copy each fold's
	// tile images under folds/fold_<i>/images/. Whether tiles are
	// copied or merely referenced is an I/O policy, not geometry.
	TileSource *blob.Bucket
	TileTarget *blob.Bucket
}

// Validate checks the options.
func (opts *Options) Validate() error {

	if opts.Folds < 2 {
		return fmt.Errorf("Fold count %d is less than 2, %w", opts.Folds, tiles.ErrInvalidConfig)
	}

	if opts.ValFraction < 0 || opts.ValFraction >= 1 {
		return fmt.Errorf("Validation fraction %f is not in [0, 1), %w", opts.ValFraction, tiles.ErrInvalidConfig)
	}

	return nil
}

// SplitStats summarizes one split of one fold.
type SplitStats struct {
	Tiles         int     `json:"tiles"`
	Positives     int     `json:"positives"`
	Negatives     int     `json:"negatives"`
	PositiveRatio float64 `json:"positive_ratio"`
}

// Fold is one of the K partitions.
type Fold struct {
	Index       int
	TrainGroups []int64
	ValGroups   []int64
	TestGroups  []int64
	// Datasets holds the materialized COCO subset per split name.
	Datasets map[string]*coco.Dataset
	// Stats summarizes each split.
	Stats map[string]*SplitStats
}

// Result is the outcome of a split.
type Result struct {
	// Assignments maps every source image identifier to its fold.
	Assignments map[int64]int
	Folds       []*Fold
}

// Split partitions ds in to folds. Groups (source images), never
// individual tiles, are what get dealt out; the no-leakage invariant is
// verified after assignment rather than assumed.
func Split(ctx context.Context, ds *coco.Dataset, opts *Options) (*Result, error) {

	err := opts.Validate()

	if err != nil {
		return nil, fmt.Errorf("Failed to validate options, %w", err)
	}

	tiles_by_group := make(map[int64][]*coco.Image)

	for _, im := range ds.Images {

		if im.TileSource == nil {
			return nil, fmt.Errorf("Image %d (%s) has no tile source reference so it can not be grouped, %w", im.ID, im.FileName, coco.ErrInvalidDataset)
		}

		group := im.TileSource.ImageID
		tiles_by_group[group] = append(tiles_by_group[group], im)
	}

	if len(tiles_by_group) < opts.Folds {
		return nil, fmt.Errorf("Only %d source images for %d folds, %w", len(tiles_by_group), opts.Folds, tiles.ErrInvalidConfig)
	}

	groups := make([]int64, 0, len(tiles_by_group))

	for g := range tiles_by_group {
		groups = append(groups, g)
	}

	sort.Slice(groups, func(i int, j int) bool {
		return groups[i] < groups[j]
	})

	rng := rand.New(rand.NewSource(opts.Seed))

	rng.Shuffle(len(groups), func(i int, j int) {
		groups[i], groups[j] = groups[j], groups[i]
	})

	assignments := make(map[int64]int, len(groups))

	for i, g := range groups {
		assignments[g] = i % opts.Folds
	}

	err = verifyAssignments(ds, assignments, opts.Folds)

	if err != nil {
		return nil, fmt.Errorf("Fold assignment failed verification, %w", err)
	}

	annotations_by_image := ds.AnnotationsByImage()

	rsp := &Result{
		Assignments: assignments,
		Folds:       make([]*Fold, 0, opts.Folds),
	}

	for fold_idx := 0; fold_idx < opts.Folds; fold_idx++ {

		fold := buildFold(ds, fold_idx, groups, assignments, tiles_by_group, annotations_by_image, opts)
		rsp.Folds = append(rsp.Folds, fold)

		err := writeFold(ctx, fold, opts)

		if err != nil {
			return nil, fmt.Errorf("Failed to write fold %d, %w", fold_idx, err)
		}
	}

	return rsp, nil
}

// verifyAssignments checks the central leakage-prevention guarantee:
// the assignment is a total function over source images and every
// source image lands in exactly one fold.
func verifyAssignments(ds *coco.Dataset, assignments map[int64]int, k int) error {

	counts := make([]int, k)

	for g, fold := range assignments {

		if fold < 0 || fold >= k {
			return fmt.Errorf("Source image %d assigned to out-of-range fold %d", g, fold)
		}

		counts[fold] += 1
	}

	for fold, c := range counts {

		if c == 0 {
			return fmt.Errorf("Fold %d received no source images", fold)
		}
	}

	for _, im := range ds.Images {

		_, ok := assignments[im.TileSource.ImageID]

		if !ok {
			return fmt.Errorf("Tile %d has source image %d with no fold assignment", im.ID, im.TileSource.ImageID)
		}
	}

	return nil
}

// buildFold materializes the train/val/test subsets for one fold. The
// fold's own groups are the test split; the remainder train. The
// validation split is either a copy of test or a group-wise slice
// carved off the head of train.
func buildFold(ds *coco.Dataset, fold_idx int, groups []int64, assignments map[int64]int, tiles_by_group map[int64][]*coco.Image, annotations_by_image map[int64][]*coco.Annotation, opts *Options) *Fold {

	test_groups := make([]int64, 0)
	train_groups := make([]int64, 0)

	// groups is already in seeded shuffle order, which keeps the
	// carve-out below deterministic.

	for _, g := range groups {

		if assignments[g] == fold_idx {
			test_groups = append(test_groups, g)
		} else {
			train_groups = append(train_groups, g)
		}
	}

	var val_groups []int64

	if opts.ValFraction > 0 {

		carve := int(float64(len(train_groups)) * opts.ValFraction)

		if carve < 1 {
			carve = 1
		}

		val_groups = train_groups[0:carve]
		train_groups = train_groups[carve:]

	} else {
		val_groups = test_groups
	}

	fold := &Fold{
		Index:       fold_idx,
		TrainGroups: train_groups,
		ValGroups:   val_groups,
		TestGroups:  test_groups,
		Datasets:    make(map[string]*coco.Dataset),
		Stats:       make(map[string]*SplitStats),
	}

	split_groups := map[string][]int64{
		"train": train_groups,
		"val":   val_groups,
		"test":  test_groups,
	}

	for _, name := range splitNames {

		subset := subsetDataset(ds, split_groups[name], tiles_by_group, annotations_by_image)
		fold.Datasets[name] = subset

		stats := &SplitStats{
			Tiles: len(subset.Images),
		}

		for _, im := range subset.Images {

			if len(annotations_by_image[im.ID]) > 0 {
				stats.Positives += 1
			} else {
				stats.Negatives += 1
			}
		}

		if stats.Tiles > 0 {
			stats.PositiveRatio = float64(stats.Positives) / float64(stats.Tiles)
		}

		fold.Stats[name] = stats
	}

	return fold
}

// subsetDataset builds a COCO subset containing only the tiles of the
// given groups. The category list, and so the category id space, is
// shared across every subset of the run.
func subsetDataset(ds *coco.Dataset, groups []int64, tiles_by_group map[int64][]*coco.Image, annotations_by_image map[int64][]*coco.Annotation) *coco.Dataset {

	subset := &coco.Dataset{
		Info:        ds.Info,
		Licenses:    ds.Licenses,
		Images:      make([]*coco.Image, 0),
		Annotations: make([]*coco.Annotation, 0),
		Categories:  ds.Categories,
	}

	for _, g := range groups {

		for _, im := range tiles_by_group[g] {
			subset.Images = append(subset.Images, im)
			subset.Annotations = append(subset.Annotations, annotations_by_image[im.ID]...)
		}
	}

	sort.Slice(subset.Images, func(i int, j int) bool {
		return subset.Images[i].ID < subset.Images[j].ID
	})

	sort.Slice(subset.Annotations, func(i int, j int) bool {
		return subset.Annotations[i].ID < subset.Annotations[j].ID
	})

	return subset
}

// tileListing is the per-split tiles.json document.
type tileListing struct {
	TileIDs       []int64 `json:"tile_ids"`
	PositiveTiles []int64 `json:"positive_tiles"`
	NegativeTiles []int64 `json:"negative_tiles"`
}

// writeFold publishes one fold's documents and copies its tile images.
// The two concerns are independent: documents need a DocumentWriter,
// tile copies need a source and target bucket, and either can be
// configured without the other.
func writeFold(ctx context.Context, fold *Fold, opts *Options) error {

	copied := make(map[string]bool)

	for _, name := range splitNames {

		subset := fold.Datasets[name]

		if opts.DocumentWriter != nil {

			doc_path := fmt.Sprintf("folds/fold_%d/%s/%s", fold.Index, name, coco.AnnotationsFilename)

			err := coco.WriteDatasetWithWriter(ctx, opts.DocumentWriter, doc_path, subset)

			if err != nil {
				return fmt.Errorf("Failed to write %s, %w", doc_path, err)
			}

			listing := &tileListing{
				TileIDs:       make([]int64, 0, len(subset.Images)),
				PositiveTiles: make([]int64, 0),
				NegativeTiles: make([]int64, 0),
			}

			positive := make(map[int64]bool)

			for _, a := range subset.Annotations {
				positive[a.ImageID] = true
			}

			for _, im := range subset.Images {

				listing.TileIDs = append(listing.TileIDs, im.ID)

				if positive[im.ID] {
					listing.PositiveTiles = append(listing.PositiveTiles, im.ID)
				} else {
					listing.NegativeTiles = append(listing.NegativeTiles, im.ID)
				}
			}

			listing_path := fmt.Sprintf("folds/fold_%d/%s/tiles.json", fold.Index, name)

			err = WriteJSON(ctx, opts.DocumentWriter, listing_path, listing)

			if err != nil {
				return fmt.Errorf("Failed to write %s, %w", listing_path, err)
			}
		}

		if opts.TileSource != nil && opts.TileTarget != nil {

			for _, im := range subset.Images {

				if copied[im.FileName] {
					continue
				}

				target_path := fmt.Sprintf("folds/fold_%d/images/%s", fold.Index, im.FileName)

				err := common.CopyFile(ctx, opts.TileSource, opts.TileTarget, im.FileName, target_path)

				if err != nil {
					return fmt.Errorf("Failed to copy tile %s, %w", im.FileName, err)
				}

				copied[im.FileName] = true
			}
		}
	}

	if opts.DocumentWriter == nil {
		return nil
	}

	summary_path := fmt.Sprintf("folds/fold_%d/summary.json", fold.Index)

	return WriteJSON(ctx, opts.DocumentWriter, summary_path, fold.Stats)
}
