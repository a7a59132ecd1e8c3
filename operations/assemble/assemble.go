// Package assemble converts a COCO dataset of large annotated images in
// to a new dataset of fixed-size tiles, remapping every surviving
// annotation in to tile-local coordinates.
package assemble

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"log/slog"
	"path/filepath"
	"sort"
	"strings"

	"github.com/aaronland/go-image-tools/imaging"
	"github.com/aaronland/go-string/random"
	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
	"github.com/sfomuseum/go-coco-tiles/coco"
	"github.com/sfomuseum/go-coco-tiles/common"
	"github.com/sfomuseum/go-coco-tiles/tiles"
	"gocloud.dev/blob"
)

// Options configures an assembly run. Validation happens once, in
// Validate, not scattered through the pipeline.
type Options struct {
	// Source is the bucket holding the original images.
	Source *blob.Bucket
	// Target is the bucket tile images are written to.
	Target *blob.Bucket
	// TileWidth and TileHeight are the tile dimensions in pixels.
	TileWidth  int
	TileHeight int
	// Overlap is the number of pixels adjacent tiles share; stride is
	// the tile dimension minus overlap.
	Overlap int
	// MinIoA is the minimum intersection-over-area required to keep a
	// projected annotation, in [0, 1].
	MinIoA float64
	// ResizeWidth and ResizeHeight, when both positive, resize each
	// tile to this output canvas after cropping.
	ResizeWidth  int
	ResizeHeight int
	// ResizeFilter names the resampling filter. Empty means Lanczos.
	ResizeFilter string
	// Quality is the JPEG quality tiles are written at.
	Quality int
	// DropEmptyTiles discards tiles that retained no annotations.
	// Empty tiles are otherwise kept as negative examples.
	DropEmptyTiles bool
	// AutoOrient applies EXIF orientation to source images before
	// tiling.
	AutoOrient bool
	// SkipUnreadable logs and excludes source images that can not be
	// read or decoded, instead of failing the run.
	SkipUnreadable bool
	// HashTiles records perceptual hashes for each tile in the
	// manifest.
	HashTiles bool
	// Workers caps how many source images are processed concurrently.
	Workers int
	// ACL is an optional canned ACL applied when tiles are written to
	// an S3 bucket.
	ACL string
	// Dryrun plans and projects but writes nothing.
	Dryrun bool
}

// Validate checks the options, applying defaults where the zero value
// has a sensible one.
func (opts *Options) Validate() error {

	if opts.Source == nil || opts.Target == nil {
		return fmt.Errorf("Source and target buckets are required, %w", tiles.ErrInvalidConfig)
	}

	if opts.TileWidth <= 0 || opts.TileHeight <= 0 {
		return fmt.Errorf("Tile size %dx%d is not positive, %w", opts.TileWidth, opts.TileHeight, tiles.ErrInvalidConfig)
	}

	if opts.Overlap < 0 || opts.Overlap >= opts.TileWidth || opts.Overlap >= opts.TileHeight {
		return fmt.Errorf("Overlap %d is not in [0, tile dimension), %w", opts.Overlap, tiles.ErrInvalidConfig)
	}

	if opts.MinIoA < 0 || opts.MinIoA > 1 {
		return fmt.Errorf("Minimum IoA %f is not in [0, 1], %w", opts.MinIoA, tiles.ErrInvalidConfig)
	}

	if (opts.ResizeWidth > 0) != (opts.ResizeHeight > 0) {
		return fmt.Errorf("Resize requires both width and height, %w", tiles.ErrInvalidConfig)
	}

	_, err := tiles.ResampleFilter(opts.ResizeFilter)

	if err != nil {
		return err
	}

	if opts.Quality == 0 {
		opts.Quality = 95
	}

	if opts.Quality < 1 || opts.Quality > 100 {
		return fmt.Errorf("JPEG quality %d is not in [1, 100], %w", opts.Quality, tiles.ErrInvalidConfig)
	}

	if opts.Workers <= 0 {
		opts.Workers = 4
	}

	return nil
}

// Result is the outcome of an assembly run.
type Result struct {
	// Dataset is the assembled tile dataset.
	Dataset *coco.Dataset
	// Manifest holds one traceability entry per emitted tile.
	Manifest []*ManifestEntry
	// TilesBySource maps each source image identifier to the
	// identifiers of the tiles cut from it.
	TilesBySource map[int64][]int64
	// Skipped lists source image filenames excluded from the run.
	Skipped []string
	// RunID is a random identifier stamped on summaries for this run.
	RunID string
	// PositiveTiles counts tiles with at least one retained
	// annotation.
	PositiveTiles int
}

// imageResult is what one per-image worker hands back to the collector.
type imageResult struct {
	source      *coco.Image
	images      []*coco.Image
	annotations []*coco.Annotation
	manifest    []*ManifestEntry
	skipped     bool
}

// Assemble tiles every image in ds. Images are processed independently
// across workers; the only shared mutable state is the identifier
// allocator, which hands each worker contiguous blocks.
func Assemble(ctx context.Context, ds *coco.Dataset, opts *Options) (*Result, error) {

	err := opts.Validate()

	if err != nil {
		return nil, fmt.Errorf("Failed to validate options, %w", err)
	}

	rand_opts := random.DefaultOptions()
	rand_opts.AlphaNumeric = true

	run_id, err := random.String(rand_opts)

	if err != nil {
		return nil, fmt.Errorf("Failed to generate run ID, %w", err)
	}

	by_image := ds.AnnotationsByImage()

	image_alloc := NewAllocator(1)
	annotation_alloc := NewAllocator(1)

	throttle := make(chan bool, opts.Workers)

	done_ch := make(chan bool)
	err_ch := make(chan error)
	rsp_ch := make(chan *imageResult)

	for _, source := range ds.Images {

		go func(source *coco.Image) {

			defer func() {
				done_ch <- true
			}()

			throttle <- true

			defer func() {
				<-throttle
			}()

			rsp, err := assembleImage(ctx, source, by_image[source.ID], image_alloc, annotation_alloc, opts)

			if err != nil {
				err_ch <- fmt.Errorf("Failed to assemble tiles for %s, %w", source.FileName, err)
				return
			}

			rsp_ch <- rsp

		}(source)
	}

	remaining := len(ds.Images)

	results := make([]*imageResult, 0, len(ds.Images))
	assemble_errors := make([]string, 0)

	for remaining > 0 {

		select {
		case <-done_ch:
			remaining -= 1
		case err := <-err_ch:
			assemble_errors = append(assemble_errors, err.Error())
		case rsp := <-rsp_ch:
			results = append(results, rsp)
		}
	}

	if len(assemble_errors) > 0 {
		return nil, fmt.Errorf("One or more images failed to assemble: %s", strings.Join(assemble_errors, "; "))
	}

	rsp := &Result{
		TilesBySource: make(map[int64][]int64),
		Skipped:       make([]string, 0),
		RunID:         run_id,
	}

	new_images := make([]*coco.Image, 0)
	new_annotations := make([]*coco.Annotation, 0)
	manifest := make([]*ManifestEntry, 0)

	seen := make(map[string]int64)

	for _, r := range results {

		if r.skipped {
			rsp.Skipped = append(rsp.Skipped, r.source.FileName)
			continue
		}

		for _, im := range r.images {

			other, exists := seen[im.FileName]

			if exists {
				return nil, fmt.Errorf("Tile filename collision: '%s' produced by both image %d and image %d", im.FileName, other, im.ID)
			}

			seen[im.FileName] = im.ID
			rsp.TilesBySource[r.source.ID] = append(rsp.TilesBySource[r.source.ID], im.ID)
		}

		new_images = append(new_images, r.images...)
		new_annotations = append(new_annotations, r.annotations...)
		manifest = append(manifest, r.manifest...)
	}

	sort.Slice(new_images, func(i int, j int) bool {
		return new_images[i].ID < new_images[j].ID
	})

	sort.Slice(new_annotations, func(i int, j int) bool {
		return new_annotations[i].ID < new_annotations[j].ID
	})

	sort.Slice(manifest, func(i int, j int) bool {
		return manifest[i].TileID < manifest[j].TileID
	})

	for _, m := range manifest {

		if m.IsPositive {
			rsp.PositiveTiles += 1
		}
	}

	// Tiling never invents or drops categories.

	new_categories := make([]*coco.Category, len(ds.Categories))

	for i, c := range ds.Categories {
		dup := *c
		new_categories[i] = &dup
	}

	rsp.Dataset = &coco.Dataset{
		Info:        ds.Info,
		Licenses:    ds.Licenses,
		Images:      new_images,
		Annotations: new_annotations,
		Categories:  new_categories,
	}

	rsp.Manifest = manifest

	return rsp, nil
}

// assembleImage cuts one source image in to tiles and projects its
// annotations in to each.
func assembleImage(ctx context.Context, source *coco.Image, annotations []*coco.Annotation, image_alloc *Allocator, annotation_alloc *Allocator, opts *Options) (*imageResult, error) {

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
		// pass
	}

	logger := slog.Default()
	logger = logger.With("image", source.FileName)

	decode := common.DecodeImage

	if opts.AutoOrient {
		decode = common.DecodeImageOriented
	}

	source_im, _, err := decode(ctx, opts.Source, source.FileName)

	if err != nil {

		if opts.SkipUnreadable {
			logger.Warn("Skipping unreadable source image", "error", err)
			return &imageResult{source: source, skipped: true}, nil
		}

		return nil, fmt.Errorf("Failed to decode source image, %w", err)
	}

	bounds := source_im.Bounds()
	image_w := bounds.Dx()
	image_h := bounds.Dy()

	grid, err := tiles.PlanGrid(image_w, image_h, opts.TileWidth, opts.TileHeight, opts.Overlap)

	if err != nil {
		return nil, fmt.Errorf("Failed to plan tile grid, %w", err)
	}

	filter, _ := tiles.ResampleFilter(opts.ResizeFilter)

	stem := strings.TrimSuffix(filepath.Base(source.FileName), filepath.Ext(source.FileName))

	rsp := &imageResult{
		source:      source,
		images:      make([]*coco.Image, 0, len(grid)),
		annotations: make([]*coco.Annotation, 0),
		manifest:    make([]*ManifestEntry, 0, len(grid)),
	}

	type plannedTile struct {
		rect        tiles.Rect
		projections []*tiles.Projection
		sources     []*coco.Annotation
	}

	planned := make([]*plannedTile, 0, len(grid))

	for _, rect := range grid {

		pt := &plannedTile{
			rect:        rect,
			projections: make([]*tiles.Projection, 0),
			sources:     make([]*coco.Annotation, 0),
		}

		for _, a := range annotations {

			if len(a.BBox) != 4 {
				continue
			}

			box := tiles.Box{X: a.BBox[0], Y: a.BBox[1], Width: a.BBox[2], Height: a.BBox[3]}

			pr, keep := tiles.Project(box, rect, opts.MinIoA)

			if !keep {
				continue
			}

			pt.projections = append(pt.projections, pr)
			pt.sources = append(pt.sources, a)
		}

		if len(pt.projections) == 0 && opts.DropEmptyTiles {
			continue
		}

		planned = append(planned, pt)
	}

	// Reserve identifier blocks for everything this image will emit.

	count_annotations := 0

	for _, pt := range planned {
		count_annotations += len(pt.projections)
	}

	next_image_id := image_alloc.Reserve(len(planned))
	next_annotation_id := annotation_alloc.Reserve(count_annotations)

	for _, pt := range planned {

		tile_id := next_image_id
		next_image_id += 1

		var tile_im image.Image = imaging.Crop(source_im, pt.rect.Bounds())

		out_w := pt.rect.Width
		out_h := pt.rect.Height

		sx := 1.0
		sy := 1.0

		if opts.ResizeWidth > 0 {

			rt, err := tiles.NewResizeTransform(pt.rect.Width, pt.rect.Height, opts.ResizeWidth, opts.ResizeHeight, filter)

			if err != nil {
				return nil, err
			}

			tile_im = rt.ApplyPixels(tile_im)

			out_w = rt.TargetWidth
			out_h = rt.TargetHeight
			sx = rt.ScaleX()
			sy = rt.ScaleY()
		}

		tile_fname := fmt.Sprintf("%s_tile_%d_%d.jpg", stem, pt.rect.X, pt.rect.Y)

		body, err := common.EncodeJPEG(tile_im, opts.Quality)

		if err != nil {
			return nil, fmt.Errorf("Failed to encode tile %s, %w", tile_fname, err)
		}

		fingerprint, err := common.Fingerprint(bytes.NewReader(body))

		if err != nil {
			return nil, fmt.Errorf("Failed to fingerprint tile %s, %w", tile_fname, err)
		}

		var hashes []*common.ImageHashRsp

		if opts.HashTiles {

			hashes, err = common.ImageHashes(ctx, tile_im)

			if err != nil {
				return nil, fmt.Errorf("Failed to hash tile %s, %w", tile_fname, err)
			}
		}

		if opts.Dryrun {
			logger.Info("[dryrun] write tile here", "tile", tile_fname)
		} else {

			err = writeTile(ctx, opts, tile_fname, body)

			if err != nil {
				return nil, fmt.Errorf("Failed to write tile %s, %w", tile_fname, err)
			}
		}

		tile_image := &coco.Image{
			ID:       tile_id,
			Width:    out_w,
			Height:   out_h,
			FileName: tile_fname,
			TileSource: &coco.TileSource{
				ImageID: source.ID,
				X:       pt.rect.X,
				Y:       pt.rect.Y,
			},
		}

		entry := &ManifestEntry{
			TileID:   tile_id,
			FileName: tile_fname,
			SourceImage: ManifestSource{
				ID:       source.ID,
				FileName: source.FileName,
				Width:    source.Width,
				Height:   source.Height,
			},
			Offset:      ManifestOffset{X: pt.rect.X, Y: pt.rect.Y},
			TileSize:    ManifestSize{Width: out_w, Height: out_h},
			IsPositive:  len(pt.projections) > 0,
			Fingerprint: fingerprint,
			ImageHashes: hashes,
			Annotations: make([]*ManifestAnnotation, 0, len(pt.projections)),
		}

		for i, pr := range pt.projections {

			src := pt.sources[i]

			local := pr.Local

			scaled := tiles.Box{
				X:      local.X * sx,
				Y:      local.Y * sy,
				Width:  local.Width * sx,
				Height: local.Height * sy,
			}

			a_id := next_annotation_id
			next_annotation_id += 1

			a := &coco.Annotation{
				ID:           a_id,
				ImageID:      tile_id,
				CategoryID:   src.CategoryID,
				Segmentation: tiles.ProjectSegmentation(src.Segmentation, pt.rect, sx, sy),
				Area:         scaled.Area(),
				BBox:         []float64{scaled.X, scaled.Y, scaled.Width, scaled.Height},
				IsCrowd:      src.IsCrowd,
				Extra: map[string]json.RawMessage{
					"source_annotation_id":   rawJSON(src.ID),
					"intersection_over_area": rawJSON(pr.Coverage),
					"original_bbox":          rawJSON(src.BBox),
					"tile_offset":            rawJSON(map[string]int{"x": pt.rect.X, "y": pt.rect.Y}),
				},
			}

			rsp.annotations = append(rsp.annotations, a)

			entry.Annotations = append(entry.Annotations, &ManifestAnnotation{
				ID:                   a_id,
				CategoryID:           a.CategoryID,
				BBox:                 a.BBox,
				Area:                 a.Area,
				IsCrowd:              a.IsCrowd,
				SourceAnnotationID:   src.ID,
				IntersectionOverArea: pr.Coverage,
				OriginalBBox:         src.BBox,
			})
		}

		rsp.images = append(rsp.images, tile_image)
		rsp.manifest = append(rsp.manifest, entry)
	}

	return rsp, nil
}

// writeTile stores an encoded tile in the target bucket, applying the
// configured S3 ACL where the bucket supports it.
func writeTile(ctx context.Context, opts *Options, path string, body []byte) error {

	var wr_opts *blob.WriterOptions

	if opts.ACL != "" {

		before := func(asFunc func(interface{}) bool) error {

			s3_req := &s3manager.UploadInput{}
			ok := asFunc(&s3_req)

			if ok {
				s3_req.ACL = aws.String(opts.ACL)
			}

			return nil
		}

		wr_opts = &blob.WriterOptions{
			BeforeWrite: before,
		}
	}

	wr, err := opts.Target.NewWriter(ctx, path, wr_opts)

	if err != nil {
		return err
	}

	_, err = wr.Write(body)

	if err != nil {
		wr.Close()
		return err
	}

	return wr.Close()
}

func rawJSON(v interface{}) json.RawMessage {
	enc, _ := json.Marshal(v)
	return json.RawMessage(enc)
}
