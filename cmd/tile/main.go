package main

import (
	"context"
	"encoding/json"
	"flag"
	"log"
	"os"

	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"github.com/sfomuseum/go-coco-tiles/coco"
	"github.com/sfomuseum/go-coco-tiles/common"
	"github.com/sfomuseum/go-coco-tiles/config"
	"github.com/sfomuseum/go-coco-tiles/operations/assemble"
	"github.com/sfomuseum/go-coco-tiles/operations/verify"
	"gocloud.dev/blob"
	_ "gocloud.dev/blob/fileblob"
)

func main() {

	source_uri := flag.String("source-uri", "", "A valid gocloud.dev/blob URI where the source images and COCO document live.")
	target_uri := flag.String("target-uri", "", "A valid gocloud.dev/blob URI where tiles and the new COCO document are written.")
	config_path := flag.String("config", "", "An optional YAML configuration file. When set it supersedes the tiling flags.")

	tile_width := flag.Int("tile-width", 640, "Tile width in pixels.")
	tile_height := flag.Int("tile-height", 640, "Tile height in pixels.")
	overlap := flag.Int("overlap", 0, "Tile overlap in pixels; stride is the tile dimension minus overlap.")
	min_ioa := flag.Float64("min-ioa", 0.3, "Minimum intersection-over-area required to keep a projected bounding box.")
	resize_width := flag.Int("resize-width", 0, "Optional output width tiles are resized to.")
	resize_height := flag.Int("resize-height", 0, "Optional output height tiles are resized to.")
	resize_filter := flag.String("resize-filter", "", "Resampling filter for resizing (lanczos, linear, nearest, box, cubic).")
	quality := flag.Int("quality", 95, "JPEG quality used when saving tile images.")
	drop_empty := flag.Bool("drop-empty-tiles", false, "Discard tiles with no retained annotations instead of keeping them as negatives.")
	auto_orient := flag.Bool("auto-orient", false, "Apply EXIF orientation to source images before tiling.")
	skip_unreadable := flag.Bool("skip-unreadable", false, "Log and exclude unreadable source images instead of failing the run.")
	hash_tiles := flag.Bool("hash-tiles", false, "Record perceptual image hashes for each tile in the manifest.")
	workers := flag.Int("workers", 4, "Number of source images processed concurrently.")
	acl := flag.String("acl", "", "Optional canned ACL applied when tiles are written to S3.")
	overwrite := flag.Bool("overwrite", false, "Empty the target before writing if it already holds a dataset.")
	validate := flag.Bool("validate", false, "Re-parse and verify the emitted COCO document after writing.")
	dryrun := flag.Bool("dryrun", false, "Plan and project but write nothing.")

	flag.Parse()

	ctx := context.Background()

	source, err := blob.OpenBucket(ctx, *source_uri)

	if err != nil {
		log.Fatalf("Failed to open source bucket, %v", err)
	}

	defer source.Close()

	target, err := blob.OpenBucket(ctx, *target_uri)

	if err != nil {
		log.Fatalf("Failed to open target bucket, %v", err)
	}

	defer target.Close()

	opts := &assemble.Options{
		Source:         source,
		Target:         target,
		TileWidth:      *tile_width,
		TileHeight:     *tile_height,
		Overlap:        *overlap,
		MinIoA:         *min_ioa,
		ResizeWidth:    *resize_width,
		ResizeHeight:   *resize_height,
		ResizeFilter:   *resize_filter,
		Quality:        *quality,
		DropEmptyTiles: *drop_empty,
		AutoOrient:     *auto_orient,
		SkipUnreadable: *skip_unreadable,
		HashTiles:      *hash_tiles,
		Workers:        *workers,
		ACL:            *acl,
		Dryrun:         *dryrun,
	}

	if *config_path != "" {

		fh, err := os.Open(*config_path)

		if err != nil {
			log.Fatalf("Failed to open config %s, %v", *config_path, err)
		}

		cfg, err := config.Load(fh)

		fh.Close()

		if err != nil {
			log.Fatalf("Failed to load config %s, %v", *config_path, err)
		}

		opts = cfg.AssembleOptions(source, target)
		opts.ACL = *acl
		opts.Dryrun = *dryrun
	}

	exists, err := target.Exists(ctx, coco.AnnotationsFilename)

	if err != nil {
		log.Fatalf("Failed to check target, %v", err)
	}

	if exists && !*dryrun {

		if !*overwrite {
			log.Fatalf("Target already contains %s; pass -overwrite to regenerate the dataset", coco.AnnotationsFilename)
		}

		err := common.EmptyBucket(ctx, target)

		if err != nil {
			log.Fatalf("Failed to empty target, %v", err)
		}
	}

	ds, err := coco.ReadDataset(ctx, source, coco.AnnotationsFilename)

	if err != nil {
		log.Fatalf("Assembly failed while loading input, %v", err)
	}

	rsp, err := assemble.Assemble(ctx, ds, opts)

	if err != nil {
		log.Fatalf("Assembly failed, %v", err)
	}

	if *dryrun {
		log.Printf("[dryrun] would write %d tiles (%d positive) and %d annotations\n", len(rsp.Dataset.Images), rsp.PositiveTiles, len(rsp.Dataset.Annotations))
		return
	}

	err = coco.WriteDataset(ctx, target, coco.AnnotationsFilename, rsp.Dataset)

	if err != nil {
		log.Fatalf("Assembly failed while writing COCO document, %v", err)
	}

	manifests := map[string]interface{}{
		"manifests/tiles_manifest.json":  rsp.Manifest,
		"manifests/images_manifest.json": rsp.ImagesManifest(),
		"summary.json":                   rsp.Summarize(opts, len(ds.Images), len(ds.Annotations)),
	}

	for path, doc := range manifests {

		err := writeJSON(ctx, target, path, doc)

		if err != nil {
			log.Fatalf("Assembly failed while writing %s, %v", path, err)
		}
	}

	if *validate {

		report, err := verify.VerifyBucket(ctx, target, coco.AnnotationsFilename, &verify.Options{Bucket: target})

		if err != nil {
			log.Fatalf("Validation failed, %v", err)
		}

		if !report.Ok() {

			for _, p := range report.Problems {
				log.Printf("Validation problem: %s\n", p)
			}

			log.Fatalf("Validation found %d problems", len(report.Problems))
		}
	}

	log.Printf("Wrote %d tiles (%d positive, %d negative), %d annotations, skipped %d source images\n", len(rsp.Dataset.Images), rsp.PositiveTiles, len(rsp.Dataset.Images)-rsp.PositiveTiles, len(rsp.Dataset.Annotations), len(rsp.Skipped))
}

func writeJSON(ctx context.Context, bucket *blob.Bucket, path string, v interface{}) error {

	body, err := json.MarshalIndent(v, "", "  ")

	if err != nil {
		return err
	}

	wr, err := bucket.NewWriter(ctx, path, nil)

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
