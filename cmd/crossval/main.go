package main

import (
	"context"
	"flag"
	"log"

	"github.com/sfomuseum/go-coco-tiles/coco"
	"github.com/sfomuseum/go-coco-tiles/common"
	"github.com/sfomuseum/go-coco-tiles/operations/crossval"
	"gocloud.dev/blob"
	_ "gocloud.dev/blob/fileblob"
)

func main() {

	source_uri := flag.String("source-uri", "", "A valid gocloud.dev/blob URI where the tiled dataset lives.")
	target_uri := flag.String("target-uri", "", "A valid gocloud.dev/blob URI where per-fold tile images are copied. Optional.")
	writer_uri := flag.String("writer-uri", "", "A valid whosonfirst/go-writer URI where fold documents and manifests are written.")

	folds := flag.Int("folds", 5, "Number of cross-validation folds.")
	seed := flag.Int64("seed", 42, "Random seed for the deterministic group shuffle.")
	val_fraction := flag.Float64("val-fraction", 0.0, "Fraction of training groups carved out for validation. Zero mirrors the test split.")
	copy_tiles := flag.Bool("copy-tiles", false, "Copy each fold's tile images under folds/fold_<i>/images/.")

	flag.Parse()

	ctx := context.Background()

	source, err := blob.OpenBucket(ctx, *source_uri)

	if err != nil {
		log.Fatalf("Failed to open source bucket, %v", err)
	}

	defer source.Close()

	wr, err := common.NewWriter(ctx, *writer_uri)

	if err != nil {
		log.Fatalf("Failed to create writer, %v", err)
	}

	opts := &crossval.Options{
		Folds:          *folds,
		Seed:           *seed,
		ValFraction:    *val_fraction,
		DocumentWriter: wr,
	}

	if *copy_tiles {

		if *target_uri == "" {
			log.Fatalf("-copy-tiles requires -target-uri")
		}

		target, err := blob.OpenBucket(ctx, *target_uri)

		if err != nil {
			log.Fatalf("Failed to open target bucket, %v", err)
		}

		defer target.Close()

		opts.TileSource = source
		opts.TileTarget = target
	}

	ds, err := coco.ReadDataset(ctx, source, coco.AnnotationsFilename)

	if err != nil {
		log.Fatalf("Split failed while loading input, %v", err)
	}

	rsp, err := crossval.Split(ctx, ds, opts)

	if err != nil {
		log.Fatalf("Split failed, %v", err)
	}

	err = rsp.WriteAssignments(ctx, wr)

	if err != nil {
		log.Fatalf("Split failed while writing assignments, %v", err)
	}

	for _, fold := range rsp.Folds {
		log.Printf("Fold %d: train=%d tiles, val=%d tiles, test=%d tiles\n", fold.Index, fold.Stats["train"].Tiles, fold.Stats["val"].Tiles, fold.Stats["test"].Tiles)
	}
}
