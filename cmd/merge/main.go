package main

import (
	"context"
	"flag"
	"log"

	"github.com/sfomuseum/go-coco-tiles/coco"
	"github.com/sfomuseum/go-coco-tiles/operations/merge"
	"gocloud.dev/blob"
	_ "gocloud.dev/blob/fileblob"
)

func main() {

	target_uri := flag.String("target-uri", "", "A valid gocloud.dev/blob URI where the merged dataset is written.")
	dryrun := flag.Bool("dryrun", false, "Remap and report but write nothing.")

	flag.Parse()

	uris := flag.Args()

	if len(uris) < 2 {
		log.Fatalf("Merging requires at least 2 dataset URIs, got %d", len(uris))
	}

	ctx := context.Background()

	target, err := blob.OpenBucket(ctx, *target_uri)

	if err != nil {
		log.Fatalf("Failed to open target bucket, %v", err)
	}

	defer target.Close()

	inputs := make([]*merge.Input, 0, len(uris))

	for _, uri := range uris {

		in, err := merge.OpenInput(ctx, uri)

		if err != nil {
			log.Fatalf("Merge failed on input %s, %v", uri, err)
		}

		defer in.Bucket.Close()

		inputs = append(inputs, in)
	}

	opts := &merge.Options{
		Target: target,
		Dryrun: *dryrun,
	}

	rsp, err := merge.Merge(ctx, inputs, opts)

	if err != nil {
		log.Fatalf("Merge failed, %v", err)
	}

	if !*dryrun {

		err = coco.WriteDataset(ctx, target, coco.AnnotationsFilename, rsp.Dataset)

		if err != nil {
			log.Fatalf("Merge failed while writing COCO document, %v", err)
		}
	}

	log.Printf("Merged %d datasets: %d images, %d annotations, %d categories, %d renamed files\n", len(inputs), len(rsp.Dataset.Images), len(rsp.Dataset.Annotations), len(rsp.Dataset.Categories), len(rsp.Renamed))
}
