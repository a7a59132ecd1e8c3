package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"

	"github.com/sfomuseum/go-coco-tiles/coco"
	"github.com/sfomuseum/go-coco-tiles/common"
	"github.com/sfomuseum/go-coco-tiles/operations/verify"
	"gocloud.dev/blob"
	_ "gocloud.dev/blob/fileblob"
)

func main() {

	reader_uri := flag.String("reader-uri", "", "A valid whosonfirst/go-reader URI where COCO documents are read from.")
	bucket_uri := flag.String("bucket-uri", "", "An optional gocloud.dev/blob URI checked for the existence of referenced image files.")
	check_orphans := flag.Bool("check-orphans", false, "Report image files in -bucket-uri that no document references.")

	flag.Parse()

	ctx := context.Background()

	r, err := common.NewReader(ctx, *reader_uri)

	if err != nil {
		log.Fatalf("Failed to create reader, %v", err)
	}

	opts := &verify.Options{}

	if *bucket_uri != "" {

		bucket, err := blob.OpenBucket(ctx, *bucket_uri)

		if err != nil {
			log.Fatalf("Failed to open bucket, %v", err)
		}

		defer bucket.Close()

		opts.Bucket = bucket
		opts.CheckOrphans = *check_orphans
	}

	paths := flag.Args()

	if len(paths) == 0 {
		paths = []string{coco.AnnotationsFilename}
	}

	failed := 0

	for _, path := range paths {

		report, err := verify.VerifyPath(ctx, r, path, opts)

		if err != nil {
			log.Fatalf("Verification failed for %s, %v", path, err)
		}

		enc, err := json.Marshal(report)

		if err != nil {
			log.Fatalf("Failed to encode report for %s, %v", path, err)
		}

		fmt.Println(string(enc))

		if !report.Ok() {
			failed += 1
		}
	}

	if failed > 0 {
		log.Fatalf("%d of %d documents failed verification", failed, len(paths))
	}
}
