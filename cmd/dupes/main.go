package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"sort"
	"strings"

	"github.com/sfomuseum/go-coco-tiles/lookup"
	_ "gocloud.dev/blob/fileblob"
)

func main() {

	image_hashes := flag.Bool("image-hashes", false, "Index tiles by perceptual image hash in addition to SHA-1 fingerprint.")

	flag.Parse()

	uris := flag.Args()

	if len(uris) == 0 {
		log.Fatal("Finding duplicates requires at least 1 gocloud.dev/blob URI containing tile manifests")
	}

	ctx := context.Background()

	lookers := make([]lookup.LookerUpper, 0, len(uris))

	for _, uri := range uris {

		l := lookup.NewBlobLookerUpper(ctx)

		err := l.Open(ctx, uri)

		if err != nil {
			log.Fatalf("Failed to open lookup for '%s', %v", uri, err)
		}

		lookers = append(lookers, l)
	}

	append_funcs := []lookup.AppendLookupFunc{
		lookup.FingerprintAppendLookupFunc,
	}

	if *image_hashes {
		append_funcs = append(append_funcs, lookup.ImageHashAppendLookupFunc)
	}

	lookup_table, err := lookup.NewLookupMap(ctx, lookers, append_funcs...)

	if err != nil {
		log.Fatalf("Failed to build lookup table, %v", err)
	}

	dupes := lookup.Duplicates(lookup_table)

	if len(dupes) == 0 {
		return
	}

	keys := make([]string, 0, len(dupes))

	for k := range dupes {
		keys = append(keys, k)
	}

	sort.Strings(keys)

	for _, k := range keys {
		fmt.Printf("%s\t%s\n", k, strings.Join(dupes[k], " "))
	}

	os.Exit(1)
}
