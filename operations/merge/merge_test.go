package merge

import (
	"context"
	"errors"
	"testing"

	"github.com/sfomuseum/go-coco-tiles/coco"
	"gocloud.dev/blob"
	_ "gocloud.dev/blob/memblob"
)

func testInput(name string, images int, annotations_per_image int, categories []string) *Input {

	ds := &coco.Dataset{
		Images:      make([]*coco.Image, 0),
		Annotations: make([]*coco.Annotation, 0),
		Categories:  make([]*coco.Category, 0),
	}

	for i, c := range categories {

		ds.Categories = append(ds.Categories, &coco.Category{
			ID:   int64(i + 1),
			Name: c,
		})
	}

	annotation_id := int64(1)

	for i := 0; i < images; i++ {

		image_id := int64(i + 1)

		ds.Images = append(ds.Images, &coco.Image{
			ID:       image_id,
			Width:    640,
			Height:   640,
			FileName: name + "_" + string(rune('a'+i)) + ".jpg",
		})

		for j := 0; j < annotations_per_image; j++ {

			ds.Annotations = append(ds.Annotations, &coco.Annotation{
				ID:         annotation_id,
				ImageID:    image_id,
				CategoryID: int64(j%len(categories) + 1),
				BBox:       []float64{10, 10, 50, 50},
				Area:       2500,
			})

			annotation_id += 1
		}
	}

	return &Input{
		URI:     "mem://" + name,
		Name:    name,
		Dataset: ds,
	}
}

func TestMerge(t *testing.T) {

	a := testInput("setA", 3, 2, []string{"ant", "bee"})
	b := testInput("setB", 2, 2, []string{"bee", "fly"})

	// 3 + 2 images, 6 + 4 annotations, ant/bee/fly.

	ctx := context.Background()

	rsp, err := Merge(ctx, []*Input{a, b}, &Options{})

	if err != nil {
		t.Fatalf("Failed to merge datasets, %v", err)
	}

	merged := rsp.Dataset

	if len(merged.Images) != 5 {
		t.Fatalf("Expected 5 images, got %d", len(merged.Images))
	}

	if len(merged.Annotations) != 10 {
		t.Fatalf("Expected 10 annotations, got %d", len(merged.Annotations))
	}

	if len(merged.Categories) != 3 {
		t.Fatalf("Expected 3 categories, got %d", len(merged.Categories))
	}

	// Shared category names collapse on to a single id.

	ids := make(map[string]int64)

	for _, c := range merged.Categories {
		ids[c.Name] = c.ID
	}

	if len(ids) != 3 {
		t.Fatalf("Expected unique category names, got %v", ids)
	}

	bee := ids["bee"]

	bee_annotations := 0

	for _, a := range merged.Annotations {

		if a.CategoryID == bee {
			bee_annotations += 1
		}
	}

	if bee_annotations == 0 {
		t.Fatal("Expected remapped annotations in the shared category")
	}

	// Identifier spaces are freshly allocated and contiguous from 1.

	seen_images := make(map[int64]bool)

	for _, im := range merged.Images {

		if im.ID < 1 || im.ID > int64(len(merged.Images)) {
			t.Fatalf("Image id %d outside the fresh id space", im.ID)
		}

		if seen_images[im.ID] {
			t.Fatalf("Duplicate image id %d", im.ID)
		}

		seen_images[im.ID] = true
	}

	for _, a := range merged.Annotations {

		if !seen_images[a.ImageID] {
			t.Fatalf("Annotation %d references unknown image %d", a.ID, a.ImageID)
		}
	}
}

func TestMergeFilenameCollision(t *testing.T) {

	a := testInput("setA", 2, 1, []string{"ant"})
	b := testInput("setB", 2, 1, []string{"ant"})

	// Force a collision between the two inputs.
	b.Dataset.Images[0].FileName = a.Dataset.Images[0].FileName

	ctx := context.Background()

	rsp, err := Merge(ctx, []*Input{a, b}, &Options{})

	if err != nil {
		t.Fatalf("Failed to merge datasets, %v", err)
	}

	renamed, ok := rsp.Renamed[a.Dataset.Images[0].FileName]

	if !ok {
		t.Fatal("Expected the colliding filename to be renamed")
	}

	if renamed != "setB_"+a.Dataset.Images[0].FileName {
		t.Fatalf("Expected dataset-tag prefix, got %s", renamed)
	}

	names := make(map[string]bool)

	for _, im := range rsp.Dataset.Images {

		if names[im.FileName] {
			t.Fatalf("Output filename %s is not unique", im.FileName)
		}

		names[im.FileName] = true
	}
}

func TestMergeRepeatedCollision(t *testing.T) {

	a := testInput("setA", 1, 0, []string{"ant"})
	b := testInput("setB", 2, 0, []string{"ant"})

	// Both of setB's images collide: the second with setA and the
	// first with the renamed form of the second.

	b.Dataset.Images[0].FileName = "setB_x.jpg"
	b.Dataset.Images[1].FileName = "x.jpg"
	a.Dataset.Images[0].FileName = "x.jpg"

	ctx := context.Background()

	rsp, err := Merge(ctx, []*Input{a, b}, &Options{})

	if err != nil {
		t.Fatalf("Failed to merge datasets, %v", err)
	}

	names := make(map[string]bool)

	for _, im := range rsp.Dataset.Images {

		if names[im.FileName] {
			t.Fatalf("Output filename %s is not unique", im.FileName)
		}

		names[im.FileName] = true
	}

	if !names["setB2_x.jpg"] {
		t.Fatalf("Expected the second collision to escalate the prefix, got %v", names)
	}
}

func TestMergeRequiresTwoInputs(t *testing.T) {

	a := testInput("setA", 1, 0, []string{"ant"})

	ctx := context.Background()

	_, err := Merge(ctx, []*Input{a}, &Options{})

	if !errors.Is(err, coco.ErrInvalidDataset) {
		t.Fatalf("Expected ErrInvalidDataset, got %v", err)
	}
}

func TestMergeUnknownReferences(t *testing.T) {

	a := testInput("setA", 1, 1, []string{"ant"})
	b := testInput("setB", 1, 1, []string{"ant"})

	b.Dataset.Annotations[0].ImageID = 99

	ctx := context.Background()

	_, err := Merge(ctx, []*Input{a, b}, &Options{})

	if !errors.Is(err, coco.ErrInvalidDataset) {
		t.Fatalf("Expected ErrInvalidDataset, got %v", err)
	}
}

func TestInputName(t *testing.T) {

	tests := []struct {
		uri      string
		expected string
	}{
		{"file:///data/ds", "ds"},
		{"file:///data/ds/", "ds"},
		{"file:///data/ds?metadata=skip", "ds"},
		{"s3://bucket/exports/july?region=us-east-1", "july"},
		{"mem://setA", "setA"},
	}

	for _, tc := range tests {

		name := inputName(tc.uri)

		if name != tc.expected {
			t.Fatalf("Expected tag '%s' for %s, got '%s'", tc.expected, tc.uri, name)
		}
	}
}

func TestMergeCopiesFiles(t *testing.T) {

	ctx := context.Background()

	a := testInput("setA", 2, 1, []string{"ant"})
	b := testInput("setB", 1, 1, []string{"ant"})

	open := func(uri string) *blob.Bucket {

		bucket, err := blob.OpenBucket(ctx, uri)

		if err != nil {
			t.Fatalf("Failed to open bucket, %v", err)
		}

		t.Cleanup(func() { bucket.Close() })
		return bucket
	}

	a.Bucket = open("mem://")
	b.Bucket = open("mem://")
	target := open("mem://")

	for _, in := range []*Input{a, b} {

		for _, im := range in.Dataset.Images {

			err := in.Bucket.WriteAll(ctx, im.FileName, []byte("jpeg bytes"), nil)

			if err != nil {
				t.Fatalf("Failed to write %s, %v", im.FileName, err)
			}
		}
	}

	rsp, err := Merge(ctx, []*Input{a, b}, &Options{Target: target})

	if err != nil {
		t.Fatalf("Failed to merge datasets, %v", err)
	}

	for _, im := range rsp.Dataset.Images {

		exists, err := target.Exists(ctx, im.FileName)

		if err != nil {
			t.Fatalf("Failed to check for %s, %v", im.FileName, err)
		}

		if !exists {
			t.Fatalf("Expected %s to be copied", im.FileName)
		}
	}
}
