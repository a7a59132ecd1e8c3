package coco

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/tidwall/gjson"
)

const testDocument = `{
  "info": {"year": 2024, "version": "3", "description": "roboflow export"},
  "licenses": [{"id": 1, "name": "CC BY 4.0", "url": "https://creativecommons.org/licenses/by/4.0/"}],
  "images": [
    {"id": 0, "width": 4032, "height": 2268, "file_name": "IMG_0001.jpg", "date_captured": "2024-01-15T10:00:00+00:00", "license": 1}
  ],
  "annotations": [
    {"id": 0, "image_id": 0, "category_id": 1, "bbox": [100.5, 200.25, 50, 40], "area": 2000, "iscrowd": 0, "confidence": 0.97}
  ],
  "categories": [
    {"id": 0, "name": "objects", "supercategory": "none"},
    {"id": 1, "name": "screw", "supercategory": "objects", "color": "#ff0000"}
  ]
}`

func TestUnmarshalDataset(t *testing.T) {

	ds, err := UnmarshalDataset([]byte(testDocument))

	if err != nil {
		t.Fatalf("Failed to unmarshal document, %v", err)
	}

	if len(ds.Images) != 1 || len(ds.Annotations) != 1 || len(ds.Categories) != 2 {
		t.Fatalf("Unexpected record counts: %d images, %d annotations, %d categories", len(ds.Images), len(ds.Annotations), len(ds.Categories))
	}

	im := ds.Images[0]

	if im.Width != 4032 || im.Height != 2268 || im.FileName != "IMG_0001.jpg" {
		t.Fatalf("Unexpected image record %+v", im)
	}

	if _, ok := im.Extra["date_captured"]; !ok {
		t.Fatal("Expected unrecognized image field to be preserved")
	}

	a := ds.Annotations[0]

	if a.BBox[0] != 100.5 || a.BBox[1] != 200.25 {
		t.Fatalf("Unexpected bbox %v", a.BBox)
	}

	if a.Segmentation == nil {
		t.Fatal("Expected missing segmentation to decode as an empty list")
	}

	if _, ok := a.Extra["confidence"]; !ok {
		t.Fatal("Expected unrecognized annotation field to be preserved")
	}

	if _, ok := ds.Categories[1].Extra["color"]; !ok {
		t.Fatal("Expected unrecognized category field to be preserved")
	}
}

func TestDatasetRoundTrip(t *testing.T) {

	ds, err := UnmarshalDataset([]byte(testDocument))

	if err != nil {
		t.Fatalf("Failed to unmarshal document, %v", err)
	}

	body, err := MarshalDataset(ds)

	if err != nil {
		t.Fatalf("Failed to marshal dataset, %v", err)
	}

	doc := gjson.ParseBytes(body)

	if doc.Get("images.0.date_captured").String() != "2024-01-15T10:00:00+00:00" {
		t.Fatal("Expected preserved image field to survive the round trip")
	}

	if doc.Get("annotations.0.confidence").Float() != 0.97 {
		t.Fatal("Expected preserved annotation field to survive the round trip")
	}

	if doc.Get("categories.1.color").String() != "#ff0000" {
		t.Fatal("Expected preserved category field to survive the round trip")
	}

	if doc.Get("info.description").String() != "roboflow export" {
		t.Fatal("Expected info block to survive the round trip")
	}

	if !doc.Get("licenses").IsArray() {
		t.Fatal("Expected licenses to encode as a list")
	}
}

func TestMarshalDatasetDefaultInfo(t *testing.T) {

	ds := &Dataset{
		Images:      []*Image{{ID: 1, Width: 10, Height: 10, FileName: "a.jpg"}},
		Annotations: []*Annotation{},
		Categories:  []*Category{{ID: 1, Name: "thing"}},
	}

	body, err := MarshalDataset(ds)

	if err != nil {
		t.Fatalf("Failed to marshal dataset, %v", err)
	}

	doc := gjson.ParseBytes(body)

	if !doc.Get("info").IsObject() {
		t.Fatal("Expected a default info block")
	}

	if doc.Get("info.contributor").String() != "go-coco-tiles" {
		t.Fatalf("Unexpected contributor '%s'", doc.Get("info.contributor").String())
	}
}

func TestMarshalDatasetEscapedFieldNames(t *testing.T) {

	ds := &Dataset{
		Images: []*Image{
			{
				ID:       1,
				FileName: "a.jpg",
				Extra: map[string]json.RawMessage{
					"roboflow.meta": json.RawMessage(`"kept"`),
				},
			},
		},
		Annotations: []*Annotation{},
		Categories:  []*Category{},
	}

	body, err := MarshalDataset(ds)

	if err != nil {
		t.Fatalf("Failed to marshal dataset, %v", err)
	}

	if !strings.Contains(string(body), `"roboflow.meta": "kept"`) {
		t.Fatal("Expected dotted field name to encode as a single key")
	}
}

func TestUnmarshalDatasetInvalid(t *testing.T) {

	_, err := UnmarshalDataset([]byte("not json"))

	if err == nil {
		t.Fatal("Expected invalid JSON to fail")
	}

	if !errors.Is(err, ErrInvalidDataset) {
		t.Fatalf("Expected ErrInvalidDataset, got %v", err)
	}
}

func TestDatasetValidate(t *testing.T) {

	ds := &Dataset{
		Images:     []*Image{{ID: 1, FileName: "a.jpg"}},
		Categories: []*Category{{ID: 1, Name: "thing"}},
	}

	err := ds.Validate()

	if err != nil {
		t.Fatalf("Expected dataset to validate, %v", err)
	}

	empty := &Dataset{
		Categories: []*Category{},
	}

	err = empty.Validate()

	if !errors.Is(err, ErrInvalidDataset) {
		t.Fatalf("Expected ErrInvalidDataset for empty dataset, got %v", err)
	}

	unnamed := &Dataset{
		Images:     []*Image{{ID: 1, FileName: "a.jpg"}},
		Categories: []*Category{{ID: 1}},
	}

	err = unnamed.Validate()

	if !errors.Is(err, ErrInvalidDataset) {
		t.Fatalf("Expected ErrInvalidDataset for unnamed category, got %v", err)
	}
}

func TestAnnotationsByImage(t *testing.T) {

	ds := &Dataset{
		Annotations: []*Annotation{
			{ID: 1, ImageID: 10},
			{ID: 2, ImageID: 10},
			{ID: 3, ImageID: 11},
		},
	}

	grouped := ds.AnnotationsByImage()

	if len(grouped[10]) != 2 || len(grouped[11]) != 1 {
		t.Fatalf("Unexpected grouping: %d and %d", len(grouped[10]), len(grouped[11]))
	}
}
