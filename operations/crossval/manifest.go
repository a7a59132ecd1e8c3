package crossval

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/whosonfirst/go-ioutil"
	"github.com/whosonfirst/go-writer/v3"
)

// WriteJSON encodes v and publishes it at path with a
// whosonfirst/go-writer Writer instance.
func WriteJSON(ctx context.Context, wr writer.Writer, path string, v interface{}) error {

	body, err := json.MarshalIndent(v, "", "  ")

	if err != nil {
		return fmt.Errorf("Failed to encode %s, %w", path, err)
	}

	br := bytes.NewReader(body)
	fh, err := ioutil.NewReadSeekCloser(br)

	if err != nil {
		return fmt.Errorf("Failed to create ReadSeekCloser for %s, %w", path, err)
	}

	_, err = wr.Write(ctx, path, fh)

	if err != nil {
		return fmt.Errorf("Failed to write %s, %w", path, err)
	}

	return nil
}

// foldAssignment is the serialized form of one fold's group membership.
type foldAssignment struct {
	TrainImages []int64 `json:"train_images"`
	ValImages   []int64 `json:"val_images"`
	TestImages  []int64 `json:"test_images"`
}

// WriteAssignments publishes manifests/fold_assignments.json, mapping
// every fold to the source images in each of its splits.
func (r *Result) WriteAssignments(ctx context.Context, wr writer.Writer) error {

	assignments := make(map[string]*foldAssignment, len(r.Folds))

	for _, fold := range r.Folds {

		assignments[strconv.Itoa(fold.Index)] = &foldAssignment{
			TrainImages: fold.TrainGroups,
			ValImages:   fold.ValGroups,
			TestImages:  fold.TestGroups,
		}
	}

	return WriteJSON(ctx, wr, "manifests/fold_assignments.json", assignments)
}
