package common

import (
	"context"
	"fmt"
	"image"

	"github.com/corona10/goimagehash"
)

// hashApproaches lists the hashing procedures applied to every tile.
// The extended average hash is omitted; it returns the same string
// encoding as the plain average hash.
var hashApproaches = []string{
	"avg",
	"diff",
}

// ImageHashRsp pairs a perceptual hash with the procedure that
// produced it.
type ImageHashRsp struct {
	// String label describing the image hashing procedure used.
	Approach string `json:"approach"`
	// The hexidecimal hash of an image.
	Hash string `json:"hash"`
}

// ImageHashes generates perceptual hashes for an in-memory image using
// the corona10/goimagehash package. Tile manifests carry these hashes
// so duplicate or near-duplicate tiles can be spotted after the fact.
func ImageHashes(ctx context.Context, im image.Image) ([]*ImageHashRsp, error) {

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	done_ch := make(chan bool)
	err_ch := make(chan error)
	rsp_ch := make(chan *ImageHashRsp)

	for _, a := range hashApproaches {

		go func(ctx context.Context, im image.Image, a string) {

			defer func() {
				done_ch <- true
			}()

			rsp, err := imageHash(ctx, im, a)

			if err != nil {
				err_ch <- err
				return
			}

			rsp_ch <- rsp

		}(ctx, im, a)
	}

	remaining := len(hashApproaches)
	hashes := make([]*ImageHashRsp, 0, len(hashApproaches))

	for remaining > 0 {

		select {
		case <-done_ch:
			remaining -= 1
		case err := <-err_ch:
			return nil, err
		case rsp := <-rsp_ch:
			hashes = append(hashes, rsp)
		}
	}

	return hashes, nil
}

func imageHash(ctx context.Context, im image.Image, approach string) (*ImageHashRsp, error) {

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
		// pass
	}

	var h *goimagehash.ImageHash
	var err error

	switch approach {
	case "avg":
		h, err = goimagehash.AverageHash(im)
	case "diff":
		h, err = goimagehash.DifferenceHash(im)
	default:
		err = fmt.Errorf("Unknown approach")
	}

	if err != nil {
		return nil, fmt.Errorf("Failed to process image hash approach '%s', %w", approach, err)
	}

	rsp := &ImageHashRsp{
		Approach: approach,
		Hash:     h.ToString(),
	}

	return rsp, nil
}
