package common

import (
	"context"
	"image"
	"image/color"
	"testing"
)

func TestImageHashes(t *testing.T) {

	im := image.NewRGBA(image.Rect(0, 0, 64, 64))

	for y := 0; y < 64; y++ {

		for x := 0; x < 64; x++ {
			im.Set(x, y, color.RGBA{R: uint8(x * 4), G: uint8(y * 4), B: 0, A: 255})
		}
	}

	ctx := context.Background()

	hashes, err := ImageHashes(ctx, im)

	if err != nil {
		t.Fatalf("Failed to hash image, %v", err)
	}

	if len(hashes) != 2 {
		t.Fatalf("Expected 2 hashes, got %d", len(hashes))
	}

	approaches := make(map[string]string)

	for _, h := range hashes {

		if h.Hash == "" {
			t.Fatalf("Expected a non-empty %s hash", h.Approach)
		}

		approaches[h.Approach] = h.Hash
	}

	if len(approaches) != 2 {
		t.Fatalf("Expected distinct approaches, got %v", approaches)
	}
}
