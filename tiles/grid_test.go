package tiles

import (
	"errors"
	"testing"
)

func TestPlanGrid(t *testing.T) {

	grid, err := PlanGrid(4032, 2268, 640, 640, 0)

	if err != nil {
		t.Fatalf("Failed to plan grid, %v", err)
	}

	if len(grid) != 28 {
		t.Fatalf("Expected 28 tiles, got %d", len(grid))
	}

	// Row-major: first row runs left to right at y=0.

	first := grid[0]

	if first.X != 0 || first.Y != 0 {
		t.Fatalf("Expected first tile at (0, 0), got (%d, %d)", first.X, first.Y)
	}

	if grid[1].Y != 0 || grid[1].X <= grid[0].X {
		t.Fatalf("Expected row-major ordering, got (%d, %d) after (%d, %d)", grid[1].X, grid[1].Y, grid[0].X, grid[0].Y)
	}

	// The final column and row are anchored to the image edge.

	last := grid[len(grid)-1]

	if last.X+last.Width != 4032 {
		t.Fatalf("Expected last column to end at 4032, got %d", last.X+last.Width)
	}

	if last.X != 3392 {
		t.Fatalf("Expected last column origin 3392, got %d", last.X)
	}

	if last.Y+last.Height != 2268 {
		t.Fatalf("Expected last row to end at 2268, got %d", last.Y+last.Height)
	}
}

func TestPlanGridCoverage(t *testing.T) {

	tests := []struct {
		image_w int
		image_h int
		tile_w  int
		tile_h  int
		overlap int
	}{
		{4032, 2268, 640, 640, 0},
		{4032, 2268, 640, 640, 128},
		{1280, 1280, 640, 640, 0},
		{1281, 1281, 640, 640, 0},
		{1000, 800, 512, 256, 64},
	}

	for _, tc := range tests {

		grid, err := PlanGrid(tc.image_w, tc.image_h, tc.tile_w, tc.tile_h, tc.overlap)

		if err != nil {
			t.Fatalf("Failed to plan %dx%d grid, %v", tc.image_w, tc.image_h, err)
		}

		covered_x := make([]bool, tc.image_w)
		covered_y := make([]bool, tc.image_h)

		for _, r := range grid {

			if r.X < 0 || r.Y < 0 || r.X+r.Width > tc.image_w || r.Y+r.Height > tc.image_h {
				t.Fatalf("Tile (%d, %d) %dx%d exceeds %dx%d image", r.X, r.Y, r.Width, r.Height, tc.image_w, tc.image_h)
			}

			for x := r.X; x < r.X+r.Width; x++ {
				covered_x[x] = true
			}

			for y := r.Y; y < r.Y+r.Height; y++ {
				covered_y[y] = true
			}
		}

		for x, ok := range covered_x {

			if !ok {
				t.Fatalf("Column %d of %dx%d image is not covered", x, tc.image_w, tc.image_h)
			}
		}

		for y, ok := range covered_y {

			if !ok {
				t.Fatalf("Row %d of %dx%d image is not covered", y, tc.image_w, tc.image_h)
			}
		}
	}
}

func TestPlanGridExactMultiple(t *testing.T) {

	grid, err := PlanGrid(1280, 640, 640, 640, 0)

	if err != nil {
		t.Fatalf("Failed to plan grid, %v", err)
	}

	if len(grid) != 2 {
		t.Fatalf("Expected 2 tiles, got %d", len(grid))
	}

	if grid[0].X != 0 || grid[1].X != 640 {
		t.Fatalf("Expected origins 0 and 640, got %d and %d", grid[0].X, grid[1].X)
	}
}

func TestPlanGridSmallImage(t *testing.T) {

	grid, err := PlanGrid(500, 300, 640, 640, 0)

	if err != nil {
		t.Fatalf("Failed to plan grid, %v", err)
	}

	if len(grid) != 1 {
		t.Fatalf("Expected a single tile, got %d", len(grid))
	}

	r := grid[0]

	if r.X != 0 || r.Y != 0 || r.Width != 500 || r.Height != 300 {
		t.Fatalf("Expected tile clamped to image, got (%d, %d) %dx%d", r.X, r.Y, r.Width, r.Height)
	}
}

func TestPlanGridOverlapStride(t *testing.T) {

	grid, err := PlanGrid(1280, 640, 640, 640, 128)

	if err != nil {
		t.Fatalf("Failed to plan grid, %v", err)
	}

	if grid[1].X != 512 {
		t.Fatalf("Expected second origin at 512, got %d", grid[1].X)
	}

	last := grid[len(grid)-1]

	if last.X != 640 {
		t.Fatalf("Expected anchored final origin 640, got %d", last.X)
	}
}

func TestPlanGridInvalidConfig(t *testing.T) {

	tests := []struct {
		image_w int
		image_h int
		tile_w  int
		tile_h  int
		overlap int
	}{
		{1000, 1000, 0, 640, 0},
		{1000, 1000, 640, -1, 0},
		{0, 1000, 640, 640, 0},
		{1000, 1000, 640, 640, -1},
		{1000, 1000, 640, 640, 640},
		{1000, 1000, 640, 320, 320},
	}

	for _, tc := range tests {

		_, err := PlanGrid(tc.image_w, tc.image_h, tc.tile_w, tc.tile_h, tc.overlap)

		if err == nil {
			t.Fatalf("Expected error for tile %dx%d overlap %d", tc.tile_w, tc.tile_h, tc.overlap)
		}

		if !errors.Is(err, ErrInvalidConfig) {
			t.Fatalf("Expected ErrInvalidConfig, got %v", err)
		}
	}
}
