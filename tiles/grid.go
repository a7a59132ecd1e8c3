package tiles

import (
	"fmt"
)

// PlanGrid partitions an image of the given dimensions into an ordered
// grid of tile rectangles. Ordering is row-major: the top row left to
// right, then the next row down. Stride along each axis is the tile
// dimension minus overlap.
//
// The final tile on each axis is anchored so its far edge lands exactly
// on the image edge, even when that duplicates coverage with the
// penultimate tile. Full field-of-view coverage is the point; the extra
// overlap on the last tile is deliberate.
//
// When an image dimension is smaller than or equal to the tile dimension
// the grid holds a single origin at 0 on that axis, and the emitted tile
// is clamped to the image. Callers must not assume every tile has the
// configured size.
func PlanGrid(image_w int, image_h int, tile_w int, tile_h int, overlap int) ([]Rect, error) {

	if tile_w <= 0 || tile_h <= 0 {
		return nil, fmt.Errorf("Tile size %dx%d is not positive, %w", tile_w, tile_h, ErrInvalidConfig)
	}

	if image_w <= 0 || image_h <= 0 {
		return nil, fmt.Errorf("Image size %dx%d is not positive, %w", image_w, image_h, ErrInvalidConfig)
	}

	if overlap < 0 || overlap >= tile_w || overlap >= tile_h {
		return nil, fmt.Errorf("Overlap %d is not in [0, tile dimension), %w", overlap, ErrInvalidConfig)
	}

	xs := axisOrigins(image_w, tile_w, tile_w-overlap)
	ys := axisOrigins(image_h, tile_h, tile_h-overlap)

	grid := make([]Rect, 0, len(xs)*len(ys))

	for _, y := range ys {

		for _, x := range xs {

			r := Rect{
				X:      x,
				Y:      y,
				Width:  minInt(tile_w, image_w),
				Height: minInt(tile_h, image_h),
			}

			grid = append(grid, r)
		}
	}

	return grid, nil
}

// axisOrigins returns the ordered tile origins along one axis: multiples
// of stride while a full tile still fits strictly inside the image, then
// a final origin anchored to the image edge.
func axisOrigins(image_dim int, tile_dim int, stride int) []int {

	if image_dim <= tile_dim {
		return []int{0}
	}

	origins := make([]int, 0)

	for o := 0; o+tile_dim < image_dim; o += stride {
		origins = append(origins, o)
	}

	last := image_dim - tile_dim

	if len(origins) == 0 || origins[len(origins)-1] != last {
		origins = append(origins, last)
	}

	return origins
}

func minInt(a int, b int) int {

	if a < b {
		return a
	}

	return b
}
