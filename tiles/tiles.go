// Package tiles implements the geometry of partitioning an image into a
// grid of fixed-size tiles and of carrying bounding-box annotations into
// tile-local coordinate space.
package tiles

import (
	"errors"
	"image"
)

// ErrInvalidConfig is returned (wrapped) for tile-size and overlap
// combinations that can not produce a valid grid.
var ErrInvalidConfig = errors.New("invalid configuration")

// Rect is a tile rectangle in source pixel space.
type Rect struct {
	X      int
	Y      int
	Width  int
	Height int
}

// Bounds returns r as an image.Rectangle suitable for cropping.
func (r Rect) Bounds() image.Rectangle {
	return image.Rect(r.X, r.Y, r.X+r.Width, r.Y+r.Height)
}

// Box is an axis-aligned bounding box in [x, y, width, height] form with
// a top-left origin.
type Box struct {
	X      float64
	Y      float64
	Width  float64
	Height float64
}

// Area returns the area of b. Degenerate boxes have zero area.
func (b Box) Area() float64 {

	if b.Width <= 0 || b.Height <= 0 {
		return 0
	}

	return b.Width * b.Height
}

// Intersect returns the intersection of b with a tile rectangle, and
// whether that intersection is non-empty.
func (b Box) Intersect(r Rect) (Box, bool) {

	x1 := max64(b.X, float64(r.X))
	y1 := max64(b.Y, float64(r.Y))
	x2 := min64(b.X+b.Width, float64(r.X+r.Width))
	y2 := min64(b.Y+b.Height, float64(r.Y+r.Height))

	if x2 <= x1 || y2 <= y1 {
		return Box{}, false
	}

	return Box{X: x1, Y: y1, Width: x2 - x1, Height: y2 - y1}, true
}

func min64(a float64, b float64) float64 {

	if a < b {
		return a
	}

	return b
}

func max64(a float64, b float64) float64 {

	if a > b {
		return a
	}

	return b
}
