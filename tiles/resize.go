package tiles

import (
	"fmt"
	"image"

	"github.com/disintegration/imaging"
)

// ResampleFilters maps configuration names to the resampling filters
// supported for tile resizing.
var ResampleFilters = map[string]imaging.ResampleFilter{
	"lanczos": imaging.Lanczos,
	"linear":  imaging.Linear,
	"nearest": imaging.NearestNeighbor,
	"box":     imaging.Box,
	"cubic":   imaging.CatmullRom,
}

// ResampleFilter resolves a filter by its configuration name. The empty
// string resolves to Lanczos.
func ResampleFilter(name string) (imaging.ResampleFilter, error) {

	if name == "" {
		return imaging.Lanczos, nil
	}

	f, ok := ResampleFilters[name]

	if !ok {
		return imaging.ResampleFilter{}, fmt.Errorf("Unknown resampling filter '%s', %w", name, ErrInvalidConfig)
	}

	return f, nil
}

// ResizeTransform maps tile-local pixel space onto an output canvas of a
// different size, rescaling pixels and annotation coordinates with the
// same per-axis factors. Axes scale independently; aspect distortion is
// the caller's configuration choice.
type ResizeTransform struct {
	TileWidth    int
	TileHeight   int
	TargetWidth  int
	TargetHeight int
	Filter       imaging.ResampleFilter
}

// NewResizeTransform validates dimensions and returns a transform from
// tile space to target space.
func NewResizeTransform(tile_w int, tile_h int, target_w int, target_h int, filter imaging.ResampleFilter) (*ResizeTransform, error) {

	if tile_w <= 0 || tile_h <= 0 || target_w <= 0 || target_h <= 0 {
		return nil, fmt.Errorf("Resize dimensions %dx%d -> %dx%d are not positive, %w", tile_w, tile_h, target_w, target_h, ErrInvalidConfig)
	}

	t := &ResizeTransform{
		TileWidth:    tile_w,
		TileHeight:   tile_h,
		TargetWidth:  target_w,
		TargetHeight: target_h,
		Filter:       filter,
	}

	return t, nil
}

// ScaleX returns the horizontal scale factor.
func (t *ResizeTransform) ScaleX() float64 {
	return float64(t.TargetWidth) / float64(t.TileWidth)
}

// ScaleY returns the vertical scale factor.
func (t *ResizeTransform) ScaleY() float64 {
	return float64(t.TargetHeight) / float64(t.TileHeight)
}

// ApplyPixels resamples a tile on to the target canvas.
func (t *ResizeTransform) ApplyPixels(im image.Image) image.Image {
	return imaging.Resize(im, t.TargetWidth, t.TargetHeight, t.Filter)
}

// ApplyBox rescales a tile-local bounding box on to the target canvas.
// Area is a function of the scaled box, never carried forward from the
// pre-resize box.
func (t *ResizeTransform) ApplyBox(b Box) Box {

	sx := t.ScaleX()
	sy := t.ScaleY()

	return Box{
		X:      b.X * sx,
		Y:      b.Y * sy,
		Width:  b.Width * sx,
		Height: b.Height * sy,
	}
}
