package tiles

// Projection is the result of carrying one annotation into tile-local
// space.
type Projection struct {
	// Local is the annotation's bounding box in tile-local pixels.
	Local Box
	// Coverage is the intersection-over-area (IoA) that qualified the
	// annotation: intersection area divided by the original, unclipped
	// box area.
	Coverage float64
}

// Project decides whether an annotation survives a tile and, when it
// does, returns its bounding box in tile-local coordinates.
//
// The coverage metric is IoA measured against the original unclipped
// box area. Clipping before measuring would inflate retention of
// partially-visible objects; the denominator here is always the source
// box. The threshold is inclusive: a box exactly at min_ioa is kept.
//
// A box spanning several overlapping tiles legitimately projects into
// each qualifying tile. Degenerate boxes are always dropped.
func Project(box Box, tile Rect, min_ioa float64) (*Projection, bool) {

	original_area := box.Area()

	if original_area <= 0 {
		return nil, false
	}

	inter, ok := box.Intersect(tile)

	if !ok {
		return nil, false
	}

	ioa := inter.Area() / original_area

	if ioa < min_ioa {
		return nil, false
	}

	local := Box{
		X:      inter.X - float64(tile.X),
		Y:      inter.Y - float64(tile.Y),
		Width:  inter.Width,
		Height: inter.Height,
	}

	// Clamp against floating-point overshoot at the tile edges.

	tile_w := float64(tile.Width)
	tile_h := float64(tile.Height)

	local.X = max64(0, local.X)
	local.Y = max64(0, local.Y)
	local.Width = min64(local.Width, tile_w-local.X)
	local.Height = min64(local.Height, tile_h-local.Y)

	if local.Width <= 0 || local.Height <= 0 {
		return nil, false
	}

	pr := &Projection{
		Local:    local,
		Coverage: ioa,
	}

	return pr, true
}

// ProjectSegmentation translates segmentation polygons in to tile-local
// space and applies per-axis scale factors. Polygons are not clipped;
// points follow their bounding box's fate.
func ProjectSegmentation(segmentation [][]float64, tile Rect, sx float64, sy float64) [][]float64 {

	projected := make([][]float64, 0, len(segmentation))

	for _, polygon := range segmentation {

		points := make([]float64, 0, len(polygon))

		for i := 0; i+1 < len(polygon); i += 2 {
			points = append(points, (polygon[i]-float64(tile.X))*sx)
			points = append(points, (polygon[i+1]-float64(tile.Y))*sy)
		}

		projected = append(projected, points)
	}

	return projected
}
