package tiles

import (
	"math"
	"testing"
)

const epsilon = 1e-9

func almostEqual(a float64, b float64) bool {
	return math.Abs(a-b) < epsilon
}

func TestProjectContained(t *testing.T) {

	tile := Rect{X: 640, Y: 0, Width: 640, Height: 640}
	box := Box{X: 700, Y: 100, Width: 200, Height: 150}

	pr, ok := Project(box, tile, 0.3)

	if !ok {
		t.Fatal("Expected contained box to project")
	}

	if !almostEqual(pr.Coverage, 1.0) {
		t.Fatalf("Expected full coverage, got %f", pr.Coverage)
	}

	if !almostEqual(pr.Local.X, 60) || !almostEqual(pr.Local.Y, 100) {
		t.Fatalf("Expected local origin (60, 100), got (%f, %f)", pr.Local.X, pr.Local.Y)
	}

	if !almostEqual(pr.Local.Width, 200) || !almostEqual(pr.Local.Height, 150) {
		t.Fatalf("Expected local size 200x150, got %fx%f", pr.Local.Width, pr.Local.Height)
	}
}

func TestProjectThresholdInclusive(t *testing.T) {

	tile := Rect{X: 0, Y: 0, Width: 640, Height: 640}

	// 30 of 100 px wide inside the tile: IoA exactly 0.3.
	box := Box{X: 610, Y: 0, Width: 100, Height: 100}

	pr, ok := Project(box, tile, 0.3)

	if !ok {
		t.Fatal("Expected box at the threshold to be kept")
	}

	if !almostEqual(pr.Coverage, 0.3) {
		t.Fatalf("Expected coverage 0.3, got %f", pr.Coverage)
	}

	if !almostEqual(pr.Local.X, 610) || !almostEqual(pr.Local.Width, 30) {
		t.Fatalf("Expected clipped box x=610 w=30, got x=%f w=%f", pr.Local.X, pr.Local.Width)
	}

	// Just below the threshold is dropped.
	box.X = 611

	_, ok = Project(box, tile, 0.3)

	if ok {
		t.Fatal("Expected box below the threshold to be dropped")
	}
}

func TestProjectUnclippedDenominator(t *testing.T) {

	tile := Rect{X: 0, Y: 0, Width: 640, Height: 640}

	// Half the box hangs off the tile. IoA must be measured against
	// the full 200x100 area, not the visible half.
	box := Box{X: 540, Y: 0, Width: 200, Height: 100}

	pr, ok := Project(box, tile, 0.5)

	if !ok {
		t.Fatal("Expected half-visible box to project at 0.5")
	}

	if !almostEqual(pr.Coverage, 0.5) {
		t.Fatalf("Expected coverage 0.5, got %f", pr.Coverage)
	}
}

func TestProjectDisjoint(t *testing.T) {

	tile := Rect{X: 0, Y: 0, Width: 640, Height: 640}
	box := Box{X: 700, Y: 700, Width: 50, Height: 50}

	_, ok := Project(box, tile, 0)

	if ok {
		t.Fatal("Expected disjoint box to be dropped")
	}
}

func TestProjectDegenerate(t *testing.T) {

	tile := Rect{X: 0, Y: 0, Width: 640, Height: 640}

	for _, box := range []Box{
		{X: 100, Y: 100, Width: 0, Height: 50},
		{X: 100, Y: 100, Width: 50, Height: 0},
		{X: 100, Y: 100, Width: -10, Height: 50},
	} {

		_, ok := Project(box, tile, 0)

		if ok {
			t.Fatalf("Expected degenerate box %v to be dropped", box)
		}
	}
}

func TestProjectMultipleTiles(t *testing.T) {

	// A box straddling two overlapping tiles projects in to both.

	left := Rect{X: 0, Y: 0, Width: 640, Height: 640}
	right := Rect{X: 512, Y: 0, Width: 640, Height: 640}

	box := Box{X: 500, Y: 100, Width: 100, Height: 100}

	pr_left, ok := Project(box, left, 0.3)

	if !ok {
		t.Fatal("Expected projection in to the left tile")
	}

	pr_right, ok := Project(box, right, 0.3)

	if !ok {
		t.Fatal("Expected projection in to the right tile")
	}

	if !almostEqual(pr_left.Coverage+pr_right.Coverage, 1.0+0.88) {
		t.Fatalf("Unexpected coverages %f and %f", pr_left.Coverage, pr_right.Coverage)
	}
}

func TestProjectSegmentation(t *testing.T) {

	tile := Rect{X: 100, Y: 200, Width: 640, Height: 640}

	seg := [][]float64{
		{150, 250, 300, 250, 300, 400},
	}

	projected := ProjectSegmentation(seg, tile, 2.0, 0.5)

	if len(projected) != 1 {
		t.Fatalf("Expected 1 polygon, got %d", len(projected))
	}

	expected := []float64{100, 25, 400, 25, 400, 100}

	for i, v := range expected {

		if !almostEqual(projected[0][i], v) {
			t.Fatalf("Expected point %d to be %f, got %f", i, v, projected[0][i])
		}
	}
}
