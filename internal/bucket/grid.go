package bucket

import (
	"math"

	"github.com/dgnsrekt/volsurface/internal/config"
)

// Grid is an ordered set of non-overlapping cells.
type Grid struct {
	cells []config.BucketDef
}

// NewGrid wraps a validated list of cells.
func NewGrid(cells []config.BucketDef) Grid {
	return Grid{cells: append([]config.BucketDef(nil), cells...)}
}

// Cells returns the grid cells in order.
func (g Grid) Cells() []config.BucketDef {
	return g.cells
}

// Find returns the cell containing v. Cells are [low, high) except the last,
// which is [low, high].
func (g Grid) Find(v float64) (config.BucketDef, bool) {
	for i, c := range g.cells {
		if contains(c, v, i == len(g.cells)-1) {
			return c, true
		}
	}
	return config.BucketDef{}, false
}

// IsLast reports whether c is the terminal (closed) cell of the grid.
func (g Grid) IsLast(c config.BucketDef) bool {
	return len(g.cells) > 0 && g.cells[len(g.cells)-1].Code == c.Code
}

func contains(c config.BucketDef, v float64, closed bool) bool {
	if math.IsNaN(v) || v < c.Low {
		return false
	}
	if closed {
		return v <= c.High
	}
	return v < c.High
}

// expand widens a cell by margin on both sides into a closed range,
// clamped to [floor, ceil].
func expand(c config.BucketDef, margin, floor, ceil float64) (lo, hi float64) {
	return math.Max(floor, c.Low-margin), math.Min(ceil, c.High+margin)
}
