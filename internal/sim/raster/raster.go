// Package raster holds the in-memory grids the simulation operates on:
// integer host/infection counts and float64 coefficient fields, stored
// row-major with elementwise arithmetic.
package raster

import "math"

// Grid is a 2-D integer raster (host and infection counts).
type Grid struct {
	Rows, Cols int
	Cells      []int
}

func NewGrid(rows, cols int) *Grid {
	return &Grid{Rows: rows, Cols: cols, Cells: make([]int, rows*cols)}
}

func (g *Grid) At(row, col int) int      { return g.Cells[row*g.Cols+col] }
func (g *Grid) Set(row, col, v int)      { g.Cells[row*g.Cols+col] = v }
func (g *Grid) Inc(row, col, delta int)  { g.Cells[row*g.Cols+col] += delta }
func (g *Grid) InBounds(row, col int) bool {
	return row >= 0 && row < g.Rows && col >= 0 && col < g.Cols
}

func (g *Grid) Clone() *Grid {
	c := NewGrid(g.Rows, g.Cols)
	copy(c.Cells, g.Cells)
	return c
}

func (g *Grid) CopyFrom(o *Grid) {
	copy(g.Cells, o.Cells)
}

func (g *Grid) Zero() {
	for i := range g.Cells {
		g.Cells[i] = 0
	}
}

func (g *Grid) AddGrid(o *Grid) {
	for i, v := range o.Cells {
		g.Cells[i] += v
	}
}

func (g *Grid) SubGrid(o *Grid) {
	for i, v := range o.Cells {
		g.Cells[i] -= v
	}
}

func (g *Grid) MulGrid(o *Grid) {
	for i, v := range o.Cells {
		g.Cells[i] *= v
	}
}

func (g *Grid) MulScalar(n int) {
	for i := range g.Cells {
		g.Cells[i] *= n
	}
}

// DivScalar divides every cell by n using integer division.
func (g *Grid) DivScalar(n int) {
	for i := range g.Cells {
		g.Cells[i] /= n
	}
}

// Apply replaces every cell with f(cell).
func (g *Grid) Apply(f func(int) int) {
	for i, v := range g.Cells {
		g.Cells[i] = f(v)
	}
}

func (g *Grid) Sum() int {
	s := 0
	for _, v := range g.Cells {
		s += v
	}
	return s
}

func (g *Grid) AllZero() bool {
	for _, v := range g.Cells {
		if v != 0 {
			return false
		}
	}
	return true
}

// ScaledBy returns round(rate*cell) for every cell as a new grid.
// Used for the mortality fraction of a cohort.
func (g *Grid) ScaledBy(rate float64) *Grid {
	c := NewGrid(g.Rows, g.Cols)
	for i, v := range g.Cells {
		c.Cells[i] = int(math.Round(rate * float64(v)))
	}
	return c
}

// FGrid is a 2-D float64 raster (weather coefficients, temperatures,
// treatment intensities).
type FGrid struct {
	Rows, Cols int
	Cells      []float64
}

func NewFGrid(rows, cols int) *FGrid {
	return &FGrid{Rows: rows, Cols: cols, Cells: make([]float64, rows*cols)}
}

func (g *FGrid) At(row, col int) float64 { return g.Cells[row*g.Cols+col] }
func (g *FGrid) Set(row, col int, v float64) {
	g.Cells[row*g.Cols+col] = v
}

func (g *FGrid) Clone() *FGrid {
	c := NewFGrid(g.Rows, g.Cols)
	copy(c.Cells, g.Cells)
	return c
}

func (g *FGrid) MulFGrid(o *FGrid) {
	for i, v := range o.Cells {
		g.Cells[i] *= v
	}
}
