// Package spreadrate tracks how far the infection boundary moves per year
// in the four cardinal directions.
package spreadrate

import (
	"bufio"
	"fmt"
	"io"
	"math"

	"spreadsim.dev/internal/sim/raster"
)

type bbox struct {
	minRow, maxRow int
	minCol, maxCol int
	empty          bool
}

func infectedBBox(infected *raster.Grid) bbox {
	b := bbox{minRow: infected.Rows, maxRow: -1, minCol: infected.Cols, maxCol: -1, empty: true}
	for r := 0; r < infected.Rows; r++ {
		for c := 0; c < infected.Cols; c++ {
			if infected.At(r, c) > 0 {
				b.empty = false
				if r < b.minRow {
					b.minRow = r
				}
				if r > b.maxRow {
					b.maxRow = r
				}
				if c < b.minCol {
					b.minCol = c
				}
				if c > b.maxCol {
					b.maxCol = c
				}
			}
		}
	}
	return b
}

// Tracker records one run's yearly boundary movement. Rates are map units
// per year; NaN when the infection is absent on either side of a year.
type Tracker struct {
	ewRes, nsRes float64
	boundaries   []bbox
	rates        [][4]float64 // N, S, E, W
}

func New(infected *raster.Grid, ewRes, nsRes float64, numYears int) *Tracker {
	t := &Tracker{
		ewRes:      ewRes,
		nsRes:      nsRes,
		boundaries: make([]bbox, numYears+1),
		rates:      make([][4]float64, numYears),
	}
	t.boundaries[0] = infectedBBox(infected)
	return t
}

// ComputeYearly computes the rate for simulation year (0-based) from the
// current infected grid. Recomputing a year after a rewind overwrites the
// earlier value.
func (t *Tracker) ComputeYearly(infected *raster.Grid, year int) {
	cur := infectedBBox(infected)
	prev := t.boundaries[year]
	if cur.empty || prev.empty {
		t.rates[year] = [4]float64{math.NaN(), math.NaN(), math.NaN(), math.NaN()}
	} else {
		t.rates[year] = [4]float64{
			float64(prev.minRow-cur.minRow) * t.nsRes, // N
			float64(cur.maxRow-prev.maxRow) * t.nsRes, // S
			float64(cur.maxCol-prev.maxCol) * t.ewRes, // E
			float64(prev.minCol-cur.minCol) * t.ewRes, // W
		}
	}
	t.boundaries[year+1] = cur
}

// YearlyRate returns the N, S, E, W rates for a simulation year.
func (t *Tracker) YearlyRate(year int) (n, s, e, w float64) {
	r := t.rates[year]
	return r[0], r[1], r[2], r[3]
}

// AverageRate averages a year's rates across runs, skipping runs whose
// rate is undefined; all-undefined stays NaN.
func AverageRate(trackers []*Tracker, year int) (n, s, e, w float64) {
	var sums [4]float64
	var counts [4]int
	for _, t := range trackers {
		r := t.rates[year]
		for i, v := range r {
			if !math.IsNaN(v) {
				sums[i] += v
				counts[i]++
			}
		}
	}
	var out [4]float64
	for i := range out {
		if counts[i] == 0 {
			out[i] = math.NaN()
		} else {
			out[i] = sums[i] / float64(counts[i])
		}
	}
	return out[0], out[1], out[2], out[3]
}

func formatRate(v float64) string {
	if math.IsNaN(v) {
		return "nan"
	}
	return fmt.Sprintf("%.0f", math.Round(v))
}

// WriteCSV writes the year,N,S,E,W table for numYears years. The rate
// callback supplies a year's rates (ensemble average or a single run).
func WriteCSV(w io.Writer, rate func(year int) (n, s, e, w float64), numYears, startYear int) error {
	bw := bufio.NewWriter(w)
	if _, err := fmt.Fprintln(bw, "year,N,S,E,W"); err != nil {
		return err
	}
	for i := 0; i < numYears; i++ {
		n, s, e, west := rate(i)
		_, err := fmt.Fprintf(bw, "%d,%s,%s,%s,%s\n", startYear+i,
			formatRate(n), formatRate(s), formatRate(e), formatRate(west))
		if err != nil {
			return err
		}
	}
	return bw.Flush()
}
