// Package weather provides the step-indexed weather coefficient series
// that modulates spore generation and establishment.
package weather

import (
	"bufio"
	"fmt"
	"os"

	opensimplex "github.com/ojrac/opensimplex-go"

	"spreadsim.dev/internal/sim/raster"
)

// ReadNames reads one raster name per line, the format of a coefficient
// list file.
func ReadNames(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var names []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		if line := sc.Text(); line != "" {
			names = append(names, line)
		}
	}
	return names, sc.Err()
}

// LoadSeries loads a coefficient grid per step from a list file.
func LoadSeries(listPath string, read func(name string) (*raster.FGrid, error)) ([]*raster.FGrid, error) {
	names, err := ReadNames(listPath)
	if err != nil {
		return nil, err
	}
	grids := make([]*raster.FGrid, 0, len(names))
	for _, name := range names {
		g, err := read(name)
		if err != nil {
			return nil, fmt.Errorf("weather coefficient %s: %w", name, err)
		}
		grids = append(grids, g)
	}
	return grids, nil
}

// LoadMoistureTemperature loads per-step moisture and temperature
// coefficient series and combines them into their product.
func LoadMoistureTemperature(moisturePath, temperaturePath string,
	read func(name string) (*raster.FGrid, error)) ([]*raster.FGrid, error) {
	moisture, err := LoadSeries(moisturePath, read)
	if err != nil {
		return nil, err
	}
	temperature, err := LoadSeries(temperaturePath, read)
	if err != nil {
		return nil, err
	}
	if len(moisture) != len(temperature) {
		return nil, fmt.Errorf("moisture series has %d steps, temperature %d", len(moisture), len(temperature))
	}
	for i, m := range moisture {
		m.MulFGrid(temperature[i])
	}
	return moisture, nil
}

// Synthesize generates a smoothly varying coefficient field in [0,1] per
// step from opensimplex noise. Useful when no measured series exists.
func Synthesize(rows, cols, steps int, seed int64) []*raster.FGrid {
	noise := opensimplex.NewNormalized(seed)
	const spatialFreq = 0.1
	const temporalFreq = 0.25

	out := make([]*raster.FGrid, steps)
	for t := 0; t < steps; t++ {
		g := raster.NewFGrid(rows, cols)
		for r := 0; r < rows; r++ {
			for c := 0; c < cols; c++ {
				g.Set(r, c, noise.Eval3(float64(c)*spatialFreq, float64(r)*spatialFreq, float64(t)*temporalFreq))
			}
		}
		out[t] = g
	}
	return out
}
