// Package model implements the per-run stochastic infection update:
// disperser generation, dispersal with establishment, and lethal
// temperature removal.
//
// Each run owns one Simulation seeded from the base seed plus the run
// index. The generator is a PCG so its state can be captured into
// checkpoints and snapshots, which makes rewind-and-replay reproduce the
// original draws exactly.
package model

import (
	"math"
	"math/rand/v2"

	"spreadsim.dev/internal/sim/kernel"
	"spreadsim.dev/internal/sim/raster"
)

// Event records a dispersal landing outside the modeled domain.
type Event struct {
	Row, Col int
}

type Simulation struct {
	pcg        *rand.PCG
	rng        *rand.Rand
	dispersers *raster.Grid
}

func New(seed uint64, rows, cols int) *Simulation {
	pcg := rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)
	return &Simulation{
		pcg:        pcg,
		rng:        rand.New(pcg),
		dispersers: raster.NewGrid(rows, cols),
	}
}

// RNG exposes the run generator; kernel draws share it so that one seed
// governs the whole run.
func (s *Simulation) RNG() *rand.Rand { return s.rng }

// RNGState serializes the generator for checkpoints.
func (s *Simulation) RNGState() ([]byte, error) {
	return s.pcg.MarshalBinary()
}

func (s *Simulation) SetRNGState(b []byte) error {
	return s.pcg.UnmarshalBinary(b)
}

// Generate draws the number of dispersers each infected cell produces this
// step: Poisson with mean rate (times the weather coefficient when
// present) per infected host.
func (s *Simulation) Generate(infected *raster.Grid, useWeather bool, coef *raster.FGrid, rate float64) {
	for r := 0; r < infected.Rows; r++ {
		for c := 0; c < infected.Cols; c++ {
			n := infected.At(r, c)
			if n <= 0 {
				s.dispersers.Set(r, c, 0)
				continue
			}
			lambda := rate
			if useWeather {
				lambda *= coef.At(r, c)
			}
			s.dispersers.Set(r, c, poisson(s.rng, lambda*float64(n)))
		}
	}
}

// Disperse places every generated disperser with the run's kernel. A
// landing outside the domain is logged to outside; a landing on a cell
// with susceptible hosts establishes with probability
// susceptible/total (times the weather coefficient when present),
// moving one host from susceptible to infected and into the current-year
// cohort.
func (s *Simulation) Disperse(susceptible, infected, cohort, total *raster.Grid,
	outside *[]Event, useWeather bool, coef *raster.FGrid, k kernel.Kernel) {
	for r := 0; r < infected.Rows; r++ {
		for c := 0; c < infected.Cols; c++ {
			n := s.dispersers.At(r, c)
			for i := 0; i < n; i++ {
				tr, tc := k.Draw(s.rng, r, c)
				if !susceptible.InBounds(tr, tc) {
					*outside = append(*outside, Event{Row: tr, Col: tc})
					continue
				}
				sus := susceptible.At(tr, tc)
				if sus <= 0 {
					continue
				}
				tot := total.At(tr, tc)
				if tot <= 0 {
					continue
				}
				prob := float64(sus) / float64(tot)
				if useWeather {
					prob *= coef.At(tr, tc)
				}
				if s.rng.Float64() < prob {
					infected.Inc(tr, tc, 1)
					susceptible.Inc(tr, tc, -1)
					cohort.Inc(tr, tc, 1)
				}
			}
		}
	}
}

// RemoveWithTemperature returns infected hosts to the susceptible pool in
// every cell whose temperature is below the lethal threshold.
func (s *Simulation) RemoveWithTemperature(infected, susceptible *raster.Grid,
	temperature *raster.FGrid, lethal float64) {
	for r := 0; r < infected.Rows; r++ {
		for c := 0; c < infected.Cols; c++ {
			if temperature.At(r, c) < lethal {
				n := infected.At(r, c)
				if n > 0 {
					susceptible.Inc(r, c, n)
					infected.Set(r, c, 0)
				}
			}
		}
	}
}

// poisson draws via Knuth's product method for small means and a clamped
// normal approximation for large ones (infected counts can push the mean
// into the hundreds).
func poisson(rng *rand.Rand, lambda float64) int {
	if lambda <= 0 {
		return 0
	}
	if lambda > 30 {
		v := math.Round(lambda + math.Sqrt(lambda)*rng.NormFloat64())
		if v < 0 {
			return 0
		}
		return int(v)
	}
	l := math.Exp(-lambda)
	k := 0
	p := 1.0
	for {
		p *= rng.Float64()
		if p <= l {
			return k
		}
		k++
	}
}
