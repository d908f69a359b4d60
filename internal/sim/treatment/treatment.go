// Package treatment keeps the year-keyed schedule of treatment intensity
// grids and applies them to host pools.
package treatment

import (
	"fmt"
	"math"

	"spreadsim.dev/internal/sim/raster"
)

// Application is the treatment application policy.
type Application int

const (
	// RatioToAll removes the treated fraction from both infected and
	// susceptible hosts.
	RatioToAll Application = iota
	// AllInfectedInCell removes every infected host in a treated cell,
	// regardless of the susceptible count; susceptible hosts are still
	// reduced by the treated fraction.
	AllInfectedInCell
)

func ApplicationFromString(s string) (Application, error) {
	switch s {
	case "ratio_to_all", "":
		return RatioToAll, nil
	case "all_infected_in_cell":
		return AllInfectedInCell, nil
	}
	return 0, fmt.Errorf("unknown treatment application %q", s)
}

// Schedule maps simulation year to a treatment intensity grid (0..1 per
// cell). It is owned by the engine loop and never touched concurrently
// with the parallel phase.
type Schedule struct {
	app  Application
	maps map[int]*raster.FGrid
}

func NewSchedule(app Application) *Schedule {
	return &Schedule{app: app, maps: make(map[int]*raster.FGrid)}
}

func (s *Schedule) Add(year int, g *raster.FGrid) {
	s.maps[year] = g
}

func (s *Schedule) HasYear(year int) bool {
	_, ok := s.maps[year]
	return ok
}

// ClearAfterYear drops every treatment scheduled strictly after year.
// Used when steering injects a new treatment mid-run.
func (s *Schedule) ClearAfterYear(year int) {
	for y := range s.maps {
		if y > year {
			delete(s.maps, y)
		}
	}
}

func removed(count int, intensity float64) int {
	return int(math.Round(float64(count) * intensity))
}

// ApplyToHost applies the treatment scheduled for year to the infected and
// susceptible pools. No-op when nothing is scheduled.
func (s *Schedule) ApplyToHost(year int, infected, susceptible *raster.Grid) {
	g, ok := s.maps[year]
	if !ok {
		return
	}
	for r := 0; r < infected.Rows; r++ {
		for c := 0; c < infected.Cols; c++ {
			t := g.At(r, c)
			if t == 0 {
				continue
			}
			if s.app == AllInfectedInCell {
				infected.Set(r, c, 0)
			} else {
				infected.Inc(r, c, -removed(infected.At(r, c), t))
			}
			susceptible.Inc(r, c, -removed(susceptible.At(r, c), t))
		}
	}
}

// ApplyToInfected applies the treatment scheduled for year to a single
// infected cohort grid.
func (s *Schedule) ApplyToInfected(year int, cohort *raster.Grid) {
	g, ok := s.maps[year]
	if !ok {
		return
	}
	for r := 0; r < cohort.Rows; r++ {
		for c := 0; c < cohort.Cols; c++ {
			t := g.At(r, c)
			if t == 0 {
				continue
			}
			if s.app == AllInfectedInCell {
				cohort.Set(r, c, 0)
			} else {
				cohort.Inc(r, c, -removed(cohort.At(r, c), t))
			}
		}
	}
}
