package engine

import (
	"spreadsim.dev/internal/sim/kernel"
	"spreadsim.dev/internal/sim/model"
	"spreadsim.dev/internal/sim/raster"
	"spreadsim.dev/internal/sim/spreadrate"
)

// RunState is one ensemble member. It is owned by the parallel phase; the
// engine only touches it between joins.
type RunState struct {
	Susceptible *raster.Grid
	Infected    *raster.Grid

	// Cohorts groups infected hosts by the year they became infected,
	// one grid per simulated year. Index 0 is the first year's cohort.
	Cohorts []*raster.Grid

	Kernel kernel.Kernel
	Sim    *model.Simulation

	// Outside logs dispersal events that left the domain.
	Outside []model.Event

	// DeadInYear holds the hosts removed by mortality in the current
	// year; rewritten every year mortality runs.
	DeadInYear *raster.Grid
}

// newRunStates allocates the ensemble. The susceptible pool starts as the
// host grid minus the initial infections; each run gets its own generator
// seeded from the base seed plus the run index, and its own kernel copy.
func newRunStates(cfg Config, numYears int) []*RunState {
	rows, cols := cfg.Host.Rows, cfg.Host.Cols
	runs := make([]*RunState, cfg.Runs)
	for i := range runs {
		sus := cfg.Host.Clone()
		sus.SubGrid(cfg.Infected)
		sus.Apply(func(v int) int {
			if v < 0 {
				return 0
			}
			return v
		})
		cohorts := make([]*raster.Grid, numYears)
		for y := range cohorts {
			cohorts[y] = raster.NewGrid(rows, cols)
		}
		runs[i] = &RunState{
			Susceptible: sus,
			Infected:    cfg.Infected.Clone(),
			Cohorts:     cohorts,
			Kernel:      cfg.Kernel,
			Sim:         model.New(cfg.Seed+uint64(i), rows, cols),
			DeadInYear:  raster.NewGrid(rows, cols),
		}
	}
	return runs
}

func newSpreadTrackers(runs []*RunState, cellSize float64, numYears int) []*spreadrate.Tracker {
	trackers := make([]*spreadrate.Tracker, len(runs))
	for i, run := range runs {
		trackers[i] = spreadrate.New(run.Infected, cellSize, cellSize, numYears)
	}
	return trackers
}
