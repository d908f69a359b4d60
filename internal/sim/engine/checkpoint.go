package engine

import (
	"fmt"

	"spreadsim.dev/internal/sim/date"
	"spreadsim.dev/internal/sim/raster"
)

// checkpointRun is one run's share of a checkpoint: deep copies of the
// grids, the cohort array, the serialized generator state, and the length
// of the outside-event log at capture time.
type checkpointRun struct {
	susceptible *raster.Grid
	infected    *raster.Grid
	cohorts     []*raster.Grid
	rngState    []byte
	outsideLen  int
}

type checkpointSlot struct {
	runs []checkpointRun
	dead *raster.Grid
	step int
	d    date.Date
}

// checkpointStore holds one slot per simulated year boundary plus slot 0
// for the initial state. Slot i is the exact state year i starts from:
// everything the year boundary did to the grids (mortality, sync) is
// already in it, which is what makes a rewind-and-replay reproduce the
// first pass bitwise.
type checkpointStore struct {
	slots []*checkpointSlot
	last  int
}

func newCheckpointStore(numYears int) *checkpointStore {
	return &checkpointStore{slots: make([]*checkpointSlot, numYears+1)}
}

// write captures the current state into slot idx and makes it the
// frontier. Re-advancing after a rewind overwrites the slots it passes.
func (s *checkpointStore) write(idx int, runs []*RunState, dead *raster.Grid, step int, d date.Date) error {
	slot := &checkpointSlot{
		runs: make([]checkpointRun, len(runs)),
		dead: dead.Clone(),
		step: step,
		d:    d,
	}
	for i, run := range runs {
		state, err := run.Sim.RNGState()
		if err != nil {
			return fmt.Errorf("checkpoint %d: %w", idx, err)
		}
		cohorts := make([]*raster.Grid, len(run.Cohorts))
		for y, c := range run.Cohorts {
			cohorts[y] = c.Clone()
		}
		slot.runs[i] = checkpointRun{
			susceptible: run.Susceptible.Clone(),
			infected:    run.Infected.Clone(),
			cohorts:     cohorts,
			rngState:    state,
			outsideLen:  len(run.Outside),
		}
	}
	s.slots[idx] = slot
	s.last = idx
	return nil
}

// restore copies slot idx back into the runs and returns the stored step
// counter and date. The outside-event log is truncated to its capture
// length so a replay does not log the same events twice.
func (s *checkpointStore) restore(idx int, runs []*RunState, dead *raster.Grid) (int, date.Date, error) {
	if idx < 0 || idx >= len(s.slots) || s.slots[idx] == nil {
		return 0, date.Date{}, fmt.Errorf("no checkpoint in slot %d", idx)
	}
	slot := s.slots[idx]
	for i, run := range runs {
		cp := slot.runs[i]
		run.Susceptible.CopyFrom(cp.susceptible)
		run.Infected.CopyFrom(cp.infected)
		for y, c := range run.Cohorts {
			c.CopyFrom(cp.cohorts[y])
		}
		if err := run.Sim.SetRNGState(cp.rngState); err != nil {
			return 0, date.Date{}, fmt.Errorf("checkpoint %d: %w", idx, err)
		}
		run.Outside = run.Outside[:cp.outsideLen]
	}
	dead.CopyFrom(slot.dead)
	s.last = idx
	return slot.step, slot.d, nil
}
