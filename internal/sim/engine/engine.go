// Package engine drives the simulation: it owns the clock and the
// checkpoint store, accumulates sub-year steps into year chunks, fans the
// resolved chunk across the ensemble, and reacts to steering commands.
//
// The loop is single-threaded. The only concurrency is the bounded worker
// pool that executes per-run phases between loop iterations and the
// steering reader goroutine feeding the command queue. Everything that
// touches shared state (checkpoints, outputs, sync) happens strictly
// between completed parallel phases.
package engine

import (
	"context"
	"fmt"
	"log"
	"runtime"
	"time"

	"spreadsim.dev/internal/persistence/indexdb"
	"spreadsim.dev/internal/persistence/snapshot"
	"spreadsim.dev/internal/sim/date"
	"spreadsim.dev/internal/sim/kernel"
	"spreadsim.dev/internal/sim/raster"
	"spreadsim.dev/internal/sim/spreadrate"
	"spreadsim.dev/internal/sim/treatment"
	"spreadsim.dev/internal/steering"
)

// pauseIdle is how long the loop sleeps when the clock has caught up with
// the advance-until boundary.
const pauseIdle = 100 * time.Millisecond

// Notifier delivers outbound steering notifications. Nil disables them.
type Notifier interface {
	Send(text string) error
}

// LethalSeries configures the yearly lethal temperature removal: one
// temperature grid per simulated year, applied once per year at Month.
type LethalSeries struct {
	Value        float64
	Month        int
	Temperatures []*raster.FGrid
}

// Mortality configures cohort mortality. TimeLag is the first year of life
// (1-based) in which an infection cohort starts dying.
type Mortality struct {
	Rate    float64
	TimeLag int
}

type Config struct {
	StartYear int
	EndYear   int
	Step      date.Step

	SeasonFrom int
	SeasonTo   int

	ReproductiveRate float64

	Runs    int
	Threads int
	Seed    uint64

	Kernel kernel.Kernel

	Host        *raster.Grid
	TotalPlants *raster.Grid
	Infected    *raster.Grid
	Header      raster.Header

	// Weather is the step-indexed coefficient series; empty disables
	// weather modulation.
	Weather []*raster.FGrid

	Lethal         *LethalSeries
	Treatments     *treatment.Schedule
	TreatmentMonth int

	Mortality *Mortality

	Outputs Outputs

	// ReadFGrid loads a float raster for steering-injected treatments.
	ReadFGrid func(path string) (*raster.FGrid, error)

	// Commands makes the engine steerable; nil runs start-to-end.
	Commands *steering.Queue
	Notify   Notifier
	Stats    *indexdb.Index

	SessionID    string
	SnapshotPath string
	Resume       *snapshot.SnapshotV1
}

type pendingStep struct {
	d    date.Date
	step int
}

type Engine struct {
	cfg Config
	log *log.Logger

	runs     []*RunState
	store    *checkpointStore
	trackers []*spreadrate.Tracker

	treatments *treatment.Schedule

	cur   date.Date
	until date.Date
	step  int

	pending []pendingStep

	baseName   string
	lastOutput string

	accumulatedDead *raster.Grid

	afterRestore bool
	syncPending  bool
	useRun0Rate  bool
	stopped      bool
	done         bool
}

func New(cfg Config, logger *log.Logger) (*Engine, error) {
	if cfg.Host == nil || cfg.TotalPlants == nil || cfg.Infected == nil {
		return nil, fmt.Errorf("host, total plants and infected grids are required")
	}
	rows, cols := cfg.Host.Rows, cfg.Host.Cols
	for _, g := range []*raster.Grid{cfg.TotalPlants, cfg.Infected} {
		if g.Rows != rows || g.Cols != cols {
			return nil, fmt.Errorf("grid dimensions differ: %dx%d vs %dx%d", rows, cols, g.Rows, g.Cols)
		}
	}
	if cfg.StartYear > cfg.EndYear {
		return nil, fmt.Errorf("start year %d after end year %d", cfg.StartYear, cfg.EndYear)
	}
	if cfg.Runs < 1 {
		cfg.Runs = 1
	}
	if cfg.Threads < 1 {
		cfg.Threads = runtime.GOMAXPROCS(0)
	}
	if cfg.SeasonFrom == 0 && cfg.SeasonTo == 0 {
		cfg.SeasonFrom, cfg.SeasonTo = 1, 12
	}
	numYears := cfg.EndYear - cfg.StartYear + 1
	if m := cfg.Mortality; m != nil {
		if m.TimeLag < 1 || m.TimeLag > numYears {
			return nil, fmt.Errorf("mortality time lag %d outside 1..%d", m.TimeLag, numYears)
		}
	}
	// December default so a treatment injected over steering applies
	// even when the scenario configured none.
	if cfg.TreatmentMonth == 0 {
		cfg.TreatmentMonth = 12
	}
	if cfg.Outputs.anyGrid() && cfg.Outputs.Writer == nil {
		return nil, fmt.Errorf("grid outputs configured without a writer")
	}

	e := &Engine{
		cfg:             cfg,
		log:             logger,
		runs:            newRunStates(cfg, numYears),
		store:           newCheckpointStore(numYears),
		treatments:      cfg.Treatments,
		cur:             date.New(cfg.StartYear, 1, 1),
		baseName:        cfg.Outputs.SeriesName,
		accumulatedDead: raster.NewGrid(rows, cols),
	}
	if cfg.Outputs.SpreadRatePath != "" {
		e.trackers = newSpreadTrackers(e.runs, cfg.Header.CellSize, numYears)
	}
	if err := e.store.write(0, e.runs, e.accumulatedDead, 0, e.cur); err != nil {
		return nil, err
	}
	if cfg.Resume != nil {
		if err := e.restoreSnapshot(*cfg.Resume); err != nil {
			return nil, fmt.Errorf("resume: %w", err)
		}
	}
	if cfg.Commands != nil {
		// Steered runs start paused and wait for play.
		e.until = e.cur
	} else {
		e.until = e.endDate()
	}
	return e, nil
}

func (e *Engine) endDate() date.Date {
	return date.New(e.cfg.EndYear, 12, 31)
}

// Run executes the main loop until the horizon is reached, a Stop command
// arrives, or the context is cancelled.
func (e *Engine) Run(ctx context.Context) error {
	e.log.Printf("simulation %d-%d, %s steps, %d runs, %d threads, seed %d",
		e.cfg.StartYear, e.cfg.EndYear, e.cfg.Step, e.cfg.Runs, e.cfg.Threads, e.cfg.Seed)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if e.cfg.Commands != nil {
			if req := e.cfg.Commands.Poll(); req.Cmd != steering.None {
				e.handleCommand(req)
			}
		}
		if e.stopped {
			break
		}

		// Advance only while the boundary is strictly ahead; a steered
		// run therefore starts idle until the first play.
		if !e.until.After(e.cur) {
			if e.cfg.Commands == nil {
				break
			}
			time.Sleep(pauseIdle)
			continue
		}

		if err := e.advanceOnce(); err != nil {
			return err
		}

		if e.cur.Year > e.cfg.EndYear && !e.done {
			e.done = true
			if err := e.finalize(); err != nil {
				return err
			}
			if e.cfg.Commands == nil {
				return nil
			}
			// Under live steering the run idles at the end for
			// further commands (a rewind can resume it).
			e.notify("info:last:" + e.lastOutput)
		}
	}
	if !e.done {
		return e.finalize()
	}
	return nil
}

// advanceOnce moves the clock forward by one step, resolving the pending
// chunk when the step closes a year. The step immediately after a restore
// is skipped entirely: the restored state already contains that year's
// resolution, and its outputs were emitted on the first pass.
func (e *Engine) advanceOnce() error {
	if e.afterRestore {
		e.afterRestore = false
		e.cur = e.cur.Next(e.cfg.Step)
		return nil
	}

	if e.hostsExhausted() {
		e.log.Printf("all susceptible hosts are infected, stopping at %s", e.cur)
		e.stopped = true
		return nil
	}

	e.pending = append(e.pending, pendingStep{d: e.cur, step: e.step})
	e.step++

	if e.cur.IsLastStepOfYear(e.cfg.Step) {
		if err := e.resolveYear(); err != nil {
			return err
		}
		e.pending = e.pending[:0]
	}
	e.cur = e.cur.Next(e.cfg.Step)
	return nil
}

func (e *Engine) hostsExhausted() bool {
	for _, run := range e.runs {
		if !run.Susceptible.AllZero() {
			return false
		}
	}
	return true
}

func (e *Engine) handleCommand(req steering.Request) {
	e.log.Printf("steering: %s", req.Cmd)
	switch req.Cmd {
	case steering.Play:
		e.until = e.endDate()
	case steering.Pause:
		e.until = e.cur
	case steering.StepForward:
		t := e.cur.NextYearEnd()
		if t.After(e.endDate()) {
			t = e.endDate()
		}
		e.until = t
	case steering.StepBack:
		if e.store.last == 0 {
			e.log.Printf("steering: already at the initial state")
			return
		}
		e.restore(e.store.last - 1)
	case steering.GoTo:
		idx := req.Year - e.cfg.StartYear + 1
		switch {
		case idx < 0 || req.Year > e.cfg.EndYear:
			e.log.Printf("steering: goto year %d outside %d-%d", req.Year, e.cfg.StartYear, e.cfg.EndYear)
		case idx <= e.store.last:
			e.restore(idx)
		default:
			e.until = date.New(req.Year, 12, 31)
		}
	case steering.Stop:
		e.stopped = true
	case steering.LoadData:
		e.loadTreatment(req.Year, req.Path)
	case steering.ChangeName:
		e.baseName = req.Name
	case steering.SyncRuns:
		e.syncPending = true
	}
}

// restore rewinds to checkpoint slot idx and pauses there. Slot 0 is the
// pre-simulation state, whose first step must actually run; every other
// slot holds an already-resolved year, so the replay skip is armed.
func (e *Engine) restore(idx int) {
	step, d, err := e.store.restore(idx, e.runs, e.accumulatedDead)
	if err != nil {
		e.log.Printf("steering: restore slot %d: %v", idx, err)
		return
	}
	e.step, e.cur = step, d
	e.pending = e.pending[:0]
	e.afterRestore = idx > 0
	e.done = false
	e.until = e.cur
	e.log.Printf("restored to %s (checkpoint %d)", d, idx)
}

// loadTreatment replaces the scheduled future treatments with one injected
// over the steering channel. Failures are logged and dropped; the run
// keeps going with the schedule it had.
func (e *Engine) loadTreatment(year int, path string) {
	if e.cfg.ReadFGrid == nil {
		e.log.Printf("steering: no raster reader configured, ignoring load of %s", path)
		return
	}
	g, err := e.cfg.ReadFGrid(path)
	if err != nil {
		e.log.Printf("steering: load treatment %s: %v", path, err)
		return
	}
	if g.Rows != e.cfg.Host.Rows || g.Cols != e.cfg.Host.Cols {
		e.log.Printf("steering: treatment %s has wrong dimensions %dx%d", path, g.Rows, g.Cols)
		return
	}
	if e.treatments == nil {
		e.treatments = treatment.NewSchedule(treatment.RatioToAll)
	}
	e.treatments.ClearAfterYear(year)
	e.treatments.Add(year, g)
	e.log.Printf("steering: treatment for year %d loaded from %s", year, path)
}

func (e *Engine) notify(text string) {
	if e.cfg.Notify == nil {
		return
	}
	if err := e.cfg.Notify.Send(text); err != nil {
		e.log.Printf("steering: send: %v", err)
	}
}
