package engine

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"

	"spreadsim.dev/internal/persistence/snapshot"
	"spreadsim.dev/internal/sim/date"
	"spreadsim.dev/internal/sim/model"
	"spreadsim.dev/internal/sim/raster"
	"spreadsim.dev/internal/sim/spreadrate"
)

// GridWriter writes one raster product. The title and simulated date are
// metadata; whether they end up in the file is the writer's business.
type GridWriter interface {
	Write(name, title string, g *raster.Grid, d date.Date) error
}

// ASCIIWriter writes products as ESRI ASCII grids under Dir.
type ASCIIWriter struct {
	Dir    string
	Header raster.Header
}

func (w ASCIIWriter) Write(name, _ string, g *raster.Grid, _ date.Date) error {
	return raster.WriteASCII(filepath.Join(w.Dir, name+".asc"), g, w.Header)
}

// Outputs names the configured products; an empty name disables one.
type Outputs struct {
	Writer GridWriter

	// FinalName is the average infected grid written once at the end.
	FinalName string

	// SeriesName is the per-year infected series basename; steering can
	// override it mid-run. SingleSeries emits run 0 instead of the
	// ensemble average.
	SeriesName   string
	SingleSeries bool

	StdDevName      string
	ProbabilityName string
	DeadName        string

	SpreadRatePath    string
	OutsideEventsPath string
}

func (o Outputs) anyGrid() bool {
	return o.FinalName != "" || o.SeriesName != "" || o.StdDevName != "" ||
		o.ProbabilityName != "" || o.DeadName != ""
}

func seriesName(base string, d date.Date) string {
	return fmt.Sprintf("%s_%04d_%02d_%02d", base, d.Year, d.Month, d.Day)
}

// emitYearly writes the configured per-year products for the year that
// just resolved, notifies the steering controller about each, and records
// the year in the index.
func (e *Engine) emitYearly(yearIndex, year int) error {
	out := e.cfg.Outputs
	d := e.cur.LastDayOfStep(e.cfg.Step)

	avg := e.averageInfected()

	if e.baseName != "" {
		g := avg
		if out.SingleSeries {
			g = e.runs[0].Infected.Clone()
		}
		if err := e.emitGrid(seriesName(e.baseName, d), "average infected hosts", g, d); err != nil {
			return err
		}
	}
	if out.StdDevName != "" {
		if err := e.emitGrid(seriesName(out.StdDevName, d), "infected standard deviation", e.stdDevInfected(), d); err != nil {
			return err
		}
	}
	if out.ProbabilityName != "" {
		if err := e.emitGrid(seriesName(out.ProbabilityName, d), "probability of infection", e.probabilityInfected(), d); err != nil {
			return err
		}
	}
	if out.DeadName != "" && e.cfg.Mortality != nil {
		if err := e.emitGrid(seriesName(out.DeadName, d), "accumulated dead hosts", e.accumulatedDead.Clone(), d); err != nil {
			return err
		}
	}

	if e.cfg.Stats != nil {
		rn, rs, re, rw := math.NaN(), math.NaN(), math.NaN(), math.NaN()
		if e.trackers != nil {
			rn, rs, re, rw = e.yearlyRate(yearIndex)
		}
		e.cfg.Stats.RecordYear(year, avg.Sum(), rn, rs, re, rw)
	}
	return nil
}

func (e *Engine) emitGrid(name, title string, g *raster.Grid, d date.Date) error {
	if err := e.cfg.Outputs.Writer.Write(name, title, g, d); err != nil {
		return fmt.Errorf("output %s: %w", name, err)
	}
	e.lastOutput = name
	e.notify("output:" + name + "|")
	if e.cfg.Stats != nil {
		e.cfg.Stats.RecordOutput(name, d.String())
	}
	return nil
}

func (e *Engine) averageInfected() *raster.Grid {
	sum := raster.NewGrid(e.cfg.Host.Rows, e.cfg.Host.Cols)
	for _, run := range e.runs {
		sum.AddGrid(run.Infected)
	}
	sum.DivScalar(len(e.runs))
	return sum
}

func (e *Engine) stdDevInfected() *raster.Grid {
	rows, cols := e.cfg.Host.Rows, e.cfg.Host.Cols
	g := raster.NewGrid(rows, cols)
	n := float64(len(e.runs))
	for i := range g.Cells {
		var sum float64
		for _, run := range e.runs {
			sum += float64(run.Infected.Cells[i])
		}
		mean := sum / n
		var sq float64
		for _, run := range e.runs {
			dv := float64(run.Infected.Cells[i]) - mean
			sq += dv * dv
		}
		g.Cells[i] = int(math.Round(math.Sqrt(sq / n)))
	}
	return g
}

// probabilityInfected is the percentage of runs with any infection per
// cell, 0 to 100.
func (e *Engine) probabilityInfected() *raster.Grid {
	g := raster.NewGrid(e.cfg.Host.Rows, e.cfg.Host.Cols)
	for _, run := range e.runs {
		for i, v := range run.Infected.Cells {
			if v > 0 {
				g.Cells[i]++
			}
		}
	}
	g.Apply(func(v int) int { return v * 100 / len(e.runs) })
	return g
}

// finalize writes the end-of-run products: the final average grid, the
// spread-rate CSV for every completed year, and the outside-events layer.
func (e *Engine) finalize() error {
	out := e.cfg.Outputs
	d := e.cur.LastDayOfStep(e.cfg.Step)

	if out.FinalName != "" {
		if err := e.emitGrid(out.FinalName, "average infected hosts", e.averageInfected(), d); err != nil {
			return err
		}
	}
	if e.trackers != nil && out.SpreadRatePath != "" && e.store.last > 0 {
		if err := e.writeSpreadRateCSV(e.store.last); err != nil {
			return err
		}
	}
	if out.OutsideEventsPath != "" {
		if err := e.writeOutsideEvents(out.OutsideEventsPath); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) writeSpreadRateCSV(numYears int) error {
	f, err := os.Create(e.cfg.Outputs.SpreadRatePath)
	if err != nil {
		return err
	}
	defer f.Close()
	rate := func(year int) (float64, float64, float64, float64) {
		return e.yearlyRate(year)
	}
	if err := spreadrate.WriteCSV(f, rate, numYears, e.cfg.StartYear); err != nil {
		return fmt.Errorf("spread rate csv: %w", err)
	}
	return nil
}

// writeOutsideEvents writes the off-domain dispersal events of every run
// as a GeoJSON point layer, each point tagged with its run index and cell
// coordinates. Cell centers are georeferenced from the grid header.
func (e *Engine) writeOutsideEvents(path string) error {
	type geometry struct {
		Type        string     `json:"type"`
		Coordinates [2]float64 `json:"coordinates"`
	}
	type feature struct {
		Type       string         `json:"type"`
		Geometry   geometry       `json:"geometry"`
		Properties map[string]int `json:"properties"`
	}

	hdr := e.cfg.Header
	north := hdr.North(e.cfg.Host.Rows)
	features := make([]feature, 0)
	for i, run := range e.runs {
		for _, ev := range run.Outside {
			features = append(features, feature{
				Type: "Feature",
				Geometry: geometry{
					Type: "Point",
					Coordinates: [2]float64{
						hdr.XLL + (float64(ev.Col)+0.5)*hdr.CellSize,
						north - (float64(ev.Row)+0.5)*hdr.CellSize,
					},
				},
				Properties: map[string]int{"run": i, "row": ev.Row, "col": ev.Col},
			})
		}
	}

	doc := struct {
		Type     string    `json:"type"`
		Features []feature `json:"features"`
	}{Type: "FeatureCollection", Features: features}

	raw, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, raw, 0o644)
}

// writeSnapshot persists the full engine state at the year boundary just
// resolved, overwriting the previous boundary's file.
func (e *Engine) writeSnapshot() error {
	snap := snapshot.SnapshotV1{
		Header: snapshot.Header{
			Version:   1,
			SessionID: e.cfg.SessionID,
			Year:      e.cur.Year,
			Month:     e.cur.Month,
			Day:       e.cur.Day,
			Step:      e.step,
		},
		StartYear:       e.cfg.StartYear,
		EndYear:         e.cfg.EndYear,
		StepKind:        e.cfg.Step.String(),
		Seed:            e.cfg.Seed,
		Rows:            e.cfg.Host.Rows,
		Cols:            e.cfg.Host.Cols,
		LastCheckpoint:  e.store.last,
		Runs:            make([]snapshot.RunV1, len(e.runs)),
		AccumulatedDead: append([]int(nil), e.accumulatedDead.Cells...),
	}
	for i, run := range e.runs {
		state, err := run.Sim.RNGState()
		if err != nil {
			return fmt.Errorf("snapshot: %w", err)
		}
		cohorts := make([][]int, len(run.Cohorts))
		for y, c := range run.Cohorts {
			cohorts[y] = append([]int(nil), c.Cells...)
		}
		outside := make([][2]int, len(run.Outside))
		for j, ev := range run.Outside {
			outside[j] = [2]int{ev.Row, ev.Col}
		}
		snap.Runs[i] = snapshot.RunV1{
			Susceptible: append([]int(nil), run.Susceptible.Cells...),
			Infected:    append([]int(nil), run.Infected.Cells...),
			Cohorts:     cohorts,
			RNGState:    state,
			Outside:     outside,
		}
	}
	if err := snapshot.Write(e.cfg.SnapshotPath, snap); err != nil {
		return fmt.Errorf("snapshot: %w", err)
	}
	return nil
}

// restoreSnapshot resumes the engine from a snapshot written by an earlier
// process. The restored boundary behaves like a checkpoint restore: the
// step after it is the replay skip.
func (e *Engine) restoreSnapshot(snap snapshot.SnapshotV1) error {
	if snap.Rows != e.cfg.Host.Rows || snap.Cols != e.cfg.Host.Cols {
		return fmt.Errorf("snapshot is %dx%d, grids are %dx%d", snap.Rows, snap.Cols, e.cfg.Host.Rows, e.cfg.Host.Cols)
	}
	if snap.StartYear != e.cfg.StartYear || snap.EndYear != e.cfg.EndYear {
		return fmt.Errorf("snapshot horizon %d-%d differs from %d-%d", snap.StartYear, snap.EndYear, e.cfg.StartYear, e.cfg.EndYear)
	}
	if snap.StepKind != e.cfg.Step.String() {
		return fmt.Errorf("snapshot step %s differs from %s", snap.StepKind, e.cfg.Step)
	}
	if len(snap.Runs) != len(e.runs) {
		return fmt.Errorf("snapshot has %d runs, engine has %d", len(snap.Runs), len(e.runs))
	}

	for i, run := range e.runs {
		sr := snap.Runs[i]
		copy(run.Susceptible.Cells, sr.Susceptible)
		copy(run.Infected.Cells, sr.Infected)
		for y, c := range run.Cohorts {
			copy(c.Cells, sr.Cohorts[y])
		}
		if err := run.Sim.SetRNGState(sr.RNGState); err != nil {
			return err
		}
		run.Outside = run.Outside[:0]
		for _, ev := range sr.Outside {
			run.Outside = append(run.Outside, model.Event{Row: ev[0], Col: ev[1]})
		}
	}
	copy(e.accumulatedDead.Cells, snap.AccumulatedDead)
	e.cur = date.New(snap.Header.Year, snap.Header.Month, snap.Header.Day)
	e.step = snap.Header.Step
	e.afterRestore = snap.LastCheckpoint > 0

	// Earlier checkpoint slots are gone with the old process; re-seed
	// the frontier slot so a StepBack from here has somewhere to land.
	if err := e.store.write(snap.LastCheckpoint, e.runs, e.accumulatedDead, e.step, e.cur); err != nil {
		return err
	}
	e.log.Printf("resumed at %s (checkpoint %d)", e.cur, snap.LastCheckpoint)
	return nil
}
