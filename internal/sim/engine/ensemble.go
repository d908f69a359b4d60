package engine

import (
	"fmt"
	"sync"

	"spreadsim.dev/internal/sim/raster"
	"spreadsim.dev/internal/sim/spreadrate"
)

// forEachRun applies f to every run on a pool bounded at cfg.Threads and
// joins before returning. Runs never observe each other during f.
func (e *Engine) forEachRun(f func(i int, run *RunState)) {
	sem := make(chan struct{}, e.cfg.Threads)
	var wg sync.WaitGroup
	for i, run := range e.runs {
		wg.Add(1)
		sem <- struct{}{}
		go func(i int, run *RunState) {
			defer wg.Done()
			f(i, run)
			<-sem
		}(i, run)
	}
	wg.Wait()
}

// resolveYear executes the pending chunk (a full year of steps) across the
// ensemble, then runs the year-boundary bookkeeping in order: mortality,
// spread rates, sync, checkpoint, outputs.
func (e *Engine) resolveYear() error {
	year := e.pending[0].d.Year
	yearIndex := year - e.cfg.StartYear

	// Fatal configuration checks deferred to the first year that needs
	// the data, before entering the parallel section.
	if l := e.cfg.Lethal; l != nil && yearIndex >= len(l.Temperatures) {
		return fmt.Errorf("lethal temperature series has %d years, year %d needs %d", len(l.Temperatures), year, yearIndex+1)
	}
	useWeather := len(e.cfg.Weather) > 0
	if useWeather {
		if need := e.pending[len(e.pending)-1].step; need >= len(e.cfg.Weather) {
			return fmt.Errorf("weather series has %d steps, need %d", len(e.cfg.Weather), need+1)
		}
	}

	e.runChunk(year, yearIndex, useWeather)
	e.runMortality(yearIndex)
	if e.trackers != nil {
		e.forEachRun(func(i int, run *RunState) {
			e.trackers[i].ComputeYearly(run.Infected, yearIndex)
		})
	}
	if e.syncPending {
		e.syncPending = false
		if err := e.syncRuns(yearIndex); err != nil {
			return err
		}
	}
	if err := e.store.write(yearIndex+1, e.runs, e.accumulatedDead, e.step, e.cur); err != nil {
		return err
	}
	if err := e.emitYearly(yearIndex, year); err != nil {
		return err
	}
	if e.cfg.SnapshotPath != "" {
		if err := e.writeSnapshot(); err != nil {
			return err
		}
	}
	return nil
}

// runChunk applies the ordered sub-year steps to every run in parallel.
// Lethal removal and treatment fire at most once per year, at their
// configured months; steps outside the season window skip generation and
// dispersal but still see removal and treatment.
func (e *Engine) runChunk(year, yearIndex int, useWeather bool) {
	pending := e.pending
	lethal := e.cfg.Lethal
	treatments := e.treatments
	mortality := e.cfg.Mortality

	e.forEachRun(func(_ int, run *RunState) {
		lethalDone := false
		treatmentDone := false
		for _, ps := range pending {
			m := ps.d.Month
			if lethal != nil && m == lethal.Month && !lethalDone {
				run.Sim.RemoveWithTemperature(run.Infected, run.Susceptible, lethal.Temperatures[yearIndex], lethal.Value)
				lethalDone = true
			}
			if treatments != nil && m == e.cfg.TreatmentMonth && !treatmentDone && treatments.HasYear(year) {
				treatments.ApplyToHost(year, run.Infected, run.Susceptible)
				if mortality != nil && yearIndex >= mortality.TimeLag-1 {
					// Dying cohorts are treated too so mortality
					// does not resurrect removed hosts.
					maxAge := yearIndex - (mortality.TimeLag - 1)
					for a := 0; a <= maxAge; a++ {
						treatments.ApplyToInfected(year, run.Cohorts[a])
					}
				}
				treatmentDone = true
			}
			if m < e.cfg.SeasonFrom || m > e.cfg.SeasonTo {
				continue
			}
			var coef *raster.FGrid
			if useWeather {
				coef = e.cfg.Weather[ps.step]
			}
			run.Sim.Generate(run.Infected, useWeather, coef, e.cfg.ReproductiveRate)
			run.Sim.Disperse(run.Susceptible, run.Infected, run.Cohorts[yearIndex], e.cfg.TotalPlants,
				&run.Outside, useWeather, coef, run.Kernel)
		}
	})
}

// runMortality removes the mortality fraction from every cohort old enough
// to die, accumulating the removals into each run's dead-this-year grid.
func (e *Engine) runMortality(yearIndex int) {
	m := e.cfg.Mortality
	if m == nil || yearIndex < m.TimeLag-1 {
		return
	}
	maxAge := yearIndex - (m.TimeLag - 1)
	rate := m.Rate

	e.forEachRun(func(_ int, run *RunState) {
		run.DeadInYear.Zero()
		for a := 0; a <= maxAge; a++ {
			dead := run.Cohorts[a].ScaledBy(rate)
			run.Cohorts[a].SubGrid(dead)
			run.DeadInYear.AddGrid(dead)
		}
		run.Infected.SubGrid(run.DeadInYear)
	})
	e.accumulatedDead.AddGrid(e.runs[0].DeadInYear)
}

// syncRuns collapses the ensemble onto run 0. From here on the spread-rate
// products report run 0 alone; the divergence the average would smooth
// over no longer exists.
func (e *Engine) syncRuns(yearIndex int) error {
	base := e.runs[0]
	for _, run := range e.runs[1:] {
		run.Susceptible.CopyFrom(base.Susceptible)
		run.Infected.CopyFrom(base.Infected)
		for y, c := range run.Cohorts {
			c.CopyFrom(base.Cohorts[y])
		}
	}
	e.useRun0Rate = true
	e.log.Printf("synchronized %d runs to run 0", len(e.runs))

	if e.trackers != nil && e.cfg.Outputs.SpreadRatePath != "" {
		if err := e.writeSpreadRateCSV(yearIndex + 1); err != nil {
			return err
		}
	}
	return nil
}

// yearlyRate is the rate emitted for a simulation year: run 0 after a
// sync, the NaN-skipping ensemble average otherwise.
func (e *Engine) yearlyRate(year int) (n, s, east, w float64) {
	if e.useRun0Rate {
		return e.trackers[0].YearlyRate(year)
	}
	return spreadrate.AverageRate(e.trackers, year)
}
