// Command spread runs the stochastic spatial spread simulation described
// by a yaml scenario file, optionally steered live over a websocket
// connection.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"spreadsim.dev/internal/persistence/indexdb"
	"spreadsim.dev/internal/persistence/snapshot"
	"spreadsim.dev/internal/sim/date"
	"spreadsim.dev/internal/sim/engine"
	"spreadsim.dev/internal/sim/kernel"
	"spreadsim.dev/internal/sim/raster"
	"spreadsim.dev/internal/sim/scenario"
	"spreadsim.dev/internal/sim/treatment"
	"spreadsim.dev/internal/sim/weather"
	"spreadsim.dev/internal/steering"
)

func main() {
	var (
		scenarioPath = flag.String("scenario", "", "yaml scenario file (required)")
		outDir       = flag.String("out", "out", "output directory for raster products")

		finalName   = flag.String("output", "infected", "name of the final average infected grid")
		seriesName  = flag.String("series", "", "basename of the per-year infected series")
		singleRun   = flag.Bool("single-series", false, "emit run 0 in the series instead of the ensemble average")
		stddevName  = flag.String("stddev-series", "", "basename of the per-year standard deviation series")
		probName    = flag.String("probability-series", "", "basename of the per-year infection probability series")
		deadName    = flag.String("dead-series", "", "basename of the accumulated dead series")
		rateCSV     = flag.String("spread-rate", "", "path of the year,N,S,E,W spread rate CSV")
		outsidePath = flag.String("outside-events", "", "path of the off-domain dispersal GeoJSON layer")

		runs         = flag.Int("runs", 1, "ensemble size")
		threads      = flag.Int("threads", 0, "worker pool size (0 = all cpus)")
		seed         = flag.Uint64("seed", 0, "rng seed")
		generateSeed = flag.Bool("generate-seed", false, "derive the seed from the clock instead of -seed")

		steerHost = flag.String("steering-host", "", "steering controller host")
		steerPort = flag.Int("steering-port", 0, "steering controller port")

		snapshotPath = flag.String("snapshot", "", "path of the year-boundary state snapshot")
		resumePath   = flag.String("resume", "", "snapshot file to resume from")
		dbPath       = flag.String("db", "", "path of the sqlite session index")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[spread] ", log.LstdFlags|log.Lmicroseconds)

	if *scenarioPath == "" {
		logger.Fatalf("-scenario is required")
	}
	seedSet := false
	flag.Visit(func(f *flag.Flag) {
		if f.Name == "seed" {
			seedSet = true
		}
	})
	switch {
	case *generateSeed && seedSet:
		logger.Fatalf("-seed and -generate-seed are mutually exclusive")
	case !*generateSeed && !seedSet:
		logger.Fatalf("either -seed or -generate-seed is required")
	case *generateSeed:
		*seed = uint64(time.Now().UnixNano())
		logger.Printf("generated seed %d", *seed)
	}
	if (*steerHost == "") != (*steerPort == 0) {
		logger.Fatalf("-steering-host and -steering-port must be given together")
	}

	sc, err := scenario.Load(*scenarioPath)
	if err != nil {
		logger.Fatalf("%v", err)
	}
	step, _ := date.ParseStep(sc.Step)

	host, hdr, err := raster.ReadASCII(sc.Rasters.Host)
	if err != nil {
		logger.Fatalf("host raster: %v", err)
	}
	total, _, err := raster.ReadASCII(sc.Rasters.TotalPlants)
	if err != nil {
		logger.Fatalf("total plants raster: %v", err)
	}
	infected, _, err := raster.ReadASCII(sc.Rasters.Infected)
	if err != nil {
		logger.Fatalf("infected raster: %v", err)
	}

	readFloat := func(name string) (*raster.FGrid, error) {
		g, _, err := raster.ReadASCIIFloat(name)
		return g, err
	}

	weatherSeries, err := loadWeather(sc, step, host.Rows, host.Cols, readFloat)
	if err != nil {
		logger.Fatalf("weather: %v", err)
	}

	var lethal *engine.LethalSeries
	if lc := sc.LethalTemperature; lc != nil {
		temps, err := weather.LoadSeries(lc.TemperatureFile, readFloat)
		if err != nil {
			logger.Fatalf("lethal temperature: %v", err)
		}
		lethal = &engine.LethalSeries{Value: lc.Value, Month: lc.Month, Temperatures: temps}
	}

	treatments, treatmentMonth, err := loadTreatments(sc, readFloat)
	if err != nil {
		logger.Fatalf("treatments: %v", err)
	}

	var mortality *engine.Mortality
	if mc := sc.Mortality; mc != nil {
		mortality = &engine.Mortality{Rate: mc.Rate, TimeLag: mc.TimeLag}
	}

	if err := os.MkdirAll(*outDir, 0o755); err != nil {
		logger.Fatalf("output directory: %v", err)
	}

	cfg := engine.Config{
		StartYear:        sc.StartYear,
		EndYear:          sc.EndYear,
		Step:             step,
		SeasonFrom:       sc.Seasonality.From,
		SeasonTo:         sc.Seasonality.To,
		ReproductiveRate: sc.ReproductiveRate,
		Runs:             *runs,
		Threads:          *threads,
		Seed:             *seed,
		Kernel:           buildKernel(sc, hdr, host.Rows, host.Cols, logger),
		Host:             host,
		TotalPlants:      total,
		Infected:         infected,
		Header:           hdr,
		Weather:          weatherSeries,
		Lethal:           lethal,
		Treatments:       treatments,
		TreatmentMonth:   treatmentMonth,
		Mortality:        mortality,
		ReadFGrid:        readFloat,
		SnapshotPath:     *snapshotPath,
		Outputs: engine.Outputs{
			Writer:            engine.ASCIIWriter{Dir: *outDir, Header: hdr},
			FinalName:         *finalName,
			SeriesName:        *seriesName,
			SingleSeries:      *singleRun,
			StdDevName:        *stddevName,
			ProbabilityName:   *probName,
			DeadName:          *deadName,
			SpreadRatePath:    *rateCSV,
			OutsideEventsPath: *outsidePath,
		},
	}

	if *dbPath != "" {
		idx, err := indexdb.Open(*dbPath, logger)
		if err != nil {
			logger.Fatalf("index db: %v", err)
		}
		defer idx.Close()
		if err := idx.StartSession(*seed, *runs, sc.StartYear, sc.EndYear, sc.Step); err != nil {
			logger.Fatalf("index db: %v", err)
		}
		cfg.Stats = idx
		cfg.SessionID = idx.SessionID()
	}

	if *steerHost != "" {
		queue := steering.NewQueue()
		url := fmt.Sprintf("ws://%s:%d/steering", *steerHost, *steerPort)
		client, err := steering.Dial(url, queue, logger)
		if err != nil {
			logger.Fatalf("steering: %v", err)
		}
		defer client.Close()
		cfg.Commands = queue
		cfg.Notify = client
	}

	if *resumePath != "" {
		snap, err := snapshot.Read(*resumePath)
		if err != nil {
			logger.Fatalf("resume: %v", err)
		}
		cfg.Resume = &snap
	}

	eng, err := engine.New(cfg, logger)
	if err != nil {
		logger.Fatalf("%v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := eng.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatalf("%v", err)
	}
	logger.Printf("done, products in %s", *outDir)
}

func stepsPerYear(step date.Step) int {
	if step == date.StepMonth {
		return 12
	}
	return 52
}

func loadWeather(sc scenario.Scenario, step date.Step, rows, cols int,
	read func(string) (*raster.FGrid, error)) ([]*raster.FGrid, error) {
	wc := sc.Weather
	if wc == nil {
		return nil, nil
	}
	switch {
	case wc.Synthetic != nil:
		steps := sc.NumYears() * stepsPerYear(step)
		return weather.Synthesize(rows, cols, steps, wc.Synthetic.Seed), nil
	case wc.CoefficientFile != "":
		return weather.LoadSeries(wc.CoefficientFile, read)
	case wc.MoistureFile != "" && wc.TemperatureFile != "":
		return weather.LoadMoistureTemperature(wc.MoistureFile, wc.TemperatureFile, read)
	}
	return nil, fmt.Errorf("weather block needs synthetic, coefficient_file, or moisture_file+temperature_file")
}

func loadTreatments(sc scenario.Scenario, read func(string) (*raster.FGrid, error)) (*treatment.Schedule, int, error) {
	tc := sc.Treatments
	if tc == nil || len(tc.Maps) == 0 {
		return nil, 0, nil
	}
	app, err := treatment.ApplicationFromString(tc.Application)
	if err != nil {
		return nil, 0, err
	}
	schedule := treatment.NewSchedule(app)
	for _, m := range tc.Maps {
		g, err := read(m.Raster)
		if err != nil {
			return nil, 0, fmt.Errorf("%s: %w", filepath.Base(m.Raster), err)
		}
		schedule.Add(m.Year, g)
	}
	return schedule, tc.Month, nil
}

func buildKernel(sc scenario.Scenario, hdr raster.Header, rows, cols int, logger *log.Logger) kernel.Kernel {
	for _, s := range []string{sc.NaturalKernel.Type, sc.AnthroKernel.Type,
		sc.NaturalKernel.Direction, sc.AnthroKernel.Direction} {
		if s == "NONE" {
			logger.Printf("scenario: value NONE is deprecated, use none")
		}
	}

	build := func(kc scenario.KernelConfig) kernel.Switch {
		typ, _ := kernel.TypeFromString(kc.Type)
		dir, _ := kernel.DirectionFromString(kc.Direction)
		radial := kernel.Radial{
			Typ:   typ,
			Scale: kc.Scale,
			Dir:   dir,
			Kappa: kc.Strength,
			EWRes: hdr.CellSize,
			NSRes: hdr.CellSize,
		}
		return kernel.NewSwitch(typ, radial, kernel.Uniform{Rows: rows, Cols: cols})
	}

	fraction := sc.PercentNaturalDispersal
	if !sc.UseAnthro() {
		fraction = 1
	}
	return kernel.New(build(sc.NaturalKernel), build(sc.AnthroKernel), sc.UseAnthro(), fraction)
}
