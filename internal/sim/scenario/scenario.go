// Package scenario loads and validates the yaml scenario file describing
// one simulation: time horizon, kernels, weather, treatments, mortality
// and input rasters.
//
// Loading is two-phase: the decoded document is first validated against an
// embedded JSON schema (shape and enums), then cross-field rules that a
// schema cannot express are checked in Validate.
package scenario

import (
	_ "embed"
	"fmt"
	"os"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"

	"spreadsim.dev/internal/sim/date"
	"spreadsim.dev/internal/sim/kernel"
	"spreadsim.dev/internal/sim/treatment"
)

//go:embed scenario.schema.json
var schemaJSON string

var schema = jsonschema.MustCompileString("scenario.schema.json", schemaJSON)

type Season struct {
	From int `yaml:"from"`
	To   int `yaml:"to"`
}

func (s Season) Contains(month int) bool {
	return month >= s.From && month <= s.To
}

type KernelConfig struct {
	Type      string  `yaml:"type"`
	Scale     float64 `yaml:"scale"`
	Direction string  `yaml:"direction"`
	Strength  float64 `yaml:"strength"`
}

type RasterConfig struct {
	Host        string `yaml:"host"`
	TotalPlants string `yaml:"total_plants"`
	Infected    string `yaml:"infected"`
}

type WeatherConfig struct {
	CoefficientFile string `yaml:"coefficient_file"`
	MoistureFile    string `yaml:"moisture_file"`
	TemperatureFile string `yaml:"temperature_file"`

	Synthetic *SyntheticWeather `yaml:"synthetic"`
}

type SyntheticWeather struct {
	Seed int64 `yaml:"seed"`
}

type LethalConfig struct {
	Value           float64 `yaml:"value"`
	Month           int     `yaml:"month"`
	TemperatureFile string  `yaml:"temperature_file"`
}

type TreatmentMap struct {
	Year   int    `yaml:"year"`
	Raster string `yaml:"raster"`
}

type TreatmentConfig struct {
	Month       int            `yaml:"month"`
	Application string         `yaml:"application"`
	Maps        []TreatmentMap `yaml:"maps"`
}

type MortalityConfig struct {
	Rate    float64 `yaml:"rate"`
	TimeLag int     `yaml:"time_lag"`
}

type Scenario struct {
	StartYear int    `yaml:"start_year"`
	EndYear   int    `yaml:"end_year"`
	Step      string `yaml:"step"`

	Seasonality      Season  `yaml:"seasonality"`
	ReproductiveRate float64 `yaml:"reproductive_rate"`

	NaturalKernel           KernelConfig `yaml:"natural_kernel"`
	AnthroKernel            KernelConfig `yaml:"anthropogenic_kernel"`
	PercentNaturalDispersal float64      `yaml:"percent_natural_dispersal"`

	Rasters RasterConfig `yaml:"rasters"`

	Weather           *WeatherConfig   `yaml:"weather"`
	LethalTemperature *LethalConfig    `yaml:"lethal_temperature"`
	Treatments        *TreatmentConfig `yaml:"treatments"`
	Mortality         *MortalityConfig `yaml:"mortality"`
}

func (s Scenario) NumYears() int {
	return s.EndYear - s.StartYear + 1
}

// UseAnthro reports whether an anthropogenic kernel type is configured.
func (s Scenario) UseAnthro() bool {
	t, err := kernel.TypeFromString(s.AnthroKernel.Type)
	return err == nil && t != kernel.TypeNone
}

func Load(path string) (Scenario, error) {
	var s Scenario
	raw, err := os.ReadFile(path)
	if err != nil {
		return s, err
	}

	// Schema pass on the generic document.
	var doc any
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return s, fmt.Errorf("scenario %s: %w", path, err)
	}
	if err := schema.Validate(doc); err != nil {
		return s, fmt.Errorf("scenario %s: %w", path, err)
	}

	if err := yaml.Unmarshal(raw, &s); err != nil {
		return s, fmt.Errorf("scenario %s: %w", path, err)
	}
	if err := s.Validate(); err != nil {
		return s, fmt.Errorf("scenario %s: %w", path, err)
	}
	return s, nil
}

// Validate applies the cross-field rules. Temperature series length is
// deliberately not checked here; the engine validates it in the first year
// that needs it.
func (s Scenario) Validate() error {
	if s.StartYear > s.EndYear {
		return fmt.Errorf("start year %d after end year %d", s.StartYear, s.EndYear)
	}
	if _, err := date.ParseStep(s.Step); err != nil {
		return err
	}
	if s.Seasonality.From < 1 || s.Seasonality.To > 12 || s.Seasonality.From > s.Seasonality.To {
		return fmt.Errorf("invalid season window %d..%d", s.Seasonality.From, s.Seasonality.To)
	}
	if s.ReproductiveRate < 0 {
		return fmt.Errorf("negative reproductive rate %g", s.ReproductiveRate)
	}

	if _, err := kernel.TypeFromString(s.NaturalKernel.Type); err != nil {
		return fmt.Errorf("natural kernel: %w", err)
	}
	if _, err := kernel.DirectionFromString(s.NaturalKernel.Direction); err != nil {
		return fmt.Errorf("natural kernel: %w", err)
	}
	if _, err := kernel.DirectionFromString(s.AnthroKernel.Direction); err != nil {
		return fmt.Errorf("anthropogenic kernel: %w", err)
	}
	if s.UseAnthro() {
		if s.AnthroKernel.Scale <= 0 {
			return fmt.Errorf("anthropogenic kernel %s requires a scale", s.AnthroKernel.Type)
		}
		if s.PercentNaturalDispersal <= 0 || s.PercentNaturalDispersal > 1 {
			return fmt.Errorf("anthropogenic kernel %s requires percent_natural_dispersal in (0,1]", s.AnthroKernel.Type)
		}
	}

	if s.Treatments != nil {
		if _, err := treatment.ApplicationFromString(s.Treatments.Application); err != nil {
			return err
		}
		if len(s.Treatments.Maps) > 0 && (s.Treatments.Month < 1 || s.Treatments.Month > 12) {
			return fmt.Errorf("invalid treatment month %d", s.Treatments.Month)
		}
		seen := make(map[int]bool)
		for _, m := range s.Treatments.Maps {
			if seen[m.Year] {
				return fmt.Errorf("duplicate treatment year %d", m.Year)
			}
			seen[m.Year] = true
		}
	}

	if s.Mortality != nil {
		if s.Mortality.Rate < 0 || s.Mortality.Rate > 1 {
			return fmt.Errorf("mortality rate %g outside [0,1]", s.Mortality.Rate)
		}
		lag := s.Mortality.TimeLag
		if lag < 1 {
			return fmt.Errorf("mortality time lag %d must be at least 1", lag)
		}
		if lag > s.NumYears() {
			return fmt.Errorf("mortality time lag %d exceeds the %d simulated years", lag, s.NumYears())
		}
	}

	if s.LethalTemperature != nil {
		if s.LethalTemperature.Month < 1 || s.LethalTemperature.Month > 12 {
			return fmt.Errorf("invalid lethal temperature month %d", s.LethalTemperature.Month)
		}
		if s.LethalTemperature.TemperatureFile == "" {
			return fmt.Errorf("lethal temperature requires a temperature_file series")
		}
	}

	if s.Rasters.Host == "" || s.Rasters.TotalPlants == "" || s.Rasters.Infected == "" {
		return fmt.Errorf("rasters.host, rasters.total_plants and rasters.infected are required")
	}
	return nil
}
