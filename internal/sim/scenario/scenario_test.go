package scenario

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const validYAML = `
start_year: 2016
end_year: 2018
step: month
seasonality:
  from: 1
  to: 12
reproductive_rate: 4.5
natural_kernel:
  type: cauchy
  scale: 20.5
anthropogenic_kernel:
  type: cauchy
  scale: 1000
  direction: NE
  strength: 2
percent_natural_dispersal: 0.95
rasters:
  host: host.asc
  total_plants: total.asc
  infected: infected.asc
mortality:
  rate: 0.05
  time_lag: 2
treatments:
  month: 6
  application: ratio_to_all
  maps:
    - year: 2017
      raster: treat_2017.asc
`

func writeScenario(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "scenario.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	return path
}

func TestLoadValid(t *testing.T) {
	s, err := Load(writeScenario(t, validYAML))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if s.StartYear != 2016 || s.EndYear != 2018 || s.NumYears() != 3 {
		t.Fatalf("horizon: %+v", s)
	}
	if !s.UseAnthro() {
		t.Fatalf("anthropogenic kernel must be enabled")
	}
	if s.NaturalKernel.Scale != 20.5 || s.AnthroKernel.Direction != "NE" {
		t.Fatalf("kernels: %+v %+v", s.NaturalKernel, s.AnthroKernel)
	}
	if s.Mortality == nil || s.Mortality.TimeLag != 2 {
		t.Fatalf("mortality: %+v", s.Mortality)
	}
	if s.Treatments == nil || len(s.Treatments.Maps) != 1 || s.Treatments.Maps[0].Year != 2017 {
		t.Fatalf("treatments: %+v", s.Treatments)
	}
}

func TestLoadRejectsBadStep(t *testing.T) {
	bad := strings.Replace(validYAML, "step: month", "step: day", 1)
	if _, err := Load(writeScenario(t, bad)); err == nil {
		t.Fatalf("step day must fail schema validation")
	}
}

func TestLoadRejectsMissingRasters(t *testing.T) {
	bad := strings.Replace(validYAML, "  infected: infected.asc\n", "", 1)
	if _, err := Load(writeScenario(t, bad)); err == nil {
		t.Fatalf("missing infected raster must fail")
	}
}

func TestValidateCrossFieldRules(t *testing.T) {
	base := func() Scenario {
		return Scenario{
			StartYear:        2016,
			EndYear:          2018,
			Step:             "month",
			Seasonality:      Season{From: 1, To: 12},
			ReproductiveRate: 2,
			Rasters:          RasterConfig{Host: "h", TotalPlants: "t", Infected: "i"},
		}
	}

	cases := []struct {
		name   string
		mutate func(*Scenario)
	}{
		{"start after end", func(s *Scenario) { s.StartYear = 2020 }},
		{"season window inverted", func(s *Scenario) { s.Seasonality = Season{From: 9, To: 3} }},
		{"season month out of range", func(s *Scenario) { s.Seasonality = Season{From: 0, To: 12} }},
		{"negative rate", func(s *Scenario) { s.ReproductiveRate = -1 }},
		{"anthro kernel without scale", func(s *Scenario) {
			s.AnthroKernel = KernelConfig{Type: "cauchy"}
			s.PercentNaturalDispersal = 0.9
		}},
		{"anthro kernel without fraction", func(s *Scenario) {
			s.AnthroKernel = KernelConfig{Type: "cauchy", Scale: 100}
		}},
		{"mortality lag beyond horizon", func(s *Scenario) {
			s.Mortality = &MortalityConfig{Rate: 0.1, TimeLag: 4}
		}},
		{"mortality lag zero", func(s *Scenario) {
			s.Mortality = &MortalityConfig{Rate: 0.1, TimeLag: 0}
		}},
		{"duplicate treatment years", func(s *Scenario) {
			s.Treatments = &TreatmentConfig{Month: 6, Maps: []TreatmentMap{
				{Year: 2017, Raster: "a"}, {Year: 2017, Raster: "b"},
			}}
		}},
		{"treatment month missing", func(s *Scenario) {
			s.Treatments = &TreatmentConfig{Maps: []TreatmentMap{{Year: 2017, Raster: "a"}}}
		}},
		{"lethal without series", func(s *Scenario) {
			s.LethalTemperature = &LethalConfig{Value: -4, Month: 1}
		}},
		{"unknown direction", func(s *Scenario) {
			s.NaturalKernel = KernelConfig{Type: "cauchy", Scale: 10, Direction: "NNW"}
		}},
	}
	for _, c := range cases {
		s := base()
		c.mutate(&s)
		if err := s.Validate(); err == nil {
			t.Errorf("%s: expected a validation error", c.name)
		}
	}

	ok := base()
	if err := ok.Validate(); err != nil {
		t.Fatalf("base scenario must validate: %v", err)
	}
}

func TestSeasonContains(t *testing.T) {
	s := Season{From: 4, To: 9}
	if s.Contains(3) || s.Contains(10) {
		t.Fatalf("months outside the window accepted")
	}
	if !s.Contains(4) || !s.Contains(9) || !s.Contains(6) {
		t.Fatalf("months inside the window rejected")
	}
}
