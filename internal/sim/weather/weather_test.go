package weather

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"spreadsim.dev/internal/sim/raster"
)

func writeList(t *testing.T, names ...string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "list.txt")
	content := ""
	for _, n := range names {
		content += n + "\n"
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write list: %v", err)
	}
	return path
}

func constGrid(v float64) *raster.FGrid {
	g := raster.NewFGrid(2, 2)
	for i := range g.Cells {
		g.Cells[i] = v
	}
	return g
}

func TestLoadSeries(t *testing.T) {
	list := writeList(t, "a", "b", "c")
	var loaded []string
	grids, err := LoadSeries(list, func(name string) (*raster.FGrid, error) {
		loaded = append(loaded, name)
		return constGrid(0.5), nil
	})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(grids) != 3 || len(loaded) != 3 || loaded[1] != "b" {
		t.Fatalf("got %d grids, loaded %v", len(grids), loaded)
	}
}

func TestLoadSeriesReadFailure(t *testing.T) {
	list := writeList(t, "a")
	_, err := LoadSeries(list, func(name string) (*raster.FGrid, error) {
		return nil, fmt.Errorf("missing")
	})
	if err == nil {
		t.Fatalf("expected error from the reader")
	}
}

func TestLoadMoistureTemperature(t *testing.T) {
	moisture := writeList(t, "m1", "m2")
	temperature := writeList(t, "t1", "t2")
	grids, err := LoadMoistureTemperature(moisture, temperature, func(name string) (*raster.FGrid, error) {
		if name[0] == 'm' {
			return constGrid(0.5), nil
		}
		return constGrid(0.4), nil
	})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(grids) != 2 {
		t.Fatalf("got %d grids", len(grids))
	}
	if got := grids[0].At(0, 0); got != 0.2 {
		t.Fatalf("product: got %g, want 0.2", got)
	}
}

func TestLoadMoistureTemperatureLengthMismatch(t *testing.T) {
	moisture := writeList(t, "m1", "m2")
	temperature := writeList(t, "t1")
	_, err := LoadMoistureTemperature(moisture, temperature, func(string) (*raster.FGrid, error) {
		return constGrid(1), nil
	})
	if err == nil {
		t.Fatalf("expected a length mismatch error")
	}
}

func TestSynthesize(t *testing.T) {
	a := Synthesize(4, 5, 12, 7)
	if len(a) != 12 {
		t.Fatalf("got %d steps", len(a))
	}
	for step, g := range a {
		if g.Rows != 4 || g.Cols != 5 {
			t.Fatalf("step %d: %dx%d", step, g.Rows, g.Cols)
		}
		for i, v := range g.Cells {
			if v < 0 || v > 1 {
				t.Fatalf("step %d cell %d outside [0,1]: %g", step, i, v)
			}
		}
	}

	// Same seed, same fields.
	b := Synthesize(4, 5, 12, 7)
	for step := range a {
		for i := range a[step].Cells {
			if a[step].Cells[i] != b[step].Cells[i] {
				t.Fatalf("step %d cell %d differs between identical seeds", step, i)
			}
		}
	}
}
