package kernel

import (
	"math/rand/v2"
	"testing"
)

func TestTypeFromString(t *testing.T) {
	cases := []struct {
		in      string
		want    Type
		wantErr bool
	}{
		{"cauchy", TypeCauchy, false},
		{"exponential", TypeExponential, false},
		{"none", TypeNone, false},
		{"NONE", TypeNone, false},
		{"", TypeNone, false},
		{"gaussian", 0, true},
	}
	for _, c := range cases {
		got, err := TypeFromString(c.in)
		if c.wantErr {
			if err == nil {
				t.Errorf("%q: expected error", c.in)
			}
			continue
		}
		if err != nil || got != c.want {
			t.Errorf("%q: got %v, %v", c.in, got, err)
		}
	}
}

func TestDirectionFromString(t *testing.T) {
	for s, want := range map[string]Direction{
		"N": DirN, "NE": DirNE, "E": DirE, "SE": DirSE,
		"S": DirS, "SW": DirSW, "W": DirW, "NW": DirNW,
		"none": DirNone, "NONE": DirNone, "": DirNone,
	} {
		got, err := DirectionFromString(s)
		if err != nil || got != want {
			t.Errorf("%q: got %v, %v", s, got, err)
		}
	}
	if _, err := DirectionFromString("NNE"); err == nil {
		t.Fatalf("expected error for NNE")
	}
}

func TestDirectionDegrees(t *testing.T) {
	cases := map[Direction]float64{DirN: 0, DirE: 90, DirS: 180, DirW: 270}
	for d, want := range cases {
		if got := d.Degrees(); got != want {
			t.Errorf("%v: got %g, want %g", d, got, want)
		}
	}
}

func TestUniformDrawInBounds(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 2))
	k := Uniform{Rows: 7, Cols: 11}
	for i := 0; i < 1000; i++ {
		r, c := k.Draw(rng, 3, 3)
		if r < 0 || r >= 7 || c < 0 || c >= 11 {
			t.Fatalf("draw %d out of bounds: (%d,%d)", i, r, c)
		}
	}
}

func TestRadialExponentialStaysLocal(t *testing.T) {
	rng := rand.New(rand.NewPCG(3, 4))
	k := Radial{Typ: TypeExponential, Scale: 0.5, EWRes: 1, NSRes: 1}
	for i := 0; i < 1000; i++ {
		r, c := k.Draw(rng, 50, 50)
		dr, dc := r-50, c-50
		if dr*dr+dc*dc > 30*30 {
			t.Fatalf("draw %d landed implausibly far: (%d,%d)", i, dr, dc)
		}
	}
}

func TestNaturalFractionOneAlwaysNatural(t *testing.T) {
	// The natural sub-kernel is a 1x1 uniform, so every natural draw is
	// (0,0); the anthropogenic one spans 100x100. With the full natural
	// fraction the anthropogenic kernel must never fire even though it
	// is enabled.
	natural := NewSwitch(TypeNone, Radial{}, Uniform{Rows: 1, Cols: 1})
	anthro := NewSwitch(TypeNone, Radial{}, Uniform{Rows: 100, Cols: 100})
	k := New(natural, anthro, true, 1)

	rng := rand.New(rand.NewPCG(5, 6))
	for i := 0; i < 1000; i++ {
		if r, c := k.Draw(rng, 9, 9); r != 0 || c != 0 {
			t.Fatalf("draw %d used the anthropogenic kernel: (%d,%d)", i, r, c)
		}
	}
}

func TestAnthroDisabledAlwaysNatural(t *testing.T) {
	natural := NewSwitch(TypeNone, Radial{}, Uniform{Rows: 1, Cols: 1})
	anthro := NewSwitch(TypeNone, Radial{}, Uniform{Rows: 100, Cols: 100})
	k := New(natural, anthro, false, 0.1)

	rng := rand.New(rand.NewPCG(7, 8))
	for i := 0; i < 200; i++ {
		if r, c := k.Draw(rng, 9, 9); r != 0 || c != 0 {
			t.Fatalf("draw %d left the natural kernel: (%d,%d)", i, r, c)
		}
	}
}

func TestDirectedDrawsFollowBias(t *testing.T) {
	// With a strong eastward concentration most draws must land east of
	// the source column.
	rng := rand.New(rand.NewPCG(9, 10))
	k := Radial{Typ: TypeExponential, Scale: 5, Dir: DirE, Kappa: 10, EWRes: 1, NSRes: 1}
	east := 0
	const n = 2000
	for i := 0; i < n; i++ {
		_, c := k.Draw(rng, 0, 0)
		if c > 0 {
			east++
		}
	}
	if east < n*3/4 {
		t.Fatalf("only %d/%d draws went east", east, n)
	}
}
