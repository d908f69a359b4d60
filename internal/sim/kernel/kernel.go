// Package kernel implements the stochastic dispersal kernels: where a
// produced disperser lands relative to its source cell.
//
// A full Kernel couples a natural (short-range) and an anthropogenic
// (long-range) sub-kernel; a Bernoulli draw weighted by the natural
// dispersal fraction picks which one fires per event. Each run owns its own
// Kernel copy, and every draw takes the run's generator, so sampling never
// crosses run boundaries.
package kernel

import (
	"fmt"
	"math"
	"math/rand/v2"
)

// Type selects the radial distance distribution. TypeNone means the
// sub-kernel is unset and falls back to uniform placement.
type Type int

const (
	TypeNone Type = iota
	TypeCauchy
	TypeExponential
)

func (t Type) String() string {
	switch t {
	case TypeCauchy:
		return "cauchy"
	case TypeExponential:
		return "exponential"
	}
	return "none"
}

func TypeFromString(s string) (Type, error) {
	switch s {
	case "cauchy":
		return TypeCauchy, nil
	case "exponential":
		return TypeExponential, nil
	case "", "none", "NONE":
		return TypeNone, nil
	}
	return 0, fmt.Errorf("unknown kernel type %q", s)
}

// Direction is the compass direction of the dispersal bias. DirNone means
// no directionality.
type Direction int

const (
	DirNone Direction = iota
	DirN
	DirNE
	DirE
	DirSE
	DirS
	DirSW
	DirW
	DirNW
)

var dirNames = map[string]Direction{
	"N": DirN, "NE": DirNE, "E": DirE, "SE": DirSE,
	"S": DirS, "SW": DirSW, "W": DirW, "NW": DirNW,
}

// DirectionFromString normalizes a config direction string. The historical
// alias "NONE" is accepted alongside "none" and the empty string.
func DirectionFromString(s string) (Direction, error) {
	if d, ok := dirNames[s]; ok {
		return d, nil
	}
	switch s {
	case "", "none", "NONE":
		return DirNone, nil
	}
	return 0, fmt.Errorf("unknown direction %q", s)
}

// Degrees measured clockwise from north.
func (d Direction) Degrees() float64 {
	return float64(d-DirN) * 45
}

func (d Direction) String() string {
	for s, v := range dirNames {
		if v == d {
			return s
		}
	}
	return "none"
}

// Radial draws a travel distance from the configured distribution and a
// bearing from a von Mises distribution (uniform when undirected), then
// converts both into a target cell using the map resolution.
type Radial struct {
	Typ   Type
	Scale float64
	Dir   Direction
	Kappa float64
	EWRes float64
	NSRes float64
}

func (k Radial) Draw(rng *rand.Rand, row, col int) (int, int) {
	var dist float64
	switch k.Typ {
	case TypeCauchy:
		dist = math.Abs(k.Scale * math.Tan(math.Pi*(rng.Float64()-0.5)))
	case TypeExponential:
		dist = -k.Scale * math.Log(1-rng.Float64())
	}

	var theta float64
	if k.Dir == DirNone || k.Kappa <= 0 {
		theta = rng.Float64() * 2 * math.Pi
	} else {
		theta = vonMises(rng, k.Dir.Degrees()*math.Pi/180, k.Kappa)
	}

	drow := -int(math.Round(dist * math.Cos(theta) / k.NSRes))
	dcol := int(math.Round(dist * math.Sin(theta) / k.EWRes))
	return row + drow, col + dcol
}

// Uniform drops the disperser anywhere in the domain with equal probability.
type Uniform struct {
	Rows, Cols int
}

func (k Uniform) Draw(rng *rand.Rand, row, col int) (int, int) {
	return rng.IntN(k.Rows), rng.IntN(k.Cols)
}

// Switch picks between a configured radial kernel and the uniform fallback,
// decided once at construction from the configured type.
type Switch struct {
	uniform bool
	radial  Radial
	uni     Uniform
}

func NewSwitch(t Type, radial Radial, uniform Uniform) Switch {
	return Switch{uniform: t == TypeNone, radial: radial, uni: uniform}
}

func (k Switch) Draw(rng *rand.Rand, row, col int) (int, int) {
	if k.uniform {
		return k.uni.Draw(rng, row, col)
	}
	return k.radial.Draw(rng, row, col)
}

// Kernel is the per-run dispersal sampler.
type Kernel struct {
	Natural         Switch
	Anthro          Switch
	UseAnthro       bool
	NaturalFraction float64
}

func New(natural, anthro Switch, useAnthro bool, naturalFraction float64) Kernel {
	return Kernel{
		Natural:         natural,
		Anthro:          anthro,
		UseAnthro:       useAnthro,
		NaturalFraction: naturalFraction,
	}
}

func (k Kernel) useNatural(rng *rand.Rand) bool {
	if !k.UseAnthro || k.NaturalFraction >= 1 {
		return true
	}
	return rng.Float64() < k.NaturalFraction
}

// Draw returns the target cell for one dispersal event from (row, col).
// The target may fall outside the domain; the caller decides what an
// off-domain landing means.
func (k Kernel) Draw(rng *rand.Rand, row, col int) (int, int) {
	if k.useNatural(rng) {
		return k.Natural.Draw(rng, row, col)
	}
	return k.Anthro.Draw(rng, row, col)
}

// vonMises samples an angle with mean mu and concentration kappa using the
// Best-Fisher rejection method.
func vonMises(rng *rand.Rand, mu, kappa float64) float64 {
	a := 1 + math.Sqrt(1+4*kappa*kappa)
	b := (a - math.Sqrt(2*a)) / (2 * kappa)
	r := (1 + b*b) / (2 * b)

	for {
		u1 := rng.Float64()
		z := math.Cos(math.Pi * u1)
		f := (1 + r*z) / (r + z)
		c := kappa * (r - f)

		u2 := rng.Float64()
		if c*(2-c) > u2 || math.Log(c/u2)+1-c >= 0 {
			u3 := rng.Float64()
			theta := mu
			if u3 > 0.5 {
				theta += math.Acos(f)
			} else {
				theta -= math.Acos(f)
			}
			return math.Mod(theta+2*math.Pi, 2*math.Pi)
		}
	}
}
