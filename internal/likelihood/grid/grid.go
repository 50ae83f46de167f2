// Package grid builds the frequency grids the likelihood is evaluated on.
package grid

import (
	"math"

	"gonum.org/v1/gonum/floats"

	lerrors "github.com/copyleftdev/hmlike/internal/errors"
	"github.com/copyleftdev/hmlike/internal/likelihood"
)

const (
	// DefaultMinDimensionless is the lower edge of the window in units of 1/M.
	DefaultMinDimensionless = 1e-4
	// DefaultMaxDimensionless is the upper edge of the window in units of 1/M.
	DefaultMaxDimensionless = 0.1
	// MergerDimensionless locates the 22-mode merger in units of 1/M.
	MergerDimensionless = 0.018
)

// Builder derives mass-dependent log-spaced grids.
type Builder struct {
	MinDimensionless float64
	MaxDimensionless float64
	Length           int
}

// NewBuilder returns a Builder with the default dimensionless window.
func NewBuilder(length int) Builder {
	return Builder{
		MinDimensionless: DefaultMinDimensionless,
		MaxDimensionless: DefaultMaxDimensionless,
		Length:           length,
	}
}

// TimeScale returns the total mass of the binary in seconds.
func TimeScale(m1, m2 float64) float64 {
	return (m1 + m2) * likelihood.SolarMassSeconds
}

// MergerFrequency returns the merger marker 0.018/M in Hz.
func MergerFrequency(m1, m2 float64) float64 {
	return MergerDimensionless / TimeScale(m1, m2)
}

// Window returns the lower and upper frequency of the mass-dependent window.
// A degenerate window is a domain error.
func (b Builder) Window(m1, m2 float64) (lower, upper float64, err error) {
	const op = "Builder.Window"

	if !(m1 > 0) || !(m2 > 0) || math.IsInf(m1+m2, 0) {
		return 0, 0, lerrors.Domain("masses must be positive and finite, got m1=%v m2=%v", m1, m2).
			WithComponent("grid").WithOperation(op)
	}
	ts := TimeScale(m1, m2)
	lower = b.MinDimensionless / ts
	upper = b.MaxDimensionless / ts
	if !(upper > lower) || !(lower > 0) {
		return 0, 0, lerrors.Domain("degenerate frequency window [%v, %v]", lower, upper).
			WithComponent("grid").WithOperation(op)
	}
	return lower, upper, nil
}

// Sparse returns the log-spaced generation grid for the given masses.
func (b Builder) Sparse(m1, m2 float64) (likelihood.Grid, error) {
	lower, upper, err := b.Window(m1, m2)
	if err != nil {
		return nil, err
	}
	return LogSpaced(lower, upper, b.Length)
}

// LogSpaced returns n log-uniformly spaced frequencies spanning [lower, upper].
func LogSpaced(lower, upper float64, n int) (likelihood.Grid, error) {
	const op = "LogSpaced"

	if n < 2 {
		return nil, lerrors.Domain("grid length must be at least 2, got %d", n).
			WithComponent("grid").WithOperation(op)
	}
	if !(lower > 0) || !(upper > lower) || math.IsInf(upper, 0) {
		return nil, lerrors.Domain("degenerate frequency window [%v, %v]", lower, upper).
			WithComponent("grid").WithOperation(op)
	}
	g := floats.LogSpan(make([]float64, n), lower, upper)
	return likelihood.Grid(g), nil
}

// Uniform returns fmin, fmin+df, ... up to and including fmax+df exclusive, the
// arange convention used for linearly spaced data grids.
func Uniform(fmin, fmax, df float64) (likelihood.Grid, error) {
	const op = "Uniform"

	if !(df > 0) || !(fmin > 0) || !(fmax > fmin) {
		return nil, lerrors.Domain("invalid uniform grid fmin=%v fmax=%v df=%v", fmin, fmax, df).
			WithComponent("grid").WithOperation(op)
	}
	n := int(math.Ceil((fmax + df - fmin) / df))
	if n < 2 {
		return nil, lerrors.Domain("uniform grid has %d points", n).WithComponent("grid").WithOperation(op)
	}
	g := make(likelihood.Grid, n)
	for i := range g {
		g[i] = fmin + float64(i)*df
	}
	return g, nil
}

// Span returns a log-spaced grid of n points covering the range of g.
func Span(g likelihood.Grid, n int) (likelihood.Grid, error) {
	if err := g.Validate(); err != nil {
		return nil, err
	}
	lo, hi := g.Bounds()
	return LogSpaced(lo, hi, n)
}

// MeasureWeights returns the square root of the grid spacing, with the first entry
// copied from the second. Multiplying a whitening sequence by these weights turns the
// inner product into a Riemann sum over a non-uniform grid.
func MeasureWeights(g likelihood.Grid) []float64 {
	w := make([]float64, len(g))
	if len(g) < 2 {
		for i := range w {
			w[i] = 1
		}
		return w
	}
	for i := 1; i < len(g); i++ {
		w[i] = math.Sqrt(g[i] - g[i-1])
	}
	w[0] = w[1]
	return w
}
