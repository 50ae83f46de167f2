package waveform

import (
	"fmt"
	"math"
	"math/cmplx"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSpinWeightedYClosedForms(t *testing.T) {
	for _, theta := range []float64{0, 0.3, math.Pi / 3, 2.0, math.Pi} {
		c := math.Cos(theta)
		want22 := math.Sqrt(5/(64*math.Pi)) * (1 + c) * (1 + c)
		want2m2 := math.Sqrt(5/(64*math.Pi)) * (1 - c) * (1 - c)

		assert.InDelta(t, want22, real(spinWeightedY(-2, 2, 2, theta, 0)), 1e-14, "theta=%v", theta)
		assert.InDelta(t, want2m2, real(spinWeightedY(-2, 2, -2, theta, 0)), 1e-14, "theta=%v", theta)
	}
}

func TestSpinWeightedYNormalised(t *testing.T) {
	const n = 4000
	dtheta := math.Pi / n

	for _, lm := range [][2]int{{2, 2}, {2, 1}, {3, 3}, {3, 2}, {4, 4}, {4, 3}, {4, -1}} {
		l, m := lm[0], lm[1]
		t.Run(fmt.Sprintf("l%d_m%d", l, m), func(t *testing.T) {
			var norm float64
			for i := 0; i < n; i++ {
				theta := (float64(i) + 0.5) * dtheta
				y := cmplx.Abs(spinWeightedY(-2, l, m, theta, 0))
				norm += y * y * math.Sin(theta) * dtheta
			}
			assert.InDelta(t, 1.0, 2*math.Pi*norm, 1e-5)
		})
	}
}

func TestSpinWeightedYOutOfRange(t *testing.T) {
	assert.Equal(t, complex128(0), spinWeightedY(-2, 2, 3, 1, 0))
	assert.Equal(t, complex128(0), spinWeightedY(-3, 2, 1, 1, 0))
}

func TestPolarizationFactorsFaceOn(t *testing.T) {
	plus, cross := polarizationFactors(2, 2, 0)
	amp := math.Sqrt(5/(4*math.Pi)) / 2

	assert.InDelta(t, amp, real(plus), 1e-14)
	assert.InDelta(t, 0, imag(plus), 1e-14)
	assert.InDelta(t, 0, real(cross), 1e-14)
	assert.InDelta(t, amp, imag(cross), 1e-14)
}

func TestPolarizationFactorsEdgeOn(t *testing.T) {
	// an edge-on 22 mode is linearly polarized
	_, cross := polarizationFactors(2, 2, math.Pi/2)
	assert.InDelta(t, 0, cmplx.Abs(cross), 1e-14)
}
