package waveform

import (
	"math"
	"math/cmplx"
)

// spinWeightedY returns the spin-weighted spherical harmonic sY_lm(theta, phi)
// using Goldberg's sum written with explicit half-angle powers.
func spinWeightedY(s, l, m int, theta, phi float64) complex128 {
	if l < abs(s) || l < abs(m) {
		return 0
	}
	pre := math.Sqrt(factorial(l+m) * factorial(l-m) * float64(2*l+1) /
		(4 * math.Pi * factorial(l+s) * factorial(l-s)))
	if m%2 != 0 {
		pre = -pre
	}

	c, sn := math.Cos(theta/2), math.Sin(theta/2)
	rMin := max(0, m-s)
	rMax := min(l-s, l+m)

	var sum float64
	for r := rMin; r <= rMax; r++ {
		term := binomial(l-s, r) * binomial(l+s, r+s-m) *
			math.Pow(c, float64(2*r+s-m)) * math.Pow(sn, float64(2*l-2*r-s+m))
		if (l-r-s)%2 != 0 {
			term = -term
		}
		sum += term
	}
	return complex(pre*sum, 0) * cmplx.Exp(complex(0, float64(m)*phi))
}

// polarizationFactors returns the factors mapping the (l, m) mode onto the plus and
// cross polarizations for a positive-m mode seen at inclination inc.
func polarizationFactors(l, m int, inc float64) (plus, cross complex128) {
	ylm := spinWeightedY(-2, l, m, inc, 0)
	ylmm := cmplx.Conj(spinWeightedY(-2, l, -m, inc, 0))
	if l%2 != 0 {
		ylmm = -ylmm
	}
	plus = 0.5 * (ylm + ylmm)
	cross = complex(0, 0.5) * (ylm - ylmm)
	return plus, cross
}

func factorial(n int) float64 {
	f := 1.0
	for i := 2; i <= n; i++ {
		f *= float64(i)
	}
	return f
}

func binomial(n, k int) float64 {
	if k < 0 || k > n {
		return 0
	}
	return factorial(n) / (factorial(k) * factorial(n-k))
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
