package waveform

import (
	"gonum.org/v1/gonum/interp"
)

// spline is a natural cubic spline that extrapolates linearly for up to one knot
// spacing past either end and reports the point as outside beyond that. The linear
// margin keeps templates continuous in the masses when the sparse grid edge moves
// across a dense grid point.
type spline struct {
	nc       interp.NaturalCubic
	lo, hi   float64
	hLo, hHi float64
	yLo, yHi float64
	dLo, dHi float64
}

func (s *spline) fit(xs, ys []float64) error {
	if err := s.nc.Fit(xs, ys); err != nil {
		return err
	}
	n := len(xs)
	s.lo, s.hi = xs[0], xs[n-1]
	s.hLo, s.hHi = xs[1]-xs[0], xs[n-1]-xs[n-2]
	s.yLo, s.yHi = ys[0], ys[n-1]
	s.dLo, s.dHi = s.nc.PredictDerivative(s.lo), s.nc.PredictDerivative(s.hi)
	return nil
}

// at returns the interpolated value and whether x is within the supported range.
func (s *spline) at(x float64) (float64, bool) {
	switch {
	case x < s.lo:
		if s.lo-x > s.hLo {
			return 0, false
		}
		return s.yLo + s.dLo*(x-s.lo), true
	case x > s.hi:
		if x-s.hi > s.hHi {
			return 0, false
		}
		return s.yHi + s.dHi*(x-s.hi), true
	}
	return s.nc.Predict(x), true
}
