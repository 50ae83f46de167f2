package likelihood

import (
	"math"

	lerrors "github.com/copyleftdev/hmlike/internal/errors"
)

// NumParams is the length of a parameter vector.
const NumParams = 12

// Positions in the canonical parameter vector.
const (
	IndexLnM1 = iota
	IndexLnM2
	IndexSpin1
	IndexSpin2
	IndexLnDistance
	IndexPhaseRef
	IndexFreqRef
	IndexInclination
	IndexLongitude
	IndexLatitude
	IndexPolarization
	IndexTimeRef
)

// ParamNames lists the parameter names in canonical order.
var ParamNames = [NumParams]string{
	"ln_m1", "ln_m2", "a1", "a2", "ln_distance",
	"phi_ref", "f_ref", "inc", "lam", "beta", "psi", "t_ref",
}

// Parameters is the sampling-space parameter vector. Masses are natural logs of
// solar masses and distance is the natural log of megaparsecs.
type Parameters [NumParams]float64

// ParametersFromSlice copies a slice into a Parameters value.
func ParametersFromSlice(x []float64) (Parameters, error) {
	var p Parameters
	if len(x) != NumParams {
		return p, lerrors.Configuration("parameter vector needs %d entries, got %d", NumParams, len(x)).
			WithComponent("likelihood").WithOperation("ParametersFromSlice")
	}
	copy(p[:], x)
	return p, nil
}

// Slice returns a fresh copy of p as a slice.
func (p Parameters) Slice() []float64 {
	return append([]float64(nil), p[:]...)
}

// Intrinsic holds the source-frame parameters consumed by the amplitude/phase stage.
type Intrinsic struct {
	M1       float64 // solar masses
	M2       float64 // solar masses
	Spin1    float64
	Spin2    float64
	Distance float64 // meters
	PhaseRef float64 // rad
	FreqRef  float64 // Hz
}

// Extrinsic holds the parameters consumed by the detector-response stage.
type Extrinsic struct {
	Inclination  float64 // rad
	Longitude    float64 // ecliptic, rad
	Latitude     float64 // ecliptic, rad
	Polarization float64 // rad
	TimeRef      float64 // s
}

// Source is a physical-unit parameter set.
type Source struct {
	Intrinsic
	Extrinsic
}

// Physical converts p to physical units: masses exponentiated, distance
// exponentiated and scaled from megaparsecs to meters.
func (p Parameters) Physical() Source {
	return Source{
		Intrinsic: Intrinsic{
			M1:       math.Exp(p[IndexLnM1]),
			M2:       math.Exp(p[IndexLnM2]),
			Spin1:    p[IndexSpin1],
			Spin2:    p[IndexSpin2],
			Distance: math.Exp(p[IndexLnDistance]) * MegaParsec,
			PhaseRef: p[IndexPhaseRef],
			FreqRef:  p[IndexFreqRef],
		},
		Extrinsic: Extrinsic{
			Inclination:  p[IndexInclination],
			Longitude:    p[IndexLongitude],
			Latitude:     p[IndexLatitude],
			Polarization: p[IndexPolarization],
			TimeRef:      p[IndexTimeRef],
		},
	}
}

// Parameters is the inverse of Parameters.Physical.
func (s Source) Parameters() Parameters {
	var p Parameters
	p[IndexLnM1] = math.Log(s.M1)
	p[IndexLnM2] = math.Log(s.M2)
	p[IndexSpin1] = s.Spin1
	p[IndexSpin2] = s.Spin2
	p[IndexLnDistance] = math.Log(s.Distance / MegaParsec)
	p[IndexPhaseRef] = s.PhaseRef
	p[IndexFreqRef] = s.FreqRef
	p[IndexInclination] = s.Inclination
	p[IndexLongitude] = s.Longitude
	p[IndexLatitude] = s.Latitude
	p[IndexPolarization] = s.Polarization
	p[IndexTimeRef] = s.TimeRef
	return p
}

// Validate rejects sources the engine cannot evaluate.
func (s Source) Validate() error {
	checks := []struct {
		name string
		v    float64
	}{{"m1", s.M1}, {"m2", s.M2}, {"distance", s.Distance}}
	for _, c := range checks {
		if !(c.v > 0) || math.IsInf(c.v, 0) {
			return lerrors.Domain("%s must be positive and finite, got %v", c.name, c.v).
				WithComponent("likelihood").WithOperation("Source.Validate")
		}
	}
	return nil
}

// Mode is one (l, m) harmonic.
type Mode struct {
	L int
	M int
}

// DefaultModes are the five harmonics of the reference configuration.
var DefaultModes = []Mode{{2, 2}, {3, 3}, {4, 4}, {4, 3}, {3, 2}}

// SplitModes returns the paired l and m arrays.
func SplitModes(modes []Mode) (ls, ms []int) {
	ls = make([]int, len(modes))
	ms = make([]int, len(modes))
	for i, md := range modes {
		ls[i], ms[i] = md.L, md.M
	}
	return ls, ms
}
