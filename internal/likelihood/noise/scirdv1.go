// Package noise implements detector noise power spectral densities.
package noise

import (
	"math"

	lerrors "github.com/copyleftdev/hmlike/internal/errors"
	"github.com/copyleftdev/hmlike/internal/likelihood"
)

// ModelSciRDv1 is the science-requirements noise budget.
const ModelSciRDv1 = "SciRDv1"

const (
	// ArmLength of the constellation in meters.
	ArmLength = 2.5e9

	accelerationASD = 3e-15  // m s^-2 Hz^-1/2
	omsASD          = 15e-12 // m Hz^-1/2
)

// LISA evaluates the TDI noise PSDs in relative-frequency units.
type LISA struct{}

// NewLISA returns the LISA noise model.
func NewLISA() *LISA {
	return &LISA{}
}

// PSD implements likelihood.NoiseModel.
func (LISA) PSD(freqs likelihood.Grid, kind likelihood.ChannelKind, model string) ([]float64, error) {
	const op = "LISA.PSD"

	if model == "" {
		model = ModelSciRDv1
	}
	if model != ModelSciRDv1 {
		return nil, lerrors.Configuration("unknown noise model %q", model).
			WithComponent("noise").WithOperation(op)
	}

	out := make([]float64, len(freqs))
	for i, f := range freqs {
		if !(f > 0) {
			return nil, lerrors.Domain("noise PSD undefined at frequency %v", f).
				WithComponent("noise").WithOperation(op)
		}
		spm, sop := components(f)
		x := 2 * math.Pi * (ArmLength / likelihood.SpeedOfLight) * f
		sx, cx := math.Sin(x), math.Cos(x)

		switch kind {
		case likelihood.KindAE:
			out[i] = 8 * sx * sx * (2*spm*(3+2*cx+math.Cos(2*x)) + sop*(2+cx))
		case likelihood.KindT:
			s2 := math.Sin(0.5 * x)
			out[i] = 16*sop*(1-cx)*sx*sx + 128*spm*sx*sx*s2*s2*s2*s2
		case likelihood.KindXYZ:
			out[i] = 16 * sx * sx * (2*(1+cx*cx)*spm + sop)
		default:
			return nil, lerrors.Configuration("unknown channel kind %d", kind).
				WithComponent("noise").WithOperation(op)
		}
	}
	return out, nil
}

// components returns the test-mass and optical-path noise at f in relative
// frequency units.
func components(f float64) (spm, sop float64) {
	w := 2 * math.Pi * f
	lo := 0.4e-3 / f
	hi := f / 8e-3
	sa := accelerationASD * accelerationASD * (1 + lo*lo) * (1 + hi*hi*hi*hi)
	sd := sa / (w * w * w * w)
	spm = sd * (w / likelihood.SpeedOfLight) * (w / likelihood.SpeedOfLight)

	r := 2e-3 / f
	soms := omsASD * omsASD * (1 + r*r*r*r)
	sop = soms * (w / likelihood.SpeedOfLight) * (w / likelihood.SpeedOfLight)
	return spm, sop
}

// Scaled multiplies every PSD of Model by Factor.
type Scaled struct {
	Model  likelihood.NoiseModel
	Factor float64
}

// PSD implements likelihood.NoiseModel.
func (s Scaled) PSD(freqs likelihood.Grid, kind likelihood.ChannelKind, model string) ([]float64, error) {
	psd, err := s.Model.PSD(freqs, kind, model)
	if err != nil {
		return nil, err
	}
	for i := range psd {
		psd[i] *= s.Factor
	}
	return psd, nil
}

// White is a flat PSD of the given level for every channel kind.
type White float64

// PSD implements likelihood.NoiseModel.
func (w White) PSD(freqs likelihood.Grid, _ likelihood.ChannelKind, _ string) ([]float64, error) {
	out := make([]float64, len(freqs))
	for i := range out {
		out[i] = float64(w)
	}
	return out, nil
}
