// Package likelihood defines the data model shared by the matched-filter likelihood,
// its derivatives and the synthetic data pipeline, together with the interfaces of
// the two external collaborators: the waveform/response engine and the noise model.
package likelihood

import (
	"gonum.org/v1/gonum/mat"
)

// ChannelKind selects a noise PSD combination.
type ChannelKind int

const (
	// KindAE is the PSD shared by the A and E channels.
	KindAE ChannelKind = iota
	// KindT is the PSD of the T channel.
	KindT
	// KindXYZ is the PSD shared by X, Y and Z.
	KindXYZ
)

// String returns "AE", "T" or "XYZ".
func (k ChannelKind) String() string {
	switch k {
	case KindAE:
		return "AE"
	case KindT:
		return "T"
	case KindXYZ:
		return "XYZ"
	}
	return "unknown"
}

// NoiseKinds returns the PSD kind bound to each channel position under tag.
// AET binds AE to channels 1 and 2 and T to channel 3; XYZ binds one model to all.
func NoiseKinds(tag TDITag) [3]ChannelKind {
	if tag == TagXYZ {
		return [3]ChannelKind{KindXYZ, KindXYZ, KindXYZ}
	}
	return [3]ChannelKind{KindAE, KindAE, KindT}
}

// NoiseModel returns one-sided noise power spectral densities.
type NoiseModel interface {
	PSD(freqs Grid, kind ChannelKind, model string) ([]float64, error)
}

// OutputMode selects what Engine.EvaluateLikelihood returns.
type OutputMode int

const (
	// OutputLikelihood returns the summed inner products only.
	OutputLikelihood OutputMode = iota
	// OutputAmplitudePhase returns the per-mode amplitude and phase on the sparse grid.
	OutputAmplitudePhase
	// OutputTDI returns the whitened template channels on the dense grid.
	OutputTDI
)

// AmplitudePhase holds per-mode arrays; row i corresponds to mode i.
type AmplitudePhase struct {
	Freqs     Grid
	Modes     []Mode
	Amplitude *mat.Dense
	Phase     *mat.Dense
}

// ModeChannels holds per-mode channels on the dense grid; row i is mode i.
type ModeChannels [3][][]complex128

// Sum adds the mode contributions of each channel.
func (mc ModeChannels) Sum() [3][]complex128 {
	var out [3][]complex128
	for c := range mc {
		if len(mc[c]) == 0 {
			continue
		}
		out[c] = make([]complex128, len(mc[c][0]))
		for _, row := range mc[c] {
			for k, v := range row {
				out[c][k] += v
			}
		}
	}
	return out
}

// Output is what EvaluateLikelihood returns. Only the fields of the requested mode
// are populated.
type Output struct {
	DH             float64 // 4·Re Σ conj(d)·h over channels and bins
	HH             float64 // 4·Σ |h|² over channels and bins
	AmplitudePhase *AmplitudePhase
	TDI            [3][]complex128
}

// EngineConfig is what an Engine is constructed with.
type EngineConfig struct {
	// Capacity is the largest sparse grid the engine accepts.
	Capacity int
	// L and M are the paired mode indices.
	L []int
	M []int
	// DataFreqs is the dense grid the data channels live on.
	DataFreqs Grid
	// Data holds the (whitened) data channels.
	Data [3][]complex128
	// Whitening holds the per-channel whitening sequences on DataFreqs.
	Whitening Whitening
	// Selector is the TDI convention.
	Selector Selector
}

// Engine is the stateful waveform and detector-response compute engine. The staged
// methods must be called in order: ComputeAmplitudePhase, PrepareWaveformInterpolation,
// ApplyDetectorResponse, PrepareResponseInterpolation, ExecuteInterpolation,
// ExtractTDIChannels. EvaluateLikelihood runs the whole sequence and folds in the
// whitening and the inner products.
//
// Implementations need not be safe for concurrent use.
type Engine interface {
	ComputeAmplitudePhase(freqs Grid, src Intrinsic) (*AmplitudePhase, error)
	PrepareWaveformInterpolation() error
	ApplyDetectorResponse(ext Extrinsic, t0, mergerFreq float64) error
	PrepareResponseInterpolation() error
	ExecuteInterpolation() error
	ExtractTDIChannels() (ModeChannels, error)
	EvaluateLikelihood(freqs Grid, src Source, t0, mergerFreq float64, mode OutputMode) (Output, error)
}

// EngineFactory constructs an Engine.
type EngineFactory func(cfg EngineConfig) (Engine, error)
