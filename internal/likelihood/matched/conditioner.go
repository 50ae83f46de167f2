package matched

import (
	"math"

	lerrors "github.com/copyleftdev/hmlike/internal/errors"
	"github.com/copyleftdev/hmlike/internal/likelihood"
	"github.com/copyleftdev/hmlike/internal/likelihood/grid"
)

// ConditionerConfig controls how a data stream is prepared.
type ConditionerConfig struct {
	// Tag is the channel convention of the stream.
	Tag likelihood.TDITag
	// NoiseModelName is passed through to the NoiseModel. Empty selects its default.
	NoiseModelName string
	// LogScaled multiplies the whitening by the square root of the grid spacing.
	LogScaled bool
	// Whitened reports that the stream is already whitened.
	Whitened bool
}

// Conditioner holds whitening sequences and whitened data for one frequency grid.
// It is read-only after construction and safe for concurrent use.
type Conditioner struct {
	tag       likelihood.TDITag
	freqs     likelihood.Grid
	data      likelihood.ChannelSet
	whitening likelihood.Whitening
	dd        float64
}

// NewConditioner validates the stream, computes the whitening from noise and
// caches the data self-overlap. The caller's slices are not modified.
func NewConditioner(cfg ConditionerConfig, freqs likelihood.Grid, stream map[string][]complex128, noise likelihood.NoiseModel) (*Conditioner, error) {
	const op = "NewConditioner"

	if !cfg.Tag.Valid() {
		if _, err := likelihood.ParseTDITag(string(cfg.Tag)); err != nil {
			return nil, err
		}
	}
	data, err := likelihood.ChannelSetFromMap(cfg.Tag, stream)
	if err != nil {
		return nil, err
	}
	if err := freqs.Validate(); err != nil {
		return nil, lerrors.Configuration("invalid data grid: %v", err).WithComponent(component).WithOperation(op)
	}
	if data.Len() != len(freqs) {
		return nil, lerrors.Configuration("channels have %d bins, data grid has %d", data.Len(), len(freqs)).
			WithComponent(component).WithOperation(op)
	}
	if noise == nil {
		return nil, lerrors.Configuration("noise model is required").WithComponent(component).WithOperation(op)
	}

	white, err := Whitening(cfg.Tag, freqs, noise, cfg.NoiseModelName, cfg.LogScaled)
	if err != nil {
		return nil, err
	}

	data = data.Clone()
	if !cfg.Whitened {
		for c := range data {
			for k := range data[c].Data {
				data[c].Data[k] *= complex(white[c][k], 0)
			}
		}
	}

	return &Conditioner{
		tag:       cfg.Tag,
		freqs:     freqs,
		data:      data,
		whitening: white,
		dd:        data.SelfOverlap(),
	}, nil
}

// Whitening returns the per-channel inverse amplitude spectral density on freqs,
// optionally multiplied by the grid measure weights.
func Whitening(tag likelihood.TDITag, freqs likelihood.Grid, noise likelihood.NoiseModel, model string, logScaled bool) (likelihood.Whitening, error) {
	const op = "Whitening"

	var white likelihood.Whitening
	var weights []float64
	if logScaled {
		weights = grid.MeasureWeights(freqs)
	}

	// channels bound to the same PSD kind share one evaluation
	cache := make(map[likelihood.ChannelKind][]float64, 2)
	for c, kind := range likelihood.NoiseKinds(tag) {
		inv, ok := cache[kind]
		if !ok {
			psd, err := noise.PSD(freqs, kind, model)
			if err != nil {
				return white, err
			}
			if len(psd) != len(freqs) {
				return white, lerrors.Configuration("noise model returned %d values for %d frequencies", len(psd), len(freqs)).
					WithComponent(component).WithOperation(op)
			}
			inv = make([]float64, len(psd))
			for k, s := range psd {
				if !(s > 0) || math.IsInf(s, 0) {
					return white, lerrors.Domain("%s PSD is %v at %v Hz", kind, s, freqs[k]).
						WithComponent(component).WithOperation(op)
				}
				inv[k] = 1 / math.Sqrt(s)
			}
			cache[kind] = inv
		}

		white[c] = append([]float64(nil), inv...)
		if weights != nil {
			for k := range white[c] {
				white[c][k] *= weights[k]
			}
		}
	}
	return white, nil
}

// Tag returns the channel convention.
func (c *Conditioner) Tag() likelihood.TDITag { return c.tag }

// Freqs returns the data grid.
func (c *Conditioner) Freqs() likelihood.Grid { return c.freqs }

// Data returns the whitened channels. Callers must not modify them.
func (c *Conditioner) Data() likelihood.ChannelSet { return c.data }

// Whitening returns the whitening sequences. Callers must not modify them.
func (c *Conditioner) Whitening() likelihood.Whitening { return c.whitening }

// SelfOverlap returns the cached d·d.
func (c *Conditioner) SelfOverlap() float64 { return c.dd }
