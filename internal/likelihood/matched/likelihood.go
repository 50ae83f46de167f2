// Package matched implements the matched-filter negative log-likelihood of a
// three-channel data stream against multi-mode templates produced by an Engine.
package matched

import (
	"sync"

	"go.uber.org/zap"

	lerrors "github.com/copyleftdev/hmlike/internal/errors"
	"github.com/copyleftdev/hmlike/internal/likelihood"
	"github.com/copyleftdev/hmlike/internal/likelihood/grid"
)

const component = "matched"

// Config configures a Likelihood.
type Config struct {
	// TDITag is the channel convention, AET or XYZ.
	TDITag string
	// MinDimensionless and MaxDimensionless bound the generation window in units of 1/M.
	MinDimensionless float64
	MaxDimensionless float64
	// MaxLengthInit is the sparse grid length and the engine capacity.
	MaxLengthInit int
	// LogScaledLikelihood applies the grid measure weights to the whitening.
	LogScaledLikelihood bool
	// DataWhitened reports that the supplied data are already whitened.
	DataWhitened bool
	// T0 is the reference epoch of the detector orbit in seconds.
	T0 float64
	// Modes are the harmonics in the template.
	Modes []likelihood.Mode
	// NoiseModelName is passed to the noise model.
	NoiseModelName string
}

// DefaultConfig returns the reference configuration.
func DefaultConfig() Config {
	return Config{
		TDITag:              string(likelihood.TagAET),
		MinDimensionless:    grid.DefaultMinDimensionless,
		MaxDimensionless:    grid.DefaultMaxDimensionless,
		MaxLengthInit:       1 << 10,
		LogScaledLikelihood: true,
		DataWhitened:        true,
		T0:                  likelihood.JulianYear,
		Modes:               likelihood.DefaultModes,
	}
}

// Option configures a Likelihood.
type Option func(*Likelihood)

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(l *Likelihood) {
		if logger != nil {
			l.logger = logger.Named("likelihood")
		}
	}
}

// Likelihood evaluates the NLL for one conditioned data stream. Calls are
// serialised, so one Likelihood may be shared between goroutines, but it never
// evaluates concurrently; build one per worker for parallel sweeps.
type Likelihood struct {
	cfg     Config
	tag     likelihood.TDITag
	cond    *Conditioner
	builder grid.Builder
	logger  *zap.Logger

	mu     sync.Mutex
	engine likelihood.Engine
}

// New conditions the data and constructs the engine.
func New(cfg Config, freqs likelihood.Grid, data map[string][]complex128, noise likelihood.NoiseModel, factory likelihood.EngineFactory, opts ...Option) (*Likelihood, error) {
	const op = "New"

	tag, err := likelihood.ParseTDITag(cfg.TDITag)
	if err != nil {
		return nil, err
	}
	if cfg.MaxLengthInit < 2 {
		return nil, lerrors.Configuration("max_length_init must be at least 2, got %d", cfg.MaxLengthInit).
			WithComponent(component).WithOperation(op)
	}
	if len(cfg.Modes) == 0 {
		return nil, lerrors.Configuration("at least one mode is required").WithComponent(component).WithOperation(op)
	}
	if factory == nil {
		return nil, lerrors.Configuration("engine factory is required").WithComponent(component).WithOperation(op)
	}

	cond, err := NewConditioner(ConditionerConfig{
		Tag:            tag,
		NoiseModelName: cfg.NoiseModelName,
		LogScaled:      cfg.LogScaledLikelihood,
		Whitened:       cfg.DataWhitened,
	}, freqs, data, noise)
	if err != nil {
		return nil, err
	}

	return NewFromConditioner(cfg, cond, factory, opts...)
}

// NewFromConditioner builds a Likelihood over an existing Conditioner. Several
// likelihoods may share one Conditioner.
func NewFromConditioner(cfg Config, cond *Conditioner, factory likelihood.EngineFactory, opts ...Option) (*Likelihood, error) {
	const op = "NewFromConditioner"

	tag, err := likelihood.ParseTDITag(cfg.TDITag)
	if err != nil {
		return nil, err
	}
	if tag != cond.Tag() {
		return nil, lerrors.Configuration("likelihood tag %s does not match conditioned data tag %s", tag, cond.Tag()).
			WithComponent(component).WithOperation(op)
	}

	ls, ms := likelihood.SplitModes(cfg.Modes)
	var data [3][]complex128
	for c, ch := range cond.Data() {
		data[c] = ch.Data
	}
	engine, err := factory(likelihood.EngineConfig{
		Capacity:  cfg.MaxLengthInit,
		L:         ls,
		M:         ms,
		DataFreqs: cond.Freqs(),
		Data:      data,
		Whitening: cond.Whitening(),
		Selector:  tag.Selector(),
	})
	if err != nil {
		return nil, lerrors.Wrap(err, "constructing engine").WithComponent(component).WithOperation(op)
	}

	l := &Likelihood{
		cfg:  cfg,
		tag:  tag,
		cond: cond,
		builder: grid.Builder{
			MinDimensionless: cfg.MinDimensionless,
			MaxDimensionless: cfg.MaxDimensionless,
			Length:           cfg.MaxLengthInit,
		},
		logger: zap.NewNop(),
		engine: engine,
	}
	for _, o := range opts {
		o(l)
	}
	l.logger.Info("Likelihood ready",
		zap.String("tdi", string(tag)),
		zap.Int("modes", len(cfg.Modes)),
		zap.Int("data_points", len(cond.Freqs())),
		zap.Float64("dd", cond.SelfOverlap()),
	)
	return l, nil
}

// Evaluate returns the NLL at the sampling-space parameters p on the
// mass-dependent sparse grid.
func (l *Likelihood) Evaluate(p likelihood.Parameters) (float64, error) {
	return l.NLL(p.Physical(), nil)
}

// EvaluateOnGrid is Evaluate with an explicit sparse grid.
func (l *Likelihood) EvaluateOnGrid(p likelihood.Parameters, freqs likelihood.Grid) (float64, error) {
	return l.NLL(p.Physical(), freqs)
}

// Overlaps are the three inner products of one evaluation.
type Overlaps struct {
	DD float64 `json:"dd"`
	DH float64 `json:"dh"`
	HH float64 `json:"hh"`
}

// NLL returns d·d + h·h − 2·d·h.
func (o Overlaps) NLL() float64 {
	return o.DD + o.HH - 2*o.DH
}

// NLL returns d·d + h·h − 2·d·h for a physical-unit source. A nil freqs selects
// the mass-dependent sparse grid.
func (l *Likelihood) NLL(src likelihood.Source, freqs likelihood.Grid) (float64, error) {
	ov, err := l.Overlaps(src, freqs)
	if err != nil {
		return 0, err
	}
	return ov.NLL(), nil
}

// Overlaps returns d·d, d·h and h·h for a physical-unit source.
func (l *Likelihood) Overlaps(src likelihood.Source, freqs likelihood.Grid) (Overlaps, error) {
	out, err := l.evaluate("NLL", src, freqs, likelihood.OutputLikelihood)
	if err != nil {
		return Overlaps{}, err
	}
	ov := Overlaps{DD: l.cond.SelfOverlap(), DH: out.DH, HH: out.HH}

	l.logger.Debug("Evaluated likelihood",
		zap.Float64("nll", ov.NLL()),
		zap.Float64("dh", ov.DH),
		zap.Float64("hh", ov.HH),
		zap.Float64("m1", src.M1),
		zap.Float64("m2", src.M2),
	)
	return ov, nil
}

// AmplitudePhase returns the per-mode amplitude and phase on the sparse grid.
func (l *Likelihood) AmplitudePhase(p likelihood.Parameters, freqs likelihood.Grid) (*likelihood.AmplitudePhase, error) {
	out, err := l.evaluate("AmplitudePhase", p.Physical(), freqs, likelihood.OutputAmplitudePhase)
	if err != nil {
		return nil, err
	}
	if out.AmplitudePhase == nil {
		return nil, lerrors.Engine(errMalformed, "engine returned no amplitude and phase").
			WithComponent(component).WithOperation("AmplitudePhase")
	}
	return out.AmplitudePhase, nil
}

// TemplateTDI returns the whitened template channels on the data grid, labelled
// under the likelihood's tag. The template is not retained.
func (l *Likelihood) TemplateTDI(p likelihood.Parameters, freqs likelihood.Grid) (likelihood.ChannelSet, error) {
	var cs likelihood.ChannelSet
	out, err := l.evaluate("TemplateTDI", p.Physical(), freqs, likelihood.OutputTDI)
	if err != nil {
		return cs, err
	}
	n := len(l.cond.Freqs())
	for c, label := range l.tag.Labels() {
		if len(out.TDI[c]) != n {
			return cs, lerrors.Engine(errMalformed, "channel %s has %d bins, data grid has %d", label, len(out.TDI[c]), n).
				WithComponent(component).WithOperation("TemplateTDI")
		}
		cs[c] = likelihood.Channel{Label: label, Data: out.TDI[c]}
	}
	return cs, nil
}

func (l *Likelihood) evaluate(op string, src likelihood.Source, freqs likelihood.Grid, mode likelihood.OutputMode) (likelihood.Output, error) {
	var out likelihood.Output
	if err := src.Validate(); err != nil {
		return out, err
	}
	if freqs == nil {
		var err error
		if freqs, err = l.builder.Sparse(src.M1, src.M2); err != nil {
			return out, err
		}
	} else if err := freqs.Validate(); err != nil {
		return out, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	out, err := l.engine.EvaluateLikelihood(freqs, src, l.cfg.T0, grid.MergerFrequency(src.M1, src.M2), mode)
	if err != nil {
		return out, lerrors.Wrap(err, "evaluating template").WithComponent(component).WithOperation(op)
	}
	return out, nil
}

// SelfOverlap returns the cached d·d.
func (l *Likelihood) SelfOverlap() float64 { return l.cond.SelfOverlap() }

// Conditioner returns the conditioned data.
func (l *Likelihood) Conditioner() *Conditioner { return l.cond }

// Tag returns the channel convention.
func (l *Likelihood) Tag() likelihood.TDITag { return l.tag }

// Config returns the configuration the likelihood was built with.
func (l *Likelihood) Config() Config { return l.cfg }

type matchedError string

func (e matchedError) Error() string { return string(e) }

const errMalformed = matchedError("malformed engine output")
