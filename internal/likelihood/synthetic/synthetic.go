// Package synthetic generates noiseless injection data by driving an Engine
// through its staged sequence.
package synthetic

import (
	"context"
	"math"

	"go.uber.org/zap"

	lerrors "github.com/copyleftdev/hmlike/internal/errors"
	"github.com/copyleftdev/hmlike/internal/likelihood"
	"github.com/copyleftdev/hmlike/internal/likelihood/grid"
	"github.com/copyleftdev/hmlike/internal/likelihood/matched"
)

const component = "synthetic"

const (
	// DefaultNumDataPoints is the default dense grid length.
	DefaultNumDataPoints = 1 << 19
	// DefaultNumGeneratePoints is the default generation grid length.
	DefaultNumGeneratePoints = 1 << 18
)

// Request describes an injection.
type Request struct {
	// Source holds the injected parameters in physical units.
	Source likelihood.Source
	// T0 is the detector orbit epoch in seconds.
	T0 float64
	// Modes are the injected harmonics.
	Modes []likelihood.Mode
	// TDITag is the channel convention of the output.
	TDITag string

	// Freqs is an explicit dense grid. When nil the grid is derived below.
	Freqs likelihood.Grid
	// NumDataPoints is the length of the log-spaced dense grid.
	NumDataPoints int
	// NumGeneratePoints is the length of the sparse generation grid.
	NumGeneratePoints int
	// DF, FMin and FMax select a uniform dense grid when DF > 0.
	DF   float64
	FMin float64
	FMax float64
}

// Dataset is a generated stream. Whitened is always false.
type Dataset struct {
	Tag           likelihood.TDITag
	Freqs         likelihood.Grid
	GenerateFreqs likelihood.Grid
	Channels      likelihood.ChannelSet
	Whitened      bool
	Source        likelihood.Source
}

// Option configures generation.
type Option func(*options)

type options struct {
	logger *zap.Logger
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// Generate builds the grids, runs every engine stage in order and sums the modes
// of each channel. The context is checked between stages; a stage in progress
// runs to completion.
func Generate(ctx context.Context, req Request, factory likelihood.EngineFactory, opts ...Option) (*Dataset, error) {
	const op = "Generate"

	o := options{logger: zap.NewNop()}
	for _, fn := range opts {
		fn(&o)
	}
	logger := o.logger.Named("synthetic")

	tag, err := likelihood.ParseTDITag(req.TDITag)
	if err != nil {
		return nil, err
	}
	if err := validateSource(req.Source); err != nil {
		return nil, err
	}
	if len(req.Modes) == 0 {
		return nil, lerrors.Configuration("at least one mode is required").WithComponent(component).WithOperation(op)
	}
	if factory == nil {
		return nil, lerrors.Configuration("engine factory is required").WithComponent(component).WithOperation(op)
	}

	freqs, err := dataGrid(req)
	if err != nil {
		return nil, err
	}
	ngen := req.NumGeneratePoints
	if ngen == 0 {
		ngen = DefaultNumGeneratePoints
	}
	gen, err := grid.Span(freqs, ngen)
	if err != nil {
		return nil, err
	}

	n := len(freqs)
	var data [3][]complex128
	var white likelihood.Whitening
	for c := 0; c < 3; c++ {
		data[c] = make([]complex128, n)
		white[c] = make([]float64, n)
		for k := range white[c] {
			white[c][k] = 1
		}
	}
	ls, ms := likelihood.SplitModes(req.Modes)
	engine, err := factory(likelihood.EngineConfig{
		Capacity:  len(gen),
		L:         ls,
		M:         ms,
		DataFreqs: freqs,
		Data:      data,
		Whitening: white,
		Selector:  tag.Selector(),
	})
	if err != nil {
		return nil, lerrors.Wrap(err, "constructing engine").WithComponent(component).WithOperation(op)
	}

	src := req.Source
	fm := grid.MergerFrequency(src.M1, src.M2)
	stages := []struct {
		name string
		run  func() error
	}{
		{"amplitude/phase", func() error {
			_, err := engine.ComputeAmplitudePhase(gen, src.Intrinsic)
			return err
		}},
		{"waveform interpolation", engine.PrepareWaveformInterpolation},
		{"detector response", func() error { return engine.ApplyDetectorResponse(src.Extrinsic, req.T0, fm) }},
		{"response interpolation", engine.PrepareResponseInterpolation},
		{"interpolation", engine.ExecuteInterpolation},
	}
	for _, st := range stages {
		if err := ctx.Err(); err != nil {
			return nil, lerrors.Wrap(err, "generation interrupted").WithComponent(component).WithOperation(op)
		}
		if err := st.run(); err != nil {
			return nil, lerrors.Wrap(err, st.name).WithComponent(component).WithOperation(op)
		}
	}
	modes, err := engine.ExtractTDIChannels()
	if err != nil {
		return nil, lerrors.Wrap(err, "extracting channels").WithComponent(component).WithOperation(op)
	}

	summed := modes.Sum()
	var cs likelihood.ChannelSet
	for c, label := range tag.Labels() {
		if len(summed[c]) != n {
			return nil, lerrors.Engine(errShape, "channel %s has %d bins, data grid has %d", label, len(summed[c]), n).
				WithComponent(component).WithOperation(op)
		}
		cs[c] = likelihood.Channel{Label: label, Data: summed[c]}
	}

	logger.Info("Generated injection",
		zap.String("tdi", string(tag)),
		zap.Int("modes", len(req.Modes)),
		zap.Int("data_points", n),
		zap.Int("generate_points", len(gen)),
		zap.Float64("m1", src.M1),
		zap.Float64("m2", src.M2),
	)

	return &Dataset{
		Tag:           tag,
		Freqs:         freqs,
		GenerateFreqs: gen,
		Channels:      cs,
		Whitened:      false,
		Source:        src,
	}, nil
}

// LikelihoodFromInjection generates data for req and builds a likelihood over
// it. The request inherits the tag, modes and epoch of cfg.
func LikelihoodFromInjection(ctx context.Context, cfg matched.Config, req Request, noise likelihood.NoiseModel, factory likelihood.EngineFactory, opts ...matched.Option) (*matched.Likelihood, *Dataset, error) {
	req.TDITag = cfg.TDITag
	req.Modes = cfg.Modes
	req.T0 = cfg.T0

	ds, err := Generate(ctx, req, factory)
	if err != nil {
		return nil, nil, err
	}
	cfg.DataWhitened = ds.Whitened
	lk, err := matched.New(cfg, ds.Freqs, ds.Channels.Map(), noise, factory, opts...)
	if err != nil {
		return nil, nil, err
	}
	return lk, ds, nil
}

// dataGrid returns the explicit grid, a uniform grid when DF is set, or the
// mass-dependent log grid.
func dataGrid(req Request) (likelihood.Grid, error) {
	const op = "dataGrid"

	if req.Freqs != nil {
		if err := req.Freqs.Validate(); err != nil {
			return nil, err
		}
		return req.Freqs, nil
	}
	if req.DF > 0 {
		if !(req.FMin > 0) || !(req.FMax > req.FMin) {
			return nil, lerrors.Configuration("uniform data grid needs 0 < fmin < fmax, got fmin=%v fmax=%v", req.FMin, req.FMax).
				WithComponent(component).WithOperation(op)
		}
		return grid.Uniform(req.FMin, req.FMax, req.DF)
	}
	n := req.NumDataPoints
	if n == 0 {
		n = DefaultNumDataPoints
	}
	return grid.NewBuilder(n).Sparse(req.Source.M1, req.Source.M2)
}

// validateSource reports absent injection parameters as configuration errors.
func validateSource(src likelihood.Source) error {
	required := []struct {
		name string
		v    float64
	}{{"m1", src.M1}, {"m2", src.M2}, {"distance", src.Distance}}
	for _, r := range required {
		if !(r.v > 0) || math.IsInf(r.v, 0) {
			return lerrors.Configuration("injection parameter %s is missing or invalid (%v)", r.name, r.v).
				WithComponent(component).WithOperation("validateSource")
		}
	}
	return nil
}

type syntheticError string

func (e syntheticError) Error() string { return string(e) }

const errShape = syntheticError("malformed engine output")
