package synthetic

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	lerrors "github.com/copyleftdev/hmlike/internal/errors"
	"github.com/copyleftdev/hmlike/internal/likelihood"
	"github.com/copyleftdev/hmlike/internal/likelihood/derivative"
	"github.com/copyleftdev/hmlike/internal/likelihood/grid"
	"github.com/copyleftdev/hmlike/internal/likelihood/matched"
	"github.com/copyleftdev/hmlike/internal/likelihood/noise"
	"github.com/copyleftdev/hmlike/internal/likelihood/waveform"
)

func injectedSource() likelihood.Source {
	return likelihood.Source{
		Intrinsic: likelihood.Intrinsic{
			M1:       5e5,
			M2:       1e5,
			Spin1:    0.8,
			Spin2:    0.8,
			Distance: 1e4 * likelihood.MegaParsec,
			PhaseRef: 0.3,
			FreqRef:  1e-3,
		},
		Extrinsic: likelihood.Extrinsic{
			Inclination:  math.Pi / 3,
			Longitude:    math.Pi / 4,
			Latitude:     math.Pi / 5,
			Polarization: math.Pi / 6,
			TimeRef:      3600,
		},
	}
}

// testConfig keeps the grids small; the generation grid matches the likelihood's
// sparse grid so data and template share interpolation knots.
func testConfig(tag likelihood.TDITag) (matched.Config, Request) {
	cfg := matched.DefaultConfig()
	cfg.TDITag = string(tag)
	cfg.MaxLengthInit = 1 << 10

	req := Request{
		Source:            injectedSource(),
		NumDataPoints:     1 << 12,
		NumGeneratePoints: cfg.MaxLengthInit,
	}
	return cfg, req
}

func newInjection(t *testing.T, tag likelihood.TDITag) (*matched.Likelihood, *Dataset) {
	t.Helper()
	cfg, req := testConfig(tag)
	lk, ds, err := LikelihoodFromInjection(context.Background(), cfg, req, noise.NewLISA(), waveform.NewFactory(),
		matched.WithLogger(zaptest.NewLogger(t)))
	require.NoError(t, err)
	return lk, ds
}

func TestGenerateShapes(t *testing.T) {
	cfg, req := testConfig(likelihood.TagAET)
	req.TDITag = cfg.TDITag
	req.Modes = cfg.Modes
	req.T0 = cfg.T0

	ds, err := Generate(context.Background(), req, waveform.NewFactory(), WithLogger(zaptest.NewLogger(t)))
	require.NoError(t, err)

	assert.False(t, ds.Whitened)
	assert.Equal(t, likelihood.TagAET, ds.Tag)
	assert.Len(t, ds.Freqs, req.NumDataPoints)
	assert.Len(t, ds.GenerateFreqs, req.NumGeneratePoints)
	assert.Equal(t, [3]string{"A", "E", "T"}, [3]string{ds.Channels[0].Label, ds.Channels[1].Label, ds.Channels[2].Label})

	lo, hi := ds.Freqs.Bounds()
	glo, ghi := ds.GenerateFreqs.Bounds()
	assert.InEpsilon(t, lo, glo, 1e-12)
	assert.InEpsilon(t, hi, ghi, 1e-12)
	assert.Greater(t, ds.Channels.SelfOverlap(), 0.0)
}

func TestGenerateUniformGrid(t *testing.T) {
	_, req := testConfig(likelihood.TagXYZ)
	req.TDITag = "XYZ"
	req.Modes = []likelihood.Mode{{L: 2, M: 2}}
	req.DF, req.FMin, req.FMax = 1e-5, 1e-4, 1e-2
	req.NumGeneratePoints = 256

	ds, err := Generate(context.Background(), req, waveform.NewFactory())
	require.NoError(t, err)
	assert.Len(t, ds.Freqs, int(math.Ceil((1e-2+1e-5-1e-4)/1e-5)))
	assert.InDelta(t, 1e-4, ds.Freqs[0], 1e-18)
	assert.Equal(t, "X", ds.Channels[0].Label)
}

func TestGenerateConfigurationErrors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Request)
	}{
		{"missing m1", func(r *Request) { r.Source.M1 = 0 }},
		{"missing m2", func(r *Request) { r.Source.M2 = 0 }},
		{"missing distance", func(r *Request) { r.Source.Distance = 0 }},
		{"bad tag", func(r *Request) { r.TDITag = "AEX" }},
		{"no modes", func(r *Request) { r.Modes = nil }},
		{"uniform grid without bounds", func(r *Request) { r.DF = 1e-5 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, req := testConfig(likelihood.TagAET)
			req.TDITag = "AET"
			req.Modes = likelihood.DefaultModes
			tt.mutate(&req)

			_, err := Generate(context.Background(), req, waveform.NewFactory())
			require.Error(t, err)
			assert.True(t, lerrors.IsKind(err, lerrors.KindConfiguration), "got %v", err)
		})
	}
}

func TestGenerateCancelled(t *testing.T) {
	_, req := testConfig(likelihood.TagAET)
	req.TDITag = "AET"
	req.Modes = likelihood.DefaultModes

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Generate(ctx, req, waveform.NewFactory())
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestInjectionIsMinimum(t *testing.T) {
	for _, tag := range []likelihood.TDITag{likelihood.TagAET, likelihood.TagXYZ} {
		t.Run(string(tag), func(t *testing.T) {
			lk, ds := newInjection(t, tag)
			dd := lk.SelfOverlap()
			require.Greater(t, dd, 0.0)

			nll, err := lk.Evaluate(ds.Source.Parameters())
			require.NoError(t, err)
			assert.Less(t, math.Abs(nll)/dd, 1e-8, "nll=%v dd=%v", nll, dd)

			// every overlap reproduces d·d
			ov, err := lk.Overlaps(ds.Source, nil)
			require.NoError(t, err)
			assert.InEpsilon(t, dd, ov.HH, 1e-8)
			assert.InEpsilon(t, dd, ov.DH, 1e-8)

			// moving away costs likelihood
			p := ds.Source.Parameters()
			p[likelihood.IndexPolarization] += 0.2
			off, err := lk.Evaluate(p)
			require.NoError(t, err)
			assert.Greater(t, off, 1e-6*dd)
		})
	}
}

func TestEvaluateIsRepeatable(t *testing.T) {
	lk, ds := newInjection(t, likelihood.TagAET)
	p := ds.Source.Parameters()
	p[likelihood.IndexInclination] += 0.05
	p[likelihood.IndexLnM1] += 1e-3

	first, err := lk.Evaluate(p)
	require.NoError(t, err)
	second, err := lk.Evaluate(p)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestGradientVanishesAtInjection(t *testing.T) {
	lk, ds := newInjection(t, likelihood.TagAET)

	// relative steps on the log masses shift the sparse grid and the chirp phase
	// too far for a symmetric stencil, so the masses are left out
	indices := []int{
		likelihood.IndexSpin1, likelihood.IndexSpin2, likelihood.IndexLnDistance,
		likelihood.IndexPhaseRef, likelihood.IndexFreqRef, likelihood.IndexInclination,
		likelihood.IndexLongitude, likelihood.IndexLatitude, likelihood.IndexPolarization,
		likelihood.IndexTimeRef,
	}
	eng, err := derivative.New(lk, derivative.Config{Indices: indices})
	require.NoError(t, err)

	x := ds.Source.Parameters()
	grad, err := eng.Gradient(context.Background(), x)
	require.NoError(t, err)

	dd := lk.SelfOverlap()
	for j, i := range indices {
		assert.Less(t, math.Abs(grad[j]*x[i]), 1e-6*dd, "%s", likelihood.ParamNames[i])
	}
	assert.Equal(t, int64(2*len(indices)), eng.Stats().Evaluations)
}

func TestWhiteningInvariance(t *testing.T) {
	cfg, req := testConfig(likelihood.TagAET)
	req.TDITag, req.Modes, req.T0 = cfg.TDITag, cfg.Modes, cfg.T0
	ds, err := Generate(context.Background(), req, waveform.NewFactory())
	require.NoError(t, err)
	cfg.DataWhitened = false

	const c = 4.0
	base, err := matched.New(cfg, ds.Freqs, ds.Channels.Map(), noise.NewLISA(), waveform.NewFactory())
	require.NoError(t, err)
	scaled, err := matched.New(cfg, ds.Freqs, ds.Channels.Map(), noise.Scaled{Model: noise.NewLISA(), Factor: c}, waveform.NewFactory())
	require.NoError(t, err)

	assert.InEpsilon(t, base.SelfOverlap()/c, scaled.SelfOverlap(), 1e-12)

	p := ds.Source.Parameters()
	p[likelihood.IndexInclination] += 0.1
	src := p.Physical()

	ob, err := base.Overlaps(src, nil)
	require.NoError(t, err)
	oc, err := scaled.Overlaps(src, nil)
	require.NoError(t, err)

	assert.InEpsilon(t, ob.HH/c, oc.HH, 1e-12)
	assert.InEpsilon(t, ob.DH/c, oc.DH, 1e-12)
	assert.InEpsilon(t, ob.NLL()/c, oc.NLL(), 1e-8)
}

func TestMissingChannelIsConfigurationError(t *testing.T) {
	_, ds := newInjection(t, likelihood.TagAET)
	stream := ds.Channels.Map()
	delete(stream, "T")

	cfg, _ := testConfig(likelihood.TagAET)
	_, err := matched.New(cfg, ds.Freqs, stream, noise.NewLISA(), waveform.NewFactory())
	require.Error(t, err)
	assert.True(t, lerrors.IsKind(err, lerrors.KindConfiguration))
}

func TestInclinationScan(t *testing.T) {
	const (
		points = 4096
		scan   = 100
		width  = 0.15
	)
	freqs, err := grid.LogSpaced(1e-5, 1e-1, points)
	require.NoError(t, err)

	cfg := matched.DefaultConfig()
	cfg.MaxLengthInit = points
	cfg.Modes = []likelihood.Mode{{L: 2, M: 2}, {L: 2, M: 1}}

	src := injectedSource()
	src.M1, src.M2 = 2e5, 1e5
	req := Request{Source: src, Freqs: freqs, NumGeneratePoints: points}

	lk, ds, err := LikelihoodFromInjection(context.Background(), cfg, req, noise.NewLISA(), waveform.NewFactory())
	require.NoError(t, err)

	truth := src.Inclination
	incs := make([]float64, scan)
	nll := make([]float64, scan)
	for k := range incs {
		incs[k] = truth - width + 2*width*float64(k)/float64(scan-1)
		p := ds.Source.Parameters()
		p[likelihood.IndexInclination] = incs[k]
		nll[k], err = lk.EvaluateOnGrid(p, ds.GenerateFreqs)
		require.NoError(t, err)
	}

	for k := 0; k+1 < scan; k++ {
		switch {
		case incs[k+1] < truth:
			assert.Greater(t, nll[k], nll[k+1], "below truth at inc=%v", incs[k])
		case incs[k] > truth:
			assert.Less(t, nll[k], nll[k+1], "above truth at inc=%v", incs[k])
		}
	}
}
