package waveform

import (
	"errors"
	"math"
	"math/cmplx"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	lerrors "github.com/copyleftdev/hmlike/internal/errors"
	"github.com/copyleftdev/hmlike/internal/likelihood"
	"github.com/copyleftdev/hmlike/internal/likelihood/grid"
)

const (
	testM1 = 2e5
	testM2 = 1e5
)

func testSource() likelihood.Source {
	return likelihood.Source{
		Intrinsic: likelihood.Intrinsic{
			M1:       testM1,
			M2:       testM2,
			Spin1:    0.3,
			Spin2:    -0.2,
			Distance: 1e4 * likelihood.MegaParsec,
			PhaseRef: 0.4,
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

func testConfig(t *testing.T, selector likelihood.Selector, modes []likelihood.Mode) likelihood.EngineConfig {
	t.Helper()

	lower, upper, err := grid.NewBuilder(2).Window(testM1, testM2)
	require.NoError(t, err)
	dense, err := grid.LogSpaced(lower, upper, 512)
	require.NoError(t, err)

	var data [3][]complex128
	var white likelihood.Whitening
	for c := 0; c < 3; c++ {
		data[c] = make([]complex128, len(dense))
		white[c] = make([]float64, len(dense))
		for k := range white[c] {
			white[c][k] = 1
		}
	}
	ls, ms := likelihood.SplitModes(modes)
	return likelihood.EngineConfig{
		Capacity:  128,
		L:         ls,
		M:         ms,
		DataFreqs: dense,
		Data:      data,
		Whitening: white,
		Selector:  selector,
	}
}

func sparseGrid(t *testing.T) likelihood.Grid {
	t.Helper()
	g, err := grid.NewBuilder(128).Sparse(testM1, testM2)
	require.NoError(t, err)
	return g
}

func TestNewValidation(t *testing.T) {
	modes := []likelihood.Mode{{L: 2, M: 2}}

	tests := []struct {
		name   string
		mutate func(*likelihood.EngineConfig)
	}{
		{"zero capacity", func(c *likelihood.EngineConfig) { c.Capacity = 0 }},
		{"unpaired modes", func(c *likelihood.EngineConfig) { c.M = append(c.M, 1) }},
		{"no modes", func(c *likelihood.EngineConfig) { c.L, c.M = nil, nil }},
		{"m above l", func(c *likelihood.EngineConfig) { c.L, c.M = []int{2}, []int{3} }},
		{"bad selector", func(c *likelihood.EngineConfig) { c.Selector = 7 }},
		{"short whitening", func(c *likelihood.EngineConfig) { c.Whitening[2] = c.Whitening[2][:3] }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig(t, likelihood.SelectorAET, modes)
			tt.mutate(&cfg)
			_, err := New(cfg)
			require.Error(t, err)
			assert.True(t, lerrors.IsKind(err, lerrors.KindConfiguration), "got %v", err)
		})
	}
}

func TestReferenceStagedRun(t *testing.T) {
	modes := likelihood.DefaultModes
	cfg := testConfig(t, likelihood.SelectorAET, modes)
	eng, err := New(cfg, WithLogger(zaptest.NewLogger(t)))
	require.NoError(t, err)

	src := testSource()
	freqs := sparseGrid(t)

	ap, err := eng.ComputeAmplitudePhase(freqs, src.Intrinsic)
	require.NoError(t, err)
	rows, cols := ap.Amplitude.Dims()
	assert.Equal(t, len(modes), rows)
	assert.Equal(t, len(freqs), cols)
	assert.Equal(t, AmplitudesReady, eng.State())

	// the 22 amplitude falls with frequency below merger
	amp22 := ap.Amplitude.RawRowView(0)
	assert.Greater(t, amp22[0], amp22[10])
	assert.Greater(t, amp22[0], 0.0)

	require.NoError(t, eng.PrepareWaveformInterpolation())
	require.NoError(t, eng.ApplyDetectorResponse(src.Extrinsic, likelihood.JulianYear, grid.MergerFrequency(testM1, testM2)))
	require.NoError(t, eng.PrepareResponseInterpolation())
	require.NoError(t, eng.ExecuteInterpolation())
	assert.Equal(t, Combined, eng.State())

	channels, err := eng.ExtractTDIChannels()
	require.NoError(t, err)
	for c := 0; c < 3; c++ {
		require.Len(t, channels[c], len(modes))
		for _, row := range channels[c] {
			assert.Len(t, row, len(cfg.DataFreqs))
		}
	}

	var power float64
	for _, v := range channels.Sum()[0] {
		power += real(v)*real(v) + imag(v)*imag(v)
	}
	assert.Greater(t, power, 0.0)
}

func TestReferenceOutOfOrder(t *testing.T) {
	eng, err := New(testConfig(t, likelihood.SelectorAET, likelihood.DefaultModes))
	require.NoError(t, err)

	err = eng.ApplyDetectorResponse(testSource().Extrinsic, 0, 0)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrOutOfOrder))

	_, err = eng.ExtractTDIChannels()
	assert.True(t, errors.Is(err, ErrOutOfOrder))
}

func TestReferenceCapacity(t *testing.T) {
	cfg := testConfig(t, likelihood.SelectorAET, likelihood.DefaultModes)
	cfg.Capacity = 16
	eng, err := New(cfg)
	require.NoError(t, err)

	_, err = eng.ComputeAmplitudePhase(sparseGrid(t), testSource().Intrinsic)
	require.Error(t, err)
	assert.True(t, lerrors.IsKind(err, lerrors.KindEngine))
}

func TestEvaluateLikelihoodMatchesStagedChannels(t *testing.T) {
	cfg := testConfig(t, likelihood.SelectorAET, likelihood.DefaultModes)
	eng, err := New(cfg)
	require.NoError(t, err)

	src := testSource()
	freqs := sparseGrid(t)
	fm := grid.MergerFrequency(testM1, testM2)

	_, err = eng.ComputeAmplitudePhase(freqs, src.Intrinsic)
	require.NoError(t, err)
	require.NoError(t, eng.PrepareWaveformInterpolation())
	require.NoError(t, eng.ApplyDetectorResponse(src.Extrinsic, 0, fm))
	require.NoError(t, eng.PrepareResponseInterpolation())
	require.NoError(t, eng.ExecuteInterpolation())
	channels, err := eng.ExtractTDIChannels()
	require.NoError(t, err)
	staged := channels.Sum()

	out, err := eng.EvaluateLikelihood(freqs, src, 0, fm, likelihood.OutputTDI)
	require.NoError(t, err)

	var hh float64
	for c := 0; c < 3; c++ {
		require.Len(t, out.TDI[c], len(cfg.DataFreqs))
		for k := range staged[c] {
			assert.InDelta(t, 0, cmplx.Abs(out.TDI[c][k]-staged[c][k]), 1e-12*(1+cmplx.Abs(staged[c][k])))
			v := out.TDI[c][k]
			hh += real(v)*real(v) + imag(v)*imag(v)
		}
	}
	assert.InEpsilon(t, 4*hh, out.HH, 1e-12)
	// data are zero
	assert.Equal(t, 0.0, out.DH)
}

func TestEvaluateLikelihoodAmplitudePhaseMode(t *testing.T) {
	eng, err := New(testConfig(t, likelihood.SelectorAET, []likelihood.Mode{{L: 2, M: 2}}))
	require.NoError(t, err)

	out, err := eng.EvaluateLikelihood(sparseGrid(t), testSource(), 0, 0, likelihood.OutputAmplitudePhase)
	require.NoError(t, err)
	require.NotNil(t, out.AmplitudePhase)
	assert.Equal(t, AmplitudesReady, eng.State())
	assert.Zero(t, out.HH)
}

func TestEvaluateLikelihoodDeterministic(t *testing.T) {
	eng, err := New(testConfig(t, likelihood.SelectorXYZ, likelihood.DefaultModes))
	require.NoError(t, err)

	src := testSource()
	freqs := sparseGrid(t)
	first, err := eng.EvaluateLikelihood(freqs, src, 0, 0, likelihood.OutputLikelihood)
	require.NoError(t, err)
	second, err := eng.EvaluateLikelihood(freqs, src, 0, 0, likelihood.OutputLikelihood)
	require.NoError(t, err)

	assert.Equal(t, first.HH, second.HH)
	assert.Greater(t, first.HH, 0.0)
}

func TestSelectorsShareTotalPower(t *testing.T) {
	src := testSource()
	freqs := sparseGrid(t)

	var hh [2]float64
	for i, sel := range []likelihood.Selector{likelihood.SelectorAET, likelihood.SelectorXYZ} {
		eng, err := New(testConfig(t, sel, likelihood.DefaultModes))
		require.NoError(t, err)
		out, err := eng.EvaluateLikelihood(freqs, src, 0, 0, likelihood.OutputLikelihood)
		require.NoError(t, err)
		hh[i] = out.HH
	}
	// the AET combination is an orthogonal transform of XYZ
	assert.InEpsilon(t, hh[0], hh[1], 1e-9)
}

func TestXYZRoundTrip(t *testing.T) {
	a, e, tt := complex(1, 2), complex(-0.5, 0.25), complex(0.1, -3)
	xyz := aetToXYZ(a, e, tt)
	aet := XYZToAET(xyz[0], xyz[1], xyz[2])

	assert.InDelta(t, 0, cmplx.Abs(aet[0]-a), 1e-14)
	assert.InDelta(t, 0, cmplx.Abs(aet[1]-e), 1e-14)
	assert.InDelta(t, 0, cmplx.Abs(aet[2]-tt), 1e-14)
}
