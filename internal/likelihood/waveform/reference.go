// Package waveform provides the staged waveform/response engine the likelihood
// drives, an ordering guard for its call sequence, and a CPU reference engine.
//
// The reference engine is a leading-order post-Newtonian stationary-phase model with
// a long-wavelength rotating-detector response. It honours the engine contract
// (staged calls, sparse-to-dense interpolation, whitened inner products) and is
// smooth in every parameter, which is what the likelihood and derivative code
// depend on. It is not an inspiral-merger-ringdown model.
package waveform

import (
	"math"
	"math/cmplx"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/mat"

	lerrors "github.com/copyleftdev/hmlike/internal/errors"
	"github.com/copyleftdev/hmlike/internal/likelihood"
	"github.com/copyleftdev/hmlike/internal/likelihood/grid"
)

const component = "waveform"

// Option configures a Reference engine.
type Option func(*Reference)

// WithLogger sets the engine logger.
func WithLogger(logger *zap.Logger) Option {
	return func(r *Reference) {
		if logger != nil {
			r.logger = logger.Named("reference_engine")
		}
	}
}

// NewFactory returns an EngineFactory producing Reference engines.
func NewFactory(opts ...Option) likelihood.EngineFactory {
	return func(cfg likelihood.EngineConfig) (likelihood.Engine, error) {
		return New(cfg, opts...)
	}
}

// Reference is the CPU reference engine. It is not safe for concurrent use.
type Reference struct {
	cfg    likelihood.EngineConfig
	modes  []likelihood.Mode
	stage  Stage
	logger *zap.Logger

	// sparse-grid products
	freqs    likelihood.Grid
	src      likelihood.Intrinsic
	amp      *mat.Dense // modes x sparse
	phase    *mat.Dense // modes x sparse
	transRe  [3]*mat.Dense
	transIm  [3]*mat.Dense
	shift    *mat.Dense // response phase shift, modes x sparse
	ampFit   []spline
	phaseFit []spline
	reFit    [3][]spline
	imFit    [3][]spline
	shiftFit []spline

	// dense-grid products
	channels likelihood.ModeChannels
}

var _ likelihood.Engine = (*Reference)(nil)

// New validates cfg and returns a Reference engine in the Constructed state.
func New(cfg likelihood.EngineConfig, opts ...Option) (*Reference, error) {
	const op = "New"

	if cfg.Capacity < 2 {
		return nil, lerrors.Configuration("sparse grid capacity must be at least 2, got %d", cfg.Capacity).
			WithComponent(component).WithOperation(op)
	}
	if len(cfg.L) == 0 || len(cfg.L) != len(cfg.M) {
		return nil, lerrors.Configuration("mode arrays must be non-empty and paired, got %d l and %d m values",
			len(cfg.L), len(cfg.M)).WithComponent(component).WithOperation(op)
	}
	modes := make([]likelihood.Mode, len(cfg.L))
	for i := range cfg.L {
		l, m := cfg.L[i], cfg.M[i]
		if l < 2 || m < 1 || m > l {
			return nil, lerrors.Configuration("unsupported mode (%d,%d)", l, m).
				WithComponent(component).WithOperation(op)
		}
		modes[i] = likelihood.Mode{L: l, M: m}
	}
	if cfg.Selector != likelihood.SelectorAET && cfg.Selector != likelihood.SelectorXYZ {
		return nil, lerrors.Configuration("unknown TDI selector %d", cfg.Selector).
			WithComponent(component).WithOperation(op)
	}
	if err := cfg.DataFreqs.Validate(); err != nil {
		return nil, lerrors.Configuration("invalid data grid: %v", err).
			WithComponent(component).WithOperation(op)
	}
	n := len(cfg.DataFreqs)
	for c := 0; c < 3; c++ {
		if len(cfg.Data[c]) != n || len(cfg.Whitening[c]) != n {
			return nil, lerrors.Configuration("channel %d has %d data and %d whitening values, data grid has %d",
				c+1, len(cfg.Data[c]), len(cfg.Whitening[c]), n).WithComponent(component).WithOperation(op)
		}
	}

	r := &Reference{
		cfg:    cfg,
		modes:  modes,
		logger: zap.NewNop(),
	}
	for _, o := range opts {
		o(r)
	}
	return r, nil
}

// State returns the current stage.
func (r *Reference) State() State {
	return r.stage.Current()
}

// ComputeAmplitudePhase evaluates per-mode amplitude and phase on the sparse grid.
func (r *Reference) ComputeAmplitudePhase(freqs likelihood.Grid, src likelihood.Intrinsic) (*likelihood.AmplitudePhase, error) {
	const op = "ComputeAmplitudePhase"

	if len(freqs) > r.cfg.Capacity {
		return nil, lerrors.Engine(errCapacity, "sparse grid of %d points exceeds capacity %d", len(freqs), r.cfg.Capacity).
			WithComponent(component).WithOperation(op)
	}
	if err := freqs.Validate(); err != nil {
		return nil, err
	}
	if err := (likelihood.Source{Intrinsic: src}).Validate(); err != nil {
		return nil, err
	}

	nm, nf := len(r.modes), len(freqs)
	r.freqs = freqs
	r.src = src
	r.amp = mat.NewDense(nm, nf, nil)
	r.phase = mat.NewDense(nm, nf, nil)

	pn := newInspiral(src)
	for i, md := range r.modes {
		amp := r.amp.RawRowView(i)
		phase := r.phase.RawRowView(i)
		for k, f := range freqs {
			amp[k], phase[k] = pn.mode(md, f)
		}
	}

	if err := r.stage.Advance(op, AmplitudesReady); err != nil {
		return nil, err
	}
	r.logger.Debug("Computed amplitude and phase",
		zap.Int("modes", nm),
		zap.Int("points", nf),
		zap.Float64("f_min", freqs[0]),
		zap.Float64("f_max", freqs[nf-1]),
	)

	return &likelihood.AmplitudePhase{
		Freqs:     append(likelihood.Grid(nil), freqs...),
		Modes:     append([]likelihood.Mode(nil), r.modes...),
		Amplitude: mat.DenseCopyOf(r.amp),
		Phase:     mat.DenseCopyOf(r.phase),
	}, nil
}

// PrepareWaveformInterpolation fits splines to amplitude and phase.
func (r *Reference) PrepareWaveformInterpolation() error {
	const op = "PrepareWaveformInterpolation"

	if err := r.stage.Require(op, AmplitudesReady); err != nil {
		return err
	}
	var err error
	if r.ampFit, err = fitRows(r.freqs, r.amp); err != nil {
		return lerrors.Engine(err, "amplitude spline").WithComponent(component).WithOperation(op)
	}
	if r.phaseFit, err = fitRows(r.freqs, r.phase); err != nil {
		return lerrors.Engine(err, "phase spline").WithComponent(component).WithOperation(op)
	}
	return r.stage.Advance(op, WaveformInterpolated)
}

// ApplyDetectorResponse evaluates the per-mode, per-channel transfer functions on
// the sparse grid. t0 is the epoch of the detector orbit; mergerFreq bounds the
// time-to-merger mapping.
func (r *Reference) ApplyDetectorResponse(ext likelihood.Extrinsic, t0, mergerFreq float64) error {
	const op = "ApplyDetectorResponse"

	if err := r.stage.Require(op, WaveformInterpolated); err != nil {
		return err
	}

	nm, nf := len(r.modes), len(r.freqs)
	for c := 0; c < 3; c++ {
		r.transRe[c] = mat.NewDense(nm, nf, nil)
		r.transIm[c] = mat.NewDense(nm, nf, nil)
	}
	r.shift = mat.NewDense(nm, nf, nil)

	pn := newInspiral(r.src)
	det := detector{ext: ext, t0: t0, selector: r.cfg.Selector}
	for i, md := range r.modes {
		plus, cross := polarizationFactors(md.L, md.M, ext.Inclination)
		for k, f := range r.freqs {
			tf := ext.TimeRef + pn.timeToMerger(md, f, mergerFreq)
			h := det.transfer(f, tf, plus, cross)
			for c := 0; c < 3; c++ {
				r.transRe[c].Set(i, k, real(h[c]))
				r.transIm[c].Set(i, k, imag(h[c]))
			}
			r.shift.Set(i, k, 2*math.Pi*f*(ext.TimeRef-det.doppler(tf)))
		}
	}
	return r.stage.Advance(op, ResponseApplied)
}

// PrepareResponseInterpolation fits splines to the transfer functions.
func (r *Reference) PrepareResponseInterpolation() error {
	const op = "PrepareResponseInterpolation"

	if err := r.stage.Require(op, ResponseApplied); err != nil {
		return err
	}
	var err error
	for c := 0; c < 3; c++ {
		if r.reFit[c], err = fitRows(r.freqs, r.transRe[c]); err != nil {
			return lerrors.Engine(err, "response spline").WithComponent(component).WithOperation(op)
		}
		if r.imFit[c], err = fitRows(r.freqs, r.transIm[c]); err != nil {
			return lerrors.Engine(err, "response spline").WithComponent(component).WithOperation(op)
		}
	}
	if r.shiftFit, err = fitRows(r.freqs, r.shift); err != nil {
		return lerrors.Engine(err, "response phase spline").WithComponent(component).WithOperation(op)
	}
	return r.stage.Advance(op, ResponseInterpolated)
}

// ExecuteInterpolation realises every mode of every channel on the dense grid,
// multiplied by the whitening the engine was built with.
func (r *Reference) ExecuteInterpolation() error {
	const op = "ExecuteInterpolation"

	if err := r.stage.Require(op, ResponseInterpolated); err != nil {
		return err
	}
	n := len(r.cfg.DataFreqs)
	for c := 0; c < 3; c++ {
		r.channels[c] = make([][]complex128, len(r.modes))
		for i := range r.modes {
			r.channels[c][i] = make([]complex128, n)
		}
	}
	for k, f := range r.cfg.DataFreqs {
		for i := range r.modes {
			h, ok := r.modeAt(i, f)
			if !ok {
				continue
			}
			for c := 0; c < 3; c++ {
				r.channels[c][i][k] = h[c] * complex(r.cfg.Whitening[c][k], 0)
			}
		}
	}
	return r.stage.Advance(op, Combined)
}

// ExtractTDIChannels returns copies of the per-mode channels.
func (r *Reference) ExtractTDIChannels() (likelihood.ModeChannels, error) {
	const op = "ExtractTDIChannels"

	var out likelihood.ModeChannels
	if err := r.stage.Require(op, Combined); err != nil {
		return out, err
	}
	if r.channels[0] == nil {
		return out, lerrors.Engine(errNoChannels, "channels were combined without being stored").
			WithComponent(component).WithOperation(op)
	}
	for c := 0; c < 3; c++ {
		out[c] = make([][]complex128, len(r.channels[c]))
		for i, row := range r.channels[c] {
			out[c][i] = append([]complex128(nil), row...)
		}
	}
	return out, nil
}

// EvaluateLikelihood runs the staged sequence and returns the requested products. In
// likelihood mode the template is streamed through the inner products without
// materialising the dense channels.
func (r *Reference) EvaluateLikelihood(freqs likelihood.Grid, src likelihood.Source, t0, mergerFreq float64, mode likelihood.OutputMode) (likelihood.Output, error) {
	const op = "EvaluateLikelihood"

	var out likelihood.Output
	ap, err := r.ComputeAmplitudePhase(freqs, src.Intrinsic)
	if err != nil {
		return out, err
	}
	if mode == likelihood.OutputAmplitudePhase {
		out.AmplitudePhase = ap
		return out, nil
	}
	if err := r.PrepareWaveformInterpolation(); err != nil {
		return out, err
	}
	if err := r.ApplyDetectorResponse(src.Extrinsic, t0, mergerFreq); err != nil {
		return out, err
	}
	if err := r.PrepareResponseInterpolation(); err != nil {
		return out, err
	}

	n := len(r.cfg.DataFreqs)
	if mode == likelihood.OutputTDI {
		for c := 0; c < 3; c++ {
			out.TDI[c] = make([]complex128, n)
		}
	}
	// the staged channels are not refreshed by this path
	r.channels = likelihood.ModeChannels{}

	var dh, hh float64
	for k, f := range r.cfg.DataFreqs {
		var sum [3]complex128
		covered := false
		for i := range r.modes {
			h, ok := r.modeAt(i, f)
			if !ok {
				continue
			}
			covered = true
			for c := 0; c < 3; c++ {
				sum[c] += h[c]
			}
		}
		if !covered {
			continue
		}
		for c := 0; c < 3; c++ {
			h := sum[c] * complex(r.cfg.Whitening[c][k], 0)
			d := r.cfg.Data[c][k]
			dh += real(d)*real(h) + imag(d)*imag(h)
			hh += real(h)*real(h) + imag(h)*imag(h)
			if mode == likelihood.OutputTDI {
				out.TDI[c][k] = h
			}
		}
	}
	out.DH = 4 * dh
	out.HH = 4 * hh

	if err := r.stage.Advance(op, Combined); err != nil {
		return likelihood.Output{}, err
	}
	return out, nil
}

// modeAt evaluates mode i in all three channels at dense frequency f.
func (r *Reference) modeAt(i int, f float64) ([3]complex128, bool) {
	var h [3]complex128
	a, ok := r.ampFit[i].at(f)
	if !ok {
		return h, false
	}
	p, _ := r.phaseFit[i].at(f)
	s, _ := r.shiftFit[i].at(f)
	wave := complex(a, 0) * cmplx.Exp(complex(0, -(p+s)))
	for c := 0; c < 3; c++ {
		re, _ := r.reFit[c][i].at(f)
		im, _ := r.imFit[c][i].at(f)
		h[c] = wave * complex(re, im)
	}
	return h, true
}

func fitRows(xs []float64, m *mat.Dense) ([]spline, error) {
	rows, _ := m.Dims()
	fits := make([]spline, rows)
	for i := 0; i < rows; i++ {
		if err := fits[i].fit(xs, m.RawRowView(i)); err != nil {
			return nil, err
		}
	}
	return fits, nil
}

type engineError string

func (e engineError) Error() string { return string(e) }

const (
	errCapacity   = engineError("sparse grid exceeds engine capacity")
	errNoChannels = engineError("no stored channels")
)

// inspiral holds the binary quantities the amplitude and phase need.
type inspiral struct {
	mSec     float64 // total mass, s
	eta      float64
	delta    float64 // (m1-m2)/M
	mcSec    float64 // chirp mass, s
	distSec  float64 // distance, light-seconds
	beta     float64 // spin-orbit coefficient
	phaseRef float64
	freqRef  float64
	fEnd     float64 // 22-mode taper frequency
}

func newInspiral(src likelihood.Intrinsic) inspiral {
	mTot := src.M1 + src.M2
	eta := src.M1 * src.M2 / (mTot * mTot)
	x1, x2 := src.M1/mTot, src.M2/mTot
	mSec := grid.TimeScale(src.M1, src.M2)
	return inspiral{
		mSec:     mSec,
		eta:      eta,
		delta:    (src.M1 - src.M2) / mTot,
		mcSec:    math.Pow(eta, 0.6) * mSec,
		distSec:  src.Distance / likelihood.SpeedOfLight,
		beta:     (src.Spin1*(113*x1*x1+75*eta) + src.Spin2*(113*x2*x2+75*eta)) / 12,
		phaseRef: src.PhaseRef,
		freqRef:  src.FreqRef,
		fEnd:     grid.MergerFrequency(src.M1, src.M2),
	}
}

// phase22 is the stationary-phase 22 phase at 22-mode frequency f, up to 1.5PN.
func (p inspiral) phase22(f float64) float64 {
	v := math.Cbrt(math.Pi * p.mSec * f)
	v2 := v * v
	v5 := v2 * v2 * v
	return 3 / (128 * p.eta * v5) *
		(1 + (3715.0/756+55*p.eta/9)*v2 + (4*p.beta-16*math.Pi)*v2*v)
}

// mode returns the amplitude and phase of harmonic md at frequency f.
func (p inspiral) mode(md likelihood.Mode, f float64) (amp, phase float64) {
	fm := float64(md.M)
	f22 := 2 * f / fm

	amp22 := math.Sqrt(5.0/24) * math.Pow(math.Pi, -2.0/3) *
		math.Pow(p.mcSec, 5.0/6) * math.Pow(f22, -7.0/6) / p.distSec
	v := math.Cbrt(math.Pi * p.mSec * f22)
	taper := math.Exp(-math.Pow(f22/p.fEnd, 6))
	amp = amp22 * p.relativeAmplitude(md, v) * taper

	ref := 0.0
	if p.freqRef > 0 {
		ref = p.phase22(p.freqRef)
	}
	phase = fm/2*(p.phase22(f22)-ref) - fm*p.phaseRef - math.Pi/4
	return amp, phase
}

// relativeAmplitude is the leading post-Newtonian ratio |h_lm|/|h_22|.
func (p inspiral) relativeAmplitude(md likelihood.Mode, v float64) float64 {
	switch md {
	case likelihood.Mode{L: 2, M: 2}:
		return 1
	case likelihood.Mode{L: 2, M: 1}:
		return math.Sqrt2 / 3 * p.delta * v
	case likelihood.Mode{L: 3, M: 3}:
		return 0.75 * math.Sqrt(15.0/14) * p.delta * v
	case likelihood.Mode{L: 3, M: 2}:
		return math.Sqrt(5.0/7) / 3 * (1 - 3*p.eta) * v * v
	case likelihood.Mode{L: 4, M: 4}:
		return 4.0 / 9 * math.Sqrt(10.0/7) * (1 - 3*p.eta) * v * v
	case likelihood.Mode{L: 4, M: 3}:
		return 0.75 / math.Sqrt(35) * p.delta * (1 - 2*p.eta) * v * v * v
	}
	return math.Pow(v, float64(md.L-2))
}

// timeToMerger is the signed time of harmonic md at frequency f relative to the
// reference time, frozen at the merger marker.
func (p inspiral) timeToMerger(md likelihood.Mode, f, mergerFreq float64) float64 {
	f22 := 2 * f / float64(md.M)
	if mergerFreq > 0 && f22 > mergerFreq {
		f22 = mergerFreq
	}
	x := math.Pi * p.mcSec * f22
	return -5.0 / 256 * p.mcSec * math.Pow(x, -8.0/3)
}

// detector is a long-wavelength triangular detector on a heliocentric orbit.
type detector struct {
	ext      likelihood.Extrinsic
	t0       float64
	selector likelihood.Selector
}

// orbit returns the orbital phase of the constellation at time t.
func (d detector) orbit(t float64) float64 {
	return 2 * math.Pi * (d.t0 + t) / likelihood.JulianYear
}

// doppler returns the light travel time from the Sun to the detector projected on
// the source direction.
func (d detector) doppler(t float64) float64 {
	return likelihood.AstronomicalUnit / likelihood.SpeedOfLight *
		math.Cos(d.ext.Latitude) * math.Cos(d.orbit(t)-d.ext.Longitude)
}

// antenna returns the plus and cross pattern of an interferometer rotated by rot.
func (d detector) antenna(t, rot float64) (fp, fc float64) {
	theta := math.Pi/2 - d.ext.Latitude
	phi := d.ext.Longitude - d.orbit(t) - rot
	ct := math.Cos(theta)
	a := 0.5 * (1 + ct*ct)
	c2p, s2p := math.Cos(2*phi), math.Sin(2*phi)
	c2s, s2s := math.Cos(2*d.ext.Polarization), math.Sin(2*d.ext.Polarization)
	fp = math.Sqrt(3) / 2 * (a*c2p*c2s - ct*s2p*s2s)
	fc = math.Sqrt(3) / 2 * (a*c2p*s2s + ct*s2p*c2s)
	return fp, fc
}

// transfer returns the three channel responses to a mode with the given
// polarization factors at frequency f and time t.
func (d detector) transfer(f, t float64, plus, cross complex128) [3]complex128 {
	fpA, fcA := d.antenna(t, 0)
	fpE, fcE := d.antenna(t, math.Pi/4)
	fpT, fcT := d.antenna(t, math.Pi/8)

	fStar := likelihood.SpeedOfLight / (2 * math.Pi * 2.5e9)
	sag := (f / fStar) * (f / fStar)

	a := complex(fpA, 0)*plus + complex(fcA, 0)*cross
	e := complex(fpE, 0)*plus + complex(fcE, 0)*cross
	tt := complex(sag, 0) * (complex(fpT, 0)*plus + complex(fcT, 0)*cross)

	if d.selector == likelihood.SelectorXYZ {
		return aetToXYZ(a, e, tt)
	}
	return [3]complex128{a, e, tt}
}

// aetToXYZ inverts A = (Z-X)/√2, E = (X-2Y+Z)/√6, T = (X+Y+Z)/√3.
func aetToXYZ(a, e, t complex128) [3]complex128 {
	s2, s3, s6 := complex(math.Sqrt2, 0), complex(math.Sqrt(3), 0), complex(math.Sqrt(6), 0)
	x := -a/s2 + e/s6 + t/s3
	y := -2*e/s6 + t/s3
	z := a/s2 + e/s6 + t/s3
	return [3]complex128{x, y, z}
}

// XYZToAET applies the orthogonalising combination to X, Y, Z channel values.
func XYZToAET(x, y, z complex128) [3]complex128 {
	s2, s3, s6 := complex(math.Sqrt2, 0), complex(math.Sqrt(3), 0), complex(math.Sqrt(6), 0)
	return [3]complex128{(z - x) / s2, (x - 2*y + z) / s6, (x + y + z) / s3}
}
