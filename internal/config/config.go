// Package config loads the service configuration from HMLIKE_* environment
// variables and the injection parameters from a YAML file.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
	"gopkg.in/yaml.v3"

	lerrors "github.com/copyleftdev/hmlike/internal/errors"
	"github.com/copyleftdev/hmlike/internal/likelihood"
)

// Prefix is prepended to every environment variable name.
const Prefix = "HMLIKE_"

type Config struct {
	Environment string `env:"ENV" envDefault:"development"`
	HTTP        struct {
		Port            int           `env:"HTTP_PORT" envDefault:"8080"`
		ReadTimeout     time.Duration `env:"HTTP_READ_TIMEOUT" envDefault:"30s"`
		WriteTimeout    time.Duration `env:"HTTP_WRITE_TIMEOUT" envDefault:"5m"`
		IdleTimeout     time.Duration `env:"HTTP_IDLE_TIMEOUT" envDefault:"120s"`
		ShutdownTimeout time.Duration `env:"HTTP_SHUTDOWN_TIMEOUT" envDefault:"30s"`
	}
	Logging struct {
		Level  string `env:"LOG_LEVEL" envDefault:"info"`
		Output string `env:"LOG_OUTPUT" envDefault:"stderr"`
	}
	Likelihood struct {
		TDITag            string  `env:"TDI_TAG" envDefault:"AET"`
		Modes             string  `env:"MODES" envDefault:"2:2,3:3,4:4,4:3,3:2"`
		MaxLengthInit     int     `env:"MAX_LENGTH_INIT" envDefault:"1024"`
		MinDimensionless  float64 `env:"MIN_DIMENSIONLESS" envDefault:"1e-4"`
		MaxDimensionless  float64 `env:"MAX_DIMENSIONLESS" envDefault:"0.1"`
		LogScaled         bool    `env:"LOG_SCALED" envDefault:"true"`
		NoiseModel        string  `env:"NOISE_MODEL" envDefault:"SciRDv1"`
		NumDataPoints     int     `env:"NUM_DATA_POINTS" envDefault:"16384"`
		NumGeneratePoints int     `env:"NUM_GENERATE_POINTS" envDefault:"1024"`
	}
	Injection struct {
		File string `env:"INJECTION_FILE"`
	}
	Derivative struct {
		Workers int     `env:"DERIVATIVE_WORKERS" envDefault:"1"`
		Epsilon float64 `env:"DERIVATIVE_EPSILON" envDefault:"1e-7"`
	}
}

// Load parses the environment.
func Load() (*Config, error) {
	return LoadFrom(nil)
}

// LoadFrom parses the given variables, or the process environment when vars is
// nil. Keys include the prefix.
func LoadFrom(vars map[string]string) (*Config, error) {
	cfg := &Config{}
	opts := env.Options{Prefix: Prefix}
	if vars != nil {
		opts.Environment = vars
	}
	if err := env.ParseWithOptions(cfg, opts); err != nil {
		return nil, lerrors.Configuration("parsing environment: %v", err).WithComponent("config").WithOperation("Load")
	}

	if _, err := likelihood.ParseTDITag(cfg.Likelihood.TDITag); err != nil {
		return nil, err
	}
	if _, err := cfg.Modes(); err != nil {
		return nil, err
	}
	if cfg.Derivative.Workers < 1 {
		cfg.Derivative.Workers = 1
	}
	return cfg, nil
}

// Modes parses the comma-separated l:m list.
func (c *Config) Modes() ([]likelihood.Mode, error) {
	return ParseModes(c.Likelihood.Modes)
}

// ParseModes parses a list such as "2:2,3:3".
func ParseModes(s string) ([]likelihood.Mode, error) {
	var modes []likelihood.Mode
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		lm := strings.SplitN(part, ":", 2)
		if len(lm) != 2 {
			return nil, lerrors.Configuration("mode %q is not of the form l:m", part).WithComponent("config")
		}
		l, errL := strconv.Atoi(lm[0])
		m, errM := strconv.Atoi(lm[1])
		if errL != nil || errM != nil || l < 2 || m < 1 || m > l {
			return nil, lerrors.Configuration("invalid mode %q", part).WithComponent("config")
		}
		modes = append(modes, likelihood.Mode{L: l, M: m})
	}
	if len(modes) == 0 {
		return nil, lerrors.Configuration("no modes configured").WithComponent("config")
	}
	return modes, nil
}

// Addr returns the listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.HTTP.Port)
}

// Injection is the YAML description of an injected source. Angles are radians,
// masses solar masses, distance megaparsecs, times seconds.
type Injection struct {
	T0     float64         `yaml:"t0"`
	Source InjectionSource `yaml:"source"`
}

// InjectionSource lists the source parameters. Masses and distance are required.
type InjectionSource struct {
	M1           *float64 `yaml:"m1"`
	M2           *float64 `yaml:"m2"`
	Spin1        float64  `yaml:"a1"`
	Spin2        float64  `yaml:"a2"`
	DistanceMpc  *float64 `yaml:"distance_mpc"`
	PhaseRef     float64  `yaml:"phi_ref"`
	FreqRef      float64  `yaml:"f_ref"`
	Inclination  float64  `yaml:"inc"`
	Longitude    float64  `yaml:"lam"`
	Latitude     float64  `yaml:"beta"`
	Polarization float64  `yaml:"psi"`
	TimeRef      float64  `yaml:"t_ref"`
}

// DefaultInjection is the reference source: a 5e5 + 1e5 solar-mass binary at
// the luminosity distance of redshift 3.
func DefaultInjection() Injection {
	m1, m2, d := 5e5, 1e5, 2.58e4
	return Injection{
		T0: likelihood.JulianYear,
		Source: InjectionSource{
			M1:           &m1,
			M2:           &m2,
			Spin1:        0.8,
			Spin2:        0.8,
			DistanceMpc:  &d,
			PhaseRef:     0.0,
			FreqRef:      1e-3,
			Inclination:  1.0471975511965976,
			Longitude:    0.7853981633974483,
			Latitude:     0.6283185307179586,
			Polarization: 0.5235987755982988,
			TimeRef:      3600,
		},
	}
}

// LoadInjection reads an Injection from a YAML file. An empty path returns
// DefaultInjection.
func LoadInjection(path string) (Injection, error) {
	if path == "" {
		return DefaultInjection(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Injection{}, lerrors.Configuration("reading injection file: %v", err).
			WithComponent("config").WithOperation("LoadInjection")
	}
	return ParseInjection(data)
}

// ParseInjection decodes YAML and checks the required parameters.
func ParseInjection(data []byte) (Injection, error) {
	const op = "ParseInjection"

	inj := Injection{T0: likelihood.JulianYear}
	if err := yaml.Unmarshal(data, &inj); err != nil {
		return Injection{}, lerrors.Configuration("decoding injection: %v", err).WithComponent("config").WithOperation(op)
	}
	required := []struct {
		name string
		v    *float64
	}{{"m1", inj.Source.M1}, {"m2", inj.Source.M2}, {"distance_mpc", inj.Source.DistanceMpc}}
	for _, r := range required {
		if r.v == nil {
			return Injection{}, lerrors.Configuration("injection parameter %s is required", r.name).
				WithComponent("config").WithOperation(op)
		}
		if !(*r.v > 0) {
			return Injection{}, lerrors.Configuration("injection parameter %s must be positive, got %v", r.name, *r.v).
				WithComponent("config").WithOperation(op)
		}
	}
	return inj, nil
}

// Physical converts the injection to a likelihood.Source. The required fields
// must be set.
func (s InjectionSource) Physical() likelihood.Source {
	return likelihood.Source{
		Intrinsic: likelihood.Intrinsic{
			M1:       *s.M1,
			M2:       *s.M2,
			Spin1:    s.Spin1,
			Spin2:    s.Spin2,
			Distance: *s.DistanceMpc * likelihood.MegaParsec,
			PhaseRef: s.PhaseRef,
			FreqRef:  s.FreqRef,
		},
		Extrinsic: likelihood.Extrinsic{
			Inclination:  s.Inclination,
			Longitude:    s.Longitude,
			Latitude:     s.Latitude,
			Polarization: s.Polarization,
			TimeRef:      s.TimeRef,
		},
	}
}
