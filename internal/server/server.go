// Package server exposes the likelihood over HTTP and JSON-RPC 2.0. Derivative
// sweeps run as background jobs with status and cancellation.
package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/copyleftdev/hmlike/internal/config"
	lerrors "github.com/copyleftdev/hmlike/internal/errors"
	"github.com/copyleftdev/hmlike/internal/likelihood"
	"github.com/copyleftdev/hmlike/internal/likelihood/matched"
	"github.com/copyleftdev/hmlike/internal/logging"
	"github.com/copyleftdev/hmlike/internal/metrics"
)

// Logger defines the logging interface used by the server.
type Logger interface {
	Debug(msg string, fields ...map[string]interface{})
	Info(msg string, fields ...map[string]interface{})
	Warn(msg string, fields ...map[string]interface{})
	Error(msg string, fields ...map[string]interface{})
	Fatal(msg string, fields ...map[string]interface{})
	WithFields(fields map[string]interface{}) *logging.Logger
}

// Option configures a Server.
type Option func(*Server)

// WithZapLogger sets the logger handed to the likelihood and derivative packages.
func WithZapLogger(logger *zap.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.zlog = logger
		}
	}
}

// Server serves one conditioned likelihood.
type Server struct {
	cfg     *config.Config
	logger  Logger
	zlog    *zap.Logger
	lik     *matched.Likelihood
	engines likelihood.EngineFactory

	sweeps   map[string]*SweepState
	sweepsMu sync.RWMutex // Protects the sweeps map and every SweepState
	wg       sync.WaitGroup
}

// NewServer creates a server around lik. engines builds the per-worker engines
// of parallel sweeps.
func NewServer(cfg *config.Config, logger Logger, lik *matched.Likelihood, engines likelihood.EngineFactory, opts ...Option) *Server {
	s := &Server{
		cfg:     cfg,
		logger:  logger,
		zlog:    zap.NewNop(),
		lik:     lik,
		engines: engines,
		sweeps:  make(map[string]*SweepState),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Server) RegisterRoutes(r chi.Router) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/nll", s.handleNLL)
		r.Post("/sweeps", s.handleStartSweep)
		r.Get("/sweeps/{id}", s.handleSweepStatus)
		r.Delete("/sweeps/{id}", s.handleCancelSweep)
	})

	r.Post("/rpc", s.handleJSONRPC)
}

// EvaluateRequest asks for the NLL at a canonical parameter vector.
type EvaluateRequest struct {
	Parameters []float64 `json:"parameters"`
	// Freqs overrides the sparse grid.
	Freqs []float64 `json:"freqs,omitempty"`
}

// EvaluateResponse carries the NLL and its inner products.
type EvaluateResponse struct {
	NLL float64 `json:"nll"`
	matched.Overlaps
}

// Evaluate computes the NLL for req.
func (s *Server) Evaluate(req EvaluateRequest) (EvaluateResponse, error) {
	p, err := likelihood.ParametersFromSlice(req.Parameters)
	if err != nil {
		return EvaluateResponse{}, err
	}
	var freqs likelihood.Grid
	if len(req.Freqs) > 0 {
		freqs = likelihood.Grid(req.Freqs)
	}

	start := time.Now()
	ov, err := s.lik.Overlaps(p.Physical(), freqs)
	metrics.Observe("nll", start, err)
	if err != nil {
		return EvaluateResponse{}, err
	}
	return EvaluateResponse{NLL: ov.NLL(), Overlaps: ov}, nil
}

func (s *Server) handleNLL(w http.ResponseWriter, r *http.Request) {
	var req EvaluateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, lerrors.Configuration("invalid request body: %v", err))
		return
	}
	resp, err := s.Evaluate(req)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleStartSweep(w http.ResponseWriter, r *http.Request) {
	var req SweepRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, lerrors.Configuration("invalid request body: %v", err))
		return
	}
	status, err := s.StartSweep(req)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, status)
}

func (s *Server) handleSweepStatus(w http.ResponseWriter, r *http.Request) {
	status, err := s.SweepStatus(chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (s *Server) handleCancelSweep(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.CancelSweep(id); err != nil {
		s.writeError(w, err)
		return
	}
	status, err := s.SweepStatus(id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

// statusFor extends lerrors.HTTPStatus with the sweep registry errors.
func statusFor(err error) int {
	switch {
	case errors.Is(err, ErrSweepNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrSweepFinished):
		return http.StatusConflict
	}
	return lerrors.HTTPStatus(err)
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("Request failed", map[string]interface{}{"error": err.Error()})
	}
	body := map[string]interface{}{"error": err.Error()}
	if kind := lerrors.KindOf(err); kind != lerrors.KindUnknown {
		body["kind"] = kind.String()
	}
	writeJSON(w, status, body)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// Close cancels every sweep and waits for the workers to return.
func (s *Server) Close() error {
	s.sweepsMu.Lock()
	for _, st := range s.sweeps {
		if st.CancelFunc != nil {
			st.CancelFunc()
		}
	}
	s.sweepsMu.Unlock()

	s.wg.Wait()
	return nil
}
