package server

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	lerrors "github.com/copyleftdev/hmlike/internal/errors"
	"github.com/copyleftdev/hmlike/internal/likelihood"
	"github.com/copyleftdev/hmlike/internal/likelihood/derivative"
	"github.com/copyleftdev/hmlike/internal/likelihood/matched"
	"github.com/copyleftdev/hmlike/internal/metrics"
)

// Sweep statuses.
const (
	StatusPending   = "pending"
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	StatusCancelled = "cancelled"
)

// Sweep kinds.
const (
	KindGradient  = "gradient"
	KindCurvature = "curvature"
)

var (
	// ErrSweepNotFound is returned for unknown sweep ids.
	ErrSweepNotFound = errors.New("sweep not found")
	// ErrSweepFinished is returned when cancelling a sweep in a terminal state.
	ErrSweepFinished = errors.New("sweep already finished")
)

// SweepRequest starts a derivative sweep at a parameter vector.
type SweepRequest struct {
	Kind       string    `json:"kind"`
	Parameters []float64 `json:"parameters"`
	// Indices defaults to every parameter.
	Indices []int `json:"indices,omitempty"`
	// Epsilon defaults to the configured step.
	Epsilon float64 `json:"epsilon,omitempty"`
}

// SweepState tracks one sweep job. Fields are guarded by Server.sweepsMu.
type SweepState struct {
	ID          string
	Kind        string
	Status      string
	StartTime   time.Time
	EndTime     *time.Time
	Indices     []int
	Values      []float64
	Evaluations int64
	Err         error
	CancelFunc  context.CancelFunc
	LastUpdated time.Time
}

// SweepStatus is the JSON view of a SweepState.
type SweepStatus struct {
	ID          string    `json:"sweep_id"`
	Kind        string    `json:"kind"`
	Status      string    `json:"status"`
	StartTime   string    `json:"start_time"`
	EndTime     string    `json:"end_time,omitempty"`
	LastUpdate  string    `json:"last_update"`
	Indices     []int     `json:"indices"`
	Values      []float64 `json:"values,omitempty"`
	Evaluations int64     `json:"evaluations"`
	Error       string    `json:"error,omitempty"`
	ErrorKind   string    `json:"error_kind,omitempty"`
}

func (st *SweepState) status() SweepStatus {
	out := SweepStatus{
		ID:          st.ID,
		Kind:        st.Kind,
		Status:      st.Status,
		StartTime:   st.StartTime.Format(time.RFC3339),
		LastUpdate:  st.LastUpdated.Format(time.RFC3339),
		Indices:     append([]int(nil), st.Indices...),
		Values:      append([]float64(nil), st.Values...),
		Evaluations: st.Evaluations,
	}
	if st.EndTime != nil {
		out.EndTime = st.EndTime.Format(time.RFC3339)
	}
	if st.Err != nil {
		out.Error = st.Err.Error()
		out.ErrorKind = lerrors.KindOf(st.Err).String()
	}
	return out
}

func (st *SweepState) terminal() bool {
	switch st.Status {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// StartSweep validates req and runs the sweep in the background.
func (s *Server) StartSweep(req SweepRequest) (SweepStatus, error) {
	const op = "StartSweep"

	if req.Kind != KindGradient && req.Kind != KindCurvature {
		return SweepStatus{}, lerrors.Configuration("sweep kind must be %s or %s, got %q", KindGradient, KindCurvature, req.Kind).
			WithComponent("server").WithOperation(op)
	}
	x, err := likelihood.ParametersFromSlice(req.Parameters)
	if err != nil {
		return SweepStatus{}, err
	}
	eps := req.Epsilon
	if eps == 0 {
		eps = s.cfg.Derivative.Epsilon
	}

	operation := "sweep_" + req.Kind
	eng, err := derivative.New(metrics.Instrument(s.lik, operation), derivative.Config{
		Epsilon: eps,
		Indices: req.Indices,
		Workers: s.cfg.Derivative.Workers,
	}, derivative.WithLogger(s.zlog), derivative.WithObjectiveFactory(s.workerObjective(operation)))
	if err != nil {
		return SweepStatus{}, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	now := time.Now()
	state := &SweepState{
		ID:          uuid.NewString(),
		Kind:        req.Kind,
		Status:      StatusPending,
		StartTime:   now,
		Indices:     eng.Indices(),
		CancelFunc:  cancel,
		LastUpdated: now,
	}

	s.sweepsMu.Lock()
	s.sweeps[state.ID] = state
	snapshot := state.status()
	s.sweepsMu.Unlock()

	s.wg.Add(1)
	go s.runSweep(ctx, state, eng, x)

	s.logger.Info("Sweep started", map[string]interface{}{
		"sweep_id": state.ID,
		"kind":     state.Kind,
		"indices":  len(state.Indices),
	})
	return snapshot, nil
}

// workerObjective builds independent likelihoods that share the conditioned data.
func (s *Server) workerObjective(operation string) derivative.ObjectiveFactory {
	return func() (derivative.Objective, error) {
		lik, err := matched.NewFromConditioner(s.lik.Config(), s.lik.Conditioner(), s.engines, matched.WithLogger(s.zlog))
		if err != nil {
			return nil, err
		}
		return metrics.Instrument(lik, operation), nil
	}
}

func (s *Server) runSweep(ctx context.Context, state *SweepState, eng *derivative.Engine, x likelihood.Parameters) {
	defer s.wg.Done()

	s.sweepsMu.Lock()
	if state.Status == StatusCancelled {
		s.sweepsMu.Unlock()
		metrics.SweepsTotal.WithLabelValues(state.Kind, StatusCancelled).Inc()
		return
	}
	state.Status = StatusRunning
	state.LastUpdated = time.Now()
	s.sweepsMu.Unlock()

	metrics.SweepsRunning.Inc()
	defer metrics.SweepsRunning.Dec()

	var (
		values []float64
		err    error
	)
	if state.Kind == KindGradient {
		values, err = eng.Gradient(ctx, x)
	} else {
		values, err = eng.Curvature(ctx, x)
	}

	s.sweepsMu.Lock()
	defer s.sweepsMu.Unlock()

	state.Evaluations = eng.Stats().Evaluations
	switch {
	case state.Status == StatusCancelled:
	case err != nil && ctx.Err() != nil:
		state.Status = StatusCancelled
	case err != nil:
		state.Status = StatusFailed
		state.Err = err
		s.logger.Error("Sweep failed", map[string]interface{}{
			"sweep_id": state.ID,
			"error":    err.Error(),
		})
	default:
		state.Status = StatusCompleted
		state.Values = values
	}
	now := time.Now()
	if state.EndTime == nil {
		state.EndTime = &now
	}
	state.LastUpdated = now
	metrics.SweepsTotal.WithLabelValues(state.Kind, state.Status).Inc()
}

// SweepStatus returns the current view of a sweep.
func (s *Server) SweepStatus(id string) (SweepStatus, error) {
	s.sweepsMu.RLock()
	defer s.sweepsMu.RUnlock()

	state, ok := s.sweeps[id]
	if !ok {
		return SweepStatus{}, ErrSweepNotFound
	}
	return state.status(), nil
}

// CancelSweep stops a pending or running sweep. The evaluation in flight
// finishes first.
func (s *Server) CancelSweep(id string) error {
	s.sweepsMu.Lock()
	defer s.sweepsMu.Unlock()

	state, ok := s.sweeps[id]
	if !ok {
		return ErrSweepNotFound
	}
	if state.terminal() {
		return ErrSweepFinished
	}
	if state.CancelFunc != nil {
		state.CancelFunc()
	}
	state.Status = StatusCancelled
	now := time.Now()
	state.EndTime = &now
	state.LastUpdated = now

	s.logger.Info("Sweep cancelled", map[string]interface{}{
		"sweep_id": id,
	})
	return nil
}
