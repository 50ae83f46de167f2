// Package metrics holds the Prometheus collectors of the likelihood service.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	lerrors "github.com/copyleftdev/hmlike/internal/errors"
	"github.com/copyleftdev/hmlike/internal/likelihood"
)

var (
	// EvaluationsTotal counts objective evaluations by operation and outcome.
	EvaluationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hmlike_evaluations_total",
		Help: "Likelihood evaluations by operation and outcome",
	}, []string{"operation", "outcome"})

	// EvaluationDuration tracks evaluation latency.
	EvaluationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "hmlike_evaluation_duration_seconds",
		Help:    "Likelihood evaluation duration in seconds",
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 14), // 1ms to ~8s
	}, []string{"operation"})

	// SweepsRunning is the number of derivative sweeps in progress.
	SweepsRunning = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "hmlike_sweeps_running",
		Help: "Derivative sweeps currently running",
	})

	// SweepsTotal counts finished sweeps by kind and final status.
	SweepsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hmlike_sweeps_total",
		Help: "Finished derivative sweeps by kind and status",
	}, []string{"kind", "status"})
)

// Outcome is the outcome label for err.
func Outcome(err error) string {
	if err == nil {
		return "ok"
	}
	return lerrors.KindOf(err).String()
}

// Objective is the evaluation interface that Instrument wraps.
type Objective interface {
	Evaluate(p likelihood.Parameters) (float64, error)
}

// Instrumented records every evaluation of the wrapped objective.
type Instrumented struct {
	objective Objective
	operation string
}

// Instrument wraps objective, labelling its samples with operation.
func Instrument(objective Objective, operation string) *Instrumented {
	return &Instrumented{objective: objective, operation: operation}
}

// Evaluate implements Objective.
func (i *Instrumented) Evaluate(p likelihood.Parameters) (float64, error) {
	start := time.Now()
	v, err := i.objective.Evaluate(p)
	Observe(i.operation, start, err)
	return v, err
}

// Observe records one evaluation of operation that began at start.
func Observe(operation string, start time.Time, err error) {
	EvaluationDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
	EvaluationsTotal.WithLabelValues(operation, Outcome(err)).Inc()
}
