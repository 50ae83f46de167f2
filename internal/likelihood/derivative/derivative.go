// Package derivative computes central-difference gradients and diagonal curvature
// of a scalar objective over a subset of the canonical parameters.
package derivative

import (
	"context"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	lerrors "github.com/copyleftdev/hmlike/internal/errors"
	"github.com/copyleftdev/hmlike/internal/likelihood"
)

const component = "derivative"

// DefaultEpsilon is the default relative step.
const DefaultEpsilon = 1e-7

// Objective is a scalar function of the parameter vector.
type Objective interface {
	Evaluate(p likelihood.Parameters) (float64, error)
}

// ObjectiveFunc adapts a function to Objective.
type ObjectiveFunc func(p likelihood.Parameters) (float64, error)

// Evaluate calls f.
func (f ObjectiveFunc) Evaluate(p likelihood.Parameters) (float64, error) { return f(p) }

// ObjectiveFactory builds an independent Objective for one worker.
type ObjectiveFactory func() (Objective, error)

// Config configures an Engine.
type Config struct {
	// Epsilon is the step size. Zero selects DefaultEpsilon.
	Epsilon float64
	// Indices are the parameter positions to differentiate. Empty selects all.
	Indices []int
	// Workers above one evaluates in parallel, one objective per worker.
	Workers int
	// Table overrides DefaultTable.
	Table *Table
}

// Stats reports the work done by an Engine.
type Stats struct {
	Evaluations int64
	Sweeps      int64
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger.Named("derivative")
		}
	}
}

// WithObjectiveFactory supplies per-worker objectives. Without it Workers is
// ignored and evaluation is sequential on the primary objective.
func WithObjectiveFactory(factory ObjectiveFactory) Option {
	return func(e *Engine) {
		e.factory = factory
	}
}

// Engine evaluates gradients and curvatures. Sweeps on one Engine must not overlap
// unless every objective involved is safe for concurrent use.
type Engine struct {
	objective Objective
	factory   ObjectiveFactory
	eps       float64
	indices   []int
	workers   int
	table     Table
	logger    *zap.Logger

	evals  atomic.Int64
	sweeps atomic.Int64
}

// New validates cfg and returns an Engine over objective.
func New(objective Objective, cfg Config, opts ...Option) (*Engine, error) {
	const op = "New"

	if objective == nil {
		return nil, lerrors.Configuration("objective is required").WithComponent(component).WithOperation(op)
	}
	eps := cfg.Epsilon
	if eps == 0 {
		eps = DefaultEpsilon
	}
	if !(eps > 0) || eps >= 0.5 {
		return nil, lerrors.Configuration("epsilon must be in (0, 0.5), got %v", eps).
			WithComponent(component).WithOperation(op)
	}

	indices := cfg.Indices
	if len(indices) == 0 {
		indices = AllIndices()
	}
	for _, i := range indices {
		if i < 0 || i >= likelihood.NumParams {
			return nil, lerrors.Configuration("parameter index %d out of range [0, %d)", i, likelihood.NumParams).
				WithComponent(component).WithOperation(op)
		}
	}

	table := DefaultTable()
	if cfg.Table != nil {
		table = *cfg.Table
	}

	e := &Engine{
		objective: objective,
		eps:       eps,
		indices:   append([]int(nil), indices...),
		workers:   cfg.Workers,
		table:     table,
		logger:    zap.NewNop(),
	}
	for _, o := range opts {
		o(e)
	}
	if e.factory == nil || e.workers < 1 {
		e.workers = 1
	}
	return e, nil
}

// AllIndices returns 0..NumParams-1.
func AllIndices() []int {
	idx := make([]int, likelihood.NumParams)
	for i := range idx {
		idx[i] = i
	}
	return idx
}

// Indices returns the differentiated parameter positions.
func (e *Engine) Indices() []int {
	return append([]int(nil), e.indices...)
}

// Stats returns the cumulative evaluation counts.
func (e *Engine) Stats() Stats {
	return Stats{Evaluations: e.evals.Load(), Sweeps: e.sweeps.Load()}
}

// Gradient returns grad[j] for every configured index j, using 2·len(indices)
// evaluations.
func (e *Engine) Gradient(ctx context.Context, x likelihood.Parameters) ([]float64, error) {
	const op = "Gradient"

	pts, steps, err := e.stencil(x, 1)
	if err != nil {
		return nil, err
	}
	vals, err := e.evaluateAll(ctx, op, pts)
	if err != nil {
		return nil, err
	}

	grad := make([]float64, len(e.indices))
	for j := range grad {
		grad[j] = (vals[2*j] - vals[2*j+1]) / (2 * steps[j])
	}
	return grad, nil
}

// Curvature returns the diagonal second derivative Mij[j] for every configured
// index, using 2·len(indices)+1 evaluations. The stencil is twice as wide as the
// gradient's.
func (e *Engine) Curvature(ctx context.Context, x likelihood.Parameters) ([]float64, error) {
	const op = "Curvature"

	pts, steps, err := e.stencil(x, 2)
	if err != nil {
		return nil, err
	}
	pts = append(pts, x)
	vals, err := e.evaluateAll(ctx, op, pts)
	if err != nil {
		return nil, err
	}

	fx := vals[len(vals)-1]
	mij := make([]float64, len(e.indices))
	for j := range mij {
		h := steps[j]
		mij[j] = (vals[2*j] - 2*fx + vals[2*j+1]) / (h * h)
	}
	return mij, nil
}

// stencil returns the perturbed points, up then down for each index, and the
// signed step of each index. Every index is checked before anything is evaluated.
func (e *Engine) stencil(x likelihood.Parameters, k float64) ([]likelihood.Parameters, []float64, error) {
	for _, i := range e.indices {
		if err := e.table[i].check(x[i]); err != nil {
			return nil, nil, err
		}
	}

	pts := make([]likelihood.Parameters, 0, 2*len(e.indices)+1)
	steps := make([]float64, len(e.indices))
	for j, i := range e.indices {
		up, down, h := e.table[i].step(x[i], e.eps, k)
		xu, xd := x, x
		xu[i], xd[i] = up, down
		pts = append(pts, xu, xd)
		steps[j] = h
	}
	return pts, steps, nil
}

// evaluateAll evaluates every point and returns the values in point order.
func (e *Engine) evaluateAll(ctx context.Context, op string, pts []likelihood.Parameters) ([]float64, error) {
	start := time.Now()
	e.sweeps.Add(1)

	vals := make([]float64, len(pts))
	var err error
	if e.workers > 1 && len(pts) > 1 {
		err = e.evaluateParallel(ctx, pts, vals)
	} else {
		err = e.evaluateSequential(ctx, e.objective, pts, vals)
	}
	if err != nil {
		return nil, lerrors.Wrap(err, "evaluating stencil").WithComponent(component).WithOperation(op)
	}

	e.logger.Debug("Completed derivative sweep",
		zap.String("operation", op),
		zap.Int("evaluations", len(pts)),
		zap.Int("workers", e.workers),
		zap.Duration("elapsed", time.Since(start)),
	)
	return vals, nil
}

func (e *Engine) evaluateSequential(ctx context.Context, obj Objective, pts []likelihood.Parameters, vals []float64) error {
	for n := range pts {
		if err := ctx.Err(); err != nil {
			return err
		}
		v, err := obj.Evaluate(pts[n])
		e.evals.Add(1)
		if err != nil {
			return err
		}
		vals[n] = v
	}
	return nil
}

// evaluateParallel hands points to workers, each with its own objective. Every
// result lands in its own slot, so the output does not depend on scheduling.
func (e *Engine) evaluateParallel(ctx context.Context, pts []likelihood.Parameters, vals []float64) error {
	workers := e.workers
	if workers > len(pts) {
		workers = len(pts)
	}

	g, ctx := errgroup.WithContext(ctx)
	next := make(chan int)

	g.Go(func() error {
		defer close(next)
		for n := range pts {
			select {
			case next <- n:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		return nil
	})

	for w := 0; w < workers; w++ {
		g.Go(func() error {
			obj, err := e.factory()
			if err != nil {
				return lerrors.Wrap(err, "building worker objective")
			}
			for n := range next {
				if err := ctx.Err(); err != nil {
					return err
				}
				v, err := obj.Evaluate(pts[n])
				e.evals.Add(1)
				if err != nil {
					return err
				}
				vals[n] = v
			}
			return nil
		})
	}
	return g.Wait()
}
