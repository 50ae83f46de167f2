package metrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	lerrors "github.com/copyleftdev/hmlike/internal/errors"
	"github.com/copyleftdev/hmlike/internal/likelihood"
)

type stubObjective struct {
	value float64
	err   error
}

func (s stubObjective) Evaluate(likelihood.Parameters) (float64, error) {
	return s.value, s.err
}

func TestOutcome(t *testing.T) {
	assert.Equal(t, "ok", Outcome(nil))
	assert.Equal(t, "domain", Outcome(lerrors.Domain("zero")))
	assert.Equal(t, "engine", Outcome(lerrors.Engine(errors.New("x"), "y")))
	assert.Equal(t, "unknown", Outcome(errors.New("plain")))
}

func TestInstrumentCounts(t *testing.T) {
	const op = "test_instrument"
	okBefore := testutil.ToFloat64(EvaluationsTotal.WithLabelValues(op, "ok"))
	domainBefore := testutil.ToFloat64(EvaluationsTotal.WithLabelValues(op, "domain"))

	good := Instrument(stubObjective{value: 2.5}, op)
	v, err := good.Evaluate(likelihood.Parameters{})
	require.NoError(t, err)
	assert.Equal(t, 2.5, v)

	bad := Instrument(stubObjective{err: lerrors.Domain("degenerate window")}, op)
	_, err = bad.Evaluate(likelihood.Parameters{})
	require.Error(t, err)

	assert.Equal(t, okBefore+1, testutil.ToFloat64(EvaluationsTotal.WithLabelValues(op, "ok")))
	assert.Equal(t, domainBefore+1, testutil.ToFloat64(EvaluationsTotal.WithLabelValues(op, "domain")))
}
