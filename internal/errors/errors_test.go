package errors

import (
	"bytes"
	stderrors "errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/copyleftdev/hmlike/internal/logging"
)

func TestErrorFormatting(t *testing.T) {
	err := Domain("frequency window [%v, %v] is empty", 2, 1).WithComponent("grid").WithOperation("Window")
	assert.Equal(t, "domain error [grid.Window]: frequency window [2, 1] is empty", err.Error())
	assert.NotEmpty(t, err.StackTrace())

	wrapped := Engine(stderrors.New("device lost"), "evaluating template").WithOperation("NLL")
	assert.Equal(t, "engine error [NLL]: evaluating template: device lost", wrapped.Error())
}

func TestKinds(t *testing.T) {
	tests := []struct {
		name string
		err  error
		kind Kind
	}{
		{"configuration", Configuration("bad tag"), KindConfiguration},
		{"domain", Domain("zero parameter"), KindDomain},
		{"engine", Engine(stderrors.New("x"), "y"), KindEngine},
		{"wrapped configuration", fmt.Errorf("outer: %w", Configuration("inner")), KindConfiguration},
		{"foreign", stderrors.New("plain"), KindUnknown},
		{"wrap keeps kind", Wrap(Domain("inner"), "outer"), KindDomain},
		{"wrap classifies foreign as engine", Wrap(stderrors.New("plain"), "outer"), KindEngine},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.kind, KindOf(tt.err))
			assert.True(t, IsKind(tt.err, tt.kind))
		})
	}
}

func TestSentinels(t *testing.T) {
	err := Wrap(Configuration("missing channel T"), "constructing likelihood")
	assert.True(t, stderrors.Is(err, ErrConfiguration))
	assert.False(t, stderrors.Is(err, ErrDomain))
}

func TestNilHandling(t *testing.T) {
	assert.Nil(t, Engine(nil, "unused"))
	assert.Nil(t, Wrap(nil, "unused"))
	var e *Error
	assert.Equal(t, "<nil>", e.Error())
}

func TestUnwrapReachesCause(t *testing.T) {
	cause := stderrors.New("root")
	err := Wrap(Engine(cause, "stage"), "evaluate")
	assert.True(t, stderrors.Is(err, cause))

	var target *Error
	require.True(t, As(err, &target))
	assert.Equal(t, KindEngine, target.Kind)
}

func TestHTTPStatus(t *testing.T) {
	assert.Equal(t, http.StatusBadRequest, HTTPStatus(Configuration("x")))
	assert.Equal(t, http.StatusUnprocessableEntity, HTTPStatus(Domain("x")))
	assert.Equal(t, http.StatusInternalServerError, HTTPStatus(Engine(stderrors.New("x"), "y")))
	assert.Equal(t, http.StatusInternalServerError, HTTPStatus(stderrors.New("x")))
}

func TestRecoveryMiddleware(t *testing.T) {
	var buf bytes.Buffer
	h := RecoveryMiddleware(logging.New(logging.ErrorLevel, &buf))(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("engine exploded")
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/nll", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, buf.String(), "Recovered from panic")
	assert.Contains(t, buf.String(), "engine exploded")
}
