package grid

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	lerrors "github.com/copyleftdev/hmlike/internal/errors"
	"github.com/copyleftdev/hmlike/internal/likelihood"
)

func TestTimeScale(t *testing.T) {
	// 1 solar mass is about 4.926 microseconds
	assert.InDelta(t, 4.926e-6, TimeScale(0.5, 0.5), 1e-8)
	assert.InDelta(t, 6e5*likelihood.SolarMassSeconds, TimeScale(5e5, 1e5), 1e-12)
}

func TestBuilderSparse(t *testing.T) {
	b := NewBuilder(1024)
	g, err := b.Sparse(5e5, 1e5)
	require.NoError(t, err)
	require.Len(t, g, 1024)
	require.NoError(t, g.Validate())

	ts := TimeScale(5e5, 1e5)
	assert.InEpsilon(t, DefaultMinDimensionless/ts, g[0], 1e-12)
	assert.InEpsilon(t, DefaultMaxDimensionless/ts, g[len(g)-1], 1e-12)

	// log-uniform: constant ratio between neighbours
	r0 := g[1] / g[0]
	for i := 2; i < len(g); i++ {
		assert.InEpsilon(t, r0, g[i]/g[i-1], 1e-9)
	}
	assert.InEpsilon(t, 0.018/ts, MergerFrequency(5e5, 1e5), 1e-12)
}

func TestBuilderErrors(t *testing.T) {
	tests := []struct {
		name   string
		b      Builder
		m1, m2 float64
	}{
		{"zero mass", NewBuilder(16), 0, 1e5},
		{"negative mass", NewBuilder(16), -1, 1e5},
		{"nan mass", NewBuilder(16), math.NaN(), 1e5},
		{"inverted window", Builder{MinDimensionless: 0.1, MaxDimensionless: 1e-4, Length: 16}, 1e5, 1e5},
		{"empty window", Builder{MinDimensionless: 0.1, MaxDimensionless: 0.1, Length: 16}, 1e5, 1e5},
		{"short grid", NewBuilder(1), 1e5, 1e5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.b.Sparse(tt.m1, tt.m2)
			require.Error(t, err)
			assert.True(t, lerrors.IsKind(err, lerrors.KindDomain), "want domain error, got %v", err)
		})
	}
}

func TestUniform(t *testing.T) {
	g, err := Uniform(1e-4, 1e-3, 1e-4)
	require.NoError(t, err)
	require.NoError(t, g.Validate())
	assert.InDelta(t, 1e-4, g[0], 1e-18)
	assert.InDelta(t, 1e-4, g[1]-g[0], 1e-15)
	assert.GreaterOrEqual(t, g[len(g)-1], 1e-3-1e-12)

	_, err = Uniform(1e-4, 1e-3, 0)
	assert.True(t, lerrors.IsKind(err, lerrors.KindDomain))
}

func TestMeasureWeights(t *testing.T) {
	g := likelihood.Grid{1, 2, 4, 8}
	w := MeasureWeights(g)
	assert.Equal(t, []float64{1, 1, math.Sqrt2, 2}, w)
}

func TestSpan(t *testing.T) {
	dense, err := LogSpaced(1e-5, 1e-1, 4096)
	require.NoError(t, err)
	sparse, err := Span(dense, 256)
	require.NoError(t, err)
	assert.Len(t, sparse, 256)
	assert.InEpsilon(t, dense[0], sparse[0], 1e-12)
	assert.InEpsilon(t, dense[len(dense)-1], sparse[len(sparse)-1], 1e-12)
}
