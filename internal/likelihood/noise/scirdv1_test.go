package noise

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	lerrors "github.com/copyleftdev/hmlike/internal/errors"
	"github.com/copyleftdev/hmlike/internal/likelihood"
)

func TestLISAPSD(t *testing.T) {
	freqs := likelihood.Grid{1e-4, 1e-3, 1e-2}
	m := NewLISA()

	for _, kind := range []likelihood.ChannelKind{likelihood.KindAE, likelihood.KindT, likelihood.KindXYZ} {
		t.Run(kind.String(), func(t *testing.T) {
			psd, err := m.PSD(freqs, kind, ModelSciRDv1)
			require.NoError(t, err)
			require.Len(t, psd, len(freqs))
			for i, v := range psd {
				assert.Greater(t, v, 0.0, "psd[%d]", i)
			}
		})
	}

	// the T channel is insensitive at low frequency
	ae, err := m.PSD(freqs, likelihood.KindAE, "")
	require.NoError(t, err)
	tt, err := m.PSD(freqs, likelihood.KindT, "")
	require.NoError(t, err)
	assert.Less(t, tt[0], ae[0])

	// AE sensitivity at 1 mHz is around 1e-42 in fractional frequency
	assert.InDelta(t, -42.0, math.Log10(ae[1]), 1.0)
}

func TestLISAPSDErrors(t *testing.T) {
	m := NewLISA()

	_, err := m.PSD(likelihood.Grid{1e-3}, likelihood.KindAE, "Proposal")
	assert.True(t, lerrors.IsKind(err, lerrors.KindConfiguration))

	_, err = m.PSD(likelihood.Grid{0}, likelihood.KindAE, ModelSciRDv1)
	assert.True(t, lerrors.IsKind(err, lerrors.KindDomain))
}

func TestScaled(t *testing.T) {
	freqs := likelihood.Grid{1e-3, 2e-3}
	base, err := NewLISA().PSD(freqs, likelihood.KindXYZ, "")
	require.NoError(t, err)

	scaled, err := Scaled{Model: NewLISA(), Factor: 4}.PSD(freqs, likelihood.KindXYZ, "")
	require.NoError(t, err)
	for i := range base {
		assert.InEpsilon(t, 4*base[i], scaled[i], 1e-15)
	}
}
