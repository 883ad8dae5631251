package weights

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"regremedy/errs"
)

// Residual magnitudes exactly linear in the fitted value: |r| = 0.1 * f.
// The predicted sd is then 0.1*f and the weight 1/(0.1*f)^2.
func TestEstimate_ReproducesInverseVariance(t *testing.T) {
	fitted := []float64{1, 2, 3, 4, 5, 6, 7, 8}
	residuals := make([]float64, len(fitted))
	for i, f := range fitted {
		residuals[i] = 0.1 * f
		if i%2 == 1 {
			residuals[i] = -residuals[i] // sign must not matter
		}
	}

	w, err := Estimate(residuals, fitted, 0, false)
	require.NoError(t, err)
	require.Len(t, w, len(fitted))

	for i, f := range fitted {
		sd := 0.1 * f
		assert.InDelta(t, 1/(sd*sd), w[i], 1e-6, "weight at fitted=%v", f)
	}

	// Larger fitted values carry smaller weights throughout.
	for i := 1; i < len(w); i++ {
		assert.Less(t, w[i], w[i-1])
	}
}

// A variance line crossing zero inside the fitted range predicts a
// non-positive sd for some observation, which would make its weight explode.
func TestEstimate_UnstableWithoutClip(t *testing.T) {
	fitted := []float64{1, 2, 3, 4, 5}
	// |r| shrinking fast: the fit line hits zero before fitted=5.
	residuals := []float64{0.8, 0.6, 0.4, 0.2, 0.0}

	_, err := Estimate(residuals, fitted, 1e-8, false)
	require.ErrorIs(t, err, errs.ErrUnstableWeights)
}

func TestEstimate_ClipClampsToFloor(t *testing.T) {
	fitted := []float64{1, 2, 3, 4, 5}
	residuals := []float64{0.8, 0.6, 0.4, 0.2, 0.0}

	floor := 0.01
	w, err := Estimate(residuals, fitted, floor, true)
	require.NoError(t, err)

	maxW := 1 / (floor * floor)
	for i, wi := range w {
		assert.LessOrEqual(t, wi, maxW+1e-9, "weight %d not clamped", i)
		assert.Greater(t, wi, 0.0)
	}
}

func TestEstimate_LengthMismatch(t *testing.T) {
	_, err := Estimate([]float64{1, 2}, []float64{1, 2, 3}, 0, false)
	require.Error(t, err)
}

func TestEstimate_TooFewResiduals(t *testing.T) {
	_, err := Estimate([]float64{1, 2}, []float64{1, 2}, 0, false)
	require.ErrorIs(t, err, errs.ErrInsufficientData)
}

func TestGroupEstimate_PerGroupReciprocal(t *testing.T) {
	units := []string{"a", "a", "b", "b", "c"}
	groupVar := map[string]float64{"a": 4, "b": 0.25}

	w, err := GroupEstimate(units, groupVar, 0, false)
	require.NoError(t, err)

	assert.InDelta(t, 0.25, w[0], 1e-12)
	assert.InDelta(t, 0.25, w[1], 1e-12)
	assert.InDelta(t, 4.0, w[2], 1e-12)
	assert.InDelta(t, 4.0, w[3], 1e-12)
	// Group c has no variance entry; it gets the pooled fallback.
	assert.InDelta(t, 1/2.125, w[4], 1e-12)
}

func TestGroupEstimate_FloorGuard(t *testing.T) {
	units := []string{"a", "b"}
	groupVar := map[string]float64{"a": 1, "b": 0}

	_, err := GroupEstimate(units, groupVar, 1e-4, false)
	require.ErrorIs(t, err, errs.ErrUnstableWeights)

	w, err := GroupEstimate(units, groupVar, 1e-4, true)
	require.NoError(t, err)
	assert.Greater(t, w[1], w[0])
}
