// Package weights computes per-observation weights for a reweighted refit
// when residual variance grows with the fitted value. The variance function
// is estimated by regressing |residual| against the fitted value; the
// squared prediction is the variance estimate and its reciprocal the weight.
package weights

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat"

	"regremedy/errs"
)

// DefaultFloor is the smallest predicted standard deviation accepted before
// the weights are judged unstable.
const DefaultFloor = 1e-8

// Estimate returns one weight per observation: 1 / predicted variance, with
// the predicted standard deviation taken from the least-squares line of
// |residual| on fitted value.
//
// A predicted standard deviation at or below floor would inflate its weight
// without bound. With clip false that fails with errs.ErrUnstableWeights;
// with clip true the prediction is clamped to the floor and the fit
// proceeds. floor <= 0 uses DefaultFloor.
func Estimate(residuals, fitted []float64, floor float64, clip bool) ([]float64, error) {
	if len(residuals) != len(fitted) {
		return nil, fmt.Errorf("weights: %d residuals vs %d fitted values", len(residuals), len(fitted))
	}
	if len(residuals) < 3 {
		return nil, fmt.Errorf("%w: got %d residuals", errs.ErrInsufficientData, len(residuals))
	}
	if floor <= 0 {
		floor = DefaultFloor
	}

	absResid := make([]float64, len(residuals))
	for i, r := range residuals {
		absResid[i] = math.Abs(r)
	}

	// One-parameter-plus-intercept fit of |residual| on fitted.
	alpha, beta := stat.LinearRegression(fitted, absResid, nil, false)

	w := make([]float64, len(fitted))
	for i, f := range fitted {
		sd := alpha + beta*f
		if sd <= floor {
			if !clip {
				return nil, fmt.Errorf(
					"%w: predicted sd %.3g at observation %d (floor %.3g)",
					errs.ErrUnstableWeights, sd, i+1, floor)
			}
			sd = floor
		}
		w[i] = 1 / (sd * sd)
	}
	return w, nil
}

// GroupEstimate returns one weight per observation from per-group residual
// variances: 1/variance of the observation's group. Groups absent from the
// variance map (singleton groups, typically) fall back to the pooled
// variance. The same floor guardrail as Estimate applies to the variances.
func GroupEstimate(units []string, groupVar map[string]float64, floor float64, clip bool) ([]float64, error) {
	if len(groupVar) == 0 {
		return nil, fmt.Errorf("weights: no group variances supplied")
	}
	if floor <= 0 {
		floor = DefaultFloor
	}

	pooled := 0.0
	for _, v := range groupVar {
		pooled += v
	}
	pooled /= float64(len(groupVar))

	w := make([]float64, len(units))
	for i, u := range units {
		v, ok := groupVar[u]
		if !ok {
			v = pooled
		}
		if v <= floor*floor {
			if !clip {
				return nil, fmt.Errorf(
					"%w: group %s variance %.3g (floor %.3g)",
					errs.ErrUnstableWeights, u, v, floor*floor)
			}
			v = floor * floor
		}
		w[i] = 1 / v
	}
	return w, nil
}
