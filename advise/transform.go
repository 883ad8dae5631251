// Package advise turns a residual diagnosis into concrete remediation
// proposals: a response transformation for skewed residuals, or a
// distributional family matching the response's support.
package advise

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat"

	"regremedy/diag"
	"regremedy/errs"
	"regremedy/model"
)

// SuggestTransform proposes a response transformation for the diagnosed
// residual shape, inspecting the raw response for sign/zero content so the
// proposal is always inside the transform's domain. Rules apply in order,
// first match wins:
//
//   - right-skew, all values > 0: log
//   - right-skew, values >= 0 with few zeros: log(x + eps), eps = smallest positive value / 2
//   - right-skew, values >= 0 otherwise: sqrt
//   - left-skew: power k over {2,3,4} minimizing the transformed skewness
//   - over/under-dispersed or ok: none (transformation does not reliably fix
//     dispersion shape; that escalates to the family/clustering advisors)
//
// It fails with errs.ErrTransformDomain when right-skew data contain
// negative values; the caller falls back to the rank transform instead.
func SuggestTransform(shape diag.ShapeClass, response []float64) (model.Transform, string, error) {
	switch shape {
	case diag.RightSkew:
		return suggestRightSkew(response)
	case diag.LeftSkew:
		return suggestLeftSkew(response)
	case diag.OverDispersed, diag.UnderDispersed:
		return model.None, "dispersion shape is not fixed reliably by transformation; see family and clustering advice", nil
	default:
		return model.None, "residual shape acceptable", nil
	}
}

func suggestRightSkew(response []float64) (model.Transform, string, error) {
	minVal := math.Inf(1)
	minPos := math.Inf(1)
	zeros := 0
	for _, v := range response {
		if v < minVal {
			minVal = v
		}
		if v > 0 && v < minPos {
			minPos = v
		}
		if v == 0 {
			zeros++
		}
	}

	switch {
	case minVal > 0:
		return model.Transform{Kind: model.TransformLog},
			"right-skewed residuals with strictly positive response: log transform", nil
	case minVal == 0 && zeros <= len(response)/10 && !math.IsInf(minPos, 1):
		eps := minPos / 2
		return model.Transform{Kind: model.TransformLogShift, Shift: eps},
			fmt.Sprintf("right-skewed residuals with zeros in the response: log(x+%g)", eps), nil
	case minVal == 0:
		// Too many zeros for a stable shift; sqrt keeps them at zero.
		return model.Transform{Kind: model.TransformSqrt},
			"right-skewed residuals with many zero responses: sqrt transform", nil
	default:
		return model.None, "",
			fmt.Errorf("%w: response contains negative values, no log-family transform applies",
				errs.ErrTransformDomain)
	}
}

// suggestLeftSkew searches the small power ladder for the exponent that
// best symmetrizes the response.
func suggestLeftSkew(response []float64) (model.Transform, string, error) {
	bestK := 0.0
	bestSkew := math.Inf(1)
	tmp := make([]float64, len(response))
	for _, k := range []float64{2, 3, 4} {
		for i, v := range response {
			tmp[i] = math.Pow(v, k)
		}
		s := math.Abs(stat.Skew(tmp, nil))
		if s < bestSkew {
			bestSkew = s
			bestK = k
		}
	}
	return model.Transform{Kind: model.TransformPower, Exponent: bestK},
		fmt.Sprintf("left-skewed residuals: power transform x^%g (residual skewness %.3g after transform)",
			bestK, bestSkew), nil
}
