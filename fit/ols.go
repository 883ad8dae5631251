// Package fit provides the reference least-squares implementation of the
// model.Fitter capability: ordinary and weighted least squares on a design
// matrix assembled from the frame's covariates, factor dummies, and an
// optional fixed-effect block for the unit key.
//
// It deliberately stops where a dedicated solver should take over: GLM
// families and random effects are rejected with typed errors so the caller
// knows to bring a real GLM or mixed-effects solver behind the same
// interface.
package fit

import (
	"context"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"regremedy/dataset"
	"regremedy/errs"
	"regremedy/model"
)

// OLS is a least-squares Fitter.
//
// HOW TO USE:
//
//	m, err := fit.OLS{}.Fit(ctx, model.FitRequest{Frame: frame, Family: model.GaussianIdentity})
type OLS struct{}

var _ model.Fitter = OLS{}

// Baseline fits the untransformed, unweighted Gaussian model that a
// remediation run starts from.
func Baseline(ctx context.Context, frame *dataset.Frame) (*model.FittedModel, error) {
	return OLS{}.Fit(ctx, model.FitRequest{Frame: frame, Family: model.GaussianIdentity})
}

// Fit solves the least-squares problem for the request. The solve uses the
// normal equations and falls back to an SVD-based minimum-norm solution when
// X'X is singular or badly conditioned.
func (OLS) Fit(ctx context.Context, req model.FitRequest) (*model.FittedModel, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if req.Frame == nil {
		return nil, fmt.Errorf("fit: no data provided")
	}
	if err := req.Frame.Validate(); err != nil {
		return nil, fmt.Errorf("fit: %w", err)
	}
	if req.Family != model.GaussianIdentity {
		return nil, fmt.Errorf("%w: OLS handles gaussian/identity, got %s",
			errs.ErrUnsupportedFamily, req.Family)
	}
	if req.Grouping == model.GroupingRandomEffect {
		return nil, fmt.Errorf("%w: OLS cannot estimate random effects",
			errs.ErrUnsupportedStrategy)
	}

	frame := req.Frame
	if req.Grouping == model.GroupingAggregate {
		agg, err := frame.AggregateByUnit()
		if err != nil {
			return nil, fmt.Errorf("fit: %w", err)
		}
		frame = agg
		if req.Weights != nil {
			return nil, fmt.Errorf("fit: weights cannot be combined with aggregation")
		}
	}

	y, err := req.Transform.Apply(frame.Response)
	if err != nil {
		return nil, err
	}
	n := len(y)

	X, names := designMatrix(frame, req.Grouping == model.GroupingFixedBlock)
	_, p := X.Dims()

	if req.Weights != nil && len(req.Weights) != n {
		return nil, fmt.Errorf("fit: %d weights for %d observations", len(req.Weights), n)
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	b, err := solve(X, y, req.Weights)
	if err != nil {
		return nil, err
	}

	// Fitted values and residuals on the original (unweighted) scale.
	yVec := mat.NewVecDense(n, y)
	var fittedVec mat.VecDense
	fittedVec.MulVec(X, b)

	fitted := make([]float64, n)
	residuals := make([]float64, n)
	for i := 0; i < n; i++ {
		fitted[i] = fittedVec.AtVec(i)
		residuals[i] = yVec.AtVec(i) - fitted[i]
	}

	coeffs := make([]float64, p)
	for j := 0; j < p; j++ {
		coeffs[j] = b.AtVec(j)
	}

	return &model.FittedModel{
		Residuals: residuals,
		Fitted:    fitted,
		DF:        n - p,
		Family:    req.Family,
		Units:     frame.Units,
		Coeffs:    coeffs,
		Names:     names,
	}, nil
}

// solve computes b minimizing ||y - X b||, or the weighted version when w is
// non-nil (rows scaled by sqrt(w)).
func solve(X *mat.Dense, y, w []float64) (*mat.VecDense, error) {
	n, p := X.Dims()

	Xs := X
	ys := y
	if w != nil {
		// WLS as OLS on the rescaled system sqrt(W) X b = sqrt(W) y.
		Xs = mat.NewDense(n, p, nil)
		ys = make([]float64, n)
		for i := 0; i < n; i++ {
			s := sqrtNonNeg(w[i])
			for j := 0; j < p; j++ {
				Xs.Set(i, j, X.At(i, j)*s)
			}
			ys[i] = y[i] * s
		}
	}
	yVec := mat.NewVecDense(n, ys)

	// First try: normal equations b = (X'X)^(-1) X'y
	var xtx mat.Dense
	xtx.Mul(Xs.T(), Xs)

	b := mat.NewVecDense(p, nil)
	var xtxInv mat.Dense
	if err := xtxInv.Inverse(&xtx); err == nil {
		var xty mat.VecDense
		xty.MulVec(Xs.T(), yVec)
		b.MulVec(&xtxInv, &xty)
		return b, nil
	}

	// Fallback: X'X is singular or badly conditioned.
	// Use SVD-based least squares: minimize ||y - X b|| with minimum-norm b.
	var svd mat.SVD
	if ok := svd.Factorize(Xs, mat.SVDThin); !ok {
		return nil, fmt.Errorf("%w: X'X singular and SVD factorization failed", errs.ErrFitNonConvergence)
	}
	rank := svd.Rank(1e-12)

	var bDense mat.Dense
	svd.SolveTo(&bDense, yVec, rank)
	for j := 0; j < p; j++ {
		b.SetVec(j, bDense.At(j, 0))
	}
	return b, nil
}

// designMatrix assembles [intercept | numeric covariates | factor dummies |
// unit-block dummies]. Dummy columns drop the first level seen, which the
// intercept absorbs.
func designMatrix(frame *dataset.Frame, blockUnits bool) (*mat.Dense, []string) {
	n := frame.Len()

	cols := []string{"(intercept)"}
	var q int
	if frame.Numeric != nil {
		_, q = frame.Numeric.Dims()
		cols = append(cols, frame.NumericNames...)
	}

	type dummy struct {
		name   string
		levels []string // per observation
		level  string   // level this column indicates
	}
	var dummies []dummy
	for _, fc := range frame.Factors {
		for _, level := range distinct(fc.Levels)[1:] {
			dummies = append(dummies, dummy{name: fc.Name + "=" + level, levels: fc.Levels, level: level})
		}
	}
	if blockUnits && frame.Units != nil {
		for _, level := range distinct(frame.Units)[1:] {
			dummies = append(dummies, dummy{name: "unit=" + level, levels: frame.Units, level: level})
		}
	}
	for _, d := range dummies {
		cols = append(cols, d.name)
	}

	p := len(cols)
	X := mat.NewDense(n, p, nil)
	for i := 0; i < n; i++ {
		col := 0
		X.Set(i, col, 1.0)
		col++
		for j := 0; j < q; j++ {
			X.Set(i, col, frame.Numeric.At(i, j))
			col++
		}
		for _, d := range dummies {
			if d.levels[i] == d.level {
				X.Set(i, col, 1.0)
			}
			col++
		}
	}
	return X, cols
}

func distinct(levels []string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, l := range levels {
		if !seen[l] {
			seen[l] = true
			out = append(out, l)
		}
	}
	return out
}

func sqrtNonNeg(v float64) float64 {
	if v <= 0 {
		return 0
	}
	return math.Sqrt(v)
}
