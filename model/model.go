// Package model defines the seam between the remediation engine and the
// model-fitting capability: the FitRequest the engine builds, the FittedModel
// the solver returns, and the vocabulary (families, links, transforms,
// grouping strategies) both sides share.
//
// The engine never inspects a solver beyond this interface. Any least
// squares, GLM or mixed-effects implementation can sit behind Fitter.
package model

import (
	"context"
	"fmt"
	"math"
	"sort"

	"regremedy/dataset"
	"regremedy/errs"
)

// FamilyKind identifies a distributional family.
type FamilyKind int

const (
	Gaussian FamilyKind = iota
	Binomial
	Poisson
	Beta
)

func (k FamilyKind) String() string {
	switch k {
	case Gaussian:
		return "gaussian"
	case Binomial:
		return "binomial"
	case Poisson:
		return "poisson"
	case Beta:
		return "beta"
	default:
		return fmt.Sprintf("FamilyKind(%d)", int(k))
	}
}

// LinkKind identifies a link function.
type LinkKind int

const (
	Identity LinkKind = iota
	Logit
	Log
)

func (k LinkKind) String() string {
	switch k {
	case Identity:
		return "identity"
	case Logit:
		return "logit"
	case Log:
		return "log"
	default:
		return fmt.Sprintf("LinkKind(%d)", int(k))
	}
}

// Family pairs a distributional family with its link.
type Family struct {
	Kind FamilyKind `json:"kind"`
	Link LinkKind   `json:"link"`
}

func (f Family) String() string { return f.Kind.String() + "/" + f.Link.String() }

// GaussianIdentity is the default family for a plain linear model.
var GaussianIdentity = Family{Kind: Gaussian, Link: Identity}

// Grouping is the strategy applied to a unit/grouping key during a fit.
type Grouping int

const (
	// GroupingNone ignores the grouping key. Valid only when diagnostics
	// found no independence violation.
	GroupingNone Grouping = iota
	// GroupingAggregate collapses the data to one observation per unit.
	GroupingAggregate
	// GroupingFixedBlock adds the unit key as a fixed-effect block.
	GroupingFixedBlock
	// GroupingRandomEffect models the unit key as a random effect.
	GroupingRandomEffect
)

func (g Grouping) String() string {
	switch g {
	case GroupingNone:
		return "none"
	case GroupingAggregate:
		return "aggregate-by-unit"
	case GroupingFixedBlock:
		return "fixed-effect-block"
	case GroupingRandomEffect:
		return "random-effect"
	default:
		return fmt.Sprintf("Grouping(%d)", int(g))
	}
}

// TransformKind identifies a response transformation.
type TransformKind int

const (
	TransformNone TransformKind = iota
	TransformLog
	TransformLogShift // log(x + shift), for nonnegative data containing zeros
	TransformSqrt
	TransformPower // x^exponent
	TransformRank  // normalized ranks in (0,1); the rank-based fallback
)

func (k TransformKind) String() string {
	switch k {
	case TransformNone:
		return "none"
	case TransformLog:
		return "log"
	case TransformLogShift:
		return "log-shift"
	case TransformSqrt:
		return "sqrt"
	case TransformPower:
		return "power"
	case TransformRank:
		return "rank"
	default:
		return fmt.Sprintf("TransformKind(%d)", int(k))
	}
}

// Transform is a response transformation with its parameters.
type Transform struct {
	Kind     TransformKind `json:"kind"`
	Shift    float64       `json:"shift,omitempty"`    // TransformLogShift only
	Exponent float64       `json:"exponent,omitempty"` // TransformPower only
}

// None is the identity transform.
var None = Transform{Kind: TransformNone}

// Apply transforms y, returning a new slice. It fails with ErrTransformDomain
// when the data fall outside the transform's domain; it never transforms a
// value silently.
func (t Transform) Apply(y []float64) ([]float64, error) {
	out := make([]float64, len(y))
	switch t.Kind {
	case TransformNone:
		copy(out, y)
	case TransformLog:
		for i, v := range y {
			if v <= 0 {
				return nil, fmt.Errorf("%w: log of %v at row %d", errs.ErrTransformDomain, v, i+1)
			}
			out[i] = math.Log(v)
		}
	case TransformLogShift:
		for i, v := range y {
			if v+t.Shift <= 0 {
				return nil, fmt.Errorf("%w: log of %v+%v at row %d", errs.ErrTransformDomain, v, t.Shift, i+1)
			}
			out[i] = math.Log(v + t.Shift)
		}
	case TransformSqrt:
		for i, v := range y {
			if v < 0 {
				return nil, fmt.Errorf("%w: sqrt of %v at row %d", errs.ErrTransformDomain, v, i+1)
			}
			out[i] = math.Sqrt(v)
		}
	case TransformPower:
		for i, v := range y {
			out[i] = math.Pow(v, t.Exponent)
		}
	case TransformRank:
		copy(out, y)
		ranks(out)
	default:
		return nil, fmt.Errorf("unknown transform kind %d", t.Kind)
	}
	return out, nil
}

func (t Transform) String() string {
	switch t.Kind {
	case TransformLogShift:
		return fmt.Sprintf("log(x+%g)", t.Shift)
	case TransformPower:
		return fmt.Sprintf("x^%g", t.Exponent)
	default:
		return t.Kind.String()
	}
}

// ranks replaces y in place by (rank - 0.5)/n, averaging ties.
func ranks(y []float64) {
	n := len(y)
	idx := make([]int, n)
	for i := range idx {
		idx[i] = i
	}
	sort.Slice(idx, func(a, b int) bool { return y[idx[a]] < y[idx[b]] })

	r := make([]float64, n)
	for i := 0; i < n; {
		j := i
		for j+1 < n && y[idx[j+1]] == y[idx[i]] {
			j++
		}
		avg := float64(i+j)/2 + 1 // average 1-based rank of the tie run
		for k := i; k <= j; k++ {
			r[idx[k]] = avg
		}
		i = j + 1
	}
	for i := range y {
		y[i] = (r[i] - 0.5) / float64(n)
	}
}

// FitRequest is the full instruction for one fit: the data plus the
// remediations accumulated so far.
type FitRequest struct {
	Frame     *dataset.Frame
	Transform Transform
	Family    Family
	Weights   []float64 // per-observation, nil for unweighted
	Grouping  Grouping
}

// FittedModel is the solver's output. The engine only reads it; every refit
// produces a fresh one, superseding the previous.
type FittedModel struct {
	Residuals []float64 `json:"-"`
	Fitted    []float64 `json:"-"`
	DF        int       `json:"df"` // residual degrees of freedom
	Family    Family    `json:"family"`
	Units     []string  `json:"-"` // grouping key per observation, nil if consumed or absent
	Coeffs    []float64 `json:"coefficients,omitempty"`
	Names     []string  `json:"coefficientNames,omitempty"`
}

// NumObs returns the number of observations the model was fitted on.
func (m *FittedModel) NumObs() int { return len(m.Residuals) }

// Fitter is the external model-fitting capability. Implementations must
// honor ctx cancellation and deadlines; the pipeline imposes a timeout per
// fit and maps context.DeadlineExceeded to ErrFitTimeout.
type Fitter interface {
	Fit(ctx context.Context, req FitRequest) (*FittedModel, error)
}
