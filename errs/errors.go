// Package errs defines the error values shared across the regremedy packages.
//
// All errors the diagnostics, advisors and pipeline can return are exported
// sentinel values, so callers branch with errors.Is rather than string
// matching:
//
//	d, err := diag.Analyze(resid, fitted, units, cfg)
//	if errors.Is(err, errs.ErrInsufficientData) {
//	    // fewer than 3 residuals, nothing to classify
//	}
package errs

import (
	"errors"
	"fmt"
)

var (
	// ErrInsufficientData means there are too few residuals to assess shape.
	ErrInsufficientData = errors.New("insufficient data: need at least 3 residuals")

	// ErrDegenerateGrouping means every unit has exactly one replicate, so
	// the grouping key carries no information.
	ErrDegenerateGrouping = errors.New("degenerate grouping: every unit has a single replicate")

	// ErrTransformDomain means the requested transform is invalid for the
	// data, e.g. a log on values that are not strictly positive.
	ErrTransformDomain = errors.New("transform domain: transform invalid for data range")

	// ErrUnsupportedFamily is returned by a fitter that cannot solve the
	// requested distributional family.
	ErrUnsupportedFamily = errors.New("unsupported family for this fitter")

	// ErrUnsupportedStrategy is returned by a fitter that cannot apply the
	// requested grouping strategy (e.g. random effects on a plain OLS solver).
	ErrUnsupportedStrategy = errors.New("unsupported grouping strategy for this fitter")

	// ErrNoGroupingPossible means fewer than two units exist, so no
	// clustering strategy can be selected.
	ErrNoGroupingPossible = errors.New("no grouping possible: need at least 2 units")

	// ErrNoValidStrategy means every clustering strategy is infeasible for
	// the design.
	ErrNoValidStrategy = errors.New("no valid clustering strategy for this design")

	// ErrUnstableWeights means a predicted group variance fell at or below
	// the floor, which would inflate weights without bound.
	ErrUnstableWeights = errors.New("unstable weights: predicted variance at or below floor")

	// ErrFitNonConvergence is reported when the external fitting capability
	// fails to converge.
	ErrFitNonConvergence = errors.New("model fit did not converge")

	// ErrFitTimeout is reported when the external fitting capability exceeds
	// its deadline.
	ErrFitTimeout = errors.New("model fit timed out")

	// ErrMaxIterations means the remediation loop hit its iteration bound
	// before the assumptions were satisfied.
	ErrMaxIterations = errors.New("remediation iteration bound exceeded")
)

// Kind buckets an error into the coarse taxonomy used in reports.
type Kind string

const (
	KindInput       Kind = "input"
	KindDomain      Kind = "domain"
	KindStrategy    Kind = "strategy"
	KindExternalFit Kind = "external-fit"
	KindCancelled   Kind = "cancelled"
	KindUnknown     Kind = "unknown"
)

// Classify maps an error to its taxonomy Kind. Wrapped errors are unwrapped
// via errors.Is, so Classify works on errors decorated with fmt.Errorf("%w").
func Classify(err error) Kind {
	switch {
	case err == nil:
		return KindUnknown
	case errors.Is(err, ErrInsufficientData), errors.Is(err, ErrDegenerateGrouping):
		return KindInput
	case errors.Is(err, ErrTransformDomain), errors.Is(err, ErrUnsupportedFamily):
		return KindDomain
	case errors.Is(err, ErrNoGroupingPossible), errors.Is(err, ErrNoValidStrategy),
		errors.Is(err, ErrUnsupportedStrategy):
		return KindStrategy
	case errors.Is(err, ErrFitNonConvergence), errors.Is(err, ErrFitTimeout),
		errors.Is(err, ErrMaxIterations):
		return KindExternalFit
	case errors.Is(err, errCancelledProbe):
		return KindCancelled
	default:
		return KindUnknown
	}
}

// context.Canceled and context.DeadlineExceeded are matched without importing
// context here; the pipeline wraps them with Cancelled before surfacing.
var errCancelledProbe = Cancelled(nil)

// CancelledError marks a run stopped by the caller. The last successfully
// diagnosed state stays available on the report for debugging.
type CancelledError struct {
	cause error
}

// Cancelled wraps cause as a CancelledError.
func Cancelled(cause error) *CancelledError {
	return &CancelledError{cause: cause}
}

func (e *CancelledError) Error() string {
	if e.cause == nil {
		return "remediation cancelled"
	}
	return fmt.Sprintf("remediation cancelled: %v", e.cause)
}

func (e *CancelledError) Unwrap() error { return e.cause }

// Is reports true for any other CancelledError, regardless of cause.
func (e *CancelledError) Is(target error) bool {
	_, ok := target.(*CancelledError)
	return ok
}

// StrategyError carries the reason a particular clustering strategy was
// judged infeasible.
type StrategyError struct {
	Strategy string
	Reason   string
}

func (e *StrategyError) Error() string {
	return fmt.Sprintf("strategy %s infeasible: %s", e.Strategy, e.Reason)
}

func (e *StrategyError) Is(target error) bool {
	return target == ErrNoValidStrategy
}
