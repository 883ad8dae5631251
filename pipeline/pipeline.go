// Package pipeline orchestrates assumption diagnosis and remediation: it
// diagnoses a fitted model's residuals, asks the advisors for remediations,
// applies the highest-precedence one through the external fitting
// capability, and re-diagnoses the refit, iterating until the assumptions
// hold or the iteration bound is hit.
//
// Remediations apply in a fixed precedence: independence fixes (clustering
// strategy) before heteroscedasticity fixes (reweighting) before linearity
// fixes (transform, then family), because resolving the grouping structure
// changes the residual pool every later diagnostic operates on.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"regremedy/advise"
	"regremedy/cluster"
	"regremedy/dataset"
	"regremedy/diag"
	"regremedy/errs"
	"regremedy/model"
	"regremedy/weights"
)

// Config is the pipeline's tuning surface. Zero values fall back to the
// defaults below.
type Config struct {
	MaxIterations         int           // refit bound, default 10
	FitTimeout            time.Duration // per-fit deadline, default 30s
	MinRandomEffectLevels int           // default cluster.DefaultMinRandomEffectLevels
	WeightFloor           float64       // default weights.DefaultFloor
	ClipWeights           bool          // clamp unstable weights instead of failing
	Diag                  diag.Config
}

const (
	DefaultMaxIterations = 10
	DefaultFitTimeout    = 30 * time.Second
)

func (c Config) withDefaults() Config {
	if c.MaxIterations == 0 {
		c.MaxIterations = DefaultMaxIterations
	}
	if c.FitTimeout == 0 {
		c.FitTimeout = DefaultFitTimeout
	}
	if c.MinRandomEffectLevels == 0 {
		c.MinRandomEffectLevels = cluster.DefaultMinRandomEffectLevels
	}
	if c.WeightFloor == 0 {
		c.WeightFloor = weights.DefaultFloor
	}
	return c
}

// Pipeline runs remediation loops. Construct with New; the zero value is not
// usable.
type Pipeline struct {
	fitter model.Fitter
	cfg    Config
	log    *slog.Logger
}

// New builds a Pipeline around the given fitting capability. A nil logger
// uses slog.Default.
func New(fitter model.Fitter, cfg Config, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{fitter: fitter, cfg: cfg.withDefaults(), log: logger}
}

// Run drives the state machine starting from initial. A nil initial model
// makes Run request a baseline Gaussian fit first (not counted against the
// iteration bound).
//
// Run returns the report, the last successfully fitted model, and an error
// when the terminal state is Failed. The report and last model are returned
// even on failure, so the last diagnosed state stays inspectable.
func (p *Pipeline) Run(ctx context.Context, frame *dataset.Frame, initial *model.FittedModel) (*Report, *model.FittedModel, error) {
	if err := frame.Validate(); err != nil {
		return nil, nil, fmt.Errorf("pipeline: %w", err)
	}
	cfg := p.cfg

	report := &Report{RunID: uuid.NewString()}
	req := model.FitRequest{Frame: frame, Family: model.GaussianIdentity}

	cur := initial
	if cur == nil {
		m, err := p.fitOnce(ctx, req)
		if err != nil {
			return report, nil, p.fail(report, nil, err)
		}
		cur = m
	}
	log := p.log.With("run", report.RunID)
	log.Info("remediation started", "observations", frame.Len(), "kind", frame.Kind.String())

	for {
		// Diagnosing
		d, err := diag.Analyze(cur.Residuals, cur.Fitted, cur.Units, cfg.Diag)
		if err != nil {
			return report, cur, p.fail(report, cur, err)
		}
		log.Debug("diagnosis",
			"pass", len(report.Passes),
			"shape", d.Shape.String(),
			"homoscedastic", d.Homoscedastic,
			"independent", d.Independent)

		// Recommending
		recs, err := p.recommend(d, frame, cur, req)
		if err != nil {
			report.Passes = append(report.Passes, Pass{Diagnosis: d})
			return report, cur, p.fail(report, cur, err)
		}
		report.Passes = append(report.Passes, Pass{Diagnosis: d, Recommendations: recs})
		pass := &report.Passes[len(report.Passes)-1]

		if !anyActionable(pass.Recommendations) {
			report.Terminal = StateDone
			report.Final = summarize(cur, req)
			log.Info("remediation done", "iterations", report.Iterations)
			return report, cur, nil
		}

		if report.Iterations >= cfg.MaxIterations {
			return report, cur, p.fail(report, cur,
				fmt.Errorf("%w: %d refits", errs.ErrMaxIterations, report.Iterations))
		}
		// Cancellation check gates every Refitting transition.
		if err := ctx.Err(); err != nil {
			return report, cur, p.fail(report, cur, errs.Cancelled(err))
		}

		// Refitting: walk the pass's recommendations in precedence order
		// until one applies.
		next, applied, err := p.refit(ctx, pass, req, log)
		if err != nil {
			return report, cur, p.fail(report, cur, err)
		}
		if applied == nil {
			// Remediations remain but this fitter cannot apply any of them;
			// surface them in the report and stop cleanly.
			report.Terminal = StateDone
			report.Final = summarize(cur, req)
			log.Info("remediation stopped: remaining recommendations need an external solver",
				"iterations", report.Iterations)
			return report, cur, nil
		}

		req = next.req
		cur = next.model
		report.Iterations++
		log.Info("refit applied",
			"iteration", report.Iterations,
			"remediation", string(applied.Kind),
			"justification", applied.Justification)
	}
}

type refitResult struct {
	req   model.FitRequest
	model *model.FittedModel
}

// refit tries the pass's actionable recommendations in order. It returns the
// new request/model and the recommendation applied, or (nil, nil, nil) when
// every remaining recommendation needs a capability this fitter lacks.
func (p *Pipeline) refit(ctx context.Context, pass *Pass, req model.FitRequest, log *slog.Logger) (*refitResult, *Recommendation, error) {
	for i := range pass.Recommendations {
		rec := &pass.Recommendations[i]
		if rec.Kind == RecAdvisory || rec.Unapplicable != "" {
			continue
		}

		nextReq, err := applyRecommendation(req, rec)
		if err != nil {
			return nil, nil, err
		}

		m, err := p.fitOnce(ctx, nextReq)
		if err != nil {
			// Retry at most once with a simplified model before surfacing:
			// a failed random-effect fit downgrades to a fixed-effect block.
			if simplified, changed := simplify(nextReq, err); changed {
				log.Warn("refit failed, retrying simplified", "error", err)
				nextReq = simplified
				m, err = p.fitOnce(ctx, nextReq)
			}
		}
		if err != nil {
			if errors.Is(err, errs.ErrUnsupportedFamily) || errors.Is(err, errs.ErrUnsupportedStrategy) {
				rec.Unapplicable = err.Error()
				log.Warn("recommendation needs an external solver", "remediation", string(rec.Kind), "error", err)
				continue
			}
			return nil, nil, err
		}

		// A refit under the least-bad aggregation must still leave degrees
		// of freedom to estimate anything.
		if rec.Kind == RecClustering && rec.Clustering != nil && rec.Clustering.Warning != "" && m.DF <= 0 {
			return nil, nil, fmt.Errorf("%w: %s", errs.ErrNoValidStrategy, rec.Clustering.Warning)
		}

		rec.Applied = true
		return &refitResult{req: nextReq, model: m}, rec, nil
	}
	return nil, nil, nil
}

// recommend builds the pass's recommendations in precedence order.
func (p *Pipeline) recommend(d *diag.Diagnosis, frame *dataset.Frame, cur *model.FittedModel, req model.FitRequest) ([]Recommendation, error) {
	var recs []Recommendation

	// Independence first: the grouping structure changes the residual pool
	// everything below operates on. Once a strategy is in the request, the
	// violation is considered addressed.
	if !d.Independent && req.Grouping == model.GroupingNone {
		decision, err := cluster.Select(cluster.Design{
			Units:      cur.Units,
			Treatments: frame.TreatmentCombos(),
			ParamCount: frame.ParamCount(),
		}, p.cfg.MinRandomEffectLevels)
		if err != nil {
			return nil, err
		}
		recs = append(recs, Recommendation{
			Kind:          RecClustering,
			Clustering:    decision,
			Justification: decision.Justification,
		})
	}

	// Heteroscedasticity second.
	if !d.Homoscedastic {
		w, err := weights.Estimate(cur.Residuals, cur.Fitted, p.cfg.WeightFloor, p.cfg.ClipWeights)
		if err != nil {
			return nil, err
		}
		recs = append(recs, Recommendation{
			Kind:    RecReweight,
			Weights: w,
			Justification: fmt.Sprintf(
				"group variance ratio %.2f exceeds threshold: reweight by inverse predicted variance",
				d.VarianceRatio),
		})
	}

	// Linearity/normality shape last: transform, then family.
	if d.Shape != diag.ShapeOK {
		t, just, err := advise.SuggestTransform(d.Shape, frame.Response)
		switch {
		case errors.Is(err, errs.ErrTransformDomain):
			// No log-family transform fits the data; fall back to ranks.
			t = model.Transform{Kind: model.TransformRank}
			if t != req.Transform {
				recs = append(recs, Recommendation{
					Kind:          RecTransform,
					Transform:     &t,
					Justification: "no direct transform valid for the response range; rank-based fallback",
				})
			}
		case err != nil:
			return nil, err
		case t.Kind != model.TransformNone && t != req.Transform:
			tc := t
			recs = append(recs, Recommendation{
				Kind:          RecTransform,
				Transform:     &tc,
				Justification: just,
			})
		}

		fam := advise.SuggestFamily(frame.Kind, d.Shape)
		if fam.Change && fam.Family != req.Family {
			fc := fam.Family
			recs = append(recs, Recommendation{
				Kind:          RecFamilyChange,
				Family:        &fc,
				Justification: fam.Justification,
			})
		}
		if fam.Note != "" {
			recs = append(recs, Recommendation{
				Kind:          RecAdvisory,
				Justification: fam.Note,
			})
		}
		if d.PossibleMissingFactor {
			recs = append(recs, Recommendation{
				Kind:          RecAdvisory,
				Justification: "bimodal residuals suggest an unmodeled grouping factor",
			})
		}
	}
	return recs, nil
}

// applyRecommendation folds one recommendation into the accumulated request.
func applyRecommendation(req model.FitRequest, rec *Recommendation) (model.FitRequest, error) {
	switch rec.Kind {
	case RecClustering:
		req.Grouping = rec.Clustering.Strategy
		if req.Grouping == model.GroupingAggregate {
			// Aggregation changes the observation count; stale weights
			// cannot carry over.
			req.Weights = nil
		}
	case RecReweight:
		req.Weights = rec.Weights
	case RecTransform:
		req.Transform = *rec.Transform
	case RecFamilyChange:
		req.Family = *rec.Family
	default:
		return req, fmt.Errorf("cannot apply recommendation kind %q", rec.Kind)
	}
	return req, nil
}

// simplify downgrades a failed request once: random effects become a fixed
// block. Anything else surfaces as-is.
func simplify(req model.FitRequest, cause error) (model.FitRequest, bool) {
	if req.Grouping != model.GroupingRandomEffect {
		return req, false
	}
	if errors.Is(cause, errs.ErrUnsupportedStrategy) ||
		errors.Is(cause, errs.ErrFitNonConvergence) ||
		errors.Is(cause, errs.ErrFitTimeout) {
		req.Grouping = model.GroupingFixedBlock
		return req, true
	}
	return req, false
}

// fitOnce calls the external capability under the configured deadline,
// mapping a blown deadline to ErrFitTimeout.
func (p *Pipeline) fitOnce(ctx context.Context, req model.FitRequest) (*model.FittedModel, error) {
	fctx, cancel := context.WithTimeout(ctx, p.cfg.FitTimeout)
	defer cancel()

	m, err := p.fitter.Fit(fctx, req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			return nil, fmt.Errorf("%w after %s", errs.ErrFitTimeout, p.cfg.FitTimeout)
		}
		return nil, err
	}
	return m, nil
}

func (p *Pipeline) fail(report *Report, cur *model.FittedModel, err error) error {
	report.Terminal = StateFailed
	report.Error = err.Error()
	report.ErrorKind = errs.Classify(err)
	if cur != nil {
		report.Final = summarize(cur, model.FitRequest{})
	}
	p.log.Error("remediation failed", "run", report.RunID, "kind", string(report.ErrorKind), "error", err)
	return err
}

// DiagnoseOnly runs a single Diagnosing/Recommending pass on an existing
// model, producing a one-pass report without requesting any refit.
func DiagnoseOnly(frame *dataset.Frame, m *model.FittedModel, cfg Config) (*Report, error) {
	p := &Pipeline{cfg: cfg.withDefaults(), log: slog.Default()}
	report := &Report{RunID: uuid.NewString()}
	req := model.FitRequest{Frame: frame, Family: m.Family}

	d, err := diag.Analyze(m.Residuals, m.Fitted, m.Units, p.cfg.Diag)
	if err != nil {
		return report, p.fail(report, m, err)
	}
	recs, err := p.recommend(d, frame, m, req)
	if err != nil {
		report.Passes = append(report.Passes, Pass{Diagnosis: d})
		return report, p.fail(report, m, err)
	}
	report.Passes = append(report.Passes, Pass{Diagnosis: d, Recommendations: recs})
	report.Terminal = StateDone
	report.Final = summarize(m, req)
	return report, nil
}

func anyActionable(recs []Recommendation) bool {
	for _, r := range recs {
		if r.Kind != RecAdvisory && r.Unapplicable == "" {
			return true
		}
	}
	return false
}
