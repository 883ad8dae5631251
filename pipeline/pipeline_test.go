package pipeline

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/stat/distuv"

	"regremedy/dataset"
	"regremedy/errs"
	"regremedy/model"
)

// scriptFitter replays a fixed sequence of models/errors and records every
// request it receives.
type scriptFitter struct {
	results []fitResult
	calls   []model.FitRequest
}

type fitResult struct {
	m   *model.FittedModel
	err error
}

func (s *scriptFitter) Fit(ctx context.Context, req model.FitRequest) (*model.FittedModel, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.calls = append(s.calls, req)
	if len(s.results) == 0 {
		return nil, fmt.Errorf("script exhausted after %d calls", len(s.calls))
	}
	r := s.results[0]
	s.results = s.results[1:]
	return r.m, r.err
}

func normalScores(n int) []float64 {
	norm := distuv.Normal{Mu: 0, Sigma: 1}
	out := make([]float64, n)
	for i := range out {
		out[i] = norm.Quantile((float64(i) + 0.5) / float64(n))
	}
	return out
}

func seq(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = float64(i + 1)
	}
	return out
}

// groupedUnits builds 10 "a" observations followed by 4 "b" observations.
func groupedUnits() []string {
	units := make([]string, 14)
	for i := range units {
		units[i] = "a"
		if i >= 10 {
			units[i] = "b"
		}
	}
	return units
}

// heteroModel has small residuals in the large group and large residuals in
// the small group: variance ratio far beyond 4 with unequal group sizes.
func heteroModel() *model.FittedModel {
	resid := make([]float64, 14)
	for i := 0; i < 10; i++ {
		resid[i] = 0.1
		if i%2 == 1 {
			resid[i] = -0.1
		}
	}
	for i := 10; i < 14; i++ {
		resid[i] = 3
		if i%2 == 1 {
			resid[i] = -3
		}
	}
	return &model.FittedModel{
		Residuals: resid,
		Fitted:    seq(14),
		DF:        12,
		Family:    model.GaussianIdentity,
		Units:     groupedUnits(),
	}
}

// cleanGroupedModel splits exact normal scores across the two groups so the
// variances match: no assumption is violated except independence, which the
// caller's request state decides.
func cleanGroupedModel() *model.FittedModel {
	scores := normalScores(14)
	resid := make([]float64, 14)
	units := make([]string, 14)
	bIdx := map[int]bool{1: true, 4: true, 9: true, 12: true}

	ai, bi := 0, 10
	for i, v := range scores {
		if bIdx[i] {
			resid[bi] = v
			units[bi] = "b"
			bi++
		} else {
			resid[ai] = v
			units[ai] = "a"
			ai++
		}
	}
	return &model.FittedModel{
		Residuals: resid,
		Fitted:    seq(14),
		DF:        12,
		Family:    model.GaussianIdentity,
		Units:     units,
	}
}

func cleanModel() *model.FittedModel {
	return &model.FittedModel{
		Residuals: normalScores(20),
		Fitted:    seq(20),
		DF:        18,
		Family:    model.GaussianIdentity,
	}
}

func testFrame(n int, units []string) *dataset.Frame {
	resp := make([]float64, n)
	for i := range resp {
		resp[i] = float64(i + 1)
	}
	return &dataset.Frame{Response: resp, Units: units}
}

func TestRun_CleanModelIsDoneImmediately(t *testing.T) {
	fitter := &scriptFitter{}
	p := New(fitter, Config{}, nil)

	report, m, err := p.Run(context.Background(), testFrame(20, nil), cleanModel())
	require.NoError(t, err)

	assert.Equal(t, StateDone, report.Terminal)
	assert.Equal(t, 0, report.Iterations)
	assert.Empty(t, fitter.calls, "no refit for a clean model")
	require.Len(t, report.Passes, 1)
	assert.True(t, report.Passes[0].Diagnosis.Clean())
	assert.NotNil(t, m)
	assert.NotEmpty(t, report.RunID)
}

// Independence outranks heteroscedasticity, which outranks shape: the first
// refit applies the clustering strategy, the second the reweighting, and the
// round-trip ends with homoscedasticity classified ok.
func TestRun_PrecedenceAndReweightRoundTrip(t *testing.T) {
	fitter := &scriptFitter{results: []fitResult{
		{m: heteroModel()},       // after clustering strategy
		{m: cleanGroupedModel()}, // after reweighting
	}}
	p := New(fitter, Config{ClipWeights: true}, nil)

	report, _, err := p.Run(context.Background(), testFrame(14, groupedUnits()), heteroModel())
	require.NoError(t, err)

	assert.Equal(t, StateDone, report.Terminal)
	assert.Equal(t, 2, report.Iterations)
	require.Len(t, fitter.calls, 2)

	// First refit resolves the grouping: 2 units is too few for a random
	// effect, and with no treatment factors the fixed block applies.
	assert.Equal(t, model.GroupingFixedBlock, fitter.calls[0].Grouping)
	assert.Nil(t, fitter.calls[0].Weights)

	// Second refit keeps the grouping and adds the weights.
	assert.Equal(t, model.GroupingFixedBlock, fitter.calls[1].Grouping)
	assert.NotNil(t, fitter.calls[1].Weights)

	// The final pass sees equal group variances.
	last := report.Passes[len(report.Passes)-1].Diagnosis
	assert.True(t, last.Homoscedastic)
	assert.Equal(t, 2, countApplied(report))
}

// A fitter that never fixes anything must stop at the iteration bound with
// the full recommendation trail, not loop forever.
func TestRun_TerminatesAtMaxIterations(t *testing.T) {
	fitter := &scriptFitter{}
	for i := 0; i < 10; i++ {
		fitter.results = append(fitter.results, fitResult{m: heteroModel()})
	}
	p := New(fitter, Config{MaxIterations: 3, ClipWeights: true}, nil)

	report, m, err := p.Run(context.Background(), testFrame(14, groupedUnits()), heteroModel())
	require.ErrorIs(t, err, errs.ErrMaxIterations)

	assert.Equal(t, StateFailed, report.Terminal)
	assert.Equal(t, errs.KindExternalFit, report.ErrorKind)
	assert.Equal(t, 3, report.Iterations)
	assert.NotEmpty(t, report.AttemptedRecommendations())
	assert.NotNil(t, m, "last model stays inspectable on failure")
}

func TestRun_CancellationBeforeRefit(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	fitter := &scriptFitter{results: []fitResult{{m: heteroModel()}}}
	p := New(fitter, Config{ClipWeights: true}, nil)

	report, m, err := p.Run(ctx, testFrame(14, groupedUnits()), heteroModel())
	require.Error(t, err)
	assert.ErrorIs(t, err, errs.Cancelled(nil))

	assert.Equal(t, StateFailed, report.Terminal)
	assert.Equal(t, errs.KindCancelled, report.ErrorKind)
	assert.Empty(t, fitter.calls, "cancellation gates the refit transition")
	assert.NotNil(t, m, "last model stays inspectable after cancellation")
	require.NotEmpty(t, report.Passes, "the diagnosed state is preserved")
}

// When the configured fitter cannot apply the only actionable remediation
// (a GLM family on a least-squares solver), the run stops cleanly with the
// recommendation surfaced, not silently dropped.
func TestRun_UnapplicableFamilySurfaces(t *testing.T) {
	overdispersed := &model.FittedModel{
		Residuals: append(normalScores(40), -8, 8),
		Fitted:    seq(42),
		DF:        40,
		Family:    model.GaussianIdentity,
	}
	fitter := &scriptFitter{results: []fitResult{
		{err: fmt.Errorf("%w: binomial needs a GLM solver", errs.ErrUnsupportedFamily)},
	}}

	frame := testFrame(42, nil)
	frame.Kind = dataset.Count

	p := New(fitter, Config{}, nil)
	report, _, err := p.Run(context.Background(), frame, overdispersed)
	require.NoError(t, err)

	assert.Equal(t, StateDone, report.Terminal)
	assert.Equal(t, 0, report.Iterations)

	var surfaced bool
	for _, rec := range report.AttemptedRecommendations() {
		if rec.Kind == RecFamilyChange {
			assert.NotEmpty(t, rec.Unapplicable)
			assert.False(t, rec.Applied)
			surfaced = true
		}
	}
	assert.True(t, surfaced, "family recommendation must appear in the report")
}

// A random-effect refit that the fitter rejects retries once downgraded to a
// fixed block before surfacing anything.
func TestRun_RandomEffectDowngradesOnce(t *testing.T) {
	// 6 units beats the random-effect threshold.
	units := make([]string, 12)
	for i := range units {
		units[i] = fmt.Sprintf("u%d", i/2)
	}
	resid := normalScores(12)
	initial := &model.FittedModel{
		Residuals: resid,
		Fitted:    seq(12),
		DF:        10,
		Family:    model.GaussianIdentity,
		Units:     units,
	}

	fitter := &scriptFitter{results: []fitResult{
		{err: fmt.Errorf("%w: no mixed solver", errs.ErrUnsupportedStrategy)},
		{m: cleanModel()},
	}}
	p := New(fitter, Config{}, nil)

	report, _, err := p.Run(context.Background(), testFrame(12, units), initial)
	require.NoError(t, err)

	require.Len(t, fitter.calls, 2)
	assert.Equal(t, model.GroupingRandomEffect, fitter.calls[0].Grouping)
	assert.Equal(t, model.GroupingFixedBlock, fitter.calls[1].Grouping)
	assert.Equal(t, StateDone, report.Terminal)
	assert.Equal(t, 1, report.Iterations)
}

// The least-bad aggregation that still leaves no degrees of freedom is a
// hard stop, never a silent fit.
func TestRun_NoValidStrategy(t *testing.T) {
	units := []string{"u1", "u1", "u2", "u2", "u3", "u3"}
	combos := []string{"c1", "c1", "c2", "c2", "c3", "c3"}

	frame := &dataset.Frame{
		Response: []float64{1, 2, 3, 4, 5, 6},
		Units:    units,
		Factors: []dataset.Factor{
			{Name: "trt", Levels: combos},
		},
	}

	initial := &model.FittedModel{
		Residuals: normalScores(6),
		Fitted:    seq(6),
		DF:        3,
		Family:    model.GaussianIdentity,
		Units:     units,
	}
	// Aggregating 3 units against 3 parameters leaves zero degrees of
	// freedom; the fitter's answer confirms it.
	fitter := &scriptFitter{results: []fitResult{
		{m: &model.FittedModel{
			Residuals: []float64{0, 0, 0},
			Fitted:    []float64{1, 2, 3},
			DF:        0,
			Family:    model.GaussianIdentity,
		}},
	}}

	p := New(fitter, Config{}, nil)
	report, _, err := p.Run(context.Background(), frame, initial)
	require.ErrorIs(t, err, errs.ErrNoValidStrategy)
	assert.Equal(t, StateFailed, report.Terminal)
	assert.Equal(t, errs.KindStrategy, report.ErrorKind)
}

func TestRun_NilInitialRequestsBaseline(t *testing.T) {
	fitter := &scriptFitter{results: []fitResult{{m: cleanModel()}}}
	p := New(fitter, Config{}, nil)

	report, _, err := p.Run(context.Background(), testFrame(20, nil), nil)
	require.NoError(t, err)

	require.Len(t, fitter.calls, 1)
	assert.Equal(t, model.GaussianIdentity, fitter.calls[0].Family)
	assert.Equal(t, 0, report.Iterations, "the baseline fit is not a remediation iteration")
	assert.Equal(t, StateDone, report.Terminal)
}

func TestDiagnoseOnly(t *testing.T) {
	report, err := DiagnoseOnly(testFrame(14, groupedUnits()), heteroModel(), Config{ClipWeights: true})
	require.NoError(t, err)

	assert.Equal(t, StateDone, report.Terminal)
	require.Len(t, report.Passes, 1)
	assert.False(t, report.Passes[0].Diagnosis.Independent)
	assert.False(t, report.Passes[0].Diagnosis.Homoscedastic)
	assert.NotEmpty(t, report.Passes[0].Recommendations)

	for _, rec := range report.Passes[0].Recommendations {
		assert.False(t, rec.Applied, "DiagnoseOnly never refits")
	}
}

func TestReport_JSONRoundTrips(t *testing.T) {
	report, err := DiagnoseOnly(testFrame(14, groupedUnits()), heteroModel(), Config{ClipWeights: true})
	require.NoError(t, err)

	data, err := report.JSON()
	require.NoError(t, err)
	assert.Contains(t, string(data), "terminalState")
	assert.Contains(t, string(data), "diagnosis")
}

func countApplied(r *Report) int {
	n := 0
	for _, rec := range r.AttemptedRecommendations() {
		if rec.Applied {
			n++
		}
	}
	return n
}
