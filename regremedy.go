// Package regremedy diagnoses violated linear-model assumptions and selects
// remediations: response transformation, a different distributional family,
// a clustering strategy for non-independent observations, or variance-based
// reweighting.
//
// The heavy lifting lives in the subpackages; this package wires them
// together for the common case:
//
//	frame, _ := dataset.LoadCSV("oysters.csv", dataset.Schema{
//	    Response: "growth",
//	    Unit:     "tank",
//	    Factors:  []string{"treatment"},
//	})
//	report, m, err := regremedy.Run(ctx, frame, fit.OLS{}, regremedy.DefaultConfig(), nil)
//
// The returned report lists, per pass, the diagnosis (skewness, kurtosis,
// Q-Q correlation, group variance ratio, replicate structure) and the
// remediation applied, ending in a terminal state of done or failed. Bring
// your own model.Fitter to cover GLM families and random effects; the
// bundled fit.OLS covers least squares with transforms, weights, aggregation
// and fixed-effect blocks.
package regremedy

import (
	"context"
	"log/slog"

	"regremedy/dataset"
	"regremedy/model"
	"regremedy/pipeline"
)

// Run executes a full remediation loop on frame through the given fitter,
// starting from a fresh baseline fit. A nil logger uses slog.Default.
func Run(ctx context.Context, frame *dataset.Frame, fitter model.Fitter, cfg Config, logger *slog.Logger) (*pipeline.Report, *model.FittedModel, error) {
	p := pipeline.New(fitter, cfg.Pipeline(), logger)
	return p.Run(ctx, frame, nil)
}

// Diagnose runs a single diagnostic pass on an already fitted model without
// refitting anything. The frame supplies the raw response and design
// structure the advisors inspect.
func Diagnose(frame *dataset.Frame, m *model.FittedModel, cfg Config) (*pipeline.Report, error) {
	return pipeline.DiagnoseOnly(frame, m, cfg.Pipeline())
}
