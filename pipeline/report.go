package pipeline

import (
	"encoding/json"
	"math"

	"gonum.org/v1/gonum/stat"

	"regremedy/cluster"
	"regremedy/diag"
	"regremedy/errs"
	"regremedy/model"
)

// State names a pipeline state. Only terminal states appear in reports.
type State string

const (
	StateDiagnosing   State = "diagnosing"
	StateRecommending State = "recommending"
	StateRefitting    State = "refitting"
	StateDone         State = "done"
	StateFailed       State = "failed"
)

// RecKind tags a Recommendation variant.
type RecKind string

const (
	RecTransform    RecKind = "transform"
	RecFamilyChange RecKind = "family-change"
	RecClustering   RecKind = "clustering-strategy"
	RecReweight     RecKind = "reweight"
	RecAdvisory     RecKind = "advisory"
)

// Recommendation is one proposed remediation, exactly one variant populated
// per Kind. Applied marks the recommendation the refit acted on;
// Unapplicable carries the reason when the configured fitter lacks the
// capability (GLM family, random effects) to act on it.
type Recommendation struct {
	Kind          RecKind           `json:"kind"`
	Transform     *model.Transform  `json:"transform,omitempty"`
	Family        *model.Family     `json:"family,omitempty"`
	Clustering    *cluster.Decision `json:"clustering,omitempty"`
	Weights       []float64         `json:"-"`
	Justification string            `json:"justification"`
	Applied       bool              `json:"applied"`
	Unapplicable  string            `json:"unapplicable,omitempty"`
}

// Pass is one Diagnosing/Recommending round.
type Pass struct {
	Diagnosis       *diag.Diagnosis  `json:"diagnosis"`
	Recommendations []Recommendation `json:"recommendations,omitempty"`
}

// ModelSummary is the caller-facing condensation of the last fitted model.
type ModelSummary struct {
	NumObs     int             `json:"numObs"`
	DF         int             `json:"df"`
	Family     model.Family    `json:"family"`
	Transform  model.Transform `json:"transform"`
	Grouping   string          `json:"grouping"`
	Weighted   bool            `json:"weighted"`
	ResidualSD float64         `json:"residualSD"`
}

// Report is the serializable outcome of a remediation run: every pass's
// diagnosis and recommendations, the iteration count, and the terminal
// state. A reporting collaborator renders plots from the numeric content;
// the engine emits no graphics.
type Report struct {
	RunID      string       `json:"runId"`
	Passes     []Pass       `json:"passes"`
	Iterations int          `json:"iterationsUsed"`
	Terminal   State        `json:"terminalState"`
	Error      string       `json:"error,omitempty"`
	ErrorKind  errs.Kind    `json:"errorKind,omitempty"`
	Final      ModelSummary `json:"finalModelSummary"`
}

// JSON renders the report with indentation for files and logs.
func (r *Report) JSON() ([]byte, error) {
	return json.MarshalIndent(r, "", "  ")
}

// AttemptedRecommendations flattens every recommendation from every pass,
// in order. Useful when a failed run needs its trail listed.
func (r *Report) AttemptedRecommendations() []Recommendation {
	var out []Recommendation
	for _, p := range r.Passes {
		out = append(out, p.Recommendations...)
	}
	return out
}

func summarize(m *model.FittedModel, req model.FitRequest) ModelSummary {
	s := ModelSummary{
		NumObs:    m.NumObs(),
		DF:        m.DF,
		Family:    m.Family,
		Transform: req.Transform,
		Grouping:  req.Grouping.String(),
		Weighted:  req.Weights != nil,
	}
	if len(m.Residuals) > 1 {
		s.ResidualSD = math.Sqrt(stat.Variance(m.Residuals, nil))
	}
	return s
}
