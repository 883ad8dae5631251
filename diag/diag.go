// Package diag classifies the residuals of a fitted model against the linear
// model assumptions: normality/linearity of the residual shape,
// homoscedasticity across groups, and independence of observations.
//
// The classifiers replace the usual by-eye reading of Q-Q and
// residual-vs-fitted plots with quantitative rules: sample skewness and
// excess kurtosis for shape, correlation of empirical against theoretical
// normal quantiles for normality, and a max/min variance ratio across groups
// for heteroscedasticity. All thresholds come from Config, not constants.
package diag

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"

	"regremedy/errs"
)

// Config holds the classifier thresholds. Zero values are replaced by the
// defaults below, so Config{} is usable as-is.
type Config struct {
	// SkewnessThreshold flags |skewness| beyond this as right/left skew.
	SkewnessThreshold float64
	// KurtosisThreshold flags |excess kurtosis| beyond this as over/under
	// dispersion.
	KurtosisThreshold float64
	// QQCorrelationMin is the minimum Q-Q correlation still considered
	// consistent with normal residuals.
	QQCorrelationMin float64
	// HeteroRatio is the max/min group variance ratio above which
	// heteroscedasticity is flagged. Linear models tolerate ratios up to
	// roughly 4-10x when group sizes are near equal; 4 is the conservative
	// trigger.
	HeteroRatio float64
	// GroupSizeTolerance is the relative group-size spread below which a
	// high variance ratio is still classified ok.
	GroupSizeTolerance float64
}

// Defaults for any Config field left at zero.
const (
	DefaultSkewnessThreshold  = 0.5
	DefaultKurtosisThreshold  = 1.0
	DefaultQQCorrelationMin   = 0.95
	DefaultHeteroRatio        = 4.0
	DefaultGroupSizeTolerance = 0.2
)

func (c Config) withDefaults() Config {
	if c.SkewnessThreshold == 0 {
		c.SkewnessThreshold = DefaultSkewnessThreshold
	}
	if c.KurtosisThreshold == 0 {
		c.KurtosisThreshold = DefaultKurtosisThreshold
	}
	if c.QQCorrelationMin == 0 {
		c.QQCorrelationMin = DefaultQQCorrelationMin
	}
	if c.HeteroRatio == 0 {
		c.HeteroRatio = DefaultHeteroRatio
	}
	if c.GroupSizeTolerance == 0 {
		c.GroupSizeTolerance = DefaultGroupSizeTolerance
	}
	return c
}

// ShapeClass is the classification of the residual distribution's shape.
type ShapeClass int

const (
	ShapeOK ShapeClass = iota
	RightSkew
	LeftSkew
	OverDispersed  // fat tails
	UnderDispersed // platykurtic: bounded, uniform-like or bimodal
)

func (s ShapeClass) String() string {
	switch s {
	case ShapeOK:
		return "ok"
	case RightSkew:
		return "right-skew"
	case LeftSkew:
		return "left-skew"
	case OverDispersed:
		return "over-dispersed"
	case UnderDispersed:
		return "under-dispersed"
	default:
		return fmt.Sprintf("ShapeClass(%d)", int(s))
	}
}

// MarshalText lets ShapeClass serialize as its name in JSON reports.
func (s ShapeClass) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// Diagnosis is the outcome of one diagnostic pass. It is created fresh each
// pass and never updated afterwards.
type Diagnosis struct {
	Shape ShapeClass `json:"shape"`
	// PossibleMissingFactor is set when under-dispersion looks bimodal,
	// suggesting an unmodeled grouping factor.
	PossibleMissingFactor bool    `json:"possibleMissingFactor,omitempty"`
	Skewness              float64 `json:"skewness"`
	ExcessKurtosis        float64 `json:"excessKurtosis"`
	QQCorrelation         float64 `json:"qqCorrelation"`
	Normal                bool    `json:"normal"`

	Homoscedastic  bool               `json:"homoscedastic"`
	VarianceRatio  float64            `json:"varianceRatio,omitempty"`
	GroupVariances map[string]float64 `json:"groupVariances,omitempty"`

	Independent       bool  `json:"independent"`
	UnitCount         int   `json:"unitCount,omitempty"`
	ReplicatesPerUnit []int `json:"replicatesPerUnit,omitempty"`
}

// Clean reports whether no checked assumption is violated.
func (d *Diagnosis) Clean() bool {
	return d.Shape == ShapeOK && d.Homoscedastic && d.Independent
}

// Analyze runs one diagnostic pass over residuals. fitted may be nil; units
// may be nil when no grouping key exists. Analyze is a pure function of its
// inputs: running it twice on the same model yields an identical Diagnosis.
//
// It fails with errs.ErrInsufficientData for fewer than 3 residuals and with
// errs.ErrDegenerateGrouping when a grouping key is present but every unit
// holds exactly one replicate.
func Analyze(residuals, fitted []float64, units []string, cfg Config) (*Diagnosis, error) {
	if len(residuals) < 3 {
		return nil, fmt.Errorf("%w: got %d residuals", errs.ErrInsufficientData, len(residuals))
	}
	if fitted != nil && len(fitted) != len(residuals) {
		return nil, fmt.Errorf("fitted values length %d does not match residuals %d", len(fitted), len(residuals))
	}
	if units != nil && len(units) != len(residuals) {
		return nil, fmt.Errorf("unit key length %d does not match residuals %d", len(units), len(residuals))
	}
	cfg = cfg.withDefaults()

	d := &Diagnosis{
		Skewness:       stat.Skew(residuals, nil),
		ExcessKurtosis: stat.ExKurtosis(residuals, nil),
		QQCorrelation:  qqCorrelation(residuals),
		Homoscedastic:  true,
		Independent:    true,
	}
	d.classifyShape(residuals, cfg)

	if units != nil {
		if err := d.classifyGrouping(residuals, units, cfg); err != nil {
			return nil, err
		}
	}
	return d, nil
}

// classifyShape applies the shape rules in order: skewness sign first, then
// the Q-Q/kurtosis dispersion call.
func (d *Diagnosis) classifyShape(residuals []float64, cfg Config) {
	switch {
	case d.Skewness > cfg.SkewnessThreshold:
		d.Shape = RightSkew
	case d.Skewness < -cfg.SkewnessThreshold:
		d.Shape = LeftSkew
	case d.QQCorrelation < cfg.QQCorrelationMin || math.Abs(d.ExcessKurtosis) > cfg.KurtosisThreshold:
		if d.ExcessKurtosis > cfg.KurtosisThreshold {
			d.Shape = OverDispersed
		} else if d.ExcessKurtosis < -cfg.KurtosisThreshold {
			d.Shape = UnderDispersed
			d.PossibleMissingFactor = bimodal(residuals)
		} else {
			// Q-Q deviation without a kurtosis signature: call the heavier
			// side from the sign of the excess kurtosis.
			if d.ExcessKurtosis >= 0 {
				d.Shape = OverDispersed
			} else {
				d.Shape = UnderDispersed
				d.PossibleMissingFactor = bimodal(residuals)
			}
		}
	default:
		d.Shape = ShapeOK
	}
	d.Normal = d.Shape == ShapeOK
}

// classifyGrouping handles the homoscedasticity and independence checks.
func (d *Diagnosis) classifyGrouping(residuals []float64, units []string, cfg Config) error {
	grouped := make(map[string][]float64)
	for i, u := range units {
		grouped[u] = append(grouped[u], residuals[i])
	}

	maxRep := 0
	minN, maxN := math.MaxInt, 0
	for _, vals := range grouped {
		if len(vals) > maxRep {
			maxRep = len(vals)
		}
		if len(vals) < minN {
			minN = len(vals)
		}
		if len(vals) > maxN {
			maxN = len(vals)
		}
	}
	if maxRep == 1 {
		return fmt.Errorf("%w: %d units", errs.ErrDegenerateGrouping, len(grouped))
	}

	d.UnitCount = len(grouped)
	keys := make([]string, 0, len(grouped))
	for k := range grouped {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		d.ReplicatesPerUnit = append(d.ReplicatesPerUnit, len(grouped[k]))
	}

	// Independence: replicated units mean the observations are not
	// independent draws (pseudoreplication if modeled as such).
	d.Independent = false

	// Homoscedasticity: variance ratio across groups, only meaningful for
	// groups with at least 2 residuals.
	d.GroupVariances = make(map[string]float64, len(grouped))
	minVar, maxVar := math.Inf(1), 0.0
	varGroups := 0
	for _, k := range keys {
		vals := grouped[k]
		if len(vals) < 2 {
			continue
		}
		v := stat.Variance(vals, nil)
		d.GroupVariances[k] = v
		varGroups++
		if v < minVar {
			minVar = v
		}
		if v > maxVar {
			maxVar = v
		}
	}
	if varGroups >= 2 && minVar > 0 {
		d.VarianceRatio = maxVar / minVar
		sizeSpread := float64(maxN-minN) / float64(maxN)
		// Linear models are robust to unequal variances when group sizes are
		// near equal; only flag when both the ratio and the size spread
		// exceed their tolerances.
		if d.VarianceRatio > cfg.HeteroRatio && sizeSpread > cfg.GroupSizeTolerance {
			d.Homoscedastic = false
		}
	}
	return nil
}

// qqCorrelation correlates the sorted standardized residuals against the
// theoretical normal quantiles at p = (i-0.5)/n. Values near 1 indicate the
// straight-line Q-Q plot of normal residuals.
func qqCorrelation(residuals []float64) float64 {
	n := len(residuals)
	sorted := make([]float64, n)
	copy(sorted, residuals)
	sort.Float64s(sorted)

	norm := distuv.Normal{Mu: 0, Sigma: 1}
	theoretical := make([]float64, n)
	for i := range theoretical {
		theoretical[i] = norm.Quantile((float64(i) + 0.5) / float64(n))
	}
	return stat.Correlation(sorted, theoretical, nil)
}
