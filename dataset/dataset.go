// Package dataset holds the observation set the diagnostics and fitters
// operate on: a numeric response, optional numeric covariates, optional
// categorical factors, and an optional unit (grouping) key per observation.
package dataset

import (
	"fmt"
	"sort"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// SupportKind declares the support of the response variable. It is supplied
// by the caller, not inferred from the data.
type SupportKind int

const (
	Continuous SupportKind = iota
	Binary
	Count
	Proportion
)

func (k SupportKind) String() string {
	switch k {
	case Continuous:
		return "continuous"
	case Binary:
		return "binary"
	case Count:
		return "count"
	case Proportion:
		return "proportion"
	default:
		return fmt.Sprintf("SupportKind(%d)", int(k))
	}
}

// ParseSupportKind converts a config/CLI string to a SupportKind.
func ParseSupportKind(s string) (SupportKind, error) {
	switch s {
	case "continuous", "":
		return Continuous, nil
	case "binary":
		return Binary, nil
	case "count":
		return Count, nil
	case "proportion":
		return Proportion, nil
	default:
		return Continuous, fmt.Errorf("unknown response kind %q", s)
	}
}

// Factor is a categorical predictor column.
type Factor struct {
	Name   string
	Levels []string // one entry per observation
}

// Frame is an ordered observation set. Numeric covariates are stored as an
// n x q matrix (rows: observations), the way the estimation code consumes
// them. Units is nil when no grouping key exists.
type Frame struct {
	Response     []float64
	Kind         SupportKind
	Numeric      *mat.Dense // n x q, nil if no numeric covariates
	NumericNames []string
	Factors      []Factor
	Units        []string // len n, or nil
}

// Len returns the number of observations.
func (f *Frame) Len() int { return len(f.Response) }

// Validate checks the internal consistency of the frame: matching lengths
// and, when a unit key is present, non-empty unit labels (the key must
// partition the observations into disjoint non-empty units).
func (f *Frame) Validate() error {
	n := f.Len()
	if n == 0 {
		return fmt.Errorf("frame has no observations")
	}
	if f.Numeric != nil {
		r, _ := f.Numeric.Dims()
		if r != n {
			return fmt.Errorf("numeric covariates have %d rows, response has %d", r, n)
		}
	}
	for _, fc := range f.Factors {
		if len(fc.Levels) != n {
			return fmt.Errorf("factor %s has %d entries, response has %d", fc.Name, len(fc.Levels), n)
		}
	}
	if f.Units != nil {
		if len(f.Units) != n {
			return fmt.Errorf("unit key has %d entries, response has %d", len(f.Units), n)
		}
		for i, u := range f.Units {
			if u == "" {
				return fmt.Errorf("row %d: empty unit key", i+1)
			}
		}
	}
	return nil
}

// ReplicateCounts returns observations per unit. Nil when no unit key exists.
func (f *Frame) ReplicateCounts() map[string]int {
	if f.Units == nil {
		return nil
	}
	counts := make(map[string]int)
	for _, u := range f.Units {
		counts[u]++
	}
	return counts
}

// Unit is the derived per-unit summary. Recomputed whenever aggregation is
// requested, never persisted.
type Unit struct {
	Key      string
	Count    int
	Mean     float64
	Variance float64
}

// UnitSummary computes per-unit response mean and variance, sorted by key for
// deterministic output. Returns nil when no unit key exists.
func (f *Frame) UnitSummary() []Unit {
	if f.Units == nil {
		return nil
	}
	grouped := make(map[string][]float64)
	for i, u := range f.Units {
		grouped[u] = append(grouped[u], f.Response[i])
	}
	keys := make([]string, 0, len(grouped))
	for k := range grouped {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	units := make([]Unit, 0, len(keys))
	for _, k := range keys {
		vals := grouped[k]
		u := Unit{Key: k, Count: len(vals), Mean: stat.Mean(vals, nil)}
		if len(vals) > 1 {
			u.Variance = stat.Variance(vals, nil)
		}
		units = append(units, u)
	}
	return units
}

// TreatmentCombos returns, per observation, the combination of factor levels
// as a single label ("A|low" for factors A and low). Used by the clustering
// strategy selector to detect unit/treatment confounding. Returns nil when
// the frame has no factors.
func (f *Frame) TreatmentCombos() []string {
	if len(f.Factors) == 0 {
		return nil
	}
	combos := make([]string, f.Len())
	for i := range combos {
		label := ""
		for j, fc := range f.Factors {
			if j > 0 {
				label += "|"
			}
			label += fc.Levels[i]
		}
		combos[i] = label
	}
	return combos
}

// ParamCount is the number of fixed-effect parameters the frame's design
// requires: intercept, one per numeric covariate, and levels-1 per factor.
func (f *Frame) ParamCount() int {
	p := 1
	if f.Numeric != nil {
		_, q := f.Numeric.Dims()
		p += q
	}
	for _, fc := range f.Factors {
		p += len(distinctLevels(fc.Levels)) - 1
	}
	return p
}

// AggregateByUnit collapses the frame to one observation per unit: the
// response and numeric covariates become unit means, and factors must be
// constant within each unit (anything else means the grouping key does not
// nest inside the design). The returned frame carries no unit key; the
// grouping has been consumed.
func (f *Frame) AggregateByUnit() (*Frame, error) {
	if f.Units == nil {
		return nil, fmt.Errorf("aggregate: frame has no unit key")
	}

	// Preserve first-appearance order of units.
	var order []string
	rows := make(map[string][]int)
	for i, u := range f.Units {
		if _, seen := rows[u]; !seen {
			order = append(order, u)
		}
		rows[u] = append(rows[u], i)
	}

	U := len(order)
	agg := &Frame{
		Response: make([]float64, U),
		Kind:     f.Kind,
	}

	var q int
	if f.Numeric != nil {
		_, q = f.Numeric.Dims()
		agg.Numeric = mat.NewDense(U, q, nil)
		agg.NumericNames = f.NumericNames
	}
	for _, fc := range f.Factors {
		agg.Factors = append(agg.Factors, Factor{Name: fc.Name, Levels: make([]string, U)})
	}

	for ui, key := range order {
		idx := rows[key]
		vals := make([]float64, len(idx))
		for j, i := range idx {
			vals[j] = f.Response[i]
		}
		agg.Response[ui] = stat.Mean(vals, nil)

		for c := 0; c < q; c++ {
			sum := 0.0
			for _, i := range idx {
				sum += f.Numeric.At(i, c)
			}
			agg.Numeric.Set(ui, c, sum/float64(len(idx)))
		}

		for fi, fc := range f.Factors {
			level := fc.Levels[idx[0]]
			for _, i := range idx[1:] {
				if fc.Levels[i] != level {
					return nil, fmt.Errorf(
						"aggregate: factor %s varies within unit %s (%q vs %q)",
						fc.Name, key, level, fc.Levels[i],
					)
				}
			}
			agg.Factors[fi].Levels[ui] = level
		}
	}

	return agg, nil
}

func distinctLevels(levels []string) []string {
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
