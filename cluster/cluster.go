// Package cluster selects a strategy for non-independent observations: when
// a grouping key with replicated units exists, the observations within a
// unit are pseudoreplicates and the model must account for the unit
// structure. The selector applies the degrees-of-freedom and level-count
// rules as a deterministic decision procedure over the design's structure;
// no model is fitted to reach the decision.
package cluster

import (
	"fmt"
	"sort"

	"regremedy/errs"
	"regremedy/model"
)

// DefaultMinRandomEffectLevels is the minimum number of grouping levels for
// a random effect to be estimable in practice.
const DefaultMinRandomEffectLevels = 5

// Design is the structural information the selector needs. Units and
// Treatments are per-observation; Treatments is the combination of
// fixed-effect factor levels for that observation (nil when the design has
// no factors). ParamCount is the number of fixed-effect parameters the
// design requires.
type Design struct {
	Units      []string
	Treatments []string
	ParamCount int
}

// Infeasibility records why a strategy was rejected.
type Infeasibility struct {
	Strategy model.Grouping `json:"strategy"`
	Reason   string         `json:"reason"`
}

// Decision is the selector's output: the recommended strategy, the
// strategies rejected along the way, and a warning when the recommendation
// itself is marginal.
type Decision struct {
	Strategy      model.Grouping  `json:"strategy"`
	Infeasible    []Infeasibility `json:"infeasible,omitempty"`
	Warning       string          `json:"warning,omitempty"`
	Justification string          `json:"justification"`
	UnitCount     int             `json:"unitCount"`
	Replicates    []int           `json:"replicatesPerUnit"`
}

// Select chooses among aggregate-by-unit, fixed-effect block and
// random-effect for the given design. minRandomEffectLevels <= 0 uses
// DefaultMinRandomEffectLevels. The precedence of the rules:
//
//  1. Fewer than 2 units: fails with errs.ErrNoGroupingPossible.
//  2. Aggregation leaving no residual degrees of freedom (units <= parameter
//     count) marks aggregate-by-unit infeasible.
//  3. A unit key perfectly confounded with the treatment combinations (no
//     unit spans more than one combination) marks the fixed-effect block
//     infeasible: block and treatment columns carry the same information.
//  4. Enough units for a random effect: recommend random-effect.
//  5. Otherwise fall back to a feasible strategy; when none is, recommend
//     aggregate-by-unit with a warning — the caller must treat a refit with
//     non-positive degrees of freedom as errs.ErrNoValidStrategy rather
//     than proceed.
func Select(d Design, minRandomEffectLevels int) (*Decision, error) {
	if minRandomEffectLevels <= 0 {
		minRandomEffectLevels = DefaultMinRandomEffectLevels
	}

	reps := replicates(d.Units)
	U := len(reps)
	if U < 2 {
		return nil, fmt.Errorf("%w: got %d unit(s)", errs.ErrNoGroupingPossible, U)
	}

	dec := &Decision{UnitCount: U}
	keys := make([]string, 0, U)
	for k := range reps {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		dec.Replicates = append(dec.Replicates, reps[k])
	}

	aggregateOK := U > d.ParamCount
	if !aggregateOK {
		dec.Infeasible = append(dec.Infeasible, Infeasibility{
			Strategy: model.GroupingAggregate,
			Reason: fmt.Sprintf(
				"insufficient units for parameter count: %d units, %d parameters leaves %d residual degrees of freedom",
				U, d.ParamCount, U-d.ParamCount),
		})
	}

	blockOK := !confounded(d.Units, d.Treatments)
	if !blockOK {
		dec.Infeasible = append(dec.Infeasible, Infeasibility{
			Strategy: model.GroupingFixedBlock,
			Reason:   "block perfectly confounded with treatment: each unit maps to exactly one factor-level combination",
		})
	}

	switch {
	case U >= minRandomEffectLevels:
		dec.Strategy = model.GroupingRandomEffect
		dec.Justification = fmt.Sprintf(
			"%d grouping levels (>= %d): model the unit key as a random effect",
			U, minRandomEffectLevels)
	case blockOK:
		dec.Strategy = model.GroupingFixedBlock
		dec.Justification = fmt.Sprintf(
			"%d grouping levels (< %d, too few for a random effect): add the unit key as a fixed-effect block",
			U, minRandomEffectLevels)
	case aggregateOK:
		dec.Strategy = model.GroupingAggregate
		dec.Justification = fmt.Sprintf(
			"%d grouping levels, blocking confounded with treatment: aggregate to one value per unit",
			U)
	default:
		dec.Strategy = model.GroupingAggregate
		dec.Warning = fmt.Sprintf(
			"aggregation leaves %d residual degrees of freedom; report no-valid-strategy instead of proceeding",
			U-d.ParamCount)
		dec.Justification = "no strategy is cleanly feasible; aggregate-by-unit is the least bad option"
	}
	return dec, nil
}

func replicates(units []string) map[string]int {
	reps := make(map[string]int)
	for _, u := range units {
		reps[u]++
	}
	return reps
}

// confounded reports whether the unit key is perfectly confounded with the
// treatment structure: every unit's observations share a single factor-level
// combination, so unit dummies span the same column space as the treatment
// dummies and the design matrix would be rank-deficient. A design with at
// most one distinct combination (or no factors at all) cannot be confounded.
func confounded(units, treatments []string) bool {
	if treatments == nil || len(treatments) != len(units) {
		return false
	}
	combos := make(map[string]bool)
	unitCombo := make(map[string]string)
	for i, u := range units {
		combos[treatments[i]] = true
		if prev, seen := unitCombo[u]; seen {
			if prev != treatments[i] {
				return false // this unit spans combinations; block is estimable
			}
		} else {
			unitCombo[u] = treatments[i]
		}
	}
	return len(combos) > 1
}
