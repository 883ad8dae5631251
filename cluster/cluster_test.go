package cluster

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"regremedy/errs"
	"regremedy/model"
)

// design builds a balanced per-observation design: units u0..u(n-1), reps
// replicates each, with treatments assigned by the combo function (nil means
// no factors).
func design(units, reps int, combo func(unit int) string) Design {
	d := Design{}
	for u := 0; u < units; u++ {
		for r := 0; r < reps; r++ {
			d.Units = append(d.Units, fmt.Sprintf("u%d", u))
			if combo != nil {
				d.Treatments = append(d.Treatments, combo(u))
			}
		}
	}
	return d
}

// The worked oyster example: 9 tanks, a treatment structure needing 10
// parameters, each tank holding exactly one treatment combination.
// Aggregation leaves non-positive degrees of freedom, blocking is perfectly
// confounded, and with 9 >= 5 levels the random effect wins.
func TestSelect_OysterExample(t *testing.T) {
	d := design(9, 4, func(unit int) string { return fmt.Sprintf("combo%d", unit) })
	d.ParamCount = 10

	dec, err := Select(d, 5)
	require.NoError(t, err)

	assert.Equal(t, model.GroupingRandomEffect, dec.Strategy)
	assert.Equal(t, 9, dec.UnitCount)

	var aggregateReason, blockReason string
	for _, inf := range dec.Infeasible {
		switch inf.Strategy {
		case model.GroupingAggregate:
			aggregateReason = inf.Reason
		case model.GroupingFixedBlock:
			blockReason = inf.Reason
		}
	}
	assert.Contains(t, aggregateReason, "insufficient units for parameter count")
	assert.Contains(t, aggregateReason, "-1 residual degrees of freedom")
	assert.Contains(t, blockReason, "confounded")
}

// Few units, units replicated across treatment combinations, plenty of
// degrees of freedom: the fixed-effect block is the right call.
func TestSelect_SmallUnconfoundedUsesFixedBlock(t *testing.T) {
	// Each unit sees both treatment levels, so block and treatment are not
	// confounded.
	d := design(3, 4, nil)
	d.Treatments = []string{
		"a", "a", "b", "b",
		"a", "a", "b", "b",
		"a", "a", "b", "b",
	}
	d.ParamCount = 2

	dec, err := Select(d, 5)
	require.NoError(t, err)

	assert.Equal(t, model.GroupingFixedBlock, dec.Strategy)
	assert.Empty(t, dec.Infeasible)
	assert.Empty(t, dec.Warning)
}

func TestSelect_SingleUnitFails(t *testing.T) {
	d := design(1, 5, nil)
	_, err := Select(d, 5)
	require.ErrorIs(t, err, errs.ErrNoGroupingPossible)
}

func TestSelect_NoFactorsNeverConfounded(t *testing.T) {
	d := design(3, 3, nil)
	d.ParamCount = 1

	dec, err := Select(d, 5)
	require.NoError(t, err)
	assert.Equal(t, model.GroupingFixedBlock, dec.Strategy)
}

// Everything infeasible and too few levels for a random effect: the selector
// still names aggregate-by-unit but warns that the caller must report
// no-valid-strategy on non-positive degrees of freedom.
func TestSelect_AllInfeasibleWarns(t *testing.T) {
	d := design(3, 2, func(unit int) string { return fmt.Sprintf("combo%d", unit) })
	d.ParamCount = 4

	dec, err := Select(d, 5)
	require.NoError(t, err)

	assert.Equal(t, model.GroupingAggregate, dec.Strategy)
	assert.NotEmpty(t, dec.Warning)
	assert.Len(t, dec.Infeasible, 2)
}

func TestSelect_EnoughLevelsPrefersRandomEffect(t *testing.T) {
	d := design(6, 2, nil)
	d.ParamCount = 2

	dec, err := Select(d, 5)
	require.NoError(t, err)
	assert.Equal(t, model.GroupingRandomEffect, dec.Strategy)
}

func TestSelect_ThresholdIsConfigurable(t *testing.T) {
	d := design(4, 2, nil)
	d.ParamCount = 2

	dec, err := Select(d, 3)
	require.NoError(t, err)
	assert.Equal(t, model.GroupingRandomEffect, dec.Strategy)

	dec, err = Select(d, 5)
	require.NoError(t, err)
	assert.Equal(t, model.GroupingFixedBlock, dec.Strategy)
}

func TestSelect_UnbalancedReplicateList(t *testing.T) {
	d := Design{
		Units:      []string{"u0", "u0", "u0", "u1", "u1", "u2"},
		ParamCount: 1,
	}
	dec, err := Select(d, 5)
	require.NoError(t, err)
	assert.Equal(t, []int{3, 2, 1}, dec.Replicates)
}
