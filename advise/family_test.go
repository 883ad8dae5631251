package advise

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"regremedy/dataset"
	"regremedy/diag"
	"regremedy/model"
)

func TestSuggestFamily_Mapping(t *testing.T) {
	tests := []struct {
		kind   dataset.SupportKind
		family model.FamilyKind
		link   model.LinkKind
		change bool
	}{
		{dataset.Binary, model.Binomial, model.Logit, true},
		{dataset.Count, model.Poisson, model.Log, true},
		{dataset.Proportion, model.Beta, model.Logit, true},
		{dataset.Continuous, model.Gaussian, model.Identity, false},
	}
	for _, tc := range tests {
		t.Run(tc.kind.String(), func(t *testing.T) {
			advice := SuggestFamily(tc.kind, diag.ShapeOK)
			assert.Equal(t, tc.family, advice.Family.Kind)
			assert.Equal(t, tc.link, advice.Family.Link)
			assert.Equal(t, tc.change, advice.Change)
		})
	}
}

func TestSuggestFamily_ContinuousDispersionIsAdvisoryOnly(t *testing.T) {
	advice := SuggestFamily(dataset.Continuous, diag.OverDispersed)
	assert.False(t, advice.Change, "continuous data has no discrete-family analogue")
	assert.Equal(t, model.GaussianIdentity, advice.Family)
	assert.NotEmpty(t, advice.Note)

	// The note only fires for dispersion shapes.
	advice = SuggestFamily(dataset.Continuous, diag.RightSkew)
	assert.Empty(t, advice.Note)
}

func TestSuggestFamily_DeclaredKindWinsOverShape(t *testing.T) {
	// The mapping keys off the declared support, not the residual shape.
	advice := SuggestFamily(dataset.Count, diag.UnderDispersed)
	assert.True(t, advice.Change)
	assert.Equal(t, model.Poisson, advice.Family.Kind)
}
