package advise

import (
	"fmt"

	"regremedy/dataset"
	"regremedy/diag"
	"regremedy/model"
)

// FamilyAdvice is the outcome of the family mapping. Change is false for a
// continuous response, where the Gaussian/identity default stands; Note then
// carries any advisory about dispersion.
type FamilyAdvice struct {
	Family        model.Family
	Change        bool
	Justification string
	Note          string
}

// SuggestFamily maps the declared support of the response to a
// family/link pair. The mapping is declarative: it keys off the support kind
// the caller supplied, never off the data's shape alone.
//
//	binary     -> binomial/logit
//	count      -> poisson/log
//	proportion -> beta/logit
//	continuous -> gaussian/identity (no change)
//
// For a continuous response with over- or under-dispersed residuals there is
// no discrete-family analogue to switch to, so the advice is a note only.
func SuggestFamily(kind dataset.SupportKind, shape diag.ShapeClass) FamilyAdvice {
	switch kind {
	case dataset.Binary:
		return FamilyAdvice{
			Family:        model.Family{Kind: model.Binomial, Link: model.Logit},
			Change:        true,
			Justification: "binary response: binomial family with logit link",
		}
	case dataset.Count:
		return FamilyAdvice{
			Family:        model.Family{Kind: model.Poisson, Link: model.Log},
			Change:        true,
			Justification: "count response: poisson family with log link",
		}
	case dataset.Proportion:
		return FamilyAdvice{
			Family:        model.Family{Kind: model.Beta, Link: model.Logit},
			Change:        true,
			Justification: "proportion response on (0,1): beta family with logit link",
		}
	default:
		advice := FamilyAdvice{
			Family:        model.GaussianIdentity,
			Justification: "continuous response: gaussian family with identity link",
		}
		if shape == diag.OverDispersed || shape == diag.UnderDispersed {
			advice.Note = fmt.Sprintf(
				"residuals are %s but the response is continuous; no discrete family applies, consider a missing factor or grouping structure",
				shape)
		}
		return advice
	}
}
