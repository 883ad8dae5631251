package diag

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"
)

// bimodal tests whether the residuals split into two well-separated clusters,
// the signature of a missing grouping factor. It scans every cut point over
// the sorted values for the split minimizing pooled within-cluster variance,
// then flags bimodality when the cluster means sit further apart than twice
// the sum of the cluster standard deviations and neither cluster is a sliver
// (each must hold at least 20% of the points). Unimodal flat or normal data
// fail that separation test; two distinct modes pass it.
func bimodal(residuals []float64) bool {
	n := len(residuals)
	if n < 6 {
		return false
	}
	sorted := make([]float64, n)
	copy(sorted, residuals)
	sort.Float64s(sorted)

	minShare := int(math.Ceil(0.2 * float64(n)))
	if minShare < 2 {
		minShare = 2
	}

	best := math.Inf(1)
	bestCut := -1
	for cut := minShare; cut <= n-minShare; cut++ {
		left, right := sorted[:cut], sorted[cut:]
		pooled := float64(len(left)-1)*stat.Variance(left, nil) +
			float64(len(right)-1)*stat.Variance(right, nil)
		if pooled < best {
			best = pooled
			bestCut = cut
		}
	}
	if bestCut < 0 {
		return false
	}

	left, right := sorted[:bestCut], sorted[bestCut:]
	separation := stat.Mean(right, nil) - stat.Mean(left, nil)
	spread := math.Sqrt(stat.Variance(left, nil)) + math.Sqrt(stat.Variance(right, nil))
	if spread == 0 {
		// Two constant clusters: bimodal iff the means actually differ.
		return separation > 0
	}
	return separation > 2*spread
}
