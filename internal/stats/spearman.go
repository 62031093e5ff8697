package stats

import (
	"fmt"
	"math"
	"sort"
)

// Spearman computes the Spearman rank correlation between two equal
// length samples. Ties receive midranks.
func Spearman(a, b []float64) (float64, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("samples differ in length: %d vs %d", len(a), len(b))
	}
	if len(a) < 2 {
		return 0, fmt.Errorf("need at least two observations")
	}
	ra := midranks(a)
	rb := midranks(b)

	ma := Mean(ra)
	mb := Mean(rb)
	var cov, va, vb float64
	for i := range ra {
		da := ra[i] - ma
		db := rb[i] - mb
		cov += da * db
		va += da * da
		vb += db * db
	}
	if va == 0 || vb == 0 {
		return 0, fmt.Errorf("constant sample has no rank correlation")
	}
	return cov / (math.Sqrt(va) * math.Sqrt(vb)), nil
}

// midranks assigns 1-based ranks, averaging over ties.
func midranks(xs []float64) []float64 {
	idx := make([]int, len(xs))
	for i := range idx {
		idx[i] = i
	}
	sort.Slice(idx, func(i, j int) bool { return xs[idx[i]] < xs[idx[j]] })

	ranks := make([]float64, len(xs))
	for i := 0; i < len(idx); {
		j := i
		for j < len(idx) && xs[idx[j]] == xs[idx[i]] {
			j++
		}
		mid := float64(i+j+1) / 2
		for k := i; k < j; k++ {
			ranks[idx[k]] = mid
		}
		i = j
	}
	return ranks
}
