package stats

import (
	"fmt"
	"math"
	"sort"
)

// MWUResult holds the outcome of a two-sided Mann-Whitney U test.
type MWUResult struct {
	U      float64 // U statistic of the first sample (U1)
	PValue float64
}

// EffectSize returns the rank-biserial correlation derived from U1.
// See https://en.wikipedia.org/wiki/Mann%E2%80%93Whitney_U_test#Rank-biserial_correlation
func (r MWUResult) EffectSize(n1, n2 int) float64 {
	if n1 == 0 || n2 == 0 {
		return 0
	}
	return (2 * r.U) / float64(n1*n2)
}

// MannWhitneyU runs a two-sided Mann-Whitney U test between two replicate
// groups. Ranks are midranks under ties, and the p-value comes from the
// normal approximation with tie and continuity corrections. The
// approximation is what matters here: detection thresholds sit at 0.05 and
// replicate groups are 20+ samples, well inside its accuracy range.
func MannWhitneyU(a, b []float64) (MWUResult, error) {
	n1, n2 := len(a), len(b)
	if n1 == 0 || n2 == 0 {
		return MWUResult{}, fmt.Errorf("mannwhitneyu: empty sample (n1=%d, n2=%d)", n1, n2)
	}

	type obs struct {
		v     float64
		first bool
	}
	all := make([]obs, 0, n1+n2)
	for _, v := range a {
		all = append(all, obs{v, true})
	}
	for _, v := range b {
		all = append(all, obs{v, false})
	}
	sort.Slice(all, func(i, j int) bool { return all[i].v < all[j].v })

	// Midranks and the tie correction term sum(t^3 - t).
	n := n1 + n2
	ranks := make([]float64, n)
	var tieSum float64
	for i := 0; i < n; {
		j := i
		for j < n && all[j].v == all[i].v {
			j++
		}
		rank := float64(i+j+1) / 2 // average of 1-based ranks i+1..j
		for k := i; k < j; k++ {
			ranks[k] = rank
		}
		t := float64(j - i)
		if t > 1 {
			tieSum += t*t*t - t
		}
		i = j
	}

	var r1 float64
	for i, o := range all {
		if o.first {
			r1 += ranks[i]
		}
	}
	u1 := r1 - float64(n1*(n1+1))/2

	mu := float64(n1*n2) / 2
	nf := float64(n)
	variance := (float64(n1*n2) / 12) * ((nf + 1) - tieSum/(nf*(nf-1)))
	if variance <= 0 {
		// All observations identical; no evidence of any shift.
		return MWUResult{U: u1, PValue: 1}, nil
	}

	z := u1 - mu
	switch {
	case z > 0:
		z -= 0.5
	case z < 0:
		z += 0.5
	}
	z /= math.Sqrt(variance)

	p := 2 * normalSF(math.Abs(z))
	if p > 1 {
		p = 1
	}
	return MWUResult{U: u1, PValue: p}, nil
}

// normalSF is the standard normal survival function P(Z > z).
func normalSF(z float64) float64 {
	return 0.5 * math.Erfc(z/math.Sqrt2)
}
