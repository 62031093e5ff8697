package stats

import (
	"fmt"
	"math"
)

// LeveneResult holds the outcome of Levene's test for equal variances.
type LeveneResult struct {
	W      float64
	PValue float64
}

// Levene tests whether two or more replicate groups have equal variance,
// using the mean-centered form. The p-value comes from the F distribution
// with (k-1, N-k) degrees of freedom.
func Levene(groups ...[]float64) (LeveneResult, error) {
	k := len(groups)
	if k < 2 {
		return LeveneResult{}, fmt.Errorf("levene: need at least 2 groups, got %d", k)
	}

	var total int
	zbars := make([]float64, k)
	zs := make([][]float64, k)
	for i, g := range groups {
		if len(g) < 2 {
			return LeveneResult{}, fmt.Errorf("levene: group %d has fewer than 2 samples", i)
		}
		total += len(g)
		m := Mean(g)
		zi := make([]float64, len(g))
		for j, x := range g {
			zi[j] = math.Abs(x - m)
		}
		zs[i] = zi
		zbars[i] = Mean(zi)
	}

	var grand float64
	for i, zi := range zs {
		grand += zbars[i] * float64(len(zi))
	}
	grand /= float64(total)

	var between, within float64
	for i, zi := range zs {
		d := zbars[i] - grand
		between += float64(len(zi)) * d * d
		for _, z := range zi {
			dz := z - zbars[i]
			within += dz * dz
		}
	}
	if within == 0 {
		return LeveneResult{W: math.Inf(1), PValue: 0}, nil
	}

	d1 := float64(k - 1)
	d2 := float64(total - k)
	w := (d2 / d1) * (between / within)
	return LeveneResult{W: w, PValue: fSF(w, d1, d2)}, nil
}

// fSF is the survival function of the F distribution.
func fSF(x, d1, d2 float64) float64 {
	if x <= 0 {
		return 1
	}
	return regIncBeta(d2/2, d1/2, d2/(d2+d1*x))
}

// regIncBeta computes the regularized incomplete beta function I_x(a, b)
// with the standard continued fraction expansion.
func regIncBeta(a, b, x float64) float64 {
	if x <= 0 {
		return 0
	}
	if x >= 1 {
		return 1
	}
	lbeta, _ := math.Lgamma(a + b)
	la, _ := math.Lgamma(a)
	lb, _ := math.Lgamma(b)
	front := math.Exp(lbeta - la - lb + a*math.Log(x) + b*math.Log(1-x))

	if x < (a+1)/(a+b+2) {
		return front * betaCF(a, b, x) / a
	}
	return 1 - front*betaCF(b, a, 1-x)/b
}

func betaCF(a, b, x float64) float64 {
	const (
		maxIter = 200
		eps     = 3e-14
		fpmin   = 1e-300
	)
	qab, qap, qam := a+b, a+1, a-1
	c := 1.0
	d := 1 - qab*x/qap
	if math.Abs(d) < fpmin {
		d = fpmin
	}
	d = 1 / d
	h := d
	for m := 1; m <= maxIter; m++ {
		fm := float64(m)
		m2 := 2 * fm
		aa := fm * (b - fm) * x / ((qam + m2) * (a + m2))
		d = 1 + aa*d
		if math.Abs(d) < fpmin {
			d = fpmin
		}
		c = 1 + aa/c
		if math.Abs(c) < fpmin {
			c = fpmin
		}
		d = 1 / d
		h *= d * c
		aa = -(a + fm) * (qab + fm) * x / ((a + m2) * (qap + m2))
		d = 1 + aa*d
		if math.Abs(d) < fpmin {
			d = fpmin
		}
		c = 1 + aa/c
		if math.Abs(c) < fpmin {
			c = fpmin
		}
		d = 1 / d
		del := d * c
		h *= del
		if math.Abs(del-1) < eps {
			break
		}
	}
	return h
}
