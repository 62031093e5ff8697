// Package stats provides the summary statistics and non-parametric tests
// used across perfscope: medians and geometric means for pageload
// summaries, moving averages for trend lines, and the Mann-Whitney U and
// Levene tests backing change detection and variance analysis.
package stats

import (
	"math"
	"sort"
	"time"
)

// Mean returns the arithmetic mean of xs, or 0 for an empty slice.
func Mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

// Median returns the median of xs, or 0 for an empty slice.
// The input is not modified.
func Median(xs []float64) float64 {
	n := len(xs)
	if n == 0 {
		return 0
	}
	sorted := make([]float64, n)
	copy(sorted, xs)
	sort.Float64s(sorted)
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}

// StdDev returns the population standard deviation of xs.
func StdDev(xs []float64) float64 {
	n := len(xs)
	if n == 0 {
		return 0
	}
	m := Mean(xs)
	var ss float64
	for _, x := range xs {
		d := x - m
		ss += d * d
	}
	return math.Sqrt(ss / float64(n))
}

// GeoMean returns the geometric mean of xs.
// Computed in log space to avoid overflow on long inputs.
func GeoMean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var logSum float64
	for _, x := range xs {
		logSum += math.Log(x)
	}
	return math.Exp(logSum / float64(len(xs)))
}

// Point is a timestamped sample used by moving averages.
type Point struct {
	Time  time.Time
	Value float64
}

// MovingAverage smooths points over a trailing window of windowDays.
// Points must be ordered oldest first. When the whole series spans less
// than the window the series is returned unchanged, matching how short
// summaries are reported without smoothing.
func MovingAverage(points []Point, windowDays int) []Point {
	if len(points) == 0 {
		return nil
	}
	span := points[len(points)-1].Time.Sub(points[0].Time)
	if int(span.Hours()/24) <= windowDays {
		out := make([]Point, len(points))
		copy(out, points)
		return out
	}

	var out []Point
	var window []Point
	for _, p := range points {
		window = append(window, p)
		spanDays := int(p.Time.Sub(window[0].Time).Hours() / 24)
		if spanDays > windowDays {
			vals := make([]float64, len(window))
			for i, w := range window {
				vals[i] = w.Value
			}
			out = append(out, Point{Time: p.Time, Value: Mean(vals)})
			window = window[1:]
		}
	}
	return out
}

// ClipOutliers drops samples more than nsigma standard deviations from
// the mean. Replicate distributions carry occasional GC or scheduling
// spikes that would otherwise dominate a variance comparison.
func ClipOutliers(xs []float64, nsigma float64) []float64 {
	if len(xs) == 0 {
		return nil
	}
	m := Mean(xs)
	s := StdDev(xs)
	lo, hi := m-nsigma*s, m+nsigma*s
	out := make([]float64, 0, len(xs))
	for _, x := range xs {
		if x >= lo && x <= hi {
			out = append(out, x)
		}
	}
	return out
}
