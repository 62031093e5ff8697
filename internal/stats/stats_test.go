package stats

import (
	"math"
	"testing"
	"time"
)

func TestMedian(t *testing.T) {
	tests := []struct {
		name string
		in   []float64
		want float64
	}{
		{"odd", []float64{3, 1, 2}, 2},
		{"even", []float64{4, 1, 3, 2}, 2.5},
		{"single", []float64{7}, 7},
		{"empty", nil, 0},
	}
	for _, tt := range tests {
		if got := Median(tt.in); got != tt.want {
			t.Errorf("%s: Median() = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestMedianDoesNotMutateInput(t *testing.T) {
	in := []float64{3, 1, 2}
	Median(in)
	if in[0] != 3 || in[1] != 1 || in[2] != 2 {
		t.Errorf("input mutated: %v", in)
	}
}

func TestGeoMean(t *testing.T) {
	got := GeoMean([]float64{2, 8})
	if math.Abs(got-4) > 1e-9 {
		t.Errorf("GeoMean(2,8) = %v, want 4", got)
	}
	got = GeoMean([]float64{10, 10, 10})
	if math.Abs(got-10) > 1e-9 {
		t.Errorf("GeoMean(10,10,10) = %v, want 10", got)
	}
}

func TestStdDev(t *testing.T) {
	got := StdDev([]float64{2, 4, 4, 4, 5, 5, 7, 9})
	if math.Abs(got-2) > 1e-9 {
		t.Errorf("StdDev = %v, want 2", got)
	}
}

func TestMovingAverageShortSeriesPassesThrough(t *testing.T) {
	base := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	points := []Point{
		{Time: base, Value: 10},
		{Time: base.Add(24 * time.Hour), Value: 20},
	}
	got := MovingAverage(points, 7)
	if len(got) != 2 || got[0].Value != 10 || got[1].Value != 20 {
		t.Errorf("short series should pass through, got %v", got)
	}
}

func TestMovingAverageSmooths(t *testing.T) {
	base := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	var points []Point
	for i := 0; i < 10; i++ {
		points = append(points, Point{Time: base.AddDate(0, 0, i), Value: float64(i)})
	}
	got := MovingAverage(points, 3)
	if len(got) == 0 {
		t.Fatal("expected smoothed output")
	}
	// First emitted point covers days 0..4 (span 4 > 3).
	if math.Abs(got[0].Value-2) > 1e-9 {
		t.Errorf("first smoothed value = %v, want 2", got[0].Value)
	}
	if !got[0].Time.Equal(base.AddDate(0, 0, 4)) {
		t.Errorf("first smoothed time = %v", got[0].Time)
	}
}

func TestClipOutliers(t *testing.T) {
	in := []float64{10, 11, 9, 10, 10, 11, 9, 100}
	out := ClipOutliers(in, 2)
	for _, v := range out {
		if v == 100 {
			t.Error("outlier survived clipping")
		}
	}
	if len(out) != len(in)-1 {
		t.Errorf("clipped length = %d, want %d", len(out), len(in)-1)
	}
}

func TestMannWhitneyUIdenticalGroups(t *testing.T) {
	a := []float64{5, 5, 5, 5, 5}
	res, err := MannWhitneyU(a, a)
	if err != nil {
		t.Fatalf("MannWhitneyU: %v", err)
	}
	if res.PValue != 1 {
		t.Errorf("identical groups p = %v, want 1", res.PValue)
	}
}

func TestMannWhitneyUDisjointGroups(t *testing.T) {
	var a, b []float64
	for i := 0; i < 20; i++ {
		a = append(a, 100+float64(i))
		b = append(b, 200+float64(i))
	}
	res, err := MannWhitneyU(a, b)
	if err != nil {
		t.Fatalf("MannWhitneyU: %v", err)
	}
	if res.U != 0 {
		t.Errorf("fully separated groups U1 = %v, want 0", res.U)
	}
	if res.PValue > 0.001 {
		t.Errorf("fully separated groups p = %v, want < 0.001", res.PValue)
	}
	if es := res.EffectSize(len(a), len(b)); es != 0 {
		t.Errorf("effect size = %v, want 0", es)
	}
}

func TestMannWhitneyUOverlappingGroups(t *testing.T) {
	a := []float64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}
	b := []float64{2, 3, 4, 5, 6, 7, 8, 9, 10, 11}
	res, err := MannWhitneyU(a, b)
	if err != nil {
		t.Fatalf("MannWhitneyU: %v", err)
	}
	if res.PValue < 0.05 {
		t.Errorf("near-identical distributions p = %v, want >= 0.05", res.PValue)
	}
}

func TestMannWhitneyUEmptyGroup(t *testing.T) {
	if _, err := MannWhitneyU(nil, []float64{1}); err == nil {
		t.Error("expected error for empty sample")
	}
}

func TestMannWhitneyUStatisticKnownValue(t *testing.T) {
	// R1 for {1,2} against {3,4} is 1+2=3, U1 = 3 - 2*3/2 = 0.
	res, err := MannWhitneyU([]float64{1, 2}, []float64{3, 4})
	if err != nil {
		t.Fatalf("MannWhitneyU: %v", err)
	}
	if res.U != 0 {
		t.Errorf("U1 = %v, want 0", res.U)
	}
	// Reversed: U1 = n1*n2 = 4.
	res, _ = MannWhitneyU([]float64{3, 4}, []float64{1, 2})
	if res.U != 4 {
		t.Errorf("U1 = %v, want 4", res.U)
	}
}

func TestLeveneEqualVariances(t *testing.T) {
	a := []float64{10, 12, 9, 11, 10, 12, 9, 11}
	b := []float64{20, 22, 19, 21, 20, 22, 19, 21}
	res, err := Levene(a, b)
	if err != nil {
		t.Fatalf("Levene: %v", err)
	}
	if res.PValue < 0.5 {
		t.Errorf("equal spreads p = %v, want >= 0.5", res.PValue)
	}
}

func TestLeveneUnequalVariances(t *testing.T) {
	a := []float64{10, 10.1, 9.9, 10, 10.05, 9.95, 10, 10.1, 9.9, 10}
	b := []float64{10, 18, 2, 15, 5, 17, 3, 16, 4, 10}
	res, err := Levene(a, b)
	if err != nil {
		t.Fatalf("Levene: %v", err)
	}
	if res.PValue > 0.01 {
		t.Errorf("very different spreads p = %v, want <= 0.01", res.PValue)
	}
	if res.W <= 0 {
		t.Errorf("W = %v, want > 0", res.W)
	}
}

func TestLeveneRejectsSingleGroup(t *testing.T) {
	if _, err := Levene([]float64{1, 2, 3}); err == nil {
		t.Error("expected error for single group")
	}
}

func TestSpearmanPerfectMonotone(t *testing.T) {
	a := []float64{1, 2, 3, 4, 5}
	b := []float64{10, 100, 1000, 10000, 100000}
	rho, err := Spearman(a, b)
	if err != nil {
		t.Fatalf("Spearman: %v", err)
	}
	if rho < 0.999 {
		t.Errorf("rho = %v, want 1 for monotone data", rho)
	}

	rev := []float64{5, 4, 3, 2, 1}
	rho, err = Spearman(a, rev)
	if err != nil {
		t.Fatalf("Spearman: %v", err)
	}
	if rho > -0.999 {
		t.Errorf("rho = %v, want -1 for reversed data", rho)
	}
}

func TestSpearmanConstantSample(t *testing.T) {
	if _, err := Spearman([]float64{1, 1, 1}, []float64{1, 2, 3}); err == nil {
		t.Error("expected error for constant sample")
	}
}

func TestSpearmanLengthMismatch(t *testing.T) {
	if _, err := Spearman([]float64{1, 2}, []float64{1, 2, 3}); err == nil {
		t.Error("expected error for mismatched lengths")
	}
}
