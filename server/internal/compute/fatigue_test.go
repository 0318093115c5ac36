package compute

import (
	"math"
	"testing"
)

// almostEqual returns true if a and b are within epsilon of each other.
func almostEqual(a, b, epsilon float64) bool {
	return math.Abs(a-b) < epsilon
}

func repeat(v int64, n int) []int64 {
	out := make([]int64, n)
	for i := range out {
		out[i] = v
	}
	return out
}

func TestFatigueScore_Optimal(t *testing.T) {
	// 5 blinks, σ=0, eyes wide open → every sub-score is 100.
	got := FatigueScore(repeat(1000, 5), []float64{0.9, 0.9, 0.9})
	if !almostEqual(got, 100, 1e-9) {
		t.Errorf("FatigueScore = %.4f, want 100", got)
	}
}

func TestFatigueScore_NoData(t *testing.T) {
	// blink=0, eyeOpen=40 (default ratio 0.5), consistency=50 (neutral)
	// 0*0.40 + 40*0.35 + 50*0.25 = 26.5
	got := FatigueScore(nil, nil)
	if !almostEqual(got, 26.5, 1e-9) {
		t.Errorf("FatigueScore(nil, nil) = %.4f, want 26.5", got)
	}
}

func TestFatigueScore_Blend(t *testing.T) {
	// 4 blinks → 92; ratio 0.7 → 70; σ=1000 → 100 - 200/7
	intervals := []int64{1000, 3000, 1000, 3000}
	want := 92*0.40 + 70*0.35 + (100-200.0/7)*0.25
	got := FatigueScore(intervals, []float64{0.7})
	if !almostEqual(got, want, 1e-6) {
		t.Errorf("FatigueScore = %.6f, want %.6f", got, want)
	}
}

func TestFatigueScore_AlwaysInRange(t *testing.T) {
	cases := []struct {
		intervals []int64
		ratios    []float64
	}{
		{nil, nil},
		{repeat(10, 40), []float64{0}},
		{[]int64{0, 100000, 0, 100000}, []float64{1, 1, 1}},
		{[]int64{-5000, 5000, -5000}, []float64{-3, 7}},
		{repeat(1000, 5), []float64{math.NaN()}},
		{repeat(1000, 5), []float64{math.Inf(1)}},
	}
	for _, tc := range cases {
		got := FatigueScore(tc.intervals, tc.ratios)
		if math.IsNaN(got) || got < 0 || got > 100 {
			t.Errorf("FatigueScore(%v, %v) = %v, want finite in [0,100]", tc.intervals, tc.ratios, got)
		}
	}
}

func TestBlinkCountScore(t *testing.T) {
	tests := []struct {
		n    int
		want float64
	}{
		{0, 0},
		{1, 20},
		{2, 40},
		{3, 84},
		{4, 92},
		{5, 100},
		{6, 92},
		{8, 76},
		{9, 85},
		{10, 70},
		{12, 40},
		{30, 40}, // floor of the too-many band
	}
	for _, tc := range tests {
		if got := blinkCountScore(tc.n); !almostEqual(got, tc.want, 1e-9) {
			t.Errorf("blinkCountScore(%d) = %.4f, want %.4f", tc.n, got, tc.want)
		}
	}
}

func TestEyeOpenScore(t *testing.T) {
	tests := []struct {
		avg, want float64
	}{
		{1.0, 100},
		{0.85, 100},
		{0.80, 90},
		{0.75, 80},
		{0.70, 70},
		{0.65, 60},
		{0.60, 40 + 0.10*133},
		{0.50, 40},
		{0.25, 20},
		{0, 0},
		{-1, 0},
	}
	for _, tc := range tests {
		if got := eyeOpenScore(tc.avg); !almostEqual(got, tc.want, 1e-6) {
			t.Errorf("eyeOpenScore(%.2f) = %.4f, want %.4f", tc.avg, got, tc.want)
		}
	}
}

func TestConsistencyScore(t *testing.T) {
	tests := []struct {
		name      string
		intervals []int64
		want      float64
	}{
		{"too few intervals", []int64{1000, 9000}, 50},
		{"perfectly regular", repeat(1200, 4), 100},
		{"sigma exactly 800", []int64{1000, 2600, 1000, 2600}, 100},
		{"sigma 1000", []int64{1000, 3000, 1000, 3000}, 100 - 200.0/7},
		{"sigma 2000", []int64{0, 4000, 0, 4000}, 40},
		{"sigma 5000", []int64{0, 10000, 0, 10000}, 20},
		{"sigma 10000 clamped", []int64{0, 20000, 0, 20000}, 0},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := consistencyScore(tc.intervals); !almostEqual(got, tc.want, 1e-6) {
				t.Errorf("consistencyScore = %.4f, want %.4f", got, tc.want)
			}
		})
	}
}

func TestExtractBlinkSeries(t *testing.T) {
	samples := []BlinkSample{
		{0.9, 0},
		{0.1, 100},
		{0.9, 200}, // blink completes: 200ms since start
		{0.2, 1200},
		{0.25, 1250},
		{0.8, 1300}, // blink completes: 1100ms since previous
		{0.85, 1400},
	}
	intervals, ratios := ExtractBlinkSeries(samples)

	if len(intervals) != 2 || intervals[0] != 200 || intervals[1] != 1100 {
		t.Errorf("intervals = %v, want [200 1100]", intervals)
	}
	if len(ratios) != len(samples) {
		t.Errorf("ratios len = %d, want %d", len(ratios), len(samples))
	}
}

func TestExtractBlinkSeries_Empty(t *testing.T) {
	intervals, ratios := ExtractBlinkSeries(nil)
	if intervals != nil || ratios != nil {
		t.Errorf("ExtractBlinkSeries(nil) = %v, %v, want nil, nil", intervals, ratios)
	}
}

func TestExtractBlinkSeries_EyesClosedAtEnd(t *testing.T) {
	// A blink still in progress when the window ends is not counted.
	intervals, _ := ExtractBlinkSeries([]BlinkSample{{0.9, 0}, {0.1, 500}})
	if len(intervals) != 0 {
		t.Errorf("intervals = %v, want none", intervals)
	}
}
