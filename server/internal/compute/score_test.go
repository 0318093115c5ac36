package compute

import (
	"testing"

	"github.com/safetycheck/safetycheck/pkg/types"
)

func TestAggregateScores(t *testing.T) {
	tests := []struct {
		name               string
		checklist          int
		tremor, pupil, ppg float64
		wantScore          float64
		wantLevel          types.SafetyLevel
	}{
		{"all perfect", 100, 100, 100, 100, 100, types.LevelSafe},
		{"nothing measured", 0, 0, 0, 0, 0, types.LevelDanger},
		// 80*0.40 + 70*0.25 + 60*0.20 + 50*0.15 = 32 + 17.5 + 12 + 7.5 = 69
		{"just under safe", 80, 60, 70, 50, 69, types.LevelCaution},
		// 100*0.40 + 100*0.25 + 50*0.20 + 0*0.15 = 40 + 25 + 10 = 75
		{"ppg not measured still safe", 100, 50, 100, 0, 75, types.LevelSafe},
		// checklist alone tops out at 40
		{"checklist only", 100, 0, 0, 0, 40, types.LevelDanger},
		// 50 everywhere → 50
		{"caution boundary", 50, 50, 50, 50, 50, types.LevelCaution},
		{"out of range inputs clamped", 250, 400, -30, 100, 40 + 20 + 15, types.LevelSafe},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := AggregateScores(tc.checklist, tc.tremor, tc.pupil, tc.ppg)
			if !almostEqual(got.FinalScore, tc.wantScore, 1e-9) {
				t.Errorf("FinalScore = %.4f, want %.4f", got.FinalScore, tc.wantScore)
			}
			if got.Level != tc.wantLevel {
				t.Errorf("Level = %q, want %q", got.Level, tc.wantLevel)
			}
		})
	}
}

func TestAggregateScores_WeightsSumToOne(t *testing.T) {
	sum := weightChecklist + weightPupil + weightTremor + weightPPG
	if !almostEqual(sum, 1, 1e-12) {
		t.Errorf("channel weights sum to %.6f, want 1", sum)
	}
	fatigue := weightBlinkCount + weightEyeOpen + weightConsistency
	if !almostEqual(fatigue, 1, 1e-12) {
		t.Errorf("fatigue weights sum to %.6f, want 1", fatigue)
	}
}

func TestAggregateScores_Monotonic(t *testing.T) {
	steps := []float64{-10, 0, 10, 35, 50, 69.9, 70, 99, 100, 120}
	base := 50.0

	check := func(name string, f func(v float64) float64) {
		prev := f(steps[0])
		for _, v := range steps[1:] {
			cur := f(v)
			if cur < prev {
				t.Errorf("%s: score decreased from %.4f to %.4f at input %.1f", name, prev, cur, v)
			}
			prev = cur
		}
	}

	check("checklist", func(v float64) float64 {
		return AggregateScores(int(v), base, base, base).FinalScore
	})
	check("tremor", func(v float64) float64 {
		return AggregateScores(int(base), v, base, base).FinalScore
	})
	check("pupil", func(v float64) float64 {
		return AggregateScores(int(base), base, v, base).FinalScore
	})
	check("ppg", func(v float64) float64 {
		return AggregateScores(int(base), base, base, v).FinalScore
	})
}

func TestAggregateScores_ZeroChannelLowersResult(t *testing.T) {
	full := AggregateScores(90, 90, 90, 90).FinalScore
	for name, agg := range map[string]Aggregate{
		"checklist": AggregateScores(0, 90, 90, 90),
		"tremor":    AggregateScores(90, 0, 90, 90),
		"pupil":     AggregateScores(90, 90, 0, 90),
		"ppg":       AggregateScores(90, 90, 90, 0),
	} {
		if agg.FinalScore >= full {
			t.Errorf("zero %s channel: %.2f, want below %.2f", name, agg.FinalScore, full)
		}
	}
}

func TestClamp(t *testing.T) {
	tests := []struct{ in, want float64 }{
		{-1, 0}, {0, 0}, {50, 50}, {100, 100}, {150, 100},
	}
	for _, tc := range tests {
		if got := clamp(tc.in, 0, 100); got != tc.want {
			t.Errorf("clamp(%.2f) = %.2f, want %.2f", tc.in, got, tc.want)
		}
	}
}
