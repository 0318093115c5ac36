package compute

import (
	"testing"

	"github.com/safetycheck/safetycheck/pkg/types"
)

func TestEvaluate_FullChain(t *testing.T) {
	in := Input{
		Questions:        []Question{yesNo("q1", 60), yesNo("q2", 40)},
		Answers:          []Answer{{"q1", 1}, {"q2", 1}},
		BlinkIntervalsMs: repeat(1000, 5),
		EyeOpenRatios:    []float64{0.9, 0.95},
		TremorScore:      100,
		PPGScore:         100,
	}
	ev := Evaluate(in)

	if ev.ChecklistScore != 100 {
		t.Errorf("ChecklistScore = %d, want 100", ev.ChecklistScore)
	}
	if !almostEqual(ev.PupilScore, 100, 1e-9) {
		t.Errorf("PupilScore = %.4f, want 100", ev.PupilScore)
	}
	if !almostEqual(ev.FinalScore, 100, 1e-9) || ev.Level != types.LevelSafe {
		t.Errorf("final = %.4f %s, want 100 SAFE", ev.FinalScore, ev.Level)
	}
	if len(ev.Recommendations) != 1 || ev.Recommendations[0] != RecProceed {
		t.Errorf("Recommendations = %q, want [%q]", ev.Recommendations, RecProceed)
	}
}

func TestEvaluate_PrecomputedPupil(t *testing.T) {
	pupil := 64.0
	ev := Evaluate(Input{
		PupilScore:       &pupil,
		BlinkIntervalsMs: repeat(1000, 5), // ignored
	})
	if ev.PupilScore != 64 {
		t.Errorf("PupilScore = %.2f, want 64", ev.PupilScore)
	}
}

func TestEvaluate_PupilNotMeasured(t *testing.T) {
	ev := Evaluate(Input{TremorScore: 80})
	if ev.PupilScore != 0 {
		t.Errorf("PupilScore without samples = %.2f, want 0 (not measured)", ev.PupilScore)
	}
	for _, r := range ev.Recommendations {
		if r == RecFatigueCaution {
			t.Error("unmeasured pupil channel produced a fatigue caution")
		}
	}
}

func TestEvaluate_LevelMatchesFinalScore(t *testing.T) {
	for checklist := 0; checklist <= 100; checklist += 10 {
		for _, bio := range []float64{0, 25, 49.5, 70, 100} {
			q := Question{ID: "q", Weight: 100, Options: []string{"a", "b"}, OptionWeights: []int{checklist, 0}}
			ev := Evaluate(Input{
				Questions:   []Question{q},
				Answers:     []Answer{{"q", 1}},
				TremorScore: bio,
				PPGScore:    bio,
				PupilScore:  &bio,
			})
			res := types.SafetyCheckResult{FinalSafetyScore: ev.FinalScore, SafetyLevel: ev.Level}
			if !res.Consistent() {
				t.Errorf("checklist=%d bio=%.1f: level %s does not match final %.3f", checklist, bio, ev.Level, ev.FinalScore)
			}
		}
	}
}
