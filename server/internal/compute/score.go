package compute

import (
	"math"

	"github.com/safetycheck/safetycheck/pkg/types"
)

// Channel weights for the final safety score. They must sum to 1.0.
// The self-reported checklist carries the largest share.
const (
	weightChecklist = 0.40
	weightPupil     = 0.25
	weightTremor    = 0.20
	weightPPG       = 0.15
)

// Aggregate holds the final weighted score and its level.
type Aggregate struct {
	// FinalScore is the weighted safety score in the range 0–100.
	FinalScore float64

	// Level is derived from FinalScore via types.LevelFor.
	Level types.SafetyLevel
}

// AggregateScores combines the four channel scores into the final safety score:
//
//	final = checklist*0.40 + pupil*0.25 + tremor*0.20 + ppg*0.15
//
// Each channel is clamped into [0, 100] first, so the result is monotonic in
// every input and a zero in any channel pulls the final score down. A channel
// that was not measured arrives as 0 and is weighted like any other value.
func AggregateScores(checklistScore int, tremorScore, pupilScore, ppgScore float64) Aggregate {
	final := clamp(float64(checklistScore), 0, 100)*weightChecklist +
		clamp(pupilScore, 0, 100)*weightPupil +
		clamp(tremorScore, 0, 100)*weightTremor +
		clamp(ppgScore, 0, 100)*weightPPG
	final = clamp(final, 0, 100)

	return Aggregate{
		FinalScore: final,
		Level:      types.LevelFor(final),
	}
}

// clamp restricts v to [lo, hi]. NaN maps to lo.
func clamp(v, lo, hi float64) float64 {
	if math.IsNaN(v) || v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
