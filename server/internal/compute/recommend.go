package compute

import "github.com/safetycheck/safetycheck/pkg/types"

// Advisory strings emitted by Recommendations.
const (
	RecRestAndReport   = "rest immediately and report to supervisor"
	RecHydrateAndRest  = "hydrate and rest sufficiently"
	RecStretch         = "stretch lightly before starting work"
	RecPeriodicBreaks  = "take periodic breaks"
	RecProceed         = "condition is safe, proceed with work"
	RecTremorCaution   = "hand tremor detected, take care with precision tasks and tools"
	RecFatigueCaution  = "signs of eye fatigue detected, rest your eyes before continuing"
	RecHeartRateUnease = "heart rate is unstable, take a short break and breathe steadily"
)

// cautionBelow is the sub-score under which a channel-specific caution is added.
const cautionBelow = 70.0

// Recommendations returns the advisory list for a result, in rule order:
// the level bucket first, then tremor, pupil and ppg cautions.
//
// A channel caution is added only when 0 < score < 70. A score of exactly 0 is
// read as "not measured" and adds nothing, even if the measurement really did
// produce 0.
func Recommendations(level types.SafetyLevel, tremorScore, pupilScore, ppgScore float64) []string {
	var recs []string

	switch level {
	case types.LevelDanger:
		recs = append(recs, RecRestAndReport, RecHydrateAndRest)
	case types.LevelCaution:
		recs = append(recs, RecStretch, RecPeriodicBreaks)
	case types.LevelSafe:
		recs = append(recs, RecProceed)
	}

	if needsCaution(tremorScore) {
		recs = append(recs, RecTremorCaution)
	}
	if needsCaution(pupilScore) {
		recs = append(recs, RecFatigueCaution)
	}
	if needsCaution(ppgScore) {
		recs = append(recs, RecHeartRateUnease)
	}
	return recs
}

func needsCaution(score float64) bool {
	return score > 0 && score < cautionBelow
}
