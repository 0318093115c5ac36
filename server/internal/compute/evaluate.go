package compute

import "github.com/safetycheck/safetycheck/pkg/types"

// Input is everything one completed session feeds into the engine.
type Input struct {
	Questions []Question
	Answers   []Answer

	// BlinkIntervalsMs and EyeOpenRatios feed FatigueScore unless PupilScore
	// is set. With neither present the pupil channel counts as not measured.
	BlinkIntervalsMs []int64
	EyeOpenRatios    []float64

	// PupilScore, when non-nil, is used instead of computing the fatigue score.
	PupilScore *float64

	// TremorScore and PPGScore arrive pre-computed; 0 means not measured.
	TremorScore float64
	PPGScore    float64
}

// Evaluation is the engine's full output for one session.
type Evaluation struct {
	ChecklistScore  int
	TremorScore     float64
	PupilScore      float64
	PPGScore        float64
	FinalScore      float64
	Level           types.SafetyLevel
	Recommendations []string
}

// Evaluate runs checklist scoring, fatigue scoring, aggregation and
// recommendation generation in order.
func Evaluate(in Input) Evaluation {
	checklist := ChecklistScore(in.Questions, in.Answers)

	var pupil float64
	switch {
	case in.PupilScore != nil:
		pupil = clamp(*in.PupilScore, 0, 100)
	case len(in.BlinkIntervalsMs) > 0 || len(in.EyeOpenRatios) > 0:
		pupil = FatigueScore(in.BlinkIntervalsMs, in.EyeOpenRatios)
	}
	tremor := clamp(in.TremorScore, 0, 100)
	ppg := clamp(in.PPGScore, 0, 100)

	agg := AggregateScores(checklist, tremor, pupil, ppg)

	return Evaluation{
		ChecklistScore:  checklist,
		TremorScore:     tremor,
		PupilScore:      pupil,
		PPGScore:        ppg,
		FinalScore:      agg.FinalScore,
		Level:           agg.Level,
		Recommendations: Recommendations(agg.Level, tremor, pupil, ppg),
	}
}
