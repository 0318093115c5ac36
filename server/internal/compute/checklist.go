package compute

import "math"

// Question is one weighted multiple-choice checklist item.
type Question struct {
	ID            string
	Order         int
	Text          string
	Weight        int      // 0–100, share of the checklist total
	Options       []string // 2–5 labels
	OptionWeights []int    // 0–100 per option, same length as Options
}

// Answer is a worker's choice for one question.
// Selected is the 1-based option index; 0 means unanswered.
type Answer struct {
	QuestionID string
	Selected   int
}

// ChecklistScore sums weight * optionWeight/100 over every answered question
// and clamps the total into [0, 100].
//
// The sum is not renormalised by question count; question weights are expected
// to add up to at most 100. Unanswered questions and option indexes outside
// OptionWeights contribute 0. When several answers name the same question the
// last one wins.
func ChecklistScore(questions []Question, answers []Answer) int {
	if len(questions) == 0 {
		return 0
	}

	selected := make(map[string]int, len(answers))
	for _, a := range answers {
		selected[a.QuestionID] = a.Selected
	}

	var total float64
	for _, q := range questions {
		idx, ok := selected[q.ID]
		if !ok || idx < 1 || idx > len(q.OptionWeights) {
			continue
		}
		total += float64(q.Weight) * (float64(q.OptionWeights[idx-1]) / 100.0)
	}

	return int(math.Round(clamp(total, 0, 100)))
}

// ChecklistComplete reports whether every question has a selected option.
func ChecklistComplete(questions []Question, answers []Answer) bool {
	selected := make(map[string]int, len(answers))
	for _, a := range answers {
		selected[a.QuestionID] = a.Selected
	}
	for _, q := range questions {
		if selected[q.ID] < 1 {
			return false
		}
	}
	return true
}
