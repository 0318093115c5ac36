package alerts

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/safetycheck/safetycheck/pkg/types"
)

// condition is a parsed rule expression of the form "field op value".
//
// Supported expressions:
//
//	final_safety_score < 50
//	checklist_score <= 40
//	tremor_score < 40
//	pupil_score < 40
//	ppg_score < 40
//	safety_level == DANGER
//	safety_level != SAFE
//
// A tremor, pupil or ppg score of 0 means the channel was not measured, so
// rules on those fields never match it.
type condition struct {
	field     string
	op        string
	threshold float64
	level     types.SafetyLevel
}

func parseCondition(expr string) (condition, error) {
	parts := strings.Fields(expr)
	if len(parts) != 3 {
		return condition{}, fmt.Errorf("condition %q: want \"field op value\"", expr)
	}
	c := condition{field: parts[0], op: parts[1]}

	if c.field == "safety_level" {
		if c.op != "==" && c.op != "!=" {
			return condition{}, fmt.Errorf("condition %q: safety_level supports == and != only", expr)
		}
		l, err := types.ParseLevel(parts[2])
		if err != nil {
			return condition{}, fmt.Errorf("condition %q: %w", expr, err)
		}
		c.level = l
		return c, nil
	}

	if _, ok := numericField(c.field, types.SafetyCheckResult{}); !ok {
		return condition{}, fmt.Errorf("condition %q: unknown field %q", expr, c.field)
	}
	switch c.op {
	case ">", ">=", "<", "<=", "==", "!=":
	default:
		return condition{}, fmt.Errorf("condition %q: unknown operator %q", expr, c.op)
	}
	v, err := strconv.ParseFloat(parts[2], 64)
	if err != nil {
		return condition{}, fmt.Errorf("condition %q: bad threshold: %w", expr, err)
	}
	c.threshold = v
	return c, nil
}

// eval reports whether res matches and the value that was compared. The level
// is re-derived from the final score rather than trusted from the record.
func (c condition) eval(res types.SafetyCheckResult) (bool, float64) {
	if c.field == "safety_level" {
		match := types.LevelFor(res.FinalSafetyScore) == c.level
		if c.op == "!=" {
			match = !match
		}
		return match, res.FinalSafetyScore
	}
	v, _ := numericField(c.field, res)
	if v == 0 && measuredChannel(c.field) {
		return false, v
	}
	return compareFloat(v, c.op, c.threshold), v
}

// measuredChannel reports whether field is a biometric channel where 0 means
// "not measured".
func measuredChannel(field string) bool {
	switch field {
	case "tremor_score", "pupil_score", "ppg_score":
		return true
	}
	return false
}

func numericField(field string, res types.SafetyCheckResult) (float64, bool) {
	switch field {
	case "final_safety_score":
		return res.FinalSafetyScore, true
	case "checklist_score":
		return float64(res.ChecklistScore), true
	case "tremor_score":
		return res.TremorScore, true
	case "pupil_score":
		return res.PupilScore, true
	case "ppg_score":
		return res.PPGScore, true
	}
	return 0, false
}

func compareFloat(v float64, op string, threshold float64) bool {
	switch op {
	case ">":
		return v > threshold
	case ">=":
		return v >= threshold
	case "<":
		return v < threshold
	case "<=":
		return v <= threshold
	case "==":
		return v == threshold
	case "!=":
		return v != threshold
	default:
		return false
	}
}
