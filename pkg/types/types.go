package types

import (
	"fmt"
	"strings"
)

// SafetyLevel is the discrete risk bucket derived from a final safety score.
type SafetyLevel string

const (
	LevelSafe    SafetyLevel = "SAFE"
	LevelCaution SafetyLevel = "CAUTION"
	LevelDanger  SafetyLevel = "DANGER"
)

// Thresholds that map a final score to a safety level.
const (
	ThresholdSafe    = 70.0
	ThresholdCaution = 50.0
)

// LevelFor maps a final safety score to its level.
// score >= 70 is SAFE, 50 <= score < 70 is CAUTION, anything lower is DANGER.
func LevelFor(score float64) SafetyLevel {
	switch {
	case score >= ThresholdSafe:
		return LevelSafe
	case score >= ThresholdCaution:
		return LevelCaution
	default:
		return LevelDanger
	}
}

// ParseLevel parses a level name case-insensitively.
func ParseLevel(s string) (SafetyLevel, error) {
	switch SafetyLevel(strings.ToUpper(strings.TrimSpace(s))) {
	case LevelSafe:
		return LevelSafe, nil
	case LevelCaution:
		return LevelCaution, nil
	case LevelDanger:
		return LevelDanger, nil
	}
	return "", fmt.Errorf("unknown safety level %q", s)
}

// SafetyCheckResult is the write-once record produced when a session completes.
// Field names match the stored history documents.
type SafetyCheckResult struct {
	// CheckID identifies the check across retries. Recording the same
	// CheckID twice stores it once.
	CheckID          string      `json:"checkId,omitempty"`
	UserID           string      `json:"userId"`
	EmpNum           string      `json:"empNum"`
	Name             string      `json:"name"`
	Dept             string      `json:"dept"`
	ChecklistScore   int         `json:"checklistScore"`
	TremorScore      float64     `json:"tremorScore"`
	PupilScore       float64     `json:"pupilScore"`
	PPGScore         float64     `json:"ppgScore"`
	FinalSafetyScore float64     `json:"finalSafetyScore"`
	SafetyLevel      SafetyLevel `json:"safetyLevel"`
	Date             string      `json:"date"`      // YYYY-MM-DD
	Timestamp        int64       `json:"timestamp"` // epoch ms
	Recommendations  []string    `json:"recommendations"`
}

// Consistent reports whether the stored level matches the level re-derived
// from FinalSafetyScore.
func (r SafetyCheckResult) Consistent() bool {
	return LevelFor(r.FinalSafetyScore) == r.SafetyLevel
}

// DateLayout is the layout of SafetyCheckResult.Date.
const DateLayout = "2006-01-02"

// LevelCounts buckets a set of results by level.
type LevelCounts struct {
	Safe    int `json:"safe"`
	Caution int `json:"caution"`
	Danger  int `json:"danger"`
}

// Add counts one result with the given final score.
func (c *LevelCounts) Add(finalScore float64) {
	switch LevelFor(finalScore) {
	case LevelSafe:
		c.Safe++
	case LevelCaution:
		c.Caution++
	default:
		c.Danger++
	}
}

// Total returns the number of counted results.
func (c LevelCounts) Total() int {
	return c.Safe + c.Caution + c.Danger
}
