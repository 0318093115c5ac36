package submitter

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/google/uuid"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"
	"gopkg.in/yaml.v3"

	"github.com/safetycheck/safetycheck/pkg/types"
)

// CheckFile is the YAML form of a one-shot check.
type CheckFile struct {
	// CheckID is sent with every attempt so the server stores the check once.
	// ReadCheckFile fills it when the file leaves it empty.
	CheckID          string    `yaml:"check_id" json:"checkId"`
	UserID           string    `yaml:"user_id" json:"userId"`
	EmpNum           string    `yaml:"emp_num" json:"empNum,omitempty"`
	Name             string    `yaml:"name" json:"name,omitempty"`
	Dept             string    `yaml:"dept" json:"dept,omitempty"`
	Answers          []Answer  `yaml:"answers" json:"answers"`
	Samples          []Sample  `yaml:"samples" json:"samples,omitempty"`
	BlinkIntervalsMs []int64   `yaml:"blink_intervals_ms" json:"blinkIntervalsMs,omitempty"`
	EyeOpenRatios    []float64 `yaml:"eye_open_ratios" json:"eyeOpenRatios,omitempty"`
	PupilScore       *float64  `yaml:"pupil_score" json:"pupilScore,omitempty"`
	TremorScore      float64   `yaml:"tremor_score" json:"tremorScore"`
	PPGScore         float64   `yaml:"ppg_score" json:"ppgScore"`
}

// Answer selects a 1-based option for one question.
type Answer struct {
	QuestionID string `yaml:"question_id" json:"questionId"`
	Selected   int    `yaml:"selected" json:"selected"`
}

// Sample is one raw eye-openness reading.
type Sample struct {
	EyeOpenRatio float64 `yaml:"eye_open_ratio" json:"eyeOpenRatio"`
	TimestampMs  int64   `yaml:"timestamp_ms" json:"timestampMs"`
}

// ReadCheckFile parses a check from the YAML file at path.
func ReadCheckFile(path string) (*CheckFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("submitter: read %q: %w", path, err)
	}
	var cf CheckFile
	if err := yaml.Unmarshal(data, &cf); err != nil {
		return nil, fmt.Errorf("submitter: parse %q: %w", path, err)
	}
	if cf.UserID == "" {
		return nil, fmt.Errorf("submitter: %q: user_id is required", path)
	}
	if cf.Answers == nil {
		cf.Answers = []Answer{}
	}
	if cf.CheckID == "" {
		cf.CheckID = uuid.NewString()
	} else if _, err := uuid.Parse(cf.CheckID); err != nil {
		return nil, fmt.Errorf("submitter: %q: check_id: %w", path, err)
	}
	return &cf, nil
}

// Struct converts the check to the request message. Field names follow the
// server's JSON schema.
func (cf *CheckFile) Struct() (*structpb.Struct, error) {
	raw, err := json.Marshal(cf)
	if err != nil {
		return nil, fmt.Errorf("submitter: encode check: %w", err)
	}
	s := &structpb.Struct{}
	if err := protojson.Unmarshal(raw, s); err != nil {
		return nil, fmt.Errorf("submitter: encode check: %w", err)
	}
	return s, nil
}

// DecodeResult converts a SubmitCheck response into a SafetyCheckResult.
func DecodeResult(s *structpb.Struct) (types.SafetyCheckResult, error) {
	var res types.SafetyCheckResult
	raw, err := protojson.Marshal(s)
	if err != nil {
		return res, fmt.Errorf("submitter: decode result: %w", err)
	}
	if err := json.Unmarshal(raw, &res); err != nil {
		return res, fmt.Errorf("submitter: decode result: %w", err)
	}
	return res, nil
}
