package intake

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/safetycheck/safetycheck/server/internal/compute"
	"github.com/safetycheck/safetycheck/server/internal/session"
)

// MaxBodyBytes bounds a single decoded payload.
const MaxBodyBytes = 1 << 20

// ErrInvalid wraps every decode or validation failure.
var ErrInvalid = errors.New("intake: invalid payload")

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	v.RegisterStructValidation(measurementRules, MeasurementRequest{})
	return v
}

// measurementRules requires a score for tremor and ppg, and blink data for
// pupil.
func measurementRules(sl validator.StructLevel) {
	m := sl.Current().Interface().(MeasurementRequest)
	switch m.Kind {
	case KindTremor, KindPPG:
		if m.Score == nil {
			sl.ReportError(m.Score, "score", "Score", "required", "")
		}
	case KindPupil:
		if m.Score != nil {
			sl.ReportError(m.Score, "score", "Score", "excluded", "")
		}
	}
}

// Identity is the worker block shared by session and check requests.
type Identity struct {
	UserID string `json:"userId" validate:"required,max=128"`
	EmpNum string `json:"empNum" validate:"max=64"`
	Name   string `json:"name" validate:"max=128"`
	Dept   string `json:"dept" validate:"max=128"`
}

func (i Identity) session() session.Identity {
	return session.Identity{UserID: i.UserID, EmpNum: i.EmpNum, Name: i.Name, Dept: i.Dept}
}

// StartRequest opens a step-by-step session.
type StartRequest struct {
	Identity
}

// SessionIdentity returns the request as a session identity.
func (s StartRequest) SessionIdentity() session.Identity { return s.session() }

// Answer selects one option. Selected is 1-based; 0 clears the answer.
type Answer struct {
	QuestionID string `json:"questionId" validate:"required,max=64"`
	Selected   int    `json:"selected" validate:"gte=0,lte=5"`
}

// Sample is one raw eye-openness reading.
type Sample struct {
	EyeOpenRatio float64 `json:"eyeOpenRatio" validate:"gte=0,lte=1"`
	TimestampMs  int64   `json:"timestampMs" validate:"gte=0"`
}

// Blink carries a blink measurement either as raw samples or as the derived
// interval and ratio series.
type Blink struct {
	Samples          []Sample  `json:"samples,omitempty" validate:"max=10000,dive"`
	BlinkIntervalsMs []int64   `json:"blinkIntervalsMs,omitempty" validate:"max=10000,dive,gte=0"`
	EyeOpenRatios    []float64 `json:"eyeOpenRatios,omitempty" validate:"max=10000,dive,gte=0,lte=1"`
}

// Series returns the interval and ratio series, extracting them from raw
// samples when present.
func (b Blink) Series() ([]int64, []float64) {
	if len(b.Samples) == 0 {
		return b.BlinkIntervalsMs, b.EyeOpenRatios
	}
	return compute.ExtractBlinkSeries(b.samples())
}

func (b Blink) samples() []compute.BlinkSample {
	out := make([]compute.BlinkSample, len(b.Samples))
	for i, s := range b.Samples {
		out[i] = compute.BlinkSample{EyeOpenRatio: s.EyeOpenRatio, TimestampMs: s.TimestampMs}
	}
	return out
}

// Measurement kinds accepted by MeasurementRequest.
const (
	KindPupil  = "pupil"
	KindTremor = "tremor"
	KindPPG    = "ppg"
)

// MeasurementRequest records one measurement into a session. Pupil
// measurements carry a Blink; tremor and ppg carry a pre-computed Score.
type MeasurementRequest struct {
	Kind  string   `json:"kind" validate:"required,oneof=pupil tremor ppg"`
	Score *float64 `json:"score,omitempty" validate:"omitempty,gte=0,lte=100"`
	Blink
}

// CheckRequest is a complete check delivered in one request.
type CheckRequest struct {
	Identity

	// CheckID lets a client retry without storing the check twice.
	CheckID string `json:"checkId,omitempty" validate:"omitempty,uuid"`

	Answers []Answer `json:"answers" validate:"required,max=64,dive"`
	Blink
	PupilScore  *float64 `json:"pupilScore,omitempty" validate:"omitempty,gte=0,lte=100"`
	TremorScore float64  `json:"tremorScore" validate:"gte=0,lte=100"`
	PPGScore    float64  `json:"ppgScore" validate:"gte=0,lte=100"`
}

// Check converts the request for session.Manager.Submit.
func (c CheckRequest) Check() session.Check {
	answers := make([]compute.Answer, len(c.Answers))
	for i, a := range c.Answers {
		answers[i] = compute.Answer{QuestionID: a.QuestionID, Selected: a.Selected}
	}
	return session.Check{
		Identity:         c.session(),
		CheckID:          c.CheckID,
		Answers:          answers,
		Samples:          c.samples(),
		BlinkIntervalsMs: c.BlinkIntervalsMs,
		EyeOpenRatios:    c.EyeOpenRatios,
		PupilScore:       c.PupilScore,
		TremorScore:      c.TremorScore,
		PPGScore:         c.PPGScore,
	}
}

// Decode reads one JSON document from r into dst, rejecting unknown fields,
// trailing data and anything that fails validation.
func Decode(r io.Reader, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r, MaxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if dec.More() {
		return fmt.Errorf("%w: trailing data after JSON document", ErrInvalid)
	}
	return Validate(dst)
}

// Validate runs struct validation on v.
func Validate(v any) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, describe(fe))
	}
	return fmt.Errorf("%w: %s", ErrInvalid, strings.Join(msgs, "; "))
}

func describe(fe validator.FieldError) string {
	field := fe.Namespace()
	if i := strings.IndexByte(field, '.'); i >= 0 {
		field = field[i+1:]
	}
	switch fe.Tag() {
	case "required":
		return field + " is required"
	case "excluded":
		return field + " is not allowed here"
	case "oneof":
		return fmt.Sprintf("%s must be one of [%s]", field, fe.Param())
	case "gte":
		return fmt.Sprintf("%s must be >= %s", field, fe.Param())
	case "lte":
		return fmt.Sprintf("%s must be <= %s", field, fe.Param())
	case "max":
		return fmt.Sprintf("%s exceeds maximum %s", field, fe.Param())
	case "uuid":
		return field + " must be a UUID"
	}
	return fmt.Sprintf("%s failed %q", field, fe.Tag())
}
