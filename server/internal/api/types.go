package api

import (
	"time"

	"github.com/safetycheck/safetycheck/pkg/types"
	"github.com/safetycheck/safetycheck/server/internal/compute"
	"github.com/safetycheck/safetycheck/server/internal/session"
	"github.com/safetycheck/safetycheck/server/internal/store"
)

// QuestionResponse is one entry in GET /api/v1/checklist.
type QuestionResponse struct {
	ID            string   `json:"id"`
	Order         int      `json:"order"`
	Text          string   `json:"text"`
	Weight        int      `json:"weight"`
	Options       []string `json:"options"`
	OptionWeights []int    `json:"optionWeights"`
}

// SessionResponse describes a session in progress.
type SessionResponse struct {
	CheckID       string         `json:"checkId"`
	UserID        string         `json:"userId"`
	EmpNum        string         `json:"empNum"`
	Name          string         `json:"name"`
	Dept          string         `json:"dept"`
	Answers       map[string]int `json:"answers"`
	QuestionCount int            `json:"questionCount"`
	PupilScore    *float64       `json:"pupilScore"`
	TremorScore   float64        `json:"tremorScore"`
	PPGScore      float64        `json:"ppgScore"`
	StartedAt     string         `json:"startedAt"` // RFC3339
	UpdatedAt     string         `json:"updatedAt"` // RFC3339
}

// MeasurementResponse echoes the score stored for a measurement.
type MeasurementResponse struct {
	Kind  string  `json:"kind"`
	Score float64 `json:"score"`
}

// BoardEntry is one worker on the live board.
type BoardEntry struct {
	types.SafetyCheckResult
	UpdatedAt string `json:"updatedAt"` // RFC3339
}

// BoardResponse is the payload for GET /api/v1/board.
type BoardResponse struct {
	Counts      types.LevelCounts `json:"counts"`
	Entries     []BoardEntry      `json:"entries"`
	GeneratedAt string            `json:"generatedAt"` // RFC3339
}

// SummaryResponse is the payload for GET /api/v1/summary.
type SummaryResponse struct {
	Date string `json:"date"`
	types.LevelCounts
	Total int `json:"total"`
}

// errorResponse is a generic JSON error body.
type errorResponse struct {
	Error string `json:"error"`
}

func toQuestionResponses(qs []compute.Question) []QuestionResponse {
	out := make([]QuestionResponse, 0, len(qs))
	for _, q := range qs {
		out = append(out, QuestionResponse{
			ID:            q.ID,
			Order:         q.Order,
			Text:          q.Text,
			Weight:        q.Weight,
			Options:       q.Options,
			OptionWeights: q.OptionWeights,
		})
	}
	return out
}

func toSessionResponse(st session.State, questionCount int) SessionResponse {
	return SessionResponse{
		CheckID:       st.CheckID,
		UserID:        st.UserID,
		EmpNum:        st.EmpNum,
		Name:          st.Name,
		Dept:          st.Dept,
		Answers:       st.Answers,
		QuestionCount: questionCount,
		PupilScore:    st.PupilScore,
		TremorScore:   st.TremorScore,
		PPGScore:      st.PPGScore,
		StartedAt:     st.StartedAt.UTC().Format(time.RFC3339),
		UpdatedAt:     st.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

func toBoardEntry(e *store.Entry) BoardEntry {
	return BoardEntry{
		SafetyCheckResult: e.Result,
		UpdatedAt:         e.UpdatedAt.UTC().Format(time.RFC3339),
	}
}
