package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/safetycheck/safetycheck/pkg/types"
	"github.com/safetycheck/safetycheck/server/internal/compute"
)

var (
	// ErrNoSession is returned when the worker has no session in progress.
	ErrNoSession = errors.New("session: no session in progress")

	// ErrChecklistIncomplete is returned by Complete and Submit when a
	// question in the active catalog has no answer.
	ErrChecklistIncomplete = errors.New("session: checklist incomplete")

	// ErrUnknownQuestion is returned when an answer names a question that is
	// not in the active catalog.
	ErrUnknownQuestion = errors.New("session: unknown question")

	// ErrInvalidOption is returned when an answer's option index is outside
	// the question's options.
	ErrInvalidOption = errors.New("session: option out of range")

	// ErrMissingUser is returned when an identity has no user id.
	ErrMissingUser = errors.New("session: user id is required")

	// ErrAlreadyRecorded is returned by a Sink that has already stored a
	// result with the same CheckID. The Manager treats it as success and
	// skips the remaining sinks.
	ErrAlreadyRecorded = errors.New("session: check already recorded")
)

// Identity names the worker a check belongs to.
type Identity struct {
	UserID string
	EmpNum string
	Name   string
	Dept   string
}

// State is one worker's in-progress check.
type State struct {
	Identity

	// CheckID is assigned at Start and carried into the result.
	CheckID string

	// Answers maps question id to the 1-based selected option.
	Answers map[string]int

	// PupilScore is nil until a blink measurement is recorded.
	PupilScore *float64

	// TremorScore and PPGScore stay 0 until measured.
	TremorScore float64
	PPGScore    float64

	StartedAt time.Time
	UpdatedAt time.Time
}

func (s *State) clone() State {
	out := *s
	out.Answers = make(map[string]int, len(s.Answers))
	for k, v := range s.Answers {
		out.Answers[k] = v
	}
	if s.PupilScore != nil {
		p := *s.PupilScore
		out.PupilScore = &p
	}
	return out
}

// Check is a complete session delivered in one request.
type Check struct {
	Identity

	// CheckID is chosen by the client so a retried submission is stored
	// once. A new id is assigned when empty.
	CheckID string

	Answers []compute.Answer

	// Samples, when present, are turned into blink intervals and ratios and
	// take precedence over BlinkIntervalsMs and EyeOpenRatios.
	Samples          []compute.BlinkSample
	BlinkIntervalsMs []int64
	EyeOpenRatios    []float64
	PupilScore       *float64

	TremorScore float64
	PPGScore    float64
}

// Sink receives every completed result.
type Sink interface {
	Record(ctx context.Context, res types.SafetyCheckResult) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, res types.SafetyCheckResult) error

// Record calls f.
func (f SinkFunc) Record(ctx context.Context, res types.SafetyCheckResult) error {
	return f(ctx, res)
}

// Manager owns all in-progress sessions and the active checklist catalog.
//
// All exported methods are safe for concurrent use.
type Manager struct {
	mu        sync.Mutex
	sessions  map[string]*State
	questions []compute.Question
	sinks     []Sink
	ttl       time.Duration
	now       func() time.Time // injectable for deterministic tests
	loc       *time.Location
}

// NewManager returns a Manager with the given catalog, idle TTL and sinks.
// Results are recorded in sink order.
func NewManager(questions []compute.Question, ttl time.Duration, sinks ...Sink) *Manager {
	m := &Manager{
		sessions: make(map[string]*State),
		sinks:    sinks,
		ttl:      ttl,
		now:      time.Now,
		loc:      time.Local,
	}
	m.SetQuestions(questions)
	return m
}

// SetQuestions replaces the active catalog. Sessions already in progress keep
// their answers; answers to removed questions are ignored at completion.
func (m *Manager) SetQuestions(questions []compute.Question) {
	qs := append([]compute.Question(nil), questions...)
	sort.SliceStable(qs, func(i, j int) bool { return qs[i].Order < qs[j].Order })

	m.mu.Lock()
	m.questions = qs
	m.mu.Unlock()
}

// Questions returns the active catalog ordered by Order.
func (m *Manager) Questions() []compute.Question {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]compute.Question(nil), m.questions...)
}

// Start opens a fresh session for id, discarding any previous one.
func (m *Manager) Start(id Identity) (State, error) {
	if id.UserID == "" {
		return State{}, ErrMissingUser
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	st := &State{
		Identity:  id,
		CheckID:   uuid.NewString(),
		Answers:   make(map[string]int),
		StartedAt: now,
		UpdatedAt: now,
	}
	m.sessions[id.UserID] = st
	slog.Debug("session: started", "user", id.UserID)
	return st.clone(), nil
}

// Get returns a copy of the worker's session.
func (m *Manager) Get(userID string) (State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.sessions[userID]
	if !ok {
		return State{}, ErrNoSession
	}
	return st.clone(), nil
}

// Answer records the selected option for a question. Selecting 0 clears the
// answer.
func (m *Manager) Answer(userID, questionID string, selected int) (State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	st, ok := m.sessions[userID]
	if !ok {
		return State{}, ErrNoSession
	}
	q, ok := findQuestion(m.questions, questionID)
	if !ok {
		return State{}, fmt.Errorf("%w: %q", ErrUnknownQuestion, questionID)
	}
	if selected < 0 || selected > len(q.Options) {
		return State{}, fmt.Errorf("%w: question %q has %d options, got %d",
			ErrInvalidOption, questionID, len(q.Options), selected)
	}

	if selected == 0 {
		delete(st.Answers, questionID)
	} else {
		st.Answers[questionID] = selected
	}
	st.UpdatedAt = m.now()
	return st.clone(), nil
}

// ResetAnswers clears every checklist answer in the worker's session.
func (m *Manager) ResetAnswers(userID string) (State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	st, ok := m.sessions[userID]
	if !ok {
		return State{}, ErrNoSession
	}
	st.Answers = make(map[string]int)
	st.UpdatedAt = m.now()
	return st.clone(), nil
}

// RecordPupil scores a blink measurement and stores only the resulting score.
func (m *Manager) RecordPupil(userID string, blinkIntervalsMs []int64, eyeOpenRatios []float64) (float64, error) {
	score := compute.FatigueScore(blinkIntervalsMs, eyeOpenRatios)
	return score, m.update(userID, func(st *State) { st.PupilScore = &score })
}

// RecordTremor stores a pre-computed tremor score.
func (m *Manager) RecordTremor(userID string, score float64) error {
	return m.update(userID, func(st *State) { st.TremorScore = score })
}

// RecordPPG stores a pre-computed heart-signal score.
func (m *Manager) RecordPPG(userID string, score float64) error {
	return m.update(userID, func(st *State) { st.PPGScore = score })
}

func (m *Manager) update(userID string, fn func(*State)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.sessions[userID]
	if !ok {
		return ErrNoSession
	}
	fn(st)
	st.UpdatedAt = m.now()
	return nil
}

// Complete scores the worker's session, records the result with every sink and
// ends the session. The session is claimed before scoring, so concurrent calls
// for the same worker produce one result and the others get ErrNoSession. If
// scoring or a sink fails the session is put back so the caller can retry,
// unless a newer Start has replaced it in the meantime.
func (m *Manager) Complete(ctx context.Context, userID string) (types.SafetyCheckResult, error) {
	m.mu.Lock()
	st, ok := m.sessions[userID]
	if !ok {
		m.mu.Unlock()
		return types.SafetyCheckResult{}, ErrNoSession
	}
	delete(m.sessions, userID)
	questions := m.questions
	m.mu.Unlock()

	answers := make([]compute.Answer, 0, len(st.Answers))
	for qid, sel := range st.Answers {
		answers = append(answers, compute.Answer{QuestionID: qid, Selected: sel})
	}

	res, err := m.finish(ctx, st.Identity, st.CheckID, questions, compute.Input{
		Answers:     answers,
		PupilScore:  st.PupilScore,
		TremorScore: st.TremorScore,
		PPGScore:    st.PPGScore,
	})
	if err != nil {
		m.mu.Lock()
		if _, replaced := m.sessions[userID]; !replaced {
			m.sessions[userID] = st
		}
		m.mu.Unlock()
		return types.SafetyCheckResult{}, err
	}
	return res, nil
}

// Submit scores and records a check delivered in one piece.
func (m *Manager) Submit(ctx context.Context, c Check) (types.SafetyCheckResult, error) {
	if c.UserID == "" {
		return types.SafetyCheckResult{}, ErrMissingUser
	}
	questions := m.Questions()

	for _, a := range c.Answers {
		q, ok := findQuestion(questions, a.QuestionID)
		if !ok {
			return types.SafetyCheckResult{}, fmt.Errorf("%w: %q", ErrUnknownQuestion, a.QuestionID)
		}
		if a.Selected < 0 || a.Selected > len(q.Options) {
			return types.SafetyCheckResult{}, fmt.Errorf("%w: question %q has %d options, got %d",
				ErrInvalidOption, a.QuestionID, len(q.Options), a.Selected)
		}
	}

	intervals, ratios := c.BlinkIntervalsMs, c.EyeOpenRatios
	if len(c.Samples) > 0 {
		intervals, ratios = compute.ExtractBlinkSeries(c.Samples)
	}

	checkID := c.CheckID
	if checkID == "" {
		checkID = uuid.NewString()
	}

	return m.finish(ctx, c.Identity, checkID, questions, compute.Input{
		Answers:          c.Answers,
		BlinkIntervalsMs: intervals,
		EyeOpenRatios:    ratios,
		PupilScore:       c.PupilScore,
		TremorScore:      c.TremorScore,
		PPGScore:         c.PPGScore,
	})
}

// finish evaluates in against questions, builds the result and records it.
func (m *Manager) finish(ctx context.Context, id Identity, checkID string, questions []compute.Question, in compute.Input) (types.SafetyCheckResult, error) {
	in.Questions = questions
	if !compute.ChecklistComplete(questions, in.Answers) {
		return types.SafetyCheckResult{}, ErrChecklistIncomplete
	}

	ev := compute.Evaluate(in)
	now := m.now()
	res := types.SafetyCheckResult{
		CheckID:          checkID,
		UserID:           id.UserID,
		EmpNum:           id.EmpNum,
		Name:             id.Name,
		Dept:             id.Dept,
		ChecklistScore:   ev.ChecklistScore,
		TremorScore:      ev.TremorScore,
		PupilScore:       ev.PupilScore,
		PPGScore:         ev.PPGScore,
		FinalSafetyScore: ev.FinalScore,
		SafetyLevel:      ev.Level,
		Date:             now.In(m.loc).Format(types.DateLayout),
		Timestamp:        now.UnixMilli(),
		Recommendations:  ev.Recommendations,
	}

	for _, s := range m.sinks {
		err := s.Record(ctx, res)
		if errors.Is(err, ErrAlreadyRecorded) {
			slog.Info("session: duplicate check ignored", "user", res.UserID, "check_id", res.CheckID)
			return res, nil
		}
		if err != nil {
			return types.SafetyCheckResult{}, fmt.Errorf("session: record result: %w", err)
		}
	}

	slog.Info("session: check completed",
		"user", res.UserID,
		"dept", res.Dept,
		"final", res.FinalSafetyScore,
		"level", res.SafetyLevel,
	)
	return res, nil
}

// Count returns the number of sessions in progress.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Evict drops sessions idle since before now minus TTL and returns how many
// were removed.
func (m *Manager) Evict(now time.Time) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	cutoff := now.Add(-m.ttl)
	removed := 0
	for id, st := range m.sessions {
		if !st.UpdatedAt.After(cutoff) {
			delete(m.sessions, id)
			removed++
		}
	}
	return removed
}

// Run evicts idle sessions at half the TTL (minimum 1 second) until ctx is
// cancelled.
func (m *Manager) Run(ctx context.Context) {
	interval := m.ttl / 2
	if interval < time.Second {
		interval = time.Second
	}
	t := time.NewTicker(interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-t.C:
			if n := m.Evict(now); n > 0 {
				slog.Debug("session: evicted idle sessions", "count", n)
			}
		}
	}
}

func findQuestion(qs []compute.Question, id string) (compute.Question, bool) {
	for _, q := range qs {
		if q.ID == id {
			return q, true
		}
	}
	return compute.Question{}, false
}
