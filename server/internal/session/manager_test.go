package session

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/safetycheck/safetycheck/pkg/types"
	"github.com/safetycheck/safetycheck/server/internal/compute"
)

// baseTime is a fixed reference point so all test timings are deterministic.
var baseTime = time.Date(2026, 3, 2, 7, 30, 0, 0, time.UTC)

func fixedClock(t time.Time) func() time.Time { return func() time.Time { return t } }

func catalog() []compute.Question {
	return []compute.Question{
		{ID: "alcohol", Order: 2, Weight: 40, Options: []string{"no", "yes"}, OptionWeights: []int{100, 0}},
		{ID: "sleep", Order: 1, Weight: 60, Options: []string{"yes", "partly", "no"}, OptionWeights: []int{100, 0, 0}},
	}
}

// recorder is a Sink that keeps every result it receives.
type recorder struct {
	mu   sync.Mutex
	got  []types.SafetyCheckResult
	fail error
}

func (r *recorder) Record(_ context.Context, res types.SafetyCheckResult) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail != nil {
		return r.fail
	}
	r.got = append(r.got, res)
	return nil
}

func newManager(sinks ...Sink) *Manager {
	m := NewManager(catalog(), 30*time.Minute, sinks...)
	m.now = fixedClock(baseTime)
	m.loc = time.UTC
	return m
}

var worker = Identity{UserID: "u-17", EmpNum: "E017", Name: "Kim", Dept: "welding"}

func TestManager_QuestionsOrdered(t *testing.T) {
	qs := newManager().Questions()
	if len(qs) != 2 || qs[0].ID != "sleep" || qs[1].ID != "alcohol" {
		t.Errorf("Questions() order = %v, want sleep, alcohol", []string{qs[0].ID, qs[1].ID})
	}
}

func TestManager_FullSession(t *testing.T) {
	rec := &recorder{}
	m := newManager(rec)

	if _, err := m.Start(worker); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if _, err := m.Answer(worker.UserID, "sleep", 1); err != nil {
		t.Fatalf("Answer sleep: %v", err)
	}
	if _, err := m.Answer(worker.UserID, "alcohol", 1); err != nil {
		t.Fatalf("Answer alcohol: %v", err)
	}
	pupil, err := m.RecordPupil(worker.UserID, []int64{1000, 1000, 1000, 1000, 1000}, []float64{0.9})
	if err != nil {
		t.Fatalf("RecordPupil: %v", err)
	}
	if math.Abs(pupil-100) > 1e-9 {
		t.Errorf("pupil score = %.4f, want 100", pupil)
	}
	if err := m.RecordTremor(worker.UserID, 60); err != nil {
		t.Fatalf("RecordTremor: %v", err)
	}
	if err := m.RecordPPG(worker.UserID, 100); err != nil {
		t.Fatalf("RecordPPG: %v", err)
	}

	res, err := m.Complete(context.Background(), worker.UserID)
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}

	// 100*0.40 + 100*0.25 + 60*0.20 + 100*0.15 = 92
	if math.Abs(res.FinalSafetyScore-92) > 1e-9 {
		t.Errorf("FinalSafetyScore = %.4f, want 92", res.FinalSafetyScore)
	}
	if res.SafetyLevel != types.LevelSafe || !res.Consistent() {
		t.Errorf("SafetyLevel = %q for %.2f", res.SafetyLevel, res.FinalSafetyScore)
	}
	if res.ChecklistScore != 100 {
		t.Errorf("ChecklistScore = %d, want 100", res.ChecklistScore)
	}
	if res.Date != "2026-03-02" || res.Timestamp != baseTime.UnixMilli() {
		t.Errorf("date/timestamp = %s/%d", res.Date, res.Timestamp)
	}
	if res.EmpNum != "E017" || res.Dept != "welding" || res.Name != "Kim" {
		t.Errorf("identity not copied: %+v", res)
	}
	wantRecs := []string{compute.RecProceed, compute.RecTremorCaution}
	if len(res.Recommendations) != 2 || res.Recommendations[0] != wantRecs[0] || res.Recommendations[1] != wantRecs[1] {
		t.Errorf("Recommendations = %q, want %q", res.Recommendations, wantRecs)
	}

	if len(rec.got) != 1 {
		t.Fatalf("sink received %d results, want 1", len(rec.got))
	}
	if m.Count() != 0 {
		t.Errorf("session still open after Complete")
	}
	if _, err := m.Get(worker.UserID); !errors.Is(err, ErrNoSession) {
		t.Errorf("Get after Complete: err = %v, want ErrNoSession", err)
	}
}

func TestManager_CompleteRequiresAllAnswers(t *testing.T) {
	m := newManager()
	_, _ = m.Start(worker)
	_, _ = m.Answer(worker.UserID, "sleep", 2)

	_, err := m.Complete(context.Background(), worker.UserID)
	if !errors.Is(err, ErrChecklistIncomplete) {
		t.Fatalf("Complete: err = %v, want ErrChecklistIncomplete", err)
	}
	if m.Count() != 1 {
		t.Error("incomplete session should stay open")
	}
}

func TestManager_AnswerValidation(t *testing.T) {
	m := newManager()
	_, _ = m.Start(worker)

	if _, err := m.Answer(worker.UserID, "coffee", 1); !errors.Is(err, ErrUnknownQuestion) {
		t.Errorf("unknown question: err = %v", err)
	}
	if _, err := m.Answer(worker.UserID, "sleep", 4); !errors.Is(err, ErrInvalidOption) {
		t.Errorf("option 4 of 3: err = %v", err)
	}
	if _, err := m.Answer("nobody", "sleep", 1); !errors.Is(err, ErrNoSession) {
		t.Errorf("no session: err = %v", err)
	}

	st, err := m.Answer(worker.UserID, "sleep", 1)
	if err != nil {
		t.Fatalf("Answer: %v", err)
	}
	if st.Answers["sleep"] != 1 {
		t.Errorf("answer not stored: %v", st.Answers)
	}
	st, _ = m.Answer(worker.UserID, "sleep", 0)
	if _, ok := st.Answers["sleep"]; ok {
		t.Error("selecting 0 should clear the answer")
	}
}

func TestManager_ResetAnswers(t *testing.T) {
	m := newManager()
	_, _ = m.Start(worker)
	_, _ = m.Answer(worker.UserID, "sleep", 1)
	_, _ = m.Answer(worker.UserID, "alcohol", 2)

	st, err := m.ResetAnswers(worker.UserID)
	if err != nil {
		t.Fatalf("ResetAnswers: %v", err)
	}
	if len(st.Answers) != 0 {
		t.Errorf("answers after reset: %v", st.Answers)
	}
}

func TestManager_StartReplacesSession(t *testing.T) {
	m := newManager()
	_, _ = m.Start(worker)
	_, _ = m.Answer(worker.UserID, "sleep", 1)
	_ = m.RecordTremor(worker.UserID, 40)

	st, _ := m.Start(worker)
	if len(st.Answers) != 0 || st.TremorScore != 0 {
		t.Errorf("restarted session kept old data: %+v", st)
	}
}

func TestManager_StartRequiresUser(t *testing.T) {
	if _, err := newManager().Start(Identity{}); !errors.Is(err, ErrMissingUser) {
		t.Errorf("Start without user: err = %v", err)
	}
}

func TestManager_GetReturnsCopy(t *testing.T) {
	m := newManager()
	_, _ = m.Start(worker)
	st, _ := m.Get(worker.UserID)
	st.Answers["sleep"] = 1

	again, _ := m.Get(worker.UserID)
	if len(again.Answers) != 0 {
		t.Error("mutating a returned State changed the session")
	}
}

func TestManager_SinkFailureKeepsSession(t *testing.T) {
	rec := &recorder{fail: errors.New("disk full")}
	m := newManager(rec)
	_, _ = m.Start(worker)
	_, _ = m.Answer(worker.UserID, "sleep", 1)
	_, _ = m.Answer(worker.UserID, "alcohol", 1)

	if _, err := m.Complete(context.Background(), worker.UserID); err == nil {
		t.Fatal("Complete: expected sink error, got nil")
	}
	if m.Count() != 1 {
		t.Error("session dropped after failed record")
	}

	rec.fail = nil
	if _, err := m.Complete(context.Background(), worker.UserID); err != nil {
		t.Fatalf("retry Complete: %v", err)
	}
}

func TestManager_UnmeasuredChannelsAreZero(t *testing.T) {
	m := newManager()
	_, _ = m.Start(worker)
	_, _ = m.Answer(worker.UserID, "sleep", 1)
	_, _ = m.Answer(worker.UserID, "alcohol", 1)

	res, err := m.Complete(context.Background(), worker.UserID)
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if res.PupilScore != 0 || res.TremorScore != 0 || res.PPGScore != 0 {
		t.Errorf("unmeasured scores = %.1f/%.1f/%.1f, want 0", res.TremorScore, res.PupilScore, res.PPGScore)
	}
	// Checklist alone: 100 * 0.40 = 40 → DANGER.
	if res.SafetyLevel != types.LevelDanger {
		t.Errorf("SafetyLevel = %q, want DANGER", res.SafetyLevel)
	}
}

func TestManager_Submit(t *testing.T) {
	rec := &recorder{}
	m := newManager(rec)

	res, err := m.Submit(context.Background(), Check{
		Identity: worker,
		Answers:  []compute.Answer{{QuestionID: "sleep", Selected: 1}, {QuestionID: "alcohol", Selected: 2}},
		Samples: []compute.BlinkSample{
			{EyeOpenRatio: 0.9, TimestampMs: 0},
			{EyeOpenRatio: 0.1, TimestampMs: 100},
			{EyeOpenRatio: 0.9, TimestampMs: 200},
		},
		TremorScore: 80,
		PPGScore:    75,
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if res.ChecklistScore != 60 {
		t.Errorf("ChecklistScore = %d, want 60", res.ChecklistScore)
	}
	// One blink → 20; mean ratio 0.6333 → 40+0.1333*133; <3 intervals → 50.
	avg := (0.9 + 0.1 + 0.9) / 3
	wantPupil := 20*0.40 + (40+(avg-0.5)*133)*0.35 + 50*0.25
	if math.Abs(res.PupilScore-wantPupil) > 1e-6 {
		t.Errorf("PupilScore = %.4f, want %.4f", res.PupilScore, wantPupil)
	}
	if len(rec.got) != 1 {
		t.Errorf("sink received %d results, want 1", len(rec.got))
	}
}

func TestManager_SubmitRejects(t *testing.T) {
	m := newManager()
	ctx := context.Background()

	if _, err := m.Submit(ctx, Check{}); !errors.Is(err, ErrMissingUser) {
		t.Errorf("no user: err = %v", err)
	}
	if _, err := m.Submit(ctx, Check{Identity: worker, Answers: []compute.Answer{{QuestionID: "x", Selected: 1}}}); !errors.Is(err, ErrUnknownQuestion) {
		t.Errorf("unknown question: err = %v", err)
	}
	if _, err := m.Submit(ctx, Check{Identity: worker, Answers: []compute.Answer{{QuestionID: "sleep", Selected: 9}}}); !errors.Is(err, ErrInvalidOption) {
		t.Errorf("bad option: err = %v", err)
	}
	if _, err := m.Submit(ctx, Check{Identity: worker, Answers: []compute.Answer{{QuestionID: "sleep", Selected: 1}}}); !errors.Is(err, ErrChecklistIncomplete) {
		t.Errorf("incomplete: err = %v", err)
	}
}

func TestManager_SetQuestions(t *testing.T) {
	m := newManager()
	m.SetQuestions([]compute.Question{
		{ID: "ppe", Weight: 100, Options: []string{"yes", "no"}, OptionWeights: []int{100, 0}},
	})
	if qs := m.Questions(); len(qs) != 1 || qs[0].ID != "ppe" {
		t.Errorf("Questions() = %+v", qs)
	}
}

func TestManager_Evict(t *testing.T) {
	m := newManager()
	_, _ = m.Start(worker)

	m.now = fixedClock(baseTime.Add(20 * time.Minute))
	_, _ = m.Start(Identity{UserID: "u-2"})

	removed := m.Evict(baseTime.Add(40 * time.Minute))
	if removed != 1 {
		t.Errorf("Evict removed %d, want 1", removed)
	}
	if _, err := m.Get("u-2"); err != nil {
		t.Errorf("fresh session evicted: %v", err)
	}
}

func TestManager_ConcurrentSessions(t *testing.T) {
	rec := &recorder{}
	m := NewManager(catalog(), time.Minute, rec)
	var wg sync.WaitGroup

	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			id := Identity{UserID: fmt.Sprintf("u-%d", n)}
			_, _ = m.Start(id)
			_, _ = m.Answer(id.UserID, "sleep", 1)
			_, _ = m.Answer(id.UserID, "alcohol", 1)
			_, _ = m.Complete(context.Background(), id.UserID)
		}(i)
	}
	wg.Wait()

	if len(rec.got) != 50 {
		t.Errorf("recorded %d results, want 50", len(rec.got))
	}
}

func TestManager_ConcurrentCompleteRecordsOnce(t *testing.T) {
	rec := &recorder{}
	slow := SinkFunc(func(context.Context, types.SafetyCheckResult) error {
		time.Sleep(20 * time.Millisecond)
		return nil
	})
	m := newManager(slow, rec)
	_, _ = m.Start(worker)
	_, _ = m.Answer(worker.UserID, "sleep", 1)
	_, _ = m.Answer(worker.UserID, "alcohol", 1)

	const callers = 5
	var (
		wg sync.WaitGroup
		mu sync.Mutex
		ok int
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := m.Complete(context.Background(), worker.UserID)
			if err == nil {
				mu.Lock()
				ok++
				mu.Unlock()
				return
			}
			if !errors.Is(err, ErrNoSession) {
				t.Errorf("Complete: err = %v, want ErrNoSession", err)
			}
		}()
	}
	wg.Wait()

	if ok != 1 {
		t.Errorf("successful Complete calls = %d, want 1", ok)
	}
	if len(rec.got) != 1 {
		t.Errorf("results recorded = %d, want 1", len(rec.got))
	}
	if m.Count() != 0 {
		t.Errorf("sessions left = %d, want 0", m.Count())
	}
}

func TestManager_FailedCompleteKeepsNewerSession(t *testing.T) {
	m := newManager()
	var restarted State
	m.sinks = []Sink{SinkFunc(func(context.Context, types.SafetyCheckResult) error {
		// A new session starts while the old one is being recorded.
		restarted, _ = m.Start(Identity{UserID: worker.UserID, Name: "second"})
		return errors.New("disk full")
	})}
	_, _ = m.Start(worker)
	_, _ = m.Answer(worker.UserID, "sleep", 1)
	_, _ = m.Answer(worker.UserID, "alcohol", 1)

	if _, err := m.Complete(context.Background(), worker.UserID); err == nil {
		t.Fatal("Complete: expected sink error")
	}
	got, err := m.Get(worker.UserID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.CheckID != restarted.CheckID || got.Name != "second" || len(got.Answers) != 0 {
		t.Errorf("failed Complete overwrote the newer session: %+v", got)
	}
}

func TestManager_CheckIDs(t *testing.T) {
	rec := &recorder{}
	m := newManager(rec)

	a, _ := m.Start(worker)
	b, _ := m.Start(worker)
	if a.CheckID == "" || a.CheckID == b.CheckID {
		t.Errorf("Start check ids = %q, %q; want distinct non-empty", a.CheckID, b.CheckID)
	}
	_, _ = m.Answer(worker.UserID, "sleep", 1)
	_, _ = m.Answer(worker.UserID, "alcohol", 1)
	res, err := m.Complete(context.Background(), worker.UserID)
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if res.CheckID != b.CheckID {
		t.Errorf("result CheckID = %q, want session id %q", res.CheckID, b.CheckID)
	}

	answers := []compute.Answer{{QuestionID: "sleep", Selected: 1}, {QuestionID: "alcohol", Selected: 1}}
	res, _ = m.Submit(context.Background(), Check{Identity: worker, CheckID: "c-1", Answers: answers})
	if res.CheckID != "c-1" {
		t.Errorf("Submit kept CheckID %q, want c-1", res.CheckID)
	}
	res, _ = m.Submit(context.Background(), Check{Identity: worker, Answers: answers})
	if res.CheckID == "" {
		t.Error("Submit without CheckID: expected one to be assigned")
	}
}

// dedupSink stores each CheckID once, like store.History.
type dedupSink struct {
	mu   sync.Mutex
	seen map[string]bool
}

func (d *dedupSink) Record(_ context.Context, res types.SafetyCheckResult) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.seen[res.CheckID] {
		return ErrAlreadyRecorded
	}
	d.seen[res.CheckID] = true
	return nil
}

func TestManager_SubmitDuplicateSkipsLaterSinks(t *testing.T) {
	rec := &recorder{}
	m := newManager(&dedupSink{seen: map[string]bool{}}, rec)
	check := Check{
		Identity: worker,
		CheckID:  "retry-1",
		Answers:  []compute.Answer{{QuestionID: "sleep", Selected: 1}, {QuestionID: "alcohol", Selected: 1}},
	}

	first, err := m.Submit(context.Background(), check)
	if err != nil {
		t.Fatalf("first Submit: %v", err)
	}
	second, err := m.Submit(context.Background(), check)
	if err != nil {
		t.Fatalf("repeated Submit: %v", err)
	}
	if second.FinalSafetyScore != first.FinalSafetyScore || second.CheckID != first.CheckID {
		t.Errorf("repeated Submit returned %+v, want %+v", second, first)
	}
	if len(rec.got) != 1 {
		t.Errorf("later sink received %d results, want 1", len(rec.got))
	}
}
