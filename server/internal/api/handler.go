package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/safetycheck/safetycheck/pkg/types"
	"github.com/safetycheck/safetycheck/server/internal/alerts"
	"github.com/safetycheck/safetycheck/server/internal/intake"
	"github.com/safetycheck/safetycheck/server/internal/session"
	"github.com/safetycheck/safetycheck/server/internal/store"
)

// AlertSource lists current alerts.
type AlertSource interface {
	Active() []*alerts.Alert
}

// History is the read side of the result archive.
type History interface {
	ListByUser(ctx context.Context, userID string, limit int) ([]types.SafetyCheckResult, error)
	Query(ctx context.Context, f store.Filter) ([]types.SafetyCheckResult, error)
	Summary(ctx context.Context, date string) (types.LevelCounts, error)
}

// Handler is the HTTP handler for the REST API and /metrics.
type Handler struct {
	sessions *session.Manager
	board    *store.Board
	history  History
	metrics  *Metrics
	alerts   AlertSource
	mux      *http.ServeMux
	now      func() time.Time // injectable for deterministic tests
}

// New creates a Handler and registers all routes.
func New(mgr *session.Manager, board *store.Board, hist History, m *Metrics) *Handler {
	h := &Handler{
		sessions: mgr,
		board:    board,
		history:  hist,
		metrics:  m,
		mux:      http.NewServeMux(),
		now:      time.Now,
	}

	h.mux.HandleFunc("GET /healthz", h.healthz)
	h.mux.HandleFunc("GET /metrics", h.serveMetrics)

	h.mux.HandleFunc("GET /api/v1/checklist", h.checklist)
	h.mux.HandleFunc("POST /api/v1/sessions", h.startSession)
	h.mux.HandleFunc("GET /api/v1/sessions/{userId}", h.getSession)
	h.mux.HandleFunc("PUT /api/v1/sessions/{userId}/answers", h.answer)
	h.mux.HandleFunc("DELETE /api/v1/sessions/{userId}/answers", h.resetAnswers)
	h.mux.HandleFunc("POST /api/v1/sessions/{userId}/measurements", h.measurement)
	h.mux.HandleFunc("POST /api/v1/sessions/{userId}/complete", h.complete)
	h.mux.HandleFunc("POST /api/v1/checks", h.submitCheck)

	h.mux.HandleFunc("GET /api/v1/board", h.listBoard)
	h.mux.HandleFunc("GET /api/v1/summary", h.summary)
	h.mux.HandleFunc("GET /api/v1/results", h.results)
	h.mux.HandleFunc("GET /api/v1/users/{userId}/results", h.userResults)
	h.mux.HandleFunc("GET /api/v1/alerts", h.alertList)

	return h
}

// SetAlerts exposes src on GET /api/v1/alerts. Call before serving.
func (h *Handler) SetAlerts(src AlertSource) {
	h.alerts = src
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

// --- session routes ---------------------------------------------------------

func (h *Handler) healthz(w http.ResponseWriter, _ *http.Request) {
	jsonResp(w, http.StatusOK, map[string]string{"status": "ok"})
}

// checklist returns GET /api/v1/checklist: the active catalog in display order.
func (h *Handler) checklist(w http.ResponseWriter, _ *http.Request) {
	jsonResp(w, http.StatusOK, toQuestionResponses(h.sessions.Questions()))
}

// startSession handles POST /api/v1/sessions.
func (h *Handler) startSession(w http.ResponseWriter, r *http.Request) {
	var req intake.StartRequest
	if err := intake.Decode(r.Body, &req); err != nil {
		h.fail(w, err)
		return
	}
	st, err := h.sessions.Start(req.SessionIdentity())
	if err != nil {
		h.fail(w, err)
		return
	}
	jsonResp(w, http.StatusCreated, h.sessionResponse(st))
}

// getSession handles GET /api/v1/sessions/{userId}.
func (h *Handler) getSession(w http.ResponseWriter, r *http.Request) {
	st, err := h.sessions.Get(r.PathValue("userId"))
	if err != nil {
		h.fail(w, err)
		return
	}
	jsonResp(w, http.StatusOK, h.sessionResponse(st))
}

// answer handles PUT /api/v1/sessions/{userId}/answers.
func (h *Handler) answer(w http.ResponseWriter, r *http.Request) {
	var req intake.Answer
	if err := intake.Decode(r.Body, &req); err != nil {
		h.fail(w, err)
		return
	}
	st, err := h.sessions.Answer(r.PathValue("userId"), req.QuestionID, req.Selected)
	if err != nil {
		h.fail(w, err)
		return
	}
	jsonResp(w, http.StatusOK, h.sessionResponse(st))
}

// resetAnswers handles DELETE /api/v1/sessions/{userId}/answers.
func (h *Handler) resetAnswers(w http.ResponseWriter, r *http.Request) {
	st, err := h.sessions.ResetAnswers(r.PathValue("userId"))
	if err != nil {
		h.fail(w, err)
		return
	}
	jsonResp(w, http.StatusOK, h.sessionResponse(st))
}

// measurement handles POST /api/v1/sessions/{userId}/measurements.
// Only the resulting score is kept; raw blink data is discarded.
func (h *Handler) measurement(w http.ResponseWriter, r *http.Request) {
	var req intake.MeasurementRequest
	if err := intake.Decode(r.Body, &req); err != nil {
		h.fail(w, err)
		return
	}
	userID := r.PathValue("userId")

	var (
		score float64
		err   error
	)
	switch req.Kind {
	case intake.KindPupil:
		intervals, ratios := req.Series()
		score, err = h.sessions.RecordPupil(userID, intervals, ratios)
	case intake.KindTremor:
		score = *req.Score
		err = h.sessions.RecordTremor(userID, score)
	case intake.KindPPG:
		score = *req.Score
		err = h.sessions.RecordPPG(userID, score)
	}
	if err != nil {
		h.fail(w, err)
		return
	}
	jsonResp(w, http.StatusOK, MeasurementResponse{Kind: req.Kind, Score: score})
}

// complete handles POST /api/v1/sessions/{userId}/complete.
func (h *Handler) complete(w http.ResponseWriter, r *http.Request) {
	res, err := h.sessions.Complete(r.Context(), r.PathValue("userId"))
	if err != nil {
		h.fail(w, err)
		return
	}
	jsonResp(w, http.StatusCreated, res)
}

// submitCheck handles POST /api/v1/checks.
func (h *Handler) submitCheck(w http.ResponseWriter, r *http.Request) {
	var req intake.CheckRequest
	if err := intake.Decode(r.Body, &req); err != nil {
		h.fail(w, err)
		return
	}
	res, err := h.sessions.Submit(r.Context(), req.Check())
	if err != nil {
		h.fail(w, err)
		return
	}
	jsonResp(w, http.StatusCreated, res)
}

// --- reporting routes -------------------------------------------------------

// listBoard returns GET /api/v1/board: live results, lowest score first.
// An optional ?level= narrows the entries; counts always cover the full board.
func (h *Handler) listBoard(w http.ResponseWriter, r *http.Request) {
	var level types.SafetyLevel
	if s := r.URL.Query().Get("level"); s != "" {
		l, err := types.ParseLevel(s)
		if err != nil {
			jsonErr(w, http.StatusBadRequest, err.Error())
			return
		}
		level = l
	}

	resp := BuildBoard(h.board, h.now())
	if level != "" {
		kept := resp.Entries[:0]
		for _, e := range resp.Entries {
			if types.LevelFor(e.FinalSafetyScore) == level {
				kept = append(kept, e)
			}
		}
		resp.Entries = kept
	}
	jsonResp(w, http.StatusOK, resp)
}

// summary returns GET /api/v1/summary?date=YYYY-MM-DD; date defaults to today.
func (h *Handler) summary(w http.ResponseWriter, r *http.Request) {
	date, ok := h.dateParam(w, r)
	if !ok {
		return
	}
	if date == "" {
		date = h.now().Format(types.DateLayout)
	}
	counts, err := h.history.Summary(r.Context(), date)
	if err != nil {
		h.fail(w, err)
		return
	}
	jsonResp(w, http.StatusOK, SummaryResponse{Date: date, LevelCounts: counts, Total: counts.Total()})
}

// results returns GET /api/v1/results?date=&level=&dept=&limit=.
func (h *Handler) results(w http.ResponseWriter, r *http.Request) {
	date, ok := h.dateParam(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	f := store.Filter{Date: date, Dept: q.Get("dept")}
	if s := q.Get("level"); s != "" {
		l, err := types.ParseLevel(s)
		if err != nil {
			jsonErr(w, http.StatusBadRequest, err.Error())
			return
		}
		f.Level = l
	}
	if f.Limit, ok = limitParam(w, r); !ok {
		return
	}

	out, err := h.history.Query(r.Context(), f)
	if err != nil {
		h.fail(w, err)
		return
	}
	jsonResp(w, http.StatusOK, out)
}

// userResults returns GET /api/v1/users/{userId}/results, newest first.
func (h *Handler) userResults(w http.ResponseWriter, r *http.Request) {
	limit, ok := limitParam(w, r)
	if !ok {
		return
	}
	out, err := h.history.ListByUser(r.Context(), r.PathValue("userId"), limit)
	if err != nil {
		h.fail(w, err)
		return
	}
	jsonResp(w, http.StatusOK, out)
}

// alertList returns GET /api/v1/alerts: firing and recently resolved alerts.
func (h *Handler) alertList(w http.ResponseWriter, _ *http.Request) {
	if h.alerts == nil {
		jsonResp(w, http.StatusOK, []*alerts.Alert{})
		return
	}
	jsonResp(w, http.StatusOK, h.alerts.Active())
}

// BuildBoard assembles the board payload shared by GET /api/v1/board and the
// WebSocket stream.
func BuildBoard(b *store.Board, now time.Time) BoardResponse {
	entries := b.List()
	resp := BoardResponse{
		Entries:     make([]BoardEntry, 0, len(entries)),
		GeneratedAt: now.UTC().Format(time.RFC3339),
	}
	for _, e := range entries {
		resp.Counts.Add(e.Result.FinalSafetyScore)
		resp.Entries = append(resp.Entries, toBoardEntry(e))
	}
	return resp
}

// --- helpers ----------------------------------------------------------------

func (h *Handler) sessionResponse(st session.State) SessionResponse {
	return toSessionResponse(st, len(h.sessions.Questions()))
}

func (h *Handler) dateParam(w http.ResponseWriter, r *http.Request) (string, bool) {
	date := r.URL.Query().Get("date")
	if date == "" {
		return "", true
	}
	if _, err := time.Parse(types.DateLayout, date); err != nil {
		jsonErr(w, http.StatusBadRequest, "date must be YYYY-MM-DD")
		return "", false
	}
	return date, true
}

func limitParam(w http.ResponseWriter, r *http.Request) (int, bool) {
	s := r.URL.Query().Get("limit")
	if s == "" {
		return 0, true
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		jsonErr(w, http.StatusBadRequest, "limit must be a non-negative integer")
		return 0, false
	}
	return n, true
}

// fail maps domain errors to HTTP status codes.
func (h *Handler) fail(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, intake.ErrInvalid),
		errors.Is(err, session.ErrMissingUser),
		errors.Is(err, session.ErrUnknownQuestion),
		errors.Is(err, session.ErrInvalidOption):
		h.metrics.Reject("invalid")
		jsonErr(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, session.ErrNoSession):
		h.metrics.Reject("no_session")
		jsonErr(w, http.StatusNotFound, err.Error())
	case errors.Is(err, session.ErrChecklistIncomplete):
		h.metrics.Reject("incomplete")
		jsonErr(w, http.StatusConflict, err.Error())
	default:
		slog.Error("api: request failed", "err", err)
		jsonErr(w, http.StatusInternalServerError, "internal error")
	}
}

func jsonResp(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func jsonErr(w http.ResponseWriter, code int, msg string) {
	jsonResp(w, code, errorResponse{Error: msg})
}
