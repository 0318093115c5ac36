package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/safetycheck/safetycheck/pkg/types"
	"github.com/safetycheck/safetycheck/server/internal/session"
)

// DefaultQueryLimit caps Query and ListByUser when no limit is given.
const DefaultQueryLimit = 500

// checkRecord is the SQLite row for one SafetyCheckResult. ID is the
// result's CheckID.
type checkRecord struct {
	ID               uuid.UUID `gorm:"type:text;primaryKey"`
	UserID           string    `gorm:"index;not null"`
	EmpNum           string
	Name             string
	Dept             string `gorm:"index"`
	ChecklistScore   int
	TremorScore      float64
	PupilScore       float64
	PPGScore         float64
	FinalSafetyScore float64
	SafetyLevel      string
	Date             string `gorm:"index"`
	Timestamp        int64  `gorm:"index"`
	Recommendations  datatypes.JSONSlice[string]
	CreatedAt        time.Time
}

func (checkRecord) TableName() string { return "safety_check_results" }

func toRecord(res types.SafetyCheckResult) (*checkRecord, error) {
	id := uuid.New()
	if res.CheckID != "" {
		parsed, err := uuid.Parse(res.CheckID)
		if err != nil {
			return nil, fmt.Errorf("store: check id %q: %w", res.CheckID, err)
		}
		id = parsed
	}
	return &checkRecord{
		ID:               id,
		UserID:           res.UserID,
		EmpNum:           res.EmpNum,
		Name:             res.Name,
		Dept:             res.Dept,
		ChecklistScore:   res.ChecklistScore,
		TremorScore:      res.TremorScore,
		PupilScore:       res.PupilScore,
		PPGScore:         res.PPGScore,
		FinalSafetyScore: res.FinalSafetyScore,
		SafetyLevel:      string(res.SafetyLevel),
		Date:             res.Date,
		Timestamp:        res.Timestamp,
		Recommendations:  datatypes.JSONSlice[string](res.Recommendations),
	}, nil
}

func (r *checkRecord) result() types.SafetyCheckResult {
	recs := []string(r.Recommendations)
	if recs == nil {
		recs = []string{}
	}
	return types.SafetyCheckResult{
		CheckID:          r.ID.String(),
		UserID:           r.UserID,
		EmpNum:           r.EmpNum,
		Name:             r.Name,
		Dept:             r.Dept,
		ChecklistScore:   r.ChecklistScore,
		TremorScore:      r.TremorScore,
		PupilScore:       r.PupilScore,
		PPGScore:         r.PPGScore,
		FinalSafetyScore: r.FinalSafetyScore,
		SafetyLevel:      types.SafetyLevel(r.SafetyLevel),
		Date:             r.Date,
		Timestamp:        r.Timestamp,
		Recommendations:  recs,
	}
}

// Filter selects stored results. Zero fields match everything.
type Filter struct {
	Date  string // YYYY-MM-DD
	Level types.SafetyLevel
	Dept  string
	Limit int
}

// History is the write-once archive of completed checks.
//
// History is safe for concurrent use.
type History struct {
	db        *gorm.DB
	retention time.Duration
}

// OpenHistory opens (or creates) the SQLite database at path and migrates the
// schema. A zero retention keeps results forever.
func OpenHistory(path string, retention time.Duration) (*History, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("store: open sqlite %q: %w", path, err)
	}
	if err := db.AutoMigrate(&checkRecord{}); err != nil {
		return nil, fmt.Errorf("store: migrate: %w", err)
	}
	return &History{db: db, retention: retention}, nil
}

// Close releases the underlying database handle.
func (h *History) Close() error {
	sqlDB, err := h.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Record inserts res. Stored results are never updated: a second result with
// the same CheckID leaves the first in place and returns
// session.ErrAlreadyRecorded. A result without a CheckID gets a fresh one.
func (h *History) Record(ctx context.Context, res types.SafetyCheckResult) error {
	if res.UserID == "" {
		return errors.New("store: result has no user id")
	}
	rec, err := toRecord(res)
	if err != nil {
		return err
	}
	tx := h.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(rec)
	if tx.Error != nil {
		return fmt.Errorf("store: insert result: %w", tx.Error)
	}
	if tx.RowsAffected == 0 {
		slog.Debug("store: duplicate check", "check_id", rec.ID, "user", res.UserID)
		return fmt.Errorf("store: check %s: %w", rec.ID, session.ErrAlreadyRecorded)
	}
	return nil
}

// ListByUser returns a worker's results, newest first.
func (h *History) ListByUser(ctx context.Context, userID string, limit int) ([]types.SafetyCheckResult, error) {
	var rows []*checkRecord
	err := h.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("timestamp DESC").
		Limit(effectiveLimit(limit)).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("store: list user %q: %w", userID, err)
	}
	return toResults(rows), nil
}

// Query returns results matching f, newest first. The level filter is applied
// to the final score with the same thresholds as types.LevelFor.
func (h *History) Query(ctx context.Context, f Filter) ([]types.SafetyCheckResult, error) {
	q := h.db.WithContext(ctx).Model(&checkRecord{})
	if f.Date != "" {
		q = q.Where("date = ?", f.Date)
	}
	if f.Dept != "" {
		q = q.Where("dept = ?", f.Dept)
	}
	switch f.Level {
	case "":
	case types.LevelSafe:
		q = q.Where("final_safety_score >= ?", types.ThresholdSafe)
	case types.LevelCaution:
		q = q.Where("final_safety_score >= ? AND final_safety_score < ?", types.ThresholdCaution, types.ThresholdSafe)
	case types.LevelDanger:
		q = q.Where("final_safety_score < ?", types.ThresholdCaution)
	default:
		return nil, fmt.Errorf("store: unknown level %q", f.Level)
	}

	var rows []*checkRecord
	if err := q.Order("timestamp DESC").Limit(effectiveLimit(f.Limit)).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("store: query: %w", err)
	}
	return toResults(rows), nil
}

// Summary buckets every result stored for date by level.
func (h *History) Summary(ctx context.Context, date string) (types.LevelCounts, error) {
	var scores []float64
	err := h.db.WithContext(ctx).
		Model(&checkRecord{}).
		Where("date = ?", date).
		Pluck("final_safety_score", &scores).Error
	if err != nil {
		return types.LevelCounts{}, fmt.Errorf("store: summary %s: %w", date, err)
	}

	var c types.LevelCounts
	for _, s := range scores {
		c.Add(s)
	}
	return c, nil
}

// Purge deletes results older than now minus the retention period and returns
// how many rows were removed.
func (h *History) Purge(ctx context.Context, now time.Time) (int64, error) {
	if h.retention <= 0 {
		return 0, nil
	}
	cutoff := now.Add(-h.retention).UnixMilli()
	res := h.db.WithContext(ctx).Where("timestamp < ?", cutoff).Delete(&checkRecord{})
	if res.Error != nil {
		return 0, fmt.Errorf("store: purge: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// Run purges expired results once an hour until ctx is cancelled.
func (h *History) Run(ctx context.Context) {
	t := time.NewTicker(time.Hour)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-t.C:
			n, err := h.Purge(ctx, now)
			if err != nil {
				slog.Error("store: retention purge failed", "err", err)
				continue
			}
			if n > 0 {
				slog.Info("store: purged expired results", "count", n)
			}
		}
	}
}

func effectiveLimit(limit int) int {
	if limit <= 0 || limit > DefaultQueryLimit {
		return DefaultQueryLimit
	}
	return limit
}

func toResults(rows []*checkRecord) []types.SafetyCheckResult {
	out := make([]types.SafetyCheckResult, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.result())
	}
	return out
}
