package store

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/safetycheck/safetycheck/pkg/types"
)

// Entry is a worker's latest result together with the time it was recorded.
type Entry struct {
	Result    types.SafetyCheckResult
	UpdatedAt time.Time
}

// Board keeps the latest result per worker, keyed by user id.
// A background goroutine (Run) periodically evicts entries older than the TTL.
type Board struct {
	mu   sync.RWMutex
	data map[string]*Entry
	ttl  time.Duration
	now  func() time.Time // injectable for deterministic tests
}

// NewBoard creates a Board with the given TTL.
func NewBoard(ttl time.Duration) *Board {
	return &Board{
		data: make(map[string]*Entry),
		ttl:  ttl,
		now:  time.Now,
	}
}

// Record stores or replaces the worker's latest result. It never fails.
func (b *Board) Record(_ context.Context, res types.SafetyCheckResult) error {
	b.Put(res)
	return nil
}

// Put stores or replaces the latest result for res.UserID.
func (b *Board) Put(res types.SafetyCheckResult) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.data[res.UserID] = &Entry{
		Result:    res,
		UpdatedAt: b.now(),
	}
}

// Get returns the worker's latest live result.
func (b *Board) Get(userID string) (*Entry, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	e, ok := b.data[userID]
	if !ok || !e.UpdatedAt.After(b.now().Add(-b.ttl)) {
		return nil, false
	}
	return e, true
}

// List returns every live entry, lowest final score first so workers at risk
// lead the board. Stale entries not yet evicted are excluded.
func (b *Board) List() []*Entry {
	b.mu.RLock()
	cutoff := b.now().Add(-b.ttl)
	out := make([]*Entry, 0, len(b.data))
	for _, e := range b.data {
		if e.UpdatedAt.After(cutoff) {
			out = append(out, e)
		}
	}
	b.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Result.FinalSafetyScore != out[j].Result.FinalSafetyScore {
			return out[i].Result.FinalSafetyScore < out[j].Result.FinalSafetyScore
		}
		return out[i].Result.UserID < out[j].Result.UserID
	})
	return out
}

// Counts buckets the live entries by level.
func (b *Board) Counts() types.LevelCounts {
	var c types.LevelCounts
	for _, e := range b.List() {
		c.Add(e.Result.FinalSafetyScore)
	}
	return c
}

// Count returns the total number of entries held, including stale ones.
func (b *Board) Count() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.data)
}

// Evict removes entries whose UpdatedAt is older than now minus TTL.
// It returns the number of entries removed.
func (b *Board) Evict(now time.Time) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	cutoff := now.Add(-b.ttl)
	removed := 0
	for id, e := range b.data {
		if !e.UpdatedAt.After(cutoff) {
			delete(b.data, id)
			removed++
		}
	}
	return removed
}

// Run starts the background TTL eviction loop. It ticks at half the TTL
// (minimum 1 second) and blocks until ctx is cancelled.
func (b *Board) Run(ctx context.Context) {
	interval := b.ttl / 2
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
			if n := b.Evict(now); n > 0 {
				slog.Debug("store: evicted stale board entries", "count", n)
			}
		}
	}
}
