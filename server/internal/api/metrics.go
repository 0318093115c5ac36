package api

import (
	"context"
	"log/slog"
	"net/http"
	"sort"
	"sync"

	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
	"google.golang.org/protobuf/proto"

	"github.com/safetycheck/safetycheck/pkg/types"
)

// Exposed metric names.
const (
	metricChecks     = "safetycheck_checks_total"
	metricFinalScore = "safetycheck_final_score"
	metricLastCheck  = "safetycheck_last_check_timestamp_seconds"
	metricRejected   = "safetycheck_requests_rejected_total"
	metricBoard      = "safetycheck_board_workers"
	metricSessions   = "safetycheck_sessions_active"
)

// scoreBounds are the upper bounds of the final score histogram.
var scoreBounds = []float64{25, types.ThresholdCaution, types.ThresholdSafe, 85, 100}

var levels = []types.SafetyLevel{types.LevelSafe, types.LevelCaution, types.LevelDanger}

// Metrics accumulates counters for completed checks. It implements
// session.Sink and is safe for concurrent use. A nil *Metrics ignores every
// call.
type Metrics struct {
	mu         sync.Mutex
	checks     map[types.SafetyLevel]uint64
	buckets    []uint64 // cumulative, aligned with scoreBounds
	scoreSum   float64
	scoreCount uint64
	lastCheck  int64 // epoch ms
	rejected   map[string]uint64
}

// NewMetrics returns an empty Metrics.
func NewMetrics() *Metrics {
	return &Metrics{
		checks:   make(map[types.SafetyLevel]uint64),
		buckets:  make([]uint64, len(scoreBounds)),
		rejected: make(map[string]uint64),
	}
}

// Record counts a completed check.
func (m *Metrics) Record(_ context.Context, res types.SafetyCheckResult) error {
	if m == nil {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	m.checks[types.LevelFor(res.FinalSafetyScore)]++
	for i, b := range scoreBounds {
		if res.FinalSafetyScore <= b {
			m.buckets[i]++
		}
	}
	m.scoreSum += res.FinalSafetyScore
	m.scoreCount++
	if res.Timestamp > m.lastCheck {
		m.lastCheck = res.Timestamp
	}
	return nil
}

// Reject counts a refused request by reason.
func (m *Metrics) Reject(reason string) {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.rejected[reason]++
	m.mu.Unlock()
}

// Families renders the current counters plus the live board and session
// gauges as Prometheus metric families.
func (m *Metrics) Families(board types.LevelCounts, sessions int) []*dto.MetricFamily {
	var fams []*dto.MetricFamily

	if m != nil {
		m.mu.Lock()
		checks := &dto.MetricFamily{
			Name: proto.String(metricChecks),
			Help: proto.String("Completed safety checks by level."),
			Type: dto.MetricType_COUNTER.Enum(),
		}
		for _, l := range levels {
			checks.Metric = append(checks.Metric, &dto.Metric{
				Label:   []*dto.LabelPair{label("level", string(l))},
				Counter: &dto.Counter{Value: proto.Float64(float64(m.checks[l]))},
			})
		}

		hist := &dto.Histogram{
			SampleCount: proto.Uint64(m.scoreCount),
			SampleSum:   proto.Float64(m.scoreSum),
		}
		for i, b := range scoreBounds {
			hist.Bucket = append(hist.Bucket, &dto.Bucket{
				UpperBound:      proto.Float64(b),
				CumulativeCount: proto.Uint64(m.buckets[i]),
			})
		}

		rejected := &dto.MetricFamily{
			Name: proto.String(metricRejected),
			Help: proto.String("Requests refused by reason."),
			Type: dto.MetricType_COUNTER.Enum(),
		}
		reasons := make([]string, 0, len(m.rejected))
		for r := range m.rejected {
			reasons = append(reasons, r)
		}
		sort.Strings(reasons)
		for _, r := range reasons {
			rejected.Metric = append(rejected.Metric, &dto.Metric{
				Label:   []*dto.LabelPair{label("reason", r)},
				Counter: &dto.Counter{Value: proto.Float64(float64(m.rejected[r]))},
			})
		}
		last := float64(m.lastCheck) / 1000
		m.mu.Unlock()

		fams = append(fams, checks,
			&dto.MetricFamily{
				Name:   proto.String(metricFinalScore),
				Help:   proto.String("Distribution of final safety scores."),
				Type:   dto.MetricType_HISTOGRAM.Enum(),
				Metric: []*dto.Metric{{Histogram: hist}},
			},
			gaugeFamily(metricLastCheck, "Time of the most recent completed check.", last),
		)
		if len(rejected.Metric) > 0 {
			fams = append(fams, rejected)
		}
	}

	workers := &dto.MetricFamily{
		Name: proto.String(metricBoard),
		Help: proto.String("Workers on the live board by level."),
		Type: dto.MetricType_GAUGE.Enum(),
	}
	for _, l := range levels {
		var n int
		switch l {
		case types.LevelSafe:
			n = board.Safe
		case types.LevelCaution:
			n = board.Caution
		case types.LevelDanger:
			n = board.Danger
		}
		workers.Metric = append(workers.Metric, &dto.Metric{
			Label: []*dto.LabelPair{label("level", string(l))},
			Gauge: &dto.Gauge{Value: proto.Float64(float64(n))},
		})
	}
	fams = append(fams, workers,
		gaugeFamily(metricSessions, "Sessions in progress.", float64(sessions)),
	)
	return fams
}

// serveMetrics handles GET /metrics.
func (h *Handler) serveMetrics(w http.ResponseWriter, _ *http.Request) {
	format := expfmt.NewFormat(expfmt.TypeTextPlain)
	w.Header().Set("Content-Type", string(format))

	enc := expfmt.NewEncoder(w, format)
	for _, mf := range h.metrics.Families(h.board.Counts(), h.sessions.Count()) {
		if err := enc.Encode(mf); err != nil {
			slog.Error("api: encode metrics", "metric", mf.GetName(), "err", err)
			return
		}
	}
}

func label(name, value string) *dto.LabelPair {
	return &dto.LabelPair{Name: proto.String(name), Value: proto.String(value)}
}

func gaugeFamily(name, help string, v float64) *dto.MetricFamily {
	return &dto.MetricFamily{
		Name:   proto.String(name),
		Help:   proto.String(help),
		Type:   dto.MetricType_GAUGE.Enum(),
		Metric: []*dto.Metric{{Gauge: &dto.Gauge{Value: proto.Float64(v)}}},
	}
}
