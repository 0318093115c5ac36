package scrape

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"

	"github.com/safetycheck/safetycheck/client/internal/config"
)

const (
	familyChecks    = "safetycheck_checks_total"
	familyScore     = "safetycheck_final_score"
	familyLastCheck = "safetycheck_last_check_timestamp_seconds"
	familyRejected  = "safetycheck_requests_rejected_total"
	familyBoard     = "safetycheck_board_workers"
	familySessions  = "safetycheck_sessions_active"
)

// Stats is a point-in-time summary of one server.
type Stats struct {
	ScrapedAt time.Time `json:"scrapedAt"`

	// ChecksByLevel holds total completed checks per safety level.
	ChecksByLevel map[string]float64 `json:"checksByLevel"`

	// Rejected holds total rejected requests per reason.
	Rejected map[string]float64 `json:"rejected"`

	// BoardByLevel holds the number of workers currently on the board per level.
	BoardByLevel map[string]float64 `json:"boardByLevel"`

	SessionsActive float64 `json:"sessionsActive"`

	// MeanFinalScore is the histogram sum divided by its count; 0 when no
	// check has completed.
	MeanFinalScore float64 `json:"meanFinalScore"`

	// LastCheck is zero when no check has completed since startup.
	LastCheck time.Time `json:"lastCheck,omitempty"`
}

// Total returns the number of completed checks across all levels.
func (s *Stats) Total() float64 {
	var t float64
	for _, v := range s.ChecksByLevel {
		t += v
	}
	return t
}

// Scraper fetches Stats from one server.
type Scraper struct {
	url    string
	client *http.Client
	now    func() time.Time
}

// New builds a Scraper for cfg.HTTPEndpoint. The HTTP client is built once
// and reused.
func New(cfg config.ClientConfig) (*Scraper, error) {
	client, err := buildHTTPClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("scrape: build http client: %w", err)
	}
	return &Scraper{
		url:    strings.TrimRight(cfg.HTTPEndpoint, "/") + "/metrics",
		client: client,
		now:    time.Now,
	}, nil
}

// Scrape fetches /metrics and summarises it.
func (s *Scraper) Scrape(ctx context.Context) (*Stats, error) {
	mfs, err := fetchMetrics(ctx, s.client, s.url)
	if err != nil {
		return nil, fmt.Errorf("scrape %s: %w", s.url, err)
	}
	st := summarise(mfs)
	st.ScrapedAt = s.now().UTC()
	return st, nil
}

func summarise(mfs map[string]*dto.MetricFamily) *Stats {
	st := &Stats{
		ChecksByLevel:  byLabel(mfs[familyChecks], "level"),
		Rejected:       byLabel(mfs[familyRejected], "reason"),
		BoardByLevel:   byLabel(mfs[familyBoard], "level"),
		SessionsActive: sumFamily(mfs[familySessions]),
	}
	if ts := sumFamily(mfs[familyLastCheck]); ts > 0 {
		st.LastCheck = time.Unix(0, int64(ts*float64(time.Second))).UTC()
	}
	if mf := mfs[familyScore]; mf != nil {
		var sum float64
		var count uint64
		for _, m := range mf.GetMetric() {
			if h := m.GetHistogram(); h != nil {
				sum += h.GetSampleSum()
				count += h.GetSampleCount()
			}
		}
		if count > 0 {
			st.MeanFinalScore = sum / float64(count)
		}
	}
	return st
}

// authRoundTripper injects the API key into every outgoing request.
type authRoundTripper struct {
	base http.RoundTripper
	auth config.AuthConfig
}

func (t *authRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	if t.auth.Mode == "apikey" {
		req = req.Clone(req.Context())
		req.Header.Set(t.auth.Header, t.auth.Key())
	}
	return t.base.RoundTrip(req)
}

func buildHTTPClient(cfg config.ClientConfig) (*http.Client, error) {
	tlsCfg := &tls.Config{MinVersion: tls.VersionTLS12}

	if cfg.Auth.Mode == "mtls" {
		cert, err := tls.LoadX509KeyPair(cfg.Auth.CertFile, cfg.Auth.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("load client cert: %w", err)
		}
		tlsCfg.Certificates = []tls.Certificate{cert}

		if cfg.Auth.CAFile != "" {
			caPEM, err := os.ReadFile(cfg.Auth.CAFile)
			if err != nil {
				return nil, fmt.Errorf("read ca file: %w", err)
			}
			pool := x509.NewCertPool()
			if !pool.AppendCertsFromPEM(caPEM) {
				return nil, fmt.Errorf("no valid certs found in ca file %q", cfg.Auth.CAFile)
			}
			tlsCfg.RootCAs = pool
		}
	}

	return &http.Client{
		Transport: &authRoundTripper{
			base: &http.Transport{TLSClientConfig: tlsCfg},
			auth: cfg.Auth,
		},
		Timeout: cfg.Timeout,
	}, nil
}

func fetchMetrics(ctx context.Context, client *http.Client, url string) (map[string]*dto.MetricFamily, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", string(expfmt.NewFormat(expfmt.TypeTextPlain)))

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http get: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return parseMetrics(resp.Body)
}

// parseMetrics decodes a text exposition. A non-empty partial result is
// returned without error.
func parseMetrics(r io.Reader) (map[string]*dto.MetricFamily, error) {
	var parser expfmt.TextParser
	mfs, err := parser.TextToMetricFamilies(r)
	if err != nil && len(mfs) == 0 {
		return nil, fmt.Errorf("parse prometheus text: %w", err)
	}
	return mfs, nil
}

// sumFamily adds up all counter, gauge, or untyped values in mf.
func sumFamily(mf *dto.MetricFamily) float64 {
	if mf == nil {
		return 0
	}
	var total float64
	for _, m := range mf.GetMetric() {
		total += value(m)
	}
	return total
}

// byLabel groups the values of mf by the named label.
func byLabel(mf *dto.MetricFamily, label string) map[string]float64 {
	out := make(map[string]float64)
	if mf == nil {
		return out
	}
	for _, m := range mf.GetMetric() {
		key := ""
		for _, lp := range m.GetLabel() {
			if lp.GetName() == label {
				key = lp.GetValue()
				break
			}
		}
		out[key] += value(m)
	}
	return out
}

func value(m *dto.Metric) float64 {
	switch {
	case m.Counter != nil:
		return m.Counter.GetValue()
	case m.Gauge != nil:
		return m.Gauge.GetValue()
	case m.Untyped != nil:
		return m.Untyped.GetValue()
	}
	return 0
}
