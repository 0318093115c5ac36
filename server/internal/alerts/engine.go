package alerts

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/safetycheck/safetycheck/pkg/types"
	"github.com/safetycheck/safetycheck/server/internal/config"
)

const (
	defaultCooldown = 15 * time.Minute
	maxHistoryLen   = 200
	recentWindow    = time.Hour
)

// Alert states.
const (
	StateFiring   = "firing"
	StateResolved = "resolved"
)

// Alert is one alert event for one worker.
type Alert struct {
	ID         string     `json:"id"`
	RuleName   string     `json:"ruleName"`
	UserID     string     `json:"userId"`
	Name       string     `json:"name,omitempty"`
	Dept       string     `json:"dept,omitempty"`
	Severity   string     `json:"severity"`
	Message    string     `json:"message"`
	Value      float64    `json:"value"`
	Level      string     `json:"safetyLevel"`
	FiredAt    time.Time  `json:"firedAt"`
	ResolvedAt *time.Time `json:"resolvedAt,omitempty"`
	State      string     `json:"state"`
}

type rule struct {
	config.AlertRule
	cond condition
}

// Engine evaluates alert rules against completed checks and delivers webhook
// notifications when rules fire or resolve. It implements session.Sink.
//
// Engine is safe for concurrent use.
type Engine struct {
	mu       sync.Mutex
	rules    []rule
	webhooks []config.WebhookConfig

	active   map[string]*Alert    // key: "ruleName:userID"
	lastFire map[string]time.Time // cooldown per key
	history  []*Alert             // recently resolved alerts
	client   *http.Client
	now      func() time.Time // injectable for deterministic tests
	wg       sync.WaitGroup
}

// New creates an Engine from the alert configuration. Every rule condition is
// parsed up front. An Engine with no rules is valid and never fires.
func New(cfg config.AlertsConfig) (*Engine, error) {
	rules, err := parseRules(cfg.Rules)
	if err != nil {
		return nil, err
	}
	return &Engine{
		rules:    rules,
		webhooks: cfg.Webhooks,
		active:   make(map[string]*Alert),
		lastFire: make(map[string]time.Time),
		client:   &http.Client{Timeout: 10 * time.Second},
		now:      time.Now,
	}, nil
}

func parseRules(cfg []config.AlertRule) ([]rule, error) {
	rules := make([]rule, 0, len(cfg))
	for _, r := range cfg {
		c, err := parseCondition(r.Condition)
		if err != nil {
			return nil, fmt.Errorf("alerts: rule %q: %w", r.Name, err)
		}
		rules = append(rules, rule{AlertRule: r, cond: c})
	}
	return rules, nil
}

// Reload swaps in new rules and webhook targets. On error the current
// configuration stays active. Alerts of rules that no longer exist are
// dropped; cooldowns of rules that remain are kept.
func (e *Engine) Reload(cfg config.AlertsConfig) error {
	rules, err := parseRules(cfg.Rules)
	if err != nil {
		return err
	}
	keep := make(map[string]bool, len(rules))
	for _, r := range rules {
		keep[r.Name] = true
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.rules = rules
	e.webhooks = cfg.Webhooks
	for key, a := range e.active {
		if !keep[a.RuleName] {
			delete(e.active, key)
		}
	}
	for key := range e.lastFire {
		name, _, _ := strings.Cut(key, ":")
		if !keep[name] {
			delete(e.lastFire, key)
		}
	}
	return nil
}

// Record evaluates every rule against res. Webhook delivery happens in the
// background, so Record never fails.
func (e *Engine) Record(_ context.Context, res types.SafetyCheckResult) error {
	now := e.now()
	var outgoing []Alert

	e.mu.Lock()
	hooks := e.webhooks
	for _, r := range e.rules {
		key := r.Name + ":" + res.UserID
		fires, value := r.cond.eval(res)

		if !fires {
			if a, ok := e.active[key]; ok {
				resolved := now
				a.State = StateResolved
				a.ResolvedAt = &resolved
				delete(e.active, key)
				e.history = append(e.history, a)
				if len(e.history) > maxHistoryLen {
					e.history = e.history[len(e.history)-maxHistoryLen:]
				}
				outgoing = append(outgoing, *a)
				slog.Info("alerts: resolved", "rule", r.Name, "user", res.UserID)
			}
			continue
		}

		cooldown := r.Cooldown
		if cooldown <= 0 {
			cooldown = defaultCooldown
		}
		if last, ok := e.lastFire[key]; ok && now.Sub(last) < cooldown {
			continue
		}

		sev := r.Severity
		if sev == "" {
			sev = "warning"
		}
		a := &Alert{
			ID:       uuid.NewString(),
			RuleName: r.Name,
			UserID:   res.UserID,
			Name:     res.Name,
			Dept:     res.Dept,
			Severity: sev,
			Value:    value,
			Level:    string(types.LevelFor(res.FinalSafetyScore)),
			Message: fmt.Sprintf("[%s] %s fired for %s (%s): %s, value %.2f",
				sev, r.Name, displayName(res), res.Dept, r.Condition, value),
			FiredAt: now,
			State:   StateFiring,
		}
		e.active[key] = a
		e.lastFire[key] = now
		outgoing = append(outgoing, *a)
		slog.Warn("alerts: fired",
			"rule", r.Name,
			"user", res.UserID,
			"value", value,
			"severity", sev,
		)
	}
	e.mu.Unlock()

	for i := range outgoing {
		a := outgoing[i]
		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			e.deliver(&a, hooks)
		}()
	}
	return nil
}

// Wait blocks until every in-flight webhook delivery has finished.
func (e *Engine) Wait() {
	e.wg.Wait()
}

// Active returns copies of all firing alerts plus alerts resolved within the
// past hour, newest first.
func (e *Engine) Active() []*Alert {
	e.mu.Lock()
	defer e.mu.Unlock()

	cutoff := e.now().Add(-recentWindow)
	out := make([]*Alert, 0, len(e.active))
	for _, a := range e.active {
		cp := *a
		out = append(out, &cp)
	}
	for _, a := range e.history {
		if a.ResolvedAt != nil && a.ResolvedAt.After(cutoff) {
			cp := *a
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FiredAt.After(out[j].FiredAt) })
	return out
}

func displayName(res types.SafetyCheckResult) string {
	if res.Name != "" {
		return res.Name
	}
	return res.UserID
}
