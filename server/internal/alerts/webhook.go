package alerts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/safetycheck/safetycheck/server/internal/config"
)

// Webhook target types.
const (
	WebhookSlack = "slack"
	WebhookTeams = "teams"
	WebhookHTTP  = "http"
)

// deliver sends a to every target in hooks. Errors are logged only.
func (e *Engine) deliver(a *Alert, hooks []config.WebhookConfig) {
	ctx, cancel := context.WithTimeout(context.Background(), e.client.Timeout)
	defer cancel()

	for _, wh := range hooks {
		url := wh.URL()
		if url == "" {
			continue
		}

		var err error
		switch wh.Type {
		case WebhookSlack:
			err = e.sendSlack(ctx, url, a)
		case WebhookTeams:
			err = e.sendTeams(ctx, url, a)
		case WebhookHTTP:
			err = e.sendHTTP(ctx, url, a)
		default:
			slog.Warn("alerts: unknown webhook type, skipping", "type", wh.Type)
			continue
		}

		if err != nil {
			slog.Error("alerts: webhook delivery failed",
				"type", wh.Type,
				"rule", a.RuleName,
				"err", err,
			)
			continue
		}
		slog.Debug("alerts: webhook delivered",
			"type", wh.Type,
			"rule", a.RuleName,
			"state", a.State,
		)
	}
}

func (e *Engine) sendSlack(ctx context.Context, url string, a *Alert) error {
	text := fmt.Sprintf("*%s* %s", severityLabel(a.Severity), a.Message)
	if a.State == StateResolved {
		text = fmt.Sprintf("*[RESOLVED]* %s cleared for %s", a.RuleName, a.UserID)
	}
	return e.postJSON(ctx, url, map[string]string{"text": text})
}

func (e *Engine) sendTeams(ctx context.Context, url string, a *Alert) error {
	title := fmt.Sprintf("Safety alert: %s", a.RuleName)
	if a.State == StateResolved {
		title = fmt.Sprintf("Resolved: %s", a.RuleName)
	}
	return e.postJSON(ctx, url, map[string]any{
		"@type":      "MessageCard",
		"@context":   "http://schema.org/extensions",
		"themeColor": severityColor(a.Severity),
		"summary":    a.RuleName,
		"title":      title,
		"text":       a.Message,
	})
}

func (e *Engine) sendHTTP(ctx context.Context, url string, a *Alert) error {
	return e.postJSON(ctx, url, map[string]any{"alert": a})
}

func (e *Engine) postJSON(ctx context.Context, url string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return fmt.Errorf("http post: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("webhook returned HTTP %d", resp.StatusCode)
	}
	return nil
}

func severityLabel(s string) string {
	switch s {
	case "critical":
		return "[CRITICAL]"
	case "warning":
		return "[WARNING]"
	default:
		return "[INFO]"
	}
}

func severityColor(s string) string {
	switch s {
	case "critical":
		return "D7263D"
	case "warning":
		return "F4A259"
	default:
		return "5B8E7D"
	}
}
