package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/safetycheck/safetycheck/server/internal/compute"
)

// Default values for the server configuration.
const (
	DefaultGRPCPort   = 50051
	DefaultHTTPPort   = 8080
	DefaultBoardTTL   = 24 * time.Hour
	DefaultSessionTTL = 30 * time.Minute
	DefaultDBPath     = "safetycheck.db"
	DefaultRetention  = 365 * 24 * time.Hour
)

// Checklist authoring limits.
const (
	MinOptions     = 2
	MaxOptions     = 5
	MaxWeight      = 100
	MaxTotalWeight = 100
)

// Config is the full configuration tree parsed from config.yaml.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Checklist ChecklistConfig `yaml:"checklist"`
}

// ServerConfig holds all server-side settings.
type ServerConfig struct {
	// GRPCPort is the port the gRPC check receiver listens on.
	GRPCPort int `yaml:"grpc_port"`

	// HTTPPort is the port the REST API and WebSocket hub listen on.
	HTTPPort int `yaml:"http_port"`

	// Auth configures how the server authenticates gRPC and REST clients.
	Auth AuthConfig `yaml:"auth"`

	// Board controls the in-memory live board of latest results.
	Board BoardConfig `yaml:"board"`

	// Session controls unfinished session retention.
	Session SessionConfig `yaml:"session"`

	// Storage configures the historical result store.
	Storage StorageConfig `yaml:"storage"`

	// Alerts holds supervisor alert rules and webhook targets.
	Alerts AlertsConfig `yaml:"alerts"`
}

// AuthConfig controls client authentication on the server side.
type AuthConfig struct {
	// Mode is one of: apikey | none.
	Mode string `yaml:"mode"`

	// KeyEnv is the name of the environment variable that holds the expected API key.
	KeyEnv string `yaml:"key_env"`

	// Header is the gRPC metadata key and HTTP header to read the key from.
	// Defaults to "x-api-key" if empty.
	Header string `yaml:"header"`
}

// Key returns the expected API key resolved from the environment.
func (a AuthConfig) Key() string {
	if a.KeyEnv == "" {
		return ""
	}
	return os.Getenv(a.KeyEnv)
}

// EffectiveHeader returns the configured header name, or the default "x-api-key".
func (a AuthConfig) EffectiveHeader() string {
	if a.Header != "" {
		return a.Header
	}
	return "x-api-key"
}

// BoardConfig controls the live board.
type BoardConfig struct {
	// TTL is how long a worker's latest result stays on the board.
	TTL time.Duration `yaml:"ttl"`
}

// SessionConfig controls in-progress sessions.
type SessionConfig struct {
	// TTL is how long a session may sit idle before it is discarded.
	TTL time.Duration `yaml:"ttl"`
}

// StorageConfig configures the historical result store.
type StorageConfig struct {
	// Backend selects the storage implementation: sqlite.
	Backend string `yaml:"backend"`

	// Path is the filesystem path for the SQLite database file.
	Path string `yaml:"path"`

	// Retention is how long stored results are kept before deletion.
	Retention time.Duration `yaml:"retention"`
}

// AlertsConfig holds alerting rules and webhook delivery targets.
type AlertsConfig struct {
	Rules    []AlertRule     `yaml:"rules"`
	Webhooks []WebhookConfig `yaml:"webhooks"`
}

// AlertRule defines one threshold-based alert condition.
type AlertRule struct {
	// Name is the human-readable alert identifier, used as the deduplication key.
	Name string `yaml:"name"`

	// Condition is a simple expression: "final_safety_score < 50",
	// "tremor_score < 40", "safety_level == DANGER". Rules on tremor_score,
	// pupil_score and ppg_score skip a score of 0, which means not measured.
	Condition string `yaml:"condition"`

	// Severity is one of: critical | warning | info.
	Severity string `yaml:"severity"`

	// Cooldown suppresses re-fires for the same worker for this duration.
	// Defaults to 15 minutes if zero.
	Cooldown time.Duration `yaml:"cooldown"`
}

// WebhookConfig defines one webhook delivery target.
type WebhookConfig struct {
	// Type is one of: teams | slack | http.
	Type string `yaml:"type"`

	// URLEnv is the name of the environment variable that holds the webhook URL.
	URLEnv string `yaml:"url_env"`
}

// URL returns the webhook URL resolved from the environment.
func (w WebhookConfig) URL() string {
	if w.URLEnv == "" {
		return ""
	}
	return os.Getenv(w.URLEnv)
}

// ChecklistConfig is the admin-authored checklist catalog.
type ChecklistConfig struct {
	Questions []QuestionConfig `yaml:"questions"`
}

// QuestionConfig is one checklist question as authored.
type QuestionConfig struct {
	ID            string   `yaml:"id"`
	Order         int      `yaml:"order"`
	Text          string   `yaml:"text"`
	Weight        int      `yaml:"weight"`
	Options       []string `yaml:"options"`
	OptionWeights []int    `yaml:"option_weights"`
}

// EngineQuestions converts the catalog into engine questions.
func (c ChecklistConfig) EngineQuestions() []compute.Question {
	out := make([]compute.Question, 0, len(c.Questions))
	for _, q := range c.Questions {
		out = append(out, compute.Question{
			ID:            q.ID,
			Order:         q.Order,
			Text:          q.Text,
			Weight:        q.Weight,
			Options:       append([]string(nil), q.Options...),
			OptionWeights: append([]int(nil), q.OptionWeights...),
		})
	}
	return out
}

// Load reads and parses the config file at path.
// Missing fields are filled with sensible defaults before validation.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %q: %w", path, err)
	}

	cfg := defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse yaml: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	return cfg, nil
}

// defaults returns a Config pre-populated with default values.
func defaults() *Config {
	return &Config{
		Server: ServerConfig{
			GRPCPort: DefaultGRPCPort,
			HTTPPort: DefaultHTTPPort,
			Board:    BoardConfig{TTL: DefaultBoardTTL},
			Session:  SessionConfig{TTL: DefaultSessionTTL},
			Storage: StorageConfig{
				Backend:   "sqlite",
				Path:      DefaultDBPath,
				Retention: DefaultRetention,
			},
		},
	}
}

// validate checks structural constraints on the parsed configuration.
func validate(cfg *Config) error {
	if cfg.Server.GRPCPort <= 0 || cfg.Server.GRPCPort > 65535 {
		return fmt.Errorf("server.grpc_port %d is out of range [1, 65535]", cfg.Server.GRPCPort)
	}
	if cfg.Server.HTTPPort <= 0 || cfg.Server.HTTPPort > 65535 {
		return fmt.Errorf("server.http_port %d is out of range [1, 65535]", cfg.Server.HTTPPort)
	}
	switch cfg.Server.Auth.Mode {
	case "apikey", "none", "":
	default:
		return fmt.Errorf("server.auth.mode %q unknown: want apikey|none", cfg.Server.Auth.Mode)
	}
	if cfg.Server.Board.TTL <= 0 {
		return fmt.Errorf("server.board.ttl must be positive")
	}
	if cfg.Server.Session.TTL <= 0 {
		return fmt.Errorf("server.session.ttl must be positive")
	}
	if cfg.Server.Storage.Backend != "sqlite" {
		return fmt.Errorf("server.storage.backend %q unknown: want sqlite", cfg.Server.Storage.Backend)
	}
	if cfg.Server.Storage.Path == "" {
		return fmt.Errorf("server.storage.path is required")
	}
	if cfg.Server.Storage.Retention < 0 {
		return fmt.Errorf("server.storage.retention must not be negative")
	}
	for i, r := range cfg.Server.Alerts.Rules {
		if r.Name == "" {
			return fmt.Errorf("server.alerts.rules[%d]: name is required", i)
		}
		if r.Condition == "" {
			return fmt.Errorf("server.alerts.rules[%d] %q: condition is required", i, r.Name)
		}
	}
	for i, w := range cfg.Server.Alerts.Webhooks {
		switch w.Type {
		case "teams", "slack", "http":
		default:
			return fmt.Errorf("server.alerts.webhooks[%d]: unknown type %q", i, w.Type)
		}
	}
	return ValidateChecklist(cfg.Checklist)
}

// ValidateChecklist enforces the authoring rules for a checklist catalog:
// unique ids, 2–5 options, one weight per option, every weight in [0, 100],
// option weights per question summing to at most 100, and question weights
// summing to at most 100.
func ValidateChecklist(c ChecklistConfig) error {
	seen := make(map[string]bool, len(c.Questions))
	total := 0
	for i, q := range c.Questions {
		if q.ID == "" {
			return fmt.Errorf("checklist.questions[%d]: id is required", i)
		}
		if seen[q.ID] {
			return fmt.Errorf("checklist.questions[%d]: duplicate id %q", i, q.ID)
		}
		seen[q.ID] = true

		if q.Weight < 0 || q.Weight > MaxWeight {
			return fmt.Errorf("checklist question %q: weight %d out of range [0, %d]", q.ID, q.Weight, MaxWeight)
		}
		total += q.Weight

		if n := len(q.Options); n < MinOptions || n > MaxOptions {
			return fmt.Errorf("checklist question %q: has %d options, want %d–%d", q.ID, n, MinOptions, MaxOptions)
		}
		if len(q.OptionWeights) != len(q.Options) {
			return fmt.Errorf("checklist question %q: %d option weights for %d options",
				q.ID, len(q.OptionWeights), len(q.Options))
		}
		sum := 0
		for j, w := range q.OptionWeights {
			if w < 0 || w > MaxWeight {
				return fmt.Errorf("checklist question %q: option %d weight %d out of range [0, %d]", q.ID, j+1, w, MaxWeight)
			}
			sum += w
		}
		if sum > MaxWeight {
			return fmt.Errorf("checklist question %q: option weights sum to %d, max %d", q.ID, sum, MaxWeight)
		}
	}
	if total > MaxTotalWeight {
		return fmt.Errorf("checklist: question weights sum to %d, max %d", total, MaxTotalWeight)
	}
	return nil
}
