package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Default values applied when fields are absent from the config file.
const (
	DefaultGRPCEndpoint = "localhost:50051"
	DefaultHTTPEndpoint = "http://localhost:8080"
	DefaultTimeout      = 10 * time.Second
	DefaultMaxAttempts  = 5
	DefaultHeader       = "x-api-key"
)

// Config is the top-level safetyctl configuration.
type Config struct {
	Client ClientConfig `yaml:"client"`
}

// ClientConfig holds connection settings for one safetycheck-server.
type ClientConfig struct {
	// GRPCEndpoint is the host:port of the check service.
	GRPCEndpoint string `yaml:"grpc_endpoint"`

	// HTTPEndpoint is the base URL of the REST API and /metrics.
	HTTPEndpoint string `yaml:"http_endpoint"`

	// Timeout bounds each individual call.
	Timeout time.Duration `yaml:"timeout"`

	// MaxAttempts caps submit retries on transient errors.
	MaxAttempts int `yaml:"max_attempts"`

	Auth AuthConfig `yaml:"auth"`
}

// AuthConfig specifies how the client authenticates to the server.
type AuthConfig struct {
	// Mode is one of: apikey | mtls | none.
	Mode string `yaml:"mode"`

	// API key fields, used when Mode == "apikey".
	Header string `yaml:"header"`
	KeyEnv string `yaml:"key_env"`

	// mTLS fields, used when Mode == "mtls".
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
	CAFile   string `yaml:"ca_file"`
}

// Key returns the API key resolved from the environment.
func (a AuthConfig) Key() string {
	if a.KeyEnv == "" {
		return ""
	}
	return os.Getenv(a.KeyEnv)
}

// Load reads the YAML file at path over the defaults and validates the
// result. An empty path yields the defaults.
func Load(path string) (*Config, error) {
	cfg := defaults()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %q: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %q: %w", path, err)
		}
	}
	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

func defaults() *Config {
	return &Config{
		Client: ClientConfig{
			GRPCEndpoint: DefaultGRPCEndpoint,
			HTTPEndpoint: DefaultHTTPEndpoint,
			Timeout:      DefaultTimeout,
			MaxAttempts:  DefaultMaxAttempts,
			Auth:         AuthConfig{Mode: "none", Header: DefaultHeader},
		},
	}
}

func validate(cfg *Config) error {
	c := &cfg.Client
	if c.GRPCEndpoint == "" {
		return fmt.Errorf("client.grpc_endpoint is required")
	}
	if c.HTTPEndpoint != "" && !strings.HasPrefix(c.HTTPEndpoint, "http://") && !strings.HasPrefix(c.HTTPEndpoint, "https://") {
		return fmt.Errorf("client.http_endpoint %q must start with http:// or https://", c.HTTPEndpoint)
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("client.timeout must be positive")
	}
	if c.MaxAttempts < 1 {
		return fmt.Errorf("client.max_attempts must be at least 1")
	}
	switch c.Auth.Mode {
	case "", "none":
		c.Auth.Mode = "none"
	case "apikey":
		if c.Auth.KeyEnv == "" {
			return fmt.Errorf("client.auth.key_env is required for apikey mode")
		}
		if c.Auth.Header == "" {
			c.Auth.Header = DefaultHeader
		}
	case "mtls":
		if c.Auth.CertFile == "" || c.Auth.KeyFile == "" {
			return fmt.Errorf("client.auth.cert_file and key_file are required for mtls mode")
		}
	default:
		return fmt.Errorf("client.auth.mode %q unknown: want apikey|mtls|none", c.Auth.Mode)
	}
	return nil
}
