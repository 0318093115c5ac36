package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeFile(t *testing.T, content string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "safetyctl.yaml")
	if err := os.WriteFile(p, []byte(content), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	return p
}

func TestLoad_EmptyPathDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	c := cfg.Client
	if c.GRPCEndpoint != DefaultGRPCEndpoint || c.HTTPEndpoint != DefaultHTTPEndpoint {
		t.Errorf("endpoints: got %q %q", c.GRPCEndpoint, c.HTTPEndpoint)
	}
	if c.Timeout != DefaultTimeout || c.MaxAttempts != DefaultMaxAttempts {
		t.Errorf("timeout/attempts: got %v %d", c.Timeout, c.MaxAttempts)
	}
	if c.Auth.Mode != "none" {
		t.Errorf("auth mode: got %q, want none", c.Auth.Mode)
	}
}

func TestLoad_File(t *testing.T) {
	p := writeFile(t, `
client:
  grpc_endpoint: checks.plant.local:50051
  timeout: 3s
  auth:
    mode: apikey
    key_env: SAFETYCTL_KEY
`)
	t.Setenv("SAFETYCTL_KEY", "k-123")

	cfg, err := Load(p)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	c := cfg.Client
	if c.GRPCEndpoint != "checks.plant.local:50051" {
		t.Errorf("grpc_endpoint: got %q", c.GRPCEndpoint)
	}
	if c.Timeout != 3*time.Second {
		t.Errorf("timeout: got %v", c.Timeout)
	}
	if c.MaxAttempts != DefaultMaxAttempts {
		t.Errorf("max_attempts default lost: got %d", c.MaxAttempts)
	}
	if c.Auth.Header != DefaultHeader || c.Auth.Key() != "k-123" {
		t.Errorf("auth: header=%q key=%q", c.Auth.Header, c.Auth.Key())
	}
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{"bad mode", "client:\n  auth:\n    mode: oauth\n", "unknown"},
		{"apikey without env", "client:\n  auth:\n    mode: apikey\n", "key_env"},
		{"mtls without cert", "client:\n  auth:\n    mode: mtls\n", "cert_file"},
		{"zero attempts", "client:\n  max_attempts: 0\n", "max_attempts"},
		{"bad http endpoint", "client:\n  http_endpoint: localhost:8080\n", "http_endpoint"},
		{"malformed", "client: [\n", "parse"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Load(writeFile(t, tc.yaml))
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			if !strings.Contains(err.Error(), tc.wantErr) {
				t.Errorf("error %q does not mention %q", err, tc.wantErr)
			}
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}
