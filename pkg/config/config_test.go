package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "objstore.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestDefault(t *testing.T) {
	cfg := Default()
	if cfg.Protocol != ProtocolREST {
		t.Errorf("Protocol = %q, want rest", cfg.Protocol)
	}
	if cfg.Endpoint != DefaultRESTEndpoint {
		t.Errorf("Endpoint = %q", cfg.Endpoint)
	}
	if cfg.APIVersion != "v1" || cfg.Timeout != 30*time.Second || cfg.MaxRetries != 3 {
		t.Errorf("unexpected defaults: %+v", cfg)
	}
	if cfg.VerifyTLS {
		t.Error("VerifyTLS should default to false")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestForProtocolEndpoints(t *testing.T) {
	tests := map[Protocol]string{
		ProtocolREST: DefaultRESTEndpoint,
		ProtocolGRPC: DefaultGRPCEndpoint,
		ProtocolQUIC: DefaultQUICEndpoint,
	}
	for p, want := range tests {
		if got := ForProtocol(p, "").Endpoint; got != want {
			t.Errorf("ForProtocol(%s).Endpoint = %q, want %q", p, got, want)
		}
	}
	if got := ForProtocol(ProtocolGRPC, "10.0.0.1:9000").Endpoint; got != "10.0.0.1:9000" {
		t.Errorf("explicit endpoint overridden: %q", got)
	}
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `
protocol: GRPC
endpoint: store.internal:50051
timeout: 5s
max_retries: 5
auth_token: secret
tls:
  enabled: true
  ca_file: /etc/ca.pem
logging:
  level: debug
  format: json
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Protocol != ProtocolGRPC {
		t.Errorf("Protocol = %q, want grpc", cfg.Protocol)
	}
	if cfg.Timeout != 5*time.Second {
		t.Errorf("Timeout = %v", cfg.Timeout)
	}
	if cfg.MaxRetries != 5 || cfg.AuthToken != "secret" {
		t.Errorf("unexpected values: %+v", cfg)
	}
	if !cfg.TLS.Enabled || cfg.TLS.CAFile != "/etc/ca.pem" {
		t.Errorf("TLS = %+v", cfg.TLS)
	}
	if cfg.APIVersion != "v1" {
		t.Errorf("APIVersion default not applied: %q", cfg.APIVersion)
	}
	if cfg.QUIC.MaxIdleTimeout != 5*time.Second || cfg.QUIC.KeepAlive != 2500*time.Millisecond {
		t.Errorf("QUIC timers = %+v", cfg.QUIC)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestParseRejectsBadYAML(t *testing.T) {
	if _, err := Parse([]byte("protocol: [rest")); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"unknown protocol", func(c *Config) { c.Protocol = "smtp" }, "Protocol"},
		{"zero timeout", func(c *Config) { c.Timeout = 0 }, "Timeout"},
		{"too many retries", func(c *Config) { c.MaxRetries = 50 }, "MaxRetries"},
		{"cert without key", func(c *Config) { c.TLS.CertFile = "c.pem" }, "KeyFile"},
		{"bad log format", func(c *Config) { c.Logging.Format = "xml" }, "Format"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error %q does not mention %q", err, tt.wantErr)
			}
		})
	}
}
