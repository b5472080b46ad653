// Package config holds the objstore client configuration: which protocol to
// speak, where the service lives, and the knobs each transport honours.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Protocol selects the transport adapter.
type Protocol string

const (
	ProtocolREST Protocol = "rest"
	ProtocolGRPC Protocol = "grpc"
	ProtocolQUIC Protocol = "quic"
)

// Default endpoints per protocol.
const (
	DefaultRESTEndpoint = "http://localhost:8080"
	DefaultGRPCEndpoint = "localhost:50051"
	DefaultQUICEndpoint = "https://localhost:4433"
)

// Config is the client configuration.
type Config struct {
	// Protocol is one of "rest", "grpc" or "quic".
	Protocol Protocol `yaml:"protocol" validate:"required,oneof=rest grpc quic"`
	// Endpoint is a base URL for rest/quic or host:port for grpc.
	Endpoint string `yaml:"endpoint" validate:"required"`
	// APIVersion is the versioned path segment for rest/quic (e.g. "v1").
	APIVersion string `yaml:"api_version" validate:"required"`
	// Timeout bounds each call at the adapter.
	Timeout time.Duration `yaml:"timeout" validate:"gt=0"`
	// MaxRetries is the maximum number of attempts for idempotent-safe calls.
	MaxRetries int `yaml:"max_retries" validate:"gte=1,lte=10"`
	// VerifyTLS turns on certificate verification for the QUIC transport.
	VerifyTLS bool `yaml:"verify_tls"`
	// AuthToken, when set, is sent as a bearer token on every call.
	AuthToken string `yaml:"auth_token"`

	TLS     TLSConfig     `yaml:"tls"`
	GRPC    GRPCConfig    `yaml:"grpc"`
	QUIC    QUICConfig    `yaml:"quic"`
	Logging LoggingConfig `yaml:"logging"`
}

// TLSConfig configures transport security for the gRPC channel.
type TLSConfig struct {
	Enabled            bool   `yaml:"enabled"`
	CAFile             string `yaml:"ca_file"`
	CertFile           string `yaml:"cert_file" validate:"required_with=KeyFile"`
	KeyFile            string `yaml:"key_file" validate:"required_with=CertFile"`
	InsecureSkipVerify bool   `yaml:"insecure_skip_verify"`
}

// GRPCConfig holds gRPC channel limits.
type GRPCConfig struct {
	MaxRecvMsgSize int `yaml:"max_recv_msg_size" validate:"gte=0"`
	MaxSendMsgSize int `yaml:"max_send_msg_size" validate:"gte=0"`
}

// QUICConfig holds QUIC connection timers.
type QUICConfig struct {
	// HandshakeTimeout bounds the HTTP/3 handshake before falling back to HTTP/2.
	HandshakeTimeout time.Duration `yaml:"handshake_timeout" validate:"gte=0"`
	MaxIdleTimeout   time.Duration `yaml:"max_idle_timeout" validate:"gte=0"`
	KeepAlive        time.Duration `yaml:"keep_alive" validate:"gte=0"`
	// DisableHTTP3 skips the HTTP/3 attempt and talks HTTP/2 directly.
	DisableHTTP3 bool `yaml:"disable_http3"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level" validate:"omitempty,oneof=debug info warn warning error"`
	Format string `yaml:"format" validate:"omitempty,oneof=text json"`
}

// Default returns a REST configuration pointing at localhost.
func Default() Config {
	cfg := Config{Protocol: ProtocolREST}
	applyDefaults(&cfg)
	return cfg
}

// ForProtocol returns the defaults for p with the given endpoint. An empty
// endpoint selects the protocol's default.
func ForProtocol(p Protocol, endpoint string) Config {
	cfg := Config{Protocol: p, Endpoint: endpoint}
	applyDefaults(&cfg)
	return cfg
}

// Load reads a YAML configuration file and fills defaults for unset values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML configuration bytes and fills defaults.
func Parse(data []byte) (*Config, error) {
	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}
	cfg.Protocol = Protocol(strings.ToLower(string(cfg.Protocol)))
	applyDefaults(cfg)
	return cfg, nil
}

// applyDefaults fills in any fields still at their zero value.
func applyDefaults(cfg *Config) {
	if cfg.Protocol == "" {
		cfg.Protocol = ProtocolREST
	}
	if cfg.Endpoint == "" {
		switch cfg.Protocol {
		case ProtocolGRPC:
			cfg.Endpoint = DefaultGRPCEndpoint
		case ProtocolQUIC:
			cfg.Endpoint = DefaultQUICEndpoint
		default:
			cfg.Endpoint = DefaultRESTEndpoint
		}
	}
	if cfg.APIVersion == "" {
		cfg.APIVersion = "v1"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 3
	}
	if cfg.QUIC.HandshakeTimeout == 0 {
		cfg.QUIC.HandshakeTimeout = 5 * time.Second
	}
	if cfg.QUIC.MaxIdleTimeout == 0 {
		cfg.QUIC.MaxIdleTimeout = cfg.Timeout
	}
	if cfg.QUIC.KeepAlive == 0 {
		cfg.QUIC.KeepAlive = cfg.QUIC.MaxIdleTimeout / 2
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "text"
	}
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks the configuration and returns the first violation as a
// readable error.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		if verrs, ok := err.(validator.ValidationErrors); ok && len(verrs) > 0 {
			fe := verrs[0]
			return fmt.Errorf("invalid config: %s fails %q (value %v)", fe.Namespace(), fe.Tag(), fe.Value())
		}
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}
