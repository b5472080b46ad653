package refserver

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration of the reference server binary.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Auth    AuthConfig    `yaml:"auth"`
	Store   StoreConfig   `yaml:"store"`
	Logging LoggingConfig `yaml:"logging"`
}

// ServerConfig holds listener settings.
type ServerConfig struct {
	Host string `yaml:"host"`
	// HTTPPort serves plain HTTP/1.1 (the rest protocol).
	HTTPPort int `yaml:"http_port" validate:"gte=0,lte=65535"`
	// GRPCPort serves the gRPC front.
	GRPCPort int `yaml:"grpc_port" validate:"gte=0,lte=65535"`
	// TLSPort serves HTTP/2 over TCP and, when HTTP3 is set, HTTP/3 over UDP
	// on the same port number. A negative value disables the secure front.
	TLSPort int  `yaml:"tls_port" validate:"gte=-1,lte=65535"`
	HTTP3   bool `yaml:"http3"`
	// CertFile and KeyFile name a PEM pair; when both are empty a
	// self-signed certificate is generated at startup.
	CertFile string `yaml:"cert_file" validate:"required_with=KeyFile"`
	KeyFile  string `yaml:"key_file" validate:"required_with=CertFile"`

	APIVersion    string `yaml:"api_version"`
	DisableHead   bool   `yaml:"disable_head"`
	MaxObjectSize int64  `yaml:"max_object_size" validate:"gte=0"`
	// ShutdownTimeout bounds the graceful drain on SIGINT/SIGTERM.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" validate:"gte=0"`
}

// AuthConfig holds the optional bearer token required on API calls.
type AuthConfig struct {
	Token string `yaml:"token"`
}

// StoreConfig selects the backing store.
type StoreConfig struct {
	// Engine is "memory" or "sqlite".
	Engine string       `yaml:"engine" validate:"oneof=memory sqlite"`
	SQLite SQLiteConfig `yaml:"sqlite"`
}

// SQLiteConfig holds SQLite store settings.
type SQLiteConfig struct {
	// Path is the database file, or ":memory:".
	Path string `yaml:"path"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level" validate:"omitempty,oneof=debug info warn warning error"`
	Format string `yaml:"format" validate:"omitempty,oneof=text json"`
}

// LoadConfig reads a YAML configuration file and applies defaults for unset
// values. If path cannot be read it falls back to
// objstore-refserver.example.yaml next to it or one directory up; when none
// exists the defaults are returned as long as path was not given explicitly.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		fallbackPaths := []string{
			filepath.Join(filepath.Dir(path), "objstore-refserver.example.yaml"),
			filepath.Join(filepath.Dir(path), "..", "objstore-refserver.example.yaml"),
		}
		var fallbackErr error
		for _, fp := range fallbackPaths {
			data, fallbackErr = os.ReadFile(fp)
			if fallbackErr == nil {
				break
			}
		}
		if fallbackErr != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}
	applyConfigDefaults(cfg)
	return cfg, nil
}

// DefaultConfig returns a configuration serving all fronts on loopback
// with an in-memory store.
func DefaultConfig() *Config {
	cfg := &Config{}
	applyConfigDefaults(cfg)
	return cfg
}

func applyConfigDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "127.0.0.1"
	}
	if cfg.Server.HTTPPort == 0 {
		cfg.Server.HTTPPort = 8080
	}
	if cfg.Server.GRPCPort == 0 {
		cfg.Server.GRPCPort = 50051
	}
	if cfg.Server.TLSPort == 0 {
		cfg.Server.TLSPort = 4433
	}
	if cfg.Server.APIVersion == "" {
		cfg.Server.APIVersion = "v1"
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = 30 * time.Second
	}
	if cfg.Store.Engine == "" {
		cfg.Store.Engine = "memory"
	}
	if cfg.Store.SQLite.Path == "" {
		cfg.Store.SQLite.Path = "./data/objstore.db"
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "text"
	}
}

var validateConfig = validator.New(validator.WithRequiredStructEnabled())

// Validate checks the configuration and reports the first violation.
func (c *Config) Validate() error {
	if err := validateConfig.Struct(c); err != nil {
		if verrs, ok := err.(validator.ValidationErrors); ok && len(verrs) > 0 {
			fe := verrs[0]
			return fmt.Errorf("invalid config: %s fails %q (value %v)", fe.Namespace(), fe.Tag(), fe.Value())
		}
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// OpenStore opens the store selected by cfg. For a file-backed SQLite store
// the parent directory is created first.
func (c *Config) OpenStore() (Store, error) {
	switch c.Store.Engine {
	case "sqlite":
		path := c.Store.SQLite.Path
		if path != ":memory:" {
			if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
				return nil, fmt.Errorf("creating store directory: %w", err)
			}
		}
		return NewSQLiteStore(path)
	default:
		return NewMemoryStore(), nil
	}
}
