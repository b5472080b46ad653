package main

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/bleepstore/objstore/internal/logging"
	"github.com/bleepstore/objstore/pkg/config"
	"github.com/bleepstore/objstore/pkg/objstore"
)

// Flag names. Each persistent flag is bound to viper under the same key and
// to the environment variable OBJSTORE_<NAME> with dashes as underscores.
const (
	flagConfig     = "config"
	flagProtocol   = "protocol"
	flagEndpoint   = "endpoint"
	flagTimeout    = "timeout"
	flagLogLevel   = "log-level"
	flagAuthToken  = "auth-token"
	flagMaxRetries = "max-retries"
	flagOutput     = "output"
)

// app holds what every subcommand needs once the root pre-run has resolved
// the configuration.
type app struct {
	v      *viper.Viper
	stdin  io.Reader
	client *objstore.Client
	out    outputFormat
}

// newRootCmd builds the command tree. The returned app owns the client the
// pre-run creates; the caller closes it after Execute.
func newRootCmd(stdin io.Reader) (*cobra.Command, *app) {
	a := &app{v: viper.New(), stdin: stdin}

	rootCmd := &cobra.Command{
		Use:   "objstore",
		Short: "objstore is a command-line client for the object store service",
		Long: `objstore talks to an object store service over one of three protocols:

  rest  HTTP/1.1 JSON API (default endpoint http://localhost:8080)
  grpc  gRPC (default endpoint localhost:50051)
  quic  HTTP/3 with HTTP/2 fallback (default endpoint https://localhost:4433)

Configuration priority: flags, then OBJSTORE_* environment variables, then
the --config file, then built-in defaults.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.connect(cmd)
		},
	}

	pf := rootCmd.PersistentFlags()
	pf.String(flagConfig, "", "path to a YAML client configuration file")
	pf.String(flagProtocol, "", "protocol: rest, grpc, quic (default: from config or rest)")
	pf.String(flagEndpoint, "", "service endpoint (default: per protocol)")
	pf.Duration(flagTimeout, 0, "per-call timeout (default: from config or 30s)")
	pf.String(flagLogLevel, "", "log level: debug, info, warn, error (default: from config or info)")
	pf.String(flagAuthToken, "", "bearer token sent with every call")
	pf.Int(flagMaxRetries, 0, "attempts for idempotent calls (default: from config or 3)")
	pf.StringP(flagOutput, "o", string(outputText), "output format: text, json")
	_ = a.v.BindPFlags(pf)
	a.v.SetEnvPrefix("OBJSTORE")
	a.v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	a.v.AutomaticEnv()

	rootCmd.AddCommand(
		newPutCmd(a),
		newGetCmd(a),
		newRmCmd(a),
		newLsCmd(a),
		newStatCmd(a),
		newSetMetaCmd(a),
		newExistsCmd(a),
		newHealthCmd(a),
		newArchiveCmd(a),
		newPolicyCmd(a),
		newReplicationCmd(a),
	)
	return rootCmd, a
}

// resolveConfig layers viper values (flags and environment) over the config
// file, or over the protocol defaults when no file is given.
func resolveConfig(v *viper.Viper) (config.Config, error) {
	var cfg config.Config
	protocol := config.Protocol(strings.ToLower(v.GetString(flagProtocol)))
	endpoint := v.GetString(flagEndpoint)

	if path := v.GetString(flagConfig); path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return cfg, err
		}
		cfg = *loaded
		if protocol != "" && protocol != cfg.Protocol {
			// A different protocol invalidates the file's endpoint default.
			base := config.ForProtocol(protocol, endpoint)
			cfg.Protocol, cfg.Endpoint = base.Protocol, base.Endpoint
		} else if endpoint != "" {
			cfg.Endpoint = endpoint
		}
	} else {
		if protocol == "" {
			protocol = config.ProtocolREST
		}
		cfg = config.ForProtocol(protocol, endpoint)
	}

	if t := v.GetDuration(flagTimeout); t > 0 {
		cfg.Timeout = t
	}
	if lvl := v.GetString(flagLogLevel); lvl != "" {
		cfg.Logging.Level = lvl
	}
	if tok := v.GetString(flagAuthToken); tok != "" {
		cfg.AuthToken = tok
	}
	if n := v.GetInt(flagMaxRetries); n > 0 {
		cfg.MaxRetries = n
	}
	return cfg, cfg.Validate()
}

func (a *app) connect(cmd *cobra.Command) error {
	out, err := parseOutput(a.v.GetString(flagOutput))
	if err != nil {
		return err
	}
	a.out = out

	cfg, err := resolveConfig(a.v)
	if err != nil {
		return err
	}
	log := logging.New(cfg.Logging.Level, cfg.Logging.Format, cmd.ErrOrStderr())
	client, err := objstore.New(cfg, objstore.WithLogger(log))
	if err != nil {
		return fmt.Errorf("creating client: %w", err)
	}
	a.client = client
	return nil
}

func (a *app) close() error {
	if a.client == nil {
		return nil
	}
	return a.client.Close()
}

func formatTime(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.UTC().Format(time.RFC3339)
}
