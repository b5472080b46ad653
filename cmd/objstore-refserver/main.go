// Package main runs the objstore reference service: the REST, gRPC and
// HTTP/2 + HTTP/3 fronts over one memory or SQLite store.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bleepstore/objstore/internal/logging"
	"github.com/bleepstore/objstore/internal/metrics"
	"github.com/bleepstore/objstore/internal/refserver"
)

func main() {
	configPath := flag.String("config", "", "path to configuration file (default: built-in defaults)")
	host := flag.String("host", "", "override listening host (default: from config or 127.0.0.1)")
	httpPort := flag.Int("http-port", 0, "override plain HTTP port (default: from config or 8080)")
	grpcPort := flag.Int("grpc-port", 0, "override gRPC port (default: from config or 50051)")
	tlsPort := flag.Int("tls-port", 0, "override HTTP/2 + HTTP/3 port (default: from config or 4433)")
	http3 := flag.Bool("http3", false, "serve HTTP/3 on the TLS port")
	engine := flag.String("store", "", "store engine: memory, sqlite (default: from config or memory)")
	dbPath := flag.String("db", "", "SQLite database path (default: from config or ./data/objstore.db)")
	token := flag.String("auth-token", "", "require this bearer token on API calls")
	noHead := flag.Bool("disable-head", false, "answer HEAD on objects with 405")
	logLevel := flag.String("log-level", "", "log level: debug, info, warn, error (default: from config or info)")
	logFormat := flag.String("log-format", "", "log format: text, json (default: from config or text)")
	shutdownTimeout := flag.Duration("shutdown-timeout", 0, "graceful shutdown timeout (default: from config or 30s)")
	flag.Parse()

	cfg, err := refserver.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Command-line flags override config file values.
	if *host != "" {
		cfg.Server.Host = *host
	}
	if *httpPort != 0 {
		cfg.Server.HTTPPort = *httpPort
	}
	if *grpcPort != 0 {
		cfg.Server.GRPCPort = *grpcPort
	}
	if *tlsPort != 0 {
		cfg.Server.TLSPort = *tlsPort
	}
	if *http3 {
		cfg.Server.HTTP3 = true
	}
	if *engine != "" {
		cfg.Store.Engine = *engine
	}
	if *dbPath != "" {
		cfg.Store.SQLite.Path = *dbPath
	}
	if *token != "" {
		cfg.Auth.Token = *token
	}
	if *noHead {
		cfg.Server.DisableHead = true
	}
	if *logLevel != "" {
		cfg.Logging.Level = *logLevel
	}
	if *logFormat != "" {
		cfg.Logging.Format = *logFormat
	}
	if *shutdownTimeout != 0 {
		cfg.Server.ShutdownTimeout = *shutdownTimeout
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	logging.Setup(cfg.Logging.Level, cfg.Logging.Format, os.Stderr)
	metrics.Register()

	store, err := cfg.OpenStore()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to open store: %v\n", err)
		os.Exit(1)
	}
	defer store.Close()
	slog.Info("Store initialized", "engine", cfg.Store.Engine, "path", cfg.Store.SQLite.Path)

	svc := refserver.NewService(store, slog.Default())
	srv, err := refserver.NewServer(cfg, svc, slog.Default())
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create server: %v\n", err)
		os.Exit(1)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve()
		close(errCh)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		slog.Info("Received signal, shutting down", "signal", sig)

		ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		start := time.Now()
		if err := srv.Shutdown(ctx); err != nil {
			slog.Error("Shutdown error", "error", err)
		}
		<-errCh
		slog.Info("Server stopped", "drain", time.Since(start))

	case err := <-errCh:
		if err != nil {
			fmt.Fprintf(os.Stderr, "server error: %v\n", err)
			store.Close()
			os.Exit(1)
		}
	}
}
