// Package main is the entry point for the mail interceptor SMTP server.
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/shineum/mail-interceptor/internal/config"
	"github.com/shineum/mail-interceptor/internal/metrics"
	"github.com/shineum/mail-interceptor/internal/smtp"
	smtptls "github.com/shineum/mail-interceptor/internal/tls"
)

func main() {
	configPath := flag.String("config", "", "path to YAML configuration file (optional)")
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	setupLogger(cfg.Logging.Level)

	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}

	slog.Info("mail-interceptor stopped")
}

// run wires the providers, the optional metrics endpoint and the SMTP
// server, then serves until ctx is cancelled.
func run(ctx context.Context, cfg *config.Config) error {
	tlsConfig, tlsMode, err := smtptls.LoadOrGenerateTLS(cfg.TLS.CertFile, cfg.TLS.KeyFile, cfg.SMTP.Hostname)
	if err != nil {
		return err
	}

	promReg := prometheus.NewRegistry()
	m := metrics.New(promReg)

	reg, err := buildRegistry(ctx, cfg, m)
	if err != nil {
		return err
	}
	prov, err := selectProvider(cfg, reg, m)
	if err != nil {
		return err
	}

	if cfg.Metrics.Listen != "" {
		go serveMetrics(ctx, cfg.Metrics.Listen, metrics.Handler(promReg))
	}

	server := smtp.New(smtp.ServerConfig{
		ListenAddr:      cfg.SMTP.Listen,
		Hostname:        cfg.SMTP.Hostname,
		Provider:        prov,
		TLSConfig:       tlsConfig,
		AuthUsername:    cfg.SMTP.Username,
		AuthPassword:    cfg.SMTP.Password,
		MaxMessageSize:  cfg.SMTP.MaxMessageSize,
		MaxConnections:  cfg.SMTP.MaxConnections,
		ConnectionRate:  cfg.SMTP.ConnectionRate,
		ConnectionBurst: cfg.SMTP.ConnectionBurst,
	})

	slog.Info("starting mail-interceptor",
		"listen", cfg.SMTP.Listen,
		"provider", prov.Name(),
		"available_providers", reg.Names(),
		"auth_enabled", cfg.AuthEnabled(),
		"tls_mode", string(tlsMode),
		"metrics_listen", cfg.Metrics.Listen,
	)

	return server.ListenAndServe(ctx)
}

// serveMetrics runs the Prometheus endpoint until ctx is cancelled.
func serveMetrics(ctx context.Context, addr string, h http.Handler) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", h)
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	slog.Info("metrics endpoint listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("metrics server error", "error", err)
	}
}

// loadConfig loads configuration from the specified path (YAML + env override)
// or from environment variables only if no path is given.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFromFile(path)
	}
	return config.Load()
}

// setupLogger installs a JSON slog handler on stdout at the given level.
// Unknown levels fall back to info.
func setupLogger(level string) {
	var logLevel slog.Level
	if err := logLevel.UnmarshalText([]byte(level)); err != nil {
		logLevel = slog.LevelInfo
	}

	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	})
	slog.SetDefault(slog.New(handler))
}
