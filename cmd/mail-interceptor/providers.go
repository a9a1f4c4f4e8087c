package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/shineum/mail-interceptor/internal/config"
	"github.com/shineum/mail-interceptor/internal/metrics"
	"github.com/shineum/mail-interceptor/internal/provider"
	"github.com/shineum/mail-interceptor/internal/provider/graph"
	"github.com/shineum/mail-interceptor/internal/provider/intercept"
	"github.com/shineum/mail-interceptor/internal/provider/relay"
	"github.com/shineum/mail-interceptor/internal/provider/ses"
	"github.com/shineum/mail-interceptor/internal/provider/stdout"
)

// buildRegistry registers every provider whose settings are complete, under
// its configuration name. stdout is always available.
func buildRegistry(ctx context.Context, cfg *config.Config, m *metrics.Metrics) (*provider.Registry, error) {
	reg := provider.NewRegistry()

	add := func(name string, p provider.Provider) error {
		if err := reg.RegisterAs(name, m.Instrument(p)); err != nil {
			return err
		}
		slog.Debug("provider registered", "name", name)
		return nil
	}

	if err := add(config.ProviderStdout, stdout.New()); err != nil {
		return nil, err
	}

	if cfg.GraphConfigured() {
		p := graph.New(graph.GraphProviderConfig{
			TenantID:     cfg.Graph.TenantID,
			ClientID:     cfg.Graph.ClientID,
			ClientSecret: cfg.Graph.ClientSecret,
			Sender:       cfg.Graph.Sender,
		})
		if err := add(config.ProviderGraph, p); err != nil {
			return nil, err
		}
	}

	if cfg.SESConfigured() {
		p, err := ses.New(ctx, ses.SESProviderConfig{
			Region:          cfg.SES.Region,
			AccessKeyID:     cfg.SES.AccessKeyID,
			SecretAccessKey: cfg.SES.SecretAccessKey,
			Sender:          cfg.SES.Sender,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create SES provider: %w", err)
		}
		if err := add(config.ProviderSES, p); err != nil {
			return nil, err
		}
	}

	if cfg.RelayConfigured() {
		p := relay.New(relay.RelayProviderConfig{
			Host:               cfg.Relay.Host,
			Port:               cfg.Relay.Port,
			Username:           cfg.Relay.Username,
			Password:           cfg.Relay.Password,
			Sender:             cfg.Relay.Sender,
			SSL:                cfg.Relay.SSL,
			InsecureSkipVerify: cfg.Relay.InsecureSkipVerify,
		})
		if err := add(config.ProviderRelay, p); err != nil {
			return nil, err
		}
	}

	return reg, nil
}

// selectProvider returns the provider the SMTP server hands messages to.
// With interception enabled that is the intercept decorator over the
// configured transport; otherwise it is the configured provider, or the
// first configured one of graph, ses and relay, falling back to stdout.
func selectProvider(cfg *config.Config, reg *provider.Registry, m *metrics.Metrics) (provider.Provider, error) {
	if cfg.Intercept.Enabled {
		if _, err := reg.Get(cfg.Intercept.Transport); err != nil {
			return nil, fmt.Errorf("%w: transport %q is not configured: %w",
				intercept.ErrInvalidConfig, cfg.Intercept.Transport, err)
		}
		slog.Info("interception enabled",
			"transport", cfg.Intercept.Transport,
			"to", cfg.Intercept.To,
			"subject_prefix", cfg.Intercept.SubjectPrefix,
		)
		return intercept.New(cfg.Intercept.Config, reg,
			intercept.WithLogger(slog.Default()),
			intercept.WithMetrics(m),
		), nil
	}

	name := cfg.Provider
	if name == "" {
		name = autoDetect(reg)
		slog.Info("provider auto-detected", "provider", name)
	}

	p, err := reg.Get(name)
	if err != nil {
		return nil, fmt.Errorf("provider %q selected but its settings are incomplete: %w", name, err)
	}
	return p, nil
}

func autoDetect(reg *provider.Registry) string {
	for _, name := range []string{config.ProviderGraph, config.ProviderSES, config.ProviderRelay} {
		if _, err := reg.Get(name); err == nil {
			return name
		}
	}
	return config.ProviderStdout
}
