package main

import (
	"context"
	"errors"
	"slices"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/shineum/mail-interceptor/internal/config"
	"github.com/shineum/mail-interceptor/internal/metrics"
	"github.com/shineum/mail-interceptor/internal/provider"
	"github.com/shineum/mail-interceptor/internal/provider/intercept"
)

func testConfig() *config.Config {
	cfg := &config.Config{}
	cfg.Intercept.Config = intercept.DefaultConfig()
	return cfg
}

func withGraph(cfg *config.Config) *config.Config {
	cfg.Graph = config.GraphConfig{TenantID: "t", ClientID: "c", ClientSecret: "s", Sender: "noreply@example.com"}
	return cfg
}

func withRelay(cfg *config.Config) *config.Config {
	cfg.Relay = config.RelayConfig{Host: "smtp.example.com", Port: 587}
	return cfg
}

func TestBuildRegistry(t *testing.T) {
	tests := []struct {
		name string
		cfg  *config.Config
		want []string
	}{
		{name: "stdout only", cfg: testConfig(), want: []string{"stdout"}},
		{name: "graph", cfg: withGraph(testConfig()), want: []string{"graph", "stdout"}},
		{name: "graph and relay", cfg: withRelay(withGraph(testConfig())), want: []string{"graph", "relay", "stdout"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := metrics.New(prometheus.NewRegistry())
			reg, err := buildRegistry(context.Background(), tt.cfg, m)
			if err != nil {
				t.Fatalf("buildRegistry() error = %v", err)
			}
			if got := reg.Names(); !slices.Equal(got, tt.want) {
				t.Errorf("Names() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestSelectProvider(t *testing.T) {
	tests := []struct {
		name     string
		cfg      *config.Config
		wantName string
		wantErr  error
	}{
		{name: "auto stdout", cfg: testConfig(), wantName: "stdout"},
		{name: "auto prefers graph", cfg: withRelay(withGraph(testConfig())), wantName: "msgraph"},
		{name: "auto relay", cfg: withRelay(testConfig()), wantName: "relay"},
		{
			name: "explicit relay",
			cfg: func() *config.Config {
				cfg := withRelay(withGraph(testConfig()))
				cfg.Provider = "relay"
				return cfg
			}(),
			wantName: "relay",
		},
		{
			name: "explicit provider without settings",
			cfg: func() *config.Config {
				cfg := testConfig()
				cfg.Provider = "ses"
				return cfg
			}(),
			wantErr: provider.ErrUnknownProvider,
		},
		{
			name: "intercept over relay",
			cfg: func() *config.Config {
				cfg := withRelay(testConfig())
				cfg.Intercept.Enabled = true
				cfg.Intercept.Transport = "relay"
				cfg.Intercept.To = "qa@example.com"
				return cfg
			}(),
			wantName: intercept.Name,
		},
		{
			name: "intercept over unconfigured transport",
			cfg: func() *config.Config {
				cfg := testConfig()
				cfg.Intercept.Enabled = true
				cfg.Intercept.Transport = "graph"
				cfg.Intercept.To = "qa@example.com"
				return cfg
			}(),
			wantErr: intercept.ErrInvalidConfig,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := metrics.New(prometheus.NewRegistry())
			reg, err := buildRegistry(context.Background(), tt.cfg, m)
			if err != nil {
				t.Fatalf("buildRegistry() error = %v", err)
			}

			p, err := selectProvider(tt.cfg, reg, m)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("selectProvider() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("selectProvider() error = %v", err)
			}
			if p.Name() != tt.wantName {
				t.Errorf("Name() = %q, want %q", p.Name(), tt.wantName)
			}
		})
	}
}

func TestSelectProvider_InterceptUsesConfig(t *testing.T) {
	cfg := withRelay(testConfig())
	cfg.Intercept.Enabled = true
	cfg.Intercept.Transport = "relay"
	cfg.Intercept.To = "qa@example.com"
	cfg.Intercept.SubjectPrefix = "[STAGING]"

	m := metrics.New(prometheus.NewRegistry())
	reg, err := buildRegistry(context.Background(), cfg, m)
	if err != nil {
		t.Fatalf("buildRegistry() error = %v", err)
	}
	p, err := selectProvider(cfg, reg, m)
	if err != nil {
		t.Fatalf("selectProvider() error = %v", err)
	}

	tr, ok := p.(*intercept.Transport)
	if !ok {
		t.Fatalf("provider type %T, want *intercept.Transport", p)
	}
	if tr.Config() != cfg.Intercept.Config {
		t.Errorf("Config() = %+v, want %+v", tr.Config(), cfg.Intercept.Config)
	}
}
