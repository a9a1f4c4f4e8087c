// Package config provides environment-variable-first configuration loading
// with optional YAML file fallback for the mail interceptor.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/shineum/mail-interceptor/internal/provider/intercept"
)

// defaultMaxMessageSize is 25 MB in bytes.
const defaultMaxMessageSize = 26214400

// Provider names accepted in the provider setting and intercept.transport.
const (
	ProviderStdout = "stdout"
	ProviderGraph  = "graph"
	ProviderSES    = "ses"
	ProviderRelay  = "relay"
)

// Config holds the complete application configuration.
type Config struct {
	// Provider selects the delivery backend. Empty means auto-detect.
	Provider  string          `yaml:"provider"`
	SMTP      SMTPConfig      `yaml:"smtp"`
	Graph     GraphConfig     `yaml:"graph"`
	SES       SESConfig       `yaml:"ses"`
	Relay     RelayConfig     `yaml:"relay"`
	Intercept InterceptConfig `yaml:"intercept"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	TLS       TLSConfig       `yaml:"tls"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// SMTPConfig holds SMTP server configuration.
type SMTPConfig struct {
	Listen         string `yaml:"listen"`
	Hostname       string `yaml:"hostname"`
	Username       string `yaml:"username"`
	Password       string `yaml:"password"`
	MaxMessageSize int64  `yaml:"max_message_size"`
	MaxConnections int    `yaml:"max_connections"`

	// ConnectionRate is new connections per second; zero means unlimited.
	ConnectionRate  float64 `yaml:"connection_rate"`
	ConnectionBurst int     `yaml:"connection_burst"`
}

// GraphConfig holds Microsoft Graph API configuration.
type GraphConfig struct {
	TenantID     string `yaml:"tenant_id"`
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
	Sender       string `yaml:"sender"`
}

// SESConfig holds AWS SES configuration. Static keys are optional; the
// default AWS credential chain is used without them.
type SESConfig struct {
	Region          string `yaml:"region"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	Sender          string `yaml:"sender"`
}

// RelayConfig holds the upstream SMTP server used by the relay provider.
type RelayConfig struct {
	Host               string `yaml:"host"`
	Port               int    `yaml:"port"`
	Username           string `yaml:"username"`
	Password           string `yaml:"password"`
	Sender             string `yaml:"sender"`
	SSL                bool   `yaml:"ssl"`
	InsecureSkipVerify bool   `yaml:"insecure_skip_verify"`
}

// InterceptConfig wraps the delivery provider in the intercept decorator when
// Enabled is set.
type InterceptConfig struct {
	Enabled          bool `yaml:"enabled"`
	intercept.Config `yaml:",inline"`
}

// MetricsConfig holds the Prometheus endpoint address. Empty disables it.
type MetricsConfig struct {
	Listen string `yaml:"listen"`
}

// TLSConfig holds TLS certificate file paths.
type TLSConfig struct {
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// Load loads configuration from environment variables with sensible defaults.
// Environment variables always take precedence.
func Load() (*Config, error) {
	cfg := &Config{}
	cfg.applyDefaults()
	cfg.applyEnvVars()
	return cfg, nil
}

// LoadFromFile loads configuration from a YAML file as the base layer,
// then overrides with environment variables. Returns an error if the
// specified file path does not exist.
func LoadFromFile(path string) (*Config, error) {
	cfg := &Config{}
	cfg.applyDefaults()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// Environment variables always override YAML values
	cfg.applyEnvVars()

	return cfg, nil
}

// Validate reports settings that cannot work together. Credentials of the
// selected provider are checked when the provider is built.
func (c *Config) Validate() error {
	if c.Provider != "" && !knownProvider(c.Provider) {
		return fmt.Errorf("unknown provider %q", c.Provider)
	}
	if !c.Intercept.Enabled {
		return nil
	}
	if err := c.Intercept.Config.Validate(); err != nil {
		return err
	}
	if !knownProvider(c.Intercept.Transport) {
		return fmt.Errorf("%w: unknown transport %q", intercept.ErrInvalidConfig, c.Intercept.Transport)
	}
	return nil
}

// GraphConfigured returns true if all four Graph API credentials are set.
func (c *Config) GraphConfigured() bool {
	return c.Graph.TenantID != "" &&
		c.Graph.ClientID != "" &&
		c.Graph.ClientSecret != "" &&
		c.Graph.Sender != ""
}

// SESConfigured returns true if the SES region and sender are set.
func (c *Config) SESConfigured() bool {
	return c.SES.Region != "" && c.SES.Sender != ""
}

// RelayConfigured returns true if an upstream SMTP host is set.
func (c *Config) RelayConfigured() bool {
	return c.Relay.Host != "" && c.Relay.Port > 0
}

// AuthEnabled returns true if both SMTP username and password are set.
func (c *Config) AuthEnabled() bool {
	return c.SMTP.Username != "" && c.SMTP.Password != ""
}

func knownProvider(name string) bool {
	switch name {
	case ProviderStdout, ProviderGraph, ProviderSES, ProviderRelay:
		return true
	}
	return false
}

// applyDefaults sets sensible default values for all configuration fields.
func (c *Config) applyDefaults() {
	c.SMTP.Listen = ":2525"
	c.SMTP.Hostname = "localhost"
	c.SMTP.MaxMessageSize = defaultMaxMessageSize
	c.Relay.Port = 587
	c.Intercept.Config = intercept.DefaultConfig()
	c.Logging.Level = "info"
}

// applyEnvVars overrides configuration with environment variable values.
// Only non-empty environment variables override existing values; values
// that fail to parse are ignored.
func (c *Config) applyEnvVars() {
	if v := os.Getenv("PROVIDER"); v != "" {
		c.Provider = strings.ToLower(v)
	}

	envString("SMTP_LISTEN", &c.SMTP.Listen)
	envString("SMTP_HOSTNAME", &c.SMTP.Hostname)
	envString("SMTP_USERNAME", &c.SMTP.Username)
	envString("SMTP_PASSWORD", &c.SMTP.Password)
	envInt64("SMTP_MAX_MESSAGE_SIZE", &c.SMTP.MaxMessageSize)
	envInt("SMTP_MAX_CONNECTIONS", &c.SMTP.MaxConnections)
	envFloat("SMTP_CONNECTION_RATE", &c.SMTP.ConnectionRate)
	envInt("SMTP_CONNECTION_BURST", &c.SMTP.ConnectionBurst)

	envString("GRAPH_TENANT_ID", &c.Graph.TenantID)
	envString("GRAPH_CLIENT_ID", &c.Graph.ClientID)
	envString("GRAPH_CLIENT_SECRET", &c.Graph.ClientSecret)
	envString("GRAPH_SENDER", &c.Graph.Sender)

	envString("SES_REGION", &c.SES.Region)
	envString("SES_ACCESS_KEY_ID", &c.SES.AccessKeyID)
	envString("SES_SECRET_ACCESS_KEY", &c.SES.SecretAccessKey)
	envString("SES_SENDER", &c.SES.Sender)

	envString("RELAY_HOST", &c.Relay.Host)
	envInt("RELAY_PORT", &c.Relay.Port)
	envString("RELAY_USERNAME", &c.Relay.Username)
	envString("RELAY_PASSWORD", &c.Relay.Password)
	envString("RELAY_SENDER", &c.Relay.Sender)
	envBool("RELAY_SSL", &c.Relay.SSL)
	envBool("RELAY_INSECURE_SKIP_VERIFY", &c.Relay.InsecureSkipVerify)

	envBool("INTERCEPT_ENABLED", &c.Intercept.Enabled)
	if v := os.Getenv("INTERCEPT_TRANSPORT"); v != "" {
		c.Intercept.Transport = strings.ToLower(v)
	}
	envString("INTERCEPT_TO", &c.Intercept.To)
	envString("INTERCEPT_SUBJECT_PREFIX", &c.Intercept.SubjectPrefix)
	envBool("INTERCEPT_INCLUDE_ORIGINAL_IN_SUBJECT", &c.Intercept.IncludeOriginalInSubject)
	envBool("INTERCEPT_LOG_INTERCEPTIONS", &c.Intercept.LogInterceptions)

	envString("METRICS_LISTEN", &c.Metrics.Listen)

	envString("TLS_CERT_FILE", &c.TLS.CertFile)
	envString("TLS_KEY_FILE", &c.TLS.KeyFile)

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Logging.Level = strings.ToLower(v)
	}
}

func envString(key string, dst *string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func envInt(key string, dst *int) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func envInt64(key string, dst *int64) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func envFloat(key string, dst *float64) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func envBool(key string, dst *bool) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}
