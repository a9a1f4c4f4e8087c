// Package relay implements a Provider that hands messages to an upstream
// SMTP server.
package relay

import (
	"context"
	"crypto/tls"
	"fmt"

	"gopkg.in/gomail.v2"

	"github.com/shineum/mail-interceptor/internal/email"
	"github.com/shineum/mail-interceptor/internal/provider"
)

// RelayProviderConfig holds the configuration for creating a RelayProvider.
type RelayProviderConfig struct {
	Host     string
	Port     int
	Username string
	Password string

	// Sender overrides the From address of every message when set.
	Sender string

	// SSL forces implicit TLS. Otherwise STARTTLS is used when offered.
	SSL                bool
	InsecureSkipVerify bool
}

// Dialer is the part of *gomail.Dialer the provider uses.
type Dialer interface {
	DialAndSend(m ...*gomail.Message) error
}

// RelayProvider delivers messages through an upstream SMTP server.
type RelayProvider struct {
	sender string
	host   string
	dialer Dialer
}

// New creates a RelayProvider that dials the configured server for every message.
func New(cfg RelayProviderConfig) *RelayProvider {
	d := gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password)
	d.SSL = cfg.SSL
	if cfg.InsecureSkipVerify {
		d.TLSConfig = &tls.Config{InsecureSkipVerify: true, ServerName: cfg.Host}
	}
	return NewWithDialer(cfg.Sender, cfg.Host, d)
}

// NewWithDialer creates a RelayProvider with a custom dialer, used for testing.
func NewWithDialer(sender, host string, d Dialer) *RelayProvider {
	return &RelayProvider{
		sender: sender,
		host:   host,
		dialer: d,
	}
}

// Send builds a MIME message and relays it. The upstream server is reached
// synchronously; ctx is only checked before dialing since gomail does not
// accept one.
func (r *RelayProvider) Send(ctx context.Context, msg *email.Email) (*provider.Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m, messageID, err := email.Compose(msg, r.sender)
	if err != nil {
		return nil, err
	}

	if err := r.dialer.DialAndSend(m); err != nil {
		return nil, fmt.Errorf("relay to %s failed: %w", r.host, err)
	}

	return &provider.Result{
		Provider:   r.Name(),
		MessageID:  messageID,
		Recipients: msg.Recipients(),
	}, nil
}

// Name returns the provider name.
func (r *RelayProvider) Name() string {
	return "relay"
}
