// Package intercept implements a Provider decorator that redirects every
// message to a single address before handing it to a delegate provider.
//
// It is meant for development and staging deployments: real recipients never
// receive mail, and the original To, Cc and Bcc lists travel with the message
// in X-Original-* headers.
package intercept

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/shineum/mail-interceptor/internal/email"
	"github.com/shineum/mail-interceptor/internal/metrics"
	"github.com/shineum/mail-interceptor/internal/provider"
)

// Headers carrying the original recipients.
const (
	HeaderOriginalTo  = "X-Original-To"
	HeaderOriginalCc  = "X-Original-Cc"
	HeaderOriginalBcc = "X-Original-Bcc"
)

// Name is the name the transport reports through Provider.Name.
const Name = "intercept"

// Resolver looks up the delegate provider by name. *provider.Registry
// satisfies it.
type Resolver interface {
	Get(name string) (provider.Provider, error)
}

// Option configures a Transport.
type Option func(*Transport)

// WithLogger sets the logger used for interception and failure entries.
func WithLogger(l *slog.Logger) Option {
	return func(t *Transport) {
		t.logger = l
	}
}

// WithMetrics records interceptions on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(t *Transport) {
		t.metrics = m
	}
}

// Transport rewrites recipients and subject, then delegates delivery.
// It holds no per-message state and is safe for concurrent use as long as
// each call gets its own message.
type Transport struct {
	cfg       Config
	delegates Resolver
	logger    *slog.Logger
	metrics   *metrics.Metrics
}

var _ provider.Provider = (*Transport)(nil)

// New creates a Transport. The configuration is checked on every Send so
// that a misconfigured transport never mutates a message.
func New(cfg Config, delegates Resolver, opts ...Option) *Transport {
	t := &Transport{
		cfg:       cfg,
		delegates: delegates,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Name returns the provider name.
func (t *Transport) Name() string {
	return Name
}

// Config returns the transport configuration.
func (t *Transport) Config() Config {
	return t.cfg
}

// Send redirects msg to the intercept address and delivers it through the
// delegate. The delegate's result and error are returned unchanged.
func (t *Transport) Send(ctx context.Context, msg *email.Email) (*provider.Result, error) {
	if err := t.cfg.Validate(); err != nil {
		return nil, err
	}
	if t.delegates == nil {
		return nil, fmt.Errorf("%w: no provider registry configured", ErrInvalidConfig)
	}
	delegate, err := t.delegates.Get(t.cfg.Transport)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	originalTo := msg.To.Join()
	originalCc := msg.Cc.Join()
	originalBcc := msg.Bcc.Join()
	originalSubject := msg.Subject

	headers := map[string]string{HeaderOriginalTo: originalTo}
	if originalCc != "" {
		headers[HeaderOriginalCc] = originalCc
	}
	if originalBcc != "" {
		headers[HeaderOriginalBcc] = originalBcc
	}
	msg.AddHeaders(headers)

	msg.To = email.AddressList{{Address: t.cfg.To, Name: t.cfg.To}}
	msg.Cc = nil
	msg.Bcc = nil

	msg.Subject = rewriteSubject(t.cfg, originalSubject, originalTo)

	if t.cfg.LogInterceptions {
		t.logger.Info(
			fmt.Sprintf("Mail intercepted: redirected to=%s; original_to=%s; subject=%s",
				t.cfg.To, originalTo, msg.Subject),
			"scope", "email",
		)
	}
	t.metrics.ObserveIntercepted(t.cfg.Transport)

	result, err := delegate.Send(ctx, msg)
	if err != nil {
		t.logger.Error("InterceptTransport: underlying transport failed",
			"scope", "email",
			"transport", t.cfg.Transport,
			"error", err,
		)
	}
	return result, err
}
