// Package provider defines the interface for email delivery backends and a
// named registry for looking them up.
package provider

import (
	"context"

	"github.com/shineum/mail-interceptor/internal/email"
)

// Provider is the interface that email delivery backends must implement.
// Each provider handles the actual sending of parsed email messages
// to the target service (e.g., stdout, SES, Microsoft Graph, an SMTP relay).
// Decorators such as the intercept transport implement it as well.
type Provider interface {
	// Send delivers an email message through this provider.
	// It returns the delivery result, or an error if the delivery fails.
	Send(ctx context.Context, msg *email.Email) (*Result, error)

	// Name returns the human-readable name of this provider.
	Name() string
}

// Result describes a completed delivery. Decorators pass it through untouched.
type Result struct {
	// Provider is the name of the provider that delivered the message.
	Provider string

	// MessageID is the identifier assigned by the backend, if any.
	MessageID string

	// Recipients lists the addresses the message was handed over for.
	Recipients []string
}
