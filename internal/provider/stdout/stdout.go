// Package stdout implements a Provider that prints emails to standard output.
package stdout

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"text/template"

	"github.com/Masterminds/sprig/v3"
	"github.com/google/uuid"

	"github.com/shineum/mail-interceptor/internal/email"
	"github.com/shineum/mail-interceptor/internal/provider"
)

const separator = "========================================\n"

// layout renders one message. Custom headers, such as the X-Original-*
// headers added by the intercept transport, come out in key order.
const layout = `{{ .Sep }}Message-ID: {{ .MessageID }}
From: {{ .From }}
To: {{ join ", " .To }}
{{- with .Cc }}
Cc: {{ join ", " . }}{{ end }}
{{- with .Bcc }}
Bcc: {{ join ", " . }}{{ end }}
{{- range $name, $value := .Headers }}
{{ $name }}: {{ $value }}{{ end }}
Subject: {{ .Subject }}
Body:
{{ .TextBody | default .HtmlBody }}
{{- with .Attachments }}
Attachments: {{ range $i, $a := . }}{{ if $i }}, {{ end }}{{ $a.Filename }} ({{ size (len $a.Content) }}){{ end }}{{ end }}
{{ .Sep }}`

var tmpl = template.Must(template.New("message").
	Funcs(sprig.TxtFuncMap()).
	Funcs(template.FuncMap{"size": formatSize}).
	Parse(layout))

// view is the data handed to layout.
type view struct {
	Sep         string
	MessageID   string
	From        string
	To          []string
	Cc          []string
	Bcc         []string
	Headers     map[string]string
	Subject     string
	TextBody    string
	HtmlBody    string
	Attachments []email.Attachment
}

// Provider prints email messages to stdout in a human-readable format.
type Provider struct {
	writer io.Writer
}

// New creates a new stdout Provider that writes to os.Stdout.
func New() *Provider {
	return &Provider{writer: os.Stdout}
}

// NewWithWriter creates a stdout Provider that writes to w.
func NewWithWriter(w io.Writer) *Provider {
	return &Provider{writer: w}
}

// Name returns the provider name.
func (p *Provider) Name() string {
	return "stdout"
}

// Send prints msg. Messages without a Message-ID get a generated one, which
// is also returned in the result.
func (p *Provider) Send(_ context.Context, msg *email.Email) (*provider.Result, error) {
	id := msg.MessageID
	if id == "" {
		id = fmt.Sprintf("<%s@mail-interceptor>", uuid.NewString())
	}

	var buf bytes.Buffer
	err := tmpl.Execute(&buf, view{
		Sep:         separator,
		MessageID:   id,
		From:        msg.From,
		To:          msg.To.Formatted(),
		Cc:          msg.Cc.Formatted(),
		Bcc:         msg.Bcc.Formatted(),
		Headers:     msg.Headers,
		Subject:     msg.Subject,
		TextBody:    msg.TextBody,
		HtmlBody:    msg.HtmlBody,
		Attachments: msg.Attachments,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to render message: %w", err)
	}

	if _, err := buf.WriteTo(p.writer); err != nil {
		return nil, fmt.Errorf("failed to write message: %w", err)
	}

	return &provider.Result{
		Provider:   p.Name(),
		MessageID:  id,
		Recipients: msg.Recipients(),
	}, nil
}

// formatSize formats a byte count with one decimal in KB or MB.
func formatSize(n int) string {
	const (
		kb = 1 << 10
		mb = 1 << 20
	)
	switch {
	case n >= mb:
		return fmt.Sprintf("%.1f MB", float64(n)/mb)
	case n >= kb:
		return fmt.Sprintf("%.1f KB", float64(n)/kb)
	default:
		return fmt.Sprintf("%d B", n)
	}
}
