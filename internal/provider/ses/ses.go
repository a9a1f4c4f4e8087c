// Package ses implements a Provider that sends emails via AWS SES v2.
package ses

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	sesv2 "github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"
	"github.com/aws/smithy-go"

	"github.com/shineum/mail-interceptor/internal/email"
	"github.com/shineum/mail-interceptor/internal/provider"
)

// SESProviderConfig holds the configuration for creating a SESProvider.
type SESProviderConfig struct {
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	Sender          string
}

// SendEmailAPI is the SES v2 operation the provider calls.
type SendEmailAPI interface {
	SendEmail(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
}

// SESProvider sends emails via the AWS SES v2 API.
type SESProvider struct {
	sender string
	client SendEmailAPI
	retry  provider.RetryPolicy
}

// New creates a SESProvider. Static keys are used when both are set,
// otherwise the default AWS credential chain applies.
func New(ctx context.Context, cfg SESProviderConfig) (*SESProvider, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return NewWithClient(cfg.Sender, sesv2.NewFromConfig(awsCfg)), nil
}

// NewWithClient creates a SESProvider around an existing client.
func NewWithClient(sender string, client SendEmailAPI) *SESProvider {
	return &SESProvider{
		sender: sender,
		client: client,
		retry:  provider.DefaultRetryPolicy,
	}
}

// Name returns the provider name.
func (s *SESProvider) Name() string {
	return "ses"
}

// Send delivers msg. Messages with attachments go out as raw MIME, the rest
// use the SES simple format. Errors SES attributes to the caller are not
// retried, except throttling.
func (s *SESProvider) Send(ctx context.Context, msg *email.Email) (*provider.Result, error) {
	input, err := s.buildInput(msg)
	if err != nil {
		return nil, err
	}

	for attempt := 0; ; attempt++ {
		out, err := s.client.SendEmail(ctx, input)
		if err == nil {
			return &provider.Result{
				Provider:   s.Name(),
				MessageID:  aws.ToString(out.MessageId),
				Recipients: msg.Recipients(),
			}, nil
		}

		slog.Warn("SES API error",
			"attempt", attempt,
			"error", err,
		)
		if !retryable(err) {
			return nil, fmt.Errorf("SES rejected message: %w", err)
		}
		if attempt >= s.retry.Attempts {
			return nil, fmt.Errorf("SES API request failed after %d retries: %w", s.retry.Attempts, err)
		}
		if err := provider.Sleep(ctx, s.retry.Backoff(attempt)); err != nil {
			return nil, fmt.Errorf("context cancelled during retry wait: %w", err)
		}
	}
}

func (s *SESProvider) buildInput(msg *email.Email) (*sesv2.SendEmailInput, error) {
	input := &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(s.sender),
		Destination: &types.Destination{
			ToAddresses:  msg.To.Formatted(),
			CcAddresses:  msg.Cc.Formatted(),
			BccAddresses: msg.Bcc.Formatted(),
		},
	}

	if len(msg.Attachments) == 0 {
		input.Content = &types.EmailContent{Simple: simpleContent(msg)}
		return input, nil
	}

	m, _, err := email.Compose(msg, s.sender)
	if err != nil {
		return nil, fmt.Errorf("failed to build raw message: %w", err)
	}
	var buf bytes.Buffer
	if _, err := m.WriteTo(&buf); err != nil {
		return nil, fmt.Errorf("failed to build raw message: %w", err)
	}
	input.Content = &types.EmailContent{Raw: &types.RawMessage{Data: buf.Bytes()}}
	return input, nil
}

func simpleContent(msg *email.Email) *types.Message {
	utf8 := func(s string) *types.Content {
		return &types.Content{Data: aws.String(s), Charset: aws.String("UTF-8")}
	}

	out := &types.Message{
		Subject: utf8(msg.Subject),
		Body:    &types.Body{},
	}
	if msg.TextBody != "" {
		out.Body.Text = utf8(msg.TextBody)
	}
	if msg.HtmlBody != "" {
		out.Body.Html = utf8(msg.HtmlBody)
	}

	names := make([]string, 0, len(msg.Headers))
	for name := range msg.Headers {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		out.Headers = append(out.Headers, types.MessageHeader{
			Name:  aws.String(name),
			Value: aws.String(msg.Headers[name]),
		})
	}
	return out
}

// retryable reports whether err may clear on its own. Client faults such as
// MessageRejected or an unverified sender are permanent; throttling is not.
func retryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) {
		return true
	}
	if apiErr.ErrorCode() == "TooManyRequestsException" {
		return true
	}
	return apiErr.ErrorFault() != smithy.FaultClient
}
