package graph

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/shineum/mail-interceptor/internal/email"
	"github.com/shineum/mail-interceptor/internal/provider"
)

// GraphProviderConfig holds the configuration for creating a GraphProvider.
type GraphProviderConfig struct {
	TenantID     string
	ClientID     string
	ClientSecret string
	Sender       string
}

// GraphProvider sends mail through the Microsoft Graph sendMail endpoint of
// the configured sender's mailbox, authenticating with client credentials.
type GraphProvider struct {
	sendURL    string
	httpClient *http.Client
	token      *tokenCache
	retry      provider.RetryPolicy
}

// New creates a new GraphProvider with the given configuration.
func New(cfg GraphProviderConfig) *GraphProvider {
	tokenURL := "https://login.microsoftonline.com/" + url.PathEscape(cfg.TenantID) + "/oauth2/v2.0/token"
	sendURL := "https://graph.microsoft.com/v1.0/users/" + url.PathEscape(cfg.Sender) + "/sendMail"
	return newWithOverrides(cfg, sendURL, tokenURL, &http.Client{Timeout: 30 * time.Second})
}

func newWithOverrides(cfg GraphProviderConfig, sendURL, tokenURL string, client *http.Client) *GraphProvider {
	return &GraphProvider{
		sendURL:    sendURL,
		httpClient: client,
		token:      newTokenCache(tokenURL, cfg.ClientID, cfg.ClientSecret, client),
		retry:      provider.DefaultRetryPolicy,
	}
}

// Name returns the provider name.
func (g *GraphProvider) Name() string {
	return "msgraph"
}

// Send posts msg to Graph. Throttling, server errors and network failures
// are retried with backoff, and a 401 triggers a single token refresh.
// Graph does not return a message id, so the result carries the inbound
// Message-ID when there is one.
func (g *GraphProvider) Send(ctx context.Context, msg *email.Email) (*provider.Result, error) {
	body, err := json.Marshal(buildSendMailRequest(msg))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request body: %w", err)
	}

	refreshed := false
	for attempt := 0; ; attempt++ {
		err := g.post(ctx, body)
		if err == nil {
			return &provider.Result{
				Provider:   g.Name(),
				MessageID:  msg.MessageID,
				Recipients: msg.Recipients(),
			}, nil
		}

		var apiErr *apiError
		if !errors.As(err, &apiErr) || !apiErr.temporary() {
			return nil, err
		}
		if attempt >= g.retry.Attempts {
			return nil, fmt.Errorf("Graph API request failed after %d retries: %w", g.retry.Attempts, err)
		}

		if apiErr.status == http.StatusUnauthorized && !refreshed {
			slog.Info("refreshing Graph API token after 401")
			if _, err := g.token.ForceRefresh(); err != nil {
				return nil, fmt.Errorf("token refresh failed: %w", err)
			}
			refreshed = true
			continue
		}

		delay := g.retry.Delay(attempt, apiErr.retryAfter)
		slog.Info("retrying Graph API request",
			"status", apiErr.status,
			"attempt", attempt+1,
			"delay", delay,
		)
		if err := provider.Sleep(ctx, delay); err != nil {
			return nil, fmt.Errorf("context cancelled during retry wait: %w", err)
		}
	}
}

// post performs one sendMail request.
func (g *GraphProvider) post(ctx context.Context, body []byte) error {
	token, err := g.token.Token()
	if err != nil {
		return fmt.Errorf("failed to get access token: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.sendURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.httpClient.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("Graph API request aborted: %w", ctxErr)
		}
		return &apiError{message: err.Error()}
	}
	defer resp.Body.Close()

	// sendMail answers 202 Accepted
	if resp.StatusCode == http.StatusAccepted || resp.StatusCode == http.StatusOK {
		return nil
	}
	return newAPIError(resp)
}

// apiError is a failed sendMail call. status is zero when no response was
// received.
type apiError struct {
	status     int
	code       string
	message    string
	retryAfter time.Duration
}

func newAPIError(resp *http.Response) *apiError {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))

	e := &apiError{
		status:     resp.StatusCode,
		message:    strings.TrimSpace(string(raw)),
		retryAfter: parseRetryAfter(resp.Header.Get("Retry-After"), time.Now()),
	}

	var body graphErrorResponse
	if json.Unmarshal(raw, &body) == nil && body.Error.Message != "" {
		e.code = body.Error.Code
		e.message = body.Error.Message
	}
	return e
}

func (e *apiError) Error() string {
	if e.status == 0 {
		return "Graph API request failed: " + e.message
	}
	if e.code != "" {
		return fmt.Sprintf("Graph API error (HTTP %d %s): %s", e.status, e.code, e.message)
	}
	return fmt.Sprintf("Graph API error (HTTP %d): %s", e.status, e.message)
}

// temporary reports whether the request may succeed if repeated.
func (e *apiError) temporary() bool {
	switch {
	case e.status == 0:
		return true
	case e.status == http.StatusUnauthorized, e.status == http.StatusTooManyRequests:
		return true
	default:
		return e.status >= 500
	}
}

// parseRetryAfter accepts both the delay-seconds and HTTP-date forms.
func parseRetryAfter(v string, now time.Time) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil {
		if secs <= 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(v); err == nil && at.After(now) {
		return at.Sub(now)
	}
	return 0
}
