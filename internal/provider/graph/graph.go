package graph

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/shineum/bulk-mailer-lite/internal/email"
)

const (
	defaultScope   = "https://graph.microsoft.com/.default"
	requestTimeout = 30 * time.Second
)

// Config holds the configuration for creating a Provider.
type Config struct {
	TenantID     string
	ClientID     string
	ClientSecret string
	Sender       string
}

// Provider sends emails through the Graph sendMail endpoint of the sender's
// mailbox, authenticating with OAuth2 client credentials.
type Provider struct {
	graphURL   string
	httpClient *http.Client
}

// New creates a Provider. Tokens are fetched lazily and cached until they
// expire.
func New(ctx context.Context, cfg Config) *Provider {
	tokenURL := fmt.Sprintf("https://login.microsoftonline.com/%s/oauth2/v2.0/token", url.PathEscape(cfg.TenantID))
	graphURL := fmt.Sprintf("https://graph.microsoft.com/v1.0/users/%s/sendMail", url.PathEscape(cfg.Sender))
	return newWithOverrides(ctx, cfg, graphURL, tokenURL, &http.Client{Timeout: requestTimeout})
}

func newWithOverrides(ctx context.Context, cfg Config, graphURL, tokenURL string, base *http.Client) *Provider {
	cc := &clientcredentials.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		TokenURL:     tokenURL,
		Scopes:       []string{defaultScope},
		AuthStyle:    oauth2.AuthStyleInParams,
	}

	ctx = context.WithValue(ctx, oauth2.HTTPClient, base)
	client := cc.Client(ctx)
	client.Timeout = requestTimeout

	return &Provider{graphURL: graphURL, httpClient: client}
}

// Name returns the provider name.
func (p *Provider) Name() string {
	return "msgraph"
}

// Send performs a single sendMail request.
func (p *Provider) Send(ctx context.Context, msg *email.Email) error {
	bodyJSON, err := json.Marshal(buildSendMailRequest(msg))
	if err != nil {
		return fmt.Errorf("failed to marshal request body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.graphURL, bytes.NewReader(bodyJSON))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("graph request failed: %w", err)
	}
	defer resp.Body.Close()

	// 202 Accepted is the documented success status for sendMail.
	if resp.StatusCode == http.StatusAccepted || resp.StatusCode == http.StatusOK {
		return nil
	}

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	return newSendError(resp.StatusCode, body)
}

// SendError is a non-2xx answer from Graph.
type SendError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *SendError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("Graph API error (HTTP %d, %s): %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("Graph API error (HTTP %d): %s", e.StatusCode, e.Message)
}

func newSendError(status int, body []byte) *SendError {
	var parsed errorResponse
	if err := json.Unmarshal(body, &parsed); err == nil && parsed.Error.Message != "" {
		return &SendError{StatusCode: status, Code: parsed.Error.Code, Message: parsed.Error.Message}
	}
	return &SendError{StatusCode: status, Message: string(body)}
}
