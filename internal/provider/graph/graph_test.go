package graph

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/shineum/bulk-mailer-lite/internal/email"
	"github.com/shineum/bulk-mailer-lite/internal/provider"
)

var _ provider.Provider = (*Provider)(nil)

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
	TokenType   string `json:"token_type"`
}

func newTokenServer(t *testing.T, calls *atomic.Int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		require.NoError(t, r.ParseForm())
		if r.FormValue("grant_type") != "client_credentials" || r.FormValue("client_id") != "cid" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		if r.FormValue("scope") != defaultScope {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(tokenResponse{AccessToken: "test-token", ExpiresIn: 3600, TokenType: "Bearer"})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestProvider(graphURL, tokenURL string) *Provider {
	return newWithOverrides(context.Background(),
		Config{TenantID: "tenant", ClientID: "cid", ClientSecret: "secret", Sender: "me@contoso.com"},
		graphURL, tokenURL, http.DefaultClient)
}

func TestBuildSendMailRequest_HTMLBody(t *testing.T) {
	t.Parallel()

	req := buildSendMailRequest(&email.Email{
		To:       []string{"alice@example.com", "bob@example.com"},
		Subject:  "Application",
		HtmlBody: "<p>Hello</p>",
	})

	require.Equal(t, "Application", req.Message.Subject)
	require.Equal(t, messageBody{ContentType: "html", Content: "<p>Hello</p>"}, req.Message.Body)
	require.Len(t, req.Message.ToRecipients, 2)
	require.Equal(t, "bob@example.com", req.Message.ToRecipients[1].EmailAddress.Address)
	require.Empty(t, req.Message.Attachments)
	require.True(t, req.SaveToSentItems)
}

func TestBuildSendMailRequest_TextFallback(t *testing.T) {
	t.Parallel()

	req := buildSendMailRequest(&email.Email{To: []string{"a@b.io"}, TextBody: "plain"})
	require.Equal(t, messageBody{ContentType: "text", Content: "plain"}, req.Message.Body)
}

func TestBuildSendMailRequest_WithAttachments(t *testing.T) {
	t.Parallel()

	req := buildSendMailRequest(&email.Email{
		To:       []string{"user@example.com"},
		HtmlBody: "See attached",
		Attachments: []email.Attachment{
			{Filename: "resume.pdf", ContentType: "application/pdf", Content: []byte("pdf-content")},
			{Filename: "notes.bin", Content: []byte{0x00}},
		},
	})

	require.Len(t, req.Message.Attachments, 2)
	att := req.Message.Attachments[0]
	require.Equal(t, "#microsoft.graph.fileAttachment", att.ODataType)
	require.Equal(t, "resume.pdf", att.Name)
	require.Equal(t, "application/pdf", att.ContentType)
	require.Equal(t, base64.StdEncoding.EncodeToString([]byte("pdf-content")), att.ContentBytes)
	require.Equal(t, email.DefaultAttachmentType, req.Message.Attachments[1].ContentType)
}

func TestProvider_Name(t *testing.T) {
	t.Parallel()
	require.Equal(t, "msgraph", (&Provider{}).Name())
}

func TestProvider_SendSuccess(t *testing.T) {
	t.Parallel()

	var tokenCalls, graphCalls atomic.Int32
	tokenServer := newTokenServer(t, &tokenCalls)

	graphServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		graphCalls.Add(1)
		if r.Header.Get("Authorization") != "Bearer test-token" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		var body sendMailRequest
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Message.Subject != "Test" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.WriteHeader(http.StatusAccepted)
	}))
	defer graphServer.Close()

	p := newTestProvider(graphServer.URL, tokenServer.URL)

	for range 2 {
		err := p.Send(context.Background(), &email.Email{To: []string{"user@example.com"}, Subject: "Test", HtmlBody: "Body"})
		require.NoError(t, err)
	}

	require.EqualValues(t, 1, tokenCalls.Load(), "token should be cached")
	require.EqualValues(t, 2, graphCalls.Load())
}

func TestProvider_ErrorResponse(t *testing.T) {
	t.Parallel()

	var tokenCalls, graphCalls atomic.Int32
	tokenServer := newTokenServer(t, &tokenCalls)

	graphServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		graphCalls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte(`{"error":{"code":"ServiceUnavailable","message":"Down"}}`))
	}))
	defer graphServer.Close()

	p := newTestProvider(graphServer.URL, tokenServer.URL)
	err := p.Send(context.Background(), &email.Email{To: []string{"user@example.com"}, HtmlBody: "x"})

	var sendErr *SendError
	require.True(t, errors.As(err, &sendErr), "got %v", err)
	require.Equal(t, http.StatusServiceUnavailable, sendErr.StatusCode)
	require.Equal(t, "ServiceUnavailable", sendErr.Code)
	require.Equal(t, "Graph API error (HTTP 503, ServiceUnavailable): Down", sendErr.Error())
	require.EqualValues(t, 1, graphCalls.Load(), "no retry")
}

func TestProvider_TokenFailure(t *testing.T) {
	t.Parallel()

	tokenServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error":"invalid_client"}`))
	}))
	defer tokenServer.Close()

	var graphCalls atomic.Int32
	graphServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		graphCalls.Add(1)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer graphServer.Close()

	p := newTestProvider(graphServer.URL, tokenServer.URL)
	err := p.Send(context.Background(), &email.Email{To: []string{"user@example.com"}, HtmlBody: "x"})
	require.Error(t, err)
	require.Zero(t, graphCalls.Load())
}

func TestProvider_ContextCancelled(t *testing.T) {
	t.Parallel()

	var tokenCalls atomic.Int32
	tokenServer := newTokenServer(t, &tokenCalls)
	p := newTestProvider("http://127.0.0.1:1/sendMail", tokenServer.URL)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := p.Send(ctx, &email.Email{To: []string{"user@example.com"}, HtmlBody: "x"})
	require.ErrorIs(t, err, context.Canceled)
}

func TestSendError_PlainBody(t *testing.T) {
	t.Parallel()

	err := newSendError(http.StatusForbidden, []byte("forbidden"))
	require.Equal(t, "Graph API error (HTTP 403): forbidden", err.Error())
}
