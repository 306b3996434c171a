package main

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/shineum/bulk-mailer-lite/internal/email"
	"github.com/shineum/bulk-mailer-lite/internal/relay"
)

type result struct {
	code   int
	stdout string
	stderr string
}

// testEnv points every store at a temp dir and clears credentials.
func testEnv(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	for key, value := range map[string]string{
		"PROVIDER":           "smtp",
		"EMAIL_ID":           "",
		"EMAIL_PASSWORD":     "",
		"SMTP_HOST":          "",
		"SMTP_PORT":          "",
		"SMTP_TLS":           "",
		"TEMPLATES_BACKEND":  "file",
		"TEMPLATES_PATH":     filepath.Join(dir, "templates.json"),
		"SENDLOG_BACKEND":    "file",
		"SENDLOG_PATH":       filepath.Join(dir, "sent_emails.log"),
		"RENDER_PERSONALIZE": "",
		"SEND_DELAY":         "",
		"SENTRY_DSN":         "",
		"LOG_LEVEL":          "error",
	} {
		t.Setenv(key, value)
	}
	return dir
}

func runCLI(t *testing.T, dir, stdin string, args ...string) result {
	t.Helper()
	var stdout, stderr bytes.Buffer
	args = append([]string{"-env-file", filepath.Join(dir, "absent.env")}, args...)
	code := run(args, strings.NewReader(stdin), &stdout, &stderr)
	return result{code: code, stdout: stdout.String(), stderr: stderr.String()}
}

func TestRun_Usage(t *testing.T) {
	dir := testEnv(t)

	res := runCLI(t, dir, "")
	require.Equal(t, exitUsage, res.code)
	require.Contains(t, res.stderr, "Usage: bulk-mailer")

	res = runCLI(t, dir, "", "frobnicate")
	require.Equal(t, exitUsage, res.code)
	require.Contains(t, res.stderr, `unknown command "frobnicate"`)

	res = runCLI(t, dir, "", "send")
	require.Equal(t, exitUsage, res.code)
}

func TestRun_InvalidConfig(t *testing.T) {
	dir := testEnv(t)
	t.Setenv("PROVIDER", "pigeon")

	res := runCLI(t, dir, "", "validate")
	require.Equal(t, exitError, res.code)
	require.Contains(t, res.stderr, "unknown provider")
}

func TestRun_Validate(t *testing.T) {
	dir := testEnv(t)

	res := runCLI(t, dir, "x@y.com\nbad\n z@w.org \n", "validate")
	require.Equal(t, exitOK, res.code)
	require.Equal(t, "x@y.com\nz@w.org\n", res.stdout)
	require.Contains(t, res.stderr, `line 2: "bad" is not a valid address`)
	require.Contains(t, res.stderr, "2 valid, 1 rejected")
}

func TestRun_Templates(t *testing.T) {
	dir := testEnv(t)

	res := runCLI(t, dir, "<p>Dear [Recipient Name]</p>", "templates", "save", "cover")
	require.Equal(t, exitOK, res.code, res.stderr)

	mdPath := filepath.Join(dir, "short.md")
	require.NoError(t, os.WriteFile(mdPath, []byte("Hello **there**"), 0o644))
	res = runCLI(t, dir, "", "templates", "import", "short", "-file", mdPath)
	require.Equal(t, exitOK, res.code, res.stderr)

	res = runCLI(t, dir, "", "templates", "list")
	require.Equal(t, exitOK, res.code)
	require.Equal(t, "cover\nshort\n", res.stdout)

	res = runCLI(t, dir, "", "templates", "show", "short")
	require.Equal(t, exitOK, res.code)
	require.Equal(t, "<p>Hello <strong>there</strong></p>\n", res.stdout)

	res = runCLI(t, dir, "", "templates", "delete", "cover")
	require.Equal(t, exitOK, res.code)

	res = runCLI(t, dir, "", "templates", "show", "cover")
	require.Equal(t, exitError, res.code)
	require.Contains(t, res.stderr, "template not found")

	res = runCLI(t, dir, "", "templates", "show")
	require.Equal(t, exitUsage, res.code)
}

func TestRun_SendDryRun(t *testing.T) {
	dir := testEnv(t)
	t.Setenv("EMAIL_ID", "me@example.com")

	res := runCLI(t, dir, "<p>I am applying for [Position Title].</p>", "templates", "save", "cover")
	require.Equal(t, exitOK, res.code, res.stderr)

	res = runCLI(t, dir, "hr@acme.io\nnot-an-address\n",
		"send", "-template", "cover", "-position", "SRE", "-dry-run")
	require.Equal(t, exitOK, res.code, res.stderr)
	require.Contains(t, res.stdout, "[1/1] sent hr@acme.io")
	require.Contains(t, res.stdout, "Application for the position of SRE")
	require.Contains(t, res.stdout, "sent 1 of 1")
	require.Contains(t, res.stderr, "skipping line 2")

	_, err := os.Stat(filepath.Join(dir, "sent_emails.log"))
	require.ErrorIs(t, err, os.ErrNotExist, "dry runs are not recorded")
}

func TestRun_SendMissingCredentials(t *testing.T) {
	dir := testEnv(t)

	bodyPath := filepath.Join(dir, "body.html")
	require.NoError(t, os.WriteFile(bodyPath, []byte("<p>Hi</p>"), 0o644))

	res := runCLI(t, dir, "a@example.com\n", "send", "-body-file", bodyPath)
	require.Equal(t, exitError, res.code)
	require.Equal(t, 1, strings.Count(res.stderr, "sender credentials are not configured"), res.stderr)
	require.NotContains(t, res.stdout, "sent")
}

type captureProvider struct {
	mu   sync.Mutex
	msgs []*email.Email
}

func (c *captureProvider) Send(_ context.Context, msg *email.Email) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.msgs = append(c.msgs, msg)
	return nil
}

func (c *captureProvider) messages() []*email.Email {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*email.Email(nil), c.msgs...)
}

func (c *captureProvider) Name() string { return "capture" }

func TestRun_SendThroughRelay(t *testing.T) {
	dir := testEnv(t)

	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	capture := &captureProvider{}
	srv := relay.New(relay.Config{
		Domain:           "localhost",
		Username:         "me@example.com",
		Password:         "app-password",
		RejectRecipients: []string{"r2@example.com"},
	}, capture, slog.New(slog.NewTextHandler(io.Discard, nil)))
	done := make(chan error, 1)
	go func() { done <- srv.Serve(l) }()
	t.Cleanup(func() {
		srv.Close()
		<-done
	})

	host, port, err := net.SplitHostPort(l.Addr().String())
	require.NoError(t, err)
	t.Setenv("EMAIL_ID", "me@example.com")
	t.Setenv("EMAIL_PASSWORD", "app-password")
	t.Setenv("SMTP_HOST", host)
	t.Setenv("SMTP_PORT", port)
	t.Setenv("SMTP_TLS", "none")

	bodyPath := filepath.Join(dir, "body.html")
	require.NoError(t, os.WriteFile(bodyPath, []byte("<p>Hi</p>"), 0o644))
	resumePath := filepath.Join(dir, "resume.pdf")
	require.NoError(t, os.WriteFile(resumePath, []byte("%PDF-1.7\x00resume"), 0o644))

	res := runCLI(t, dir, "r1@example.com\nr2@example.com\nr3@example.com\n",
		"send", "-body-file", bodyPath, "-attachment", resumePath, "-personalize")
	require.Equal(t, exitPartial, res.code, res.stderr)
	require.Contains(t, res.stdout, "[2/3] failed r2@example.com")
	require.Contains(t, res.stdout, "sent 2 of 3")

	msgs := capture.messages()
	require.Len(t, msgs, 2)
	require.Contains(t, msgs[0].HtmlBody, "Dear R,")
	require.Len(t, msgs[1].Attachments, 1)
	require.Equal(t, "application/pdf", msgs[1].Attachments[0].ContentType)

	res = runCLI(t, dir, "", "history", "-n", strconv.Itoa(5))
	require.Equal(t, exitOK, res.code)
	require.Equal(t, "r1@example.com\nr3@example.com\n", res.stdout)
}
