package email

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParse_PlainText(t *testing.T) {
	t.Parallel()

	raw := []byte(strings.Join([]string{
		"From: sender@example.com",
		"To: recipient@example.com",
		"Subject: Test Subject",
		"Message-Id: <test123@example.com>",
		"Content-Type: text/plain",
		"",
		"Hello, this is a plain text email.",
	}, "\r\n"))

	msg, err := Parse(raw)
	require.NoError(t, err)

	require.Equal(t, "sender@example.com", msg.From)
	require.Equal(t, []string{"recipient@example.com"}, msg.To)
	require.Equal(t, "Test Subject", msg.Subject)
	require.Equal(t, "test123@example.com", msg.MessageID)
	require.Equal(t, "Hello, this is a plain text email.", msg.TextBody)
	require.Empty(t, msg.HtmlBody)
	require.Empty(t, msg.Attachments)
}

func TestParse_MultipartAlternative(t *testing.T) {
	t.Parallel()

	raw := []byte(strings.Join([]string{
		"From: sender@example.com",
		"To: alice@example.com, bob@example.com",
		"Subject: Multipart Test",
		"Content-Type: multipart/alternative; boundary=boundary123",
		"",
		"--boundary123",
		"Content-Type: text/plain",
		"",
		"Plain text body",
		"--boundary123",
		"Content-Type: text/html",
		"",
		"<html><body><p>HTML body</p></body></html>",
		"--boundary123--",
	}, "\r\n"))

	msg, err := Parse(raw)
	require.NoError(t, err)

	require.Equal(t, []string{"alice@example.com", "bob@example.com"}, msg.To)
	require.Equal(t, "Plain text body", msg.TextBody)
	require.Equal(t, "<html><body><p>HTML body</p></body></html>", msg.HtmlBody)
}

func TestParse_Attachment(t *testing.T) {
	t.Parallel()

	raw := []byte(strings.Join([]string{
		"From: sender@example.com",
		"To: recipient@example.com",
		"Subject: With Attachment",
		"Content-Type: multipart/mixed; boundary=mixedboundary",
		"",
		"--mixedboundary",
		"Content-Type: text/plain",
		"",
		"Email body text",
		"--mixedboundary",
		"Content-Type: application/pdf; name=\"report.pdf\"",
		"Content-Disposition: attachment; filename=\"report.pdf\"",
		"Content-Transfer-Encoding: base64",
		"",
		"SGVsbG8gV29ybGQ=",
		"--mixedboundary--",
	}, "\r\n"))

	msg, err := Parse(raw)
	require.NoError(t, err)

	require.Equal(t, "Email body text", msg.TextBody)
	require.Len(t, msg.Attachments, 1)
	require.Equal(t, "report.pdf", msg.Attachments[0].Filename)
	require.Equal(t, "application/pdf", msg.Attachments[0].ContentType)
	require.Equal(t, "Hello World", string(msg.Attachments[0].Content))
}

func TestParse_NestedMultipart(t *testing.T) {
	t.Parallel()

	raw := []byte(strings.Join([]string{
		"From: sender@example.com",
		"To: recipient@example.com",
		"Subject: Nested",
		"Content-Type: multipart/mixed; boundary=outer",
		"",
		"--outer",
		"Content-Type: multipart/alternative; boundary=inner",
		"",
		"--inner",
		"Content-Type: text/plain",
		"",
		"plain",
		"--inner",
		"Content-Type: text/html",
		"",
		"<p>html</p>",
		"--inner--",
		"--outer",
		"Content-Type: text/plain",
		"Content-Disposition: attachment; filename=\"notes.txt\"",
		"",
		"some notes",
		"--outer--",
	}, "\r\n"))

	msg, err := Parse(raw)
	require.NoError(t, err)

	require.Equal(t, "plain", msg.TextBody)
	require.Equal(t, "<p>html</p>", msg.HtmlBody)
	require.Len(t, msg.Attachments, 1)
	require.Equal(t, "notes.txt", msg.Attachments[0].Filename)
	require.Equal(t, "some notes", string(msg.Attachments[0].Content))
}

func TestParse_Invalid(t *testing.T) {
	t.Parallel()

	_, err := Parse([]byte("this is not a message"))
	require.Error(t, err)
}
