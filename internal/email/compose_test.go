package email

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCompose_NoAttachment(t *testing.T) {
	t.Parallel()

	msg := &Email{
		From:     "sender@example.com",
		To:       []string{"hr@acme.io"},
		Subject:  "Application for the position of DevOps Engineer",
		HtmlBody: "<p>Dear Hiring Manager,</p>",
	}

	raw, err := Compose(msg)
	require.NoError(t, err)

	rawStr := string(raw)
	require.Contains(t, rawStr, "From: <sender@example.com>")
	require.Contains(t, rawStr, "To: <hr@acme.io>")
	require.Contains(t, rawStr, "Subject: Application for the position of DevOps Engineer")
	require.Contains(t, rawStr, "text/html")
	require.NotContains(t, rawStr, "multipart/mixed")
	require.NotEmpty(t, msg.MessageID)
	require.True(t, strings.HasSuffix(msg.MessageID, "@example.com"))

	parsed, err := Parse(raw)
	require.NoError(t, err)
	require.Equal(t, "sender@example.com", parsed.From)
	require.Equal(t, []string{"hr@acme.io"}, parsed.To)
	require.Equal(t, "<p>Dear Hiring Manager,</p>", parsed.HtmlBody)
	require.Empty(t, parsed.Attachments)
}

func TestCompose_WithAttachment(t *testing.T) {
	t.Parallel()

	payload := make([]byte, 4096)
	for i := range payload {
		payload[i] = byte(i % 251)
	}

	msg := &Email{
		From:     "Paresh Patil <sender@example.com>",
		To:       []string{"hr@acme.io"},
		Subject:  "With resume",
		HtmlBody: "<b>Resume attached</b>",
		Attachments: []Attachment{
			{Filename: "resume.pdf", ContentType: "application/pdf", Content: payload},
		},
	}

	raw, err := Compose(msg)
	require.NoError(t, err)
	require.Contains(t, string(raw), "multipart/mixed")
	require.Contains(t, string(raw), "Content-Transfer-Encoding: base64")

	parsed, err := Parse(raw)
	require.NoError(t, err)
	require.Equal(t, "<b>Resume attached</b>", parsed.HtmlBody)
	require.Len(t, parsed.Attachments, 1)

	att := parsed.Attachments[0]
	require.Equal(t, "resume.pdf", att.Filename)
	require.Equal(t, "application/pdf", att.ContentType)
	require.True(t, bytes.Equal(payload, att.Content), "attachment payload differs after decode")
}

func TestCompose_DefaultAttachmentType(t *testing.T) {
	t.Parallel()

	msg := &Email{
		From:     "sender@example.com",
		To:       []string{"hr@acme.io"},
		Subject:  "Blob",
		HtmlBody: "<p>x</p>",
		Attachments: []Attachment{
			{Filename: "cv.bin", Content: []byte("binary")},
		},
	}

	raw, err := Compose(msg)
	require.NoError(t, err)

	parsed, err := Parse(raw)
	require.NoError(t, err)
	require.Len(t, parsed.Attachments, 1)
	require.Equal(t, DefaultAttachmentType, parsed.Attachments[0].ContentType)
	require.Equal(t, []byte("binary"), parsed.Attachments[0].Content)
}

func TestCompose_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		msg     *Email
		wantErr error
	}{
		{
			name:    "missing sender",
			msg:     &Email{To: []string{"hr@acme.io"}},
			wantErr: ErrNoSender,
		},
		{
			name:    "missing recipient",
			msg:     &Email{From: "sender@example.com"},
			wantErr: ErrNoRecipient,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := Compose(tt.msg)
			require.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestCompose_InvalidRecipient(t *testing.T) {
	t.Parallel()

	_, err := Compose(&Email{
		From: "sender@example.com",
		To:   []string{"not an address"},
	})
	require.Error(t, err)
	require.Contains(t, err.Error(), "invalid recipient address")
}

func TestCompose_KeepsExistingMessageID(t *testing.T) {
	t.Parallel()

	msg := &Email{
		MessageID: "fixed-id@example.com",
		From:      "sender@example.com",
		To:        []string{"hr@acme.io"},
		HtmlBody:  "<p>x</p>",
	}

	raw, err := Compose(msg)
	require.NoError(t, err)
	require.Contains(t, string(raw), "<fixed-id@example.com>")
}

func TestNewMessageID(t *testing.T) {
	t.Parallel()

	require.True(t, strings.HasSuffix(NewMessageID("me@mail.example.org"), "@mail.example.org"))
	require.True(t, strings.HasSuffix(NewMessageID("no-domain"), "@localhost"))
	require.NotEqual(t, NewMessageID("a@b.co"), NewMessageID("a@b.co"))
}
