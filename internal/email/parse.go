package email

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/emersion/go-message"
	"github.com/emersion/go-message/mail"
)

// Parse parses a raw RFC 5322 message into an Email.
// It handles single-part messages, nested multipart bodies and attachments.
// Transfer encodings are decoded, so attachment content is the original bytes.
// Unrecognized inline parts are logged as warnings and skipped.
func Parse(raw []byte) (*Email, error) {
	mr, err := mail.CreateReader(bytes.NewReader(raw))
	if err != nil && !message.IsUnknownCharset(err) {
		return nil, fmt.Errorf("failed to parse message: %w", err)
	}
	defer mr.Close()

	result := &Email{}

	h := mr.Header
	result.Subject, _ = h.Subject()
	result.MessageID, _ = h.MessageID()

	if from, err := h.AddressList("From"); err == nil && len(from) > 0 {
		result.From = from[0].Address
	} else if err != nil {
		// Fall back to the raw header when it is not RFC 5322 compliant
		result.From = h.Get("From")
	}

	if to, err := h.AddressList("To"); err == nil {
		for _, addr := range to {
			result.To = append(result.To, addr.Address)
		}
	}

	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			if message.IsUnknownCharset(err) {
				slog.Warn("unknown charset in MIME part, keeping raw bytes", "error", err)
			} else {
				return nil, fmt.Errorf("failed to read next part: %w", err)
			}
		}

		switch ph := part.Header.(type) {
		case *mail.InlineHeader:
			mediaType, _, _ := ph.ContentType()
			if mediaType == "" {
				mediaType = "text/plain"
			}

			content, err := io.ReadAll(part.Body)
			if err != nil {
				return nil, fmt.Errorf("failed to read %s part: %w", mediaType, err)
			}

			switch mediaType {
			case "text/plain":
				if result.TextBody == "" {
					result.TextBody = string(content)
				}
			case "text/html":
				if result.HtmlBody == "" {
					result.HtmlBody = string(content)
				}
			default:
				slog.Warn("unrecognized MIME part, skipping", "content_type", mediaType)
			}

		case *mail.AttachmentHeader:
			filename, _ := ph.Filename()
			mediaType, _, _ := ph.ContentType()

			content, err := io.ReadAll(part.Body)
			if err != nil {
				return nil, fmt.Errorf("failed to read attachment %q: %w", filename, err)
			}

			if filename == "" {
				filename = "attachment"
			}
			result.Attachments = append(result.Attachments, Attachment{
				Filename:    filename,
				ContentType: mediaType,
				Content:     content,
			})
		}
	}

	return result, nil
}
