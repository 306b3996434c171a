package email

import (
	"bytes"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/emersion/go-message/mail"
	"github.com/google/uuid"
)

// Compose encodes msg as an RFC 5322 message ready for DATA.
// Without attachments the message is a single text/html part; with attachments
// it is multipart/mixed with one inline HTML part followed by one base64
// attachment part per file.
func Compose(msg *Email) ([]byte, error) {
	if msg.From == "" {
		return nil, ErrNoSender
	}
	if len(msg.To) == 0 {
		return nil, ErrNoRecipient
	}

	from, err := mail.ParseAddress(msg.From)
	if err != nil {
		return nil, fmt.Errorf("invalid sender address %q: %w", msg.From, err)
	}

	to := make([]*mail.Address, 0, len(msg.To))
	for _, addr := range msg.To {
		parsed, err := mail.ParseAddress(addr)
		if err != nil {
			return nil, fmt.Errorf("invalid recipient address %q: %w", addr, err)
		}
		to = append(to, parsed)
	}

	if msg.MessageID == "" {
		msg.MessageID = NewMessageID(from.Address)
	}

	var h mail.Header
	h.SetDate(time.Now())
	h.SetAddressList("From", []*mail.Address{from})
	h.SetAddressList("To", to)
	h.SetSubject(msg.Subject)
	h.SetMessageID(msg.MessageID)
	h.Set("MIME-Version", "1.0")

	var buf bytes.Buffer

	if len(msg.Attachments) == 0 {
		h.SetContentType("text/html", map[string]string{"charset": "utf-8"})
		w, err := mail.CreateSingleInlineWriter(&buf, h)
		if err != nil {
			return nil, fmt.Errorf("failed to create message writer: %w", err)
		}
		if _, err := io.WriteString(w, msg.HtmlBody); err != nil {
			return nil, fmt.Errorf("failed to write body: %w", err)
		}
		if err := w.Close(); err != nil {
			return nil, fmt.Errorf("failed to close body: %w", err)
		}
		return buf.Bytes(), nil
	}

	mw, err := mail.CreateWriter(&buf, h)
	if err != nil {
		return nil, fmt.Errorf("failed to create multipart writer: %w", err)
	}

	var bodyHeader mail.InlineHeader
	bodyHeader.SetContentType("text/html", map[string]string{"charset": "utf-8"})
	bw, err := mw.CreateSingleInline(bodyHeader)
	if err != nil {
		return nil, fmt.Errorf("failed to create body part: %w", err)
	}
	if _, err := io.WriteString(bw, msg.HtmlBody); err != nil {
		return nil, fmt.Errorf("failed to write body: %w", err)
	}
	if err := bw.Close(); err != nil {
		return nil, fmt.Errorf("failed to close body part: %w", err)
	}

	for _, att := range msg.Attachments {
		var attHeader mail.AttachmentHeader
		attHeader.SetContentType(att.MediaType(), nil)
		attHeader.SetFilename(att.Filename)
		attHeader.Set("Content-Transfer-Encoding", "base64")

		aw, err := mw.CreateAttachment(attHeader)
		if err != nil {
			return nil, fmt.Errorf("failed to create attachment part: %w", err)
		}
		if _, err := aw.Write(att.Content); err != nil {
			return nil, fmt.Errorf("failed to write attachment %q: %w", att.Filename, err)
		}
		if err := aw.Close(); err != nil {
			return nil, fmt.Errorf("failed to close attachment part: %w", err)
		}
	}

	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("failed to close multipart writer: %w", err)
	}

	return buf.Bytes(), nil
}

// NewMessageID returns a unique Message-ID (without angle brackets) in the
// domain of the given sender address.
func NewMessageID(sender string) string {
	domain := "localhost"
	if at := strings.LastIndex(sender, "@"); at >= 0 && at < len(sender)-1 {
		domain = sender[at+1:]
	}
	return uuid.NewString() + "@" + domain
}
