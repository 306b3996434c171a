// Package email defines the outbound message model and its RFC 5322 encoding.
package email

import "errors"

// DefaultAttachmentType is used when an attachment carries no content type.
const DefaultAttachmentType = "application/octet-stream"

var (
	// ErrNoRecipient indicates a message without a To address.
	ErrNoRecipient = errors.New("email must have at least one recipient")

	// ErrNoSender indicates a message without a From address.
	ErrNoSender = errors.New("email must have a sender")
)

// Email represents a single outbound message with all its components.
type Email struct {
	MessageID   string
	From        string
	To          []string
	Subject     string
	TextBody    string
	HtmlBody    string
	Attachments []Attachment
}

// Attachment represents a file attached to an email message.
type Attachment struct {
	Filename    string
	ContentType string
	Content     []byte
}

// MediaType returns the attachment content type, falling back to
// application/octet-stream.
func (a Attachment) MediaType() string {
	if a.ContentType == "" {
		return DefaultAttachmentType
	}
	return a.ContentType
}
