// Package sendlog records the recipients that were successfully sent to.
package sendlog

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrStorageWrite indicates the log could not be appended to.
	ErrStorageWrite = errors.New("send log write failed")

	// ErrStorageRead indicates the log could not be read.
	ErrStorageRead = errors.New("send log read failed")
)

// Entry is one successfully dispatched recipient. The file backend only
// keeps the address; RunID and SentAt are empty there.
type Entry struct {
	RunID     string    `json:"run_id,omitempty"`
	Recipient string    `json:"recipient"`
	SentAt    time.Time `json:"sent_at,omitzero"`
}

// Log is an append-only record of delivered recipients.
type Log interface {
	// Append records recipients of one run. Existing entries are never
	// rewritten.
	Append(ctx context.Context, runID string, recipients []string) error

	// Recent returns up to limit of the newest entries, oldest first.
	// A limit <= 0 returns everything.
	Recent(ctx context.Context, limit int) ([]Entry, error)
}
