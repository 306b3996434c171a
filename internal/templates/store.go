// Package templates persists named HTML email templates.
package templates

import (
	"context"
	"errors"
)

var (
	// ErrStorageRead indicates the persisted document could not be read or
	// decoded. Load still returns a usable empty set alongside it.
	ErrStorageRead = errors.New("template storage read failed")

	// ErrStorageWrite indicates the persisted document could not be written.
	ErrStorageWrite = errors.New("template storage write failed")

	// ErrTemplateNotFound indicates no template exists under the given name.
	ErrTemplateNotFound = errors.New("template not found")

	// ErrInvalidName indicates an empty template name.
	ErrInvalidName = errors.New("template name must not be empty")

	// ErrEmptyBody indicates a template without content.
	ErrEmptyBody = errors.New("template body must not be empty")
)

// Store is the durable name-to-body mapping.
type Store interface {
	// Load returns all templates. A missing document yields an empty map
	// and no error. A malformed document yields an empty map and an error
	// wrapping ErrStorageRead.
	Load(ctx context.Context) (map[string]string, error)

	// Save replaces the whole document with the given mapping.
	Save(ctx context.Context, templates map[string]string) error

	// Delete removes name if present and persists immediately.
	// Deleting a missing name is not an error.
	Delete(ctx context.Context, name string) error
}
