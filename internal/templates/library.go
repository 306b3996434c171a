package templates

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/microcosm-cc/bluemonday"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/renderer/html"
)

// Library is the handle through which commands and handlers use templates.
// Every call reads the store; nothing is cached between calls.
type Library struct {
	store  Store
	md     goldmark.Markdown
	policy *bluemonday.Policy
	logger *slog.Logger
}

// NewLibrary wraps store. A nil logger uses slog.Default().
func NewLibrary(store Store, logger *slog.Logger) *Library {
	if logger == nil {
		logger = slog.Default()
	}

	return &Library{
		store: store,
		md: goldmark.New(
			goldmark.WithExtensions(extension.Linkify, extension.Table),
			goldmark.WithRendererOptions(html.WithUnsafe()),
		),
		policy: newPolicy(),
		logger: logger,
	}
}

// newPolicy allows the formatting an application letter needs, inline
// styles included, and strips scripts, handlers and javascript: URLs.
func newPolicy() *bluemonday.Policy {
	p := bluemonday.UGCPolicy()
	p.AllowElements("span", "div", "center", "font")
	p.AllowAttrs("color", "face").OnElements("font")
	p.AllowStyles(
		"color", "background-color", "font-family", "font-size", "font-weight",
		"font-style", "text-align", "text-decoration", "margin", "padding", "line-height",
	).Globally()
	return p
}

// All returns every template. A malformed document degrades to an empty set;
// the condition is logged so it stays observable.
func (l *Library) All(ctx context.Context) (map[string]string, error) {
	templates, err := l.store.Load(ctx)
	if err == nil {
		return templates, nil
	}
	if errors.Is(err, ErrStorageRead) {
		l.logger.Warn("template storage unreadable, continuing with empty set", "error", err)
		return map[string]string{}, nil
	}
	return nil, err
}

// List returns template names in lexical order.
func (l *Library) List(ctx context.Context) ([]string, error) {
	templates, err := l.All(ctx)
	if err != nil {
		return nil, err
	}

	names := make([]string, 0, len(templates))
	for name := range templates {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// Get returns the body stored under name.
func (l *Library) Get(ctx context.Context, name string) (string, error) {
	templates, err := l.All(ctx)
	if err != nil {
		return "", err
	}

	body, ok := templates[name]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrTemplateNotFound, name)
	}
	return body, nil
}

// Put sanitizes body and saves it under name, overwriting any previous body.
// It returns the body as stored.
func (l *Library) Put(ctx context.Context, name, body string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", ErrInvalidName
	}

	clean := strings.TrimSpace(l.policy.Sanitize(body))
	if clean == "" {
		return "", ErrEmptyBody
	}

	templates, err := l.All(ctx)
	if err != nil {
		return "", err
	}
	templates[name] = clean

	if err := l.store.Save(ctx, templates); err != nil {
		return "", err
	}

	l.logger.Info("template saved", "name", name, "bytes", len(clean))
	return clean, nil
}

// Import converts a Markdown document to HTML and stores it under name.
func (l *Library) Import(ctx context.Context, name string, markdown []byte) (string, error) {
	var buf bytes.Buffer
	if err := l.md.Convert(markdown, &buf); err != nil {
		return "", fmt.Errorf("failed to convert markdown: %w", err)
	}
	return l.Put(ctx, name, buf.String())
}

// Remove deletes name. Removing a missing template is not an error.
func (l *Library) Remove(ctx context.Context, name string) error {
	if err := l.store.Delete(ctx, name); err != nil {
		return err
	}
	l.logger.Info("template deleted", "name", name)
	return nil
}
