// Package render turns a stored template body into the final per-recipient HTML.
package render

import (
	"fmt"
	"html"
	"net/url"
	"strings"
)

// Placeholder tokens recognized in template bodies and subjects.
const (
	TokenRecipientName = "[Recipient Name]"
	TokenPosition      = "[Position Title]"
	TokenCompany       = "[Company Name]"
)

const (
	// DefaultSalutation is prepended when a body does not address the recipient.
	DefaultSalutation = "Dear " + TokenRecipientName + ",<br><br>\n"

	// DefaultRecipientName replaces TokenRecipientName when no name is known.
	DefaultRecipientName = "Hiring Manager"

	// DefaultSubject is the subject used when none is given.
	DefaultSubject = "Application for the position of " + TokenPosition
)

// Values are the substitution values for a single recipient.
type Values struct {
	RecipientName  string `json:"recipient_name,omitempty"`
	RecipientEmail string `json:"recipient_email,omitempty"`
	Position       string `json:"position,omitempty"`
	Company        string `json:"company,omitempty"`
}

// Renderer applies salutation, substitution and tracking rules to bodies.
// The zero value uses DefaultSalutation and DefaultRecipientName and adds no
// tracking pixel.
type Renderer struct {
	// Salutation must contain TokenRecipientName to be meaningful.
	Salutation string

	// DefaultName replaces an unknown recipient name.
	DefaultName string

	// TrackingURL, when set, appends an invisible image parameterized by
	// the recipient address.
	TrackingURL string
}

// Render produces the final HTML body. Unrecognized bracketed text is kept verbatim.
func (r Renderer) Render(body string, v Values) string {
	if !strings.Contains(body, TokenRecipientName) {
		body = r.salutation() + body
	}

	body = r.substitute(body, v, true)

	if r.TrackingURL != "" && v.RecipientEmail != "" {
		body += r.trackingPixel(v.RecipientEmail)
	}

	return body
}

// RenderSubject substitutes tokens in a subject line.
func (r Renderer) RenderSubject(subject string, v Values) string {
	if subject == "" {
		subject = DefaultSubject
	}
	return r.substitute(subject, v, false)
}

func (r Renderer) substitute(s string, v Values, escape bool) string {
	name := v.RecipientName
	if name == "" {
		name = r.DefaultName
		if name == "" {
			name = DefaultRecipientName
		}
	}

	quote := func(s string) string {
		if escape {
			return html.EscapeString(s)
		}
		return s
	}

	pairs := []string{TokenRecipientName, quote(name)}
	if v.Position != "" {
		pairs = append(pairs, TokenPosition, quote(v.Position))
	}
	if v.Company != "" {
		pairs = append(pairs, TokenCompany, quote(v.Company))
	}

	return strings.NewReplacer(pairs...).Replace(s)
}

func (r Renderer) salutation() string {
	if r.Salutation != "" {
		return r.Salutation
	}
	return DefaultSalutation
}

func (r Renderer) trackingPixel(recipient string) string {
	src := r.TrackingURL
	sep := "?"
	if strings.Contains(src, "?") {
		sep = "&"
	}
	src += sep + "r=" + url.QueryEscape(recipient)

	return fmt.Sprintf(`<img src="%s" width="1" height="1" alt="" style="display:none">`, html.EscapeString(src))
}
