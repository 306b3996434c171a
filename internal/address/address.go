// Package address validates recipient addresses taken from free-form input.
package address

import (
	"regexp"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// pattern is a syntactic filter only; no DNS or mailbox checks are made.
var pattern = regexp.MustCompile(`^[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}$`)

// Rejection is a non-blank input line that failed validation.
type Rejection struct {
	Line  int    `json:"line"`
	Value string `json:"value"`
}

// Result holds the outcome of parsing a recipient list.
// Only Accepted is used for sending; Rejected is informational.
type Result struct {
	Accepted []string    `json:"accepted"`
	Rejected []Rejection `json:"rejected,omitempty"`
}

// IsValid reports whether candidate is a syntactically valid address of the
// form local@domain.tld.
func IsValid(candidate string) bool {
	return pattern.MatchString(candidate)
}

// Parse validates every line of raw independently. Lines are trimmed, blank
// lines are ignored, and accepted addresses keep their input order without
// deduplication.
func Parse(raw string) Result {
	var res Result

	lines := strings.Split(strings.ReplaceAll(raw, "\r\n", "\n"), "\n")
	for i, line := range lines {
		candidate := strings.TrimSpace(line)
		if candidate == "" {
			continue
		}
		if IsValid(candidate) {
			res.Accepted = append(res.Accepted, candidate)
			continue
		}
		res.Rejected = append(res.Rejected, Rejection{Line: i + 1, Value: candidate})
	}

	return res
}

// NameFromAddress derives a display name from the local part of addr:
// "john.doe+jobs@acme.io" becomes "John Doe". It returns an empty string when
// nothing usable remains.
func NameFromAddress(addr string) string {
	local, _, found := strings.Cut(addr, "@")
	if !found {
		return ""
	}
	if tag, _, ok := strings.Cut(local, "+"); ok {
		local = tag
	}

	words := strings.FieldsFunc(local, func(r rune) bool {
		return r == '.' || r == '_' || r == '-' || r == '%' || (r >= '0' && r <= '9')
	})
	if len(words) == 0 {
		return ""
	}

	caser := cases.Title(language.English)
	return caser.String(strings.Join(words, " "))
}
