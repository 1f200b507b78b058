// Package snapshot produces privacy-safe structural copies of live forms.
//
// The in-page observer reports a form's raw outerHTML on focus; Extract
// reduces it to a skeleton safe to send to a model provider: scripts, styles
// and event handlers are stripped, non-fillable controls removed, and every
// user-enterable value cleared. The privacy boundary is here: nothing past
// this package ever sees what the user typed.
package snapshot

import (
	"fmt"
	"net/url"
	"strings"
)

// FormSnapshot is the model-facing description of one form.
type FormSnapshot struct {
	// ID is the stable identifier assigned in-page, opaque to this side.
	ID string `json:"id"`
	// HTML is the sanitized form skeleton.
	HTML string `json:"html"`
	// URL is the normalized page location, used for record scoping.
	URL string `json:"url"`
}

// Extract builds a snapshot from a form's raw outerHTML as reported by the
// focus observer. A form with no fillable fields yields a legitimate snapshot
// with no input elements; the model may well return zero instructions for it.
func Extract(formID, rawHTML, pageURL string) (*FormSnapshot, error) {
	if formID == "" {
		return nil, fmt.Errorf("snapshot: form id is required")
	}

	clean, err := sanitize(rawHTML)
	if err != nil {
		return nil, fmt.Errorf("snapshot: sanitize form %q: %w", formID, err)
	}

	return &FormSnapshot{
		ID:   formID,
		HTML: clean,
		URL:  NormalizeURL(pageURL),
	}, nil
}

// NormalizeURL strips the fragment and trailing slash so the same page
// always maps to the same record key.
func NormalizeURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	u.Fragment = ""
	out := u.String()
	if strings.HasSuffix(u.Path, "/") && u.Path != "/" {
		out = strings.TrimSuffix(out, "/")
	}
	return out
}
