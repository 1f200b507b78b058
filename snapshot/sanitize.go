package snapshot

import (
	"bytes"
	"strings"

	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// policy whitelists the markup a model needs to understand a form's
// structure and nothing more. Scripts, styles, and on* handlers never pass.
// The value attribute is allowed only on <option>, where it is the stable
// identifier the model must target; everywhere else values are user data.
var policy = func() *bluemonday.Policy {
	p := bluemonday.NewPolicy()
	p.AllowElements(
		"form", "fieldset", "legend", "label",
		"input", "textarea", "select", "option", "optgroup", "datalist",
		"div", "span", "p", "br", "ul", "ol", "li",
		"table", "thead", "tbody", "tr", "td", "th",
		"h1", "h2", "h3", "h4", "h5", "h6",
		"strong", "em", "small", "b", "i",
	)
	p.AllowAttrs(
		"id", "class", "name", "type", "placeholder", "autocomplete",
		"required", "min", "max", "step", "maxlength", "pattern",
		"for", "title", "role", "inputmode",
		"aria-label", "aria-labelledby", "aria-describedby", "aria-required",
	).Globally()
	p.AllowAttrs("value", "label").OnElements("option", "optgroup")
	return p
}()

// sanitize runs the bluemonday whitelist pass, then the structural pass:
// hidden inputs and submit/button/reset controls are removed, textarea
// content is cleared, and any value or state attribute that survived on a
// fillable control is dropped.
func sanitize(rawHTML string) (string, error) {
	clean := policy.Sanitize(rawHTML)

	doc, err := html.Parse(strings.NewReader(clean))
	if err != nil {
		return "", err
	}

	form := findForm(doc)
	if form == nil {
		// No <form> survived sanitation; render whatever body content did.
		form = findBody(doc)
		if form == nil {
			return "", nil
		}
		return renderChildren(form)
	}

	strip(form)

	var buf bytes.Buffer
	if err := html.Render(&buf, form); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func findForm(n *html.Node) *html.Node {
	if n.Type == html.ElementNode && n.DataAtom == atom.Form {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if f := findForm(c); f != nil {
			return f
		}
	}
	return nil
}

func findBody(n *html.Node) *html.Node {
	if n.Type == html.ElementNode && n.DataAtom == atom.Body {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if b := findBody(c); b != nil {
			return b
		}
	}
	return nil
}

func renderChildren(n *html.Node) (string, error) {
	var buf bytes.Buffer
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if err := html.Render(&buf, c); err != nil {
			return "", err
		}
	}
	return buf.String(), nil
}

// strip walks the form subtree removing non-fillable controls and clearing
// every remaining value.
func strip(n *html.Node) {
	var next *html.Node
	for c := n.FirstChild; c != nil; c = next {
		next = c.NextSibling
		if removable(c) {
			n.RemoveChild(c)
			continue
		}
		strip(c)
	}

	if n.Type != html.ElementNode {
		return
	}

	switch n.DataAtom {
	case atom.Input:
		dropAttrs(n, "value", "checked")
	case atom.Textarea:
		// The textarea's text content is the user-entered value.
		for c := n.FirstChild; c != nil; c = n.FirstChild {
			n.RemoveChild(c)
		}
	case atom.Option:
		dropAttrs(n, "selected")
	}
}

func removable(n *html.Node) bool {
	if n.Type != html.ElementNode {
		return false
	}
	switch n.DataAtom {
	case atom.Button:
		return true
	case atom.Input:
		switch strings.ToLower(attr(n, "type")) {
		case "hidden", "submit", "button", "reset", "image":
			return true
		}
	}
	return false
}

func attr(n *html.Node, name string) string {
	for _, a := range n.Attr {
		if a.Key == name {
			return a.Val
		}
	}
	return ""
}

func dropAttrs(n *html.Node, names ...string) {
	kept := n.Attr[:0]
	for _, a := range n.Attr {
		drop := false
		for _, name := range names {
			if a.Key == name {
				drop = true
				break
			}
		}
		if !drop {
			kept = append(kept, a)
		}
	}
	n.Attr = kept
}
