package browser

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/go-rod/rod"

	"github.com/bakaburg1/form-butler/fill"
)

// Resolver locates live forms by the id the focus script assigned, across
// every open page. It backs the fill.Applier with real DOM access.
type Resolver struct {
	mgr    *Manager
	logger *slog.Logger
}

// NewResolver creates a Resolver over the manager's browser.
func NewResolver(mgr *Manager, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{mgr: mgr, logger: logger}
}

// Form finds the form across all open pages. A nil, nil return means the
// form is gone, which the applier treats as a silent no-op.
func (r *Resolver) Form(ctx context.Context, formID string) (fill.Form, error) {
	browser := r.mgr.Browser()
	if browser == nil {
		return nil, fmt.Errorf("browser: no active browser")
	}

	pages, err := browser.Pages()
	if err != nil {
		return nil, fmt.Errorf("browser: list pages: %w", err)
	}

	sel := formSelector(formID)
	for _, page := range pages {
		has, el, err := page.Context(ctx).Has(sel)
		if err != nil {
			r.logger.Debug("resolver: page lookup failed", "error", err)
			continue
		}
		if has {
			return &liveForm{el: el}, nil
		}
	}
	return nil, nil
}

// formSelector matches both ways the focus script identifies a form: its own
// DOM id or the assigned data attribute.
func formSelector(formID string) string {
	return fmt.Sprintf(`form[id=%q], form[data-formbutler-id=%q]`, formID, formID)
}

// liveForm is a fill.Form over a Rod element. All selectors resolve within
// the form subtree, never the whole document.
type liveForm struct {
	el *rod.Element
}

func (f *liveForm) Find(ctx context.Context, selector string) (fill.Control, error) {
	els, err := f.el.Context(ctx).Elements(selector)
	if err != nil {
		return nil, fmt.Errorf("browser: query %q: %w", selector, err)
	}
	if len(els) == 0 {
		return nil, fill.ErrTargetMissing
	}
	return &liveControl{el: els[0]}, nil
}

func (f *liveForm) CheckRadio(ctx context.Context, selector, value string) error {
	els, err := f.el.Context(ctx).Elements(selector)
	if err != nil {
		return fmt.Errorf("browser: query %q: %w", selector, err)
	}
	for _, el := range els {
		res, err := el.Context(ctx).Eval(`() => this.value`)
		if err != nil {
			return fmt.Errorf("browser: read radio value: %w", err)
		}
		if res.Value.Str() != value {
			continue
		}
		_, err = el.Context(ctx).Eval(`() => {
			this.checked = true;
			this.dispatchEvent(new Event('change', { bubbles: true }));
		}`)
		if err != nil {
			return fmt.Errorf("browser: check radio: %w", err)
		}
		return nil
	}
	return fill.ErrTargetMissing
}

// liveControl drives one element the way a user would, dispatching the
// native events page scripts listen for.
type liveControl struct {
	el *rod.Element
}

func (c *liveControl) CurrentValue(ctx context.Context) (string, error) {
	res, err := c.el.Context(ctx).Eval(`() => this.value || ''`)
	if err != nil {
		return "", fmt.Errorf("browser: read value: %w", err)
	}
	return res.Value.Str(), nil
}

func (c *liveControl) SetValue(ctx context.Context, value string) error {
	_, err := c.el.Context(ctx).Eval(`(value) => {
		this.value = value;
		this.dispatchEvent(new Event('input', { bubbles: true }));
		this.dispatchEvent(new Event('change', { bubbles: true }));
	}`, value)
	if err != nil {
		return fmt.Errorf("browser: set value: %w", err)
	}
	return nil
}

func (c *liveControl) SelectOption(ctx context.Context, value string) error {
	_, err := c.el.Context(ctx).Eval(`(value) => {
		this.value = value;
		if (this.value !== value) {
			// The model may echo the visible label instead of the value.
			for (const opt of this.options) {
				if (opt.textContent.trim() === value) {
					this.value = opt.value;
					break;
				}
			}
		}
		this.dispatchEvent(new Event('change', { bubbles: true }));
	}`, value)
	if err != nil {
		return fmt.Errorf("browser: select option: %w", err)
	}
	return nil
}

func (c *liveControl) SetChecked(ctx context.Context, checked bool) error {
	_, err := c.el.Context(ctx).Eval(`(checked) => {
		this.checked = checked;
		this.dispatchEvent(new Event('change', { bubbles: true }));
	}`, checked)
	if err != nil {
		return fmt.Errorf("browser: set checked: %w", err)
	}
	return nil
}
