package fill

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// ErrTargetMissing reports a selector that resolves to no element in the
// live form. Per-instruction: the rest of the batch still applies.
var ErrTargetMissing = errors.New("fill: target element not found")

// Control is one fillable element in the live page. Implementations dispatch
// the native events a page script would see from real user input: input and
// change for SetValue, change for SelectOption and SetChecked.
type Control interface {
	CurrentValue(ctx context.Context) (string, error)
	SetValue(ctx context.Context, value string) error
	SelectOption(ctx context.Context, value string) error
	SetChecked(ctx context.Context, checked bool) error
}

// Form resolves controls inside one live form. Find returns ErrTargetMissing
// when the selector matches nothing. CheckRadio is separate because a radio
// instruction addresses a group: the element to check is the one sharing the
// selector whose value equals the instruction value.
type Form interface {
	Find(ctx context.Context, selector string) (Control, error)
	CheckRadio(ctx context.Context, selector, value string) error
}

// Resolver locates a form in the live page by its assigned id. A (nil, nil)
// return means the form is gone (navigation or removal), which aborts the
// batch as a no-op, not an error.
type Resolver interface {
	Form(ctx context.Context, formID string) (Form, error)
}

// Applier applies fill plans to live forms.
type Applier struct {
	resolver Resolver
	logger   *slog.Logger
}

// NewApplier creates an Applier over the given resolver.
func NewApplier(resolver Resolver, logger *slog.Logger) *Applier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Applier{resolver: resolver, logger: logger}
}

// Apply executes every instruction against the form identified by formID.
//
// Rules, in order: a vanished form is a silent no-op; instructions with an
// empty value are skipped; a text-like target whose current value is
// non-empty is left alone (never clobber what the user typed); a selector
// that resolves to nothing is logged and skipped without failing the batch.
func (a *Applier) Apply(ctx context.Context, formID string, instructions []Instruction) error {
	form, err := a.resolver.Form(ctx, formID)
	if err != nil {
		return fmt.Errorf("fill: resolve form %q: %w", formID, err)
	}
	if form == nil {
		a.logger.Debug("fill: form no longer present, skipping", "form_id", formID)
		return nil
	}

	for _, in := range instructions {
		if in.Value.Empty() {
			continue
		}
		if err := a.applyOne(ctx, form, in); err != nil {
			if errors.Is(err, ErrTargetMissing) {
				a.logger.Warn("fill: target missing, instruction skipped",
					"form_id", formID, "selector", in.Selector)
				continue
			}
			return fmt.Errorf("fill: apply %q on form %q: %w", in.Selector, formID, err)
		}
	}
	return nil
}

func (a *Applier) applyOne(ctx context.Context, form Form, in Instruction) error {
	if in.Kind() == KindRadio {
		return form.CheckRadio(ctx, in.Selector, in.Value.String())
	}

	ctl, err := form.Find(ctx, in.Selector)
	if err != nil {
		return err
	}

	switch in.Kind() {
	case KindCheckbox:
		return ctl.SetChecked(ctx, in.Value.Bool())

	case KindSelect:
		// No overwrite check here: a select always reports its default
		// option as a non-empty value, so the text-field rule would make
		// every select instruction a no-op.
		return ctl.SelectOption(ctx, in.Value.String())

	default:
		current, err := ctl.CurrentValue(ctx)
		if err != nil {
			return err
		}
		if current != "" {
			return nil
		}
		return ctl.SetValue(ctx, in.Value.String())
	}
}
