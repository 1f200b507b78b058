package fill

import (
	"context"
	"testing"
)

// fakeControl records operations and events the way a live element would.
type fakeControl struct {
	value   string
	checked bool
	events  []string
}

func (c *fakeControl) CurrentValue(context.Context) (string, error) { return c.value, nil }

func (c *fakeControl) SetValue(_ context.Context, v string) error {
	c.value = v
	c.events = append(c.events, "input", "change")
	return nil
}

func (c *fakeControl) SelectOption(_ context.Context, v string) error {
	c.value = v
	c.events = append(c.events, "change")
	return nil
}

func (c *fakeControl) SetChecked(_ context.Context, checked bool) error {
	c.checked = checked
	c.events = append(c.events, "change")
	return nil
}

type fakeForm struct {
	controls map[string]*fakeControl
	radios   map[string]map[string]*fakeControl // selector → value → radio
}

func (f *fakeForm) Find(_ context.Context, selector string) (Control, error) {
	ctl, ok := f.controls[selector]
	if !ok {
		return nil, ErrTargetMissing
	}
	return ctl, nil
}

func (f *fakeForm) CheckRadio(_ context.Context, selector, value string) error {
	group, ok := f.radios[selector]
	if !ok {
		return ErrTargetMissing
	}
	radio, ok := group[value]
	if !ok {
		return ErrTargetMissing
	}
	radio.checked = true
	radio.events = append(radio.events, "change")
	return nil
}

type fakeResolver struct {
	forms map[string]*fakeForm
}

func (r *fakeResolver) Form(_ context.Context, formID string) (Form, error) {
	form, ok := r.forms[formID]
	if !ok {
		return nil, nil
	}
	return form, nil
}

func TestApplySetsValueAndFiresEvents(t *testing.T) {
	email := &fakeControl{}
	resolver := &fakeResolver{forms: map[string]*fakeForm{
		"f1": {controls: map[string]*fakeControl{"#email": email}},
	}}

	a := NewApplier(resolver, nil)
	err := a.Apply(context.Background(), "f1", []Instruction{
		{Selector: "#email", Value: "a@b.com", Type: "email"},
	})
	if err != nil {
		t.Fatal(err)
	}

	if email.value != "a@b.com" {
		t.Errorf("value: got %q", email.value)
	}
	wantEvents := []string{"input", "change"}
	if len(email.events) != 2 || email.events[0] != wantEvents[0] || email.events[1] != wantEvents[1] {
		t.Errorf("events: got %v, want %v", email.events, wantEvents)
	}
}

func TestApplyNeverOverwritesUserInput(t *testing.T) {
	city := &fakeControl{value: "Paris"}
	resolver := &fakeResolver{forms: map[string]*fakeForm{
		"f1": {controls: map[string]*fakeControl{"#city": city}},
	}}

	a := NewApplier(resolver, nil)
	err := a.Apply(context.Background(), "f1", []Instruction{
		{Selector: "#city", Value: "London", Type: "text"},
	})
	if err != nil {
		t.Fatal(err)
	}

	if city.value != "Paris" {
		t.Errorf("user input clobbered: got %q, want %q", city.value, "Paris")
	}
	if len(city.events) != 0 {
		t.Errorf("no events expected on skipped field, got %v", city.events)
	}
}

func TestApplySkipsEmptyValues(t *testing.T) {
	name := &fakeControl{}
	resolver := &fakeResolver{forms: map[string]*fakeForm{
		"f1": {controls: map[string]*fakeControl{"#name": name}},
	}}

	a := NewApplier(resolver, nil)
	err := a.Apply(context.Background(), "f1", []Instruction{
		{Selector: "#name", Value: "", Type: "text"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(name.events) != 0 {
		t.Errorf("empty value must be skipped, got events %v", name.events)
	}
}

func TestApplyMissingTargetSkipsNotFails(t *testing.T) {
	phone := &fakeControl{}
	resolver := &fakeResolver{forms: map[string]*fakeForm{
		"f1": {controls: map[string]*fakeControl{"#phone": phone}},
	}}

	a := NewApplier(resolver, nil)
	err := a.Apply(context.Background(), "f1", []Instruction{
		{Selector: "#gone", Value: "x", Type: "text"},
		{Selector: "#phone", Value: "555-0100", Type: "tel"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if phone.value != "555-0100" {
		t.Errorf("later instruction should still apply, got %q", phone.value)
	}
}

func TestApplyVanishedFormIsNoOp(t *testing.T) {
	a := NewApplier(&fakeResolver{forms: map[string]*fakeForm{}}, nil)
	err := a.Apply(context.Background(), "gone", []Instruction{
		{Selector: "#a", Value: "1", Type: "text"},
	})
	if err != nil {
		t.Errorf("vanished form must not error: %v", err)
	}
}

func TestApplyCheckbox(t *testing.T) {
	newsletter := &fakeControl{}
	resolver := &fakeResolver{forms: map[string]*fakeForm{
		"f1": {controls: map[string]*fakeControl{"#newsletter": newsletter}},
	}}

	a := NewApplier(resolver, nil)
	err := a.Apply(context.Background(), "f1", []Instruction{
		{Selector: "#newsletter", Value: "true", Type: "checkbox"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if !newsletter.checked {
		t.Error("checkbox should be checked")
	}
	if len(newsletter.events) != 1 || newsletter.events[0] != "change" {
		t.Errorf("events: got %v, want [change]", newsletter.events)
	}
}

func TestApplyRadioChecksMatchingValue(t *testing.T) {
	small := &fakeControl{}
	large := &fakeControl{}
	resolver := &fakeResolver{forms: map[string]*fakeForm{
		"f1": {radios: map[string]map[string]*fakeControl{
			"input[name=size]": {"small": small, "large": large},
		}},
	}}

	a := NewApplier(resolver, nil)
	err := a.Apply(context.Background(), "f1", []Instruction{
		{Selector: "input[name=size]", Value: "large", Type: "radio"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if small.checked {
		t.Error("wrong radio checked")
	}
	if !large.checked {
		t.Error("matching radio not checked")
	}
}

func TestApplySelect(t *testing.T) {
	country := &fakeControl{value: "us"} // default option pre-selected
	resolver := &fakeResolver{forms: map[string]*fakeForm{
		"f1": {controls: map[string]*fakeControl{"#country": country}},
	}}

	a := NewApplier(resolver, nil)
	err := a.Apply(context.Background(), "f1", []Instruction{
		{Selector: "#country", Value: "fr", Type: "select"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if country.value != "fr" {
		t.Errorf("select: got %q, want %q", country.value, "fr")
	}
	if len(country.events) != 1 || country.events[0] != "change" {
		t.Errorf("events: got %v, want [change]", country.events)
	}
}
