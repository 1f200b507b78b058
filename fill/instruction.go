// Package fill holds the fill-plan data model and the two halves of plan
// application: pure instruction arbitration (merge, card resolution, the
// never-overwrite rule) and live-DOM mutation behind the Control interface.
// Everything upstream of Apply operates on plain data.
package fill

import (
	"encoding/json"
	"strconv"
	"strings"
)

// Instruction maps one form field, addressed by a CSS selector scoped inside
// the form, to a value and a declared control type. For card instructions the
// value starts life as a placeholder (a card-shape key such as "cardNumber")
// and is only resolved to the real secret inside the filler.
type Instruction struct {
	Selector string `json:"selector"`
	Value    Value  `json:"value"`
	Type     string `json:"type"`
	// Card marks an instruction whose value is a card-shape placeholder
	// key. The flag survives caching so resolution can happen on every
	// application, against whichever card is current at that moment.
	Card bool `json:"card,omitempty"`
}

// Kind collapses the declared control type into the four behaviours the
// filler distinguishes.
type Kind int

const (
	KindTextLike Kind = iota // text, email, tel, textarea, number, date, ...
	KindSelect
	KindCheckbox
	KindRadio
)

// Kind returns the application behaviour for the instruction's declared type.
func (i Instruction) Kind() Kind {
	switch strings.ToLower(i.Type) {
	case "select", "select-one", "select-multiple":
		return KindSelect
	case "checkbox":
		return KindCheckbox
	case "radio":
		return KindRadio
	default:
		return KindTextLike
	}
}

// Value is a fill value as produced by the model. The JSON may carry a
// string, a boolean, or a number; all are normalised to their string form so
// downstream code has a single representation.
type Value string

// UnmarshalJSON accepts string, bool, and number tokens.
func (v *Value) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*v = Value(s)
		return nil
	}
	var b bool
	if err := json.Unmarshal(data, &b); err == nil {
		*v = Value(strconv.FormatBool(b))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err == nil {
		*v = Value(n.String())
		return nil
	}
	// null and anything else degrade to empty.
	*v = ""
	return nil
}

// MarshalJSON emits the string form.
func (v Value) MarshalJSON() ([]byte, error) {
	return json.Marshal(string(v))
}

// String returns the normalised string form.
func (v Value) String() string { return string(v) }

// Empty reports whether there is nothing to fill.
func (v Value) Empty() bool { return string(v) == "" }

// Bool interprets the value as a checkbox state. "true" (any case), "1" and
// "on" check the box; everything else unchecks it.
func (v Value) Bool() bool {
	switch strings.ToLower(string(v)) {
	case "true", "1", "on", "yes", "checked":
		return true
	}
	return false
}
