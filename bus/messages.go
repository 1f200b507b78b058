package bus

import "github.com/bakaburg1/form-butler/fill"

// FormFocused reports that a fillable control inside a form gained focus.
// FormBody is the form's raw outerHTML; sanitation happens on the receiving
// side before anything leaves the process.
type FormFocused struct {
	FormID   string `json:"formId"`
	FormBody string `json:"formBody"`
	PageURL  string `json:"pageUrl"`
}

// RequestFormCompletion forces a completion request for a specific form,
// bypassing the auto-fill preference (the extension-enabled toggle still
// applies).
type RequestFormCompletion struct {
	FormID   string `json:"formId"`
	FormBody string `json:"formBody"`
	PageURL  string `json:"pageUrl"`
}

// FillForm is the manual "fill now" trigger for whichever form currently has
// focus.
type FillForm struct{}

// FormCompletionReady announces a finished fill plan. Card instruction
// values are placeholder key names here; secrets never travel on the bus.
type FormCompletionReady struct {
	FormID           string             `json:"formId"`
	FillInstructions []fill.Instruction `json:"fillInstructions"`
}

// FormCompletionError reports a failed completion attempt. FormID always
// identifies the originating form so receivers can clear per-form UI state
// precisely. Cancelled distinguishes deliberate aborts from real failures.
type FormCompletionError struct {
	FormID    string `json:"formId"`
	Err       string `json:"error"`
	Cancelled bool   `json:"cancelled,omitempty"`
}
