// Package profile manages the three named collections behind the completion
// pipeline: personal-information profiles, payment cards, and model
// configurations. All three are simple CRUD over the storage substrate with a
// "current" pointer each; the pipeline re-resolves the current entries on
// every completion cycle, so external edits take effect on next use.
package profile

import (
	"sort"
)

// Field is one entry of a personal profile.
type Field struct {
	ID            string `json:"id"`
	Label         string `json:"label"`
	Type          string `json:"type"`
	Value         string `json:"value"`
	Position      int    `json:"position"`
	IsCustomField bool   `json:"isCustomField"`
}

// Profile is a named mapping of field keys to values.
type Profile struct {
	Name   string           `json:"name"`
	Fields map[string]Field `json:"fields"`
}

// DefaultSchema returns the built-in profile fields. New profiles start from
// this; older stored profiles gain newly added defaults through
// MergeDefaults.
func DefaultSchema() map[string]Field {
	return map[string]Field{
		"firstName": {ID: "firstName", Label: "First name", Type: "text", Position: 0},
		"lastName":  {ID: "lastName", Label: "Last name", Type: "text", Position: 1},
		"email":     {ID: "email", Label: "Email", Type: "email", Position: 2},
		"phone":     {ID: "phone", Label: "Phone", Type: "tel", Position: 3},
		"address":   {ID: "address", Label: "Street address", Type: "text", Position: 4},
		"city":      {ID: "city", Label: "City", Type: "text", Position: 5},
		"province":  {ID: "province", Label: "State / Province", Type: "text", Position: 6},
		"zipCode":   {ID: "zipCode", Label: "ZIP / Postal code", Type: "text", Position: 7},
		"country":   {ID: "country", Label: "Country", Type: "text", Position: 8},
		"birthDate": {ID: "birthDate", Label: "Date of birth", Type: "date", Position: 9},
		"company":   {ID: "company", Label: "Company", Type: "text", Position: 10},
		"jobTitle":  {ID: "jobTitle", Label: "Job title", Type: "text", Position: 11},
		"website":   {ID: "website", Label: "Website", Type: "url", Position: 12},
	}
}

// MergeDefaults adds any default-schema field missing from the profile, so a
// profile stored before a schema addition automatically grows the new fields
// with empty values. Existing fields are never touched.
func (p *Profile) MergeDefaults() {
	if p.Fields == nil {
		p.Fields = make(map[string]Field)
	}
	for key, def := range DefaultSchema() {
		if _, ok := p.Fields[key]; !ok {
			p.Fields[key] = def
		}
	}
}

// SortedFields returns the profile's fields ordered by position ascending,
// with custom fields after default fields regardless of position ties.
func (p *Profile) SortedFields() []Field {
	fields := make([]Field, 0, len(p.Fields))
	for _, f := range p.Fields {
		fields = append(fields, f)
	}
	sort.SliceStable(fields, func(i, j int) bool {
		if fields[i].IsCustomField != fields[j].IsCustomField {
			return !fields[i].IsCustomField
		}
		if fields[i].Position != fields[j].Position {
			return fields[i].Position < fields[j].Position
		}
		return fields[i].ID < fields[j].ID
	})
	return fields
}

// Values returns the key → value mapping sent to the model, omitting fields
// the user left empty.
func (p *Profile) Values() map[string]string {
	out := make(map[string]string, len(p.Fields))
	for key, f := range p.Fields {
		if f.Value != "" {
			out[key] = f.Value
		}
	}
	return out
}
