package profile

import (
	"testing"
)

func TestMergeDefaultsGrowsSchema(t *testing.T) {
	p := Profile{Name: "old", Fields: map[string]Field{
		"email":    {ID: "email", Label: "Email", Type: "email", Value: "a@b.com"},
		"homepage": {ID: "homepage", Label: "Homepage", Type: "url", Position: 1, IsCustomField: true},
	}}
	p.MergeDefaults()

	if got := p.Fields["email"].Value; got != "a@b.com" {
		t.Errorf("existing field overwritten: %q", got)
	}
	if _, ok := p.Fields["firstName"]; !ok {
		t.Error("missing default field not added")
	}
	// email already existed, so only the other defaults join the custom field.
	if got, want := len(p.Fields), len(DefaultSchema())+1; got != want {
		t.Errorf("field count: got %d, want %d", got, want)
	}
}

func TestMergeDefaultsOnEmptyProfile(t *testing.T) {
	var p Profile
	p.MergeDefaults()
	if got, want := len(p.Fields), len(DefaultSchema()); got != want {
		t.Errorf("field count: got %d, want %d", got, want)
	}
}

func TestSortedFieldsOrder(t *testing.T) {
	p := Profile{Fields: map[string]Field{
		"b":      {ID: "b", Position: 1},
		"a":      {ID: "a", Position: 0},
		"custom": {ID: "custom", Position: 0, IsCustomField: true},
		"late":   {ID: "late", Position: 5, IsCustomField: true},
	}}

	got := p.SortedFields()
	want := []string{"a", "b", "custom", "late"}
	if len(got) != len(want) {
		t.Fatalf("fields: %+v", got)
	}
	for i, id := range want {
		if got[i].ID != id {
			t.Errorf("position %d: got %q, want %q", i, got[i].ID, id)
		}
	}
}

func TestSortedFieldsCustomAfterDefaultOnTie(t *testing.T) {
	p := Profile{Fields: map[string]Field{
		"custom":  {ID: "custom", Position: 0, IsCustomField: true},
		"default": {ID: "default", Position: 3},
	}}
	got := p.SortedFields()
	if got[0].ID != "default" || got[1].ID != "custom" {
		t.Errorf("custom field must sort after defaults: %+v", got)
	}
}

func TestValuesOmitsEmptyFields(t *testing.T) {
	p := Profile{Fields: map[string]Field{
		"email": {ID: "email", Value: "a@b.com"},
		"phone": {ID: "phone"},
	}}
	got := p.Values()
	if len(got) != 1 || got["email"] != "a@b.com" {
		t.Errorf("values: %v", got)
	}
}
