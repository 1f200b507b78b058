package fill

import (
	"testing"

	"github.com/bakaburg1/form-butler/profile"
)

func TestResolvePlan(t *testing.T) {
	card := &profile.Card{
		Name:        "Personal",
		HolderName:  "Ada Lovelace",
		Number:      "4111111111111111",
		ExpiryMonth: "06",
		ExpiryYear:  "2030",
		CCV:         "123",
	}

	plan := []Instruction{
		{Selector: "#email", Value: "a@b.com", Type: "email"},
		{Selector: "#cc-name", Value: "holderName", Type: "text", Card: true},
		{Selector: "#cc-number", Value: "number", Type: "text", Card: true},
		{Selector: "#cc-exp-month", Value: "expiryMonth", Type: "select", Card: true},
		{Selector: "#cc-csc", Value: "ccv", Type: "text", Card: true},
	}

	resolved := ResolvePlan(plan, card, nil)
	if len(resolved) != 5 {
		t.Fatalf("got %d instructions, want 5", len(resolved))
	}

	want := []string{"a@b.com", "Ada Lovelace", "4111111111111111", "06", "123"}
	for i, w := range want {
		if resolved[i].Value.String() != w {
			t.Errorf("resolved[%d]: got %q, want %q", i, resolved[i].Value, w)
		}
	}

	// The cached plan must keep its placeholders: resolution is a copy.
	if plan[1].Value != "holderName" {
		t.Errorf("input plan mutated: %+v", plan[1])
	}
}

func TestResolvePlanNoCardDropsCardInstructions(t *testing.T) {
	plan := []Instruction{
		{Selector: "#email", Value: "a@b.com", Type: "email"},
		{Selector: "#cc-number", Value: "number", Type: "text", Card: true},
	}

	resolved := ResolvePlan(plan, nil, nil)
	if len(resolved) != 1 {
		t.Fatalf("got %d instructions, want 1", len(resolved))
	}
	if resolved[0].Selector != "#email" {
		t.Errorf("personal instruction should survive: %+v", resolved[0])
	}
}

func TestResolvePlanUnknownKey(t *testing.T) {
	card := &profile.Card{Number: "4111111111111111"}
	resolved := ResolvePlan([]Instruction{
		{Selector: "#x", Value: "somethingElse", Type: "text", Card: true},
	}, card, nil)
	if len(resolved) != 1 {
		t.Fatalf("got %d instructions", len(resolved))
	}
	if !resolved[0].Value.Empty() {
		t.Errorf("unknown key should resolve to empty, got %q", resolved[0].Value)
	}
}

func TestTagCards(t *testing.T) {
	in := []Instruction{{Selector: "#cc", Value: "number", Type: "text"}}
	tagged := TagCards(in)
	if !tagged[0].Card {
		t.Error("instruction not tagged")
	}
	if in[0].Card {
		t.Error("input slice mutated")
	}
}

func TestCardShapeBlanksSecrets(t *testing.T) {
	card := profile.Card{
		Name:        "Personal",
		HolderName:  "Ada Lovelace",
		Number:      "4111111111111111",
		ExpiryMonth: "06",
		ExpiryYear:  "2030",
		CCV:         "123",
	}
	shape := card.Shape()
	if shape.Number != "" || shape.CCV != "" || shape.ExpiryMonth != "" || shape.ExpiryYear != "" {
		t.Errorf("shape leaks secrets: %+v", shape)
	}
	if shape.Name != "Personal" {
		t.Errorf("shape should keep the card name, got %q", shape.Name)
	}
}
