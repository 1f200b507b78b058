package fill

import (
	"log/slog"

	"github.com/bakaburg1/form-butler/profile"
)

// TagCards marks a batch of card instructions as card-placeholder carriers.
// The model emits card instructions in a separate list; after tagging they
// can be merged and cached alongside personal instructions without losing
// their identity.
func TagCards(instructions []Instruction) []Instruction {
	tagged := make([]Instruction, len(instructions))
	for i, in := range instructions {
		in.Card = true
		tagged[i] = in
	}
	return tagged
}

// ResolvePlan substitutes real card values for the placeholder keys of the
// card-tagged instructions in a plan. This is the only point where card
// secrets enter a fill plan, immediately before DOM application; the cached
// plan keeps its placeholders. With no current card the card instructions
// are dropped with a warning: a placeholder key must never reach a form
// field. Personal instructions pass through untouched.
func ResolvePlan(plan []Instruction, card *profile.Card, logger *slog.Logger) []Instruction {
	if logger == nil {
		logger = slog.Default()
	}

	resolved := make([]Instruction, 0, len(plan))
	dropped := 0
	for _, in := range plan {
		if !in.Card {
			resolved = append(resolved, in)
			continue
		}
		if card == nil {
			dropped++
			continue
		}
		in.Value = Value(card.Value(in.Value.String()))
		resolved = append(resolved, in)
	}
	if dropped > 0 {
		logger.Warn("fill: no current card, card instructions dropped", "count", dropped)
	}
	return resolved
}
