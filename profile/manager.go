package profile

import (
	"context"
	"fmt"

	"github.com/bakaburg1/form-butler/storage"
)

// Manager is the CRUD layer over the stored collections. It holds no cache:
// every read goes to storage, so changes made through any surface (HTTP API,
// MCP, another process sharing the database) are visible on next use.
type Manager struct {
	store storage.Store
}

// NewManager creates a Manager over the given store.
func NewManager(store storage.Store) *Manager {
	return &Manager{store: store}
}

// --- Profiles ---

// Profiles returns all stored profiles, each merged against the default
// schema.
func (m *Manager) Profiles(ctx context.Context) ([]Profile, error) {
	var profiles []Profile
	if _, err := storage.GetJSON(ctx, m.store, storage.KeyProfiles, &profiles); err != nil {
		return nil, fmt.Errorf("profile: load profiles: %w", err)
	}
	for i := range profiles {
		profiles[i].MergeDefaults()
	}
	return profiles, nil
}

// SaveProfile inserts or replaces a profile by name.
func (m *Manager) SaveProfile(ctx context.Context, p Profile) error {
	if p.Name == "" {
		return fmt.Errorf("profile: profile name is required")
	}
	profiles, err := m.Profiles(ctx)
	if err != nil {
		return err
	}
	replaced := false
	for i := range profiles {
		if profiles[i].Name == p.Name {
			profiles[i] = p
			replaced = true
			break
		}
	}
	if !replaced {
		profiles = append(profiles, p)
	}
	return storage.SetJSON(ctx, m.store, storage.KeyProfiles, profiles)
}

// DeleteProfile removes a profile by name. Deleting the current profile
// clears the current pointer.
func (m *Manager) DeleteProfile(ctx context.Context, name string) error {
	profiles, err := m.Profiles(ctx)
	if err != nil {
		return err
	}
	kept := profiles[:0]
	for _, p := range profiles {
		if p.Name != name {
			kept = append(kept, p)
		}
	}
	if err := storage.SetJSON(ctx, m.store, storage.KeyProfiles, kept); err != nil {
		return err
	}
	var current string
	if _, err := storage.GetJSON(ctx, m.store, storage.KeyCurrentProfile, &current); err == nil && current == name {
		return storage.SetJSON(ctx, m.store, storage.KeyCurrentProfile, "")
	}
	return nil
}

// CurrentProfile resolves the active profile, or nil when none is selected.
func (m *Manager) CurrentProfile(ctx context.Context) (*Profile, error) {
	var current string
	if _, err := storage.GetJSON(ctx, m.store, storage.KeyCurrentProfile, &current); err != nil {
		return nil, fmt.Errorf("profile: load current profile: %w", err)
	}
	if current == "" {
		return nil, nil
	}
	profiles, err := m.Profiles(ctx)
	if err != nil {
		return nil, err
	}
	for i := range profiles {
		if profiles[i].Name == current {
			return &profiles[i], nil
		}
	}
	return nil, nil
}

// SetCurrentProfile points the current marker at an existing profile.
func (m *Manager) SetCurrentProfile(ctx context.Context, name string) error {
	profiles, err := m.Profiles(ctx)
	if err != nil {
		return err
	}
	for _, p := range profiles {
		if p.Name == name {
			return storage.SetJSON(ctx, m.store, storage.KeyCurrentProfile, name)
		}
	}
	return fmt.Errorf("profile: no profile named %q", name)
}

// --- Cards ---

// Cards returns all stored payment cards.
func (m *Manager) Cards(ctx context.Context) ([]Card, error) {
	var cards []Card
	if _, err := storage.GetJSON(ctx, m.store, storage.KeyCards, &cards); err != nil {
		return nil, fmt.Errorf("profile: load cards: %w", err)
	}
	return cards, nil
}

// SaveCard inserts or replaces a card by name.
func (m *Manager) SaveCard(ctx context.Context, c Card) error {
	if c.Name == "" {
		return fmt.Errorf("profile: card name is required")
	}
	cards, err := m.Cards(ctx)
	if err != nil {
		return err
	}
	replaced := false
	for i := range cards {
		if cards[i].Name == c.Name {
			cards[i] = c
			replaced = true
			break
		}
	}
	if !replaced {
		cards = append(cards, c)
	}
	return storage.SetJSON(ctx, m.store, storage.KeyCards, cards)
}

// DeleteCard removes a card by name, clearing the current pointer if needed.
func (m *Manager) DeleteCard(ctx context.Context, name string) error {
	cards, err := m.Cards(ctx)
	if err != nil {
		return err
	}
	kept := cards[:0]
	for _, c := range cards {
		if c.Name != name {
			kept = append(kept, c)
		}
	}
	if err := storage.SetJSON(ctx, m.store, storage.KeyCards, kept); err != nil {
		return err
	}
	var current string
	if _, err := storage.GetJSON(ctx, m.store, storage.KeyCurrentCard, &current); err == nil && current == name {
		return storage.SetJSON(ctx, m.store, storage.KeyCurrentCard, "")
	}
	return nil
}

// CurrentCard resolves the active card, or nil when none is selected.
func (m *Manager) CurrentCard(ctx context.Context) (*Card, error) {
	var current string
	if _, err := storage.GetJSON(ctx, m.store, storage.KeyCurrentCard, &current); err != nil {
		return nil, fmt.Errorf("profile: load current card: %w", err)
	}
	if current == "" {
		return nil, nil
	}
	cards, err := m.Cards(ctx)
	if err != nil {
		return nil, err
	}
	for i := range cards {
		if cards[i].Name == current {
			return &cards[i], nil
		}
	}
	return nil, nil
}

// SetCurrentCard points the current marker at an existing card.
func (m *Manager) SetCurrentCard(ctx context.Context, name string) error {
	cards, err := m.Cards(ctx)
	if err != nil {
		return err
	}
	for _, c := range cards {
		if c.Name == name {
			return storage.SetJSON(ctx, m.store, storage.KeyCurrentCard, name)
		}
	}
	return fmt.Errorf("profile: no card named %q", name)
}

// --- Model configurations ---

// Models returns all stored model configurations.
func (m *Manager) Models(ctx context.Context) ([]ModelConfig, error) {
	var models []ModelConfig
	if _, err := storage.GetJSON(ctx, m.store, storage.KeyModels, &models); err != nil {
		return nil, fmt.Errorf("profile: load models: %w", err)
	}
	return models, nil
}

// SaveModel inserts or replaces a configuration by its derived label.
func (m *Manager) SaveModel(ctx context.Context, mc ModelConfig) error {
	if mc.Endpoint == "" {
		return fmt.Errorf("profile: model endpoint is required")
	}
	models, err := m.Models(ctx)
	if err != nil {
		return err
	}
	replaced := false
	for i := range models {
		if models[i].Label() == mc.Label() {
			models[i] = mc
			replaced = true
			break
		}
	}
	if !replaced {
		models = append(models, mc)
	}
	return storage.SetJSON(ctx, m.store, storage.KeyModels, models)
}

// DeleteModel removes a configuration by label.
func (m *Manager) DeleteModel(ctx context.Context, label string) error {
	models, err := m.Models(ctx)
	if err != nil {
		return err
	}
	kept := models[:0]
	for _, mc := range models {
		if mc.Label() != label {
			kept = append(kept, mc)
		}
	}
	if err := storage.SetJSON(ctx, m.store, storage.KeyModels, kept); err != nil {
		return err
	}
	var current string
	if _, err := storage.GetJSON(ctx, m.store, storage.KeyCurrentModel, &current); err == nil && current == label {
		return storage.SetJSON(ctx, m.store, storage.KeyCurrentModel, "")
	}
	return nil
}

// CurrentModel resolves the active model configuration, or nil when none is
// selected. The configuration is not validated here; the gateway validates
// at send time so edits between cycles are always honoured.
func (m *Manager) CurrentModel(ctx context.Context) (*ModelConfig, error) {
	var current string
	if _, err := storage.GetJSON(ctx, m.store, storage.KeyCurrentModel, &current); err != nil {
		return nil, fmt.Errorf("profile: load current model: %w", err)
	}
	if current == "" {
		return nil, nil
	}
	models, err := m.Models(ctx)
	if err != nil {
		return nil, err
	}
	for i := range models {
		if models[i].Label() == current {
			return &models[i], nil
		}
	}
	return nil, nil
}

// SetCurrentModel points the current marker at an existing configuration.
func (m *Manager) SetCurrentModel(ctx context.Context, label string) error {
	models, err := m.Models(ctx)
	if err != nil {
		return err
	}
	for _, mc := range models {
		if mc.Label() == label {
			return storage.SetJSON(ctx, m.store, storage.KeyCurrentModel, label)
		}
	}
	return fmt.Errorf("profile: no model configuration labelled %q", label)
}
