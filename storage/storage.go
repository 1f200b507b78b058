// Package storage provides the asynchronous key-value substrate the rest of
// form-butler is written against. Values are opaque JSON documents; consumers
// marshal their own types. Two implementations exist: SQLite (persistent,
// WAL) and Memory (tests).
//
// The core never assumes a key is present. Missing keys are simply absent
// from Get results and callers apply their own defaults (see Settings).
package storage

import (
	"context"
	"encoding/json"
)

// Keys consumed and produced by the core.
const (
	KeyModels              = "models"
	KeyCurrentModel        = "currentModel"
	KeyProfiles            = "profiles"
	KeyCurrentProfile      = "currentProfile"
	KeyCards               = "cards"
	KeyCurrentCard         = "currentCard"
	KeyAutoFill            = "autoFill"
	KeyExtensionEnabled    = "extensionEnabled"
	KeyUseStoredCompletion = "useStoredCompletion"
)

// FormsDataKey returns the session-scoped key holding a page's form records.
// Records live and die with the browsing context, so the session ID is part
// of the key.
func FormsDataKey(sessionID string) string {
	return "formsData:" + sessionID
}

// Change notifies a subscriber that a key's value was replaced.
type Change struct {
	Key   string
	Value json.RawMessage
}

// Store is the asynchronous key-value interface. Implementations must make
// Set atomic across all given keys and must notify subscribers of every key
// they watch, in the order the writes happened.
type Store interface {
	// Get returns the values for the given keys. Keys with no stored value
	// are absent from the result map; that is not an error.
	Get(ctx context.Context, keys ...string) (map[string]json.RawMessage, error)

	// Set stores all given values atomically and fans out change
	// notifications to subscribers.
	Set(ctx context.Context, values map[string]json.RawMessage) error

	// Subscribe returns a channel receiving a Change for every subsequent
	// write to any of the given keys. The channel is closed when the store
	// closes. Slow consumers lose notifications rather than block writers.
	Subscribe(keys ...string) <-chan Change

	Close() error
}

// GetJSON fetches one key and unmarshals it into v. Returns false if the key
// is absent (v is left untouched).
func GetJSON(ctx context.Context, s Store, key string, v any) (bool, error) {
	vals, err := s.Get(ctx, key)
	if err != nil {
		return false, err
	}
	raw, ok := vals[key]
	if !ok || len(raw) == 0 {
		return false, nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return false, err
	}
	return true, nil
}

// SetJSON marshals v and stores it under key.
func SetJSON(ctx context.Context, s Store, key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return s.Set(ctx, map[string]json.RawMessage{key: raw})
}

// Settings are the user-facing toggles gating the completion pipeline.
type Settings struct {
	AutoFill            bool `json:"autoFill"`
	ExtensionEnabled    bool `json:"extensionEnabled"`
	UseStoredCompletion bool `json:"useStoredCompletion"`
}

// LoadSettings reads the three toggles, applying the defaults for absent
// keys: autoFill off, extension on, stored-completion reuse on.
func LoadSettings(ctx context.Context, s Store) (Settings, error) {
	out := Settings{
		AutoFill:            false,
		ExtensionEnabled:    true,
		UseStoredCompletion: true,
	}
	vals, err := s.Get(ctx, KeyAutoFill, KeyExtensionEnabled, KeyUseStoredCompletion)
	if err != nil {
		return out, err
	}
	readBool := func(key string, dst *bool) {
		if raw, ok := vals[key]; ok && len(raw) > 0 {
			var b bool
			if json.Unmarshal(raw, &b) == nil {
				*dst = b
			}
		}
	}
	readBool(KeyAutoFill, &out.AutoFill)
	readBool(KeyExtensionEnabled, &out.ExtensionEnabled)
	readBool(KeyUseStoredCompletion, &out.UseStoredCompletion)
	return out, nil
}

// SaveSettings stores all three toggles atomically.
func SaveSettings(ctx context.Context, s Store, set Settings) error {
	autoFill, _ := json.Marshal(set.AutoFill)
	enabled, _ := json.Marshal(set.ExtensionEnabled)
	stored, _ := json.Marshal(set.UseStoredCompletion)
	return s.Set(ctx, map[string]json.RawMessage{
		KeyAutoFill:            autoFill,
		KeyExtensionEnabled:    enabled,
		KeyUseStoredCompletion: stored,
	})
}
