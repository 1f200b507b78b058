// Package registry tracks the per-form records of one browsing context:
// which form currently has focus, which have a cached fill plan, and the
// sanitized html sent to the model. Records are keyed by (form id, page URL)
// and persisted under a session-scoped storage key, so they are discarded
// with the browsing context and never explicitly deleted.
package registry

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/bakaburg1/form-butler/fill"
	"github.com/bakaburg1/form-butler/snapshot"
	"github.com/bakaburg1/form-butler/storage"
)

// FormRecord is the registry's view of one form.
type FormRecord struct {
	ID      string `json:"id"`
	URL     string `json:"url"`
	HTML    string `json:"html"`
	Focused bool   `json:"focused"`
	// Fulfilled is monotonic: set once a fill plan has been obtained and
	// applied, never reset within a record's lifetime.
	Fulfilled        bool               `json:"fulfilled"`
	FillInstructions []fill.Instruction `json:"fillInstructions"`
}

// Registry serializes every read-modify-write against the backing store.
// Two asynchronous flows touch it concurrently (a new focus event and a
// just-returned model response), so all operations run under one mutex.
type Registry struct {
	store  storage.Store
	key    string
	logger *slog.Logger
	mu     sync.Mutex
}

// New creates a Registry scoped to the given browsing session.
func New(store storage.Store, sessionID string, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		store:  store,
		key:    storage.FormsDataKey(sessionID),
		logger: logger,
	}
}

// Upsert records a focus event. The focused flag is cleared on every other
// record and set on the matching (id, url) record, which is created when
// unseen and refreshed in place when known. Idempotent: repeating the same
// snapshot yields one record and never resets Fulfilled.
func (r *Registry) Upsert(ctx context.Context, snap *snapshot.FormSnapshot) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	records, err := r.load(ctx)
	if err != nil {
		return err
	}

	found := false
	for i := range records {
		if records[i].ID == snap.ID && records[i].URL == snap.URL {
			records[i].HTML = snap.HTML
			records[i].Focused = true
			found = true
		} else {
			records[i].Focused = false
		}
	}
	if !found {
		records = append(records, FormRecord{
			ID:      snap.ID,
			URL:     snap.URL,
			HTML:    snap.HTML,
			Focused: true,
		})
	}

	return r.save(ctx, records)
}

// Focused returns the currently focused record, or nil when no form has
// focus yet.
func (r *Registry) Focused(ctx context.Context) (*FormRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	records, err := r.load(ctx)
	if err != nil {
		return nil, err
	}
	for i := range records {
		if records[i].Focused {
			rec := records[i]
			return &rec, nil
		}
	}
	return nil, nil
}

// Get returns the record for (id, url), or nil when unknown.
func (r *Registry) Get(ctx context.Context, id, url string) (*FormRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	records, err := r.load(ctx)
	if err != nil {
		return nil, err
	}
	for i := range records {
		if records[i].ID == id && records[i].URL == url {
			rec := records[i]
			return &rec, nil
		}
	}
	return nil, nil
}

// SetResult merges newly received instructions into the record's cached plan
// (incoming wins per selector) and marks it fulfilled. The record must exist:
// results are addressed by form id, and a record is always created by the
// focus event that started the request.
func (r *Registry) SetResult(ctx context.Context, id, url string, instructions []fill.Instruction) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	records, err := r.load(ctx)
	if err != nil {
		return err
	}
	for i := range records {
		if records[i].ID == id && records[i].URL == url {
			records[i].FillInstructions = fill.Merge(records[i].FillInstructions, instructions)
			records[i].Fulfilled = true
			return r.save(ctx, records)
		}
	}
	return fmt.Errorf("registry: no record for form %q at %q", id, url)
}

// List returns all records of the session.
func (r *Registry) List(ctx context.Context) ([]FormRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.load(ctx)
}

func (r *Registry) load(ctx context.Context) ([]FormRecord, error) {
	var records []FormRecord
	if _, err := storage.GetJSON(ctx, r.store, r.key, &records); err != nil {
		return nil, fmt.Errorf("registry: load: %w", err)
	}
	return records, nil
}

func (r *Registry) save(ctx context.Context, records []FormRecord) error {
	if err := storage.SetJSON(ctx, r.store, r.key, records); err != nil {
		return fmt.Errorf("registry: save: %w", err)
	}
	return nil
}
