// Package coordinator drives one browsing context's form-completion
// lifecycle: it decides, on focus or manual trigger, whether a form's cached
// fill plan can be reused or a new model request is needed; enforces
// single-flight semantics; routes model output into the form registry; and
// reports success or failure on the bus, always addressed by form id.
package coordinator

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/bakaburg1/form-butler/bus"
	"github.com/bakaburg1/form-butler/fill"
	"github.com/bakaburg1/form-butler/gateway"
	"github.com/bakaburg1/form-butler/idgen"
	"github.com/bakaburg1/form-butler/profile"
	"github.com/bakaburg1/form-butler/registry"
	"github.com/bakaburg1/form-butler/snapshot"
	"github.com/bakaburg1/form-butler/storage"
)

// State of the completion state machine. Terminal outcomes return to Idle
// immediately; Requesting is the only durable state and doubles as the
// single-flight guard.
type State int32

const (
	StateIdle State = iota
	StateRequesting
)

func (s State) String() string {
	if s == StateRequesting {
		return "requesting"
	}
	return "idle"
}

// Completer is the model gateway as the coordinator sees it.
type Completer interface {
	Complete(ctx context.Context, cfg profile.ModelConfig, req gateway.Request) (*gateway.Result, error)
}

// Filler applies a resolved fill plan to the live page.
type Filler interface {
	Apply(ctx context.Context, formID string, instructions []fill.Instruction) error
}

// Config wires a Coordinator.
type Config struct {
	Store    storage.Store
	Registry *registry.Registry
	Gateway  Completer
	Profiles *profile.Manager
	Bus      *bus.Bus
	Filler   Filler
	Logger   *slog.Logger
}

// Coordinator is the per-browsing-context completion state machine.
type Coordinator struct {
	store    storage.Store
	reg      *registry.Registry
	gw       Completer
	profiles *profile.Manager
	bus      *bus.Bus
	filler   Filler
	logger   *slog.Logger

	mu       sync.Mutex
	state    State
	runCtx   context.Context
	inflight context.CancelFunc
}

// New creates a Coordinator.
func New(cfg Config) *Coordinator {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		store:    cfg.Store,
		reg:      cfg.Registry,
		gw:       cfg.Gateway,
		profiles: cfg.Profiles,
		bus:      cfg.Bus,
		filler:   cfg.Filler,
		logger:   logger,
	}
}

// State returns the current machine state.
func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Abort cancels the in-flight model request, if any. The aborted attempt
// surfaces as a cancellation, not a failure.
func (c *Coordinator) Abort() {
	c.mu.Lock()
	cancel := c.inflight
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Run subscribes to the inbound topics and dispatches messages until ctx is
// done. Messages of one topic are handled in arrival order.
func (c *Coordinator) Run(ctx context.Context) {
	c.mu.Lock()
	c.runCtx = ctx
	c.mu.Unlock()

	// Configuration is re-resolved on every completion attempt; the
	// subscription only makes a selection switch visible in the logs.
	changes := c.store.Subscribe(
		storage.KeyCurrentModel,
		storage.KeyCurrentProfile,
		storage.KeyCurrentCard,
	)

	ch := c.bus.Subscribe(
		bus.TopicFormFocused,
		bus.TopicRequestFormCompletion,
		bus.TopicFillForm,
	)
	for {
		select {
		case <-ctx.Done():
			return
		case env, ok := <-ch:
			if !ok {
				return
			}
			c.dispatch(ctx, env)
		case change, ok := <-changes:
			if !ok {
				changes = nil
				continue
			}
			c.logger.Info("coordinator: configuration changed", "key", change.Key)
		}
	}
}

func (c *Coordinator) dispatch(ctx context.Context, env bus.Envelope) {
	switch msg := env.Payload.(type) {
	case bus.FormFocused:
		snap, err := snapshot.Extract(msg.FormID, msg.FormBody, msg.PageURL)
		if err != nil {
			c.logger.Error("coordinator: snapshot failed", "form_id", msg.FormID, "error", err)
			return
		}
		if err := c.OnFocus(ctx, snap); err != nil {
			c.logger.Error("coordinator: focus handling failed", "form_id", msg.FormID, "error", err)
		}

	case bus.RequestFormCompletion:
		snap, err := snapshot.Extract(msg.FormID, msg.FormBody, msg.PageURL)
		if err != nil {
			c.logger.Error("coordinator: snapshot failed", "form_id", msg.FormID, "error", err)
			return
		}
		if err := c.reg.Upsert(ctx, snap); err != nil {
			c.logger.Error("coordinator: upsert failed", "form_id", msg.FormID, "error", err)
			return
		}
		rec, err := c.reg.Get(ctx, snap.ID, snap.URL)
		if err != nil || rec == nil {
			c.logger.Error("coordinator: record lookup failed", "form_id", msg.FormID, "error", err)
			return
		}
		if err := c.trigger(ctx, rec); err != nil {
			c.logger.Error("coordinator: trigger failed", "form_id", msg.FormID, "error", err)
		}

	case bus.FillForm:
		if err := c.OnTrigger(ctx); err != nil {
			c.logger.Error("coordinator: manual trigger failed", "error", err)
		}
	}
}

// OnFocus records the focus event and, when the auto-fill preference is on,
// proceeds as a trigger. With auto-fill off the registry is still updated so
// a later manual trigger knows which form is current.
func (c *Coordinator) OnFocus(ctx context.Context, snap *snapshot.FormSnapshot) error {
	if err := c.reg.Upsert(ctx, snap); err != nil {
		return err
	}

	settings, err := storage.LoadSettings(ctx, c.store)
	if err != nil {
		c.logger.Warn("coordinator: settings unavailable, using defaults", "error", err)
	}
	if !settings.AutoFill {
		return nil
	}

	rec, err := c.reg.Get(ctx, snap.ID, snap.URL)
	if err != nil {
		return err
	}
	if rec == nil {
		return fmt.Errorf("coordinator: record vanished after upsert for form %q", snap.ID)
	}
	return c.trigger(ctx, rec)
}

// OnTrigger runs a completion for the currently focused form; a no-op when
// nothing has focus.
func (c *Coordinator) OnTrigger(ctx context.Context) error {
	rec, err := c.reg.Focused(ctx)
	if err != nil {
		return err
	}
	if rec == nil {
		c.logger.Debug("coordinator: trigger with no focused form")
		return nil
	}
	return c.trigger(ctx, rec)
}

func (c *Coordinator) trigger(ctx context.Context, rec *registry.FormRecord) error {
	settings, err := storage.LoadSettings(ctx, c.store)
	if err != nil {
		c.logger.Warn("coordinator: settings unavailable, using defaults", "error", err)
	}
	if !settings.ExtensionEnabled {
		c.logger.Debug("coordinator: disabled, trigger ignored", "form_id", rec.ID)
		return nil
	}

	if rec.Fulfilled && settings.UseStoredCompletion {
		return c.applyCached(ctx, rec)
	}

	c.mu.Lock()
	if c.state == StateRequesting {
		c.mu.Unlock()
		c.logger.Info("coordinator: request in flight, trigger dropped", "form_id", rec.ID)
		return nil
	}
	c.state = StateRequesting
	// The request must outlive the triggering call: tool and handler
	// contexts are cancelled as soon as they return, well before a model
	// round-trip finishes. Run on the coordinator's lifetime instead; Abort
	// and shutdown still cancel through reqCtx.
	base := c.runCtx
	if base == nil {
		base = context.WithoutCancel(ctx)
	}
	reqCtx, cancel := context.WithCancel(base)
	c.inflight = cancel
	c.mu.Unlock()

	go c.request(reqCtx, *rec)
	return nil
}

// applyCached reuses the stored plan, resolving card placeholders against
// whichever card is current right now.
func (c *Coordinator) applyCached(ctx context.Context, rec *registry.FormRecord) error {
	card, err := c.profiles.CurrentCard(ctx)
	if err != nil {
		return err
	}
	resolved := fill.ResolvePlan(rec.FillInstructions, card, c.logger)
	if err := c.filler.Apply(ctx, rec.ID, resolved); err != nil {
		return err
	}
	c.logger.Info("coordinator: cached plan applied", "form_id", rec.ID,
		"instructions", len(resolved))
	c.bus.Publish(bus.TopicFormCompletionReady, bus.FormCompletionReady{
		FormID:           rec.ID,
		FillInstructions: rec.FillInstructions,
	})
	return nil
}

// newAttemptID tags the log lines of one completion attempt so interleaved
// attempts stay distinguishable.
var newAttemptID = idgen.Prefixed("req_", idgen.NanoID(8))

// request performs one completion attempt. Every exit path releases the
// single-flight guard and reports an outcome on the bus, so a receiver never
// stays stuck in a processing state.
func (c *Coordinator) request(ctx context.Context, rec registry.FormRecord) {
	defer func() {
		c.mu.Lock()
		c.state = StateIdle
		c.inflight = nil
		c.mu.Unlock()
	}()

	logger := c.logger.With("attempt", newAttemptID())

	result, card, err := c.complete(ctx, rec)
	if err != nil {
		if gateway.IsCancellation(err) {
			logger.Info("coordinator: request cancelled", "form_id", rec.ID)
		} else {
			logger.Error("coordinator: completion failed", "form_id", rec.ID, "error", err)
		}
		c.bus.Publish(bus.TopicFormCompletionError, bus.FormCompletionError{
			FormID:    rec.ID,
			Err:       err.Error(),
			Cancelled: gateway.IsCancellation(err),
		})
		return
	}

	instructions := append(
		append([]fill.Instruction(nil), result.PersonalFillInstructions...),
		fill.TagCards(result.CardFillInstructions)...,
	)

	if err := c.reg.SetResult(ctx, rec.ID, rec.URL, instructions); err != nil {
		c.fail(logger, rec.ID, err)
		return
	}

	updated, err := c.reg.Get(ctx, rec.ID, rec.URL)
	if err != nil || updated == nil {
		c.fail(logger, rec.ID, fmt.Errorf("coordinator: reload record: %w", err))
		return
	}

	resolved := fill.ResolvePlan(updated.FillInstructions, card, logger)
	if err := c.filler.Apply(ctx, rec.ID, resolved); err != nil {
		c.fail(logger, rec.ID, err)
		return
	}

	logger.Info("coordinator: form completed", "form_id", rec.ID,
		"personal", len(result.PersonalFillInstructions),
		"card", len(result.CardFillInstructions))
	c.bus.Publish(bus.TopicFormCompletionReady, bus.FormCompletionReady{
		FormID:           rec.ID,
		FillInstructions: updated.FillInstructions,
	})
}

// complete gathers the current configuration and calls the gateway. The
// configuration is resolved fresh on every attempt; nothing is cached across
// completion cycles.
func (c *Coordinator) complete(ctx context.Context, rec registry.FormRecord) (*gateway.Result, *profile.Card, error) {
	model, err := c.profiles.CurrentModel(ctx)
	if err != nil {
		return nil, nil, err
	}
	if model == nil {
		return nil, nil, fmt.Errorf("%w: no model configuration selected", profile.ErrInvalidModelConfig)
	}

	personalInfo := map[string]string{}
	prof, err := c.profiles.CurrentProfile(ctx)
	if err != nil {
		return nil, nil, err
	}
	if prof != nil {
		personalInfo = prof.Values()
	} else {
		c.logger.Warn("coordinator: no personal profile selected", "form_id", rec.ID)
	}

	card, err := c.profiles.CurrentCard(ctx)
	if err != nil {
		return nil, nil, err
	}
	cardShape := profile.Card{}
	if card != nil {
		cardShape = card.Shape()
	}

	result, err := c.gw.Complete(ctx, *model, gateway.Request{
		FormBody:      rec.HTML,
		PersonalInfo:  personalInfo,
		CardStructure: cardShape,
	})
	if err != nil {
		return nil, nil, err
	}
	return result, card, nil
}

func (c *Coordinator) fail(logger *slog.Logger, formID string, err error) {
	logger.Error("coordinator: completion failed", "form_id", formID, "error", err)
	c.bus.Publish(bus.TopicFormCompletionError, bus.FormCompletionError{
		FormID: formID,
		Err:    err.Error(),
	})
}
