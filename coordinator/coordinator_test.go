package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bakaburg1/form-butler/bus"
	"github.com/bakaburg1/form-butler/fill"
	"github.com/bakaburg1/form-butler/gateway"
	"github.com/bakaburg1/form-butler/profile"
	"github.com/bakaburg1/form-butler/registry"
	"github.com/bakaburg1/form-butler/snapshot"
	"github.com/bakaburg1/form-butler/storage"
)

type fakeGateway struct {
	mu      sync.Mutex
	calls   int
	result  *gateway.Result
	err     error
	started chan struct{}
	release chan struct{}
}

func (g *fakeGateway) Complete(ctx context.Context, _ profile.ModelConfig, _ gateway.Request) (*gateway.Result, error) {
	g.mu.Lock()
	g.calls++
	g.mu.Unlock()
	if g.started != nil {
		g.started <- struct{}{}
	}
	if g.release != nil {
		select {
		case <-g.release:
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %v", gateway.ErrCancelled, ctx.Err())
		}
	}
	if g.err != nil {
		return nil, g.err
	}
	return g.result, nil
}

func (g *fakeGateway) Calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}

type fakeFiller struct {
	mu      sync.Mutex
	applied map[string][]fill.Instruction
	err     error
}

func (f *fakeFiller) Apply(_ context.Context, formID string, instructions []fill.Instruction) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	if f.applied == nil {
		f.applied = make(map[string][]fill.Instruction)
	}
	f.applied[formID] = append([]fill.Instruction(nil), instructions...)
	return nil
}

func (f *fakeFiller) appliedTo(formID string) []fill.Instruction {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.applied[formID]
}

type fixture struct {
	coord  *Coordinator
	store  storage.Store
	reg    *registry.Registry
	gw     *fakeGateway
	filler *fakeFiller
	bus    *bus.Bus
}

func newFixture(t *testing.T, gw *fakeGateway) *fixture {
	t.Helper()
	store := storage.NewMemory()
	reg := registry.New(store, "sess-1", nil)
	b := bus.New()
	t.Cleanup(func() { b.Close() })

	profiles := profile.NewManager(store)
	ctx := context.Background()
	model := profile.ModelConfig{
		Name:     "gpt-4o",
		Endpoint: "api.openai.com",
		APISpec:  profile.SpecOpenAI,
		APIKey:   "k",
	}
	if err := profiles.SaveModel(ctx, model); err != nil {
		t.Fatal(err)
	}
	if err := profiles.SetCurrentModel(ctx, model.Label()); err != nil {
		t.Fatal(err)
	}
	p := profile.Profile{Name: "default", Fields: map[string]profile.Field{
		"email": {ID: "email", Label: "Email", Type: "email", Value: "a@b.com"},
	}}
	if err := profiles.SaveProfile(ctx, p); err != nil {
		t.Fatal(err)
	}
	if err := profiles.SetCurrentProfile(ctx, "default"); err != nil {
		t.Fatal(err)
	}

	filler := &fakeFiller{}
	coord := New(Config{
		Store:    store,
		Registry: reg,
		Gateway:  gw,
		Profiles: profiles,
		Bus:      b,
		Filler:   filler,
	})
	return &fixture{coord: coord, store: store, reg: reg, gw: gw, filler: filler, bus: b}
}

func (f *fixture) focus(t *testing.T, id, url string) *registry.FormRecord {
	t.Helper()
	ctx := context.Background()
	snap, err := snapshot.Extract(id, "<form><input type='email' id='email'></form>", url)
	if err != nil {
		t.Fatal(err)
	}
	if err := f.reg.Upsert(ctx, snap); err != nil {
		t.Fatal(err)
	}
	rec, err := f.reg.Get(ctx, snap.ID, snap.URL)
	if err != nil || rec == nil {
		t.Fatalf("record after upsert: %v %v", rec, err)
	}
	return rec
}

func waitEnvelope(t *testing.T, ch <-chan bus.Envelope) bus.Envelope {
	t.Helper()
	select {
	case env := <-ch:
		return env
	case <-time.After(3 * time.Second):
		t.Fatal("no bus message within 3s")
		return bus.Envelope{}
	}
}

func emailResult() *gateway.Result {
	return &gateway.Result{
		PersonalFillInstructions: []fill.Instruction{
			{Selector: "#email", Value: "a@b.com", Type: "email"},
		},
	}
}

func TestTriggerFillsFocusedForm(t *testing.T) {
	gw := &fakeGateway{result: emailResult()}
	f := newFixture(t, gw)
	ctx := context.Background()

	f.focus(t, "f1", "https://shop.example/checkout")
	ready := f.bus.Subscribe(bus.TopicFormCompletionReady)

	if err := f.coord.OnTrigger(ctx); err != nil {
		t.Fatal(err)
	}

	env := waitEnvelope(t, ready)
	msg, ok := env.Payload.(bus.FormCompletionReady)
	if !ok {
		t.Fatalf("payload: %T", env.Payload)
	}
	if msg.FormID != "f1" {
		t.Errorf("form id: got %q", msg.FormID)
	}
	if len(msg.FillInstructions) != 1 || msg.FillInstructions[0].Selector != "#email" {
		t.Errorf("instructions: %+v", msg.FillInstructions)
	}

	applied := f.filler.appliedTo("f1")
	if len(applied) != 1 || applied[0].Value.String() != "a@b.com" {
		t.Errorf("applied: %+v", applied)
	}

	rec, err := f.reg.Get(ctx, "f1", "https://shop.example/checkout")
	if err != nil {
		t.Fatal(err)
	}
	if !rec.Fulfilled {
		t.Error("record must be fulfilled after completion")
	}
	if f.coord.State() != StateIdle {
		t.Errorf("state: got %v", f.coord.State())
	}
}

func TestSecondTriggerDroppedWhileRequesting(t *testing.T) {
	gw := &fakeGateway{
		result:  emailResult(),
		started: make(chan struct{}, 1),
		release: make(chan struct{}),
	}
	f := newFixture(t, gw)
	ctx := context.Background()

	f.focus(t, "f1", "https://shop.example")
	ready := f.bus.Subscribe(bus.TopicFormCompletionReady)

	if err := f.coord.OnTrigger(ctx); err != nil {
		t.Fatal(err)
	}
	<-gw.started

	// Second trigger while the first request is in flight: dropped, not
	// queued.
	if err := f.coord.OnTrigger(ctx); err != nil {
		t.Fatal(err)
	}
	if got := f.coord.State(); got != StateRequesting {
		t.Fatalf("state during flight: %v", got)
	}

	close(gw.release)
	waitEnvelope(t, ready)

	if got := gw.Calls(); got != 1 {
		t.Errorf("gateway calls: got %d, want 1", got)
	}
}

func TestErrorAddressedByOriginatingForm(t *testing.T) {
	gw := &fakeGateway{err: fmt.Errorf("%w: provider said no", gateway.ErrNetwork)}
	f := newFixture(t, gw)
	ctx := context.Background()

	f.focus(t, "f1", "https://a.example")
	f.focus(t, "f2", "https://a.example")
	errCh := f.bus.Subscribe(bus.TopicFormCompletionError)

	if err := f.coord.OnTrigger(ctx); err != nil {
		t.Fatal(err)
	}

	env := waitEnvelope(t, errCh)
	msg, ok := env.Payload.(bus.FormCompletionError)
	if !ok {
		t.Fatalf("payload: %T", env.Payload)
	}
	if msg.FormID != "f2" {
		t.Errorf("error form id: got %q, want f2", msg.FormID)
	}
	if msg.Cancelled {
		t.Error("network failure must not be flagged as cancellation")
	}

	select {
	case extra := <-errCh:
		t.Fatalf("unexpected second error message: %+v", extra)
	case <-time.After(100 * time.Millisecond):
	}
	if f.coord.State() != StateIdle {
		t.Errorf("state after failure: %v", f.coord.State())
	}
}

func TestAbortReportsCancellation(t *testing.T) {
	gw := &fakeGateway{
		started: make(chan struct{}, 1),
		release: make(chan struct{}),
	}
	f := newFixture(t, gw)
	ctx := context.Background()

	f.focus(t, "f1", "https://a.example")
	errCh := f.bus.Subscribe(bus.TopicFormCompletionError)

	if err := f.coord.OnTrigger(ctx); err != nil {
		t.Fatal(err)
	}
	<-gw.started
	f.coord.Abort()

	env := waitEnvelope(t, errCh)
	msg := env.Payload.(bus.FormCompletionError)
	if !msg.Cancelled {
		t.Errorf("abort must surface as cancellation: %+v", msg)
	}
}

func TestCachedPlanSkipsGateway(t *testing.T) {
	gw := &fakeGateway{result: emailResult()}
	f := newFixture(t, gw)
	ctx := context.Background()

	rec := f.focus(t, "f1", "https://a.example")
	cached := []fill.Instruction{{Selector: "#email", Value: "a@b.com", Type: "email"}}
	if err := f.reg.SetResult(ctx, rec.ID, rec.URL, cached); err != nil {
		t.Fatal(err)
	}
	ready := f.bus.Subscribe(bus.TopicFormCompletionReady)

	if err := f.coord.OnTrigger(ctx); err != nil {
		t.Fatal(err)
	}

	env := waitEnvelope(t, ready)
	if got := env.Payload.(bus.FormCompletionReady).FormID; got != "f1" {
		t.Errorf("form id: %q", got)
	}
	if gw.Calls() != 0 {
		t.Errorf("gateway calls with cached plan: got %d, want 0", gw.Calls())
	}
	if got := f.filler.appliedTo("f1"); len(got) != 1 {
		t.Errorf("applied: %+v", got)
	}
}

func TestCachedPlanDisabledRequestsAgain(t *testing.T) {
	gw := &fakeGateway{result: emailResult()}
	f := newFixture(t, gw)
	ctx := context.Background()

	if err := storage.SaveSettings(ctx, f.store, storage.Settings{
		ExtensionEnabled:    true,
		UseStoredCompletion: false,
	}); err != nil {
		t.Fatal(err)
	}

	rec := f.focus(t, "f1", "https://a.example")
	if err := f.reg.SetResult(ctx, rec.ID, rec.URL, []fill.Instruction{
		{Selector: "#email", Value: "old@b.com", Type: "email"},
	}); err != nil {
		t.Fatal(err)
	}
	ready := f.bus.Subscribe(bus.TopicFormCompletionReady)

	if err := f.coord.OnTrigger(ctx); err != nil {
		t.Fatal(err)
	}
	waitEnvelope(t, ready)

	if gw.Calls() != 1 {
		t.Errorf("gateway calls: got %d, want 1", gw.Calls())
	}
}

func TestFocusRespectsAutoFillPreference(t *testing.T) {
	gw := &fakeGateway{result: emailResult()}
	f := newFixture(t, gw)
	ctx := context.Background()

	snap, err := snapshot.Extract("f1", "<form><input id='email'></form>", "https://a.example")
	if err != nil {
		t.Fatal(err)
	}

	// Auto-fill defaults to off: the focus is recorded but no request runs.
	if err := f.coord.OnFocus(ctx, snap); err != nil {
		t.Fatal(err)
	}
	if gw.Calls() != 0 {
		t.Fatalf("gateway calls with auto-fill off: %d", gw.Calls())
	}
	rec, err := f.reg.Focused(ctx)
	if err != nil || rec == nil || rec.ID != "f1" {
		t.Fatalf("focus must still be recorded: %v %v", rec, err)
	}

	ready := f.bus.Subscribe(bus.TopicFormCompletionReady)
	if err := storage.SaveSettings(ctx, f.store, storage.Settings{
		AutoFill:            true,
		ExtensionEnabled:    true,
		UseStoredCompletion: true,
	}); err != nil {
		t.Fatal(err)
	}
	if err := f.coord.OnFocus(ctx, snap); err != nil {
		t.Fatal(err)
	}
	waitEnvelope(t, ready)
	if gw.Calls() != 1 {
		t.Errorf("gateway calls with auto-fill on: %d", gw.Calls())
	}
}

func TestDisabledExtensionIgnoresTriggers(t *testing.T) {
	gw := &fakeGateway{result: emailResult()}
	f := newFixture(t, gw)
	ctx := context.Background()

	if err := storage.SaveSettings(ctx, f.store, storage.Settings{
		ExtensionEnabled: false,
	}); err != nil {
		t.Fatal(err)
	}
	f.focus(t, "f1", "https://a.example")

	if err := f.coord.OnTrigger(ctx); err != nil {
		t.Fatal(err)
	}
	time.Sleep(50 * time.Millisecond)
	if gw.Calls() != 0 {
		t.Errorf("gateway calls while disabled: %d", gw.Calls())
	}
}

func TestTriggerWithoutFocusIsNoOp(t *testing.T) {
	gw := &fakeGateway{result: emailResult()}
	f := newFixture(t, gw)

	if err := f.coord.OnTrigger(context.Background()); err != nil {
		t.Fatal(err)
	}
	if gw.Calls() != 0 {
		t.Errorf("gateway calls without focus: %d", gw.Calls())
	}
}

func TestNoModelConfiguredFailsAsConfigError(t *testing.T) {
	gw := &fakeGateway{result: emailResult()}
	f := newFixture(t, gw)
	ctx := context.Background()

	// Drop the model set up by the fixture; deletion clears the current
	// pointer with it.
	profiles := profile.NewManager(f.store)
	if err := profiles.DeleteModel(ctx, "api.openai.com/gpt-4o"); err != nil {
		t.Fatal(err)
	}
	f.focus(t, "f1", "https://a.example")
	errCh := f.bus.Subscribe(bus.TopicFormCompletionError)

	if err := f.coord.OnTrigger(ctx); err != nil {
		t.Fatal(err)
	}
	msg := waitEnvelope(t, errCh).Payload.(bus.FormCompletionError)
	if msg.FormID != "f1" || msg.Cancelled {
		t.Errorf("config error message: %+v", msg)
	}
	if gw.Calls() != 0 {
		t.Errorf("gateway must not be called without a model: %d", gw.Calls())
	}
}

func TestCardPlaceholdersCachedUnresolved(t *testing.T) {
	gw := &fakeGateway{result: &gateway.Result{
		CardFillInstructions: []fill.Instruction{
			{Selector: "#cc-number", Value: "number", Type: "text"},
			{Selector: "#cc-name", Value: "holderName", Type: "text"},
		},
	}}
	f := newFixture(t, gw)
	ctx := context.Background()

	profiles := profile.NewManager(f.store)
	card := profile.Card{
		Name:       "personal visa",
		HolderName: "Ada Lovelace",
		Number:     "4111111111111111",
	}
	if err := profiles.SaveCard(ctx, card); err != nil {
		t.Fatal(err)
	}
	if err := profiles.SetCurrentCard(ctx, card.Name); err != nil {
		t.Fatal(err)
	}

	f.focus(t, "f1", "https://pay.example")
	ready := f.bus.Subscribe(bus.TopicFormCompletionReady)
	if err := f.coord.OnTrigger(ctx); err != nil {
		t.Fatal(err)
	}
	msg := waitEnvelope(t, ready).Payload.(bus.FormCompletionReady)

	// Bus and registry keep the placeholder; only the filler sees the PAN.
	for _, in := range msg.FillInstructions {
		if in.Value.String() == card.Number {
			t.Fatalf("card number leaked onto the bus: %+v", in)
		}
		if !in.Card {
			t.Errorf("card instruction must be tagged: %+v", in)
		}
	}
	rec, err := f.reg.Get(ctx, "f1", "https://pay.example")
	if err != nil {
		t.Fatal(err)
	}
	if got := rec.FillInstructions[0].Value.String(); got != "number" {
		t.Errorf("cached value: got %q, want placeholder", got)
	}

	applied := f.filler.appliedTo("f1")
	if len(applied) != 2 {
		t.Fatalf("applied: %+v", applied)
	}
	if applied[0].Value.String() != card.Number {
		t.Errorf("filler value: got %q, want real number", applied[0].Value)
	}
	if applied[1].Value.String() != "Ada Lovelace" {
		t.Errorf("filler holder: got %q", applied[1].Value)
	}
}

func TestFillerFailureReportsError(t *testing.T) {
	gw := &fakeGateway{result: emailResult()}
	f := newFixture(t, gw)
	f.filler.err = errors.New("element detached")
	ctx := context.Background()

	f.focus(t, "f1", "https://a.example")
	errCh := f.bus.Subscribe(bus.TopicFormCompletionError)

	if err := f.coord.OnTrigger(ctx); err != nil {
		t.Fatal(err)
	}
	msg := waitEnvelope(t, errCh).Payload.(bus.FormCompletionError)
	if msg.FormID != "f1" || msg.Cancelled {
		t.Errorf("filler failure message: %+v", msg)
	}
}

func TestRunDispatchesBusMessages(t *testing.T) {
	gw := &fakeGateway{result: emailResult()}
	f := newFixture(t, gw)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go f.coord.Run(ctx)
	ready := f.bus.Subscribe(bus.TopicFormCompletionReady)

	// Focus with auto-fill off just records the form.
	f.bus.Publish(bus.TopicFormFocused, bus.FormFocused{
		FormID:   "f1",
		FormBody: "<form><input id='email'></form>",
		PageURL:  "https://a.example/page#frag",
	})

	deadline := time.Now().Add(3 * time.Second)
	for {
		rec, err := f.reg.Focused(ctx)
		if err != nil {
			t.Fatal(err)
		}
		if rec != nil {
			if rec.URL != "https://a.example/page" {
				t.Errorf("url not normalized: %q", rec.URL)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("focus message never handled")
		}
		time.Sleep(10 * time.Millisecond)
	}

	// The manual fill trigger runs a completion.
	f.bus.Publish(bus.TopicFillForm, bus.FillForm{})
	msg := waitEnvelope(t, ready).Payload.(bus.FormCompletionReady)
	if msg.FormID != "f1" {
		t.Errorf("form id: %q", msg.FormID)
	}
}

type logBuffer struct {
	mu  sync.Mutex
	buf []byte
}

func (b *logBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.buf = append(b.buf, p...)
	return len(p), nil
}

func (b *logBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return string(b.buf)
}

func TestRunLogsConfigurationChanges(t *testing.T) {
	gw := &fakeGateway{result: emailResult()}
	f := newFixture(t, gw)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	out := &logBuffer{}
	coord := New(Config{
		Store:    f.store,
		Registry: f.reg,
		Gateway:  gw,
		Profiles: profile.NewManager(f.store),
		Bus:      f.bus,
		Filler:   f.filler,
		Logger:   slog.New(slog.NewTextHandler(out, nil)),
	})
	go coord.Run(ctx)

	// The store only notifies writes made after Run subscribed; keep
	// rewriting the pointer until the change shows up in the log.
	profiles := profile.NewManager(f.store)
	deadline := time.Now().Add(3 * time.Second)
	for {
		if err := profiles.SetCurrentProfile(ctx, "default"); err != nil {
			t.Fatal(err)
		}
		if strings.Contains(out.String(), "configuration changed") &&
			strings.Contains(out.String(), storage.KeyCurrentProfile) {
			return
		}
		if time.Now().After(deadline) {
			t.Fatal("configuration change never logged")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestExplicitRequestBypassesAutoFillGate(t *testing.T) {
	gw := &fakeGateway{result: emailResult()}
	f := newFixture(t, gw)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go f.coord.Run(ctx)
	ready := f.bus.Subscribe(bus.TopicFormCompletionReady)

	// Auto-fill is off by default; an explicit request still completes.
	f.bus.Publish(bus.TopicRequestFormCompletion, bus.RequestFormCompletion{
		FormID:   "f1",
		FormBody: "<form><input id='email'></form>",
		PageURL:  "https://a.example",
	})
	msg := waitEnvelope(t, ready).Payload.(bus.FormCompletionReady)
	if msg.FormID != "f1" {
		t.Errorf("form id: %q", msg.FormID)
	}
	if gw.Calls() != 1 {
		t.Errorf("gateway calls: %d", gw.Calls())
	}
}
