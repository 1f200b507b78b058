package browser

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"

	"github.com/bakaburg1/form-butler/bus"
)

//go:embed focus.js
var focusJS string

const bindingName = "__formbutler_binding"

// Watcher observes one page: it injects the focus script and forwards its
// binding calls onto the bus. The raw form HTML crosses here exactly once,
// from page to coordinator; sanitation happens on the receiving side.
type Watcher struct {
	page    *rod.Page
	bus     *bus.Bus
	stealth bool
	logger  *slog.Logger
	ctx     context.Context
	cancel  context.CancelFunc
}

// NewWatcher creates a Watcher for the given page. With stealth on, the
// fingerprint evasions are registered before the focus script so pages that
// gate their forms behind bot checks still render them.
func NewWatcher(page *rod.Page, b *bus.Bus, useStealth bool, logger *slog.Logger) *Watcher {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Watcher{page: page, bus: b, stealth: useStealth, logger: logger, ctx: ctx, cancel: cancel}
}

// Start installs the binding and the focus script. The script is registered
// for every new document on this page, so navigations keep the watcher alive
// without re-attachment.
func (w *Watcher) Start() error {
	if err := (proto.RuntimeAddBinding{Name: bindingName}).Call(w.page); err != nil {
		w.logger.Warn("watcher: addBinding failed (may already exist)", "error", err)
	}

	go w.listenBinding()

	if w.stealth {
		if _, err := (proto.PageAddScriptToEvaluateOnNewDocument{
			Source: stealth.JS,
		}).Call(w.page); err != nil {
			w.logger.Warn("watcher: register stealth script", "error", err)
		}
	}

	if _, err := (proto.PageAddScriptToEvaluateOnNewDocument{
		Source: focusJS,
	}).Call(w.page); err != nil {
		return fmt.Errorf("watcher: register focus script: %w", err)
	}

	// The current document predates the registration; inject directly.
	if _, err := w.page.Eval(focusJS); err != nil {
		return fmt.Errorf("watcher: inject focus script: %w", err)
	}

	w.logger.Debug("watcher: attached", "target", w.page.TargetID)
	return nil
}

// Stop detaches the watcher.
func (w *Watcher) Stop() {
	w.cancel()
}

func (w *Watcher) listenBinding() {
	w.page.Context(w.ctx).EachEvent(func(e *proto.RuntimeBindingCalled) {
		if e.Name != bindingName {
			return
		}

		var msg struct {
			Event    string `json:"event"`
			FormID   string `json:"formId"`
			FormBody string `json:"formBody"`
			PageURL  string `json:"pageUrl"`
		}
		if err := json.Unmarshal([]byte(e.Payload), &msg); err != nil {
			w.logger.Warn("watcher: parse binding payload", "error", err)
			return
		}

		switch msg.Event {
		case "focus":
			if msg.FormID == "" || msg.FormBody == "" {
				w.logger.Warn("watcher: incomplete focus event dropped", "form_id", msg.FormID)
				return
			}
			w.bus.Publish(bus.TopicFormFocused, bus.FormFocused{
				FormID:   msg.FormID,
				FormBody: msg.FormBody,
				PageURL:  msg.PageURL,
			})
		case "fill":
			w.bus.Publish(bus.TopicFillForm, bus.FillForm{})
		default:
			w.logger.Debug("watcher: unknown event", "event", msg.Event)
		}
	})()
}

// Session attaches a Watcher to every page of the browser, present and
// future, and re-attaches after a Chrome recycle.
type Session struct {
	mgr    *Manager
	bus    *bus.Bus
	logger *slog.Logger

	mu       sync.Mutex
	watchers map[proto.TargetTargetID]*Watcher
}

// NewSession creates a Session over the manager's browser.
func NewSession(mgr *Manager, b *bus.Bus, logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	return &Session{
		mgr:      mgr,
		bus:      b,
		logger:   logger,
		watchers: make(map[proto.TargetTargetID]*Watcher),
	}
}

// Start attaches to all current pages and follows target creation until ctx
// is done.
func (s *Session) Start(ctx context.Context) error {
	browser := s.mgr.Browser()
	if browser == nil {
		return fmt.Errorf("browser: no active browser")
	}

	s.mgr.SetRecycleCallback(&RecycleCallback{
		BeforeRecycle: s.detachAll,
		AfterRecycle: func(b *rod.Browser) {
			if err := s.attachBrowser(ctx, b); err != nil {
				s.logger.Error("session: re-attach after recycle", "error", err)
			}
		},
	})

	return s.attachBrowser(ctx, browser)
}

// Open navigates a fresh tab to the URL. The target-created handler attaches
// a watcher to it like any other page.
func (s *Session) Open(ctx context.Context, pageURL string) error {
	browser := s.mgr.Browser()
	if browser == nil {
		return fmt.Errorf("browser: no active browser")
	}
	page, err := browser.Page(proto.TargetCreateTarget{URL: ""})
	if err != nil {
		return fmt.Errorf("browser: open tab: %w", err)
	}
	s.attach(page)

	navCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := page.Context(navCtx).Navigate(pageURL); err != nil {
		return fmt.Errorf("browser: navigate %s: %w", pageURL, err)
	}
	if err := page.Context(navCtx).WaitLoad(); err != nil {
		s.logger.Warn("session: wait load timeout", "url", pageURL, "error", err)
	}
	return nil
}

func (s *Session) attachBrowser(ctx context.Context, browser *rod.Browser) error {
	pages, err := browser.Pages()
	if err != nil {
		return fmt.Errorf("browser: list pages: %w", err)
	}
	for _, page := range pages {
		s.attach(page)
	}

	go browser.Context(ctx).EachEvent(
		func(e *proto.TargetTargetCreated) {
			if e.TargetInfo.Type != proto.TargetTargetInfoTypePage {
				return
			}
			page, err := browser.PageFromTarget(e.TargetInfo.TargetID)
			if err != nil {
				s.logger.Warn("session: page from target", "error", err)
				return
			}
			s.attach(page)
		},
		func(e *proto.TargetTargetDestroyed) {
			s.detach(e.TargetID)
		},
	)()

	return nil
}

func (s *Session) attach(page *rod.Page) {
	s.mu.Lock()
	if _, ok := s.watchers[page.TargetID]; ok {
		s.mu.Unlock()
		return
	}
	w := NewWatcher(page, s.bus, s.mgr.StealthEnabled(), s.logger)
	s.watchers[page.TargetID] = w
	s.mu.Unlock()

	if types := s.mgr.ResourceBlocking(); len(types) > 0 {
		if err := applyResourceBlocking(page, types); err != nil {
			s.logger.Warn("session: resource blocking failed", "target", page.TargetID, "error", err)
		}
	}

	if err := w.Start(); err != nil {
		s.logger.Error("session: watcher start failed", "target", page.TargetID, "error", err)
		s.detach(page.TargetID)
	}
}

func (s *Session) detach(id proto.TargetTargetID) {
	s.mu.Lock()
	w, ok := s.watchers[id]
	delete(s.watchers, id)
	s.mu.Unlock()
	if ok {
		w.Stop()
	}
}

func (s *Session) detachAll() {
	s.mu.Lock()
	watchers := s.watchers
	s.watchers = make(map[proto.TargetTargetID]*Watcher)
	s.mu.Unlock()
	for _, w := range watchers {
		w.Stop()
	}
}
