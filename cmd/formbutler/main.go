// Command formbutler is the form-filling assistant daemon. It rides along in
// a Chrome instance, watches for focused forms, asks a configured LLM for a
// fill plan, and applies it to the live page. A local HTTP API manages
// profiles, cards, models and settings; an optional MCP server over stdio
// exposes the same pipeline to agents.
//
// Usage:
//
//	formbutler -config formbutler.yaml
//	formbutler -remote ws://127.0.0.1:9222
//	formbutler -mcp                         # also serve MCP on stdio
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	_ "modernc.org/sqlite"

	"github.com/bakaburg1/form-butler/browser"
	"github.com/bakaburg1/form-butler/bus"
	"github.com/bakaburg1/form-butler/config"
	"github.com/bakaburg1/form-butler/control"
	"github.com/bakaburg1/form-butler/coordinator"
	"github.com/bakaburg1/form-butler/fill"
	"github.com/bakaburg1/form-butler/gateway"
	"github.com/bakaburg1/form-butler/idgen"
	"github.com/bakaburg1/form-butler/profile"
	"github.com/bakaburg1/form-butler/registry"
	"github.com/bakaburg1/form-butler/storage"
)

var version = "dev"

func main() {
	configPath := flag.String("config", "", "path to formbutler.yaml config file")
	remoteURL := flag.String("remote", "", "WebSocket URL of an existing Chrome (overrides config)")
	openURL := flag.String("url", "", "open this page after startup")
	controlAddr := flag.String("control-addr", "", "control API listen address (overrides config)")
	serveMCP := flag.Bool("mcp", false, "serve MCP tools on stdio")
	logLevel := flag.String("log-level", "info", "log level: debug, info, warn, error")
	flag.Parse()

	var level slog.Level
	switch *logLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, logger, *configPath, *remoteURL, *openURL, *controlAddr, *serveMCP); err != nil {
		logger.Error("formbutler: fatal", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, logger *slog.Logger, configPath, remoteURL, openURL, controlAddr string, serveMCP bool) error {
	cfg := config.Default()
	if configPath != "" {
		loaded, err := config.LoadFile(configPath)
		if err != nil {
			return err
		}
		cfg = loaded
	}
	if remoteURL != "" {
		cfg.Browser.Remote = remoteURL
	}
	if controlAddr != "" {
		cfg.Control.Addr = controlAddr
	}

	// Storage.
	var store storage.Store
	if cfg.Storage.Path == "memory" {
		store = storage.NewMemory()
	} else {
		s, err := storage.OpenSQLite(cfg.Storage.Path, storage.WithLogger(logger))
		if err != nil {
			return fmt.Errorf("open storage: %w", err)
		}
		store = s
	}
	defer store.Close()

	sessionID := cfg.Session.ID
	if sessionID == "" {
		sessionID = idgen.New()
	}
	logger.Info("formbutler: starting", "version", version, "session", sessionID)

	b := bus.New(bus.WithLogger(logger))
	defer b.Close()

	reg := registry.New(store, sessionID, logger)
	profiles := profile.NewManager(store)
	gw := gateway.New(
		gateway.WithLogger(logger),
		gateway.WithTimeout(cfg.Gateway.Timeout),
		gateway.WithTemperature(cfg.Gateway.Temperature),
	)

	// Browser.
	mgr := browser.NewManager(browser.Config{
		RemoteURL:        cfg.Browser.Remote,
		MemoryLimit:      cfg.Browser.MemoryLimit,
		RecycleInterval:  cfg.Browser.RecycleInterval,
		ResourceBlocking: cfg.Browser.ResourceBlocking,
		Stealth:          stealthLevel(cfg.Browser.Stealth),
		XvfbDisplay:      cfg.Browser.XvfbDisplay,
		Logger:           logger,
	})
	if _, err := mgr.Start(ctx); err != nil {
		return fmt.Errorf("start browser: %w", err)
	}
	defer mgr.Close()

	applier := fill.NewApplier(browser.NewResolver(mgr, logger), logger)

	coord := coordinator.New(coordinator.Config{
		Store:    store,
		Registry: reg,
		Gateway:  gw,
		Profiles: profiles,
		Bus:      b,
		Filler:   applier,
		Logger:   logger,
	})
	go coord.Run(ctx)

	session := browser.NewSession(mgr, b, logger)
	if err := session.Start(ctx); err != nil {
		return fmt.Errorf("attach session: %w", err)
	}

	if openURL != "" {
		if err := session.Open(ctx, openURL); err != nil {
			return fmt.Errorf("open %s: %w", openURL, err)
		}
	}

	// Control API.
	ctl := control.NewServer(control.Config{
		Store:    store,
		Profiles: profiles,
		Registry: reg,
		Bus:      b,
		Logger:   logger,
	})
	httpSrv := &http.Server{
		Addr:              cfg.Control.Addr,
		Handler:           ctl.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info("formbutler: control API listening", "addr", cfg.Control.Addr)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("formbutler: control API failed", "error", err)
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		httpSrv.Shutdown(shutdownCtx)
	}()

	// MCP over stdio, opt-in.
	if serveMCP {
		impl := &mcp.Implementation{Name: "form-butler", Version: version}
		srv := mcp.NewServer(impl, nil)
		coord.RegisterMCP(srv)
		go func() {
			if err := srv.Run(ctx, &mcp.StdioTransport{}); err != nil {
				logger.Error("formbutler: mcp server failed", "error", err)
			}
		}()
	}

	<-ctx.Done()
	logger.Info("formbutler: shutting down")
	return nil
}

func stealthLevel(s string) browser.StealthLevel {
	switch s {
	case "plain":
		return browser.LevelPlain
	case "headful":
		return browser.LevelHeadful
	default:
		return browser.LevelHeadless
	}
}
