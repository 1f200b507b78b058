package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaults(t *testing.T) {
	cfg := Default()

	if cfg.Browser.Stealth != "headless" {
		t.Errorf("stealth: %q", cfg.Browser.Stealth)
	}
	if cfg.Browser.MemoryLimit != 1<<30 {
		t.Errorf("memory limit: %d", cfg.Browser.MemoryLimit)
	}
	if cfg.Gateway.Timeout != 60*time.Second {
		t.Errorf("gateway timeout: %v", cfg.Gateway.Timeout)
	}
	if cfg.Control.Addr != "127.0.0.1:8437" {
		t.Errorf("control addr: %q", cfg.Control.Addr)
	}
	if cfg.Storage.Path != "formbutler.db" {
		t.Errorf("storage path: %q", cfg.Storage.Path)
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "formbutler.yaml")
	doc := `
browser:
  remote: ws://127.0.0.1:9222
  stealth: headful
  resource_blocking: [images]
gateway:
  timeout: 30s
  temperature: 0.2
control:
  addr: 127.0.0.1:9000
storage:
  path: /tmp/fb.db
session:
  id: fixed-session
`
	if err := os.WriteFile(path, []byte(doc), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Browser.Remote != "ws://127.0.0.1:9222" || cfg.Browser.Stealth != "headful" {
		t.Errorf("browser: %+v", cfg.Browser)
	}
	if len(cfg.Browser.ResourceBlocking) != 1 || cfg.Browser.ResourceBlocking[0] != "images" {
		t.Errorf("resource blocking: %v", cfg.Browser.ResourceBlocking)
	}
	if cfg.Gateway.Timeout != 30*time.Second || cfg.Gateway.Temperature != 0.2 {
		t.Errorf("gateway: %+v", cfg.Gateway)
	}
	if cfg.Control.Addr != "127.0.0.1:9000" {
		t.Errorf("control: %+v", cfg.Control)
	}
	if cfg.Session.ID != "fixed-session" {
		t.Errorf("session: %+v", cfg.Session)
	}
	// Unset fields still default.
	if cfg.Browser.MemoryLimit != 1<<30 {
		t.Errorf("memory limit default: %d", cfg.Browser.MemoryLimit)
	}
}

func TestLoadFileMissing(t *testing.T) {
	if _, err := LoadFile(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("missing file must error")
	}
}
