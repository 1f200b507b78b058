package browser

import (
	"strings"
	"testing"
)

func TestFormSelector(t *testing.T) {
	sel := formSelector("checkout_form0")
	if !strings.Contains(sel, `form[id="checkout_form0"]`) {
		t.Errorf("missing id clause: %s", sel)
	}
	if !strings.Contains(sel, `form[data-formbutler-id="checkout_form0"]`) {
		t.Errorf("missing data attribute clause: %s", sel)
	}
}

func TestShouldBlock(t *testing.T) {
	blockSet := map[string]bool{"images": true, "fonts": true}

	cases := []struct {
		resType string
		want    bool
	}{
		{"Image", true},
		{"Font", true},
		{"Media", false},
		{"Document", false},
		{"XHR", false},
	}
	for _, tc := range cases {
		if got := shouldBlock(blockSet, tc.resType); got != tc.want {
			t.Errorf("shouldBlock(%s): got %v, want %v", tc.resType, got, tc.want)
		}
	}
}

func TestManagerResourceBlocking(t *testing.T) {
	mgr := NewManager(Config{ResourceBlocking: []string{"images", "fonts"}})
	got := mgr.ResourceBlocking()
	if len(got) != 2 || got[0] != "images" || got[1] != "fonts" {
		t.Errorf("resource blocking: %v", got)
	}
	if got := NewManager(Config{}).ResourceBlocking(); len(got) != 0 {
		t.Errorf("unconfigured blocking: %v", got)
	}
}

func TestConfigDefaults(t *testing.T) {
	var cfg Config
	cfg.defaults()

	if cfg.MemoryLimit != 1<<30 {
		t.Errorf("memory limit: %d", cfg.MemoryLimit)
	}
	if cfg.RecycleInterval.Hours() != 4 {
		t.Errorf("recycle interval: %v", cfg.RecycleInterval)
	}
	if cfg.XvfbDisplay != ":99" {
		t.Errorf("display: %q", cfg.XvfbDisplay)
	}
	if cfg.Logger == nil {
		t.Error("logger must default")
	}
}
