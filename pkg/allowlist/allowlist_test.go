package allowlist

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/malsift/malsift/pkg/trigger"
)

func TestDefaultAllowlist(t *testing.T) {
	l := NewDefault()

	tests := []struct {
		name    string
		trigger trigger.Trigger
		text    string
		allowed bool
	}{
		{"onedrive run key", trigger.RegRun, `"OneDrive" value under CurrentVersion\\Run`, true},
		{"defender", trigger.RegRun, `Windows Defender autorun entry`, true},
		{"case insensitive", trigger.RegRun, `NVIDIA display helper`, true},
		{"unknown binary", trigger.RegRun, `CurrentVersion\\Run value "svchost_update"`, false},
		{"trigger without list", trigger.AntiDebug, `OneDrive`, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := l.Allowed(tt.trigger, tt.text); got != tt.allowed {
				t.Errorf("Allowed(%s, %q) = %v, want %v", tt.trigger, tt.text, got, tt.allowed)
			}
		})
	}
}

func TestOverridesAreAdditive(t *testing.T) {
	l := New("", map[trigger.Trigger][]string{
		trigger.RegRun:    {"MyCorpAgent"},
		trigger.AntiDebug: {"SafeDebugCheck"},
	})

	if !l.Allowed(trigger.RegRun, "MyCorpAgent launcher") {
		t.Error("override pattern not applied")
	}
	if !l.Allowed(trigger.RegRun, "OneDrive launcher") {
		t.Error("defaults must survive overrides")
	}
	if !l.Allowed(trigger.AntiDebug, "SafeDebugCheck()") {
		t.Error("override for a trigger without defaults not applied")
	}
}

func TestOverrideFile(t *testing.T) {
	dir := t.TempDir()

	t.Run("yaml", func(t *testing.T) {
		path := filepath.Join(dir, "allow.yaml")
		if err := os.WriteFile(path, []byte("reg_run:\n  - CustomUpdater\n"), 0o644); err != nil {
			t.Fatal(err)
		}
		l := New(path, nil)
		if !l.Allowed(trigger.RegRun, "CustomUpdater entry") {
			t.Error("yaml override not applied")
		}
	})

	t.Run("json", func(t *testing.T) {
		path := filepath.Join(dir, "allow.json")
		if err := os.WriteFile(path, []byte(`{"reg_run": ["AcmeSync"]}`), 0o644); err != nil {
			t.Fatal(err)
		}
		l := New(path, nil)
		if !l.Allowed(trigger.RegRun, "AcmeSync entry") {
			t.Error("json override not applied")
		}
	})

	t.Run("malformed falls back", func(t *testing.T) {
		path := filepath.Join(dir, "broken.yaml")
		if err := os.WriteFile(path, []byte(": : : not yaml"), 0o644); err != nil {
			t.Fatal(err)
		}
		l := New(path, nil)
		if !l.Allowed(trigger.RegRun, "OneDrive entry") {
			t.Error("defaults must survive a malformed file")
		}
	})

	t.Run("missing falls back", func(t *testing.T) {
		l := New(filepath.Join(dir, "nope.yaml"), nil)
		if !l.Allowed(trigger.RegRun, "OneDrive entry") {
			t.Error("defaults must survive a missing file")
		}
	})
}

func TestInvalidOverridePatternDropped(t *testing.T) {
	l := New("", map[trigger.Trigger][]string{
		trigger.RegRun: {"([unclosed", "GoodPattern"},
	})
	if l.Allowed(trigger.RegRun, "([unclosed") {
		t.Error("invalid pattern must not be compiled literally")
	}
	if !l.Allowed(trigger.RegRun, "GoodPattern run entry") {
		t.Error("valid sibling pattern must survive an invalid one")
	}
	if !l.Allowed(trigger.RegRun, "OneDrive run entry") {
		t.Error("defaults must survive invalid overrides")
	}
}
