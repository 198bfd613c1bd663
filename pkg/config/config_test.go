package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/malsift/malsift/pkg/trigger"
)

func TestDefaultConfig(t *testing.T) {
	cfg := NewDefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if cfg.WindowLines != 20 || cfg.PerUnitCap != 12 || cfg.PerTriggerCap != 3 {
		t.Errorf("unexpected defaults: %+v", cfg)
	}
	if cfg.GlobalTotalCap != 4000 || cfg.Base64MinLength != 200 || cfg.HexArrayMinBytes != 128 {
		t.Errorf("unexpected defaults: %+v", cfg)
	}
	if cfg.DedupPolicy != PolicyOverlap {
		t.Errorf("default policy = %s, want overlap", cfg.DedupPolicy)
	}
	if len(cfg.MidWhitelist) != 3 {
		t.Errorf("whitelist = %v", cfg.MidWhitelist)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("MALSIFT_WINDOW_LINES", "5")
	t.Setenv("MALSIFT_DEDUP_POLICY", "merge")
	t.Setenv("MALSIFT_MID_WHITELIST", "b64_blob, xor_assign")
	t.Setenv("MALSIFT_SKIP_MID_ON_STRONG_HIGH", "false")

	cfg := NewDefaultConfig()
	if cfg.WindowLines != 5 {
		t.Errorf("WindowLines = %d, want 5", cfg.WindowLines)
	}
	if cfg.DedupPolicy != PolicyMerge {
		t.Errorf("DedupPolicy = %s, want merge", cfg.DedupPolicy)
	}
	if len(cfg.MidWhitelist) != 2 || cfg.MidWhitelist[1] != trigger.XorAssign {
		t.Errorf("MidWhitelist = %v", cfg.MidWhitelist)
	}
	if cfg.SkipMidWhenStrongHigh {
		t.Error("SkipMidWhenStrongHigh should be false")
	}
}

func TestProfiles(t *testing.T) {
	if p := NewOverlapProfile(); p.DedupPolicy != PolicyOverlap {
		t.Errorf("overlap profile policy = %s", p.DedupPolicy)
	}
	if p := NewMergeProfile(); p.DedupPolicy != PolicyMerge {
		t.Errorf("merge profile policy = %s", p.DedupPolicy)
	}
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "malsift.yaml")
	body := "window_lines: 7\nper_unit_cap: 4\ndedup_policy: merge\nmerge_line_distance: 5\n" +
		"allowlist_overrides:\n  reg_run:\n    - MyVendor\n"
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg := NewDefaultConfig()
	if err := cfg.LoadFile(path); err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if cfg.WindowLines != 7 || cfg.PerUnitCap != 4 {
		t.Errorf("file overrides not applied: %+v", cfg)
	}
	if cfg.DedupPolicy != PolicyMerge || cfg.MergeLineDistance != 5 {
		t.Errorf("policy overrides not applied: %+v", cfg)
	}
	if pats := cfg.AllowlistOverrides[trigger.RegRun]; len(pats) != 1 || pats[0] != "MyVendor" {
		t.Errorf("allowlist overrides = %v", cfg.AllowlistOverrides)
	}
	// Untouched fields keep their defaults.
	if cfg.GlobalTotalCap != 4000 {
		t.Errorf("GlobalTotalCap = %d, want default", cfg.GlobalTotalCap)
	}
}

func TestLoadFileMissing(t *testing.T) {
	cfg := NewDefaultConfig()
	if err := cfg.LoadFile(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("missing file must return an error")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		ok     bool
	}{
		{"defaults", func(c *Config) {}, true},
		{"negative window", func(c *Config) { c.WindowLines = -1 }, false},
		{"zero caps", func(c *Config) { c.PerUnitCap = 0 }, false},
		{"tiny base64", func(c *Config) { c.Base64MinLength = 4 }, false},
		{"threshold above one", func(c *Config) { c.DedupSameThresh = 1.5 }, false},
		{"unknown policy", func(c *Config) { c.DedupPolicy = "fuzzy" }, false},
		{"merge distance negative", func(c *Config) { c.DedupPolicy = PolicyMerge; c.MergeLineDistance = -2 }, false},
		{"merge valid", func(c *Config) { c.DedupPolicy = PolicyMerge; c.MergeLineDistance = 0 }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewDefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.ok && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
			if !tt.ok && err == nil {
				t.Error("expected validation error")
			}
		})
	}
}
