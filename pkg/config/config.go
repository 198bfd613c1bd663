// Package config holds the immutable scan configuration. One Config value is
// constructed at startup (defaults, then environment, then an optional YAML
// file) and threaded through every call; nothing in the engine reads process
// state after construction.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/malsift/malsift/pkg/trigger"
)

// DedupPolicy selects how near-duplicate slices are handled.
type DedupPolicy string

const (
	// PolicyOverlap rejects a candidate slice whose line-range overlap ratio
	// against any accepted slice exceeds the configured thresholds.
	PolicyOverlap DedupPolicy = "overlap"
	// PolicyMerge folds a candidate into the previously accepted slice when
	// their line ranges are within MergeLineDistance of each other.
	PolicyMerge DedupPolicy = "merge"
)

// Config is the full knob surface of the scanner. Zero values are never used
// directly; construct via NewDefaultConfig or a profile constructor.
type Config struct {
	// Slice geometry
	WindowLines       int `yaml:"window_lines"`        // lines kept each side of the match line
	SnippetCharRadius int `yaml:"snippet_char_radius"` // raw-text evidence radius around the match

	// Budgets
	PerTriggerCap  int `yaml:"per_trigger_cap"`
	PerUnitCap     int `yaml:"per_unit_cap"`
	GlobalTotalCap int `yaml:"global_total_cap"`

	// Pattern thresholds (patterns are built once from these; never rebuilt)
	Base64MinLength  int `yaml:"base64_min_length"`
	HexArrayMinBytes int `yaml:"hex_array_min_bytes"`

	// Dedup / merge
	DedupPolicy       DedupPolicy `yaml:"dedup_policy"`
	DedupSameThresh   float64     `yaml:"dedup_same_threshold"` // same-trigger overlap ratio
	DedupDiffThresh   float64     `yaml:"dedup_diff_threshold"` // different-trigger overlap ratio
	MergeLineDistance int         `yaml:"merge_line_distance"`  // merge policy only

	// Strong-high mid suppression
	SkipMidWhenStrongHigh bool              `yaml:"skip_mid_when_strong_high"`
	MidMinWhenStrongHigh  int               `yaml:"mid_min_when_strong_high"`
	MidWhitelist          []trigger.Trigger `yaml:"mid_whitelist"`

	// Context gating for indirect calls
	IndirectCallContextOnly bool `yaml:"indirect_call_context_only"`
	ContextRadius           int  `yaml:"context_radius"` // characters each side of the match

	// Embedded-executable promotion
	PEPromotionMidCount int `yaml:"pe_promotion_mid_count"`

	// Additional allowlist patterns merged over the built-in defaults.
	AllowlistOverrides map[trigger.Trigger][]string `yaml:"allowlist_overrides"`

	// Triggers removed from the catalog entirely (mid severity only).
	DisabledTriggers []trigger.Trigger `yaml:"disabled_triggers"`

	// Batch scanning
	Workers int `yaml:"workers"` // unit scan parallelism; 1 = sequential
}

// NewDefaultConfig returns the reference configuration. Every field can be
// overridden via MALSIFT_* environment variables or a YAML config file.
func NewDefaultConfig() *Config {
	return &Config{
		WindowLines:       GetEnvInt("MALSIFT_WINDOW_LINES", 20),
		SnippetCharRadius: GetEnvInt("MALSIFT_SNIPPET_CHARS", 120),

		PerTriggerCap:  GetEnvInt("MALSIFT_PER_TRIGGER_CAP", 3),
		PerUnitCap:     GetEnvInt("MALSIFT_PER_UNIT_CAP", 12),
		GlobalTotalCap: GetEnvInt("MALSIFT_TOTAL_CAP", 4000),

		Base64MinLength:  GetEnvInt("MALSIFT_B64_MIN_LEN", 200),
		HexArrayMinBytes: GetEnvInt("MALSIFT_HEX_MIN_BYTES", 128),

		DedupPolicy:       DedupPolicy(GetEnv("MALSIFT_DEDUP_POLICY", string(PolicyOverlap))),
		DedupSameThresh:   GetEnvFloat("MALSIFT_DEDUP_SAME", 0.6),
		DedupDiffThresh:   GetEnvFloat("MALSIFT_DEDUP_DIFF", 0.9),
		MergeLineDistance: GetEnvInt("MALSIFT_MERGE_LINE_DISTANCE", 3),

		SkipMidWhenStrongHigh: GetEnvBool("MALSIFT_SKIP_MID_ON_STRONG_HIGH", true),
		MidMinWhenStrongHigh:  GetEnvInt("MALSIFT_MID_MIN_WHEN_STRONG_HIGH", 2),
		MidWhitelist:          toTriggers(GetEnvSlice("MALSIFT_MID_WHITELIST", []string{"b64_blob", "anti_debug", "hex_array"})),

		IndirectCallContextOnly: GetEnvBool("MALSIFT_INDIRECT_CONTEXT_ONLY", false),
		ContextRadius:           GetEnvInt("MALSIFT_CONTEXT_RADIUS", 40),

		PEPromotionMidCount: GetEnvInt("MALSIFT_PE_PROMOTE_WITH_MID", 1),

		Workers: clampInt(GetEnvInt("MALSIFT_WORKERS", 1), 1, 256),
	}
}

// NewOverlapProfile is the suppress-on-overlap deployment profile.
func NewOverlapProfile() *Config {
	cfg := NewDefaultConfig()
	cfg.DedupPolicy = PolicyOverlap
	return cfg
}

// NewMergeProfile is the merge-on-proximity deployment profile: nearby slices
// collapse into combined records instead of being suppressed.
func NewMergeProfile() *Config {
	cfg := NewDefaultConfig()
	cfg.DedupPolicy = PolicyMerge
	return cfg
}

// LoadFile overlays a YAML config file onto cfg. A missing file is an error
// so callers can distinguish "no file" themselves.
func (c *Config) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("config parse %s: %w", path, err)
	}
	return nil
}

// Validate checks that the configuration is internally coherent.
func (c *Config) Validate() error {
	var problems []string
	if c.WindowLines < 0 {
		problems = append(problems, "window_lines must be >= 0")
	}
	if c.PerTriggerCap < 1 || c.PerUnitCap < 1 || c.GlobalTotalCap < 1 {
		problems = append(problems, "per_trigger_cap, per_unit_cap and global_total_cap must be >= 1")
	}
	if c.Base64MinLength < 8 {
		problems = append(problems, "base64_min_length must be >= 8")
	}
	if c.HexArrayMinBytes < 2 {
		problems = append(problems, "hex_array_min_bytes must be >= 2")
	}
	switch c.DedupPolicy {
	case PolicyOverlap:
		if c.DedupSameThresh < 0 || c.DedupSameThresh > 1 || c.DedupDiffThresh < 0 || c.DedupDiffThresh > 1 {
			problems = append(problems, "dedup thresholds must be within [0,1]")
		}
	case PolicyMerge:
		if c.MergeLineDistance < 0 {
			problems = append(problems, "merge_line_distance must be >= 0")
		}
	default:
		problems = append(problems, fmt.Sprintf("unknown dedup_policy %q", c.DedupPolicy))
	}
	if c.MidMinWhenStrongHigh < 0 {
		problems = append(problems, "mid_min_when_strong_high must be >= 0")
	}
	if c.ContextRadius < 1 {
		problems = append(problems, "context_radius must be >= 1")
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid config: %s", strings.Join(problems, "; "))
	}
	return nil
}

func toTriggers(names []string) []trigger.Trigger {
	out := make([]trigger.Trigger, 0, len(names))
	for _, n := range names {
		out = append(out, trigger.Trigger(n))
	}
	return out
}

func clampInt(val, min, max int) int {
	if val < min {
		return min
	}
	if val > max {
		return max
	}
	return val
}

// Helper functions for environment variable parsing.
// Exported for use by other packages (e.g. cmd wiring).

// GetEnv returns the value of an environment variable or a default value.
func GetEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

// GetEnvBool returns the boolean value of an environment variable or a default value.
func GetEnvBool(key string, defaultValue bool) bool {
	if v := os.Getenv(key); v != "" {
		b, err := strconv.ParseBool(v)
		if err == nil {
			return b
		}
	}
	return defaultValue
}

// GetEnvFloat returns the float64 value of an environment variable or a default value.
func GetEnvFloat(key string, defaultValue float64) float64 {
	if v := os.Getenv(key); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err == nil {
			return f
		}
	}
	return defaultValue
}

// GetEnvInt returns the integer value of an environment variable or a default value.
func GetEnvInt(key string, defaultValue int) int {
	if v := os.Getenv(key); v != "" {
		i, err := strconv.Atoi(v)
		if err == nil {
			return i
		}
	}
	return defaultValue
}

// GetEnvSlice returns a comma-separated list from an environment variable or a default value.
func GetEnvSlice(key string, defaultValue []string) []string {
	if v := os.Getenv(key); v != "" {
		var parts []string
		for _, p := range strings.Split(v, ",") {
			trimmed := strings.TrimSpace(p)
			if trimmed != "" {
				parts = append(parts, trimmed)
			}
		}
		if len(parts) > 0 {
			return parts
		}
	}
	return defaultValue
}
