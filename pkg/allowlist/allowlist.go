// Package allowlist suppresses known-benign matches for high-severity
// triggers. Vendor software legitimately writes autorun keys; without this
// gate every OneDrive installer decompilation would light up as persistence.
//
// A List is built once (defaults, optional override file, optional config
// overrides, merged additively) and is immutable afterwards.
package allowlist

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/malsift/malsift/pkg/trigger"
)

// defaultPatterns are the built-in benign substrings per trigger. Overrides
// extend these; they never replace them.
var defaultPatterns = map[trigger.Trigger][]string{
	trigger.RegRun: {
		"OneDrive",
		"SecurityHealth",
		"Windows Defender",
		"Teams",
		"Slack",
		"NVIDIA",
		"Audio",
		"HP",
		"Logi",
		"Razer",
		"Adobe",
	},
}

// List maps triggers to a compiled benign pattern. Triggers without an entry
// have no allowlist and are never suppressed.
type List struct {
	patterns map[trigger.Trigger]*regexp.Regexp
}

// NewDefault builds the allowlist from the built-in defaults only.
func NewDefault() *List {
	l, _ := build(defaultPatterns, nil, nil)
	return l
}

// New builds the allowlist from the defaults, an optional override file, and
// optional in-config overrides, all merged additively. The file may be YAML
// or JSON (JSON is a YAML subset), shaped as a map of trigger name to a list
// of patterns. A missing or malformed file falls back to the remaining
// sources with a warning instead of failing the scan.
func New(path string, overrides map[trigger.Trigger][]string) *List {
	var fromFile map[trigger.Trigger][]string
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			fmt.Fprintf(os.Stderr, "[WARN] allowlist file unreadable, using defaults: %v\n", err)
		} else if err := yaml.Unmarshal(data, &fromFile); err != nil {
			fmt.Fprintf(os.Stderr, "[WARN] allowlist file malformed, using defaults: %v\n", err)
			fromFile = nil
		}
	}
	l, err := build(defaultPatterns, fromFile, overrides)
	if err != nil {
		fmt.Fprintf(os.Stderr, "[WARN] allowlist override rejected: %v\n", err)
	}
	return l
}

// build merges the sources and compiles one alternation per trigger. An
// uncompilable override pattern is dropped; defaults always survive.
func build(sources ...map[trigger.Trigger][]string) (*List, error) {
	merged := make(map[trigger.Trigger][]string)
	var firstErr error
	for _, src := range sources {
		for t, pats := range src {
			for _, p := range pats {
				if p == "" {
					continue
				}
				if _, err := regexp.Compile(p); err != nil {
					if firstErr == nil {
						firstErr = fmt.Errorf("pattern %q for %s: %w", p, t, err)
					}
					continue
				}
				merged[t] = append(merged[t], p)
			}
		}
	}

	compiled := make(map[trigger.Trigger]*regexp.Regexp, len(merged))
	for t, pats := range merged {
		parts := make([]string, 0, len(pats))
		for _, p := range pats {
			parts = append(parts, "(?:"+p+")")
		}
		compiled[t] = regexp.MustCompile("(?i)" + strings.Join(parts, "|"))
	}
	return &List{patterns: compiled}, firstErr
}

// Allowed reports whether text around a match for trigger t looks benign and
// the match should be dropped.
func (l *List) Allowed(t trigger.Trigger, text string) bool {
	rx, ok := l.patterns[t]
	if !ok {
		return false
	}
	return rx.MatchString(text)
}

// Has reports whether any pattern is registered for trigger t.
func (l *List) Has(t trigger.Trigger) bool {
	_, ok := l.patterns[t]
	return ok
}
