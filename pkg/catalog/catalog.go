// Package catalog provides the detector catalog for decompiled-source
// scanning. All regexes are compiled exactly once when the catalog is built
// from a config value; a catalog is immutable afterwards and safe for
// concurrent use without locking.
//
// Design principles:
// - COMPILE ONCE: patterns are built at construction, never per scan
// - NO GLOBALS: thresholds live in the config, not in package state
// - CATEGORIZED: detectors are partitioned into high and mid severity families
// - EXTENSIBLE: adding a detector is a table entry, not new control flow
package catalog

import (
	"fmt"
	"regexp"

	"github.com/malsift/malsift/pkg/config"
	"github.com/malsift/malsift/pkg/trigger"
)

// Hit is one raw detector match: byte offsets into the original text plus the
// matched fragment. Start < End always holds.
type Hit struct {
	Start    int
	End      int
	Fragment string
}

// Detector holds a compiled pattern with metadata.
type Detector struct {
	Trigger     trigger.Trigger
	Severity    trigger.Severity
	Regex       *regexp.Regexp
	Description string

	// verify optionally rejects a submatch after the regex hit. Used where
	// RE2's lack of backreferences forces a relaxed pattern (self-XOR loop:
	// both operands are captured and compared for string equality here).
	verify func(text string, idx []int) bool
}

// FindAll returns every hit of the detector in text, in engine order.
// Callers must not assume hits are sorted or non-overlapping.
func (d *Detector) FindAll(text string) []Hit {
	var hits []Hit
	if d.verify != nil {
		for _, idx := range d.Regex.FindAllStringSubmatchIndex(text, -1) {
			if !d.verify(text, idx) {
				continue
			}
			hits = append(hits, Hit{Start: idx[0], End: idx[1], Fragment: text[idx[0]:idx[1]]})
		}
		return hits
	}
	for _, loc := range d.Regex.FindAllStringIndex(text, -1) {
		hits = append(hits, Hit{Start: loc[0], End: loc[1], Fragment: text[loc[0]:loc[1]]})
	}
	return hits
}

// Catalog is the immutable detector set for one scan configuration.
type Catalog struct {
	high      []*Detector
	mid       []*Detector
	byTrigger map[trigger.Trigger]*Detector
	base64    *regexp.Regexp
}

// New builds the catalog from cfg. The base64 and hex-array detectors are the
// only parameterized ones; everything else is fixed.
func New(cfg *config.Config) *Catalog {
	c := &Catalog{byTrigger: make(map[trigger.Trigger]*Detector, 16)}
	c.base64 = base64Pattern(cfg.Base64MinLength)

	c.registerHigh(trigger.RegRun,
		`(?i)CurrentVersion\\+Run(?:Once)?|\\Startup\\`,
		"registry autorun key path")
	c.registerHigh(trigger.ServiceStr,
		`(?i)\b(sc\.exe\s+create|Services\\|SERVICE_(AUTO_START|DEMAND_START|WIN32_OWN_PROCESS))`,
		"service installation API/CLI string")
	c.registerHigh(trigger.TasksSched,
		`(?i)\b(schtasks(\.exe)?\s+/create|\\Tasks\\|Task Scheduler)\b`,
		"scheduled task creation string")
	c.registerHigh(trigger.InlineSyscall,
		`(?is)\b(__asm|asm)\b.*?\bsyscall\b|\bint\s+0x2e\b|\bsysenter\b|__emit\s*(?:0x0f\s*,\s*0x05|0Fh\s*,\s*05h)`,
		"inline syscall idiom or trap number")
	c.registerHigh(trigger.PEEmbed,
		`(?i)This program cannot be run in DOS mode`,
		"embedded executable DOS stub text")
	c.registerHigh(trigger.MZPEHdr,
		`(?s)\bMZ\b.*?\bPE\x00\x00`,
		"raw MZ..PE executable header signature")

	disabled := make(map[trigger.Trigger]bool, len(cfg.DisabledTriggers))
	for _, t := range cfg.DisabledTriggers {
		disabled[t] = true
	}

	midPatterns := []struct {
		t    trigger.Trigger
		rx   string
		desc string
	}{
		{trigger.B64Blob, c.base64.String(), "long base64-alphabet run"},
		{trigger.HexArray, hexArrayPattern(cfg.HexArrayMinBytes), "large byte-array literal"},
		{trigger.AntiDebug,
			`(?is)IsDebuggerPresent|CheckRemoteDebuggerPresent|BeingDebugged|NtGlobalFlag|NtQueryInformationProcess\s*\([^)]*?ProcessDebug`,
			"anti-debugging API/flag name"},
		{trigger.IndirectCall,
			`\(\s*\*\s*(?:DAT_[0-9A-Fa-f]+|PTR_[0-9A-Fa-f]+|pcVar\d+|pv?Var\d+|\(\s*code\s*\*\s*\*\s*[A-Za-z_]\w*\s*\))\s*\)\s*\(`,
			"indirect call through computed function pointer"},
		{trigger.CastCall,
			`\(\s*\(\s*[A-Za-z_][\w\s\*\(\),]*\*\)\s*\)\s*[A-Za-z_]\w*\s*\(`,
			"call through pointer type-cast"},
		{trigger.XorAssign,
			`(?i)\b[A-Za-z_]\w*\s*\^=\s*(?:0x[0-9A-Fa-f]+|\d+|[A-Za-z_]\w*)`,
			"compound XOR assignment"},
		{trigger.RolRorLoop,
			`(?i)\b(rol|ror)\s*\(\s*([A-Za-z_]\w*)\s*,\s*([0-9]+|[A-Za-z_]\w*)\s*\)`,
			"rotate-left/rotate-right call"},
		{trigger.ComSched,
			`(?i)Schedule\.Service|ITaskService|ITaskDefinition|IRegisteredTask`,
			"COM task-scheduling interface name"},
	}
	for _, p := range midPatterns {
		if disabled[p.t] {
			continue
		}
		c.registerMid(p.t, p.rx, p.desc)
	}
	if !disabled[trigger.XorLoop] {
		c.registerXorLoop()
	}
	if d := c.byTrigger[trigger.HexArray]; d != nil && cfg.HexArrayMinBytes > maxCountedBytes {
		// The regex alone can only demand maxCountedBytes elements; the rest
		// of the threshold is enforced by counting.
		want := cfg.HexArrayMinBytes
		d.verify = func(text string, idx []int) bool {
			return len(hexElementRx.FindAllStringIndex(text[idx[0]:idx[1]], -1)) >= want
		}
	}

	return c
}

// base64Pattern matches runs of the base64 alphabet at least n characters
// long, with optional padding.
func base64Pattern(n int) *regexp.Regexp {
	return regexp.MustCompile(fmt.Sprintf(`[A-Za-z0-9+/]{%d,}={0,2}`, n))
}

// maxCountedBytes is the largest element count the hex-array regex can
// demand on its own: RE2 caps counted repetition at 1000, and the cap
// applies to the nested product with the element alternation's own counted
// repeats, so the outer count compiles only up to 333 ({334,} is rejected).
// Thresholds above it get a verify step that counts elements in the match.
const maxCountedBytes = 334

// hexElementRx matches one array element inside a hex-array hit. Used by the
// verify step for thresholds past the RE2 repetition cap.
var hexElementRx = regexp.MustCompile(`0x[0-9a-fA-F]{1,2}|\d{1,3}`)

// hexArrayPattern matches brace-enclosed byte-array literals (hex or decimal
// elements) with at least minBytes elements, up to the RE2 repetition cap.
func hexArrayPattern(minBytes int) string {
	reps := minBytes - 1
	if reps > maxCountedBytes-1 {
		reps = maxCountedBytes - 1
	}
	val := `(?:0x[0-9a-fA-F]{1,2}|\d{1,3})`
	return fmt.Sprintf(`(?s)\{\s*%s(?:\s*,\s*%s){%d,}\s*,?\s*\}`, val, val, reps)
}

func (c *Catalog) registerHigh(t trigger.Trigger, pattern, desc string) {
	d := &Detector{
		Trigger:     t,
		Severity:    trigger.SeverityHigh,
		Regex:       regexp.MustCompile(pattern),
		Description: desc,
	}
	c.high = append(c.high, d)
	c.byTrigger[t] = d
}

func (c *Catalog) registerMid(t trigger.Trigger, pattern, desc string) {
	d := &Detector{
		Trigger:     t,
		Severity:    trigger.SeverityMid,
		Regex:       regexp.MustCompile(pattern),
		Description: desc,
	}
	c.mid = append(c.mid, d)
	c.byTrigger[t] = d
}

// registerXorLoop installs the self-XOR loop detector. RE2 has no
// backreferences, so the pattern captures both operand positions and the
// verify step requires them to be the same token (x = x ^ k).
func (c *Catalog) registerXorLoop() {
	d := &Detector{
		Trigger:  trigger.XorLoop,
		Severity: trigger.SeverityMid,
		Regex: regexp.MustCompile(
			`(?s)for\s*\([^)]*\)\s*\{[^{}]*?([\w\)\]]+)\s*=\s*([\w\)\]]+)\s*\^\s*(?:0[xX][0-9a-fA-F]+|\d+|[A-Za-z_]\w*)`),
		Description: "self-XOR assignment inside a loop body",
		verify: func(text string, idx []int) bool {
			// idx layout: [whole0 whole1 g1s g1e g2s g2e]
			if len(idx) < 6 || idx[2] < 0 || idx[4] < 0 {
				return false
			}
			return text[idx[2]:idx[3]] == text[idx[4]:idx[5]]
		},
	}
	c.mid = append(c.mid, d)
	c.byTrigger[trigger.XorLoop] = d
}

// High returns the high-severity detectors in fixed catalog order.
func (c *Catalog) High() []*Detector { return c.high }

// Mid returns the mid-severity detectors in fixed catalog order.
func (c *Catalog) Mid() []*Detector { return c.mid }

// Lookup returns the detector for a trigger, or nil if it is not registered
// (e.g. disabled by configuration).
func (c *Catalog) Lookup(t trigger.Trigger) *Detector { return c.byTrigger[t] }

// Base64 exposes the parameterized base64 pattern for the concatenated
// string-literal sub-scan, which runs it over decoded literal text.
func (c *Catalog) Base64() *regexp.Regexp { return c.base64 }

// Size returns the number of registered detectors.
func (c *Catalog) Size() int { return len(c.high) + len(c.mid) }
