package scan

import (
	"regexp"
	"strings"

	"github.com/malsift/malsift/pkg/catalog"
)

// dangerousAPIRx enumerates API tokens whose proximity makes an indirect
// call worth reporting: memory allocation/protection, process and library
// loading, remote threads, file mapping, debug detection, and the Nt* native
// layer.
var dangerousAPIRx = regexp.MustCompile(`(?i)VirtualAlloc|VirtualProtect|GetProcAddress|LoadLibrary|WriteProcessMemory|` +
	`CreateRemoteThread|CreateProcess|MapViewOfFile|UnmapViewOfFile|` +
	`IsDebuggerPresent|CheckRemoteDebuggerPresent|Nt[A-Za-z_]+`)

// contextAround returns the raw text within radius characters of the match,
// independent of line boundaries.
func contextAround(text string, h catalog.Hit, radius int) string {
	lo := h.Start - radius
	if lo < 0 {
		lo = 0
	}
	hi := h.End + radius
	if hi > len(text) {
		hi = len(text)
	}
	return text[lo:hi]
}

// lineContext returns the full line(s) spanned by the match, newline
// excluded. The allowlist gate reads this instead of the bare fragment: a
// vendor name written beside the key path on the same statement suppresses
// the hit, while a vendor string on a neighboring line does not.
func lineContext(text string, h catalog.Hit) string {
	lo := strings.LastIndexByte(text[:h.Start], '\n') + 1
	hi := len(text)
	if i := strings.IndexByte(text[h.End:], '\n'); i >= 0 {
		hi = h.End + i
	}
	return text[lo:hi]
}

// contextOK reports whether a dangerous-API token appears within radius
// characters of the match, independent of line boundaries. Used to gate
// indirect_call matches when context-only mode is enabled: an indirect call
// with no dangerous API nearby is decompiler noise, not evidence.
func contextOK(text string, h catalog.Hit, radius int) bool {
	return dangerousAPIRx.MatchString(contextAround(text, h, radius))
}
