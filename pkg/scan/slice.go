package scan

import (
	"sort"
	"strings"

	"github.com/malsift/malsift/pkg/catalog"
	"github.com/malsift/malsift/pkg/trigger"
	"github.com/malsift/malsift/pkg/unit"
)

// Line is one windowed source line with its original 1-based line number.
type Line struct {
	Number int    `json:"lineno"`
	Text   string `json:"text"`
}

// Slice is the unit of output evidence: a bounded, line-windowed excerpt of a
// unit attributed to one or more triggers. Triggers is non-empty; it grows
// past one element only under the merge dedup policy. StartLine <= EndLine
// always holds and Window covers exactly [StartLine, EndLine] clipped to the
// unit's real line range.
type Slice struct {
	UnitID    string            `json:"unit_id"`
	Name      string            `json:"name"`
	Triggers  []trigger.Trigger `json:"triggers"`
	Severity  trigger.Severity  `json:"severity"`
	StartLine int               `json:"start_line"`
	EndLine   int               `json:"end_line"`
	Window    []Line            `json:"window_lines"`
	Excerpt   string            `json:"evidence_excerpt"`
}

// primaryTrigger is the trigger the slice was originally accepted under.
func (s *Slice) primaryTrigger() trigger.Trigger {
	return s.Triggers[0]
}

// HasTrigger reports whether t contributed to this slice.
func (s *Slice) HasTrigger(t trigger.Trigger) bool {
	for _, have := range s.Triggers {
		if have == t {
			return true
		}
	}
	return false
}

// UnitResult is the per-unit scan outcome. Units without slices are omitted
// from batch output entirely.
type UnitResult struct {
	UnitID string  `json:"unit_id"`
	Name   string  `json:"name"`
	Slices []Slice `json:"slices"`
}

// Summary aggregates batch-level bookkeeping. Errors holds loader and scan
// failure strings; a failed unit never aborts the batch.
type Summary struct {
	Errors          []string `json:"errors"`
	UnitCount       int      `json:"units"`
	TotalSliceCount int      `json:"total_slices"`
}

// BatchResult is the full outcome of scanning an ordered set of units.
type BatchResult struct {
	Units   []UnitResult `json:"units"`
	Summary Summary      `json:"summary"`
}

// lineOf converts a byte offset into a 1-based line number: the count of
// newlines before the offset, plus one.
func lineOf(text string, idx int) int {
	if idx < 0 {
		idx = 0
	}
	if idx > len(text) {
		idx = len(text)
	}
	return strings.Count(text[:idx], "\n") + 1
}

// splitLines mirrors the line view used for windows: the trailing newline
// does not open an empty final line.
func splitLines(text string) []string {
	if text == "" {
		return nil
	}
	lines := strings.Split(text, "\n")
	if lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}

// windowAround extracts n lines each side of the 1-based center line, clipped
// to the unit. The result covers at most 2n+1 lines.
func windowAround(lines []string, center, n int) []Line {
	a := center - n - 1
	if a < 0 {
		a = 0
	}
	b := center + n
	if b > len(lines) {
		b = len(lines)
	}
	if a >= b {
		return nil
	}
	out := make([]Line, 0, b-a)
	for i := a; i < b; i++ {
		out = append(out, Line{Number: i + 1, Text: lines[i]})
	}
	return out
}

// buildSlice constructs a slice for one accepted match. The evidence excerpt
// is the raw text within the configured character radius of the match,
// independent of line boundaries, capped at four times the radius.
func (s *Scanner) buildSlice(u unit.Unit, lines []string, text string, h catalog.Hit, t trigger.Trigger, sev trigger.Severity) Slice {
	center := lineOf(text, h.Start)
	win := windowAround(lines, center, s.cfg.WindowLines)

	start, end := 1, 1
	if len(win) > 0 {
		start = win[0].Number
		end = win[len(win)-1].Number
	}

	radius := s.cfg.SnippetCharRadius
	lo := h.Start - radius
	if lo < 0 {
		lo = 0
	}
	hi := h.End + radius
	if hi > len(text) {
		hi = len(text)
	}
	excerpt := text[lo:hi]
	if limit := 4 * radius; len(excerpt) > limit {
		excerpt = excerpt[:limit]
	}

	return Slice{
		UnitID:    u.ID,
		Name:      u.Name,
		Triggers:  []trigger.Trigger{t},
		Severity:  sev,
		StartLine: start,
		EndLine:   end,
		Window:    win,
		Excerpt:   excerpt,
	}
}

// sortSlices orders slices by start line, breaking ties by primary trigger
// name so output is stable across runs.
func sortSlices(slices []Slice) {
	sort.SliceStable(slices, func(i, j int) bool {
		if slices[i].StartLine != slices[j].StartLine {
			return slices[i].StartLine < slices[j].StartLine
		}
		return slices[i].primaryTrigger() < slices[j].primaryTrigger()
	})
}
