package scan

import (
	"strings"

	"github.com/malsift/malsift/pkg/config"
	"github.com/malsift/malsift/pkg/trigger"
)

// Two dedup policies exist as mutually exclusive profiles:
//
//   - overlap: a candidate is suppressed when its line range overlaps an
//     already accepted slice beyond a threshold. Checked at insertion time
//     against ALL accepted slices, with a lower threshold for same-trigger
//     pairs than for different-trigger pairs.
//   - merge: nothing is suppressed at insertion; after per-unit sorting,
//     a slice is folded into the immediately preceding accepted slice when
//     its start line is within a configured distance of that slice's end
//     line, unioning trigger sets and keeping the stronger severity.

// overlapRatio computes the inclusive interval overlap of [a1,a2] and
// [b1,b2] relative to the longer of the two.
func overlapRatio(a1, a2, b1, b2 int) float64 {
	inter := minInt(a2, b2) - maxInt(a1, b1) + 1
	if inter < 0 {
		inter = 0
	}
	base := maxInt(a2-a1+1, b2-b1+1)
	if base <= 0 {
		return 0
	}
	return float64(inter) / float64(base)
}

// admit applies the insertion-time dedup decision for the configured policy
// and appends the candidate when it survives.
func (s *Scanner) admit(accepted *[]Slice, cand Slice) bool {
	if s.cfg.DedupPolicy == config.PolicyOverlap {
		for i := range *accepted {
			prev := &(*accepted)[i]
			ov := overlapRatio(cand.StartLine, cand.EndLine, prev.StartLine, prev.EndLine)
			if cand.primaryTrigger() == prev.primaryTrigger() && ov >= s.cfg.DedupSameThresh {
				return false
			}
			if ov >= s.cfg.DedupDiffThresh {
				return false
			}
		}
	}
	*accepted = append(*accepted, cand)
	return true
}

// mergeNearby folds sorted slices whose line ranges sit within dist lines of
// the previously kept slice. The merged record carries the union of trigger
// sets, the max severity, an extended window rebuilt from the unit lines,
// and the concatenated distinct excerpts.
func mergeNearby(sorted []Slice, dist int, lines []string) []Slice {
	if len(sorted) == 0 {
		return sorted
	}
	out := make([]Slice, 0, len(sorted))
	out = append(out, sorted[0])
	for _, cand := range sorted[1:] {
		prev := &out[len(out)-1]
		if cand.StartLine <= prev.EndLine+dist {
			mergeInto(prev, cand, lines)
			continue
		}
		out = append(out, cand)
	}
	return out
}

func mergeInto(dst *Slice, src Slice, lines []string) {
	if src.EndLine > dst.EndLine {
		dst.EndLine = src.EndLine
	}
	if src.StartLine < dst.StartLine {
		dst.StartLine = src.StartLine
	}
	for _, t := range src.Triggers {
		if !dst.HasTrigger(t) {
			dst.Triggers = append(dst.Triggers, t)
		}
	}
	if src.Severity == trigger.SeverityHigh {
		dst.Severity = trigger.SeverityHigh
	}
	dst.Window = rebuildWindow(lines, dst.StartLine, dst.EndLine)
	if src.Excerpt != "" && !strings.Contains(dst.Excerpt, src.Excerpt) {
		dst.Excerpt += "\n" + src.Excerpt
	}
}

// rebuildWindow materializes the line window for an exact 1-based inclusive
// range, clipped to the unit.
func rebuildWindow(lines []string, start, end int) []Line {
	if start < 1 {
		start = 1
	}
	if end > len(lines) {
		end = len(lines)
	}
	if start > end {
		return nil
	}
	out := make([]Line, 0, end-start+1)
	for i := start - 1; i < end; i++ {
		out = append(out, Line{Number: i + 1, Text: lines[i]})
	}
	return out
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
