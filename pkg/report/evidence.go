package report

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/malsift/malsift/pkg/scan"
	"github.com/malsift/malsift/pkg/trigger"
)

// EvidenceStyle selects how generated C evidence is laid out on disk.
type EvidenceStyle string

const (
	// StyleCombined writes every slice into one .c file.
	StyleCombined EvidenceStyle = "combined"
	// StylePerSlice writes one .c file per slice.
	StylePerSlice EvidenceStyle = "per-slice"
)

var unsafeComponentRx = regexp.MustCompile(`[^\w\-.]+`)

// sanitizeComponent makes a unit or prefix name safe for use in a filename.
func sanitizeComponent(s string) string {
	s = unsafeComponentRx.ReplaceAllString(s, "_")
	if len(s) > 80 {
		s = s[:80]
	}
	return s
}

func triggerLabel(triggers []trigger.Trigger) string {
	parts := make([]string, len(triggers))
	for i, t := range triggers {
		parts[i] = string(t)
	}
	return strings.Join(parts, "+")
}

// writeSliceBody writes one slice with a #line marker binding the windowed
// lines back to their original (name, line) locations.
func writeSliceBody(w *strings.Builder, name string, s scan.Slice) {
	if len(s.Window) == 0 {
		return
	}
	fmt.Fprintf(w, "#line %d %q\n", s.Window[0].Number, name)
	for _, line := range s.Window {
		w.WriteString(line.Text)
		w.WriteByte('\n')
	}
}

// EmitEvidence writes slice evidence as C files under dir and returns the
// paths written. With StyleCombined a single file named <prefix>_combined.c
// holds everything; with StylePerSlice each slice gets its own file named
// after the unit, slice index, trigger, and line range.
func EmitEvidence(res *scan.BatchResult, dir string, style EvidenceStyle, prefix string) ([]string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("evidence dir %s: %w", dir, err)
	}
	if style == StyleCombined {
		path, err := emitCombined(res, dir, prefix)
		if err != nil {
			return nil, err
		}
		return []string{path}, nil
	}
	return emitPerSlice(res, dir, prefix)
}

func emitCombined(res *scan.BatchResult, dir, prefix string) (string, error) {
	var w strings.Builder
	w.WriteString("/* generated slices */\n")
	for _, u := range res.Units {
		for idx, s := range u.Slices {
			n := idx + 1
			fmt.Fprintf(&w, "\n/* BEGIN unit=%s trigger=%s severity=%s slice=%d lines=%d-%d */\n",
				u.Name, triggerLabel(s.Triggers), s.Severity, n, s.StartLine, s.EndLine)
			writeSliceBody(&w, u.Name, s)
			fmt.Fprintf(&w, "/* END unit=%s slice=%d */\n", u.Name, n)
		}
	}
	path := filepath.Join(dir, sanitizeComponent(prefix)+"_combined.c")
	if err := os.WriteFile(path, []byte(w.String()), 0o644); err != nil {
		return "", fmt.Errorf("write_fail:%s:%w", path, err)
	}
	return path, nil
}

func emitPerSlice(res *scan.BatchResult, dir, prefix string) ([]string, error) {
	var written []string
	for _, u := range res.Units {
		for idx, s := range u.Slices {
			n := idx + 1
			base := fmt.Sprintf("%s__%s__%04d__%s_%d-%d.c",
				sanitizeComponent(prefix), sanitizeComponent(u.Name), n,
				sanitizeComponent(triggerLabel(s.Triggers)), s.StartLine, s.EndLine)
			path := filepath.Join(dir, base)

			var w strings.Builder
			fmt.Fprintf(&w, "/* BEGIN unit=%s trigger=%s severity=%s slice=%d */\n",
				u.Name, triggerLabel(s.Triggers), s.Severity, n)
			writeSliceBody(&w, u.Name, s)
			fmt.Fprintf(&w, "/* END unit=%s slice=%d */\n", u.Name, n)

			if err := os.WriteFile(path, []byte(w.String()), 0o644); err != nil {
				return written, fmt.Errorf("write_fail:%s:%w", path, err)
			}
			written = append(written, path)
		}
	}
	return written, nil
}
