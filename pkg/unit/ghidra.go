package unit

import (
	"regexp"
	"strings"
)

// functionMarkerRx matches the banner comment Ghidra's headless exporter
// writes before each decompiled function.
var functionMarkerRx = regexp.MustCompile(`/\*+\s*Function:\s*([A-Za-z_][\w$@.]*)[^*]*\*+/`)

// SplitGhidra chunks one big decompiled export into per-function units using
// Ghidra's function banner comments. Text before the first banner (includes,
// type definitions) is prepended to the first chunk so string tables in the
// header region are not lost. Without any banner the whole text is one unit.
func SplitGhidra(name, text string) []Unit {
	locs := functionMarkerRx.FindAllStringSubmatchIndex(text, -1)
	if len(locs) == 0 {
		return []Unit{{ID: DeriveID(name + prefix(text, 64)), Name: name, Text: text}}
	}

	units := make([]Unit, 0, len(locs))
	for i, loc := range locs {
		start := loc[0]
		if i == 0 {
			start = 0
		}
		end := len(text)
		if i+1 < len(locs) {
			end = locs[i+1][0]
		}
		funcName := text[loc[2]:loc[3]]
		chunk := strings.TrimRight(text[start:end], "\n") + "\n"
		units = append(units, Unit{
			ID:   DeriveID(name + ":" + funcName),
			Name: funcName,
			Text: chunk,
		})
	}
	return units
}
