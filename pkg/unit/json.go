package unit

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

// flexText accepts either a JSON string or an array of line strings, which
// different export versions emit interchangeably.
type flexText string

func (f *flexText) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*f = flexText(s)
		return nil
	}
	var lines []string
	if err := json.Unmarshal(data, &lines); err == nil {
		*f = flexText(strings.Join(lines, "\n"))
		return nil
	}
	// Unknown shape (number, object): treat as absent.
	*f = ""
	return nil
}

type rawUnit struct {
	UnitID     string   `json:"unit_id"`
	Name       string   `json:"name"`
	Text       flexText `json:"text"`
	Decompiled flexText `json:"decompiled"`
	Decomp     flexText `json:"decomp"`
}

func (r *rawUnit) text() string {
	for _, t := range []flexText{r.Text, r.Decompiled, r.Decomp} {
		if t != "" {
			return string(t)
		}
	}
	return ""
}

type rawLine struct {
	Text string `json:"text"`
}

type rawFunc struct {
	FuncAddr    string   `json:"func_addr"`
	FuncName    string   `json:"func_name"`
	Text        flexText `json:"text"`
	Decompiled  flexText `json:"decompiled"`
	Decomp      flexText `json:"decomp"`
	DecompSlice []rawLine `json:"decomp_slice"`
	Slices      []struct {
		DecompSlice []rawLine `json:"decomp_slice"`
	} `json:"slices"`
}

func (r *rawFunc) text() string {
	for _, t := range []flexText{r.Text, r.Decompiled, r.Decomp} {
		if t != "" {
			return string(t)
		}
	}
	if len(r.DecompSlice) > 0 {
		return joinLines(r.DecompSlice)
	}
	var chunks []string
	for _, s := range r.Slices {
		if len(s.DecompSlice) > 0 {
			chunks = append(chunks, joinLines(s.DecompSlice))
		}
	}
	return strings.Join(chunks, "\n")
}

func joinLines(lines []rawLine) string {
	parts := make([]string, len(lines))
	for i, l := range lines {
		parts[i] = l.Text
	}
	return strings.Join(parts, "\n")
}

// LoadJSON loads units from a decompiler JSON export. Four shapes are
// tolerated, matching what the upstream tooling emits:
//
//	{"units": [{unit_id?, name?, text|decompiled|decomp}]}
//	{"functions": [{func_addr?, func_name?, text|decomp_slice|slices}]}
//	{"name"?, "text": "..."}            (single unit)
//	[{name?, text}, ...]                (bare list)
//
// Parse failures are recorded and yield an empty batch, never an abort.
func LoadJSON(path string) ([]Unit, []string) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, []string{fmt.Sprintf("json_fail:%s:%v", path, err)}
	}
	return ParseJSON(path, data)
}

// ParseJSON is LoadJSON over in-memory bytes (used by the HTTP surface).
func ParseJSON(source string, data []byte) ([]Unit, []string) {
	trimmed := bytes.TrimLeft(data, " \t\r\n")
	if len(trimmed) > 0 && trimmed[0] == '[' {
		return parseBareList(source, trimmed)
	}

	var top struct {
		Units     []rawUnit `json:"units"`
		Functions []rawFunc `json:"functions"`
		Name      string    `json:"name"`
		Text      flexText  `json:"text"`
	}
	if err := json.Unmarshal(data, &top); err != nil {
		return nil, []string{fmt.Sprintf("json_fail:%s:%v", source, err)}
	}

	switch {
	case len(top.Units) > 0:
		var units []Unit
		for _, r := range top.Units {
			t := r.text()
			if t == "" {
				continue
			}
			id := r.UnitID
			if id == "" {
				id = DeriveID(r.Name + prefix(t, 64))
			}
			name := r.Name
			if name == "" {
				name = id
			}
			units = append(units, Unit{ID: id, Name: name, Text: t})
		}
		return units, nil
	case len(top.Functions) > 0:
		var units []Unit
		for _, r := range top.Functions {
			t := r.text()
			if t == "" {
				continue
			}
			id := r.FuncAddr
			if id == "" {
				id = DeriveID(r.FuncName + prefix(t, 64))
			}
			name := r.FuncName
			if name == "" {
				name = id
			}
			units = append(units, Unit{ID: id, Name: name, Text: t})
		}
		return units, nil
	case top.Text != "":
		name := top.Name
		if name == "" {
			name = "u0"
		}
		return []Unit{{ID: "u0", Name: name, Text: string(top.Text)}}, nil
	}
	return nil, nil
}

func parseBareList(source string, data []byte) ([]Unit, []string) {
	var list []rawUnit
	if err := json.Unmarshal(data, &list); err != nil {
		return nil, []string{fmt.Sprintf("json_fail:%s:%v", source, err)}
	}
	var units []Unit
	for _, r := range list {
		t := r.text()
		if t == "" {
			continue
		}
		id := fmt.Sprintf("u%d", len(units))
		name := r.Name
		if name == "" {
			name = id
		}
		units = append(units, Unit{ID: id, Name: name, Text: t})
	}
	return units, nil
}

func prefix(s string, n int) string {
	if len(s) > n {
		return s[:n]
	}
	return s
}
