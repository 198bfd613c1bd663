package unit

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoadDir(t *testing.T) {
	dir := t.TempDir()
	sub := filepath.Join(dir, "nested")
	if err := os.Mkdir(sub, 0o755); err != nil {
		t.Fatal(err)
	}
	files := map[string]string{
		"main.c":          "int main(void) { return 0; }\n",
		"helper.cpp":      "void helper() {}\n",
		"nested/fn.decomp": "undefined4 FUN_00401000(void) {}\n",
		"notes.md":        "not a source file\n",
		"binary.o":        "\x00\x01\x02",
	}
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	units, errs := LoadDir(dir)
	if len(errs) != 0 {
		t.Fatalf("errs = %v", errs)
	}
	if len(units) != 3 {
		t.Fatalf("unit count = %d, want 3", len(units))
	}
	seen := map[string]bool{}
	for _, u := range units {
		seen[u.Name] = true
		if u.ID == "" || len(u.ID) != 12 {
			t.Errorf("unit %s has bad id %q", u.Name, u.ID)
		}
	}
	for _, want := range []string{"main.c", "helper.cpp", "fn.decomp"} {
		if !seen[want] {
			t.Errorf("missing unit %s", want)
		}
	}
}

func TestLoadDirStableIDs(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "a.c"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	u1, _ := LoadDir(dir)
	u2, _ := LoadDir(dir)
	if u1[0].ID != u2[0].ID {
		t.Errorf("ids differ across runs: %s vs %s", u1[0].ID, u2[0].ID)
	}
}

func TestDecodeText(t *testing.T) {
	tests := []struct {
		name string
		raw  []byte
		want string
	}{
		{"plain utf8", []byte("int x;"), "int x;"},
		{"utf8 bom", []byte("\xef\xbb\xbfint x;"), "int x;"},
		{"utf16le bom", []byte{0xff, 0xfe, 'i', 0, 'n', 0, 't', 0}, "int"},
		{"utf16be bom", []byte{0xfe, 0xff, 0, 'i', 0, 'n', 0, 't'}, "int"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DecodeText(tt.raw); got != tt.want {
				t.Errorf("DecodeText(%v) = %q, want %q", tt.raw, got, tt.want)
			}
		})
	}
}

func TestParseJSONShapes(t *testing.T) {
	tests := []struct {
		name      string
		body      string
		wantCount int
		wantName  string
		wantText  string
	}{
		{
			"units shape",
			`{"units":[{"unit_id":"abc","name":"f1","text":"int x;"}]}`,
			1, "f1", "int x;",
		},
		{
			"units with line array",
			`{"units":[{"name":"f2","decompiled":["line1","line2"]}]}`,
			1, "f2", "line1\nline2",
		},
		{
			"functions shape",
			`{"functions":[{"func_addr":"0x401000","func_name":"FUN_00401000","decomp_slice":[{"text":"a"},{"text":"b"}]}]}`,
			1, "FUN_00401000", "a\nb",
		},
		{
			"functions nested slices",
			`{"functions":[{"func_name":"g","slices":[{"decomp_slice":[{"text":"x"}]},{"decomp_slice":[{"text":"y"}]}]}]}`,
			1, "g", "x\ny",
		},
		{
			"single object",
			`{"name":"solo","text":"void f();"}`,
			1, "solo", "void f();",
		},
		{
			"bare list",
			`[{"name":"a","text":"t1"},{"text":"t2"}]`,
			2, "a", "t1",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			units, errs := ParseJSON("test", []byte(tt.body))
			if len(errs) != 0 {
				t.Fatalf("errs = %v", errs)
			}
			if len(units) != tt.wantCount {
				t.Fatalf("count = %d, want %d", len(units), tt.wantCount)
			}
			if units[0].Name != tt.wantName {
				t.Errorf("name = %q, want %q", units[0].Name, tt.wantName)
			}
			if units[0].Text != tt.wantText {
				t.Errorf("text = %q, want %q", units[0].Text, tt.wantText)
			}
		})
	}
}

func TestParseJSONBadInput(t *testing.T) {
	units, errs := ParseJSON("bad", []byte("{not json"))
	if len(units) != 0 {
		t.Errorf("units = %v, want none", units)
	}
	if len(errs) != 1 {
		t.Fatalf("errs = %v, want one entry", errs)
	}
}

func TestParseJSONSkipsTextlessEntries(t *testing.T) {
	units, errs := ParseJSON("t", []byte(`{"units":[{"name":"empty"},{"name":"ok","text":"x"}]}`))
	if len(errs) != 0 {
		t.Fatalf("errs = %v", errs)
	}
	if len(units) != 1 || units[0].Name != "ok" {
		t.Errorf("units = %v, want only the entry with text", units)
	}
}

func TestSplitGhidra(t *testing.T) {
	text := "#include <windows.h>\n\n" +
		"/* Function: FUN_00401000 */\n" +
		"void FUN_00401000(void) { a(); }\n" +
		"/* Function: FUN_00402000 @ 00402000 */\n" +
		"void FUN_00402000(void) { b(); }\n"

	units := SplitGhidra("dump.c", text)
	if len(units) != 2 {
		t.Fatalf("chunk count = %d, want 2", len(units))
	}
	if units[0].Name != "FUN_00401000" || units[1].Name != "FUN_00402000" {
		t.Errorf("names = %s, %s", units[0].Name, units[1].Name)
	}
	// Header material belongs to the first chunk.
	if got := units[0].Text; !strings.Contains(got, "#include") || !strings.Contains(got, "a();") {
		t.Errorf("first chunk missing header or body: %q", got)
	}
	if got := units[1].Text; !strings.Contains(got, "b();") || strings.Contains(got, "a();") {
		t.Errorf("second chunk wrong: %q", got)
	}
}

func TestSplitGhidraNoMarkers(t *testing.T) {
	units := SplitGhidra("plain.c", "int main(void) { return 0; }")
	if len(units) != 1 || units[0].Name != "plain.c" {
		t.Fatalf("units = %v, want single passthrough unit", units)
	}
}

