package unit

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// sourceExtensions are the file suffixes treated as decompiled source.
var sourceExtensions = []string{
	".c", ".h", ".txt", ".i", ".ii", ".cpp", ".cc", ".cxx", ".decomp", ".ghidra.txt",
}

func isSourceFile(name string) bool {
	lower := strings.ToLower(name)
	for _, ext := range sourceExtensions {
		if strings.HasSuffix(lower, ext) {
			return true
		}
	}
	return false
}

// LoadDir walks root and loads every decompiled-source file as one unit.
// Unit IDs are derived from the file path so re-runs over the same tree are
// stable. Read failures are recorded and skipped, never fatal.
func LoadDir(root string) ([]Unit, []string) {
	var units []Unit
	var errs []string
	walkErr := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			errs = append(errs, fmt.Sprintf("read_fail:%s:%v", path, err))
			return nil
		}
		if d.IsDir() || !isSourceFile(d.Name()) {
			return nil
		}
		raw, err := os.ReadFile(path)
		if err != nil {
			errs = append(errs, fmt.Sprintf("read_fail:%s:%v", path, err))
			return nil
		}
		units = append(units, Unit{
			ID:   DeriveID(path),
			Name: d.Name(),
			Text: DecodeText(raw),
		})
		return nil
	})
	if walkErr != nil {
		errs = append(errs, fmt.Sprintf("read_fail:%s:%v", root, walkErr))
	}
	return units, errs
}

// DecodeText converts raw decompiler output bytes to a string. Exports are
// not reliably UTF-8: Windows tooling frequently writes UTF-16 with a BOM.
// The BOM, when present, selects the decoding; otherwise bytes pass through
// as permissive UTF-8 (invalid sequences are replaced, never fatal).
func DecodeText(raw []byte) string {
	decoder := unicode.BOMOverride(unicode.UTF8.NewDecoder())
	out, _, err := transform.Bytes(decoder, raw)
	if err != nil {
		return string(raw)
	}
	return string(out)
}
