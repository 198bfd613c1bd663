// Package unit loads scan units (decompiled function or file texts) from the
// supported input sources: a directory tree of decompiled sources, a JSON
// export from decompiler tooling, or one big Ghidra decompilation split into
// per-function chunks.
//
// Loaders never abort a batch: unreadable or unparsable inputs are recorded
// as error strings and skipped.
package unit

import (
	"crypto/sha1"
	"encoding/hex"
)

// Unit is one independently scannable piece of decompiled source text.
type Unit struct {
	ID   string `json:"unit_id"`
	Name string `json:"name"`
	Text string `json:"text"`
}

// DeriveID produces a short stable identifier from a seed string (a file
// path, or name plus a text prefix for anonymous units).
func DeriveID(seed string) string {
	sum := sha1.Sum([]byte(seed))
	return hex.EncodeToString(sum[:])[:12]
}
