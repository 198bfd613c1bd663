// Package report serializes batch scan results: a JSON result document for
// downstream tooling and an optional generated C evidence file that review
// tools can open with original source locations intact.
package report

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/malsift/malsift/pkg/scan"
)

// Batch wraps a scan result with identity metadata for storage and
// cross-referencing.
type Batch struct {
	BatchID     string            `json:"batch_id"`
	GeneratedAt time.Time         `json:"generated_at"`
	Units       []scan.UnitResult `json:"units"`
	Summary     scan.Summary      `json:"summary"`
}

// NewBatch assigns a fresh batch ID to a scan result.
func NewBatch(res *scan.BatchResult) *Batch {
	return &Batch{
		BatchID:     uuid.NewString(),
		GeneratedAt: time.Now().UTC(),
		Units:       res.Units,
		Summary:     res.Summary,
	}
}

// WriteJSON writes the batch result document to path.
func WriteJSON(path string, b *Batch) error {
	data, err := json.MarshalIndent(b, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal batch: %w", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("write_fail:%s:%w", path, err)
	}
	return nil
}
