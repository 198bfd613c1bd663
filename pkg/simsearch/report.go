package simsearch

import (
	"context"
	"fmt"
	"strings"

	"github.com/malsift/malsift/pkg/scan"
)

// UnitSimilarity holds the nearest corpus neighbors for one scanned unit.
type UnitSimilarity struct {
	UnitID       string     `json:"unit_id"`
	Name         string     `json:"name"`
	Neighbors    []Neighbor `json:"neighbors"`
	LikelyBenign bool       `json:"likely_benign"`
}

// Report is the similarity stage output for a batch.
type Report struct {
	Embedder string           `json:"embedder"`
	Units    []UnitSimilarity `json:"units"`
}

// queryText builds the embedding input for a unit from its slice evidence.
// The windows carry the suspicious context; the full decompilation would
// drown the signal in boilerplate.
func queryText(u scan.UnitResult) string {
	var b strings.Builder
	for _, s := range u.Slices {
		for _, line := range s.Window {
			b.WriteString(line.Text)
			b.WriteByte('\n')
		}
	}
	return b.String()
}

// ReportForBatch queries the index for every unit that produced slices and
// flags units whose closest neighbor is a benign corpus entry above the
// threshold. Units without slices are skipped.
func (ix *Index) ReportForBatch(ctx context.Context, res *scan.BatchResult, topK int, benignThreshold float32) (*Report, error) {
	if topK <= 0 {
		topK = 3
	}
	rep := &Report{Embedder: ix.embedder.Name()}
	for _, u := range res.Units {
		if len(u.Slices) == 0 {
			continue
		}
		neighbors, err := ix.Query(ctx, queryText(u), topK)
		if err != nil {
			return nil, fmt.Errorf("similarity for %s: %w", u.Name, err)
		}
		entry := UnitSimilarity{
			UnitID:    u.UnitID,
			Name:      u.Name,
			Neighbors: neighbors,
		}
		if len(neighbors) > 0 && neighbors[0].Label == "benign" && neighbors[0].Similarity >= benignThreshold {
			entry.LikelyBenign = true
		}
		rep.Units = append(rep.Units, entry)
	}
	return rep, nil
}

// Render formats the report as plain text for the analyst summary.
func (r *Report) Render() string {
	var b strings.Builder
	fmt.Fprintf(&b, "similarity report (embedder=%s)\n", r.Embedder)
	if len(r.Units) == 0 {
		b.WriteString("no units with findings\n")
		return b.String()
	}
	for _, u := range r.Units {
		fmt.Fprintf(&b, "\n%s (%s)\n", u.Name, u.UnitID)
		for _, n := range u.Neighbors {
			fmt.Fprintf(&b, "  %-8s %.3f  %s\n", n.Label, n.Similarity, n.Name)
		}
		if u.LikelyBenign {
			b.WriteString("  note: closest match is a benign corpus entry\n")
		}
	}
	return b.String()
}
