package scan

import (
	"sort"

	"github.com/malsift/malsift/pkg/catalog"
	"github.com/malsift/malsift/pkg/trigger"
)

// collect runs every registered detector over the unit text and returns the
// raw hits per trigger, split into severity families. The base64 trigger
// additionally receives the concatenated-literal sub-scan; its direct and
// decoded hits are merged, sorted by start offset, and exact-duplicate
// (start, end) pairs collapsed so the same blob is never reported twice.
func (s *Scanner) collect(text string) (high, mid map[trigger.Trigger][]catalog.Hit) {
	high = make(map[trigger.Trigger][]catalog.Hit)
	mid = make(map[trigger.Trigger][]catalog.Hit)

	for _, d := range s.cat.High() {
		if hits := d.FindAll(text); len(hits) > 0 {
			high[d.Trigger] = hits
		}
	}
	for _, d := range s.cat.Mid() {
		if d.Trigger == trigger.B64Blob {
			continue
		}
		if hits := d.FindAll(text); len(hits) > 0 {
			mid[d.Trigger] = hits
		}
	}

	if s.cat.Lookup(trigger.B64Blob) != nil {
		b64 := s.cat.Lookup(trigger.B64Blob).FindAll(text)
		b64 = append(b64, findConcatBase64(text, s.cat.Base64())...)
		if len(b64) > 0 {
			mid[trigger.B64Blob] = collapseHits(b64)
		}
	}
	return high, mid
}

// collapseHits sorts hits by start offset and drops consecutive entries with
// identical (start, end) spans.
func collapseHits(hits []catalog.Hit) []catalog.Hit {
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Start < hits[j].Start })
	out := hits[:0]
	lastStart, lastEnd := -1, -1
	for _, h := range hits {
		if h.Start == lastStart && h.End == lastEnd {
			continue
		}
		out = append(out, h)
		lastStart, lastEnd = h.Start, h.End
	}
	return out
}
