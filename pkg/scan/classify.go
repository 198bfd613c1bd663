package scan

import (
	"github.com/malsift/malsift/pkg/catalog"
	"github.com/malsift/malsift/pkg/trigger"
)

// severityFlags is the per-unit severity classification, computed from raw
// match presence before any gating or budgeting.
type severityFlags struct {
	// strongHigh: at least one of the four near-conclusive persistence or
	// syscall triggers fired.
	strongHigh bool
	// peHigh: embedded-executable evidence strong enough to emit as high
	// severity. A lone DOS stub or MZ/PE signature stays mid unless either
	// both PE triggers fire or enough corroborating mid categories do.
	peHigh bool
}

func classify(high map[trigger.Trigger][]catalog.Hit, midCategoryCount, promoteWithMid int) severityFlags {
	var f severityFlags
	for t := range high {
		if trigger.StrongHighSet[t] {
			f.strongHigh = true
			break
		}
	}

	_, peEmbed := high[trigger.PEEmbed]
	_, mzHdr := high[trigger.MZPEHdr]
	if peEmbed || mzHdr {
		if (peEmbed && mzHdr) || midCategoryCount >= promoteWithMid {
			f.peHigh = true
		}
	}
	return f
}

// sliceSeverity decides the severity of one high-family slice. The four
// strong triggers always emit high; the PE triggers emit high only when
// promoted, mid otherwise.
func sliceSeverity(t trigger.Trigger, f severityFlags) trigger.Severity {
	if trigger.StrongHighSet[t] {
		return trigger.SeverityHigh
	}
	if trigger.PESet[t] && f.peHigh {
		return trigger.SeverityHigh
	}
	return trigger.SeverityMid
}
