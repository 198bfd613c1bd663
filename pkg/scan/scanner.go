// Package scan implements the heuristic evidence engine: it applies the
// detector catalog to decompiled-source units and emits bounded,
// deduplicated, line-windowed slices of the surrounding code.
//
// The engine is CPU-bound and synchronous. Units are independent; a batch
// may scan them concurrently, but results commit in input order so the
// global slice budget always keeps the same slices regardless of worker
// count.
package scan

import (
	"context"
	"fmt"
	"regexp"
	"sync"

	"github.com/malsift/malsift/pkg/allowlist"
	"github.com/malsift/malsift/pkg/catalog"
	"github.com/malsift/malsift/pkg/config"
	"github.com/malsift/malsift/pkg/trigger"
	"github.com/malsift/malsift/pkg/unit"
)

// detectorCatalog is the detector surface the engine consumes. Satisfied by
// *catalog.Catalog.
type detectorCatalog interface {
	High() []*catalog.Detector
	Mid() []*catalog.Detector
	Lookup(t trigger.Trigger) *catalog.Detector
	Base64() *regexp.Regexp
}

// Scanner scans units against one immutable configuration. Safe for
// concurrent use: all fields are read-only after construction.
type Scanner struct {
	cfg   *config.Config
	cat   detectorCatalog
	allow *allowlist.List

	// midWhitelistOrder is the fixed processing order of whitelisted mid
	// triggers under strong-high suppression.
	midWhitelistOrder []trigger.Trigger
}

// NewScanner builds a scanner from cfg and an allowlist. A nil config uses
// the defaults; a nil allowlist uses the built-in one.
func NewScanner(cfg *config.Config, allow *allowlist.List) (*Scanner, error) {
	if cfg == nil {
		cfg = config.NewDefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("scanner config: %w", err)
	}
	if allow == nil {
		allow = allowlist.NewDefault()
	}
	return &Scanner{
		cfg:               cfg,
		cat:               catalog.New(cfg),
		allow:             allow,
		midWhitelistOrder: whitelistOrder(cfg.MidWhitelist),
	}, nil
}

// whitelistPriority is the preferred emission order for whitelisted mid
// triggers when a strong-high unit only gets a small mid quota.
var whitelistPriority = []trigger.Trigger{
	trigger.B64Blob, trigger.AntiDebug, trigger.HexArray,
	trigger.IndirectCall, trigger.XorLoop, trigger.XorAssign,
}

func whitelistOrder(whitelist []trigger.Trigger) []trigger.Trigger {
	allowed := make(map[trigger.Trigger]bool, len(whitelist))
	for _, t := range whitelist {
		allowed[t] = true
	}
	var order []trigger.Trigger
	seen := make(map[trigger.Trigger]bool)
	for _, t := range whitelistPriority {
		if allowed[t] {
			order = append(order, t)
			seen[t] = true
		}
	}
	for _, t := range trigger.MidOrder {
		if allowed[t] && !seen[t] {
			order = append(order, t)
		}
	}
	return order
}

// Config returns the scanner's configuration.
func (s *Scanner) Config() *config.Config { return s.cfg }

// ScanUnit scans a single unit. A panic inside the engine is recovered and
// reported as an error so one hostile input cannot take down a batch.
func (s *Scanner) ScanUnit(u unit.Unit) (res UnitResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("scan_fail:%s:%v", u.Name, r)
		}
	}()
	res = s.scanUnit(u)
	return res, nil
}

// scanUnit is the per-unit pipeline: collect, classify, gate, budget,
// dedup, sort.
func (s *Scanner) scanUnit(u unit.Unit) UnitResult {
	text := u.Text
	lines := splitLines(text)
	high, mid := s.collect(text)
	flags := classify(high, len(mid), s.cfg.PEPromotionMidCount)

	var accepted []Slice
	perTrigger := make(map[trigger.Trigger]int)

	// High triggers first, fixed catalog order.
highLoop:
	for _, t := range trigger.HighOrder {
		for _, h := range high[t] {
			if len(accepted) >= s.cfg.PerUnitCap {
				break highLoop
			}
			// The allowlist reads the whole matched line, not just the
			// fragment: the vendor name sits beside the autorun key string
			// on the same statement, never inside the key path itself.
			if s.allow.Allowed(t, lineContext(text, h)) {
				continue
			}
			if perTrigger[t] >= s.cfg.PerTriggerCap {
				continue
			}
			cand := s.buildSlice(u, lines, text, h, t, sliceSeverity(t, flags))
			if s.admit(&accepted, cand) {
				perTrigger[t]++
			}
		}
	}

	// Mid triggers fill whatever per-unit budget remains. A strong-high unit
	// already has its verdict; mids there are corroboration only and are
	// limited to a small whitelist quota.
	if budget := s.cfg.PerUnitCap - len(accepted); budget > 0 {
		if flags.strongHigh && s.cfg.SkipMidWhenStrongHigh {
			s.addWhitelistedMid(u, lines, text, mid, &accepted, perTrigger, budget)
		} else {
			s.addAllMid(u, lines, text, mid, &accepted, perTrigger)
		}
	}

	sortSlices(accepted)
	if s.cfg.DedupPolicy == config.PolicyMerge {
		accepted = mergeNearby(accepted, s.cfg.MergeLineDistance, lines)
	}
	return UnitResult{UnitID: u.ID, Name: u.Name, Slices: accepted}
}

func (s *Scanner) addWhitelistedMid(u unit.Unit, lines []string, text string, mid map[trigger.Trigger][]catalog.Hit, accepted *[]Slice, perTrigger map[trigger.Trigger]int, budget int) {
	quota := minInt(s.cfg.MidMinWhenStrongHigh, budget)
	added := 0
	for _, t := range s.midWhitelistOrder {
		for _, h := range mid[t] {
			if added >= quota {
				return
			}
			if !s.passesMidGates(t, h, text, perTrigger) {
				continue
			}
			cand := s.buildSlice(u, lines, text, h, t, trigger.SeverityMid)
			if s.admit(accepted, cand) {
				added++
				perTrigger[t]++
			}
		}
		if added >= quota {
			return
		}
	}
}

func (s *Scanner) addAllMid(u unit.Unit, lines []string, text string, mid map[trigger.Trigger][]catalog.Hit, accepted *[]Slice, perTrigger map[trigger.Trigger]int) {
	for _, t := range trigger.MidOrder {
		for _, h := range mid[t] {
			if len(*accepted) >= s.cfg.PerUnitCap {
				return
			}
			if !s.passesMidGates(t, h, text, perTrigger) {
				continue
			}
			cand := s.buildSlice(u, lines, text, h, t, trigger.SeverityMid)
			if s.admit(accepted, cand) {
				perTrigger[t]++
			}
		}
	}
}

func (s *Scanner) passesMidGates(t trigger.Trigger, h catalog.Hit, text string, perTrigger map[trigger.Trigger]int) bool {
	if t == trigger.IndirectCall && s.cfg.IndirectCallContextOnly &&
		!contextOK(text, h, s.cfg.ContextRadius) {
		return false
	}
	return perTrigger[t] < s.cfg.PerTriggerCap
}

// ScanBatch scans units in their given order under the global slice budget.
// With Workers > 1 units are scanned speculatively in parallel, but results
// always commit in input order, truncating at the point the global cap is
// exhausted, so output is identical to a sequential run. Per-unit failures
// are recorded in the summary and never abort the batch.
func (s *Scanner) ScanBatch(ctx context.Context, units []unit.Unit) *BatchResult {
	res := &BatchResult{Summary: Summary{Errors: []string{}}}

	workers := s.cfg.Workers
	if workers > len(units) {
		workers = len(units)
	}
	if workers <= 1 {
		s.scanSequential(ctx, units, res)
	} else {
		s.scanParallel(ctx, units, workers, res)
	}
	res.Summary.UnitCount = len(res.Units)
	return res
}

func (s *Scanner) scanSequential(ctx context.Context, units []unit.Unit, res *BatchResult) {
	for _, u := range units {
		if res.Summary.TotalSliceCount >= s.cfg.GlobalTotalCap || ctx.Err() != nil {
			return
		}
		ur, err := s.ScanUnit(u)
		s.commit(res, ur, err)
	}
}

func (s *Scanner) scanParallel(ctx context.Context, units []unit.Unit, workers int, res *BatchResult) {
	type outcome struct {
		res UnitResult
		err error
	}
	outcomes := make([]outcome, len(units))
	jobs := make(chan int)

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				ur, err := s.ScanUnit(units[i])
				outcomes[i] = outcome{res: ur, err: err}
			}
		}()
	}
	for i := range units {
		if ctx.Err() != nil {
			break
		}
		jobs <- i
	}
	close(jobs)
	wg.Wait()

	// Ordered commit: this is the single synchronized point where the global
	// cap is applied, so worker scheduling can never change which slices are
	// kept.
	for i := range units {
		if res.Summary.TotalSliceCount >= s.cfg.GlobalTotalCap {
			return
		}
		s.commit(res, outcomes[i].res, outcomes[i].err)
	}
}

// commit applies the global budget to one unit's speculative result.
func (s *Scanner) commit(res *BatchResult, ur UnitResult, err error) {
	if err != nil {
		res.Summary.Errors = append(res.Summary.Errors, err.Error())
		return
	}
	if len(ur.Slices) == 0 {
		return
	}
	remaining := s.cfg.GlobalTotalCap - res.Summary.TotalSliceCount
	if remaining <= 0 {
		return
	}
	if len(ur.Slices) > remaining {
		ur.Slices = ur.Slices[:remaining]
	}
	res.Summary.TotalSliceCount += len(ur.Slices)
	res.Units = append(res.Units, ur)
}
