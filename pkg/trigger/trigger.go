// Package trigger defines the closed set of detector names used across the
// scanner, together with their severity families and the fixed processing
// order. The set is data, not control flow: adding a trigger means adding a
// constant and a catalog entry, nothing else.
package trigger

// Trigger names a detector category.
type Trigger string

// Severity is the evidence strength family a trigger belongs to.
type Severity string

const (
	SeverityHigh Severity = "high"
	SeverityMid  Severity = "mid"
)

const (
	// High-severity triggers: near-conclusive malicious infrastructure.
	RegRun        Trigger = "reg_run"        // registry autorun key paths
	ServiceStr    Trigger = "service_str"    // service installation API/CLI strings
	TasksSched    Trigger = "tasks_sched"    // scheduled task creation strings
	InlineSyscall Trigger = "inline_syscall" // raw syscall instructions / trap numbers
	PEEmbed       Trigger = "pe_embed"       // DOS-stub textual marker
	MZPEHdr       Trigger = "mz_pe_hdr"      // raw MZ..PE header byte signature

	// Mid-severity triggers: corroborating obfuscation/anti-analysis signals.
	B64Blob      Trigger = "b64_blob"     // long base64-alphabet run
	HexArray     Trigger = "hex_array"    // large byte-array literal
	AntiDebug    Trigger = "anti_debug"   // debugger-detection API/flag names
	IndirectCall Trigger = "indirect_call"
	CastCall     Trigger = "cast_call"
	XorLoop      Trigger = "xor_loop"     // self-XOR assignment inside a loop body
	XorAssign    Trigger = "xor_assign"   // compound ^= operator
	RolRorLoop   Trigger = "rol_ror_loop" // rotate-left/right call
	ComSched     Trigger = "com_sched"    // COM task-scheduling interface names
)

// HighOrder is the fixed processing order for high-severity triggers.
// Budget decisions depend on this order being stable across runs.
var HighOrder = []Trigger{RegRun, ServiceStr, TasksSched, InlineSyscall, PEEmbed, MZPEHdr}

// MidOrder is the fixed processing order for mid-severity triggers.
var MidOrder = []Trigger{B64Blob, HexArray, AntiDebug, IndirectCall, CastCall, XorLoop, XorAssign, RolRorLoop, ComSched}

// StrongHighSet lists the triggers that mark a unit as carrying clear
// malicious-infrastructure evidence. The two embedded-executable triggers are
// deliberately excluded: on their own they are promoted separately (pe_high).
var StrongHighSet = map[Trigger]bool{
	RegRun:        true,
	ServiceStr:    true,
	TasksSched:    true,
	InlineSyscall: true,
}

// PESet lists the two embedded-executable triggers subject to promotion.
var PESet = map[Trigger]bool{
	PEEmbed: true,
	MZPEHdr: true,
}

// SeverityOf returns the severity family a trigger was registered under.
// Unknown triggers report mid so a misconfigured whitelist entry can never
// mint high-severity evidence.
func SeverityOf(t Trigger) Severity {
	for _, h := range HighOrder {
		if t == h {
			return SeverityHigh
		}
	}
	return SeverityMid
}
