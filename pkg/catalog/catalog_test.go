package catalog

import (
	"strings"
	"testing"

	"github.com/malsift/malsift/pkg/config"
	"github.com/malsift/malsift/pkg/trigger"
)

func testConfig() *config.Config {
	cfg := config.NewDefaultConfig()
	cfg.Base64MinLength = 16
	cfg.HexArrayMinBytes = 4
	return cfg
}

func TestCatalogConstruction(t *testing.T) {
	c := New(testConfig())

	if got := len(c.High()); got != len(trigger.HighOrder) {
		t.Errorf("high detector count = %d, want %d", got, len(trigger.HighOrder))
	}
	if got := len(c.Mid()); got != len(trigger.MidOrder) {
		t.Errorf("mid detector count = %d, want %d", got, len(trigger.MidOrder))
	}
	for i, d := range c.High() {
		if d.Trigger != trigger.HighOrder[i] {
			t.Errorf("high[%d] = %s, want %s", i, d.Trigger, trigger.HighOrder[i])
		}
		if d.Severity != trigger.SeverityHigh {
			t.Errorf("high detector %s carries severity %s", d.Trigger, d.Severity)
		}
	}
	for _, want := range trigger.MidOrder {
		if c.Lookup(want) == nil {
			t.Errorf("Lookup(%s) = nil", want)
		}
	}
}

func TestDisabledTriggers(t *testing.T) {
	cfg := testConfig()
	cfg.DisabledTriggers = []trigger.Trigger{trigger.XorAssign, trigger.XorLoop}
	c := New(cfg)

	if c.Lookup(trigger.XorAssign) != nil {
		t.Error("xor_assign should be absent from the catalog")
	}
	if c.Lookup(trigger.XorLoop) != nil {
		t.Error("xor_loop should be absent from the catalog")
	}
	if c.Lookup(trigger.B64Blob) == nil {
		t.Error("b64_blob should survive unrelated disables")
	}
}

func TestHighDetectors(t *testing.T) {
	c := New(testConfig())

	tests := []struct {
		name    string
		trigger trigger.Trigger
		text    string
		match   bool
	}{
		{"run key", trigger.RegRun, `RegSetValueExA(hKey, "Software\\Microsoft\\Windows\\CurrentVersion\\Run", ...)`, true},
		{"runonce key", trigger.RegRun, `CurrentVersion\RunOnce`, true},
		{"startup folder", trigger.RegRun, `C:\\Users\\x\\Start Menu\\Programs\\Startup\\evil.lnk`, true},
		{"unrelated registry path", trigger.RegRun, `Software\\Classes\\CLSID`, false},
		{"sc create", trigger.ServiceStr, `system("sc.exe create updater binPath= evil.exe")`, true},
		{"services key", trigger.ServiceStr, `SYSTEM\\CurrentControlSet\\Services\\updater`, true},
		{"service flag", trigger.ServiceStr, `CreateServiceA(h, n, n, a, SERVICE_WIN32_OWN_PROCESS, SERVICE_AUTO_START, ...)`, true},
		{"schtasks", trigger.TasksSched, `schtasks /create /tn updater /tr evil.exe`, true},
		{"tasks path", trigger.TasksSched, `C:\\Windows\\System32\\Tasks\\updater`, true},
		{"asm syscall", trigger.InlineSyscall, "__asm {\n mov eax, 0x55\n syscall\n}", true},
		{"int 2e", trigger.InlineSyscall, `int 0x2e`, true},
		{"emit bytes", trigger.InlineSyscall, `__emit 0x0f, 0x05`, true},
		{"plain asm no syscall", trigger.InlineSyscall, `asm volatile("nop")`, false},
		{"dos stub", trigger.PEEmbed, `...This program cannot be run in DOS mode...`, true},
		{"mz pe header", trigger.MZPEHdr, "MZ\x90\x00 garbage PE\x00\x00", true},
		{"mz without pe", trigger.MZPEHdr, "MZ\x90\x00 garbage only", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := c.Lookup(tt.trigger)
			if d == nil {
				t.Fatalf("detector %s not registered", tt.trigger)
			}
			hits := d.FindAll(tt.text)
			if (len(hits) > 0) != tt.match {
				t.Errorf("%s on %q: hits=%d, want match=%v", tt.trigger, tt.text, len(hits), tt.match)
			}
		})
	}
}

func TestMidDetectors(t *testing.T) {
	c := New(testConfig())

	tests := []struct {
		name    string
		trigger trigger.Trigger
		text    string
		match   bool
	}{
		{"base64 run", trigger.B64Blob, strings.Repeat("QUJD", 8) + "==", true},
		{"base64 too short", trigger.B64Blob, "QUJDRA==", false},
		{"hex array", trigger.HexArray, `{ 0x4d, 0x5a, 0x90, 0x00, 0x03 }`, true},
		{"hex array trailing comma", trigger.HexArray, `{0x4d,0x5a,0x90,0x00,}`, true},
		{"hex array too small", trigger.HexArray, `{ 0x4d, 0x5a }`, false},
		{"decimal array", trigger.HexArray, `{ 77, 90, 144, 0 }`, true},
		{"isdebuggerpresent", trigger.AntiDebug, `if (IsDebuggerPresent()) exit(1);`, true},
		{"ntquery debug", trigger.AntiDebug, `NtQueryInformationProcess(h, ProcessDebugPort, &v, 4, 0)`, true},
		{"indirect dat call", trigger.IndirectCall, `(*DAT_00401000)(param_1);`, true},
		{"indirect pcvar call", trigger.IndirectCall, `(*pcVar3)();`, true},
		{"plain call", trigger.IndirectCall, `helper(param_1);`, false},
		{"cast call", trigger.CastCall, `((undefined4 *)) helper(5);`, true},
		{"cast call no match", trigger.CastCall, `(int) helper(5);`, false},
		{"xor assign hex", trigger.XorAssign, `buf[i] ^= 0x5A;`, true},
		{"xor assign var", trigger.XorAssign, `c ^= key;`, true},
		{"rol call", trigger.RolRorLoop, `x = rol(x, 7);`, true},
		{"ror call", trigger.RolRorLoop, `v = ROR(v, shift);`, true},
		{"com sched", trigger.ComSched, `CoCreateInstance(CLSID_TaskScheduler, ..., IID_ITaskService, &svc);`, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := c.Lookup(tt.trigger)
			if d == nil {
				t.Fatalf("detector %s not registered", tt.trigger)
			}
			hits := d.FindAll(tt.text)
			if (len(hits) > 0) != tt.match {
				t.Errorf("%s on %q: hits=%d, want match=%v", tt.trigger, tt.text, len(hits), tt.match)
			}
		})
	}
}

func TestXorLoopOperandEquality(t *testing.T) {
	c := New(testConfig())
	d := c.Lookup(trigger.XorLoop)
	if d == nil {
		t.Fatal("xor_loop not registered")
	}

	tests := []struct {
		name  string
		text  string
		match bool
	}{
		{"self xor", `for (i = 0; i < n; i++) { buf_x = buf_x ^ 0x5a; }`, true},
		{"self xor var key", `for (i = 0; i < n; i++) { c = c ^ key; }`, true},
		{"different operands", `for (i = 0; i < n; i++) { dst = src ^ 0x5a; }`, false},
		{"no loop", `x = x ^ 0x5a;`, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hits := d.FindAll(tt.text)
			if (len(hits) > 0) != tt.match {
				t.Errorf("xor_loop on %q: hits=%d, want match=%v", tt.text, len(hits), tt.match)
			}
		})
	}
}

func TestHitOffsets(t *testing.T) {
	c := New(testConfig())
	text := `prefix IsDebuggerPresent() suffix`
	hits := c.Lookup(trigger.AntiDebug).FindAll(text)
	if len(hits) != 1 {
		t.Fatalf("hits = %d, want 1", len(hits))
	}
	h := hits[0]
	if text[h.Start:h.End] != h.Fragment {
		t.Errorf("fragment %q does not round-trip offsets [%d,%d)", h.Fragment, h.Start, h.End)
	}
	if h.Fragment != "IsDebuggerPresent" {
		t.Errorf("fragment = %q", h.Fragment)
	}
}

func TestHexArrayThresholdPastRepetitionCap(t *testing.T) {
	cfg := testConfig()
	cfg.HexArrayMinBytes = 1500
	c := New(cfg)
	d := c.Lookup(trigger.HexArray)

	array := func(n int) string {
		return "{" + strings.Repeat("0x41,", n-1) + "0x41}"
	}

	// Past the regex's repetition cap but below the configured threshold.
	if hits := d.FindAll(array(1200)); len(hits) != 0 {
		t.Errorf("1200-element array matched with a 1500 threshold: %d hits", len(hits))
	}
	if hits := d.FindAll(array(1500)); len(hits) != 1 {
		t.Errorf("1500-element array: hits = %d, want 1", len(hits))
	}
}

func BenchmarkCatalogScan(b *testing.B) {
	c := New(testConfig())
	text := strings.Repeat("int helper(int x) { return x + 1; }\n", 200) +
		"if (IsDebuggerPresent()) { (*DAT_00401000)(); }\n" +
		`RegSetValueExA(h, "CurrentVersion\\Run", ...);` + "\n"

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		for _, d := range c.High() {
			d.FindAll(text)
		}
		for _, d := range c.Mid() {
			d.FindAll(text)
		}
	}
}
