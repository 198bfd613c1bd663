package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"github.com/malsift/malsift/pkg/config"
	"github.com/malsift/malsift/pkg/scan"
	"github.com/malsift/malsift/pkg/trigger"
	"github.com/malsift/malsift/pkg/unit"
)

func newTestCache(t *testing.T) (*Cache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	c, err := New(Config{Addr: mr.Addr(), TTL: time.Hour})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c, mr
}

func TestCacheRoundTrip(t *testing.T) {
	c, mr := newTestCache(t)
	ctx := context.Background()

	u := unit.Unit{ID: "abc", Name: "a.c", Text: "schtasks /create"}
	key := Key(u, "fp1")

	if _, found, err := c.Get(ctx, key); err != nil || found {
		t.Fatalf("expected miss, got found=%v err=%v", found, err)
	}

	want := &scan.UnitResult{
		UnitID: "abc",
		Name:   "a.c",
		Slices: []scan.Slice{
			{
				UnitID:    "abc",
				Name:      "a.c",
				Triggers:  []trigger.Trigger{trigger.TasksSched},
				Severity:  trigger.SeverityHigh,
				StartLine: 1,
				EndLine:   1,
				Window:    []scan.Line{{Number: 1, Text: "schtasks /create"}},
				Excerpt:   "schtasks /create",
			},
		},
	}
	if err := c.Put(ctx, key, want); err != nil {
		t.Fatalf("Put: %v", err)
	}

	got, found, err := c.Get(ctx, key)
	if err != nil || !found {
		t.Fatalf("Get after Put: found=%v err=%v", found, err)
	}
	if got.UnitID != "abc" || len(got.Slices) != 1 || got.Slices[0].Triggers[0] != trigger.TasksSched {
		t.Errorf("round-trip mismatch: %+v", got)
	}

	if ttl := mr.TTL(key); ttl <= 0 || ttl > time.Hour {
		t.Errorf("TTL = %v", ttl)
	}
}

func TestKeyBindsTextAndFingerprint(t *testing.T) {
	a := unit.Unit{Text: "one"}
	b := unit.Unit{Text: "two"}
	if Key(a, "fp") == Key(b, "fp") {
		t.Error("different texts must map to different keys")
	}
	if Key(a, "fp1") == Key(a, "fp2") {
		t.Error("different fingerprints must map to different keys")
	}
	if Key(a, "fp") != Key(a, "fp") {
		t.Error("key must be deterministic")
	}
}

func TestFingerprintTracksConfig(t *testing.T) {
	base := config.NewDefaultConfig()
	same := config.NewDefaultConfig()
	if Fingerprint(base) != Fingerprint(same) {
		t.Error("identical configs must fingerprint identically")
	}

	changed := config.NewDefaultConfig()
	changed.PerUnitCap = 99
	if Fingerprint(base) == Fingerprint(changed) {
		t.Error("config change must change the fingerprint")
	}
}

func TestGetCorruptEntryIsMiss(t *testing.T) {
	c, mr := newTestCache(t)
	key := keyPrefix + "fp:deadbeef"
	mr.Set(key, "{not json")

	_, found, err := c.Get(context.Background(), key)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if found {
		t.Error("corrupt entry must read as a miss")
	}
}

func TestNewRequiresAddr(t *testing.T) {
	t.Setenv("MALSIFT_REDIS_ADDR", "")
	if _, err := New(Config{}); err == nil {
		t.Error("expected error without an address")
	}
}
