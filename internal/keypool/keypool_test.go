package keypool

import (
	"context"
	"testing"
	"time"

	"github.com/1morr/anidown/internal/domain"
)

func testSpecs(n int, rpm, rpd int) []domain.KeySpec {
	specs := make([]domain.KeySpec, n)
	for i := 0; i < n; i++ {
		specs[i] = domain.KeySpec{
			KeyID:       string(rune('a' + i)),
			DisplayName: string(rune('A' + i)),
			Enabled:     true,
			RPMLimit:    rpm,
			RPDLimit:    rpd,
		}
	}
	return specs
}

func TestReserveRoundRobin(t *testing.T) {
	p := New("test", testSpecs(3, 0, 0), nil)

	seen := map[string]int{}
	for i := 0; i < 6; i++ {
		res, err := p.Reserve(context.Background(), false, false)
		if err != nil {
			t.Fatalf("reserve: %v", err)
		}
		if res == nil {
			t.Fatalf("expected a reservation at iteration %d", i)
		}
		seen[res.KeyID]++
	}
	for _, k := range []string{"a", "b", "c"} {
		if seen[k] != 2 {
			t.Errorf("expected key %s reserved twice, got %d", k, seen[k])
		}
	}
}

func TestReserveRespectsRPMLimit(t *testing.T) {
	p := New("test", testSpecs(1, 2, 0), nil)

	for i := 0; i < 2; i++ {
		res, err := p.Reserve(context.Background(), false, false)
		if err != nil || res == nil {
			t.Fatalf("expected reservation %d, got %v %v", i, res, err)
		}
	}

	res, err := p.Reserve(context.Background(), false, false)
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if res != nil {
		t.Fatalf("expected nil reservation once RPM limit exhausted, got %+v", res)
	}
}

func TestReserveSkipsDisabledAndCooling(t *testing.T) {
	p := New("test", testSpecs(2, 0, 0), nil)
	p.DisableKey("a", "manual")

	res, err := p.Reserve(context.Background(), false, false)
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if res == nil || res.KeyID != "b" {
		t.Fatalf("expected key b, got %+v", res)
	}
}

func TestReportErrorEscalatesCooldown(t *testing.T) {
	p := New("test", testSpecs(1, 0, 0), nil)
	fixed := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	p.now = func() time.Time { return fixed }

	p.ReportError("a", "server error", 500, 0)
	status := p.GetStatus()
	if status.Keys[0].State != domain.KeyStateCooling {
		t.Fatalf("expected cooling after first error, got %s", status.Keys[0].State)
	}

	p.ReportError("a", "server error", 500, 0)
	p.ReportError("a", "server error", 500, 0)
	status = p.GetStatus()
	if status.Keys[0].State != domain.KeyStateLongCooling {
		t.Fatalf("expected long_cooling after third consecutive error, got %s", status.Keys[0].State)
	}
}

func TestReportErrorDisablesOnAuthFault(t *testing.T) {
	p := New("test", testSpecs(1, 0, 0), nil)
	var disabledKey string
	p.SetOnDisabled(func(keyID, displayName, reason string) { disabledKey = keyID })

	p.ReportError("a", "invalid api key", 400, 0)

	status := p.GetStatus()
	if status.Keys[0].State != domain.KeyStateDisabled {
		t.Fatalf("expected disabled, got %s", status.Keys[0].State)
	}
	if disabledKey != "a" {
		t.Fatalf("expected onDisabled callback invoked with key a, got %q", disabledKey)
	}
}

func TestReportSuccessClearsErrorCount(t *testing.T) {
	p := New("test", testSpecs(1, 0, 0), nil)
	p.ReportError("a", "server error", 500, 0)
	p.ReportSuccess("a")

	p.ResetCooldown("a")
	status := p.GetStatus()
	if status.Keys[0].ErrorCount != 0 {
		t.Fatalf("expected error count reset, got %d", status.Keys[0].ErrorCount)
	}
}

func TestAllInLongCoolingTripwire(t *testing.T) {
	p := New("test", testSpecs(2, 0, 0), nil)
	for _, k := range []string{"a", "b"} {
		p.ReportError(k, "server error", 500, 0)
		p.ReportError(k, "server error", 500, 0)
		p.ReportError(k, "server error", 500, 0)
	}
	status := p.GetStatus()
	if !status.AllInLongCooling {
		t.Fatalf("expected AllInLongCooling once every key is long-cooling")
	}
}

func TestEnableKeyResetsState(t *testing.T) {
	p := New("test", testSpecs(1, 0, 0), nil)
	p.DisableKey("a", "manual")
	p.EnableKey("a")

	res, err := p.Reserve(context.Background(), false, false)
	if err != nil || res == nil {
		t.Fatalf("expected reservation after re-enable, got %v %v", res, err)
	}
}

func TestRateLimitedUsesRetryAfter(t *testing.T) {
	p := New("test", testSpecs(1, 0, 0), nil)
	fixed := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	p.now = func() time.Time { return fixed }

	p.ReportError("a", "rate limited", 429, 5*time.Second)
	status := p.GetStatus()
	if status.Keys[0].CooldownRemaining != 5*time.Second {
		t.Fatalf("expected cooldown of 5s from retry-after, got %s", status.Keys[0].CooldownRemaining)
	}
}

func TestRepeatedRateLimitsNeverReportLongCooling(t *testing.T) {
	p := New("test", testSpecs(1, 0, 0), nil)
	fixed := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	p.now = func() time.Time { return fixed }

	// Three consecutive 429s push ConsecutiveErrorCount past the long-cooldown
	// ladder's threshold, but the rate-limit tier must win classification —
	// the ladder is for non-auth, non-rate-limit errors only.
	p.ReportError("a", "rate limited", 429, 10*time.Second)
	p.ReportError("a", "rate limited", 429, 10*time.Second)
	p.ReportError("a", "rate limited", 429, 10*time.Second)

	status := p.GetStatus()
	if status.Keys[0].State != domain.KeyStateCooling {
		t.Fatalf("expected cooling (not long_cooling) after repeated 429s, got %s", status.Keys[0].State)
	}
	if status.AllInLongCooling {
		t.Fatal("expected AllInLongCooling false when the only key is rate-limit cooling")
	}
}
