package breaker

import (
	"testing"
	"time"

	"github.com/1morr/anidown/internal/domain"
)

func TestTripOpensAndAutoCloses(t *testing.T) {
	b := New("ai-rename")
	fixed := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	b.now = func() time.Time { return fixed }

	if b.IsOpen() {
		t.Fatalf("expected closed breaker before any trip")
	}

	b.Trip(10*time.Second, "all_in_long_cooling")
	if !b.IsOpen() {
		t.Fatalf("expected open breaker right after trip")
	}

	b.now = func() time.Time { return fixed.Add(11 * time.Second) }
	if b.IsOpen() {
		t.Fatalf("expected breaker to auto-close after window elapses")
	}
}

func TestTripDefaultsDurationWhenNonPositive(t *testing.T) {
	b := New("ai-rename")
	fixed := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	b.now = func() time.Time { return fixed }

	b.Trip(0, "all_in_long_cooling")
	status := b.Status()
	if got := status.OpenUntil.Sub(fixed); got != DefaultOpenDuration {
		t.Fatalf("expected default open duration %s, got %s", DefaultOpenDuration, got)
	}
}

func TestTripIncrementsCount(t *testing.T) {
	b := New("ai-rename")
	b.Trip(time.Second, "first")
	b.Trip(time.Second, "second")

	status := b.Status()
	if status.TripCount != 2 {
		t.Fatalf("expected trip count 2, got %d", status.TripCount)
	}
	if status.LastTripReason != "second" {
		t.Fatalf("expected last trip reason 'second', got %q", status.LastTripReason)
	}
}

func TestResetForcesClosed(t *testing.T) {
	b := New("ai-rename")
	b.Trip(time.Second, "reason")
	b.Reset()

	if b.IsOpen() {
		t.Fatalf("expected breaker closed after Reset")
	}
	if b.Status().State != domain.CircuitClosed {
		t.Fatalf("expected CircuitClosed state after Reset")
	}
}
