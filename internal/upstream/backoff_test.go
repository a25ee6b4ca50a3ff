package upstream

import (
	"testing"
	"time"
)

func TestBackoff_DefaultSequence(t *testing.T) {
	b := Backoff{Base: 1000 * time.Millisecond, Factor: 1.5, Max: 30000 * time.Millisecond, MaxAttempts: 3}

	var got []time.Duration
	for attempt := 0; !b.Exhausted(attempt); attempt++ {
		got = append(got, b.Delay(attempt))
	}

	want := []time.Duration{1000 * time.Millisecond, 1500 * time.Millisecond, 2250 * time.Millisecond}
	if len(got) != len(want) {
		t.Fatalf("expected %d delays, got %v", len(want), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("delay %d = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestBackoff_Cap(t *testing.T) {
	b := Backoff{Base: time.Second, Factor: 2, Max: 5 * time.Second}

	if got := b.Delay(10); got != 5*time.Second {
		t.Errorf("expected capped delay 5s, got %v", got)
	}
	if b.Exhausted(1000) {
		t.Error("MaxAttempts 0 should never exhaust")
	}
}

func TestDefaultBackoff(t *testing.T) {
	b := DefaultBackoff()
	if b.Delay(0) != time.Second || b.Delay(2) != 2250*time.Millisecond || !b.Exhausted(3) {
		t.Errorf("unexpected default backoff %+v", b)
	}
}
