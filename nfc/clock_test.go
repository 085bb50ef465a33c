package nfc

import (
	"testing"
	"time"
)

func TestFakeClock_After(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := NewFakeClock(start)

	c := clock.After(time.Second)
	if clock.Waiters() != 1 {
		t.Fatalf("Waiters() = %d, want 1", clock.Waiters())
	}

	clock.Advance(500 * time.Millisecond)
	select {
	case <-c:
		t.Fatal("fired too early")
	default:
	}

	clock.Advance(500 * time.Millisecond)
	select {
	case got := <-c:
		if !got.Equal(start.Add(time.Second)) {
			t.Errorf("fired at %v, want %v", got, start.Add(time.Second))
		}
	default:
		t.Fatal("did not fire when due")
	}
	if clock.Waiters() != 0 {
		t.Errorf("Waiters() = %d, want 0", clock.Waiters())
	}

	select {
	case <-clock.After(0):
	default:
		t.Error("After(0) should fire immediately")
	}
}

func TestFakeClock_Ticker(t *testing.T) {
	clock := NewFakeClock(time.Unix(0, 0))
	ticker := clock.NewTicker(time.Second)

	clock.Advance(3 * time.Second)
	select {
	case <-ticker.C():
	default:
		t.Fatal("ticker did not fire")
	}
	// Missed ticks are dropped, like time.Ticker.
	select {
	case <-ticker.C():
		t.Fatal("ticker fired twice for one advance")
	default:
	}

	ticker.Stop()
	clock.Advance(time.Second)
	select {
	case <-ticker.C():
		t.Fatal("stopped ticker fired")
	default:
	}
}
