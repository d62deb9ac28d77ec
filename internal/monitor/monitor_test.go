package monitor

import (
	"errors"
	"sync"
	"testing"
	"time"

	"ephemeral-vault/internal/clock"
	"ephemeral-vault/internal/domain"
)

var t0 = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

func TestMonitor_TrackAndBalance(t *testing.T) {
	m := New(clock.Fake(t0))

	m.Track("vaultA", "session-1", 50000)

	bal, ok := m.GetBalance("vaultA")
	if !ok || bal != 50000 {
		t.Fatalf("GetBalance() = %d, %v; want 50000, true", bal, ok)
	}

	if err := m.UpdateBalance("vaultA", 29000); err != nil {
		t.Fatalf("UpdateBalance() error = %v", err)
	}
	bal, _ = m.GetBalance("vaultA")
	if bal != 29000 {
		t.Errorf("balance = %d, want 29000", bal)
	}

	v, ok := m.Get("vaultA")
	if !ok || v.SessionID != "session-1" {
		t.Errorf("Get() = %+v, %v", v, ok)
	}
}

func TestMonitor_UnknownVault(t *testing.T) {
	m := New(clock.Fake(t0))

	if err := m.UpdateBalance("missing", 1); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("UpdateBalance() error = %v, want ErrNotFound", err)
	}
	if _, ok := m.GetBalance("missing"); ok {
		t.Error("GetBalance() should report missing vault")
	}
	if m.Touch("missing") {
		t.Error("Touch() should report missing vault")
	}
	m.Untrack("missing")
}

func TestMonitor_ListActive(t *testing.T) {
	m := New(clock.Fake(t0))
	m.Track("c", "s3", 0)
	m.Track("a", "s1", 0)
	m.Track("b", "s2", 0)
	m.Untrack("b")

	got := m.ListActive()
	want := []string{"a", "c"}
	if len(got) != len(want) {
		t.Fatalf("ListActive() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("ListActive()[%d] = %s, want %s", i, got[i], want[i])
		}
	}
	if m.Len() != 2 || m.IsTracked("b") {
		t.Errorf("Len() = %d, IsTracked(b) = %v", m.Len(), m.IsTracked("b"))
	}
}

func TestMonitor_DetectAbandoned(t *testing.T) {
	clk := clock.Fake(t0)
	m := New(clk)

	m.Track("idle", "s1", 100)
	clk.Advance(20 * time.Minute)
	m.Track("busy", "s2", 100)
	clk.Advance(15 * time.Minute)

	got := m.DetectAbandoned(30 * time.Minute)
	if len(got) != 1 || got[0] != "idle" {
		t.Errorf("DetectAbandoned(30m) = %v, want [idle]", got)
	}

	// exactly at the threshold is not abandoned
	if got := m.DetectAbandoned(35 * time.Minute); len(got) != 0 {
		t.Errorf("DetectAbandoned(35m) = %v, want none", got)
	}

	m.Touch("idle")
	if got := m.DetectAbandoned(30 * time.Minute); len(got) != 0 {
		t.Errorf("after Touch, DetectAbandoned(30m) = %v, want none", got)
	}
}

func TestMonitor_DetectAbandoned_ZeroThreshold(t *testing.T) {
	clk := clock.Fake(t0)
	m := New(clk)
	m.Track("a", "s1", 0)
	m.Track("b", "s2", 0)

	if got := m.DetectAbandoned(0); len(got) != 0 {
		t.Errorf("no elapsed time: DetectAbandoned(0) = %v, want none", got)
	}

	clk.Advance(time.Nanosecond)
	if got := m.DetectAbandoned(0); len(got) != 2 {
		t.Errorf("DetectAbandoned(0) = %v, want both", got)
	}
}

func TestMonitor_Concurrent(t *testing.T) {
	m := New(clock.Real())
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			addr := string(rune('a' + i%26))
			m.Track(addr, "s", uint64(i))
			m.UpdateBalance(addr, uint64(i*2))
			m.GetBalance(addr)
			m.DetectAbandoned(time.Hour)
			m.ListActive()
		}(i)
	}
	wg.Wait()

	if m.Len() != 26 {
		t.Errorf("Len() = %d, want 26", m.Len())
	}
}
