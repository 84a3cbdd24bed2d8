package handler

import (
	"testing"
	"time"
)

func TestLimiterSet_reserveAndRefill(t *testing.T) {
	s := newLimiterSet(2, 2)
	t0 := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)

	for i := 0; i < 2; i++ {
		if _, ok := s.reserve("10.0.0.1", t0); !ok {
			t.Fatalf("request %d within burst was rejected", i+1)
		}
	}
	wait, ok := s.reserve("10.0.0.1", t0)
	if ok {
		t.Fatal("request beyond burst was allowed")
	}
	if wait <= 0 || wait > time.Second {
		t.Errorf("wait: got %v, want (0, 1s]", wait)
	}

	// A rejected request takes no token, so the advertised wait is enough.
	if _, ok := s.reserve("10.0.0.1", t0.Add(wait)); !ok {
		t.Error("request after the advertised wait was rejected")
	}
	if _, ok := s.reserve("10.0.0.2", t0); !ok {
		t.Error("other clients must have their own bucket")
	}
}

func TestLimiterSet_sweepDropsIdleClients(t *testing.T) {
	s := newLimiterSet(1, 1)
	t0 := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	s.reserve("idle", t0)
	s.reserve("busy", t0.Add(limiterIdleTTL))

	s.sweep(t0.Add(limiterIdleTTL + time.Minute))

	if _, ok := s.buckets["idle"]; ok {
		t.Error("idle client was not swept")
	}
	if _, ok := s.buckets["busy"]; !ok {
		t.Error("recently seen client was swept")
	}
}
