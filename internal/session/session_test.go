package session

import (
	"testing"
	"time"

	"market-trend-alerts/internal/market"
)

func TestPutGetClear(t *testing.T) {
	s := NewStore(time.Minute)

	if _, ok := s.Get(1, 1); ok {
		t.Fatal("empty store must not return state")
	}

	s.Put(1, 1, State{Step: StepTargetPrice, Resource: market.Wood, Direction: market.Falling})

	got, ok := s.Get(1, 1)
	if !ok {
		t.Fatal("expected state after put")
	}
	if got.Step != StepTargetPrice || got.Resource != market.Wood {
		t.Fatalf("wrong state back: %+v", got)
	}

	// same owner, different chat is a separate dialogue
	if _, ok := s.Get(1, 2); ok {
		t.Fatal("dialogues must be scoped per chat")
	}

	s.Clear(1, 1)
	if _, ok := s.Get(1, 1); ok {
		t.Fatal("expected no state after clear")
	}
}

func TestExpiry(t *testing.T) {
	s := NewStore(time.Minute)
	base := time.Date(2025, 3, 14, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return base }

	s.Put(1, 1, State{Step: StepDirection, Resource: market.Stone})

	base = base.Add(59 * time.Second)
	if _, ok := s.Get(1, 1); !ok {
		t.Fatal("state must survive inside the ttl")
	}

	base = base.Add(2 * time.Minute)
	if _, ok := s.Get(1, 1); ok {
		t.Fatal("state must expire after the ttl")
	}
}

func TestPurge(t *testing.T) {
	s := NewStore(time.Minute)
	base := time.Date(2025, 3, 14, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return base }

	s.Put(1, 1, State{Step: StepDirection})
	s.Put(2, 2, State{Step: StepTargetPrice})

	base = base.Add(30 * time.Second)
	s.Put(3, 3, State{Step: StepTradeLevel})

	base = base.Add(45 * time.Second)
	if removed := s.Purge(); removed != 2 {
		t.Fatalf("expected 2 purged, got %d", removed)
	}
	if _, ok := s.Get(3, 3); !ok {
		t.Fatal("fresh dialogue must survive the purge")
	}
}
