package audit

import (
	"context"
	"testing"
	"time"
)

func TestLogAssignsMonotonicIDs(t *testing.T) {
	j := NewMemory(0)
	ctx := context.Background()

	a, err := j.Log(ctx, Entry{SessionID: "s1", Action: "llm_call", Result: ResultSuccess})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	b, err := j.Log(ctx, Entry{SessionID: "s1", Action: "memory_write", Result: ResultSuccess})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if b.ID <= a.ID {
		t.Errorf("expected monotonically increasing ids, got %d then %d", a.ID, b.ID)
	}
	if a.Timestamp.IsZero() {
		t.Error("expected Log to fill a zero timestamp with now")
	}
}

func TestQueryFiltersByAction(t *testing.T) {
	j := NewMemory(0)
	ctx := context.Background()
	j.Log(ctx, Entry{SessionID: "s1", Action: "llm_call", Result: ResultSuccess})
	j.Log(ctx, Entry{SessionID: "s1", Action: "memory_write", Result: ResultSuccess})
	j.Log(ctx, Entry{SessionID: "s2", Action: "llm_call", Result: ResultSuccess})

	got, err := j.Query(ctx, Filter{Action: "llm_call"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d entries, want 2", len(got))
	}
	for _, e := range got {
		if e.Action != "llm_call" {
			t.Errorf("got action %q, want llm_call", e.Action)
		}
	}
}

func TestQueryLimitReturnsMostRecentButAscending(t *testing.T) {
	j := NewMemory(0)
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		j.Log(ctx, Entry{
			SessionID: "s1", Action: "llm_call", Result: ResultSuccess,
			Timestamp: base.Add(time.Duration(i) * time.Minute),
		})
	}

	got, err := j.Query(ctx, Filter{Limit: 2})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d entries, want 2", len(got))
	}
	// The two most recent entries (minute 3 and 4), restored ascending.
	if !got[0].Timestamp.Before(got[1].Timestamp) {
		t.Error("expected entries to be in ascending timestamp order")
	}
	if got[1].Timestamp.Sub(base) != 4*time.Minute {
		t.Errorf("expected the most recent entry to be minute 4, got offset %v", got[1].Timestamp.Sub(base))
	}
}

func TestLogNeverMutatesPriorEntries(t *testing.T) {
	j := NewMemory(0)
	ctx := context.Background()
	first, _ := j.Log(ctx, Entry{SessionID: "s1", Action: "llm_call", Result: ResultSuccess})

	for i := 0; i < 10; i++ {
		j.Log(ctx, Entry{SessionID: "s1", Action: "memory_write", Result: ResultSuccess})
	}

	got, err := j.Query(ctx, Filter{Action: "llm_call"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 1 || got[0].ID != first.ID {
		t.Fatalf("expected the original llm_call entry to survive unmodified, got %+v", got)
	}
}

func TestMemoryJournalEvictsOldestWhenCapped(t *testing.T) {
	j := NewMemory(3)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		j.Log(ctx, Entry{SessionID: "s1", Action: "llm_call", Result: ResultSuccess})
	}

	got, err := j.Query(ctx, Filter{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("got %d entries, want 3 (capped)", len(got))
	}
	// The surviving entries should be the three most recently logged.
	if got[0].ID != 3 || got[2].ID != 5 {
		t.Errorf("expected surviving ids 3,4,5, got %d..%d", got[0].ID, got[2].ID)
	}
}
