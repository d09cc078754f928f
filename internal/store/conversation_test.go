package store

import (
	"context"
	"path/filepath"
	"testing"
)

func TestMemoryConversationJournalOrderAndLimit(t *testing.T) {
	ctx := context.Background()
	j := NewMemoryConversationJournal()

	j.Append(ctx, Turn{SessionID: "s1", Role: "user", Content: "hi"})
	j.Append(ctx, Turn{SessionID: "s1", Role: "assistant", Content: "hello"})
	j.Append(ctx, Turn{SessionID: "s1", Role: "user", Content: "how are you"})

	history, err := j.History(ctx, "s1", 0)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 3 || history[0].Content != "hi" || history[2].Content != "how are you" {
		t.Fatalf("unexpected history: %+v", history)
	}

	limited, _ := j.History(ctx, "s1", 2)
	if len(limited) != 2 || limited[0].Content != "hello" {
		t.Fatalf("expected last 2 turns, got %+v", limited)
	}
}

func TestSQLiteConversationJournalRoundTrip(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "conv.db")
	j, err := OpenSQLiteConversation(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer j.Close()

	for _, turn := range []Turn{
		{SessionID: "s1", Role: "user", Content: "first"},
		{SessionID: "s1", Role: "assistant", Content: "second"},
		{SessionID: "s2", Role: "user", Content: "other session"},
	} {
		if err := j.Append(ctx, turn); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	history, err := j.History(ctx, "s1", 0)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 2 || history[0].Content != "first" || history[1].Content != "second" {
		t.Fatalf("unexpected history: %+v", history)
	}
}
