package session

import (
	"context"
	"testing"
	"time"

	"ragchat/internal/domain/rag"
)

func TestMemoryStoreAppendAndHistory(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(time.Hour)

	if err := s.Append(ctx, "s1", rag.Turn{Question: "q1", Answer: "a1"}); err != nil {
		t.Fatal(err)
	}
	if err := s.Append(ctx, "s1", rag.Turn{Question: "q2", Answer: "a2"}); err != nil {
		t.Fatal(err)
	}
	if err := s.Append(ctx, "s2", rag.Turn{Question: "other", Answer: "x"}); err != nil {
		t.Fatal(err)
	}

	turns, err := s.History(ctx, "s1")
	if err != nil {
		t.Fatal(err)
	}
	if len(turns) != 2 || turns[0].Question != "q1" || turns[1].Question != "q2" {
		t.Errorf("unexpected history %+v", turns)
	}

	// 历史是副本，修改不影响存储
	turns[0].Question = "mutated"
	again, _ := s.History(ctx, "s1")
	if again[0].Question != "q1" {
		t.Error("history must return a copy")
	}
}

func TestMemoryStoreUnknownSession(t *testing.T) {
	s := NewMemoryStore(time.Hour)
	turns, err := s.History(context.Background(), "nope")
	if err != nil || turns != nil {
		t.Errorf("unknown session: %v, %v", turns, err)
	}
}

func TestMemoryStoreClear(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(time.Hour)
	s.Append(ctx, "s1", rag.Turn{Question: "q", Answer: "a"})
	if err := s.Clear(ctx, "s1"); err != nil {
		t.Fatal(err)
	}
	turns, _ := s.History(ctx, "s1")
	if len(turns) != 0 {
		t.Errorf("expected empty history after clear, got %+v", turns)
	}
}

func TestMemoryStoreTTLExpiry(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(time.Minute)

	current := time.Unix(1000, 0)
	s.now = func() time.Time { return current }

	s.Append(ctx, "s1", rag.Turn{Question: "q", Answer: "a"})

	current = current.Add(30 * time.Second)
	if turns, _ := s.History(ctx, "s1"); len(turns) != 1 {
		t.Fatal("session expired too early")
	}

	current = current.Add(2 * time.Minute)
	if turns, _ := s.History(ctx, "s1"); len(turns) != 0 {
		t.Errorf("session should have expired, got %+v", turns)
	}
}
