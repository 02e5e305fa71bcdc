package sqlite

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/parleyhq/parley/internal/transcript"
)

func TestOpenRequiresPath(t *testing.T) {
	if _, err := Open(""); err == nil {
		t.Fatal("expected error for empty path")
	}
}

func TestStoreDBNilSafe(t *testing.T) {
	var store *Store
	if store.DB() != nil {
		t.Fatal("expected nil DB for nil store")
	}
}

func TestSaveTurnRoundTrip(t *testing.T) {
	store := openTempStore(t)

	started := time.Date(2026, 3, 2, 9, 30, 0, 0, time.UTC)
	turn := transcript.Turn{
		ID:        "turn-1",
		SessionID: "session-1",
		User:      "ada",
		Model:     "gpt-test",
		Mode:      "agent",
		Outcome:   transcript.OutcomeDone,
		Steps:     2,
		StartedAt: started,
		Entries: []transcript.Entry{
			{Role: "user", Content: "add 2 and 3", CreatedAt: started},
			{
				Role: "assistant",
				ToolCalls: []transcript.ToolCall{{
					ID:        "inv-1",
					Key:       "calculator_add",
					Arguments: json.RawMessage(`{"a":2,"b":3}`),
				}},
				CreatedAt: started.Add(time.Second),
			},
			{
				Role:         "tool",
				Content:      "5",
				InvocationID: "inv-1",
				Capability:   "calculator_add",
				CreatedAt:    started.Add(2 * time.Second),
			},
			{Role: "assistant", Content: "2 + 3 = 5", CreatedAt: started.Add(3 * time.Second)},
		},
	}

	if err := store.SaveTurn(context.Background(), turn); err != nil {
		t.Fatalf("save turn: %v", err)
	}

	turns, err := store.ListTurns(context.Background(), "session-1")
	if err != nil {
		t.Fatalf("list turns: %v", err)
	}
	if len(turns) != 1 {
		t.Fatalf("len(turns) = %d, want 1", len(turns))
	}
	got := turns[0]
	if got.ID != turn.ID || got.User != turn.User || got.Outcome != turn.Outcome || got.Steps != turn.Steps {
		t.Fatalf("unexpected turn: %+v", got)
	}
	if !got.StartedAt.Equal(started) {
		t.Fatalf("started at = %v, want %v", got.StartedAt, started)
	}

	entries, err := store.ListEntries(context.Background(), "turn-1")
	if err != nil {
		t.Fatalf("list entries: %v", err)
	}
	if len(entries) != 4 {
		t.Fatalf("len(entries) = %d, want 4", len(entries))
	}
	if entries[0].Role != "user" || entries[0].Content != "add 2 and 3" {
		t.Fatalf("unexpected first entry: %+v", entries[0])
	}
	if len(entries[1].ToolCalls) != 1 || entries[1].ToolCalls[0].Key != "calculator_add" {
		t.Fatalf("unexpected tool calls: %+v", entries[1].ToolCalls)
	}
	if entries[2].InvocationID != "inv-1" || entries[2].Capability != "calculator_add" {
		t.Fatalf("unexpected tool entry: %+v", entries[2])
	}
	if entries[3].Content != "2 + 3 = 5" {
		t.Fatalf("unexpected final entry: %+v", entries[3])
	}
}

func TestSaveTurnReplacesEntries(t *testing.T) {
	store := openTempStore(t)

	started := time.Date(2026, 3, 2, 9, 30, 0, 0, time.UTC)
	turn := transcript.Turn{
		ID:        "turn-1",
		SessionID: "session-1",
		User:      "ada",
		Mode:      "direct",
		Outcome:   transcript.OutcomeError,
		StartedAt: started,
		Entries: []transcript.Entry{
			{Role: "user", Content: "first", CreatedAt: started},
			{Role: "assistant", Content: "draft", CreatedAt: started},
		},
	}
	if err := store.SaveTurn(context.Background(), turn); err != nil {
		t.Fatalf("save turn: %v", err)
	}

	turn.Outcome = transcript.OutcomeDone
	turn.Entries = []transcript.Entry{
		{Role: "user", Content: "first", CreatedAt: started},
	}
	if err := store.SaveTurn(context.Background(), turn); err != nil {
		t.Fatalf("save turn again: %v", err)
	}

	turns, err := store.ListTurns(context.Background(), "session-1")
	if err != nil {
		t.Fatalf("list turns: %v", err)
	}
	if len(turns) != 1 {
		t.Fatalf("len(turns) = %d, want 1", len(turns))
	}
	if turns[0].Outcome != transcript.OutcomeDone {
		t.Fatalf("outcome = %q, want %q", turns[0].Outcome, transcript.OutcomeDone)
	}

	entries, err := store.ListEntries(context.Background(), "turn-1")
	if err != nil {
		t.Fatalf("list entries: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("len(entries) = %d, want 1", len(entries))
	}
}

func TestSaveTurnRequiresID(t *testing.T) {
	store := openTempStore(t)

	err := store.SaveTurn(context.Background(), transcript.Turn{
		ID:        "  ",
		SessionID: "session-1",
		Outcome:   transcript.OutcomeDone,
	})
	if err == nil {
		t.Fatal("expected error for empty turn id")
	}
}

func TestListTurnsOrdersByStart(t *testing.T) {
	store := openTempStore(t)

	base := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	for i, id := range []string{"turn-b", "turn-a", "turn-c"} {
		turn := transcript.Turn{
			ID:        id,
			SessionID: "session-1",
			User:      "ada",
			Mode:      "direct",
			Outcome:   transcript.OutcomeDone,
			StartedAt: base.Add(time.Duration(i) * time.Minute),
		}
		if err := store.SaveTurn(context.Background(), turn); err != nil {
			t.Fatalf("save turn %s: %v", id, err)
		}
	}

	turns, err := store.ListTurns(context.Background(), "session-1")
	if err != nil {
		t.Fatalf("list turns: %v", err)
	}
	want := []string{"turn-b", "turn-a", "turn-c"}
	if len(turns) != len(want) {
		t.Fatalf("len(turns) = %d, want %d", len(turns), len(want))
	}
	for i, id := range want {
		if turns[i].ID != id {
			t.Fatalf("turns[%d].ID = %q, want %q", i, turns[i].ID, id)
		}
	}
}

func TestListTurnsOtherSessionEmpty(t *testing.T) {
	store := openTempStore(t)

	if err := store.SaveTurn(context.Background(), transcript.Turn{
		ID:        "turn-1",
		SessionID: "session-1",
		Mode:      "direct",
		Outcome:   transcript.OutcomeDone,
		StartedAt: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC),
	}); err != nil {
		t.Fatalf("save turn: %v", err)
	}

	turns, err := store.ListTurns(context.Background(), "session-2")
	if err != nil {
		t.Fatalf("list turns: %v", err)
	}
	if len(turns) != 0 {
		t.Fatalf("len(turns) = %d, want 0", len(turns))
	}
}

func TestListEntriesNotFound(t *testing.T) {
	store := openTempStore(t)

	_, err := store.ListEntries(context.Background(), "missing")
	if err == nil {
		t.Fatal("expected error")
	}
	if !errors.Is(err, transcript.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func openTempStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "transcripts.db")
	store, err := Open(path)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() {
		if err := store.Close(); err != nil {
			t.Fatalf("close store: %v", err)
		}
	})
	return store
}
