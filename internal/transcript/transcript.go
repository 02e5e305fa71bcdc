// Package transcript persists committed turns. The gateway writes exactly
// one turn per non-cancelled turn; cancelled turns never reach the store.
package transcript

import (
	"context"
	"encoding/json"
	"time"

	apperrors "github.com/parleyhq/parley/internal/platform/errors"
)

// Turn outcomes.
const (
	OutcomeDone      = "done"
	OutcomeStepLimit = "step_limit"
	OutcomeError     = "error"
)

// ErrNotFound indicates the requested turn does not exist.
var ErrNotFound = apperrors.New(apperrors.CodeNotFound, "turn not found")

// ToolCall is an invocation request recorded on an assistant entry.
type ToolCall struct {
	ID        string          `json:"id"`
	Key       string          `json:"key"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

// Entry is one persisted history entry of a turn.
type Entry struct {
	Role         string
	Content      string
	ToolCalls    []ToolCall
	InvocationID string
	Capability   string
	IsError      bool
	CreatedAt    time.Time
}

// Turn is the persisted form of one committed turn.
type Turn struct {
	ID        string
	SessionID string
	User      string
	Model     string
	Mode      string
	Outcome   string
	Steps     int
	StartedAt time.Time
	Entries   []Entry
}

// Store persists committed turns and lists them back.
type Store interface {
	SaveTurn(ctx context.Context, turn Turn) error
	ListTurns(ctx context.Context, sessionID string) ([]Turn, error)
	ListEntries(ctx context.Context, turnID string) ([]Entry, error)
	Close() error
}

// noopStore drops every write. Used when persistence is disabled.
type noopStore struct{}

// NewNoop returns a store that persists nothing and lists nothing.
func NewNoop() Store {
	return noopStore{}
}

func (noopStore) SaveTurn(context.Context, Turn) error { return nil }

func (noopStore) ListTurns(context.Context, string) ([]Turn, error) { return nil, nil }

func (noopStore) ListEntries(context.Context, string) ([]Entry, error) { return nil, nil }

func (noopStore) Close() error { return nil }
