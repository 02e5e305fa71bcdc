// Package session holds per-connection conversation state. A session is
// owned by exactly one connection, and while a turn runs, the turn task is
// the only writer. Turns stage entries between Begin and Commit; a cancelled
// turn discards its staged entries without trace.
package session

import (
	"fmt"
	"time"

	"github.com/parleyhq/parley/internal/authz"
	apperrors "github.com/parleyhq/parley/internal/platform/errors"
	"github.com/parleyhq/parley/internal/platform/id"
)

// DefaultAgentMaxSteps bounds agent turns when the client does not set one.
const DefaultAgentMaxSteps = 8

// ErrTurnActive indicates a turn is already staging entries on the session.
var ErrTurnActive = apperrors.New(apperrors.CodeTurnAlreadyActive, "a turn is already active on this session")

// Settings are the turn parameters the connection last applied.
type Settings struct {
	Model              string
	Capabilities       []string
	PromptKey          string
	MaxTokens          int
	Temperature        *float64
	ToolChoiceRequired bool
	AgentMode          bool
	AgentMaxSteps      int
}

// Session is the conversation state of one connection.
type Session struct {
	ID        string
	Identity  authz.Identity
	StartedAt time.Time

	settings Settings
	history  []Entry
	staged   []Entry
	active   bool
}

// New creates a session for the identity with a generated ID.
func New(identity authz.Identity, now func() time.Time, idGenerator func() (string, error)) (*Session, error) {
	if now == nil {
		now = time.Now
	}
	if idGenerator == nil {
		idGenerator = id.NewID
	}

	sessionID, err := idGenerator()
	if err != nil {
		return nil, fmt.Errorf("generate session id: %w", err)
	}

	return &Session{
		ID:        sessionID,
		Identity:  identity,
		StartedAt: now().UTC(),
	}, nil
}

// ApplySettings replaces the session's turn parameters. Agent mode without a
// positive step bound gets the default.
func (s *Session) ApplySettings(settings Settings) {
	if settings.AgentMode && settings.AgentMaxSteps <= 0 {
		settings.AgentMaxSteps = DefaultAgentMaxSteps
	}
	s.settings = settings
}

// Settings returns the last applied turn parameters.
func (s *Session) Settings() Settings {
	settings := s.settings
	settings.Capabilities = append([]string(nil), s.settings.Capabilities...)
	return settings
}

// History returns the committed entries in order.
func (s *Session) History() []Entry {
	return append([]Entry(nil), s.history...)
}

// Begin opens a turn's staging window.
func (s *Session) Begin() error {
	if s.active {
		return ErrTurnActive
	}
	s.active = true
	return nil
}

// Active reports whether a turn is currently staging entries.
func (s *Session) Active() bool {
	return s.active
}

// Stage appends an entry to the pending turn.
func (s *Session) Stage(entry Entry) {
	s.staged = append(s.staged, entry)
}

// Staged returns the pending entries in staging order.
func (s *Session) Staged() []Entry {
	return append([]Entry(nil), s.staged...)
}

// Commit moves the staged entries into history, closes the staging window,
// and returns the committed entries. Without an open window it is a no-op.
func (s *Session) Commit() []Entry {
	if !s.active {
		return nil
	}
	committed := append([]Entry(nil), s.staged...)
	s.history = append(s.history, committed...)
	s.staged = nil
	s.active = false
	return committed
}

// Discard drops the staged entries and closes the staging window.
func (s *Session) Discard() {
	s.staged = nil
	s.active = false
}

// Reset clears the session history. An open staging window is discarded.
func (s *Session) Reset() {
	s.Discard()
	s.history = nil
}
