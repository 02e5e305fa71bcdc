package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/parleyhq/parley/internal/transcript"
)

// SaveTurn persists one committed turn with its entries. Saving the same
// turn ID again replaces the previous record.
func (s *Store) SaveTurn(ctx context.Context, turn transcript.Turn) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(turn.ID) == "" {
		return fmt.Errorf("turn id is required")
	}
	if strings.TrimSpace(turn.SessionID) == "" {
		return fmt.Errorf("session id is required")
	}
	if strings.TrimSpace(turn.Outcome) == "" {
		return fmt.Errorf("outcome is required")
	}

	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("start transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if _, err := tx.ExecContext(ctx, `
INSERT INTO turns (
	id, session_id, user_id, model, mode, outcome, steps, started_at
) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
	session_id = excluded.session_id,
	user_id = excluded.user_id,
	model = excluded.model,
	mode = excluded.mode,
	outcome = excluded.outcome,
	steps = excluded.steps,
	started_at = excluded.started_at
`,
		turn.ID,
		turn.SessionID,
		turn.User,
		turn.Model,
		turn.Mode,
		turn.Outcome,
		turn.Steps,
		toMillis(turn.StartedAt),
	); err != nil {
		return fmt.Errorf("put turn: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
DELETE FROM turn_entries
WHERE turn_id = ?
`, turn.ID); err != nil {
		return fmt.Errorf("clear turn entries: %w", err)
	}

	for seq, entry := range turn.Entries {
		toolCalls, err := encodeToolCalls(entry.ToolCalls)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `
INSERT INTO turn_entries (
	turn_id, seq, role, content, tool_calls, invocation_id, capability, is_error, created_at
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
`,
			turn.ID,
			seq,
			entry.Role,
			entry.Content,
			toolCalls,
			entry.InvocationID,
			entry.Capability,
			entry.IsError,
			toMillis(entry.CreatedAt),
		); err != nil {
			return fmt.Errorf("put turn entry %d: %w", seq, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit turn: %w", err)
	}
	return nil
}

// ListTurns returns the turns of one session ordered by start time.
// Entries are not populated; fetch them with ListEntries.
func (s *Store) ListTurns(ctx context.Context, sessionID string) ([]transcript.Turn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return nil, fmt.Errorf("session id is required")
	}

	rows, err := s.sqlDB.QueryContext(ctx, `
SELECT id, session_id, user_id, model, mode, outcome, steps, started_at
FROM turns
WHERE session_id = ?
ORDER BY started_at, id
`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list turns: %w", err)
	}
	defer rows.Close()

	var turns []transcript.Turn
	for rows.Next() {
		var turn transcript.Turn
		var startedAt int64
		if err := rows.Scan(
			&turn.ID,
			&turn.SessionID,
			&turn.User,
			&turn.Model,
			&turn.Mode,
			&turn.Outcome,
			&turn.Steps,
			&startedAt,
		); err != nil {
			return nil, fmt.Errorf("scan turn row: %w", err)
		}
		turn.StartedAt = fromMillis(startedAt)
		turns = append(turns, turn)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate turn rows: %w", err)
	}
	return turns, nil
}

// ListEntries returns the entries of one turn in commit order.
func (s *Store) ListEntries(ctx context.Context, turnID string) ([]transcript.Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}
	turnID = strings.TrimSpace(turnID)
	if turnID == "" {
		return nil, fmt.Errorf("turn id is required")
	}

	var found int
	row := s.sqlDB.QueryRowContext(ctx, `
SELECT 1
FROM turns
WHERE id = ?
`, turnID)
	if err := row.Scan(&found); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, transcript.ErrNotFound
		}
		return nil, fmt.Errorf("get turn: %w", err)
	}

	rows, err := s.sqlDB.QueryContext(ctx, `
SELECT role, content, tool_calls, invocation_id, capability, is_error, created_at
FROM turn_entries
WHERE turn_id = ?
ORDER BY seq
`, turnID)
	if err != nil {
		return nil, fmt.Errorf("list turn entries: %w", err)
	}
	defer rows.Close()

	var entries []transcript.Entry
	for rows.Next() {
		var entry transcript.Entry
		var toolCallsRaw string
		var createdAt int64
		if err := rows.Scan(
			&entry.Role,
			&entry.Content,
			&toolCallsRaw,
			&entry.InvocationID,
			&entry.Capability,
			&entry.IsError,
			&createdAt,
		); err != nil {
			return nil, fmt.Errorf("scan turn entry row: %w", err)
		}
		calls, err := decodeToolCalls(toolCallsRaw)
		if err != nil {
			return nil, err
		}
		entry.ToolCalls = calls
		entry.CreatedAt = fromMillis(createdAt)
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate turn entry rows: %w", err)
	}
	return entries, nil
}
