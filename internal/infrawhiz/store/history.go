package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// HistoryEntry is one executed command.
type HistoryEntry struct {
	ID         string
	ServerID   string
	ActionID   string
	TraceID    string
	Command    string
	Stdout     string
	Stderr     string
	ExitCode   int
	Error      string
	Duration   time.Duration
	ExecutedAt time.Time
}

// HistoryFilter narrows ListHistory. Zero values mean no constraint.
type HistoryFilter struct {
	ServerID string
	Limit    int
}

// AddHistory records an executed command.
func (s *Store) AddHistory(ctx context.Context, h *HistoryEntry) error {
	if h.ExecutedAt.IsZero() {
		h.ExecutedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO command_history
			(id, server_id, action_id, trace_id, command, stdout, stderr, exit_code, error, duration_ms, executed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		h.ID, h.ServerID, nullString(h.ActionID), nullString(h.TraceID), h.Command,
		h.Stdout, h.Stderr, h.ExitCode, nullString(h.Error), h.Duration.Milliseconds(), h.ExecutedAt,
	)
	if err != nil {
		return fmt.Errorf("insert command history: %w", err)
	}
	return nil
}

// ListHistory returns the most recent commands first. The default limit is
// 50.
func (s *Store) ListHistory(ctx context.Context, f HistoryFilter) ([]*HistoryEntry, error) {
	if f.Limit <= 0 {
		f.Limit = 50
	}
	query := `
		SELECT id, server_id, action_id, trace_id, command, stdout, stderr, exit_code, error, duration_ms, executed_at
		FROM command_history`
	args := []any{}
	if f.ServerID != "" {
		query += ` WHERE server_id = ?`
		args = append(args, f.ServerID)
	}
	query += ` ORDER BY executed_at DESC, rowid DESC LIMIT ?`
	args = append(args, f.Limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query command history: %w", err)
	}
	defer rows.Close()

	var out []*HistoryEntry
	for rows.Next() {
		var (
			h                         HistoryEntry
			actionID, traceID, errMsg sql.NullString
			stdout, stderr            sql.NullString
			durationMS                int64
		)
		if err := rows.Scan(&h.ID, &h.ServerID, &actionID, &traceID, &h.Command, &stdout, &stderr,
			&h.ExitCode, &errMsg, &durationMS, &h.ExecutedAt); err != nil {
			return nil, fmt.Errorf("scan command history: %w", err)
		}
		h.ActionID, h.TraceID, h.Error = actionID.String, traceID.String, errMsg.String
		h.Stdout, h.Stderr = stdout.String, stderr.String
		h.Duration = time.Duration(durationMS) * time.Millisecond
		out = append(out, &h)
	}
	return out, rows.Err()
}
