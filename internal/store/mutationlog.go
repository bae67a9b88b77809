package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/noteverse/noteverse/internal/schema"
)

// MutationLog returns all mutation log entries in append order.
func (s *Store) MutationLog() ([]*schema.MutationEntry, error) {
	return s.MutationLogContext(context.Background())
}

// MutationLogContext returns the mutation log with context support.
func (s *Store) MutationLogContext(ctx context.Context) ([]*schema.MutationEntry, error) {
	query := `
	SELECT id, note_id, action, device_id, timestamp, data_snapshot, attempts
	FROM mutation_log
	ORDER BY id ASC
	`

	rows, err := s.conn.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query mutation log: %w", err)
	}
	defer rows.Close()

	var entries []*schema.MutationEntry
	for rows.Next() {
		var e schema.MutationEntry
		var ts string
		var snapshot sql.NullString

		if err := rows.Scan(&e.ID, &e.NoteID, &e.Action, &e.DeviceID, &ts, &snapshot, &e.Attempts); err != nil {
			return nil, fmt.Errorf("failed to scan mutation log entry: %w", err)
		}

		if t, err := time.Parse(schema.TimeFormat, ts); err == nil {
			e.Timestamp = t
		}
		if snapshot.Valid {
			e.Snapshot = json.RawMessage(snapshot.String)
		}

		entries = append(entries, &e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating mutation log: %w", err)
	}

	return entries, nil
}

// IncrementAttempts bumps the attempts counter on every log entry for a note
// and returns the highest counter value afterwards. Called by the sync
// engine when a push fails, so silent retry loops stay observable.
func (s *Store) IncrementAttempts(noteID string) (int, error) {
	return s.IncrementAttemptsContext(context.Background(), noteID)
}

// IncrementAttemptsContext bumps the attempts counter with context support.
func (s *Store) IncrementAttemptsContext(ctx context.Context, noteID string) (int, error) {
	_, err := s.conn.ExecContext(ctx,
		"UPDATE mutation_log SET attempts = attempts + 1 WHERE note_id = ?", noteID)
	if err != nil {
		return 0, fmt.Errorf("failed to increment attempts for %s: %w", noteID, err)
	}

	var max sql.NullInt64
	err = s.conn.QueryRowContext(ctx,
		"SELECT MAX(attempts) FROM mutation_log WHERE note_id = ?", noteID).Scan(&max)
	if err != nil {
		return 0, fmt.Errorf("failed to read attempts for %s: %w", noteID, err)
	}
	return int(max.Int64), nil
}

// PruneMutationLog removes log entries older than the cutoff whose notes are
// no longer pending. Storage hygiene only; the log is otherwise append-only.
func (s *Store) PruneMutationLog(before time.Time) (int64, error) {
	return s.PruneMutationLogContext(context.Background(), before)
}

// PruneMutationLogContext prunes the mutation log with context support.
func (s *Store) PruneMutationLogContext(ctx context.Context, before time.Time) (int64, error) {
	query := `
	DELETE FROM mutation_log
	WHERE timestamp < ?
	  AND note_id NOT IN (SELECT id FROM notes WHERE sync_status = ?)
	`

	res, err := s.conn.ExecContext(ctx, query,
		before.Format(schema.TimeFormat), schema.StatusPending)
	if err != nil {
		return 0, fmt.Errorf("failed to prune mutation log: %w", err)
	}

	pruned, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count pruned entries: %w", err)
	}
	return pruned, nil
}
