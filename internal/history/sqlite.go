package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nerrad567/gray-logic-pool/internal/poolcontroller"
)

const (
	defaultLimit = 50
	maxLimit     = 200

	// timestampLayout is fixed-width so created_at sorts as text.
	timestampLayout = "2006-01-02T15:04:05.000000000Z"
)

// SQLiteRepository implements Repository on the circuit_state_history table.
type SQLiteRepository struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteRepository creates a repository over an open, migrated database.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db, now: time.Now}
}

// RecordStateChange inserts a history row.
//
// Parameters:
//   - ctx: Context for cancellation and timeout
//   - circuit: Controller circuit number
//   - snapshot: Cached entity state at the time of the change
//   - source: Origin of the change (poll, command, api)
//
// Returns:
//   - error: nil on success, otherwise the underlying database error
func (r *SQLiteRepository) RecordStateChange(ctx context.Context, circuit int, snapshot poolcontroller.Snapshot, source string) error {
	if circuit < 0 {
		return fmt.Errorf("%w: %d", ErrInvalidCircuit, circuit)
	}
	if source == "" {
		source = SourcePoll
	}

	stateJSON, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("marshalling snapshot: %w", err)
	}

	isOn := 0
	if snapshot.On {
		isOn = 1
	}

	_, err = r.db.ExecContext(ctx,
		`INSERT INTO circuit_state_history (circuit, name, kind, is_on, state, source, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		circuit,
		snapshot.Name,
		string(snapshot.Kind),
		isOn,
		string(stateJSON),
		source,
		r.now().UTC().Format(timestampLayout),
	)
	if err != nil {
		return fmt.Errorf("inserting circuit history: %w", err)
	}
	return nil
}

// GetHistory returns recent entries for a circuit, newest first.
func (r *SQLiteRepository) GetHistory(ctx context.Context, circuit int, limit int) ([]Entry, error) {
	if circuit < 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidCircuit, circuit)
	}
	limit = clampLimit(limit)

	rows, err := r.db.QueryContext(ctx,
		`SELECT id, circuit, state, source, created_at
		 FROM circuit_state_history
		 WHERE circuit = ?
		 ORDER BY created_at DESC, id DESC
		 LIMIT ?`,
		circuit,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying circuit history: %w", err)
	}
	defer rows.Close()

	entries := make([]Entry, 0, limit)
	for rows.Next() {
		var (
			entry     Entry
			stateJSON string
			createdAt string
		)
		if err := rows.Scan(&entry.ID, &entry.Circuit, &stateJSON, &entry.Source, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning circuit history: %w", err)
		}
		if err := json.Unmarshal([]byte(stateJSON), &entry.State); err != nil {
			return nil, fmt.Errorf("unmarshalling snapshot: %w", err)
		}
		entry.CreatedAt, err = parseTimestamp(createdAt)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating circuit history: %w", err)
	}

	return entries, nil
}

// PruneHistory deletes entries created more than olderThan ago.
func (r *SQLiteRepository) PruneHistory(ctx context.Context, olderThan time.Duration) (int64, error) {
	if olderThan <= 0 {
		return 0, ErrInvalidRetention
	}

	cutoff := r.now().UTC().Add(-olderThan).Format(timestampLayout)
	result, err := r.db.ExecContext(ctx,
		"DELETE FROM circuit_state_history WHERE created_at < ?",
		cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("deleting circuit history: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("checking rows affected: %w", err)
	}
	return n, nil
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return defaultLimit
	}
	if limit > maxLimit {
		return maxLimit
	}
	return limit
}

func parseTimestamp(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, fmt.Errorf("created_at is empty")
	}
	ts, err := time.Parse(timestampLayout, value)
	if err == nil {
		return ts, nil
	}
	if ts, rerr := time.Parse(time.RFC3339Nano, value); rerr == nil {
		return ts, nil
	}
	return time.Time{}, fmt.Errorf("parsing created_at: %w", err)
}
