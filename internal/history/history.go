package history

import (
	"context"
	"time"

	"github.com/nerrad567/gray-logic-pool/internal/poolcontroller"
)

// Source values for recorded changes.
const (
	SourcePoll    = "poll"
	SourceCommand = "command"
	SourceAPI     = "api"
)

// Entry is one recorded state change.
type Entry struct {
	ID        int64                   `json:"id"`
	Circuit   int                     `json:"circuit"`
	State     poolcontroller.Snapshot `json:"state"`
	Source    string                  `json:"source"`
	CreatedAt time.Time               `json:"created_at"`
}

// Repository stores and retrieves circuit state history.
//
// Implementations must be safe for concurrent use and store UTC timestamps.
type Repository interface {
	// RecordStateChange stores snapshot as the latest state of circuit.
	// An empty source defaults to SourcePoll.
	RecordStateChange(ctx context.Context, circuit int, snapshot poolcontroller.Snapshot, source string) error

	// GetHistory returns up to limit entries for circuit, newest first.
	// Limit defaults to 50 and is clamped to 200.
	GetHistory(ctx context.Context, circuit int, limit int) ([]Entry, error)

	// PruneHistory deletes entries older than olderThan and returns how many
	// rows were removed.
	PruneHistory(ctx context.Context, olderThan time.Duration) (int64, error)
}
