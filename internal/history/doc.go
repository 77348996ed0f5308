// Package history keeps a local record of circuit state changes.
//
// Every change the pool bridge observes (from polling or from a command) is
// stored as a full snapshot in the circuit_state_history SQLite table. This
// gives a short audit trail even when InfluxDB is not configured. Old rows
// are removed with PruneHistory according to bridge.history_retention_days.
package history
