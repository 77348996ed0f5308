package history

import "errors"

var (
	// ErrInvalidCircuit is returned for circuit numbers below zero.
	ErrInvalidCircuit = errors.New("history: invalid circuit number")

	// ErrInvalidRetention is returned by PruneHistory for non-positive durations.
	ErrInvalidRetention = errors.New("history: retention must be positive")
)
