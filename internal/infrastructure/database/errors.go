package database

import "errors"

var (
	// ErrDisabled is returned by Open when the database is disabled in config.
	ErrDisabled = errors.New("database: disabled in configuration")

	// ErrInvalidMigration indicates a malformed migration set.
	ErrInvalidMigration = errors.New("database: invalid migration")

	// ErrMigrationNotFound is returned when an applied version has no file.
	ErrMigrationNotFound = errors.New("database: migration not found")

	// ErrNoDownMigration is returned when rolling back a migration without .down.sql.
	ErrNoDownMigration = errors.New("database: migration has no down SQL")
)
