// Package database provides the SQLite store used for circuit state history.
//
// It manages:
//   - Opening the database with WAL mode and a busy timeout
//   - Versioned schema migrations read from an fs.FS
//   - Transactions via InTx
//
// All queries use parameterised statements. The database file is created
// with 0600 permissions.
//
// Usage:
//
//	db, err := database.Open(ctx, cfg.Database)
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx, migrations.FS); err != nil {
//	    return err
//	}
//
// Migrations are additive: new columns are nullable or carry a default, and
// every .up.sql ships with a .down.sql.
package database
