package db

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrations embed.FS

// pragmas applied to every connection. _txlock=immediate takes the write
// lock at BEGIN so concurrent transactions queue on busy_timeout instead of
// failing with SQLITE_BUSY on upgrade.
const pragmas = "_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(ON)&_txlock=immediate"

// DB wraps the SQLite handle and provides transaction support.
type DB struct {
	sql *sql.DB
}

type Config struct {
	// Path of the database file. Its parent directory is created when missing.
	Path string
}

// Open opens the database, applies pending migrations and pins the pool to a
// single connection so SQLite sees exactly one writer.
func Open(ctx context.Context, cfg Config) (*DB, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}
	if dir := filepath.Dir(cfg.Path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	conn, err := sql.Open("sqlite", "file:"+cfg.Path+"?"+pragmas)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	conn.SetMaxOpenConns(1)

	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	if err := migrate(ctx, conn); err != nil {
		conn.Close()
		return nil, err
	}

	return &DB{sql: conn}, nil
}

func migrate(ctx context.Context, conn *sql.DB) error {
	fsys, err := fs.Sub(migrations, "migrations")
	if err != nil {
		return fmt.Errorf("loading migrations: %w", err)
	}
	provider, err := goose.NewProvider(goose.DialectSQLite3, conn, fsys)
	if err != nil {
		return fmt.Errorf("creating migration provider: %w", err)
	}
	if _, err := provider.Up(ctx); err != nil {
		return fmt.Errorf("applying migrations: %w", err)
	}
	return nil
}

func (db *DB) Close() error {
	return db.sql.Close()
}

// SQL returns the underlying handle for store constructors.
func (db *DB) SQL() *sql.DB {
	return db.sql
}

// WithTx executes fn within a transaction on conn.
// If fn returns an error, the transaction is rolled back.
// If fn succeeds, the transaction is committed.
//
// Usage:
//
//	err := db.WithTx(ctx, conn, func(tx *sql.Tx) error {
//	    if _, err := tx.ExecContext(ctx, pruneSQL, cutoff); err != nil { return err }
//	    _, err := tx.ExecContext(ctx, insertSQL, ...)
//	    return err
//	})
func WithTx(ctx context.Context, conn *sql.DB, fn func(tx *sql.Tx) error) error {
	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}

	// Always attempt rollback on defer - it's a no-op if already committed
	defer tx.Rollback() //nolint:errcheck

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}

	return nil
}
