package artifact

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"github.com/roach88/tiered/internal/shape"
)

//go:embed schema.sql
var schemaSQL string

// Schema version tracking:
// 0 - Initial schema (pre-migration)
// 1 - artifacts table
// 2 - Added artifact_stats hit/miss counters
const currentSchemaVersion = 2

// Cache is a persistent artifact cache.
// Cache is safe for concurrent use.
type Cache struct {
	db *sql.DB
}

// Open creates or opens a cache database at path. ":memory:" opens a
// private in-memory cache.
//
// This function is idempotent - safe to call multiple times.
func Open(path string) (*Cache, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// SQLite supports one writer at a time. A single connection also keeps
	// ":memory:" databases alive for the lifetime of the Cache.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply pragmas: %w", err)
	}

	if err := applySchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return &Cache{db: db}, nil
}

// Close closes the database connection.
func (c *Cache) Close() error {
	if c.db == nil {
		return nil
	}
	return c.db.Close()
}

func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}

	return nil
}

func applySchema(db *sql.DB) error {
	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}
	if err := runMigrations(db); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

// runMigrations applies incremental schema migrations based on user_version.
func runMigrations(db *sql.DB) error {
	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("get user_version: %w", err)
	}

	if version < 2 {
		if err := migrateToV2(db); err != nil {
			return err
		}
	}

	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}
	return nil
}

// migrateToV2 adds the stats table for databases created before it existed.
// New databases get it from schema.sql.
func migrateToV2(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS artifact_stats (
			function_key  TEXT    PRIMARY KEY,
			function_name TEXT,
			hits          INTEGER NOT NULL DEFAULT 0,
			misses        INTEGER NOT NULL DEFAULT 0
		)
	`)
	if err != nil {
		return fmt.Errorf("migrate to v2: %w", err)
	}
	return nil
}

// Load returns the program stored for (functionKey, sig) and records a hit
// or a miss for the function.
func (c *Cache) Load(ctx context.Context, functionKey string, sig shape.Signature) ([]byte, bool, error) {
	var program []byte
	err := c.db.QueryRowContext(ctx, `
		SELECT program FROM artifacts
		WHERE function_key = ? AND signature_hash = ?
	`, functionKey, sig.Hash()).Scan(&program)

	found := true
	if errors.Is(err, sql.ErrNoRows) {
		found = false
	} else if err != nil {
		return nil, false, fmt.Errorf("load artifact: %w", err)
	}

	if err := c.record(ctx, functionKey, found); err != nil {
		return nil, false, err
	}
	return program, found, nil
}

func (c *Cache) record(ctx context.Context, functionKey string, hit bool) error {
	hits, misses := 0, 1
	if hit {
		hits, misses = 1, 0
	}
	_, err := c.db.ExecContext(ctx, `
		INSERT INTO artifact_stats (function_key, hits, misses)
		VALUES (?, ?, ?)
		ON CONFLICT(function_key) DO UPDATE SET
			hits = hits + excluded.hits,
			misses = misses + excluded.misses
	`, functionKey, hits, misses)
	if err != nil {
		return fmt.Errorf("record artifact lookup: %w", err)
	}
	return nil
}

// Save stores a program. Uses ON CONFLICT DO NOTHING for idempotency - an
// existing artifact for the same key is kept.
func (c *Cache) Save(ctx context.Context, functionKey, function string, sig shape.Signature, program []byte) error {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("save artifact: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO artifacts
		(function_key, signature_hash, signature_key, function_name, program, engine_version, created_seq)
		VALUES (?, ?, ?, ?, ?, ?, (SELECT COALESCE(MAX(created_seq), 0) + 1 FROM artifacts))
		ON CONFLICT DO NOTHING
	`,
		functionKey,
		sig.Hash(),
		sig.Key(),
		function,
		program,
		shape.EngineVersion,
	)
	if err != nil {
		return fmt.Errorf("save artifact: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO artifact_stats (function_key, function_name)
		VALUES (?, ?)
		ON CONFLICT(function_key) DO UPDATE SET function_name = excluded.function_name
	`, functionKey, function)
	if err != nil {
		return fmt.Errorf("save artifact: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("save artifact: %w", err)
	}
	return nil
}
