package artifact

import (
	"context"
	"fmt"
)

// Entry describes one stored artifact.
type Entry struct {
	FunctionKey   string `json:"function_key"`
	Function      string `json:"function"`
	Signature     string `json:"signature"`
	SignatureHash string `json:"signature_hash"`
	EngineVersion string `json:"engine_version"`
	Size          int64  `json:"size"`
	CreatedSeq    int64  `json:"created_seq"`
}

// FunctionStats aggregates artifacts and lookups per function key.
type FunctionStats struct {
	FunctionKey string `json:"function_key"`
	Function    string `json:"function"`
	Artifacts   int64  `json:"artifacts"`
	Bytes       int64  `json:"bytes"`
	Hits        int64  `json:"hits"`
	Misses      int64  `json:"misses"`
}

// List returns every artifact in insertion order.
func (c *Cache) List(ctx context.Context) ([]Entry, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT function_key, function_name, signature_key, signature_hash,
		       engine_version, LENGTH(program), created_seq
		FROM artifacts
		ORDER BY created_seq ASC, signature_hash COLLATE BINARY ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list artifacts: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.FunctionKey, &e.Function, &e.Signature, &e.SignatureHash,
			&e.EngineVersion, &e.Size, &e.CreatedSeq); err != nil {
			return nil, fmt.Errorf("list artifacts: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list artifacts: %w", err)
	}
	return entries, nil
}

// Stats returns per-function counters, ordered by function name then key.
// Functions that were looked up but never saved have an empty name.
func (c *Cache) Stats(ctx context.Context) ([]FunctionStats, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT s.function_key,
		       COALESCE(s.function_name, ''),
		       (SELECT COUNT(*) FROM artifacts a WHERE a.function_key = s.function_key),
		       (SELECT COALESCE(SUM(LENGTH(a.program)), 0) FROM artifacts a WHERE a.function_key = s.function_key),
		       s.hits,
		       s.misses
		FROM artifact_stats s
		ORDER BY COALESCE(s.function_name, '') ASC, s.function_key COLLATE BINARY ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("artifact stats: %w", err)
	}
	defer rows.Close()

	var stats []FunctionStats
	for rows.Next() {
		var st FunctionStats
		if err := rows.Scan(&st.FunctionKey, &st.Function, &st.Artifacts, &st.Bytes, &st.Hits, &st.Misses); err != nil {
			return nil, fmt.Errorf("artifact stats: %w", err)
		}
		stats = append(stats, st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("artifact stats: %w", err)
	}
	return stats, nil
}

// Clear removes every artifact and counter. It returns the number of
// artifacts removed.
func (c *Cache) Clear(ctx context.Context) (int64, error) {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("clear artifacts: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `DELETE FROM artifacts`)
	if err != nil {
		return 0, fmt.Errorf("clear artifacts: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("clear artifacts: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM artifact_stats`); err != nil {
		return 0, fmt.Errorf("clear artifacts: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("clear artifacts: %w", err)
	}
	return n, nil
}
