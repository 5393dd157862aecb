package artifact

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/tiered/internal/shape"
)

// createTestCache opens a cache in a temp directory.
func createTestCache(t *testing.T) *Cache {
	t.Helper()
	c, err := Open(filepath.Join(t.TempDir(), "cache.db"))
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

var (
	ints   = shape.NewSignature(shape.Int64, shape.Int64)
	floats = shape.NewSignature(shape.Float64, shape.Float64)
)

func TestOpen_CreatesNewDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.db")

	c, err := Open(path)
	require.NoError(t, err)
	defer c.Close()

	_, err = os.Stat(path)
	assert.NoError(t, err, "database file was not created")
}

func TestOpen_Idempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.db")

	for i := 0; i < 3; i++ {
		c, err := Open(path)
		require.NoError(t, err, "iteration %d", i)
		c.Close()
	}

	c, err := Open(path)
	require.NoError(t, err)
	defer c.Close()

	var version int
	require.NoError(t, c.db.QueryRow("PRAGMA user_version").Scan(&version))
	assert.Equal(t, currentSchemaVersion, version)
}

func TestOpen_Memory(t *testing.T) {
	c, err := Open(":memory:")
	require.NoError(t, err)
	defer c.Close()

	ctx := context.Background()
	require.NoError(t, c.Save(ctx, "k", "add", ints, []byte{1}))
	got, ok, err := c.Load(ctx, "k", ints)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []byte{1}, got)
}

func TestOpen_MigratesV1(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.db")

	db, err := sql.Open("sqlite3", path)
	require.NoError(t, err)
	_, err = db.Exec(`
		CREATE TABLE artifacts (
			function_key   TEXT    NOT NULL,
			signature_hash TEXT    NOT NULL,
			signature_key  TEXT    NOT NULL,
			function_name  TEXT    NOT NULL,
			program        BLOB    NOT NULL,
			engine_version TEXT    NOT NULL,
			created_seq    INTEGER NOT NULL,
			PRIMARY KEY (function_key, signature_hash)
		);
		PRAGMA user_version = 1;
	`)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	c, err := Open(path)
	require.NoError(t, err)
	defer c.Close()

	ctx := context.Background()
	_, _, err = c.Load(ctx, "k", ints)
	require.NoError(t, err)
	stats, err := c.Stats(ctx)
	require.NoError(t, err)
	require.Len(t, stats, 1)
	assert.Equal(t, int64(1), stats[0].Misses)
}

func TestLoad_Miss(t *testing.T) {
	c := createTestCache(t)

	got, ok, err := c.Load(context.Background(), "missing", ints)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, got)
}

func TestSave_KeyedBySignature(t *testing.T) {
	c := createTestCache(t)
	ctx := context.Background()

	require.NoError(t, c.Save(ctx, "k", "add", ints, []byte("ints")))
	require.NoError(t, c.Save(ctx, "k", "add", floats, []byte("floats")))

	got, ok, err := c.Load(ctx, "k", ints)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "ints", string(got))

	got, ok, err = c.Load(ctx, "k", floats)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "floats", string(got))

	_, ok, err = c.Load(ctx, "other", ints)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSave_FirstWriteWins(t *testing.T) {
	c := createTestCache(t)
	ctx := context.Background()

	require.NoError(t, c.Save(ctx, "k", "add", ints, []byte("first")))
	require.NoError(t, c.Save(ctx, "k", "add", ints, []byte("second")))

	got, ok, err := c.Load(ctx, "k", ints)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "first", string(got))

	entries, err := c.List(ctx)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestSave_Concurrent(t *testing.T) {
	c := createTestCache(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make([]error, 8)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = c.Save(ctx, "k", "add", ints, []byte{byte(i)})
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		assert.NoError(t, err)
	}
	entries, err := c.List(ctx)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestPersistsAcrossOpens(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.db")
	ctx := context.Background()

	c1, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, c1.Save(ctx, "k", "add", floats, []byte("prog")))
	require.NoError(t, c1.Close())

	c2, err := Open(path)
	require.NoError(t, err)
	defer c2.Close()

	got, ok, err := c2.Load(ctx, "k", floats)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "prog", string(got))
}

func TestList_InsertionOrder(t *testing.T) {
	c := createTestCache(t)
	ctx := context.Background()

	require.NoError(t, c.Save(ctx, "k2", "mul", floats, []byte("abc")))
	require.NoError(t, c.Save(ctx, "k1", "add", ints, []byte("de")))

	entries, err := c.List(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 2)

	assert.Equal(t, Entry{
		FunctionKey:   "k2",
		Function:      "mul",
		Signature:     floats.Key(),
		SignatureHash: floats.Hash(),
		EngineVersion: shape.EngineVersion,
		Size:          3,
		CreatedSeq:    1,
	}, entries[0])
	assert.Equal(t, "add", entries[1].Function)
	assert.Equal(t, int64(2), entries[1].CreatedSeq)
}

func TestStats(t *testing.T) {
	c := createTestCache(t)
	ctx := context.Background()

	require.NoError(t, c.Save(ctx, "kadd", "add", ints, []byte("1234")))
	require.NoError(t, c.Save(ctx, "kadd", "add", floats, []byte("12")))
	_, _, err := c.Load(ctx, "kadd", ints)
	require.NoError(t, err)
	_, _, err = c.Load(ctx, "kadd", ints)
	require.NoError(t, err)
	_, _, err = c.Load(ctx, "kadd", shape.NewSignature(shape.String))
	require.NoError(t, err)
	_, _, err = c.Load(ctx, "kneg", ints)
	require.NoError(t, err)

	stats, err := c.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, []FunctionStats{
		{FunctionKey: "kneg", Function: "", Artifacts: 0, Bytes: 0, Hits: 0, Misses: 1},
		{FunctionKey: "kadd", Function: "add", Artifacts: 2, Bytes: 6, Hits: 2, Misses: 1},
	}, stats)
}

func TestClear(t *testing.T) {
	c := createTestCache(t)
	ctx := context.Background()

	require.NoError(t, c.Save(ctx, "k", "add", ints, []byte("a")))
	require.NoError(t, c.Save(ctx, "k", "add", floats, []byte("b")))

	n, err := c.Clear(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	entries, err := c.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, entries)
	stats, err := c.Stats(ctx)
	require.NoError(t, err)
	assert.Empty(t, stats)

	// created_seq restarts after a clear.
	require.NoError(t, c.Save(ctx, "k", "add", ints, []byte("a")))
	entries, err = c.List(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, int64(1), entries[0].CreatedSeq)
}

func TestClosedCacheErrors(t *testing.T) {
	c, err := Open(filepath.Join(t.TempDir(), "cache.db"))
	require.NoError(t, err)
	require.NoError(t, c.Close())

	_, _, err = c.Load(context.Background(), "k", ints)
	assert.Error(t, err)
}
