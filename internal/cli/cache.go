package cli

import (
	"context"
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/roach88/tiered/internal/artifact"
)

// CacheOptions holds flags shared by the cache subcommands.
type CacheOptions struct {
	*RootOptions
	DB string // artifact cache database
}

// CacheStatsResult is the JSON payload of cache stats.
type CacheStatsResult struct {
	DB        string                   `json:"db"`
	Functions []artifact.FunctionStats `json:"functions"`
	Artifacts int64                    `json:"artifacts"`
	Bytes     int64                    `json:"bytes"`
	Hits      int64                    `json:"hits"`
	Misses    int64                    `json:"misses"`
}

// CacheListResult is the JSON payload of cache list.
type CacheListResult struct {
	DB      string           `json:"db"`
	Entries []artifact.Entry `json:"entries"`
}

// CacheClearResult is the JSON payload of cache clear.
type CacheClearResult struct {
	DB      string `json:"db"`
	Removed int64  `json:"removed"`
}

// NewCacheCommand creates the cache command and its subcommands.
func NewCacheCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CacheOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect or clear the artifact cache",
		Long: `Inspect or clear the persistent artifact cache.

The cache stores compiled programs keyed by function and signature, with
hit and miss counters per function.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&opts.DB, "db", "", "artifact cache database")

	cmd.AddCommand(&cobra.Command{
		Use:           "stats",
		Short:         "Show per-function cache counters",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withCache(cmd, opts, runCacheStats)
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:           "list",
		Short:         "List stored artifacts",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withCache(cmd, opts, runCacheList)
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:           "clear",
		Short:         "Remove every artifact and counter",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withCache(cmd, opts, runCacheClear)
		},
	})

	return cmd
}

type cacheAction func(ctx context.Context, f *OutputFormatter, db string, cache *artifact.Cache) error

// withCache opens the configured cache and runs fn against it.
func withCache(cmd *cobra.Command, opts *CacheOptions, fn cacheAction) error {
	ctx := cmd.Context()
	f := newFormatter(opts.RootOptions, cmd)

	db := opts.dbPath(opts.DB)
	if db == "" {
		return f.Fail(ExitCommandError, ErrCodeMissingDB, "cache commands need --db or a configured db", nil)
	}
	cache, err := artifact.Open(db)
	if err != nil {
		return f.Fail(ExitCommandError, ErrCodeCache, err.Error(), nil)
	}
	defer cache.Close()

	return fn(ctx, f, db, cache)
}

func runCacheStats(ctx context.Context, f *OutputFormatter, db string, cache *artifact.Cache) error {
	stats, err := cache.Stats(ctx)
	if err != nil {
		return f.Fail(ExitCommandError, ErrCodeCache, err.Error(), nil)
	}

	result := CacheStatsResult{DB: db, Functions: stats}
	for _, st := range stats {
		result.Artifacts += st.Artifacts
		result.Bytes += st.Bytes
		result.Hits += st.Hits
		result.Misses += st.Misses
	}
	if f.IsJSON() {
		return f.Success(result)
	}

	fmt.Fprintf(f.Writer, "%s: %s artifact(s), %s, %s hit(s), %s miss(es)\n",
		db,
		humanize.Comma(result.Artifacts),
		humanize.Bytes(uint64(result.Bytes)),
		humanize.Comma(result.Hits),
		humanize.Comma(result.Misses),
	)
	for _, st := range stats {
		name := st.Function
		if name == "" {
			name = "(unsaved)"
		}
		fmt.Fprintf(f.Writer, "  %s [%s]: %d artifact(s), %s, %d hit(s), %d miss(es)\n",
			name, shortKey(st.FunctionKey), st.Artifacts, humanize.Bytes(uint64(st.Bytes)), st.Hits, st.Misses)
	}
	return nil
}

func runCacheList(ctx context.Context, f *OutputFormatter, db string, cache *artifact.Cache) error {
	entries, err := cache.List(ctx)
	if err != nil {
		return f.Fail(ExitCommandError, ErrCodeCache, err.Error(), nil)
	}
	if f.IsJSON() {
		return f.Success(CacheListResult{DB: db, Entries: entries})
	}

	if len(entries) == 0 {
		fmt.Fprintln(f.Writer, "No artifacts.")
		return nil
	}
	for _, e := range entries {
		fmt.Fprintf(f.Writer, "%s%s [%s] %s (%s)\n",
			e.Function, e.Signature, shortKey(e.FunctionKey), humanize.Bytes(uint64(e.Size)), e.EngineVersion)
	}
	return nil
}

func runCacheClear(ctx context.Context, f *OutputFormatter, db string, cache *artifact.Cache) error {
	n, err := cache.Clear(ctx)
	if err != nil {
		return f.Fail(ExitCommandError, ErrCodeCache, err.Error(), nil)
	}
	if f.IsJSON() {
		return f.Success(CacheClearResult{DB: db, Removed: n})
	}
	fmt.Fprintf(f.Writer, "✓ Removed %s artifact(s) from %s\n", humanize.Comma(n), db)
	return nil
}

// shortKey abbreviates a function key for display.
func shortKey(key string) string {
	if len(key) > 12 {
		return key[:12]
	}
	return key
}
