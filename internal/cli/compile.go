package cli

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/tiered/internal/artifact"
	"github.com/roach88/tiered/internal/compiler"
	"github.com/roach88/tiered/internal/defs"
)

// CompileOptions holds flags for the compile command.
type CompileOptions struct {
	*RootOptions
	DB     string // artifact cache database
	Disasm bool   // print the compiled programs
}

// CompiledFunction reports the warm-up of one function.
type CompiledFunction struct {
	Name       string   `json:"name"`
	Signatures []string `json:"signatures"`
	Compiled   int64    `json:"compiled"`
	Cached     int64    `json:"cached"`
	Program    []string `json:"program,omitempty"`
}

// CompilationResult holds the compile command's report.
type CompilationResult struct {
	DB        string             `json:"db"`
	Functions []CompiledFunction `json:"functions"`
	Skipped   []string           `json:"skipped,omitempty"`
}

// NewCompileCommand creates the compile command.
func NewCompileCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CompileOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "compile <defs-dir> [function...]",
		Short: "Compile explicit signatures into the artifact cache",
		Long: `Compile every explicit signature declared in defs-dir and store the
programs in the artifact cache, so dispatchers built later start warm.

Functions without explicit signatures are skipped. Signatures already in
the cache are loaded and checked instead of recompiled.`,
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCompile(cmd.Context(), opts, args[0], args[1:], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.DB, "db", "", "artifact cache database")
	cmd.Flags().BoolVar(&opts.Disasm, "disasm", false, "print the compiled programs")

	return cmd
}

func runCompile(ctx context.Context, opts *CompileOptions, defsDir string, only []string, cmd *cobra.Command) error {
	f := newFormatter(opts.RootOptions, cmd)

	db := opts.dbPath(opts.DB)
	if db == "" {
		return f.Fail(ExitCommandError, ErrCodeMissingDB, "compile needs --db or a configured db", nil)
	}

	loaded, err := loadDefinitions(f, defsDir)
	if err != nil {
		return err
	}
	for _, name := range only {
		if _, ok := loaded.Lookup(name); !ok {
			return f.Fail(ExitCommandError, ErrCodeUnknownFunction, fmt.Sprintf("function %q is not defined", name), nil)
		}
	}

	cache, err := artifact.Open(db)
	if err != nil {
		return f.Fail(ExitCommandError, ErrCodeCache, err.Error(), nil)
	}
	defer cache.Close()

	result := CompilationResult{DB: db}
	for _, def := range loaded.Functions {
		if len(only) > 0 && !slices.Contains(only, def.Name) {
			continue
		}
		if len(def.Target.Signatures) == 0 {
			f.VerboseLog("Skipping %s: no explicit signatures", def.Name)
			result.Skipped = append(result.Skipped, def.Name)
			continue
		}
		cf, err := warm(ctx, opts, cache, def)
		if err != nil {
			return f.Fail(ExitFailure, ErrCodeCallFailed, err.Error(), map[string]string{"function": def.Name})
		}
		result.Functions = append(result.Functions, cf)
	}

	return outputCompileSuccess(f, result)
}

// warm compiles or loads the explicit signatures of def through cache.
func warm(ctx context.Context, opts *CompileOptions, cache *artifact.Cache, def *defs.Definition) (CompiledFunction, error) {
	target := def.Target
	target.Cache = true
	svc := compiler.NewService(target, compiler.WithCache(cache), compiler.WithLogger(opts.logger()))

	f := CompiledFunction{Name: def.Name}
	specs, err := svc.Explicit(ctx, def.Function())
	if err != nil {
		return f, err
	}
	for _, spec := range specs {
		f.Signatures = append(f.Signatures, spec.Signature.Key())
		if opts.Disasm {
			f.Program = append(f.Program, spec.Program.Disassemble())
		}
	}
	stats := svc.Stats()
	f.Compiled = stats.Compiles
	f.Cached = stats.CacheHits
	return f, nil
}

func outputCompileSuccess(f *OutputFormatter, result CompilationResult) error {
	if f.IsJSON() {
		return f.Success(result)
	}

	fmt.Fprintf(f.Writer, "✓ Compiled %d function(s) into %s\n\n", len(result.Functions), result.DB)
	for _, fn := range result.Functions {
		fmt.Fprintf(f.Writer, "  %s: %d signature(s), %d compiled, %d cached\n",
			fn.Name, len(fn.Signatures), fn.Compiled, fn.Cached)
		for i, sig := range fn.Signatures {
			fmt.Fprintf(f.Writer, "    %s\n", sig)
			if i < len(fn.Program) {
				fmt.Fprintln(f.Writer, fn.Program[i])
			}
		}
	}
	if len(result.Skipped) > 0 {
		fmt.Fprintf(f.Writer, "\nSkipped (no explicit signatures): %s\n", strings.Join(result.Skipped, ", "))
	}
	return nil
}
