package cli

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/roach88/tiered/internal/artifact"
	"github.com/roach88/tiered/internal/dispatch"
	"github.com/roach88/tiered/internal/shape"
)

// CallOptions holds flags for the call command.
type CallOptions struct {
	*RootOptions
	DB   string // artifact cache database
	Warn bool   // force fallback warnings
}

// CallResult is the JSON payload of a successful call.
type CallResult struct {
	Function  string `json:"function"`
	Signature string `json:"signature"`
	Path      string `json:"path"`
	Result    any    `json:"result"`
	Shape     string `json:"shape"`
}

// DispatchErrorDetails is the JSON detail payload of a dispatcher error.
type DispatchErrorDetails struct {
	Function  string   `json:"function"`
	Signature string   `json:"signature,omitempty"`
	Known     []string `json:"known,omitempty"`
	Policy    string   `json:"policy,omitempty"`
	Value     string   `json:"value,omitempty"`
	Reason    string   `json:"reason,omitempty"`
}

// NewCallCommand creates the call command.
func NewCallCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CallOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "call <defs-dir> <function> [args...]",
		Short: "Call a defined function once",
		Long: `Load the definitions in defs-dir and call one function.

Each argument is decoded as YAML, so 1 is an integer, 1.5 a float,
"[1.5, 2.5]" an array and anything else a string.

With --db, compiled code is stored in and loaded from a persistent
artifact cache, so later calls skip compilation.

Examples:
  tiered call ./defs add 1 2
  tiered call ./defs add 1.5 2.5 --warn
  tiered call ./defs sum_fast "[1, 4, 9]" --db artifacts.db --format json`,
		Args:          cobra.MinimumNArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCall(cmd.Context(), opts, args[0], args[1], args[2:], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.DB, "db", "", "artifact cache database")
	cmd.Flags().BoolVar(&opts.Warn, "warn", false, "warn when a call falls back to the evaluator")

	return cmd
}

func runCall(ctx context.Context, opts *CallOptions, defsDir, name string, rawArgs []string, cmd *cobra.Command) error {
	f := newFormatter(opts.RootOptions, cmd)

	loaded, err := loadDefinitions(f, defsDir)
	if err != nil {
		return err
	}
	def, ok := loaded.Lookup(name)
	if !ok {
		return f.Fail(ExitCommandError, ErrCodeUnknownFunction,
			fmt.Sprintf("function %q is not defined (have: %s)", name, strings.Join(loaded.Names(), ", ")), nil)
	}

	args, err := ParseArgs(rawArgs)
	if err != nil {
		return f.Fail(ExitCommandError, ErrCodeBadArgument, err.Error(), nil)
	}
	sig := shape.SignatureOf(args)

	dopts := []dispatch.Option{dispatch.WithLogger(opts.logger())}
	if db := opts.dbPath(opts.DB); db != "" {
		cache, err := artifact.Open(db)
		if err != nil {
			return f.Fail(ExitCommandError, ErrCodeCache, err.Error(), nil)
		}
		defer cache.Close()
		def.Target.Cache = true
		dopts = append(dopts, dispatch.WithArtifactCache(cache))
		f.VerboseLog("Using artifact cache %s", db)
	}
	if opts.Warn || opts.Settings.WarnOnFallback {
		def.WarnOnFallback = true
	}

	path := "none"
	sink := dispatch.NewEventSink(nil)
	sink.Subscribe(dispatch.KindCompiled, func(ev dispatch.Event) {
		if ev.Phase == dispatch.PhaseStart {
			path = "compiled"
		}
	})
	sink.Subscribe(dispatch.KindEvaluated, func(ev dispatch.Event) {
		if ev.Phase == dispatch.PhaseStart {
			path = "evaluated"
		}
	})
	dopts = append(dopts, dispatch.WithEventSink(sink))

	d, err := def.NewDispatcher(ctx, dopts...)
	if err != nil {
		return callFailed(f, err)
	}
	out, err := d.Call(ctx, args...)
	if err != nil {
		return callFailed(f, err)
	}

	f.VerboseLog("%s%s ran %s", name, sig.Key(), path)
	if f.IsJSON() {
		return f.Success(CallResult{
			Function:  name,
			Signature: sig.Key(),
			Path:      path,
			Result:    out,
			Shape:     shape.Of(out).String(),
		})
	}
	return f.Success(out)
}

// ParseArgs decodes each command-line argument as a YAML value.
func ParseArgs(raw []string) ([]any, error) {
	args := make([]any, len(raw))
	for i, s := range raw {
		var v any
		if err := yaml.Unmarshal([]byte(s), &v); err != nil {
			return nil, fmt.Errorf("argument %d (%q): %w", i, s, err)
		}
		if v == nil {
			v = s
		}
		args[i] = v
	}
	return args, nil
}

func callFailed(f *OutputFormatter, err error) error {
	var de *dispatch.DispatchError
	if errors.As(err, &de) {
		return f.Fail(ExitFailure, string(de.Code), de.Message, DispatchErrorDetails{
			Function:  de.Function,
			Signature: de.Signature,
			Known:     de.Known,
			Policy:    de.Policy,
			Value:     de.Value,
			Reason:    de.Reason,
		})
	}
	return f.Fail(ExitFailure, ErrCodeCallFailed, err.Error(), nil)
}
