package cli

import (
	"fmt"
	"slices"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose bool
	Format  string // "json" | "text"
	Config  string // path to a TOML config file

	// Settings holds the config file contents, or the zero value when no
	// config file was given.
	Settings Config

	// Logger is built before any subcommand runs. Commands constructed
	// directly in tests fall back to a no-op logger.
	Logger *zap.Logger
}

// logger returns the configured logger or a no-op logger.
func (o *RootOptions) logger() *zap.Logger {
	if o.Logger == nil {
		return zap.NewNop()
	}
	return o.Logger
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the tiered CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "tiered",
		Short: "tiered - compiled or evaluated, per call",
		Long: `A two-tier call dispatcher.

Functions are declared in CUE with a policy that decides, per call shape,
whether a call runs compiled code, runs in the evaluator, or is rejected.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := applyConfig(cmd, opts); err != nil {
				return err
			}
			if !isValidFormat(opts.Format) {
				return NewExitError(ExitCommandError, fmt.Sprintf("invalid format %q: must be one of %v", opts.Format, ValidFormats))
			}
			opts.Logger = NewLogger(cmd.ErrOrStderr(), opts.Verbose)
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if opts.Logger != nil {
				_ = opts.Logger.Sync()
			}
		},
	}

	// Global flags
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVar(&opts.Config, "config", "", "TOML config file")

	// Add subcommands
	cmd.AddCommand(NewCallCommand(opts))
	cmd.AddCommand(NewValidateCommand(opts))
	cmd.AddCommand(NewCompileCommand(opts))
	cmd.AddCommand(NewTestCommand(opts))
	cmd.AddCommand(NewCacheCommand(opts))

	return cmd
}

// applyConfig loads the --config file. Its format and verbose settings
// apply only where the corresponding flag was not given.
func applyConfig(cmd *cobra.Command, opts *RootOptions) error {
	if opts.Config == "" {
		return nil
	}
	cfg, err := LoadConfig(opts.Config)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load config", err)
	}
	opts.Settings = *cfg

	flags := cmd.Flags()
	if cfg.Format != "" && !flags.Changed("format") {
		opts.Format = cfg.Format
	}
	if cfg.Verbose && !flags.Changed("verbose") {
		opts.Verbose = true
	}
	return nil
}

// isValidFormat checks if the format is one of the allowed values.
func isValidFormat(format string) bool {
	return slices.Contains(ValidFormats, format)
}
