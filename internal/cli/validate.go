package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/tiered/internal/compiler"
	"github.com/roach88/tiered/internal/defs"
)

// ValidationError is one problem found in the definitions.
type ValidationError struct {
	Function string `json:"function,omitempty"`
	Field    string `json:"field"`
	Code     string `json:"code"`
	Message  string `json:"message"`
	Line     int    `json:"line,omitempty"`
}

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid     bool              `json:"valid"`
	Functions []string          `json:"functions,omitempty"`
	Errors    []ValidationError `json:"errors,omitempty"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <defs-dir>",
		Short: "Validate function definitions without calling them",
		Long: `Validate CUE function definitions.

Parses every function body, checks rule tables for unknown actions and
malformed shape patterns, and compiles explicit signatures so declared
return shapes are checked. Nothing is called and nothing is stored.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(cmd.Context(), rootOpts, args[0], cmd)
		},
	}

	return cmd
}

func runValidate(ctx context.Context, opts *RootOptions, defsDir string, cmd *cobra.Command) error {
	f := newFormatter(opts, cmd)

	loaded, loadErrs := defs.Load(defsDir, defs.LoadModeCollectAll)
	if loaded == nil {
		code, message := loadErrorCode(loadErrs[0])
		return f.Fail(ExitCommandError, code, message, nil)
	}
	f.VerboseLog("Found %d CUE file(s) in %s", loaded.FileCount, defsDir)

	var errs []ValidationError
	for _, err := range loadErrs {
		errs = append(errs, loadValidationError(err))
	}
	for _, def := range loaded.Functions {
		f.VerboseLog("Validating function: %s", def.Name)
		errs = append(errs, validateDefinition(ctx, def)...)
	}

	if len(errs) > 0 {
		return outputValidationErrors(f, errs)
	}
	if f.IsJSON() {
		return f.Success(ValidationResult{Valid: true, Functions: loaded.Names()})
	}
	fmt.Fprintln(f.Writer, "✓ All definitions valid")
	return nil
}

// validateDefinition reports the problems of one loaded definition.
func validateDefinition(ctx context.Context, def *defs.Definition) []ValidationError {
	var errs []ValidationError

	if err := def.Check(); err != nil {
		ve := ValidationError{Function: def.Name, Field: "policy", Code: defs.ErrCodePolicy, Message: err.Error()}
		var de *defs.DefinitionError
		if errors.As(err, &de) {
			ve.Message = de.Message
			ve.Line = lineOf(de)
		}
		errs = append(errs, ve)
	}

	if len(def.Target.Signatures) > 0 {
		svc := compiler.NewService(def.Target)
		if _, err := svc.Explicit(ctx, def.Function()); err != nil {
			ve := ValidationError{Function: def.Name, Field: "signatures", Code: defs.ErrCodeSignature, Message: err.Error()}
			if def.Pos.IsValid() {
				ve.Line = def.Pos.Line()
			}
			errs = append(errs, ve)
		}
	}

	return errs
}

func loadValidationError(err error) ValidationError {
	var le *defs.LoadError
	if !errors.As(err, &le) {
		return ValidationError{Field: "load", Code: defs.ErrCodeGeneric, Message: err.Error()}
	}
	ve := ValidationError{Field: "load", Code: le.Code, Message: le.Message}
	if le.Pos.IsValid() {
		ve.Line = le.Pos.Line()
	}
	return ve
}

func lineOf(de *defs.DefinitionError) int {
	if de.Pos.IsValid() {
		return de.Pos.Line()
	}
	return 0
}

// outputValidationErrors outputs multiple validation errors.
func outputValidationErrors(f *OutputFormatter, errs []ValidationError) error {
	if f.IsJSON() {
		response := CLIResponse{
			Status: "error",
			Data:   ValidationResult{Valid: false, Errors: errs},
			Error: &CLIError{
				Code:    errs[0].Code,
				Message: errs[0].Message,
			},
		}

		encoder := json.NewEncoder(f.Writer)
		encoder.SetIndent("", "  ")
		if err := encoder.Encode(response); err != nil {
			return err
		}
		return NewExitError(ExitFailure, fmt.Sprintf("validation failed with %d error(s)", len(errs)))
	}

	fmt.Fprintln(f.Writer, "✗ Validation failed")
	fmt.Fprintln(f.Writer)

	for _, err := range errs {
		switch {
		case err.Function != "" && err.Line > 0:
			fmt.Fprintf(f.Writer, "%s (line %d)\n", err.Function, err.Line)
		case err.Function != "":
			fmt.Fprintln(f.Writer, err.Function)
		case err.Line > 0:
			fmt.Fprintf(f.Writer, "line %d\n", err.Line)
		}
		fmt.Fprintf(f.Writer, "  %s: %s\n\n", err.Code, err.Message)
	}

	return NewExitError(ExitFailure, fmt.Sprintf("validation failed with %d error(s)", len(errs)))
}
