package defs

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/load"
	"cuelang.org/go/cue/token"
)

// LoadMode controls how errors are handled during loading.
type LoadMode int

const (
	// LoadModeFailFast stops on the first error encountered.
	LoadModeFailFast LoadMode = iota
	// LoadModeCollectAll collects all errors before returning.
	LoadModeCollectAll
)

// Error code constants reported by LoadError.
const (
	ErrCodeGeneric     = "E001" // Generic/unknown error
	ErrCodeScanError   = "E002" // Directory scan error
	ErrCodeNoFiles     = "E003" // No CUE files found
	ErrCodeLoadFailed  = "E004" // CUE load failed
	ErrCodeNotFound    = "E005" // Path not found
	ErrCodeBuildFailed = "E006" // CUE build failed

	// Definition errors
	ErrCodeParams      = "E101" // Missing or malformed params
	ErrCodeBody        = "E102" // Missing or unparsable body
	ErrCodeSignature   = "E103" // Malformed explicit signature
	ErrCodeOptions     = "E104" // Unknown compiler option
	ErrCodePolicy      = "E105" // Policy not callable or malformed rule table
	ErrCodeNoFunctions = "E106" // No functions declared
)

// LoadResult contains the definitions loaded from a directory.
type LoadResult struct {
	Functions []*Definition
	CUEValue  cue.Value // The raw CUE value for additional processing
	FileCount int       // Number of CUE files found
}

// Lookup returns the definition named name.
func (r *LoadResult) Lookup(name string) (*Definition, bool) {
	for _, d := range r.Functions {
		if d.Name == name {
			return d, true
		}
	}
	return nil, false
}

// Names returns the function names in declaration order.
func (r *LoadResult) Names() []string {
	names := make([]string, len(r.Functions))
	for i, d := range r.Functions {
		names[i] = d.Name
	}
	return names
}

// LoadError is an error that occurred while loading definitions.
type LoadError struct {
	Code    string
	Message string
	Pos     token.Pos // CUE position if available
	Err     error
}

func (e *LoadError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s", e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(), e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *LoadError) Unwrap() error { return e.Err }

// Load loads the CUE package in dir and compiles every function in it.
// If mode is LoadModeFailFast, returns on first error.
// If mode is LoadModeCollectAll, collects all errors.
func Load(dir string, mode LoadMode) (*LoadResult, []error) {
	info, err := os.Stat(dir)
	if os.IsNotExist(err) {
		return nil, []error{&LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("definitions directory not found: %s", dir)}}
	}
	if err != nil {
		return nil, []error{&LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("error accessing definitions directory: %v", err)}}
	}
	if !info.IsDir() {
		return nil, []error{&LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("not a directory: %s", dir)}}
	}

	cueFiles, err := FindCUEFiles(dir)
	if err != nil {
		return nil, []error{&LoadError{Code: ErrCodeScanError, Message: fmt.Sprintf("error scanning directory: %v", err)}}
	}
	if len(cueFiles) == 0 {
		return nil, []error{&LoadError{Code: ErrCodeNoFiles, Message: fmt.Sprintf("no CUE files found in %s", dir)}}
	}

	ctx := cuecontext.New()
	instances := load.Instances([]string{"."}, &load.Config{Dir: dir})
	if len(instances) == 0 {
		return nil, []error{&LoadError{Code: ErrCodeLoadFailed, Message: "no CUE instances loaded"}}
	}
	inst := instances[0]
	if inst.Err != nil {
		return nil, []error{&LoadError{Code: ErrCodeLoadFailed, Message: fmt.Sprintf("loading CUE files: %v", inst.Err)}}
	}

	value := ctx.BuildInstance(inst)
	if err := value.Err(); err != nil {
		return nil, []error{&LoadError{Code: ErrCodeBuildFailed, Message: fmt.Sprintf("building CUE value: %v", err)}}
	}

	result, errs := compileValue(value, mode)
	result.FileCount = len(cueFiles)
	return result, errs
}

// CompileString compiles definitions from CUE source text. Used for inline
// harness scenarios and tests.
func CompileString(src string, mode LoadMode) (*LoadResult, []error) {
	value := cuecontext.New().CompileString(src)
	if err := value.Err(); err != nil {
		return nil, []error{&LoadError{Code: ErrCodeBuildFailed, Message: fmt.Sprintf("building CUE value: %v", err), Err: err}}
	}
	return compileValue(value, mode)
}

func compileValue(value cue.Value, mode LoadMode) (*LoadResult, []error) {
	var errs []error
	result := &LoadResult{CUEValue: value}

	fnsVal := value.LookupPath(cue.ParsePath("function"))
	if fnsVal.Exists() {
		iter, iterErr := fnsVal.Fields()
		if iterErr != nil {
			errs = append(errs, &LoadError{Code: ErrCodeGeneric, Message: fmt.Sprintf("iterating functions: %v", iterErr)})
			return result, errs
		}
		for iter.Next() {
			def, err := CompileFunction(iter.Value())
			if err != nil {
				errs = append(errs, convertDefinitionError(err, "function."+iter.Label()))
				if mode == LoadModeFailFast {
					return result, errs
				}
				continue
			}
			result.Functions = append(result.Functions, def)
		}
	}

	if len(result.Functions) == 0 && len(errs) == 0 {
		errs = append(errs, &LoadError{Code: ErrCodeNoFunctions, Message: "no functions found in definitions"})
	}
	return result, errs
}

// FindCUEFiles walks the directory and returns all .cue file paths.
func FindCUEFiles(dir string) ([]string, error) {
	var files []string
	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() && filepath.Ext(path) == ".cue" {
			files = append(files, path)
		}
		return nil
	})
	return files, err
}

// convertDefinitionError converts a definition error to a LoadError with
// position info.
func convertDefinitionError(err error, context string) *LoadError {
	var defErr *DefinitionError
	if errors.As(err, &defErr) {
		return &LoadError{
			Code:    MapFieldToErrorCode(defErr.Field),
			Message: fmt.Sprintf("%s: %s", context, defErr.Message),
			Pos:     defErr.Pos,
			Err:     err,
		}
	}
	return &LoadError{
		Code:    ErrCodeGeneric,
		Message: fmt.Sprintf("%s: %v", context, err),
		Err:     err,
	}
}

// MapFieldToErrorCode maps a definition error field to an error code.
func MapFieldToErrorCode(field string) string {
	switch field {
	case "params":
		return ErrCodeParams
	case "body":
		return ErrCodeBody
	case "signatures":
		return ErrCodeSignature
	case "options":
		return ErrCodeOptions
	case "policy":
		return ErrCodePolicy
	default:
		return ErrCodeGeneric
	}
}
