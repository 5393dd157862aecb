package cli

import (
	"errors"

	"github.com/roach88/tiered/internal/defs"
)

// loadDefinitions loads the definitions in dir, failing on the first
// error. The error is written through f and returned as a command error.
func loadDefinitions(f *OutputFormatter, dir string) (*defs.LoadResult, error) {
	result, errs := defs.Load(dir, defs.LoadModeFailFast)
	if len(errs) == 0 {
		f.VerboseLog("Found %d CUE file(s) in %s", result.FileCount, dir)
		return result, nil
	}
	code, message := loadErrorCode(errs[0])
	return nil, f.Fail(ExitCommandError, code, message, nil)
}

// loadErrorCode returns the E-code and message of a defs load error.
func loadErrorCode(err error) (string, string) {
	var le *defs.LoadError
	if errors.As(err, &le) {
		return le.Code, le.Message
	}
	return defs.ErrCodeGeneric, err.Error()
}
