package dispatch

import (
	"strings"

	"go.uber.org/zap"
)

// FallbackWarning is emitted before every evaluated execution when the
// dispatcher is configured with WarnOnFallback.
type FallbackWarning struct {
	Function string   `json:"function"`
	Shapes   []string `json:"shapes"`
}

// String renders the warning, e.g. "add(float64, float64) not using compiled code".
func (w FallbackWarning) String() string {
	return w.Function + "(" + strings.Join(w.Shapes, ", ") + ") not using compiled code"
}

// Warner receives fallback warnings. Warnings are advisory and never block
// execution.
type Warner interface {
	Warn(FallbackWarning)
}

// WarnerFunc adapts a function to the Warner interface.
type WarnerFunc func(FallbackWarning)

// Warn calls f.
func (f WarnerFunc) Warn(w FallbackWarning) { f(w) }

type logWarner struct {
	logger *zap.Logger
}

// NewLogWarner returns a Warner that logs each warning at warn level.
func NewLogWarner(logger *zap.Logger) Warner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &logWarner{logger: logger}
}

func (l *logWarner) Warn(w FallbackWarning) {
	l.logger.Warn(w.String(),
		zap.String("function", w.Function),
		zap.Strings("shapes", w.Shapes),
	)
}
