package harness

import (
	"github.com/roach88/tiered/internal/dispatch"
)

// Trace entry types.
const (
	TraceTypeCall    = "call"
	TraceTypeEvent   = "event"
	TraceTypeWarning = "warning"
	TraceTypeReturn  = "return"
)

// TraceEvent is one entry of a scenario trace: a call, an execution event,
// a fallback warning or the value a call returned.
type TraceEvent struct {
	Type       string `json:"type"`
	Seq        int64  `json:"seq"`
	Function   string `json:"function"`
	Kind       string `json:"kind,omitempty"`
	Phase      string `json:"phase,omitempty"`
	Dispatcher string `json:"dispatcher,omitempty"`
	Signature  string `json:"signature,omitempty"`
	Args       string `json:"args,omitempty"`

	// Result is the returned value formatted with %v and ResultShape its
	// shape, so int64(3) and float64(3) stay distinguishable.
	Result      string `json:"result,omitempty"`
	ResultShape string `json:"result_shape,omitempty"`

	// Error is the error code of a failed call, see ErrorCode.
	Error string `json:"error,omitempty"`
}

// Result is the outcome of a test scenario execution.
type Result struct {
	// Pass indicates overall test success.
	// True if all expect clauses and assertions match.
	Pass bool `json:"pass"`

	// Trace contains calls, events, warnings and returns in seq order.
	Trace []TraceEvent `json:"trace"`

	// Errors contains validation error messages.
	// Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`

	// Stats holds the final counters of every dispatcher the scenario built,
	// keyed by function name.
	Stats map[string]dispatch.Stats `json:"stats,omitempty"`
}

// NewResult creates a new passing result.
// Used as the starting point for test execution.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
		Stats:  make(map[string]dispatch.Stats),
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}
