package harness

import (
	"fmt"
	"slices"
	"strings"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"github.com/roach88/tiered/internal/dispatch"
	"github.com/roach88/tiered/internal/lang"
	"github.com/roach88/tiered/internal/shape"
)

// AssertionError represents a failed assertion with detailed context.
type AssertionError struct {
	Type     string
	Expected string
	Actual   string
	Trace    []TraceEvent // Include full trace for debugging
}

// Error implements the error interface with formatted output.
func (e *AssertionError) Error() string {
	var b strings.Builder

	fmt.Fprintf(&b, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&b, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&b, "  Actual: %s\n", e.Actual)

	if len(e.Trace) > 0 {
		b.WriteString("\n  Trace:\n")
		for i, event := range e.Trace {
			fmt.Fprintf(&b, "    [%d] seq=%d %s %s", i, event.Seq, event.Type, event.Function)
			switch event.Type {
			case TraceTypeEvent:
				fmt.Fprintf(&b, " %s/%s %s", event.Kind, event.Phase, event.Signature)
			case TraceTypeCall, TraceTypeWarning:
				fmt.Fprintf(&b, " %s", event.Signature)
			case TraceTypeReturn:
				if event.Error != "" {
					fmt.Fprintf(&b, " error=%s", event.Error)
				} else {
					fmt.Fprintf(&b, " %s:%s", event.Result, event.ResultShape)
				}
			}
			b.WriteString("\n")
		}
	}

	return b.String()
}

// AssertionContext provides the dispatchers a scenario built, keyed by
// function name. A function that was never called has no entry.
type AssertionContext struct {
	Dispatchers map[string]*dispatch.Dispatcher
}

// EvaluateAssertions evaluates all assertions against the result.
// Returns a slice of error messages for failed assertions.
func EvaluateAssertions(result *Result, assertions []Assertion, actx *AssertionContext) []string {
	var errors []string

	if actx == nil {
		actx = &AssertionContext{}
	}

	for i, assertion := range assertions {
		var err error

		switch assertion.Type {
		case AssertEventCount:
			err = assertEventCount(result.Trace, assertion)
		case AssertWarnings:
			err = assertWarnings(result.Trace, assertion)
		case AssertSpecializations:
			err = assertSpecializations(result.Trace, actx, assertion)
		case AssertHits:
			err = assertHits(result.Trace, actx, assertion)
		case AssertPolicyCalls:
			err = assertPolicyCalls(result.Trace, actx, assertion)
		default:
			err = fmt.Errorf("assertion[%d]: unknown assertion type %q", i, assertion.Type)
		}

		if err != nil {
			errors = append(errors, err.Error())
		}
	}

	return errors
}

// assertEventCount counts execution events of one kind. Only start events
// are counted unless the assertion names a phase.
func assertEventCount(trace []TraceEvent, assertion Assertion) error {
	phase := assertion.Phase
	if phase == "" {
		phase = string(dispatch.PhaseStart)
	}

	count := 0
	for _, event := range trace {
		if event.Type != TraceTypeEvent || event.Kind != assertion.Kind || event.Phase != phase {
			continue
		}
		if assertion.Function != "" && event.Function != assertion.Function {
			continue
		}
		count++
	}

	if count != assertion.Count {
		return &AssertionError{
			Type:     AssertEventCount,
			Expected: fmt.Sprintf("%d %s/%s events%s", assertion.Count, assertion.Kind, phase, forFunction(assertion.Function)),
			Actual:   fmt.Sprintf("%d events", count),
			Trace:    trace,
		}
	}
	return nil
}

func assertWarnings(trace []TraceEvent, assertion Assertion) error {
	count := 0
	for _, event := range trace {
		if event.Type == TraceTypeWarning && (assertion.Function == "" || event.Function == assertion.Function) {
			count++
		}
	}

	if count != assertion.Count {
		return &AssertionError{
			Type:     AssertWarnings,
			Expected: fmt.Sprintf("%d fallback warnings%s", assertion.Count, forFunction(assertion.Function)),
			Actual:   fmt.Sprintf("%d warnings", count),
			Trace:    trace,
		}
	}
	return nil
}

// assertSpecializations checks the stored signatures in insertion order.
func assertSpecializations(trace []TraceEvent, actx *AssertionContext, assertion Assertion) error {
	want := make([]string, 0, len(assertion.Signatures))
	for _, s := range assertion.Signatures {
		sig, err := shape.ParseSignature(s)
		if err != nil {
			return fmt.Errorf("specializations: %w", err)
		}
		want = append(want, sig.Key())
	}

	var got []string
	if d, ok := actx.Dispatchers[assertion.Function]; ok {
		for _, sig := range d.Specializations() {
			got = append(got, sig.Key())
		}
	}

	if !slices.Equal(want, got) {
		return &AssertionError{
			Type:     AssertSpecializations,
			Expected: fmt.Sprintf("%s holds %v", assertion.Function, want),
			Actual:   fmt.Sprintf("%v", got),
			Trace:    trace,
		}
	}
	return nil
}

func assertHits(trace []TraceEvent, actx *AssertionContext, assertion Assertion) error {
	sig, err := shape.ParseSignature(assertion.Signature)
	if err != nil {
		return fmt.Errorf("hits: %w", err)
	}

	hits := 0
	if d, ok := actx.Dispatchers[assertion.Function]; ok {
		hits = d.Hits(sig)
	}

	if hits != assertion.Count {
		return &AssertionError{
			Type:     AssertHits,
			Expected: fmt.Sprintf("%d hits for %s%s", assertion.Count, assertion.Function, sig.Key()),
			Actual:   fmt.Sprintf("%d hits", hits),
			Trace:    trace,
		}
	}
	return nil
}

func assertPolicyCalls(trace []TraceEvent, actx *AssertionContext, assertion Assertion) error {
	var calls int64
	if d, ok := actx.Dispatchers[assertion.Function]; ok {
		calls = d.Stats().PolicyCalls
	}

	if calls != int64(assertion.Count) {
		return &AssertionError{
			Type:     AssertPolicyCalls,
			Expected: fmt.Sprintf("%d policy calls for %s", assertion.Count, assertion.Function),
			Actual:   fmt.Sprintf("%d policy calls", calls),
			Trace:    trace,
		}
	}
	return nil
}

func forFunction(name string) string {
	if name == "" {
		return ""
	}
	return " for " + name
}

// resultDiff compares an expected call result with the actual one and
// returns a cmp diff, empty when they match.
//
// Both sides are normalized first. An integer expectation is widened when
// the result is a float of the same shape family, so `result: 3` matches
// float64(3). Floats compare with a small relative tolerance.
func resultDiff(want, got any) string {
	want, got = lang.Normalize(want), lang.Normalize(got)
	want = widenLike(want, got)
	return cmp.Diff(want, got, cmpopts.EquateApprox(1e-9, 0), cmpopts.EquateEmpty())
}

func widenLike(want, got any) any {
	switch w := want.(type) {
	case int64:
		if _, ok := got.(float64); ok {
			return float64(w)
		}
	case []int64:
		if _, ok := got.([]float64); ok {
			out := make([]float64, len(w))
			for i, v := range w {
				out[i] = float64(v)
			}
			return out
		}
	}
	return want
}
