package harness

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/roach88/tiered/internal/artifact"
	"github.com/roach88/tiered/internal/compiler"
	"github.com/roach88/tiered/internal/defs"
	"github.com/roach88/tiered/internal/dispatch"
	"github.com/roach88/tiered/internal/lang"
	"github.com/roach88/tiered/internal/shape"
	"github.com/roach88/tiered/internal/testutil"
)

// Harness is the test execution engine.
// It runs the calls of one scenario with a deterministic clock and
// dispatcher IDs.
type Harness struct {
	defs   *defs.LoadResult
	cache  *artifact.Cache
	sink   *dispatch.EventSink
	clock  *testutil.DeterministicClock
	ids    *testutil.FixedIDGenerator
	logger *zap.Logger

	// Dispatchers are built on the first call of their function, so IDs
	// follow call order.
	dispatchers map[string]*dispatch.Dispatcher

	mu     sync.Mutex
	result *Result
}

// Run executes a test scenario and returns the result.
//
// Execution flow:
// 1. Load the scenario's definitions
// 2. Open the in-memory artifact cache when requested
// 3. Execute calls in order, checking each expect clause
// 4. Evaluate assertions and return the result
//
// The returned error reports a scenario that could not run at all;
// failed expectations are recorded in Result.Errors.
func Run(ctx context.Context, scenario *Scenario) (*Result, error) {
	return RunWithLogger(ctx, scenario, zap.NewNop())
}

// RunWithLogger is Run with dispatcher logging sent to logger.
func RunWithLogger(ctx context.Context, scenario *Scenario, logger *zap.Logger) (*Result, error) {
	loaded, err := loadDefinitions(scenario)
	if err != nil {
		return nil, err
	}

	clock := testutil.NewDeterministicClock()
	h := &Harness{
		defs:        loaded,
		sink:        dispatch.NewEventSink(clock),
		clock:       clock,
		ids:         testutil.NewFixedIDGenerator(),
		logger:      logger,
		dispatchers: make(map[string]*dispatch.Dispatcher),
		result:      NewResult(),
	}

	if scenario.Cache {
		cache, err := artifact.Open(":memory:")
		if err != nil {
			return nil, fmt.Errorf("failed to create in-memory cache: %w", err)
		}
		defer cache.Close()
		h.cache = cache
	}

	for _, kind := range []dispatch.Kind{dispatch.KindCompiled, dispatch.KindEvaluated} {
		unsubscribe := h.sink.Subscribe(kind, h.recordEvent)
		defer unsubscribe()
	}

	if err := h.executeCalls(ctx, scenario.Calls); err != nil {
		return nil, fmt.Errorf("failed to execute calls: %w", err)
	}

	result := h.result
	for name, d := range h.dispatchers {
		result.Stats[name] = d.Stats()
	}

	actx := &AssertionContext{Dispatchers: h.dispatchers}
	for _, errMsg := range EvaluateAssertions(result, scenario.Assertions, actx) {
		result.AddError(errMsg)
	}

	return result, nil
}

func loadDefinitions(s *Scenario) (*defs.LoadResult, error) {
	var (
		loaded *defs.LoadResult
		errs   []error
	)
	if s.Functions != "" {
		loaded, errs = defs.CompileString(s.Functions, defs.LoadModeFailFast)
	} else {
		loaded, errs = defs.Load(s.Defs, defs.LoadModeFailFast)
	}
	if len(errs) > 0 {
		return nil, fmt.Errorf("failed to load definitions: %w", errors.Join(errs...))
	}
	return loaded, nil
}

// executeCalls runs every call step in order.
//
// A call naming an undefined function aborts the run. Every other failure,
// including a dispatcher that cannot be constructed, is recorded as the
// call's error and checked against its expect clause.
func (h *Harness) executeCalls(ctx context.Context, calls []CallStep) error {
	for i, step := range calls {
		def, ok := h.defs.Lookup(step.Call)
		if !ok {
			return fmt.Errorf("calls[%d]: function %q is not defined", i, step.Call)
		}

		args := step.Args
		sig := shape.SignatureOf(args)
		h.append(TraceEvent{
			Type:      TraceTypeCall,
			Seq:       h.clock.Next(),
			Function:  step.Call,
			Signature: sig.Key(),
			Args:      fmt.Sprint(args),
		})
		mark := h.traceLen()

		var out any
		d, err := h.dispatcher(ctx, def)
		if err == nil {
			out, err = d.Call(ctx, args...)
		}

		ret := TraceEvent{Type: TraceTypeReturn, Seq: h.clock.Next(), Function: step.Call}
		if err != nil {
			ret.Error = ErrorCode(err)
		} else {
			ret.Result = fmt.Sprint(out)
			ret.ResultShape = shape.Of(out).String()
		}
		path := h.pathSince(mark)
		h.append(ret)

		if step.Expect != nil {
			h.checkExpect(i, step, out, err, path)
		} else if err != nil {
			h.result.AddError(fmt.Sprintf("calls[%d] %s: unexpected error: %v", i, step.Call, err))
		}
	}
	return nil
}

func (h *Harness) dispatcher(ctx context.Context, def *defs.Definition) (*dispatch.Dispatcher, error) {
	if d, ok := h.dispatchers[def.Name]; ok {
		return d, nil
	}
	opts := []dispatch.Option{
		dispatch.WithLogger(h.logger),
		dispatch.WithEventSink(h.sink),
		dispatch.WithIDGenerator(h.ids),
		dispatch.WithWarner(dispatch.WarnerFunc(h.recordWarning)),
	}
	if h.cache != nil {
		opts = append(opts, dispatch.WithArtifactCache(h.cache))
	}
	d, err := def.NewDispatcher(ctx, opts...)
	if err != nil {
		return nil, err
	}
	h.dispatchers[def.Name] = d
	return d, nil
}

func (h *Harness) checkExpect(i int, step CallStep, out any, err error, path string) {
	exp := step.Expect
	prefix := fmt.Sprintf("calls[%d] %s", i, step.Call)

	switch {
	case exp.Error != "" && err == nil:
		h.result.AddError(fmt.Sprintf("%s: expected error %s, got result %v", prefix, exp.Error, out))
	case exp.Error != "" && ErrorCode(err) != exp.Error:
		h.result.AddError(fmt.Sprintf("%s: expected error %s, got %s: %v", prefix, exp.Error, ErrorCode(err), err))
	case exp.Error == "" && err != nil:
		h.result.AddError(fmt.Sprintf("%s: unexpected error: %v", prefix, err))
	case exp.Result != nil:
		if diff := resultDiff(exp.Result, out); diff != "" {
			h.result.AddError(fmt.Sprintf("%s: result mismatch (-want +got):\n%s", prefix, diff))
		}
	}

	if exp.Path != "" && exp.Path != path {
		h.result.AddError(fmt.Sprintf("%s: expected path %s, got %s", prefix, exp.Path, path))
	}
}

// pathSince reports which tier executed, judged by the start events
// recorded after trace index mark.
func (h *Harness) pathSince(mark int) string {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, ev := range h.result.Trace[mark:] {
		if ev.Type != TraceTypeEvent || ev.Phase != string(dispatch.PhaseStart) {
			continue
		}
		switch dispatch.Kind(ev.Kind) {
		case dispatch.KindCompiled:
			return PathCompiled
		case dispatch.KindEvaluated:
			return PathEvaluated
		}
	}
	return PathNone
}

func (h *Harness) recordEvent(ev dispatch.Event) {
	h.append(TraceEvent{
		Type:       TraceTypeEvent,
		Seq:        ev.Seq,
		Function:   ev.Function,
		Kind:       string(ev.Kind),
		Phase:      string(ev.Phase),
		Dispatcher: ev.Dispatcher,
		Signature:  ev.Signature,
	})
}

func (h *Harness) recordWarning(w dispatch.FallbackWarning) {
	h.append(TraceEvent{
		Type:      TraceTypeWarning,
		Seq:       h.clock.Next(),
		Function:  w.Function,
		Signature: "(" + strings.Join(w.Shapes, ", ") + ")",
	})
}

func (h *Harness) append(ev TraceEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.result.Trace = append(h.result.Trace, ev)
}

func (h *Harness) traceLen() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.result.Trace)
}

// Error codes reported for failures that are not a *dispatch.DispatchError.
const (
	ErrCodeCompile = "COMPILE_ERROR"
	ErrCodeExec    = "EXEC_ERROR"
	ErrCodeEval    = "EVAL_ERROR"
	ErrCodeOther   = "ERROR"
)

// ErrorCode classifies a call error: the DispatchError code, or one of
// the ErrCode constants of this package.
func ErrorCode(err error) string {
	var de *dispatch.DispatchError
	switch {
	case errors.As(err, &de):
		return string(de.Code)
	case compiler.IsCompileError(err):
		return ErrCodeCompile
	case compiler.IsExecError(err):
		return ErrCodeExec
	case lang.IsEvalError(err):
		return ErrCodeEval
	}
	return ErrCodeOther
}
