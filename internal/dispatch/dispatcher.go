package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/roach88/tiered/internal/compiler"
	"github.com/roach88/tiered/internal/lang"
	"github.com/roach88/tiered/internal/policy"
	"github.com/roach88/tiered/internal/shape"
)

// Route names the step that selected a call's execution path.
type Route string

const (
	RouteExact     Route = "exact"
	RouteFamily    Route = "family"
	RouteCache     Route = "cache"
	RouteCompiled  Route = "compiled"
	RouteEvaluated Route = "evaluated"
	RouteRejected  Route = "rejected"
)

// Stats are cumulative per-dispatcher counters.
type Stats struct {
	Calls       int64 `json:"calls"`
	Compiled    int64 `json:"compiled"`
	Evaluated   int64 `json:"evaluated"`
	Rejected    int64 `json:"rejected"`
	PolicyCalls int64 `json:"policy_calls"`
}

// Dispatcher routes the calls of one function between its compiled
// specializations and the evaluator.
type Dispatcher struct {
	fn      *lang.Function
	cfg     Config
	id      string
	policy  *policy.Evaluator
	store   *SpecializationStore
	backend Backend
	cache   compiler.ArtifactCache
	events  *EventSink
	clock   Clock
	warner  Warner
	ids     IDGenerator
	logger  *zap.Logger

	flight   singleflight.Group
	insertMu sync.Mutex

	calls     atomic.Int64
	compiled  atomic.Int64
	evaluated atomic.Int64
	rejected  atomic.Int64
}

// New creates a dispatcher for fn.
//
// It fails with a POLICY_NOT_CALLABLE DispatchError when cfg.UseJIT holds a
// nil function. Explicit signatures in cfg.Target are compiled before New
// returns; their compile errors are returned as-is.
func New(ctx context.Context, fn *lang.Function, cfg Config, opts ...Option) (*Dispatcher, error) {
	if fn == nil {
		return nil, errors.New("dispatch: nil function")
	}
	if err := policy.Validate(cfg.UseJIT); err != nil {
		return nil, &DispatchError{
			Code:     ErrCodeNotCallable,
			Message:  fmt.Sprintf("use_jit for %s must be callable", fn.Name),
			Function: fn.Name,
			Err:      err,
		}
	}

	d := &Dispatcher{
		fn:     fn,
		cfg:    cfg,
		policy: policy.NewEvaluator(cfg.UseJIT),
		store:  NewSpecializationStore(),
		ids:    UUIDv7Generator{},
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(d)
	}

	if d.events == nil {
		d.events = NewEventSink(d.clock)
	}
	if d.warner == nil {
		d.warner = NewLogWarner(d.logger)
	}
	if d.backend == nil {
		svcOpts := []compiler.ServiceOption{compiler.WithLogger(d.logger)}
		if d.cache != nil {
			svcOpts = append(svcOpts, compiler.WithCache(d.cache))
		}
		d.backend = compiler.NewService(cfg.Target, svcOpts...)
	}
	d.id = d.ids.Generate()
	d.logger = d.logger.With(zap.String("function", fn.Name), zap.String("dispatcher", d.id))

	if len(cfg.Target.Signatures) > 0 {
		specs, err := d.backend.Explicit(ctx, fn)
		if err != nil {
			return nil, err
		}
		for _, spec := range specs {
			if err := d.store.Insert(spec.Signature, spec); err != nil {
				return nil, fmt.Errorf("explicit signature: %w", err)
			}
		}
	}
	return d, nil
}

// ID returns the dispatcher's instance ID.
func (d *Dispatcher) ID() string { return d.id }

// Function returns the dispatched function.
func (d *Dispatcher) Function() *lang.Function { return d.fn }

// Config returns the configuration the dispatcher was built with.
func (d *Dispatcher) Config() Config { return d.cfg }

// Events returns the dispatcher's event sink.
func (d *Dispatcher) Events() *EventSink { return d.events }

// Specializations returns every specialized signature in insertion order.
func (d *Dispatcher) Specializations() []shape.Signature { return d.store.Signatures() }

// Hits returns the exact-match hit count for sig.
func (d *Dispatcher) Hits(sig shape.Signature) int { return d.store.Hits(sig) }

// Stats returns the dispatcher counters.
func (d *Dispatcher) Stats() Stats {
	return Stats{
		Calls:       d.calls.Load(),
		Compiled:    d.compiled.Load(),
		Evaluated:   d.evaluated.Load(),
		Rejected:    d.rejected.Load(),
		PolicyCalls: d.policy.Calls(),
	}
}

// Call dispatches one call of the function with args.
//
// Errors are either a *DispatchError (policy contract violation or
// rejection, both matching ErrTypeMismatch) or the backend's own error
// returned unchanged.
func (d *Dispatcher) Call(ctx context.Context, args ...any) (any, error) {
	d.calls.Add(1)
	sig := shape.SignatureOf(args)

	// CheckExactMatch
	if spec, ok := d.store.Lookup(sig); ok {
		return d.runCompiled(ctx, RouteExact, spec, sig, args)
	}

	// CheckFamilyMatch: stored overloads first, then the artifact cache.
	if spec, ok := d.store.MatchesExistingFamily(sig, d.backend.Resolve); ok {
		return d.runCompiled(ctx, RouteFamily, spec, sig, args)
	}
	spec, _, err := d.acquire(ctx, sig, false)
	if err != nil {
		return nil, err
	}
	if spec != nil {
		return d.runCompiled(ctx, RouteCache, spec, sig, args)
	}

	// Evaluate Policy
	outcome, err := d.policy.Decide(args)
	if err != nil {
		d.rejected.Add(1)
		return nil, d.contractViolation(sig, err)
	}

	// Act
	switch outcome.Action() {
	case policy.ActionEvaluate:
		return d.runEvaluated(ctx, sig, args)
	case policy.ActionReject:
		d.rejected.Add(1)
		return nil, d.explainNoMatch(sig, outcome.Reason())
	}

	spec, locked, err := d.acquire(ctx, sig, true)
	if err != nil {
		return nil, err
	}

	// Verify
	if spec == nil {
		d.rejected.Add(1)
		reason := "compiler produced no specialization"
		if locked {
			reason = "compilation is disabled"
		}
		return nil, d.explainNoMatch(sig, reason)
	}
	return d.runCompiled(ctx, RouteCompiled, spec, sig, args)
}

type acquired struct {
	spec   *compiler.Specialization
	locked bool
}

// acquire asks the backend for a specialization of sig and stores it.
// Concurrent requests with the same signature and permission share one
// backend request. The shared request outlives the cancellation of whichever
// caller started it; each caller still observes its own ctx.
func (d *Dispatcher) acquire(ctx context.Context, sig shape.Signature, permitted bool) (*compiler.Specialization, bool, error) {
	key := sig.Key()
	if permitted {
		key = "+" + key
	}
	shared := context.WithoutCancel(ctx)
	v, err, _ := d.flight.Do(key, func() (any, error) {
		if spec, ok := d.store.Peek(sig); ok {
			return acquired{spec: spec}, nil
		}
		acq, err := d.backend.Acquire(shared, compiler.Request{
			Function:  d.fn,
			Signature: sig,
			Permitted: permitted,
		})
		if err != nil {
			return nil, err
		}
		if acq.Spec == nil {
			return acquired{locked: acq.Locked}, nil
		}
		spec, err := d.insert(sig, acq.Spec)
		if err != nil {
			return nil, err
		}
		return acquired{spec: spec}, nil
	})
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, false, ctxErr
	}
	if err != nil {
		return nil, false, err
	}
	a := v.(acquired)
	return a.spec, a.locked, nil
}

// insert stores spec unless a concurrent flight for the other permission
// stored one first, in which case the stored one wins.
func (d *Dispatcher) insert(sig shape.Signature, spec *compiler.Specialization) (*compiler.Specialization, error) {
	d.insertMu.Lock()
	defer d.insertMu.Unlock()
	if existing, ok := d.store.Peek(sig); ok {
		return existing, nil
	}
	if err := d.store.Insert(sig, spec); err != nil {
		return nil, err
	}
	d.logger.Debug("specialization added",
		zap.String("signature", sig.Key()),
		zap.Stringer("origin", spec.Origin),
	)
	return spec, nil
}

func (d *Dispatcher) runCompiled(ctx context.Context, route Route, spec *compiler.Specialization, sig shape.Signature, args []any) (out any, err error) {
	d.compiled.Add(1)
	d.logger.Debug("dispatch",
		zap.String("signature", sig.Key()),
		zap.String("route", string(route)),
		zap.String("specialization", spec.Signature.Key()),
	)

	end := d.events.Begin(KindCompiled, d.fn.Name, d.id, sig.Key())
	defer func() { end(err) }()
	return spec.Run(ctx, args)
}

func (d *Dispatcher) runEvaluated(ctx context.Context, sig shape.Signature, args []any) (out any, err error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d.evaluated.Add(1)
	d.logger.Debug("dispatch",
		zap.String("signature", sig.Key()),
		zap.String("route", string(RouteEvaluated)),
	)
	if d.cfg.WarnOnFallback {
		d.warner.Warn(FallbackWarning{Function: d.fn.Name, Shapes: sig.Names()})
	}

	end := d.events.Begin(KindEvaluated, d.fn.Name, d.id, sig.Key())
	defer func() { end(err) }()
	return d.fn.Evaluate(args)
}
