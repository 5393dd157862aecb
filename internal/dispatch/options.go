package dispatch

import (
	"context"

	"go.uber.org/zap"

	"github.com/roach88/tiered/internal/compiler"
	"github.com/roach88/tiered/internal/lang"
	"github.com/roach88/tiered/internal/policy"
	"github.com/roach88/tiered/internal/shape"
)

// Config is the decoration surface of a dispatcher.
type Config struct {
	// UseJIT decides, per novel shape, how a call runs. Nil selects
	// policy.AlwaysCompile.
	UseJIT policy.Policy

	// WarnOnFallback emits a FallbackWarning before every evaluated
	// execution.
	WarnOnFallback bool

	// Target is forwarded to the compiler without interpretation.
	Target compiler.Options
}

// Backend is the compiler collaborator. *compiler.Service implements it.
type Backend interface {
	// Resolve picks the known signature a call with sig can run on.
	Resolve(sig shape.Signature, known []shape.Signature) (shape.Signature, bool)

	// Acquire returns a specialization for the request. With
	// Permitted=false it may only load a previously saved program.
	Acquire(ctx context.Context, req compiler.Request) (compiler.Acquisition, error)

	// Explicit compiles the declared signatures eagerly.
	Explicit(ctx context.Context, fn *lang.Function) ([]*compiler.Specialization, error)
}

var _ Backend = (*compiler.Service)(nil)

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithLogger sets the dispatcher logger. The default discards everything.
func WithLogger(l *zap.Logger) Option {
	return func(d *Dispatcher) { d.logger = l }
}

// WithWarner sets the fallback warning receiver.
//
// Default: NewLogWarner with the dispatcher logger.
func WithWarner(w Warner) Option {
	return func(d *Dispatcher) { d.warner = w }
}

// WithBackend replaces the compiler service built from Config.Target.
func WithBackend(b Backend) Option {
	return func(d *Dispatcher) { d.backend = b }
}

// WithArtifactCache sets the persistent cache of the default compiler
// service. It has no effect together with WithBackend.
func WithArtifactCache(c compiler.ArtifactCache) Option {
	return func(d *Dispatcher) { d.cache = c }
}

// WithIDGenerator sets the dispatcher ID generator.
//
// Default: UUIDv7Generator.
func WithIDGenerator(g IDGenerator) Option {
	return func(d *Dispatcher) { d.ids = g }
}

// WithClock sets the clock stamping events.
//
// Default: a fresh LogicalClock per dispatcher.
func WithClock(c Clock) Option {
	return func(d *Dispatcher) { d.clock = c }
}

// WithEventSink shares an event sink between dispatchers. The sink's own
// clock is used and WithClock is ignored.
func WithEventSink(s *EventSink) Option {
	return func(d *Dispatcher) { d.events = s }
}
