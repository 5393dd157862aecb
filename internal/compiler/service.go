package compiler

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/roach88/tiered/internal/lang"
	"github.com/roach88/tiered/internal/shape"
)

// Options configure code generation and the compile service. The dispatcher
// forwards them without interpreting them.
type Options struct {
	// Signatures are explicit declarations such as "float64(float64, float64)"
	// compiled eagerly by Explicit.
	Signatures []string

	// FastMath allows reassociating floating point reductions.
	FastMath bool

	// Parallel splits long elementwise vector operations across goroutines.
	Parallel bool

	// Cache persists compiled programs through the ArtifactCache and loads
	// them before compiling.
	Cache bool

	// Locked forbids compiling new code. Cached and explicit programs are
	// still served. Declaring Signatures implies Locked.
	Locked bool
}

// IsLocked reports whether fresh compilation on request is forbidden.
func (o Options) IsLocked() bool { return o.Locked || len(o.Signatures) > 0 }

// codeOptions returns the options that change generated code. They are part
// of the function key so a changed option never reuses a stale artifact.
func (o Options) codeOptions() map[string]any {
	m := map[string]any{}
	if o.FastMath {
		m["fastmath"] = true
	}
	if o.Parallel {
		m["parallel"] = true
	}
	if len(o.Signatures) > 0 {
		sigs := make([]any, len(o.Signatures))
		for i, s := range o.Signatures {
			sigs[i] = s
		}
		m["signatures"] = sigs
	}
	return m
}

// ArtifactCache persists serialized programs. Implementations must be safe
// for concurrent use.
type ArtifactCache interface {
	Load(ctx context.Context, functionKey string, sig shape.Signature) ([]byte, bool, error)
	Save(ctx context.Context, functionKey, function string, sig shape.Signature, program []byte) error
}

// Request asks the service for a specialization of Function at Signature.
//
// Permitted is call-scoped: when false the service may only serve a program
// from the artifact cache and must not compile.
type Request struct {
	Function  *lang.Function
	Signature shape.Signature
	Permitted bool
}

// Acquisition is the answer to a Request. A nil Spec means no
// specialization could be produced without compiling, or compiling was
// refused because the service is locked.
type Acquisition struct {
	Spec   *Specialization
	Locked bool
}

// Stats are cumulative service counters.
type Stats struct {
	Compiles    int64 `json:"compiles"`
	CacheHits   int64 `json:"cache_hits"`
	CacheMisses int64 `json:"cache_misses"`
	SaveErrors  int64 `json:"save_errors"`
}

// Service compiles functions on request.
//
// Thread-safety: Service is safe for concurrent use. It does not deduplicate
// concurrent requests for the same signature; callers that need at most one
// compilation per signature coordinate that themselves.
type Service struct {
	opts   Options
	cache  ArtifactCache
	logger *zap.Logger

	keys sync.Map // *lang.Function -> string

	compiles    atomic.Int64
	cacheHits   atomic.Int64
	cacheMisses atomic.Int64
	saveErrors  atomic.Int64
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithCache sets the artifact cache used when Options.Cache is true.
func WithCache(c ArtifactCache) ServiceOption {
	return func(s *Service) { s.cache = c }
}

// WithLogger sets the service logger.
func WithLogger(l *zap.Logger) ServiceOption {
	return func(s *Service) { s.logger = l }
}

// NewService creates a compile service.
func NewService(opts Options, options ...ServiceOption) *Service {
	s := &Service{opts: opts, logger: zap.NewNop()}
	for _, o := range options {
		o(s)
	}
	return s
}

// Options returns the service options.
func (s *Service) Options() Options { return s.opts }

// Stats returns a snapshot of the service counters.
func (s *Service) Stats() Stats {
	return Stats{
		Compiles:    s.compiles.Load(),
		CacheHits:   s.cacheHits.Load(),
		CacheMisses: s.cacheMisses.Load(),
		SaveErrors:  s.saveErrors.Load(),
	}
}

// Resolve picks the cheapest known signature sig converts to.
func (s *Service) Resolve(sig shape.Signature, known []shape.Signature) (shape.Signature, bool) {
	return Resolve(sig, known)
}

// FunctionKey returns the artifact cache key of fn under the service options.
func (s *Service) FunctionKey(fn *lang.Function) (string, error) {
	if k, ok := s.keys.Load(fn); ok {
		return k.(string), nil
	}
	k, err := shape.FunctionKey(fn.Name, fn.Params, fn.Source, s.opts.codeOptions())
	if err != nil {
		return "", err
	}
	s.keys.Store(fn, k)
	return k, nil
}

func (s *Service) caching() bool { return s.opts.Cache && s.cache != nil }

// Acquire returns a specialization for the request.
//
// The artifact cache is consulted first when enabled. Otherwise, if the
// request is permitted and the service is not locked, the function is
// compiled and the program saved to the cache. Compilation failures are
// returned as *CompileError; cache read failures are returned wrapped.
func (s *Service) Acquire(ctx context.Context, req Request) (Acquisition, error) {
	if s.caching() {
		spec, err := s.load(ctx, req.Function, req.Signature)
		if err != nil {
			return Acquisition{}, err
		}
		if spec != nil {
			return Acquisition{Spec: spec}, nil
		}
	}
	if !req.Permitted {
		return Acquisition{}, nil
	}
	if s.opts.IsLocked() {
		return Acquisition{Locked: true}, nil
	}

	prog, err := Compile(req.Function, req.Signature, s.opts)
	if err != nil {
		return Acquisition{}, err
	}
	s.compiles.Add(1)
	s.logger.Debug("compiled specialization",
		zap.String("function", req.Function.Name),
		zap.String("signature", req.Signature.Key()),
		zap.Int("instructions", len(prog.Code)),
	)
	s.save(ctx, req.Function, req.Signature, prog)
	return Acquisition{Spec: &Specialization{Signature: req.Signature, Program: prog, Origin: OriginCompiled}}, nil
}

// Explicit compiles the declared signatures in Options.Signatures, in order.
// Explicit signatures are honoured even when the service is locked.
func (s *Service) Explicit(ctx context.Context, fn *lang.Function) ([]*Specialization, error) {
	specs := make([]*Specialization, 0, len(s.opts.Signatures))
	for _, src := range s.opts.Signatures {
		decl, err := shape.ParseDeclaration(src)
		if err != nil {
			return nil, &CompileError{Function: fn.Name, Signature: src, Message: err.Error()}
		}
		if s.caching() {
			spec, err := s.load(ctx, fn, decl.Params)
			if err != nil {
				return nil, err
			}
			if spec != nil {
				spec.Origin = OriginExplicit
				specs = append(specs, spec)
				continue
			}
		}
		prog, err := compileDeclared(fn, decl, s.opts)
		if err != nil {
			return nil, err
		}
		s.compiles.Add(1)
		s.save(ctx, fn, decl.Params, prog)
		specs = append(specs, &Specialization{Signature: decl.Params, Program: prog, Origin: OriginExplicit})
	}
	return specs, nil
}

func (s *Service) load(ctx context.Context, fn *lang.Function, sig shape.Signature) (*Specialization, error) {
	key, err := s.FunctionKey(fn)
	if err != nil {
		return nil, err
	}
	data, ok, err := s.cache.Load(ctx, key, sig)
	if err != nil {
		return nil, fmt.Errorf("load artifact %s%s: %w", fn.Name, sig.Key(), err)
	}
	if !ok {
		s.cacheMisses.Add(1)
		return nil, nil
	}
	prog, err := UnmarshalProgram(data)
	if err == nil && prog.Signature != sig.Key() {
		err = fmt.Errorf("artifact signature %s does not match %s", prog.Signature, sig.Key())
	}
	if err != nil {
		// A stale or corrupt artifact is treated as a miss and recompiled.
		s.cacheMisses.Add(1)
		s.logger.Warn("ignoring unusable artifact",
			zap.String("function", fn.Name),
			zap.String("signature", sig.Key()),
			zap.Error(err),
		)
		return nil, nil
	}
	s.cacheHits.Add(1)
	s.logger.Debug("loaded specialization from cache",
		zap.String("function", fn.Name),
		zap.String("signature", sig.Key()),
	)
	return &Specialization{Signature: sig, Program: prog, Origin: OriginCache}, nil
}

func (s *Service) save(ctx context.Context, fn *lang.Function, sig shape.Signature, prog *Program) {
	if !s.caching() {
		return
	}
	err := s.trySave(ctx, fn, sig, prog)
	if err != nil {
		s.saveErrors.Add(1)
		s.logger.Warn("failed to persist specialization",
			zap.String("function", fn.Name),
			zap.String("signature", sig.Key()),
			zap.Error(err),
		)
	}
}

func (s *Service) trySave(ctx context.Context, fn *lang.Function, sig shape.Signature, prog *Program) error {
	key, err := s.FunctionKey(fn)
	if err != nil {
		return err
	}
	data, err := MarshalProgram(prog)
	if err != nil {
		return err
	}
	return s.cache.Save(ctx, key, fn.Name, sig, data)
}
