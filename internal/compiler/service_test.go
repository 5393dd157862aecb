package compiler

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/tiered/internal/lang"
	"github.com/roach88/tiered/internal/shape"
)

// memCache is an in-memory ArtifactCache.
type memCache struct {
	mu      sync.Mutex
	data    map[string][]byte
	loadErr error
	saveErr error
	saves   int
}

func newMemCache() *memCache {
	return &memCache{data: make(map[string][]byte)}
}

func (c *memCache) Load(_ context.Context, key string, sig shape.Signature) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.loadErr != nil {
		return nil, false, c.loadErr
	}
	data, ok := c.data[key+sig.Key()]
	return data, ok, nil
}

func (c *memCache) Save(_ context.Context, key, _ string, sig shape.Signature, program []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.saveErr != nil {
		return c.saveErr
	}
	c.saves++
	if _, ok := c.data[key+sig.Key()]; !ok {
		c.data[key+sig.Key()] = program
	}
	return nil
}

func addFn() *lang.Function {
	return lang.MustParse("add", []string{"a", "b"}, "a + b")
}

func TestService_AcquireCompiles(t *testing.T) {
	s := NewService(Options{})
	ints := shape.NewSignature(shape.Int64, shape.Int64)

	acq, err := s.Acquire(context.Background(), Request{Function: addFn(), Signature: ints, Permitted: true})
	require.NoError(t, err)
	require.NotNil(t, acq.Spec)
	assert.Equal(t, OriginCompiled, acq.Spec.Origin)
	assert.Equal(t, ints, acq.Spec.Signature)
	assert.Equal(t, Stats{Compiles: 1}, s.Stats())
}

func TestService_NotPermittedNeverCompiles(t *testing.T) {
	s := NewService(Options{})
	acq, err := s.Acquire(context.Background(), Request{
		Function:  addFn(),
		Signature: shape.NewSignature(shape.Int64, shape.Int64),
	})
	require.NoError(t, err)
	assert.Nil(t, acq.Spec)
	assert.False(t, acq.Locked)
	assert.Equal(t, int64(0), s.Stats().Compiles)
}

func TestService_Locked(t *testing.T) {
	s := NewService(Options{Locked: true})
	acq, err := s.Acquire(context.Background(), Request{
		Function:  addFn(),
		Signature: shape.NewSignature(shape.Int64, shape.Int64),
		Permitted: true,
	})
	require.NoError(t, err)
	assert.Nil(t, acq.Spec)
	assert.True(t, acq.Locked)
}

func TestService_CompileErrorReturnedAsIs(t *testing.T) {
	s := NewService(Options{})
	_, err := s.Acquire(context.Background(), Request{
		Function:  addFn(),
		Signature: shape.NewSignature(shape.String, shape.Int64),
		Permitted: true,
	})
	var ce *CompileError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "add", ce.Function)
}

func TestService_CacheAcrossServices(t *testing.T) {
	ctx := context.Background()
	cache := newMemCache()
	floats := shape.NewSignature(shape.Float64, shape.Float64)

	first := NewService(Options{Cache: true}, WithCache(cache))
	acq, err := first.Acquire(ctx, Request{Function: addFn(), Signature: floats, Permitted: true})
	require.NoError(t, err)
	require.NotNil(t, acq.Spec)
	assert.Equal(t, 1, cache.saves)
	assert.Equal(t, Stats{Compiles: 1, CacheMisses: 1}, first.Stats())

	// A fresh service with the same definition loads instead of compiling,
	// even when compilation is not permitted.
	second := NewService(Options{Cache: true}, WithCache(cache))
	acq, err = second.Acquire(ctx, Request{Function: addFn(), Signature: floats})
	require.NoError(t, err)
	require.NotNil(t, acq.Spec)
	assert.Equal(t, OriginCache, acq.Spec.Origin)
	assert.Equal(t, Stats{CacheHits: 1}, second.Stats())

	got, err := acq.Spec.Run(ctx, []any{1.5, 2.5})
	require.NoError(t, err)
	assert.Equal(t, 4.0, got)
}

func TestService_CacheKeyTracksBodyAndOptions(t *testing.T) {
	ctx := context.Background()
	cache := newMemCache()
	ints := shape.NewSignature(shape.Int64, shape.Int64)

	s := NewService(Options{Cache: true}, WithCache(cache))
	_, err := s.Acquire(ctx, Request{Function: addFn(), Signature: ints, Permitted: true})
	require.NoError(t, err)

	sub := lang.MustParse("add", []string{"a", "b"}, "a - b")
	acq, err := NewService(Options{Cache: true}, WithCache(cache)).Acquire(ctx, Request{Function: sub, Signature: ints})
	require.NoError(t, err)
	assert.Nil(t, acq.Spec, "edited body must not reuse the old artifact")

	acq, err = NewService(Options{Cache: true, FastMath: true}, WithCache(cache)).Acquire(ctx, Request{Function: addFn(), Signature: ints})
	require.NoError(t, err)
	assert.Nil(t, acq.Spec, "changed code options must not reuse the old artifact")
}

func TestService_CacheDisabledIgnoresCache(t *testing.T) {
	cache := newMemCache()
	s := NewService(Options{}, WithCache(cache))
	_, err := s.Acquire(context.Background(), Request{
		Function:  addFn(),
		Signature: shape.NewSignature(shape.Int64, shape.Int64),
		Permitted: true,
	})
	require.NoError(t, err)
	assert.Equal(t, 0, cache.saves)
}

func TestService_LoadErrorSurfaces(t *testing.T) {
	cache := newMemCache()
	cache.loadErr = errors.New("disk on fire")
	s := NewService(Options{Cache: true}, WithCache(cache))

	_, err := s.Acquire(context.Background(), Request{
		Function:  addFn(),
		Signature: shape.NewSignature(shape.Int64, shape.Int64),
		Permitted: true,
	})
	assert.ErrorContains(t, err, "disk on fire")
}

func TestService_SaveErrorIsNotFatal(t *testing.T) {
	cache := newMemCache()
	cache.saveErr = errors.New("read-only")
	s := NewService(Options{Cache: true}, WithCache(cache))

	acq, err := s.Acquire(context.Background(), Request{
		Function:  addFn(),
		Signature: shape.NewSignature(shape.Int64, shape.Int64),
		Permitted: true,
	})
	require.NoError(t, err)
	assert.NotNil(t, acq.Spec)
	assert.Equal(t, int64(1), s.Stats().SaveErrors)
}

func TestService_CorruptArtifactIsAMiss(t *testing.T) {
	ctx := context.Background()
	cache := newMemCache()
	s := NewService(Options{Cache: true}, WithCache(cache))
	fn := addFn()
	ints := shape.NewSignature(shape.Int64, shape.Int64)

	key, err := s.FunctionKey(fn)
	require.NoError(t, err)
	cache.data[key+ints.Key()] = []byte("garbage")

	acq, err := s.Acquire(ctx, Request{Function: fn, Signature: ints, Permitted: true})
	require.NoError(t, err)
	require.NotNil(t, acq.Spec)
	assert.Equal(t, OriginCompiled, acq.Spec.Origin)
	assert.Equal(t, int64(1), s.Stats().CacheMisses)
}

func TestService_Explicit(t *testing.T) {
	s := NewService(Options{
		Signatures: []string{"float64(float64, float64)", "int64(int64, int64)"},
		Locked:     true,
	})

	specs, err := s.Explicit(context.Background(), addFn())
	require.NoError(t, err)
	require.Len(t, specs, 2)
	assert.Equal(t, "(float64, float64)", specs[0].Signature.Key())
	assert.Equal(t, "(int64, int64)", specs[1].Signature.Key())
	assert.Equal(t, OriginExplicit, specs[0].Origin)
	assert.Equal(t, int64(2), s.Stats().Compiles)
}

func TestService_ExplicitErrors(t *testing.T) {
	s := NewService(Options{Signatures: []string{"float64(float64"}})
	_, err := s.Explicit(context.Background(), addFn())
	assert.True(t, IsCompileError(err))

	s = NewService(Options{Signatures: []string{"int64(float64, float64)"}})
	_, err = s.Explicit(context.Background(), addFn())
	assert.ErrorContains(t, err, "declared return int64, body returns float64")
}

func TestService_Resolve(t *testing.T) {
	s := NewService(Options{})
	known := []shape.Signature{shape.NewSignature(shape.Float64)}
	got, ok := s.Resolve(shape.NewSignature(shape.Int64), known)
	require.True(t, ok)
	assert.Equal(t, "(float64)", got.Key())
}

func TestService_SignaturesLockCompilation(t *testing.T) {
	s := NewService(Options{Signatures: []string{"int64(int64, int64)"}})
	acq, err := s.Acquire(context.Background(), Request{
		Function:  addFn(),
		Signature: shape.NewSignature(shape.String, shape.String),
		Permitted: true,
	})
	require.NoError(t, err)
	assert.Nil(t, acq.Spec)
	assert.True(t, acq.Locked)
	assert.True(t, s.Options().IsLocked())
}
