package dispatch

import (
	"fmt"
	"slices"
	"sync"

	"github.com/roach88/tiered/internal/compiler"
	"github.com/roach88/tiered/internal/shape"
)

// Resolver selects, among known signatures, the one a call with signature
// sig can run on. compiler.Resolve is the canonical implementation.
type Resolver func(sig shape.Signature, known []shape.Signature) (shape.Signature, bool)

// SpecializationStore maps signatures to their single specialization.
//
// INVARIANTS:
//   - at most one specialization per signature; Insert never overwrites
//   - hit counts never decrease
//   - Signatures() preserves insertion order
//
// Thread-safety: SpecializationStore is safe for concurrent use.
type SpecializationStore struct {
	mu    sync.RWMutex
	specs map[string]*compiler.Specialization
	hits  map[string]int
	order []shape.Signature
}

// NewSpecializationStore creates an empty store.
func NewSpecializationStore() *SpecializationStore {
	return &SpecializationStore{
		specs: make(map[string]*compiler.Specialization),
		hits:  make(map[string]int),
	}
}

// Lookup returns the specialization for sig and counts a hit when found.
func (s *SpecializationStore) Lookup(sig shape.Signature) (*compiler.Specialization, bool) {
	key := sig.Key()
	s.mu.Lock()
	defer s.mu.Unlock()
	spec, ok := s.specs[key]
	if ok {
		s.hits[key]++
	}
	return spec, ok
}

// Peek is Lookup without hit bookkeeping.
func (s *SpecializationStore) Peek(sig shape.Signature) (*compiler.Specialization, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	spec, ok := s.specs[sig.Key()]
	return spec, ok
}

// Insert adds the specialization for sig. It fails with
// ErrDuplicateSpecialization if sig already has one.
func (s *SpecializationStore) Insert(sig shape.Signature, spec *compiler.Specialization) error {
	if spec == nil {
		return fmt.Errorf("insert %s: nil specialization", sig)
	}
	if !spec.Signature.Equal(sig) {
		return fmt.Errorf("insert %s: specialization is bound to %s", sig, spec.Signature)
	}
	key := sig.Key()
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.specs[key]; ok {
		return fmt.Errorf("insert %s: %w", sig, ErrDuplicateSpecialization)
	}
	s.specs[key] = spec
	s.order = append(s.order, sig)
	return nil
}

// MatchesExistingFamily asks resolve whether a call with signature sig can
// run on one of the stored specializations. The store only orchestrates the
// query; the conversion rules belong to resolve. Family matches do not count
// as hits.
func (s *SpecializationStore) MatchesExistingFamily(sig shape.Signature, resolve Resolver) (*compiler.Specialization, bool) {
	s.mu.RLock()
	known := slices.Clone(s.order)
	s.mu.RUnlock()
	if len(known) == 0 {
		return nil, false
	}

	match, ok := resolve(sig, known)
	if !ok {
		return nil, false
	}
	return s.Peek(match)
}

// Signatures returns every specialized signature in insertion order.
func (s *SpecializationStore) Signatures() []shape.Signature {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.order)
}

// Hits returns the number of exact-match hits recorded for sig.
func (s *SpecializationStore) Hits(sig shape.Signature) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.hits[sig.Key()]
}

// Len returns the number of specializations.
func (s *SpecializationStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.order)
}

// keys returns the signature keys in insertion order.
func (s *SpecializationStore) keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, len(s.order))
	for i, sig := range s.order {
		out[i] = sig.Key()
	}
	return out
}
