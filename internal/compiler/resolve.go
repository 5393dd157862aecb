package compiler

import "github.com/roach88/tiered/internal/shape"

// Conversion costs used by overload resolution. Lower is preferred.
const (
	costExact = 0
	costWiden = 1 // int32 -> int64, float32 -> float64
	costFloat = 2 // integer -> float64
)

// Resolve picks the known signature that sig's arguments can be converted
// to most cheaply. Only value-preserving conversions qualify:
//
//	int32   -> int64    (cost 1)
//	float32 -> float64  (cost 1)
//	int32, int64 -> float64 (cost 2)
//
// applied per argument and elementwise inside arrays. A signature matching
// exactly costs 0. Ties go to the earliest entry in known.
func Resolve(sig shape.Signature, known []shape.Signature) (shape.Signature, bool) {
	best, bestCost := -1, 0
	for i, k := range known {
		cost, ok := signatureCost(sig, k)
		if !ok {
			continue
		}
		if best < 0 || cost < bestCost {
			best, bestCost = i, cost
		}
	}
	if best < 0 {
		return shape.Signature{}, false
	}
	return known[best], true
}

func signatureCost(from, to shape.Signature) (int, bool) {
	if from.Len() != to.Len() {
		return 0, false
	}
	total := 0
	for i := 0; i < from.Len(); i++ {
		c, ok := conversionCost(from.At(i), to.At(i))
		if !ok {
			return 0, false
		}
		total += c
	}
	return total, true
}

func conversionCost(from, to shape.Shape) (int, bool) {
	if from.Equal(to) {
		return costExact, true
	}
	switch {
	case from.Kind == shape.KindInt32 && to.Kind == shape.KindInt64:
		return costWiden, true
	case from.Kind == shape.KindFloat32 && to.Kind == shape.KindFloat64:
		return costWiden, true
	case from.IsInteger() && to.Kind == shape.KindFloat64:
		return costFloat, true
	case from.Kind == shape.KindArray && to.Kind == shape.KindArray:
		return conversionCost(*from.Elem, *to.Elem)
	}
	return 0, false
}
