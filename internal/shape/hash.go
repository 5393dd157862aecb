package shape

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Domain prefixes for content-addressed identity.
// The version suffix leaves room for algorithm migration.
const (
	DomainSignature = "tiered/signature/v1"
	DomainFunction  = "tiered/function/v1"
)

// hashWithDomain computes SHA256(domain + 0x00 + data).
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// Hash returns the content address of the signature.
func (s Signature) Hash() string {
	canonical, err := MarshalCanonical(s.Canonical())
	if err != nil {
		// Canonical() only produces strings, maps and slices.
		panic(fmt.Sprintf("shape: signature %s: %v", s.Key(), err))
	}
	return hashWithDomain(DomainSignature, canonical)
}

// FunctionKey computes the content address of a function definition plus
// the compiler options that change generated code. Persisted artifacts are
// keyed on it, so editing a body or flipping an option never reuses stale
// programs.
func FunctionKey(name string, params []string, body string, options map[string]any) (string, error) {
	ps := make([]any, len(params))
	for i, p := range params {
		ps[i] = p
	}
	obj := map[string]any{
		"name":           name,
		"params":         ps,
		"body":           body,
		"engine_version": EngineVersion,
		"format":         ArtifactFormat,
	}
	if len(options) > 0 {
		obj["options"] = options
	}
	canonical, err := MarshalCanonical(obj)
	if err != nil {
		return "", fmt.Errorf("FunctionKey: failed to marshal: %w", err)
	}
	return hashWithDomain(DomainFunction, canonical), nil
}
