package compiler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/tiered/internal/shape"
)

func sig(t *testing.T, src string) shape.Signature {
	t.Helper()
	s, err := shape.ParseSignature(src)
	require.NoError(t, err)
	return s
}

func TestResolve(t *testing.T) {
	known := []shape.Signature{
		sig(t, "(float64, float64)"),
		sig(t, "(int64, int64)"),
		sig(t, "(string, string)"),
		sig(t, "(array(float64))"),
	}

	tests := []struct {
		call string
		want string
		ok   bool
	}{
		{"(int64, int64)", "(int64, int64)", true},
		{"(int32, int32)", "(int64, int64)", true},
		{"(int64, float64)", "(float64, float64)", true},
		{"(float32, float32)", "(float64, float64)", true},
		{"(int32, float32)", "(float64, float64)", true},
		{"(array(int64))", "(array(float64))", true},
		{"(array(float32))", "(array(float64))", true},
		{"(float64, int64)", "(float64, float64)", true},
		{"(bool, bool)", "", false},
		{"(string)", "", false},
		{"(float64)", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.call, func(t *testing.T) {
			got, ok := Resolve(sig(t, tt.call), known)
			require.Equal(t, tt.ok, ok)
			if ok {
				assert.Equal(t, tt.want, got.Key())
			}
		})
	}
}

func TestResolve_NeverNarrows(t *testing.T) {
	known := []shape.Signature{sig(t, "(int32)"), sig(t, "(float32)")}

	_, ok := Resolve(sig(t, "(int64)"), known)
	assert.False(t, ok)
	_, ok = Resolve(sig(t, "(float64)"), known)
	assert.False(t, ok)
}

func TestResolve_TiesGoToFirst(t *testing.T) {
	known := []shape.Signature{
		sig(t, "(float64, int64)"),
		sig(t, "(int64, float64)"),
	}

	got, ok := Resolve(sig(t, "(int64, int64)"), known)
	require.True(t, ok)
	assert.Equal(t, "(float64, int64)", got.Key())

	got, ok = Resolve(sig(t, "(int64, int64)"), []shape.Signature{known[1], known[0]})
	require.True(t, ok)
	assert.Equal(t, "(int64, float64)", got.Key())
}

func TestResolve_Empty(t *testing.T) {
	_, ok := Resolve(sig(t, "(int64)"), nil)
	assert.False(t, ok)
}
