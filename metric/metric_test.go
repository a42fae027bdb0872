package metric

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSquaredL2(t *testing.T) {
	d, err := SquaredL2([]float32{1, 2, 3}, []float32{4, 6, 3})
	require.NoError(t, err)
	assert.InDelta(t, 25.0, d, 1e-6)

	d, err = SquaredL2([]float32{1, 2}, []float32{1, 2})
	require.NoError(t, err)
	assert.Zero(t, d)

	_, err = SquaredL2([]float32{1}, []float32{1, 2})
	require.Error(t, err)
}

func TestCosineDistance(t *testing.T) {
	tests := []struct {
		name string
		v1   []float32
		v2   []float32
		want float32
	}{
		{name: "identical direction", v1: []float32{1, 0}, v2: []float32{2, 0}, want: 0},
		{name: "orthogonal", v1: []float32{1, 0}, v2: []float32{0, 1}, want: 1},
		{name: "opposite", v1: []float32{1, 0}, v2: []float32{-1, 0}, want: 2},
		{name: "zero vector", v1: []float32{0, 0}, v2: []float32{1, 0}, want: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := CosineDistance(tt.v1, tt.v2)
			require.NoError(t, err)
			assert.InDelta(t, tt.want, d, 1e-6)
		})
	}
}

func TestNegatedDot(t *testing.T) {
	d, err := NegatedDot([]float32{1, 2, 3}, []float32{4, 5, 6})
	require.NoError(t, err)
	assert.InDelta(t, -32.0, d, 1e-6)
}

func TestFunc(t *testing.T) {
	for _, k := range []Kind{SquaredL2Kind, CosineKind, DotProductKind} {
		fn, err := Func(k)
		require.NoError(t, err, k.String())
		require.NotNil(t, fn)
	}

	_, err := Func(Kind(42))
	require.ErrorIs(t, err, ErrUnknownKind)
}

func TestKindString(t *testing.T) {
	assert.Equal(t, "l2", SquaredL2Kind.String())
	assert.Equal(t, "cosine", CosineKind.String())
	assert.Equal(t, "dot", DotProductKind.String())
}
