package segment

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ruvector/rvf/metric"
	"github.com/ruvector/rvf/quantization"
)

func TestVecHeaderRoundTrip(t *testing.T) {
	h := VecHeader{
		Dim:          128,
		Metric:       metric.CosineKind,
		Quantization: quantization.Int8,
		Min:          -0.5,
		Max:          1.5,
	}

	payload := EncodeVecHeader(&h)
	require.Len(t, payload, VecHeaderSize)

	got, err := DecodeVecHeader(payload)
	require.NoError(t, err)
	assert.Equal(t, h, got)
}

func TestVecHeaderValidation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(h *VecHeader)
	}{
		{name: "zero dim", mutate: func(h *VecHeader) { h.Dim = 0 }},
		{name: "bad quantization", mutate: func(h *VecHeader) { h.Quantization = quantization.Mode(99) }},
		{name: "bad metric", mutate: func(h *VecHeader) { h.Metric = metric.Kind(99) }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := VecHeader{Dim: 4, Quantization: quantization.FP32}
			tt.mutate(&h)

			_, err := DecodeVecHeader(EncodeVecHeader(&h))
			var corrupt *CorruptError
			require.ErrorAs(t, err, &corrupt)
		})
	}

	_, err := DecodeVecHeader([]byte{1, 2, 3})
	require.Error(t, err)
}

func TestVecHeaderRejectsPartialRecord(t *testing.T) {
	h := VecHeader{Dim: 4, Quantization: quantization.FP32}
	payload := EncodeVecHeader(&h)
	payload = append(payload, make([]byte, h.Stride()-1)...)

	_, err := DecodeVecHeader(payload)
	require.Error(t, err)
}

func TestAppendVectorAndRandomAccess(t *testing.T) {
	h := VecHeader{Dim: 4, Metric: metric.SquaredL2Kind, Quantization: quantization.FP32}
	payload := EncodeVecHeader(&h)

	vectors := [][]float32{
		{1, 0, 0, 0},
		{0, 1, 0, 0},
		{0.5, 0.5, -0.5, -0.5},
	}

	var err error
	for i, vec := range vectors {
		payload, err = AppendVector(payload, &h, fmt.Sprintf("vec-%d", i), vec)
		require.NoError(t, err)
	}

	assert.Equal(t, len(vectors), VecCount(payload, &h))

	for i, want := range vectors {
		id, got, err := DecodeAt(payload, &h, i)
		require.NoError(t, err)
		assert.Equal(t, fmt.Sprintf("vec-%d", i), id)
		assert.Equal(t, want, got)
	}

	_, _, err = VectorAt(payload, &h, len(vectors))
	require.Error(t, err)
	_, _, err = VectorAt(payload, &h, -1)
	require.Error(t, err)
}

func TestAppendVectorValidation(t *testing.T) {
	h := VecHeader{Dim: 4, Quantization: quantization.FP32}
	payload := EncodeVecHeader(&h)

	_, err := AppendVector(payload, &h, "", []float32{1, 2, 3, 4})
	require.Error(t, err, "empty id")

	_, err = AppendVector(payload, &h, "this-id-is-way-too-long", []float32{1, 2, 3, 4})
	require.Error(t, err, "oversized id")

	_, err = AppendVector(payload, &h, "ok", []float32{1, 2})
	require.Error(t, err, "dimension mismatch")
}

func TestQuantizedRoundTripThroughSegment(t *testing.T) {
	h := VecHeader{
		Dim:          8,
		Metric:       metric.SquaredL2Kind,
		Quantization: quantization.Int8,
		Min:          -1,
		Max:          1,
	}
	payload := EncodeVecHeader(&h)

	vec := []float32{0.1, -0.2, 0.3, -0.4, 0.5, -0.6, 0.7, -0.8}
	payload, err := AppendVector(payload, &h, "q", vec)
	require.NoError(t, err)

	q, err := h.Quantizer()
	require.NoError(t, err)

	_, got, err := DecodeAt(payload, &h, 0)
	require.NoError(t, err)
	for i := range vec {
		assert.InDelta(t, vec[i], got[i], float64(q.ErrorBound())+1e-7)
	}
}

func TestVecSource(t *testing.T) {
	h := VecHeader{Dim: 2, Metric: metric.SquaredL2Kind, Quantization: quantization.FP32}
	payload := EncodeVecHeader(&h)

	var err error
	payload, err = AppendVector(payload, &h, "a", []float32{0, 0})
	require.NoError(t, err)
	payload, err = AppendVector(payload, &h, "b", []float32{3, 4})
	require.NoError(t, err)

	source, err := NewVecSource(payload)
	require.NoError(t, err)
	assert.Equal(t, 2, source.Len())

	id, err := source.ID(1)
	require.NoError(t, err)
	assert.Equal(t, "b", id)

	d, err := source.DistanceToQuery([]float32{0, 0}, 1)
	require.NoError(t, err)
	assert.InDelta(t, 25.0, d, 1e-6)

	d, err = source.DistanceBetween(0, 1)
	require.NoError(t, err)
	assert.InDelta(t, 25.0, d, 1e-6)

	// Replace after an append keeps ordinals stable.
	payload, err = AppendVector(payload, &h, "c", []float32{1, 1})
	require.NoError(t, err)
	source.Replace(payload)
	assert.Equal(t, 3, source.Len())
}
