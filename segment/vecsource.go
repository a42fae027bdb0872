package segment

import (
	"github.com/ruvector/rvf/metric"
	"github.com/ruvector/rvf/quantization"
)

// VecSource exposes a VEC segment payload as a distance arena for the
// HNSW index. Quantized records are dequantized into per-call scratch
// space only for the duration of a single distance computation.
type VecSource struct {
	payload []byte
	header  VecHeader
	quant   quantization.Quantizer
	dist    metric.DistanceFunc
}

// NewVecSource wraps a VEC payload. The payload header fixes the metric
// and quantization for every computation.
func NewVecSource(payload []byte) (*VecSource, error) {
	h, err := DecodeVecHeader(payload)
	if err != nil {
		return nil, err
	}

	q, err := h.Quantizer()
	if err != nil {
		return nil, err
	}

	dist, err := metric.Func(h.Metric)
	if err != nil {
		return nil, err
	}

	return &VecSource{payload: payload, header: h, quant: q, dist: dist}, nil
}

// Header returns the segment's shared vector properties.
func (s *VecSource) Header() VecHeader {
	return s.header
}

// Replace swaps the underlying payload after an append. The header is
// immutable, so only the record region can have grown.
func (s *VecSource) Replace(payload []byte) {
	s.payload = payload
}

// Len returns the number of vectors in the segment.
func (s *VecSource) Len() int {
	return VecCount(s.payload, &s.header)
}

// ID returns the external id of the vector at the given ordinal.
func (s *VecSource) ID(ordinal uint32) (string, error) {
	id, _, err := VectorAt(s.payload, &s.header, int(ordinal))
	return id, err
}

// DistanceToQuery dequantizes the stored vector transiently and measures
// it against the query.
func (s *VecSource) DistanceToQuery(q []float32, ordinal uint32) (float32, error) {
	_, data, err := VectorAt(s.payload, &s.header, int(ordinal))
	if err != nil {
		return 0, err
	}

	scratch := make([]float32, s.header.Dim)
	s.quant.Decode(data, scratch)

	return s.dist(q, scratch)
}

// DistanceBetween measures two stored vectors against each other.
func (s *VecSource) DistanceBetween(a, b uint32) (float32, error) {
	_, da, err := VectorAt(s.payload, &s.header, int(a))
	if err != nil {
		return 0, err
	}
	_, db, err := VectorAt(s.payload, &s.header, int(b))
	if err != nil {
		return 0, err
	}

	va := make([]float32, s.header.Dim)
	vb := make([]float32, s.header.Dim)
	s.quant.Decode(da, va)
	s.quant.Decode(db, vb)

	return s.dist(va, vb)
}
