package segment

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/ruvector/rvf/metric"
	"github.com/ruvector/rvf/quantization"
)

// VEC segments store vectors at a fixed record stride so that random
// access by ordinal is O(1). Payload layout (little-endian):
//
//	header (16 bytes): dim u32, metric u8, quantization u8, reserved u16,
//	                   min f32, max f32 (quantizer calibration range)
//	records: id [16]byte NUL-padded + dim × bytesPerQuantizedValue
//
// The record count is derived from the payload length, so appends only
// ever extend the segment.

const (
	// VecHeaderSize is the fixed size of the VEC payload header.
	VecHeaderSize = 16

	// VecIDSize is the fixed width of a vector id within a record.
	VecIDSize = 16
)

// VecHeader describes the shared properties of every vector in a segment.
// Dimension, metric and quantization are fixed at segment creation.
type VecHeader struct {
	Dim          uint32
	Metric       metric.Kind
	Quantization quantization.Mode
	Min          float32
	Max          float32
}

// Stride returns the fixed encoded size of one vector record.
func (h *VecHeader) Stride() int {
	return VecIDSize + h.Quantization.BytesFor(int(h.Dim))
}

// Quantizer builds the quantizer matching the header's calibration range.
func (h *VecHeader) Quantizer() (quantization.Quantizer, error) {
	return quantization.New(h.Quantization, h.Min, h.Max)
}

// EncodeVecHeader encodes the header into a fresh payload buffer.
func EncodeVecHeader(h *VecHeader) []byte {
	buf := make([]byte, VecHeaderSize)
	binary.LittleEndian.PutUint32(buf[0:], h.Dim)
	buf[4] = uint8(h.Metric)
	buf[5] = uint8(h.Quantization)
	binary.LittleEndian.PutUint32(buf[8:], math.Float32bits(h.Min))
	binary.LittleEndian.PutUint32(buf[12:], math.Float32bits(h.Max))
	return buf
}

// DecodeVecHeader parses and validates a VEC payload header.
func DecodeVecHeader(payload []byte) (VecHeader, error) {
	if len(payload) < VecHeaderSize {
		return VecHeader{}, &CorruptError{Reason: "vec header truncated"}
	}

	h := VecHeader{
		Dim:          binary.LittleEndian.Uint32(payload[0:]),
		Metric:       metric.Kind(payload[4]),
		Quantization: quantization.Mode(payload[5]),
		Min:          math.Float32frombits(binary.LittleEndian.Uint32(payload[8:])),
		Max:          math.Float32frombits(binary.LittleEndian.Uint32(payload[12:])),
	}

	if h.Dim == 0 {
		return VecHeader{}, &CorruptError{Reason: "vec dimension is zero"}
	}
	if !h.Quantization.Valid() {
		return VecHeader{}, &CorruptError{Reason: fmt.Sprintf("vec quantization mode %d unknown", uint8(h.Quantization))}
	}
	if _, err := metric.Func(h.Metric); err != nil {
		return VecHeader{}, &CorruptError{Reason: "vec metric unknown", cause: err}
	}
	if (len(payload)-VecHeaderSize)%h.Stride() != 0 {
		return VecHeader{}, &CorruptError{Reason: "vec payload length not a record multiple"}
	}

	return h, nil
}

// VecCount returns the number of records in a VEC payload.
func VecCount(payload []byte, h *VecHeader) int {
	if len(payload) <= VecHeaderSize {
		return 0
	}
	return (len(payload) - VecHeaderSize) / h.Stride()
}

// AppendVector quantizes vec with the header's quantizer and appends a
// record, returning the extended payload.
func AppendVector(payload []byte, h *VecHeader, id string, vec []float32) ([]byte, error) {
	if len(id) == 0 || len(id) > VecIDSize {
		return nil, &CorruptError{Reason: fmt.Sprintf("vector id must be 1-%d bytes", VecIDSize)}
	}
	if len(vec) != int(h.Dim) {
		return nil, &CorruptError{Reason: fmt.Sprintf("vector dimension %d, segment requires %d", len(vec), h.Dim)}
	}

	q, err := h.Quantizer()
	if err != nil {
		return nil, err
	}

	rec := make([]byte, h.Stride())
	copy(rec[:VecIDSize], id)
	q.Encode(vec, rec[VecIDSize:])

	return append(payload, rec...), nil
}

// VectorAt returns the id and quantized data of record i without scanning.
// The returned data aliases the payload.
func VectorAt(payload []byte, h *VecHeader, i int) (string, []byte, error) {
	stride := h.Stride()
	off := VecHeaderSize + i*stride

	if i < 0 || off+stride > len(payload) {
		return "", nil, &CorruptError{Reason: fmt.Sprintf("vector ordinal %d out of range", i)}
	}

	rec := payload[off : off+stride]
	id := rec[:VecIDSize]
	n := 0
	for n < VecIDSize && id[n] != 0 {
		n++
	}
	if n == 0 {
		return "", nil, &CorruptError{Reason: fmt.Sprintf("vector ordinal %d has empty id", i)}
	}

	return string(id[:n]), rec[VecIDSize:], nil
}

// DecodeAt dequantizes record i into a fresh float32 slice.
func DecodeAt(payload []byte, h *VecHeader, i int) (string, []float32, error) {
	id, data, err := VectorAt(payload, h, i)
	if err != nil {
		return "", nil, err
	}

	q, err := h.Quantizer()
	if err != nil {
		return "", nil, err
	}

	vec := make([]float32, h.Dim)
	q.Decode(data, vec)

	return id, vec, nil
}

// DecodeVec parses a full VEC payload into quantized records.
func DecodeVec(payload []byte) (VecHeader, []VectorRecord, error) {
	h, err := DecodeVecHeader(payload)
	if err != nil {
		return VecHeader{}, nil, err
	}

	count := VecCount(payload, &h)
	records := make([]VectorRecord, 0, count)
	for i := 0; i < count; i++ {
		id, data, err := VectorAt(payload, &h, i)
		if err != nil {
			return VecHeader{}, nil, err
		}
		records = append(records, VectorRecord{ID: id, Data: append([]byte(nil), data...)})
	}

	return h, records, nil
}
