// Package quantization provides vector quantization for memory-efficient
// vector segment storage.
//
// Quantized vectors stay quantized on disk and in memory. They are
// dequantized to float32 only for the duration of a single distance
// computation, never silently upgraded to fp32 storage. Every mode
// documents its worst-case per-dimension reconstruction error via
// ErrorBound, and the bounds are ordered: FP32 < FP16 < Int8 < Int4 <
// Binary.
package quantization

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Mode identifies a quantization mode. The numeric values are part of the
// on-disk VEC segment header and must not be reordered.
type Mode uint8

const (
	FP32 Mode = iota
	FP16
	Int8
	Int4
	Binary
)

// String returns the mode name as stored in manifests and logs.
func (m Mode) String() string {
	switch m {
	case FP32:
		return "fp32"
	case FP16:
		return "fp16"
	case Int8:
		return "int8"
	case Int4:
		return "int4"
	case Binary:
		return "binary"
	default:
		return fmt.Sprintf("quantization(%d)", uint8(m))
	}
}

// Valid reports whether the mode is one of the known modes.
func (m Mode) Valid() bool {
	return m <= Binary
}

// BytesFor returns the encoded size in bytes of one vector of the given
// dimension. VEC segments derive their fixed record stride from it.
func (m Mode) BytesFor(dim int) int {
	switch m {
	case FP32:
		return dim * 4
	case FP16:
		return dim * 2
	case Int8:
		return dim
	case Int4:
		return (dim + 1) / 2
	case Binary:
		return (dim + 7) / 8
	default:
		return 0
	}
}

// ErrUnknownMode is returned when a Mode read from disk is not recognized.
type ErrUnknownMode struct {
	Mode Mode
}

func (e *ErrUnknownMode) Error() string {
	return fmt.Sprintf("unknown quantization mode: %d", uint8(e.Mode))
}

// Quantizer encodes float32 vectors into a compact representation and
// reconstructs them. Implementations are stateless after construction; the
// calibration range travels in the VEC segment header.
type Quantizer interface {
	// Mode returns the quantization mode this quantizer implements.
	Mode() Mode

	// Encode quantizes v into dst. dst must be Mode().BytesFor(len(v)) long.
	Encode(v []float32, dst []byte)

	// Decode reconstructs a vector from b into dst.
	Decode(b []byte, dst []float32)

	// ErrorBound returns the worst-case absolute reconstruction error per
	// dimension for inputs within the calibration range.
	ErrorBound() float32
}

// New creates a quantizer for the given mode. min and max describe the
// expected value range; they are ignored by FP32 and FP16.
func New(mode Mode, min, max float32) (Quantizer, error) {
	// A degenerate range would make the scalar modes divide by zero.
	if min >= max {
		min, max = -1, 1
	}

	switch mode {
	case FP32:
		return fp32Quantizer{}, nil
	case FP16:
		return fp16Quantizer{amax: maxAbs(min, max)}, nil
	case Int8:
		return &scalarQuantizer{min: min, max: max, levels: 255}, nil
	case Int4:
		return &nibbleQuantizer{min: min, max: max}, nil
	case Binary:
		return &binaryQuantizer{scale: maxAbs(min, max)}, nil
	default:
		return nil, &ErrUnknownMode{Mode: mode}
	}
}

func maxAbs(min, max float32) float32 {
	a, b := min, max
	if a < 0 {
		a = -a
	}
	if b < 0 {
		b = -b
	}
	if a > b {
		return a
	}
	return b
}

// fp32Quantizer is the identity quantizer: four bytes per dimension,
// zero reconstruction error.
type fp32Quantizer struct{}

func (fp32Quantizer) Mode() Mode { return FP32 }

func (fp32Quantizer) Encode(v []float32, dst []byte) {
	for i, val := range v {
		binary.LittleEndian.PutUint32(dst[i*4:], math.Float32bits(val))
	}
}

func (fp32Quantizer) Decode(b []byte, dst []float32) {
	for i := range dst {
		dst[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
}

func (fp32Quantizer) ErrorBound() float32 { return 0 }

// fp16Quantizer stores IEEE 754 binary16 values. Relative precision is
// 2^-11; the absolute bound scales with the calibration range magnitude.
type fp16Quantizer struct {
	amax float32
}

func (fp16Quantizer) Mode() Mode { return FP16 }

func (fp16Quantizer) Encode(v []float32, dst []byte) {
	for i, val := range v {
		binary.LittleEndian.PutUint16(dst[i*2:], float16bits(val))
	}
}

func (fp16Quantizer) Decode(b []byte, dst []float32) {
	for i := range dst {
		dst[i] = float16frombits(binary.LittleEndian.Uint16(b[i*2:]))
	}
}

func (q fp16Quantizer) ErrorBound() float32 {
	return q.amax / 1024
}

// float16bits converts a float32 to IEEE 754 binary16 with round-to-nearest.
func float16bits(f float32) uint16 {
	b := math.Float32bits(f)
	sign := uint16(b>>16) & 0x8000
	exp := int32(b>>23&0xff) - 127 + 15
	mant := b & 0x7fffff

	switch {
	case exp >= 0x1f:
		// Overflow and infinities clamp to infinity; NaN keeps a mantissa bit.
		if int32(b>>23&0xff) == 0xff && mant != 0 {
			return sign | 0x7e00
		}
		return sign | 0x7c00
	case exp <= 0:
		if exp < -10 {
			return sign
		}
		mant |= 0x800000
		shift := uint32(14 - exp)
		half := uint32(1) << (shift - 1)
		return sign | uint16((mant+half)>>shift)
	default:
		half := uint32(1) << 12
		rounded := mant + half
		if rounded&0x800000 != 0 {
			rounded = 0
			exp++
			if exp >= 0x1f {
				return sign | 0x7c00
			}
		}
		return sign | uint16(exp)<<10 | uint16(rounded>>13)
	}
}

// float16frombits converts IEEE 754 binary16 bits to float32.
func float16frombits(h uint16) float32 {
	sign := uint32(h&0x8000) << 16
	exp := uint32(h >> 10 & 0x1f)
	mant := uint32(h & 0x3ff)

	switch exp {
	case 0:
		if mant == 0 {
			return math.Float32frombits(sign)
		}
		// Subnormal: normalize.
		for mant&0x400 == 0 {
			mant <<= 1
			exp--
		}
		exp++
		mant &= 0x3ff
		return math.Float32frombits(sign | (exp+112)<<23 | mant<<13)
	case 0x1f:
		return math.Float32frombits(sign | 0x7f800000 | mant<<13)
	default:
		return math.Float32frombits(sign | (exp+112)<<23 | mant<<13)
	}
}
