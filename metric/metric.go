// Package metric provides the distance functions used by vector segments
// and the HNSW index. A segment fixes exactly one metric at build time.
package metric

import (
	"errors"
	"fmt"
	"math"
)

// Kind identifies a distance metric. The numeric values are part of the
// on-disk VEC segment header and must not be reordered.
type Kind uint8

const (
	SquaredL2Kind Kind = iota
	CosineKind
	DotProductKind
)

// String returns the metric name as stored in manifests and logs.
func (k Kind) String() string {
	switch k {
	case SquaredL2Kind:
		return "l2"
	case CosineKind:
		return "cosine"
	case DotProductKind:
		return "dot"
	default:
		return fmt.Sprintf("metric(%d)", uint8(k))
	}
}

// ErrUnknownKind is returned when a Kind read from disk is not recognized.
var ErrUnknownKind = errors.New("unknown metric kind")

// DistanceFunc calculates the distance between two vectors.
// Smaller values always mean closer, regardless of the underlying metric.
type DistanceFunc func(v1, v2 []float32) (float32, error)

// Func returns the distance function for the given kind.
func Func(k Kind) (DistanceFunc, error) {
	switch k {
	case SquaredL2Kind:
		return SquaredL2, nil
	case CosineKind:
		return CosineDistance, nil
	case DotProductKind:
		return NegatedDot, nil
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnknownKind, uint8(k))
	}
}

// Dot calculates the dot product of two float32 slices.
func Dot(v1, v2 []float32) float32 {
	return kernelDot(v1, v2)
}

// Magnitude calculates the magnitude (length) of a float32 slice.
func Magnitude(v []float32) float32 {
	return float32(math.Sqrt(float64(Dot(v, v))))
}

// SquaredL2 calculates the squared L2 distance between two float32 slices.
func SquaredL2(v1, v2 []float32) (float32, error) {
	if len(v1) != len(v2) {
		return 0, errors.New("vector sizes do not match")
	}

	return kernelSquaredL2(v1, v2), nil
}

// CosineDistance calculates 1 - cosine similarity, so that identical
// directions yield 0 and opposite directions yield 2.
func CosineDistance(v1, v2 []float32) (float32, error) {
	if len(v1) != len(v2) {
		return 0, errors.New("vector sizes do not match")
	}

	m1, m2 := Magnitude(v1), Magnitude(v2)

	// Treat the zero vector as maximally distant rather than dividing by zero.
	if m1 == 0 || m2 == 0 {
		return 1, nil
	}

	return 1 - Dot(v1, v2)/(m1*m2), nil
}

// NegatedDot calculates the negated dot product so that larger inner
// products sort as smaller distances.
func NegatedDot(v1, v2 []float32) (float32, error) {
	if len(v1) != len(v2) {
		return 0, errors.New("vector sizes do not match")
	}

	return -Dot(v1, v2), nil
}
