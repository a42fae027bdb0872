package metric

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
)

func dotNaive(v1, v2 []float32) float32 {
	var sum float32
	for i := range v1 {
		sum += v1[i] * v2[i]
	}
	return sum
}

func squaredL2Naive(v1, v2 []float32) float32 {
	var sum float32
	for i := range v1 {
		d := v1[i] - v2[i]
		sum += d * d
	}
	return sum
}

// The unrolled kernels must agree with the naive loops for every tail
// length, not just multiples of the unroll width.
func TestKernelsMatchNaive(t *testing.T) {
	rng := rand.New(rand.NewSource(7))

	for _, n := range []int{0, 1, 2, 3, 4, 5, 7, 8, 13, 64, 127} {
		v1 := make([]float32, n)
		v2 := make([]float32, n)
		for i := range v1 {
			v1[i] = rng.Float32()*2 - 1
			v2[i] = rng.Float32()*2 - 1
		}

		assert.InDelta(t, dotNaive(v1, v2), dotGeneric(v1, v2), 1e-4, "dot n=%d", n)
		assert.InDelta(t, squaredL2Naive(v1, v2), squaredL2Generic(v1, v2), 1e-4, "l2 n=%d", n)
	}
}
