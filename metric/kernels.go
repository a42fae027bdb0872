package metric

// Kernel function pointers for the hot inner loops. The unrolled generic
// implementations are the default; platform-specific init functions can
// override them with native kernels when the CPU supports it.
var (
	kernelDot       = dotGeneric
	kernelSquaredL2 = squaredL2Generic
)

func dotGeneric(v1, v2 []float32) float32 {
	var s0, s1, s2, s3 float32
	i := 0
	for ; i+4 <= len(v1); i += 4 {
		s0 += v1[i] * v2[i]
		s1 += v1[i+1] * v2[i+1]
		s2 += v1[i+2] * v2[i+2]
		s3 += v1[i+3] * v2[i+3]
	}
	sum := s0 + s1 + s2 + s3
	for ; i < len(v1); i++ {
		sum += v1[i] * v2[i]
	}
	return sum
}

func squaredL2Generic(v1, v2 []float32) float32 {
	var s0, s1, s2, s3 float32
	i := 0
	for ; i+4 <= len(v1); i += 4 {
		d0 := v1[i] - v2[i]
		d1 := v1[i+1] - v2[i+1]
		d2 := v1[i+2] - v2[i+2]
		d3 := v1[i+3] - v2[i+3]
		s0 += d0 * d0
		s1 += d1 * d1
		s2 += d2 * d2
		s3 += d3 * d3
	}
	sum := s0 + s1 + s2 + s3
	for ; i < len(v1); i++ {
		d := v1[i] - v2[i]
		sum += d * d
	}
	return sum
}
