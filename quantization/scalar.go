package quantization

// scalarQuantizer implements 8-bit scalar quantization. Each dimension is
// linearly mapped from [min, max] to [0, 255] for 4x memory savings over
// float32.
type scalarQuantizer struct {
	min    float32
	max    float32
	levels int
}

func (sq *scalarQuantizer) Mode() Mode { return Int8 }

func (sq *scalarQuantizer) Encode(v []float32, dst []byte) {
	scale := float32(sq.levels) / (sq.max - sq.min)

	for i, val := range v {
		if val < sq.min {
			val = sq.min
		} else if val > sq.max {
			val = sq.max
		}

		dst[i] = uint8((val-sq.min)*scale + 0.5)
	}
}

func (sq *scalarQuantizer) Decode(b []byte, dst []float32) {
	scale := (sq.max - sq.min) / float32(sq.levels)

	for i, code := range b {
		dst[i] = float32(code)*scale + sq.min
	}
}

// ErrorBound is half a quantization step.
func (sq *scalarQuantizer) ErrorBound() float32 {
	return (sq.max - sq.min) / float32(2*sq.levels)
}

// nibbleQuantizer implements 4-bit scalar quantization, packing two
// dimensions per byte. Even dimensions occupy the low nibble.
type nibbleQuantizer struct {
	min float32
	max float32
}

func (nq *nibbleQuantizer) Mode() Mode { return Int4 }

func (nq *nibbleQuantizer) Encode(v []float32, dst []byte) {
	scale := 15.0 / (nq.max - nq.min)

	for i := range dst {
		dst[i] = 0
	}

	for i, val := range v {
		if val < nq.min {
			val = nq.min
		} else if val > nq.max {
			val = nq.max
		}

		code := uint8((val-nq.min)*scale + 0.5)
		if i%2 == 0 {
			dst[i/2] |= code
		} else {
			dst[i/2] |= code << 4
		}
	}
}

func (nq *nibbleQuantizer) Decode(b []byte, dst []float32) {
	scale := (nq.max - nq.min) / 15.0

	for i := range dst {
		code := b[i/2]
		if i%2 == 0 {
			code &= 0x0f
		} else {
			code >>= 4
		}

		dst[i] = float32(code)*scale + nq.min
	}
}

// ErrorBound is half a quantization step across 15 levels.
func (nq *nibbleQuantizer) ErrorBound() float32 {
	return (nq.max - nq.min) / 30
}

// binaryQuantizer keeps only the sign of each dimension, one bit per
// dimension. Reconstruction yields ±scale; it preserves direction, not
// magnitude, and is only meaningful for cosine-style workloads.
type binaryQuantizer struct {
	scale float32
}

func (bq *binaryQuantizer) Mode() Mode { return Binary }

func (bq *binaryQuantizer) Encode(v []float32, dst []byte) {
	for i := range dst {
		dst[i] = 0
	}

	for i, val := range v {
		if val >= 0 {
			dst[i/8] |= 1 << (i % 8)
		}
	}
}

func (bq *binaryQuantizer) Decode(b []byte, dst []float32) {
	for i := range dst {
		if b[i/8]&(1<<(i%8)) != 0 {
			dst[i] = bq.scale
		} else {
			dst[i] = -bq.scale
		}
	}
}

// ErrorBound is the full calibration magnitude; binary reconstruction can
// be off by up to the entire value range.
func (bq *binaryQuantizer) ErrorBound() float32 {
	return 2 * bq.scale
}
