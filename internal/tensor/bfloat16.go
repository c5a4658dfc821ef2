package tensor

import "math"

// bfloat16 is stored as the high 16 bits of an IEEE 754 float32, so the
// conversions below are bit-level: widening is a shift, narrowing rounds
// the trailing mantissa half to nearest even.

// BFloat16ToFloat32 widens a bfloat16 bit pattern to float32.
func BFloat16ToFloat32(b uint16) float32 {
	return math.Float32frombits(uint32(b) << 16)
}

// Float32ToBFloat16 narrows a float32 to a bfloat16 bit pattern,
// rounding to nearest even. NaN payloads are quieted so the result
// stays a NaN after truncation.
func Float32ToBFloat16(f float32) uint16 {
	bits := math.Float32bits(f)
	if f != f {
		return uint16(bits>>16) | 0x0040
	}
	round := (bits >> 16) & 1
	bits += 0x7fff + round
	return uint16(bits >> 16)
}

// WidenBFloat16 converts a bfloat16 buffer into a fresh float32 slice.
func WidenBFloat16(src []uint16) []float32 {
	dst := make([]float32, len(src))
	for i, b := range src {
		dst[i] = BFloat16ToFloat32(b)
	}
	return dst
}

// NarrowToBFloat16 converts float32 values into dst's bfloat16 bit patterns.
// The slices must have equal length.
func NarrowToBFloat16(dst []uint16, src []float32) {
	for i, f := range src {
		dst[i] = Float32ToBFloat16(f)
	}
}
