package groupnorm

import "github.com/norma-ml/norma/internal/tensor"

// BFloat16 kernels widen each element to float32 on load and narrow on
// store; every accumulation and every coefficient stays in float32. The
// loops are scalar counterparts of the vectorized float helpers, since the
// SIMD layer has no 16-bit lanes.

func rowwiseMomentsBF16(x []uint16) (mean, m2 float32) {
	var sum, sumsq float32
	for _, b := range x {
		v := tensor.BFloat16ToFloat32(b)
		sum += v
		sumsq += v * v
	}
	inv := 1 / float32(len(x))
	return sum * inv, sumsq * inv
}

func columnwiseMomentsBF16(x []uint16, hxw, c, d int) (sum, sumsq float32) {
	for m := 0; m < hxw; m++ {
		row := x[m*c : m*c+d]
		for _, b := range row {
			v := tensor.BFloat16ToFloat32(b)
			sum += v
			sumsq += v * v
		}
	}
	return sum, sumsq
}

func accumulateMomentsBF16(x []uint16, sum, sumsq []float32) {
	for j, b := range x {
		v := tensor.BFloat16ToFloat32(b)
		sum[j] += v
		sumsq[j] += v * v
	}
}

func applyScaleBiasBF16(y, x []uint16, scale, bias []float32) {
	for j := range x {
		v := tensor.BFloat16ToFloat32(x[j])
		y[j] = tensor.Float32ToBFloat16(v*scale[j] + bias[j])
	}
}

func applyScaleBiasScalarBF16(y, x []uint16, scale, bias float32) {
	for j := range x {
		v := tensor.BFloat16ToFloat32(x[j])
		y[j] = tensor.Float32ToBFloat16(v*scale + bias)
	}
}

func dotAndSumBF16(dy, x []uint16) (dot, sum float32) {
	for i := range dy {
		g := tensor.BFloat16ToFloat32(dy[i])
		dot += g * tensor.BFloat16ToFloat32(x[i])
		sum += g
	}
	return dot, sum
}

func applyInputGradBF16(dx, dy, x []uint16, c1, c2, c3 float32) {
	for k := range dx {
		g := tensor.BFloat16ToFloat32(dy[k])
		v := tensor.BFloat16ToFloat32(x[k])
		dx[k] = tensor.Float32ToBFloat16(c1*g + c2*v + c3)
	}
}

func dsDbRowAccumulateBF16(dy, x []uint16, ds, db []float32) {
	for j := range dy {
		g := tensor.BFloat16ToFloat32(dy[j])
		ds[j] += g * tensor.BFloat16ToFloat32(x[j])
		db[j] += g
	}
}

func applyInputGradColMovBF16(dx, dy, x []uint16, gamma []float32, rv, c2, c3 float32) {
	for j := range dx {
		c1 := rv
		if gamma != nil {
			c1 *= gamma[j]
		}
		g := tensor.BFloat16ToFloat32(dy[j])
		v := tensor.BFloat16ToFloat32(x[j])
		dx[j] = tensor.Float32ToBFloat16(c1*g + c2*v + c3)
	}
}

func applyInputGradRowMovBF16(dx, dy, x []uint16, p1, p2, p3 []float32) {
	for j := range dx {
		g := tensor.BFloat16ToFloat32(dy[j])
		v := tensor.BFloat16ToFloat32(x[j])
		dx[j] = tensor.Float32ToBFloat16(p1[j]*g + p2[j]*v + p3[j])
	}
}
