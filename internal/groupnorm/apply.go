package groupnorm

import "github.com/ajroetker/go-highway/hwy"

// applyScaleBias writes y[j] = x[j]*scale[j] + bias[j] for per-channel
// scale/bias vectors. The normalize-plus-affine transform collapses into
// this single multiply-add once scale = rstd*gamma and
// bias = -scale*mean + beta are precomputed.
func applyScaleBias[T hwy.Floats](y, x, scale, bias []T) {
	lanes := hwy.MaxLanes[T]()
	j := 0
	for ; j+lanes <= len(x); j += lanes {
		v := hwy.Load(x[j:])
		s := hwy.Load(scale[j:])
		b := hwy.Load(bias[j:])
		hwy.Store(hwy.MulAdd(v, s, b), y[j:])
	}
	for ; j < len(x); j++ {
		y[j] = x[j]*scale[j] + bias[j]
	}
}

// applyScaleBiasScalar is the broadcast form: one scale/bias pair for a
// whole contiguous run of elements.
func applyScaleBiasScalar[T hwy.Floats](y, x []T, scale, bias T) {
	lanes := hwy.MaxLanes[T]()
	sv := hwy.Set(scale)
	bv := hwy.Set(bias)
	j := 0
	for ; j+lanes <= len(x); j += lanes {
		v := hwy.Load(x[j:])
		hwy.Store(hwy.MulAdd(v, sv, bv), y[j:])
	}
	for ; j < len(x); j++ {
		y[j] = x[j]*scale + bias
	}
}
