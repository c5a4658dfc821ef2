package groupnorm

import "github.com/ajroetker/go-highway/hwy"

// rowwiseMoments reduces one contiguous (sample, group) slice to its mean
// and raw second moment (sum of squares over count). A single linear pass
// with vector partial sums and one horizontal reduction at the end.
func rowwiseMoments[T hwy.Floats](x []T) (mean, m2 T) {
	lanes := hwy.MaxLanes[T]()
	acc0 := hwy.Zero[T]()
	acc1 := hwy.Zero[T]()

	i := 0
	for ; i+lanes <= len(x); i += lanes {
		v := hwy.Load(x[i:])
		acc0 = hwy.Add(acc0, v)
		acc1 = hwy.MulAdd(v, v, acc1)
	}
	sum := hwy.ReduceSum(acc0)
	sumsq := hwy.ReduceSum(acc1)
	for ; i < len(x); i++ {
		sum += x[i]
		sumsq += x[i] * x[i]
	}

	inv := T(1) / T(len(x))
	return sum * inv, sumsq * inv
}

// columnwiseMoments reduces one (sample, group) of a channels-last buffer:
// x points at the group's first channel, the group's d channels repeat every
// c elements across hxw spatial rows. Everything accumulates into one pair
// of vector registers so the horizontal reduction happens once per group,
// not once per row.
func columnwiseMoments[T hwy.Floats](x []T, hxw, c, d int) (sum, sumsq T) {
	lanes := hwy.MaxLanes[T]()
	acc0 := hwy.Zero[T]()
	acc1 := hwy.Zero[T]()
	var tail, tailsq T

	for m := 0; m < hxw; m++ {
		row := x[m*c : m*c+d]
		j := 0
		for ; j+lanes <= d; j += lanes {
			v := hwy.Load(row[j:])
			acc0 = hwy.Add(acc0, v)
			acc1 = hwy.MulAdd(v, v, acc1)
		}
		for ; j < d; j++ {
			tail += row[j]
			tailsq += row[j] * row[j]
		}
	}
	return hwy.ReduceSum(acc0) + tail, hwy.ReduceSum(acc1) + tailsq
}

// accumulateMoments adds one channels-last spatial row into per-channel
// running sums: sum[j] += x[j], sumsq[j] += x[j]^2. Used by the
// spatial-parallel strategy, where each worker owns its own sum/sumsq rows.
func accumulateMoments[T hwy.Floats](x, sum, sumsq []T) {
	lanes := hwy.MaxLanes[T]()
	j := 0
	for ; j+lanes <= len(x); j += lanes {
		v := hwy.Load(x[j:])
		s := hwy.Load(sum[j:])
		q := hwy.Load(sumsq[j:])
		hwy.Store(hwy.Add(s, v), sum[j:])
		hwy.Store(hwy.MulAdd(v, v, q), sumsq[j:])
	}
	for ; j < len(x); j++ {
		sum[j] += x[j]
		sumsq[j] += x[j] * x[j]
	}
}
