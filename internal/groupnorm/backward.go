package groupnorm

import (
	"github.com/ajroetker/go-highway/hwy"

	"github.com/norma-ml/norma/internal/parallel"
)

// dotAndSum reduces a (sample, channel) row pair to ds = Σ dy*x and
// db = Σ dy in one pass.
func dotAndSum[T hwy.Floats](dy, x []T) (dot, sum T) {
	lanes := hwy.MaxLanes[T]()
	acc0 := hwy.Zero[T]()
	acc1 := hwy.Zero[T]()

	i := 0
	for ; i+lanes <= len(dy); i += lanes {
		dyv := hwy.Load(dy[i:])
		xv := hwy.Load(x[i:])
		acc0 = hwy.MulAdd(dyv, xv, acc0)
		acc1 = hwy.Add(acc1, dyv)
	}
	dot = hwy.ReduceSum(acc0)
	sum = hwy.ReduceSum(acc1)
	for ; i < len(dy); i++ {
		dot += dy[i] * x[i]
		sum += dy[i]
	}
	return dot, sum
}

// computeInternalGradients fills the per-(sample, channel) auxiliary sums
// ds[i] = Σ_hxw dy*x and db[i] = Σ_hxw dy for a contiguous layout.
func computeInternalGradients[T hwy.Floats](dy, x []T, ds, db []T, rows, hxw int, cfg parallel.Config) {
	parallel.For(rows, func(i int) {
		ds[i], db[i] = dotAndSum(dy[i*hxw:(i+1)*hxw], x[i*hxw:(i+1)*hxw])
	}, cfg)
}

// weightedPairSum reduces one group's ds/db rows to the gamma-weighted
// scalars the input-gradient closed form needs. A nil gamma weights by 1.
func weightedPairSum[T hwy.Floats](ds, db, gamma []T) (dsg, dbg T) {
	lanes := hwy.MaxLanes[T]()
	acc0 := hwy.Zero[T]()
	acc1 := hwy.Zero[T]()

	j := 0
	for ; j+lanes <= len(ds); j += lanes {
		gv := hwy.Set(T(1))
		if gamma != nil {
			gv = hwy.Load(gamma[j:])
		}
		acc0 = hwy.MulAdd(hwy.Load(ds[j:]), gv, acc0)
		acc1 = hwy.MulAdd(hwy.Load(db[j:]), gv, acc1)
	}
	dsg = hwy.ReduceSum(acc0)
	dbg = hwy.ReduceSum(acc1)
	for ; j < len(ds); j++ {
		gv := T(1)
		if gamma != nil {
			gv = gamma[j]
		}
		dsg += ds[j] * gv
		dbg += db[j] * gv
	}
	return dsg, dbg
}

// applyInputGrad writes dx[k] = c1*dy[k] + c2*x[k] + c3 over one
// contiguous run.
func applyInputGrad[T hwy.Floats](dx, dy, x []T, c1, c2, c3 T) {
	lanes := hwy.MaxLanes[T]()
	c1v := hwy.Set(c1)
	c2v := hwy.Set(c2)
	c3v := hwy.Set(c3)

	k := 0
	for ; k+lanes <= len(dx); k += lanes {
		dyv := hwy.Load(dy[k:])
		xv := hwy.Load(x[k:])
		hwy.Store(hwy.MulAdd(c1v, dyv, hwy.MulAdd(c2v, xv, c3v)), dx[k:])
	}
	for ; k < len(dx); k++ {
		dx[k] = c1*dy[k] + c2*x[k] + c3
	}
}

// inputBackward distributes the group-level gradient back to every element:
// the dependence of mean and variance on each input folds into the two
// per-group scalars c2 and c3, leaving a closed-form per-element update.
func inputBackward[T hwy.Floats](dy, x, mean, rstd, gamma, ds, db, dx []T, n, c, hxw, groups int, cfg parallel.Config) {
	d := c / groups
	s := T(1) / T(d*hxw)

	parallel.For(n*groups, func(i int) {
		g := i % groups
		var gs []T
		if gamma != nil {
			gs = gamma[g*d : (g+1)*d]
		}
		dsg, dbg := weightedPairSum(ds[i*d:(i+1)*d], db[i*d:(i+1)*d], gs)

		mu := mean[i]
		rv := rstd[i]
		c2 := (dbg*mu - dsg) * rv * rv * rv * s
		c3 := -c2*mu - dbg*rv*s

		for j := 0; j < d; j++ {
			c1 := rv
			if gamma != nil {
				c1 *= gamma[g*d+j]
			}
			off := (i*d + j) * hxw
			applyInputGrad(dx[off:off+hxw], dy[off:off+hxw], x[off:off+hxw], c1, c2, c3)
		}
	}, cfg)
}

// gammaBackward reduces dgamma[ch] = Σ_n (ds[n,ch] - db[n,ch]*mean[n,g]) * rstd[n,g].
// Samples are the outer reduction axis; the channel axis is vectorized.
func gammaBackward[T hwy.Floats](mean, rstd, ds, db, dgamma []T, n, c, groups int) {
	d := c / groups
	lanes := hwy.MaxLanes[T]()

	for g := 0; g < groups; g++ {
		j := 0
		for ; j+lanes <= d; j += lanes {
			acc := hwy.Zero[T]()
			for nIdx := 0; nIdx < n; nIdx++ {
				dsv := hwy.Load(ds[nIdx*c+g*d+j:])
				dbv := hwy.Load(db[nIdx*c+g*d+j:])
				mv := hwy.Set(mean[nIdx*groups+g])
				rv := hwy.Set(rstd[nIdx*groups+g])
				acc = hwy.Add(acc, hwy.Mul(hwy.Sub(dsv, hwy.Mul(dbv, mv)), rv))
			}
			hwy.Store(acc, dgamma[g*d+j:])
		}
		for ; j < d; j++ {
			var acc T
			for nIdx := 0; nIdx < n; nIdx++ {
				acc += (ds[nIdx*c+g*d+j] - db[nIdx*c+g*d+j]*mean[nIdx*groups+g]) * rstd[nIdx*groups+g]
			}
			dgamma[g*d+j] = acc
		}
	}
}

// betaBackward reduces dbeta[ch] = Σ_n db[n,ch].
func betaBackward[T hwy.Floats](db, dbeta []T, n, c int) {
	lanes := hwy.MaxLanes[T]()

	j := 0
	for ; j+lanes <= c; j += lanes {
		acc := hwy.Zero[T]()
		for nIdx := 0; nIdx < n; nIdx++ {
			acc = hwy.Add(acc, hwy.Load(db[nIdx*c+j:]))
		}
		hwy.Store(acc, dbeta[j:])
	}
	for ; j < c; j++ {
		var acc T
		for nIdx := 0; nIdx < n; nIdx++ {
			acc += db[nIdx*c+j]
		}
		dbeta[j] = acc
	}
}

// backwardContiguous runs the full NCHW backward: auxiliary ds/db sums
// first, then each requested output. dgamma and dbeta depend only on
// ds/db and the saved statistics, so they are computed whether or not dx
// is wanted.
func backwardContiguous[T hwy.Floats](dy, x, mean, rstd, gamma []T, n, c, hxw, groups int, dx, dgamma, dbeta []T, cfg parallel.Config) {
	ds := make([]T, n*c)
	db := make([]T, n*c)
	computeInternalGradients(dy, x, ds, db, n*c, hxw, cfg)

	if dx != nil {
		inputBackward(dy, x, mean, rstd, gamma, ds, db, dx, n, c, hxw, groups, cfg)
	}
	if dgamma != nil {
		gammaBackward(mean, rstd, ds, db, dgamma, n, c, groups)
	}
	if dbeta != nil {
		betaBackward(db, dbeta, n, c)
	}
}
