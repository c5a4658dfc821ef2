package groupnorm

import (
	"github.com/ajroetker/go-highway/hwy"

	"github.com/norma-ml/norma/internal/parallel"
)

// dsDbRowAccumulate folds one spatial row into running per-channel sums:
// ds[j] += dy[j]*x[j] and db[j] += dy[j].
func dsDbRowAccumulate[T hwy.Floats](dy, x, ds, db []T) {
	lanes := hwy.MaxLanes[T]()

	j := 0
	for ; j+lanes <= len(dy); j += lanes {
		dyv := hwy.Load(dy[j:])
		hwy.Store(hwy.MulAdd(dyv, hwy.Load(x[j:]), hwy.Load(ds[j:])), ds[j:])
		hwy.Store(hwy.Add(hwy.Load(db[j:]), dyv), db[j:])
	}
	for ; j < len(dy); j++ {
		ds[j] += dy[j] * x[j]
		db[j] += dy[j]
	}
}

// applyInputGradColMov writes one spatial row of dx for a single group,
// with the per-channel coefficient rstd*gamma[ch] loaded on the fly. A nil
// gamma degenerates to the broadcast rstd.
func applyInputGradColMov[T hwy.Floats](dx, dy, x, gamma []T, rv, c2, c3 T) {
	lanes := hwy.MaxLanes[T]()
	rvv := hwy.Set(rv)
	c2v := hwy.Set(c2)
	c3v := hwy.Set(c3)

	j := 0
	for ; j+lanes <= len(dx); j += lanes {
		c1v := rvv
		if gamma != nil {
			c1v = hwy.Mul(rvv, hwy.Load(gamma[j:]))
		}
		xv := hwy.Load(x[j:])
		hwy.Store(hwy.MulAdd(c1v, hwy.Load(dy[j:]), hwy.MulAdd(c2v, xv, c3v)), dx[j:])
	}
	for ; j < len(dx); j++ {
		c1 := rv
		if gamma != nil {
			c1 *= gamma[j]
		}
		dx[j] = c1*dy[j] + c2*x[j] + c3
	}
}

// applyInputGradRowMov writes one full-channel spatial row of dx from
// precomputed coefficient tables: dx[ch] = p1[ch]*dy[ch] + p2[ch]*x[ch] + p3[ch].
func applyInputGradRowMov[T hwy.Floats](dx, dy, x, p1, p2, p3 []T) {
	lanes := hwy.MaxLanes[T]()

	j := 0
	for ; j+lanes <= len(dx); j += lanes {
		acc := hwy.MulAdd(hwy.Load(p2[j:]), hwy.Load(x[j:]), hwy.Load(p3[j:]))
		hwy.Store(hwy.MulAdd(hwy.Load(p1[j:]), hwy.Load(dy[j:]), acc), dx[j:])
	}
	for ; j < len(dx); j++ {
		dx[j] = p1[j]*dy[j] + p2[j]*x[j] + p3[j]
	}
}

// backwardChannelsLast runs the full NHWC backward. Like the forward it
// has two strategies keyed on the spatial extent: small extents are
// parallel over (sample, group) and finish dx inside the same task; large
// extents accumulate ds/db into per-worker scratch and then replay the
// rows with per-(sample, channel) coefficient tables.
func backwardChannelsLast[T hwy.Floats](dy, x, mean, rstd, gamma []T, n, c, hxw, groups int, dx, dgamma, dbeta []T, cfg parallel.Config) {
	d := c / groups
	s := T(1) / T(d*hxw)
	ds := make([]T, n*c)
	db := make([]T, n*c)

	if hxw < backwardSpatialThreshold {
		parallel.For(n*groups, func(i int) {
			nIdx, g := i/groups, i%groups
			base := nIdx*hxw*c + g*d

			// ds/db for group g land at i*d == nIdx*c + g*d, so the
			// buffers read back as plain (sample, channel) tables for the
			// parameter gradients below.
			dsRow := ds[i*d : (i+1)*d]
			dbRow := db[i*d : (i+1)*d]
			for m := 0; m < hxw; m++ {
				off := base + m*c
				dsDbRowAccumulate(dy[off:off+d], x[off:off+d], dsRow, dbRow)
			}

			if dx == nil {
				return
			}
			var gs []T
			if gamma != nil {
				gs = gamma[g*d : (g+1)*d]
			}
			dsg, dbg := weightedPairSum(dsRow, dbRow, gs)

			mu := mean[i]
			rv := rstd[i]
			c2 := (dbg*mu - dsg) * rv * rv * rv * s
			c3 := -c2*mu - dbg*rv*s
			for m := 0; m < hxw; m++ {
				off := base + m*c
				applyInputGradColMov(dx[off:off+d], dy[off:off+d], x[off:off+d], gs, rv, c2, c3)
			}
		}, cfg)
	} else {
		workers := parallel.Workers(n*hxw, cfg)
		buffer := make([]T, workers*n*2*c)
		parallel.ForWorkers(n*hxw, func(w, start, end int) {
			block := buffer[w*n*2*c : (w+1)*n*2*c]
			for i := start; i < end; i++ {
				nIdx := i / hxw
				dsRow := block[nIdx*2*c : nIdx*2*c+c]
				dbRow := block[nIdx*2*c+c : (nIdx+1)*2*c]
				dsDbRowAccumulate(dy[i*c:(i+1)*c], x[i*c:(i+1)*c], dsRow, dbRow)
			}
		}, cfg)

		for nIdx := 0; nIdx < n; nIdx++ {
			for j := 0; j < c; j++ {
				var sumDs, sumDb T
				for w := 0; w < workers; w++ {
					block := buffer[w*n*2*c+nIdx*2*c:]
					sumDs += block[j]
					sumDb += block[j+c]
				}
				ds[nIdx*c+j] = sumDs
				db[nIdx*c+j] = sumDb
			}
		}

		if dx != nil {
			// Worker-0 block doubles as the p1/p2-interleaved coefficient
			// table once the fold is done; p3 gets its own (n, c) strip.
			table := buffer[:n*2*c]
			p3 := make([]T, n*c)
			for nIdx := 0; nIdx < n; nIdx++ {
				p1 := table[nIdx*2*c : nIdx*2*c+c]
				p2 := table[nIdx*2*c+c : (nIdx+1)*2*c]
				for g := 0; g < groups; g++ {
					var gs []T
					if gamma != nil {
						gs = gamma[g*d : (g+1)*d]
					}
					i := nIdx*groups + g
					dsg, dbg := weightedPairSum(ds[i*d:(i+1)*d], db[i*d:(i+1)*d], gs)

					mu := mean[i]
					rv := rstd[i]
					c2 := (dbg*mu - dsg) * rv * rv * rv * s
					c3 := -c2*mu - dbg*rv*s
					for j := 0; j < d; j++ {
						ch := g*d + j
						c1 := rv
						if gamma != nil {
							c1 *= gamma[ch]
						}
						p1[ch] = c1
						p2[ch] = c2
						p3[nIdx*c+ch] = c3
					}
				}
			}

			parallel.For(n*hxw, func(i int) {
				nIdx := i / hxw
				applyInputGradRowMov(
					dx[i*c:(i+1)*c],
					dy[i*c:(i+1)*c],
					x[i*c:(i+1)*c],
					table[nIdx*2*c:nIdx*2*c+c],
					table[nIdx*2*c+c:(nIdx+1)*2*c],
					p3[nIdx*c:(nIdx+1)*c],
				)
			}, cfg)
		}
	}

	if dgamma != nil {
		gammaBackward(mean, rstd, ds, db, dgamma, n, c, groups)
	}
	if dbeta != nil {
		betaBackward(db, dbeta, n, c)
	}
}
