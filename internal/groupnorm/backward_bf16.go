package groupnorm

import "github.com/norma-ml/norma/internal/parallel"

// backwardContiguousBF16 is the NCHW backward for BFloat16 data; the
// ds/db sums, the group coefficients and the parameter gradients are all
// float32, only dx narrows back to BFloat16.
func backwardContiguousBF16(dy, x []uint16, mean, rstd, gamma []float32, n, c, hxw, groups int, dx []uint16, dgamma, dbeta []float32, cfg parallel.Config) {
	d := c / groups
	s := 1 / float32(d*hxw)
	ds := make([]float32, n*c)
	db := make([]float32, n*c)

	parallel.For(n*c, func(i int) {
		ds[i], db[i] = dotAndSumBF16(dy[i*hxw:(i+1)*hxw], x[i*hxw:(i+1)*hxw])
	}, cfg)

	if dx != nil {
		parallel.For(n*groups, func(i int) {
			g := i % groups
			var gs []float32
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
				applyInputGradBF16(dx[off:off+hxw], dy[off:off+hxw], x[off:off+hxw], c1, c2, c3)
			}
		}, cfg)
	}
	if dgamma != nil {
		gammaBackward(mean, rstd, ds, db, dgamma, n, c, groups)
	}
	if dbeta != nil {
		betaBackward(db, dbeta, n, c)
	}
}

// backwardChannelsLastBF16 mirrors backwardChannelsLast; widened float32
// scratch everywhere, BFloat16 only at the dx boundary.
func backwardChannelsLastBF16(dy, x []uint16, mean, rstd, gamma []float32, n, c, hxw, groups int, dx []uint16, dgamma, dbeta []float32, cfg parallel.Config) {
	d := c / groups
	s := 1 / float32(d*hxw)
	ds := make([]float32, n*c)
	db := make([]float32, n*c)

	if hxw < backwardSpatialThreshold {
		parallel.For(n*groups, func(i int) {
			nIdx, g := i/groups, i%groups
			base := nIdx*hxw*c + g*d

			dsRow := ds[i*d : (i+1)*d]
			dbRow := db[i*d : (i+1)*d]
			for m := 0; m < hxw; m++ {
				off := base + m*c
				dsDbRowAccumulateBF16(dy[off:off+d], x[off:off+d], dsRow, dbRow)
			}

			if dx == nil {
				return
			}
			var gs []float32
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
				applyInputGradColMovBF16(dx[off:off+d], dy[off:off+d], x[off:off+d], gs, rv, c2, c3)
			}
		}, cfg)
	} else {
		workers := parallel.Workers(n*hxw, cfg)
		buffer := make([]float32, workers*n*2*c)
		parallel.ForWorkers(n*hxw, func(w, start, end int) {
			block := buffer[w*n*2*c : (w+1)*n*2*c]
			for i := start; i < end; i++ {
				nIdx := i / hxw
				dsRow := block[nIdx*2*c : nIdx*2*c+c]
				dbRow := block[nIdx*2*c+c : (nIdx+1)*2*c]
				dsDbRowAccumulateBF16(dy[i*c:(i+1)*c], x[i*c:(i+1)*c], dsRow, dbRow)
			}
		}, cfg)

		for nIdx := 0; nIdx < n; nIdx++ {
			for j := 0; j < c; j++ {
				var sumDs, sumDb float32
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
			table := buffer[:n*2*c]
			p3 := make([]float32, n*c)
			for nIdx := 0; nIdx < n; nIdx++ {
				p1 := table[nIdx*2*c : nIdx*2*c+c]
				p2 := table[nIdx*2*c+c : (nIdx+1)*2*c]
				for g := 0; g < groups; g++ {
					var gs []float32
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
				applyInputGradRowMovBF16(
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
