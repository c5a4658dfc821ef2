package groupnorm

import "github.com/norma-ml/norma/internal/parallel"

// forwardContiguousBF16 is the NCHW forward for BFloat16 data with
// float32 affine parameters and statistics.
func forwardContiguousBF16(x []uint16, gamma, beta []float32, n, c, hxw, groups int, eps float64, y []uint16, mean, rstd []float32, cfg parallel.Config) {
	d := c / groups
	inner := d * hxw

	parallel.For(n*groups, func(i int) {
		xs := x[i*inner : (i+1)*inner]
		mu, m2 := rowwiseMomentsBF16(xs)
		rv := invStd(m2-mu*mu, eps)

		if gamma == nil && beta == nil {
			applyScaleBiasScalarBF16(y[i*inner:(i+1)*inner], xs, rv, -rv*mu)
		} else {
			g := i % groups
			for j := 0; j < d; j++ {
				ch := g*d + j
				scale := rv
				if gamma != nil {
					scale *= gamma[ch]
				}
				bias := -scale * mu
				if beta != nil {
					bias += beta[ch]
				}
				off := (i*d + j) * hxw
				applyScaleBiasScalarBF16(y[off:off+hxw], x[off:off+hxw], scale, bias)
			}
		}
		mean[i] = mu
		rstd[i] = rv
	}, cfg)
}

// forwardChannelsLastBF16 mirrors forwardChannelsLast with the same two
// strategies; scratch buffers hold widened float32 values.
func forwardChannelsLastBF16(x []uint16, gamma, beta []float32, n, c, hxw, groups int, eps float64, y []uint16, mean, rstd []float32, cfg parallel.Config) {
	d := c / groups
	s := 1 / float32(d*hxw)

	if hxw < forwardSpatialThreshold {
		scratch := make([]float32, n*groups*2*d)
		parallel.For(n*groups, func(i int) {
			nIdx, g := i/groups, i%groups
			base := nIdx*hxw*c + g*d

			sum, sumsq := columnwiseMomentsBF16(x[base:], hxw, c, d)
			mu := sum * s
			rv := invStd(sumsq*s-mu*mu, eps)
			mean[i] = mu
			rstd[i] = rv

			scale := scratch[i*2*d : i*2*d+d]
			bias := scratch[i*2*d+d : (i+1)*2*d]
			for j := 0; j < d; j++ {
				ch := g*d + j
				sc := rv
				if gamma != nil {
					sc *= gamma[ch]
				}
				scale[j] = sc
				b := -sc * mu
				if beta != nil {
					b += beta[ch]
				}
				bias[j] = b
			}

			for m := 0; m < hxw; m++ {
				row := base + m*c
				applyScaleBiasBF16(y[row:row+d], x[row:row+d], scale, bias)
			}
		}, cfg)
		return
	}

	workers := parallel.Workers(n*hxw, cfg)
	buffer := make([]float32, workers*n*2*c)
	parallel.ForWorkers(n*hxw, func(w, start, end int) {
		block := buffer[w*n*2*c : (w+1)*n*2*c]
		for i := start; i < end; i++ {
			nIdx := i / hxw
			sum := block[nIdx*2*c : nIdx*2*c+c]
			sumsq := block[nIdx*2*c+c : (nIdx+1)*2*c]
			accumulateMomentsBF16(x[i*c:(i+1)*c], sum, sumsq)
		}
	}, cfg)

	for nIdx := 0; nIdx < n; nIdx++ {
		for g := 0; g < groups; g++ {
			var sum, sumsq float32
			for j := 0; j < d; j++ {
				for w := 0; w < workers; w++ {
					block := buffer[w*n*2*c+nIdx*2*c:]
					sum += block[g*d+j]
					sumsq += block[g*d+j+c]
				}
			}
			mu := sum * s
			mean[nIdx*groups+g] = mu
			rstd[nIdx*groups+g] = invStd(sumsq*s-mu*mu, eps)
		}
	}

	table := buffer[:n*2*c]
	for nIdx := 0; nIdx < n; nIdx++ {
		scale := table[nIdx*2*c : nIdx*2*c+c]
		bias := table[nIdx*2*c+c : (nIdx+1)*2*c]
		for g := 0; g < groups; g++ {
			mu := mean[nIdx*groups+g]
			rv := rstd[nIdx*groups+g]
			for j := 0; j < d; j++ {
				ch := g*d + j
				sc := rv
				if gamma != nil {
					sc *= gamma[ch]
				}
				scale[ch] = sc
				b := -sc * mu
				if beta != nil {
					b += beta[ch]
				}
				bias[ch] = b
			}
		}
	}

	parallel.For(n*hxw, func(i int) {
		nIdx := i / hxw
		applyScaleBiasBF16(
			y[i*c:(i+1)*c],
			x[i*c:(i+1)*c],
			table[nIdx*2*c:nIdx*2*c+c],
			table[nIdx*2*c+c:(nIdx+1)*2*c],
		)
	}, cfg)
}
