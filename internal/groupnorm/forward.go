package groupnorm

import (
	"math"

	"github.com/ajroetker/go-highway/hwy"

	"github.com/norma-ml/norma/internal/parallel"
)

// Strategy cutoffs for the channels-last kernels. Below the cutoff we
// parallelize over (sample, group); at or above it over (sample, spatial
// position) with per-worker scratch. The values are empirical, not
// derived; they are variables so tests can exercise both strategies on
// small inputs.
var (
	forwardSpatialThreshold  = 1024
	backwardSpatialThreshold = 2048
)

// invStd converts a raw variance into 1/sqrt(max(var, 0)+eps). The floor
// keeps one-pass variance estimates from going slightly negative on
// constant inputs.
func invStd[T hwy.Floats](variance T, eps float64) T {
	if variance < 0 {
		variance = 0
	}
	return T(1) / T(math.Sqrt(float64(variance)+eps))
}

// forwardContiguous normalizes an NCHW buffer. Each (sample, group) slice
// of d*hxw elements is contiguous, so statistics are one linear reduction
// and the transform is one broadcast multiply-add per channel run.
func forwardContiguous[T hwy.Floats](x, gamma, beta []T, n, c, hxw, groups int, eps float64, y, mean, rstd []T, cfg parallel.Config) {
	d := c / groups
	inner := d * hxw

	parallel.For(n*groups, func(i int) {
		xs := x[i*inner : (i+1)*inner]
		mu, m2 := rowwiseMoments(xs)
		rv := invStd(m2-mu*mu, eps)

		if gamma == nil && beta == nil {
			applyScaleBiasScalar(y[i*inner:(i+1)*inner], xs, rv, -rv*mu)
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
				applyScaleBiasScalar(y[off:off+hxw], x[off:off+hxw], scale, bias)
			}
		}
		mean[i] = mu
		rstd[i] = rv
	}, cfg)
}

// forwardChannelsLast normalizes an NHWC buffer. Statistics for one
// (sample, group) live on non-adjacent elements, so there are two
// strategies with different parallel axes; see the threshold comment above.
func forwardChannelsLast[T hwy.Floats](x, gamma, beta []T, n, c, hxw, groups int, eps float64, y, mean, rstd []T, cfg parallel.Config) {
	d := c / groups
	s := T(1) / T(d*hxw)

	if hxw < forwardSpatialThreshold {
		// Parallel over (sample, group): no shared scratch, and scale/bias
		// for each group is computed once into a pre-sized arena, then
		// broadcast over all spatial rows.
		scratch := make([]T, n*groups*2*d)
		parallel.For(n*groups, func(i int) {
			nIdx, g := i/groups, i%groups
			base := nIdx*hxw*c + g*d

			sum, sumsq := columnwiseMoments(x[base:], hxw, c, d)
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
				applyScaleBias(y[row:row+d], x[row:row+d], scale, bias)
			}
		}, cfg)
		return
	}

	// Parallel over (sample, spatial position). Each worker accumulates
	// per-channel sums into its own (n, 2c) block; the fold across workers
	// happens on the calling goroutine after the join. The parallel axis
	// deliberately excludes the channel dimension: it stays whole for
	// vectorization even when d is smaller than a vector.
	workers := parallel.Workers(n*hxw, cfg)
	buffer := make([]T, workers*n*2*c)
	parallel.ForWorkers(n*hxw, func(w, start, end int) {
		block := buffer[w*n*2*c : (w+1)*n*2*c]
		for i := start; i < end; i++ {
			nIdx := i / hxw
			sum := block[nIdx*2*c : nIdx*2*c+c]
			sumsq := block[nIdx*2*c+c : (nIdx+1)*2*c]
			accumulateMoments(x[i*c:(i+1)*c], sum, sumsq)
		}
	}, cfg)

	for nIdx := 0; nIdx < n; nIdx++ {
		for g := 0; g < groups; g++ {
			var sum, sumsq T
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

	// The worker-0 block is no longer needed once the fold above is done;
	// reuse it as the per-(sample, channel) scale/bias table so the final
	// pass vectorizes over the full channel axis.
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
		applyScaleBias(
			y[i*c:(i+1)*c],
			x[i*c:(i+1)*c],
			table[nIdx*2*c:nIdx*2*c+c],
			table[nIdx*2*c+c:(nIdx+1)*2*c],
		)
	}, cfg)
}
