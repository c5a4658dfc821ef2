package groupnorm

import (
	"math"
	"math/rand"
	"testing"

	"github.com/ajroetker/go-highway/hwy"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/norma-ml/norma/internal/parallel"
)

var testCfg = parallel.Config{Enabled: true, NumWorkers: 4, MinChunkSize: 1}

func randSlice(rng *rand.Rand, n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = rng.NormFloat64()
	}
	return out
}

func toFloat32(xs []float64) []float32 {
	out := make([]float32, len(xs))
	for i, v := range xs {
		out[i] = float32(v)
	}
	return out
}

func toFloat64[T hwy.Floats](xs []T) []float64 {
	if xs == nil {
		return nil
	}
	out := make([]float64, len(xs))
	for i, v := range xs {
		out[i] = float64(v)
	}
	return out
}

// nchwToNhwc permutes a contiguous buffer into channels-last order.
func nchwToNhwc[T hwy.Floats](src []T, n, c, hxw int) []T {
	dst := make([]T, len(src))
	for nIdx := 0; nIdx < n; nIdx++ {
		for ch := 0; ch < c; ch++ {
			for m := 0; m < hxw; m++ {
				dst[(nIdx*hxw+m)*c+ch] = src[(nIdx*c+ch)*hxw+m]
			}
		}
	}
	return dst
}

// nhwcToNchw is the inverse permutation.
func nhwcToNchw[T hwy.Floats](src []T, n, c, hxw int) []T {
	dst := make([]T, len(src))
	for nIdx := 0; nIdx < n; nIdx++ {
		for ch := 0; ch < c; ch++ {
			for m := 0; m < hxw; m++ {
				dst[(nIdx*c+ch)*hxw+m] = src[(nIdx*hxw+m)*c+ch]
			}
		}
	}
	return dst
}

// refForward is a plain scalar reference over a contiguous buffer.
func refForward(x, gamma, beta []float64, n, c, hxw, groups int, eps float64) (y, mean, rstd []float64) {
	d := c / groups
	inner := d * hxw
	y = make([]float64, len(x))
	mean = make([]float64, n*groups)
	rstd = make([]float64, n*groups)
	for i := 0; i < n*groups; i++ {
		vals := x[i*inner : (i+1)*inner]
		mu := floats.Sum(vals) / float64(inner)
		variance := floats.Dot(vals, vals)/float64(inner) - mu*mu
		if variance < 0 {
			variance = 0
		}
		rv := 1 / math.Sqrt(variance+eps)
		mean[i] = mu
		rstd[i] = rv
		g := i % groups
		for j := 0; j < d; j++ {
			ch := g*d + j
			sc := rv
			if gamma != nil {
				sc *= gamma[ch]
			}
			b := -sc * mu
			if beta != nil {
				b += beta[ch]
			}
			for m := 0; m < hxw; m++ {
				off := (i*d+j)*hxw + m
				y[off] = x[off]*sc + b
			}
		}
	}
	return y, mean, rstd
}

func checkClose(t *testing.T, name string, got, want []float64, tol float64) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("%s: length %d, want %d", name, len(got), len(want))
	}
	for i := range got {
		if diff := math.Abs(got[i] - want[i]); diff > tol*(1+math.Abs(want[i])) {
			t.Errorf("%s[%d]: got %v, want %v (diff %v)", name, i, got[i], want[i], diff)
		}
	}
}

func TestRowwiseMoments(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	// 37 is deliberately not a multiple of any vector width, so the
	// scalar tail runs.
	x := randSlice(rng, 37)
	mean, m2 := rowwiseMoments(x)

	wantMean := stat.Mean(x, nil)
	wantM2 := floats.Dot(x, x) / float64(len(x))
	if math.Abs(mean-wantMean) > 1e-12 {
		t.Errorf("mean: got %v, want %v", mean, wantMean)
	}
	if math.Abs(m2-wantM2) > 1e-12 {
		t.Errorf("raw moment: got %v, want %v", m2, wantM2)
	}
}

func TestColumnwiseMoments(t *testing.T) {
	rng := rand.New(rand.NewSource(2))
	const (
		hxw = 5
		c   = 12
		d   = 7 // group smaller than the channel count, with a tail
	)
	x := randSlice(rng, hxw*c)
	sum, sumsq := columnwiseMoments(x, hxw, c, d)

	var wantSum, wantSq float64
	for m := 0; m < hxw; m++ {
		for j := 0; j < d; j++ {
			v := x[m*c+j]
			wantSum += v
			wantSq += v * v
		}
	}
	if math.Abs(sum-wantSum) > 1e-12 {
		t.Errorf("sum: got %v, want %v", sum, wantSum)
	}
	if math.Abs(sumsq-wantSq) > 1e-12 {
		t.Errorf("sumsq: got %v, want %v", sumsq, wantSq)
	}
}

func TestForwardContiguousMatchesReference(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	const (
		n, c, hxw, groups = 2, 6, 7, 3
		eps               = 1e-5
	)
	x := randSlice(rng, n*c*hxw)
	gamma := randSlice(rng, c)
	beta := randSlice(rng, c)

	y := make([]float64, len(x))
	mean := make([]float64, n*groups)
	rstd := make([]float64, n*groups)
	forwardContiguous(x, gamma, beta, n, c, hxw, groups, eps, y, mean, rstd, testCfg)

	wantY, wantMean, wantRstd := refForward(x, gamma, beta, n, c, hxw, groups, eps)
	checkClose(t, "y", y, wantY, 1e-12)
	checkClose(t, "mean", mean, wantMean, 1e-12)
	checkClose(t, "rstd", rstd, wantRstd, 1e-12)
}

func TestForwardNilAffineMatchesIdentityAffine(t *testing.T) {
	rng := rand.New(rand.NewSource(4))
	const (
		n, c, hxw, groups = 2, 4, 3, 2
		eps               = 1e-5
	)
	x := randSlice(rng, n*c*hxw)
	ones := make([]float64, c)
	zeros := make([]float64, c)
	for i := range ones {
		ones[i] = 1
	}

	plain := make([]float64, len(x))
	affine := make([]float64, len(x))
	mean := make([]float64, n*groups)
	rstd := make([]float64, n*groups)
	forwardContiguous(x, nil, nil, n, c, hxw, groups, eps, plain, mean, rstd, testCfg)
	forwardContiguous(x, ones, zeros, n, c, hxw, groups, eps, affine, mean, rstd, testCfg)

	checkClose(t, "y", plain, affine, 1e-14)
}

func TestForwardNormalizesGroups(t *testing.T) {
	rng := rand.New(rand.NewSource(5))
	const (
		n, c, hxw, groups = 3, 8, 16, 2
		eps               = 1e-12
	)
	x := randSlice(rng, n*c*hxw)
	y := make([]float64, len(x))
	mean := make([]float64, n*groups)
	rstd := make([]float64, n*groups)
	forwardContiguous(x, nil, nil, n, c, hxw, groups, eps, y, mean, rstd, testCfg)

	inner := c / groups * hxw
	for i := 0; i < n*groups; i++ {
		ys := y[i*inner : (i+1)*inner]
		mu := stat.Mean(ys, nil)
		variance := floats.Dot(ys, ys)/float64(inner) - mu*mu
		if math.Abs(mu) > 1e-10 {
			t.Errorf("group %d: output mean %v, want 0", i, mu)
		}
		if math.Abs(variance-1) > 1e-8 {
			t.Errorf("group %d: output variance %v, want 1", i, variance)
		}
	}
}

func TestForwardChannelsLastMatchesContiguous(t *testing.T) {
	rng := rand.New(rand.NewSource(6))
	const (
		n, c, hxw, groups = 2, 6, 9, 3
		eps               = 1e-5
	)
	x := randSlice(rng, n*c*hxw)
	gamma := randSlice(rng, c)
	beta := randSlice(rng, c)
	xcl := nchwToNhwc(x, n, c, hxw)

	wantY, wantMean, wantRstd := refForward(x, gamma, beta, n, c, hxw, groups, eps)

	run := func(t *testing.T) {
		y := make([]float64, len(x))
		mean := make([]float64, n*groups)
		rstd := make([]float64, n*groups)
		forwardChannelsLast(xcl, gamma, beta, n, c, hxw, groups, eps, y, mean, rstd, testCfg)
		checkClose(t, "y", nhwcToNchw(y, n, c, hxw), wantY, 1e-12)
		checkClose(t, "mean", mean, wantMean, 1e-12)
		checkClose(t, "rstd", rstd, wantRstd, 1e-12)
	}

	t.Run("group-parallel", run)
	t.Run("spatial-parallel", func(t *testing.T) {
		old := forwardSpatialThreshold
		forwardSpatialThreshold = 1
		defer func() { forwardSpatialThreshold = old }()
		run(t)
	})
}

func TestForwardGroupExtremes(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	const (
		n, c, hxw = 2, 4, 5
		eps       = 1e-5
	)
	x := randSlice(rng, n*c*hxw)
	gamma := randSlice(rng, c)
	beta := randSlice(rng, c)

	for _, groups := range []int{1, c} {
		y := make([]float64, len(x))
		mean := make([]float64, n*groups)
		rstd := make([]float64, n*groups)
		forwardContiguous(x, gamma, beta, n, c, hxw, groups, eps, y, mean, rstd, testCfg)

		wantY, wantMean, wantRstd := refForward(x, gamma, beta, n, c, hxw, groups, eps)
		checkClose(t, "y", y, wantY, 1e-12)
		checkClose(t, "mean", mean, wantMean, 1e-12)
		checkClose(t, "rstd", rstd, wantRstd, 1e-12)
	}
}

func TestForwardZeroVariance(t *testing.T) {
	const (
		n, c, hxw, groups = 1, 2, 4, 1
		eps               = 1e-5
	)
	x := make([]float64, n*c*hxw)
	for i := range x {
		x[i] = 3.5
	}
	y := make([]float64, len(x))
	mean := make([]float64, n*groups)
	rstd := make([]float64, n*groups)
	forwardContiguous(x, nil, nil, n, c, hxw, groups, eps, y, mean, rstd, testCfg)

	wantRstd := 1 / math.Sqrt(eps)
	if math.Abs(rstd[0]-wantRstd) > 1e-6*wantRstd {
		t.Errorf("rstd: got %v, want %v", rstd[0], wantRstd)
	}
	for i, v := range y {
		if math.Abs(v) > 1e-6 {
			t.Errorf("y[%d]: got %v, want 0", i, v)
		}
	}
	if math.Abs(mean[0]-3.5) > 1e-12 {
		t.Errorf("mean: got %v, want 3.5", mean[0])
	}
}

func TestForwardSequentialIntegers(t *testing.T) {
	// 0..23 as a {2, 4, 3} tensor with 2 groups: each group covers 6
	// consecutive integers, so its mean is the first element plus 2.5 and
	// its variance is 35/12.
	const (
		n, c, hxw, groups = 2, 4, 3, 2
		eps               = 1e-5
	)
	x := make([]float64, n*c*hxw)
	for i := range x {
		x[i] = float64(i)
	}
	y := make([]float64, len(x))
	mean := make([]float64, n*groups)
	rstd := make([]float64, n*groups)
	forwardContiguous(x, nil, nil, n, c, hxw, groups, eps, y, mean, rstd, testCfg)

	wantRstd := 1 / math.Sqrt(35.0/12.0+eps)
	for i := 0; i < n*groups; i++ {
		wantMean := float64(i*6) + 2.5
		if math.Abs(mean[i]-wantMean) > 1e-12 {
			t.Errorf("mean[%d]: got %v, want %v", i, mean[i], wantMean)
		}
		if math.Abs(rstd[i]-wantRstd) > 1e-12 {
			t.Errorf("rstd[%d]: got %v, want %v", i, rstd[i], wantRstd)
		}
		for j := 0; j < 6; j++ {
			want := (x[i*6+j] - wantMean) * wantRstd
			if math.Abs(y[i*6+j]-want) > 1e-12 {
				t.Errorf("y[%d]: got %v, want %v", i*6+j, y[i*6+j], want)
			}
		}
	}
}

func TestForwardFloat32(t *testing.T) {
	rng := rand.New(rand.NewSource(8))
	const (
		n, c, hxw, groups = 2, 6, 5, 2
		eps               = 1e-5
	)
	x64 := randSlice(rng, n*c*hxw)
	gamma64 := randSlice(rng, c)
	beta64 := randSlice(rng, c)

	y := make([]float32, len(x64))
	mean := make([]float32, n*groups)
	rstd := make([]float32, n*groups)
	forwardContiguous(toFloat32(x64), toFloat32(gamma64), toFloat32(beta64),
		n, c, hxw, groups, eps, y, mean, rstd, testCfg)

	wantY, wantMean, wantRstd := refForward(x64, gamma64, beta64, n, c, hxw, groups, eps)
	checkClose(t, "y", toFloat64(y), wantY, 1e-4)
	checkClose(t, "mean", toFloat64(mean), wantMean, 1e-4)
	checkClose(t, "rstd", toFloat64(rstd), wantRstd, 1e-4)
}
