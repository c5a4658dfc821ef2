package groupnorm

import (
	"math/rand"
	"testing"

	"github.com/norma-ml/norma/internal/tensor"
)

// bf16Data narrows random values once so the BFloat16 and float32 paths
// see the exact same inputs.
func bf16Data(rng *rand.Rand, n int) (bits []uint16, wide []float32) {
	bits = make([]uint16, n)
	for i := range bits {
		bits[i] = tensor.Float32ToBFloat16(float32(rng.NormFloat64()))
	}
	return bits, tensor.WidenBFloat16(bits)
}

func TestForwardBF16MatchesFloat32(t *testing.T) {
	rng := rand.New(rand.NewSource(20))
	const (
		n, c, hxw, groups = 2, 8, 6, 4
		eps               = 1e-5
	)
	xBits, xWide := bf16Data(rng, n*c*hxw)
	gamma := toFloat32(randSlice(rng, c))
	beta := toFloat32(randSlice(rng, c))

	wantY := make([]float32, len(xWide))
	wantMean := make([]float32, n*groups)
	wantRstd := make([]float32, n*groups)
	forwardContiguous(xWide, gamma, beta, n, c, hxw, groups, eps, wantY, wantMean, wantRstd, testCfg)

	y := make([]uint16, len(xBits))
	mean := make([]float32, n*groups)
	rstd := make([]float32, n*groups)
	forwardContiguousBF16(xBits, gamma, beta, n, c, hxw, groups, eps, y, mean, rstd, testCfg)

	// Statistics accumulate in float32 on both paths; only the stored
	// output loses precision to the narrow.
	checkClose(t, "mean", toFloat64(mean), toFloat64(wantMean), 1e-5)
	checkClose(t, "rstd", toFloat64(rstd), toFloat64(wantRstd), 1e-5)
	checkClose(t, "y", toFloat64(tensor.WidenBFloat16(y)), toFloat64(wantY), 2e-2)
}

func TestForwardChannelsLastBF16(t *testing.T) {
	rng := rand.New(rand.NewSource(21))
	const (
		n, c, hxw, groups = 2, 6, 7, 3
		eps               = 1e-5
	)
	xBits, xWide := bf16Data(rng, n*c*hxw)
	gamma := toFloat32(randSlice(rng, c))
	beta := toFloat32(randSlice(rng, c))

	wantY := make([]float32, len(xWide))
	wantMean := make([]float32, n*groups)
	wantRstd := make([]float32, n*groups)
	forwardChannelsLast(xWide, gamma, beta, n, c, hxw, groups, eps, wantY, wantMean, wantRstd, testCfg)

	run := func(t *testing.T) {
		y := make([]uint16, len(xBits))
		mean := make([]float32, n*groups)
		rstd := make([]float32, n*groups)
		forwardChannelsLastBF16(xBits, gamma, beta, n, c, hxw, groups, eps, y, mean, rstd, testCfg)
		checkClose(t, "mean", toFloat64(mean), toFloat64(wantMean), 1e-5)
		checkClose(t, "rstd", toFloat64(rstd), toFloat64(wantRstd), 1e-5)
		checkClose(t, "y", toFloat64(tensor.WidenBFloat16(y)), toFloat64(wantY), 2e-2)
	}

	t.Run("group-parallel", run)
	t.Run("spatial-parallel", func(t *testing.T) {
		old := forwardSpatialThreshold
		forwardSpatialThreshold = 1
		defer func() { forwardSpatialThreshold = old }()
		run(t)
	})
}

func TestBackwardBF16MatchesFloat32(t *testing.T) {
	rng := rand.New(rand.NewSource(22))
	const (
		n, c, hxw, groups = 2, 4, 5, 2
		eps               = 1e-5
	)
	xBits, xWide := bf16Data(rng, n*c*hxw)
	dyBits, dyWide := bf16Data(rng, n*c*hxw)
	gamma := toFloat32(randSlice(rng, c))

	mean := make([]float32, n*groups)
	rstd := make([]float32, n*groups)
	tmp := make([]float32, len(xWide))
	forwardContiguous(xWide, nil, nil, n, c, hxw, groups, eps, tmp, mean, rstd, testCfg)

	wantDx := make([]float32, len(xWide))
	wantDgamma := make([]float32, c)
	wantDbeta := make([]float32, c)
	backwardContiguous(dyWide, xWide, mean, rstd, gamma, n, c, hxw, groups, wantDx, wantDgamma, wantDbeta, testCfg)

	dx := make([]uint16, len(xBits))
	dgamma := make([]float32, c)
	dbeta := make([]float32, c)
	backwardContiguousBF16(dyBits, xBits, mean, rstd, gamma, n, c, hxw, groups, dx, dgamma, dbeta, testCfg)

	checkClose(t, "dx", toFloat64(tensor.WidenBFloat16(dx)), toFloat64(wantDx), 2e-2)
	checkClose(t, "dgamma", toFloat64(dgamma), toFloat64(wantDgamma), 1e-4)
	checkClose(t, "dbeta", toFloat64(dbeta), toFloat64(wantDbeta), 1e-4)
}

func TestBackwardChannelsLastBF16(t *testing.T) {
	rng := rand.New(rand.NewSource(23))
	const (
		n, c, hxw, groups = 2, 6, 8, 3
		eps               = 1e-5
	)
	xBits, xWide := bf16Data(rng, n*c*hxw)
	dyBits, dyWide := bf16Data(rng, n*c*hxw)
	gamma := toFloat32(randSlice(rng, c))

	// Statistics come from the channels-last float32 forward so both
	// backward paths see identical saved values.
	mean := make([]float32, n*groups)
	rstd := make([]float32, n*groups)
	tmp := make([]float32, len(xWide))
	forwardChannelsLast(xWide, nil, nil, n, c, hxw, groups, eps, tmp, mean, rstd, testCfg)

	wantDx := make([]float32, len(xWide))
	wantDgamma := make([]float32, c)
	wantDbeta := make([]float32, c)
	backwardChannelsLast(dyWide, xWide, mean, rstd, gamma, n, c, hxw, groups, wantDx, wantDgamma, wantDbeta, testCfg)

	run := func(t *testing.T) {
		dx := make([]uint16, len(xBits))
		dgamma := make([]float32, c)
		dbeta := make([]float32, c)
		backwardChannelsLastBF16(dyBits, xBits, mean, rstd, gamma, n, c, hxw, groups, dx, dgamma, dbeta, testCfg)
		checkClose(t, "dx", toFloat64(tensor.WidenBFloat16(dx)), toFloat64(wantDx), 2e-2)
		checkClose(t, "dgamma", toFloat64(dgamma), toFloat64(wantDgamma), 1e-4)
		checkClose(t, "dbeta", toFloat64(dbeta), toFloat64(wantDbeta), 1e-4)
	}

	t.Run("group-parallel", run)
	t.Run("spatial-parallel", func(t *testing.T) {
		old := backwardSpatialThreshold
		backwardSpatialThreshold = 1
		defer func() { backwardSpatialThreshold = old }()
		run(t)
	})
}
