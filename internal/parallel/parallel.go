// Package parallel provides fork-join execution utilities for the norma
// kernel engine.
package parallel

import (
	"runtime"
	"sync"
)

// Config controls parallel execution behavior.
type Config struct {
	Enabled      bool // Whether parallel execution is enabled.
	NumWorkers   int  // Number of worker goroutines to use.
	MinChunkSize int  // Minimum items per goroutine to avoid overhead.
}

// DefaultConfig returns sensible defaults based on CPU count.
func DefaultConfig() Config {
	n := runtime.NumCPU()
	return Config{
		Enabled:      n > 1,
		NumWorkers:   n,
		MinChunkSize: 64, // Typical cache line aware chunk.
	}
}

// KernelConfig returns a configuration for coarse-grained numerical loops
// where a single iteration is already a large unit of work, so there is no
// minimum chunk below which parallelism stops paying off.
func KernelConfig() Config {
	n := runtime.NumCPU()
	return Config{
		Enabled:      n > 1,
		NumWorkers:   n,
		MinChunkSize: 1,
	}
}

// For executes f(i) for i in [0, n) with optional parallelism.
// Falls back to sequential execution if parallelism is disabled or n is too small.
func For(n int, f func(i int), cfg Config) {
	if !cfg.Enabled || n < cfg.MinChunkSize {
		// Sequential fallback.
		for i := 0; i < n; i++ {
			f(i)
		}
		return
	}

	var wg sync.WaitGroup
	chunkSize := max((n+cfg.NumWorkers-1)/cfg.NumWorkers, cfg.MinChunkSize)

	for start := 0; start < n; start += chunkSize {
		end := min(start+chunkSize, n)
		wg.Add(1)
		go func(s, e int) {
			defer wg.Done()
			for i := s; i < e; i++ {
				f(i)
			}
		}(start, end)
	}
	wg.Wait()
}

// Workers reports how many workers ForWorkers will use for n items under
// cfg. Callers size per-worker scratch regions with this before entering
// the parallel region.
func Workers(n int, cfg Config) int {
	if !cfg.Enabled || n < cfg.MinChunkSize || cfg.NumWorkers < 2 {
		return 1
	}
	return min(cfg.NumWorkers, n)
}

// ForWorkers partitions [0, n) into one contiguous range per worker and
// runs f(worker, start, end) on each, where worker is a dense id in
// [0, Workers(n, cfg)). Every index belongs to exactly one worker, so a
// scratch region indexed by worker id needs no locking; ForWorkers returns
// only after all workers finish (implicit join barrier).
func ForWorkers(n int, f func(worker, start, end int), cfg Config) {
	workers := Workers(n, cfg)
	if workers == 1 {
		f(0, 0, n)
		return
	}

	var wg sync.WaitGroup
	chunkSize := (n + workers - 1) / workers

	for w := 0; w < workers; w++ {
		start := w * chunkSize
		end := min(start+chunkSize, n)
		if start >= end {
			break
		}
		wg.Add(1)
		go func(id, s, e int) {
			defer wg.Done()
			f(id, s, e)
		}(w, start, end)
	}
	wg.Wait()
}
