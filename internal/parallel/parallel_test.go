package parallel

import (
	"sync/atomic"
	"testing"
)

func TestForCoversAllIndicesOnce(t *testing.T) {
	configs := map[string]Config{
		"sequential": {Enabled: false},
		"parallel":   {Enabled: true, NumWorkers: 4, MinChunkSize: 1},
		"chunked":    {Enabled: true, NumWorkers: 4, MinChunkSize: 16},
	}
	for name, cfg := range configs {
		t.Run(name, func(t *testing.T) {
			const n = 103
			visits := make([]int32, n)
			For(n, func(i int) {
				atomic.AddInt32(&visits[i], 1)
			}, cfg)
			for i, v := range visits {
				if v != 1 {
					t.Errorf("index %d visited %d times", i, v)
				}
			}
		})
	}
}

func TestForZeroItems(t *testing.T) {
	called := false
	For(0, func(int) { called = true }, DefaultConfig())
	if called {
		t.Error("body called for n = 0")
	}
}

func TestWorkersBounds(t *testing.T) {
	cfg := Config{Enabled: true, NumWorkers: 8, MinChunkSize: 1}
	if got := Workers(3, cfg); got != 3 {
		t.Errorf("Workers(3) = %d, want 3", got)
	}
	if got := Workers(100, cfg); got != 8 {
		t.Errorf("Workers(100) = %d, want 8", got)
	}
	if got := Workers(100, Config{Enabled: false}); got != 1 {
		t.Errorf("Workers with parallelism disabled = %d, want 1", got)
	}
	if got := Workers(100, Config{Enabled: true, NumWorkers: 1, MinChunkSize: 1}); got != 1 {
		t.Errorf("Workers with a single worker = %d, want 1", got)
	}
}

func TestForWorkersPartition(t *testing.T) {
	const n = 57
	cfg := Config{Enabled: true, NumWorkers: 4, MinChunkSize: 1}
	workers := Workers(n, cfg)

	visits := make([]int32, n)
	seen := make([]int32, workers)
	ForWorkers(n, func(w, start, end int) {
		atomic.AddInt32(&seen[w], 1)
		for i := start; i < end; i++ {
			atomic.AddInt32(&visits[i], 1)
		}
	}, cfg)

	for i, v := range visits {
		if v != 1 {
			t.Errorf("index %d covered %d times", i, v)
		}
	}
	for w, v := range seen {
		if v > 1 {
			t.Errorf("worker id %d used %d times", w, v)
		}
	}
}

func TestForWorkersSequentialFallback(t *testing.T) {
	var calls int
	ForWorkers(10, func(w, start, end int) {
		calls++
		if w != 0 || start != 0 || end != 10 {
			t.Errorf("got (w=%d, start=%d, end=%d), want (0, 0, 10)", w, start, end)
		}
	}, Config{Enabled: false})
	if calls != 1 {
		t.Errorf("fallback ran %d times, want 1", calls)
	}
}
