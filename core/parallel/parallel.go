// Package parallel splits index ranges across CPU cores for the estimators
// (scaler column statistics, tree split search, one-vs-rest fits).
package parallel

import (
	"runtime"
	"sync"
	"sync/atomic"
)

var maxWorkers atomic.Int32

// SetMaxWorkers caps the number of goroutines used by Parallelize.
// n <= 0 restores the default of runtime.NumCPU().
func SetMaxWorkers(n int) {
	if n < 0 {
		n = 0
	}
	maxWorkers.Store(int32(n))
}

// Workers returns the number of goroutines Parallelize would use for items.
func Workers(items int) int {
	n := int(maxWorkers.Load())
	if n <= 0 {
		n = runtime.NumCPU()
	}
	if n > items {
		n = items
	}
	return n
}

// Parallelize divides items into contiguous chunks, one per worker, and runs
// fn(start, end) for each chunk concurrently. It returns when all chunks are done.
func Parallelize(items int, fn func(start, end int)) {
	if items <= 0 {
		return
	}
	numWorkers := Workers(items)
	if numWorkers <= 1 {
		fn(0, items)
		return
	}

	chunkSize := (items + numWorkers - 1) / numWorkers

	var wg sync.WaitGroup
	for start := 0; start < items; start += chunkSize {
		end := start + chunkSize
		if end > items {
			end = items
		}
		wg.Add(1)
		go func(s, e int) {
			defer wg.Done()
			fn(s, e)
		}(start, end)
	}
	wg.Wait()
}

// ParallelizeWithThreshold runs fn(0, items) on the calling goroutine when
// items <= threshold and falls back to Parallelize otherwise.
func ParallelizeWithThreshold(items int, threshold int, fn func(start, end int)) {
	if items <= threshold {
		fn(0, items)
		return
	}
	Parallelize(items, fn)
}

// ForEach calls fn for every index in [0, items) across workers and returns
// the error of the lowest failing index, if any.
func ForEach(items, threshold int, fn func(i int) error) error {
	errs := make([]error, items)
	ParallelizeWithThreshold(items, threshold, func(start, end int) {
		for i := start; i < end; i++ {
			errs[i] = fn(i)
		}
	})
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}
