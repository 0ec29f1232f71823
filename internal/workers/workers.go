// Package workers sizes worker pools from the available CPU budget.
//
// In containers the host CPU count reported by runtime.NumCPU() can be far
// larger than the cgroup limit; GOMAXPROCS tracks the limit (Go 1.19+), so
// pool sizes derive from it instead.
package workers

import "runtime"

// Count returns a worker count scaled from GOMAXPROCS.
//
// The multiplier adjusts for task characteristics:
//   - 1.0 for CPU-bound tasks
//   - 2.0 for I/O-bound tasks
//   - 1.5 for mixed tasks
//
// The limit parameter caps the worker count; use 0 for no limit.
// The result is never less than 1.
func Count(multiplier float64, limit int) int {
	available := runtime.GOMAXPROCS(0)

	workers := int(float64(available) * multiplier)

	if workers < 1 {
		workers = 1
	}
	if limit > 0 && workers > limit {
		workers = limit
	}

	return workers
}

// ForCPU returns worker count for CPU-bound tasks (1 per CPU).
func ForCPU(limit int) int {
	return Count(1.0, limit)
}

// ForIO returns worker count for I/O-bound tasks (2 per CPU).
func ForIO(limit int) int {
	return Count(2.0, limit)
}

// ForMixed returns worker count for mixed tasks (1.5 per CPU).
// Thumbnail generation (read file, decode, resize, write result) is the
// typical caller.
func ForMixed(limit int) int {
	return Count(1.5, limit)
}
