// Copyright (C) 2020 Markus L. Noga
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

package numcore

import "runtime"

// NumWorkers is the default worker count for ParallelFor. Overridable so
// internal/config can set it from the cpuid logical-core count gathered at
// startup.
var NumWorkers = runtime.NumCPU()

// ParallelFor partitions [0,n) into NumWorkers contiguous, disjoint chunks
// and runs fn(lo,hi) for each chunk on its own goroutine, blocking until
// all chunks are done. Static scheduling over a contiguous range is the one
// parallel-for primitive spec.md §5(a) requires; grounded on the teacher's
// OpParallel goroutine/semaphore fan-out in internal/ops/operator.go,
// generalized from "one goroutine per FITS frame" to "one goroutine per
// contiguous index range" so cube-sized loops don't spawn one goroutine per
// voxel.
func ParallelFor(n int, fn func(lo, hi int)) {
	if n <= 0 {
		return
	}
	workers := NumWorkers
	if workers < 1 {
		workers = 1
	}
	if workers > n {
		workers = n
	}
	if workers == 1 {
		fn(0, n)
		return
	}

	chunk := (n + workers - 1) / workers
	done := make(chan struct{}, workers)
	started := 0
	for lo := 0; lo < n; lo += chunk {
		hi := lo + chunk
		if hi > n {
			hi = n
		}
		started++
		go func(lo, hi int) {
			defer func() { done <- struct{}{} }()
			fn(lo, hi)
		}(lo, hi)
	}
	for i := 0; i < started; i++ {
		<-done
	}
}
