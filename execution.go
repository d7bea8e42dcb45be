package gunn

import (
	"runtime"
	"sync"
)

// launchInternal implements the core kernel execution logic
func (ctx *Context) launchInternal(
	kernelFunc func(ThreadID, ...interface{}),
	grid, block Dim3,
	stream *Stream,
	args ...interface{},
) error {
	// Calculate total work items
	gridSize := grid.Size()
	blockSize := block.Size()

	// Handle edge case where grid size is zero
	if gridSize == 0 {
		// Submit an empty task to maintain stream ordering
		stream.Submit(func() {})
		return nil
	}

	kernelLaunches.Inc()

	// Determine parallelism strategy
	numWorkers := runtime.NumCPU()
	if gridSize < numWorkers {
		numWorkers = gridSize
	}

	// Cache-aware scheduling: each worker processes multiple blocks
	// to maximize cache reuse
	blocksPerWorker := (gridSize + numWorkers - 1) / numWorkers

	// Submit work to stream
	stream.Submit(func() {
		var wg sync.WaitGroup
		wg.Add(numWorkers)

		for workerID := 0; workerID < numWorkers; workerID++ {
			// Capture loop variable
			wID := workerID
			startBlock := wID * blocksPerWorker
			endBlock := startBlock + blocksPerWorker
			if endBlock > gridSize {
				endBlock = gridSize
			}

			// Launch worker goroutine
			go func() {
				defer wg.Done()

				// Process assigned blocks
				for blockID := startBlock; blockID < endBlock; blockID++ {
					// Convert linear block ID to 3D
					blockIdx := linearTo3D(blockID, grid)

					// Execute all threads in this block
					// For CPU, we execute threads sequentially within a block
					// This maximizes cache reuse and minimizes synchronization
					for threadID := 0; threadID < blockSize; threadID++ {
						// Convert linear thread ID to 3D
						threadIdx := linearTo3D(threadID, block)

						// Create thread identification
						tid := ThreadID{
							BlockIdx:  blockIdx,
							ThreadIdx: threadIdx,
							BlockDim:  block,
							GridDim:   grid,
						}

						// Execute kernel for this thread
						kernelFunc(tid, args...)
					}
				}
			}()
		}

		wg.Wait()
	})

	return nil
}

// linearTo3D converts a linear index to 3D coordinates
func linearTo3D(linear int, dim Dim3) Dim3 {
	z := linear / (dim.X * dim.Y)
	y := (linear % (dim.X * dim.Y)) / dim.X
	x := linear % dim.X
	return Dim3{X: x, Y: y, Z: z}
}

// GridFor returns the number of blocks needed to cover n elements with
// the default block size.
func GridFor(n int) int {
	return (n + BlockSize - 1) / BlockSize
}

// GridForRows returns the grid size for row-batched kernels: one block
// per row, clamped to MaxGridBlocks. Kernels cover the remaining rows
// with a grid-stride loop.
func GridForRows(n int) int {
	if n < MaxGridBlocks {
		return n
	}
	return MaxGridBlocks
}

// KernelLoop1D iterates a flat element index across the launch, starting
// at the thread's global index and striding by the total thread count of
// the grid. A fixed-size launch covers an arbitrarily large element count.
func KernelLoop1D(tid ThreadID, n int, body func(i int)) {
	stride := tid.GridDim.X * tid.BlockDim.X
	for i := tid.Global(); i < n; i += stride {
		body(i)
	}
}

// BlockLoop iterates a row index across the grid, starting at the block
// index and striding by the grid dimension. Used by row-batched reduction
// kernels where one block owns one row at a time; iterations for distinct
// rows are independent, so no cross-block synchronization exists.
func BlockLoop(tid ThreadID, n int, body func(row int)) {
	for i := tid.BlockIdx.X; i < n; i += tid.GridDim.X {
		body(i)
	}
}

// ForEach applies a function to each element in parallel
func ForEach(data DevicePtr, size int, fn func(idx int, val *float32)) error {
	grid := Dim3{X: GridFor(size), Y: 1, Z: 1}
	block := Dim3{X: BlockSize, Y: 1, Z: 1}

	kernel := KernelFunc(func(tid ThreadID, args ...interface{}) {
		idx := tid.Global()
		if idx < size {
			slice := data.Float32()
			fn(idx, &slice[idx])
		}
	})

	return Launch(kernel, grid, block)
}

// Map applies a transformation function to create a new array
func Map(input, output DevicePtr, size int, fn func(float32) float32) error {
	grid := Dim3{X: GridFor(size), Y: 1, Z: 1}
	block := Dim3{X: BlockSize, Y: 1, Z: 1}

	kernel := KernelFunc(func(tid ThreadID, args ...interface{}) {
		idx := tid.Global()
		if idx < size {
			in := input.Float32()
			out := output.Float32()
			out[idx] = fn(in[idx])
		}
	})

	return Launch(kernel, grid, block)
}
