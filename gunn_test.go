package gunn

import (
	"math/rand"
	"sync"
	"sync/atomic"
	"testing"
)

// Test basic memory allocation and deallocation
func TestMemoryAllocation(t *testing.T) {
	sizes := []int{100, 1000, 10000, 1000000}

	for _, size := range sizes {
		ptr, err := Malloc(size * 4)
		if err != nil {
			t.Fatalf("Failed to allocate %d bytes: %v", size*4, err)
		}

		slice := ptr.Float32()
		if len(slice) != size {
			t.Errorf("Expected slice length %d, got %d", size, len(slice))
		}

		// Write and read test
		for i := 0; i < min(100, size); i++ {
			slice[i] = float32(i)
		}
		for i := 0; i < min(100, size); i++ {
			if slice[i] != float32(i) {
				t.Errorf("Memory corruption at index %d", i)
			}
		}

		if err := Free(ptr); err != nil {
			t.Fatalf("Failed to free memory: %v", err)
		}
	}
}

// Test memory copy operations
func TestMemcpy(t *testing.T) {
	const N = 1000

	hSrc := make([]float32, N)
	hDst := make([]float32, N)
	for i := 0; i < N; i++ {
		hSrc[i] = rand.Float32()
	}

	dData, err := Malloc(N * 4)
	if err != nil {
		t.Fatalf("Failed to allocate device memory: %v", err)
	}
	defer Free(dData)

	if err := Memcpy(dData, hSrc, N*4, MemcpyHostToDevice); err != nil {
		t.Fatalf("Host to device copy failed: %v", err)
	}
	if err := Memcpy(hDst, dData, N*4, MemcpyDeviceToHost); err != nil {
		t.Fatalf("Device to host copy failed: %v", err)
	}

	for i := 0; i < N; i++ {
		if hSrc[i] != hDst[i] {
			t.Errorf("Data mismatch at index %d: expected %f, got %f", i, hSrc[i], hDst[i])
		}
	}
}

// Test that every (block, thread) pair of the launch grid runs exactly once
func TestKernelLaunchCoverage(t *testing.T) {
	grid := Dim3{X: 4, Y: 2, Z: 1}
	block := Dim3{X: 8, Y: 1, Z: 1}
	n := grid.Size() * block.Size()

	var count int64
	seen := make([]int32, n)

	err := LaunchFunc(func(tid ThreadID, args ...interface{}) {
		global := (tid.BlockIdx.Z*grid.Y+tid.BlockIdx.Y)*grid.X + tid.BlockIdx.X
		local := (tid.ThreadIdx.Z*block.Y+tid.ThreadIdx.Y)*block.X + tid.ThreadIdx.X
		atomic.AddInt32(&seen[global*block.Size()+local], 1)
		atomic.AddInt64(&count, 1)
	}, grid, block)
	if err != nil {
		t.Fatalf("Launch failed: %v", err)
	}
	if err := Synchronize(); err != nil {
		t.Fatalf("Synchronize failed: %v", err)
	}

	if count != int64(n) {
		t.Errorf("Expected %d thread executions, got %d", n, count)
	}
	for i, c := range seen {
		if c != 1 {
			t.Errorf("Thread %d executed %d times", i, c)
		}
	}
}

// Test that tasks on one stream run in FIFO order
func TestStreamOrdering(t *testing.T) {
	ctx := NewContext()
	defer ctx.Destroy()
	stream := ctx.CreateStream()

	const launches = 20
	order := make([]int, 0, launches)

	for i := 0; i < launches; i++ {
		i := i
		err := ctx.LaunchFuncStream(func(tid ThreadID, args ...interface{}) {
			if tid.Global() == 0 {
				order = append(order, i)
			}
		}, Dim3{X: 1, Y: 1, Z: 1}, Dim3{X: 1, Y: 1, Z: 1}, stream)
		if err != nil {
			t.Fatalf("Launch %d failed: %v", i, err)
		}
	}
	stream.Synchronize()

	if len(order) != launches {
		t.Fatalf("Expected %d recorded launches, got %d", launches, len(order))
	}
	for i, v := range order {
		if v != i {
			t.Errorf("Launch %d observed out of order at position %d", v, i)
		}
	}
}

// Test concurrent stream creation against Synchronize
func TestConcurrentStreamCreation(t *testing.T) {
	ctx := NewContext()

	const goroutines = 16
	streams := make([]*Stream, goroutines)

	var wg sync.WaitGroup
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s := ctx.CreateStream()
			s.Submit(func() {})
			streams[i] = s
		}(i)
	}
	wg.Wait()

	if err := ctx.Synchronize(); err != nil {
		t.Fatalf("Synchronize failed: %v", err)
	}

	seen := make(map[int]bool, goroutines)
	for i, s := range streams {
		if s == nil {
			t.Fatalf("Stream %d was not created", i)
		}
		if seen[s.id] {
			t.Errorf("Duplicate stream id %d", s.id)
		}
		seen[s.id] = true
	}
}

// Test the grid-stride loop covers exactly [0, n)
func TestKernelLoop1D(t *testing.T) {
	const n = 10000
	flags := make([]int32, n)

	err := LaunchFunc(func(tid ThreadID, args ...interface{}) {
		KernelLoop1D(tid, n, func(i int) {
			atomic.AddInt32(&flags[i], 1)
		})
	}, Dim3{X: GridFor(n), Y: 1, Z: 1}, Dim3{X: BlockSize, Y: 1, Z: 1})
	if err != nil {
		t.Fatalf("Launch failed: %v", err)
	}
	if err := Synchronize(); err != nil {
		t.Fatalf("Synchronize failed: %v", err)
	}

	for i, f := range flags {
		if f != 1 {
			t.Fatalf("Index %d visited %d times", i, f)
		}
	}
}

// Test the block-per-row loop with a clamped grid
func TestBlockLoop(t *testing.T) {
	const rows = MaxGridBlocks + 123
	flags := make([]int32, rows)

	err := LaunchFunc(func(tid ThreadID, args ...interface{}) {
		BlockLoop(tid, rows, func(row int) {
			atomic.AddInt32(&flags[row], 1)
		})
	}, Dim3{X: GridForRows(rows), Y: 1, Z: 1}, Dim3{X: 1, Y: 1, Z: 1})
	if err != nil {
		t.Fatalf("Launch failed: %v", err)
	}
	if err := Synchronize(); err != nil {
		t.Fatalf("Synchronize failed: %v", err)
	}

	for row, f := range flags {
		if f != 1 {
			t.Fatalf("Row %d visited %d times", row, f)
		}
	}
}

func TestGridFor(t *testing.T) {
	cases := []struct{ n, want int }{
		{0, 0},
		{1, 1},
		{BlockSize, 1},
		{BlockSize + 1, 2},
		{10 * BlockSize, 10},
	}
	for _, c := range cases {
		if got := GridFor(c.n); got != c.want {
			t.Errorf("GridFor(%d) = %d, want %d", c.n, got, c.want)
		}
	}

	if got := GridForRows(10); got != 10 {
		t.Errorf("GridForRows(10) = %d, want 10", got)
	}
	if got := GridForRows(MaxGridBlocks + 1); got != MaxGridBlocks {
		t.Errorf("GridForRows over cap = %d, want %d", got, MaxGridBlocks)
	}
}

// Test empty launches keep stream ordering without running any thread
func TestZeroSizeLaunch(t *testing.T) {
	ran := false
	err := LaunchFunc(func(tid ThreadID, args ...interface{}) {
		ran = true
	}, Dim3{X: 0, Y: 1, Z: 1}, Dim3{X: BlockSize, Y: 1, Z: 1})
	if err != nil {
		t.Fatalf("Empty launch failed: %v", err)
	}
	if err := Synchronize(); err != nil {
		t.Fatalf("Synchronize failed: %v", err)
	}
	if ran {
		t.Error("Kernel body ran for an empty grid")
	}
}

func TestDeviceProperties(t *testing.T) {
	if GetDeviceCount() != 1 {
		t.Errorf("Expected 1 device, got %d", GetDeviceCount())
	}
	dev, err := GetDeviceProperties(0)
	if err != nil {
		t.Fatalf("GetDeviceProperties failed: %v", err)
	}
	if dev.NumCores <= 0 {
		t.Errorf("NumCores = %d, want positive", dev.NumCores)
	}
	if _, err := GetDeviceProperties(3); err == nil {
		t.Error("Expected error for invalid device id")
	}
}

// Test the ForEach and Map conveniences
func TestForEachAndMap(t *testing.T) {
	const n = 500

	in, err := Malloc(n * 4)
	if err != nil {
		t.Fatalf("Malloc failed: %v", err)
	}
	defer Free(in)
	out, err := Malloc(n * 4)
	if err != nil {
		t.Fatalf("Malloc failed: %v", err)
	}
	defer Free(out)

	if err := ForEach(in, n, func(idx int, val *float32) {
		*val = float32(idx)
	}); err != nil {
		t.Fatalf("ForEach failed: %v", err)
	}
	if err := Map(in, out, n, func(v float32) float32 {
		return 2 * v
	}); err != nil {
		t.Fatalf("Map failed: %v", err)
	}
	if err := Synchronize(); err != nil {
		t.Fatalf("Synchronize failed: %v", err)
	}

	res := out.Float32()
	for i := 0; i < n; i++ {
		if res[i] != float32(2*i) {
			t.Fatalf("Index %d: want %f, got %f", i, float32(2*i), res[i])
		}
	}
}

// Test the memory pool reuses freed blocks
func TestMemoryPoolReuse(t *testing.T) {
	mp := NewMemoryPool()

	a, err := mp.Allocate(4096)
	if err != nil {
		t.Fatalf("Allocate failed: %v", err)
	}
	if err := mp.Free(a); err != nil {
		t.Fatalf("Free failed: %v", err)
	}
	b, err := mp.Allocate(4096)
	if err != nil {
		t.Fatalf("Second Allocate failed: %v", err)
	}

	if &a.Float32()[0] != &b.Float32()[0] {
		t.Error("Expected the pool to hand back the freed block")
	}

	if err := mp.Free(b); err != nil {
		t.Fatalf("Free failed: %v", err)
	}
	if err := mp.Free(b); err == nil {
		t.Error("Expected double free to fail")
	}

	allocated, peak := mp.GetStats()
	if allocated != 0 {
		t.Errorf("Allocated after frees = %d, want 0", allocated)
	}
	if peak < 4096 {
		t.Errorf("Peak = %d, want at least 4096", peak)
	}
}
