package gunn

import (
	"math/rand"
	"testing"
)

func TestRowReduceSum(t *testing.T) {
	ctx := NewContext()
	s := ctx.DefaultStream()

	const n, d = 100, 37
	data := make([]float32, n*d)
	for i := range data {
		data[i] = rand.Float32()
	}

	out := make([]float32, n)
	err := rowReduceFunc(ctx, s, n, d, SumOp, func(i, j int) float32 {
		return data[i*d+j]
	}, out)
	if err != nil {
		t.Fatalf("rowReduceFunc failed: %v", err)
	}
	s.Synchronize()

	for i := 0; i < n; i++ {
		var want float32
		for j := 0; j < d; j++ {
			want += data[i*d+j]
		}
		if diff := want - out[i]; diff > 1e-4 || diff < -1e-4 {
			t.Errorf("Row %d: want %f, got %f", i, want, out[i])
		}
	}
}

func TestRowReduceMax(t *testing.T) {
	ctx := NewContext()
	s := ctx.DefaultStream()

	data := []float32{3, -1, 7, 2, -5, -9, -2, -8}
	out := make([]float32, 2)
	err := rowReduceFunc(ctx, s, 2, 4, MaxOp, func(i, j int) float32 {
		return data[i*4+j]
	}, out)
	if err != nil {
		t.Fatalf("rowReduceFunc failed: %v", err)
	}
	s.Synchronize()

	if out[0] != 7 {
		t.Errorf("Row 0 max = %f, want 7", out[0])
	}
	if out[1] != -2 {
		t.Errorf("Row 1 max = %f, want -2", out[1])
	}
}

// Row counts past the grid cap must still all be covered
func TestRowReduceManyRows(t *testing.T) {
	ctx := NewContext()
	s := ctx.DefaultStream()

	n := MaxGridBlocks + 57
	out := make([]float32, n)
	err := rowReduceFunc(ctx, s, n, 3, SumOp, func(i, j int) float32 {
		return float32(i)
	}, out)
	if err != nil {
		t.Fatalf("rowReduceFunc failed: %v", err)
	}
	s.Synchronize()

	for i := 0; i < n; i++ {
		if out[i] != float32(3*i) {
			t.Fatalf("Row %d: want %f, got %f", i, float32(3*i), out[i])
		}
	}
}

func TestRowReduceEmpty(t *testing.T) {
	ctx := NewContext()
	s := ctx.DefaultStream()

	err := rowReduceFunc(ctx, s, 0, 10, SumOp, func(i, j int) float32 {
		t.Error("load called for an empty reduction")
		return 0
	}, nil)
	if err != nil {
		t.Fatalf("rowReduceFunc failed: %v", err)
	}
	s.Synchronize()
}

func TestScratchGrowAndReuse(t *testing.T) {
	ctx := NewContext()

	var sc scratch
	a, err := sc.grow(ctx, 16)
	if err != nil {
		t.Fatalf("grow failed: %v", err)
	}
	if len(a) != 16 {
		t.Fatalf("Expected 16 elements, got %d", len(a))
	}

	// Smaller requests reuse the same buffer.
	b, err := sc.grow(ctx, 8)
	if err != nil {
		t.Fatalf("grow failed: %v", err)
	}
	if len(b) != 8 {
		t.Fatalf("Expected 8 elements, got %d", len(b))
	}
	if &a[0] != &b[0] {
		t.Error("Expected scratch reuse for a smaller request")
	}

	if _, err := sc.grow(ctx, 64); err != nil {
		t.Fatalf("grow failed: %v", err)
	}
	if err := sc.Release(ctx); err != nil {
		t.Fatalf("Release failed: %v", err)
	}
	if err := sc.Release(ctx); err != nil {
		t.Fatalf("Second Release failed: %v", err)
	}
}

func TestAtomicAddFloat32(t *testing.T) {
	ctx := NewContext()
	s := ctx.DefaultStream()

	var sum float32
	const n = 100000

	err := ctx.LaunchFunc(func(tid ThreadID, args ...interface{}) {
		KernelLoop1D(tid, n, func(i int) {
			AtomicAddFloat32(&sum, 1)
		})
	}, Dim3{X: GridFor(n), Y: 1, Z: 1}, Dim3{X: BlockSize, Y: 1, Z: 1})
	if err != nil {
		t.Fatalf("Launch failed: %v", err)
	}
	s.Synchronize()

	if sum != n {
		t.Errorf("Atomic sum = %f, want %d", sum, n)
	}
}
