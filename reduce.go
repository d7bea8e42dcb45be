package gunn

import "math"

// Row-batched reduction primitive shared by the distance operators.
//
// The launch shape mirrors the GPU idiom: one block per batch row with
// the grid clamped to MaxGridBlocks, remaining rows covered by the
// grid-stride BlockLoop. All partial combining for one row happens
// inside a single block, so no cross-block synchronization is needed;
// the designated block writes the row scalar exactly once.

// ReduceOp is a combine operator for block-wide reductions.
type ReduceOp struct {
	Identity float32
	Combine  func(a, b float32) float32
}

// SumOp combines by addition.
var SumOp = ReduceOp{
	Identity: 0,
	Combine:  func(a, b float32) float32 { return a + b },
}

// MaxOp combines by maximum.
var MaxOp = ReduceOp{
	Identity: float32(math.Inf(-1)),
	Combine: func(a, b float32) float32 {
		if a > b {
			return a
		}
		return b
	},
}

// rowReduceFunc launches a reduction of n rows of d elements each.
// load supplies element j of row i; the reduced scalar for each row is
// written to out[i]. n == 0 short-circuits with an empty launch.
func rowReduceFunc(ctx *Context, s *Stream, n, d int, op ReduceOp, load func(i, j int) float32, out []float32) error {
	grid := Dim3{X: GridForRows(n), Y: 1, Z: 1}
	block := Dim3{X: 1, Y: 1, Z: 1}

	kernel := KernelFunc(func(tid ThreadID, args ...interface{}) {
		BlockLoop(tid, n, func(i int) {
			acc := op.Identity
			for j := 0; j < d; j++ {
				acc = op.Combine(acc, load(i, j))
			}
			out[i] = acc
		})
	})

	return ctx.LaunchFuncStream(kernel, grid, block, s)
}

// scratch is a per-operator auxiliary float buffer sized proportional to
// the batch count, grown on demand and reused across invocations of the
// same operator instance.
type scratch struct {
	buf DevicePtr
	n   int
}

// grow ensures capacity for n float32 values, reallocating only when the
// current buffer is too small.
func (s *scratch) grow(ctx *Context, n int) ([]float32, error) {
	if n <= s.n && !s.buf.IsNil() {
		return s.buf.Float32()[:n], nil
	}
	if !s.buf.IsNil() {
		if err := ctx.Free(s.buf); err != nil {
			return nil, err
		}
	}
	buf, err := ctx.Malloc(n * 4)
	if err != nil {
		return nil, err
	}
	s.buf = buf
	s.n = n
	return buf.Float32()[:n], nil
}

// Release returns the scratch memory to the pool.
func (s *scratch) Release(ctx *Context) error {
	if s.buf.IsNil() {
		return nil
	}
	err := ctx.Free(s.buf)
	s.buf = DevicePtr{}
	s.n = 0
	return err
}
