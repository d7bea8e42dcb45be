package gunn

import "fmt"

// Axes-permutation transpose. The kernel walks the output linearly,
// unravels each index against the output extents and ravels the
// permuted coordinates against the input strides; no per-rank special
// cases. The gradient is a transpose by the inverse permutation.

func init() {
	mustRegister(OpDescriptor{
		Name:       "Transpose",
		NumInputs:  1,
		NumOutputs: 1,
		Doc: "Permutes the axes of a tensor; an empty axes argument reverses " +
			"them.",
		Args: []ArgDoc{
			{Name: "axes", Doc: "Permutation of [0, rank); empty means reverse order."},
		},
		Inputs: []ArgDoc{
			{Name: "X", Doc: "Input tensor of any rank."},
		},
		Outputs: []ArgDoc{
			{Name: "Y", Doc: "Input with axes permuted."},
		},
		InferShape: func(args interface{}, inputs []Shape) ([]Shape, error) {
			op, ok := args.(*Transpose)
			if !ok {
				return nil, NewInvalidArgError("InferShape", "Transpose args expected")
			}
			if len(inputs) != 1 {
				return nil, NewInvalidArgError("InferShape", "Transpose takes one input")
			}
			axes, err := op.resolvedAxes(inputs[0].Rank())
			if err != nil {
				return nil, err
			}
			out := make(Shape, len(axes))
			for i, a := range axes {
				out[i] = inputs[0][a]
			}
			return []Shape{out}, nil
		},
	})
	mustRegister(OpDescriptor{
		Name:       "TransposeGradient",
		NumInputs:  1,
		NumOutputs: 1,
	})
	mustRegisterGradient("Transpose", GradientDef{
		GradOp:  "TransposeGradient",
		Inputs:  []BlobRef{RefOutputGrad(0)},
		Outputs: []BlobRef{RefInputGrad(0)},
	})
}

// Transpose permutes tensor axes. A nil Axes reverses them.
type Transpose struct {
	Axes []int
}

// resolvedAxes validates Axes against the rank, defaulting to reverse
// order when empty.
func (op *Transpose) resolvedAxes(rank int) ([]int, error) {
	if len(op.Axes) == 0 {
		axes := make([]int, rank)
		for i := range axes {
			axes[i] = rank - 1 - i
		}
		return axes, nil
	}
	if len(op.Axes) != rank {
		return nil, NewInvalidArgError("Transpose",
			fmt.Sprintf("axes has %d entries for rank %d", len(op.Axes), rank))
	}
	seen := make([]bool, rank)
	for _, a := range op.Axes {
		if a < 0 || a >= rank || seen[a] {
			return nil, NewInvalidArgError("Transpose",
				fmt.Sprintf("axes %v is not a permutation of [0, %d)", op.Axes, rank))
		}
		seen[a] = true
	}
	return op.Axes, nil
}

func inversePermutation(axes []int) []int {
	inv := make([]int, len(axes))
	for i, a := range axes {
		inv[a] = i
	}
	return inv
}

// Run executes the transpose, allocating the permuted output.
func (op *Transpose) Run(ctx *Context, s *Stream, x Tensor) (Tensor, error) {
	opRuns.WithLabelValues("Transpose").Inc()
	axes, err := op.resolvedAxes(x.Shape.Rank())
	if err != nil {
		return Tensor{}, err
	}
	return transposeBy(ctx, s, x, axes)
}

// TransposeGradient transposes the output gradient by the inverse of
// the forward permutation.
type TransposeGradient struct {
	Axes []int
}

func (op *TransposeGradient) Run(ctx *Context, s *Stream, dy Tensor) (Tensor, error) {
	opRuns.WithLabelValues("TransposeGradient").Inc()
	fwd := Transpose{Axes: op.Axes}
	axes, err := fwd.resolvedAxes(dy.Shape.Rank())
	if err != nil {
		return Tensor{}, err
	}
	return transposeBy(ctx, s, dy, inversePermutation(axes))
}

func transposeBy(ctx *Context, s *Stream, x Tensor, axes []int) (Tensor, error) {
	load, _, ok := scalarAccessors(x)
	if !ok {
		return Tensor{}, NewDTypeError("Transpose", x.DType)
	}

	outShape := make(Shape, len(axes))
	for i, a := range axes {
		outShape[i] = x.Shape[a]
	}
	// Permuting the input view by axes leaves a view whose dimension
	// order matches the output; raveling output coordinates against its
	// strides lands on the source element.
	inView, err := ContiguousView(x.Shape).Permute(axes)
	if err != nil {
		return Tensor{}, err
	}

	y, err := ctx.NewTensor(outShape, x.DType)
	if err != nil {
		return Tensor{}, err
	}
	_, store, _ := scalarAccessors(y)
	outView := ContiguousView(outShape)
	size := outShape.Size()
	rank := len(axes)

	kernel := KernelFunc(func(tid ThreadID, args ...interface{}) {
		co := make([]int, rank)
		KernelLoop1D(tid, size, func(i int) {
			outView.Unravel(i, co)
			store(i, load(inView.Ravel(co)))
		})
	})
	if err := launchOver(ctx, s, kernel, size); err != nil {
		ctx.FreeTensor(y)
		return Tensor{}, err
	}
	return y, nil
}
