package gunn

import "fmt"

// One-hot expansion of integer class indices. The operator is purely a
// scatter of constants, so it registers no gradient.

func init() {
	mustRegister(OpDescriptor{
		Name:       "OneHot",
		NumInputs:  1,
		NumOutputs: 1,
		Doc: "Expands a vector of N int64 class indices into an (N, Depth) " +
			"float32 tensor with a single 1 per row.",
		Args: []ArgDoc{
			{Name: "depth", Doc: "Number of classes; every index must lie in [0, depth)."},
		},
		Inputs: []ArgDoc{
			{Name: "Indices", Doc: "1D int64 tensor of class indices."},
		},
		Outputs: []ArgDoc{
			{Name: "Y", Doc: "(N, Depth) float32 tensor, zero except one 1 per row."},
		},
		InferShape: func(args interface{}, inputs []Shape) ([]Shape, error) {
			op, ok := args.(*OneHot)
			if !ok {
				return nil, NewInvalidArgError("InferShape", "OneHot args expected")
			}
			if len(inputs) != 1 {
				return nil, NewInvalidArgError("InferShape", "OneHot takes one input")
			}
			if inputs[0].Rank() != 1 {
				return nil, errUnsupportedRank("OneHot", inputs[0].Rank())
			}
			if op.Depth <= 0 {
				return nil, NewInvalidArgError("OneHot", "depth must be positive")
			}
			return []Shape{{inputs[0][0], op.Depth}}, nil
		},
	})
}

// OneHot expands int64 class indices into one-hot float32 rows.
type OneHot struct {
	Depth int
}

// Run validates every index against Depth, zeroes the output and
// scatters a single 1 per row.
func (op *OneHot) Run(ctx *Context, s *Stream, indices Tensor) (Tensor, error) {
	opRuns.WithLabelValues("OneHot").Inc()
	if indices.Shape.Rank() != 1 {
		return Tensor{}, errUnsupportedRank("OneHot", indices.Shape.Rank())
	}
	if indices.DType != Int64Type {
		return Tensor{}, NewDTypeError("OneHot", indices.DType)
	}
	if op.Depth <= 0 {
		return Tensor{}, NewInvalidArgError("OneHot", "depth must be positive")
	}

	n := indices.Shape[0]
	idx := indices.Ptr.Int64()[:n]
	for i, v := range idx {
		if v < 0 || v >= int64(op.Depth) {
			return Tensor{}, NewInvalidArgError("OneHot",
				fmt.Sprintf("index %d at position %d out of range [0, %d)", v, i, op.Depth))
		}
	}

	y, err := ctx.NewTensor(Shape{n, op.Depth}, Float32Type)
	if err != nil {
		return Tensor{}, err
	}
	y.ZeroFill()
	out := y.Ptr.Float32()
	depth := op.Depth

	kernel := KernelFunc(func(tid ThreadID, args ...interface{}) {
		KernelLoop1D(tid, n, func(i int) {
			out[i*depth+int(idx[i])] = 1
		})
	})
	if err := launchOver(ctx, s, kernel, n); err != nil {
		ctx.FreeTensor(y)
		return Tensor{}, err
	}
	return y, nil
}
