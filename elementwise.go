package gunn

import "math"

// Elementwise trigonometric operators. Shape and element type pass
// through unchanged; the gradient is a pure local map, so no atomics or
// reductions are involved.

func init() {
	mustRegister(OpDescriptor{
		Name:       "Sin",
		NumInputs:  1,
		NumOutputs: 1,
		Doc:        "Applies sine elementwise; the output keeps the input shape.",
		Inputs: []ArgDoc{
			{Name: "X", Doc: "Input tensor of any shape."},
		},
		Outputs: []ArgDoc{
			{Name: "Y", Doc: "sin(X), same shape as X."},
		},
		InferShape: func(args interface{}, inputs []Shape) ([]Shape, error) {
			if len(inputs) != 1 {
				return nil, NewInvalidArgError("InferShape", "Sin takes one input")
			}
			return []Shape{inputs[0].Clone()}, nil
		},
	})
	mustRegister(OpDescriptor{
		Name:       "SinGradient",
		NumInputs:  2,
		NumOutputs: 1,
	})
	mustRegisterGradient("Sin", GradientDef{
		GradOp:  "SinGradient",
		Inputs:  []BlobRef{RefInput(0), RefOutputGrad(0)},
		Outputs: []BlobRef{RefInputGrad(0)},
	})
}

// Sin is the forward elementwise sine operator.
type Sin struct{}

// SinGradient computes dX = dY * cos(X).
type SinGradient struct{}

func (Sin) Run(ctx *Context, s *Stream, x Tensor) (Tensor, error) {
	opRuns.WithLabelValues("Sin").Inc()
	load, _, ok := scalarAccessors(x)
	if !ok {
		return Tensor{}, NewDTypeError("Sin", x.DType)
	}
	y, err := ctx.NewTensor(x.Shape, x.DType)
	if err != nil {
		return Tensor{}, err
	}
	_, store, _ := scalarAccessors(y)
	size := x.Size()

	kernel := KernelFunc(func(tid ThreadID, args ...interface{}) {
		KernelLoop1D(tid, size, func(i int) {
			store(i, float32(math.Sin(float64(load(i)))))
		})
	})
	if err := launchOver(ctx, s, kernel, size); err != nil {
		ctx.FreeTensor(y)
		return Tensor{}, err
	}
	return y, nil
}

func (SinGradient) Run(ctx *Context, s *Stream, x, dy Tensor) (Tensor, error) {
	opRuns.WithLabelValues("SinGradient").Inc()
	if !x.Shape.Equal(dy.Shape) {
		return Tensor{}, errDimensionMismatch("SinGradient", x.Shape, dy.Shape)
	}
	if x.DType != dy.DType {
		return Tensor{}, NewDTypeError("SinGradient", dy.DType)
	}
	loadX, _, ok := scalarAccessors(x)
	if !ok {
		return Tensor{}, NewDTypeError("SinGradient", x.DType)
	}
	loadDY, _, _ := scalarAccessors(dy)
	dx, err := ctx.NewTensor(x.Shape, x.DType)
	if err != nil {
		return Tensor{}, err
	}
	_, store, _ := scalarAccessors(dx)
	size := x.Size()

	kernel := KernelFunc(func(tid ThreadID, args ...interface{}) {
		KernelLoop1D(tid, size, func(i int) {
			store(i, loadDY(i)*float32(math.Cos(float64(loadX(i)))))
		})
	})
	if err := launchOver(ctx, s, kernel, size); err != nil {
		ctx.FreeTensor(dx)
		return Tensor{}, err
	}
	return dx, nil
}
