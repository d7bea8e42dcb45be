package gunn

import (
	"math"

	"gonum.org/v1/gonum/blas/blas32"
)

// Batched pairwise distance operators. Both inputs carry N rows of D
// elements, N being the leading dimension and D the product of the
// rest, and must agree exactly in shape; each operator reduces every
// row pair to one scalar and the paired gradient operator expands the
// per-row upstream gradient back across the row.
//
// CosineSimilarity clamps squared norms at DistanceEpsilon before the
// square root, and the L1 gradient treats differences within
// DistanceEpsilon of zero as flat, so both stay finite on degenerate
// rows.

func init() {
	registerDistance("SquaredL2Distance",
		"Row-wise half squared Euclidean distance, sum((X-Y)^2)/2 per row.")
	registerDistance("L1Distance",
		"Row-wise L1 distance, sum(|X-Y|) per row.")
	registerDistance("DotProduct",
		"Row-wise inner product between paired rows of X and Y.")
	registerDistance("CosineSimilarity",
		"Row-wise cosine similarity; squared norms are clamped at a small "+
			"epsilon to keep zero rows finite.")
}

// registerDistance installs the shared descriptor shape of a distance
// operator: two equal-shaped inputs, one scalar per row, and a gradient
// operator consuming both inputs plus the upstream row gradients.
func registerDistance(name, doc string) {
	mustRegister(OpDescriptor{
		Name:       name,
		NumInputs:  2,
		NumOutputs: 1,
		Doc:        doc,
		Inputs: []ArgDoc{
			{Name: "X", Doc: "First input; N rows of D elements."},
			{Name: "Y", Doc: "Second input; must match the shape of X."},
		},
		Outputs: []ArgDoc{
			{Name: "Z", Doc: "One scalar per row, shape (N)."},
		},
		InferShape: func(args interface{}, inputs []Shape) ([]Shape, error) {
			if len(inputs) != 2 {
				return nil, NewInvalidArgError("InferShape", name+" takes two inputs")
			}
			if !inputs[0].Equal(inputs[1]) {
				return nil, errDimensionMismatch(name, inputs[0], inputs[1])
			}
			n := 1
			if inputs[0].Rank() > 0 {
				n = inputs[0][0]
			}
			return []Shape{{n}}, nil
		},
	})
	mustRegister(OpDescriptor{
		Name:       name + "Gradient",
		NumInputs:  3,
		NumOutputs: 2,
	})
	mustRegisterGradient(name, GradientDef{
		GradOp:  name + "Gradient",
		Inputs:  []BlobRef{RefInput(0), RefInput(1), RefOutputGrad(0)},
		Outputs: []BlobRef{RefInputGrad(0), RefInputGrad(1)},
	})
}

// pairedRows validates a distance operator's inputs and returns the row
// count and row width.
func pairedRows(op string, x, y Tensor) (n, d int, err error) {
	if !x.Shape.Equal(y.Shape) {
		return 0, 0, errDimensionMismatch(op, x.Shape, y.Shape)
	}
	if x.DType != Float32Type {
		return 0, 0, NewDTypeError(op, x.DType)
	}
	if y.DType != Float32Type {
		return 0, 0, NewDTypeError(op, y.DType)
	}
	n, d = rows2D(x)
	return n, d, nil
}

// gradPair validates gradient inputs: x and y as for the forward pass,
// dz holding one scalar per row.
func gradPair(op string, x, y, dz Tensor) (n, d int, err error) {
	n, d, err = pairedRows(op, x, y)
	if err != nil {
		return 0, 0, err
	}
	if dz.DType != Float32Type {
		return 0, 0, NewDTypeError(op, dz.DType)
	}
	if dz.Shape.Size() != n {
		return 0, 0, NewShapeError(op, "row gradient count must match row count", dz.Shape)
	}
	return n, d, nil
}

// rowVec views one row of a packed (N, D) buffer as a blas32 vector.
func rowVec(data []float32, i, d int) blas32.Vector {
	return blas32.Vector{N: d, Inc: 1, Data: data[i*d : (i+1)*d]}
}

// SquaredL2Distance computes sum((X-Y)^2)/2 per row.
type SquaredL2Distance struct{}

// SquaredL2DistanceGradient expands row gradients as dX = dZ*(X-Y) and
// dY = -dX.
type SquaredL2DistanceGradient struct{}

func (SquaredL2Distance) Run(ctx *Context, s *Stream, x, y Tensor) (Tensor, error) {
	opRuns.WithLabelValues("SquaredL2Distance").Inc()
	n, d, err := pairedRows("SquaredL2Distance", x, y)
	if err != nil {
		return Tensor{}, err
	}
	z, err := ctx.NewTensor(Shape{n}, Float32Type)
	if err != nil {
		return Tensor{}, err
	}
	xd, yd, out := x.Ptr.Float32(), y.Ptr.Float32(), z.Ptr.Float32()
	err = rowReduceFunc(ctx, s, n, d, SumOp, func(i, j int) float32 {
		diff := xd[i*d+j] - yd[i*d+j]
		return diff * diff
	}, out)
	if err != nil {
		ctx.FreeTensor(z)
		return Tensor{}, err
	}
	if err := scaleRows(ctx, s, out, n, 0.5); err != nil {
		ctx.FreeTensor(z)
		return Tensor{}, err
	}
	return z, nil
}

func (SquaredL2DistanceGradient) Run(ctx *Context, s *Stream, x, y, dz Tensor) (dx, dy Tensor, err error) {
	opRuns.WithLabelValues("SquaredL2DistanceGradient").Inc()
	n, d, err := gradPair("SquaredL2DistanceGradient", x, y, dz)
	if err != nil {
		return Tensor{}, Tensor{}, err
	}
	dx, dy, err = gradOutputs(ctx, x.Shape)
	if err != nil {
		return Tensor{}, Tensor{}, err
	}
	xd, yd := x.Ptr.Float32(), y.Ptr.Float32()
	dzd := dz.Ptr.Float32()
	dxd, dyd := dx.Ptr.Float32(), dy.Ptr.Float32()
	size := n * d

	kernel := KernelFunc(func(tid ThreadID, args ...interface{}) {
		KernelLoop1D(tid, size, func(idx int) {
			g := dzd[idx/d] * (xd[idx] - yd[idx])
			dxd[idx] = g
			dyd[idx] = -g
		})
	})
	if err := launchOver(ctx, s, kernel, size); err != nil {
		freeGradOutputs(ctx, dx, dy)
		return Tensor{}, Tensor{}, err
	}
	return dx, dy, nil
}

// L1Distance computes sum(|X-Y|) per row.
type L1Distance struct{}

// L1DistanceGradient routes each row gradient through the sign of the
// elementwise difference; differences within DistanceEpsilon of zero
// contribute nothing.
type L1DistanceGradient struct{}

func (L1Distance) Run(ctx *Context, s *Stream, x, y Tensor) (Tensor, error) {
	opRuns.WithLabelValues("L1Distance").Inc()
	n, d, err := pairedRows("L1Distance", x, y)
	if err != nil {
		return Tensor{}, err
	}
	z, err := ctx.NewTensor(Shape{n}, Float32Type)
	if err != nil {
		return Tensor{}, err
	}
	xd, yd := x.Ptr.Float32(), y.Ptr.Float32()
	err = rowReduceFunc(ctx, s, n, d, SumOp, func(i, j int) float32 {
		return float32(math.Abs(float64(xd[i*d+j] - yd[i*d+j])))
	}, z.Ptr.Float32())
	if err != nil {
		ctx.FreeTensor(z)
		return Tensor{}, err
	}
	return z, nil
}

func (L1DistanceGradient) Run(ctx *Context, s *Stream, x, y, dz Tensor) (dx, dy Tensor, err error) {
	opRuns.WithLabelValues("L1DistanceGradient").Inc()
	n, d, err := gradPair("L1DistanceGradient", x, y, dz)
	if err != nil {
		return Tensor{}, Tensor{}, err
	}
	dx, dy, err = gradOutputs(ctx, x.Shape)
	if err != nil {
		return Tensor{}, Tensor{}, err
	}
	xd, yd := x.Ptr.Float32(), y.Ptr.Float32()
	dzd := dz.Ptr.Float32()
	dxd, dyd := dx.Ptr.Float32(), dy.Ptr.Float32()
	size := n * d

	kernel := KernelFunc(func(tid ThreadID, args ...interface{}) {
		KernelLoop1D(tid, size, func(idx int) {
			diff := xd[idx] - yd[idx]
			g := dzd[idx/d]
			switch {
			case diff < -DistanceEpsilon:
				dxd[idx], dyd[idx] = -g, g
			case diff > DistanceEpsilon:
				dxd[idx], dyd[idx] = g, -g
			default:
				dxd[idx], dyd[idx] = 0, 0
			}
		})
	})
	if err := launchOver(ctx, s, kernel, size); err != nil {
		freeGradOutputs(ctx, dx, dy)
		return Tensor{}, Tensor{}, err
	}
	return dx, dy, nil
}

// DotProduct computes the inner product of paired rows.
type DotProduct struct{}

// DotProductGradient expands row gradients as dX = dZ*Y and dY = dZ*X.
type DotProductGradient struct{}

func (DotProduct) Run(ctx *Context, s *Stream, x, y Tensor) (Tensor, error) {
	opRuns.WithLabelValues("DotProduct").Inc()
	n, d, err := pairedRows("DotProduct", x, y)
	if err != nil {
		return Tensor{}, err
	}
	z, err := ctx.NewTensor(Shape{n}, Float32Type)
	if err != nil {
		return Tensor{}, err
	}
	xd, yd := x.Ptr.Float32(), y.Ptr.Float32()
	err = rowReduceFunc(ctx, s, n, d, SumOp, func(i, j int) float32 {
		return xd[i*d+j] * yd[i*d+j]
	}, z.Ptr.Float32())
	if err != nil {
		ctx.FreeTensor(z)
		return Tensor{}, err
	}
	return z, nil
}

func (DotProductGradient) Run(ctx *Context, s *Stream, x, y, dz Tensor) (dx, dy Tensor, err error) {
	opRuns.WithLabelValues("DotProductGradient").Inc()
	n, d, err := gradPair("DotProductGradient", x, y, dz)
	if err != nil {
		return Tensor{}, Tensor{}, err
	}
	dx, dy, err = gradOutputs(ctx, x.Shape)
	if err != nil {
		return Tensor{}, Tensor{}, err
	}
	xd, yd := x.Ptr.Float32(), y.Ptr.Float32()
	dzd := dz.Ptr.Float32()
	dxd, dyd := dx.Ptr.Float32(), dy.Ptr.Float32()

	kernel := KernelFunc(func(tid ThreadID, args ...interface{}) {
		BlockLoop(tid, n, func(i int) {
			g := dzd[i]
			copy(dxd[i*d:(i+1)*d], yd[i*d:(i+1)*d])
			copy(dyd[i*d:(i+1)*d], xd[i*d:(i+1)*d])
			blas32.Scal(g, rowVec(dxd, i, d))
			blas32.Scal(g, rowVec(dyd, i, d))
		})
	})
	if err := launchRows(ctx, s, kernel, n); err != nil {
		freeGradOutputs(ctx, dx, dy)
		return Tensor{}, Tensor{}, err
	}
	return dx, dy, nil
}

// CosineSimilarity computes dot(X,Y) / (|X| * |Y|) per row, clamping
// each squared norm at DistanceEpsilon.
type CosineSimilarity struct {
	aux scratch
}

// CosineSimilarityGradient expands row gradients as
//
//	dX = scale*Y - scale*(xy/|X|^2)*X, scale = dZ/(|X|*|Y|)
//
// and symmetrically for dY.
type CosineSimilarityGradient struct {
	aux scratch
}

func (op *CosineSimilarity) Run(ctx *Context, s *Stream, x, y Tensor) (Tensor, error) {
	opRuns.WithLabelValues("CosineSimilarity").Inc()
	n, d, err := pairedRows("CosineSimilarity", x, y)
	if err != nil {
		return Tensor{}, err
	}
	z, err := ctx.NewTensor(Shape{n}, Float32Type)
	if err != nil {
		return Tensor{}, err
	}
	aux, err := op.aux.grow(ctx, 2*n)
	if err != nil {
		ctx.FreeTensor(z)
		return Tensor{}, err
	}
	x2, y2 := aux[:n], aux[n:2*n]
	xd, yd := x.Ptr.Float32(), y.Ptr.Float32()
	out := z.Ptr.Float32()

	steps := []error{
		rowReduceFunc(ctx, s, n, d, SumOp, func(i, j int) float32 {
			v := xd[i*d+j]
			return v * v
		}, x2),
		rowReduceFunc(ctx, s, n, d, SumOp, func(i, j int) float32 {
			v := yd[i*d+j]
			return v * v
		}, y2),
		rowReduceFunc(ctx, s, n, d, SumOp, func(i, j int) float32 {
			return xd[i*d+j] * yd[i*d+j]
		}, out),
	}
	for _, err := range steps {
		if err != nil {
			ctx.FreeTensor(z)
			return Tensor{}, err
		}
	}

	kernel := KernelFunc(func(tid ThreadID, args ...interface{}) {
		KernelLoop1D(tid, n, func(i int) {
			out[i] /= float32(math.Sqrt(float64(clampNorm(x2[i]) * clampNorm(y2[i]))))
		})
	})
	if err := launchOver(ctx, s, kernel, n); err != nil {
		ctx.FreeTensor(z)
		return Tensor{}, err
	}
	return z, nil
}

func (op *CosineSimilarityGradient) Run(ctx *Context, s *Stream, x, y, dz Tensor) (dx, dy Tensor, err error) {
	opRuns.WithLabelValues("CosineSimilarityGradient").Inc()
	n, d, err := gradPair("CosineSimilarityGradient", x, y, dz)
	if err != nil {
		return Tensor{}, Tensor{}, err
	}
	dx, dy, err = gradOutputs(ctx, x.Shape)
	if err != nil {
		return Tensor{}, Tensor{}, err
	}
	aux, err := op.aux.grow(ctx, 3*n)
	if err != nil {
		freeGradOutputs(ctx, dx, dy)
		return Tensor{}, Tensor{}, err
	}
	x2, y2, xy := aux[:n], aux[n:2*n], aux[2*n:3*n]
	xd, yd := x.Ptr.Float32(), y.Ptr.Float32()
	dzd := dz.Ptr.Float32()
	dxd, dyd := dx.Ptr.Float32(), dy.Ptr.Float32()

	steps := []error{
		rowReduceFunc(ctx, s, n, d, SumOp, func(i, j int) float32 {
			v := xd[i*d+j]
			return v * v
		}, x2),
		rowReduceFunc(ctx, s, n, d, SumOp, func(i, j int) float32 {
			v := yd[i*d+j]
			return v * v
		}, y2),
		rowReduceFunc(ctx, s, n, d, SumOp, func(i, j int) float32 {
			return xd[i*d+j] * yd[i*d+j]
		}, xy),
	}
	for _, err := range steps {
		if err != nil {
			freeGradOutputs(ctx, dx, dy)
			return Tensor{}, Tensor{}, err
		}
	}

	kernel := KernelFunc(func(tid ThreadID, args ...interface{}) {
		BlockLoop(tid, n, func(i int) {
			xn2 := clampNorm(x2[i])
			yn2 := clampNorm(y2[i])
			xyn := float32(math.Sqrt(float64(xn2 * yn2)))
			scale := dzd[i] / xyn

			copy(dxd[i*d:(i+1)*d], yd[i*d:(i+1)*d])
			blas32.Scal(scale, rowVec(dxd, i, d))
			blas32.Axpy(-scale*xy[i]/xn2, rowVec(xd, i, d), rowVec(dxd, i, d))

			copy(dyd[i*d:(i+1)*d], xd[i*d:(i+1)*d])
			blas32.Scal(scale, rowVec(dyd, i, d))
			blas32.Axpy(-scale*xy[i]/yn2, rowVec(yd, i, d), rowVec(dyd, i, d))
		})
	})
	if err := launchRows(ctx, s, kernel, n); err != nil {
		freeGradOutputs(ctx, dx, dy)
		return Tensor{}, Tensor{}, err
	}
	return dx, dy, nil
}

// Release returns the operator's scratch buffer to the pool.
func (op *CosineSimilarity) Release(ctx *Context) error { return op.aux.Release(ctx) }

// Release returns the operator's scratch buffer to the pool.
func (op *CosineSimilarityGradient) Release(ctx *Context) error { return op.aux.Release(ctx) }

func clampNorm(v float32) float32 {
	if v < DistanceEpsilon {
		return DistanceEpsilon
	}
	return v
}

// launchOver runs a grid-stride kernel covering size linear elements.
func launchOver(ctx *Context, s *Stream, kernel KernelFunc, size int) error {
	grid := Dim3{X: GridFor(size), Y: 1, Z: 1}
	block := Dim3{X: BlockSize, Y: 1, Z: 1}
	return ctx.LaunchFuncStream(kernel, grid, block, s)
}

// launchRows runs a block-per-row kernel covering n rows.
func launchRows(ctx *Context, s *Stream, kernel KernelFunc, n int) error {
	grid := Dim3{X: GridForRows(n), Y: 1, Z: 1}
	block := Dim3{X: 1, Y: 1, Z: 1}
	return ctx.LaunchFuncStream(kernel, grid, block, s)
}

// scaleRows multiplies n packed scalars in place.
func scaleRows(ctx *Context, s *Stream, data []float32, n int, alpha float32) error {
	kernel := KernelFunc(func(tid ThreadID, args ...interface{}) {
		KernelLoop1D(tid, n, func(i int) { data[i] *= alpha })
	})
	return launchOver(ctx, s, kernel, n)
}

// gradOutputs allocates the paired gradient tensors of a distance
// operator, both shaped like the forward inputs.
func gradOutputs(ctx *Context, shape Shape) (dx, dy Tensor, err error) {
	dx, err = ctx.NewTensor(shape, Float32Type)
	if err != nil {
		return Tensor{}, Tensor{}, err
	}
	dy, err = ctx.NewTensor(shape, Float32Type)
	if err != nil {
		ctx.FreeTensor(dx)
		return Tensor{}, Tensor{}, err
	}
	return dx, dy, nil
}

func freeGradOutputs(ctx *Context, dx, dy Tensor) {
	ctx.FreeTensor(dx)
	ctx.FreeTensor(dy)
}
