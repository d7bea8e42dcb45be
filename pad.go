package gunn

// Image padding over 4D tensors in NCHW or NHWC order. Every padded
// output cell maps back to an input coordinate by pad-offset
// subtraction; the mode decides what happens when that coordinate falls
// outside the input:
//
//   - constant: the cell takes a fixed fill value
//   - reflect:  the coordinate is mirrored without repeating the edge,
//     h' = min(max(h, -h), 2*height-h-2); requires pad < dim (unchecked)
//   - edge:     the coordinate clamps to the nearest valid cell
//
// The backward pass inverts the mapping. Constant mode is a pure gather
// (each input cell reads exactly one padded cell). Reflect and edge
// modes scatter with atomic adds because several padded cells can fold
// onto one input cell; their gradient buffer is zeroed before launch.

// PadMode selects the out-of-bounds policy.
type PadMode int

const (
	PadConstant PadMode = iota
	PadReflect
	PadEdge
)

func (m PadMode) String() string {
	switch m {
	case PadReflect:
		return "reflect"
	case PadEdge:
		return "edge"
	default:
		return "constant"
	}
}

func init() {
	mustRegister(OpDescriptor{
		Name:       "PadImage",
		NumInputs:  1,
		NumOutputs: 1,
		Doc: "Pads the spatial dimensions of a 4D image tensor in constant, " +
			"reflect or edge mode; layout may be NCHW or NHWC.",
		Inputs: []ArgDoc{
			{Name: "X", Doc: "Input image tensor; 4D in the configured layout."},
		},
		Outputs: []ArgDoc{
			{Name: "Y", Doc: "Padded tensor; spatial extent grows by the pad amounts."},
		},
		InferShape: func(args interface{}, inputs []Shape) ([]Shape, error) {
			op, ok := args.(*PadImage)
			if !ok {
				return nil, NewInvalidArgError("InferShape", "PadImage args expected")
			}
			if len(inputs) != 1 {
				return nil, NewInvalidArgError("InferShape", "PadImage takes one input")
			}
			out, err := op.outputShape(inputs[0])
			if err != nil {
				return nil, err
			}
			return []Shape{out}, nil
		},
	})
	mustRegister(OpDescriptor{
		Name:       "PadImageGradient",
		NumInputs:  1,
		NumOutputs: 1,
	})
	mustRegisterGradient("PadImage", GradientDef{
		GradOp:  "PadImageGradient",
		Inputs:  []BlobRef{RefOutputGrad(0)},
		Outputs: []BlobRef{RefInputGrad(0)},
	})
}

// PadImage is the forward padding operator.
type PadImage struct {
	Mode   PadMode
	Value  float32 // fill value, constant mode only
	Layout Layout
	PadT   int
	PadL   int
	PadB   int
	PadR   int
}

// PadImageGradient is the paired backward operator. It receives only the
// output gradient; the input extent is recovered by subtracting pads.
type PadImageGradient struct {
	Mode   PadMode
	Layout Layout
	PadT   int
	PadL   int
	PadB   int
	PadR   int
}

func (op *PadImage) outputShape(in Shape) (Shape, error) {
	if in.Rank() != 4 {
		return nil, errUnsupportedRank("PadImage", in.Rank())
	}
	if op.PadT < 0 || op.PadL < 0 || op.PadB < 0 || op.PadR < 0 {
		return nil, NewInvalidArgError("PadImage", "pad must be non-negative")
	}
	n, c, h, w := image4D(in, op.Layout)
	return makeImage4D(n, c, h+op.PadT+op.PadB, w+op.PadL+op.PadR, op.Layout), nil
}

// unpad maps a padded coordinate to the input coordinate for the mode,
// reporting whether it lands inside the input (always true for reflect
// and edge).
func unpad(mode PadMode, ph, pw, padT, padL, height, width int) (h, w int, inside bool) {
	h = ph - padT
	w = pw - padL
	switch mode {
	case PadReflect:
		h = max(h, -h)
		w = max(w, -w)
		h = min(h, 2*height-h-2)
		w = min(w, 2*width-w-2)
		return h, w, true
	case PadEdge:
		h = min(height-1, max(h, 0))
		w = min(width-1, max(w, 0))
		return h, w, true
	default:
		return h, w, h >= 0 && w >= 0 && h < height && w < width
	}
}

// imageCoords reads (n, c, h, w) out of unraveled 4D coordinates in the
// given layout order.
func imageCoords(co []int, layout Layout) (n, c, h, w int) {
	if layout == NHWC {
		return co[0], co[3], co[1], co[2]
	}
	return co[0], co[1], co[2], co[3]
}

// imageOffset composes the flat offset of (n, c, h, w) for a buffer of
// the given extents in the given layout.
func imageOffset(n, c, h, w, channels, height, width int, layout Layout) int {
	if layout == NHWC {
		return ((n*height+h)*width+w)*channels + c
	}
	return ((n*channels+c)*height+h)*width + w
}

// Run executes the forward pass, allocating the padded output.
func (op *PadImage) Run(ctx *Context, s *Stream, x Tensor) (Tensor, error) {
	opRuns.WithLabelValues("PadImage").Inc()

	outShape, err := op.outputShape(x.Shape)
	if err != nil {
		return Tensor{}, err
	}
	if x.DType != Float32Type {
		return Tensor{}, NewDTypeError("PadImage", x.DType)
	}

	y, err := ctx.NewTensor(outShape, Float32Type)
	if err != nil {
		return Tensor{}, err
	}

	_, c, h, w := image4D(x.Shape, op.Layout)
	in := x.Ptr.Float32()
	out := y.Ptr.Float32()
	outView := ContiguousView(outShape)
	outSize := outShape.Size()
	mode, layout, value := op.Mode, op.Layout, op.Value
	padT, padL := op.PadT, op.PadL

	kernel := KernelFunc(func(tid ThreadID, args ...interface{}) {
		KernelLoop1D(tid, outSize, func(index int) {
			var co [4]int
			outView.Unravel(index, co[:])
			n, ci, ph, pw := imageCoords(co[:], layout)
			hh, ww, inside := unpad(mode, ph, pw, padT, padL, h, w)
			if !inside {
				out[index] = value
				return
			}
			out[index] = in[imageOffset(n, ci, hh, ww, c, h, w, layout)]
		})
	})

	grid := Dim3{X: GridFor(outSize), Y: 1, Z: 1}
	block := Dim3{X: BlockSize, Y: 1, Z: 1}
	if err := ctx.LaunchFuncStream(kernel, grid, block, s); err != nil {
		ctx.FreeTensor(y)
		return Tensor{}, err
	}
	return y, nil
}

func (op *PadImageGradient) inputShape(padded Shape) (Shape, error) {
	if padded.Rank() != 4 {
		return nil, errUnsupportedRank("PadImageGradient", padded.Rank())
	}
	n, c, ph, pw := image4D(padded, op.Layout)
	h := ph - op.PadT - op.PadB
	w := pw - op.PadL - op.PadR
	if h <= 0 || w <= 0 {
		return nil, NewShapeError("PadImageGradient", "pad amounts exceed padded extent", padded)
	}
	return makeImage4D(n, c, h, w, op.Layout), nil
}

// Run executes the backward pass. Constant mode gathers; reflect and
// edge modes scatter atomically into a zero-initialized buffer.
func (op *PadImageGradient) Run(ctx *Context, s *Stream, dy Tensor) (Tensor, error) {
	opRuns.WithLabelValues("PadImageGradient").Inc()

	inShape, err := op.inputShape(dy.Shape)
	if err != nil {
		return Tensor{}, err
	}
	if dy.DType != Float32Type {
		return Tensor{}, NewDTypeError("PadImageGradient", dy.DType)
	}

	dx, err := ctx.NewTensor(inShape, Float32Type)
	if err != nil {
		return Tensor{}, err
	}

	_, c, h, w := image4D(inShape, op.Layout)
	dyData := dy.Ptr.Float32()
	dxData := dx.Ptr.Float32()
	layout := op.Layout
	padT, padL := op.PadT, op.PadL

	var kernel KernelFunc
	var launchSize int

	if op.Mode == PadConstant {
		// Each input cell reads exactly one padded cell: direct gather
		// over the input extent, no zeroing or atomics needed.
		_, _, paddedH, paddedW := image4D(dy.Shape, layout)
		inView := ContiguousView(inShape)
		launchSize = inShape.Size()
		kernel = func(tid ThreadID, args ...interface{}) {
			KernelLoop1D(tid, launchSize, func(index int) {
				var co [4]int
				inView.Unravel(index, co[:])
				n, ci, hh, ww := imageCoords(co[:], layout)
				dxData[index] = dyData[imageOffset(n, ci, hh+padT, ww+padL, c, paddedH, paddedW, layout)]
			})
		}
	} else {
		// Several padded cells can fold onto one input cell: scatter
		// over the padded extent with atomic accumulation.
		dx.ZeroFill()
		mode := op.Mode
		outView := ContiguousView(dy.Shape)
		launchSize = dy.Shape.Size()
		kernel = func(tid ThreadID, args ...interface{}) {
			KernelLoop1D(tid, launchSize, func(index int) {
				var co [4]int
				outView.Unravel(index, co[:])
				n, ci, ph, pw := imageCoords(co[:], layout)
				hh, ww, _ := unpad(mode, ph, pw, padT, padL, h, w)
				AtomicAddFloat32(&dxData[imageOffset(n, ci, hh, ww, c, h, w, layout)], dyData[index])
			})
		}
	}

	grid := Dim3{X: GridFor(launchSize), Y: 1, Z: 1}
	block := Dim3{X: BlockSize, Y: 1, Z: 1}
	if err := ctx.LaunchFuncStream(kernel, grid, block, s); err != nil {
		ctx.FreeTensor(dx)
		return Tensor{}, err
	}
	return dx, nil
}
