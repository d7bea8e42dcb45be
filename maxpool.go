package gunn

import "math"

// Max pooling with an explicit argmax mask. The forward pass emits, next
// to each pooled maximum, the flat spatial index (h*width + w) of the
// input cell that produced it; the backward pass consumes the mask and
// routes each upstream gradient entirely to its recorded argmax cell.
// Deterministic: the first maximum in row-major window order wins, and
// ties are not split.

func init() {
	mustRegister(OpDescriptor{
		Name:       "MaxPoolWithIndex",
		NumInputs:  1,
		NumOutputs: 2,
		Doc: "Applies max pooling across a 4D NCHW input according to kernel, " +
			"stride and pad geometry, and additionally produces a mask of flat " +
			"spatial argmax indices reused by the gradient pass.",
		Inputs: []ArgDoc{
			{Name: "X", Doc: "Input tensor of shape (N, C, H, W)."},
		},
		Outputs: []ArgDoc{
			{Name: "Y", Doc: "Pooled tensor; spatial extent derived from the window geometry."},
			{Name: "Index", Doc: "Flat spatial argmax per pooled cell, consumed by the gradient operator."},
		},
		InferShape: func(args interface{}, inputs []Shape) ([]Shape, error) {
			op, ok := args.(*MaxPoolWithIndex)
			if !ok {
				return nil, NewInvalidArgError("InferShape", "MaxPoolWithIndex args expected")
			}
			if len(inputs) != 1 {
				return nil, NewInvalidArgError("InferShape", "MaxPoolWithIndex takes one input")
			}
			out, err := op.outputShape(inputs[0])
			if err != nil {
				return nil, err
			}
			return []Shape{out, out}, nil
		},
	})
	mustRegister(OpDescriptor{
		Name:       "MaxPoolWithIndexGradient",
		NumInputs:  3,
		NumOutputs: 1,
	})
	mustRegisterGradient("MaxPoolWithIndex", GradientDef{
		GradOp:  "MaxPoolWithIndexGradient",
		Inputs:  []BlobRef{RefInput(0), RefOutputGrad(0), RefOutput(1)},
		Outputs: []BlobRef{RefInputGrad(0)},
	})
}

// MaxPoolWithIndex is the forward max pooling operator. Only 4D NCHW
// tensors of float32 or Float16 elements are supported.
type MaxPoolWithIndex struct {
	Geom ConvPoolGeom
}

// MaxPoolWithIndexGradient is the paired backward operator.
type MaxPoolWithIndexGradient struct {
	Geom ConvPoolGeom
}

func (op *MaxPoolWithIndex) outputShape(in Shape) (Shape, error) {
	if in.Rank() != 4 {
		return nil, errUnsupportedRank("MaxPoolWithIndex", in.Rank())
	}
	if err := op.Geom.Validate(); err != nil {
		return nil, err
	}
	n, c, h, w := image4D(in, NCHW)
	return Shape{n, c, op.Geom.OutputHeight(h), op.Geom.OutputWidth(w)}, nil
}

// scalarAccessors returns load/store closures reading and writing the
// tensor's elements as float32, converting for half precision.
func scalarAccessors(t Tensor) (load func(int) float32, store func(int, float32), ok bool) {
	switch t.DType {
	case Float32Type:
		data := t.Ptr.Float32()
		return func(i int) float32 { return data[i] },
			func(i int, v float32) { data[i] = v },
			true
	case Float16Type:
		data := t.Ptr.Float16()
		return func(i int) float32 { return data[i].ToFloat32() },
			func(i int, v float32) { data[i] = FromFloat32(v) },
			true
	default:
		return nil, nil, false
	}
}

// Run executes the forward pass on the given stream, allocating the
// pooled output and the argmax mask.
func (op *MaxPoolWithIndex) Run(ctx *Context, s *Stream, x Tensor) (y, mask Tensor, err error) {
	opRuns.WithLabelValues("MaxPoolWithIndex").Inc()

	outShape, err := op.outputShape(x.Shape)
	if err != nil {
		return Tensor{}, Tensor{}, err
	}
	load, _, ok := scalarAccessors(x)
	if !ok {
		return Tensor{}, Tensor{}, NewDTypeError("MaxPoolWithIndex", x.DType)
	}

	y, err = ctx.NewTensor(outShape, x.DType)
	if err != nil {
		return Tensor{}, Tensor{}, err
	}
	mask, err = ctx.NewTensor(outShape, Int32Type)
	if err != nil {
		ctx.FreeTensor(y)
		return Tensor{}, Tensor{}, err
	}

	_, c, h, w := image4D(x.Shape, NCHW)
	g := op.Geom

	outSize := outShape.Size()
	_, store, _ := scalarAccessors(y)
	maskData := mask.Ptr.Int32()
	outView := ContiguousView(outShape)

	kernel := KernelFunc(func(tid ThreadID, args ...interface{}) {
		KernelLoop1D(tid, outSize, func(index int) {
			var co [4]int
			outView.Unravel(index, co[:])
			n, ci, ph, pw := co[0], co[1], co[2], co[3]

			hstart := ph*g.StrideH - g.PadT
			wstart := pw*g.StrideW - g.PadL
			hend := min(hstart+g.KernelH, h)
			wend := min(wstart+g.KernelW, w)
			hstart = max(hstart, 0)
			wstart = max(wstart, 0)

			maxval := float32(-math.MaxFloat32)
			maxidx := int32(-1)
			base := (n*c + ci) * h * w
			for hh := hstart; hh < hend; hh++ {
				for ww := wstart; ww < wend; ww++ {
					if v := load(base + hh*w + ww); v > maxval {
						maxidx = int32(hh*w + ww)
						maxval = v
					}
				}
			}
			store(index, maxval)
			maskData[index] = maxidx
		})
	})

	grid := Dim3{X: GridFor(outSize), Y: 1, Z: 1}
	block := Dim3{X: BlockSize, Y: 1, Z: 1}
	if err := ctx.LaunchFuncStream(kernel, grid, block, s); err != nil {
		ctx.FreeTensor(y)
		ctx.FreeTensor(mask)
		return Tensor{}, Tensor{}, err
	}
	return y, mask, nil
}

// Run executes the backward pass: for each input cell, it scans the
// pooled cells whose window could have covered it and accumulates the
// upstream gradient wherever the recorded argmax matches.
func (op *MaxPoolWithIndexGradient) Run(ctx *Context, s *Stream, x, dy, mask Tensor) (dx Tensor, err error) {
	opRuns.WithLabelValues("MaxPoolWithIndexGradient").Inc()

	if x.Shape.Rank() != 4 {
		return Tensor{}, errUnsupportedRank("MaxPoolWithIndexGradient", x.Shape.Rank())
	}
	if err := op.Geom.Validate(); err != nil {
		return Tensor{}, err
	}
	loadDY, _, ok := scalarAccessors(dy)
	if !ok || dy.DType != x.DType {
		return Tensor{}, NewDTypeError("MaxPoolWithIndexGradient", dy.DType)
	}

	dx, err = ctx.NewTensor(x.Shape, x.DType)
	if err != nil {
		return Tensor{}, err
	}

	_, c, _, w := image4D(x.Shape, NCHW)
	_, _, pooledH, pooledW := image4D(dy.Shape, NCHW)
	g := op.Geom

	inSize := x.Shape.Size()
	_, storeDX, _ := scalarAccessors(dx)
	maskData := mask.Ptr.Int32()
	inView := ContiguousView(x.Shape)

	kernel := KernelFunc(func(tid ThreadID, args ...interface{}) {
		KernelLoop1D(tid, inSize, func(index int) {
			var co [4]int
			inView.Unravel(index, co[:])
			n, ci, hh, ww := co[0], co[1], co[2], co[3]

			phstart := 0
			if hh+g.PadT >= g.KernelH {
				phstart = (hh+g.PadT-g.KernelH)/g.StrideH + 1
			}
			phend := min((hh+g.PadT)/g.StrideH+1, pooledH)
			pwstart := 0
			if ww+g.PadL >= g.KernelW {
				pwstart = (ww+g.PadL-g.KernelW)/g.StrideW + 1
			}
			pwend := min((ww+g.PadL)/g.StrideW+1, pooledW)

			gradient := float32(0)
			offset := (n*c + ci) * pooledH * pooledW
			flat := int32(hh*w + ww)
			for ph := phstart; ph < phend; ph++ {
				for pw := pwstart; pw < pwend; pw++ {
					if maskData[offset+ph*pooledW+pw] == flat {
						gradient += loadDY(offset + ph*pooledW + pw)
					}
				}
			}
			storeDX(index, gradient)
		})
	})

	grid := Dim3{X: GridFor(inSize), Y: 1, Z: 1}
	block := Dim3{X: BlockSize, Y: 1, Z: 1}
	if err := ctx.LaunchFuncStream(kernel, grid, block, s); err != nil {
		ctx.FreeTensor(dx)
		return Tensor{}, err
	}
	return dx, nil
}
