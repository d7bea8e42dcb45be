package gunn

import "fmt"

// DType tags the element type of a tensor buffer.
type DType int

const (
	Float32Type DType = iota
	Float16Type
	Int32Type
	Int64Type
)

// ElemSize returns the size of one element in bytes.
func (t DType) ElemSize() int {
	switch t {
	case Float32Type, Int32Type:
		return 4
	case Float16Type:
		return 2
	case Int64Type:
		return 8
	default:
		return 0
	}
}

func (t DType) String() string {
	switch t {
	case Float32Type:
		return "float32"
	case Float16Type:
		return "float16"
	case Int32Type:
		return "int32"
	case Int64Type:
		return "int64"
	default:
		return "unknown"
	}
}

// Layout is the memory order of a 4D image tensor.
type Layout int

const (
	// NCHW is batch-channel-height-width order.
	NCHW Layout = iota
	// NHWC is batch-height-width-channel order.
	NHWC
)

func (l Layout) String() string {
	if l == NHWC {
		return "NHWC"
	}
	return "NCHW"
}

// Shape is an ordered sequence of tensor dimensions.
type Shape []int

// Size returns the total number of elements.
func (s Shape) Size() int {
	n := 1
	for _, d := range s {
		n *= d
	}
	return n
}

// Rank returns the number of dimensions.
func (s Shape) Rank() int { return len(s) }

// Equal reports whether two shapes have the same rank and extents.
func (s Shape) Equal(o Shape) bool {
	if len(s) != len(o) {
		return false
	}
	for i := range s {
		if s[i] != o[i] {
			return false
		}
	}
	return true
}

// Clone returns a copy of the shape.
func (s Shape) Clone() Shape {
	out := make(Shape, len(s))
	copy(out, s)
	return out
}

// View is a strided tensor view: a shape plus per-dimension strides.
// It maps flat element indices to coordinates and coordinates to buffer
// offsets, replacing ad-hoc div/mod chains inside kernels.
type View struct {
	Dims    Shape
	Strides []int
}

// ContiguousView returns the row-major view of a shape.
func ContiguousView(dims Shape) View {
	strides := make([]int, len(dims))
	acc := 1
	for i := len(dims) - 1; i >= 0; i-- {
		strides[i] = acc
		acc *= dims[i]
	}
	return View{Dims: dims.Clone(), Strides: strides}
}

// Size returns the number of elements addressed by the view.
func (v View) Size() int { return v.Dims.Size() }

// Unravel decomposes a flat row-major index into coordinates,
// writing them into coords (which must have len(v.Dims)).
func (v View) Unravel(flat int, coords []int) {
	for i := len(v.Dims) - 1; i > 0; i-- {
		d := v.Dims[i]
		coords[i] = flat % d
		flat /= d
	}
	coords[0] = flat
}

// Ravel composes coordinates into a buffer offset using the view strides.
func (v View) Ravel(coords []int) int {
	off := 0
	for i, c := range coords {
		off += c * v.Strides[i]
	}
	return off
}

// Permute returns a view with dimensions and strides reordered by axes,
// so that Permute(axes).Dims[i] == v.Dims[axes[i]]. The underlying buffer
// is untouched.
func (v View) Permute(axes []int) (View, error) {
	if len(axes) != len(v.Dims) {
		return View{}, NewInvalidArgError("Permute", fmt.Sprintf("axes count %d does not match rank %d", len(axes), len(v.Dims)))
	}
	seen := make([]bool, len(axes))
	for _, a := range axes {
		if a < 0 || a >= len(axes) || seen[a] {
			return View{}, NewInvalidArgError("Permute", fmt.Sprintf("invalid axes permutation %v", axes))
		}
		seen[a] = true
	}
	dims := make(Shape, len(axes))
	strides := make([]int, len(axes))
	for i, a := range axes {
		dims[i] = v.Dims[a]
		strides[i] = v.Strides[a]
	}
	return View{Dims: dims, Strides: strides}, nil
}

// Tensor is an opaque handle exchanged with the executor: raw device
// memory plus shape and element type. Kernels never allocate their
// inputs; operators allocate only their declared outputs.
type Tensor struct {
	Ptr   DevicePtr
	Shape Shape
	DType DType
}

// NewTensor allocates a tensor of the given shape and element type from
// the context memory pool.
func (ctx *Context) NewTensor(shape Shape, dtype DType) (Tensor, error) {
	size := shape.Size() * dtype.ElemSize()
	if size == 0 {
		// Zero-element tensors keep a nil pointer; kernels short-circuit
		// on empty shapes.
		return Tensor{Shape: shape.Clone(), DType: dtype}, nil
	}
	ptr, err := ctx.Malloc(size)
	if err != nil {
		return Tensor{}, err
	}
	return Tensor{Ptr: ptr, Shape: shape.Clone(), DType: dtype}, nil
}

// NewTensorFrom allocates a float32 tensor and copies data into it.
func (ctx *Context) NewTensorFrom(shape Shape, data []float32) (Tensor, error) {
	if len(data) != shape.Size() {
		return Tensor{}, NewInvalidArgError("NewTensorFrom", fmt.Sprintf("data length %d does not match shape size %d", len(data), shape.Size()))
	}
	t, err := ctx.NewTensor(shape, Float32Type)
	if err != nil {
		return Tensor{}, err
	}
	copy(t.Ptr.Float32(), data)
	return t, nil
}

// FreeTensor returns the tensor's memory to the pool.
func (ctx *Context) FreeTensor(t Tensor) error {
	if t.Ptr.IsNil() {
		return nil
	}
	return ctx.Free(t.Ptr)
}

// Size returns the number of elements.
func (t Tensor) Size() int { return t.Shape.Size() }

// Dim returns the extent of dimension i.
func (t Tensor) Dim(i int) int { return t.Shape[i] }

// ZeroFill overwrites the tensor's memory with zero bytes. Gradient
// buffers that receive atomic accumulation must be zeroed first.
func (t Tensor) ZeroFill() {
	b := t.Ptr.Byte()
	n := t.Size() * t.DType.ElemSize()
	for i := 0; i < n; i++ {
		b[i] = 0
	}
}

// rows2D reshapes a tensor logically to (N, D): N is the leading
// dimension, D the product of the rest. Scalars become (1, 1). Only the
// trailing dims collapse, so a shape like (3, 0) keeps its three rows
// with D = 0 and reductions over it yield three identity elements.
func rows2D(t Tensor) (n, d int) {
	n = 1
	if t.Shape.Rank() > 0 {
		n = t.Shape[0]
	}
	if n > 0 {
		d = t.Size() / n
	}
	return n, d
}

// ConvPoolGeom carries the window geometry shared by pooling and padding
// operators: kernel extent, stride, and the four pad amounts.
type ConvPoolGeom struct {
	KernelH, KernelW int
	StrideH, StrideW int
	PadT, PadL       int
	PadB, PadR       int
}

// Validate checks the geometry invariants.
func (g ConvPoolGeom) Validate() error {
	if g.KernelH <= 0 || g.KernelW <= 0 {
		return NewInvalidArgError("ConvPoolGeom", "kernel extent must be positive")
	}
	if g.StrideH <= 0 || g.StrideW <= 0 {
		return NewInvalidArgError("ConvPoolGeom", "stride must be positive")
	}
	if g.PadT < 0 || g.PadL < 0 || g.PadB < 0 || g.PadR < 0 {
		return NewInvalidArgError("ConvPoolGeom", "pad must be non-negative")
	}
	return nil
}

// OutputHeight computes the pooled output height:
// floor((in + padT + padB - kernel)/stride) + 1.
func (g ConvPoolGeom) OutputHeight(in int) int {
	return (in+g.PadT+g.PadB-g.KernelH)/g.StrideH + 1
}

// OutputWidth computes the pooled output width.
func (g ConvPoolGeom) OutputWidth(in int) int {
	return (in+g.PadL+g.PadR-g.KernelW)/g.StrideW + 1
}

// PaddedHeight is the output height of the padding operator (kernel 1,
// stride 1): in + padT + padB.
func (g ConvPoolGeom) PaddedHeight(in int) int { return in + g.PadT + g.PadB }

// PaddedWidth is the output width of the padding operator.
func (g ConvPoolGeom) PaddedWidth(in int) int { return in + g.PadL + g.PadR }

// image4D unpacks a 4D shape into (batch, channels, height, width)
// according to the layout.
func image4D(s Shape, layout Layout) (n, c, h, w int) {
	if layout == NHWC {
		return s[0], s[3], s[1], s[2]
	}
	return s[0], s[1], s[2], s[3]
}

// makeImage4D builds a 4D shape from (batch, channels, height, width)
// according to the layout.
func makeImage4D(n, c, h, w int, layout Layout) Shape {
	if layout == NHWC {
		return Shape{n, h, w, c}
	}
	return Shape{n, c, h, w}
}
