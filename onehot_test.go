package gunn

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func indexTensor(t *testing.T, ctx *Context, values []int64) Tensor {
	t.Helper()
	x, err := ctx.NewTensor(Shape{len(values)}, Int64Type)
	require.NoError(t, err)
	copy(x.Ptr.Int64(), values)
	t.Cleanup(func() { ctx.FreeTensor(x) })
	return x
}

func TestOneHot(t *testing.T) {
	ctx := NewContext()
	s := ctx.DefaultStream()

	indices := indexTensor(t, ctx, []int64{0, 2, 1})
	op := OneHot{Depth: 3}

	y, err := op.Run(ctx, s, indices)
	require.NoError(t, err)
	defer ctx.FreeTensor(y)
	s.Synchronize()

	assert.Equal(t, Shape{3, 3}, y.Shape)
	assert.Equal(t, []float32{
		1, 0, 0,
		0, 0, 1,
		0, 1, 0,
	}, y.Ptr.Float32()[:9])
}

func TestOneHotIndexOutOfRange(t *testing.T) {
	ctx := NewContext()
	s := ctx.DefaultStream()

	op := OneHot{Depth: 3}

	over := indexTensor(t, ctx, []int64{0, 3})
	_, err := op.Run(ctx, s, over)
	assert.True(t, IsInvalidArgError(err))

	negative := indexTensor(t, ctx, []int64{-1})
	_, err = op.Run(ctx, s, negative)
	assert.True(t, IsInvalidArgError(err))
}

func TestOneHotValidation(t *testing.T) {
	ctx := NewContext()
	s := ctx.DefaultStream()

	indices := indexTensor(t, ctx, []int64{0})
	_, err := (&OneHot{Depth: 0}).Run(ctx, s, indices)
	assert.True(t, IsInvalidArgError(err))

	floats := tensorFrom(t, ctx, Shape{2}, []float32{0, 1})
	_, err = (&OneHot{Depth: 2}).Run(ctx, s, floats)
	assert.True(t, IsDTypeError(err))

	matrix, err := ctx.NewTensor(Shape{2, 2}, Int64Type)
	require.NoError(t, err)
	defer ctx.FreeTensor(matrix)
	_, err = (&OneHot{Depth: 2}).Run(ctx, s, matrix)
	assert.True(t, IsShapeError(err))
}

func TestOneHotHasNoGradient(t *testing.T) {
	_, ok := DefaultRegistry.Lookup("OneHot")
	assert.True(t, ok)
	_, ok = DefaultRegistry.Gradient("OneHot")
	assert.False(t, ok)
}
