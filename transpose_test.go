package gunn

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTranspose2D(t *testing.T) {
	ctx := NewContext()
	s := ctx.DefaultStream()

	x := tensorFrom(t, ctx, Shape{2, 3}, []float32{
		1, 2, 3,
		4, 5, 6,
	})

	// Empty axes reverse the dimension order.
	y, err := (&Transpose{}).Run(ctx, s, x)
	require.NoError(t, err)
	defer ctx.FreeTensor(y)
	s.Synchronize()

	assert.Equal(t, Shape{3, 2}, y.Shape)
	assert.Equal(t, []float32{
		1, 4,
		2, 5,
		3, 6,
	}, y.Ptr.Float32()[:6])
}

func TestTranspose3D(t *testing.T) {
	ctx := NewContext()
	s := ctx.DefaultStream()

	data := make([]float32, 24)
	for i := range data {
		data[i] = float32(i)
	}
	x := tensorFrom(t, ctx, Shape{2, 3, 4}, data)

	op := &Transpose{Axes: []int{2, 0, 1}}
	y, err := op.Run(ctx, s, x)
	require.NoError(t, err)
	defer ctx.FreeTensor(y)
	s.Synchronize()

	assert.Equal(t, Shape{4, 2, 3}, y.Shape)

	// y[k][i][j] must equal x[i][j][k].
	out := y.Ptr.Float32()
	for i := 0; i < 2; i++ {
		for j := 0; j < 3; j++ {
			for k := 0; k < 4; k++ {
				assert.Equal(t, data[(i*3+j)*4+k], out[(k*2+i)*3+j], "(%d,%d,%d)", i, j, k)
			}
		}
	}
}

func TestTransposeGradientInverts(t *testing.T) {
	ctx := NewContext()
	s := ctx.DefaultStream()

	data := make([]float32, 24)
	for i := range data {
		data[i] = float32(i) * 0.5
	}
	x := tensorFrom(t, ctx, Shape{2, 3, 4}, data)

	axes := []int{1, 2, 0}
	y, err := (&Transpose{Axes: axes}).Run(ctx, s, x)
	require.NoError(t, err)
	defer ctx.FreeTensor(y)

	// Feeding the forward output through the gradient restores the
	// original element order.
	back, err := (&TransposeGradient{Axes: axes}).Run(ctx, s, y)
	require.NoError(t, err)
	defer ctx.FreeTensor(back)
	s.Synchronize()

	assert.Equal(t, x.Shape, back.Shape)
	assert.Equal(t, data, back.Ptr.Float32()[:24])
}

func TestTransposeFloat16(t *testing.T) {
	ctx := NewContext()
	s := ctx.DefaultStream()

	x, err := ctx.NewTensor(Shape{2, 2}, Float16Type)
	require.NoError(t, err)
	defer ctx.FreeTensor(x)
	h := x.Ptr.Float16()
	for i, v := range []float32{1, 2, 3, 4} {
		h[i] = FromFloat32(v)
	}

	y, err := (&Transpose{}).Run(ctx, s, x)
	require.NoError(t, err)
	defer ctx.FreeTensor(y)
	s.Synchronize()

	assert.Equal(t, Float16Type, y.DType)
	assert.Equal(t, float32(3), y.Ptr.Float16()[1].ToFloat32())
	assert.Equal(t, float32(2), y.Ptr.Float16()[2].ToFloat32())
}

func TestTransposeInvalidAxes(t *testing.T) {
	ctx := NewContext()
	s := ctx.DefaultStream()

	x := tensorFrom(t, ctx, Shape{2, 3}, make([]float32, 6))

	_, err := (&Transpose{Axes: []int{0}}).Run(ctx, s, x)
	assert.True(t, IsInvalidArgError(err))
	_, err = (&Transpose{Axes: []int{0, 0}}).Run(ctx, s, x)
	assert.True(t, IsInvalidArgError(err))
	_, err = (&Transpose{Axes: []int{0, 2}}).Run(ctx, s, x)
	assert.True(t, IsInvalidArgError(err))
}

func TestTransposeInferShape(t *testing.T) {
	desc, ok := DefaultRegistry.Lookup("Transpose")
	require.True(t, ok)

	shapes, err := desc.InferShape(&Transpose{Axes: []int{2, 0, 1}}, []Shape{{2, 3, 4}})
	require.NoError(t, err)
	assert.Equal(t, Shape{4, 2, 3}, shapes[0])

	shapes, err = desc.InferShape(&Transpose{}, []Shape{{2, 3, 4}})
	require.NoError(t, err)
	assert.Equal(t, Shape{4, 3, 2}, shapes[0])
}
