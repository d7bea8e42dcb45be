package gunn

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSin(t *testing.T) {
	ctx := NewContext()
	s := ctx.DefaultStream()

	in := []float32{0, float32(math.Pi / 2), float32(math.Pi), -1.5, 100}
	x := tensorFrom(t, ctx, Shape{5}, in)

	y, err := (Sin{}).Run(ctx, s, x)
	require.NoError(t, err)
	defer ctx.FreeTensor(y)
	s.Synchronize()

	out := y.Ptr.Float32()
	tol := DefaultTolerance()
	for i, v := range in {
		want := float32(math.Sin(float64(v)))
		assert.True(t, Float32NearEqual(want, out[i], tol), "sin(%f): want %f got %f", v, want, out[i])
	}
}

func TestSinGradient(t *testing.T) {
	ctx := NewContext()
	s := ctx.DefaultStream()

	in := []float32{0, 1, -2, 0.5}
	x := tensorFrom(t, ctx, Shape{4}, in)
	dy := tensorFrom(t, ctx, Shape{4}, []float32{1, 2, 3, -1})

	dx, err := (SinGradient{}).Run(ctx, s, x, dy)
	require.NoError(t, err)
	defer ctx.FreeTensor(dx)
	s.Synchronize()

	out := dx.Ptr.Float32()
	dyd := []float32{1, 2, 3, -1}
	tol := DefaultTolerance()
	for i, v := range in {
		want := dyd[i] * float32(math.Cos(float64(v)))
		assert.True(t, Float32NearEqual(want, out[i], tol), "index %d: want %f got %f", i, want, out[i])
	}
}

func TestSinFloat16(t *testing.T) {
	ctx := NewContext()
	s := ctx.DefaultStream()

	x, err := ctx.NewTensor(Shape{3}, Float16Type)
	require.NoError(t, err)
	defer ctx.FreeTensor(x)
	h := x.Ptr.Float16()
	for i, v := range []float32{0, 1, -1} {
		h[i] = FromFloat32(v)
	}

	y, err := (Sin{}).Run(ctx, s, x)
	require.NoError(t, err)
	defer ctx.FreeTensor(y)
	s.Synchronize()

	assert.Equal(t, Float16Type, y.DType)
	tol := RelaxedTolerance()
	assert.True(t, Float32NearEqual(0, y.Ptr.Float16()[0].ToFloat32(), tol))
	assert.True(t, Float32NearEqual(float32(math.Sin(1)), y.Ptr.Float16()[1].ToFloat32(), tol))
}

func TestSinGradientShapeMismatch(t *testing.T) {
	ctx := NewContext()
	s := ctx.DefaultStream()

	x := tensorFrom(t, ctx, Shape{4}, make([]float32, 4))
	dy := tensorFrom(t, ctx, Shape{5}, make([]float32, 5))

	_, err := (SinGradient{}).Run(ctx, s, x, dy)
	assert.True(t, IsShapeError(err))
}
