package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tuanh123789/diffusers/internal/tensor"
)

func TestCombineGuidanceWithoutCFG(t *testing.T) {
	grounded := tensor.Full(tensor.Shape{1, 2, 2, 2}, 3)
	ungrounded := tensor.Full(tensor.Shape{1, 2, 2, 2}, 7)

	out, err := combineGuidance(grounded, ungrounded, 7.5, false)
	require.NoError(t, err)

	assert.Equal(t, grounded.Data(), out.Data())

	// The result is independent of the input tensor.
	out.Set(99, 0, 0, 0, 0)
	assert.Equal(t, float32(3), grounded.At(0, 0, 0, 0))
}

func TestCombineGuidanceScaleOne(t *testing.T) {
	// Batch axis: unconditional half first, conditional half second.
	grounded, err := tensor.FromSlice([]float32{2, 2, 3, 3}, tensor.Shape{2, 1, 1, 2})
	require.NoError(t, err)
	ungrounded, err := tensor.FromSlice([]float32{1, 1, 5, 5}, tensor.Shape{2, 1, 1, 2})
	require.NoError(t, err)

	out, err := combineGuidance(grounded, ungrounded, 1, true)
	require.NoError(t, err)

	// At scale 1 the result is exactly the grounded conditional half.
	assert.Equal(t, tensor.Shape{1, 1, 1, 2}, out.Shape())
	assert.Equal(t, []float32{3, 3}, out.Data())
}

func TestCombineGuidanceFormula(t *testing.T) {
	grounded, err := tensor.FromSlice([]float32{0, 0, 3, 3}, tensor.Shape{2, 1, 1, 2})
	require.NoError(t, err)
	ungrounded, err := tensor.FromSlice([]float32{1, 1, 9, 9}, tensor.Shape{2, 1, 1, 2})
	require.NoError(t, err)

	out, err := combineGuidance(grounded, ungrounded, 2, true)
	require.NoError(t, err)

	// uncond + scale * (cond - uncond) = 1 + 2 * (3 - 1) = 5.
	assert.Equal(t, []float32{5, 5}, out.Data())
}
