package pipeline

import (
	"context"
	"image/color"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tuanh123789/diffusers/internal/scheduler"
	"github.com/tuanh123789/diffusers/internal/tensor"
)

func TestDrawInpaintMask(t *testing.T) {
	t.Run("no boxes preserves everything", func(t *testing.T) {
		mask := drawInpaintMask(nil, 8, 8)
		assert.Equal(t, tensor.Shape{1, 1, 8, 8}, mask.Shape())
		for _, v := range mask.Data() {
			require.Equal(t, float32(1), v)
		}
	})

	t.Run("box zeroes its quadrant", func(t *testing.T) {
		mask := drawInpaintMask([][4]float32{{0, 0, 0.5, 0.5}}, 8, 8)
		for y := 0; y < 8; y++ {
			for x := 0; x < 8; x++ {
				want := float32(1)
				if y < 4 && x < 4 {
					want = 0
				}
				require.Equal(t, want, mask.At(0, 0, y, x), "y=%d x=%d", y, x)
			}
		}
	})

	t.Run("overlapping boxes compose", func(t *testing.T) {
		mask := drawInpaintMask([][4]float32{
			{0, 0, 0.5, 0.5},
			{0.25, 0.25, 0.75, 0.75},
		}, 8, 8)
		assert.Equal(t, float32(0), mask.At(0, 0, 0, 0))
		assert.Equal(t, float32(0), mask.At(0, 0, 5, 5))
		assert.Equal(t, float32(1), mask.At(0, 0, 7, 7))
	})
}

func TestPrepareInpaint(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	vae := &mockVAE{}

	ic, err := prepareInpaint(
		context.Background(),
		uniformImage(64, color.White),
		[][4]float32{{0, 0, 0.5, 1}},
		vae, 2, rng,
	)
	require.NoError(t, err)

	assert.Equal(t, tensor.Shape{1, 4, 8, 8}, ic.latent.Shape())
	assert.Equal(t, tensor.Shape{1, 1, 8, 8}, ic.mask.Shape())
	assert.Equal(t, tensor.Shape{2, 5, 8, 8}, ic.maskAddition.Shape())

	// The encoded source carries the scaling factor.
	scaled := float64(0.5 * vae.ScalingFactor())
	assert.InDelta(t, scaled, float64(ic.latent.At(0, 0, 0, 0)), 1e-6)

	// Left half is masked out of the latent channels, right half survives.
	assert.Zero(t, ic.maskAddition.At(0, 0, 3, 0))
	assert.InDelta(t, scaled, float64(ic.maskAddition.At(0, 0, 3, 7)), 1e-6)

	// Final channel is the mask itself, replicated across the batch.
	assert.Equal(t, float32(0), ic.maskAddition.At(0, 4, 3, 0))
	assert.Equal(t, float32(1), ic.maskAddition.At(0, 4, 3, 7))
	assert.Equal(t, float32(0), ic.maskAddition.At(1, 4, 3, 0))
	assert.Equal(t, float32(1), ic.maskAddition.At(1, 4, 3, 7))
}

func TestPrepareInpaintResizesSource(t *testing.T) {
	rng := rand.New(rand.NewSource(1))

	ic, err := prepareInpaint(
		context.Background(),
		uniformImage(32, color.White),
		nil, &mockVAE{}, 1, rng,
	)
	require.NoError(t, err)
	assert.Equal(t, tensor.Shape{1, 4, 8, 8}, ic.latent.Shape())
}

func TestCompositeFullRegeneration(t *testing.T) {
	rng := rand.New(rand.NewSource(2))
	sched := scheduler.NewDDIM()
	sched.SetTimesteps(10)

	ic, err := prepareInpaint(
		context.Background(),
		uniformImage(64, color.White),
		[][4]float32{{0, 0, 1, 1}},
		&mockVAE{}, 2, rng,
	)
	require.NoError(t, err)

	latents := tensor.Randn(tensor.Shape{2, 4, 8, 8}, rng)
	out, err := ic.composite(latents, sched.Timesteps()[0], sched, rng)
	require.NoError(t, err)

	// A box covering the whole frame leaves nothing to preserve; the
	// generated sample passes through untouched.
	assert.Equal(t, latents.Data(), out.Data())
}

func TestCompositePreservesOutsideBoxes(t *testing.T) {
	sched := scheduler.NewDDIM()
	sched.SetTimesteps(10)
	timestep := sched.Timesteps()[0]

	ic, err := prepareInpaint(
		context.Background(),
		uniformImage(64, color.White),
		nil, &mockVAE{}, 2,
		rand.New(rand.NewSource(3)),
	)
	require.NoError(t, err)

	// Reproduce the composite's noise draw with an identically seeded
	// generator.
	expectedNoise := tensor.RandnLike(ic.latent, rand.New(rand.NewSource(4)))
	expected, err := sched.AddNoise(ic.latent, expectedNoise, timestep)
	require.NoError(t, err)
	expected, err = tensor.RepeatDim(expected, 0, 2)
	require.NoError(t, err)

	latents := tensor.Randn(tensor.Shape{2, 4, 8, 8}, rand.New(rand.NewSource(5)))
	out, err := ic.composite(latents, timestep, sched, rand.New(rand.NewSource(4)))
	require.NoError(t, err)

	// Without boxes the whole frame is preserved: the output is the
	// re-noised source, not the evolving sample.
	assert.Equal(t, expected.Data(), out.Data())
	assert.NotEqual(t, latents.Data(), out.Data())
}
