package pipeline

import (
	"context"
	"fmt"
	"image"
	"math/rand"

	"github.com/tuanh123789/diffusers/internal/imageproc"
	"github.com/tuanh123789/diffusers/internal/scheduler"
	"github.com/tuanh123789/diffusers/internal/tensor"
)

// inpaintContext holds the per-call inpainting state: the encoded source
// latent, the region mask at latent resolution, and the precomputed
// mask-addition channels appended to the model input.
type inpaintContext struct {
	// latent is the encoded source image, (1, C, h, w), VAE-scaled.
	latent *tensor.RawTensor
	// mask is (1, 1, h, w): 0 inside grounded boxes (regenerate),
	// 1 elsewhere (preserve).
	mask *tensor.RawTensor
	// maskAddition is (repeatBatch, C+1, h, w): masked latent channels
	// plus the mask channel, replicated across the forward-pass batch.
	maskAddition *tensor.RawTensor
}

// drawInpaintMask rasterizes boxes onto an h×w latent grid. Box coordinates
// in [0, 1] scale to grid cells by integer truncation; overlapping boxes
// compose by repeated zeroing.
func drawInpaintMask(boxes [][4]float32, height, width int) *tensor.RawTensor {
	mask := tensor.Ones(tensor.Shape{1, 1, height, width})
	for _, box := range boxes {
		x0 := int(box[0] * float32(width))
		y0 := int(box[1] * float32(height))
		x1 := int(box[2] * float32(width))
		y1 := int(box[3] * float32(height))
		for y := y0; y < y1 && y < height; y++ {
			for x := x0; x < x1 && x < width; x++ {
				mask.Set(0, 0, 0, y, x)
			}
		}
	}
	return mask
}

// prepareInpaint encodes the source image and derives the per-call
// inpainting state. The source is center-cropped and resized to the VAE's
// expected square resolution when its dimensions differ.
func prepareInpaint(
	ctx context.Context,
	src image.Image,
	boxes [][4]float32,
	vae VAE,
	repeatBatch int,
	rng *rand.Rand,
) (*inpaintContext, error) {
	sampleSize := vae.SampleSize()
	bounds := src.Bounds()
	if bounds.Dx() != sampleSize || bounds.Dy() != sampleSize {
		src = imageproc.CenterCropResize(src, sampleSize)
	}

	pixels := imageproc.Normalize(src)
	latent, err := vae.Encode(ctx, pixels, rng)
	if err != nil {
		return nil, fmt.Errorf("encode inpaint source: %w", err)
	}
	latent = tensor.MulScalar(latent, vae.ScalingFactor())

	height, width := latent.Dim(2), latent.Dim(3)
	mask := drawInpaintMask(boxes, height, width)

	masked, err := tensor.Mul(latent, mask)
	if err != nil {
		return nil, fmt.Errorf("mask inpaint latent: %w", err)
	}
	addition, err := tensor.Concat([]*tensor.RawTensor{masked, mask}, 1)
	if err != nil {
		return nil, fmt.Errorf("build inpaint mask addition: %w", err)
	}
	addition, err = tensor.RepeatDim(addition, 0, repeatBatch)
	if err != nil {
		return nil, fmt.Errorf("replicate inpaint mask addition: %w", err)
	}

	return &inpaintContext{latent: latent, mask: mask, maskAddition: addition}, nil
}

// composite blends a freshly-noised copy of the source latent into the
// evolving sample. The source is re-noised with the same timestep as the
// main loop so the preserved region's noise level matches the generated
// region's; mismatched levels produce visible seams.
func (ic *inpaintContext) composite(
	latents *tensor.RawTensor,
	t int,
	sched scheduler.Scheduler,
	rng *rand.Rand,
) (*tensor.RawTensor, error) {
	noised, err := sched.AddNoise(ic.latent, tensor.RandnLike(ic.latent, rng), t)
	if err != nil {
		return nil, fmt.Errorf("noise inpaint latent: %w", err)
	}
	noised, err = tensor.RepeatDim(noised, 0, latents.Dim(0))
	if err != nil {
		return nil, fmt.Errorf("replicate inpaint latent: %w", err)
	}

	// mask == 1 outside boxes: the preserved region takes the re-noised
	// source, the grounded boxes keep the generated sample.
	out, err := tensor.Blend(noised, latents, ic.mask)
	if err != nil {
		return nil, fmt.Errorf("composite inpaint latent: %w", err)
	}
	return out, nil
}
