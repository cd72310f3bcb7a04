package pipeline

import (
	"context"
	"image"
	"math/rand"

	"github.com/tuanh123789/diffusers/internal/tensor"
)

// TextEncoder produces text embeddings. Tokenization and the encoder network
// live behind this contract.
type TextEncoder interface {
	// Encode returns per-token hidden states for a prompt,
	// shape (1, seq, hidden).
	Encode(ctx context.Context, text string) (*tensor.RawTensor, error)

	// Pooled returns the sentence-level embedding for a phrase,
	// length == HiddenSize().
	Pooled(ctx context.Context, text string) ([]float32, error)

	// HiddenSize returns the encoder's hidden dimension.
	HiddenSize() int
}

// VisionEncoder produces a single embedding vector for a reference image.
type VisionEncoder interface {
	Encode(ctx context.Context, img image.Image) ([]float32, error)
}

// VAE encodes pixel tensors to latent space and back.
type VAE interface {
	// Encode maps a (1, 3, H, W) pixel tensor in [-1, 1] to a latent
	// sample (1, LatentChannels, H/ScaleFactor, W/ScaleFactor). The
	// generator drives posterior sampling.
	Encode(ctx context.Context, pixels *tensor.RawTensor, rng *rand.Rand) (*tensor.RawTensor, error)

	// Decode maps latents back to a pixel tensor in [-1, 1].
	Decode(ctx context.Context, latents *tensor.RawTensor) (*tensor.RawTensor, error)

	// ScalingFactor is the constant latents are multiplied by after
	// encoding (and divided by before decoding).
	ScalingFactor() float32

	// SampleSize is the square pixel resolution the encoder expects.
	SampleSize() int

	// LatentChannels is the channel count of the latent space.
	LatentChannels() int

	// ScaleFactor is the spatial compression factor between pixel and
	// latent space.
	ScaleFactor() int
}

// Conditioning carries everything the noise-prediction network consumes
// besides the latent sample and the timestep.
//
// Grounding is always shape-complete: the ablation pass receives a null
// (all-zero, all-inactive) batch rather than a nil one, so the network sees
// identical tensor shapes on both passes. GroundingActive is the explicit
// per-pass gate for the network's gated cross-attention modules; there is no
// module-level toggle.
type Conditioning struct {
	// PromptEmbeddings has shape (batch, seq, hidden). Under
	// classifier-free guidance the batch axis holds the unconditional
	// half first, then the conditional half.
	PromptEmbeddings *tensor.RawTensor

	// Grounding is the spatial instruction batch (real or null).
	Grounding *GroundingBatch

	// GroundingActive switches the gated cross-attention path on.
	GroundingActive bool
}

// NoisePredictor is the denoising network contract.
type NoisePredictor interface {
	// Predict returns the predicted noise residual for the given latent
	// input and timestep. The output has shape
	// (batch, LatentChannels, h, w) regardless of extra input channels
	// appended for inpainting.
	Predict(ctx context.Context, latents *tensor.RawTensor, t int, cond Conditioning) (*tensor.RawTensor, error)

	// InChannels is the channel count the network expects without
	// inpainting extras.
	InChannels() int
}

// SafetyChecker flags generated images containing unsafe content.
type SafetyChecker interface {
	Check(ctx context.Context, images []image.Image) ([]bool, error)
}
