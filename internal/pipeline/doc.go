// Package pipeline implements grounded latent-space image synthesis:
// iterative denoising conditioned jointly on a free-text prompt and a set of
// spatial grounding instructions, each pairing a rectangular region with a
// descriptive phrase, a reference image, or both. A source image may
// optionally be supplied for region-constrained inpainting.
//
// Every denoising step runs the noise-prediction network twice with
// identical input: once with the grounding batch active and once with a
// shape-identical null batch. The guidance combiner takes the conditional
// half of the grounded pass and the unconditional half of the ungrounded
// pass, so grounding strengthens the prompt direction without contaminating
// the negative direction.
//
// The encoder networks, autoencoder, scheduler mathematics, and safety
// filter are collaborators behind narrow interfaces; see encoders.go and the
// scheduler package.
package pipeline
