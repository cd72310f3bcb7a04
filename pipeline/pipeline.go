// Copyright 2026 The Diffusers Authors. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package pipeline provides the public API for grounded latent-space image
// synthesis: text-to-image generation steered by per-region grounding
// instructions (bounding box + phrase and/or reference image), with optional
// region-constrained inpainting of a source image.
//
// Example:
//
//	p, err := pipeline.New(textEncoder, vae, predictor, scheduler.NewDDIM(),
//	    pipeline.WithVisionEncoder(visionEncoder),
//	    pipeline.WithProjectionWeights(projection),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	req := pipeline.DefaultGenerateRequest()
//	req.Prompts = []string{"a birthday cake on the table"}
//	req.GroundingBoxes = [][4]float32{{0.14, 0.21, 0.43, 0.71}}
//	req.GroundingPhrases = []string{"a birthday cake"}
//	req.Seed = 42
//
//	result, err := p.Generate(ctx, req)
package pipeline

import (
	"context"

	"github.com/tuanh123789/diffusers/internal/hub"
	"github.com/tuanh123789/diffusers/internal/pipeline"
	"github.com/tuanh123789/diffusers/internal/scheduler"
	"github.com/tuanh123789/diffusers/internal/tensor"
)

// Scheduler is the sampler contract consumed by New; see the scheduler
// package for implementations.
type Scheduler = scheduler.Scheduler

// RawTensor is re-exported for collaborator implementations; see the tensor
// package.
type RawTensor = tensor.RawTensor

// Pipeline generates images through grounded iterative denoising.
type Pipeline = pipeline.Pipeline

// Option configures a Pipeline.
type Option = pipeline.Option

// GenerateRequest are the parameters of one generation call.
type GenerateRequest = pipeline.GenerateRequest

// GenerateResult is the output of a generation call.
type GenerateResult = pipeline.GenerateResult

// OutputFormat selects the representation of generated samples.
type OutputFormat = pipeline.OutputFormat

// Supported output formats.
const (
	OutputLatent OutputFormat = pipeline.OutputLatent
	OutputTensor OutputFormat = pipeline.OutputTensor
	OutputImage  OutputFormat = pipeline.OutputImage
)

// DefaultMaxObjects is the fixed capacity of a grounding batch.
const DefaultMaxObjects = pipeline.DefaultMaxObjects

// Collaborator contracts.
type (
	// TextEncoder produces prompt and phrase embeddings.
	TextEncoder = pipeline.TextEncoder
	// VisionEncoder produces reference-image embeddings.
	VisionEncoder = pipeline.VisionEncoder
	// VAE encodes pixel tensors to latent space and back.
	VAE = pipeline.VAE
	// NoisePredictor is the denoising network contract.
	NoisePredictor = pipeline.NoisePredictor
	// SafetyChecker flags generated images containing unsafe content.
	SafetyChecker = pipeline.SafetyChecker
	// Conditioning is the per-pass conditioning block fed to the
	// noise predictor.
	Conditioning = pipeline.Conditioning
	// GroundingBatch is the fixed-capacity spatial conditioning block.
	GroundingBatch = pipeline.GroundingBatch
	// ProjectionWeights is the learned vision-embedding projection.
	ProjectionWeights = pipeline.ProjectionWeights
	// ProgressFunc observes denoising progress.
	ProgressFunc = pipeline.ProgressFunc
)

// New creates a Pipeline from its collaborators.
func New(text TextEncoder, vae VAE, predictor NoisePredictor, sched Scheduler, opts ...Option) (*Pipeline, error) {
	return pipeline.New(text, vae, predictor, sched, opts...)
}

// DefaultGenerateRequest returns a request with the conventional defaults.
func DefaultGenerateRequest() GenerateRequest {
	return pipeline.DefaultGenerateRequest()
}

// WithVisionEncoder enables grounding by reference image.
func WithVisionEncoder(v VisionEncoder) Option {
	return pipeline.WithVisionEncoder(v)
}

// WithProjectionWeights supplies the loaded projection handle.
func WithProjectionWeights(p *ProjectionWeights) Option {
	return pipeline.WithProjectionWeights(p)
}

// WithSafetyChecker enables content filtering of decoded images.
func WithSafetyChecker(sc SafetyChecker) Option {
	return pipeline.WithSafetyChecker(sc)
}

// WithMaxObjects overrides the grounding batch capacity.
func WithMaxObjects(n int) Option {
	return pipeline.WithMaxObjects(n)
}

// NewProjectionWeights wraps a 2D (out, in) weight matrix.
func NewProjectionWeights(matrix *RawTensor) (*ProjectionWeights, error) {
	return pipeline.NewProjectionWeights(matrix)
}

// LoadProjectionWeights fetches the projection artifact through the hub
// client and reads the weight matrix from it.
func LoadProjectionWeights(ctx context.Context, client *hub.Client, repo, filename string) (*ProjectionWeights, error) {
	return pipeline.LoadProjectionWeights(ctx, client, repo, filename)
}
