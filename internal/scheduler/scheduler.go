// Package scheduler defines the diffusion scheduler contract consumed by the
// denoising loop, and provides a DDIM implementation.
//
// The pipeline treats schedulers as pluggable collaborators. Instead of
// probing a scheduler's step signature at runtime, every scheduler declares
// up front which optional step parameters it honors via Capabilities.
package scheduler

import (
	"math/rand"

	"github.com/tuanh123789/diffusers/internal/tensor"
)

// Capabilities declares which optional step parameters a scheduler honors.
// Parameters a scheduler does not declare are silently ignored by it.
type Capabilities struct {
	// AcceptsEta reports whether Step consumes StepOptions.Eta.
	AcceptsEta bool
	// AcceptsGenerator reports whether Step consumes StepOptions.Rng.
	AcceptsGenerator bool
}

// StepOptions carries the optional parameters of a scheduler step.
type StepOptions struct {
	// Eta scales the stochastic variance contribution (DDIM η).
	Eta float32
	// Rng drives variance noise sampling for stochastic schedulers.
	Rng *rand.Rand
}

// Scheduler advances a latent sample through the reverse diffusion process.
type Scheduler interface {
	// SetTimesteps configures the inference schedule for n steps.
	SetTimesteps(n int)

	// Timesteps returns the configured schedule, front to back.
	Timesteps() []int

	// Order returns the scheduler order (number of model evaluations per
	// effective step).
	Order() int

	// InitNoiseSigma returns the standard deviation the initial noise
	// sample must be scaled by.
	InitNoiseSigma() float32

	// ScaleModelInput applies the scheduler's per-timestep input scaling.
	ScaleModelInput(x *tensor.RawTensor, t int) *tensor.RawTensor

	// Step computes the previous sample x_{t-1} from the model's noise
	// prediction and the current sample x_t.
	Step(noise *tensor.RawTensor, t int, latents *tensor.RawTensor, opts StepOptions) (*tensor.RawTensor, error)

	// AddNoise diffuses a clean latent to the noise level of timestep t.
	AddNoise(latent, noise *tensor.RawTensor, t int) (*tensor.RawTensor, error)

	// Capabilities declares which StepOptions fields this scheduler honors.
	Capabilities() Capabilities
}
