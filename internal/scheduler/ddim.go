package scheduler

import (
	"fmt"
	"math"

	"github.com/tuanh123789/diffusers/internal/tensor"
)

// DDIM default hyperparameters (Stable Diffusion convention).
const (
	defaultTrainTimesteps = 1000
	defaultBetaStart      = 0.00085
	defaultBetaEnd        = 0.012
)

// DDIM implements the denoising diffusion implicit models sampler with a
// scaled-linear beta schedule.
type DDIM struct {
	trainTimesteps int
	alphasCumprod  []float64
	finalAlpha     float64
	timesteps      []int
	numSteps       int
}

// DDIMOption configures a DDIM scheduler.
type DDIMOption func(*ddimOptions)

type ddimOptions struct {
	trainTimesteps int
	betaStart      float64
	betaEnd        float64
}

// WithTrainTimesteps sets the length of the training noise schedule.
func WithTrainTimesteps(n int) DDIMOption {
	return func(o *ddimOptions) {
		o.trainTimesteps = n
	}
}

// WithBetaRange sets the endpoints of the scaled-linear beta schedule.
func WithBetaRange(start, end float64) DDIMOption {
	return func(o *ddimOptions) {
		o.betaStart = start
		o.betaEnd = end
	}
}

// NewDDIM creates a DDIM scheduler.
func NewDDIM(opts ...DDIMOption) *DDIM {
	options := &ddimOptions{
		trainTimesteps: defaultTrainTimesteps,
		betaStart:      defaultBetaStart,
		betaEnd:        defaultBetaEnd,
	}
	for _, opt := range opts {
		opt(options)
	}

	n := options.trainTimesteps
	alphasCumprod := make([]float64, n)
	cumprod := 1.0
	sqrtStart := math.Sqrt(options.betaStart)
	sqrtEnd := math.Sqrt(options.betaEnd)
	for i := 0; i < n; i++ {
		frac := 0.0
		if n > 1 {
			frac = float64(i) / float64(n-1)
		}
		sqrtBeta := sqrtStart + (sqrtEnd-sqrtStart)*frac
		beta := sqrtBeta * sqrtBeta
		cumprod *= 1 - beta
		alphasCumprod[i] = cumprod
	}

	return &DDIM{
		trainTimesteps: n,
		alphasCumprod:  alphasCumprod,
		finalAlpha:     alphasCumprod[0],
	}
}

// SetTimesteps configures the inference schedule for n steps.
func (d *DDIM) SetTimesteps(n int) {
	if n > d.trainTimesteps {
		n = d.trainTimesteps
	}
	d.numSteps = n
	stepRatio := d.trainTimesteps / n

	d.timesteps = make([]int, n)
	for i := 0; i < n; i++ {
		d.timesteps[i] = (n - 1 - i) * stepRatio
	}
}

// Timesteps returns the configured schedule, descending.
func (d *DDIM) Timesteps() []int {
	return d.timesteps
}

// Order returns 1: DDIM evaluates the model once per step.
func (d *DDIM) Order() int {
	return 1
}

// InitNoiseSigma returns 1: DDIM consumes unit-variance initial noise.
func (d *DDIM) InitNoiseSigma() float32 {
	return 1
}

// ScaleModelInput is the identity for DDIM.
func (d *DDIM) ScaleModelInput(x *tensor.RawTensor, t int) *tensor.RawTensor {
	return x
}

// Capabilities declares that DDIM honors eta and a variance noise generator.
func (d *DDIM) Capabilities() Capabilities {
	return Capabilities{AcceptsEta: true, AcceptsGenerator: true}
}

// AddNoise diffuses a clean latent to the noise level of timestep t:
// sqrt(ᾱ_t)·x₀ + sqrt(1−ᾱ_t)·ε.
func (d *DDIM) AddNoise(latent, noise *tensor.RawTensor, t int) (*tensor.RawTensor, error) {
	if err := d.checkTimestep(t); err != nil {
		return nil, err
	}
	alphaProd := d.alphasCumprod[t]

	scaled := tensor.MulScalar(latent, float32(math.Sqrt(alphaProd)))
	noised := tensor.MulScalar(noise, float32(math.Sqrt(1-alphaProd)))
	out, err := tensor.Add(scaled, noised)
	if err != nil {
		return nil, fmt.Errorf("add noise: %w", err)
	}
	return out, nil
}

// Step computes x_{t-1} from the noise prediction and x_t.
func (d *DDIM) Step(noise *tensor.RawTensor, t int, latents *tensor.RawTensor, opts StepOptions) (*tensor.RawTensor, error) {
	if err := d.checkTimestep(t); err != nil {
		return nil, err
	}
	if d.numSteps == 0 {
		return nil, fmt.Errorf("scheduler timesteps not configured; call SetTimesteps first")
	}

	prevT := t - d.trainTimesteps/d.numSteps

	alphaProd := d.alphasCumprod[t]
	alphaProdPrev := d.finalAlpha
	if prevT >= 0 {
		alphaProdPrev = d.alphasCumprod[prevT]
	}
	betaProd := 1 - alphaProd

	// Predicted x₀: (x_t − sqrt(1−ᾱ_t)·ε) / sqrt(ᾱ_t).
	noiseScaled := tensor.MulScalar(noise, float32(math.Sqrt(betaProd)))
	num, err := tensor.Sub(latents, noiseScaled)
	if err != nil {
		return nil, fmt.Errorf("step: %w", err)
	}
	predOriginal := tensor.MulScalar(num, float32(1/math.Sqrt(alphaProd)))

	variance := (1 - alphaProdPrev) / (1 - alphaProd) * (1 - alphaProd/alphaProdPrev)
	sigma := float64(opts.Eta) * math.Sqrt(variance)

	// Direction pointing to x_t.
	dirCoeff := math.Sqrt(1 - alphaProdPrev - sigma*sigma)
	direction := tensor.MulScalar(noise, float32(dirCoeff))

	prev, err := tensor.Add(tensor.MulScalar(predOriginal, float32(math.Sqrt(alphaProdPrev))), direction)
	if err != nil {
		return nil, fmt.Errorf("step: %w", err)
	}

	if sigma > 0 && opts.Rng != nil {
		varianceNoise := tensor.MulScalar(tensor.RandnLike(latents, opts.Rng), float32(sigma))
		prev, err = tensor.Add(prev, varianceNoise)
		if err != nil {
			return nil, fmt.Errorf("step: %w", err)
		}
	}
	return prev, nil
}

func (d *DDIM) checkTimestep(t int) error {
	if t < 0 || t >= d.trainTimesteps {
		return fmt.Errorf("timestep %d out of range [0, %d)", t, d.trainTimesteps)
	}
	return nil
}
