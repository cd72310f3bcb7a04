// Copyright 2026 The Diffusers Authors. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package scheduler provides the public API for diffusion schedulers.
package scheduler

import (
	"github.com/tuanh123789/diffusers/internal/scheduler"
)

// Scheduler advances a latent sample through the reverse diffusion process.
type Scheduler = scheduler.Scheduler

// Capabilities declares which optional step parameters a scheduler honors.
type Capabilities = scheduler.Capabilities

// StepOptions carries the optional parameters of a scheduler step.
type StepOptions = scheduler.StepOptions

// DDIM is the denoising diffusion implicit models sampler.
type DDIM = scheduler.DDIM

// DDIMOption configures a DDIM scheduler.
type DDIMOption = scheduler.DDIMOption

// NewDDIM creates a DDIM scheduler with a scaled-linear beta schedule.
func NewDDIM(opts ...DDIMOption) *DDIM {
	return scheduler.NewDDIM(opts...)
}

// WithTrainTimesteps sets the length of the training noise schedule.
func WithTrainTimesteps(n int) DDIMOption {
	return scheduler.WithTrainTimesteps(n)
}

// WithBetaRange sets the endpoints of the scaled-linear beta schedule.
func WithBetaRange(start, end float64) DDIMOption {
	return scheduler.WithBetaRange(start, end)
}
