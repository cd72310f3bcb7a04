// Copyright 2026 The Diffusers Authors. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package tensor provides the public API for the float32 tensor core used
// by the diffusion pipeline.
//
// Example:
//
//	rng := rand.New(rand.NewSource(42))
//	latents := tensor.Randn(tensor.Shape{1, 4, 64, 64}, rng)
//	scaled := tensor.MulScalar(latents, 0.18215)
package tensor

import (
	"math/rand"

	"github.com/tuanh123789/diffusers/internal/tensor"
)

// Shape represents the dimensions of a tensor.
// Example: Shape{2, 3, 4} represents a 3D tensor with dimensions 2×3×4.
type Shape = tensor.Shape

// RawTensor is a dense row-major float32 tensor.
type RawTensor = tensor.RawTensor

// NewRaw creates a zero-initialized tensor with the given shape.
func NewRaw(shape Shape) (*RawTensor, error) {
	return tensor.NewRaw(shape)
}

// FromSlice creates a tensor from a Go slice. The slice is copied.
func FromSlice(data []float32, shape Shape) (*RawTensor, error) {
	return tensor.FromSlice(data, shape)
}

// Zeros creates a tensor filled with zeros.
func Zeros(shape Shape) *RawTensor {
	return tensor.Zeros(shape)
}

// Ones creates a tensor filled with ones.
func Ones(shape Shape) *RawTensor {
	return tensor.Ones(shape)
}

// Full creates a tensor filled with a specific value.
func Full(shape Shape, value float32) *RawTensor {
	return tensor.Full(shape, value)
}

// Randn creates a tensor with standard-normal values drawn from the
// supplied generator.
func Randn(shape Shape, rng *rand.Rand) *RawTensor {
	return tensor.Randn(shape, rng)
}

// Add performs element-wise addition with broadcasting.
func Add(a, b *RawTensor) (*RawTensor, error) {
	return tensor.Add(a, b)
}

// Sub performs element-wise subtraction with broadcasting.
func Sub(a, b *RawTensor) (*RawTensor, error) {
	return tensor.Sub(a, b)
}

// Mul performs element-wise multiplication with broadcasting.
func Mul(a, b *RawTensor) (*RawTensor, error) {
	return tensor.Mul(a, b)
}

// AddScalar adds a scalar to every element.
func AddScalar(x *RawTensor, s float32) *RawTensor {
	return tensor.AddScalar(x, s)
}

// MulScalar multiplies every element by a scalar.
func MulScalar(x *RawTensor, s float32) *RawTensor {
	return tensor.MulScalar(x, s)
}

// Blend computes a·mask + b·(1−mask) with broadcasting.
func Blend(a, b, mask *RawTensor) (*RawTensor, error) {
	return tensor.Blend(a, b, mask)
}

// Concat concatenates tensors along the specified axis.
func Concat(tensors []*RawTensor, axis int) (*RawTensor, error) {
	return tensor.Concat(tensors, axis)
}

// Chunk splits a tensor into n equal parts along the given axis.
func Chunk(x *RawTensor, n, axis int) ([]*RawTensor, error) {
	return tensor.Chunk(x, n, axis)
}

// RepeatDim repeats the tensor n times along an existing axis.
func RepeatDim(x *RawTensor, axis, n int) (*RawTensor, error) {
	return tensor.RepeatDim(x, axis, n)
}

// Unsqueeze inserts a size-1 dimension at the given position.
func Unsqueeze(x *RawTensor, axis int) (*RawTensor, error) {
	return tensor.Unsqueeze(x, axis)
}
