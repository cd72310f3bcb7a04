// Package tensor provides the float32 tensor core used by the diffusion
// pipeline: row-major dense storage, NumPy-style broadcasting for
// element-wise arithmetic, and the handful of manipulation primitives
// (concat, chunk, repeat) that latent-space sampling needs.
//
// The package is deliberately CPU-only and float32-only. Latent tensors are
// small compared to the networks that produce them, and every operation the
// denoising loop performs is element-wise or a contiguous copy.
package tensor

import "fmt"

// RawTensor is a dense row-major float32 tensor.
type RawTensor struct {
	data   []float32
	shape  Shape
	stride []int
}

// NewRaw creates a zero-initialized tensor with the given shape.
func NewRaw(shape Shape) (*RawTensor, error) {
	if err := shape.Validate(); err != nil {
		return nil, fmt.Errorf("invalid shape: %w", err)
	}

	return &RawTensor{
		data:   make([]float32, shape.NumElements()),
		shape:  shape.Clone(),
		stride: shape.ComputeStrides(),
	}, nil
}

// Shape returns the tensor's shape.
func (r *RawTensor) Shape() Shape {
	return r.shape
}

// Strides returns the tensor's memory strides.
func (r *RawTensor) Strides() []int {
	return r.stride
}

// NumElements returns the total number of elements.
func (r *RawTensor) NumElements() int {
	return r.shape.NumElements()
}

// Dim returns the size of dimension i. Negative indices count from the end.
func (r *RawTensor) Dim(i int) int {
	if i < 0 {
		i += len(r.shape)
	}
	return r.shape[i]
}

// Data returns the underlying float32 slice.
// WARNING: direct access to tensor memory; mutations are visible to all
// holders of this RawTensor.
func (r *RawTensor) Data() []float32 {
	return r.data
}

// At returns the element at the given multi-dimensional index.
// Panics if the number of indices does not match the tensor rank.
func (r *RawTensor) At(idx ...int) float32 {
	return r.data[r.flatIndex(idx)]
}

// Set writes the element at the given multi-dimensional index.
func (r *RawTensor) Set(v float32, idx ...int) {
	r.data[r.flatIndex(idx)] = v
}

func (r *RawTensor) flatIndex(idx []int) int {
	if len(idx) != len(r.shape) {
		panic(fmt.Sprintf("index rank %d does not match tensor rank %d", len(idx), len(r.shape)))
	}
	flat := 0
	for i, ix := range idx {
		flat += ix * r.stride[i]
	}
	return flat
}

// Clone returns a deep copy of the tensor.
func (r *RawTensor) Clone() *RawTensor {
	data := make([]float32, len(r.data))
	copy(data, r.data)
	return &RawTensor{
		data:   data,
		shape:  r.shape.Clone(),
		stride: append([]int(nil), r.stride...),
	}
}

// Reshape returns a view-copy of the tensor with a new shape.
// The new shape must hold the same number of elements.
func (r *RawTensor) Reshape(newShape Shape) (*RawTensor, error) {
	if err := newShape.Validate(); err != nil {
		return nil, fmt.Errorf("invalid shape: %w", err)
	}
	if newShape.NumElements() != r.NumElements() {
		return nil, fmt.Errorf("cannot reshape %v (%d elements) to %v (%d elements)",
			r.shape, r.NumElements(), newShape, newShape.NumElements())
	}

	out := r.Clone()
	out.shape = newShape.Clone()
	out.stride = newShape.ComputeStrides()
	return out, nil
}
