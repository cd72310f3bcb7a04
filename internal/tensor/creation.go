package tensor

import (
	"fmt"
	"math/rand"
)

// Zeros creates a tensor filled with zeros.
func Zeros(shape Shape) *RawTensor {
	t, err := NewRaw(shape)
	if err != nil {
		panic(err) // Shape validation should prevent this
	}
	return t
}

// Full creates a tensor filled with a specific value.
func Full(shape Shape, value float32) *RawTensor {
	t := Zeros(shape)
	data := t.Data()
	for i := range data {
		data[i] = value
	}
	return t
}

// Ones creates a tensor filled with ones.
func Ones(shape Shape) *RawTensor {
	return Full(shape, 1)
}

// FromSlice creates a tensor from a Go slice. The slice is copied.
func FromSlice(data []float32, shape Shape) (*RawTensor, error) {
	t, err := NewRaw(shape)
	if err != nil {
		return nil, err
	}
	if shape.NumElements() != len(data) {
		return nil, fmt.Errorf("shape %v requires %d elements, but got %d", shape, shape.NumElements(), len(data))
	}
	copy(t.Data(), data)
	return t, nil
}

// Randn creates a tensor with values drawn from a standard normal
// distribution using the supplied generator.
//
// The generator is explicit so that sampling is reproducible: two calls with
// generators seeded identically produce identical tensors.
func Randn(shape Shape, rng *rand.Rand) *RawTensor {
	t := Zeros(shape)
	data := t.Data()
	for i := range data {
		data[i] = float32(rng.NormFloat64())
	}
	return t
}

// RandnLike creates a standard-normal tensor with the same shape as x.
func RandnLike(x *RawTensor, rng *rand.Rand) *RawTensor {
	return Randn(x.Shape(), rng)
}
