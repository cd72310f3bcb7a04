package tensor

import "fmt"

// Concat concatenates tensors along the specified axis.
// All tensors must have the same rank and matching sizes on every other axis.
func Concat(tensors []*RawTensor, axis int) (*RawTensor, error) {
	if len(tensors) == 0 {
		return nil, fmt.Errorf("Concat: no tensors provided")
	}
	if len(tensors) == 1 {
		return tensors[0].Clone(), nil
	}

	first := tensors[0]
	ndim := len(first.shape)
	if axis < 0 {
		axis = ndim + axis
	}
	if axis < 0 || axis >= ndim {
		return nil, fmt.Errorf("Concat: axis %d out of range for %d dimensions", axis, ndim)
	}

	for i, t := range tensors[1:] {
		if len(t.shape) != ndim {
			return nil, fmt.Errorf("Concat: tensor %d has %d dimensions, expected %d", i+1, len(t.shape), ndim)
		}
		for j := 0; j < ndim; j++ {
			if j != axis && t.shape[j] != first.shape[j] {
				return nil, fmt.Errorf("Concat: tensor %d has shape %v, incompatible with %v on axis %d",
					i+1, t.shape, first.shape, axis)
			}
		}
	}

	newShape := first.shape.Clone()
	for _, t := range tensors[1:] {
		newShape[axis] += t.shape[axis]
	}

	result, err := NewRaw(newShape)
	if err != nil {
		return nil, fmt.Errorf("Concat: %w", err)
	}

	outerSize := 1
	for i := 0; i < axis; i++ {
		outerSize *= newShape[i]
	}
	innerSize := 1
	for i := axis + 1; i < ndim; i++ {
		innerSize *= newShape[i]
	}

	out := result.data
	offset := 0
	for outer := 0; outer < outerSize; outer++ {
		for _, t := range tensors {
			copyLen := t.shape[axis] * innerSize
			inStart := outer * copyLen
			copy(out[offset:offset+copyLen], t.data[inStart:inStart+copyLen])
			offset += copyLen
		}
	}
	return result, nil
}

// Chunk splits a tensor into n equal parts along the given axis.
// The axis size must be divisible by n.
func Chunk(x *RawTensor, n, axis int) ([]*RawTensor, error) {
	if x == nil {
		return nil, fmt.Errorf("Chunk: input tensor is nil")
	}
	if n <= 0 {
		return nil, fmt.Errorf("Chunk: n must be positive, got %d", n)
	}

	ndim := len(x.shape)
	if axis < 0 {
		axis = ndim + axis
	}
	if axis < 0 || axis >= ndim {
		return nil, fmt.Errorf("Chunk: axis %d out of range for %d dimensions", axis, ndim)
	}

	axisSize := x.shape[axis]
	if axisSize%n != 0 {
		return nil, fmt.Errorf("Chunk: axis size %d not divisible by %d", axisSize, n)
	}
	chunkSize := axisSize / n

	outerSize := 1
	for i := 0; i < axis; i++ {
		outerSize *= x.shape[i]
	}
	innerSize := 1
	for i := axis + 1; i < ndim; i++ {
		innerSize *= x.shape[i]
	}

	results := make([]*RawTensor, n)
	for c := 0; c < n; c++ {
		newShape := x.shape.Clone()
		newShape[axis] = chunkSize

		result, err := NewRaw(newShape)
		if err != nil {
			return nil, fmt.Errorf("Chunk: %w", err)
		}

		copyLen := chunkSize * innerSize
		srcStride := axisSize * innerSize
		for outer := 0; outer < outerSize; outer++ {
			srcStart := outer*srcStride + c*copyLen
			copy(result.data[outer*copyLen:(outer+1)*copyLen], x.data[srcStart:srcStart+copyLen])
		}
		results[c] = result
	}
	return results, nil
}

// RepeatDim repeats the tensor n times along an existing axis.
// RepeatDim of (1, C, H, W) along axis 0 with n=4 yields (4, C, H, W).
func RepeatDim(x *RawTensor, axis, n int) (*RawTensor, error) {
	if x == nil {
		return nil, fmt.Errorf("RepeatDim: input tensor is nil")
	}
	if n <= 0 {
		return nil, fmt.Errorf("RepeatDim: n must be positive, got %d", n)
	}

	ndim := len(x.shape)
	if axis < 0 {
		axis = ndim + axis
	}
	if axis < 0 || axis >= ndim {
		return nil, fmt.Errorf("RepeatDim: axis %d out of range for %d dimensions", axis, ndim)
	}
	if n == 1 {
		return x.Clone(), nil
	}

	copies := make([]*RawTensor, n)
	for i := range copies {
		copies[i] = x
	}
	out, err := Concat(copies, axis)
	if err != nil {
		return nil, fmt.Errorf("RepeatDim: %w", err)
	}
	return out, nil
}

// Unsqueeze returns a copy of the tensor with a size-1 dimension inserted at
// the given position.
func Unsqueeze(x *RawTensor, axis int) (*RawTensor, error) {
	if x == nil {
		return nil, fmt.Errorf("Unsqueeze: input tensor is nil")
	}

	ndim := len(x.shape)
	if axis < 0 {
		axis = ndim + 1 + axis
	}
	if axis < 0 || axis > ndim {
		return nil, fmt.Errorf("Unsqueeze: axis %d out of range for %d dimensions", axis, ndim)
	}

	newShape := make(Shape, 0, ndim+1)
	newShape = append(newShape, x.shape[:axis]...)
	newShape = append(newShape, 1)
	newShape = append(newShape, x.shape[axis:]...)
	return x.Reshape(newShape)
}
