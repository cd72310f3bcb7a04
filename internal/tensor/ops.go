package tensor

import "fmt"

// binaryOp applies op element-wise with NumPy-style broadcasting.
func binaryOp(name string, a, b *RawTensor, op func(x, y float32) float32) (*RawTensor, error) {
	if a == nil || b == nil {
		return nil, fmt.Errorf("%s: input tensor is nil", name)
	}

	if a.shape.Equal(b.shape) {
		// Fast path: same shape, no index arithmetic.
		result := Zeros(a.shape)
		ad, bd, out := a.data, b.data, result.data
		for i := range out {
			out[i] = op(ad[i], bd[i])
		}
		return result, nil
	}

	outShape, err := BroadcastShapes(a.shape, b.shape)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}

	result := Zeros(outShape)
	out := result.data
	outStride := result.stride
	aStride := broadcastStrides(a, outShape)
	bStride := broadcastStrides(b, outShape)

	idx := make([]int, len(outShape))
	for flat := range out {
		rem := flat
		ai, bi := 0, 0
		for d := 0; d < len(outShape); d++ {
			idx[d] = rem / outStride[d]
			rem %= outStride[d]
			ai += idx[d] * aStride[d]
			bi += idx[d] * bStride[d]
		}
		out[flat] = op(a.data[ai], b.data[bi])
	}
	return result, nil
}

// broadcastStrides computes the strides of t as if broadcast to outShape:
// size-1 (or missing leading) dimensions get stride 0.
func broadcastStrides(t *RawTensor, outShape Shape) []int {
	strides := make([]int, len(outShape))
	offset := len(outShape) - len(t.shape)
	for d := range outShape {
		if d < offset {
			continue
		}
		td := d - offset
		if t.shape[td] == 1 {
			continue
		}
		strides[d] = t.stride[td]
	}
	return strides
}

// Add performs element-wise addition with broadcasting.
func Add(a, b *RawTensor) (*RawTensor, error) {
	return binaryOp("Add", a, b, func(x, y float32) float32 { return x + y })
}

// Sub performs element-wise subtraction with broadcasting.
func Sub(a, b *RawTensor) (*RawTensor, error) {
	return binaryOp("Sub", a, b, func(x, y float32) float32 { return x - y })
}

// Mul performs element-wise multiplication with broadcasting.
func Mul(a, b *RawTensor) (*RawTensor, error) {
	return binaryOp("Mul", a, b, func(x, y float32) float32 { return x * y })
}

// AddScalar adds a scalar to every element.
func AddScalar(x *RawTensor, s float32) *RawTensor {
	result := x.Clone()
	data := result.data
	for i := range data {
		data[i] += s
	}
	return result
}

// MulScalar multiplies every element by a scalar.
func MulScalar(x *RawTensor, s float32) *RawTensor {
	result := x.Clone()
	data := result.data
	for i := range data {
		data[i] *= s
	}
	return result
}

// Blend computes a·mask + b·(1−mask) with broadcasting.
//
// The mask broadcasts over leading axes, so a single-channel (1, 1, H, W)
// mask selects per-pixel between two (B, C, H, W) tensors.
func Blend(a, b, mask *RawTensor) (*RawTensor, error) {
	am, err := Mul(a, mask)
	if err != nil {
		return nil, fmt.Errorf("Blend: %w", err)
	}
	inv := AddScalar(MulScalar(mask, -1), 1)
	bm, err := Mul(b, inv)
	if err != nil {
		return nil, fmt.Errorf("Blend: %w", err)
	}
	out, err := Add(am, bm)
	if err != nil {
		return nil, fmt.Errorf("Blend: %w", err)
	}
	return out, nil
}
