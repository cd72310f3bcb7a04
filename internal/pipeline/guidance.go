package pipeline

import (
	"fmt"

	"github.com/tuanh123789/diffusers/internal/tensor"
)

// combineGuidance merges the two forward passes into a single noise
// estimate.
//
// Under classifier-free guidance each pass's output batch holds the
// unconditional half first and the conditional half second. The conditional
// half is taken from the grounded pass and the unconditional half from the
// ungrounded pass: grounding steers only the positive direction and never
// leaks into the negative one. The halves combine as
//
//	noise = uncond + scale·(cond − uncond)
//
// Without guidance the grounded prediction is returned directly.
func combineGuidance(grounded, ungrounded *tensor.RawTensor, scale float32, cfg bool) (*tensor.RawTensor, error) {
	if !cfg {
		return grounded.Clone(), nil
	}

	groundedHalves, err := tensor.Chunk(grounded, 2, 0)
	if err != nil {
		return nil, fmt.Errorf("split grounded prediction: %w", err)
	}
	ungroundedHalves, err := tensor.Chunk(ungrounded, 2, 0)
	if err != nil {
		return nil, fmt.Errorf("split ungrounded prediction: %w", err)
	}

	cond := groundedHalves[1]
	uncond := ungroundedHalves[0]

	diff, err := tensor.Sub(cond, uncond)
	if err != nil {
		return nil, fmt.Errorf("combine guidance: %w", err)
	}
	out, err := tensor.Add(uncond, tensor.MulScalar(diff, scale))
	if err != nil {
		return nil, fmt.Errorf("combine guidance: %w", err)
	}
	return out, nil
}
