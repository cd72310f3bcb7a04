package pipeline

import (
	"context"
	"fmt"
	"image"

	"github.com/rs/zerolog/log"

	"github.com/tuanh123789/diffusers/internal/tensor"
)

// DefaultMaxObjects is the fixed capacity of a grounding batch.
const DefaultMaxObjects = 30

// GroundingBatch is the fixed-capacity conditioning block for spatial
// grounding instructions. All tensors are replicated across the forward-pass
// batch dimension: identical grounding applies to every generated sample.
//
// Shapes, with R = repeat batch and N = max objects:
//
//	Boxes            (R, N, 4)
//	Masks            (R, N)
//	PhraseMasks      (R, N)
//	ImageMasks       (R, N)
//	PhraseEmbeddings (R, N, hidden)
//	ImageEmbeddings  (R, N, hidden)
//
// Slot i is a real instruction iff Masks[...,i] == 1; the phrase and image
// masks are 1 only when that sub-feature was supplied for the slot.
type GroundingBatch struct {
	Boxes            *tensor.RawTensor
	Masks            *tensor.RawTensor
	PhraseMasks      *tensor.RawTensor
	ImageMasks       *tensor.RawTensor
	PhraseEmbeddings *tensor.RawTensor
	ImageEmbeddings  *tensor.RawTensor
}

// newZeroGroundingBatch allocates an all-zero, all-inactive batch.
func newZeroGroundingBatch(hiddenSize, repeatBatch, maxObjs int) *GroundingBatch {
	return &GroundingBatch{
		Boxes:            tensor.Zeros(tensor.Shape{repeatBatch, maxObjs, 4}),
		Masks:            tensor.Zeros(tensor.Shape{repeatBatch, maxObjs}),
		PhraseMasks:      tensor.Zeros(tensor.Shape{repeatBatch, maxObjs}),
		ImageMasks:       tensor.Zeros(tensor.Shape{repeatBatch, maxObjs}),
		PhraseEmbeddings: tensor.Zeros(tensor.Shape{repeatBatch, maxObjs, hiddenSize}),
		ImageEmbeddings:  tensor.Zeros(tensor.Shape{repeatBatch, maxObjs, hiddenSize}),
	}
}

// nullGrounding returns the ablation input: a batch of the same shape as a
// real one with every slot absent.
func nullGrounding(hiddenSize, repeatBatch, maxObjs int) *GroundingBatch {
	return newZeroGroundingBatch(hiddenSize, repeatBatch, maxObjs)
}

// buildGrounding assembles the grounding batch from boxes and their paired
// phrases and reference images.
//
// Phrase and image lists are padded with absent entries to the box count.
// When more than maxObjs boxes are supplied only the first maxObjs are
// processed; the truncation is logged and generation proceeds.
func (f *FeatureExtractor) buildGrounding(
	ctx context.Context,
	boxes [][4]float32,
	phrases []string,
	images []image.Image,
	hiddenSize, repeatBatch, maxObjs int,
) (*GroundingBatch, error) {
	if len(boxes) > maxObjs {
		log.Warn().
			Int("supplied", len(boxes)).
			Int("max", maxObjs).
			Msg("too many grounding instructions; only the first max will be processed")
		boxes = boxes[:maxObjs]
	}
	if len(phrases) > len(boxes) {
		phrases = phrases[:len(boxes)]
	}
	if len(images) > len(boxes) {
		images = images[:len(boxes)]
	}

	// One-sample views are filled first, then replicated.
	batch := newZeroGroundingBatch(hiddenSize, 1, maxObjs)

	for i, box := range boxes {
		for j, v := range box {
			batch.Boxes.Set(v, 0, i, j)
		}
		batch.Masks.Set(1, 0, i)

		if i < len(phrases) && phrases[i] != "" {
			feature, err := f.TextFeature(ctx, phrases[i])
			if err != nil {
				return nil, err
			}
			if len(feature) != hiddenSize {
				return nil, fmt.Errorf("phrase embedding size %d does not match hidden size %d", len(feature), hiddenSize)
			}
			copy(batch.PhraseEmbeddings.Data()[i*hiddenSize:(i+1)*hiddenSize], feature)
			batch.PhraseMasks.Set(1, 0, i)
		}

		if i < len(images) && images[i] != nil {
			feature, err := f.ImageFeature(ctx, images[i], hiddenSize)
			if err != nil {
				return nil, err
			}
			if len(feature) != hiddenSize {
				return nil, fmt.Errorf("image embedding size %d does not match hidden size %d", len(feature), hiddenSize)
			}
			copy(batch.ImageEmbeddings.Data()[i*hiddenSize:(i+1)*hiddenSize], feature)
			batch.ImageMasks.Set(1, 0, i)
		}
	}

	return batch.repeat(repeatBatch)
}

// repeat replicates a one-sample batch across the repeat dimension.
func (g *GroundingBatch) repeat(repeatBatch int) (*GroundingBatch, error) {
	out := &GroundingBatch{}
	for _, f := range []struct {
		dst **tensor.RawTensor
		src *tensor.RawTensor
	}{
		{&out.Boxes, g.Boxes},
		{&out.Masks, g.Masks},
		{&out.PhraseMasks, g.PhraseMasks},
		{&out.ImageMasks, g.ImageMasks},
		{&out.PhraseEmbeddings, g.PhraseEmbeddings},
		{&out.ImageEmbeddings, g.ImageEmbeddings},
	} {
		repeated, err := tensor.RepeatDim(f.src, 0, repeatBatch)
		if err != nil {
			return nil, fmt.Errorf("replicate grounding batch: %w", err)
		}
		*f.dst = repeated
	}
	return out, nil
}

// ActiveSlots returns the number of active instruction slots in the first
// sample of the batch.
func (g *GroundingBatch) ActiveSlots() int {
	maxObjs := g.Masks.Dim(1)
	n := 0
	for i := 0; i < maxObjs; i++ {
		if g.Masks.At(0, i) == 1 {
			n++
		}
	}
	return n
}
