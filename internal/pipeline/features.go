package pipeline

import (
	"context"
	"fmt"
	"image"

	"gonum.org/v1/gonum/floats"

	"github.com/tuanh123789/diffusers/internal/hub"
	"github.com/tuanh123789/diffusers/internal/loader"
	"github.com/tuanh123789/diffusers/internal/tensor"
)

// imageFeatureNorm is the magnitude image embeddings are rescaled to after
// projection, tuned to match the scale of pooled text embeddings.
const imageFeatureNorm = 28.7

// projectionTensorName is the tensor key of the projection matrix inside its
// safetensors artifact.
const projectionTensorName = "projection_matrix"

// ProjectionWeights is the learned projection applied to vision embeddings.
// It is immutable after construction and safe for concurrent reads.
type ProjectionWeights struct {
	matrix *tensor.RawTensor // (out, in)
}

// NewProjectionWeights wraps a 2D (out, in) weight matrix.
func NewProjectionWeights(matrix *tensor.RawTensor) (*ProjectionWeights, error) {
	if len(matrix.Shape()) != 2 {
		return nil, fmt.Errorf("projection matrix must be 2D, got shape %v", matrix.Shape())
	}
	return &ProjectionWeights{matrix: matrix}, nil
}

// LoadProjectionWeights fetches the projection artifact through the hub
// client and reads the weight matrix from it. The returned handle should be
// loaded once at pipeline construction and shared.
func LoadProjectionWeights(ctx context.Context, client *hub.Client, repo, filename string) (*ProjectionWeights, error) {
	path, err := client.Download(ctx, repo, filename)
	if err != nil {
		return nil, err
	}

	r, err := loader.NewSafeTensorsReader(path)
	if err != nil {
		return nil, fmt.Errorf("open projection artifact: %w", err)
	}
	defer r.Close()

	name := projectionTensorName
	if _, err := r.TensorInfo(name); err != nil {
		// Single-tensor artifacts may use any key.
		if names := r.TensorNames(); len(names) == 1 {
			name = names[0]
		}
	}

	matrix, err := r.LoadTensor(name)
	if err != nil {
		return nil, fmt.Errorf("load projection matrix: %w", err)
	}
	return NewProjectionWeights(matrix)
}

// OutDim returns the projection's output dimension.
func (p *ProjectionWeights) OutDim() int {
	return p.matrix.Dim(0)
}

// InDim returns the projection's input dimension.
func (p *ProjectionWeights) InDim() int {
	return p.matrix.Dim(1)
}

// Project applies the projection when its output dimension equals
// hiddenSize; otherwise the input is returned unchanged. The pass-through
// keeps mismatched encoder/network configurations usable with the raw
// vision embedding.
func (p *ProjectionWeights) Project(vec []float32, hiddenSize int) []float32 {
	if p.OutDim() != hiddenSize {
		return vec
	}

	out := make([]float32, p.OutDim())
	w := p.matrix.Data()
	in := p.InDim()
	for i := range out {
		row := w[i*in : (i+1)*in]
		var sum float32
		for j, x := range vec {
			sum += row[j] * x
		}
		out[i] = sum
	}
	return out
}

// FeatureExtractor turns grounding phrases and reference images into
// embeddings compatible with the text encoder's hidden size.
type FeatureExtractor struct {
	text       TextEncoder
	vision     VisionEncoder
	projection *ProjectionWeights
}

// NewFeatureExtractor creates a feature extractor. vision and projection may
// be nil when image grounding is not used.
func NewFeatureExtractor(text TextEncoder, vision VisionEncoder, projection *ProjectionWeights) *FeatureExtractor {
	return &FeatureExtractor{text: text, vision: vision, projection: projection}
}

// TextFeature returns the pooled embedding for a grounding phrase.
func (f *FeatureExtractor) TextFeature(ctx context.Context, phrase string) ([]float32, error) {
	feature, err := f.text.Pooled(ctx, phrase)
	if err != nil {
		return nil, fmt.Errorf("encode grounding phrase: %w", err)
	}
	return feature, nil
}

// ImageFeature returns the embedding for a grounding reference image:
// vision-encoded, projected when the projection matches hiddenSize, then
// renormalized to a fixed magnitude.
func (f *FeatureExtractor) ImageFeature(ctx context.Context, img image.Image, hiddenSize int) ([]float32, error) {
	if f.vision == nil {
		return nil, fmt.Errorf("image grounding requested but no vision encoder is configured")
	}
	if f.projection == nil {
		return nil, fmt.Errorf("image grounding requested but no projection weights are loaded")
	}

	feature, err := f.vision.Encode(ctx, img)
	if err != nil {
		return nil, fmt.Errorf("encode grounding image: %w", err)
	}

	feature = f.projection.Project(feature, hiddenSize)
	return renormalize(feature, imageFeatureNorm), nil
}

// renormalize rescales vec to the given L2 magnitude.
func renormalize(vec []float32, magnitude float64) []float32 {
	v64 := make([]float64, len(vec))
	for i, v := range vec {
		v64[i] = float64(v)
	}

	norm := floats.Norm(v64, 2)
	if norm == 0 {
		return vec
	}
	floats.Scale(magnitude/norm, v64)

	out := make([]float32, len(vec))
	for i, v := range v64 {
		out[i] = float32(v)
	}
	return out
}
