package pipeline

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tuanh123789/diffusers/internal/scheduler"
	"github.com/tuanh123789/diffusers/internal/tensor"
)

// mockTextEncoder returns embeddings derived from the text length, so tests
// can tell prompts apart without a real network.
type mockTextEncoder struct {
	hidden int
	seq    int
}

func newMockTextEncoder() *mockTextEncoder {
	return &mockTextEncoder{hidden: 8, seq: 4}
}

func (m *mockTextEncoder) Encode(_ context.Context, text string) (*tensor.RawTensor, error) {
	return tensor.Full(tensor.Shape{1, m.seq, m.hidden}, float32(len(text))), nil
}

func (m *mockTextEncoder) Pooled(_ context.Context, text string) ([]float32, error) {
	out := make([]float32, m.hidden)
	for i := range out {
		out[i] = float32(len(text) + 1)
	}
	return out, nil
}

func (m *mockTextEncoder) HiddenSize() int { return m.hidden }

// mockVAE compresses 8x spatially into 4 latent channels with constant
// content.
type mockVAE struct{}

func (m *mockVAE) Encode(_ context.Context, pixels *tensor.RawTensor, _ *rand.Rand) (*tensor.RawTensor, error) {
	shape := pixels.Shape()
	if len(shape) != 4 || shape[1] != 3 {
		return nil, fmt.Errorf("unexpected pixel shape %v", shape)
	}
	return tensor.Full(tensor.Shape{shape[0], 4, shape[2] / 8, shape[3] / 8}, 0.5), nil
}

func (m *mockVAE) Decode(_ context.Context, latents *tensor.RawTensor) (*tensor.RawTensor, error) {
	shape := latents.Shape()
	return tensor.Zeros(tensor.Shape{shape[0], 3, shape[2] * 8, shape[3] * 8}), nil
}

func (m *mockVAE) ScalingFactor() float32 { return 0.18215 }
func (m *mockVAE) SampleSize() int        { return 64 }
func (m *mockVAE) LatentChannels() int    { return 4 }
func (m *mockVAE) ScaleFactor() int       { return 8 }

// predictCall records one noise-prediction invocation.
type predictCall struct {
	inputShape tensor.Shape
	embedShape tensor.Shape
	timestep   int
	active     bool
	slots      int
}

// mockPredictor returns zero noise and records every call.
type mockPredictor struct {
	calls []predictCall
}

func (m *mockPredictor) Predict(_ context.Context, latents *tensor.RawTensor, t int, cond Conditioning) (*tensor.RawTensor, error) {
	m.calls = append(m.calls, predictCall{
		inputShape: latents.Shape().Clone(),
		embedShape: cond.PromptEmbeddings.Shape().Clone(),
		timestep:   t,
		active:     cond.GroundingActive,
		slots:      cond.Grounding.ActiveSlots(),
	})
	shape := latents.Shape()
	return tensor.Zeros(tensor.Shape{shape[0], 4, shape[2], shape[3]}), nil
}

func (m *mockPredictor) InChannels() int { return 4 }

// mockVisionEncoder returns a fixed embedding.
type mockVisionEncoder struct {
	feature []float32
}

func (m *mockVisionEncoder) Encode(_ context.Context, _ image.Image) ([]float32, error) {
	out := make([]float32, len(m.feature))
	copy(out, m.feature)
	return out, nil
}

// mockSafetyChecker flags nothing.
type mockSafetyChecker struct {
	checked int
}

func (m *mockSafetyChecker) Check(_ context.Context, images []image.Image) ([]bool, error) {
	m.checked += len(images)
	return make([]bool, len(images)), nil
}

func newTestPipeline(t *testing.T, opts ...Option) (*Pipeline, *mockPredictor) {
	t.Helper()
	predictor := &mockPredictor{}
	p, err := New(newMockTextEncoder(), &mockVAE{}, predictor, scheduler.NewDDIM(), opts...)
	require.NoError(t, err)
	return p, predictor
}

func uniformImage(size int, c color.Color) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, size, size))
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			img.Set(x, y, c)
		}
	}
	return img
}

func TestNewRequiresCollaborators(t *testing.T) {
	_, err := New(nil, &mockVAE{}, &mockPredictor{}, scheduler.NewDDIM())
	assert.Error(t, err)

	_, err = New(newMockTextEncoder(), &mockVAE{}, &mockPredictor{}, scheduler.NewDDIM(), WithMaxObjects(0))
	assert.ErrorContains(t, err, "max objects")
}

func TestCheckRequest(t *testing.T) {
	base := func() GenerateRequest {
		req := DefaultGenerateRequest()
		req.Prompts = []string{"a cat"}
		req.Height, req.Width = 64, 64
		req.NumInferenceSteps = 2
		return req
	}

	tests := []struct {
		name    string
		mutate  func(*GenerateRequest)
		wantErr string
	}{
		{
			name:    "height not divisible by 8",
			mutate:  func(r *GenerateRequest) { r.Height = 60 },
			wantErr: "divisible by 8",
		},
		{
			name:    "non-positive steps",
			mutate:  func(r *GenerateRequest) { r.NumInferenceSteps = 0 },
			wantErr: "num inference steps",
		},
		{
			name:    "non-positive progress stride",
			mutate:  func(r *GenerateRequest) { r.ProgressStride = 0 },
			wantErr: "progress stride",
		},
		{
			name:    "non-positive images per prompt",
			mutate:  func(r *GenerateRequest) { r.ImagesPerPrompt = 0 },
			wantErr: "images per prompt",
		},
		{
			name: "both prompts and embeddings",
			mutate: func(r *GenerateRequest) {
				r.PromptEmbeddings = tensor.Zeros(tensor.Shape{1, 4, 8})
			},
			wantErr: "only one of the two",
		},
		{
			name: "neither prompts nor embeddings",
			mutate: func(r *GenerateRequest) {
				r.Prompts = nil
			},
			wantErr: "cannot leave both undefined",
		},
		{
			name: "negative prompt batch mismatch",
			mutate: func(r *GenerateRequest) {
				r.NegativePrompts = []string{"a", "b"}
			},
			wantErr: "batch size",
		},
		{
			name: "box coordinate out of range",
			mutate: func(r *GenerateRequest) {
				r.GroundingBoxes = [][4]float32{{0, 0, 1.5, 1}}
			},
			wantErr: "outside [0, 1]",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, _ := newTestPipeline(t)
			req := base()
			tt.mutate(&req)
			_, err := p.Generate(context.Background(), req)
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestGenerateGroundedLatents(t *testing.T) {
	p, predictor := newTestPipeline(t)

	req := DefaultGenerateRequest()
	req.Prompts = []string{"a birthday cake on the table"}
	req.Height, req.Width = 64, 64
	req.NumInferenceSteps = 10
	req.GroundingBoxes = [][4]float32{{0.1, 0.2, 0.5, 0.8}}
	req.GroundingPhrases = []string{"a birthday cake"}
	req.Seed = 42
	req.OutputFormat = OutputLatent

	result, err := p.Generate(context.Background(), req)
	require.NoError(t, err)
	require.NotNil(t, result.Latents)
	assert.Equal(t, tensor.Shape{1, 4, 8, 8}, result.Latents.Shape())
	assert.Nil(t, result.Images)
	assert.Nil(t, result.Pixels)

	// Two forward passes per step.
	require.Len(t, predictor.calls, 20)
	for i, call := range predictor.calls {
		// Guidance doubles the batch; the grounded pass comes first.
		assert.Equal(t, tensor.Shape{2, 4, 8, 8}, call.inputShape)
		assert.Equal(t, tensor.Shape{2, 4, 8}, call.embedShape)
		assert.True(t, call.active)
		if i%2 == 0 {
			assert.Equal(t, 1, call.slots, "grounded pass %d", i)
		} else {
			assert.Equal(t, 0, call.slots, "ungrounded pass %d", i)
		}
	}

	// Both passes of a step see the same timestep.
	for i := 0; i < len(predictor.calls); i += 2 {
		assert.Equal(t, predictor.calls[i].timestep, predictor.calls[i+1].timestep)
	}
}

func TestGenerateWithoutGuidance(t *testing.T) {
	p, predictor := newTestPipeline(t)

	req := DefaultGenerateRequest()
	req.Prompts = []string{"a cat"}
	req.Height, req.Width = 64, 64
	req.NumInferenceSteps = 3
	req.GuidanceScale = 1
	req.Seed = 7
	req.OutputFormat = OutputLatent

	_, err := p.Generate(context.Background(), req)
	require.NoError(t, err)

	require.Len(t, predictor.calls, 6)
	for _, call := range predictor.calls {
		assert.Equal(t, tensor.Shape{1, 4, 8, 8}, call.inputShape)
	}
}

func TestGenerateDeterminism(t *testing.T) {
	req := DefaultGenerateRequest()
	req.Prompts = []string{"a dog in the park"}
	req.Height, req.Width = 64, 64
	req.NumInferenceSteps = 5
	req.GroundingBoxes = [][4]float32{{0.2, 0.2, 0.6, 0.6}}
	req.GroundingPhrases = []string{"a dog"}
	req.Seed = 1234
	req.OutputFormat = OutputLatent

	run := func() []float32 {
		p, _ := newTestPipeline(t)
		result, err := p.Generate(context.Background(), req)
		require.NoError(t, err)
		return result.Latents.Data()
	}

	first := run()
	second := run()
	assert.Equal(t, first, second)

	req.Seed = 5678
	other := run()
	assert.NotEqual(t, first, other)
}

func TestGenerateBatchAndImagesPerPrompt(t *testing.T) {
	p, predictor := newTestPipeline(t)

	req := DefaultGenerateRequest()
	req.Prompts = []string{"a cat", "a dog"}
	req.NegativePrompts = []string{"blurry"}
	req.Height, req.Width = 64, 64
	req.NumInferenceSteps = 2
	req.ImagesPerPrompt = 2
	req.Seed = 3
	req.OutputFormat = OutputTensor

	result, err := p.Generate(context.Background(), req)
	require.NoError(t, err)
	require.NotNil(t, result.Pixels)
	assert.Equal(t, tensor.Shape{4, 3, 64, 64}, result.Pixels.Shape())

	require.NotEmpty(t, predictor.calls)
	// 2 prompts x 2 samples, doubled for guidance.
	assert.Equal(t, tensor.Shape{8, 4, 8, 8}, predictor.calls[0].inputShape)
	assert.Equal(t, tensor.Shape{8, 4, 8}, predictor.calls[0].embedShape)
}

func TestGenerateInpaint(t *testing.T) {
	safety := &mockSafetyChecker{}
	p, predictor := newTestPipeline(t, WithSafetyChecker(safety))

	req := DefaultGenerateRequest()
	req.Prompts = []string{"a red balloon"}
	req.Height, req.Width = 64, 64
	req.NumInferenceSteps = 4
	req.GroundingBoxes = [][4]float32{{0, 0, 1, 1}}
	req.GroundingPhrases = []string{"a red balloon"}
	req.InpaintImage = uniformImage(64, color.White)
	req.Seed = 11

	result, err := p.Generate(context.Background(), req)
	require.NoError(t, err)
	require.Len(t, result.Images, 1)
	assert.Equal(t, []bool{false}, result.NSFWFlags)
	assert.Equal(t, 1, safety.checked)

	require.NotEmpty(t, predictor.calls)
	// Latent channels plus masked-latent channels plus the mask channel.
	assert.Equal(t, tensor.Shape{2, 9, 8, 8}, predictor.calls[0].inputShape)
}

func TestGenerateManyBoxesTruncated(t *testing.T) {
	p, predictor := newTestPipeline(t)

	req := DefaultGenerateRequest()
	req.Prompts = []string{"a crowd"}
	req.Height, req.Width = 64, 64
	req.NumInferenceSteps = 2
	req.Seed = 21
	req.OutputFormat = OutputLatent
	req.GroundingBoxes = make([][4]float32, 35)
	req.GroundingPhrases = make([]string, 35)
	for i := range req.GroundingBoxes {
		req.GroundingBoxes[i] = [4]float32{0, 0, 0.5, 0.5}
		req.GroundingPhrases[i] = "person"
	}

	result, err := p.Generate(context.Background(), req)
	require.NoError(t, err)
	require.NotNil(t, result.Latents)

	// Only the batch capacity's worth of instructions reaches the network.
	require.NotEmpty(t, predictor.calls)
	assert.Equal(t, DefaultMaxObjects, predictor.calls[0].slots)
}

func TestGeneratePrecomputedLatents(t *testing.T) {
	p, _ := newTestPipeline(t)

	req := DefaultGenerateRequest()
	req.Prompts = []string{"a cat"}
	req.Height, req.Width = 64, 64
	req.NumInferenceSteps = 2
	req.Seed = 0
	req.OutputFormat = OutputLatent
	req.Latents = tensor.Zeros(tensor.Shape{2, 4, 8, 8})

	_, err := p.Generate(context.Background(), req)
	assert.ErrorContains(t, err, "supplied latents have shape")

	req.Latents = tensor.Zeros(tensor.Shape{1, 4, 8, 8})
	result, err := p.Generate(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, tensor.Shape{1, 4, 8, 8}, result.Latents.Shape())
}

func TestGeneratePrecomputedEmbeddings(t *testing.T) {
	p, predictor := newTestPipeline(t)

	req := DefaultGenerateRequest()
	req.PromptEmbeddings = tensor.Full(tensor.Shape{1, 4, 8}, 2)
	req.NegativePromptEmbeddings = tensor.Full(tensor.Shape{1, 4, 8}, -1)
	req.Height, req.Width = 64, 64
	req.NumInferenceSteps = 2
	req.Seed = 9
	req.OutputFormat = OutputLatent

	_, err := p.Generate(context.Background(), req)
	require.NoError(t, err)

	require.NotEmpty(t, predictor.calls)
	assert.Equal(t, tensor.Shape{2, 4, 8}, predictor.calls[0].embedShape)
}

func TestGenerateProgress(t *testing.T) {
	p, _ := newTestPipeline(t)

	var steps []int
	req := DefaultGenerateRequest()
	req.Prompts = []string{"a cat"}
	req.Height, req.Width = 64, 64
	req.NumInferenceSteps = 10
	req.ProgressStride = 3
	req.Seed = 1
	req.OutputFormat = OutputLatent
	req.Progress = func(step, timestep int, latents *tensor.RawTensor) {
		steps = append(steps, step)
		assert.NotNil(t, latents)
	}

	_, err := p.Generate(context.Background(), req)
	require.NoError(t, err)

	// Every stride-th step plus the final one.
	assert.Equal(t, []int{0, 3, 6, 9}, steps)
}
