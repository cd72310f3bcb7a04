package imageproc

import (
	"image"
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tuanh123789/diffusers/internal/tensor"
)

func solidImage(w, h int, c color.RGBA) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetRGBA(x, y, c)
		}
	}
	return img
}

func TestCenterCropResize(t *testing.T) {
	t.Run("landscape is cropped square then resized", func(t *testing.T) {
		img := solidImage(200, 100, color.RGBA{255, 0, 0, 255})
		out := CenterCropResize(img, 64)
		assert.Equal(t, 64, out.Bounds().Dx())
		assert.Equal(t, 64, out.Bounds().Dy())
	})

	t.Run("square at target size is returned unchanged", func(t *testing.T) {
		img := solidImage(64, 64, color.RGBA{0, 255, 0, 255})
		out := CenterCropResize(img, 64)
		assert.Equal(t, img.Bounds(), out.Bounds())
	})
}

func TestNormalizeRange(t *testing.T) {
	t.Run("white maps to one", func(t *testing.T) {
		out := Normalize(solidImage(2, 2, color.RGBA{255, 255, 255, 255}))
		require.True(t, out.Shape().Equal(tensor.Shape{1, 3, 2, 2}))
		for _, v := range out.Data() {
			assert.InDelta(t, 1.0, v, 1e-6)
		}
	})

	t.Run("black maps to minus one", func(t *testing.T) {
		out := Normalize(solidImage(2, 2, color.RGBA{0, 0, 0, 255}))
		for _, v := range out.Data() {
			assert.InDelta(t, -1.0, v, 1e-6)
		}
	})
}

func TestNormalizeToImageRoundtrip(t *testing.T) {
	src := solidImage(4, 4, color.RGBA{128, 64, 200, 255})

	img := ToImage(Normalize(src))

	r, g, b, _ := img.At(2, 2).RGBA()
	assert.InDelta(t, 128, float64(r>>8), 1)
	assert.InDelta(t, 64, float64(g>>8), 1)
	assert.InDelta(t, 200, float64(b>>8), 1)
}
