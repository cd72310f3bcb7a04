// Package imageproc converts between images and the pixel tensors consumed
// by the autoencoder: square center-cropping, resampling, and the [-1, 1]
// CHW normalization convention.
package imageproc

import (
	"image"
	"math"

	"golang.org/x/image/draw"

	"github.com/tuanh123789/diffusers/internal/tensor"
)

// Resampling kernels.
const (
	ResizeBilinear = iota
	ResizeNearestNeighbor
	ResizeApproxBilinear
	ResizeCatmullrom
)

// Resize returns an image scaled to a new size.
func Resize(img image.Image, newSize image.Point, method int) image.Image {
	dst := image.NewRGBA(image.Rect(0, 0, newSize.X, newSize.Y))

	kernels := map[int]draw.Interpolator{
		ResizeBilinear:        draw.BiLinear,
		ResizeNearestNeighbor: draw.NearestNeighbor,
		ResizeApproxBilinear:  draw.ApproxBiLinear,
		ResizeCatmullrom:      draw.CatmullRom,
	}

	kernel, ok := kernels[method]
	if !ok {
		panic("no resizing method found")
	}

	kernel.Scale(dst, dst.Rect, img, img.Bounds(), draw.Over, nil)

	return dst
}

// CenterCrop returns the centered width×height region of an image.
func CenterCrop(img image.Image, width, height int) image.Image {
	bounds := img.Bounds()
	left := bounds.Min.X + (bounds.Dx()-width)/2
	top := bounds.Min.Y + (bounds.Dy()-height)/2

	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.Draw(dst, dst.Bounds(), img, image.Point{left, top}, draw.Src)
	return dst
}

// CenterCropResize crops an image to a centered square and resizes it to
// size×size. Images that are already square skip the crop.
func CenterCropResize(img image.Image, size int) image.Image {
	bounds := img.Bounds()
	if bounds.Dx() != bounds.Dy() {
		side := bounds.Dx()
		if bounds.Dy() < side {
			side = bounds.Dy()
		}
		img = CenterCrop(img, side, side)
	}
	if b := img.Bounds(); b.Dx() == size && b.Dy() == size {
		return img
	}
	return Resize(img, image.Point{size, size}, ResizeCatmullrom)
}

// Normalize converts an image into a (1, 3, H, W) float32 tensor with pixel
// values scaled to [-1, 1].
func Normalize(img image.Image) *tensor.RawTensor {
	bounds := img.Bounds()
	width, height := bounds.Dx(), bounds.Dy()

	out := tensor.Zeros(tensor.Shape{1, 3, height, width})
	data := out.Data()
	plane := height * width

	i := 0
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			r, g, b, _ := img.At(x, y).RGBA()
			data[i] = float32(r>>8)/127.5 - 1
			data[plane+i] = float32(g>>8)/127.5 - 1
			data[2*plane+i] = float32(b>>8)/127.5 - 1
			i++
		}
	}
	return out
}

// ToImage converts a (1, 3, H, W) or (3, H, W) tensor with values in [-1, 1]
// back into an image, clamping out-of-range values.
func ToImage(t *tensor.RawTensor) image.Image {
	shape := t.Shape()
	if len(shape) == 4 {
		shape = shape[1:]
	}
	height, width := shape[1], shape[2]
	plane := height * width
	data := t.Data()

	img := image.NewRGBA(image.Rect(0, 0, width, height))
	i := 0
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			pix := img.Pix[img.PixOffset(x, y):]
			pix[0] = denormalize(data[i])
			pix[1] = denormalize(data[plane+i])
			pix[2] = denormalize(data[2*plane+i])
			pix[3] = 0xff
			i++
		}
	}
	return img
}

func denormalize(v float32) uint8 {
	scaled := (float64(v) + 1) * 127.5
	return uint8(math.Min(255, math.Max(0, math.Round(scaled))))
}
