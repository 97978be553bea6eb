package transcoder

import (
	"image"
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"

	"webcamhead/internal/domain"
)

func checkerFrame(w, h int) domain.RawFrame {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			if (x+y)%2 == 0 {
				img.SetRGBA(x, y, color.RGBA{R: 255, G: 255, B: 255, A: 255})
			} else {
				img.SetRGBA(x, y, color.RGBA{A: 255})
			}
		}
	}
	return domain.RawFrame{Pixels: img, Width: w, Height: h}
}

func TestResize_NearestKeepsHardEdges(t *testing.T) {
	src := checkerFrame(8, 8)

	out := Resize(src, 128, 128, FilterNearest)

	assert.Equal(t, 128, out.Width)
	assert.Equal(t, 128, out.Height)
	// Каждый исходный пиксель становится блоком 16x16 без промежуточных оттенков
	for i := 0; i < len(out.Pixels.Pix); i += 4 {
		v := out.Pixels.Pix[i]
		assert.True(t, v == 0 || v == 255, "промежуточное значение %d", v)
	}
	assert.Equal(t, uint8(255), out.Pixels.RGBAAt(15, 15).R)
	assert.Equal(t, uint8(0), out.Pixels.RGBAAt(16, 0).R)
}

func TestResize_BilinearBlends(t *testing.T) {
	src := checkerFrame(8, 8)

	out := Resize(src, 64, 64, FilterBilinear)

	blended := false
	for i := 0; i < len(out.Pixels.Pix); i += 4 {
		if v := out.Pixels.Pix[i]; v != 0 && v != 255 {
			blended = true
			break
		}
	}
	assert.True(t, blended)
}

func TestResize_Downscale(t *testing.T) {
	src := gradientFrame(320, 240)

	for _, f := range []Filter{FilterNearest, FilterBilinear, FilterArea} {
		out := Resize(src, 128, 128, f)
		assert.Equal(t, 128, out.Width, f.String())
		assert.Equal(t, 128, out.Height, f.String())
		assert.Len(t, out.Pixels.Pix, 128*128*4)
	}
}

func TestResize_SameSizeReturnsSource(t *testing.T) {
	src := gradientFrame(16, 16)

	out := Resize(src, 16, 16, FilterBilinear)

	assert.Same(t, src.Pixels, out.Pixels)
}

func TestResize_InvalidTarget(t *testing.T) {
	assert.True(t, Resize(gradientFrame(4, 4), 0, 4, FilterNearest).IsZero())
	assert.True(t, Resize(domain.RawFrame{}, 4, 4, FilterNearest).IsZero())
}
