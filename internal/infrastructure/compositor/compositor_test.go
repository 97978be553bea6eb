package compositor

import (
	"errors"
	"image"
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"webcamhead/internal/domain"
	"webcamhead/internal/infrastructure/logger"
	"webcamhead/internal/infrastructure/transcoder"
)

func solidFrame(w, h int, c color.RGBA) domain.RawFrame {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i], img.Pix[i+1], img.Pix[i+2], img.Pix[i+3] = c.R, c.G, c.B, c.A
	}
	return domain.RawFrame{Pixels: img, Width: w, Height: h}
}

func newTestCompositor(layout domain.PixelLayout) *Compositor {
	return NewCompositor(layout, transcoder.FilterNearest, logger.NewDiscardLogger())
}

func pixelAt(s domain.Surface, x, y int) [4]byte {
	i := y*s.Stride + x*4
	return [4]byte{s.Pix[i], s.Pix[i+1], s.Pix[i+2], s.Pix[i+3]}
}

type recordingUploader struct {
	uploads []domain.TargetHandle
	fail    map[domain.TargetHandle]bool
}

func (r *recordingUploader) Upload(h domain.TargetHandle, _ domain.Surface) error {
	if r.fail[h] {
		return errors.New("upload failed")
	}
	r.uploads = append(r.uploads, h)
	return nil
}

func TestCompositor_CreateAndDestroy(t *testing.T) {
	c := newTestCompositor(domain.LayoutRGBA)

	a, err := c.CreateTarget(32, 32)
	require.NoError(t, err)
	b, err := c.CreateTarget(16, 16)
	require.NoError(t, err)

	assert.NotEqual(t, a, b)
	assert.NotEqual(t, domain.NoTarget, a)
	assert.Equal(t, 2, c.Live())

	require.NoError(t, c.DestroyTarget(a))
	assert.Equal(t, 1, c.Live())

	err = c.DestroyTarget(a)
	assert.True(t, errors.Is(err, domain.ErrUnknownTarget))
	assert.Equal(t, 1, c.Live())

	_, err = c.CreateTarget(0, 10)
	assert.Error(t, err)
}

func TestCompositor_BlitForcesOpaqueAlpha(t *testing.T) {
	c := newTestCompositor(domain.LayoutRGBA)
	h, err := c.CreateTarget(64, 64)
	require.NoError(t, err)

	frame := solidFrame(8, 8, color.RGBA{R: 10, G: 5, B: 2, A: 10})
	require.NoError(t, c.Blit(h, frame, 16, 16, 32, 32))

	s, ok := c.Surface(h)
	require.True(t, ok)
	assert.Equal(t, [4]byte{10, 5, 2, 255}, pixelAt(s, 20, 20))
	assert.Equal(t, [4]byte{10, 5, 2, 255}, pixelAt(s, 47, 47))
	// Вне области цель не тронута
	assert.Equal(t, [4]byte{0, 0, 0, 0}, pixelAt(s, 15, 15))
	assert.Equal(t, [4]byte{0, 0, 0, 0}, pixelAt(s, 48, 48))
}

func TestCompositor_BlitSwapsChannelsForBGRA(t *testing.T) {
	c := newTestCompositor(domain.LayoutBGRA)
	h, err := c.CreateTarget(8, 8)
	require.NoError(t, err)

	require.NoError(t, c.Blit(h, solidFrame(8, 8, color.RGBA{R: 1, G: 2, B: 3, A: 255}), 0, 0, 8, 8))

	s, _ := c.Surface(h)
	assert.Equal(t, domain.LayoutBGRA, s.Layout)
	assert.Equal(t, [4]byte{3, 2, 1, 255}, pixelAt(s, 0, 0))

	img := SurfaceImage(s)
	assert.Equal(t, color.RGBA{R: 1, G: 2, B: 3, A: 255}, img.RGBAAt(7, 7))
}

func TestCompositor_BlitClipsToTarget(t *testing.T) {
	c := newTestCompositor(domain.LayoutRGBA)
	h, err := c.CreateTarget(16, 16)
	require.NoError(t, err)

	require.NoError(t, c.Blit(h, solidFrame(4, 4, color.RGBA{R: 255, A: 255}), 12, 12, 8, 8))
	s, _ := c.Surface(h)
	assert.Equal(t, byte(255), pixelAt(s, 15, 15)[0])

	// Полностью за пределами цели
	assert.NoError(t, c.Blit(h, solidFrame(4, 4, color.RGBA{A: 255}), 100, 100, 8, 8))
}

func TestCompositor_BlitErrors(t *testing.T) {
	c := newTestCompositor(domain.LayoutRGBA)
	h, _ := c.CreateTarget(8, 8)

	err := c.Blit(domain.TargetHandle(999), solidFrame(2, 2, color.RGBA{}), 0, 0, 2, 2)
	assert.True(t, errors.Is(err, domain.ErrUnknownTarget))

	assert.Error(t, c.Blit(h, domain.RawFrame{}, 0, 0, 2, 2))
	assert.Error(t, c.Blit(h, solidFrame(2, 2, color.RGBA{}), 0, 0, 0, 2))
}

func TestCompositor_CreateFromBaseUpscalesNearest(t *testing.T) {
	c := newTestCompositor(domain.LayoutRGBA)

	base := image.NewRGBA(image.Rect(0, 0, 2, 2))
	base.SetRGBA(0, 0, color.RGBA{R: 255, A: 255})
	base.SetRGBA(1, 0, color.RGBA{G: 255, A: 255})
	base.SetRGBA(0, 1, color.RGBA{B: 255, A: 255})
	// (1,1) прозрачный

	h, err := c.CreateTargetFromBase(base, 32, 32)
	require.NoError(t, err)

	s, _ := c.Surface(h)
	assert.Equal(t, [4]byte{255, 0, 0, 255}, pixelAt(s, 15, 15))
	assert.Equal(t, [4]byte{0, 255, 0, 255}, pixelAt(s, 16, 0))
	assert.Equal(t, [4]byte{0, 0, 255, 255}, pixelAt(s, 0, 31))
	assert.Equal(t, byte(0), pixelAt(s, 31, 31)[3])
}

func TestCompositor_CreateFromBaseBGRAKeepsAlpha(t *testing.T) {
	c := newTestCompositor(domain.LayoutBGRA)

	base := image.NewNRGBA(image.Rect(0, 0, 1, 2))
	base.SetNRGBA(0, 0, color.NRGBA{R: 10, G: 20, B: 30, A: 255})
	// (0,1) прозрачный

	h, err := c.CreateTargetFromBase(base, 4, 4)
	require.NoError(t, err)

	s, _ := c.Surface(h)
	assert.Equal(t, [4]byte{30, 20, 10, 255}, pixelAt(s, 3, 1))
	assert.Equal(t, byte(0), pixelAt(s, 0, 3)[3])

	require.NoError(t, c.Blit(h, solidFrame(2, 2, color.RGBA{R: 1, G: 2, B: 3, A: 128}), 0, 2, 2, 2))
	assert.Equal(t, [4]byte{3, 2, 1, 255}, pixelAt(s, 1, 3), "кадр всегда непрозрачный")
}

func TestCompositor_SyncUploadsDirtyOnly(t *testing.T) {
	c := newTestCompositor(domain.LayoutRGBA)
	a, _ := c.CreateTarget(8, 8)
	b, _ := c.CreateTarget(8, 8)

	up := &recordingUploader{}
	assert.Equal(t, 2, c.Sync(up))
	assert.Equal(t, []domain.TargetHandle{a, b}, up.uploads)

	// Ничего не менялось
	assert.Equal(t, 0, c.Sync(up))

	require.NoError(t, c.Blit(b, solidFrame(2, 2, color.RGBA{A: 255}), 0, 0, 2, 2))
	assert.True(t, c.Dirty(b))
	assert.False(t, c.Dirty(a))

	up.uploads = nil
	assert.Equal(t, 1, c.Sync(up))
	assert.Equal(t, []domain.TargetHandle{b}, up.uploads)
}

func TestCompositor_SyncKeepsFailedDirty(t *testing.T) {
	c := newTestCompositor(domain.LayoutRGBA)
	a, _ := c.CreateTarget(8, 8)

	up := &recordingUploader{fail: map[domain.TargetHandle]bool{a: true}}
	assert.Equal(t, 0, c.Sync(up))
	assert.True(t, c.Dirty(a))

	up.fail = nil
	assert.Equal(t, 1, c.Sync(up))
	assert.False(t, c.Dirty(a))

	assert.Equal(t, 0, c.Sync(nil))
}

func TestDefaultSkinPlacement(t *testing.T) {
	p := DefaultSkinPlacement()

	assert.Equal(t, 1024, p.Size)
	require.Len(t, p.Regions, 2)
	assert.Equal(t, image.Rect(128, 128, 256, 256), p.Regions[0])
	assert.Equal(t, image.Rect(640, 128, 768, 256), p.Regions[1])
	for _, r := range p.Regions {
		assert.True(t, r.In(image.Rect(0, 0, p.Size, p.Size)))
	}
}

func TestFallbackSkin(t *testing.T) {
	img := FallbackSkin()

	assert.Equal(t, image.Rect(0, 0, 64, 64), img.Bounds())
	assert.Equal(t, color.RGBA{R: 0x55, G: 0x73, B: 0x8B, A: 0xFF}, img.RGBAAt(0, 0))
	assert.Equal(t, color.RGBA{R: 0x55, G: 0x73, B: 0x8B, A: 0xFF}, img.RGBAAt(63, 63))
}
