// Package transcoder сжимает кадры в JPEG, распаковывает и масштабирует их.
package transcoder

import (
	"bytes"
	"errors"
	"image"
	"image/jpeg"
	"math"
	"time"

	"golang.org/x/image/draw"

	"webcamhead/internal/domain"
)

// maxPayloadSize верхняя граница размера входящего кадра
const maxPayloadSize = 4 << 20

// JPEGTranscoder кодек с фиксированным форматом JPEG. Состояния между
// кадрами не хранит, безопасен для одновременного использования.
type JPEGTranscoder struct {
	local domain.PeerIdentity
	now   func() time.Time
}

// NewJPEGTranscoder создает кодек; local записывается как отправитель кадров
func NewJPEGTranscoder(local domain.PeerIdentity) *JPEGTranscoder {
	return &JPEGTranscoder{local: local, now: time.Now}
}

// Encode сжимает кадр. quality в диапазоне (0, 1], 0.7 соответствует
// "среднему" сжатию.
func (t *JPEGTranscoder) Encode(frame domain.RawFrame, quality float64) (domain.EncodedFrame, error) {
	if frame.IsZero() {
		return domain.EncodedFrame{}, &domain.EncodeError{Err: errors.New("пустой кадр")}
	}

	var buf bytes.Buffer
	buf.Grow(frame.Width * frame.Height / 4)
	if err := jpeg.Encode(&buf, frame.Pixels, &jpeg.Options{Quality: jpegQuality(quality)}); err != nil {
		return domain.EncodedFrame{}, &domain.EncodeError{Err: err}
	}

	return domain.EncodedFrame{
		Data:    buf.Bytes(),
		Format:  domain.FormatJPEG,
		Quality: quality,
		From:    t.local,
		SentAt:  t.now(),
	}, nil
}

// Decode распаковывает кадр. Некорректные данные дают *domain.DecodeError.
func (t *JPEGTranscoder) Decode(frame domain.EncodedFrame) (domain.RawFrame, error) {
	if frame.Format != "" && frame.Format != domain.FormatJPEG {
		return domain.RawFrame{}, &domain.DecodeError{Reason: "неподдерживаемый формат " + string(frame.Format)}
	}
	if len(frame.Data) == 0 {
		return domain.RawFrame{}, &domain.DecodeError{Reason: "пустые данные"}
	}
	if len(frame.Data) > maxPayloadSize {
		return domain.RawFrame{}, &domain.DecodeError{Reason: "слишком большой кадр"}
	}

	img, err := jpeg.Decode(bytes.NewReader(frame.Data))
	if err != nil {
		return domain.RawFrame{}, &domain.DecodeError{Reason: "некорректный JPEG", Err: err}
	}

	return ToRawFrame(img, t.now()), nil
}

// ToRawFrame копирует изображение в RGBA-кадр с началом координат в (0,0)
func ToRawFrame(img image.Image, at time.Time) domain.RawFrame {
	bounds := img.Bounds()
	rgba, ok := img.(*image.RGBA)
	if !ok || bounds.Min != (image.Point{}) {
		rgba = image.NewRGBA(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))
		draw.Draw(rgba, rgba.Bounds(), img, bounds.Min, draw.Src)
	}
	return domain.RawFrame{
		Pixels:     rgba,
		Width:      bounds.Dx(),
		Height:     bounds.Dy(),
		CapturedAt: at,
	}
}

// jpegQuality переводит качество 0..1 в шкалу JPEG 1..100
func jpegQuality(q float64) int {
	if q <= 0 || math.IsNaN(q) {
		q = domain.DefaultQuality
	}
	v := int(math.Round(q * 100))
	if v < 1 {
		return 1
	}
	if v > 100 {
		return 100
	}
	return v
}
