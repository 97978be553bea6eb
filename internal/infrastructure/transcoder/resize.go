package transcoder

import (
	"image"

	"golang.org/x/image/draw"

	"webcamhead/internal/domain"
)

// Filter алгоритм масштабирования
type Filter int

const (
	// FilterNearest для стилизованных поверхностей низкого разрешения:
	// не размывает пиксельную графику
	FilterNearest Filter = iota
	// FilterBilinear для естественных изображений
	FilterBilinear
	// FilterArea качественное уменьшение (Catmull-Rom)
	FilterArea
)

func (f Filter) String() string {
	switch f {
	case FilterNearest:
		return "nearest"
	case FilterBilinear:
		return "bilinear"
	default:
		return "area"
	}
}

// Scaler возвращает масштабатор x/image/draw для фильтра
func (f Filter) Scaler() draw.Scaler {
	switch f {
	case FilterNearest:
		return draw.NearestNeighbor
	case FilterBilinear:
		return draw.ApproxBiLinear
	default:
		return draw.CatmullRom
	}
}

// Resize масштабирует кадр до targetW x targetH. При совпадении размеров
// возвращает тот же кадр.
func Resize(frame domain.RawFrame, targetW, targetH int, filter Filter) domain.RawFrame {
	if frame.IsZero() || targetW <= 0 || targetH <= 0 {
		return domain.RawFrame{}
	}
	if frame.Width == targetW && frame.Height == targetH {
		return frame
	}

	dst := image.NewRGBA(image.Rect(0, 0, targetW, targetH))
	filter.Scaler().Scale(dst, dst.Bounds(), frame.Pixels, frame.Pixels.Bounds(), draw.Src, nil)

	return domain.RawFrame{
		Pixels:     dst,
		Width:      targetW,
		Height:     targetH,
		CapturedAt: frame.CapturedAt,
	}
}

// Resize то же, что и пакетная Resize; нужен для интерфейса кодека
func (t *JPEGTranscoder) Resize(frame domain.RawFrame, targetW, targetH int, filter Filter) domain.RawFrame {
	return Resize(frame, targetW, targetH, filter)
}
