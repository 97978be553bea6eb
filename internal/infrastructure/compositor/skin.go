package compositor

import (
	"image"
	"image/color"

	"webcamhead/internal/domain"
)

const (
	// SkinSourceSize сторона исходного скина
	SkinSourceSize = 64

	// SkinScale коэффициент увеличения скина
	SkinScale = 16

	// SkinTargetSize сторона цели скина после увеличения
	SkinTargetSize = SkinSourceSize * SkinScale
)

// fallbackColor цвет скина по умолчанию
var fallbackColor = color.RGBA{R: 0x55, G: 0x73, B: 0x8B, A: 0xFF}

// FallbackSkin однотонный скин 64x64, которым заменяется недоступная база
func FallbackSkin() *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, SkinSourceSize, SkinSourceSize))
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i], img.Pix[i+1], img.Pix[i+2], img.Pix[i+3] = fallbackColor.R, fallbackColor.G, fallbackColor.B, fallbackColor.A
	}
	return img
}

// DefaultSkinPlacement лицевая грань головы и слой шляпы, увеличенные в 16 раз
func DefaultSkinPlacement() domain.Placement {
	face := image.Rect(8, 8, 16, 16)
	hat := image.Rect(40, 8, 48, 16)
	return domain.Placement{
		Size: SkinTargetSize,
		Regions: []image.Rectangle{
			scaleRect(face, SkinScale),
			scaleRect(hat, SkinScale),
		},
	}
}

func scaleRect(r image.Rectangle, k int) image.Rectangle {
	return image.Rect(r.Min.X*k, r.Min.Y*k, r.Max.X*k, r.Max.Y*k)
}
