package compositor

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"webcamhead/internal/domain"
)

// SnapshotUploader сохраняет цели в PNG-файлы. Используется как рендер
// для консольного клиента, где нет видеокарты.
type SnapshotUploader struct {
	Dir         string
	MinInterval time.Duration

	// Label подпись для цели, пустая строка без подписи
	Label func(domain.TargetHandle) string

	mu      sync.Mutex
	written map[domain.TargetHandle]time.Time
	now     func() time.Time
}

// NewSnapshotUploader создает каталог и выгрузчик
func NewSnapshotUploader(dir string, minInterval time.Duration) (*SnapshotUploader, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("не удалось создать каталог снимков: %w", err)
	}
	return &SnapshotUploader{
		Dir:         dir,
		MinInterval: minInterval,
		written:     make(map[domain.TargetHandle]time.Time),
		now:         time.Now,
	}, nil
}

// Upload реализует application.TargetUploader
func (u *SnapshotUploader) Upload(h domain.TargetHandle, s domain.Surface) error {
	u.mu.Lock()
	now := u.now()
	if last, ok := u.written[h]; ok && now.Sub(last) < u.MinInterval {
		u.mu.Unlock()
		return nil
	}
	u.written[h] = now
	u.mu.Unlock()

	img := SurfaceImage(s)
	if u.Label != nil {
		if text := u.Label(h); text != "" {
			drawLabel(img, text)
		}
	}

	path := u.Path(h)
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	if err := png.Encode(f, img); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}

// Path путь к файлу цели
func (u *SnapshotUploader) Path(h domain.TargetHandle) string {
	return filepath.Join(u.Dir, fmt.Sprintf("target_%d.png", h))
}

// Forget удаляет файл уничтоженной цели
func (u *SnapshotUploader) Forget(h domain.TargetHandle) {
	u.mu.Lock()
	delete(u.written, h)
	u.mu.Unlock()
	os.Remove(u.Path(h))
}

// drawLabel рисует подпись на полупрозрачной плашке в левом верхнем углу
func drawLabel(img *image.RGBA, text string) {
	face := basicfont.Face7x13
	width := font.MeasureString(face, text).Ceil()
	plate := image.Rect(0, 0, width+8, face.Height+6)
	draw.Draw(img, plate, image.NewUniform(color.RGBA{A: 160}), image.Point{}, draw.Over)

	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(color.White),
		Face: face,
		Dot:  fixed.P(4, face.Ascent+3),
	}
	d.DrawString(text)
}
