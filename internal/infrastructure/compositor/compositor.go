// Package compositor владеет целями рендеринга (текстурами скинов) и
// вписывает в них кадры участников.
//
// Compositor используется только из контекста рендеринга, поэтому
// внутренней синхронизации не имеет.
package compositor

import (
	"fmt"
	"image"
	"image/color"
	"sort"

	"golang.org/x/image/draw"

	"webcamhead/internal/application"
	"webcamhead/internal/domain"
	"webcamhead/internal/infrastructure/transcoder"
)

type target struct {
	pix    []byte
	width  int
	height int
	dirty  bool
}

func (t *target) stride() int { return t.width * 4 }

// Compositor хранит цели рендеринга и выдает на них непрозрачные дескрипторы
type Compositor struct {
	layout  domain.PixelLayout
	write   rowWriter
	filter  transcoder.Filter
	logger  application.Logger
	nextID  uint64
	targets map[domain.TargetHandle]*target
}

// NewCompositor создает компоновщик. layout задает порядок каналов,
// который ожидает внешний рендер; filter используется при вписывании кадров.
func NewCompositor(layout domain.PixelLayout, filter transcoder.Filter, logger application.Logger) *Compositor {
	return &Compositor{
		layout:  layout,
		write:   rowWriterFor(layout),
		filter:  filter,
		logger:  logger,
		targets: make(map[domain.TargetHandle]*target),
	}
}

// CreateTarget создает прозрачную цель width x height
func (c *Compositor) CreateTarget(width, height int) (domain.TargetHandle, error) {
	if width <= 0 || height <= 0 {
		return domain.NoTarget, fmt.Errorf("некорректный размер цели: %dx%d", width, height)
	}

	c.nextID++
	h := domain.TargetHandle(c.nextID)
	c.targets[h] = &target{
		pix:    make([]byte, width*height*4),
		width:  width,
		height: height,
		dirty:  true,
	}
	c.logger.Debug("Создана цель %d (%dx%d)", h, width, height)
	return h, nil
}

// CreateTargetFromBase создает цель и заполняет ее базовым изображением,
// увеличенным методом ближайшего соседа. Прозрачность базы сохраняется.
func (c *Compositor) CreateTargetFromBase(base image.Image, width, height int) (domain.TargetHandle, error) {
	h, err := c.CreateTarget(width, height)
	if err != nil {
		return domain.NoTarget, err
	}

	scaled := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.NearestNeighbor.Scale(scaled, scaled.Bounds(), base, base.Bounds(), draw.Src, nil)

	t := c.targets[h]
	for y := 0; y < height; y++ {
		row := scaled.Pix[y*scaled.Stride : y*scaled.Stride+width*4]
		c.write(t.pix[y*t.stride():], row, false)
	}
	return h, nil
}

// Blit вписывает кадр в прямоугольник (x, y, w, h) цели. Кадр масштабируется,
// каналы переставляются под раскладку цели, альфа принудительно 255.
// Часть прямоугольника за пределами цели отсекается.
func (c *Compositor) Blit(h domain.TargetHandle, frame domain.RawFrame, x, y, w, hgt int) error {
	t, ok := c.targets[h]
	if !ok {
		return fmt.Errorf("%w: %d", domain.ErrUnknownTarget, h)
	}
	if frame.IsZero() {
		return fmt.Errorf("пустой кадр")
	}
	if w <= 0 || hgt <= 0 {
		return fmt.Errorf("некорректная область: %dx%d", w, hgt)
	}

	src := transcoder.Resize(frame, w, hgt, c.filter).Pixels
	dst := image.Rect(x, y, x+w, y+hgt).Intersect(image.Rect(0, 0, t.width, t.height))
	if dst.Empty() {
		return nil
	}

	for dy := dst.Min.Y; dy < dst.Max.Y; dy++ {
		sy := dy - y
		sx := dst.Min.X - x
		srow := src.Pix[sy*src.Stride+sx*4 : sy*src.Stride+(sx+dst.Dx())*4]
		c.write(t.pix[dy*t.stride()+dst.Min.X*4:], srow, true)
	}
	t.dirty = true
	return nil
}

// rowWriter копирует строку RGBA в буфер цели. opaque выставляет альфу 255.
type rowWriter func(dst, src []byte, opaque bool)

// rowWriterFor выбирает запись строк под раскладку один раз при создании
func rowWriterFor(layout domain.PixelLayout) rowWriter {
	if layout == domain.LayoutBGRA {
		return writeBGRA
	}
	return writeRGBA
}

func writeRGBA(dst, src []byte, opaque bool) {
	n := copy(dst, src)
	if opaque {
		for i := 3; i < n; i += 4 {
			dst[i] = 0xff
		}
	}
}

func writeBGRA(dst, src []byte, opaque bool) {
	for i := 0; i+3 < len(src); i += 4 {
		a := src[i+3]
		if opaque {
			a = 0xff
		}
		dst[i], dst[i+1], dst[i+2], dst[i+3] = src[i+2], src[i+1], src[i], a
	}
}

// DestroyTarget освобождает цель. Повторное уничтожение возвращает ErrUnknownTarget.
func (c *Compositor) DestroyTarget(h domain.TargetHandle) error {
	if _, ok := c.targets[h]; !ok {
		return fmt.Errorf("%w: %d", domain.ErrUnknownTarget, h)
	}
	delete(c.targets, h)
	c.logger.Debug("Цель %d уничтожена", h)
	return nil
}

// Sync выгружает измененные цели во внешний рендер и возвращает их число.
// Цель, которую не удалось выгрузить, остается помеченной.
func (c *Compositor) Sync(uploader application.TargetUploader) int {
	if uploader == nil {
		return 0
	}

	handles := make([]domain.TargetHandle, 0, len(c.targets))
	for h, t := range c.targets {
		if t.dirty {
			handles = append(handles, h)
		}
	}
	sort.Slice(handles, func(i, j int) bool { return handles[i] < handles[j] })

	uploaded := 0
	for _, h := range handles {
		t := c.targets[h]
		if err := uploader.Upload(h, c.surface(t)); err != nil {
			c.logger.Error("Ошибка выгрузки цели %d: %v", h, err)
			continue
		}
		t.dirty = false
		uploaded++
	}
	return uploaded
}

func (c *Compositor) surface(t *target) domain.Surface {
	return domain.Surface{
		Pix:    t.pix,
		Width:  t.width,
		Height: t.height,
		Stride: t.stride(),
		Layout: c.layout,
	}
}

// Surface возвращает пиксели цели. Буфер принадлежит компоновщику.
func (c *Compositor) Surface(h domain.TargetHandle) (domain.Surface, bool) {
	t, ok := c.targets[h]
	if !ok {
		return domain.Surface{}, false
	}
	return c.surface(t), true
}

// Dirty сообщает, ждет ли цель выгрузки
func (c *Compositor) Dirty(h domain.TargetHandle) bool {
	t, ok := c.targets[h]
	return ok && t.dirty
}

// Live количество существующих целей
func (c *Compositor) Live() int {
	return len(c.targets)
}

// SurfaceImage переводит снимок цели в RGBA-изображение
func SurfaceImage(s domain.Surface) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, s.Width, s.Height))
	for y := 0; y < s.Height; y++ {
		for x := 0; x < s.Width; x++ {
			i := y*s.Stride + x*4
			r, g, b, a := s.Pix[i], s.Pix[i+1], s.Pix[i+2], s.Pix[i+3]
			if s.Layout == domain.LayoutBGRA {
				r, b = b, r
			}
			img.SetRGBA(x, y, color.RGBA{R: r, G: g, B: b, A: a})
		}
	}
	return img
}
