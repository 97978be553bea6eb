package camera

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/image/draw"

	"webcamhead/internal/application"
	"webcamhead/internal/domain"
)

const (
	// MaxConsecutiveFailures после стольких ошибок подряд цикл захвата останавливается
	MaxConsecutiveFailures = 5
	// closeTimeout сколько ждем выхода цикла захвата при закрытии
	closeTimeout = time.Second
	// testGrabTimeout ограничение на тестовый кадр при открытии
	testGrabTimeout = 5 * time.Second
)

// FrameGrabber источник кадров. Grab блокируется до появления кадра;
// release освобождает буфер драйвера и может быть nil.
type FrameGrabber interface {
	Grab() (img image.Image, release func(), err error)
	Close() error
}

// DeviceStatus состояние открытой камеры
type DeviceStatus int32

const (
	StatusRunning DeviceStatus = iota
	StatusFailed
	StatusClosed
)

func (s DeviceStatus) String() string {
	switch s {
	case StatusRunning:
		return "running"
	case StatusFailed:
		return "failed"
	default:
		return "closed"
	}
}

// Device открытая камера с собственным циклом захвата.
// Последний кадр хранится в одноместном слоте и читается без блокировок.
type Device struct {
	grabber  FrameGrabber
	logger   application.Logger
	interval time.Duration
	now      func() time.Time

	slot frameSlot

	status      atomic.Int32
	failErr     atomic.Pointer[error]
	grabbed     atomic.Uint64
	grabErrors  atomic.Uint64
	maxFailures int

	stop      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
	closeErr  error
}

// Open проверяет источник тестовым кадром и запускает цикл захвата.
// Если кадр не получен, источник закрывается и возвращается DeviceError.
func Open(ctx context.Context, grabber FrameGrabber, config domain.DeviceConfig, logger application.Logger) (*Device, error) {
	if err := config.Validate(); err != nil {
		grabber.Close()
		return nil, &domain.DeviceError{Op: "config", Err: err}
	}

	d := &Device{
		grabber:     grabber,
		logger:      logger,
		interval:    config.FrameInterval(),
		now:         time.Now,
		maxFailures: MaxConsecutiveFailures,
		stop:        make(chan struct{}),
		done:        make(chan struct{}),
	}

	logger.Info("Проверка захвата кадра...")
	if err := d.testGrab(ctx); err != nil {
		grabber.Close()
		return nil, &domain.DeviceError{Op: "test-grab", Err: err}
	}
	frame, _ := d.slot.load()
	logger.Info("Тестовый кадр получен (%dx%d)", frame.Width, frame.Height)

	go d.loop()

	logger.Info("Камера запущена @ %d fps", config.FPS)
	return d, nil
}

// testGrab синхронно захватывает первый кадр с ограничением по времени
func (d *Device) testGrab(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, testGrabTimeout)
	defer cancel()

	result := make(chan error, 1)
	go func() {
		result <- d.grabOnce()
	}()

	select {
	case err := <-result:
		return err
	case <-ctx.Done():
		return fmt.Errorf("%w: %v", domain.ErrNoFrame, ctx.Err())
	}
}

func (d *Device) loop() {
	defer close(d.done)

	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	failures := 0
	for {
		select {
		case <-d.stop:
			return
		case <-ticker.C:
		}

		err := d.grabOnce()
		if err == nil {
			failures = 0
			continue
		}

		failures++
		d.grabErrors.Add(1)
		d.logger.Error("Ошибка захвата кадра (%d подряд): %v", failures, err)
		if failures >= d.maxFailures {
			ferr := fmt.Errorf("%w: %v", domain.ErrDeviceFailed, err)
			d.failErr.Store(&ferr)
			d.status.CompareAndSwap(int32(StatusRunning), int32(StatusFailed))
			d.logger.Error("Цикл захвата остановлен после %d ошибок подряд", failures)
			return
		}
	}
}

// grabOnce захватывает кадр и публикует его копию в слот
func (d *Device) grabOnce() error {
	img, release, err := d.grabber.Grab()
	if err != nil {
		return err
	}
	if img == nil {
		if release != nil {
			release()
		}
		return domain.ErrNoFrame
	}

	// Буфер драйвера переиспользуется, поэтому копируем до release
	bounds := img.Bounds()
	rgba := image.NewRGBA(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))
	draw.Draw(rgba, rgba.Bounds(), img, bounds.Min, draw.Src)
	if release != nil {
		release()
	}

	d.slot.store(domain.RawFrame{
		Pixels:     rgba,
		Width:      bounds.Dx(),
		Height:     bounds.Dy(),
		CapturedAt: d.now(),
	})
	d.grabbed.Add(1)
	return nil
}

// LatestFrame возвращает последний кадр. Без нового захвата повторные
// вызовы возвращают тот же кадр.
func (d *Device) LatestFrame() (domain.RawFrame, bool) {
	return d.slot.load()
}

// Status возвращает состояние камеры
func (d *Device) Status() DeviceStatus {
	return DeviceStatus(d.status.Load())
}

// Failed сообщает, что цикл захвата остановился из-за ошибок
func (d *Device) Failed() bool {
	return d.Status() == StatusFailed
}

// Err возвращает причину отказа или nil
func (d *Device) Err() error {
	if p := d.failErr.Load(); p != nil {
		return *p
	}
	return nil
}

// Done закрывается, когда цикл захвата завершился
func (d *Device) Done() <-chan struct{} {
	return d.done
}

// Grabbed количество успешно захваченных кадров
func (d *Device) Grabbed() uint64 {
	return d.grabbed.Load()
}

// GrabErrors количество ошибок захвата
func (d *Device) GrabErrors() uint64 {
	return d.grabErrors.Load()
}

// Close останавливает цикл захвата и закрывает источник ровно один раз
func (d *Device) Close() error {
	d.closeOnce.Do(func() {
		close(d.stop)

		// Заблокированный Grab прервется закрытием источника ниже
		select {
		case <-d.done:
		case <-time.After(closeTimeout):
			d.logger.Warn("Цикл захвата не завершился за %v", closeTimeout)
		}

		d.closeErr = d.grabber.Close()
		if d.Status() != StatusFailed {
			d.status.Store(int32(StatusClosed))
		}
		if d.closeErr != nil && !errors.Is(d.closeErr, context.Canceled) {
			d.logger.Error("Ошибка закрытия камеры: %v", d.closeErr)
		}
		d.logger.Info("Камера остановлена")
	})
	return d.closeErr
}
