package application

import (
	"context"
	"image"

	"webcamhead/internal/domain"
)

// CameraManager интерфейс для управления камерой
type CameraManager interface {
	// ListDevices возвращает список доступных устройств захвата
	ListDevices() ([]domain.VideoDevice, error)

	// OpenCamera открывает камеру и запускает цикл захвата.
	// Возвращает ошибку, если тестовый кадр не получен.
	OpenCamera(ctx context.Context, config domain.DeviceConfig) (CaptureDevice, error)
}

// CaptureDevice открытая камера с собственным циклом захвата
type CaptureDevice interface {
	// LatestFrame возвращает последний полностью захваченный кадр, не блокируясь
	LatestFrame() (domain.RawFrame, bool)

	// Failed сообщает, что цикл захвата остановился из-за ошибок
	Failed() bool

	// Close останавливает цикл захвата и освобождает устройство
	Close() error
}

// Transcoder сжатие, распаковка и масштабирование кадров
type Transcoder interface {
	Encode(frame domain.RawFrame, quality float64) (domain.EncodedFrame, error)
	Decode(frame domain.EncodedFrame) (domain.RawFrame, error)
}

// SessionHandler обработчик событий сессии. Вызывается из сетевой горутины.
type SessionHandler interface {
	OnStateChange(status domain.ConnectionStatus)
	OnRoster(self domain.PeerIdentity, existing []domain.PeerIdentity)
	OnPeerJoined(peer domain.PeerIdentity)
	OnPeerLeft(id domain.PeerIdentity)
	OnPeerStatus(peer domain.PeerIdentity, active bool)
	OnFrame(from domain.PeerIdentity, payload []byte)
	OnProtocolError(err error)
}

// SignalingSession соединение с ретранслятором
type SignalingSession interface {
	// SetHandler регистрирует обработчик событий до Connect
	SetHandler(h SessionHandler)

	// Connect подключается и входит в комнату. Блокируется до первого
	// подключения или ошибки; дальнейшие обрывы восстанавливаются сами.
	Connect(ctx context.Context, serverURL string, local domain.PeerIdentity, roomID string) error

	// Disconnect закрывает сессию и отменяет переподключение
	Disconnect() error

	// Send отправляет событие в комнату
	Send(event string, payload any) error

	// IsConnected возвращает статус подключения
	IsConnected() bool
}

// Compositor владеет целями рендеринга
type Compositor interface {
	CreateTarget(width, height int) (domain.TargetHandle, error)
	CreateTargetFromBase(base image.Image, width, height int) (domain.TargetHandle, error)
	Blit(target domain.TargetHandle, frame domain.RawFrame, x, y, w, h int) error
	DestroyTarget(target domain.TargetHandle) error
	Sync(uploader TargetUploader) int
	Live() int
}

// TargetUploader внешний рендер, которому передаются измененные цели.
// Вызывается только из контекста рендеринга.
type TargetUploader interface {
	Upload(target domain.TargetHandle, surface domain.Surface) error
}

// BaseImageProvider поставщик исходного изображения участника (скина)
type BaseImageProvider interface {
	BaseImage(ctx context.Context, peer domain.PeerIdentity) (image.Image, error)
}

// Notifier короткие уведомления пользователю
type Notifier func(message string)

// Logger интерфейс для логирования
type Logger interface {
	Info(msg string, args ...interface{})
	Warn(msg string, args ...interface{})
	Error(msg string, args ...interface{})
	Debug(msg string, args ...interface{})
}
