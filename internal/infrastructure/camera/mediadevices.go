package camera

import (
	"context"
	"fmt"
	"image"

	"github.com/pion/mediadevices"
	_ "github.com/pion/mediadevices/pkg/driver/camera" // Регистрируем драйвер камеры
	"github.com/pion/mediadevices/pkg/io/video"
	"github.com/pion/mediadevices/pkg/prop"

	"webcamhead/internal/application"
	"webcamhead/internal/domain"
)

// MediaDevicesManager реализация CameraManager с использованием библиотеки mediadevices
type MediaDevicesManager struct {
	logger application.Logger
}

// NewMediaDevicesManager создает новый менеджер медиаустройств
func NewMediaDevicesManager(logger application.Logger) *MediaDevicesManager {
	return &MediaDevicesManager{
		logger: logger,
	}
}

// ListDevices возвращает список доступных видеоустройств
func (m *MediaDevicesManager) ListDevices() ([]domain.VideoDevice, error) {
	devices := mediadevices.EnumerateDevices()
	result := make([]domain.VideoDevice, 0, len(devices))

	for _, device := range devices {
		if device.Kind != mediadevices.VideoInput {
			continue
		}
		result = append(result, domain.VideoDevice{
			Index: len(result),
			ID:    device.DeviceID,
			Label: device.Label,
			Kind:  "videoinput",
		})
	}

	m.logger.Info("Найдено видеоустройств: %d", len(result))
	return result, nil
}

// OpenCamera открывает камеру с заданными параметрами и запускает захват
func (m *MediaDevicesManager) OpenCamera(ctx context.Context, config domain.DeviceConfig) (application.CaptureDevice, error) {
	if err := config.Validate(); err != nil {
		return nil, &domain.DeviceError{Op: "config", Err: err}
	}

	deviceID, err := m.resolveDeviceID(config)
	if err != nil {
		return nil, &domain.DeviceError{Op: "resolve", Err: err}
	}

	m.logger.Info("Открытие камеры %q с параметрами: %dx%d, %d fps",
		deviceID, config.Width, config.Height, config.FPS)

	grabber, err := m.openTrack(deviceID, config)
	if err != nil {
		return nil, &domain.DeviceError{Op: "open", Err: err}
	}

	return Open(ctx, grabber, config, m.logger)
}

// resolveDeviceID переводит индекс устройства в его ID
func (m *MediaDevicesManager) resolveDeviceID(config domain.DeviceConfig) (string, error) {
	if config.DeviceID != "" {
		return config.DeviceID, nil
	}

	devices, err := m.ListDevices()
	if err != nil {
		return "", err
	}
	if config.DeviceIndex >= len(devices) {
		return "", fmt.Errorf("%w: индекс %d, доступно %d", domain.ErrDeviceNotFound, config.DeviceIndex, len(devices))
	}
	return devices[config.DeviceIndex].ID, nil
}

func (m *MediaDevicesManager) openTrack(deviceID string, config domain.DeviceConfig) (*trackGrabber, error) {
	// Задаем предпочтительные параметры, но не строгие
	constraints := mediadevices.MediaStreamConstraints{
		Video: func(c *mediadevices.MediaTrackConstraints) {
			c.DeviceID = prop.String(deviceID)
			c.Width = prop.Int(config.Width)
			c.Height = prop.Int(config.Height)
			c.FrameRate = prop.Float(config.FPS)
		},
	}

	mediaStream, err := mediadevices.GetUserMedia(constraints)
	if err != nil {
		m.logger.Error("Ошибка с исходными ограничениями: %v", err)

		// Пробуем с минимальными ограничениями, пусть драйвер выберет формат
		m.logger.Info("Пробуем с минимальными ограничениями...")
		constraints = mediadevices.MediaStreamConstraints{
			Video: func(c *mediadevices.MediaTrackConstraints) {
				c.DeviceID = prop.String(deviceID)
			},
		}

		mediaStream, err = mediadevices.GetUserMedia(constraints)
		if err != nil {
			m.logger.Error("Не удалось получить доступ к медиа-устройству: %v", err)
			return nil, err
		}
	}

	videoTracks := mediaStream.GetVideoTracks()
	if len(videoTracks) == 0 {
		return nil, fmt.Errorf("видеотрек не обнаружен")
	}

	videoTrack, ok := videoTracks[0].(*mediadevices.VideoTrack)
	if !ok {
		for _, track := range videoTracks {
			track.Close()
		}
		return nil, fmt.Errorf("трек %s не является видеотреком", videoTracks[0].ID())
	}

	m.logger.Info("Используется камера: %s", videoTrack.ID())
	return &trackGrabber{
		track:  videoTrack,
		reader: videoTrack.NewReader(false),
	}, nil
}

// trackGrabber адаптер VideoTrack к FrameGrabber
type trackGrabber struct {
	track  *mediadevices.VideoTrack
	reader video.Reader
}

// Grab читает следующий кадр с камеры
func (g *trackGrabber) Grab() (image.Image, func(), error) {
	return g.reader.Read()
}

// Close закрывает трек
func (g *trackGrabber) Close() error {
	return g.track.Close()
}
