package domain

import (
	"fmt"
	"time"
)

// Значения по умолчанию
const (
	DefaultCaptureWidth  = 320
	DefaultCaptureHeight = 240
	DefaultCaptureFPS    = 15
	DefaultSendFPS       = 10
	DefaultQuality       = 0.7
	DefaultRoomID        = "default"
	DefaultServerURL     = "ws://localhost:3000/ws"
)

// DeviceConfig параметры открытия камеры
type DeviceConfig struct {
	DeviceIndex int    // Индекс среди видеоустройств
	DeviceID    string // Явный ID устройства, имеет приоритет над индексом
	Width       int
	Height      int
	FPS         int
}

// DefaultDeviceConfig возвращает конфигурацию камеры по умолчанию
func DefaultDeviceConfig() DeviceConfig {
	return DeviceConfig{
		Width:  DefaultCaptureWidth,
		Height: DefaultCaptureHeight,
		FPS:    DefaultCaptureFPS,
	}
}

// FrameInterval интервал между захватами
func (c DeviceConfig) FrameInterval() time.Duration {
	return time.Second / time.Duration(c.FPS)
}

// Validate проверяет конфигурацию камеры
func (c DeviceConfig) Validate() error {
	if c.Width <= 0 || c.Height <= 0 {
		return fmt.Errorf("некорректное разрешение: %dx%d", c.Width, c.Height)
	}
	if c.FPS <= 0 || c.FPS > 120 {
		return fmt.Errorf("некорректная частота кадров: %d", c.FPS)
	}
	if c.DeviceIndex < 0 {
		return fmt.Errorf("некорректный индекс устройства: %d", c.DeviceIndex)
	}
	return nil
}

// SessionConfig параметры подключения к ретранслятору
type SessionConfig struct {
	ServerURL string
	RoomID    string
	Local     PeerIdentity
	SendFPS   int     // Максимальная частота отправки
	Quality   float64 // Качество JPEG 0..1
}

// DefaultSessionConfig возвращает конфигурацию сессии по умолчанию
func DefaultSessionConfig(local PeerIdentity) SessionConfig {
	return SessionConfig{
		ServerURL: DefaultServerURL,
		RoomID:    DefaultRoomID,
		Local:     local,
		SendFPS:   DefaultSendFPS,
		Quality:   DefaultQuality,
	}
}

// SendInterval минимальный интервал между отправками
func (c SessionConfig) SendInterval() time.Duration {
	return time.Second / time.Duration(c.SendFPS)
}

// Validate проверяет конфигурацию сессии
func (c SessionConfig) Validate() error {
	if c.ServerURL == "" {
		return fmt.Errorf("не задан адрес сервера")
	}
	if c.RoomID == "" {
		return fmt.Errorf("не задана комната")
	}
	if c.Local.DisplayName == "" {
		return fmt.Errorf("не задано имя участника")
	}
	if c.SendFPS <= 0 {
		return fmt.Errorf("некорректная частота отправки: %d", c.SendFPS)
	}
	if c.Quality <= 0 || c.Quality > 1 {
		return fmt.Errorf("качество должно быть в (0, 1]: %v", c.Quality)
	}
	return nil
}
