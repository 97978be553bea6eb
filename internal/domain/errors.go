package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrNoFrame камера открылась, но тестовый кадр не получен
	ErrNoFrame = errors.New("камера не вернула кадр")
	// ErrDeviceFailed цикл захвата остановлен после серии ошибок
	ErrDeviceFailed = errors.New("устройство захвата отказало")
	// ErrDeviceNotFound нет устройства с указанным индексом
	ErrDeviceNotFound = errors.New("устройство не найдено")
	// ErrAlreadyRunning конвейер уже запущен
	ErrAlreadyRunning = errors.New("конвейер уже запущен")
	// ErrNotRunning нет активного захвата
	ErrNotRunning = errors.New("нет активного захвата")
	// ErrNotConnected нет соединения с ретранслятором
	ErrNotConnected = errors.New("нет соединения с сервером")
	// ErrSessionClosed сессия закрыта вызовом Disconnect
	ErrSessionClosed = errors.New("сессия закрыта")
	// ErrUnknownTarget дескриптор не принадлежит компоновщику
	ErrUnknownTarget = errors.New("неизвестная цель рендеринга")
	// ErrCacheConsistency нарушен инвариант единственного владельца цели
	ErrCacheConsistency = errors.New("нарушена целостность кэша участников")
)

// DeviceError ошибка открытия или чтения камеры
type DeviceError struct {
	Op  string
	Err error
}

func (e *DeviceError) Error() string {
	return fmt.Sprintf("камера: %s: %v", e.Op, e.Err)
}

func (e *DeviceError) Unwrap() error { return e.Err }

// EncodeError ошибка сжатия кадра
type EncodeError struct {
	Err error
}

func (e *EncodeError) Error() string {
	return fmt.Sprintf("кодирование кадра: %v", e.Err)
}

func (e *EncodeError) Unwrap() error { return e.Err }

// DecodeError ошибка распаковки входящего кадра
type DecodeError struct {
	Reason string
	Err    error
}

func (e *DecodeError) Error() string {
	if e.Err == nil {
		return "декодирование кадра: " + e.Reason
	}
	return fmt.Sprintf("декодирование кадра: %s: %v", e.Reason, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// NetworkError транспортная ошибка, по умолчанию временная
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("сеть: %s: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// Temporary всегда true: сеть восстанавливается переподключением
func (e *NetworkError) Temporary() bool { return true }

// ProtocolError некорректное входящее сообщение
type ProtocolError struct {
	Event  string
	Reason string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("протокол: событие %q: %s", e.Event, e.Reason)
}
