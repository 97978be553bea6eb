package domain

import (
	"image"
	"time"

	"github.com/google/uuid"
)

// RawFrame представляет несжатый кадр с камеры или после декодирования.
// Pixels всегда RGBA, построчно; после публикации кадр не изменяется.
type RawFrame struct {
	Pixels     *image.RGBA
	Width      int
	Height     int
	CapturedAt time.Time
}

// IsZero сообщает, что кадр пустой
func (f RawFrame) IsZero() bool {
	return f.Pixels == nil
}

// FrameFormat тег формата закодированного кадра
type FrameFormat string

// FormatJPEG единственный поддерживаемый формат передачи
const FormatJPEG FrameFormat = "jpeg"

// EncodedFrame сжатый кадр, готовый к отправке. Неизменяем после создания.
type EncodedFrame struct {
	Data    []byte
	Format  FrameFormat
	Quality float64
	From    PeerIdentity
	SentAt  time.Time
}

// PeerIdentity идентифицирует участника комнаты. Ключом служит только ID.
type PeerIdentity struct {
	ID          uuid.UUID
	DisplayName string
}

// NewPeerIdentity создает идентичность с новым случайным UUID
func NewPeerIdentity(displayName string) PeerIdentity {
	return PeerIdentity{ID: uuid.New(), DisplayName: displayName}
}

// String возвращает "имя (uuid)" для логов
func (p PeerIdentity) String() string {
	if p.DisplayName == "" {
		return p.ID.String()
	}
	return p.DisplayName + " (" + p.ID.String() + ")"
}

// TargetHandle непрозрачный дескриптор цели рендеринга.
// Выдается компоновщиком, остальные компоненты только передают его дальше.
type TargetHandle uint64

// NoTarget нулевой дескриптор
const NoTarget TargetHandle = 0

// PeerVideoState визуальное состояние участника для внешнего рендера
type PeerVideoState struct {
	Identity    PeerIdentity
	Target      TargetHandle
	Width       int
	Height      int
	Active      bool
	LastFrameAt time.Time
	LastSeq     uint64
}

// ConnectionStatus состояние соединения с ретранслятором
type ConnectionStatus int

const (
	Disconnected ConnectionStatus = iota
	Connecting
	Connected
)

func (s ConnectionStatus) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	default:
		return "disconnected"
	}
}

// SessionState состояние сессии: статус, комната, локальный участник и ростер
type SessionState struct {
	Status ConnectionStatus
	RoomID string
	Local  PeerIdentity
	Roster map[uuid.UUID]PeerIdentity
}

// Statistics монотонные счетчики конвейера
type Statistics struct {
	FramesSent     uint64
	FramesReceived uint64
	BytesSent      uint64
	EncodeErrors   uint64
	DecodeErrors   uint64
	ProtocolErrors uint64
	DroppedFrames  uint64
}

// AverageFrameSize средний размер отправленного кадра в байтах
func (s Statistics) AverageFrameSize() uint64 {
	if s.FramesSent == 0 {
		return 0
	}
	return s.BytesSent / s.FramesSent
}

// VideoDevice представляет устройство захвата видео
type VideoDevice struct {
	Index int    // Порядковый номер среди видеоустройств
	ID    string // Уникальный идентификатор устройства
	Label string // Человекочитаемое имя устройства
	Kind  string // Тип устройства
}

// PixelLayout порядок каналов в буфере цели рендеринга
type PixelLayout int

const (
	LayoutRGBA PixelLayout = iota
	LayoutBGRA
)

func (l PixelLayout) String() string {
	if l == LayoutBGRA {
		return "BGRA"
	}
	return "RGBA"
}

// Surface снимок пикселей цели для выгрузки во внешний рендер
type Surface struct {
	Pix    []byte
	Width  int
	Height int
	Stride int
	Layout PixelLayout
}

// Placement размещение кадра на цели участника: сторона цели и области вписывания
type Placement struct {
	Size    int
	Regions []image.Rectangle
}
