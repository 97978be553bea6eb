// Package protocol описывает сообщения между клиентом и ретранслятором.
//
// Каждое сообщение передается текстовым WebSocket-фреймом вида
// {"event": "<имя>", "data": {...}}.
package protocol

import (
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"webcamhead/internal/domain"
)

// События клиент -> сервер
const (
	EventJoin   = "peer:join"
	EventToggle = "webcam:toggle"
	EventFrame  = "video:frame"
)

// События сервер -> клиент. video:frame используется в обе стороны.
const (
	EventJoined = "peer:joined"
	EventNew    = "peer:new"
	EventLeft   = "peer:left"
	EventStatus = "webcam:status"
	EventError  = "error"
)

// Envelope внешняя оболочка любого сообщения
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// PeerInfo описание участника, которое рассылает сервер
type PeerInfo struct {
	Identity     string `json:"identity"`
	DisplayName  string `json:"displayName"`
	RoomID       string `json:"roomId"`
	WebcamActive bool   `json:"webcamActive"`
	ConnectedAt  int64  `json:"connectedAt"`
}

// Join запрос на вход в комнату
type Join struct {
	Identity    string `json:"identity"`
	DisplayName string `json:"displayName"`
	RoomID      string `json:"roomId"`
}

// Toggle включение/выключение камеры отправителя
type Toggle struct {
	Active bool `json:"active"`
}

// OutboundFrame кадр от клиента; FrameData - base64 от JPEG
type OutboundFrame struct {
	FrameData string `json:"frameData"`
}

// Joined ответ на вход: сам участник и те, кто уже в комнате
type Joined struct {
	Self          PeerInfo   `json:"self"`
	ExistingPeers []PeerInfo `json:"existingPeers"`
}

// PeerNew оповещение о новом участнике
type PeerNew struct {
	Peer PeerInfo `json:"peer"`
}

// PeerLeft оповещение об уходе участника
type PeerLeft struct {
	Identity    string `json:"identity"`
	DisplayName string `json:"displayName"`
}

// Status состояние камеры участника
type Status struct {
	Identity    string `json:"identity"`
	DisplayName string `json:"displayName"`
	Active      bool   `json:"active"`
}

// InboundFrame кадр, пересланный сервером
type InboundFrame struct {
	FromIdentity string `json:"fromIdentity"`
	FromName     string `json:"fromName"`
	FrameData    string `json:"frameData"`
}

// ErrorMessage ошибка, возвращенная сервером
type ErrorMessage struct {
	Message string `json:"message"`
}

// Marshal упаковывает данные события в оболочку
func Marshal(event string, data any) ([]byte, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("сериализация %s: %w", event, err)
	}
	return json.Marshal(Envelope{Event: event, Data: raw})
}

// Unmarshal разбирает оболочку. Данные события разбираются отдельно.
func Unmarshal(message []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(message, &env); err != nil {
		return Envelope{}, &domain.ProtocolError{Event: "?", Reason: "некорректный JSON: " + err.Error()}
	}
	if env.Event == "" {
		return Envelope{}, &domain.ProtocolError{Event: "?", Reason: "нет имени события"}
	}
	return env, nil
}

// DecodeData разбирает данные события в v
func DecodeData(env Envelope, v any) error {
	if len(env.Data) == 0 || string(env.Data) == "null" {
		return &domain.ProtocolError{Event: env.Event, Reason: "нет данных"}
	}
	if err := json.Unmarshal(env.Data, v); err != nil {
		return &domain.ProtocolError{Event: env.Event, Reason: err.Error()}
	}
	return nil
}

// EncodePayload переводит байты кадра в текст
func EncodePayload(data []byte) string {
	return base64.StdEncoding.EncodeToString(data)
}

// DecodePayload восстанавливает байты кадра из текста
func DecodePayload(text string) ([]byte, error) {
	return base64.StdEncoding.DecodeString(text)
}

// NewPeerInfo строит PeerInfo из идентичности
func NewPeerInfo(id domain.PeerIdentity, roomID string) PeerInfo {
	return PeerInfo{
		Identity:    id.ID.String(),
		DisplayName: id.DisplayName,
		RoomID:      roomID,
	}
}

// PeerIdentity проверяет и переводит PeerInfo в доменную идентичность
func (p PeerInfo) PeerIdentity() (domain.PeerIdentity, error) {
	return parseIdentity(p.Identity, p.DisplayName)
}

func parseIdentity(identity, name string) (domain.PeerIdentity, error) {
	id, err := uuid.Parse(identity)
	if err != nil {
		return domain.PeerIdentity{}, fmt.Errorf("некорректный идентификатор %q", identity)
	}
	if name == "" {
		return domain.PeerIdentity{}, fmt.Errorf("пустое имя участника %s", identity)
	}
	return domain.PeerIdentity{ID: id, DisplayName: name}, nil
}
