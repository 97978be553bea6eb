package protocol

import (
	"github.com/google/uuid"

	"webcamhead/internal/domain"
)

// Validate проверяет запрос на вход
func (j Join) Validate() error {
	if _, err := parseIdentity(j.Identity, j.DisplayName); err != nil {
		return &domain.ProtocolError{Event: EventJoin, Reason: err.Error()}
	}
	return nil
}

// PeerIdentity возвращает идентичность участника из запроса
func (j Join) PeerIdentity() (domain.PeerIdentity, error) {
	return parseIdentity(j.Identity, j.DisplayName)
}

// Validate проверяет ответ на вход и ростер
func (j Joined) Validate() error {
	if _, err := j.Self.PeerIdentity(); err != nil {
		return &domain.ProtocolError{Event: EventJoined, Reason: err.Error()}
	}
	for _, p := range j.ExistingPeers {
		if _, err := p.PeerIdentity(); err != nil {
			return &domain.ProtocolError{Event: EventJoined, Reason: err.Error()}
		}
	}
	return nil
}

// Validate проверяет оповещение о новом участнике
func (p PeerNew) Validate() error {
	if _, err := p.Peer.PeerIdentity(); err != nil {
		return &domain.ProtocolError{Event: EventNew, Reason: err.Error()}
	}
	return nil
}

// Validate проверяет оповещение об уходе. Имя может отсутствовать.
func (p PeerLeft) Validate() error {
	if _, err := uuid.Parse(p.Identity); err != nil {
		return &domain.ProtocolError{Event: EventLeft, Reason: "некорректный идентификатор " + p.Identity}
	}
	return nil
}

// Validate проверяет статус камеры
func (s Status) Validate() error {
	if _, err := parseIdentity(s.Identity, s.DisplayName); err != nil {
		return &domain.ProtocolError{Event: EventStatus, Reason: err.Error()}
	}
	return nil
}

// Validate проверяет входящий кадр: отправитель и непустые base64-данные
func (f InboundFrame) Validate() error {
	if _, err := parseIdentity(f.FromIdentity, f.FromName); err != nil {
		return &domain.ProtocolError{Event: EventFrame, Reason: err.Error()}
	}
	if f.FrameData == "" {
		return &domain.ProtocolError{Event: EventFrame, Reason: "пустой кадр"}
	}
	return nil
}

// Validate проверяет исходящий кадр на стороне сервера
func (f OutboundFrame) Validate() error {
	if f.FrameData == "" {
		return &domain.ProtocolError{Event: EventFrame, Reason: "пустой кадр"}
	}
	return nil
}

// PeerIdentity идентичность ушедшего участника; имя может быть пустым
func (p PeerLeft) PeerIdentity() (domain.PeerIdentity, error) {
	id, err := uuid.Parse(p.Identity)
	if err != nil {
		return domain.PeerIdentity{}, err
	}
	return domain.PeerIdentity{ID: id, DisplayName: p.DisplayName}, nil
}

// PeerIdentity участник, чья камера изменила состояние
func (s Status) PeerIdentity() (domain.PeerIdentity, error) {
	return parseIdentity(s.Identity, s.DisplayName)
}

// PeerIdentity отправитель кадра
func (f InboundFrame) PeerIdentity() (domain.PeerIdentity, error) {
	return parseIdentity(f.FromIdentity, f.FromName)
}
