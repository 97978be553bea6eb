// Package relay реализует сервер-ретранслятор: комнаты, рассылку событий
// участников и пересылку кадров.
package relay

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"webcamhead/internal/application"
	"webcamhead/internal/domain"
	"webcamhead/internal/protocol"
)

// forwardLogEvery как часто логировать счетчик пересланных кадров
const forwardLogEvery = 100

// member участник, прошедший peer:join
type member struct {
	identity     domain.PeerIdentity
	roomID       string
	webcamActive bool
	connectedAt  time.Time
	forwarded    uint64
}

func (m *member) info() protocol.PeerInfo {
	info := protocol.NewPeerInfo(m.identity, m.roomID)
	info.WebcamActive = m.webcamActive
	info.ConnectedAt = m.connectedAt.UnixMilli()
	return info
}

// room комната с датой создания
type room struct {
	id        string
	clients   map[*client]struct{}
	createdAt time.Time
}

// RoomInfo сводка по комнате для HTTP API
type RoomInfo struct {
	ID          string `json:"id"`
	PlayerCount int    `json:"playerCount"`
	CreatedAt   int64  `json:"createdAt"`
}

// HubStats счетчики ретранслятора
type HubStats struct {
	Players         int
	Rooms           int
	FramesForwarded uint64
	FramesDropped   uint64
}

// Hub хранит подключения и комнаты. Комната создается при первом входе
// и удаляется, когда из нее выходит последний участник.
type Hub struct {
	logger   application.Logger
	recorder *FrameRecorder

	mutex   sync.RWMutex
	clients map[*client]*member
	rooms   map[string]*room
	byID    map[uuid.UUID]*client

	framesForwarded atomic.Uint64
	framesDropped   atomic.Uint64
}

// NewHub создает хаб. recorder может быть nil.
func NewHub(recorder *FrameRecorder, logger application.Logger) *Hub {
	return &Hub{
		logger:   logger,
		recorder: recorder,
		clients:  make(map[*client]*member),
		rooms:    make(map[string]*room),
		byID:     make(map[uuid.UUID]*client),
	}
}

// register учитывает новое подключение до входа в комнату
func (h *Hub) register(c *client) {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	h.clients[c] = nil
}

// handle разбирает сообщение клиента
func (h *Hub) handle(c *client, message []byte) {
	env, err := protocol.Unmarshal(message)
	if err != nil {
		h.logger.Debug("Некорректное сообщение от %s: %v", c.addr, err)
		c.sendError(err.Error())
		return
	}

	switch env.Event {
	case protocol.EventJoin:
		var join protocol.Join
		if err := protocol.DecodeData(env, &join); err != nil {
			c.sendError(err.Error())
			return
		}
		if join.RoomID == "" {
			join.RoomID = domain.DefaultRoomID
		}
		identity, err := join.PeerIdentity()
		if err != nil {
			c.sendError("нужны identity и displayName")
			return
		}
		h.join(c, identity, join.RoomID)

	case protocol.EventToggle:
		var toggle protocol.Toggle
		if err := protocol.DecodeData(env, &toggle); err != nil {
			c.sendError(err.Error())
			return
		}
		h.toggle(c, toggle.Active)

	case protocol.EventFrame:
		var frame protocol.OutboundFrame
		if err := protocol.DecodeData(env, &frame); err != nil {
			return
		}
		if err := frame.Validate(); err != nil {
			return
		}
		h.forward(c, frame.FrameData)

	default:
		h.logger.Debug("Неизвестное событие %q от %s", env.Event, c.addr)
	}
}

// join регистрирует участника в комнате, отвечает ему ростером
// и оповещает остальных
func (h *Hub) join(c *client, identity domain.PeerIdentity, roomID string) {
	h.mutex.Lock()
	if prev := h.clients[c]; prev != nil {
		// Повторный вход с того же подключения: сначала выходим из старой комнаты
		h.leaveLocked(c, prev)
	}

	// Тот же участник с нового подключения вытесняет старое
	stale, ok := h.byID[identity.ID]
	if !ok || stale == c {
		stale = nil
	}
	if stale != nil {
		if sm := h.clients[stale]; sm != nil {
			if sm.roomID != roomID {
				h.leaveLocked(stale, sm)
			} else if r, ok := h.rooms[roomID]; ok {
				// Остальные участники комнаты получат peer:new без peer:left
				delete(r.clients, stale)
			}
		}
		h.clients[stale] = nil
	}

	m := &member{identity: identity, roomID: roomID, connectedAt: time.Now()}
	h.clients[c] = m
	h.byID[identity.ID] = c

	r, ok := h.rooms[roomID]
	if !ok {
		r = &room{id: roomID, clients: make(map[*client]struct{}), createdAt: time.Now()}
		h.rooms[roomID] = r
		h.logger.Info("Комната создана: %s", roomID)
	}

	existing := make([]protocol.PeerInfo, 0, len(r.clients))
	others := make([]*client, 0, len(r.clients))
	for other := range r.clients {
		if om := h.clients[other]; om != nil {
			existing = append(existing, om.info())
			others = append(others, other)
		}
	}
	r.clients[c] = struct{}{}
	self := m.info()
	h.mutex.Unlock()

	if stale != nil {
		h.logger.Info("Участник %s переподключился, старое подключение %s закрыто", identity, stale.addr)
		stale.close()
	}

	sort.Slice(existing, func(i, j int) bool { return existing[i].ConnectedAt < existing[j].ConnectedAt })

	c.sendEvent(protocol.EventJoined, protocol.Joined{Self: self, ExistingPeers: existing})
	h.broadcast(others, protocol.EventNew, protocol.PeerNew{Peer: self})

	h.logger.Info("Участник %s вошел в комнату %s (%d в комнате)", identity, roomID, len(others)+1)
}

// toggle меняет состояние камеры и рассылает его всей комнате, включая отправителя
func (h *Hub) toggle(c *client, active bool) {
	h.mutex.Lock()
	m := h.clients[c]
	if m == nil {
		h.mutex.Unlock()
		return
	}
	m.webcamActive = active
	targets := h.roomClientsLocked(m.roomID, nil)
	status := protocol.Status{Identity: m.identity.ID.String(), DisplayName: m.identity.DisplayName, Active: active}
	identity := m.identity
	h.mutex.Unlock()

	h.broadcast(targets, protocol.EventStatus, status)

	state := "выключена"
	if active {
		state = "включена"
	}
	h.logger.Info("Камера %s %s", identity, state)
}

// forward пересылает кадр остальным участникам комнаты.
// Кадры от незарегистрированных подключений игнорируются.
func (h *Hub) forward(c *client, frameData string) {
	h.mutex.Lock()
	m := h.clients[c]
	if m == nil {
		h.mutex.Unlock()
		return
	}
	m.forwarded++
	count := m.forwarded
	identity := m.identity
	roomID := m.roomID
	targets := h.roomClientsLocked(roomID, c)
	h.mutex.Unlock()

	message, err := protocol.Marshal(protocol.EventFrame, protocol.InboundFrame{
		FromIdentity: identity.ID.String(),
		FromName:     identity.DisplayName,
		FrameData:    frameData,
	})
	if err != nil {
		h.logger.Error("Ошибка сериализации кадра: %v", err)
		return
	}

	if h.recorder != nil {
		if data, err := protocol.DecodePayload(frameData); err == nil {
			if err := h.recorder.Write(identity, data); err != nil {
				h.logger.Warn("Ошибка записи кадра %s: %v", identity, err)
			}
		}
	}

	for _, t := range targets {
		if t.enqueue(message, true) {
			h.framesForwarded.Add(1)
		} else {
			h.framesDropped.Add(1)
		}
	}

	if count%forwardLogEvery == 0 {
		h.logger.Debug("Переслано %d кадров от %s, получателей: %d", count, identity, len(targets))
	}
}

// unregister удаляет подключение и оповещает комнату об уходе
func (h *Hub) unregister(c *client) {
	h.mutex.Lock()
	m, ok := h.clients[c]
	if !ok {
		h.mutex.Unlock()
		return
	}
	delete(h.clients, c)
	if m != nil {
		h.leaveLocked(c, m)
	}
	h.mutex.Unlock()

	if m != nil {
		h.logger.Info("Участник %s вышел", m.identity)
	}
}

// leaveLocked убирает участника из комнаты и рассылает peer:left.
// Вызывается под mutex; отправка не блокируется.
func (h *Hub) leaveLocked(c *client, m *member) {
	if h.byID[m.identity.ID] == c {
		delete(h.byID, m.identity.ID)
		if h.recorder != nil {
			h.recorder.Forget(m.identity)
		}
	}

	r, ok := h.rooms[m.roomID]
	if !ok {
		return
	}
	delete(r.clients, c)
	if len(r.clients) == 0 {
		delete(h.rooms, m.roomID)
		h.logger.Info("Комната удалена: %s", m.roomID)
		return
	}
	message, err := protocol.Marshal(protocol.EventLeft, protocol.PeerLeft{
		Identity:    m.identity.ID.String(),
		DisplayName: m.identity.DisplayName,
	})
	if err != nil {
		return
	}
	for other := range r.clients {
		other.enqueue(message, false)
	}
}

func (h *Hub) roomClientsLocked(roomID string, except *client) []*client {
	r, ok := h.rooms[roomID]
	if !ok {
		return nil
	}
	out := make([]*client, 0, len(r.clients))
	for c := range r.clients {
		if c != except {
			out = append(out, c)
		}
	}
	return out
}

func (h *Hub) broadcast(targets []*client, event string, data any) {
	if len(targets) == 0 {
		return
	}
	message, err := protocol.Marshal(event, data)
	if err != nil {
		h.logger.Error("Ошибка сериализации %s: %v", event, err)
		return
	}
	for _, t := range targets {
		t.enqueue(message, false)
	}
}

// Rooms список комнат, отсортированный по имени
func (h *Hub) Rooms() []RoomInfo {
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	out := make([]RoomInfo, 0, len(h.rooms))
	for _, r := range h.rooms {
		out = append(out, RoomInfo{ID: r.id, PlayerCount: len(r.clients), CreatedAt: r.createdAt.UnixMilli()})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Players участники комнаты в порядке входа
func (h *Hub) Players(roomID string) []protocol.PeerInfo {
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	r, ok := h.rooms[roomID]
	if !ok {
		return []protocol.PeerInfo{}
	}
	out := make([]protocol.PeerInfo, 0, len(r.clients))
	for c := range r.clients {
		if m := h.clients[c]; m != nil {
			out = append(out, m.info())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ConnectedAt < out[j].ConnectedAt })
	return out
}

// Stats снимок счетчиков
func (h *Hub) Stats() HubStats {
	h.mutex.RLock()
	players := 0
	for _, m := range h.clients {
		if m != nil {
			players++
		}
	}
	rooms := len(h.rooms)
	h.mutex.RUnlock()

	return HubStats{
		Players:         players,
		Rooms:           rooms,
		FramesForwarded: h.framesForwarded.Load(),
		FramesDropped:   h.framesDropped.Load(),
	}
}

// CloseAll закрывает все подключения
func (h *Hub) CloseAll() {
	h.mutex.RLock()
	clients := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mutex.RUnlock()

	for _, c := range clients {
		c.close()
	}
}
