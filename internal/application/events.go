package application

import (
	"context"
	"image"
	"sync"

	"github.com/google/uuid"

	"webcamhead/internal/domain"
)

// События сетевого контекста, которые применяются в Tick
type (
	rosterEvent struct {
		peers []domain.PeerIdentity
	}
	peerJoinedEvent struct {
		peer domain.PeerIdentity
	}
	peerLeftEvent struct {
		peer domain.PeerIdentity
	}
	peerStatusEvent struct {
		peer   domain.PeerIdentity
		active bool
	}
	baseReadyEvent struct {
		peer  domain.PeerIdentity
		image image.Image
	}
)

// controlEvent событие управления с номером поколения сессии
type controlEvent struct {
	gen     uint64
	payload any
}

// frameEvent декодированный кадр участника
type frameEvent struct {
	gen   uint64
	from  domain.PeerIdentity
	frame domain.RawFrame
	seq   uint64
}

// frameMailbox хранит по одному последнему кадру на участника.
// Непрочитанный кадр вытесняется новым.
type frameMailbox struct {
	mutex  sync.Mutex
	frames map[uuid.UUID]frameEvent
}

func newFrameMailbox() *frameMailbox {
	return &frameMailbox{frames: make(map[uuid.UUID]frameEvent)}
}

// put кладет кадр и сообщает, был ли вытеснен предыдущий
func (m *frameMailbox) put(ev frameEvent) bool {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	_, replaced := m.frames[ev.from.ID]
	m.frames[ev.from.ID] = ev
	return replaced
}

func (m *frameMailbox) forget(id uuid.UUID) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	delete(m.frames, id)
}

// take забирает все накопленные кадры
func (m *frameMailbox) take() []frameEvent {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if len(m.frames) == 0 {
		return nil
	}
	out := make([]frameEvent, 0, len(m.frames))
	for id, ev := range m.frames {
		out = append(out, ev)
		delete(m.frames, id)
	}
	return out
}

// sessionHandler принимает события одной сессии. Работает в сетевой
// горутине: декодирует кадры и ставит события в очередь для Tick.
type sessionHandler struct {
	o   *Orchestrator
	gen uint64
	ctx context.Context

	seqMutex sync.Mutex
	seq      map[uuid.UUID]uint64
}

func newSessionHandler(o *Orchestrator, gen uint64, ctx context.Context) *sessionHandler {
	return &sessionHandler{
		o:   o,
		gen: gen,
		ctx: ctx,
		seq: make(map[uuid.UUID]uint64),
	}
}

// enqueue ставит событие в очередь, ожидая место до отмены сессии
func (h *sessionHandler) enqueue(payload any) {
	select {
	case h.o.control <- controlEvent{gen: h.gen, payload: payload}:
	case <-h.ctx.Done():
	}
}

func (h *sessionHandler) OnStateChange(status domain.ConnectionStatus) {
	if !h.o.setStatus(h.gen, status) {
		return
	}
	switch status {
	case domain.Connected:
		h.o.notify("Подключено к серверу")
	case domain.Connecting:
		h.o.notify("Переподключение к серверу...")
	}
}

func (h *sessionHandler) OnRoster(self domain.PeerIdentity, existing []domain.PeerIdentity) {
	h.o.replaceRoster(h.gen, existing)
	h.enqueue(rosterEvent{peers: existing})
}

func (h *sessionHandler) OnPeerJoined(peer domain.PeerIdentity) {
	h.o.addToRoster(h.gen, peer)
	h.o.notify(peer.DisplayName + " присоединился")
	h.enqueue(peerJoinedEvent{peer: peer})
}

func (h *sessionHandler) OnPeerLeft(peer domain.PeerIdentity) {
	name := h.o.removeFromRoster(h.gen, peer.ID)
	if name == "" {
		name = peer.DisplayName
	}
	h.o.frames.forget(peer.ID)
	h.o.notify(name + " вышел")
	h.enqueue(peerLeftEvent{peer: peer})
}

func (h *sessionHandler) OnPeerStatus(peer domain.PeerIdentity, active bool) {
	h.enqueue(peerStatusEvent{peer: peer, active: active})
}

// OnFrame декодирует кадр вне контекста рендеринга
func (h *sessionHandler) OnFrame(from domain.PeerIdentity, payload []byte) {
	o := h.o
	frame, err := o.transcoder.Decode(domain.EncodedFrame{
		Data:   payload,
		Format: domain.FormatJPEG,
		From:   from,
	})
	if err != nil {
		o.stats.decodeErrors.Add(1)
		o.logger.Debug("Кадр от %s отброшен: %v", from, err)
		return
	}
	o.stats.framesReceived.Add(1)

	h.seqMutex.Lock()
	h.seq[from.ID]++
	seq := h.seq[from.ID]
	h.seqMutex.Unlock()

	if h.ctx.Err() != nil {
		return
	}
	if o.frames.put(frameEvent{gen: h.gen, from: from, frame: frame, seq: seq}) {
		o.stats.droppedFrames.Add(1)
	}
}

func (h *sessionHandler) OnProtocolError(err error) {
	h.o.stats.protocolErrors.Add(1)
	h.o.logger.Debug("Ошибка протокола: %v", err)
}
