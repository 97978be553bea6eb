package application

import (
	"context"
	"time"

	"github.com/google/uuid"

	"webcamhead/internal/domain"
	"webcamhead/internal/protocol"
)

// Tick один шаг контекста рендеринга: применяет события сети, вписывает
// кадры в цели, отправляет локальный кадр не чаще SendFPS и выгружает
// измененные цели во внешний рендер.
func (o *Orchestrator) Tick(now time.Time) {
	o.renderMutex.Lock()
	defer o.renderMutex.Unlock()

	gen := o.currentGen()
	o.applyControl(gen, now)
	o.applyFrames(gen, now)
	o.tickLocal(now)

	if o.uploader != nil {
		o.compositor.Sync(o.uploader)
	}
}

func (o *Orchestrator) applyControl(gen uint64, now time.Time) {
	for {
		select {
		case ev := <-o.control:
			// База не зависит от сессии и принимается из любого поколения
			if _, base := ev.payload.(baseReadyEvent); !base && ev.gen != gen {
				continue
			}
			o.applyEvent(gen, ev.payload, now)
		default:
			return
		}
	}
}

func (o *Orchestrator) applyEvent(gen uint64, payload any, now time.Time) {
	switch ev := payload.(type) {
	case rosterEvent:
		o.rebuildRoster(ev.peers)
		for _, p := range ev.peers {
			o.fetchBase(gen, p)
		}

	case peerJoinedEvent:
		o.fetchBase(gen, ev.peer)

	case peerLeftEvent:
		o.forgetPeer(ev.peer.ID)

	case peerStatusEvent:
		if o.cache.SetActive(ev.peer.ID, ev.active) {
			return
		}
		if !ev.active {
			delete(o.wantActive, ev.peer.ID)
			return
		}
		// Камера включена раньше первого кадра: создаем цель заранее
		if _, err := o.ensureTarget(gen, ev.peer); err != nil {
			o.wantActive[ev.peer.ID] = true
			return
		}
		o.cache.SetActive(ev.peer.ID, true)

	case baseReadyEvent:
		o.baseImages[ev.peer.ID] = ev.image
		delete(o.fetching, ev.peer.ID)

		if o.wantActive[ev.peer.ID] {
			delete(o.wantActive, ev.peer.ID)
			if _, err := o.ensureTarget(gen, ev.peer); err == nil {
				o.cache.SetActive(ev.peer.ID, true)
			}
		}
		if fe, ok := o.pending[ev.peer.ID]; ok {
			delete(o.pending, ev.peer.ID)
			o.applyFrame(gen, fe, now)
		}
	}
}

// rebuildRoster удаляет участников, которых нет в новом ростере.
// Их peer:left мог потеряться, пока соединение восстанавливалось.
func (o *Orchestrator) rebuildRoster(peers []domain.PeerIdentity) {
	o.mutex.Lock()
	local := o.sessionCfg.Local.ID
	o.mutex.Unlock()

	present := make(map[uuid.UUID]bool, len(peers)+1)
	present[local] = true
	for _, p := range peers {
		present[p.ID] = true
	}

	var gone []uuid.UUID
	for _, st := range o.cache.Snapshot() {
		if !present[st.Identity.ID] {
			gone = append(gone, st.Identity.ID)
		}
	}
	for id := range o.pending {
		if !present[id] {
			gone = append(gone, id)
		}
	}
	for id := range o.wantActive {
		if !present[id] {
			gone = append(gone, id)
		}
	}
	for _, id := range gone {
		o.forgetPeer(id)
	}
	if len(gone) > 0 {
		o.logger.Debug("Ростер обновлен, удалено участников: %d", len(gone))
	}
}

// forgetPeer удаляет цель участника и все, что ждало ее создания
func (o *Orchestrator) forgetPeer(id uuid.UUID) {
	o.cache.Remove(id)
	o.frames.forget(id)
	delete(o.pending, id)
	delete(o.wantActive, id)
	delete(o.baseImages, id)
	delete(o.fetching, id)
}

// errBaseNotReady базовое изображение еще загружается
type errBaseNotReady struct{}

func (errBaseNotReady) Error() string { return "базовое изображение еще не получено" }

// ensureTarget возвращает состояние участника, создавая цель из базового
// изображения. Пока база не получена, запускает загрузку.
func (o *Orchestrator) ensureTarget(gen uint64, peer domain.PeerIdentity) (domain.PeerVideoState, error) {
	if st, ok := o.cache.Get(peer.ID); ok {
		return st, nil
	}

	base, ok := o.baseImages[peer.ID]
	if !ok {
		o.fetchBase(gen, peer)
		if base, ok = o.baseImages[peer.ID]; !ok {
			return domain.PeerVideoState{}, errBaseNotReady{}
		}
	}

	size := o.opts.Placement.Size
	st, _, err := o.cache.Upsert(peer, func(domain.PeerIdentity) (domain.TargetHandle, int, int, error) {
		h, err := o.compositor.CreateTargetFromBase(base, size, size)
		return h, size, size, err
	})
	return st, err
}

// fetchBase запускает загрузку базового изображения вне контекста рендеринга
func (o *Orchestrator) fetchBase(gen uint64, peer domain.PeerIdentity) {
	if _, ok := o.baseImages[peer.ID]; ok || o.fetching[peer.ID] {
		return
	}
	if o.bases == nil {
		o.baseImages[peer.ID] = o.opts.Fallback
		return
	}
	o.fetching[peer.ID] = true

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), o.opts.BaseImageTimeout)
		defer cancel()

		img, err := o.bases.BaseImage(ctx, peer)
		if err != nil || img == nil {
			o.logger.Debug("Базовое изображение %s недоступно: %v", peer, err)
			img = o.opts.Fallback
		}

		select {
		case o.control <- controlEvent{gen: gen, payload: baseReadyEvent{peer: peer, image: img}}:
		case <-time.After(o.opts.BaseImageTimeout):
			o.logger.Warn("Очередь событий переполнена, база %s потеряна", peer)
		}
	}()
}

func (o *Orchestrator) applyFrames(gen uint64, now time.Time) {
	for _, fe := range o.frames.take() {
		if fe.gen != gen {
			continue
		}
		o.applyFrame(gen, fe, now)
	}
}

// applyFrame вписывает кадр участника в его цель
func (o *Orchestrator) applyFrame(gen uint64, fe frameEvent, now time.Time) {
	st, err := o.ensureTarget(gen, fe.from)
	if err != nil {
		if _, waiting := err.(errBaseNotReady); waiting {
			if _, had := o.pending[fe.from.ID]; had {
				o.stats.droppedFrames.Add(1)
			}
			o.pending[fe.from.ID] = fe
			return
		}
		o.logger.Error("Не удалось создать цель для %s: %v", fe.from, err)
		return
	}

	if !o.cache.Touch(fe.from.ID, now, fe.seq) {
		o.stats.droppedFrames.Add(1)
		return
	}
	o.blit(st.Target, fe.frame)
}

func (o *Orchestrator) blit(target domain.TargetHandle, frame domain.RawFrame) {
	for _, r := range o.opts.Placement.Regions {
		if err := o.compositor.Blit(target, frame, r.Min.X, r.Min.Y, r.Dx(), r.Dy()); err != nil {
			o.logger.Error("Ошибка вписывания кадра в цель %d: %v", target, err)
			return
		}
	}
}

// tickLocal обновляет собственную цель и отправляет кадр по расписанию
func (o *Orchestrator) tickLocal(now time.Time) {
	o.mutex.Lock()
	device := o.device
	outbound := o.outbound
	active := o.webcamActive
	session := o.session
	cfg := o.sessionCfg
	gen := o.gen
	o.mutex.Unlock()

	if device == nil {
		return
	}
	local := cfg.Local

	if device.Failed() {
		o.reportDeviceFailure(session, local)
		return
	}

	frame, ok := device.LatestFrame()
	if !ok || !active {
		return
	}

	if !frame.CapturedAt.Equal(o.lastLocalAt) {
		o.lastLocalAt = frame.CapturedAt
		if st, err := o.ensureTarget(gen, local); err == nil {
			o.cache.Touch(local.ID, now, st.LastSeq+1)
			o.blit(st.Target, frame)
		}
	}

	if session == nil || !session.IsConnected() {
		return
	}
	if now.Before(o.nextSend) || frame.CapturedAt.Equal(o.lastSentAt) {
		return
	}
	o.nextSend = now.Add(cfg.SendInterval())
	o.lastSentAt = frame.CapturedAt

	encoded, err := o.transcoder.Encode(frame, cfg.Quality)
	if err != nil {
		o.stats.encodeErrors.Add(1)
		o.logger.Debug("Ошибка кодирования: %v", err)
		return
	}

	select {
	case outbound <- encoded.Data:
	default:
		// Предыдущий кадр еще не ушел: заменяем его свежим
		select {
		case <-outbound:
			o.stats.droppedFrames.Add(1)
		default:
		}
		select {
		case outbound <- encoded.Data:
		default:
			o.stats.droppedFrames.Add(1)
		}
	}
}

// reportDeviceFailure выключает камеру участника один раз после отказа
func (o *Orchestrator) reportDeviceFailure(session SignalingSession, local domain.PeerIdentity) {
	if o.failureSent {
		return
	}
	o.failureSent = true

	o.mutex.Lock()
	o.webcamActive = false
	o.mutex.Unlock()

	o.cache.SetActive(local.ID, false)
	o.logger.Error("Камера отказала, отправка кадров остановлена")
	o.notify("Камера отключилась")

	if session != nil {
		go func() {
			if err := session.Send(protocol.EventToggle, protocol.Toggle{Active: false}); err != nil {
				o.logger.Warn("Не удалось сообщить об отключении камеры: %v", err)
			}
		}()
	}
}
