package application

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"webcamhead/internal/domain"
)

// TargetFactory создает цель рендеринга для участника.
// Вызывается под блокировкой кэша.
type TargetFactory func(peer domain.PeerIdentity) (target domain.TargetHandle, width, height int, err error)

// PeerVideoCache хранит визуальное состояние каждого участника.
// Каждая цель принадлежит ровно одному участнику.
type PeerVideoCache struct {
	mutex   sync.Mutex
	states  map[uuid.UUID]*domain.PeerVideoState
	owners  map[domain.TargetHandle]uuid.UUID
	destroy func(domain.TargetHandle) error
	strict  bool
	logger  Logger
}

// NewPeerVideoCache создает кэш. destroy освобождает цель при удалении.
// В строгом режиме нарушение целостности вызывает панику.
func NewPeerVideoCache(destroy func(domain.TargetHandle) error, strict bool, logger Logger) *PeerVideoCache {
	return &PeerVideoCache{
		states:  make(map[uuid.UUID]*domain.PeerVideoState),
		owners:  make(map[domain.TargetHandle]uuid.UUID),
		destroy: destroy,
		strict:  strict,
		logger:  logger,
	}
}

// Upsert возвращает состояние участника, создавая его при первом обращении.
// Повторный вызов factory не вызывает.
func (c *PeerVideoCache) Upsert(peer domain.PeerIdentity, factory TargetFactory) (domain.PeerVideoState, bool, error) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if st, ok := c.states[peer.ID]; ok {
		return *st, false, nil
	}

	target, w, h, err := factory(peer)
	if err != nil {
		return domain.PeerVideoState{}, false, fmt.Errorf("создание цели для %s: %w", peer, err)
	}
	if owner, taken := c.owners[target]; taken {
		c.violation(fmt.Errorf("%w: цель %d уже принадлежит %s", domain.ErrCacheConsistency, target, owner))
		return domain.PeerVideoState{}, false, domain.ErrCacheConsistency
	}

	st := &domain.PeerVideoState{
		Identity: peer,
		Target:   target,
		Width:    w,
		Height:   h,
	}
	c.states[peer.ID] = st
	c.owners[target] = peer.ID
	c.logger.Debug("Добавлен участник %s, цель %d", peer, target)
	return *st, true, nil
}

// Get возвращает копию состояния участника
func (c *PeerVideoCache) Get(id uuid.UUID) (domain.PeerVideoState, bool) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	st, ok := c.states[id]
	if !ok {
		return domain.PeerVideoState{}, false
	}
	return *st, true
}

// Remove удаляет участника и уничтожает его цель. Отсутствие записи не ошибка.
func (c *PeerVideoCache) Remove(id uuid.UUID) bool {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	st, ok := c.states[id]
	if !ok {
		return false
	}
	c.removeLocked(st)
	return true
}

func (c *PeerVideoCache) removeLocked(st *domain.PeerVideoState) {
	delete(c.states, st.Identity.ID)
	delete(c.owners, st.Target)

	if c.destroy == nil {
		return
	}
	if err := c.destroy(st.Target); err != nil {
		if errors.Is(err, domain.ErrUnknownTarget) {
			c.violation(fmt.Errorf("%w: повторное уничтожение цели %d (%s)", domain.ErrCacheConsistency, st.Target, st.Identity))
			return
		}
		c.logger.Error("Ошибка уничтожения цели %d: %v", st.Target, err)
	}
}

// SetActive меняет флаг активности. Возвращает false, если участника нет.
func (c *PeerVideoCache) SetActive(id uuid.UUID, active bool) bool {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	st, ok := c.states[id]
	if !ok {
		return false
	}
	st.Active = active
	return true
}

// Touch отмечает приход кадра с номером seq. Кадр с номером не больше
// предыдущего отвергается.
func (c *PeerVideoCache) Touch(id uuid.UUID, at time.Time, seq uint64) bool {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	st, ok := c.states[id]
	if !ok {
		return false
	}
	if seq <= st.LastSeq {
		return false
	}
	st.LastSeq = seq
	st.LastFrameAt = at
	st.Active = true
	return true
}

// Len число участников в кэше
func (c *PeerVideoCache) Len() int {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return len(c.states)
}

// Snapshot копии всех состояний, упорядоченные по имени
func (c *PeerVideoCache) Snapshot() []domain.PeerVideoState {
	c.mutex.Lock()
	out := make([]domain.PeerVideoState, 0, len(c.states))
	for _, st := range c.states {
		out = append(out, *st)
	}
	c.mutex.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Identity.DisplayName != out[j].Identity.DisplayName {
			return out[i].Identity.DisplayName < out[j].Identity.DisplayName
		}
		return out[i].Identity.ID.String() < out[j].Identity.ID.String()
	})
	return out
}

// Owner участник, которому принадлежит цель
func (c *PeerVideoCache) Owner(target domain.TargetHandle) (domain.PeerIdentity, bool) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	id, ok := c.owners[target]
	if !ok {
		return domain.PeerIdentity{}, false
	}
	return c.states[id].Identity, true
}

// RemoveIf удаляет всех участников, для которых pred вернул true
func (c *PeerVideoCache) RemoveIf(pred func(domain.PeerVideoState) bool) int {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	removed := 0
	for _, st := range c.states {
		if pred(*st) {
			c.removeLocked(st)
			removed++
		}
	}
	return removed
}

// Clear удаляет всех участников и уничтожает их цели
func (c *PeerVideoCache) Clear() int {
	return c.RemoveIf(func(domain.PeerVideoState) bool { return true })
}

func (c *PeerVideoCache) violation(err error) {
	if c.strict {
		panic(err)
	}
	c.logger.Error("%v", err)
}
