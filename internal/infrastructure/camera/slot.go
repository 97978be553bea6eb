package camera

import (
	"sync/atomic"

	"webcamhead/internal/domain"
)

// frameSlot одноместный буфер "последний кадр". Запись заменяет указатель
// целиком, поэтому читатель никогда не видит частично записанный кадр.
// Промежуточные кадры отбрасываются.
type frameSlot struct {
	latest atomic.Pointer[domain.RawFrame]
}

func (s *frameSlot) store(f domain.RawFrame) {
	s.latest.Store(&f)
}

func (s *frameSlot) load() (domain.RawFrame, bool) {
	p := s.latest.Load()
	if p == nil {
		return domain.RawFrame{}, false
	}
	return *p, true
}
