package application

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sync"
	"sync/atomic"
	"time"

	"webcamhead/internal/domain"
	"webcamhead/internal/protocol"
)

type nopLogger struct{}

func (nopLogger) Info(string, ...interface{})  {}
func (nopLogger) Warn(string, ...interface{})  {}
func (nopLogger) Error(string, ...interface{}) {}
func (nopLogger) Debug(string, ...interface{}) {}

// fakeCompositor считает цели и вписывания
type fakeCompositor struct {
	mu        sync.Mutex
	next      uint64
	targets   map[domain.TargetHandle]bool
	blits     map[domain.TargetHandle]int
	destroyed []domain.TargetHandle
	synced    int
}

func newFakeCompositor() *fakeCompositor {
	return &fakeCompositor{
		targets: make(map[domain.TargetHandle]bool),
		blits:   make(map[domain.TargetHandle]int),
	}
}

func (c *fakeCompositor) CreateTarget(w, h int) (domain.TargetHandle, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.next++
	t := domain.TargetHandle(c.next)
	c.targets[t] = true
	return t, nil
}

func (c *fakeCompositor) CreateTargetFromBase(_ image.Image, w, h int) (domain.TargetHandle, error) {
	return c.CreateTarget(w, h)
}

func (c *fakeCompositor) Blit(t domain.TargetHandle, _ domain.RawFrame, _, _, _, _ int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.targets[t] {
		return domain.ErrUnknownTarget
	}
	c.blits[t]++
	return nil
}

func (c *fakeCompositor) DestroyTarget(t domain.TargetHandle) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.targets[t] {
		return fmt.Errorf("%w: %d", domain.ErrUnknownTarget, t)
	}
	delete(c.targets, t)
	c.destroyed = append(c.destroyed, t)
	return nil
}

func (c *fakeCompositor) Sync(TargetUploader) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.synced++
	return 0
}

func (c *fakeCompositor) Live() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.targets)
}

func (c *fakeCompositor) blitCount(t domain.TargetHandle) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.blits[t]
}

// fakeTranscoder кодирует размер кадра, "bad" не декодируется
type fakeTranscoder struct{}

func (fakeTranscoder) Encode(f domain.RawFrame, q float64) (domain.EncodedFrame, error) {
	if f.IsZero() {
		return domain.EncodedFrame{}, &domain.EncodeError{Err: errors.New("empty")}
	}
	return domain.EncodedFrame{Data: []byte(fmt.Sprintf("%dx%d", f.Width, f.Height)), Format: domain.FormatJPEG, Quality: q}, nil
}

func (fakeTranscoder) Decode(e domain.EncodedFrame) (domain.RawFrame, error) {
	if string(e.Data) == "bad" {
		return domain.RawFrame{}, &domain.DecodeError{Reason: "bad"}
	}
	return testFrame(320, 240), nil
}

func testFrame(w, h int) domain.RawFrame {
	return domain.RawFrame{
		Pixels:     image.NewRGBA(image.Rect(0, 0, w, h)),
		Width:      w,
		Height:     h,
		CapturedAt: time.Now(),
	}
}

// fakeDevice отдает новый кадр при каждом обращении
type fakeDevice struct {
	seq    atomic.Int64
	failed atomic.Bool
	closes atomic.Int32
}

func (d *fakeDevice) LatestFrame() (domain.RawFrame, bool) {
	n := d.seq.Add(1)
	f := testFrame(320, 240)
	f.CapturedAt = time.Unix(0, n)
	return f, true
}

func (d *fakeDevice) Failed() bool { return d.failed.Load() }

func (d *fakeDevice) Close() error {
	d.closes.Add(1)
	return nil
}

type fakeCameras struct {
	device *fakeDevice
	err    error
}

func (c *fakeCameras) ListDevices() ([]domain.VideoDevice, error) {
	return []domain.VideoDevice{{Index: 0, ID: "fake", Label: "Fake camera", Kind: "videoinput"}}, nil
}

func (c *fakeCameras) OpenCamera(context.Context, domain.DeviceConfig) (CaptureDevice, error) {
	if c.err != nil {
		return nil, c.err
	}
	return c.device, nil
}

type sent struct {
	event   string
	payload any
}

// fakeSession запоминает отправленное и дает тесту обработчик
type fakeSession struct {
	mu          sync.Mutex
	handler     SessionHandler
	connected   bool
	room        string
	sent        []sent
	disconnects int
	connectErr  error
}

func (s *fakeSession) SetHandler(h SessionHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handler = h
}

func (s *fakeSession) Connect(_ context.Context, _ string, _ domain.PeerIdentity, room string) error {
	if s.connectErr != nil {
		return s.connectErr
	}
	s.mu.Lock()
	s.connected = true
	s.room = room
	h := s.handler
	s.mu.Unlock()
	h.OnStateChange(domain.Connected)
	return nil
}

func (s *fakeSession) Disconnect() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connected = false
	s.disconnects++
	return nil
}

func (s *fakeSession) Send(event string, payload any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.connected {
		return domain.ErrNotConnected
	}
	s.sent = append(s.sent, sent{event: event, payload: payload})
	return nil
}

func (s *fakeSession) IsConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

func (s *fakeSession) count(event string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, m := range s.sent {
		if m.event == event {
			n++
		}
	}
	return n
}

func (s *fakeSession) toggles() []bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []bool
	for _, m := range s.sent {
		if t, ok := m.payload.(protocol.Toggle); ok {
			out = append(out, t.Active)
		}
	}
	return out
}

func (s *fakeSession) currentHandler() SessionHandler {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.handler
}

// gatedBases отдает изображение только после release
type gatedBases struct {
	release chan struct{}
	img     image.Image
}

func (b *gatedBases) BaseImage(ctx context.Context, _ domain.PeerIdentity) (image.Image, error) {
	select {
	case <-b.release:
		return b.img, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
