package application

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"webcamhead/internal/domain"
	"webcamhead/internal/protocol"
)

const (
	// DefaultControlBuffer емкость очереди событий сеть -> рендер
	DefaultControlBuffer = 256

	// DefaultBaseImageTimeout предел ожидания базового изображения
	DefaultBaseImageTimeout = 5 * time.Second
)

// Dependencies внешние компоненты конвейера
type Dependencies struct {
	Cameras    CameraManager
	NewSession func() SignalingSession
	Transcoder Transcoder
	Compositor Compositor
	Bases      BaseImageProvider
	Uploader   TargetUploader
	Logger     Logger
	Notify     Notifier
}

// Options параметры оркестратора
type Options struct {
	Placement        domain.Placement
	Fallback         image.Image // Подменяет недоступное базовое изображение
	Strict           bool        // Паника при нарушении целостности кэша
	ControlBuffer    int
	BaseImageTimeout time.Duration
}

type counters struct {
	framesSent     atomic.Uint64
	framesReceived atomic.Uint64
	bytesSent      atomic.Uint64
	encodeErrors   atomic.Uint64
	decodeErrors   atomic.Uint64
	protocolErrors atomic.Uint64
	droppedFrames  atomic.Uint64
}

// Orchestrator связывает захват, сессию, кэш и компоновщик.
// Tick вызывается только из контекста рендеринга.
type Orchestrator struct {
	cameras    CameraManager
	newSession func() SignalingSession
	transcoder Transcoder
	compositor Compositor
	bases      BaseImageProvider
	uploader   TargetUploader
	logger     Logger
	notifier   Notifier
	opts       Options

	cache   *PeerVideoCache
	control chan controlEvent
	frames  *frameMailbox
	stats   counters

	// mutex защищает жизненный цикл и состояние сессии
	mutex        sync.Mutex
	running      bool
	gen          uint64
	device       CaptureDevice
	session      SignalingSession
	cancel       context.CancelFunc
	outbound     chan []byte
	senderDone   chan struct{}
	deviceCfg    domain.DeviceConfig
	sessionCfg   domain.SessionConfig
	state        domain.SessionState
	webcamActive bool

	// renderMutex сериализует Tick и разбор состояния при остановке
	renderMutex sync.Mutex
	nextSend    time.Time
	lastLocalAt time.Time
	lastSentAt  time.Time
	failureSent bool
	baseImages  map[uuid.UUID]image.Image
	fetching    map[uuid.UUID]bool
	pending     map[uuid.UUID]frameEvent
	wantActive  map[uuid.UUID]bool
}

// NewOrchestrator создает оркестратор
func NewOrchestrator(deps Dependencies, opts Options) *Orchestrator {
	if opts.ControlBuffer <= 0 {
		opts.ControlBuffer = DefaultControlBuffer
	}
	if opts.BaseImageTimeout <= 0 {
		opts.BaseImageTimeout = DefaultBaseImageTimeout
	}

	o := &Orchestrator{
		cameras:    deps.Cameras,
		newSession: deps.NewSession,
		transcoder: deps.Transcoder,
		compositor: deps.Compositor,
		bases:      deps.Bases,
		uploader:   deps.Uploader,
		logger:     deps.Logger,
		notifier:   deps.Notify,
		opts:       opts,
		control:    make(chan controlEvent, opts.ControlBuffer),
		frames:     newFrameMailbox(),
		baseImages: make(map[uuid.UUID]image.Image),
		fetching:   make(map[uuid.UUID]bool),
		pending:    make(map[uuid.UUID]frameEvent),
		wantActive: make(map[uuid.UUID]bool),
	}
	o.cache = NewPeerVideoCache(o.compositor.DestroyTarget, opts.Strict, o.logger)
	return o
}

// Cache кэш участников для внешнего рендера
func (o *Orchestrator) Cache() *PeerVideoCache {
	return o.cache
}

// Start открывает камеру и подключается к комнате параллельно.
// Ошибка камеры возвращается один раз, конвейер при этом не запускается.
func (o *Orchestrator) Start(ctx context.Context, deviceCfg domain.DeviceConfig, sessionCfg domain.SessionConfig) error {
	if err := deviceCfg.Validate(); err != nil {
		return err
	}
	if err := sessionCfg.Validate(); err != nil {
		return err
	}

	o.mutex.Lock()
	if o.running {
		o.mutex.Unlock()
		return domain.ErrAlreadyRunning
	}
	o.running = true
	o.gen++
	gen := o.gen
	o.mutex.Unlock()

	o.logger.Info("Запуск: камера %dx%d@%d, комната %s, %d fps, качество %.2f",
		deviceCfg.Width, deviceCfg.Height, deviceCfg.FPS, sessionCfg.RoomID, sessionCfg.SendFPS, sessionCfg.Quality)

	runCtx, cancel := context.WithCancel(context.Background())
	session := o.newSession()
	session.SetHandler(newSessionHandler(o, gen, runCtx))

	var device CaptureDevice
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		d, err := o.cameras.OpenCamera(gctx, deviceCfg)
		if err != nil {
			return err
		}
		device = d
		return nil
	})
	g.Go(func() error {
		return session.Connect(gctx, sessionCfg.ServerURL, sessionCfg.Local, sessionCfg.RoomID)
	})

	if err := g.Wait(); err != nil {
		cancel()
		if device != nil {
			device.Close()
		}
		session.Disconnect()

		o.mutex.Lock()
		o.running = false
		o.mutex.Unlock()

		var derr *domain.DeviceError
		if errors.As(err, &derr) {
			o.notify("Не удалось открыть камеру")
		} else {
			o.notify("Не удалось подключиться к серверу")
		}
		o.logger.Error("Ошибка запуска: %v", err)
		return err
	}

	outbound := make(chan []byte, 1)
	senderDone := make(chan struct{})

	o.mutex.Lock()
	o.device = device
	o.session = session
	o.cancel = cancel
	o.outbound = outbound
	o.senderDone = senderDone
	o.deviceCfg = deviceCfg
	o.sessionCfg = sessionCfg
	o.webcamActive = true
	o.state.RoomID = sessionCfg.RoomID
	o.state.Local = sessionCfg.Local
	if o.state.Roster == nil {
		o.state.Roster = make(map[uuid.UUID]domain.PeerIdentity)
	}
	o.mutex.Unlock()

	o.renderMutex.Lock()
	o.failureSent = false
	o.nextSend = time.Time{}
	o.renderMutex.Unlock()

	go o.sendLoop(runCtx, session, outbound, senderDone)

	if err := session.Send(protocol.EventToggle, protocol.Toggle{Active: true}); err != nil {
		o.logger.Warn("Не удалось сообщить о включении камеры: %v", err)
	}
	o.notify("Камера включена")
	return nil
}

// sendLoop отправляет закодированные кадры вне контекста рендеринга
func (o *Orchestrator) sendLoop(ctx context.Context, session SignalingSession, outbound <-chan []byte, done chan<- struct{}) {
	defer close(done)

	for {
		select {
		case <-ctx.Done():
			return
		case data := <-outbound:
			err := session.Send(protocol.EventFrame, protocol.OutboundFrame{FrameData: protocol.EncodePayload(data)})
			if err != nil {
				o.stats.droppedFrames.Add(1)
				o.logger.Debug("Кадр не отправлен: %v", err)
				continue
			}
			o.stats.framesSent.Add(1)
			o.stats.bytesSent.Add(uint64(len(data)))
		}
	}
}

// Stop останавливает захват, отключается от сервера и уничтожает все цели.
// Повторный вызов ничего не делает.
func (o *Orchestrator) Stop() error {
	o.mutex.Lock()
	if !o.running {
		o.mutex.Unlock()
		return nil
	}
	o.running = false
	o.gen++
	device := o.device
	session := o.session
	cancel := o.cancel
	senderDone := o.senderDone
	o.device = nil
	o.session = nil
	o.cancel = nil
	o.outbound = nil
	o.webcamActive = false
	o.mutex.Unlock()

	o.logger.Info("Остановка конвейера")

	if cancel != nil {
		cancel()
	}

	var errs []error
	if device != nil {
		if err := device.Close(); err != nil {
			errs = append(errs, fmt.Errorf("закрытие камеры: %w", err))
		}
	}
	if session != nil {
		if err := session.Disconnect(); err != nil {
			errs = append(errs, fmt.Errorf("отключение: %w", err))
		}
	}
	if senderDone != nil {
		<-senderDone
	}

	o.renderMutex.Lock()
	destroyed := o.cache.Clear()
	o.resetRenderState()
	o.renderMutex.Unlock()

	o.mutex.Lock()
	o.state = domain.SessionState{Status: domain.Disconnected}
	o.mutex.Unlock()

	o.logger.Debug("Уничтожено целей: %d", destroyed)
	o.notify("Камера выключена")
	return errors.Join(errs...)
}

// resetRenderState сбрасывает очереди и данные контекста рендеринга
func (o *Orchestrator) resetRenderState() {
	o.drainControl()
	o.frames.take()
	o.baseImages = make(map[uuid.UUID]image.Image)
	o.fetching = make(map[uuid.UUID]bool)
	o.pending = make(map[uuid.UUID]frameEvent)
	o.wantActive = make(map[uuid.UUID]bool)
	o.nextSend = time.Time{}
	o.lastLocalAt = time.Time{}
	o.lastSentAt = time.Time{}
}

func (o *Orchestrator) drainControl() {
	for {
		select {
		case <-o.control:
		default:
			return
		}
	}
}

// SwitchRoom переходит в другую комнату, не закрывая камеру
func (o *Orchestrator) SwitchRoom(ctx context.Context, roomID string) error {
	if roomID == "" {
		return fmt.Errorf("пустой идентификатор комнаты")
	}

	o.mutex.Lock()
	if !o.running {
		o.mutex.Unlock()
		return domain.ErrNotRunning
	}
	old := o.session
	oldCancel := o.cancel
	oldDone := o.senderDone
	cfg := o.sessionCfg
	cfg.RoomID = roomID
	o.gen++
	gen := o.gen
	o.session = nil
	o.mutex.Unlock()

	oldCancel()
	old.Disconnect()
	<-oldDone

	local := cfg.Local.ID
	o.renderMutex.Lock()
	o.cache.RemoveIf(func(st domain.PeerVideoState) bool { return st.Identity.ID != local })
	o.drainControl()
	o.frames.take()
	o.pending = make(map[uuid.UUID]frameEvent)
	o.wantActive = make(map[uuid.UUID]bool)
	// Готовые базы могли быть выброшены вместе с очередью
	o.fetching = make(map[uuid.UUID]bool)
	o.renderMutex.Unlock()

	runCtx, cancel := context.WithCancel(context.Background())
	session := o.newSession()
	session.SetHandler(newSessionHandler(o, gen, runCtx))

	o.mutex.Lock()
	o.state.RoomID = roomID
	o.state.Roster = make(map[uuid.UUID]domain.PeerIdentity)
	o.mutex.Unlock()

	if err := session.Connect(ctx, cfg.ServerURL, cfg.Local, roomID); err != nil {
		cancel()
		o.logger.Error("Не удалось войти в комнату %s: %v", roomID, err)
		o.Stop()
		return err
	}

	outbound := make(chan []byte, 1)
	senderDone := make(chan struct{})

	o.mutex.Lock()
	o.session = session
	o.cancel = cancel
	o.outbound = outbound
	o.senderDone = senderDone
	o.sessionCfg = cfg
	active := o.webcamActive
	o.mutex.Unlock()

	go o.sendLoop(runCtx, session, outbound, senderDone)

	if err := session.Send(protocol.EventToggle, protocol.Toggle{Active: active}); err != nil {
		o.logger.Warn("Не удалось сообщить состояние камеры: %v", err)
	}
	o.notify("Комната: " + roomID)
	return nil
}

// SetWebcamActive включает или выключает отправку кадров и сообщает об этом комнате
func (o *Orchestrator) SetWebcamActive(active bool) error {
	o.mutex.Lock()
	if !o.running {
		o.mutex.Unlock()
		return domain.ErrNotRunning
	}
	o.webcamActive = active
	session := o.session
	local := o.sessionCfg.Local.ID
	o.mutex.Unlock()

	o.cache.SetActive(local, active)

	if session == nil {
		return domain.ErrNotConnected
	}
	return session.Send(protocol.EventToggle, protocol.Toggle{Active: active})
}

// WebcamActive включена ли отправка кадров
func (o *Orchestrator) WebcamActive() bool {
	o.mutex.Lock()
	defer o.mutex.Unlock()
	return o.webcamActive
}

// Running запущен ли конвейер
func (o *Orchestrator) Running() bool {
	o.mutex.Lock()
	defer o.mutex.Unlock()
	return o.running
}

// Stats снимок счетчиков
func (o *Orchestrator) Stats() domain.Statistics {
	return domain.Statistics{
		FramesSent:     o.stats.framesSent.Load(),
		FramesReceived: o.stats.framesReceived.Load(),
		BytesSent:      o.stats.bytesSent.Load(),
		EncodeErrors:   o.stats.encodeErrors.Load(),
		DecodeErrors:   o.stats.decodeErrors.Load(),
		ProtocolErrors: o.stats.protocolErrors.Load(),
		DroppedFrames:  o.stats.droppedFrames.Load(),
	}
}

// Session копия состояния сессии
func (o *Orchestrator) Session() domain.SessionState {
	o.mutex.Lock()
	defer o.mutex.Unlock()

	st := o.state
	st.Roster = make(map[uuid.UUID]domain.PeerIdentity, len(o.state.Roster))
	for id, p := range o.state.Roster {
		st.Roster[id] = p
	}
	return st
}

// setStatus обновляет статус, если событие от текущей сессии
func (o *Orchestrator) setStatus(gen uint64, status domain.ConnectionStatus) bool {
	o.mutex.Lock()
	defer o.mutex.Unlock()

	if gen != o.gen || o.state.Status == status {
		return false
	}
	o.state.Status = status
	return true
}

func (o *Orchestrator) replaceRoster(gen uint64, peers []domain.PeerIdentity) {
	o.mutex.Lock()
	defer o.mutex.Unlock()

	if gen != o.gen {
		return
	}
	o.state.Roster = make(map[uuid.UUID]domain.PeerIdentity, len(peers))
	for _, p := range peers {
		o.state.Roster[p.ID] = p
	}
}

func (o *Orchestrator) addToRoster(gen uint64, peer domain.PeerIdentity) {
	o.mutex.Lock()
	defer o.mutex.Unlock()

	if gen != o.gen {
		return
	}
	if o.state.Roster == nil {
		o.state.Roster = make(map[uuid.UUID]domain.PeerIdentity)
	}
	o.state.Roster[peer.ID] = peer
}

// removeFromRoster возвращает известное имя ушедшего участника
func (o *Orchestrator) removeFromRoster(gen uint64, id uuid.UUID) string {
	o.mutex.Lock()
	defer o.mutex.Unlock()

	if gen != o.gen {
		return ""
	}
	p, ok := o.state.Roster[id]
	delete(o.state.Roster, id)
	if !ok {
		return ""
	}
	return p.DisplayName
}

func (o *Orchestrator) currentGen() uint64 {
	o.mutex.Lock()
	defer o.mutex.Unlock()
	return o.gen
}

func (o *Orchestrator) notify(message string) {
	if o.notifier != nil {
		o.notifier(message)
	}
}

// OnSessionJoin вызывается хостом при входе в игровую сессию
func (o *Orchestrator) OnSessionJoin(ctx context.Context, deviceCfg domain.DeviceConfig, sessionCfg domain.SessionConfig) error {
	return o.Start(ctx, deviceCfg, sessionCfg)
}

// OnSessionLeave вызывается хостом при выходе из игровой сессии
func (o *Orchestrator) OnSessionLeave() error {
	return o.Stop()
}

// OnTick вызывается хостом на каждом кадре рендеринга
func (o *Orchestrator) OnTick(now time.Time) {
	o.Tick(now)
}
