package streaming

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"webcamhead/internal/application"
	"webcamhead/internal/domain"
	"webcamhead/internal/protocol"
)

const (
	// writeTimeout предел на запись одного сообщения
	writeTimeout = 5 * time.Second

	// closeTimeout сколько Disconnect ждет завершения цикла чтения
	closeTimeout = 1 * time.Second

	// maxMessageSize предел входящего сообщения (кадр в base64 с запасом)
	maxMessageSize = 8 << 20
)

// Dialer устанавливает WebSocket-соединение. Реализуется *websocket.Dialer.
type Dialer interface {
	DialContext(ctx context.Context, urlStr string, requestHeader http.Header) (*websocket.Conn, *http.Response, error)
}

// WebSocketSession реализует сигнальную сессию поверх WebSocket
type WebSocketSession struct {
	dialer  Dialer
	backoff Backoff
	logger  application.Logger
	sleep   func(ctx context.Context, d time.Duration) error

	mutex   sync.Mutex
	handler application.SessionHandler
	status  domain.ConnectionStatus
	conn    *websocket.Conn
	cancel  context.CancelFunc
	done    chan struct{}
	closed  bool
	local   domain.PeerIdentity
	roomID  string
	url     string

	// writeMutex сериализует запись: gorilla допускает одного писателя
	writeMutex sync.Mutex

	joinsSent  atomic.Uint64
	reconnects atomic.Uint64
}

// NewWebSocketSession создает сессию. dialer == nil означает websocket.DefaultDialer.
func NewWebSocketSession(dialer Dialer, backoff Backoff, logger application.Logger) *WebSocketSession {
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	return &WebSocketSession{
		dialer:  dialer,
		backoff: backoff,
		logger:  logger,
		sleep:   sleepContext,
		handler: nopHandler{},
	}
}

// SetHandler регистрирует обработчик событий
func (s *WebSocketSession) SetHandler(h application.SessionHandler) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if h == nil {
		h = nopHandler{}
	}
	s.handler = h
}

// Connect подключается к серверу и входит в комнату
func (s *WebSocketSession) Connect(ctx context.Context, serverURL string, local domain.PeerIdentity, roomID string) error {
	u, err := url.Parse(serverURL)
	if err != nil || (u.Scheme != "ws" && u.Scheme != "wss") {
		return fmt.Errorf("некорректный URL сервера %q", serverURL)
	}
	if roomID == "" {
		return fmt.Errorf("пустой идентификатор комнаты")
	}

	s.mutex.Lock()
	if s.closed {
		s.mutex.Unlock()
		return domain.ErrSessionClosed
	}
	if s.done != nil {
		s.mutex.Unlock()
		return domain.ErrAlreadyRunning
	}
	s.local = local
	s.roomID = roomID
	s.url = u.String()
	s.mutex.Unlock()

	s.setStatus(domain.Connecting)
	s.logger.Info("Подключение к %s", u.String())

	conn, err := s.dial(ctx)
	if err != nil {
		s.setStatus(domain.Disconnected)
		return err
	}

	runCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	s.mutex.Lock()
	if s.closed {
		s.mutex.Unlock()
		cancel()
		conn.Close()
		return domain.ErrSessionClosed
	}
	s.conn = conn
	s.cancel = cancel
	s.done = done
	s.mutex.Unlock()

	if err := s.sendJoin(conn); err != nil {
		s.logger.Error("Ошибка отправки запроса на вход: %v", err)
	} else {
		s.setStatus(domain.Connected)
		s.logger.Info("Подключено к серверу, комната %s", roomID)
	}

	go s.run(runCtx, conn, done)
	return nil
}

// dial одна попытка подключения без удержания блокировок
func (s *WebSocketSession) dial(ctx context.Context) (*websocket.Conn, error) {
	s.mutex.Lock()
	target := s.url
	s.mutex.Unlock()

	conn, _, err := s.dialer.DialContext(ctx, target, nil)
	if err != nil {
		return nil, &domain.NetworkError{Op: "dial", Err: err}
	}
	conn.SetReadLimit(maxMessageSize)
	return conn, nil
}

// sendJoin отправляет peer:join; вызывается после каждого подключения
func (s *WebSocketSession) sendJoin(conn *websocket.Conn) error {
	s.mutex.Lock()
	join := protocol.Join{
		Identity:    s.local.ID.String(),
		DisplayName: s.local.DisplayName,
		RoomID:      s.roomID,
	}
	s.mutex.Unlock()

	if err := s.write(conn, protocol.EventJoin, join); err != nil {
		return err
	}
	s.joinsSent.Add(1)
	return nil
}

// run читает сообщения и переподключается при обрывах до Disconnect
func (s *WebSocketSession) run(ctx context.Context, conn *websocket.Conn, done chan struct{}) {
	defer close(done)

	for {
		s.readLoop(conn)
		conn.Close()

		if ctx.Err() != nil {
			return
		}

		s.setStatus(domain.Connecting)
		s.logger.Warn("Соединение потеряно, переподключение...")

		next, err := s.reconnect(ctx)
		if err != nil {
			return
		}
		conn = next
	}
}

// reconnect повторяет попытки с экспоненциальной задержкой
func (s *WebSocketSession) reconnect(ctx context.Context) (*websocket.Conn, error) {
	for attempt := 1; ; attempt++ {
		delay := s.backoff.Delay(attempt)
		s.logger.Debug("Попытка %d через %v", attempt, delay)

		if err := s.sleep(ctx, delay); err != nil {
			return nil, err
		}

		conn, err := s.dial(ctx)
		if err != nil {
			s.logger.Warn("Переподключение не удалось: %v", err)
			continue
		}

		s.mutex.Lock()
		if s.closed || ctx.Err() != nil {
			s.mutex.Unlock()
			conn.Close()
			return nil, domain.ErrSessionClosed
		}
		s.conn = conn
		s.mutex.Unlock()

		s.reconnects.Add(1)
		if err := s.sendJoin(conn); err != nil {
			s.logger.Warn("Ошибка повторного входа: %v", err)
			conn.Close()
			continue
		}

		s.setStatus(domain.Connected)
		s.logger.Info("Переподключено к серверу")
		return conn, nil
	}
}

func (s *WebSocketSession) readLoop(conn *websocket.Conn) {
	for {
		messageType, message, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Debug("Ошибка чтения: %v", err)
			}
			return
		}
		if messageType != websocket.TextMessage {
			s.protocolError(&domain.ProtocolError{Event: "?", Reason: "ожидалось текстовое сообщение"})
			continue
		}
		s.dispatch(message)
	}
}

// dispatch проверяет сообщение и передает его обработчику
func (s *WebSocketSession) dispatch(message []byte) {
	env, err := protocol.Unmarshal(message)
	if err != nil {
		s.protocolError(err)
		return
	}

	h := s.currentHandler()

	switch env.Event {
	case protocol.EventJoined:
		var m protocol.Joined
		if err := decodeValid(env, &m); err != nil {
			s.protocolError(err)
			return
		}
		self, _ := m.Self.PeerIdentity()
		existing := make([]domain.PeerIdentity, 0, len(m.ExistingPeers))
		for _, p := range m.ExistingPeers {
			id, _ := p.PeerIdentity()
			existing = append(existing, id)
		}
		h.OnRoster(self, existing)
		for i, p := range m.ExistingPeers {
			if p.WebcamActive {
				h.OnPeerStatus(existing[i], true)
			}
		}

	case protocol.EventNew:
		var m protocol.PeerNew
		if err := decodeValid(env, &m); err != nil {
			s.protocolError(err)
			return
		}
		id, _ := m.Peer.PeerIdentity()
		h.OnPeerJoined(id)
		if m.Peer.WebcamActive {
			h.OnPeerStatus(id, true)
		}

	case protocol.EventLeft:
		var m protocol.PeerLeft
		if err := decodeValid(env, &m); err != nil {
			s.protocolError(err)
			return
		}
		id, _ := m.PeerIdentity()
		h.OnPeerLeft(id)

	case protocol.EventStatus:
		var m protocol.Status
		if err := decodeValid(env, &m); err != nil {
			s.protocolError(err)
			return
		}
		id, _ := m.PeerIdentity()
		h.OnPeerStatus(id, m.Active)

	case protocol.EventFrame:
		var m protocol.InboundFrame
		if err := decodeValid(env, &m); err != nil {
			s.protocolError(err)
			return
		}
		payload, err := protocol.DecodePayload(m.FrameData)
		if err != nil {
			s.protocolError(&domain.ProtocolError{Event: env.Event, Reason: "некорректный base64"})
			return
		}
		id, _ := m.PeerIdentity()
		h.OnFrame(id, payload)

	case protocol.EventError:
		var m protocol.ErrorMessage
		if err := protocol.DecodeData(env, &m); err != nil {
			s.protocolError(err)
			return
		}
		s.logger.Warn("Сервер сообщил об ошибке: %s", m.Message)
		h.OnProtocolError(&domain.ProtocolError{Event: env.Event, Reason: m.Message})

	default:
		s.protocolError(&domain.ProtocolError{Event: env.Event, Reason: "неизвестное событие"})
	}
}

type validator interface {
	Validate() error
}

func decodeValid(env protocol.Envelope, v validator) error {
	if err := protocol.DecodeData(env, v); err != nil {
		return err
	}
	return v.Validate()
}

func (s *WebSocketSession) protocolError(err error) {
	s.logger.Debug("Отброшено сообщение: %v", err)
	s.currentHandler().OnProtocolError(err)
}

func (s *WebSocketSession) currentHandler() application.SessionHandler {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.handler
}

// Send отправляет событие на сервер
func (s *WebSocketSession) Send(event string, payload any) error {
	s.mutex.Lock()
	conn := s.conn
	connected := s.status == domain.Connected && !s.closed
	s.mutex.Unlock()

	if !connected || conn == nil {
		return domain.ErrNotConnected
	}

	if err := s.write(conn, event, payload); err != nil {
		// Цикл чтения увидит закрытое соединение и переподключится
		conn.Close()
		return err
	}
	return nil
}

func (s *WebSocketSession) write(conn *websocket.Conn, event string, payload any) error {
	message, err := protocol.Marshal(event, payload)
	if err != nil {
		return err
	}

	s.writeMutex.Lock()
	defer s.writeMutex.Unlock()

	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := conn.WriteMessage(websocket.TextMessage, message); err != nil {
		return &domain.NetworkError{Op: "write", Err: err}
	}
	return nil
}

// Disconnect закрывает сессию. Повторный вызов ничего не делает.
func (s *WebSocketSession) Disconnect() error {
	s.mutex.Lock()
	if s.closed {
		s.mutex.Unlock()
		return nil
	}
	s.closed = true
	conn := s.conn
	cancel := s.cancel
	done := s.done
	s.mutex.Unlock()

	if cancel != nil {
		cancel()
	}

	if conn != nil {
		// Отправляем сообщение о закрытии
		err := conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(writeTimeout),
		)
		if err != nil && !errors.Is(err, websocket.ErrCloseSent) {
			s.logger.Debug("Ошибка закрытия WebSocket: %v", err)
		}
		conn.Close()
	}

	if done != nil {
		select {
		case <-done:
		case <-time.After(closeTimeout):
			s.logger.Warn("Цикл чтения не завершился за %v", closeTimeout)
		}
	}

	s.setStatus(domain.Disconnected)
	s.logger.Info("Отключено от сервера")
	return nil
}

func (s *WebSocketSession) setStatus(status domain.ConnectionStatus) {
	s.mutex.Lock()
	if s.status == status {
		s.mutex.Unlock()
		return
	}
	s.status = status
	h := s.handler
	s.mutex.Unlock()

	h.OnStateChange(status)
}

// IsConnected возвращает статус подключения
func (s *WebSocketSession) IsConnected() bool {
	return s.State() == domain.Connected
}

// State текущее состояние соединения
func (s *WebSocketSession) State() domain.ConnectionStatus {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.status
}

// JoinsSent сколько раз был отправлен peer:join
func (s *WebSocketSession) JoinsSent() uint64 {
	return s.joinsSent.Load()
}

// Reconnects число успешных переподключений
func (s *WebSocketSession) Reconnects() uint64 {
	return s.reconnects.Load()
}

type nopHandler struct{}

func (nopHandler) OnStateChange(domain.ConnectionStatus)               {}
func (nopHandler) OnRoster(domain.PeerIdentity, []domain.PeerIdentity) {}
func (nopHandler) OnPeerJoined(domain.PeerIdentity)                    {}
func (nopHandler) OnPeerLeft(domain.PeerIdentity)                      {}
func (nopHandler) OnPeerStatus(domain.PeerIdentity, bool)              {}
func (nopHandler) OnFrame(domain.PeerIdentity, []byte)                 {}
func (nopHandler) OnProtocolError(error)                               {}
