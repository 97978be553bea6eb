package relay

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"webcamhead/internal/protocol"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 8 << 20
	sendQueueSize  = 64
)

// client одно WebSocket-подключение. Читает readLoop, пишет только writeLoop.
type client struct {
	hub  *Hub
	conn *websocket.Conn
	addr string
	send chan []byte

	closeOnce sync.Once
	done      chan struct{}
}

func newClient(hub *Hub, conn *websocket.Conn) *client {
	return &client{
		hub:  hub,
		conn: conn,
		addr: conn.RemoteAddr().String(),
		send: make(chan []byte, sendQueueSize),
		done: make(chan struct{}),
	}
}

// enqueue ставит сообщение в очередь отправки. Видеокадры при полной
// очереди отбрасываются; переполнение служебными сообщениями закрывает
// подключение медленного клиента.
func (c *client) enqueue(message []byte, droppable bool) bool {
	select {
	case <-c.done:
		return false
	default:
	}

	select {
	case c.send <- message:
		return true
	default:
	}

	if droppable {
		return false
	}
	c.hub.logger.Warn("Очередь отправки %s переполнена, подключение закрыто", c.addr)
	c.close()
	return false
}

func (c *client) sendEvent(event string, data any) {
	message, err := protocol.Marshal(event, data)
	if err != nil {
		c.hub.logger.Error("Ошибка сериализации %s: %v", event, err)
		return
	}
	c.enqueue(message, false)
}

func (c *client) sendError(text string) {
	c.sendEvent(protocol.EventError, protocol.ErrorMessage{Message: text})
}

func (c *client) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.conn.Close()
	})
}

// readLoop читает сообщения до ошибки и снимает клиента с учета
func (c *client) readLoop() {
	defer func() {
		c.hub.unregister(c)
		c.close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		messageType, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Debug("Ошибка чтения от %s: %v", c.addr, err)
			}
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}
		c.hub.handle(c, message)
	}
}

// writeLoop отправляет сообщения из очереди и пинги
func (c *client) writeLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.close()
	}()

	for {
		select {
		case <-c.done:
			return
		case message := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.hub.logger.Debug("Ошибка записи в %s: %v", c.addr, err)
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
