package server

import (
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/kingsgate/stakechess/internal/config"
	"github.com/kingsgate/stakechess/internal/session"
	"go.uber.org/zap"
)

// client is one websocket connection. It implements session.Peer; sessions
// and the broker hold it only to push events.
type client struct {
	id     string
	conn   *websocket.Conn
	cfg    config.WebSocketConfig
	logger *zap.Logger

	// mu guards closing send against concurrent enqueues.
	mu     sync.Mutex
	send   chan []byte
	closed atomic.Bool

	// name is the last display name the peer asked for. Read pump only.
	name string
}

func newClient(conn *websocket.Conn, cfg config.WebSocketConfig, logger *zap.Logger) *client {
	id := uuid.NewString()
	return &client{
		id:     id,
		conn:   conn,
		cfg:    cfg,
		logger: logger.With(zap.String("peer_id", id)),
		send:   make(chan []byte, cfg.SendBuffer),
	}
}

func (c *client) ID() string { return c.id }

// Alive is false once the read pump has exited or the peer fell behind.
func (c *client) Alive() bool { return !c.closed.Load() }

func (c *client) Send(ev session.Event) { c.enqueue(ev) }

func (c *client) enqueue(v any) {
	if c.closed.Load() {
		return
	}
	data, err := json.Marshal(v)
	if err != nil {
		c.logger.Error("failed to encode outbound message", zap.Error(err))
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed.Load() {
		return
	}
	select {
	case c.send <- data:
	default:
		c.logger.Warn("send buffer full, dropping connection")
		c.closeLocked()
	}
}

// shutdown stops outbound delivery. The write pump then closes the socket,
// which ends the read pump.
func (c *client) shutdown() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.closeLocked()
}

func (c *client) closeLocked() {
	if c.closed.CompareAndSwap(false, true) {
		close(c.send)
	}
}

func (c *client) readPump(s *Server) {
	defer func() {
		c.shutdown()
		s.broker.Disconnect(c)
		c.conn.Close()
		c.logger.Debug("connection closed")
	}()

	if c.cfg.ReadLimit > 0 {
		c.conn.SetReadLimit(c.cfg.ReadLimit)
	}
	_ = c.conn.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Debug("read failed", zap.Error(err))
			}
			return
		}

		var env Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			c.logger.Debug("malformed envelope", zap.Error(err))
			c.enqueue(ackCode("", CodeBadRequest, "malformed message"))
			continue
		}
		s.dispatch(c, env)
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(c.pingPeriod())
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.logger.Debug("write failed", zap.Error(err))
				c.shutdown()
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.shutdown()
				return
			}
		}
	}
}

func (c *client) pingPeriod() time.Duration {
	return c.cfg.PongWait * 9 / 10
}
