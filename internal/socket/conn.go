// ABOUTME: One websocket connection: bounded outbound queue, write pump with pings, set-once identity
// ABOUTME: Implements presence.Handle so the registry and router can emit to it

package socket

import (
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/2389/supportdesk/internal/relay"
	"github.com/2389/supportdesk/internal/store"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 16 * 1024
)

var (
	ErrClosed    = errors.New("connection closed")
	ErrQueueFull = errors.New("send queue full")
)

// Frame is the wire envelope for every event in both directions.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type outFrame struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

// Conn is a live agent or user websocket.
type Conn struct {
	id     string
	class  store.Class
	ws     *websocket.Conn
	send   chan []byte
	done   chan struct{}
	logger *slog.Logger

	closeOnce sync.Once

	mu       sync.Mutex
	identity string
}

func newConn(ws *websocket.Conn, class store.Class, queueSize int, logger *slog.Logger) *Conn {
	id := uuid.New().String()
	return &Conn{
		id:     id,
		class:  class,
		ws:     ws,
		send:   make(chan []byte, queueSize),
		done:   make(chan struct{}),
		logger: logger.With("conn_id", id, "class", class),
	}
}

func (c *Conn) ID() string { return c.id }

// Emit queues event for the write pump. It never blocks.
func (c *Conn) Emit(event string, payload any) error {
	data, err := json.Marshal(outFrame{Event: event, Data: payload})
	if err != nil {
		return err
	}

	select {
	case <-c.done:
		return ErrClosed
	default:
	}

	select {
	case c.send <- data:
		return nil
	case <-c.done:
		return ErrClosed
	default:
		c.logger.Warn("send queue full, dropping event", "event", event)
		return ErrQueueFull
	}
}

// Identity returns the bound identity, or "" before identification.
func (c *Conn) Identity() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.identity
}

// bindIdentity sets the identity once. Rebinding to the same name is allowed.
func (c *Conn) bindIdentity(name string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.identity != "" && c.identity != name {
		return false
	}
	c.identity = name
	return true
}

// Close stops the write pump, which closes the socket.
func (c *Conn) Close() {
	c.closeOnce.Do(func() { close(c.done) })
}

func (c *Conn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.ws.Close()
	}()

	for {
		select {
		case data := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				c.logger.Debug("write failed", "error", err)
				c.Close()
				return
			}

		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.logger.Debug("ping failed", "error", err)
				c.Close()
				return
			}

		case <-c.done:
			c.flush()
			_ = c.ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeWait))
			return
		}
	}
}

// flush writes whatever is already queued, so an error event sent just
// before Close still reaches the client.
func (c *Conn) flush() {
	for {
		select {
		case data := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		default:
			return
		}
	}
}

// readLoop calls handle for each inbound frame until the socket fails.
func (c *Conn) readLoop(handle func(Frame)) {
	c.ws.SetReadLimit(maxMessageSize)
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Debug("read failed", "error", err)
			}
			return
		}

		var f Frame
		if err := json.Unmarshal(data, &f); err != nil || f.Event == "" {
			_ = c.Emit(relay.EventError, &relay.ErrorData{Message: relay.MsgInvalidMessage})
			continue
		}
		handle(f)
	}
}
