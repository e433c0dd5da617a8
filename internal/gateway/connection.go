// ABOUTME: One WebSocket connection: state machine, outbound queue and read/write pumps
// ABOUTME: Implements rooms.Member so room fan-out lands in the connection's queue

package gateway

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/2389/livechat-gateway/internal/rooms"
	"github.com/2389/livechat-gateway/internal/store"
)

// ConnState is the lifecycle state of a connection.
type ConnState int32

const (
	StateConnecting ConnState = iota
	StateConnected
	StateClosed
)

func (s ConnState) String() string {
	switch s {
	case StateConnecting:
		return "CONNECTING"
	case StateConnected:
		return "CONNECTED"
	case StateClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

var errSendBufferFull = errors.New("send buffer full")

type connection struct {
	id       string
	identity *store.Identity
	ws       *websocket.Conn
	cfg      RouterConfig
	logger   *slog.Logger

	state     atomic.Int32
	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

func newConnection(id string, identity *store.Identity, ws *websocket.Conn, cfg RouterConfig, logger *slog.Logger) *connection {
	return &connection{
		id:       id,
		identity: identity,
		ws:       ws,
		cfg:      cfg,
		logger:   logger,
		send:     make(chan []byte, cfg.SendBuffer),
		done:     make(chan struct{}),
	}
}

func (c *connection) State() ConnState {
	return ConnState(c.state.Load())
}

// markConnected moves CONNECTING to CONNECTED.
func (c *connection) markConnected() bool {
	return c.state.CompareAndSwap(int32(StateConnecting), int32(StateConnected))
}

// markClosed moves the connection to CLOSED and stops the write pump. It
// returns the prior state, or false if the connection was already closed.
func (c *connection) markClosed() (ConnState, bool) {
	for {
		cur := c.state.Load()
		if ConnState(cur) == StateClosed {
			return StateClosed, false
		}
		if c.state.CompareAndSwap(cur, int32(StateClosed)) {
			c.closeOnce.Do(func() { close(c.done) })
			return ConnState(cur), true
		}
	}
}

// MemberID implements rooms.Member.
func (c *connection) MemberID() string {
	return c.id
}

// Deliver implements rooms.Member.
func (c *connection) Deliver(evt *rooms.Event) bool {
	if c.State() != StateConnected {
		return false
	}
	return c.push(OutFrame{Event: evt.Name, Data: evt.Payload}) == nil
}

func (c *connection) ack(id string, a Ack) {
	if c.State() == StateClosed {
		return
	}
	if err := c.push(OutFrame{Event: EventAck, ID: id, Data: a}); err != nil {
		c.logger.Debug("ack dropped", "ack_id", id, "error", err)
	}
}

func (c *connection) push(f OutFrame) error {
	payload, err := json.Marshal(f)
	if err != nil {
		return err
	}
	return c.enqueue(payload)
}

func (c *connection) enqueue(payload []byte) error {
	select {
	case <-c.done:
		return net.ErrClosed
	default:
	}
	select {
	case c.send <- payload:
		return nil
	default:
		return errSendBufferFull
	}
}

// readLoop feeds inbound text frames to handle until the socket fails.
func (c *connection) readLoop(handle func(raw []byte)) {
	c.ws.SetReadLimit(c.cfg.MaxMessageBytes)
	_ = c.ws.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
	})

	for {
		msgType, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.Debug("websocket read failed", "error", err)
			}
			return
		}
		_ = c.ws.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
		if msgType != websocket.TextMessage {
			continue
		}
		handle(data)
	}
}

// writeLoop drains the send queue and keeps the peer alive with pings.
func (c *connection) writeLoop() {
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		_ = c.ws.Close()
	}()

	for {
		select {
		case <-c.done:
			_ = c.ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(c.cfg.WriteWait))
			return
		case payload := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, payload); err != nil {
				c.logger.Debug("websocket write failed", "error", err)
				return
			}
		case <-ticker.C:
			if err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.cfg.WriteWait)); err != nil {
				c.logger.Debug("websocket ping failed", "error", err)
				return
			}
		}
	}
}
