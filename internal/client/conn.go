// ABOUTME: WebSocket client connection to the gateway with request/ack correlation
// ABOUTME: Pushes are delivered on a buffered channel; acks resolve the waiting request

package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/2389/livechat-gateway/internal/gateway"
)

// ErrConnClosed is returned for requests on a closed connection.
var ErrConnClosed = errors.New("connection closed")

const (
	pushBuffer    = 256
	writeWait     = 10 * time.Second
	handshakeWait = 10 * time.Second
	connectedWait = 10 * time.Second
	maxFrameBytes = 1 << 20
)

// Push is an unsolicited frame from the server.
type Push struct {
	Event string
	Data  json.RawMessage
}

// HandshakeError reports a rejected upgrade.
type HandshakeError struct {
	StatusCode int
	Err        error
}

func (e *HandshakeError) Error() string {
	return fmt.Sprintf("handshake rejected with status %d: %v", e.StatusCode, e.Err)
}

func (e *HandshakeError) Unwrap() error { return e.Err }

type inFrame struct {
	Event string          `json:"event"`
	ID    string          `json:"id"`
	Data  json.RawMessage `json:"data"`
}

// Conn is a client connection to the gateway.
type Conn struct {
	ws       *websocket.Conn
	identity gateway.Connected
	logger   *slog.Logger

	writeMu sync.Mutex
	seq     atomic.Uint64

	mu      sync.Mutex
	waiters map[string]chan gateway.Ack
	err     error

	pushes  chan Push
	dropped atomic.Int64
	done    chan struct{}
}

// Dial connects to the gateway at url, authenticating with a bearer token,
// and waits for the connected frame.
func Dial(ctx context.Context, url, token string, logger *slog.Logger) (*Conn, error) {
	if logger == nil {
		logger = slog.Default()
	}

	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: handshakeWait,
	}
	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)

	ws, resp, err := dialer.DialContext(ctx, url, header)
	if err != nil {
		if resp != nil {
			resp.Body.Close()
			return nil, &HandshakeError{StatusCode: resp.StatusCode, Err: err}
		}
		return nil, fmt.Errorf("dial gateway: %w", err)
	}
	ws.SetReadLimit(maxFrameBytes)

	_ = ws.SetReadDeadline(time.Now().Add(connectedWait))
	var first inFrame
	if err := ws.ReadJSON(&first); err != nil {
		ws.Close()
		return nil, fmt.Errorf("waiting for connected frame: %w", err)
	}
	if first.Event != gateway.EventConnected {
		ws.Close()
		return nil, fmt.Errorf("unexpected first frame %q", first.Event)
	}
	var identity gateway.Connected
	if err := json.Unmarshal(first.Data, &identity); err != nil {
		ws.Close()
		return nil, fmt.Errorf("decoding connected frame: %w", err)
	}
	_ = ws.SetReadDeadline(time.Time{})

	c := &Conn{
		ws:       ws,
		identity: identity,
		logger: logger.With(
			"component", "client-conn",
			"connection_id", identity.ConnectionID),
		waiters: make(map[string]chan gateway.Ack),
		pushes:  make(chan Push, pushBuffer),
		done:    make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

// Identity returns who the server bound this connection to.
func (c *Conn) Identity() gateway.Connected {
	return c.identity
}

// Pushes returns the channel of server pushes. It is closed when the
// connection ends.
func (c *Conn) Pushes() <-chan Push {
	return c.pushes
}

// Done is closed when the connection ends.
func (c *Conn) Done() <-chan struct{} {
	return c.done
}

// Err returns why the connection ended, or nil while it is open.
func (c *Conn) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Dropped returns how many pushes were discarded because nobody consumed them.
func (c *Conn) Dropped() int64 {
	return c.dropped.Load()
}

// Request sends event with data and waits for its acknowledgement.
func (c *Conn) Request(ctx context.Context, event string, data any) (*gateway.Ack, error) {
	id := strconv.FormatUint(c.seq.Add(1), 10)
	waiter := make(chan gateway.Ack, 1)

	c.mu.Lock()
	if c.err != nil {
		err := c.err
		c.mu.Unlock()
		return nil, fmt.Errorf("%w: %v", ErrConnClosed, err)
	}
	c.waiters[id] = waiter
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.waiters, id)
		c.mu.Unlock()
	}()

	payload, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("encoding %s payload: %w", event, err)
	}
	if err := c.write(gateway.Frame{Event: event, ID: id, Data: payload}); err != nil {
		return nil, err
	}

	select {
	case ack := <-waiter:
		return &ack, nil
	case <-c.done:
		return nil, fmt.Errorf("%w: %v", ErrConnClosed, c.Err())
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *Conn) write(f gateway.Frame) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.ws.WriteJSON(f); err != nil {
		return fmt.Errorf("writing %s: %w", f.Event, err)
	}
	return nil
}

func (c *Conn) readLoop() {
	defer close(c.pushes)

	for {
		var f inFrame
		if err := c.ws.ReadJSON(&f); err != nil {
			c.finish(err)
			return
		}

		if f.Event == gateway.EventAck {
			var ack gateway.Ack
			if err := json.Unmarshal(f.Data, &ack); err != nil {
				c.logger.Warn("undecodable ack", "ack_id", f.ID, "error", err)
				continue
			}
			c.mu.Lock()
			waiter, ok := c.waiters[f.ID]
			c.mu.Unlock()
			if ok {
				waiter <- ack
			} else {
				c.logger.Debug("ack without waiter", "ack_id", f.ID, "error", ack.Error)
			}
			continue
		}

		select {
		case c.pushes <- Push{Event: f.Event, Data: f.Data}:
		default:
			c.dropped.Add(1)
			c.logger.Warn("push buffer full, dropping event", "event", f.Event)
		}
	}
}

func (c *Conn) finish(err error) {
	c.mu.Lock()
	if c.err == nil {
		c.err = err
	}
	c.mu.Unlock()
	close(c.done)
}

// Close sends a close frame and tears the connection down.
func (c *Conn) Close() error {
	c.writeMu.Lock()
	_ = c.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(writeWait))
	c.writeMu.Unlock()
	return c.ws.Close()
}
