// ABOUTME: WebSocket conversation router: handshake, presence binding and inbound dispatch
// ABOUTME: Also the outbound notifier that pushes lifecycle events to identities' private rooms

package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/2389/livechat-gateway/internal/auth"
	"github.com/2389/livechat-gateway/internal/conversation"
	"github.com/2389/livechat-gateway/internal/keylock"
	"github.com/2389/livechat-gateway/internal/metrics"
	"github.com/2389/livechat-gateway/internal/presence"
	"github.com/2389/livechat-gateway/internal/rooms"
	"github.com/2389/livechat-gateway/internal/store"
)

// Router defaults.
const (
	DefaultPingInterval    = 30 * time.Second
	DefaultPongWait        = 60 * time.Second
	DefaultWriteWait       = 10 * time.Second
	DefaultSendBuffer      = 64
	DefaultMaxMessageBytes = 64 << 10
)

// Authenticator resolves a handshake credential to an identity.
type Authenticator interface {
	Resolve(ctx context.Context, credential string) (*store.Identity, error)
}

// MessageStore persists chat messages.
type MessageStore interface {
	CreateMessage(ctx context.Context, msg store.NewMessage) (*store.Message, error)
}

// RouterConfig tunes connection keepalive and buffering. Zero values take defaults.
type RouterConfig struct {
	PingInterval    time.Duration
	PongWait        time.Duration
	WriteWait       time.Duration
	SendBuffer      int
	MaxMessageBytes int64
	AllowedOrigins  []string
}

func (c RouterConfig) withDefaults() RouterConfig {
	if c.PingInterval <= 0 {
		c.PingInterval = DefaultPingInterval
	}
	if c.PongWait <= 0 {
		c.PongWait = DefaultPongWait
	}
	if c.WriteWait <= 0 {
		c.WriteWait = DefaultWriteWait
	}
	if c.SendBuffer <= 0 {
		c.SendBuffer = DefaultSendBuffer
	}
	if c.MaxMessageBytes <= 0 {
		c.MaxMessageBytes = DefaultMaxMessageBytes
	}
	return c
}

// RouterOptions carries the router's shared collaborators. Nil fields get
// private instances.
type RouterOptions struct {
	Config   RouterConfig
	Presence *presence.Registry
	Rooms    *rooms.Broadcaster
	Locks    *keylock.Locker
	Metrics  *metrics.Metrics
	Logger   *slog.Logger
}

// Router accepts WebSocket connections and routes conversation traffic.
type Router struct {
	auth     Authenticator
	messages MessageStore
	presence *presence.Registry
	rooms    *rooms.Broadcaster
	locks    *keylock.Locker
	metrics  *metrics.Metrics
	cfg      RouterConfig
	upgrader websocket.Upgrader
	logger   *slog.Logger

	mu     sync.Mutex
	conns  map[string]*connection
	closed bool
}

var _ conversation.Notifier = (*Router)(nil)

// NewRouter creates a Router.
func NewRouter(authenticator Authenticator, messages MessageStore, opts RouterOptions) *Router {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "router")

	if opts.Presence == nil {
		opts.Presence = presence.NewRegistry(logger)
	}
	if opts.Rooms == nil {
		opts.Rooms = rooms.NewBroadcaster(logger)
	}
	if opts.Locks == nil {
		opts.Locks = keylock.New()
	}

	r := &Router{
		auth:     authenticator,
		messages: messages,
		presence: opts.Presence,
		rooms:    opts.Rooms,
		locks:    opts.Locks,
		metrics:  opts.Metrics,
		cfg:      opts.Config.withDefaults(),
		logger:   logger,
		conns:    make(map[string]*connection),
	}
	r.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     r.checkOrigin,
	}
	return r
}

func (r *Router) checkOrigin(req *http.Request) bool {
	if len(r.cfg.AllowedOrigins) == 0 {
		return true
	}
	origin := req.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range r.cfg.AllowedOrigins {
		if allowed == "*" || strings.EqualFold(allowed, origin) {
			return true
		}
	}
	return false
}

// ServeHTTP performs the handshake and runs the connection until it closes.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	credential, ok := auth.CredentialFromRequest(req)
	if !ok {
		r.rejectHandshake(w, http.StatusUnauthorized, "unauthorized", errors.New("missing credential"))
		return
	}

	identity, err := r.auth.Resolve(req.Context(), credential)
	if err != nil {
		if errors.Is(err, auth.ErrUnauthenticated) {
			r.rejectHandshake(w, http.StatusUnauthorized, "unauthorized", err)
		} else {
			r.rejectHandshake(w, http.StatusServiceUnavailable, "unavailable", err)
		}
		return
	}

	ws, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		r.metrics.HandshakeFailed()
		r.logger.Debug("websocket upgrade failed", "identity_id", identity.ID, "error", err)
		return
	}

	connID := uuid.New().String()
	c := newConnection(connID, identity, ws, r.cfg, r.logger.With(
		"connection_id", connID,
		"identity_id", identity.ID,
	))

	if !r.connect(c) {
		c.markClosed()
		_ = ws.Close()
		return
	}

	// Handlers take the author from ctx, never from frame payloads.
	ctx, cancel := context.WithCancel(auth.WithIdentity(req.Context(), identity))
	defer cancel()

	go c.writeLoop()
	c.readLoop(func(raw []byte) {
		r.dispatch(ctx, c, raw)
	})
	r.disconnect(c)
}

func (r *Router) rejectHandshake(w http.ResponseWriter, status int, msg string, cause error) {
	r.metrics.HandshakeFailed()
	r.logger.Info("handshake rejected", "status", status, "error", cause)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

// connect binds presence and joins the identity's rooms, then marks the
// connection CONNECTED.
func (r *Router) connect(c *connection) bool {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return false
	}
	r.conns[c.id] = c
	r.mu.Unlock()

	if !r.presence.Bind(c.id, c.identity.ID, c.identity.Role) {
		r.untrack(c.id)
		r.logger.Warn("presence bind refused", "connection_id", c.id, "identity_id", c.identity.ID)
		return false
	}

	r.rooms.Join(rooms.UserRoom(c.identity.ID), c)
	if c.identity.Role.IsStaff() {
		r.rooms.Join(rooms.AgentsRoom, c)
	}
	if !c.markConnected() {
		// Closed by shutdown while binding.
		r.rooms.LeaveAll(c.id)
		r.presence.Unbind(c.id)
		r.untrack(c.id)
		return false
	}

	r.metrics.ConnectionOpened()
	r.metrics.SetOnlineIdentities(r.presence.Stats().Identities)
	r.logger.Info("connection established",
		"connection_id", c.id,
		"identity_id", c.identity.ID,
		"role", c.identity.Role)

	if err := c.push(OutFrame{Event: EventConnected, Data: Connected{
		ConnectionID: c.id,
		IdentityID:   c.identity.ID,
		Role:         c.identity.Role,
	}}); err != nil {
		c.logger.Debug("connected frame dropped", "error", err)
	}
	return true
}

// disconnect tears a connection down. Safe to call more than once.
func (r *Router) disconnect(c *connection) {
	prev, ok := c.markClosed()
	if !ok {
		return
	}
	r.presence.Unbind(c.id)
	left := r.rooms.LeaveAll(c.id)
	r.untrack(c.id)

	if prev == StateConnected {
		r.metrics.ConnectionClosed()
	}
	r.metrics.SetOnlineIdentities(r.presence.Stats().Identities)
	r.logger.Info("connection closed",
		"connection_id", c.id,
		"identity_id", c.identity.ID,
		"rooms_left", len(left))
}

func (r *Router) untrack(connID string) {
	r.mu.Lock()
	delete(r.conns, connID)
	r.mu.Unlock()
}

// Connections returns the number of tracked connections.
func (r *Router) Connections() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.conns)
}

// Close disconnects every connection and refuses new ones.
func (r *Router) Close() {
	r.mu.Lock()
	r.closed = true
	conns := make([]*connection, 0, len(r.conns))
	for _, c := range r.conns {
		conns = append(conns, c)
	}
	r.mu.Unlock()

	for _, c := range conns {
		r.disconnect(c)
	}
}

// NotifyNewConversation tells an agent a conversation was assigned to them.
func (r *Router) NotifyNewConversation(agentID, conversationID string) {
	r.notify(agentID, EventNewConversation, conversationID)
}

// NotifyReassigned tells the newly matched agent about the conversation.
func (r *Router) NotifyReassigned(agentID, conversationID string) {
	r.notify(agentID, EventNewConversation, conversationID)
}

// NotifyResolved tells the assigned agent the conversation was resolved.
func (r *Router) NotifyResolved(agentID, conversationID string) {
	r.notify(agentID, EventConversationResolved, conversationID)
}

// NotifyClosed tells the visitor their conversation was closed.
func (r *Router) NotifyClosed(userID, conversationID string) {
	r.notify(userID, EventConversationClosed, conversationID)
}

// notify emits to the identity's private room. Offline identities miss the event.
func (r *Router) notify(identityID, event, conversationID string) {
	delivered := 0
	if identityID != "" && r.presence.IsOnline(identityID) {
		delivered = r.rooms.Publish(rooms.UserRoom(identityID), &rooms.Event{
			Name:    event,
			Payload: ConversationRef{ConversationID: conversationID},
		}, "")
	}
	r.metrics.Notification(event, delivered > 0)
	if delivered == 0 {
		r.logger.Debug("notification dropped",
			"event", event,
			"identity_id", identityID,
			"conversation_id", conversationID)
	}
}
