// ABOUTME: Gateway orchestrator that wires store, auth, workflow and the WebSocket router
// ABOUTME: Owns the HTTP server lifecycle plus health, readiness and metrics endpoints

package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/2389/livechat-gateway/internal/agent"
	"github.com/2389/livechat-gateway/internal/auth"
	"github.com/2389/livechat-gateway/internal/config"
	"github.com/2389/livechat-gateway/internal/conversation"
	"github.com/2389/livechat-gateway/internal/eventbus"
	"github.com/2389/livechat-gateway/internal/keylock"
	"github.com/2389/livechat-gateway/internal/metrics"
	"github.com/2389/livechat-gateway/internal/presence"
	"github.com/2389/livechat-gateway/internal/rooms"
	"github.com/2389/livechat-gateway/internal/store"
)

// Gateway orchestrates the livechat-gateway server components.
type Gateway struct {
	config       *config.Config
	store        store.Store
	verifier     *auth.JWTVerifier
	resolver     *auth.Resolver
	presence     *presence.Registry
	router       *Router
	conversation *conversation.Service
	agents       *agent.Pool
	publisher    *eventbus.Publisher
	registry     *prometheus.Registry
	httpServer   *http.Server
	logger       *slog.Logger

	shutdownOnce sync.Once
	shutdownErr  error
}

// initStore opens the configured database.
func initStore(cfg *config.Config) (store.Store, error) {
	s, err := store.Open(cfg.Database.Driver, cfg.Database.Path, cfg.Database.DSN)
	if err != nil {
		return nil, fmt.Errorf("initializing store: %w", err)
	}
	return s, nil
}

// initPublisher connects to the event bus when it is enabled.
func initPublisher(cfg *config.Config, logger *slog.Logger) (*eventbus.Publisher, error) {
	if !cfg.EventBus.Enabled {
		return nil, nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	p, err := eventbus.Dial(ctx, eventbus.Config{
		URL:      cfg.EventBus.URL,
		Exchange: cfg.EventBus.Exchange,
		Producer: cfg.EventBus.Producer,
	}, logger.With("component", "eventbus"))
	if err != nil {
		return nil, fmt.Errorf("connecting event bus: %w", err)
	}
	return p, nil
}

// New creates a new Gateway instance with the given configuration.
func New(cfg *config.Config, logger *slog.Logger) (*Gateway, error) {
	if logger == nil {
		logger = slog.Default()
	}

	verifier, err := auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret))
	if err != nil {
		return nil, fmt.Errorf("creating JWT verifier: %w", err)
	}

	s, err := initStore(cfg)
	if err != nil {
		return nil, err
	}

	publisher, err := initPublisher(cfg, logger)
	if err != nil {
		s.Close()
		return nil, err
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(registry)

	locks := keylock.New()
	presenceRegistry := presence.NewRegistry(logger)
	resolver := auth.NewResolver(verifier, s, cfg.Auth.VisitorTokenTTL, logger)

	router := NewRouter(resolver, s, RouterOptions{
		Config: RouterConfig{
			PingInterval:    cfg.Gateway.PingInterval,
			PongWait:        cfg.Gateway.PongWait,
			WriteWait:       cfg.Gateway.WriteWait,
			SendBuffer:      cfg.Gateway.SendBuffer,
			MaxMessageBytes: cfg.Gateway.MaxMessageBytes,
			AllowedOrigins:  cfg.Server.AllowedOrigins,
		},
		Presence: presenceRegistry,
		Rooms:    rooms.NewBroadcaster(logger),
		Locks:    locks,
		Metrics:  m,
		Logger:   logger,
	})

	opts := conversation.Options{
		Notifier: router,
		Metrics:  m,
		Locks:    locks,
		Logger:   logger,
	}
	if publisher != nil {
		opts.Events = publisher
	}

	gw := &Gateway{
		config:       cfg,
		store:        s,
		verifier:     verifier,
		resolver:     resolver,
		presence:     presenceRegistry,
		router:       router,
		conversation: conversation.NewService(s, opts),
		agents:       agent.NewPool(s, logger),
		publisher:    publisher,
		registry:     registry,
		logger:       logger.With("component", "gateway"),
	}

	mux := http.NewServeMux()
	mux.Handle(cfg.Server.WSPath, router)

	// Health endpoints - no auth required
	mux.HandleFunc("/health", gw.handleHealth)
	mux.HandleFunc("/health/ready", gw.handleReady)

	if cfg.Metrics.Enabled {
		mux.Handle(cfg.Metrics.Path, promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry}))
	}

	gw.httpServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return gw, nil
}

// Handler returns the HTTP handler serving websocket, health and metrics routes.
func (g *Gateway) Handler() http.Handler {
	return g.httpServer.Handler
}

// Store returns the gateway's persistence layer.
func (g *Gateway) Store() store.Store { return g.store }

// Conversations returns the conversation workflow.
func (g *Gateway) Conversations() *conversation.Service { return g.conversation }

// Agents returns the agent pool administration service.
func (g *Gateway) Agents() *agent.Pool { return g.agents }

// Resolver returns the credential resolver.
func (g *Gateway) Resolver() *auth.Resolver { return g.resolver }

// Tokens returns the token issuer.
func (g *Gateway) Tokens() *auth.JWTVerifier { return g.verifier }

// Presence returns the live presence registry.
func (g *Gateway) Presence() *presence.Registry { return g.presence }

// startServer serves HTTP on ln in a goroutine, returning an error channel.
func (g *Gateway) startServer(ln net.Listener) chan error {
	errCh := make(chan error, 1)

	go func() {
		g.logger.Info("HTTP server listening",
			"addr", ln.Addr().String(),
			"ws_path", g.config.Server.WSPath)
		if err := g.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("HTTP server: %w", err)
		}
	}()

	return errCh
}

// Run serves until ctx is canceled or the server fails, then shuts down.
func (g *Gateway) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", g.config.Server.HTTPAddr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", g.config.Server.HTTPAddr, err)
	}

	errCh := g.startServer(ln)

	var serverErr error
	select {
	case <-ctx.Done():
		g.logger.Info("context canceled, initiating shutdown")
	case serverErr = <-errCh:
		g.logger.Error("server error", "error", serverErr)
	}

	shutdownErr := g.gracefulShutdown()

	if serverErr != nil {
		return serverErr
	}
	return shutdownErr
}

// gracefulShutdown performs shutdown with a fresh context and timeout.
// Uses context.Background() intentionally since the original context is already canceled.
func (g *Gateway) gracefulShutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return g.Shutdown(ctx)
}

// appendCloseError appends an error with label if err is non-nil.
func appendCloseError(errs []error, label string, err error) []error {
	if err != nil {
		return append(errs, fmt.Errorf("%s: %w", label, err))
	}
	return errs
}

// Shutdown stops the HTTP server, disconnects clients and releases resources.
// Calls after the first return the first call's result.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.shutdownOnce.Do(func() {
		g.logger.Info("shutting down gateway")

		var errs []error
		errs = appendCloseError(errs, "HTTP shutdown", g.httpServer.Shutdown(ctx))

		// Hijacked websocket connections are not tracked by http.Server.
		g.router.Close()

		if g.publisher != nil {
			errs = appendCloseError(errs, "event bus close", g.publisher.Close())
		}
		g.presence.Close()
		errs = appendCloseError(errs, "store close", g.store.Close())

		if len(errs) > 0 {
			g.shutdownErr = fmt.Errorf("shutdown errors: %w", errors.Join(errs...))
		}
	})
	return g.shutdownErr
}

// handleHealth returns 200 OK if the server is alive.
func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleReady returns 200 OK when the store is reachable, along with how
// many agents and agent tabs are connected.
func (g *Gateway) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := g.store.Ping(ctx); err != nil {
		g.logger.Warn("readiness check failed", "error", err)
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("store unavailable"))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprintf(w, "ready (%d agents online, %d agent connections)",
		len(g.presence.OnlineAgents()), len(g.presence.AgentConnections()))
}
