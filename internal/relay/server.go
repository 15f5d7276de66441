package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"

	"github.com/neboloop/cdprelay/internal/events"
)

const drainTimeout = 5 * time.Second

// NewServer constructs a relay in StateStarting. Call Start to bind and
// begin serving.
func NewServer(cfg Config) *Server {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	log := cfg.Logger.With("component", "cdp-relay")

	s := &Server{
		cfg:           cfg,
		log:           log,
		state:         StateStarting,
		clients:       make(map[string]*clientSession),
		sessionAttach: make(map[string]map[string]bool),
		targets:       newTargetTable(),
		pending:       newCorrelator(cfg.RequestTimeout),
		bus:           events.NewSubject(events.WithSyncDelivery(), events.WithBufferSize(256), events.WithLogger(log)),
		audit:         newAuditLogger(log),
		limit:         newAdmissionLimiter(1, 5),
		mcpLog:        newMcpLogLimiter(cfg.McpLogRate / 60),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     func(r *http.Request) bool { return true }, // origin is enforced explicitly per-route
	}
	return s
}

func (s *Server) router() http.Handler {
	r := chi.NewRouter()

	r.Get("/extension", s.handleExtensionWS)
	r.Get("/cdp", s.handleCdpWS)
	r.Get("/cdp/{clientID}", s.handleCdpWS)

	httpRoutes := chi.NewRouter()
	httpRoutes.Use(middleware.RequestID, middleware.Recoverer, middleware.Logger)
	httpRoutes.Get("/version", s.handleVersion)
	httpRoutes.Get("/extension/status", s.handleExtensionStatus)
	httpRoutes.Get("/healthz", s.handleHealthz)
	httpRoutes.Post("/mcp-log", s.handleMcpLog)
	r.Mount("/", httpRoutes)

	return r
}

// Start binds the listener and begins serving in a background goroutine. It
// returns once the listener is bound, not once the server stops.
func (s *Server) Start() error {
	s.mu.Lock()
	addrStr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	s.httpServer = &http.Server{
		Addr:    addrStr,
		Handler: s.router(),
	}
	s.mu.Unlock()

	ln, err := net.Listen("tcp", addrStr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addrStr, err)
	}

	s.setState(StateRunning)
	s.log.Info("relay listening", "addr", addrStr)

	go func() {
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("relay server exited", "error", err)
		}
	}()
	return nil
}

// Shutdown transitions Draining, closes all sockets, and stops the HTTP
// server within the drain window.
func (s *Server) Shutdown(ctx context.Context) error {
	s.setState(StateDraining)
	s.log.Info("relay draining")

	s.mu.Lock()
	ext := s.ext
	clients := make([]*clientSession, 0, len(s.clients))
	for _, c := range s.clients {
		clients = append(clients, c)
	}
	s.mu.Unlock()

	if ext != nil {
		closeWithReason(ext.ws, CloseShutdown)
		ext.writer.stop()
	}
	for _, c := range clients {
		s.closeClient(c, CloseShutdown)
	}

	events.Complete(s.bus)

	drainCtx, cancel := context.WithTimeout(ctx, drainTimeout)
	defer cancel()

	var err error
	if s.httpServer != nil {
		err = s.httpServer.Shutdown(drainCtx)
	}
	s.setState(StateStopped)
	s.log.Info("relay stopped")
	return err
}

func (s *Server) setState(state State) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

// State reports the current lifecycle state.
func (s *Server) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// ApplyReloadable updates the hot-reloadable subset of Config
// (ExtensionOrigins, BearerToken) while running. Port, Host, and
// WriteQueueCapacity are startup-only and ignored here.
func (s *Server) ApplyReloadable(origins []string, bearerToken string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg.ExtensionOrigins = origins
	s.cfg.BearerToken = bearerToken
}
