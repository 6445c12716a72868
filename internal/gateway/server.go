package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"toolgate/internal/health"
	"toolgate/internal/lifecycle"
	"toolgate/internal/protocol"
	"toolgate/internal/registry"
	"toolgate/internal/router"
	"toolgate/pkg/logging"

	"github.com/coreos/go-systemd/v22/activation"
)

// Endpoint paths.
const (
	mcpPath      = "/mcp"
	healthPath   = "/health"
	servicesPath = "/health/services"
	manifestPath = "/.well-known/mcp-manifest.json"
)

// keepAliveInterval is the heartbeat cadence on open streams.
const keepAliveInterval = 30 * time.Second

// drainGrace bounds how long graceful shutdown waits for in-flight work.
const drainGrace = 30 * time.Second

// Config configures the front endpoint.
type Config struct {
	Host   string
	Port   int
	APIKey string
}

// Server is the front SSE/HTTP endpoint.
type Server struct {
	config    Config
	router    *router.Router
	registry  *registry.Registry
	lifecycle *lifecycle.Manager
	monitor   *health.Monitor

	sessions *sessionRegistry

	mu         sync.Mutex
	httpServer *http.Server
	listener   net.Listener
}

// NewServer wires the endpoint to the router and its observers.
func NewServer(cfg Config, rt *router.Router, reg *registry.Registry, lc *lifecycle.Manager, monitor *health.Monitor) *Server {
	return &Server{
		config:    cfg,
		router:    rt,
		registry:  reg,
		lifecycle: lc,
		monitor:   monitor,
		sessions:  newSessionRegistry(),
	}
}

// Handler builds the endpoint routing table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(mcpPath, s.requireAPIKey(s.handleMCP))
	mux.HandleFunc(healthPath, s.handleHealth)
	mux.HandleFunc(servicesPath, s.handleServices)
	mux.HandleFunc(manifestPath, s.handleManifest)
	return mux
}

// Endpoint returns the base URL clients connect to.
func (s *Server) Endpoint() string {
	return fmt.Sprintf("http://%s:%d%s", s.config.Host, s.config.Port, mcpPath)
}

// Start binds the listener and serves until Stop. When systemd passed
// sockets, the first one is used instead of a fresh bind.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.httpServer != nil {
		return fmt.Errorf("gateway server already started")
	}

	mux := s.Handler()

	listener, err := s.acquireListener()
	if err != nil {
		return err
	}
	s.listener = listener

	s.httpServer = &http.Server{
		Handler: mux,
		// SSE streams are long-lived; only the read side is bounded.
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := s.httpServer.Serve(listener); err != nil && err != http.ErrServerClosed {
			logging.Error("Gateway", err, "HTTP server terminated")
		}
	}()

	logging.Info("Gateway", "Listening on %s", listener.Addr())
	return nil
}

// acquireListener prefers systemd socket activation over a fresh bind.
func (s *Server) acquireListener() (net.Listener, error) {
	listeners, err := activation.Listeners()
	if err != nil {
		logging.Warn("Gateway", "Failed to query systemd listeners: %v", err)
	}
	if len(listeners) > 0 && listeners[0] != nil {
		logging.Info("Gateway", "Using systemd-activated socket")
		return listeners[0], nil
	}

	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to bind %s: %w", addr, err)
	}
	return listener, nil
}

// Stop drains in-flight requests up to the grace window, then forces every
// transport closed.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	srv := s.httpServer
	s.httpServer = nil
	s.mu.Unlock()

	if srv == nil {
		return nil
	}

	s.sessions.closeAll()

	drainCtx, cancel := context.WithTimeout(ctx, drainGrace)
	defer cancel()
	if err := srv.Shutdown(drainCtx); err != nil {
		logging.Warn("Gateway", "Graceful drain incomplete, forcing close: %v", err)
		return srv.Close()
	}
	return nil
}

// Addr returns the bound address, useful when the port was 0.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// OpenSessions reports how many streams are connected.
func (s *Server) OpenSessions() int {
	return s.sessions.count()
}

// requireAPIKey enforces the pre-shared key on an endpoint. An empty
// configured key disables the check.
func (s *Server) requireAPIKey(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.config.APIKey != "" {
			provided := r.Header.Get("X-API-Key")
			if provided == "" {
				provided = r.URL.Query().Get("api_key")
			}
			if provided != s.config.APIKey {
				writeAuthFailure(w)
				return
			}
		}
		next(w, r)
	}
}

func writeAuthFailure(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	body := map[string]interface{}{
		"error": map[string]interface{}{
			"code":    protocol.CodeAuthFailure,
			"message": "invalid or missing API key",
		},
	}
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logging.Debug("Gateway", "Failed to write auth failure: %v", err)
	}
}
