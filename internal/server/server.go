// Package server exposes branch attendance over HTTP and WebSocket.
//
// The JSON API covers login, branch listing, member listing and toggling.
// Every WebSocket connection owns one view.View and receives a snapshot
// message for each update of that view. Connections are torn down on
// disconnect or when the server stops, which closes their views and
// releases their store subscriptions.
package server

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/eventroll/rollcall/internal/session"
	"github.com/eventroll/rollcall/internal/store"
)

// Config holds server configuration
type Config struct {
	// Port to listen on (default: 8080, 0 picks a free port)
	Port int

	// Store serves every view the server creates
	Store store.Store

	// Branches are the known branches offered at login
	Branches []string

	// Sessions holds logged-in identities (default: session.DefaultTTL)
	Sessions *session.Registry

	// Optimistic is passed to the view of each WebSocket connection
	Optimistic bool

	// Registry receives the server collectors and is served on /metrics
	// (default: a fresh registry)
	Registry *prometheus.Registry

	// Logger for server activity (default: stderr logger)
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Port:       8080,
		Optimistic: true,
		Logger:     log.New(os.Stderr, "[server] ", log.LstdFlags),
	}
}

// Server serves the attendance API and the live WebSocket feed
type Server struct {
	addr     string
	config   *Config
	listener net.Listener
	server   *http.Server
	mux      *http.ServeMux

	clients   map[*client]struct{}
	clientsMu sync.Mutex

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	logger *log.Logger
}

// NewServer creates a server over config.Store
func NewServer(config *Config) (*Server, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if config.Store == nil {
		return nil, fmt.Errorf("server needs a store")
	}
	if config.Logger == nil {
		config.Logger = DefaultConfig().Logger
	}
	if config.Sessions == nil {
		config.Sessions = session.NewRegistry(session.DefaultTTL)
	}
	if config.Registry == nil {
		config.Registry = prometheus.NewRegistry()
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		addr:    fmt.Sprintf(":%d", config.Port),
		config:  config,
		clients: make(map[*client]struct{}),
		ctx:     ctx,
		cancel:  cancel,
		logger:  config.Logger,
	}

	clients := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: "rollcall",
		Subsystem: "server",
		Name:      "websocket_clients",
		Help:      "Connected WebSocket clients.",
	}, func() float64 { return float64(s.ClientCount()) })
	if err := config.Registry.Register(clients); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to register server metrics: %w", err)
	}

	s.mux = http.NewServeMux()
	s.mux.HandleFunc("POST /api/login", s.handleLogin)
	s.mux.HandleFunc("POST /api/logout", s.authenticated(s.handleLogout))
	s.mux.HandleFunc("GET /api/branches", s.handleBranches)
	s.mux.HandleFunc("GET /api/branches/{branch}/members", s.authenticated(s.handleMembers))
	s.mux.HandleFunc("POST /api/members/{code}/toggle", s.authenticated(s.handleToggle))
	s.mux.HandleFunc("POST /api/bus-times", s.authenticated(s.handleBusTimes))
	s.mux.HandleFunc("GET /ws", s.handleWebSocket)
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.Handle("GET /metrics", promhttp.HandlerFor(config.Registry, promhttp.HandlerOpts{}))
	return s, nil
}

// Handler returns the server's routes, for mounting under a test server
func (s *Server) Handler() http.Handler {
	return s.mux
}

// Start begins serving on the configured port
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}
	s.listener = ln

	s.server = &http.Server{
		Handler:           s.mux,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return s.ctx },
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.logger.Printf("Listening on %s", ln.Addr())
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Printf("Server error: %v", err)
		}
	}()
	return nil
}

// Stop disconnects every client and shuts the server down
func (s *Server) Stop() error {
	s.logger.Println("Stopping server")
	s.cancel()

	s.clientsMu.Lock()
	for c := range s.clients {
		c.close(websocket.StatusGoingAway, "server shutting down")
	}
	s.clientsMu.Unlock()

	var err error
	if s.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if shutdownErr := s.server.Shutdown(ctx); shutdownErr != nil {
			err = fmt.Errorf("server shutdown error: %w", shutdownErr)
		}
	}

	s.wg.Wait()
	s.logger.Println("Server stopped")
	return err
}

// GetAddr returns the server's listening address
func (s *Server) GetAddr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

// ClientCount returns the current number of connected clients
func (s *Server) ClientCount() int {
	s.clientsMu.Lock()
	defer s.clientsMu.Unlock()
	return len(s.clients)
}

// addClient registers c unless the server is stopping.
func (s *Server) addClient(c *client) bool {
	s.clientsMu.Lock()
	defer s.clientsMu.Unlock()
	if s.ctx.Err() != nil {
		return false
	}
	s.clients[c] = struct{}{}
	s.wg.Add(1)
	return true
}

func (s *Server) removeClient(c *client) {
	s.clientsMu.Lock()
	_, ok := s.clients[c]
	delete(s.clients, c)
	count := len(s.clients)
	s.clientsMu.Unlock()
	if ok {
		s.logger.Printf("Client %s disconnected (total: %d)", c.user.Name, count)
		s.wg.Done()
	}
}

// handleHealth returns server health status
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":   "ok",
		"clients":  s.ClientCount(),
		"sessions": s.config.Sessions.Len(),
	})
}
