package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/nerrad567/gray-logic-session/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-session/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-session/internal/session"
	"github.com/nerrad567/gray-logic-session/internal/subscription"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// Session is the part of *session.Session the API uses.
type Session interface {
	Status() session.Status
	HealthCheck(ctx context.Context) error
	Subscribe(topic string, qos byte, handler subscription.TopicHandler) error
	Unsubscribe(topic string) (bool, error)
	Registry() *subscription.Registry
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config  config.APIConfig
	Logger  *logging.Logger
	Session Session

	// Hub is the event hub registered as a session observer. If nil the
	// server creates one, and the stream only carries API subscription
	// payloads.
	Hub *Hub

	// Components are reported by the health endpoint beside the session,
	// keyed by name (for example "database", "influxdb").
	Components map[string]HealthChecker

	Version string
}

// HealthChecker is a dependency the health endpoint checks.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Server is the operations HTTP server.
//
// It is created with New, started with Start and stopped with Close.
type Server struct {
	cfg     config.APIConfig
	logger  *logging.Logger
	session Session
	hub     *Hub
	version string

	components map[string]HealthChecker

	server   *http.Server
	listener net.Listener
	cancel   context.CancelFunc
}

// New creates a new API server with the given dependencies.
// The server is not started until Start is called.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Session == nil {
		return nil, fmt.Errorf("session is required")
	}

	hub := deps.Hub
	if hub == nil {
		hub = NewHub(deps.Config.WebSocket, deps.Logger)
	}

	return &Server{
		cfg:     deps.Config,
		logger:  deps.Logger,
		session: deps.Session,
		hub:     hub,
		version: deps.Version,

		components: deps.Components,
	}, nil
}

// Start binds the listener and serves in a background goroutine.
// The hub runs until ctx is cancelled or Close is called.
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", addr, err)
	}
	s.listener = ln

	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)
	go s.hub.Run(srvCtx)

	s.server = &http.Server{
		Handler:           s.buildRouter(),
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	s.logger.Info("API server starting", "address", ln.Addr().String())
	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// Addr returns the bound listener address, or "" before Start.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Hub returns the event hub.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Close gracefully shuts down the API server.
//
// It waits up to 10 seconds for in-flight requests to complete,
// then forcefully closes remaining connections.
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}

	if s.cancel != nil {
		s.cancel()
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}
