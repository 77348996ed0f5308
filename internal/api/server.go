package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/nerrad567/gray-logic-pool/internal/bridges/pool"
	"github.com/nerrad567/gray-logic-pool/internal/history"
	"github.com/nerrad567/gray-logic-pool/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-pool/internal/poolcontroller"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// Logger is the structured logger used by the server.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// Controller exposes the cached entities. Satisfied by *poolcontroller.Session.
type Controller interface {
	Entities() []poolcontroller.Entity
	Entity(number int) (poolcontroller.Entity, bool)
	Address() string
}

// Bridge is the MQTT bridge. Satisfied by *pool.Bridge.
type Bridge interface {
	Health() pool.HealthMessage
	PublishState(ctx context.Context, number int, source string)
	Poll(ctx context.Context) (int, error)
}

// HistoryReader reads recorded state changes. Satisfied by
// *history.SQLiteRepository.
type HistoryReader interface {
	GetHistory(ctx context.Context, circuit int, limit int) ([]history.Entry, error)
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config     config.APIConfig
	Logger     Logger
	Controller Controller

	// Optional. A nil Bridge skips MQTT publication of API changes and
	// reports health from the controller alone; a nil History answers 503
	// on history routes; a nil Metrics answers 404 on /metrics.
	Bridge  Bridge
	History HistoryReader
	Metrics http.Handler

	Version string
}

// Server is the HTTP API server.
//
// Thread Safety: All methods are safe for concurrent use from multiple goroutines.
type Server struct {
	cfg        config.APIConfig
	logger     Logger
	controller Controller
	bridge     Bridge
	history    HistoryReader
	metrics    http.Handler
	version    string

	mu       sync.Mutex
	server   *http.Server
	listener net.Listener
}

// New creates a new API server with the given dependencies.
// The server is not started until Start() is called.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Controller == nil {
		return nil, fmt.Errorf("controller is required")
	}

	return &Server{
		cfg:        deps.Config,
		logger:     deps.Logger,
		controller: deps.Controller,
		bridge:     deps.Bridge,
		history:    deps.History,
		metrics:    deps.Metrics,
		version:    deps.Version,
	}, nil
}

// Start binds the listener and serves in a background goroutine.
// Binding happens synchronously so a port in use is reported here.
func (s *Server) Start(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.server != nil {
		return fmt.Errorf("api server already started")
	}

	addr := net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", addr, err)
	}

	s.listener = ln
	s.server = &http.Server{
		Handler:           s.buildRouter(),
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	srv := s.server
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	s.logger.Info("API server started", "address", ln.Addr().String())
	return nil
}

// Addr returns the bound listener address, or "" before Start.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Close gracefully shuts down the API server, waiting up to 10 seconds for
// in-flight requests.
func (s *Server) Close() error {
	s.mu.Lock()
	srv := s.server
	s.mu.Unlock()

	if srv == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}

// HealthCheck verifies the API server is running.
func (s *Server) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("api health check: %w", ctx.Err())
	default:
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.server == nil {
		return fmt.Errorf("api server not started")
	}
	return nil
}
