package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/hgarg/doorlock-core/internal/accesslog"
	"github.com/hgarg/doorlock-core/internal/backend"
	"github.com/hgarg/doorlock-core/internal/enroll"
	"github.com/hgarg/doorlock-core/internal/face"
	"github.com/hgarg/doorlock-core/internal/hardware/lock"
	"github.com/hgarg/doorlock-core/internal/infrastructure/config"
	"github.com/hgarg/doorlock-core/internal/infrastructure/influxdb"
	"github.com/hgarg/doorlock-core/internal/infrastructure/logging"
	"github.com/hgarg/doorlock-core/internal/infrastructure/mqtt"
	"github.com/hgarg/doorlock-core/internal/session"
	"github.com/hgarg/doorlock-core/internal/users"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// Deps holds the dependencies required by the API server.
//
// Runner and Logger are required. MQTT, Influx, Backend, Enrol, Users,
// and FaceStore are optional; endpoints that need a missing dependency
// answer 503.
type Deps struct {
	Config     config.APIConfig
	Logger     *logging.Logger
	Runner     *session.Runner
	Enrol      *enroll.Manager
	AccessLogs accesslog.Repository
	Users      *users.Cache
	FaceStore  *face.Store
	Lock       lock.Actuator
	MQTT       *mqtt.Client
	Influx     *influxdb.Client
	Backend    *backend.Client
	Version    string
	DemoMode   bool
}

// Server is the HTTP API server for the door controller.
//
// It manages the HTTP listener, routes, middleware, and WebSocket hub.
// The server is created with New() and started with Start().
type Server struct {
	cfg        config.APIConfig
	wsCfg      config.WebSocketConfig
	logger     *logging.Logger
	runner     *session.Runner
	enrol      *enroll.Manager
	accessLogs accesslog.Repository
	users      *users.Cache
	faceStore  *face.Store
	lock       lock.Actuator
	mqtt       *mqtt.Client
	influx     *influxdb.Client
	backend    *backend.Client
	version    string
	demoMode   bool
	server     *http.Server
	hub        *Hub
	cancel     context.CancelFunc // cancels background goroutines on Close()
}

// New creates a new API server with the given dependencies.
//
// The server is not started until Start() is called.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Runner == nil {
		return nil, fmt.Errorf("session runner is required")
	}

	return &Server{
		cfg:        deps.Config,
		wsCfg:      deps.Config.WebSocket,
		logger:     deps.Logger,
		runner:     deps.Runner,
		enrol:      deps.Enrol,
		accessLogs: deps.AccessLogs,
		users:      deps.Users,
		faceStore:  deps.FaceStore,
		lock:       deps.Lock,
		mqtt:       deps.MQTT,
		influx:     deps.Influx,
		backend:    deps.Backend,
		version:    deps.Version,
		demoMode:   deps.DemoMode,
	}, nil
}

// Start begins listening for HTTP connections.
//
// It starts the WebSocket hub and launches the HTTP listener in a
// background goroutine. The server can be stopped with Close().
func (s *Server) Start(ctx context.Context) error {
	// Internal context so Close() can stop background goroutines
	// independently of the parent context.
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)

	s.hub = NewHub(s.wsCfg, s.logger)
	go s.hub.Run(srvCtx)

	router := s.buildRouter()

	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           router,
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	go func() {
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	s.logger.Info("API server listening", "address", s.server.Addr)
	return nil
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

// OnSessionState broadcasts a session snapshot to subscribed WebSocket
// clients. Wire this to the session runner's OnState callback.
func (s *Server) OnSessionState(snap session.Snapshot) {
	if s.hub == nil {
		return
	}
	s.hub.Broadcast(ChannelSession, snap)
}

// OnLockState broadcasts a lock state change to subscribed WebSocket
// clients. Wire this to the lock's state callback.
func (s *Server) OnLockState(state lock.State) {
	if s.hub == nil {
		return
	}
	s.hub.Broadcast(ChannelLock, map[string]string{"state": string(state)})
}

// OnEnrolmentState broadcasts an enrolment snapshot to subscribed
// WebSocket clients.
func (s *Server) OnEnrolmentState(snap enroll.Snapshot) {
	if s.hub == nil {
		return
	}
	s.hub.Broadcast(ChannelEnrolment, snap)
}

// HealthCheck verifies the API server is running and responsive.
func (s *Server) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("api health check: %w", ctx.Err())
	default:
	}

	if s.server == nil {
		return fmt.Errorf("api server not started")
	}

	return nil
}
