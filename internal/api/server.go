package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/voltlink/voltlink-core/internal/audit"
	"github.com/voltlink/voltlink-core/internal/core"
	"github.com/voltlink/voltlink-core/internal/device"
	"github.com/voltlink/voltlink-core/internal/dispatch"
	"github.com/voltlink/voltlink-core/internal/identity"
	"github.com/voltlink/voltlink-core/internal/infrastructure/config"
	"github.com/voltlink/voltlink-core/internal/infrastructure/logging"
	"github.com/voltlink/voltlink-core/internal/migration"
	"github.com/voltlink/voltlink-core/internal/poll"
	"github.com/voltlink/voltlink-core/internal/protocol"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// DeviceService is the device-layer facade the handlers call.
// Satisfied by *core.Manager.
type DeviceService interface {
	Devices(ctx context.Context) ([]device.Record, error)
	Device(ctx context.Context, id string) (*device.Record, error)
	Status(ctx context.Context, id string) (poll.Snapshot, error)
	SetPort(ctx context.Context, id string, port int, on bool) (dispatch.Result, error)
	Identify(ctx context.Context, id string) (protocol.HardwareIDs, error)
	Rename(ctx context.Context, id, name string, portNames []string) (*device.Record, error)
	Forget(ctx context.Context, id string) error
	Scan(ctx context.Context) ([]identity.Resolution, error)
	Probe(ctx context.Context, ip string) (identity.Resolution, error)
	RunMigration(ctx context.Context) (*migration.Report, error)
	AddStatusListener(listener core.StatusListener)
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config  config.APIConfig
	WS      config.WebSocketConfig
	Logger  *logging.Logger
	Service DeviceService
	Audit   audit.Repository // optional; audit endpoints return 404 when nil
	Version string
}

// Server is the HTTP API server for VoltLink Core.
//
// It manages the HTTP listener, routes, middleware, and WebSocket hub.
// The server is created with New() and started with Start().
type Server struct {
	cfg       config.APIConfig
	wsCfg     config.WebSocketConfig
	logger    *logging.Logger
	service   DeviceService
	audit     audit.Repository
	version   string
	startTime time.Time
	server    *http.Server
	hub       *Hub
	cancel    context.CancelFunc // cancels background goroutines on Close()
}

// New creates a new API server with the given dependencies.
//
// The server is not started until Start() is called.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Service == nil {
		return nil, fmt.Errorf("device service is required")
	}

	return &Server{
		cfg:     deps.Config,
		wsCfg:   deps.WS,
		logger:  deps.Logger,
		service: deps.Service,
		audit:   deps.Audit,
		version: deps.Version,
	}, nil
}

// Start begins listening for HTTP connections.
//
// It sets up the router, starts the WebSocket hub, registers a status
// listener on the device service for real-time WebSocket broadcast, and
// launches the HTTP listener in a background goroutine. The server can be
// stopped with Close().
func (s *Server) Start(ctx context.Context) error {
	// Internal context so Close() can stop background goroutines
	// independently of the parent context.
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)

	s.startTime = time.Now()

	s.hub = NewHub(s.wsCfg, s.logger)
	go s.hub.Run(srvCtx)

	// Fan successful polls out to WebSocket clients.
	s.service.AddStatusListener(s.broadcastStatus)

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
		var err error
		if s.cfg.TLS.Enabled {
			s.logger.Info("API server starting with TLS",
				"address", s.server.Addr,
				"cert", s.cfg.TLS.CertFile,
			)
			err = s.server.ListenAndServeTLS(s.cfg.TLS.CertFile, s.cfg.TLS.KeyFile)
		} else {
			s.logger.Info("API server starting", "address", s.server.Addr)
			err = s.server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

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

	// Cancel background goroutines (hub)
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
