package api

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/nerrad567/gray-logic-ingest/internal/device"
	"github.com/nerrad567/gray-logic-ingest/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-ingest/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-ingest/internal/ingest"
	"github.com/nerrad567/gray-logic-ingest/internal/sensor"
	"github.com/nerrad567/gray-logic-ingest/internal/webhook"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// DeviceReader is the server's view of the device registry.
type DeviceReader interface {
	GetDevice(ctx context.Context, id string) (*device.Device, error)
	ListDevices() []device.Device
	Stats() device.Stats
}

// SensorReader lists a device's sensors.
type SensorReader interface {
	ListByDevice(ctx context.Context, deviceID string) ([]sensor.Sensor, error)
}

// ConnectionPool is the server's view of the ingest pool.
type ConnectionPool interface {
	Snapshot() []ingest.ConnectionInfo
	RequestResync()
}

// WebhookHandler processes webhook deliveries. Implemented by *webhook.Bridge.
type WebhookHandler interface {
	Handle(ctx context.Context, deviceID, token string, body []byte) (int, webhook.Response)
}

// DBStatter reports connection pool statistics. Implemented by *sql.DB.
type DBStatter interface {
	Stats() sql.DBStats
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config  config.APIConfig
	WS      config.WebSocketConfig
	Metrics config.MetricsConfig
	Logger  *logging.Logger
	Devices DeviceReader
	Sensors SensorReader
	Pool    ConnectionPool

	// Webhook enables webhook ingress when set.
	Webhook WebhookHandler

	// Gatherer backs the Prometheus endpoint when metrics are enabled.
	Gatherer prometheus.Gatherer

	DB DBStatter

	// Hub, if set, is used instead of a server-owned hub. The caller runs it.
	Hub *Hub

	Version string
}

// Server is the HTTP API server.
//
// It manages the HTTP listener, routes, middleware, and WebSocket hub.
// The server is created with New() and started with Start().
type Server struct {
	cfg         config.APIConfig
	wsCfg       config.WebSocketConfig
	metricsCfg  config.MetricsConfig
	logger      *logging.Logger
	devices     DeviceReader
	sensors     SensorReader
	pool        ConnectionPool
	webhook     WebhookHandler
	gatherer    prometheus.Gatherer
	db          DBStatter
	version     string
	startTime   time.Time
	server      *http.Server
	hub         *Hub
	externalHub bool
	cancel      context.CancelFunc
}

// New creates a new API server with the given dependencies.
//
// The server is not started until Start() is called.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Devices == nil {
		return nil, fmt.Errorf("device registry is required")
	}
	if deps.Sensors == nil {
		return nil, fmt.Errorf("sensor repository is required")
	}
	if deps.Pool == nil {
		return nil, fmt.Errorf("connection pool is required")
	}

	s := &Server{
		cfg:        deps.Config,
		wsCfg:      deps.WS,
		metricsCfg: deps.Metrics,
		logger:     deps.Logger,
		devices:    deps.Devices,
		sensors:    deps.Sensors,
		pool:       deps.Pool,
		webhook:    deps.Webhook,
		gatherer:   deps.Gatherer,
		db:         deps.DB,
		version:    deps.Version,
		startTime:  time.Now(),
	}

	if deps.Hub != nil {
		s.hub = deps.Hub
		s.externalHub = true
	} else {
		s.hub = NewHub(deps.WS, deps.Logger)
	}

	return s, nil
}

// Hub returns the WebSocket hub the server broadcasts through.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Handler returns the server's routed handler.
func (s *Server) Handler() http.Handler {
	return s.buildRouter()
}

// Start begins listening for HTTP connections in a background goroutine.
// The server can be stopped with Close().
func (s *Server) Start(ctx context.Context) error {
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)

	if !s.externalHub {
		go s.hub.Run(srvCtx)
	}

	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           s.buildRouter(),
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	go func() {
		s.logger.Info("API server starting", "address", s.server.Addr, "webhook", s.webhook != nil)
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
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

// HealthCheck verifies the API server is running.
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
