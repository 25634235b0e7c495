package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/nerrad567/hwreg/internal/audit"
	"github.com/nerrad567/hwreg/internal/device"
	"github.com/nerrad567/hwreg/internal/discovery"
	"github.com/nerrad567/hwreg/internal/infrastructure/config"
	"github.com/nerrad567/hwreg/internal/infrastructure/logging"
)

// gracefulShutdownTimeout bounds how long Close waits for in-flight requests.
const gracefulShutdownTimeout = 10 * time.Second

// HealthChecker is implemented by the database, MQTT and InfluxDB clients.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config   config.APIConfig
	WS       config.WebSocketConfig
	Logger   *logging.Logger
	Registry *device.Registry

	// Audit serves GET /audit. Optional.
	Audit audit.Repository

	// Checks are reported by /health under their map key. Optional.
	Checks  map[string]HealthChecker
	Version string
}

// Server is the HTTP API server.
type Server struct {
	cfg      config.APIConfig
	wsCfg    config.WebSocketConfig
	logger   *logging.Logger
	registry *device.Registry
	audit    audit.Repository
	checks   map[string]HealthChecker
	version  string
	server   *http.Server
	hub      *Hub
	cancel   context.CancelFunc

	scanMu   sync.RWMutex
	lastScan *scanReport
}

type scanReport struct {
	discovery.Stats
	ElapsedMS   int64  `json:"elapsed_ms"`
	CompletedAt string `json:"completed_at"`
}

// New creates a server and subscribes its WebSocket hub to registry events.
// Nothing listens until Start.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Registry == nil {
		return nil, fmt.Errorf("device registry is required")
	}

	s := &Server{
		cfg:      deps.Config,
		wsCfg:    deps.WS,
		logger:   deps.Logger,
		registry: deps.Registry,
		audit:    deps.Audit,
		checks:   deps.Checks,
		version:  deps.Version,
		hub:      NewHub(deps.WS, deps.Logger),
	}
	s.registry.Subscribe(s.relayEvent)
	return s, nil
}

// relayEvent forwards registry events to WebSocket subscribers.
func (s *Server) relayEvent(e device.Event) {
	switch e.Type {
	case device.EventAdded:
		s.hub.Broadcast(ChannelDeviceAdded, e.Device)
	case device.EventRemoved:
		s.hub.Broadcast(ChannelDeviceRemoved, e.Device)
	case device.EventPropertyChanged:
		s.hub.Broadcast(ChannelDeviceChanged, map[string]any{"key": e.Key, "device": e.Device})
	}
}

// RecordScan implements discovery.StatsSink. It keeps the report for
// GET /scan and relays it on the scan.completed channel.
func (s *Server) RecordScan(_ context.Context, stats discovery.Stats, elapsed time.Duration) error {
	report := &scanReport{
		Stats:       stats,
		ElapsedMS:   elapsed.Milliseconds(),
		CompletedAt: time.Now().UTC().Format(time.RFC3339),
	}

	s.scanMu.Lock()
	s.lastScan = report
	s.scanMu.Unlock()

	s.hub.Broadcast(ChannelScanCompleted, report)
	return nil
}

func (s *Server) lastScanReport() *scanReport {
	s.scanMu.RLock()
	defer s.scanMu.RUnlock()
	return s.lastScan
}

// Start runs the hub and begins listening in the background.
func (s *Server) Start(ctx context.Context) error {
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)
	go s.hub.Run(srvCtx)

	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           s.buildRouter(),
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	go func() {
		s.logger.Info("API server starting", "address", s.server.Addr)
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// Close shuts the server down, waiting up to 10 seconds for in-flight
// requests.
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
