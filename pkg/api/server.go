// Package api serves the fetcher's operational endpoints: aggregated chain
// health, per-chain provider state and Prometheus metrics.
package api

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	apimiddleware "github.com/0xmhha/chainfetch/pkg/api/middleware"
	"github.com/0xmhha/chainfetch/pkg/multichain"
	"github.com/0xmhha/chainfetch/pkg/queue"
	"github.com/0xmhha/chainfetch/pkg/resilience"
	"github.com/0xmhha/chainfetch/pkg/types"
)

// Config holds the listener settings
type Config struct {
	Host            string
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
}

// DefaultConfig returns the default listener settings
func DefaultConfig() *Config {
	return &Config{
		Host:            "localhost",
		Port:            9090,
		ReadTimeout:     15 * time.Second,
		WriteTimeout:    15 * time.Second,
		IdleTimeout:     60 * time.Second,
		ShutdownTimeout: 30 * time.Second,
	}
}

// Validate checks the listener settings
func (c *Config) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", c.Port)
	}
	if c.ShutdownTimeout <= 0 {
		return fmt.Errorf("shutdown timeout must be positive")
	}
	return nil
}

// Address returns host:port
func (c *Config) Address() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// StatusSource is the fetcher state the endpoints expose.
// *multichain.Fetcher implements it.
type StatusSource interface {
	HealthCheck(ctx context.Context) map[string]*multichain.HealthStatus
	ListChains() []*multichain.ChainInfo
	ProviderHealth(chainID string) ([]types.ProviderHealth, error)
	ErrorStats(chainID string) (resilience.ErrorStats, error)
	Tier() queue.Tier
}

var _ StatusSource = (*multichain.Fetcher)(nil)

// Server represents the status server
type Server struct {
	config    *Config
	logger    *zap.Logger
	source    StatusSource
	gatherer  prometheus.Gatherer
	router    *chi.Mux
	server    *http.Server
	startedAt time.Time
}

// NewServer creates the status server. A nil gatherer serves the default
// Prometheus registry.
func NewServer(config *Config, source StatusSource, gatherer prometheus.Gatherer, logger *zap.Logger) (*Server, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if source == nil {
		return nil, fmt.Errorf("status source is required")
	}
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Server{
		config:    config,
		logger:    logger.Named("api"),
		source:    source,
		gatherer:  gatherer,
		router:    chi.NewRouter(),
		startedAt: time.Now(),
	}

	s.setupMiddleware()
	s.setupRoutes()

	s.server = &http.Server{
		Addr:         config.Address(),
		Handler:      s.router,
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
		IdleTimeout:  config.IdleTimeout,
	}

	return s, nil
}

// setupMiddleware configures the middleware stack
func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(apimiddleware.Recovery(s.logger))
	s.router.Use(apimiddleware.RequestLogger(s.logger))
}

// setupRoutes configures the routes
func (s *Server) setupRoutes() {
	s.router.Get("/health", s.handleHealth)
	s.router.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	s.router.Get("/chains", s.handleChains)
	s.router.Get("/chains/{chain}/providers", s.handleProviders)
}

// Start serves until Stop. It returns nil after a graceful stop.
func (s *Server) Start() error {
	s.logger.Info("starting status server", zap.String("address", s.config.Address()))

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server failed: %w", err)
	}

	return nil
}

// Stop gracefully stops the server
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("stopping status server")

	shutdownCtx, cancel := context.WithTimeout(ctx, s.config.ShutdownTimeout)
	defer cancel()

	if err := s.server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	return nil
}

// Router returns the underlying chi router (for testing)
func (s *Server) Router() *chi.Mux {
	return s.router
}
