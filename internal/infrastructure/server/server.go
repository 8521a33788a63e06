package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	api "github.com/GriffinCanCode/notebook/internal/api/http"
	"github.com/GriffinCanCode/notebook/internal/api/middleware"
	"github.com/GriffinCanCode/notebook/internal/api/ws"
	"github.com/GriffinCanCode/notebook/internal/domain/notebook"
	"github.com/GriffinCanCode/notebook/internal/infrastructure/config"
	"github.com/GriffinCanCode/notebook/internal/infrastructure/logging"
	"github.com/GriffinCanCode/notebook/internal/infrastructure/monitoring"
)

// Server wraps the HTTP server and dependencies
type Server struct {
	router     *gin.Engine
	httpServer *http.Server
	components *Components
	logger     *logging.Logger
	config     *config.Config
	metrics    *monitoring.Metrics
}

// NewServer creates a new server instance
func NewServer(ctx context.Context, cfg *config.Config, logger *logging.Logger) (*Server, error) {
	if logger == nil {
		logger = logging.NewDefault()
	}

	logger.Info("Initializing notebook server",
		zap.String("port", cfg.Server.Port),
		zap.String("isolation", cfg.Sandbox.Isolation),
		zap.Duration("timeout", cfg.Sandbox.Timeout),
	)

	metrics := monitoring.NewMetrics()

	components, err := OpenNotebook(ctx, cfg, logger, metrics)
	if err != nil {
		return nil, fmt.Errorf("failed to open notebook: %w", err)
	}

	if !cfg.Logging.Development {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()

	httpLogger := logger.Component("http")
	router.Use(middleware.Recovery(httpLogger))
	router.Use(middleware.RequestID())
	router.Use(middleware.RequestLogger(httpLogger))
	router.Use(monitoring.Middleware(metrics))
	corsCfg := middleware.DefaultCORSConfig()
	corsCfg.AllowOrigins = cfg.Server.CORSOrigins
	router.Use(middleware.CORS(corsCfg))
	if cfg.RateLimit.Enabled {
		logger.Info("Rate limiting enabled",
			zap.Int("rps", cfg.RateLimit.RequestsPerSecond),
			zap.Int("burst", cfg.RateLimit.Burst),
		)
		limits := middleware.DefaultRateLimitConfig()
		limits.RequestsPerSecond = cfg.RateLimit.RequestsPerSecond
		limits.Burst = cfg.RateLimit.Burst
		router.Use(middleware.RateLimit(limits))
	}

	handlers := api.NewHandlers(components.Notebook, cfg.Notebook.Key, metrics, httpLogger)
	handlers.Register(router)

	wsHandler := ws.NewHandler(components.Notebook, metrics, logger.Component("ws"))
	router.GET("/stream", wsHandler.HandleConnection)

	router.GET("/metrics", gin.WrapH(metrics.Handler()))
	router.GET("/metrics/json", func(c *gin.Context) {
		c.JSON(http.StatusOK, metrics.Snapshot())
	})

	logger.Info("Server initialized successfully")

	return &Server{
		router: router,
		httpServer: &http.Server{
			Addr:              cfg.Server.Host + ":" + cfg.Server.Port,
			Handler:           router,
			ReadHeaderTimeout: 10 * time.Second,
		},
		components: components,
		logger:     logger,
		config:     cfg,
		metrics:    metrics,
	}, nil
}

// Handler returns the HTTP handler
func (s *Server) Handler() http.Handler { return s.router }

// Notebook returns the served notebook
func (s *Server) Notebook() *notebook.Notebook { return s.components.Notebook }

// Metrics returns the server metrics
func (s *Server) Metrics() *monitoring.Metrics { return s.metrics }

// Run starts the HTTP server and blocks until it stops. A graceful
// Shutdown makes Run return nil.
func (s *Server) Run() error {
	s.logger.Info("Starting HTTP server", zap.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests and waits for in-flight ones
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down server...")
	return s.httpServer.Shutdown(ctx)
}

// Close tears down any live run, flushes the pending save and closes storage
func (s *Server) Close(ctx context.Context) error {
	err := s.components.Close(ctx)
	if err != nil {
		s.logger.Error("Failed to close notebook", zap.Error(err))
	} else {
		s.logger.Info("Notebook closed")
	}

	// Sync logger before exit
	s.logger.Sync()
	return err
}
