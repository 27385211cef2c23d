// Package api exposes the triage pipeline over HTTP: intake submission, task
// routing and the peer-review verdict endpoints.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/triage-review-server/internal/domain"
	"github.com/triage-review-server/internal/middleware"
	"github.com/triage-review-server/internal/service"
)

const version = "1.0.0"

// HealthChecker is implemented by every backing store the server depends on.
type HealthChecker interface {
	Health(ctx context.Context) error
}

// Dependencies are the services the HTTP layer delegates to.
type Dependencies struct {
	Intake     *service.IntakeService
	Router     *service.TaskRouter
	Engine     *service.VerdictEngine
	Clinicians domain.ClinicianStore
	Directory  *service.ClinicianDirectory
	// Notifications is mounted on /ws when set.
	Notifications http.Handler
	Health        map[string]HealthChecker
}

// Server represents the HTTP server
type Server struct {
	config *domain.Config
	deps   Dependencies
	logger *logrus.Logger
	router *gin.Engine
	server *http.Server
}

// NewServer creates a new HTTP server instance
func NewServer(cfg *domain.Config, deps Dependencies, logger *logrus.Logger) (*Server, error) {
	if deps.Intake == nil || deps.Router == nil || deps.Engine == nil {
		return nil, errors.New("intake, router and verdict engine are required")
	}

	// Set Gin mode based on environment
	if cfg.Logging.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.SecurityHeaders())
	router.Use(corsMiddleware())
	router.Use(middleware.CorrelationID())
	router.Use(middleware.AuditLogger())
	if cfg.Server.RequestTimeout > 0 {
		router.Use(middleware.RequestTimeout(cfg.Server.RequestTimeout))
	}
	if cfg.RateLimit.Enabled {
		limiter, err := middleware.NewRateLimiter(cfg.RateLimit)
		if err != nil {
			return nil, fmt.Errorf("failed to create rate limiter: %w", err)
		}
		router.Use(limiter.Middleware())
	}

	server := &Server{
		config: cfg,
		deps:   deps,
		logger: logger,
		router: router,
	}
	server.setupRoutes()

	return server, nil
}

// Handler returns the configured router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	cfg := s.config.Server
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)

	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.WithField("addr", addr).Info("HTTP server listening")
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("failed to start server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	s.logger.Info("Shutting down HTTP server")
	return s.server.Shutdown(shutdownCtx)
}

// setupRoutes configures the API routes
func (s *Server) setupRoutes() {
	s.router.GET("/health", s.handleHealth)
	if s.deps.Notifications != nil {
		s.router.GET("/ws", gin.WrapH(s.deps.Notifications))
	}

	v1 := s.router.Group("/api/v1")
	{
		v1.POST("/intake", s.handleIntake)
		v1.POST("/intake/:slug", s.handleIntake)

		v1.POST("/clinicians", s.handleSaveClinician)
		v1.GET("/clinicians/:id/tasks", s.handleListTasks)

		v1.POST("/tasks", s.handleRouteTask)
		v1.GET("/tasks/:id", s.handleGetTask)
		v1.POST("/tasks/:id/complete", s.handleCompleteTask)

		v1.POST("/reviews", s.handleOpenReview)
		v1.GET("/reviews/:id", s.handleGetReview)
		v1.PUT("/reviews/:id/vote", s.handleCastVote)
		v1.POST("/reviews/:id/submit", s.handleSubmitVerdict)
		v1.GET("/reviews/:id/audit", s.handleAuditTrail)
	}
}

// handleHealth reports overall health plus one entry per backing store
func (s *Server) handleHealth(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	status := "healthy"
	code := http.StatusOK
	checks := make(map[string]string, len(s.deps.Health))
	for name, checker := range s.deps.Health {
		if err := checker.Health(ctx); err != nil {
			checks[name] = err.Error()
			status = "unhealthy"
			code = http.StatusServiceUnavailable
			continue
		}
		checks[name] = "ok"
	}

	c.JSON(code, gin.H{
		"status":    status,
		"checks":    checks,
		"timestamp": time.Now().UTC(),
		"version":   version,
	})
}

// corsMiddleware adds CORS headers to responses
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Content-Length, Accept-Encoding, Authorization, "+middleware.CorrelationHeader)
		c.Header("Access-Control-Expose-Headers", "Content-Length, Retry-After, "+middleware.CorrelationHeader)

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
