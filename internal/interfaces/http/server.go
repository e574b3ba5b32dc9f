// Package http is the admin API over the orchestration services.
// Handlers only translate requests into application calls.
package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/garyjia/hr-orchestrator/internal/observability"
)

// Logger interface for logging operations
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host         string
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	// MetricsPath mounts the Prometheus handler; empty disables it
	MetricsPath string
}

// DefaultServerConfig returns default server configuration
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Host:         "0.0.0.0",
		Port:         8080,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		MetricsPath:  "/metrics",
	}
}

// Server is the HTTP server adapter
type Server struct {
	config     ServerConfig
	httpServer *http.Server
	router     *gin.Engine
	logger     Logger
}

// NewServer wires the routes. metrics and gatherer may be nil.
func NewServer(config ServerConfig, services Services, metrics *observability.Metrics, gatherer prometheus.Gatherer, logger Logger) *Server {
	gin.SetMode(gin.ReleaseMode)

	s := &Server{
		config: config,
		router: gin.New(),
		logger: logger,
	}

	s.router.Use(gin.Recovery(), s.loggingMiddleware(), metrics.GinMiddleware())
	s.setupRoutes(NewHandlers(services, logger), gatherer)
	return s
}

func (s *Server) loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		s.logger.Info("HTTP request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"latency", time.Since(start).String(),
			"client_ip", c.ClientIP(),
		)
	}
}

func (s *Server) setupRoutes(h *Handlers, gatherer prometheus.Gatherer) {
	s.router.GET("/health", h.HealthCheck)
	if gatherer != nil && s.config.MetricsPath != "" {
		s.router.GET(s.config.MetricsPath, observability.Handler(gatherer))
	}

	api := s.router.Group("/api")
	{
		api.POST("/processes", h.InitiateProcess)
		api.GET("/processes/:id", h.GetProcess)
		api.PUT("/processes/:id/status", h.UpdateProcessStatus)
		api.GET("/processes/:id/critical-path", h.CriticalPath)

		api.POST("/workflows/resume-stuck", h.ResumeStuck)
		api.GET("/workflows/:id", h.GetWorkflow)
		api.GET("/workflows/:id/wait-status", h.WaitStatus)
		api.POST("/workflows/:id/steps/:stepId/complete", h.CompleteStep)
		api.POST("/workflows/:id/pause", h.PauseWorkflow)
		api.POST("/workflows/:id/resume", h.ResumeWorkflow)
		api.POST("/workflows/:id/cancel", h.CancelWorkflow)

		api.POST("/tasks/:id/complete", h.CompleteTask)
		api.POST("/tasks/:id/skip", h.SkipTask)
		api.PUT("/tasks/:id/dependency", h.SetDependency)
		api.DELETE("/tasks/:id/dependency", h.RemoveDependency)

		api.POST("/approvals/:id/decision", h.SubmitDecision)
		api.POST("/approvals/:id/delegate", h.DelegateApproval)
		api.POST("/approvals/:id/escalate", h.EscalateApproval)
		api.GET("/approval-chains/:id", h.GetChain)
		api.POST("/delegations", h.AddDelegationRule)

		api.GET("/dead-letters", h.ListDeadLetters)
		api.POST("/dead-letters/:id/retry", h.RetryDeadLetter)
		api.POST("/dead-letters/:id/resolve", h.ResolveDeadLetter)
		api.POST("/dead-letters/:id/abandon", h.AbandonDeadLetter)
	}
}

// Name returns the worker name
func (s *Server) Name() string {
	return "HTTPServer"
}

// Start begins serving in the background. Bind errors surface through the log.
func (s *Server) Start(_ context.Context) error {
	addr := s.Address()
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
	}

	s.logger.Info("Starting HTTP server", "address", addr)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("HTTP server error", "error", err)
		}
	}()
	return nil
}

// Stop gracefully stops the HTTP server
func (s *Server) Stop() error {
	if s.httpServer == nil {
		return nil
	}

	s.logger.Info("Stopping HTTP server")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.logger.Error("HTTP server shutdown error", "error", err)
		return err
	}
	s.logger.Info("HTTP server stopped")
	return nil
}

// Router returns the underlying gin router (for testing)
func (s *Server) Router() *gin.Engine {
	return s.router
}

// Address returns the server address
func (s *Server) Address() string {
	return fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
}
