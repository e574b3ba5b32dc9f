package container

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/garyjia/hr-orchestrator/internal/application/dispatcher"
	"github.com/garyjia/hr-orchestrator/internal/config"
	"github.com/garyjia/hr-orchestrator/internal/infrastructure/worker"
	httpapi "github.com/garyjia/hr-orchestrator/internal/interfaces/http"
	"github.com/garyjia/hr-orchestrator/internal/observability"
)

const (
	serviceName       = "hr-orchestrator"
	directoryCacheTTL = 10 * time.Minute
)

// Version is stamped at build time
var Version = "dev"

// Container manages all application dependencies and lifecycle.
// Components start in dependency order and close in reverse.
type Container struct {
	config *config.Config
	logger *zap.Logger

	shutdownTracing func(context.Context) error
	metrics         *observability.Metrics
	registry        *prometheus.Registry

	store     *StoreBundle
	repos     *RepositoryBundle
	notifiers *NotifierBundle

	dispatcher dispatcher.Dispatcher
	engines    *EngineBundle
	services   *ServiceBundle

	scheduler *worker.Scheduler
	server    *httpapi.Server
	workers   *worker.WorkerManager

	mu     sync.Mutex
	ready  atomic.Bool
	closed atomic.Bool
}

// HealthStatus represents the health of all components.
type HealthStatus struct {
	Overall    bool                       `json:"overall"`
	Components map[string]ComponentHealth `json:"components"`
}

// ComponentHealth represents health of a single component.
type ComponentHealth struct {
	Healthy bool   `json:"healthy"`
	Message string `json:"message,omitempty"`
}

// NewContainer creates a new container from configuration.
// It does not initialize components - call Start() to initialize.
func NewContainer(cfg *config.Config, logger *zap.Logger) (*Container, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &Container{config: cfg, logger: logger}, nil
}

// Start initializes all components and begins processing:
// 1. Tracing and metrics
// 2. Record store and repositories
// 3. Notifiers
// 4. Dispatcher and engines, then dead-letter recovery
// 5. Application services
// 6. Workers (resume poller, scheduler, HTTP server)
func (c *Container) Start(ctx context.Context) (err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed.Load() {
		return fmt.Errorf("container has been closed")
	}
	if c.ready.Load() {
		return fmt.Errorf("container already started")
	}
	defer func() {
		if err != nil {
			c.teardown()
		}
	}()

	c.logger.Info("Starting container initialization")

	c.shutdownTracing, err = observability.InitTracing(ctx, c.config.Tracing, serviceName, Version)
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}
	c.metrics, c.registry = ProvideMetrics(c.config.Metrics)

	if c.store, err = ProvideStore(c.config.Database, c.logger); err != nil {
		return fmt.Errorf("failed to initialize record store: %w", err)
	}
	if c.repos, err = ProvideRepositories(c.store.Store, c.logger); err != nil {
		return fmt.Errorf("failed to initialize repositories: %w", err)
	}
	c.logger.Info("Record store initialized")

	c.notifiers = ProvideNotifiers(c.config.Lark, c.logger)

	c.dispatcher = ProvideDispatcher(c.logger)
	c.engines, err = ProvideEngines(&EngineDeps{
		Config:     c.config,
		Repos:      c.repos,
		Notifiers:  c.notifiers,
		Dispatcher: c.dispatcher,
		Metrics:    c.metrics,
		Logger:     c.logger,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize engines: %w", err)
	}

	recovered, err := c.engines.Queue.Recover(ctx)
	if err != nil {
		return fmt.Errorf("failed to recover dead letters: %w", err)
	}
	c.logger.Info("Engines initialized",
		zap.Int("dead_letters_requeued", recovered.Requeued),
		zap.Int("dead_letters_pending", recovered.Pending))

	c.services = ProvideServices(c.repos, c.engines, c.dispatcher, c.logger)

	if c.scheduler, err = ProvideScheduler(c.config, c.engines, c.logger); err != nil {
		return fmt.Errorf("failed to initialize scheduler: %w", err)
	}
	c.server = ProvideHTTPServer(c.config, c.services, c.engines, c.metrics, c.registry, c.logger)

	c.workers = worker.NewWorkerManager(c.logger)
	c.workers.Register(c.engines.Coordinator)
	c.workers.Register(c.scheduler)
	c.workers.Register(c.server)
	if err := c.workers.StartAll(ctx); err != nil {
		return fmt.Errorf("failed to start workers: %w", err)
	}

	c.ready.Store(true)
	c.logger.Info("Container started successfully")
	return nil
}

// Close gracefully shuts down all components in reverse order.
func (c *Container) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed.Load() {
		return fmt.Errorf("container already closed")
	}
	c.logger.Info("Closing container")

	err := c.teardown()
	c.closed.Store(true)
	c.ready.Store(false)

	if err != nil {
		c.logger.Error("Container closed with errors", zap.Error(err))
		return err
	}
	c.logger.Info("Container closed successfully")
	return nil
}

func (c *Container) teardown() error {
	var errs []error

	if c.workers != nil {
		if err := c.workers.StopAll(); err != nil {
			errs = append(errs, fmt.Errorf("stop workers: %w", err))
		}
		c.workers = nil
	}

	if c.dispatcher != nil {
		if err := c.dispatcher.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close dispatcher: %w", err))
		}
		c.dispatcher = nil
	}

	if c.store != nil && c.store.DB != nil {
		if err := c.store.DB.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close database: %w", err))
		}
		c.store = nil
	}

	if c.shutdownTracing != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := c.shutdownTracing(ctx); err != nil {
			errs = append(errs, fmt.Errorf("shutdown tracing: %w", err))
		}
		cancel()
		c.shutdownTracing = nil
	}

	return errors.Join(errs...)
}

// Ready returns true when all components are initialized.
func (c *Container) Ready() bool {
	return c.ready.Load()
}

// Health returns health status of all components.
func (c *Container) Health(ctx context.Context) *HealthStatus {
	status := &HealthStatus{Overall: true, Components: make(map[string]ComponentHealth)}
	set := func(name string, healthy bool, msg string) {
		status.Components[name] = ComponentHealth{Healthy: healthy, Message: msg}
		if !healthy {
			status.Overall = false
		}
	}

	switch {
	case c.store == nil:
		set("store", false, "not initialized")
	case c.store.DB == nil:
		set("store", true, "in memory")
	default:
		if err := c.store.DB.PingContext(ctx); err != nil {
			set("store", false, fmt.Sprintf("ping failed: %v", err))
		} else {
			set("store", true, "")
		}
	}

	if c.workers == nil {
		set("workers", false, "not initialized")
	} else {
		set("workers", c.workers.IsRunning(), fmt.Sprintf("worker count: %d", c.workers.GetWorkerCount()))
	}

	if c.engines == nil {
		set("resume", false, "not initialized")
	} else if at, err := c.engines.Coordinator.LastSweep(); err != nil {
		set("resume", false, fmt.Sprintf("last sweep at %s failed: %v", at.Format(time.RFC3339), err))
	} else {
		set("resume", true, "")
	}

	return status
}

// Engines returns the orchestration engines.
func (c *Container) Engines() *EngineBundle {
	return c.engines
}

// Services returns all application services.
func (c *Container) Services() *ServiceBundle {
	return c.services
}

// Repositories returns all repositories.
func (c *Container) Repositories() *RepositoryBundle {
	return c.repos
}

// Dispatcher returns the event dispatcher.
func (c *Container) Dispatcher() dispatcher.Dispatcher {
	return c.dispatcher
}

// Scheduler returns the maintenance scheduler.
func (c *Container) Scheduler() *worker.Scheduler {
	return c.scheduler
}

// HTTPServer returns the admin API server.
func (c *Container) HTTPServer() *httpapi.Server {
	return c.server
}

// Logger returns the container's logger.
func (c *Container) Logger() *zap.Logger {
	return c.logger
}

// zapLoggerAdapter adapts zap.Logger to the key-value Logger interfaces of
// the services, the dispatcher and the HTTP layer.
type zapLoggerAdapter struct {
	logger *zap.Logger
}

func (a *zapLoggerAdapter) Info(msg string, keysAndValues ...interface{}) {
	a.logger.Info(msg, convertToZapFields(keysAndValues...)...)
}

func (a *zapLoggerAdapter) Error(msg string, keysAndValues ...interface{}) {
	a.logger.Error(msg, convertToZapFields(keysAndValues...)...)
}

// convertToZapFields converts key-value pairs to zap fields.
func convertToZapFields(keysAndValues ...interface{}) []zap.Field {
	fields := make([]zap.Field, 0, len(keysAndValues)/2)
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		key, ok := keysAndValues[i].(string)
		if !ok {
			continue
		}
		fields = append(fields, zap.Any(key, keysAndValues[i+1]))
	}
	return fields
}
