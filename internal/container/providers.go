// Package container wires the orchestrator together with ordered
// initialization and reverse-order teardown.
package container

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/garyjia/hr-orchestrator/internal/application/approval"
	"github.com/garyjia/hr-orchestrator/internal/application/dependency"
	"github.com/garyjia/hr-orchestrator/internal/application/dispatcher"
	"github.com/garyjia/hr-orchestrator/internal/application/port"
	"github.com/garyjia/hr-orchestrator/internal/application/resume"
	"github.com/garyjia/hr-orchestrator/internal/application/retry"
	"github.com/garyjia/hr-orchestrator/internal/application/service"
	"github.com/garyjia/hr-orchestrator/internal/application/statussync"
	"github.com/garyjia/hr-orchestrator/internal/application/workflow"
	"github.com/garyjia/hr-orchestrator/internal/config"
	"github.com/garyjia/hr-orchestrator/internal/infrastructure/external/lark"
	"github.com/garyjia/hr-orchestrator/internal/infrastructure/persistence/memory"
	"github.com/garyjia/hr-orchestrator/internal/infrastructure/persistence/repository"
	"github.com/garyjia/hr-orchestrator/internal/infrastructure/persistence/sqlite"
	"github.com/garyjia/hr-orchestrator/internal/infrastructure/worker"
	httpapi "github.com/garyjia/hr-orchestrator/internal/interfaces/http"
	"github.com/garyjia/hr-orchestrator/internal/observability"
	"github.com/garyjia/hr-orchestrator/pkg/database"
)

// InMemoryPath selects the in-process record store instead of SQLite
const InMemoryPath = ":memory:"

// StoreBundle holds the record store and the connection behind it, if any
type StoreBundle struct {
	Store port.RecordStore
	DB    *database.DB
}

// RepositoryBundle groups all repositories for convenient access.
type RepositoryBundle struct {
	Processes   port.ProcessRepository
	Tasks       port.TaskRepository
	Definitions port.DefinitionRepository
	Instances   port.InstanceRepository
	StepStatus  port.StepStatusRepository
	History     port.HistoryRepository
	Chains      port.ChainRepository
	Requests    port.RequestRepository
	Delegations port.DelegationRepository
	DeadLetters port.DeadLetterRepository
}

// NotifierBundle holds the outbound messaging adapters
type NotifierBundle struct {
	Notifier  port.Notifier
	Directory port.Directory
}

// EngineBundle groups the orchestration engines
type EngineBundle struct {
	Queue       *retry.Queue
	Dependency  *dependency.Engine
	Approval    *approval.Engine
	Workflow    workflow.WorkflowEngine
	Bridge      *statussync.Bridge
	Coordinator *resume.Coordinator
}

// ServiceBundle groups all application services.
type ServiceBundle struct {
	Processes service.ProcessService
	Tasks     service.TaskService
}

// ProvideStore opens the record store. SQLite databases are migrated before use.
func ProvideStore(cfg config.DatabaseConfig, logger *zap.Logger) (*StoreBundle, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if cfg.Path == InMemoryPath {
		logger.Warn("Using in-memory record store, data is lost on exit")
		return &StoreBundle{Store: memory.NewStore()}, nil
	}

	db, err := database.New(database.Config{
		Path:            cfg.Path,
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
	}, logger)
	if err != nil {
		return nil, err
	}

	if cfg.MigrationsDir != "" {
		if err := database.NewMigrator(db, logger).RunMigrations(cfg.MigrationsDir); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to run migrations: %w", err)
		}
	}

	return &StoreBundle{Store: sqlite.NewRecordStore(db.DB, logger), DB: db}, nil
}

// ProvideRepositories builds every repository over one record store
func ProvideRepositories(store port.RecordStore, logger *zap.Logger) (*RepositoryBundle, error) {
	if store == nil {
		return nil, fmt.Errorf("record store is required")
	}
	return &RepositoryBundle{
		Processes:   repository.NewProcessRepository(store, logger),
		Tasks:       repository.NewTaskRepository(store, logger),
		Definitions: repository.NewDefinitionRepository(store, logger),
		Instances:   repository.NewInstanceRepository(store, logger),
		StepStatus:  repository.NewStepStatusRepository(store, logger),
		History:     repository.NewHistoryRepository(store, logger),
		Chains:      repository.NewChainRepository(store, logger),
		Requests:    repository.NewRequestRepository(store, logger),
		Delegations: repository.NewDelegationRepository(store, logger),
		DeadLetters: repository.NewDeadLetterRepository(store, logger),
	}, nil
}

// ProvideNotifiers returns Lark adapters when enabled and log-only ones otherwise
func ProvideNotifiers(cfg config.LarkConfig, logger *zap.Logger) *NotifierBundle {
	if !cfg.Enabled {
		logger.Info("Lark disabled, notifications are logged only")
		return &NotifierBundle{Notifier: lark.NewLogNotifier(logger)}
	}

	client := lark.NewSDKClient(lark.Config{
		AppID:      cfg.AppID,
		AppSecret:  cfg.AppSecret,
		BaseURL:    cfg.BaseURL,
		APITimeout: cfg.APITimeout,
		UserIDType: cfg.UserIDType,
	}, logger)

	return &NotifierBundle{
		Notifier:  lark.NewMessenger(client, cfg.LinkBaseURL, logger),
		Directory: lark.NewDirectory(client, directoryCacheTTL, logger),
	}
}

// ProvideMetrics registers collectors on a fresh registry, or returns nils when disabled
func ProvideMetrics(cfg config.MetricsConfig) (*observability.Metrics, *prometheus.Registry) {
	if !cfg.Enabled {
		return nil, nil
	}
	reg := prometheus.NewRegistry()
	return observability.InitMetrics(reg), reg
}

// ProvideDispatcher creates the event dispatcher
func ProvideDispatcher(logger *zap.Logger) dispatcher.Dispatcher {
	return dispatcher.NewDispatcher(dispatcher.WithLogger(&zapLoggerAdapter{logger: logger}))
}

// EngineDeps holds what the engines are built from
type EngineDeps struct {
	Config     *config.Config
	Repos      *RepositoryBundle
	Notifiers  *NotifierBundle
	Dispatcher dispatcher.Dispatcher
	Metrics    *observability.Metrics
	Logger     *zap.Logger
}

// ProvideEngines builds the engines and subscribes the bridge and coordinator
func ProvideEngines(deps *EngineDeps) (*EngineBundle, error) {
	if deps == nil || deps.Config == nil || deps.Repos == nil || deps.Dispatcher == nil {
		return nil, fmt.Errorf("engine dependencies are incomplete")
	}
	cfg, repos, d, logger := deps.Config, deps.Repos, deps.Dispatcher, deps.Logger

	queue := retry.NewQueue(repos.DeadLetters, logger,
		retry.WithPolicy(retry.Policy{
			MaxAttempts:     cfg.Retry.MaxAttempts,
			InitialInterval: cfg.Retry.InitialInterval,
			MaxInterval:     cfg.Retry.MaxInterval,
			Multiplier:      cfg.Retry.Multiplier,
			AbandonAfter:    cfg.Retry.AbandonAfter,
		}),
		retry.WithMetrics(deps.Metrics))

	linker := dependency.NewEngine(repos.Tasks, logger,
		dependency.WithDispatcher(d),
		dependency.WithSkipUnblocksDependents(cfg.Dependency.SkipUnblocksDependents),
		dependency.WithMaxTraversal(cfg.Dependency.MaxTraversal),
		dependency.WithMetrics(deps.Metrics))

	approvalOpts := []approval.Option{
		approval.WithDispatcher(d),
		approval.WithNotifier(deps.Notifiers.Notifier),
		approval.WithDefaultDueDays(cfg.Approval.DefaultDueDays),
		approval.WithMaxEscalationLevel(cfg.Approval.MaxEscalationLevel),
		approval.WithStrictManagerEscalation(cfg.Approval.StrictManagerEscalation),
		approval.WithMetrics(deps.Metrics),
	}
	if deps.Notifiers.Directory != nil {
		approvalOpts = append(approvalOpts, approval.WithDirectory(deps.Notifiers.Directory))
	}
	approvals := approval.NewEngine(repos.Chains, repos.Requests, repos.Delegations, logger, approvalOpts...)

	workflows := workflow.NewEngine(repos.Definitions, repos.Instances, repos.StepStatus, repos.History, logger,
		workflow.WithDispatcher(d),
		workflow.WithCacheExpiry(cfg.Workflow.DefinitionCacheExpiry),
		workflow.WithMaxStepsPerRun(cfg.Workflow.MaxStepsPerRun),
		workflow.WithMetrics(deps.Metrics),
		workflow.WithTasks(repos.Tasks, linker),
		workflow.WithApprovals(approvals),
		workflow.WithNotifier(deps.Notifiers.Notifier),
	)

	bridge := statussync.NewBridge(repos.Processes, repos.Instances, workflows, queue, logger,
		statussync.WithDispatcher(d),
		statussync.WithMetrics(deps.Metrics))
	bridge.Subscribe(d)

	coordinator := resume.NewCoordinator(resume.Config{
		PollInterval:         cfg.Resume.PollInterval,
		BatchSize:            cfg.Resume.BatchSize,
		MaxConcurrentResumes: cfg.Resume.MaxConcurrentResumes,
		AutoContinue:         cfg.Resume.AutoContinue,
	}, workflows, repos.Instances, repos.Tasks, repos.Chains, logger,
		resume.WithMetrics(deps.Metrics))
	coordinator.Subscribe(d)

	return &EngineBundle{
		Queue:       queue,
		Dependency:  linker,
		Approval:    approvals,
		Workflow:    workflows,
		Bridge:      bridge,
		Coordinator: coordinator,
	}, nil
}

// ProvideServices builds the application services
func ProvideServices(repos *RepositoryBundle, engines *EngineBundle, d dispatcher.Dispatcher, logger *zap.Logger) *ServiceBundle {
	adapter := &zapLoggerAdapter{logger: logger}
	return &ServiceBundle{
		Processes: service.NewProcessService(repos.Processes, repos.Tasks, repos.Instances, engines.Dependency, engines.Workflow, d, adapter),
		Tasks:     service.NewTaskService(repos.Tasks, engines.Dependency, d, adapter),
	}
}

// ProvideScheduler registers the maintenance jobs
func ProvideScheduler(cfg *config.Config, engines *EngineBundle, logger *zap.Logger) (*worker.Scheduler, error) {
	s := worker.NewScheduler(logger)
	if err := s.AddJob(worker.JobEscalateOverdue, cfg.Approval.EscalationSchedule,
		worker.EscalationJob(engines.Approval)); err != nil {
		return nil, err
	}
	if err := s.AddJob(worker.JobExpireApprovals, cfg.Approval.ExpirySchedule,
		worker.ExpiryJob(engines.Approval, cfg.Approval.MaxAgeDays)); err != nil {
		return nil, err
	}
	if err := s.AddJob(worker.JobReplayDeadLetter, cfg.Retry.ReplaySchedule,
		worker.ReplayJob(engines.Queue, cfg.Retry.ReplayBatchSize, logger)); err != nil {
		return nil, err
	}
	return s, nil
}

// ProvideHTTPServer builds the admin API
func ProvideHTTPServer(cfg *config.Config, services *ServiceBundle, engines *EngineBundle, metrics *observability.Metrics, reg *prometheus.Registry, logger *zap.Logger) *httpapi.Server {
	var gatherer prometheus.Gatherer
	if reg != nil {
		gatherer = reg
	}
	return httpapi.NewServer(httpapi.ServerConfig{
		Host:         cfg.Server.Host,
		Port:         cfg.Server.Port,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		MetricsPath:  cfg.Metrics.Path,
	}, httpapi.Services{
		Processes:   services.Processes,
		Tasks:       services.Tasks,
		Workflows:   engines.Workflow,
		Approvals:   engines.Approval,
		Resume:      engines.Coordinator,
		DeadLetters: engines.Queue,
	}, metrics, gatherer, &zapLoggerAdapter{logger: logger})
}
