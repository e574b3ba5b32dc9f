package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Lark       LarkConfig       `mapstructure:"lark"`
	Logger     LoggerConfig     `mapstructure:"logger"`
	Workflow   WorkflowConfig   `mapstructure:"workflow"`
	Resume     ResumeConfig     `mapstructure:"resume"`
	Approval   ApprovalConfig   `mapstructure:"approval"`
	Retry      RetryConfig      `mapstructure:"retry"`
	Dependency DependencyConfig `mapstructure:"dependency"`
	Tracing    TracingConfig    `mapstructure:"tracing"`
	Metrics    MetricsConfig    `mapstructure:"metrics"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path            string        `mapstructure:"path"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	MigrationsDir   string        `mapstructure:"migrations_dir"`
}

// LarkConfig holds Lark API configuration.
// With Enabled false notifications are logged only.
type LarkConfig struct {
	Enabled    bool          `mapstructure:"enabled"`
	AppID      string        `mapstructure:"app_id"`
	AppSecret  string        `mapstructure:"app_secret"`
	BaseURL    string        `mapstructure:"base_url"`
	APITimeout time.Duration `mapstructure:"api_timeout"`
	// UserIDType is the id type recipients and approvers are stored as (open_id, user_id, union_id)
	UserIDType string `mapstructure:"user_id_type"`
	// LinkBaseURL prefixes relative links in notification cards
	LinkBaseURL string `mapstructure:"link_base_url"`
}

// LoggerConfig holds logger configuration
type LoggerConfig struct {
	Level      string `mapstructure:"level"`
	OutputPath string `mapstructure:"output_path"`
	Format     string `mapstructure:"format"`
}

// WorkflowConfig holds workflow engine settings
type WorkflowConfig struct {
	MaxStepsPerRun        int           `mapstructure:"max_steps_per_run"`
	DefinitionCacheExpiry time.Duration `mapstructure:"definition_cache_expiry"`
}

// ResumeConfig holds resume coordinator settings
type ResumeConfig struct {
	PollInterval         time.Duration `mapstructure:"poll_interval"`
	BatchSize            int           `mapstructure:"batch_size"`
	MaxConcurrentResumes int           `mapstructure:"max_concurrent_resumes"`
	AutoContinue         bool          `mapstructure:"auto_continue"`
}

// ApprovalConfig holds approval chain settings
type ApprovalConfig struct {
	DefaultDueDays          int    `mapstructure:"default_due_days"`
	EscalationSchedule      string `mapstructure:"escalation_schedule"`
	ExpirySchedule          string `mapstructure:"expiry_schedule"`
	MaxAgeDays              int    `mapstructure:"max_age_days"`
	MaxEscalationLevel      int    `mapstructure:"max_escalation_level"`
	StrictManagerEscalation bool   `mapstructure:"strict_manager_escalation"`
}

// RetryConfig holds retry and dead-letter settings
type RetryConfig struct {
	MaxAttempts     int           `mapstructure:"max_attempts"`
	InitialInterval time.Duration `mapstructure:"initial_interval"`
	MaxInterval     time.Duration `mapstructure:"max_interval"`
	Multiplier      float64       `mapstructure:"multiplier"`
	AbandonAfter    int           `mapstructure:"abandon_after"`
	ReplaySchedule  string        `mapstructure:"replay_schedule"`
	ReplayBatchSize int           `mapstructure:"replay_batch_size"`
}

// DependencyConfig holds task dependency settings
type DependencyConfig struct {
	SkipUnblocksDependents bool `mapstructure:"skip_unblocks_dependents"`
	MaxTraversal           int  `mapstructure:"max_traversal"`
}

// TracingConfig holds OpenTelemetry settings
type TracingConfig struct {
	Enabled      bool    `mapstructure:"enabled"`
	OutputPath   string  `mapstructure:"output_path"`
	SamplingRate float64 `mapstructure:"sampling_rate"`
}

// MetricsConfig holds Prometheus settings
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// Load loads configuration from file and environment variables.
// An empty configPath loads defaults and environment only.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix("HR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	bindEnvVars(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)

	v.SetDefault("database.path", "data/hr.db")
	v.SetDefault("database.max_open_conns", 1)
	v.SetDefault("database.max_idle_conns", 1)
	v.SetDefault("database.conn_max_lifetime", 0)
	v.SetDefault("database.migrations_dir", "migrations")

	v.SetDefault("lark.enabled", false)
	v.SetDefault("lark.api_timeout", 30*time.Second)
	v.SetDefault("lark.user_id_type", "open_id")

	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.output_path", "stdout")
	v.SetDefault("logger.format", "json")

	v.SetDefault("workflow.max_steps_per_run", 100)
	v.SetDefault("workflow.definition_cache_expiry", 5*time.Minute)

	v.SetDefault("resume.poll_interval", 30*time.Second)
	v.SetDefault("resume.batch_size", 50)
	v.SetDefault("resume.max_concurrent_resumes", 4)
	v.SetDefault("resume.auto_continue", true)

	v.SetDefault("approval.default_due_days", 3)
	v.SetDefault("approval.escalation_schedule", "@every 15m")
	v.SetDefault("approval.expiry_schedule", "@daily")
	v.SetDefault("approval.max_age_days", 30)
	v.SetDefault("approval.max_escalation_level", 3)
	v.SetDefault("approval.strict_manager_escalation", false)

	v.SetDefault("retry.max_attempts", 3)
	v.SetDefault("retry.initial_interval", 200*time.Millisecond)
	v.SetDefault("retry.max_interval", 5*time.Second)
	v.SetDefault("retry.multiplier", 2.0)
	v.SetDefault("retry.abandon_after", 5)
	v.SetDefault("retry.replay_schedule", "@every 5m")
	v.SetDefault("retry.replay_batch_size", 20)

	v.SetDefault("dependency.skip_unblocks_dependents", true)
	v.SetDefault("dependency.max_traversal", 10000)

	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.sampling_rate", 1.0)

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")
}

// bindEnvVars binds credentials to their conventional names
func bindEnvVars(v *viper.Viper) {
	_ = v.BindEnv("lark.app_id", "LARK_APP_ID")
	_ = v.BindEnv("lark.app_secret", "LARK_APP_SECRET")
	_ = v.BindEnv("database.path", "HR_DATABASE_PATH", "DATABASE_PATH")
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 0 and 65535")
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}

	if c.Lark.Enabled {
		if c.Lark.AppID == "" {
			return fmt.Errorf("lark.app_id is required")
		}
		if c.Lark.AppSecret == "" {
			return fmt.Errorf("lark.app_secret is required")
		}
	}

	if c.Workflow.MaxStepsPerRun <= 0 {
		return fmt.Errorf("workflow.max_steps_per_run must be positive")
	}
	if c.Resume.PollInterval <= 0 {
		return fmt.Errorf("resume.poll_interval must be positive")
	}
	if c.Resume.MaxConcurrentResumes <= 0 {
		return fmt.Errorf("resume.max_concurrent_resumes must be positive")
	}
	if c.Retry.MaxAttempts <= 0 {
		return fmt.Errorf("retry.max_attempts must be positive")
	}
	if c.Retry.Multiplier < 1 {
		return fmt.Errorf("retry.multiplier must be at least 1")
	}
	if c.Approval.MaxEscalationLevel < 0 {
		return fmt.Errorf("approval.max_escalation_level must not be negative")
	}
	if c.Tracing.SamplingRate < 0 || c.Tracing.SamplingRate > 1 {
		return fmt.Errorf("tracing.sampling_rate must be between 0 and 1")
	}
	return nil
}

// Addr returns the listen address
func (c ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
