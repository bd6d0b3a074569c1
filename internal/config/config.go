package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/offsync/opqueue/internal/domain"
	"github.com/offsync/opqueue/internal/retry"
	"github.com/offsync/opqueue/internal/rules"
)

const (
	// MinPort is the minimum valid port number
	MinPort = 1
	// MaxPort is the maximum valid port number
	MaxPort = 65535
)

// Processing modes for the dispatch loop
const (
	ModeImmediate = "immediate"
	ModeBatch     = "batch"
	ModeScheduled = "scheduled"
)

// Persistence backends
const (
	BackendBadger   = "badger"
	BackendPostgres = "postgres"
)

// Config represents the complete application configuration
type Config struct {
	App         AppConfig         `yaml:"app"`
	Server      ServerConfig      `yaml:"server"`
	Logging     LoggingConfig     `yaml:"logging"`
	Queue       QueueConfig       `yaml:"queue"`
	Retry       RetryConfig       `yaml:"retry"`
	Throttle    ThrottleConfig    `yaml:"throttle"`
	Scaling     ScalingConfig     `yaml:"scaling"`
	Health      HealthConfig      `yaml:"health"`
	Resources   ResourcesConfig   `yaml:"resources"`
	Alerts      AlertsConfig      `yaml:"alerts"`
	Batch       BatchConfig       `yaml:"batch"`
	Persistence PersistenceConfig `yaml:"persistence"`
	Sync        SyncConfig        `yaml:"sync"`
}

// AppConfig holds application metadata
type AppConfig struct {
	Name        string `yaml:"name"`
	Version     string `yaml:"version"`
	Environment string `yaml:"environment"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level        string `yaml:"level"`
	Format       string `yaml:"format"`
	Output       string `yaml:"output"`
	EnableCaller bool   `yaml:"enable_caller"`
}

// QueueConfig holds operation queue limits and dispatch settings
type QueueConfig struct {
	MaxQueueSize            int           `yaml:"max_queue_size"`
	MaxConcurrentOperations int           `yaml:"max_concurrent_operations"`
	Mode                    string        `yaml:"mode"`
	BatchSize               int           `yaml:"batch_size"`
	ProcessingInterval      time.Duration `yaml:"processing_interval"`
	OperationTimeout        time.Duration `yaml:"operation_timeout"`
}

// RetryConfig holds the retry policy
type RetryConfig struct {
	MaxRetries   int                  `yaml:"max_retries"`
	Strategy     string               `yaml:"strategy"`
	InitialDelay time.Duration        `yaml:"initial_delay"`
	MaxDelay     time.Duration        `yaml:"max_delay"`
	Multiplier   float64              `yaml:"multiplier"`
	Jitter       bool                 `yaml:"jitter"`
	Conditions   []RetryConditionYAML `yaml:"conditions"`
}

// RetryConditionYAML overrides the retry ceiling for one error class
type RetryConditionYAML struct {
	Class      string `yaml:"class"`
	MaxRetries int    `yaml:"max_retries"`
}

// ThrottleConfig holds dispatch rate limiting settings
type ThrottleConfig struct {
	Enabled                bool          `yaml:"enabled"`
	MaxOperationsPerSecond float64       `yaml:"max_operations_per_second"`
	BurstSize              int           `yaml:"burst_size"`
	WindowSize             time.Duration `yaml:"window_size"`
	Adaptive               bool          `yaml:"adaptive"`
	ErrorRateThreshold     float64       `yaml:"error_rate_threshold"`
}

// ScalingConfig holds worker pool auto-scaling settings
type ScalingConfig struct {
	MinWorkers         int           `yaml:"min_workers"`
	MaxWorkers         int           `yaml:"max_workers"`
	ScaleUpThreshold   float64       `yaml:"scale_up_threshold"`
	ScaleDownThreshold float64       `yaml:"scale_down_threshold"`
	ScaleUpCooldown    time.Duration `yaml:"scale_up_cooldown"`
	ScaleDownCooldown  time.Duration `yaml:"scale_down_cooldown"`
	Interval           time.Duration `yaml:"interval"`
}

// HealthConfig holds health check runner settings
type HealthConfig struct {
	Interval time.Duration          `yaml:"interval"`
	Checks   map[string]CheckConfig `yaml:"checks"`
}

// CheckConfig configures one health check
type CheckConfig struct {
	Threshold float64 `yaml:"threshold"`
	Action    string  `yaml:"action"` // none, scale, pause
}

// ResourcesConfig holds resource monitor settings
type ResourcesConfig struct {
	Interval       time.Duration          `yaml:"interval"`
	MemoryBudgetMB int                    `yaml:"memory_budget_mb"`
	Limits         map[string]LimitConfig `yaml:"limits"`
}

// LimitConfig holds warning/critical thresholds and the critical action
// for one resource
type LimitConfig struct {
	Warning  float64 `yaml:"warning"`
	Critical float64 `yaml:"critical"`
	Action   string  `yaml:"action"` // alert, throttle, pause, clear
}

// AlertsConfig holds alert engine settings
type AlertsConfig struct {
	Interval time.Duration     `yaml:"interval"`
	Console  bool              `yaml:"console"`
	Webhook  WebhookConfig     `yaml:"webhook"`
	Rules    []AlertRuleConfig `yaml:"rules"`
}

// WebhookConfig configures the webhook notification channel
type WebhookConfig struct {
	URL     string        `yaml:"url"`
	Secret  string        `yaml:"secret"`
	Timeout time.Duration `yaml:"timeout"`
}

// AlertRuleConfig is one declarative alert rule
type AlertRuleConfig struct {
	ID       string        `yaml:"id"`
	Metric   string        `yaml:"metric"`
	Op       string        `yaml:"op"`
	Value    float64       `yaml:"value"`
	Duration time.Duration `yaml:"duration"`
	Cooldown time.Duration `yaml:"cooldown"`
	Severity string        `yaml:"severity"`
	Title    string        `yaml:"title"`
	Message  string        `yaml:"message"`
}

// BatchConfig holds batch optimization strategies
type BatchConfig struct {
	Strategies []BatchStrategyConfig `yaml:"strategies"`
}

// BatchStrategyConfig is one coalescing strategy
type BatchStrategyConfig struct {
	Name     string            `yaml:"name"`
	MinCount int               `yaml:"min_count"`
	Match    []rules.Condition `yaml:"match"`
}

// PersistenceConfig selects and configures the snapshot store
type PersistenceConfig struct {
	Backend  string         `yaml:"backend"` // badger, postgres
	Badger   BadgerConfig   `yaml:"badger"`
	Postgres DatabaseConfig `yaml:"postgres"`
}

// BadgerConfig holds embedded store settings
type BadgerConfig struct {
	Path       string `yaml:"path"`
	InMemory   bool   `yaml:"in_memory"`
	SyncWrites bool   `yaml:"sync_writes"`
}

// DatabaseConfig holds PostgreSQL connection configuration
type DatabaseConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	Database        string        `yaml:"database"`
	SSLMode         string        `yaml:"sslmode"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time"`
}

// SyncConfig configures the synchronization transport
type SyncConfig struct {
	RabbitMQ RabbitMQConfig `yaml:"rabbitmq"`
}

// RabbitMQConfig holds RabbitMQ connection and exchange configuration
type RabbitMQConfig struct {
	Host       string           `yaml:"host"`
	Port       int              `yaml:"port"`
	User       string           `yaml:"user"`
	Password   string           `yaml:"password"`
	VHost      string           `yaml:"vhost"`
	Exchange   ExchangeConfig   `yaml:"exchange"`
	RoutingKey string           `yaml:"routing_key"`
	Connection ConnectionConfig `yaml:"connection"`
	Publish    PublishConfig    `yaml:"publish"`
}

// ExchangeConfig holds RabbitMQ exchange configuration
type ExchangeConfig struct {
	Name       string `yaml:"name"`
	Type       string `yaml:"type"`
	Durable    bool   `yaml:"durable"`
	AutoDelete bool   `yaml:"auto_delete"`
}

// ConnectionConfig holds RabbitMQ connection settings
type ConnectionConfig struct {
	RetryAttempts     int           `yaml:"retry_attempts"`
	RetryInterval     time.Duration `yaml:"retry_interval"`
	Heartbeat         time.Duration `yaml:"heartbeat"`
	ConnectionTimeout time.Duration `yaml:"connection_timeout"`
}

// PublishConfig holds RabbitMQ publish retry settings
type PublishConfig struct {
	RetryAttempts     int           `yaml:"retry_attempts"`
	RetryInterval     time.Duration `yaml:"retry_interval"`
	BackoffMultiplier float64       `yaml:"backoff_multiplier"`
}

// Load reads and parses the configuration file
func Load(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	config.setDefaults()

	return &config, nil
}

func (c *Config) setDefaults() {
	if c.Queue.Mode == "" {
		c.Queue.Mode = ModeImmediate
	}
	if c.Persistence.Backend == "" {
		c.Persistence.Backend = BackendBadger
	}
	if c.Alerts.Interval == 0 {
		c.Alerts.Interval = 5 * time.Second
	}
	if c.Alerts.Webhook.Timeout == 0 {
		c.Alerts.Webhook.Timeout = 10 * time.Second
	}
}

// RetryPolicy converts the retry section into an evaluator policy.
func (c *Config) RetryPolicy() retry.Policy {
	policy := retry.Policy{
		MaxRetries:   c.Retry.MaxRetries,
		Strategy:     retry.Strategy(c.Retry.Strategy),
		InitialDelay: c.Retry.InitialDelay,
		MaxDelay:     c.Retry.MaxDelay,
		Multiplier:   c.Retry.Multiplier,
		Jitter:       c.Retry.Jitter,
	}
	for _, cond := range c.Retry.Conditions {
		policy.Conditions = append(policy.Conditions, retry.Condition{
			Class:      domain.ErrorClass(cond.Class),
			MaxRetries: cond.MaxRetries,
		})
	}
	return policy
}

// Validate checks if the configuration is valid. The manager must not
// start with an invalid configuration.
func (c *Config) Validate() error {
	if c.Server.Port < MinPort || c.Server.Port > MaxPort {
		return fmt.Errorf("invalid server port: %d (must be between %d and %d)", c.Server.Port, MinPort, MaxPort)
	}

	if err := c.validateQueue(); err != nil {
		return err
	}
	if err := c.validateRetry(); err != nil {
		return err
	}
	if err := c.validateThrottle(); err != nil {
		return err
	}
	if err := c.validateScaling(); err != nil {
		return err
	}
	if err := c.validateHealth(); err != nil {
		return err
	}
	if err := c.validateResources(); err != nil {
		return err
	}
	if err := c.validateAlerts(); err != nil {
		return err
	}
	if err := c.validateBatch(); err != nil {
		return err
	}
	if err := c.validatePersistence(); err != nil {
		return err
	}
	return c.validateSync()
}

func (c *Config) validateQueue() error {
	if c.Queue.MaxQueueSize <= 0 {
		return fmt.Errorf("queue max_queue_size must be greater than 0")
	}
	if c.Queue.MaxConcurrentOperations <= 0 {
		return fmt.Errorf("queue max_concurrent_operations must be greater than 0")
	}
	if c.Queue.OperationTimeout <= 0 {
		return fmt.Errorf("queue operation_timeout must be greater than 0")
	}

	switch c.Queue.Mode {
	case ModeImmediate:
	case ModeBatch:
		if c.Queue.BatchSize <= 0 {
			return fmt.Errorf("queue batch_size must be greater than 0 in batch mode")
		}
		if c.Queue.BatchSize > c.Queue.MaxQueueSize {
			return fmt.Errorf("queue batch_size (%d) must not exceed max_queue_size (%d)", c.Queue.BatchSize, c.Queue.MaxQueueSize)
		}
		if c.Queue.ProcessingInterval <= 0 {
			return fmt.Errorf("queue processing_interval must be greater than 0 in batch mode")
		}
	case ModeScheduled:
		if c.Queue.ProcessingInterval <= 0 {
			return fmt.Errorf("queue processing_interval must be greater than 0 in scheduled mode")
		}
	default:
		return fmt.Errorf("invalid queue mode: %q", c.Queue.Mode)
	}

	return nil
}

func (c *Config) validateRetry() error {
	if c.Retry.MaxRetries < 0 {
		return fmt.Errorf("retry max_retries must not be negative")
	}
	if !retry.Strategy(c.Retry.Strategy).Valid() {
		return fmt.Errorf("invalid retry strategy: %q", c.Retry.Strategy)
	}
	if c.Retry.InitialDelay <= 0 {
		return fmt.Errorf("retry initial_delay must be greater than 0")
	}
	if c.Retry.MaxDelay > 0 && c.Retry.MaxDelay < c.Retry.InitialDelay {
		return fmt.Errorf("retry max_delay must not be below initial_delay")
	}
	if retry.Strategy(c.Retry.Strategy) == retry.StrategyExponential && c.Retry.Multiplier < 1 {
		return fmt.Errorf("retry multiplier must be at least 1 for exponential backoff")
	}
	for _, cond := range c.Retry.Conditions {
		if !validErrorClass(cond.Class) {
			return fmt.Errorf("invalid retry condition class: %q", cond.Class)
		}
		if cond.MaxRetries < 0 {
			return fmt.Errorf("retry condition %q max_retries must not be negative", cond.Class)
		}
	}
	return nil
}

func (c *Config) validateThrottle() error {
	if !c.Throttle.Enabled {
		return nil
	}
	if c.Throttle.MaxOperationsPerSecond <= 0 {
		return fmt.Errorf("throttle max_operations_per_second must be greater than 0")
	}
	if c.Throttle.BurstSize <= 0 {
		return fmt.Errorf("throttle burst_size must be greater than 0")
	}
	if c.Throttle.Adaptive && (c.Throttle.ErrorRateThreshold <= 0 || c.Throttle.ErrorRateThreshold >= 1) {
		return fmt.Errorf("throttle error_rate_threshold must be in (0, 1)")
	}
	return nil
}

func (c *Config) validateScaling() error {
	if c.Scaling.MinWorkers < 1 {
		return fmt.Errorf("scaling min_workers must be at least 1")
	}
	if c.Scaling.MaxWorkers < c.Scaling.MinWorkers {
		return fmt.Errorf("scaling max_workers (%d) must not be below min_workers (%d)", c.Scaling.MaxWorkers, c.Scaling.MinWorkers)
	}
	if c.Scaling.ScaleUpThreshold <= 0 || c.Scaling.ScaleUpThreshold > 1 {
		return fmt.Errorf("scaling scale_up_threshold must be in (0, 1]")
	}
	if c.Scaling.ScaleDownThreshold < 0 || c.Scaling.ScaleDownThreshold >= c.Scaling.ScaleUpThreshold {
		return fmt.Errorf("scaling scale_down_threshold must be in [0, scale_up_threshold)")
	}
	if c.Scaling.Interval <= 0 {
		return fmt.Errorf("scaling interval must be greater than 0")
	}
	if c.Scaling.ScaleUpCooldown < 0 || c.Scaling.ScaleDownCooldown < 0 {
		return fmt.Errorf("scaling cooldowns must not be negative")
	}
	return nil
}

func (c *Config) validateHealth() error {
	if c.Health.Interval <= 0 {
		return fmt.Errorf("health interval must be greater than 0")
	}
	for id, check := range c.Health.Checks {
		if check.Threshold <= 0 {
			return fmt.Errorf("health check %q threshold must be greater than 0", id)
		}
		switch check.Action {
		case "", "none", "scale", "pause":
		default:
			return fmt.Errorf("health check %q has invalid action: %q", id, check.Action)
		}
	}
	return nil
}

func (c *Config) validateResources() error {
	if len(c.Resources.Limits) == 0 {
		return nil
	}
	if c.Resources.Interval <= 0 {
		return fmt.Errorf("resources interval must be greater than 0")
	}
	for name, limit := range c.Resources.Limits {
		if limit.Warning <= 0 || limit.Critical <= 0 {
			return fmt.Errorf("resource %q thresholds must be greater than 0", name)
		}
		if limit.Warning >= limit.Critical {
			return fmt.Errorf("resource %q warning threshold must be below critical", name)
		}
		switch limit.Action {
		case "alert", "throttle", "pause", "clear":
		default:
			return fmt.Errorf("resource %q has invalid action: %q", name, limit.Action)
		}
	}
	return nil
}

func (c *Config) validateAlerts() error {
	seen := make(map[string]bool, len(c.Alerts.Rules))
	for _, rule := range c.Alerts.Rules {
		if rule.ID == "" {
			return fmt.Errorf("alert rule id is required")
		}
		if seen[rule.ID] {
			return fmt.Errorf("duplicate alert rule id: %q", rule.ID)
		}
		seen[rule.ID] = true
		if rule.Metric == "" {
			return fmt.Errorf("alert rule %q metric is required", rule.ID)
		}
		if !rules.Operator(rule.Op).Valid() {
			return fmt.Errorf("alert rule %q has invalid operator: %q", rule.ID, rule.Op)
		}
		if rule.Duration < 0 || rule.Cooldown < 0 {
			return fmt.Errorf("alert rule %q duration and cooldown must not be negative", rule.ID)
		}
		switch domain.Severity(rule.Severity) {
		case domain.SeverityLow, domain.SeverityMedium, domain.SeverityHigh, domain.SeverityCritical:
		default:
			return fmt.Errorf("alert rule %q has invalid severity: %q", rule.ID, rule.Severity)
		}
	}
	return nil
}

func (c *Config) validateBatch() error {
	for _, strategy := range c.Batch.Strategies {
		if strategy.Name == "" {
			return fmt.Errorf("batch strategy name is required")
		}
		if strategy.MinCount < 2 {
			return fmt.Errorf("batch strategy %q min_count must be at least 2", strategy.Name)
		}
		for _, cond := range strategy.Match {
			if !cond.Op.Valid() {
				return fmt.Errorf("batch strategy %q has invalid operator: %q", strategy.Name, cond.Op)
			}
		}
	}
	return nil
}

func (c *Config) validatePersistence() error {
	switch c.Persistence.Backend {
	case BackendBadger:
		if !c.Persistence.Badger.InMemory && c.Persistence.Badger.Path == "" {
			return fmt.Errorf("persistence badger path is required")
		}
	case BackendPostgres:
		if c.Persistence.Postgres.Host == "" {
			return fmt.Errorf("persistence postgres host is required")
		}
		if c.Persistence.Postgres.Port < MinPort || c.Persistence.Postgres.Port > MaxPort {
			return fmt.Errorf("invalid persistence postgres port: %d", c.Persistence.Postgres.Port)
		}
		if c.Persistence.Postgres.Database == "" {
			return fmt.Errorf("persistence postgres database is required")
		}
	default:
		return fmt.Errorf("invalid persistence backend: %q", c.Persistence.Backend)
	}
	return nil
}

func (c *Config) validateSync() error {
	if c.Sync.RabbitMQ.Host == "" {
		return fmt.Errorf("sync rabbitmq host is required")
	}
	if c.Sync.RabbitMQ.Port < MinPort || c.Sync.RabbitMQ.Port > MaxPort {
		return fmt.Errorf("invalid sync rabbitmq port: %d", c.Sync.RabbitMQ.Port)
	}
	if c.Sync.RabbitMQ.Exchange.Name == "" {
		return fmt.Errorf("sync rabbitmq exchange name is required")
	}
	return nil
}

func validErrorClass(class string) bool {
	switch domain.ErrorClass(class) {
	case domain.ClassNetwork, domain.ClassTimeout, domain.ClassServer,
		domain.ClassRateLimit, domain.ClassConflict, domain.ClassUnclassified:
		return true
	}
	return false
}
