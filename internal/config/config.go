// Package config provides configuration management for the screening workflow service.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// SSL mode constants for database connections.
const (
	// SSLModeDisable disables SSL (use only for local development).
	SSLModeDisable = "disable"
	// SSLModeRequire requires SSL but does not verify certificates.
	SSLModeRequire = "require"
	// SSLModeVerifyCA verifies the server certificate against a CA.
	SSLModeVerifyCA = "verify-ca"
	// SSLModeVerifyFull verifies the server certificate and hostname.
	SSLModeVerifyFull = "verify-full"
)

// Backend names accepted by the matcher and classifier sections.
const (
	BackendBuiltin = "builtin"
	BackendRemote  = "remote"
)

// Config holds all configuration for the screening workflow service.
type Config struct {
	// Server contains HTTP/gRPC server settings.
	Server ServerConfig `mapstructure:"server"`
	// Database contains PostgreSQL connection settings.
	Database DatabaseConfig `mapstructure:"database"`
	// Temporal contains Temporal settings for background jobs.
	Temporal TemporalConfig `mapstructure:"temporal"`
	// Logging contains structured logging settings.
	Logging LoggingConfig `mapstructure:"logging"`
	// Metrics contains Prometheus metrics exposure settings.
	Metrics MetricsConfig `mapstructure:"metrics"`
	// Kafka contains the event publisher and import listener settings.
	Kafka KafkaConfig `mapstructure:"kafka"`
	// Outbox contains outbox relay settings.
	Outbox OutboxConfig `mapstructure:"outbox"`
	// Qdrant contains the vector index settings used for dedupe blocking.
	Qdrant QdrantConfig `mapstructure:"qdrant"`
	// Matcher selects and configures the similarity clustering backend.
	Matcher MatcherConfig `mapstructure:"matcher"`
	// Classifier selects and configures the relevance classifier backend.
	Classifier ClassifierConfig `mapstructure:"classifier"`
	// Pipeline contains locking, threshold and ranking settings.
	Pipeline PipelineConfig `mapstructure:"pipeline"`
	// Maintenance contains the schedule for repair jobs.
	Maintenance MaintenanceConfig `mapstructure:"maintenance"`
}

// ServerConfig holds server configuration.
type ServerConfig struct {
	// Host is the address to bind the server to (default: 0.0.0.0).
	Host string `mapstructure:"host"`
	// HTTPPort is the HTTP server port (default: 8080).
	HTTPPort int `mapstructure:"http_port"`
	// GRPCPort is the gRPC health server port (default: 9090).
	GRPCPort int `mapstructure:"grpc_port"`
	// MetricsPort is the metrics server port (default: 9091).
	MetricsPort int `mapstructure:"metrics_port"`
	// ReadTimeout is the maximum duration for reading request body.
	ReadTimeout time.Duration `mapstructure:"read_timeout"`
	// WriteTimeout is the maximum duration for writing response.
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	// ShutdownTimeout is the maximum duration to wait for graceful shutdown.
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// DatabaseConfig holds database connection configuration.
type DatabaseConfig struct {
	// Host is the PostgreSQL server hostname.
	Host string `mapstructure:"host"`
	// Port is the PostgreSQL server port (default: 5432).
	Port int `mapstructure:"port"`
	// User is the database username.
	User string `mapstructure:"user"`
	// Password is the database password. Loaded from SCREENING_DATABASE_PASSWORD only.
	Password string `mapstructure:"-"`
	// Name is the database name.
	Name string `mapstructure:"name"`
	// SSLMode controls SSL connection security (require, verify-ca, verify-full, disable).
	SSLMode string `mapstructure:"ssl_mode"`
	// MaxConns is the maximum number of connections in the pool (default: 40).
	MaxConns int32 `mapstructure:"max_conns"`
	// MinConns is the minimum number of connections to keep open (default: 5).
	MinConns int32 `mapstructure:"min_conns"`
	// MaxConnLifetime is the maximum lifetime of a connection before it's closed.
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	// MaxConnIdleTime is the maximum time a connection can be idle before it's closed.
	MaxConnIdleTime time.Duration `mapstructure:"max_conn_idle_time"`
	// HealthCheckPeriod is the interval between health checks of idle connections.
	HealthCheckPeriod time.Duration `mapstructure:"health_check_period"`
	// ConnectTimeout is the maximum time to wait for a connection.
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
	// MigrationPath is the path to migration files (relative or absolute).
	MigrationPath string `mapstructure:"migration_path"`
	// MigrationAutoRun enables automatic migration on startup (default: false).
	MigrationAutoRun bool `mapstructure:"migration_auto_run"`
}

// TemporalConfig holds Temporal configuration.
type TemporalConfig struct {
	// HostPort is the Temporal server address.
	HostPort string `mapstructure:"host_port"`
	// Namespace is the Temporal namespace.
	Namespace string `mapstructure:"namespace"`
	// TaskQueue is the task queue that dedupe, keyterm and training jobs run on.
	TaskQueue string `mapstructure:"task_queue"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	// Level is the log level (trace, debug, info, warn, error, fatal, panic).
	Level string `mapstructure:"level"`
	// Format is the log format (json, console).
	Format string `mapstructure:"format"`
	// Output is the log output destination (stdout, stderr, file path).
	Output string `mapstructure:"output"`
	// AddSource adds source file and line to log output.
	AddSource bool `mapstructure:"add_source"`
	// TimeFormat is the timestamp format.
	TimeFormat string `mapstructure:"time_format"`
}

// MetricsConfig holds metrics configuration.
type MetricsConfig struct {
	// Enabled enables metrics collection and exposure.
	Enabled bool `mapstructure:"enabled"`
	// Path is the HTTP path for metrics endpoint.
	Path string `mapstructure:"path"`
	// Namespace prefixes every metric name.
	Namespace string `mapstructure:"namespace"`
}

// KafkaConfig holds Kafka settings.
type KafkaConfig struct {
	// Enabled controls whether the publisher and the import listener run.
	Enabled bool `mapstructure:"enabled"`
	// Brokers is the list of Kafka broker addresses.
	Brokers []string `mapstructure:"brokers"`
	// EventsTopic receives status-change and dedupe events relayed from the outbox.
	EventsTopic string `mapstructure:"events_topic"`
	// ImportTopic carries records-imported notifications.
	ImportTopic string `mapstructure:"import_topic"`
	// GroupID is the consumer group of the import listener.
	GroupID string `mapstructure:"group_id"`
	// BatchSize is the maximum number of messages to batch before sending.
	BatchSize int `mapstructure:"batch_size"`
	// BatchTimeout is the maximum time to wait for a batch to fill before sending.
	BatchTimeout time.Duration `mapstructure:"batch_timeout"`
}

// OutboxConfig holds outbox relay settings.
type OutboxConfig struct {
	// PollInterval is how often the relay polls for due events.
	PollInterval time.Duration `mapstructure:"poll_interval"`
	// BatchSize is the number of events claimed per poll.
	BatchSize int `mapstructure:"batch_size"`
	// MaxAttempts is the number of delivery attempts before an event is abandoned.
	MaxAttempts int `mapstructure:"max_attempts"`
}

// QdrantConfig holds Qdrant vector index settings.
type QdrantConfig struct {
	// Enabled switches dedupe candidate blocking from the in-memory index to Qdrant.
	Enabled bool `mapstructure:"enabled"`
	// Host is the Qdrant gRPC host.
	Host string `mapstructure:"host"`
	// Port is the Qdrant gRPC port.
	Port int `mapstructure:"port"`
	// APIKey is the optional Qdrant API key. Loaded from SCREENING_QDRANT_API_KEY only.
	APIKey string `mapstructure:"-"`
	// UseTLS enables TLS for the Qdrant connection.
	UseTLS bool `mapstructure:"use_tls"`
	// CollectionPrefix prefixes the per-review collection names.
	CollectionPrefix string `mapstructure:"collection_prefix"`
}

// MatcherConfig selects the similarity clustering backend.
type MatcherConfig struct {
	// Backend is "builtin" or "remote".
	Backend string `mapstructure:"backend"`
	// Threshold is the minimum pair similarity for two records to share a cluster.
	Threshold float64 `mapstructure:"threshold"`
	// CandidatesPerRecord is the number of nearest neighbours compared per record.
	CandidatesPerRecord int `mapstructure:"candidates_per_record"`
	// Remote configures the HTTP matcher when Backend is "remote".
	Remote RemoteServiceConfig `mapstructure:"remote"`
}

// ClassifierConfig selects the relevance classifier backend.
type ClassifierConfig struct {
	// Backend is "builtin" or "remote".
	Backend string `mapstructure:"backend"`
	// FeatureDim is the size of the hashed feature vectors.
	FeatureDim int `mapstructure:"feature_dim"`
	// Epochs is the number of training passes of the builtin classifier.
	Epochs int `mapstructure:"epochs"`
	// LearningRate is the step size of the builtin classifier.
	LearningRate float64 `mapstructure:"learning_rate"`
	// Remote configures the HTTP classifier when Backend is "remote".
	Remote RemoteServiceConfig `mapstructure:"remote"`
}

// RemoteServiceConfig configures a rate-limited HTTP collaborator.
type RemoteServiceConfig struct {
	// BaseURL is the service root.
	BaseURL string `mapstructure:"base_url"`
	// APIKey is sent in the X-API-Key header. Loaded from the environment only.
	APIKey string `mapstructure:"-"`
	// Timeout is the per-request timeout.
	Timeout time.Duration `mapstructure:"timeout"`
	// RateLimit is the sustained requests per second.
	RateLimit float64 `mapstructure:"rate_limit"`
	// MaxRetries is the number of retries on 429 and 5xx responses.
	MaxRetries int `mapstructure:"max_retries"`
}

// PipelineConfig holds the coordinator and ranker settings.
type PipelineConfig struct {
	// LockAcquireTimeout bounds how long a job waits for its review lock.
	LockAcquireTimeout time.Duration `mapstructure:"lock_acquire_timeout"`
	// LockHoldTimeout bounds how long a job may hold its review lock.
	LockHoldTimeout time.Duration `mapstructure:"lock_hold_timeout"`
	// KeytermThreshold is the included and excluded citation count that schedules keyterm suggestion.
	KeytermThreshold int `mapstructure:"keyterm_threshold"`
	// TrainingThreshold is the included and excluded citation count that schedules classifier training.
	TrainingThreshold int `mapstructure:"training_threshold"`
	// SuggestionSampleSize caps how many screened records of each label feed keyterm suggestion.
	SuggestionSampleSize int `mapstructure:"suggestion_sample_size"`
	// SuggestedTermsPerPolarity is the number of inclusion and of exclusion terms kept.
	SuggestedTermsPerPolarity int `mapstructure:"suggested_terms_per_polarity"`
	// DefaultPerPage is the ranked queue page size when none is requested.
	DefaultPerPage int `mapstructure:"default_per_page"`
	// MaxPerPage caps the ranked queue page size.
	MaxPerPage int `mapstructure:"max_per_page"`
}

// MaintenanceConfig holds the repair job schedule.
type MaintenanceConfig struct {
	// Enabled turns on the scheduled counter reconciliation.
	Enabled bool `mapstructure:"enabled"`
	// ReconcileSchedule is a cron expression (default: nightly at 03:00).
	ReconcileSchedule string `mapstructure:"reconcile_schedule"`
}

// DSN returns the PostgreSQL connection string.
func (c *DatabaseConfig) DSN() string {
	params := url.Values{}
	params.Set("sslmode", c.SSLMode)
	if c.ConnectTimeout > 0 {
		params.Set("connect_timeout", fmt.Sprintf("%d", int(c.ConnectTimeout.Seconds())))
	}

	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?%s",
		url.QueryEscape(c.User),
		url.QueryEscape(c.Password),
		c.Host,
		c.Port,
		c.Name,
		params.Encode(),
	)
}

// HTTPAddress returns the HTTP server address.
func (c *ServerConfig) HTTPAddress() string {
	return fmt.Sprintf("%s:%d", c.Host, c.HTTPPort)
}

// GRPCAddress returns the gRPC server address.
func (c *ServerConfig) GRPCAddress() string {
	return fmt.Sprintf("%s:%d", c.Host, c.GRPCPort)
}

// Load loads configuration from environment variables and config files.
func Load() (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetEnvPrefix("SCREENING")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/screening-service")

	if err := v.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if !errors.As(err, &configNotFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	loadSecrets(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// loadSecrets populates secret fields exclusively from environment variables.
// These fields are tagged with mapstructure:"-" so config files cannot set them.
func loadSecrets(cfg *Config) {
	cfg.Database.Password = os.Getenv("SCREENING_DATABASE_PASSWORD")
	cfg.Qdrant.APIKey = os.Getenv("SCREENING_QDRANT_API_KEY")
	cfg.Matcher.Remote.APIKey = os.Getenv("SCREENING_MATCHER_REMOTE_API_KEY")
	cfg.Classifier.Remote.APIKey = os.Getenv("SCREENING_CLASSIFIER_REMOTE_API_KEY")
}

// setDefaults sets default configuration values.
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.http_port", 8080)
	v.SetDefault("server.grpc_port", 9090)
	v.SetDefault("server.metrics_port", 9091)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.shutdown_timeout", "30s")

	// Database defaults
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "screening")
	v.SetDefault("database.name", "screening_workflow")
	// Use SCREENING_DATABASE_SSL_MODE=disable for local development.
	v.SetDefault("database.ssl_mode", SSLModeRequire)
	v.SetDefault("database.max_conns", 40)
	v.SetDefault("database.min_conns", 5)
	v.SetDefault("database.max_conn_lifetime", "1h")
	v.SetDefault("database.max_conn_idle_time", "30m")
	v.SetDefault("database.health_check_period", "30s")
	v.SetDefault("database.connect_timeout", "10s")
	v.SetDefault("database.migration_path", "migrations")
	v.SetDefault("database.migration_auto_run", false)

	// Temporal defaults
	v.SetDefault("temporal.host_port", "localhost:7233")
	v.SetDefault("temporal.namespace", "screening")
	v.SetDefault("temporal.task_queue", "screening-jobs")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")
	v.SetDefault("logging.add_source", false)
	v.SetDefault("logging.time_format", time.RFC3339)

	// Metrics defaults
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")
	v.SetDefault("metrics.namespace", "screening")

	// Kafka defaults
	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.events_topic", "events.screening_workflow")
	v.SetDefault("kafka.import_topic", "events.citation_import")
	v.SetDefault("kafka.group_id", "screening-workflow-service")
	v.SetDefault("kafka.batch_size", 100)
	v.SetDefault("kafka.batch_timeout", "10ms")

	// Outbox relay defaults
	v.SetDefault("outbox.poll_interval", "1s")
	v.SetDefault("outbox.batch_size", 50)
	v.SetDefault("outbox.max_attempts", 5)

	// Qdrant defaults
	v.SetDefault("qdrant.enabled", false)
	v.SetDefault("qdrant.host", "localhost")
	v.SetDefault("qdrant.port", 6334)
	v.SetDefault("qdrant.use_tls", false)
	v.SetDefault("qdrant.collection_prefix", "dedupe_review_")

	// Matcher defaults
	v.SetDefault("matcher.backend", BackendBuiltin)
	v.SetDefault("matcher.threshold", 0.85)
	v.SetDefault("matcher.candidates_per_record", 10)
	v.SetDefault("matcher.remote.base_url", "")
	v.SetDefault("matcher.remote.timeout", "120s")
	v.SetDefault("matcher.remote.rate_limit", 2.0)
	v.SetDefault("matcher.remote.max_retries", 2)

	// Classifier defaults
	v.SetDefault("classifier.backend", BackendBuiltin)
	v.SetDefault("classifier.feature_dim", 1024)
	v.SetDefault("classifier.epochs", 20)
	v.SetDefault("classifier.learning_rate", 0.1)
	v.SetDefault("classifier.remote.base_url", "")
	v.SetDefault("classifier.remote.timeout", "60s")
	v.SetDefault("classifier.remote.rate_limit", 5.0)
	v.SetDefault("classifier.remote.max_retries", 2)

	// Pipeline defaults
	v.SetDefault("pipeline.lock_acquire_timeout", "30s")
	v.SetDefault("pipeline.lock_hold_timeout", "15m")
	v.SetDefault("pipeline.keyterm_threshold", 25)
	v.SetDefault("pipeline.training_threshold", 100)
	v.SetDefault("pipeline.suggestion_sample_size", 500)
	v.SetDefault("pipeline.suggested_terms_per_polarity", 25)
	v.SetDefault("pipeline.default_per_page", 25)
	v.SetDefault("pipeline.max_per_page", 200)

	// Maintenance defaults
	v.SetDefault("maintenance.enabled", true)
	v.SetDefault("maintenance.reconcile_schedule", "0 3 * * *")
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Server.HTTPPort <= 0 || c.Server.HTTPPort > 65535 {
		return fmt.Errorf("invalid HTTP port: %d", c.Server.HTTPPort)
	}
	if c.Server.GRPCPort <= 0 || c.Server.GRPCPort > 65535 {
		return fmt.Errorf("invalid gRPC port: %d", c.Server.GRPCPort)
	}
	if c.Server.MetricsPort <= 0 || c.Server.MetricsPort > 65535 {
		return fmt.Errorf("invalid metrics port: %d", c.Server.MetricsPort)
	}

	if c.Database.Host == "" {
		return fmt.Errorf("database host is required")
	}
	if c.Database.Port <= 0 || c.Database.Port > 65535 {
		return fmt.Errorf("invalid database port: %d", c.Database.Port)
	}
	if c.Database.Name == "" {
		return fmt.Errorf("database name is required")
	}
	if c.Database.MaxConns < c.Database.MinConns {
		return fmt.Errorf("max_conns (%d) must be >= min_conns (%d)", c.Database.MaxConns, c.Database.MinConns)
	}

	validLogLevels := map[string]bool{
		"trace": true, "debug": true, "info": true,
		"warn": true, "error": true, "fatal": true, "panic": true,
	}
	if !validLogLevels[strings.ToLower(c.Logging.Level)] {
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	}

	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka brokers are required when kafka is enabled")
	}
	if c.Qdrant.Enabled && c.Qdrant.Host == "" {
		return fmt.Errorf("qdrant host is required when qdrant is enabled")
	}

	if err := validateBackend("matcher", c.Matcher.Backend, c.Matcher.Remote); err != nil {
		return err
	}
	if err := validateBackend("classifier", c.Classifier.Backend, c.Classifier.Remote); err != nil {
		return err
	}
	if c.Matcher.Threshold <= 0 || c.Matcher.Threshold > 1 {
		return fmt.Errorf("matcher threshold must be in (0, 1]: %v", c.Matcher.Threshold)
	}
	if c.Classifier.FeatureDim <= 0 {
		return fmt.Errorf("classifier feature_dim must be positive")
	}

	if c.Pipeline.LockAcquireTimeout <= 0 {
		return fmt.Errorf("pipeline lock_acquire_timeout must be positive")
	}
	if c.Pipeline.LockHoldTimeout <= 0 {
		return fmt.Errorf("pipeline lock_hold_timeout must be positive")
	}
	if c.Pipeline.KeytermThreshold < 1 || c.Pipeline.TrainingThreshold < 1 {
		return fmt.Errorf("pipeline thresholds must be at least 1")
	}
	if c.Pipeline.DefaultPerPage <= 0 || c.Pipeline.MaxPerPage < c.Pipeline.DefaultPerPage {
		return fmt.Errorf("pipeline page sizes are invalid: default=%d max=%d", c.Pipeline.DefaultPerPage, c.Pipeline.MaxPerPage)
	}

	if c.Maintenance.Enabled && c.Maintenance.ReconcileSchedule == "" {
		return fmt.Errorf("maintenance reconcile_schedule is required when maintenance is enabled")
	}

	return nil
}

func validateBackend(name, backend string, remote RemoteServiceConfig) error {
	switch strings.ToLower(backend) {
	case BackendBuiltin:
		return nil
	case BackendRemote:
		if remote.BaseURL == "" {
			return fmt.Errorf("%s backend %q requires remote.base_url", name, backend)
		}
		return nil
	default:
		return fmt.Errorf("unknown %s backend: %q", name, backend)
	}
}
