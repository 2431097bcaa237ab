package config

import "time"

// Queue driver names accepted by queue.connections.<name>.driver.
const (
	DriverMemory   = "memory"
	DriverTable    = "table"
	DriverFile     = "file"
	DriverRedis    = "redis"
	DriverDocument = "document"
	DriverDiscard  = "discard"
)

// Database types accepted by databases.<name>.type.
const (
	DatabaseTypePostgres = "postgres"
	DatabaseTypeMySQL    = "mysql"
	DatabaseTypeMongoDB  = "mongodb"
)

// Scheduler lock types accepted by scheduler.lock.type.
const (
	LockTypeNone     = "none"
	LockTypeRedis    = "redis"
	LockTypePostgres = "postgres"
)

// BlobConnectionName is the data connection name file queues use to store their document in the blob bucket.
const BlobConnectionName = "blob"

// Config is the root configuration of the queue service.
type Config struct {
	Service       ServiceConfig             `mapstructure:"service" yaml:"service"`
	Queue         QueueConfig               `mapstructure:"queue" yaml:"queue"`
	Databases     map[string]DatabaseConfig `mapstructure:"databases" yaml:"databases"`
	Redis         map[string]RedisConfig    `mapstructure:"redis" yaml:"redis"`
	Blob          BlobConfig                `mapstructure:"blob" yaml:"blob"`
	Email         EmailConfig               `mapstructure:"email" yaml:"email"`
	Scheduler     SchedulerConfig           `mapstructure:"scheduler" yaml:"scheduler"`
	Observability ObservabilityConfig       `mapstructure:"observability" yaml:"observability"`
	Management    ManagementConfig          `mapstructure:"management" yaml:"management"`
}

// ServiceConfig identifies the running service.
type ServiceConfig struct {
	Name        string `mapstructure:"name" yaml:"name"`
	Environment string `mapstructure:"environment" yaml:"environment"`
}

// QueueConfig holds the named queue connections and the default one.
type QueueConfig struct {
	Default     string                           `mapstructure:"default" yaml:"default"`
	Connections map[string]QueueConnectionConfig `mapstructure:"connections" yaml:"connections"`
}

// QueueConnectionConfig configures one queue connection.
type QueueConnectionConfig struct {
	Driver string `mapstructure:"driver" yaml:"driver"`
	// Table is the table (table driver) or collection (document driver).
	Table string `mapstructure:"table" yaml:"table,omitempty"`
	// Connection names an entry of databases or redis, or "blob" for a file queue kept in the bucket.
	Connection     string        `mapstructure:"connection" yaml:"connection,omitempty"`
	Path           string        `mapstructure:"path" yaml:"path,omitempty"`
	Prefix         string        `mapstructure:"prefix" yaml:"prefix,omitempty"`
	Queue          string        `mapstructure:"queue" yaml:"queue,omitempty"`
	DeadLetter     string        `mapstructure:"deadletter" yaml:"deadletter,omitempty"`
	WorkerInterval time.Duration `mapstructure:"worker_interval" yaml:"worker_interval,omitempty"`
	DisableRowLock bool          `mapstructure:"disable_row_lock" yaml:"disable_row_lock,omitempty"`
}

// DatabaseConfig configures a named SQL or MongoDB connection.
type DatabaseConfig struct {
	Type            string        `mapstructure:"type" yaml:"type"`
	URL             string        `mapstructure:"url" yaml:"url"`
	DatabaseName    string        `mapstructure:"database_name" yaml:"database_name,omitempty"`
	MaxOpenConns    int           `mapstructure:"max_open_conns" yaml:"max_open_conns,omitempty"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns" yaml:"max_idle_conns,omitempty"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime" yaml:"conn_max_lifetime,omitempty"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time" yaml:"conn_max_idle_time,omitempty"`
	ConnectTimeout  time.Duration `mapstructure:"connect_timeout" yaml:"connect_timeout,omitempty"`
}

// RedisConfig configures a named Redis connection.
type RedisConfig struct {
	URL              string        `mapstructure:"url" yaml:"url"`
	MaxConns         int           `mapstructure:"max_conns" yaml:"max_conns,omitempty"`
	OperationTimeout time.Duration `mapstructure:"operation_timeout" yaml:"operation_timeout,omitempty"`
}

// BlobConfig configures the S3-compatible bucket file queues can live in.
type BlobConfig struct {
	Bucket           string        `mapstructure:"bucket" yaml:"bucket"`
	Region           string        `mapstructure:"region" yaml:"region"`
	Endpoint         string        `mapstructure:"endpoint" yaml:"endpoint,omitempty"`
	AccessKeyID      string        `mapstructure:"access_key_id" yaml:"access_key_id,omitempty"`
	SecretAccessKey  string        `mapstructure:"secret_access_key" yaml:"secret_access_key,omitempty"`
	SessionToken     string        `mapstructure:"session_token" yaml:"session_token,omitempty"`
	UsePathStyle     bool          `mapstructure:"use_path_style" yaml:"use_path_style,omitempty"`
	OperationTimeout time.Duration `mapstructure:"operation_timeout" yaml:"operation_timeout,omitempty"`
}

// EmailConfig configures mail delivery of the mail jobs.
type EmailConfig struct {
	// Connection is the queue connection carrying the mail jobs. Empty means queue.default.
	Connection     string               `mapstructure:"connection" yaml:"connection,omitempty"`
	Provider       string               `mapstructure:"provider" yaml:"provider"`
	From           string               `mapstructure:"from" yaml:"from"`
	AppName        string               `mapstructure:"app_name" yaml:"app_name"`
	AppURL         string               `mapstructure:"app_url" yaml:"app_url"`
	RateLimit      float64              `mapstructure:"rate_limit" yaml:"rate_limit"`
	Burst          int                  `mapstructure:"burst" yaml:"burst"`
	CircuitBreaker CircuitBreakerConfig `mapstructure:"circuit_breaker" yaml:"circuit_breaker"`
	SMTP           EmailSMTPConfig      `mapstructure:"smtp" yaml:"smtp"`
	SES            EmailSESConfig       `mapstructure:"ses" yaml:"ses"`
	SendGrid       EmailSendGridConfig  `mapstructure:"sendgrid" yaml:"sendgrid"`
}

// CircuitBreakerConfig configures the breaker around mail delivery.
type CircuitBreakerConfig struct {
	MaxFailures int           `mapstructure:"max_failures" yaml:"max_failures"`
	OpenTimeout time.Duration `mapstructure:"open_timeout" yaml:"open_timeout"`
}

// EmailSMTPConfig configures the SMTP provider.
type EmailSMTPConfig struct {
	Host               string        `mapstructure:"host" yaml:"host"`
	Port               int           `mapstructure:"port" yaml:"port"`
	Username           string        `mapstructure:"username" yaml:"username"`
	Password           string        `mapstructure:"password" yaml:"password"`
	ImplicitTLS        bool          `mapstructure:"implicit_tls" yaml:"implicit_tls"`
	InsecureSkipVerify bool          `mapstructure:"insecure_skip_verify" yaml:"insecure_skip_verify"`
	OperationTimeout   time.Duration `mapstructure:"operation_timeout" yaml:"operation_timeout"`
}

// EmailSESConfig configures the SES provider.
type EmailSESConfig struct {
	Region           string        `mapstructure:"region" yaml:"region"`
	Endpoint         string        `mapstructure:"endpoint" yaml:"endpoint"`
	AccessKeyID      string        `mapstructure:"access_key_id" yaml:"access_key_id"`
	SecretAccessKey  string        `mapstructure:"secret_access_key" yaml:"secret_access_key"`
	SessionToken     string        `mapstructure:"session_token" yaml:"session_token"`
	OperationTimeout time.Duration `mapstructure:"operation_timeout" yaml:"operation_timeout"`
}

// EmailSendGridConfig configures the SendGrid provider.
type EmailSendGridConfig struct {
	APIKey           string        `mapstructure:"api_key" yaml:"api_key"`
	BaseURL          string        `mapstructure:"base_url" yaml:"base_url"`
	OperationTimeout time.Duration `mapstructure:"operation_timeout" yaml:"operation_timeout"`
}

// SchedulerConfig configures the worker scheduler.
type SchedulerConfig struct {
	// IntervalOverride replaces every connection's worker interval when set.
	IntervalOverride time.Duration `mapstructure:"interval_override" yaml:"interval_override"`
	HandlerTimeout   time.Duration `mapstructure:"handler_timeout" yaml:"handler_timeout"`
	StopTimeout      time.Duration `mapstructure:"stop_timeout" yaml:"stop_timeout"`
	Lock             LockConfig    `mapstructure:"lock" yaml:"lock"`
}

// LockConfig configures the optional distributed lock taken around each tick.
type LockConfig struct {
	Type string `mapstructure:"type" yaml:"type"`
	// URL is used when Connection is empty.
	URL string `mapstructure:"url" yaml:"url,omitempty"`
	// Connection names an entry of redis or databases to share.
	Connection string        `mapstructure:"connection" yaml:"connection,omitempty"`
	TTL        time.Duration `mapstructure:"ttl" yaml:"ttl"`
	Prefix     string        `mapstructure:"prefix" yaml:"prefix,omitempty"`
	Table      string        `mapstructure:"table" yaml:"table,omitempty"`
}

// ObservabilityConfig configures logging and tracing.
type ObservabilityConfig struct {
	LogLevel          string  `mapstructure:"log_level" yaml:"log_level"`
	LogFormat         string  `mapstructure:"log_format" yaml:"log_format"`
	TracingEnabled    bool    `mapstructure:"tracing_enabled" yaml:"tracing_enabled"`
	TracingEndpoint   string  `mapstructure:"tracing_endpoint" yaml:"tracing_endpoint"`
	TracingSampleRate float64 `mapstructure:"tracing_sample_rate" yaml:"tracing_sample_rate"`
}

// ManagementConfig configures the management HTTP server run by the worker.
type ManagementConfig struct {
	Enabled      bool          `mapstructure:"enabled" yaml:"enabled"`
	Port         int           `mapstructure:"port" yaml:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`
}

// DefaultConfig returns the configuration used when nothing else is set:
// one in-memory connection named vanilla and mail logged instead of sent.
func DefaultConfig() *Config {
	return &Config{
		Service: ServiceConfig{
			Name:        "nimqueue",
			Environment: "development",
		},
		Queue: QueueConfig{
			Default: "vanilla",
			Connections: map[string]QueueConnectionConfig{
				"vanilla": {
					Driver:         DriverMemory,
					Queue:          "default",
					DeadLetter:     "deadletter",
					WorkerInterval: 5 * time.Second,
				},
			},
		},
		Databases: map[string]DatabaseConfig{},
		Redis:     map[string]RedisConfig{},
		Blob: BlobConfig{
			OperationTimeout: 10 * time.Second,
		},
		Email: EmailConfig{
			Provider: "log",
			From:     "noreply@localhost",
			AppName:  "Nimqueue",
			Burst:    1,
			CircuitBreaker: CircuitBreakerConfig{
				MaxFailures: 5,
				OpenTimeout: 30 * time.Second,
			},
			SMTP: EmailSMTPConfig{
				Port:             587,
				OperationTimeout: 10 * time.Second,
			},
			SES: EmailSESConfig{
				OperationTimeout: 10 * time.Second,
			},
			SendGrid: EmailSendGridConfig{
				BaseURL:          "https://api.sendgrid.com",
				OperationTimeout: 10 * time.Second,
			},
		},
		Scheduler: SchedulerConfig{
			StopTimeout: 30 * time.Second,
			Lock: LockConfig{
				Type: LockTypeNone,
				TTL:  30 * time.Second,
			},
		},
		Observability: ObservabilityConfig{
			LogLevel:          "info",
			LogFormat:         "json",
			TracingSampleRate: 1.0,
		},
		Management: ManagementConfig{
			Enabled:      true,
			Port:         8081,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
		},
	}
}
