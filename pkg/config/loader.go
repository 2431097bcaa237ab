package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// FlagBindings maps command-line flag names to the configuration keys they override.
var FlagBindings = map[string]string{
	"log-level":          "observability.log_level",
	"log-format":         "observability.log_format",
	"default-connection": "queue.default",
}

// Loader defines the interface for loading configuration
type Loader interface {
	Load() (*Config, error)
	Validate(*Config) error
}

// ViperLoader implements Loader using Viper for configuration management
type ViperLoader struct {
	configFile string
	envPrefix  string
	flags      *pflag.FlagSet
}

// NewViperLoader creates a new ViperLoader
// configFile: path to configuration file (optional, can be empty)
// envPrefix: prefix for environment variables (e.g., "APP")
func NewViperLoader(configFile, envPrefix string) *ViperLoader {
	if strings.TrimSpace(envPrefix) == "" {
		envPrefix = "APP"
	}
	return &ViperLoader{
		configFile: strings.TrimSpace(configFile),
		envPrefix:  strings.TrimSpace(envPrefix),
	}
}

// WithFlags makes the flags named in FlagBindings override every other source when set.
func (l *ViperLoader) WithFlags(flags *pflag.FlagSet) *ViperLoader {
	l.flags = flags
	return l
}

// ConfigFile returns the configuration file path, empty when none was given.
func (l *ViperLoader) ConfigFile() string {
	return l.configFile
}

// Load loads configuration with precedence: flags > ENV > file > defaults
func (l *ViperLoader) Load() (*Config, error) {
	cfg, _, err := l.load(false)
	return cfg, err
}

func (l *ViperLoader) load(withSecrets bool) (*Config, *Config, error) {
	v := viper.New()
	l.setDefaults(v, DefaultConfig())

	if l.configFile != "" {
		v.SetConfigFile(l.configFile)
		if err := v.ReadInConfig(); err != nil {
			// Only return error if file was explicitly specified but couldn't be read
			return nil, nil, fmt.Errorf("failed to read config file %s: %w", l.configFile, err)
		}
	}

	var secrets *Config
	if withSecrets {
		secretsViper, err := l.readSecrets()
		if err != nil {
			return nil, nil, err
		}
		if secretsViper != nil {
			var secretsCfg Config
			if err := secretsViper.Unmarshal(&secretsCfg); err != nil {
				return nil, nil, fmt.Errorf("failed to unmarshal secrets file %s: %w", secretsViper.ConfigFileUsed(), err)
			}
			secrets = &secretsCfg
			if err := v.MergeConfigMap(secretsViper.AllSettings()); err != nil {
				return nil, nil, fmt.Errorf("failed to merge secrets: %w", err)
			}
		}
	}

	// Environment variables override file config through explicit bindings.
	v.SetEnvPrefix(l.envPrefix)
	l.bindEnvVars(v)
	l.bindNamedConnectionEnvVars(v)
	if err := l.bindFlags(v); err != nil {
		return nil, nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg.applyDefaults()

	if err := l.Validate(&cfg); err != nil {
		return nil, nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, secrets, nil
}

// Validate validates the configuration
func (l *ViperLoader) Validate(cfg *Config) error {
	return cfg.Validate()
}

// bindEnvVars explicitly binds environment variables for nested structs
func (l *ViperLoader) bindEnvVars(v *viper.Viper) {
	bind := func(key string, envs ...string) {
		names := make([]string, 0, len(envs)+1)
		names = append(names, key)
		for _, env := range envs {
			names = append(names, l.prefixedEnv(env))
		}
		_ = v.BindEnv(names...)
	}

	// Service
	bind("service.name", "SERVICE_NAME")
	bind("service.environment", "SERVICE_ENVIRONMENT", "ENVIRONMENT")

	// Queue
	bind("queue.default", "QUEUE_DEFAULT", "QUEUE_CONNECTION")

	// Blob
	bind("blob.bucket", "BLOB_BUCKET")
	bind("blob.region", "BLOB_REGION", "AWS_REGION")
	bind("blob.endpoint", "BLOB_ENDPOINT")
	bind("blob.access_key_id", "BLOB_ACCESS_KEY_ID")
	bind("blob.secret_access_key", "BLOB_SECRET_ACCESS_KEY")
	bind("blob.session_token", "BLOB_SESSION_TOKEN")
	bind("blob.use_path_style", "BLOB_USE_PATH_STYLE")

	// Email
	bind("email.connection", "EMAIL_CONNECTION")
	bind("email.provider", "EMAIL_PROVIDER")
	bind("email.from", "EMAIL_FROM", "MAIL_FROM_ADDRESS")
	bind("email.app_name", "EMAIL_APP_NAME", "APP_NAME")
	bind("email.app_url", "EMAIL_APP_URL", "APP_URL")
	bind("email.rate_limit", "EMAIL_RATE_LIMIT")
	bind("email.burst", "EMAIL_BURST")
	bind("email.circuit_breaker.max_failures", "EMAIL_CIRCUIT_BREAKER_MAX_FAILURES")
	bind("email.circuit_breaker.open_timeout", "EMAIL_CIRCUIT_BREAKER_OPEN_TIMEOUT")
	bind("email.smtp.host", "EMAIL_SMTP_HOST")
	bind("email.smtp.port", "EMAIL_SMTP_PORT")
	bind("email.smtp.username", "EMAIL_SMTP_USERNAME")
	bind("email.smtp.password", "EMAIL_SMTP_PASSWORD")
	bind("email.smtp.implicit_tls", "EMAIL_SMTP_IMPLICIT_TLS")
	bind("email.ses.region", "EMAIL_SES_REGION")
	bind("email.ses.endpoint", "EMAIL_SES_ENDPOINT")
	bind("email.ses.access_key_id", "EMAIL_SES_ACCESS_KEY_ID")
	bind("email.ses.secret_access_key", "EMAIL_SES_SECRET_ACCESS_KEY")
	bind("email.ses.session_token", "EMAIL_SES_SESSION_TOKEN")
	bind("email.sendgrid.api_key", "EMAIL_SENDGRID_API_KEY")
	bind("email.sendgrid.base_url", "EMAIL_SENDGRID_BASE_URL")

	// Scheduler
	bind("scheduler.interval_override", "SCHEDULER_INTERVAL_OVERRIDE")
	bind("scheduler.handler_timeout", "SCHEDULER_HANDLER_TIMEOUT")
	bind("scheduler.stop_timeout", "SCHEDULER_STOP_TIMEOUT")
	bind("scheduler.lock.type", "SCHEDULER_LOCK_TYPE")
	bind("scheduler.lock.url", "SCHEDULER_LOCK_URL")
	bind("scheduler.lock.connection", "SCHEDULER_LOCK_CONNECTION")
	bind("scheduler.lock.ttl", "SCHEDULER_LOCK_TTL")

	// Observability
	bind("observability.log_level", "LOG_LEVEL")
	bind("observability.log_format", "LOG_FORMAT")
	bind("observability.tracing_enabled", "TRACING_ENABLED")
	bind("observability.tracing_endpoint", "TRACING_ENDPOINT")
	bind("observability.tracing_sample_rate", "TRACING_SAMPLE_RATE")

	// Management
	bind("management.enabled", "MGMT_ENABLED")
	bind("management.port", "MGMT_PORT")
	bind("management.read_timeout", "MGMT_READ_TIMEOUT")
	bind("management.write_timeout", "MGMT_WRITE_TIMEOUT")
}

func (l *ViperLoader) bindFlags(v *viper.Viper) error {
	if l.flags == nil {
		return nil
	}
	for _, name := range sortedKeys(FlagBindings) {
		flag := l.flags.Lookup(name)
		if flag == nil {
			continue
		}
		if err := v.BindPFlag(FlagBindings[name], flag); err != nil {
			return fmt.Errorf("bind flag --%s: %w", name, err)
		}
	}
	return nil
}

// bindNamedConnectionEnvVars binds the URL of every named database and redis
// connection present in the loaded file, e.g. APP_DATABASES_POSTGRES_URL.
func (l *ViperLoader) bindNamedConnectionEnvVars(v *viper.Viper) {
	for _, section := range []string{"databases", "redis"} {
		for name := range v.GetStringMap(section) {
			key := section + "." + name + ".url"
			_ = v.BindEnv(key, l.prefixedEnv(strings.ToUpper(section+"_"+envSafe(name)+"_URL")))
		}
	}
}

func (l *ViperLoader) prefixedEnv(suffix string) string {
	return strings.ToUpper(l.envPrefix) + "_" + suffix
}

func (l *ViperLoader) setDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("service.name", cfg.Service.Name)
	v.SetDefault("service.environment", cfg.Service.Environment)

	v.SetDefault("queue.default", cfg.Queue.Default)

	v.SetDefault("blob.operation_timeout", cfg.Blob.OperationTimeout)

	v.SetDefault("email.provider", cfg.Email.Provider)
	v.SetDefault("email.from", cfg.Email.From)
	v.SetDefault("email.app_name", cfg.Email.AppName)
	v.SetDefault("email.burst", cfg.Email.Burst)
	v.SetDefault("email.circuit_breaker.max_failures", cfg.Email.CircuitBreaker.MaxFailures)
	v.SetDefault("email.circuit_breaker.open_timeout", cfg.Email.CircuitBreaker.OpenTimeout)
	v.SetDefault("email.smtp.port", cfg.Email.SMTP.Port)
	v.SetDefault("email.smtp.operation_timeout", cfg.Email.SMTP.OperationTimeout)
	v.SetDefault("email.ses.operation_timeout", cfg.Email.SES.OperationTimeout)
	v.SetDefault("email.sendgrid.base_url", cfg.Email.SendGrid.BaseURL)
	v.SetDefault("email.sendgrid.operation_timeout", cfg.Email.SendGrid.OperationTimeout)

	v.SetDefault("scheduler.stop_timeout", cfg.Scheduler.StopTimeout)
	v.SetDefault("scheduler.lock.type", cfg.Scheduler.Lock.Type)
	v.SetDefault("scheduler.lock.ttl", cfg.Scheduler.Lock.TTL)

	v.SetDefault("observability.log_level", cfg.Observability.LogLevel)
	v.SetDefault("observability.log_format", cfg.Observability.LogFormat)
	v.SetDefault("observability.tracing_sample_rate", cfg.Observability.TracingSampleRate)

	v.SetDefault("management.enabled", cfg.Management.Enabled)
	v.SetDefault("management.port", cfg.Management.Port)
	v.SetDefault("management.read_timeout", cfg.Management.ReadTimeout)
	v.SetDefault("management.write_timeout", cfg.Management.WriteTimeout)
}

// applyDefaults fills what viper defaults cannot express: maps and the built-in connection.
func (c *Config) applyDefaults() {
	if len(c.Queue.Connections) == 0 {
		c.Queue.Connections = DefaultConfig().Queue.Connections
	}
	if c.Databases == nil {
		c.Databases = map[string]DatabaseConfig{}
	}
	if c.Redis == nil {
		c.Redis = map[string]RedisConfig{}
	}
	if strings.TrimSpace(c.Queue.Default) == "" {
		c.Queue.Default = DefaultConfig().Queue.Default
	}
}

func envSafe(name string) string {
	return strings.NewReplacer("-", "_", ".", "_", " ", "_").Replace(name)
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
