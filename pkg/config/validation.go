package config

import (
	"fmt"
	"net/url"
	"reflect"
	"sort"
	"strings"
	"time"
)

var (
	validDrivers = map[string]bool{
		DriverMemory: true, DriverTable: true, DriverFile: true,
		DriverRedis: true, DriverDocument: true, DriverDiscard: true,
	}
	validEmailProviders = map[string]bool{"log": true, "smtp": true, "ses": true, "sendgrid": true}
	validLogLevels      = map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
)

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Queue.Default) == "" {
		return fmt.Errorf("queue.default is required")
	}
	if _, ok := c.Queue.Connections[c.Queue.Default]; !ok {
		return fmt.Errorf("queue.default %q is not a configured connection", c.Queue.Default)
	}
	for _, name := range sortedKeys(c.Queue.Connections) {
		if err := c.validateQueueConnection(name, c.Queue.Connections[name]); err != nil {
			return err
		}
	}

	for _, name := range sortedKeys(c.Databases) {
		db := c.Databases[name]
		switch db.Type {
		case DatabaseTypePostgres, DatabaseTypeMySQL, DatabaseTypeMongoDB:
		default:
			return fmt.Errorf("databases.%s.type %q is not supported", name, db.Type)
		}
		if strings.TrimSpace(db.URL) == "" {
			return fmt.Errorf("databases.%s.url is required", name)
		}
		if db.Type == DatabaseTypeMongoDB && strings.TrimSpace(db.DatabaseName) == "" {
			return fmt.Errorf("databases.%s.database_name is required for MongoDB", name)
		}
	}
	for _, name := range sortedKeys(c.Redis) {
		if strings.TrimSpace(c.Redis[name].URL) == "" {
			return fmt.Errorf("redis.%s.url is required", name)
		}
	}

	if err := c.validateEmail(); err != nil {
		return err
	}
	if err := c.validateScheduler(); err != nil {
		return err
	}

	if !validLogLevels[strings.ToLower(c.Observability.LogLevel)] {
		return fmt.Errorf("observability.log_level %q must be one of debug, info, warn, error", c.Observability.LogLevel)
	}
	switch strings.ToLower(c.Observability.LogFormat) {
	case "json", "text":
	default:
		return fmt.Errorf("observability.log_format %q must be json or text", c.Observability.LogFormat)
	}
	if c.Observability.TracingSampleRate < 0 || c.Observability.TracingSampleRate > 1 {
		return fmt.Errorf("observability.tracing_sample_rate must be between 0 and 1")
	}
	if c.Observability.TracingEnabled && strings.TrimSpace(c.Observability.TracingEndpoint) == "" {
		return fmt.Errorf("observability.tracing_endpoint is required when tracing is enabled")
	}

	if c.Management.Enabled && (c.Management.Port <= 0 || c.Management.Port > 65535) {
		return fmt.Errorf("management.port must be between 1 and 65535")
	}
	return nil
}

func (c *Config) validateQueueConnection(name string, conn QueueConnectionConfig) error {
	prefix := "queue.connections." + name
	if !validDrivers[conn.Driver] {
		return fmt.Errorf("%s.driver %q is not supported", prefix, conn.Driver)
	}
	if conn.WorkerInterval < 0 {
		return fmt.Errorf("%s.worker_interval must not be negative", prefix)
	}
	if conn.Queue != "" && conn.Queue == conn.DeadLetter {
		return fmt.Errorf("%s.queue and deadletter must differ", prefix)
	}

	switch conn.Driver {
	case DriverTable:
		db, ok := c.Databases[conn.Connection]
		if !ok {
			return fmt.Errorf("%s.connection %q is not a configured database", prefix, conn.Connection)
		}
		if db.Type != DatabaseTypePostgres && db.Type != DatabaseTypeMySQL {
			return fmt.Errorf("%s.connection %q must be a postgres or mysql database", prefix, conn.Connection)
		}
	case DriverDocument:
		db, ok := c.Databases[conn.Connection]
		if !ok {
			return fmt.Errorf("%s.connection %q is not a configured database", prefix, conn.Connection)
		}
		if db.Type != DatabaseTypeMongoDB {
			return fmt.Errorf("%s.connection %q must be a mongodb database", prefix, conn.Connection)
		}
	case DriverRedis:
		if _, ok := c.Redis[conn.Connection]; !ok {
			return fmt.Errorf("%s.connection %q is not a configured redis connection", prefix, conn.Connection)
		}
	case DriverFile:
		if strings.TrimSpace(conn.Path) == "" {
			return fmt.Errorf("%s.path is required for the file driver", prefix)
		}
		if conn.Connection == BlobConnectionName {
			if strings.TrimSpace(c.Blob.Bucket) == "" {
				return fmt.Errorf("blob.bucket is required by %s", prefix)
			}
			if strings.TrimSpace(c.Blob.Region) == "" {
				return fmt.Errorf("blob.region is required by %s", prefix)
			}
		} else if conn.Connection != "" {
			return fmt.Errorf("%s.connection must be empty or %q for the file driver", prefix, BlobConnectionName)
		}
	}
	return nil
}

func (c *Config) validateEmail() error {
	e := c.Email
	if !validEmailProviders[e.Provider] {
		return fmt.Errorf("email.provider %q must be one of log, smtp, ses, sendgrid", e.Provider)
	}
	if e.Connection != "" {
		if _, ok := c.Queue.Connections[e.Connection]; !ok {
			return fmt.Errorf("email.connection %q is not a configured queue connection", e.Connection)
		}
	}
	if strings.TrimSpace(e.From) == "" {
		return fmt.Errorf("email.from is required")
	}
	if e.RateLimit < 0 {
		return fmt.Errorf("email.rate_limit must not be negative")
	}
	if e.AppURL != "" {
		if u, err := url.Parse(e.AppURL); err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("email.app_url must be an absolute URL")
		}
	}
	switch e.Provider {
	case "smtp":
		if strings.TrimSpace(e.SMTP.Host) == "" {
			return fmt.Errorf("email.smtp.host is required for the smtp provider")
		}
		if e.SMTP.Port <= 0 || e.SMTP.Port > 65535 {
			return fmt.Errorf("email.smtp.port must be between 1 and 65535")
		}
	case "ses":
		if strings.TrimSpace(e.SES.Region) == "" {
			return fmt.Errorf("email.ses.region is required for the ses provider")
		}
	case "sendgrid":
		if strings.TrimSpace(e.SendGrid.APIKey) == "" {
			return fmt.Errorf("email.sendgrid.api_key is required for the sendgrid provider")
		}
	}
	return nil
}

func (c *Config) validateScheduler() error {
	s := c.Scheduler
	if s.IntervalOverride < 0 || s.HandlerTimeout < 0 || s.StopTimeout < 0 {
		return fmt.Errorf("scheduler durations must not be negative")
	}
	switch s.Lock.Type {
	case "", LockTypeNone:
		return nil
	case LockTypeRedis:
		if s.Lock.Connection != "" {
			if _, ok := c.Redis[s.Lock.Connection]; !ok {
				return fmt.Errorf("scheduler.lock.connection %q is not a configured redis connection", s.Lock.Connection)
			}
		} else if strings.TrimSpace(s.Lock.URL) == "" {
			return fmt.Errorf("scheduler.lock.url or scheduler.lock.connection is required for the redis lock")
		}
	case LockTypePostgres:
		if s.Lock.Connection != "" {
			db, ok := c.Databases[s.Lock.Connection]
			if !ok || db.Type != DatabaseTypePostgres {
				return fmt.Errorf("scheduler.lock.connection %q is not a configured postgres database", s.Lock.Connection)
			}
		} else if strings.TrimSpace(s.Lock.URL) == "" {
			return fmt.Errorf("scheduler.lock.url or scheduler.lock.connection is required for the postgres lock")
		}
	default:
		return fmt.Errorf("scheduler.lock.type %q must be one of none, redis, postgres", s.Lock.Type)
	}
	if s.Lock.TTL <= 0 {
		return fmt.Errorf("scheduler.lock.ttl must be positive")
	}
	return nil
}

// String returns the full configuration as a formatted string
func (c *Config) String() string {
	return formatValue(reflect.ValueOf(c).Elem(), reflect.Value{}, "", false)
}

// Redacted returns the configuration with secrets masked.
// Credential fields are always masked; pass the secrets Config returned by
// LoadWithSecrets() to also mask every value the secrets file set.
func (c *Config) Redacted(secrets *Config) string {
	mask := reflect.Value{}
	if secrets != nil {
		mask = reflect.ValueOf(secrets).Elem()
	}
	return formatValue(reflect.ValueOf(c).Elem(), mask, "", true)
}

var sensitiveFields = map[string]bool{
	"password":          true,
	"secret_access_key": true,
	"session_token":     true,
	"api_key":           true,
}

var durationType = reflect.TypeOf(time.Duration(0))

func formatValue(v, mask reflect.Value, prefix string, redact bool) string {
	var sb strings.Builder
	t := v.Type()

	for i := 0; i < v.NumField(); i++ {
		field := t.Field(i)
		value := v.Field(i)
		if !value.CanInterface() {
			continue
		}
		maskValue := reflect.Value{}
		if mask.IsValid() {
			maskValue = mask.Field(i)
		}

		fieldName := field.Name
		if tag := field.Tag.Get("mapstructure"); tag != "" && tag != "-" {
			fieldName = tag
		}

		switch value.Kind() {
		case reflect.Struct:
			sb.WriteString(fmt.Sprintf("%s%s:\n", prefix, fieldName))
			sb.WriteString(formatValue(value, maskValue, prefix+"  ", redact))
		case reflect.Map:
			if value.Len() == 0 {
				sb.WriteString(fmt.Sprintf("%s%s: {}\n", prefix, fieldName))
				continue
			}
			sb.WriteString(fmt.Sprintf("%s%s:\n", prefix, fieldName))
			keys := value.MapKeys()
			sort.Slice(keys, func(a, b int) bool { return keys[a].String() < keys[b].String() })
			for _, key := range keys {
				entry := value.MapIndex(key)
				entryMask := reflect.Value{}
				if maskValue.IsValid() && maskValue.Len() > 0 {
					if m := maskValue.MapIndex(key); m.IsValid() {
						entryMask = m
					}
				}
				if entry.Kind() == reflect.Struct {
					sb.WriteString(fmt.Sprintf("%s  %v:\n", prefix, key.Interface()))
					sb.WriteString(formatValue(entry, entryMask, prefix+"    ", redact))
					continue
				}
				sb.WriteString(fmt.Sprintf("%s  %v: %v\n", prefix, key.Interface(), entry.Interface()))
			}
		default:
			display := scalarString(value)
			if redact && display != "" && (shouldRedact(maskValue) || (sensitiveFields[fieldName] && !value.IsZero()) || (fieldName == "url" && hasUserInfo(display))) {
				display = "***"
			}
			sb.WriteString(fmt.Sprintf("%s%s: %s\n", prefix, fieldName, display))
		}
	}

	return sb.String()
}

func hasUserInfo(raw string) bool {
	u, err := url.Parse(raw)
	return err == nil && u.User != nil
}

func scalarString(v reflect.Value) string {
	if v.Type() == durationType {
		return time.Duration(v.Int()).String()
	}
	return fmt.Sprintf("%v", v.Interface())
}

func shouldRedact(v reflect.Value) bool {
	if !v.IsValid() {
		return false
	}

	switch v.Kind() {
	case reflect.String:
		return v.String() != ""
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return v.Int() != 0
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return v.Uint() != 0
	case reflect.Float32, reflect.Float64:
		return v.Float() != 0
	case reflect.Bool:
		return v.Bool()
	default:
		return false
	}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
