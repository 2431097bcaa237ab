package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/nimburion/nimqueue/pkg/config"
	"github.com/nimburion/nimqueue/pkg/email"
	"github.com/nimburion/nimqueue/pkg/health"
	"github.com/nimburion/nimqueue/pkg/jobs"
	"github.com/nimburion/nimqueue/pkg/observability/logger"
	"github.com/nimburion/nimqueue/pkg/queue"
	"github.com/nimburion/nimqueue/pkg/resilience"
	"github.com/nimburion/nimqueue/pkg/scheduler"
)

// App is the wired set of components one process runs with.
type App struct {
	Config     *config.Config
	Logger     logger.Logger
	Resources  *Resources
	Manager    *queue.Manager
	Mailer     *jobs.Mailer
	Registry   *jobs.Registry
	Dispatcher *jobs.Dispatcher
	Health     *health.Registry

	locks scheduler.LockProvider
}

// Options replaces parts of the wiring, mostly for tests.
type Options struct {
	// Opener replaces the store opener built on Resources.
	Opener queue.StoreOpener
	// EmailProvider replaces the provider selected by email.provider.
	EmailProvider email.Provider
}

// New builds the queue manager, the mailer, the job registry and the dispatcher from cfg.
// Data connections are opened lazily, so New does not touch any backend.
func New(cfg *config.Config, log logger.Logger, opts Options) (*App, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if log == nil {
		return nil, errors.New("logger is required")
	}

	resources, err := NewResources(cfg, log)
	if err != nil {
		return nil, err
	}
	var opener queue.StoreOpener = resources
	if opts.Opener != nil {
		opener = opts.Opener
	}

	managerConfig, err := ManagerConfig(cfg)
	if err != nil {
		return nil, err
	}
	manager, err := queue.NewManager(managerConfig, opener, log.With("component", "queue"))
	if err != nil {
		return nil, err
	}

	provider := opts.EmailProvider
	if provider == nil {
		provider, err = NewEmailProvider(cfg.Email, log.With("component", "email"))
		if err != nil {
			return nil, err
		}
	}
	mailer, err := NewMailer(cfg.Email, provider, log.With("component", "mailer"))
	if err != nil {
		return nil, err
	}

	registry := jobs.NewRegistry()
	mailConnection := cfg.Email.Connection
	if mailConnection == "" {
		mailConnection = manager.DefaultConnection()
	}
	if err := jobs.RegisterMailJobs(registry, mailConnection, mailer); err != nil {
		return nil, err
	}

	dispatcher, err := jobs.NewDispatcher(registry, manager, log.With("component", "dispatcher"))
	if err != nil {
		return nil, err
	}

	checks := health.NewRegistry()
	manager.RegisterHealthChecks(checks)
	checks.Register(jobs.NewMailHealthChecker("", mailer))

	return &App{
		Config:     cfg,
		Logger:     log,
		Resources:  resources,
		Manager:    manager,
		Mailer:     mailer,
		Registry:   registry,
		Dispatcher: dispatcher,
		Health:     checks,
	}, nil
}

// Scheduler builds the worker runtime for every registered binding, with the
// lock provider selected by scheduler.lock.
func (a *App) Scheduler() (*scheduler.Runtime, error) {
	locks, err := a.LockProvider()
	if err != nil {
		return nil, err
	}
	runtime, err := scheduler.NewRuntime(a.Manager, locks, a.Logger.With("component", "scheduler"), scheduler.Config{
		IntervalOverride: a.Config.Scheduler.IntervalOverride,
		HandlerTimeout:   a.Config.Scheduler.HandlerTimeout,
		StopTimeout:      a.Config.Scheduler.StopTimeout,
		LockTTL:          a.Config.Scheduler.Lock.TTL,
	})
	if err != nil {
		return nil, err
	}
	if err := runtime.RegisterAll(a.Registry); err != nil {
		return nil, err
	}
	a.Health.Register(scheduler.NewRuntimeHealthChecker(runtime))
	if locks != nil {
		a.Health.Register(scheduler.NewLockProviderHealthChecker("", locks, 0))
	}
	return runtime, nil
}

// LockProvider returns the configured distributed lock, or nil when scheduler.lock.type is none.
// The provider is created once and closed by Close.
func (a *App) LockProvider() (scheduler.LockProvider, error) {
	if a.locks != nil {
		return a.locks, nil
	}
	locks, err := NewLockProvider(a.Config.Scheduler.Lock, a.Resources, a.Logger.With("component", "lock"))
	if err != nil {
		return nil, err
	}
	a.locks = locks
	return locks, nil
}

// Ready runs every health check after opening all queue connections.
func (a *App) Ready(ctx context.Context) health.AggregatedResult {
	names := make([]string, 0, len(a.Manager.Connections()))
	for _, conn := range a.Manager.Connections() {
		names = append(names, conn.Name)
	}
	if err := a.Manager.Open(ctx, names...); err != nil {
		a.Logger.Warn("failed to open queue connections", "error", err)
	}
	a.Resources.RegisterHealthChecks(a.Health)
	return a.Health.Check(ctx)
}

// Close releases the manager, the lock provider, the mailer and the data connections.
func (a *App) Close() error {
	var errs []error
	if err := a.Manager.Close(); err != nil {
		errs = append(errs, err)
	}
	if a.locks != nil {
		if err := a.locks.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := a.Mailer.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := a.Resources.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// ManagerConfig converts the queue section into the manager's connection list, sorted by name.
func ManagerConfig(cfg *config.Config) (queue.ManagerConfig, error) {
	names := make([]string, 0, len(cfg.Queue.Connections))
	for name := range cfg.Queue.Connections {
		names = append(names, name)
	}
	sort.Strings(names)

	out := queue.ManagerConfig{Default: cfg.Queue.Default}
	for _, name := range names {
		conn := cfg.Queue.Connections[name]
		kind, err := queue.ParseKind(conn.Driver)
		if err != nil {
			return queue.ManagerConfig{}, fmt.Errorf("queue.connections.%s: %w", name, err)
		}
		out.Connections = append(out.Connections, queue.ConnectionConfig{
			Name:           name,
			Kind:           kind,
			Table:          conn.Table,
			DataConnection: conn.Connection,
			Path:           conn.Path,
			Prefix:         conn.Prefix,
			Queue:          conn.Queue,
			DeadLetter:     conn.DeadLetter,
			WorkerInterval: conn.WorkerInterval,
			DisableRowLock: conn.DisableRowLock,
		})
	}
	return out, nil
}

// NewEmailProvider creates the provider named by cfg.Provider.
func NewEmailProvider(cfg config.EmailConfig, log logger.Logger) (email.Provider, error) {
	return email.NewProvider(email.Config{
		Provider: cfg.Provider,
		From:     cfg.From,
		SMTP: email.SMTPConfig{
			Host:               cfg.SMTP.Host,
			Port:               cfg.SMTP.Port,
			Username:           cfg.SMTP.Username,
			Password:           cfg.SMTP.Password,
			ImplicitTLS:        cfg.SMTP.ImplicitTLS,
			InsecureSkipVerify: cfg.SMTP.InsecureSkipVerify,
			OperationTimeout:   cfg.SMTP.OperationTimeout,
		},
		SES: email.SESConfig{
			Region:           cfg.SES.Region,
			Endpoint:         cfg.SES.Endpoint,
			AccessKeyID:      cfg.SES.AccessKeyID,
			SecretAccessKey:  cfg.SES.SecretAccessKey,
			SessionToken:     cfg.SES.SessionToken,
			OperationTimeout: cfg.SES.OperationTimeout,
		},
		SendGrid: email.SendGridConfig{
			APIKey:           cfg.SendGrid.APIKey,
			BaseURL:          cfg.SendGrid.BaseURL,
			OperationTimeout: cfg.SendGrid.OperationTimeout,
		},
	}, log)
}

// NewMailer wraps provider with the mail views, the rate limit and the circuit breaker from cfg.
func NewMailer(cfg config.EmailConfig, provider email.Provider, log logger.Logger) (*jobs.Mailer, error) {
	views, err := email.NewViews()
	if err != nil {
		return nil, err
	}
	return jobs.NewMailer(provider, views, jobs.MailerConfig{
		From:      cfg.From,
		AppName:   cfg.AppName,
		AppURL:    cfg.AppURL,
		RateLimit: cfg.RateLimit,
		Burst:     cfg.Burst,
		Breaker: resilience.BreakerConfig{
			MaxFailures: cfg.CircuitBreaker.MaxFailures,
			OpenTimeout: cfg.CircuitBreaker.OpenTimeout,
		},
	}, log)
}

// NewLockProvider creates the lock provider selected by cfg.Type. A named
// connection is shared with the queue stores through resources.
func NewLockProvider(cfg config.LockConfig, resources *Resources, log logger.Logger) (scheduler.LockProvider, error) {
	switch cfg.Type {
	case "", config.LockTypeNone:
		return nil, nil
	case config.LockTypeRedis:
		redisCfg := scheduler.RedisLockProviderConfig{URL: cfg.URL, Prefix: cfg.Prefix}
		var (
			provider *scheduler.RedisLockProvider
			err      error
		)
		if cfg.Connection == "" {
			provider, err = scheduler.NewRedisLockProvider(redisCfg, log)
		} else {
			adapter, openErr := resources.Redis(cfg.Connection)
			if openErr != nil {
				return nil, openErr
			}
			provider, err = scheduler.NewRedisLockProviderWithClient(adapter.Client(), redisCfg, log)
		}
		if err != nil {
			return nil, err
		}
		return provider, nil
	case config.LockTypePostgres:
		pgCfg := scheduler.PostgresLockProviderConfig{URL: cfg.URL, Table: cfg.Table}
		var (
			provider *scheduler.PostgresLockProvider
			err      error
		)
		if cfg.Connection == "" {
			provider, err = scheduler.NewPostgresLockProvider(pgCfg, log)
		} else {
			adapter, openErr := resources.SQL(cfg.Connection)
			if openErr != nil {
				return nil, openErr
			}
			provider, err = scheduler.NewPostgresLockProviderWithDB(adapter.DB(), pgCfg, log)
		}
		if err != nil {
			return nil, err
		}
		return provider, nil
	default:
		return nil, fmt.Errorf("%w: unsupported lock type %q", scheduler.ErrValidation, cfg.Type)
	}
}
