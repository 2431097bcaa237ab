// Package bootstrap turns the loaded configuration into the queue manager,
// the job registry, the lock provider and the scheduler.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/nimburion/nimqueue/pkg/config"
	"github.com/nimburion/nimqueue/pkg/health"
	"github.com/nimburion/nimqueue/pkg/observability/logger"
	"github.com/nimburion/nimqueue/pkg/queue"
	"github.com/nimburion/nimqueue/pkg/store"
	"github.com/nimburion/nimqueue/pkg/store/mongodb"
	redisstore "github.com/nimburion/nimqueue/pkg/store/redis"
	"github.com/nimburion/nimqueue/pkg/store/s3"
	"github.com/nimburion/nimqueue/pkg/store/sqldb"
)

const dataConnectionHealthTimeout = 2 * time.Second

// Resources opens the named data connections on first use and shares them
// between every queue store and the lock provider built on top of them.
type Resources struct {
	cfg *config.Config
	log logger.Logger

	mu     sync.Mutex
	sql    map[string]*sqldb.Adapter
	redis  map[string]*redisstore.Adapter
	mongo  map[string]*mongodb.Adapter
	blob   *s3.Adapter
	closed bool
}

// NewResources creates an empty connection set for cfg.
func NewResources(cfg *config.Config, log logger.Logger) (*Resources, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if log == nil {
		return nil, errors.New("logger is required")
	}
	return &Resources{
		cfg:   cfg,
		log:   log,
		sql:   map[string]*sqldb.Adapter{},
		redis: map[string]*redisstore.Adapter{},
		mongo: map[string]*mongodb.Adapter{},
	}, nil
}

// SQL returns the PostgreSQL or MySQL connection named name.
func (r *Resources) SQL(name string) (*sqldb.Adapter, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.ensureOpen(); err != nil {
		return nil, err
	}
	if adapter, ok := r.sql[name]; ok {
		return adapter, nil
	}
	db, ok := r.cfg.Databases[name]
	if !ok || (db.Type != config.DatabaseTypePostgres && db.Type != config.DatabaseTypeMySQL) {
		return nil, fmt.Errorf("%w: no sql database named %q", queue.ErrConfiguration, name)
	}
	adapter, err := sqldb.NewAdapter(sqldb.Config{
		Driver:          db.Type,
		URL:             db.URL,
		MaxOpenConns:    db.MaxOpenConns,
		MaxIdleConns:    db.MaxIdleConns,
		ConnMaxLifetime: db.ConnMaxLifetime,
		ConnMaxIdleTime: db.ConnMaxIdleTime,
	}, r.log.With("database", name))
	if err != nil {
		return nil, err
	}
	r.sql[name] = adapter
	return adapter, nil
}

// Redis returns the Redis connection named name.
func (r *Resources) Redis(name string) (*redisstore.Adapter, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.ensureOpen(); err != nil {
		return nil, err
	}
	if adapter, ok := r.redis[name]; ok {
		return adapter, nil
	}
	rc, ok := r.cfg.Redis[name]
	if !ok {
		return nil, fmt.Errorf("%w: no redis connection named %q", queue.ErrConfiguration, name)
	}
	adapter, err := redisstore.NewAdapter(redisstore.Config{
		URL:              rc.URL,
		MaxConns:         rc.MaxConns,
		OperationTimeout: rc.OperationTimeout,
	}, r.log.With("redis", name))
	if err != nil {
		return nil, err
	}
	r.redis[name] = adapter
	return adapter, nil
}

// Mongo returns the MongoDB connection named name.
func (r *Resources) Mongo(name string) (*mongodb.Adapter, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.ensureOpen(); err != nil {
		return nil, err
	}
	if adapter, ok := r.mongo[name]; ok {
		return adapter, nil
	}
	db, ok := r.cfg.Databases[name]
	if !ok || db.Type != config.DatabaseTypeMongoDB {
		return nil, fmt.Errorf("%w: no mongodb database named %q", queue.ErrConfiguration, name)
	}
	adapter, err := mongodb.NewAdapter(mongodb.Config{
		URL:            db.URL,
		Database:       db.DatabaseName,
		ConnectTimeout: db.ConnectTimeout,
	}, r.log.With("database", name))
	if err != nil {
		return nil, err
	}
	r.mongo[name] = adapter
	return adapter, nil
}

// Blob returns the bucket client file queues keep their document in.
func (r *Resources) Blob() (*s3.Adapter, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.ensureOpen(); err != nil {
		return nil, err
	}
	if r.blob != nil {
		return r.blob, nil
	}
	b := r.cfg.Blob
	adapter, err := s3.NewAdapter(s3.Config{
		Bucket:           b.Bucket,
		Region:           b.Region,
		Endpoint:         b.Endpoint,
		AccessKeyID:      b.AccessKeyID,
		SecretAccessKey:  b.SecretAccessKey,
		SessionToken:     b.SessionToken,
		UsePathStyle:     b.UsePathStyle,
		OperationTimeout: b.OperationTimeout,
	}, r.log.With("blob", b.Bucket))
	if err != nil {
		return nil, err
	}
	r.blob = adapter
	return adapter, nil
}

// OpenStore implements queue.StoreOpener on top of the shared connections.
func (r *Resources) OpenStore(ctx context.Context, conn queue.ConnectionConfig) (queue.Store, error) {
	switch conn.Kind {
	case queue.KindMemory:
		return queue.NewMemoryStore(conn.Queue, conn.DeadLetter), nil
	case queue.KindDiscard:
		return queue.NewDiscardStore(), nil
	case queue.KindTable:
		adapter, err := r.SQL(conn.DataConnection)
		if err != nil {
			return nil, err
		}
		dialect, err := queue.ParseDialect(adapter.Driver())
		if err != nil {
			return nil, err
		}
		tableStore, err := queue.NewTableStore(adapter.DB(), queue.TableStoreConfig{
			Table:          conn.Table,
			Dialect:        dialect,
			DisableRowLock: conn.DisableRowLock,
		})
		if err != nil {
			return nil, err
		}
		if err := tableStore.EnsureSchema(ctx); err != nil {
			return nil, fmt.Errorf("connection %q: %w", conn.Name, err)
		}
		return tableStore, nil
	case queue.KindDocument:
		adapter, err := r.Mongo(conn.DataConnection)
		if err != nil {
			return nil, err
		}
		return queue.NewDocumentStore(adapter.Collection(conn.Table))
	case queue.KindRedis:
		adapter, err := r.Redis(conn.DataConnection)
		if err != nil {
			return nil, err
		}
		return queue.NewRedisStore(adapter.Client(), queue.RedisStoreConfig{
			Prefix:           conn.Prefix,
			OperationTimeout: r.cfg.Redis[conn.DataConnection].OperationTimeout,
		})
	case queue.KindFile:
		var blob queue.Blob = queue.LocalBlob{Path: conn.Path}
		if conn.DataConnection == config.BlobConnectionName {
			adapter, err := r.Blob()
			if err != nil {
				return nil, err
			}
			blob = queue.ObjectBlob{Storage: adapter, Key: conn.Path}
		}
		return queue.NewFileStore(blob, conn.Queue, conn.DeadLetter)
	default:
		return nil, fmt.Errorf("%w: connection %q has unsupported driver %s", queue.ErrConfiguration, conn.Name, conn.Kind)
	}
}

// RegisterHealthChecks adds a readiness check for every data connection opened so far.
func (r *Resources) RegisterHealthChecks(registry *health.Registry) {
	for name, adapter := range r.adapters() {
		registry.Register(health.NewAdapterChecker(name, adapter, dataConnectionHealthTimeout))
	}
}

// Close closes every opened data connection. Later calls to the accessors fail.
func (r *Resources) Close() error {
	adapters := r.adapters()

	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()

	names := make([]string, 0, len(adapters))
	for name := range adapters {
		names = append(names, name)
	}
	sort.Strings(names)

	var errs []error
	for _, name := range names {
		if err := adapters[name].Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}

func (r *Resources) adapters() map[string]store.Adapter {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := map[string]store.Adapter{}
	for name, adapter := range r.sql {
		out["database:"+name] = adapter
	}
	for name, adapter := range r.mongo {
		out["database:"+name] = adapter
	}
	for name, adapter := range r.redis {
		out["redis:"+name] = adapter
	}
	if r.blob != nil {
		out["blob"] = r.blob
	}
	return out
}

func (r *Resources) ensureOpen() error {
	if r.closed {
		return queue.ErrClosed
	}
	return nil
}
