package scheduler

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/nimburion/nimqueue/pkg/observability/logger"
)

const (
	defaultRedisPrefix           = "nimqueue:lock"
	defaultRedisOperationTimeout = 3 * time.Second
)

// Both scripts reply 0 when KEYS[1] no longer holds the caller's token.
var (
	releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`)

	renewScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)
)

// RedisLockProviderConfig configures queue leases held in Redis.
type RedisLockProviderConfig struct {
	// URL is dialed only by NewRedisLockProvider.
	URL string
	// Prefix namespaces lease keys, "<prefix>:queue:<connection>:<queue>".
	Prefix           string
	OperationTimeout time.Duration
}

func (c *RedisLockProviderConfig) normalize() {
	if strings.TrimSpace(c.Prefix) == "" {
		c.Prefix = defaultRedisPrefix
	}
	if c.OperationTimeout <= 0 {
		c.OperationTimeout = defaultRedisOperationTimeout
	}
}

// RedisLockProvider holds locks as expiring keys set with SET NX PX. Renew and
// release only touch a key whose value still equals the lease token.
type RedisLockProvider struct {
	client     redis.UniversalClient
	ownsClient bool
	log        logger.Logger
	config     RedisLockProviderConfig
}

// NewRedisLockProvider creates a Redis-based lock provider.
func NewRedisLockProvider(cfg RedisLockProviderConfig, log logger.Logger) (*RedisLockProvider, error) {
	if log == nil {
		return nil, schedulerError(ErrInvalidArgument, "logger is required")
	}
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, schedulerError(ErrInvalidArgument, "redis url is required")
	}
	cfg.normalize()

	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, errors.Join(schedulerError(ErrValidation, "parse redis url failed"), err)
	}
	client := redis.NewClient(opts)

	provider := &RedisLockProvider{client: client, ownsClient: true, log: log, config: cfg}
	if err := provider.HealthCheck(context.Background()); err != nil {
		_ = client.Close()
		return nil, err
	}
	return provider, nil
}

// NewRedisLockProviderWithClient runs on a shared client, which Close leaves open.
func NewRedisLockProviderWithClient(client redis.UniversalClient, cfg RedisLockProviderConfig, log logger.Logger) (*RedisLockProvider, error) {
	if client == nil {
		return nil, schedulerError(ErrInvalidArgument, "redis client is required")
	}
	if log == nil {
		return nil, schedulerError(ErrInvalidArgument, "logger is required")
	}
	cfg.normalize()
	return &RedisLockProvider{client: client, log: log, config: cfg}, nil
}

// Acquire takes key for ttl. A key held by another worker reports false without error.
func (p *RedisLockProvider) Acquire(ctx context.Context, key string, ttl time.Duration) (*LockLease, bool, error) {
	if err := p.ready(); err != nil {
		return nil, false, err
	}
	if key = strings.TrimSpace(key); key == "" {
		return nil, false, schedulerError(ErrInvalidArgument, "lock key is required")
	}
	if ttl <= 0 {
		return nil, false, schedulerError(ErrInvalidArgument, "ttl must be > 0")
	}

	lease := &LockLease{Key: key, Token: randomLockToken()}
	opCtx, cancel := context.WithTimeout(ctx, p.config.OperationTimeout)
	defer cancel()
	ok, err := p.client.SetNX(opCtx, p.fullKey(key), lease.Token, ttl).Result()
	switch {
	case err != nil:
		return nil, false, errors.Join(schedulerError(ErrRetryable, "acquire lock failed"), err)
	case !ok:
		return nil, false, nil
	}
	lease.ExpireAt = time.Now().UTC().Add(ttl)
	return lease, true, nil
}

// Renew pushes the expiry of a lease this worker still owns.
func (p *RedisLockProvider) Renew(ctx context.Context, lease *LockLease, ttl time.Duration) error {
	if ttl <= 0 {
		return schedulerError(ErrInvalidArgument, "ttl must be > 0")
	}
	if err := p.runOwned(ctx, renewScript, "renew", lease, ttl.Milliseconds()); err != nil {
		return err
	}
	lease.ExpireAt = time.Now().UTC().Add(ttl)
	return nil
}

// Release drops a lease this worker still owns.
func (p *RedisLockProvider) Release(ctx context.Context, lease *LockLease) error {
	return p.runOwned(ctx, releaseScript, "release", lease)
}

// runOwned runs a compare-token script; a zero reply means the key now belongs to someone else or expired.
func (p *RedisLockProvider) runOwned(ctx context.Context, script *redis.Script, op string, lease *LockLease, extra ...any) error {
	if err := p.ready(); err != nil {
		return err
	}
	key, token, err := leaseIdentity(lease)
	if err != nil {
		return err
	}

	opCtx, cancel := context.WithTimeout(ctx, p.config.OperationTimeout)
	defer cancel()
	reply, err := script.Run(opCtx, p.client, []string{p.fullKey(key)}, append([]any{token}, extra...)...).Int64()
	if err != nil {
		return errors.Join(schedulerError(ErrRetryable, op+" lock failed"), err)
	}
	if reply == 0 {
		return schedulerError(ErrConflict, "lock "+op+" rejected")
	}
	return nil
}

// HealthCheck pings the lock server.
func (p *RedisLockProvider) HealthCheck(ctx context.Context) error {
	if err := p.ready(); err != nil {
		return err
	}
	opCtx, cancel := context.WithTimeout(ctx, p.config.OperationTimeout)
	defer cancel()
	if err := p.client.Ping(opCtx).Err(); err != nil {
		return errors.Join(schedulerError(ErrRetryable, "redis healthcheck failed"), err)
	}
	return nil
}

// Close closes the client when the provider dialed it.
func (p *RedisLockProvider) Close() error {
	if p == nil || p.client == nil || !p.ownsClient {
		return nil
	}
	return p.client.Close()
}

func (p *RedisLockProvider) ready() error {
	if p == nil || p.client == nil {
		return schedulerError(ErrNotInitialized, "redis lock provider is not initialized")
	}
	return nil
}

func (p *RedisLockProvider) fullKey(key string) string {
	return strings.TrimRight(p.config.Prefix, ":") + ":" + strings.TrimSpace(key)
}
