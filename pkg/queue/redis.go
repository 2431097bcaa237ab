package queue

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/nimburion/nimqueue/pkg/observability/tracing"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/trace"
)

const (
	defaultRedisPrefix           = "nimqueue:queue"
	defaultRedisOperationTimeout = 3 * time.Second
)

// truncateScript deletes every list registered in the names set in one round trip.
var truncateScript = redis.NewScript(`
local names = redis.call("SMEMBERS", KEYS[1])
for _, name in ipairs(names) do
  redis.call("DEL", ARGV[1] .. ":q:" .. name)
end
return #names
`)

// RedisStoreConfig configures a RedisStore.
type RedisStoreConfig struct {
	Prefix           string
	OperationTimeout time.Duration
}

func (c *RedisStoreConfig) normalize() {
	c.Prefix = strings.TrimSuffix(strings.TrimSpace(c.Prefix), ":")
	if c.Prefix == "" {
		c.Prefix = defaultRedisPrefix
	}
	if c.OperationTimeout <= 0 {
		c.OperationTimeout = defaultRedisOperationTimeout
	}
}

// RedisStore keeps each queue in a Redis list. Items pop in insertion order.
type RedisStore struct {
	client redis.UniversalClient
	config RedisStoreConfig
}

// NewRedisStore creates a list-backed store over an existing client.
func NewRedisStore(client redis.UniversalClient, cfg RedisStoreConfig) (*RedisStore, error) {
	if client == nil {
		return nil, queueError(ErrInvalidArgument, "redis client is required")
	}
	cfg.normalize()
	return &RedisStore{client: client, config: cfg}, nil
}

// Kind returns KindRedis.
func (s *RedisStore) Kind() Kind { return KindRedis }

// Add pushes payload to the tail of the queue list and records the queue name.
func (s *RedisStore) Add(ctx context.Context, queue string, payload Payload) error {
	queue, err := validateQueueName(queue)
	if err != nil {
		return err
	}
	if err := validatePayload(payload); err != nil {
		return err
	}

	opCtx, cancel := s.operationContext(ctx)
	defer cancel()
	opCtx, span := s.startSpan(opCtx, tracing.SpanOperationMsgPublish, queue, tracing.WithMessagingPayloadSize(len(payload)))

	_, err = s.client.TxPipelined(opCtx, func(pipe redis.Pipeliner) error {
		pipe.SAdd(opCtx, s.namesKey(), queue)
		pipe.RPush(opCtx, s.listKey(queue), []byte(payload))
		return nil
	})
	err = storeIOError("redis push", err)
	finishSpan(span, err)
	return err
}

// Pop removes the head of the queue list.
func (s *RedisStore) Pop(ctx context.Context, queue string) (Payload, bool, error) {
	queue, err := validateQueueName(queue)
	if err != nil {
		return nil, false, err
	}

	opCtx, cancel := s.operationContext(ctx)
	defer cancel()
	opCtx, span := s.startSpan(opCtx, tracing.SpanOperationMsgConsume, queue)

	raw, err := s.client.LPop(opCtx, s.listKey(queue)).Bytes()
	if errors.Is(err, redis.Nil) {
		finishSpan(span, nil)
		return nil, false, nil
	}
	err = storeIOError("redis pop", err)
	finishSpan(span, err)
	if err != nil {
		return nil, false, err
	}
	return Payload(raw), true, nil
}

// Peek reads the head of the queue list.
func (s *RedisStore) Peek(ctx context.Context, queue string) (Payload, bool, error) {
	queue, err := validateQueueName(queue)
	if err != nil {
		return nil, false, err
	}

	opCtx, cancel := s.operationContext(ctx)
	defer cancel()

	raw, err := s.client.LIndex(opCtx, s.listKey(queue), 0).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, storeIOError("redis peek", err)
	}
	return Payload(raw), true, nil
}

// List returns up to limit items from the head of the queue list.
func (s *RedisStore) List(ctx context.Context, queue string, limit int) ([]Payload, error) {
	queue, err := validateQueueName(queue)
	if err != nil {
		return nil, err
	}

	opCtx, cancel := s.operationContext(ctx)
	defer cancel()

	stop := int64(-1)
	if limit > 0 {
		stop = int64(limit - 1)
	}
	values, err := s.client.LRange(opCtx, s.listKey(queue), 0, stop).Result()
	if err != nil {
		return nil, storeIOError("redis list", err)
	}
	out := make([]Payload, 0, len(values))
	for _, value := range values {
		out = append(out, Payload(value))
	}
	return out, nil
}

// Length returns the list length of queue.
func (s *RedisStore) Length(ctx context.Context, queue string) (int, error) {
	queue, err := validateQueueName(queue)
	if err != nil {
		return 0, err
	}

	opCtx, cancel := s.operationContext(ctx)
	defer cancel()

	length, err := s.client.LLen(opCtx, s.listKey(queue)).Result()
	if err != nil {
		return 0, storeIOError("redis length", err)
	}
	return int(length), nil
}

// IsEmpty reports whether the queue list is empty.
func (s *RedisStore) IsEmpty(ctx context.Context, queue string) (bool, error) {
	length, err := s.Length(ctx, queue)
	return length == 0, err
}

// Truncate deletes every known queue list of this prefix.
func (s *RedisStore) Truncate(ctx context.Context) error {
	opCtx, cancel := s.operationContext(ctx)
	defer cancel()

	if err := truncateScript.Run(opCtx, s.client, []string{s.namesKey()}, s.config.Prefix).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return storeIOError("redis truncate", err)
	}
	return nil
}

// HealthCheck pings Redis.
func (s *RedisStore) HealthCheck(ctx context.Context) error {
	opCtx, cancel := s.operationContext(ctx)
	defer cancel()
	return storeIOError("redis ping", s.client.Ping(opCtx).Err())
}

// Close leaves the shared client open; its owner closes it.
func (s *RedisStore) Close() error { return nil }

func (s *RedisStore) listKey(queue string) string {
	return s.config.Prefix + ":q:" + queue
}

func (s *RedisStore) namesKey() string {
	return s.config.Prefix + ":queues"
}

func (s *RedisStore) operationContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithTimeout(ctx, s.config.OperationTimeout)
}

func (s *RedisStore) startSpan(ctx context.Context, op tracing.SpanOperation, queue string, opts ...tracing.MessagingSpanOption) (context.Context, trace.Span) {
	opts = append([]tracing.MessagingSpanOption{
		tracing.WithMessagingSystem("redis"),
		tracing.WithMessagingDestination(queue),
	}, opts...)
	return tracing.StartMessagingSpan(ctx, op, opts...)
}
