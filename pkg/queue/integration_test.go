package queue

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	_ "github.com/lib/pq"
	goredis "github.com/redis/go-redis/v9"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/nimburion/nimqueue/pkg/testutil"
)

func TestTableStore_Integration(t *testing.T) {
	testutil.RequireIntegration(t)
	ctx := context.Background()

	container, err := tcpostgres.Run(ctx,
		"postgres:17-alpine",
		tcpostgres.WithDatabase("queues"),
		tcpostgres.WithUsername("queue"),
		tcpostgres.WithPassword("queue"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	if err != nil {
		t.Fatalf("start postgres: %v", err)
	}
	defer func() {
		if err := testcontainers.TerminateContainer(container); err != nil {
			t.Logf("terminate postgres: %v", err)
		}
	}()

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("connection string: %v", err)
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	defer db.Close()

	store, err := NewTableStore(db, TableStoreConfig{})
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	if err := store.EnsureSchema(ctx); err != nil {
		t.Fatalf("ensure schema: %v", err)
	}

	t.Run("PopsNewestFirst", func(t *testing.T) {
		for _, value := range []string{`0`, `1`} {
			if err := store.Add(ctx, "default", Payload(value)); err != nil {
				t.Fatalf("add: %v", err)
			}
		}
		got, _ := drain(ctx, store, "default")
		if len(got) != 2 || got[0] != 1 || got[1] != 0 {
			t.Fatalf("expected LIFO order, got %v", got)
		}
	})

	t.Run("DeadLetterRoundTrip", func(t *testing.T) {
		driver, err := NewDriver(ConnectionConfig{Name: "database", Kind: KindTable, DataConnection: "primary"}, store, &queueTestLogger{})
		if err != nil {
			t.Fatalf("new driver: %v", err)
		}
		if err := driver.Queue("user:confirm").Add(ctx, Payload(`{"id":1}`)); err != nil {
			t.Fatalf("add: %v", err)
		}
		if _, err := driver.Queue("user:confirm").Process(ctx, func(context.Context, Payload) error {
			return errors.New("boom")
		}); err != nil {
			t.Fatalf("process: %v", err)
		}

		var former string
		if err := db.QueryRowContext(ctx, `SELECT former_queue FROM jobs WHERE queue = 'deadletter'`).Scan(&former); err != nil {
			t.Fatalf("select dead letter: %v", err)
		}
		if former != "user:confirm" {
			t.Fatalf("former_queue = %q", former)
		}
		if moved, err := driver.Redrive(ctx, 0); err != nil || moved != 1 {
			t.Fatalf("redrive: %d %v", moved, err)
		}
	})

	t.Run("Truncate", func(t *testing.T) {
		if err := store.Add(ctx, "mail", Payload(`{}`)); err != nil {
			t.Fatalf("add: %v", err)
		}
		if err := store.Truncate(ctx); err != nil {
			t.Fatalf("truncate: %v", err)
		}
		for _, queue := range []string{"mail", "user:confirm", "deadletter"} {
			if empty, err := store.IsEmpty(ctx, queue); err != nil || !empty {
				t.Fatalf("queue %s not empty: %v", queue, err)
			}
		}
	})
}

func TestRedisStore_Integration(t *testing.T) {
	testutil.RequireIntegration(t)
	ctx := context.Background()

	container, err := tcredis.Run(ctx,
		"redis:7-alpine",
		testcontainers.WithWaitStrategy(
			wait.ForLog("Ready to accept connections").
				WithStartupTimeout(60*time.Second),
		),
	)
	if err != nil {
		t.Fatalf("start redis: %v", err)
	}
	defer func() {
		if err := testcontainers.TerminateContainer(container); err != nil {
			t.Logf("terminate redis: %v", err)
		}
	}()

	url, err := container.ConnectionString(ctx)
	if err != nil {
		t.Fatalf("connection string: %v", err)
	}
	options, err := goredis.ParseURL(url)
	if err != nil {
		t.Fatalf("parse url: %v", err)
	}
	client := goredis.NewClient(options)
	defer client.Close()

	store, err := NewRedisStore(client, RedisStoreConfig{Prefix: "test"})
	if err != nil {
		t.Fatalf("new store: %v", err)
	}

	for _, value := range []string{`0`, `1`, `2`} {
		if err := store.Add(ctx, "default", Payload(value)); err != nil {
			t.Fatalf("add: %v", err)
		}
	}
	if err := store.Add(ctx, "deadletter", Payload(`{"queue":"default","data":1}`)); err != nil {
		t.Fatalf("add dead letter: %v", err)
	}

	if length, err := store.Length(ctx, "default"); err != nil || length != 3 {
		t.Fatalf("length = %d %v", length, err)
	}
	head, err := store.List(ctx, "default", 2)
	if err != nil || len(head) != 2 || string(head[0]) != "0" {
		t.Fatalf("list = %q %v", head, err)
	}
	got, ok := drain(ctx, store, "default")
	if !ok || len(got) != 3 || got[0] != 0 || got[2] != 2 {
		t.Fatalf("expected FIFO order, got %v", got)
	}

	if err := store.Truncate(ctx); err != nil {
		t.Fatalf("truncate: %v", err)
	}
	if empty, err := store.IsEmpty(ctx, "deadletter"); err != nil || !empty {
		t.Fatalf("dead-letter queue survived truncate: %v", err)
	}
	if err := store.HealthCheck(ctx); err != nil {
		t.Fatalf("health check: %v", err)
	}
}
