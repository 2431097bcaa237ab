package queue

import (
	"context"
	"errors"
	"testing"
)

type failingAddStore struct {
	*MemoryStore
	failQueue string
}

func (s *failingAddStore) Add(ctx context.Context, queue string, payload Payload) error {
	if queue == s.failQueue {
		return storeIOError("insert", errors.New("disk full"))
	}
	return s.MemoryStore.Add(ctx, queue, payload)
}

func TestHandle_ProcessSuccess(t *testing.T) {
	ctx := context.Background()
	driver := newMemoryDriver(t)
	handle := driver.Queue("mail")

	if err := handle.Add(ctx, mustPayload(t, map[string]any{"to": "a@example.com"})); err != nil {
		t.Fatalf("add: %v", err)
	}

	var received map[string]any
	processed, err := handle.Process(ctx, func(_ context.Context, payload Payload) error {
		received = decodeMap(t, payload)
		return nil
	})
	if err != nil || !processed {
		t.Fatalf("process: processed=%v err=%v", processed, err)
	}
	if received["to"] != "a@example.com" {
		t.Fatalf("handler received %v", received)
	}
	if empty, _ := handle.IsEmpty(ctx); !empty {
		t.Fatal("processed item must be removed")
	}
	if length, _ := driver.DeadLetters().Length(ctx); length != 0 {
		t.Fatalf("dead-letter queue should be empty, got %d", length)
	}
}

func TestHandle_ProcessEmptyQueue(t *testing.T) {
	called := false
	processed, err := newMemoryDriver(t).Queue("").Process(context.Background(), func(context.Context, Payload) error {
		called = true
		return nil
	})
	if processed || err != nil || called {
		t.Fatalf("processed=%v err=%v called=%v", processed, err, called)
	}
}

func TestHandle_ProcessFailureGoesToDeadLetter(t *testing.T) {
	ctx := context.Background()
	driver := newMemoryDriver(t)
	handle := driver.Queue("user:confirm")

	if err := handle.Add(ctx, Payload(`{"id":42}`)); err != nil {
		t.Fatalf("add: %v", err)
	}
	processed, err := handle.Process(ctx, func(context.Context, Payload) error {
		return errors.New("boom")
	})
	if err != nil {
		t.Fatalf("handler failures must not be returned, got %v", err)
	}
	if !processed {
		t.Fatal("expected item to be consumed")
	}
	if empty, _ := handle.IsEmpty(ctx); !empty {
		t.Fatal("failed item must leave the origin queue")
	}

	raw, ok, err := driver.DeadLetters().Pop(ctx)
	if err != nil || !ok {
		t.Fatalf("dead-letter pop: ok=%v err=%v", ok, err)
	}
	record, err := DecodeDeadLetter(raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if record.OriginQueue != "user:confirm" {
		t.Fatalf("origin queue = %q", record.OriginQueue)
	}
	if string(record.Payload) != `{"id":42}` {
		t.Fatalf("payload = %s", record.Payload)
	}
	if record.Reason != "boom" || record.ID == "" || record.FailedAt.IsZero() {
		t.Fatalf("incomplete record: %+v", record)
	}
}

func TestHandle_ProcessRecoversPanics(t *testing.T) {
	ctx := context.Background()
	driver := newMemoryDriver(t)
	if err := driver.Queue("").Add(ctx, Payload(`1`)); err != nil {
		t.Fatalf("add: %v", err)
	}

	processed, err := driver.Queue("").Process(ctx, func(context.Context, Payload) error {
		panic("nil map")
	})
	if err != nil || !processed {
		t.Fatalf("processed=%v err=%v", processed, err)
	}
	if length, _ := driver.DeadLetters().Length(ctx); length != 1 {
		t.Fatalf("expected panic to be dead-lettered, got %d", length)
	}
}

func TestHandle_ProcessDeadLetterWriteFailure(t *testing.T) {
	ctx := context.Background()
	store := &failingAddStore{MemoryStore: NewMemoryStore(), failQueue: DefaultDeadLetterQueue}
	driver, err := NewDriver(ConnectionConfig{Name: "vanilla"}, store, &queueTestLogger{})
	if err != nil {
		t.Fatalf("new driver: %v", err)
	}
	if err := driver.Queue("").Add(ctx, Payload(`1`)); err != nil {
		t.Fatalf("add: %v", err)
	}

	processed, err := driver.Queue("").Process(ctx, func(context.Context, Payload) error {
		return errors.New("boom")
	})
	if !processed || !errors.Is(err, ErrStoreIO) {
		t.Fatalf("expected consumed item and store error, got processed=%v err=%v", processed, err)
	}
}

func TestDriver_QueueHandlesAreIndependent(t *testing.T) {
	ctx := context.Background()
	driver := newMemoryDriver(t)
	mail := driver.Queue("mail")
	confirm := driver.Queue("user:confirm")

	if err := mail.Add(ctx, Payload(`1`)); err != nil {
		t.Fatalf("add: %v", err)
	}
	if mail.Name() != "mail" || confirm.Name() != "user:confirm" {
		t.Fatalf("handles changed names: %s %s", mail.Name(), confirm.Name())
	}
	if length, _ := confirm.Length(ctx); length != 0 {
		t.Fatalf("user:confirm should be empty, got %d", length)
	}
	if driver.Queue(" ").Name() != DefaultQueueName {
		t.Fatalf("blank queue name must select the default queue")
	}
}

func TestDriver_TruncateViaHandleClearsAllQueues(t *testing.T) {
	ctx := context.Background()
	driver := newMemoryDriver(t)
	_ = driver.Queue("a").Add(ctx, Payload(`1`))
	_ = driver.DeadLetters().Add(ctx, Payload(`2`))

	if err := driver.Queue("b").Truncate(ctx); err != nil {
		t.Fatalf("truncate: %v", err)
	}
	if empty, _ := driver.Queue("a").IsEmpty(ctx); !empty {
		t.Fatal("queue a not cleared")
	}
	if empty, _ := driver.DeadLetters().IsEmpty(ctx); !empty {
		t.Fatal("dead-letter queue not cleared")
	}
}

func TestDriver_Redrive(t *testing.T) {
	ctx := context.Background()
	driver := newMemoryDriver(t)
	for _, queue := range []string{"mail", "user:email", "mail"} {
		_ = driver.Queue(queue).Add(ctx, Payload(`{"n":1}`))
		_, _ = driver.Queue(queue).Process(ctx, func(context.Context, Payload) error { return errors.New("smtp down") })
	}

	moved, err := driver.Redrive(ctx, 2)
	if err != nil || moved != 2 {
		t.Fatalf("redrive: moved=%d err=%v", moved, err)
	}
	if length, _ := driver.DeadLetters().Length(ctx); length != 1 {
		t.Fatalf("expected one record left, got %d", length)
	}

	moved, err = driver.Redrive(ctx, 0)
	if err != nil || moved != 1 {
		t.Fatalf("redrive all: moved=%d err=%v", moved, err)
	}
	if length, _ := driver.Queue("mail").Length(ctx); length != 2 {
		t.Fatalf("mail should hold 2 items, got %d", length)
	}
	if length, _ := driver.Queue("user:email").Length(ctx); length != 1 {
		t.Fatalf("user:email should hold 1 item, got %d", length)
	}
}

func TestDriver_RedriveSkipsUndecodableRecords(t *testing.T) {
	ctx := context.Background()
	driver := newMemoryDriver(t)
	_ = driver.DeadLetters().Add(ctx, Payload(`"not a record"`))
	_ = driver.Queue("mail").Add(ctx, Payload(`{"n":1}`))
	_, _ = driver.Queue("mail").Process(ctx, func(context.Context, Payload) error { return errors.New("smtp down") })

	moved, err := driver.Redrive(ctx, 0)
	if err != nil || moved != 1 {
		t.Fatalf("redrive: moved=%d err=%v", moved, err)
	}
	if length, _ := driver.Queue("mail").Length(ctx); length != 1 {
		t.Fatalf("record behind the undecodable one was not moved, mail=%d", length)
	}
	payload, ok, _ := driver.DeadLetters().Peek(ctx)
	if !ok || string(payload) != `"not a record"` {
		t.Fatalf("undecodable record must stay in the dead-letter queue, got %s ok=%v", payload, ok)
	}

	moved, err = driver.Redrive(ctx, 0)
	if err != nil || moved != 0 {
		t.Fatalf("second redrive: moved=%d err=%v", moved, err)
	}
	if length, _ := driver.DeadLetters().Length(ctx); length != 1 {
		t.Fatalf("dead-letter length = %d", length)
	}
}

func TestDriver_RedriveRestoresRecordWhenOriginRejects(t *testing.T) {
	ctx := context.Background()
	store := &failingAddStore{MemoryStore: NewMemoryStore()}
	driver, err := NewDriver(ConnectionConfig{Name: "vanilla"}, store, &queueTestLogger{})
	if err != nil {
		t.Fatalf("new driver: %v", err)
	}
	_ = driver.Queue("mail").Add(ctx, Payload(`{"to":"a@example.com"}`))
	_, _ = driver.Queue("mail").Process(ctx, func(context.Context, Payload) error { return errors.New("smtp down") })
	before, _ := driver.DeadLetters().List(ctx, 0)
	if len(before) != 1 {
		t.Fatalf("expected one dead-letter record, got %d", len(before))
	}

	store.failQueue = "mail"
	moved, err := driver.Redrive(ctx, 0)
	if moved != 0 || !errors.Is(err, ErrStoreIO) {
		t.Fatalf("expected store error, got moved=%d err=%v", moved, err)
	}
	after, _ := driver.DeadLetters().List(ctx, 0)
	if len(after) != 1 {
		t.Fatalf("record lost: dead-letter queue holds %d", len(after))
	}
	original, _ := DecodeDeadLetter(before[0])
	restored, err := DecodeDeadLetter(after[0])
	if err != nil || restored.ID != original.ID || restored.OriginQueue != "mail" {
		t.Fatalf("restored record differs: %+v err=%v", restored, err)
	}

	store.failQueue = ""
	if moved, err := driver.Redrive(ctx, 0); err != nil || moved != 1 {
		t.Fatalf("redrive after recovery: moved=%d err=%v", moved, err)
	}
}

func TestNewDriver_Validation(t *testing.T) {
	if _, err := NewDriver(ConnectionConfig{Name: "x"}, nil, &queueTestLogger{}); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument, got %v", err)
	}
	if _, err := NewDriver(ConnectionConfig{Name: "x"}, NewMemoryStore(), nil); err == nil {
		t.Fatal("expected logger error")
	}
	_, err := NewDriver(ConnectionConfig{Name: "x", Queue: "same", DeadLetter: "same"}, NewMemoryStore(), &queueTestLogger{})
	if !errors.Is(err, ErrConfiguration) {
		t.Fatalf("expected ErrConfiguration, got %v", err)
	}
}
