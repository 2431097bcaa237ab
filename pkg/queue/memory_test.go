package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
)

func TestMemoryStore_FIFO(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	for _, value := range []string{`"a"`, `"b"`} {
		if err := store.Add(ctx, "default", Payload(value)); err != nil {
			t.Fatalf("add %s: %v", value, err)
		}
	}

	peeked, ok, err := store.Peek(ctx, "default")
	if err != nil || !ok || string(peeked) != `"a"` {
		t.Fatalf("peek = %s %v %v", peeked, ok, err)
	}
	if length, _ := store.Length(ctx, "default"); length != 2 {
		t.Fatalf("peek must not remove items, length=%d", length)
	}

	for _, want := range []string{`"a"`, `"b"`} {
		got, ok, err := store.Pop(ctx, "default")
		if err != nil || !ok {
			t.Fatalf("pop: ok=%v err=%v", ok, err)
		}
		if string(got) != want {
			t.Fatalf("expected %s, got %s", want, got)
		}
	}

	if _, ok, err := store.Pop(ctx, "default"); ok || err != nil {
		t.Fatalf("pop on empty queue returned ok=%v err=%v", ok, err)
	}
	empty, err := store.IsEmpty(ctx, "default")
	if err != nil || !empty {
		t.Fatalf("expected empty queue, got %v %v", empty, err)
	}
}

func TestMemoryStore_QueuesAreIndependent(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore("default", "deadletter")

	if err := store.Add(ctx, "user:confirm", Payload(`{"id":1}`)); err != nil {
		t.Fatalf("add: %v", err)
	}
	if length, _ := store.Length(ctx, "default"); length != 0 {
		t.Fatalf("default queue should stay empty, got %d", length)
	}
	if length, _ := store.Length(ctx, "never-used"); length != 0 {
		t.Fatalf("unknown queue should be empty, got %d", length)
	}
	if length, _ := store.Length(ctx, "user:confirm"); length != 1 {
		t.Fatalf("expected 1 item, got %d", length)
	}
}

func TestMemoryStore_TruncateClearsEveryQueue(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	for _, queue := range []string{"default", "deadletter", "mail"} {
		if err := store.Add(ctx, queue, Payload(`1`)); err != nil {
			t.Fatalf("add: %v", err)
		}
	}
	if err := store.Truncate(ctx); err != nil {
		t.Fatalf("truncate: %v", err)
	}
	for _, queue := range []string{"default", "deadletter", "mail"} {
		if empty, _ := store.IsEmpty(ctx, queue); !empty {
			t.Fatalf("queue %s not truncated", queue)
		}
	}
}

func TestMemoryStore_List(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	for i := 0; i < 5; i++ {
		if err := store.Add(ctx, "default", Payload(fmt.Sprint(i))); err != nil {
			t.Fatalf("add: %v", err)
		}
	}

	head, err := store.List(ctx, "default", 2)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(head) != 2 || string(head[0]) != "0" || string(head[1]) != "1" {
		t.Fatalf("unexpected head: %q", head)
	}
	all, _ := store.List(ctx, "default", 0)
	if len(all) != 5 {
		t.Fatalf("expected 5 items, got %d", len(all))
	}
	all[0][0] = 'x'
	peeked, _, _ := store.Peek(ctx, "default")
	if string(peeked) != "0" {
		t.Fatalf("list must return copies, head is now %s", peeked)
	}
}

func TestMemoryStore_RejectsInvalidInput(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	tests := []struct {
		name    string
		queue   string
		payload Payload
	}{
		{name: "empty queue", queue: " ", payload: Payload(`1`)},
		{name: "empty payload", queue: "default"},
		{name: "invalid json", queue: "default", payload: Payload(`{"a":`)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := store.Add(ctx, tt.queue, tt.payload)
			if !errors.Is(err, ErrInvalidArgument) {
				t.Fatalf("expected ErrInvalidArgument, got %v", err)
			}
		})
	}
}

func TestMemoryStore_ConcurrentAdds(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if err := store.Add(ctx, "default", Payload(fmt.Sprint(i))); err != nil {
				t.Errorf("add %d: %v", i, err)
			}
		}(i)
	}
	wg.Wait()

	if length, _ := store.Length(ctx, "default"); length != 100 {
		t.Fatalf("expected 100 items, got %d", length)
	}
	seen := map[string]bool{}
	for {
		payload, ok, err := store.Pop(ctx, "default")
		if err != nil {
			t.Fatalf("pop: %v", err)
		}
		if !ok {
			break
		}
		seen[string(payload)] = true
	}
	if len(seen) != 100 {
		t.Fatalf("expected 100 distinct items, got %d", len(seen))
	}
}

func TestDiscardStore(t *testing.T) {
	ctx := context.Background()
	store := NewDiscardStore()

	if err := store.Add(ctx, "default", Payload(`{"id":1}`)); err != nil {
		t.Fatalf("add: %v", err)
	}
	if _, ok, _ := store.Pop(ctx, "default"); ok {
		t.Fatal("discard store must never return items")
	}
	if length, _ := store.Length(ctx, "default"); length != 0 {
		t.Fatalf("expected 0, got %d", length)
	}
	if empty, _ := store.IsEmpty(ctx, "default"); !empty {
		t.Fatal("discard store must always be empty")
	}
	if store.Kind() != KindDiscard {
		t.Fatalf("unexpected kind %s", store.Kind())
	}
}
