package jobs

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/nimburion/nimqueue/pkg/email"
	"github.com/nimburion/nimqueue/pkg/health"
	"github.com/nimburion/nimqueue/pkg/observability/logger"
	"github.com/nimburion/nimqueue/pkg/queue"
	"github.com/nimburion/nimqueue/pkg/resilience"
)

type jobsTestLogger struct{}

func (l *jobsTestLogger) Debug(string, ...any) {}
func (l *jobsTestLogger) Info(string, ...any)  {}
func (l *jobsTestLogger) Warn(string, ...any)  {}
func (l *jobsTestLogger) Error(string, ...any) {}
func (l *jobsTestLogger) With(...any) logger.Logger {
	return l
}
func (l *jobsTestLogger) WithContext(context.Context) logger.Logger {
	return l
}

type fakeProvider struct {
	mu       sync.Mutex
	sent     []email.Message
	failWith error
}

func (p *fakeProvider) Send(_ context.Context, message email.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failWith != nil {
		return p.failWith
	}
	p.sent = append(p.sent, message)
	return nil
}

func (p *fakeProvider) Close() error { return nil }

func newTestMailer(t *testing.T, provider email.Provider, cfg MailerConfig) *Mailer {
	t.Helper()
	views, err := email.NewViews()
	if err != nil {
		t.Fatalf("new views: %v", err)
	}
	if cfg.From == "" {
		cfg.From = "noreply@example.com"
	}
	if cfg.AppName == "" {
		cfg.AppName = "Athenna"
	}
	mailer, err := NewMailer(provider, views, cfg, &jobsTestLogger{})
	if err != nil {
		t.Fatalf("new mailer: %v", err)
	}
	return mailer
}

func noop(context.Context, queue.Payload) error { return nil }

func TestRegistry_Register(t *testing.T) {
	registry := NewRegistry()
	if err := registry.Register(Binding{Name: "user.confirm", Connection: "vanilla", Queue: "user:confirm", Handler: noop}); err != nil {
		t.Fatalf("register: %v", err)
	}

	tests := []struct {
		name    string
		binding Binding
	}{
		{name: "missing name", binding: Binding{Queue: "q", Handler: noop}},
		{name: "missing queue", binding: Binding{Name: "x", Queue: " ", Handler: noop}},
		{name: "missing handler", binding: Binding{Name: "x", Queue: "q"}},
		{name: "duplicate name", binding: Binding{Name: "user.confirm", Connection: "vanilla", Queue: "other", Handler: noop}},
		{name: "duplicate queue", binding: Binding{Name: "other", Connection: "vanilla", Queue: "user:confirm", Handler: noop}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := registry.Register(tt.binding); !errors.Is(err, ErrConfiguration) {
				t.Fatalf("expected ErrConfiguration, got %v", err)
			}
		})
	}

	if err := registry.Register(Binding{Name: "db.confirm", Connection: "database", Queue: "user:confirm", Handler: noop}); err != nil {
		t.Fatalf("same queue on another connection must be allowed: %v", err)
	}
}

func TestRegistry_BindingsSorted(t *testing.T) {
	registry := NewRegistry()
	for _, b := range []Binding{
		{Name: "c", Connection: "vanilla", Queue: "b"},
		{Name: "a", Connection: "database", Queue: "z"},
		{Name: "b", Connection: "vanilla", Queue: "a"},
	} {
		b.Handler = noop
		if err := registry.Register(b); err != nil {
			t.Fatalf("register: %v", err)
		}
	}
	var got []string
	for _, b := range registry.Bindings() {
		got = append(got, b.Key())
	}
	if strings.Join(got, ",") != "database/z,vanilla/a,vanilla/b" {
		t.Fatalf("bindings = %v", got)
	}
	if _, ok := registry.Lookup("a"); !ok {
		t.Fatal("lookup a failed")
	}
	if _, ok := registry.Lookup("missing"); ok {
		t.Fatal("lookup of unknown job succeeded")
	}
}

func TestMailJobsEndToEnd(t *testing.T) {
	ctx := context.Background()
	manager, err := queue.NewManager(queue.ManagerConfig{}, queue.MemoryOpener, &jobsTestLogger{})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	defer manager.Close()

	provider := &fakeProvider{}
	mailer := newTestMailer(t, provider, MailerConfig{AppURL: "https://app.example.com/"})
	registry := NewRegistry()
	if err := RegisterMailJobs(registry, "", mailer); err != nil {
		t.Fatalf("register mail jobs: %v", err)
	}
	dispatcher, err := NewDispatcher(registry, manager, &jobsTestLogger{})
	if err != nil {
		t.Fatalf("new dispatcher: %v", err)
	}

	user := email.Recipient{ID: 7, Name: "Ada", Email: "ada@example.com"}
	if err := dispatcher.Dispatch(ctx, "user.email", MailPayload{User: user, Email: "new@example.com", Token: "t-1"}); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if depth, _ := manager.QueueDepth(ctx, "", "user:email"); depth != 1 {
		t.Fatalf("user:email depth = %d", depth)
	}

	binding, _ := registry.Lookup("user.email")
	driver, err := manager.Connection(ctx, binding.Connection)
	if err != nil {
		t.Fatalf("connection: %v", err)
	}
	if processed, err := driver.Queue(binding.Queue).Process(ctx, binding.Handler); err != nil || !processed {
		t.Fatalf("process: %v %v", processed, err)
	}

	if len(provider.sent) != 1 {
		t.Fatalf("expected one mail, got %d", len(provider.sent))
	}
	msg := provider.sent[0]
	if msg.Subject != "Athenna Email Change" {
		t.Fatalf("subject = %q", msg.Subject)
	}
	if msg.From != "noreply@example.com" || msg.To[0] != "ada@example.com" {
		t.Fatalf("envelope = %s -> %v", msg.From, msg.To)
	}
	if !strings.Contains(msg.HTMLBody, "new@example.com") || !strings.Contains(msg.HTMLBody, "https://app.example.com/api/users/confirm/email") {
		t.Fatalf("unexpected body:\n%s", msg.HTMLBody)
	}
}

func TestMailer_GenericMailUsesPayloadSubjectAndView(t *testing.T) {
	provider := &fakeProvider{}
	mailer := newTestMailer(t, provider, MailerConfig{})

	err := mailer.Send(context.Background(), JobMail, MailPayload{
		View:    "mail/change-password",
		Subject: "Your password",
		User:    email.Recipient{Name: "Ada", Email: "ada@example.com"},
		Token:   "t",
	})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if provider.sent[0].Subject != "Your password" {
		t.Fatalf("subject = %q", provider.sent[0].Subject)
	}
}

func TestMailer_InvalidPayloads(t *testing.T) {
	mailer := newTestMailer(t, &fakeProvider{}, MailerConfig{})
	tests := []struct {
		name    string
		job     MailJob
		payload MailPayload
	}{
		{name: "no view", job: JobMail, payload: MailPayload{Subject: "s", User: email.Recipient{Email: "a@example.com"}}},
		{name: "no recipient", job: JobUserConfirm},
		{name: "no subject", job: JobMail, payload: MailPayload{View: "mail/confirm", User: email.Recipient{Email: "a@example.com"}}},
		{name: "unknown view", job: JobMail, payload: MailPayload{View: "mail/nope", Subject: "s", User: email.Recipient{Email: "a@example.com"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := mailer.Send(context.Background(), tt.job, tt.payload); !errors.Is(err, ErrValidation) {
				t.Fatalf("expected ErrValidation, got %v", err)
			}
		})
	}

	if err := mailer.Handler(JobUserConfirm)(context.Background(), queue.Payload(`[1,2]`)); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected decode failure as ErrValidation, got %v", err)
	}
}

func TestMailer_FailedDeliveryIsDeadLettered(t *testing.T) {
	ctx := context.Background()
	manager, err := queue.NewManager(queue.ManagerConfig{}, queue.MemoryOpener, &jobsTestLogger{})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	defer manager.Close()

	provider := &fakeProvider{failWith: errors.New("relay refused")}
	mailer := newTestMailer(t, provider, MailerConfig{Breaker: resilience.BreakerConfig{MaxFailures: 1}})
	payload := MailPayload{User: email.Recipient{Name: "Ada", Email: "ada@example.com"}, Token: "t"}
	if err := manager.Enqueue(ctx, "", JobUserConfirm.Queue, payload); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	driver, _ := manager.Connection(ctx, "")
	if _, err := driver.Queue(JobUserConfirm.Queue).Process(ctx, mailer.Handler(JobUserConfirm)); err != nil {
		t.Fatalf("process: %v", err)
	}
	records, err := manager.DeadLetters(ctx, "", 0)
	if err != nil || len(records) != 1 {
		t.Fatalf("dead letters = %v %v", records, err)
	}
	if !strings.Contains(records[0].Reason, "relay refused") {
		t.Fatalf("reason = %q", records[0].Reason)
	}

	if mailer.BreakerState() != resilience.StateOpen {
		t.Fatalf("breaker = %s", mailer.BreakerState())
	}
	result := NewMailHealthChecker("", mailer).Check(ctx)
	if result.Status != health.StatusDegraded || result.Name != "mail-delivery" {
		t.Fatalf("health = %+v", result)
	}
}

func TestDispatcher_UnknownJob(t *testing.T) {
	manager, err := queue.NewManager(queue.ManagerConfig{}, queue.MemoryOpener, &jobsTestLogger{})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	defer manager.Close()
	dispatcher, err := NewDispatcher(NewRegistry(), manager, &jobsTestLogger{})
	if err != nil {
		t.Fatalf("new dispatcher: %v", err)
	}
	if err := dispatcher.Dispatch(context.Background(), "user.delete", map[string]int{"id": 1}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestNewMailer_Validation(t *testing.T) {
	views, _ := email.NewViews()
	if _, err := NewMailer(nil, views, MailerConfig{From: "x"}, &jobsTestLogger{}); err == nil {
		t.Fatal("expected provider error")
	}
	if _, err := NewMailer(&fakeProvider{}, views, MailerConfig{}, &jobsTestLogger{}); !errors.Is(err, ErrConfiguration) {
		t.Fatalf("expected ErrConfiguration, got %v", err)
	}
}
