package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/time/rate"

	"github.com/nimburion/nimqueue/pkg/email"
	"github.com/nimburion/nimqueue/pkg/observability/logger"
	"github.com/nimburion/nimqueue/pkg/queue"
	"github.com/nimburion/nimqueue/pkg/resilience"
)

// MailJob describes one mail job type. An empty Subject or View is taken from the payload.
type MailJob struct {
	Name    string
	Queue   string
	Subject string
	View    string
}

// Mail job types.
var (
	JobMail              = MailJob{Name: "mail", Queue: "mail"}
	JobUserConfirm       = MailJob{Name: "user.confirm", Queue: "user:confirm", Subject: "Account Confirmation", View: "mail/confirm"}
	JobUserEmail         = MailJob{Name: "user.email", Queue: "user:email", Subject: "Email Change", View: "mail/change-email"}
	JobUserPassword      = MailJob{Name: "user.password", Queue: "user:password", Subject: "Password Change", View: "mail/change-password"}
	JobUserEmailPassword = MailJob{Name: "user.email_pass", Queue: "user:email:password", Subject: "Email & Password Change", View: "mail/change-email-password"}
)

// MailJobs lists every mail job type.
func MailJobs() []MailJob {
	return []MailJob{JobMail, JobUserConfirm, JobUserEmail, JobUserPassword, JobUserEmailPassword}
}

// MailPayload is the item pushed to a mail queue.
type MailPayload struct {
	View     string          `json:"view,omitempty"`
	Subject  string          `json:"subject,omitempty"`
	User     email.Recipient `json:"user"`
	Email    string          `json:"email,omitempty"`
	Password string          `json:"password,omitempty"`
	Token    string          `json:"token,omitempty"`
}

// MailerConfig configures a Mailer.
type MailerConfig struct {
	// From is the no-reply sender of every mail.
	From    string
	AppName string
	AppURL  string
	// RateLimit is the sustained number of mails per second. Zero disables limiting.
	RateLimit float64
	Burst     int
	Breaker   resilience.BreakerConfig
}

func (c *MailerConfig) normalize() {
	c.From = strings.TrimSpace(c.From)
	c.AppName = strings.TrimSpace(c.AppName)
	c.AppURL = strings.TrimRight(strings.TrimSpace(c.AppURL), "/")
	if c.Burst <= 0 {
		c.Burst = 1
	}
}

// Mailer renders mail views and hands them to an email provider behind a
// rate limiter and a circuit breaker.
type Mailer struct {
	provider email.Provider
	views    *email.Views
	config   MailerConfig
	limiter  *rate.Limiter
	breaker  *resilience.CircuitBreaker
	log      logger.Logger
}

// NewMailer creates a mailer.
func NewMailer(provider email.Provider, views *email.Views, cfg MailerConfig, log logger.Logger) (*Mailer, error) {
	if provider == nil {
		return nil, errors.New("email provider is required")
	}
	if views == nil {
		return nil, errors.New("mail views are required")
	}
	if log == nil {
		return nil, errors.New("logger is required")
	}
	cfg.normalize()
	if cfg.From == "" {
		return nil, jobsError(ErrConfiguration, "mail sender is required")
	}

	limit := rate.Inf
	if cfg.RateLimit > 0 {
		limit = rate.Limit(cfg.RateLimit)
	}
	return &Mailer{
		provider: provider,
		views:    views,
		config:   cfg,
		limiter:  rate.NewLimiter(limit, cfg.Burst),
		breaker:  resilience.NewCircuitBreaker(cfg.Breaker),
		log:      log,
	}, nil
}

// Handler returns the queue handler for job.
func (m *Mailer) Handler(job MailJob) queue.Handler {
	return func(ctx context.Context, raw queue.Payload) error {
		var payload MailPayload
		if err := json.Unmarshal(raw, &payload); err != nil {
			return jobsError(ErrValidation, fmt.Sprintf("decode %s payload: %v", job.Name, err))
		}
		return m.Send(ctx, job, payload)
	}
}

// Send renders and delivers one mail for job.
func (m *Mailer) Send(ctx context.Context, job MailJob, payload MailPayload) error {
	message, view, err := m.compose(job, payload)
	if err != nil {
		recordMailSent(view, "invalid")
		return err
	}

	if err := m.limiter.Wait(ctx); err != nil {
		recordMailSent(view, "rate_limited")
		return jobsError(ErrRateLimited, err.Error())
	}

	err = m.breaker.Execute(ctx, func(ctx context.Context) error {
		return m.provider.Send(ctx, message)
	})
	if err != nil {
		recordMailSent(view, "failed")
		return fmt.Errorf("send %s mail: %w", job.Name, err)
	}
	recordMailSent(view, "sent")
	m.log.WithContext(ctx).Debug("mail delivered", "job", job.Name, "view", view)
	return nil
}

// BreakerState reports the delivery circuit breaker state.
func (m *Mailer) BreakerState() resilience.State {
	return m.breaker.State()
}

// Close releases the provider.
func (m *Mailer) Close() error {
	return m.provider.Close()
}

func (m *Mailer) compose(job MailJob, payload MailPayload) (email.Message, string, error) {
	view := firstNonBlank(job.View, payload.View)
	if view == "" {
		return email.Message{}, "", jobsError(ErrValidation, fmt.Sprintf("%s payload has no view", job.Name))
	}
	to := strings.TrimSpace(payload.User.Email)
	if to == "" {
		return email.Message{}, view, jobsError(ErrValidation, fmt.Sprintf("%s payload has no user email", job.Name))
	}

	subject := strings.TrimSpace(payload.Subject)
	if job.Subject != "" {
		subject = strings.TrimSpace(m.config.AppName + " " + job.Subject)
	}
	if subject == "" {
		return email.Message{}, view, jobsError(ErrValidation, fmt.Sprintf("%s payload has no subject", job.Name))
	}

	html, err := m.views.Render(view, email.ViewData{
		AppName:  m.config.AppName,
		AppURL:   m.config.AppURL,
		User:     payload.User,
		Email:    payload.Email,
		Password: payload.Password,
		Token:    payload.Token,
	})
	if err != nil {
		return email.Message{}, view, jobsError(ErrValidation, err.Error())
	}

	return email.Message{
		From:     m.config.From,
		To:       []string{to},
		Subject:  subject,
		HTMLBody: html,
	}, view, nil
}

// RegisterMailJobs binds every mail job type to its queue on connection.
func RegisterMailJobs(registry *Registry, connection string, mailer *Mailer) error {
	if registry == nil || mailer == nil {
		return errors.New("registry and mailer are required")
	}
	for _, job := range MailJobs() {
		if err := registry.Register(Binding{
			Name:       job.Name,
			Connection: connection,
			Queue:      job.Queue,
			Handler:    mailer.Handler(job),
		}); err != nil {
			return err
		}
	}
	return nil
}

func firstNonBlank(values ...string) string {
	for _, value := range values {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			return trimmed
		}
	}
	return ""
}
