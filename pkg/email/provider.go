package email

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/nimburion/nimqueue/pkg/observability/logger"
)

// Provider delivers a rendered message.
type Provider interface {
	Send(ctx context.Context, message Message) error
	Close() error
}

// Message is the provider-neutral email accepted by every Provider.
type Message struct {
	From     string
	To       []string
	Cc       []string
	Bcc      []string
	ReplyTo  string
	Subject  string
	TextBody string
	HTMLBody string
	Headers  map[string]string
}

// Recipients returns To, Cc and Bcc as one list.
func (m Message) Recipients() []string {
	out := make([]string, 0, len(m.To)+len(m.Cc)+len(m.Bcc))
	out = append(out, m.To...)
	out = append(out, m.Cc...)
	return append(out, m.Bcc...)
}

func (m Message) normalized() Message {
	cp := m
	cp.From = strings.TrimSpace(cp.From)
	cp.ReplyTo = strings.TrimSpace(cp.ReplyTo)
	cp.Subject = strings.TrimSpace(cp.Subject)
	cp.To = normalizeAddresses(cp.To)
	cp.Cc = normalizeAddresses(cp.Cc)
	cp.Bcc = normalizeAddresses(cp.Bcc)
	return cp
}

func (m Message) validate() error {
	if len(m.Recipients()) == 0 {
		return errors.New("at least one recipient is required")
	}
	if m.Subject == "" {
		return errors.New("email subject is required")
	}
	if strings.TrimSpace(m.TextBody) == "" && strings.TrimSpace(m.HTMLBody) == "" {
		return errors.New("email body is required (text or html)")
	}
	return nil
}

// prepare normalizes message, fills the sender and validates the result.
func prepare(message Message, defaultFrom string) (Message, error) {
	msg := message.normalized()
	if msg.From == "" {
		msg.From = strings.TrimSpace(defaultFrom)
	}
	if msg.From == "" {
		return Message{}, fmt.Errorf("message.from is required when provider default sender is empty")
	}
	if err := msg.validate(); err != nil {
		return Message{}, err
	}
	return msg, nil
}

func normalizeAddresses(list []string) []string {
	seen := make(map[string]struct{}, len(list))
	out := make([]string, 0, len(list))
	for _, value := range list {
		address := strings.TrimSpace(value)
		if address == "" {
			continue
		}
		key := strings.ToLower(address)
		if _, exists := seen[key]; exists {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, address)
	}
	return out
}

// LogProvider writes messages to the logger instead of delivering them.
type LogProvider struct {
	from string
	log  logger.Logger
}

// NewLogProvider creates the development provider.
func NewLogProvider(from string, log logger.Logger) (*LogProvider, error) {
	if log == nil {
		return nil, errors.New("logger is required")
	}
	return &LogProvider{from: from, log: log}, nil
}

// Send logs the envelope and subject.
func (p *LogProvider) Send(ctx context.Context, message Message) error {
	msg, err := prepare(message, p.from)
	if err != nil {
		return err
	}
	p.log.WithContext(ctx).Info("email sent",
		"from", msg.From,
		"to", strings.Join(msg.To, ","),
		"subject", msg.Subject,
		"html_bytes", len(msg.HTMLBody),
	)
	return nil
}

// Close is a no-op.
func (p *LogProvider) Close() error { return nil }
