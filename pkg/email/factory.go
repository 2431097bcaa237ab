package email

import (
	"fmt"
	"strings"

	"github.com/nimburion/nimqueue/pkg/observability/logger"
)

const (
	// ProviderLog logs messages instead of sending them.
	ProviderLog = "log"
	// ProviderSMTP uses an SMTP relay.
	ProviderSMTP = "smtp"
	// ProviderSES uses the AWS SES v2 API.
	ProviderSES = "ses"
	// ProviderSendGrid uses the SendGrid v3 API.
	ProviderSendGrid = "sendgrid"
)

// Config selects and configures a provider. From is the default sender for every provider.
type Config struct {
	Provider string
	From     string

	SMTP     SMTPConfig
	SES      SESConfig
	SendGrid SendGridConfig
}

// NewProvider creates the configured provider. An empty provider name selects ProviderLog.
func NewProvider(cfg Config, log logger.Logger) (Provider, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Provider)) {
	case "", ProviderLog:
		return NewLogProvider(cfg.From, log)
	case ProviderSMTP:
		cfg.SMTP.From = firstNonEmpty(cfg.SMTP.From, cfg.From)
		return NewSMTPProvider(cfg.SMTP, log)
	case ProviderSES:
		cfg.SES.From = firstNonEmpty(cfg.SES.From, cfg.From)
		return NewSESProvider(cfg.SES, log)
	case ProviderSendGrid:
		cfg.SendGrid.From = firstNonEmpty(cfg.SendGrid.From, cfg.From)
		return NewSendGridProvider(cfg.SendGrid, log)
	default:
		return nil, fmt.Errorf("unsupported email provider %q (supported: log, smtp, ses, sendgrid)", cfg.Provider)
	}
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if strings.TrimSpace(value) != "" {
			return strings.TrimSpace(value)
		}
	}
	return ""
}
