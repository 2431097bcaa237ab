package email

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/nimburion/nimqueue/pkg/observability/logger"
)

// SendGridConfig configures the SendGrid v3 provider.
type SendGridConfig struct {
	APIKey           string
	From             string
	BaseURL          string
	OperationTimeout time.Duration
	HTTPClient       *http.Client
}

// SendGridProvider posts messages to the SendGrid mail/send endpoint.
type SendGridProvider struct {
	cfg        SendGridConfig
	httpClient *http.Client
	log        logger.Logger
}

// NewSendGridProvider creates a SendGrid provider.
func NewSendGridProvider(cfg SendGridConfig, log logger.Logger) (*SendGridProvider, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("sendgrid api key is required")
	}
	if strings.TrimSpace(cfg.BaseURL) == "" {
		cfg.BaseURL = "https://api.sendgrid.com"
	}
	if cfg.OperationTimeout <= 0 {
		cfg.OperationTimeout = 10 * time.Second
	}
	return &SendGridProvider{
		cfg:        cfg,
		httpClient: defaultHTTPClient(cfg.HTTPClient, cfg.OperationTimeout),
		log:        log,
	}, nil
}

type sendGridAddress struct {
	Email string `json:"email"`
}

type sendGridContent struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

type sendGridPersonalization struct {
	To  []sendGridAddress `json:"to"`
	Cc  []sendGridAddress `json:"cc,omitempty"`
	Bcc []sendGridAddress `json:"bcc,omitempty"`
}

type sendGridRequest struct {
	Personalizations []sendGridPersonalization `json:"personalizations"`
	From             sendGridAddress           `json:"from"`
	ReplyTo          *sendGridAddress          `json:"reply_to,omitempty"`
	Subject          string                    `json:"subject"`
	Content          []sendGridContent         `json:"content"`
	Headers          map[string]string         `json:"headers,omitempty"`
}

// Send posts the message to SendGrid.
func (p *SendGridProvider) Send(ctx context.Context, message Message) error {
	msg, err := prepare(message, p.cfg.From)
	if err != nil {
		return err
	}

	body := sendGridRequest{
		Personalizations: []sendGridPersonalization{{
			To:  sendGridAddresses(msg.To),
			Cc:  sendGridAddresses(msg.Cc),
			Bcc: sendGridAddresses(msg.Bcc),
		}},
		From:    sendGridAddress{Email: msg.From},
		Subject: msg.Subject,
		Headers: msg.Headers,
	}
	if msg.ReplyTo != "" {
		body.ReplyTo = &sendGridAddress{Email: msg.ReplyTo}
	}
	if strings.TrimSpace(msg.TextBody) != "" {
		body.Content = append(body.Content, sendGridContent{Type: "text/plain", Value: msg.TextBody})
	}
	if strings.TrimSpace(msg.HTMLBody) != "" {
		body.Content = append(body.Content, sendGridContent{Type: "text/html", Value: msg.HTMLBody})
	}
	raw, err := json.Marshal(body)
	if err != nil {
		return err
	}

	cctx, cancel := withTimeout(ctx, p.cfg.OperationTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(cctx, http.MethodPost, strings.TrimRight(p.cfg.BaseURL, "/")+"/v3/mail/send", bytes.NewReader(raw))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")

	return doDelivery(p.httpClient, "sendgrid", req)
}

// Close is a no-op.
func (p *SendGridProvider) Close() error { return nil }

func sendGridAddresses(addresses []string) []sendGridAddress {
	if len(addresses) == 0 {
		return nil
	}
	out := make([]sendGridAddress, 0, len(addresses))
	for _, address := range addresses {
		out = append(out, sendGridAddress{Email: address})
	}
	return out
}
