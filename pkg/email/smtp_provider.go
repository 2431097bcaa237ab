package email

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/smtp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/nimburion/nimqueue/pkg/observability/logger"
)

type smtpSendFunc func(addr string, auth smtp.Auth, from string, to []string, msg []byte) error

// SMTPConfig configures the SMTP relay.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	// ImplicitTLS dials TLS directly (port 465). Otherwise STARTTLS is negotiated by net/smtp when offered.
	ImplicitTLS        bool
	InsecureSkipVerify bool
	OperationTimeout   time.Duration
}

// SMTPProvider sends mail through an SMTP relay.
type SMTPProvider struct {
	cfg  SMTPConfig
	log  logger.Logger
	send smtpSendFunc
}

// NewSMTPProvider creates an SMTP provider.
func NewSMTPProvider(cfg SMTPConfig, log logger.Logger) (*SMTPProvider, error) {
	if strings.TrimSpace(cfg.Host) == "" {
		return nil, fmt.Errorf("smtp host is required")
	}
	if cfg.Port <= 0 {
		cfg.Port = 587
	}
	if cfg.OperationTimeout <= 0 {
		cfg.OperationTimeout = 10 * time.Second
	}
	return &SMTPProvider{cfg: cfg, log: log, send: smtp.SendMail}, nil
}

// Send delivers the message. net/smtp has no context support, so ctx only bounds the implicit TLS dial.
func (p *SMTPProvider) Send(ctx context.Context, message Message) error {
	msg, err := prepare(message, p.cfg.From)
	if err != nil {
		return err
	}

	addr := net.JoinHostPort(p.cfg.Host, strconv.Itoa(p.cfg.Port))
	var auth smtp.Auth
	if strings.TrimSpace(p.cfg.Username) != "" {
		auth = smtp.PlainAuth("", p.cfg.Username, p.cfg.Password, p.cfg.Host)
	}
	raw := buildMIMEMessage(msg)

	if p.cfg.ImplicitTLS {
		cctx, cancel := withTimeout(ctx, p.cfg.OperationTimeout)
		defer cancel()
		return p.sendImplicitTLS(cctx, addr, auth, msg.From, msg.Recipients(), raw)
	}
	return p.send(addr, auth, msg.From, msg.Recipients(), raw)
}

func (p *SMTPProvider) sendImplicitTLS(ctx context.Context, addr string, auth smtp.Auth, from string, to []string, raw []byte) error {
	dialer := &tls.Dialer{Config: &tls.Config{
		ServerName:         p.cfg.Host,
		InsecureSkipVerify: p.cfg.InsecureSkipVerify, //nolint:gosec // opt-in for local relays
	}}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return err
	}
	defer conn.Close()

	client, err := smtp.NewClient(conn, p.cfg.Host)
	if err != nil {
		return err
	}
	defer client.Close()

	if auth != nil {
		if err := client.Auth(auth); err != nil {
			return err
		}
	}
	if err := client.Mail(from); err != nil {
		return err
	}
	for _, rcpt := range to {
		if err := client.Rcpt(rcpt); err != nil {
			return err
		}
	}
	w, err := client.Data()
	if err != nil {
		return err
	}
	if _, err := w.Write(raw); err != nil {
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}
	return client.Quit()
}

// Close is a no-op; connections are per message.
func (p *SMTPProvider) Close() error { return nil }

func buildMIMEMessage(msg Message) []byte {
	var b strings.Builder
	b.WriteString("From: " + msg.From + "\r\n")
	if len(msg.To) > 0 {
		b.WriteString("To: " + strings.Join(msg.To, ", ") + "\r\n")
	}
	if len(msg.Cc) > 0 {
		b.WriteString("Cc: " + strings.Join(msg.Cc, ", ") + "\r\n")
	}
	if msg.ReplyTo != "" {
		b.WriteString("Reply-To: " + msg.ReplyTo + "\r\n")
	}
	b.WriteString("Subject: " + msg.Subject + "\r\n")
	b.WriteString("MIME-Version: 1.0\r\n")

	keys := make([]string, 0, len(msg.Headers))
	for key := range msg.Headers {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		name, value := strings.TrimSpace(key), strings.TrimSpace(msg.Headers[key])
		if name != "" && value != "" {
			b.WriteString(name + ": " + value + "\r\n")
		}
	}

	text := strings.TrimSpace(msg.TextBody)
	html := strings.TrimSpace(msg.HTMLBody)
	switch {
	case text != "" && html != "":
		const boundary = "nimqueue-alternative"
		b.WriteString("Content-Type: multipart/alternative; boundary=" + boundary + "\r\n\r\n")
		b.WriteString("--" + boundary + "\r\nContent-Type: text/plain; charset=UTF-8\r\n\r\n" + text + "\r\n")
		b.WriteString("--" + boundary + "\r\nContent-Type: text/html; charset=UTF-8\r\n\r\n" + html + "\r\n")
		b.WriteString("--" + boundary + "--\r\n")
	case html != "":
		b.WriteString("Content-Type: text/html; charset=UTF-8\r\n\r\n" + html)
	default:
		b.WriteString("Content-Type: text/plain; charset=UTF-8\r\n\r\n" + text)
	}
	return []byte(b.String())
}
