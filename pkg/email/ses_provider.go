package email

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	awsv2 "github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	awsv2config "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/nimburion/nimqueue/pkg/observability/logger"
)

// SESConfig configures the SES v2 provider.
type SESConfig struct {
	Region           string
	From             string
	Endpoint         string
	AccessKeyID      string
	SecretAccessKey  string
	SessionToken     string
	OperationTimeout time.Duration
	HTTPClient       *http.Client
}

// SESProvider calls the SES v2 SendEmail endpoint with SigV4-signed requests.
type SESProvider struct {
	cfg         SESConfig
	credentials awsv2.CredentialsProvider
	signer      *v4.Signer
	httpClient  *http.Client
	log         logger.Logger
}

// NewSESProvider loads AWS credentials (static when configured, otherwise the default chain).
func NewSESProvider(cfg SESConfig, log logger.Logger) (*SESProvider, error) {
	if strings.TrimSpace(cfg.Region) == "" {
		return nil, fmt.Errorf("ses region is required")
	}
	if cfg.OperationTimeout <= 0 {
		cfg.OperationTimeout = 10 * time.Second
	}

	opts := []func(*awsv2config.LoadOptions) error{awsv2config.WithRegion(cfg.Region)}
	if strings.TrimSpace(cfg.AccessKeyID) != "" {
		opts = append(opts, awsv2config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, cfg.SessionToken),
		))
	}
	awsCfg, err := awsv2config.LoadDefaultConfig(context.Background(), opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return &SESProvider{
		cfg:         cfg,
		credentials: awsCfg.Credentials,
		signer:      v4.NewSigner(),
		httpClient:  defaultHTTPClient(cfg.HTTPClient, cfg.OperationTimeout),
		log:         log,
	}, nil
}

type sesContent struct {
	Data string `json:"Data"`
}

type sesRequest struct {
	FromEmailAddress string `json:"FromEmailAddress"`
	Destination      struct {
		ToAddresses  []string `json:"ToAddresses"`
		CcAddresses  []string `json:"CcAddresses,omitempty"`
		BccAddresses []string `json:"BccAddresses,omitempty"`
	} `json:"Destination"`
	ReplyToAddresses []string `json:"ReplyToAddresses,omitempty"`
	Content          struct {
		Simple struct {
			Subject sesContent `json:"Subject"`
			Body    struct {
				Text *sesContent `json:"Text,omitempty"`
				HTML *sesContent `json:"Html,omitempty"`
			} `json:"Body"`
		} `json:"Simple"`
	} `json:"Content"`
}

// Send posts the message to SES.
func (p *SESProvider) Send(ctx context.Context, message Message) error {
	msg, err := prepare(message, p.cfg.From)
	if err != nil {
		return err
	}

	var body sesRequest
	body.FromEmailAddress = msg.From
	body.Destination.ToAddresses = msg.To
	body.Destination.CcAddresses = msg.Cc
	body.Destination.BccAddresses = msg.Bcc
	if msg.ReplyTo != "" {
		body.ReplyToAddresses = []string{msg.ReplyTo}
	}
	body.Content.Simple.Subject = sesContent{Data: msg.Subject}
	if strings.TrimSpace(msg.TextBody) != "" {
		body.Content.Simple.Body.Text = &sesContent{Data: msg.TextBody}
	}
	if strings.TrimSpace(msg.HTMLBody) != "" {
		body.Content.Simple.Body.HTML = &sesContent{Data: msg.HTMLBody}
	}
	raw, err := json.Marshal(body)
	if err != nil {
		return err
	}

	endpoint := strings.TrimRight(strings.TrimSpace(p.cfg.Endpoint), "/")
	if endpoint == "" {
		endpoint = fmt.Sprintf("https://email.%s.amazonaws.com", p.cfg.Region)
	}

	cctx, cancel := withTimeout(ctx, p.cfg.OperationTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(cctx, http.MethodPost, endpoint+"/v2/email/outbound-emails", bytes.NewReader(raw))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	sum := sha256.Sum256(raw)
	payloadHash := hex.EncodeToString(sum[:])
	req.Header.Set("X-Amz-Content-Sha256", payloadHash)

	creds, err := p.credentials.Retrieve(cctx)
	if err != nil {
		return fmt.Errorf("retrieve aws credentials: %w", err)
	}
	if err := p.signer.SignHTTP(cctx, creds, req, payloadHash, "ses", p.cfg.Region, time.Now().UTC()); err != nil {
		return fmt.Errorf("sign ses request: %w", err)
	}

	return doDelivery(p.httpClient, "ses", req)
}

// Close is a no-op.
func (p *SESProvider) Close() error { return nil }
