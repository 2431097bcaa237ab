package email

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

var (
	// ErrDeliveryRejected marks a message the provider refused (4xx other than 429).
	// Sending it again will not help.
	ErrDeliveryRejected = errors.New("email delivery rejected")
	// ErrDeliveryUnavailable marks throttling, 5xx answers and transport failures.
	ErrDeliveryUnavailable = errors.New("email delivery unavailable")
)

const (
	defaultHTTPTimeout = 10 * time.Second
	errorDetailLimit   = 512
)

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}

func defaultHTTPClient(client *http.Client, timeout time.Duration) *http.Client {
	if client != nil {
		return client
	}
	if timeout <= 0 {
		timeout = defaultHTTPTimeout
	}
	return &http.Client{Timeout: timeout}
}

// doDelivery sends req and maps the answer of an HTTP mail API to an error.
func doDelivery(client *http.Client, provider string, req *http.Request) error {
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s request: %v", ErrDeliveryUnavailable, provider, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}

	detail, _ := io.ReadAll(io.LimitReader(resp.Body, errorDetailLimit))
	kind := ErrDeliveryUnavailable
	if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
		kind = ErrDeliveryRejected
	}
	message := fmt.Sprintf("%s send failed with status %d", provider, resp.StatusCode)
	if text := strings.TrimSpace(string(detail)); text != "" {
		message += ": " + text
	}
	return fmt.Errorf("%w: %s", kind, message)
}
