package jobs

import (
	"errors"
	"fmt"

	"github.com/nimburion/nimqueue/pkg/queue"
)

var (
	// ErrConfiguration classifies invalid or conflicting bindings. It is the queue package sentinel so
	// callers can test boot failures with a single errors.Is.
	ErrConfiguration = queue.ErrConfiguration
	// ErrNotFound classifies unknown job names.
	ErrNotFound = errors.New("jobs not found")
	// ErrValidation classifies payloads a handler cannot use.
	ErrValidation = errors.New("jobs validation error")
	// ErrRateLimited classifies deliveries refused by the mail rate limiter.
	ErrRateLimited = errors.New("jobs rate limited")
)

func jobsError(kind error, message string) error {
	if message == "" {
		return kind
	}
	return fmt.Errorf("%w: %s", kind, message)
}
