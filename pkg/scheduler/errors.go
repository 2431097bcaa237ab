package scheduler

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation classifies binding and configuration validation failures.
	ErrValidation = errors.New("scheduler validation error")
	// ErrConflict classifies state conflicts such as a queue scheduled twice or a lock held by another owner.
	ErrConflict = errors.New("scheduler conflict")
	// ErrRetryable classifies transient lock backend failures safe to retry.
	ErrRetryable = errors.New("scheduler retryable error")
	// ErrInvalidArgument classifies invalid caller/provider arguments.
	ErrInvalidArgument = errors.New("scheduler invalid argument")
	// ErrNotInitialized classifies missing runtime/provider initialization.
	ErrNotInitialized = errors.New("scheduler not initialized")
)

func schedulerError(kind error, message string) error {
	if message == "" {
		return kind
	}
	return fmt.Errorf("%w: %s", kind, message)
}
