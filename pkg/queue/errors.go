package queue

import (
	"errors"
	"fmt"
)

var (
	// ErrConfiguration classifies unknown connections, invalid backend settings and duplicate bindings.
	ErrConfiguration = errors.New("queue configuration error")
	// ErrStoreIO classifies backend failures (disk, database, network) surfaced by a store.
	ErrStoreIO = errors.New("queue store io error")
	// ErrInvalidArgument classifies invalid caller arguments.
	ErrInvalidArgument = errors.New("queue invalid argument")
	// ErrClosed classifies operations on a closed store or manager.
	ErrClosed = errors.New("queue closed")
)

func queueError(kind error, message string) error {
	if message == "" {
		return kind
	}
	return fmt.Errorf("%w: %s", kind, message)
}

// storeIOError tags a backend failure with ErrStoreIO while keeping the cause inspectable.
func storeIOError(op string, err error) error {
	if err == nil {
		return nil
	}
	return errors.Join(queueError(ErrStoreIO, op), err)
}
