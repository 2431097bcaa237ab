package queue

import (
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
)

// DeadLetterRecord is a payload whose handler failed, annotated with the queue it was popped from.
// Records are never reprocessed automatically; see Driver.Redrive.
type DeadLetterRecord struct {
	ID          string    `json:"id"`
	OriginQueue string    `json:"queue"`
	Payload     Payload   `json:"data"`
	Reason      string    `json:"reason,omitempty"`
	FailedAt    time.Time `json:"failed_at"`
}

func newDeadLetterRecord(originQueue string, payload Payload, cause error) DeadLetterRecord {
	record := DeadLetterRecord{
		ID:          uuid.NewString(),
		OriginQueue: originQueue,
		Payload:     clonePayload(payload),
		FailedAt:    time.Now().UTC(),
	}
	if cause != nil {
		record.Reason = cause.Error()
	}
	return record
}

// Encode serializes the record as the payload stored in the dead-letter queue.
func (r DeadLetterRecord) Encode() (Payload, error) {
	return json.Marshal(r)
}

// DecodeDeadLetter parses a payload popped or peeked from a dead-letter queue.
func DecodeDeadLetter(payload Payload) (DeadLetterRecord, error) {
	var record DeadLetterRecord
	if err := json.Unmarshal(payload, &record); err != nil {
		return DeadLetterRecord{}, queueError(ErrInvalidArgument, "decode dead-letter record: "+err.Error())
	}
	if strings.TrimSpace(record.OriginQueue) == "" {
		return DeadLetterRecord{}, queueError(ErrInvalidArgument, "dead-letter record has no origin queue")
	}
	return record, nil
}

// HandlerError wraps the failure of a handler so it can be told apart from store errors in logs.
type HandlerError struct {
	Queue string
	Err   error
}

func (e *HandlerError) Error() string {
	if e == nil || e.Err == nil {
		return "handler failed"
	}
	return "handler for queue " + e.Queue + " failed: " + e.Err.Error()
}

func (e *HandlerError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// IsHandlerError reports whether err is a handler failure.
func IsHandlerError(err error) bool {
	var target *HandlerError
	return errors.As(err, &target)
}
