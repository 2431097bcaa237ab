package queue

import (
	"fmt"
	"strings"
	"time"
)

// Kind identifies the backend of a connection.
type Kind int

const (
	KindMemory Kind = iota + 1
	KindTable
	KindFile
	KindRedis
	KindDocument
	KindDiscard
)

var kindNames = map[Kind]string{
	KindMemory:   "memory",
	KindTable:    "table",
	KindFile:     "file",
	KindRedis:    "redis",
	KindDocument: "document",
	KindDiscard:  "discard",
}

// String returns the canonical backend name.
func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// ParseKind maps a configured driver name, including legacy aliases, to a Kind.
func ParseKind(raw string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "memory", "in-memory", "vanilla":
		return KindMemory, nil
	case "table", "persisted-table", "database":
		return KindTable, nil
	case "file":
		return KindFile, nil
	case "redis":
		return KindRedis, nil
	case "document", "mongodb":
		return KindDocument, nil
	case "discard", "fake":
		return KindDiscard, nil
	default:
		return 0, queueError(ErrConfiguration, fmt.Sprintf("unsupported queue driver %q", raw))
	}
}

// DefaultWorkerInterval returns the polling interval used when a connection does not set one.
func (k Kind) DefaultWorkerInterval() time.Duration {
	switch k {
	case KindTable, KindDocument, KindRedis:
		return time.Second
	default:
		return 5 * time.Second
	}
}

// Ordering reports how a backend chooses the next item to pop.
func (k Kind) Ordering() Ordering {
	switch k {
	case KindTable, KindDocument:
		return OrderingLIFO
	default:
		return OrderingFIFO
	}
}

// Ordering is the pop policy of a store.
type Ordering string

const (
	// OrderingFIFO pops the oldest item first.
	OrderingFIFO Ordering = "fifo"
	// OrderingLIFO pops the item with the highest identifier first.
	OrderingLIFO Ordering = "lifo"
)
