package queue

import (
	"fmt"
	"strings"
	"time"
)

// ConnectionConfig describes one configured backend instance and the queues it owns.
type ConnectionConfig struct {
	Name string
	Kind Kind
	// Table is the table (table kind) or collection (document kind) holding the rows.
	Table string
	// DataConnection names the database, redis or object storage client the store runs on.
	DataConnection string
	// Path is the file path (file kind) or object key when DataConnection names object storage.
	Path string
	// Prefix namespaces redis keys.
	Prefix         string
	Queue          string
	DeadLetter     string
	WorkerInterval time.Duration
	DisableRowLock bool
}

func (c *ConnectionConfig) normalize() {
	c.Name = strings.TrimSpace(c.Name)
	c.Queue = strings.TrimSpace(c.Queue)
	if c.Queue == "" {
		c.Queue = DefaultQueueName
	}
	c.DeadLetter = strings.TrimSpace(c.DeadLetter)
	if c.DeadLetter == "" {
		c.DeadLetter = DefaultDeadLetterQueue
	}
	if (c.Kind == KindTable || c.Kind == KindDocument) && strings.TrimSpace(c.Table) == "" {
		c.Table = DefaultTableName
	}
	if c.WorkerInterval <= 0 {
		c.WorkerInterval = c.Kind.DefaultWorkerInterval()
	}
}

// Validate checks the settings required by the connection's backend kind.
func (c ConnectionConfig) Validate() error {
	if c.Name == "" {
		return queueError(ErrConfiguration, "connection name is required")
	}
	if _, ok := kindNames[c.Kind]; !ok {
		return queueError(ErrConfiguration, fmt.Sprintf("connection %q has no driver", c.Name))
	}
	if c.Queue == c.DeadLetter {
		return queueError(ErrConfiguration, fmt.Sprintf("connection %q uses %q as both default and dead-letter queue", c.Name, c.Queue))
	}
	switch c.Kind {
	case KindTable, KindDocument:
		if strings.TrimSpace(c.DataConnection) == "" {
			return queueError(ErrConfiguration, fmt.Sprintf("connection %q requires a data connection", c.Name))
		}
	case KindFile:
		if strings.TrimSpace(c.Path) == "" {
			return queueError(ErrConfiguration, fmt.Sprintf("connection %q requires a path", c.Name))
		}
	case KindRedis:
		if strings.TrimSpace(c.DataConnection) == "" {
			return queueError(ErrConfiguration, fmt.Sprintf("connection %q requires a redis connection", c.Name))
		}
	}
	return nil
}
