package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/nimburion/nimqueue/pkg/observability/tracing"
	"go.opentelemetry.io/otel/trace"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Dialect selects the SQL flavour spoken by a TableStore.
type Dialect string

const (
	DialectPostgres Dialect = "postgres"
	DialectMySQL    Dialect = "mysql"
)

// ParseDialect maps a database type to a Dialect.
func ParseDialect(raw string) (Dialect, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "postgres", "postgresql", "pg":
		return DialectPostgres, nil
	case "mysql", "mariadb":
		return DialectMySQL, nil
	default:
		return "", queueError(ErrConfiguration, fmt.Sprintf("unsupported table dialect %q", raw))
	}
}

func (d Dialect) placeholder(position int) string {
	if d == DialectMySQL {
		return "?"
	}
	return fmt.Sprintf("$%d", position)
}

// TableStoreConfig configures a TableStore.
type TableStoreConfig struct {
	Table   string
	Dialect Dialect
	// DisableRowLock drops FOR UPDATE from the pop select. Only safe with a single worker process.
	DisableRowLock bool
}

func (c *TableStoreConfig) normalize() {
	c.Table = strings.TrimSpace(c.Table)
	if c.Table == "" {
		c.Table = DefaultTableName
	}
	if c.Dialect == "" {
		c.Dialect = DialectPostgres
	}
}

type tableQueries struct {
	insert      string
	insertDead  string
	selectHead  string
	list        string
	listLimit   string
	deleteByID  string
	count       string
	truncate    string
	createTable string
}

func buildTableQueries(cfg TableStoreConfig) tableQueries {
	p := cfg.Dialect.placeholder
	selectHead := fmt.Sprintf(`SELECT id, item FROM %s WHERE queue = %s ORDER BY id DESC LIMIT 1`, cfg.Table, p(1))
	if !cfg.DisableRowLock {
		selectHead += " FOR UPDATE"
	}

	createTable := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	id BIGSERIAL PRIMARY KEY,
	queue TEXT NOT NULL,
	former_queue TEXT NULL,
	item TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`, cfg.Table)
	if cfg.Dialect == DialectMySQL {
		createTable = fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	id BIGINT UNSIGNED NOT NULL AUTO_INCREMENT PRIMARY KEY,
	queue VARCHAR(255) NOT NULL,
	former_queue VARCHAR(255) NULL,
	item LONGTEXT NOT NULL,
	created_at DATETIME(6) NOT NULL,
	INDEX idx_%s_queue_id (queue, id)
)`, cfg.Table, cfg.Table)
	}

	return tableQueries{
		insert:      fmt.Sprintf(`INSERT INTO %s (queue, item, created_at) VALUES (%s, %s, %s)`, cfg.Table, p(1), p(2), p(3)),
		insertDead:  fmt.Sprintf(`INSERT INTO %s (queue, former_queue, item, created_at) VALUES (%s, %s, %s, %s)`, cfg.Table, p(1), p(2), p(3), p(4)),
		selectHead:  selectHead,
		list:        fmt.Sprintf(`SELECT item FROM %s WHERE queue = %s ORDER BY id DESC`, cfg.Table, p(1)),
		listLimit:   fmt.Sprintf(`SELECT item FROM %s WHERE queue = %s ORDER BY id DESC LIMIT %s`, cfg.Table, p(1), p(2)),
		deleteByID:  fmt.Sprintf(`DELETE FROM %s WHERE id = %s AND queue = %s`, cfg.Table, p(1), p(2)),
		count:       fmt.Sprintf(`SELECT COUNT(*) FROM %s WHERE queue = %s`, cfg.Table, p(1)),
		truncate:    fmt.Sprintf(`TRUNCATE TABLE %s`, cfg.Table),
		createTable: createTable,
	}
}

// TableStore persists every queue of a connection as rows of one SQL table.
// Pop returns the row with the highest id first, so a table queue is LIFO.
type TableStore struct {
	db      *sql.DB
	config  TableStoreConfig
	queries tableQueries
}

// NewTableStore creates a table-backed store over an existing database handle.
func NewTableStore(db *sql.DB, cfg TableStoreConfig) (*TableStore, error) {
	if db == nil {
		return nil, queueError(ErrInvalidArgument, "db is required")
	}
	cfg.normalize()
	if !validTableName.MatchString(cfg.Table) {
		return nil, queueError(ErrConfiguration, fmt.Sprintf("invalid queue table name %q", cfg.Table))
	}
	if cfg.Dialect != DialectPostgres && cfg.Dialect != DialectMySQL {
		return nil, queueError(ErrConfiguration, fmt.Sprintf("unsupported table dialect %q", cfg.Dialect))
	}
	return &TableStore{db: db, config: cfg, queries: buildTableQueries(cfg)}, nil
}

// Kind returns KindTable.
func (s *TableStore) Kind() Kind { return KindTable }

// EnsureSchema creates the jobs table when it does not exist yet.
func (s *TableStore) EnsureSchema(ctx context.Context) error {
	ctx, span := s.startSpan(ctx, tracing.SpanOperationDBQuery)
	_, err := s.db.ExecContext(ctx, s.queries.createTable)
	err = storeIOError("ensure queue table", err)
	finishSpan(span, err)
	return err
}

// Add inserts a new row tagged with queue.
func (s *TableStore) Add(ctx context.Context, queue string, payload Payload) error {
	queue, err := validateQueueName(queue)
	if err != nil {
		return err
	}
	if err := validatePayload(payload); err != nil {
		return err
	}

	ctx, span := s.startSpan(ctx, tracing.SpanOperationDBInsert)
	_, err = s.db.ExecContext(ctx, s.queries.insert, queue, string(payload), time.Now().UTC())
	err = storeIOError("insert queue row", err)
	finishSpan(span, err)
	return err
}

// AddDeadLetter inserts a dead-letter row carrying the origin queue in former_queue.
func (s *TableStore) AddDeadLetter(ctx context.Context, deadLetterQueue string, record DeadLetterRecord) error {
	deadLetterQueue, err := validateQueueName(deadLetterQueue)
	if err != nil {
		return err
	}
	encoded, err := record.Encode()
	if err != nil {
		return queueError(ErrInvalidArgument, "encode dead-letter record: "+err.Error())
	}

	ctx, span := s.startSpan(ctx, tracing.SpanOperationDBInsert)
	_, err = s.db.ExecContext(ctx, s.queries.insertDead, deadLetterQueue, record.OriginQueue, string(encoded), record.FailedAt)
	err = storeIOError("insert dead-letter row", err)
	finishSpan(span, err)
	return err
}

// Pop selects the newest row of queue and deletes it inside one transaction.
func (s *TableStore) Pop(ctx context.Context, queue string) (Payload, bool, error) {
	queue, err := validateQueueName(queue)
	if err != nil {
		return nil, false, err
	}

	ctx, span := s.startSpan(ctx, tracing.SpanOperationDBTx)
	payload, found, err := s.pop(ctx, queue)
	finishSpan(span, err)
	return payload, found, err
}

func (s *TableStore) pop(ctx context.Context, queue string) (Payload, bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, storeIOError("begin pop transaction", err)
	}

	var (
		id   int64
		item []byte
	)
	if err := tx.QueryRowContext(ctx, s.queries.selectHead, queue).Scan(&id, &item); err != nil {
		_ = tx.Rollback()
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, storeIOError("select queue head", err)
	}

	if _, err := tx.ExecContext(ctx, s.queries.deleteByID, id, queue); err != nil {
		_ = tx.Rollback()
		return nil, false, storeIOError("delete queue row", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, false, storeIOError("commit pop transaction", err)
	}
	return Payload(item), true, nil
}

// Peek returns the row Pop would return without deleting it.
func (s *TableStore) Peek(ctx context.Context, queue string) (Payload, bool, error) {
	queue, err := validateQueueName(queue)
	if err != nil {
		return nil, false, err
	}

	ctx, span := s.startSpan(ctx, tracing.SpanOperationDBQuery)
	var (
		id   int64
		item []byte
	)
	query := strings.TrimSuffix(s.queries.selectHead, " FOR UPDATE")
	err = s.db.QueryRowContext(ctx, query, queue).Scan(&id, &item)
	if errors.Is(err, sql.ErrNoRows) {
		finishSpan(span, nil)
		return nil, false, nil
	}
	err = storeIOError("peek queue head", err)
	finishSpan(span, err)
	if err != nil {
		return nil, false, err
	}
	return Payload(item), true, nil
}

// List returns up to limit rows of queue, newest first.
func (s *TableStore) List(ctx context.Context, queue string, limit int) ([]Payload, error) {
	queue, err := validateQueueName(queue)
	if err != nil {
		return nil, err
	}

	ctx, span := s.startSpan(ctx, tracing.SpanOperationDBQuery)
	payloads, err := s.list(ctx, queue, limit)
	finishSpan(span, err)
	return payloads, err
}

func (s *TableStore) list(ctx context.Context, queue string, limit int) ([]Payload, error) {
	var (
		rows *sql.Rows
		err  error
	)
	if limit > 0 {
		rows, err = s.db.QueryContext(ctx, s.queries.listLimit, queue, limit)
	} else {
		rows, err = s.db.QueryContext(ctx, s.queries.list, queue)
	}
	if err != nil {
		return nil, storeIOError("list queue rows", err)
	}
	defer rows.Close()

	out := make([]Payload, 0)
	for rows.Next() {
		var item []byte
		if err := rows.Scan(&item); err != nil {
			return nil, storeIOError("scan queue row", err)
		}
		out = append(out, Payload(item))
	}
	if err := rows.Err(); err != nil {
		return nil, storeIOError("iterate queue rows", err)
	}
	return out, nil
}

// Length counts the rows of queue.
func (s *TableStore) Length(ctx context.Context, queue string) (int, error) {
	queue, err := validateQueueName(queue)
	if err != nil {
		return 0, err
	}

	ctx, span := s.startSpan(ctx, tracing.SpanOperationDBQuery)
	var count int
	err = storeIOError("count queue rows", s.db.QueryRowContext(ctx, s.queries.count, queue).Scan(&count))
	finishSpan(span, err)
	return count, err
}

// IsEmpty reports whether queue has no rows.
func (s *TableStore) IsEmpty(ctx context.Context, queue string) (bool, error) {
	count, err := s.Length(ctx, queue)
	return count == 0, err
}

// Truncate removes every row of the table.
func (s *TableStore) Truncate(ctx context.Context) error {
	ctx, span := s.startSpan(ctx, tracing.SpanOperationDBDelete)
	_, err := s.db.ExecContext(ctx, s.queries.truncate)
	err = storeIOError("truncate queue table", err)
	finishSpan(span, err)
	return err
}

// HealthCheck pings the database.
func (s *TableStore) HealthCheck(ctx context.Context) error {
	return storeIOError("ping queue database", s.db.PingContext(ctx))
}

// Close leaves the shared database handle open; its owner closes it.
func (s *TableStore) Close() error { return nil }

func (s *TableStore) startSpan(ctx context.Context, op tracing.SpanOperation) (context.Context, trace.Span) {
	return tracing.StartDatabaseSpan(ctx, op,
		tracing.WithDBSystem(string(s.config.Dialect)),
		tracing.WithDBTable(s.config.Table),
	)
}
