package queue

import (
	"context"
	"errors"
	"time"

	"github.com/nimburion/nimqueue/pkg/observability/tracing"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.opentelemetry.io/otel/trace"
)

type documentRow struct {
	ID          primitive.ObjectID `bson:"_id,omitempty"`
	Queue       string             `bson:"queue"`
	FormerQueue string             `bson:"former_queue,omitempty"`
	Item        string             `bson:"item"`
	CreatedAt   time.Time          `bson:"created_at"`
}

// DocumentStore mirrors TableStore on a MongoDB collection: one document per
// item, newest _id popped first. Pop is a single FindOneAndDelete.
type DocumentStore struct {
	collection *mongo.Collection
}

// NewDocumentStore creates a collection-backed store.
func NewDocumentStore(collection *mongo.Collection) (*DocumentStore, error) {
	if collection == nil {
		return nil, queueError(ErrInvalidArgument, "mongo collection is required")
	}
	return &DocumentStore{collection: collection}, nil
}

// Kind returns KindDocument.
func (s *DocumentStore) Kind() Kind { return KindDocument }

// EnsureIndexes creates the (queue, _id) index used by pop and count.
func (s *DocumentStore) EnsureIndexes(ctx context.Context) error {
	_, err := s.collection.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "queue", Value: 1}, {Key: "_id", Value: -1}},
	})
	return storeIOError("create queue index", err)
}

// Add inserts a document tagged with queue.
func (s *DocumentStore) Add(ctx context.Context, queue string, payload Payload) error {
	queue, err := validateQueueName(queue)
	if err != nil {
		return err
	}
	if err := validatePayload(payload); err != nil {
		return err
	}

	ctx, span := s.startSpan(ctx, tracing.SpanOperationDBInsert)
	_, err = s.collection.InsertOne(ctx, documentRow{
		Queue:     queue,
		Item:      string(payload),
		CreatedAt: time.Now().UTC(),
	})
	err = storeIOError("insert queue document", err)
	finishSpan(span, err)
	return err
}

// AddDeadLetter inserts a dead-letter document with former_queue set.
func (s *DocumentStore) AddDeadLetter(ctx context.Context, deadLetterQueue string, record DeadLetterRecord) error {
	deadLetterQueue, err := validateQueueName(deadLetterQueue)
	if err != nil {
		return err
	}
	encoded, err := record.Encode()
	if err != nil {
		return queueError(ErrInvalidArgument, "encode dead-letter record: "+err.Error())
	}

	ctx, span := s.startSpan(ctx, tracing.SpanOperationDBInsert)
	_, err = s.collection.InsertOne(ctx, documentRow{
		Queue:       deadLetterQueue,
		FormerQueue: record.OriginQueue,
		Item:        string(encoded),
		CreatedAt:   record.FailedAt,
	})
	err = storeIOError("insert dead-letter document", err)
	finishSpan(span, err)
	return err
}

// Pop atomically removes the newest document of queue.
func (s *DocumentStore) Pop(ctx context.Context, queue string) (Payload, bool, error) {
	queue, err := validateQueueName(queue)
	if err != nil {
		return nil, false, err
	}

	ctx, span := s.startSpan(ctx, tracing.SpanOperationDBDelete)
	var row documentRow
	err = s.collection.FindOneAndDelete(ctx,
		bson.M{"queue": queue},
		options.FindOneAndDelete().SetSort(bson.D{{Key: "_id", Value: -1}}),
	).Decode(&row)
	if errors.Is(err, mongo.ErrNoDocuments) {
		finishSpan(span, nil)
		return nil, false, nil
	}
	err = storeIOError("pop queue document", err)
	finishSpan(span, err)
	if err != nil {
		return nil, false, err
	}
	return Payload(row.Item), true, nil
}

// Peek returns the newest document of queue.
func (s *DocumentStore) Peek(ctx context.Context, queue string) (Payload, bool, error) {
	queue, err := validateQueueName(queue)
	if err != nil {
		return nil, false, err
	}

	var row documentRow
	err = s.collection.FindOne(ctx,
		bson.M{"queue": queue},
		options.FindOne().SetSort(bson.D{{Key: "_id", Value: -1}}),
	).Decode(&row)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, storeIOError("peek queue document", err)
	}
	return Payload(row.Item), true, nil
}

// List returns up to limit documents of queue, newest first.
func (s *DocumentStore) List(ctx context.Context, queue string, limit int) ([]Payload, error) {
	queue, err := validateQueueName(queue)
	if err != nil {
		return nil, err
	}

	opts := options.Find().SetSort(bson.D{{Key: "_id", Value: -1}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}
	cursor, err := s.collection.Find(ctx, bson.M{"queue": queue}, opts)
	if err != nil {
		return nil, storeIOError("list queue documents", err)
	}
	var rows []documentRow
	if err := cursor.All(ctx, &rows); err != nil {
		return nil, storeIOError("decode queue documents", err)
	}
	out := make([]Payload, 0, len(rows))
	for _, row := range rows {
		out = append(out, Payload(row.Item))
	}
	return out, nil
}

// Length counts the documents of queue.
func (s *DocumentStore) Length(ctx context.Context, queue string) (int, error) {
	queue, err := validateQueueName(queue)
	if err != nil {
		return 0, err
	}
	count, err := s.collection.CountDocuments(ctx, bson.M{"queue": queue})
	if err != nil {
		return 0, storeIOError("count queue documents", err)
	}
	return int(count), nil
}

// IsEmpty reports whether queue has no documents.
func (s *DocumentStore) IsEmpty(ctx context.Context, queue string) (bool, error) {
	count, err := s.Length(ctx, queue)
	return count == 0, err
}

// Truncate deletes every document of the collection.
func (s *DocumentStore) Truncate(ctx context.Context) error {
	ctx, span := s.startSpan(ctx, tracing.SpanOperationDBDelete)
	_, err := s.collection.DeleteMany(ctx, bson.M{})
	err = storeIOError("truncate queue collection", err)
	finishSpan(span, err)
	return err
}

// HealthCheck pings the MongoDB deployment.
func (s *DocumentStore) HealthCheck(ctx context.Context) error {
	return storeIOError("ping queue mongo", s.collection.Database().Client().Ping(ctx, nil))
}

// Close leaves the shared client open; its owner disconnects it.
func (s *DocumentStore) Close() error { return nil }

func (s *DocumentStore) startSpan(ctx context.Context, op tracing.SpanOperation) (context.Context, trace.Span) {
	return tracing.StartDatabaseSpan(ctx, op,
		tracing.WithDBSystem("mongodb"),
		tracing.WithDBTable(s.collection.Name()),
	)
}
