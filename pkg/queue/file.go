package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// Blob is the storage location of a FileStore document.
type Blob interface {
	// Read returns the current document, or nil when it does not exist yet.
	Read(ctx context.Context) ([]byte, error)
	Write(ctx context.Context, data []byte) error
	HealthCheck(ctx context.Context) error
}

// LocalBlob stores the document in a file on the local filesystem.
type LocalBlob struct {
	Path string
}

// Read loads the file content.
func (b LocalBlob) Read(context.Context) ([]byte, error) {
	data, err := os.ReadFile(b.Path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	return data, err
}

// Write replaces the file through a temporary file in the same directory.
func (b LocalBlob) Write(_ context.Context, data []byte) error {
	dir := filepath.Dir(b.Path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(b.Path)+".*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, b.Path)
}

// HealthCheck verifies the parent directory is reachable.
func (b LocalBlob) HealthCheck(context.Context) error {
	info, err := os.Stat(filepath.Dir(b.Path))
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("%s is not a directory", filepath.Dir(b.Path))
	}
	return nil
}

// FileStore keeps every queue of a connection in one JSON document mapping
// queue names to ordered payload lists. The whole document is rewritten on
// each mutation. Operations are serialized inside one FileStore only; two
// stores (or processes) writing the same blob can overwrite each other.
type FileStore struct {
	mu     sync.Mutex
	blob   Blob
	seeded []string
}

// NewFileStore creates a store persisting to blob. seedQueues are written as empty lists on first save.
func NewFileStore(blob Blob, seedQueues ...string) (*FileStore, error) {
	if blob == nil {
		return nil, queueError(ErrInvalidArgument, "blob is required")
	}
	if local, ok := blob.(LocalBlob); ok && strings.TrimSpace(local.Path) == "" {
		return nil, queueError(ErrConfiguration, "file queue path is required")
	}
	if object, ok := blob.(ObjectBlob); ok && (object.Storage == nil || strings.TrimSpace(object.Key) == "") {
		return nil, queueError(ErrConfiguration, "object storage and key are required")
	}
	return &FileStore{blob: blob, seeded: seedQueues}, nil
}

// Kind returns KindFile.
func (s *FileStore) Kind() Kind { return KindFile }

// Add appends payload to queue and rewrites the document.
func (s *FileStore) Add(ctx context.Context, queue string, payload Payload) error {
	queue, err := validateQueueName(queue)
	if err != nil {
		return err
	}
	if err := validatePayload(payload); err != nil {
		return err
	}

	return s.mutate(ctx, func(doc map[string][]Payload) bool {
		doc[queue] = append(doc[queue], clonePayload(payload))
		return true
	})
}

// Pop removes the oldest item of queue.
func (s *FileStore) Pop(ctx context.Context, queue string) (Payload, bool, error) {
	queue, err := validateQueueName(queue)
	if err != nil {
		return nil, false, err
	}

	var (
		head  Payload
		found bool
	)
	err = s.mutate(ctx, func(doc map[string][]Payload) bool {
		items := doc[queue]
		if len(items) == 0 {
			return false
		}
		head, found = items[0], true
		doc[queue] = items[1:]
		return true
	})
	if err != nil {
		return nil, false, err
	}
	return head, found, nil
}

// Peek returns the oldest item of queue.
func (s *FileStore) Peek(ctx context.Context, queue string) (Payload, bool, error) {
	queue, err := validateQueueName(queue)
	if err != nil {
		return nil, false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	doc, err := s.load(ctx)
	if err != nil {
		return nil, false, err
	}
	items := doc[queue]
	if len(items) == 0 {
		return nil, false, nil
	}
	return items[0], true, nil
}

// List returns up to limit items from the head of queue.
func (s *FileStore) List(ctx context.Context, queue string, limit int) ([]Payload, error) {
	queue, err := validateQueueName(queue)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	doc, err := s.load(ctx)
	if err != nil {
		return nil, err
	}
	return headOf(doc[queue], limit), nil
}

// Length returns the number of items in queue.
func (s *FileStore) Length(ctx context.Context, queue string) (int, error) {
	queue, err := validateQueueName(queue)
	if err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	doc, err := s.load(ctx)
	if err != nil {
		return 0, err
	}
	return len(doc[queue]), nil
}

// IsEmpty reports whether queue holds no items.
func (s *FileStore) IsEmpty(ctx context.Context, queue string) (bool, error) {
	length, err := s.Length(ctx, queue)
	return length == 0, err
}

// Truncate empties every queue of the document.
func (s *FileStore) Truncate(ctx context.Context) error {
	return s.mutate(ctx, func(doc map[string][]Payload) bool {
		for name := range doc {
			doc[name] = []Payload{}
		}
		return true
	})
}

// HealthCheck delegates to the blob.
func (s *FileStore) HealthCheck(ctx context.Context) error {
	return storeIOError("file queue health check", s.blob.HealthCheck(ctx))
}

// Close is a no-op; nothing is held open between operations.
func (s *FileStore) Close() error { return nil }

// mutate loads the document, applies the change and saves it when apply reports a change.
func (s *FileStore) mutate(ctx context.Context, apply func(doc map[string][]Payload) bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.load(ctx)
	if err != nil {
		return err
	}
	if !apply(doc) {
		return nil
	}
	return s.save(ctx, doc)
}

func (s *FileStore) load(ctx context.Context) (map[string][]Payload, error) {
	raw, err := s.blob.Read(ctx)
	if err != nil {
		return nil, storeIOError("read queue file", err)
	}
	doc := make(map[string][]Payload, len(s.seeded))
	for _, name := range s.seeded {
		doc[name] = []Payload{}
	}
	if len(raw) == 0 {
		return doc, nil
	}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, storeIOError("decode queue file", err)
	}
	return doc, nil
}

func (s *FileStore) save(ctx context.Context, doc map[string][]Payload) error {
	for name, items := range doc {
		if items == nil {
			doc[name] = []Payload{}
		}
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		return storeIOError("encode queue file", err)
	}
	return storeIOError("write queue file", s.blob.Write(ctx, raw))
}

// ObjectStorage is the subset of an object store client used by ObjectBlob.
type ObjectStorage interface {
	GetObject(ctx context.Context, key string) ([]byte, bool, error)
	PutObject(ctx context.Context, key string, data []byte, contentType string) error
	HealthCheck(ctx context.Context) error
}

// ObjectBlob stores the FileStore document as a single object in a bucket.
type ObjectBlob struct {
	Storage ObjectStorage
	Key     string
}

// Read downloads the object, returning nil when it is missing.
func (b ObjectBlob) Read(ctx context.Context) ([]byte, error) {
	data, found, err := b.Storage.GetObject(ctx, b.Key)
	if err != nil || !found {
		return nil, err
	}
	return data, nil
}

// Write uploads the whole document.
func (b ObjectBlob) Write(ctx context.Context, data []byte) error {
	return b.Storage.PutObject(ctx, b.Key, data, "application/json")
}

// HealthCheck checks bucket reachability.
func (b ObjectBlob) HealthCheck(ctx context.Context) error {
	return b.Storage.HealthCheck(ctx)
}
