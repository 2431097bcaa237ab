package s3

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"
	awss3types "github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/nimburion/nimqueue/pkg/observability/logger"
	"github.com/nimburion/nimqueue/pkg/queue"
)

type mockLogger struct{}

func (m *mockLogger) Debug(string, ...any)                      {}
func (m *mockLogger) Info(string, ...any)                       {}
func (m *mockLogger) Warn(string, ...any)                       {}
func (m *mockLogger) Error(string, ...any)                      {}
func (m *mockLogger) With(...any) logger.Logger                 { return m }
func (m *mockLogger) WithContext(context.Context) logger.Logger { return m }

// bucketClient keeps objects in memory and answers like S3 does for missing keys.
type bucketClient struct {
	objects    map[string][]byte
	headErr    error
	putInputs  []*awss3.PutObjectInput
	getFailure error
}

func newBucketClient() *bucketClient {
	return &bucketClient{objects: map[string][]byte{}}
}

func (c *bucketClient) HeadBucket(context.Context, *awss3.HeadBucketInput, ...func(*awss3.Options)) (*awss3.HeadBucketOutput, error) {
	if c.headErr != nil {
		return nil, c.headErr
	}
	return &awss3.HeadBucketOutput{}, nil
}

func (c *bucketClient) PutObject(_ context.Context, in *awss3.PutObjectInput, _ ...func(*awss3.Options)) (*awss3.PutObjectOutput, error) {
	body, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	c.putInputs = append(c.putInputs, in)
	c.objects[aws.ToString(in.Key)] = body
	return &awss3.PutObjectOutput{}, nil
}

func (c *bucketClient) GetObject(_ context.Context, in *awss3.GetObjectInput, _ ...func(*awss3.Options)) (*awss3.GetObjectOutput, error) {
	if c.getFailure != nil {
		return nil, c.getFailure
	}
	body, ok := c.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, &awss3types.NoSuchKey{}
	}
	return &awss3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(body))}, nil
}

func newTestAdapter(client s3API) *Adapter {
	return newWithClient(client, Config{Bucket: "queues", Region: "eu-west-1"}, &mockLogger{})
}

func TestAdapter_GetMissingObject(t *testing.T) {
	adapter := newTestAdapter(newBucketClient())
	data, ok, err := adapter.GetObject(context.Background(), "queues.json")
	if err != nil || ok || data != nil {
		t.Fatalf("expected missing object, got %q ok=%v err=%v", data, ok, err)
	}
}

func TestAdapter_PutThenGet(t *testing.T) {
	client := newBucketClient()
	adapter := newTestAdapter(client)
	ctx := context.Background()

	if err := adapter.PutObject(ctx, "queues.json", []byte(`{"default":[]}`), "application/json"); err != nil {
		t.Fatalf("put: %v", err)
	}
	if got := aws.ToString(client.putInputs[0].ContentType); got != "application/json" {
		t.Fatalf("content type = %q", got)
	}
	data, ok, err := adapter.GetObject(ctx, "queues.json")
	if err != nil || !ok || string(data) != `{"default":[]}` {
		t.Fatalf("get = %q ok=%v err=%v", data, ok, err)
	}
}

func TestAdapter_GetFailureIsReturned(t *testing.T) {
	client := newBucketClient()
	client.getFailure = errors.New("access denied")
	if _, _, err := newTestAdapter(client).GetObject(context.Background(), "queues.json"); err == nil {
		t.Fatal("expected error")
	}
}

func TestAdapter_ClosedAndHealth(t *testing.T) {
	client := newBucketClient()
	adapter := newTestAdapter(client)
	if err := adapter.HealthCheck(context.Background()); err != nil {
		t.Fatalf("health: %v", err)
	}
	client.headErr = errors.New("no such bucket")
	if err := adapter.HealthCheck(context.Background()); err == nil {
		t.Fatal("expected unhealthy bucket")
	}

	_ = adapter.Close()
	if _, _, err := adapter.GetObject(context.Background(), "queues.json"); err == nil {
		t.Fatal("expected closed adapter error")
	}
	if err := adapter.PutObject(context.Background(), "queues.json", nil, ""); err == nil {
		t.Fatal("expected closed adapter error")
	}
}

func TestAdapter_BacksFileStore(t *testing.T) {
	ctx := context.Background()
	adapter := newTestAdapter(newBucketClient())

	first, err := queue.NewFileStore(queue.ObjectBlob{Storage: adapter, Key: "queues.json"})
	if err != nil {
		t.Fatalf("new file store: %v", err)
	}
	if err := first.Add(ctx, "mail", queue.Payload(`{"to":"ada@example.com"}`)); err != nil {
		t.Fatalf("add: %v", err)
	}

	second, err := queue.NewFileStore(queue.ObjectBlob{Storage: adapter, Key: "queues.json"})
	if err != nil {
		t.Fatalf("new file store: %v", err)
	}
	item, ok, err := second.Pop(ctx, "mail")
	if err != nil || !ok || string(item) != `{"to":"ada@example.com"}` {
		t.Fatalf("pop = %s ok=%v err=%v", item, ok, err)
	}
}

func TestNewAdapter_Validation(t *testing.T) {
	if _, err := NewAdapter(Config{Region: "eu-west-1"}, &mockLogger{}); err == nil {
		t.Fatal("expected missing bucket error")
	}
	if _, err := NewAdapter(Config{Bucket: "queues"}, &mockLogger{}); err == nil {
		t.Fatal("expected missing region error")
	}
}
