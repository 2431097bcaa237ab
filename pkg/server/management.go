package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/nimburion/nimqueue/pkg/config"
	"github.com/nimburion/nimqueue/pkg/health"
	"github.com/nimburion/nimqueue/pkg/observability/logger"
	"github.com/nimburion/nimqueue/pkg/observability/metrics"
	"github.com/nimburion/nimqueue/pkg/queue"
)

const (
	defaultIdleTimeout     = 60 * time.Second
	defaultDeadLetterLimit = 50
)

// Queues is the part of queue.Manager the management endpoints read and operate on.
type Queues interface {
	DefaultConnection() string
	Connections() []queue.ConnectionConfig
	QueueDepth(ctx context.Context, connection, queue string) (int, error)
	Peek(ctx context.Context, connection, queue string) (queue.Payload, bool, error)
	DeadLetters(ctx context.Context, connection string, limit int) ([]queue.DeadLetterRecord, error)
	Redrive(ctx context.Context, connection string, max int) (int, error)
}

// ManagementServer serves probes, metrics and queue inspection on the management port:
//
//	GET  /health                             liveness, always 200
//	GET  /ready                              readiness, 503 when a check is unhealthy
//	GET  /metrics                            Prometheus metrics
//	GET  /queues                             configured connections
//	GET  /queues/:connection/:queue          depth and head of one queue
//	GET  /deadletters/:connection            dead-letter records (?limit=N)
//	POST /deadletters/:connection/redrive    move records back to their origin queue (?max=N)
type ManagementServer struct {
	*Server
	engine          *gin.Engine
	healthRegistry  *health.Registry
	metricsRegistry *metrics.Registry
	queues          Queues
}

// NewManagementServer wires the management routes behind request id, access
// log, recovery, metrics and tracing middleware.
func NewManagementServer(
	cfg config.ManagementConfig,
	log logger.Logger,
	healthRegistry *health.Registry,
	metricsRegistry *metrics.Registry,
	queues Queues,
) (*ManagementServer, error) {
	if log == nil {
		return nil, errors.New("logger is required")
	}
	if healthRegistry == nil {
		return nil, errors.New("health registry is required")
	}
	if metricsRegistry == nil {
		metricsRegistry = metrics.NewRegistry()
	}

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(requestID(), accessLog(log), recovery(log), httpMetrics())

	s := &ManagementServer{
		engine:          engine,
		healthRegistry:  healthRegistry,
		metricsRegistry: metricsRegistry,
		queues:          queues,
	}
	s.registerEndpoints()

	s.Server = NewServer(Config{
		Port:         cfg.Port,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  defaultIdleTimeout,
	}, otelhttp.NewHandler(engine, "management"), log)
	return s, nil
}

// Handler returns the route handler without the tracing wrapper, for tests and embedding.
func (s *ManagementServer) Handler() http.Handler {
	return s.engine
}

func (s *ManagementServer) registerEndpoints() {
	s.engine.GET("/health", s.handleHealth)
	s.engine.GET("/ready", s.handleReady)
	s.engine.GET("/metrics", gin.WrapH(s.metricsRegistry.Handler()))

	if s.queues == nil {
		return
	}
	s.engine.GET("/queues", s.handleConnections)
	s.engine.GET("/queues/:connection/:queue", s.handleQueue)
	s.engine.GET("/deadletters/:connection", s.handleDeadLetters)
	s.engine.POST("/deadletters/:connection/redrive", s.handleRedrive)
}

func (s *ManagementServer) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "healthy"})
}

func (s *ManagementServer) handleReady(c *gin.Context) {
	result := s.healthRegistry.Check(c.Request.Context())
	if !result.IsHealthy() {
		c.JSON(http.StatusServiceUnavailable, result)
		return
	}
	c.JSON(http.StatusOK, result)
}

type connectionView struct {
	Name           string `json:"name"`
	Driver         string `json:"driver"`
	Queue          string `json:"queue"`
	DeadLetter     string `json:"deadletter"`
	WorkerInterval string `json:"worker_interval"`
	Ordering       string `json:"ordering"`
	Default        bool   `json:"default"`
}

func (s *ManagementServer) handleConnections(c *gin.Context) {
	defaultName := s.queues.DefaultConnection()
	conns := s.queues.Connections()
	out := make([]connectionView, 0, len(conns))
	for _, conn := range conns {
		out = append(out, connectionView{
			Name:           conn.Name,
			Driver:         conn.Kind.String(),
			Queue:          conn.Queue,
			DeadLetter:     conn.DeadLetter,
			WorkerInterval: conn.WorkerInterval.String(),
			Ordering:       string(conn.Kind.Ordering()),
			Default:        conn.Name == defaultName,
		})
	}
	c.JSON(http.StatusOK, gin.H{"default": defaultName, "connections": out})
}

func (s *ManagementServer) handleQueue(c *gin.Context) {
	ctx := c.Request.Context()
	connection, name := c.Param("connection"), c.Param("queue")

	depth, err := s.queues.QueueDepth(ctx, connection, name)
	if err != nil {
		writeQueueError(c, err)
		return
	}
	head, ok, err := s.queues.Peek(ctx, connection, name)
	if err != nil {
		writeQueueError(c, err)
		return
	}
	body := gin.H{"connection": connection, "queue": name, "depth": depth}
	if ok {
		body["head"] = head
	}
	c.JSON(http.StatusOK, body)
}

func (s *ManagementServer) handleDeadLetters(c *gin.Context) {
	limit, err := intQuery(c, "limit", defaultDeadLetterLimit)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_argument", "message": err.Error()})
		return
	}
	records, err := s.queues.DeadLetters(c.Request.Context(), c.Param("connection"), limit)
	if err != nil {
		writeQueueError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"connection": c.Param("connection"), "records": records})
}

func (s *ManagementServer) handleRedrive(c *gin.Context) {
	max, err := intQuery(c, "max", 0)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_argument", "message": err.Error()})
		return
	}
	moved, err := s.queues.Redrive(c.Request.Context(), c.Param("connection"), max)
	if err != nil {
		writeQueueError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"connection": c.Param("connection"), "redriven": moved})
}

func intQuery(c *gin.Context, name string, fallback int) (int, error) {
	raw := c.Query(name)
	if raw == "" {
		return fallback, nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value < 0 {
		return 0, errors.New(name + " must be a non-negative integer")
	}
	return value, nil
}

func writeQueueError(c *gin.Context, err error) {
	_ = c.Error(err)
	switch {
	case errors.Is(err, queue.ErrConfiguration):
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": err.Error()})
	case errors.Is(err, queue.ErrInvalidArgument):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_argument", "message": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "queue_error", "message": err.Error()})
	}
}
