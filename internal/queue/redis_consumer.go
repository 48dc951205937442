/**
 * Direct Redis Queue Consumer for the document verification worker
 *
 * Compatible with the TypeScript RedisQueue implementation: job IDs on a
 * LIST, job bodies in a <queue>:data HASH, status SETs, result and error
 * HASHes and job events on <queue>:events.
 */

package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/adverant/nexus/docverify-worker/internal/logging"
	"github.com/adverant/nexus/docverify-worker/internal/verification"
)

var errNoJobs = errors.New("no jobs available")

// RedisJobData represents a job from the Redis queue
type RedisJobData struct {
	ID         string        `json:"id"`
	Type       string        `json:"type"`
	Payload    VerifyPayload `json:"payload"`
	CreatedAt  time.Time     `json:"createdAt"`
	Attempts   int           `json:"attempts"`
	MaxRetries int           `json:"maxRetries"`
}

// RedisConsumer handles job consumption from Redis queue
type RedisConsumer struct {
	client  *redis.Client
	handler *Handler
	config  *RedisConsumerConfig
	logger  *logging.Logger
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// RedisConsumerConfig holds consumer configuration
type RedisConsumerConfig struct {
	RedisURL    string
	QueueName   string
	Concurrency int
	MaxRetries  int
	Handler     *Handler
	Logger      *logging.Logger
	// PollInterval is the BRPOP timeout. Default 5s.
	PollInterval time.Duration
	// ProvisioningChannel receives organization:verified events.
	// Default "<QueueName>:provisioning".
	ProvisioningChannel string
}

// NewRedisConsumer creates a new Redis-based queue consumer
func NewRedisConsumer(cfg *RedisConsumerConfig) (*RedisConsumer, error) {
	if cfg.RedisURL == "" {
		return nil, fmt.Errorf("RedisURL is required")
	}
	if cfg.QueueName == "" {
		cfg.QueueName = "docverify:jobs"
	}
	if cfg.Handler == nil {
		return nil, fmt.Errorf("Handler is required")
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 5 * time.Second
	}
	if cfg.ProvisioningChannel == "" {
		cfg.ProvisioningChannel = cfg.QueueName + ":provisioning"
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.NewLogger("redis-queue")
	}

	opt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}
	client := redis.NewClient(opt)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	consumerCtx, consumerCancel := context.WithCancel(context.Background())
	return &RedisConsumer{
		client:  client,
		handler: cfg.Handler,
		config:  cfg,
		logger:  logger,
		ctx:     consumerCtx,
		cancel:  consumerCancel,
	}, nil
}

func (c *RedisConsumer) key(suffix string) string {
	return fmt.Sprintf("%s:%s", c.config.QueueName, suffix)
}

// Enqueue stores a verify-organization job and pushes it onto the queue.
func (c *RedisConsumer) Enqueue(ctx context.Context, payload *VerifyPayload) (string, error) {
	if payload.OrganizationID == "" {
		return "", fmt.Errorf("organizationId is required")
	}
	if payload.JobID == "" {
		payload.JobID = uuid.New().String()
	}
	job := RedisJobData{
		ID:         payload.JobID,
		Type:       TaskVerifyOrganization,
		Payload:    *payload,
		CreatedAt:  time.Now().UTC(),
		MaxRetries: c.config.MaxRetries,
	}
	data, err := json.Marshal(job)
	if err != nil {
		return "", fmt.Errorf("failed to marshal job: %w", err)
	}

	pipe := c.client.TxPipeline()
	pipe.HSet(ctx, c.key("data"), job.ID, data)
	pipe.LPush(ctx, c.config.QueueName, job.ID)
	if _, err := pipe.Exec(ctx); err != nil {
		return "", fmt.Errorf("failed to enqueue job: %w", err)
	}
	c.updateJobStatus(ctx, job.ID, "waiting", nil)
	return job.ID, nil
}

// Start begins processing jobs from the queue
func (c *RedisConsumer) Start() error {
	c.logger.Info("Starting Redis queue consumer", "concurrency", c.config.Concurrency, "queue", c.config.QueueName)
	for i := 0; i < c.config.Concurrency; i++ {
		c.wg.Add(1)
		go c.worker(i)
	}
	return nil
}

// Stop gracefully stops the consumer
func (c *RedisConsumer) Stop() error {
	c.logger.Info("Stopping Redis queue consumer")
	c.cancel()
	c.wg.Wait()
	return c.client.Close()
}

func (c *RedisConsumer) worker(id int) {
	defer c.wg.Done()
	c.logger.Debug("Worker started", "worker", id)

	for {
		select {
		case <-c.ctx.Done():
			c.logger.Debug("Worker stopping", "worker", id)
			return
		default:
		}

		if err := c.processNextJob(); err != nil {
			if errors.Is(err, errNoJobs) || c.ctx.Err() != nil {
				continue
			}
			c.logger.Warn("Worker error", "worker", id, "error", err)
			select {
			case <-c.ctx.Done():
			case <-time.After(time.Second):
			}
		}
	}
}

// processNextJob fetches and processes the next job from the queue
func (c *RedisConsumer) processNextJob() error {
	result, err := c.client.BRPop(c.ctx, c.config.PollInterval, c.config.QueueName).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return errNoJobs
		}
		return fmt.Errorf("failed to fetch job: %w", err)
	}
	if len(result) < 2 {
		return fmt.Errorf("invalid job result")
	}
	jobID := result[1]

	raw, err := c.client.HGet(c.ctx, c.key("data"), jobID).Result()
	if err != nil {
		return fmt.Errorf("failed to get job data for %s: %w", jobID, err)
	}

	var job RedisJobData
	if err := json.Unmarshal([]byte(raw), &job); err != nil {
		c.updateJobStatus(c.ctx, jobID, "failed", map[string]interface{}{"error": err.Error()})
		c.handler.metrics.ObserveJob("failed")
		return fmt.Errorf("failed to unmarshal job %s: %w", jobID, err)
	}
	if job.Payload.JobID == "" {
		job.Payload.JobID = job.ID
	}

	c.updateJobStatus(c.ctx, job.ID, "processing", nil)
	c.runJob(&job)
	return nil
}

func (c *RedisConsumer) runJob(job *RedisJobData) {
	// Jobs run to completion on shutdown; Handle bounds them with the processing timeout.
	ctx := context.WithoutCancel(c.ctx)

	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("Job panicked", "job", job.ID, "panic", r, "stack", string(debug.Stack()))
			c.updateJobStatus(ctx, job.ID, "failed", map[string]interface{}{
				"error":    fmt.Sprintf("panic: %v", r),
				"attempts": job.Attempts,
			})
			c.handler.metrics.ObserveJob("failed")
		}
	}()

	// Producers that omit maxRetries get the consumer default.
	if job.MaxRetries <= 0 {
		job.MaxRetries = c.config.MaxRetries
	}

	if job.Payload.OrganizationID == "" {
		c.updateJobStatus(ctx, job.ID, "failed", map[string]interface{}{"error": "organizationId is required"})
		c.handler.metrics.ObserveJob("failed")
		return
	}

	result, err := c.handler.Handle(ctx, job.ID, &job.Payload)
	if err != nil {
		job.Attempts++
		if !IsPermanent(err) && job.Attempts < job.MaxRetries {
			requeueErr := c.requeue(ctx, job)
			if requeueErr == nil {
				c.logger.Info("Job re-queued for retry", "job", job.ID, "attempt", job.Attempts, "max_retries", job.MaxRetries)
				c.handler.metrics.ObserveJob("retried")
				return
			}
			c.logger.Error("Failed to re-queue job", "job", job.ID, "error", requeueErr)
		}
		c.updateJobStatus(ctx, job.ID, "failed", map[string]interface{}{
			"error":    err.Error(),
			"attempts": job.Attempts,
		})
		c.handler.metrics.ObserveJob("failed")
		return
	}

	c.updateJobStatus(ctx, job.ID, "completed", newJobResult(result))
	c.handler.metrics.ObserveJob("completed")

	if result.BecameVerified {
		if err := c.NotifyVerified(ctx, job.ID, result); err != nil {
			c.logger.Error("Provisioning notification failed", "job", job.ID, "organization", result.OrganizationID, "error", err)
		}
	}
}

func (c *RedisConsumer) requeue(ctx context.Context, job *RedisJobData) error {
	data, err := json.Marshal(job)
	if err != nil {
		return err
	}
	pipe := c.client.TxPipeline()
	pipe.HSet(ctx, c.key("data"), job.ID, data)
	pipe.SRem(ctx, c.key("processing"), job.ID)
	pipe.LPush(ctx, c.config.QueueName, job.ID)
	_, err = pipe.Exec(ctx)
	return err
}

// NotifyVerified publishes an organization:verified event on the provisioning channel.
func (c *RedisConsumer) NotifyVerified(ctx context.Context, jobID string, result *verification.Result) error {
	payload := newProvisionPayload(jobID, result)
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal provisioning event: %w", err)
	}
	if err := c.client.Publish(ctx, c.config.ProvisioningChannel, data).Err(); err != nil {
		return fmt.Errorf("failed to publish provisioning event: %w", err)
	}
	c.logger.Info("Provisioning event published", "job", jobID, "organization", result.OrganizationID)
	return nil
}

// updateJobStatus moves jobID between the status sets and publishes a job event.
func (c *RedisConsumer) updateJobStatus(ctx context.Context, jobID string, status string, result interface{}) {
	pipe := c.client.TxPipeline()
	switch status {
	case "processing":
		pipe.SAdd(ctx, c.key("processing"), jobID)
	case "completed":
		pipe.SRem(ctx, c.key("processing"), jobID)
		pipe.SAdd(ctx, c.key("completed"), jobID)
		if result != nil {
			if data, err := json.Marshal(result); err == nil {
				pipe.HSet(ctx, c.key("results"), jobID, data)
			}
		}
	case "failed":
		pipe.SRem(ctx, c.key("processing"), jobID)
		pipe.SAdd(ctx, c.key("failed"), jobID)
		if result != nil {
			if data, err := json.Marshal(result); err == nil {
				pipe.HSet(ctx, c.key("errors"), jobID, data)
			}
		}
	}

	event := map[string]interface{}{
		"event":     fmt.Sprintf("job:%s", status),
		"jobId":     jobID,
		"timestamp": time.Now().Format(time.RFC3339),
	}
	if data, err := json.Marshal(event); err == nil {
		pipe.Publish(ctx, c.key("events"), data)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		c.logger.Warn("Failed to update job status", "job", jobID, "status", status, "error", err)
	}
}

// GetStats returns queue statistics
func (c *RedisConsumer) GetStats(ctx context.Context) (map[string]int64, error) {
	pipe := c.client.Pipeline()
	waiting := pipe.LLen(ctx, c.config.QueueName)
	processing := pipe.SCard(ctx, c.key("processing"))
	completed := pipe.SCard(ctx, c.key("completed"))
	failed := pipe.SCard(ctx, c.key("failed"))
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("failed to read queue stats: %w", err)
	}
	return map[string]int64{
		"waiting":    waiting.Val(),
		"processing": processing.Val(),
		"completed":  completed.Val(),
		"failed":     failed.Val(),
	}, nil
}
