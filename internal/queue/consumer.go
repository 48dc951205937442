/**
 * Asynq Queue Consumer for the document verification worker
 *
 * Consumes verify-organization tasks and, when an organization becomes
 * verified, enqueues a provision-organization task for the downstream
 * provisioning workflow.
 */

package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"github.com/adverant/nexus/docverify-worker/internal/logging"
	"github.com/adverant/nexus/docverify-worker/internal/verification"
)

// TaskEnqueuer is the part of *asynq.Client the consumer enqueues through.
type TaskEnqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// Consumer handles task consumption through asynq
type Consumer struct {
	client   *asynq.Client
	enqueuer TaskEnqueuer
	server   *asynq.Server
	mux      *asynq.ServeMux
	handler  *Handler
	config   *ConsumerConfig
	logger   *logging.Logger
}

// ConsumerConfig holds consumer configuration
type ConsumerConfig struct {
	RedisURL    string
	QueueName   string
	Concurrency int
	MaxRetries  int
	// ProvisioningQueue receives provision-organization tasks. It is never
	// served by this consumer. Default "<QueueName>:provisioning".
	ProvisioningQueue string
	Handler           *Handler
	Logger            *logging.Logger
}

// NewConsumer creates a new queue consumer
func NewConsumer(cfg *ConsumerConfig) (*Consumer, error) {
	if cfg.RedisURL == "" {
		return nil, fmt.Errorf("RedisURL is required")
	}
	if cfg.QueueName == "" {
		return nil, fmt.Errorf("QueueName is required")
	}
	if cfg.Handler == nil {
		return nil, fmt.Errorf("Handler is required")
	}
	if cfg.ProvisioningQueue == "" {
		cfg.ProvisioningQueue = cfg.QueueName + ":provisioning"
	}
	if cfg.ProvisioningQueue == cfg.QueueName || cfg.ProvisioningQueue == "default" {
		return nil, fmt.Errorf("ProvisioningQueue %q must differ from the served queues", cfg.ProvisioningQueue)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.NewLogger("asynq")
	}

	redisOpt, err := asynq.ParseRedisURI(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	client := asynq.NewClient(redisOpt)
	server := asynq.NewServer(
		redisOpt,
		asynq.Config{
			Concurrency: cfg.Concurrency,
			Queues: map[string]int{
				cfg.QueueName: 10,
				"default":     1,
			},
			// Exponential backoff: 5s, 10s, 20s, capped at 60s
			RetryDelayFunc: func(n int, err error, task *asynq.Task) time.Duration {
				delay := time.Duration(5*(1<<uint(n))) * time.Second
				if delay > 60*time.Second {
					delay = 60 * time.Second
				}
				return delay
			},
			ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
				logger.Error("Task processing error", "type", task.Type(), "payload", string(task.Payload()), "error", err)
			}),
			Logger: asynqLogger{logger},
		},
	)

	consumer := &Consumer{
		client:   client,
		enqueuer: client,
		server:   server,
		mux:      asynq.NewServeMux(),
		handler:  cfg.Handler,
		config:   cfg,
		logger:   logger,
	}
	consumer.mux.HandleFunc(TaskVerifyOrganization, consumer.handleVerifyOrganization)

	return consumer, nil
}

// Start starts the queue consumer
func (c *Consumer) Start(ctx context.Context) error {
	c.logger.Info("Starting asynq consumer", "concurrency", c.config.Concurrency, "queue", c.config.QueueName, "provisioning_queue", c.config.ProvisioningQueue)
	if err := c.server.Start(c.mux); err != nil {
		return fmt.Errorf("failed to start asynq server: %w", err)
	}
	return nil
}

// Stop stops the queue consumer gracefully
func (c *Consumer) Stop(ctx context.Context) error {
	c.logger.Info("Stopping asynq consumer")
	c.server.Shutdown()
	if err := c.client.Close(); err != nil {
		return fmt.Errorf("failed to close client: %w", err)
	}
	c.logger.Info("Asynq consumer stopped")
	return nil
}

// Enqueue submits a verify-organization task and returns its job ID.
func (c *Consumer) Enqueue(ctx context.Context, payload *VerifyPayload) (string, error) {
	return EnqueueVerification(ctx, c.enqueuer, c.config.QueueName, c.config.MaxRetries, payload)
}

// EnqueueVerification submits a verify-organization task through client.
func EnqueueVerification(ctx context.Context, client TaskEnqueuer, queueName string, maxRetries int, payload *VerifyPayload) (string, error) {
	if payload.OrganizationID == "" {
		return "", fmt.Errorf("organizationId is required")
	}
	if payload.JobID == "" {
		payload.JobID = uuid.New().String()
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to marshal payload: %w", err)
	}
	task := asynq.NewTask(TaskVerifyOrganization, data)
	_, err = client.EnqueueContext(ctx, task,
		asynq.Queue(queueName),
		asynq.TaskID(payload.JobID),
		asynq.MaxRetry(maxRetries),
	)
	if err != nil {
		return "", fmt.Errorf("failed to enqueue verification: %w", err)
	}
	return payload.JobID, nil
}

func (c *Consumer) handleVerifyOrganization(ctx context.Context, task *asynq.Task) error {
	payload, err := ParseVerifyPayload(task.Payload())
	if err != nil {
		c.handler.metrics.ObserveJob("failed")
		return fmt.Errorf("%w: %w", err, asynq.SkipRetry)
	}
	jobID := payload.JobID
	if id, ok := asynq.GetTaskID(ctx); ok && jobID == "" {
		jobID = id
	}

	result, err := c.handler.Handle(ctx, jobID, payload)
	if err != nil {
		if IsPermanent(err) {
			c.handler.metrics.ObserveJob("failed")
			return fmt.Errorf("%w: %w", err, asynq.SkipRetry)
		}
		c.handler.metrics.ObserveJob("retried")
		return err
	}

	if data, err := json.Marshal(newJobResult(result)); err == nil && task.ResultWriter() != nil {
		if _, err := task.ResultWriter().Write(data); err != nil {
			c.logger.Warn("Failed to write task result", "job", jobID, "error", err)
		}
	}

	if result.BecameVerified {
		if err := c.NotifyVerified(ctx, jobID, result); err != nil {
			// is_verified is already persisted; the job is not retried.
			c.logger.Error("Failed to enqueue provisioning", "job", jobID, "organization", result.OrganizationID, "error", err)
		}
	}
	c.handler.metrics.ObserveJob("completed")
	return nil
}

// NotifyVerified enqueues a provision-organization task for a newly verified
// organization on the provisioning queue.
func (c *Consumer) NotifyVerified(ctx context.Context, jobID string, result *verification.Result) error {
	data, err := json.Marshal(newProvisionPayload(jobID, result))
	if err != nil {
		return fmt.Errorf("failed to marshal provisioning payload: %w", err)
	}
	_, err = c.enqueuer.EnqueueContext(ctx, asynq.NewTask(TaskProvisionOrganization, data),
		asynq.Queue(c.config.ProvisioningQueue),
		asynq.TaskID("provision:"+result.OrganizationID+":"+jobID),
	)
	if err != nil {
		return fmt.Errorf("failed to enqueue provisioning: %w", err)
	}
	c.logger.Info("Provisioning task enqueued", "job", jobID, "organization", result.OrganizationID, "queue", c.config.ProvisioningQueue)
	return nil
}

// GetStatistics returns consumer statistics
func (c *Consumer) GetStatistics() map[string]interface{} {
	return map[string]interface{}{
		"backend":      "asynq",
		"concurrency":  c.config.Concurrency,
		"queue":        c.config.QueueName,
		"provisioning": c.config.ProvisioningQueue,
	}
}

// asynqLogger routes asynq's internal logging through the worker logger.
type asynqLogger struct {
	l *logging.Logger
}

func (a asynqLogger) Debug(args ...interface{}) { a.l.Debug(fmt.Sprint(args...)) }
func (a asynqLogger) Info(args ...interface{})  { a.l.Info(fmt.Sprint(args...)) }
func (a asynqLogger) Warn(args ...interface{})  { a.l.Warn(fmt.Sprint(args...)) }
func (a asynqLogger) Error(args ...interface{}) { a.l.Error(fmt.Sprint(args...)) }

func (a asynqLogger) Fatal(args ...interface{}) {
	a.l.Error(fmt.Sprint(args...))
	logging.Sync()
	os.Exit(1)
}
