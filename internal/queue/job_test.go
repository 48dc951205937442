package queue

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	werrors "github.com/adverant/nexus/docverify-worker/internal/errors"
	"github.com/adverant/nexus/docverify-worker/internal/logging"
	"github.com/adverant/nexus/docverify-worker/internal/storage"
	"github.com/adverant/nexus/docverify-worker/internal/verification"
)

type fakeVerifier struct {
	result *verification.Result
	err    error
	block  bool
	panics bool
	// failFirst makes the first N calls return err before succeeding.
	failFirst int

	mu   sync.Mutex
	jobs []string
}

func (f *fakeVerifier) seen() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.jobs...)
}

func (f *fakeVerifier) VerifyOrganization(ctx context.Context, jobID, organizationID string) (*verification.Result, error) {
	f.mu.Lock()
	f.jobs = append(f.jobs, jobID)
	call := len(f.jobs)
	f.mu.Unlock()
	if f.panics {
		panic("store exploded")
	}
	if f.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if f.err != nil && (f.failFirst == 0 || call <= f.failFirst) {
		return nil, f.err
	}
	r := *f.result
	r.OrganizationID = organizationID
	return &r, nil
}

func newTestHandler(t *testing.T, v OrganizationVerifier, timeoutMs int64) *Handler {
	t.Helper()
	h, err := NewHandler(&HandlerConfig{Verifier: v, ProcessingTimeout: timeoutMs, Logger: logging.NewNopLogger()})
	require.NoError(t, err)
	return h
}

func verifiedResult() *verification.Result {
	return &verification.Result{
		Outcome: verification.Outcome{
			IsVerified:     true,
			Status:         storage.StatusVerified,
			Tier:           verification.TierExact,
			Extracted:      "1234567A",
			Similarity:     1,
			Confidence:     100,
			ProcessingTime: 1500 * time.Millisecond,
			Notes:          "Document verified successfully.",
		},
	}
}

func TestParseVerifyPayload(t *testing.T) {
	p, err := ParseVerifyPayload([]byte(`{"jobId":"job-1","organizationId":"org-1","requestedBy":"admin"}`))
	require.NoError(t, err)
	assert.Equal(t, "job-1", p.JobID)
	assert.Equal(t, "org-1", p.OrganizationID)
	assert.Equal(t, "admin", p.RequestedBy)

	_, err = ParseVerifyPayload([]byte(`{"jobId":"job-1"}`))
	assert.True(t, werrors.IsCode(err, werrors.ErrorMissingInput))

	_, err = ParseVerifyPayload([]byte(`not json`))
	assert.Error(t, err)
}

func TestHandlerHandle(t *testing.T) {
	v := &fakeVerifier{result: verifiedResult()}
	h := newTestHandler(t, v, 0)

	res, err := h.Handle(context.Background(), "job-1", &VerifyPayload{OrganizationID: "org-1"})
	require.NoError(t, err)
	assert.Equal(t, "org-1", res.OrganizationID)
	assert.Equal(t, []string{"job-1"}, v.seen())
	assert.Equal(t, defaultProcessingTimeout, h.timeout)
}

func TestHandlerTimeout(t *testing.T) {
	h := newTestHandler(t, &fakeVerifier{block: true}, 20)

	_, err := h.Handle(context.Background(), "job-1", &VerifyPayload{OrganizationID: "org-1"})
	require.Error(t, err)
	assert.True(t, werrors.IsCode(err, werrors.ErrorProcessingTimeout))
	assert.False(t, IsPermanent(err))
}

func TestIsPermanent(t *testing.T) {
	assert.True(t, IsPermanent(werrors.NewOrganizationNotFoundError("job", "org")))
	assert.True(t, IsPermanent(werrors.NewMissingInputError("job", "organizationId")))
	assert.False(t, IsPermanent(werrors.NewStorageFailedError("job", errors.New("db down"))))
	assert.False(t, IsPermanent(errors.New("plain")))
}

func TestNewJobResult(t *testing.T) {
	r := verifiedResult()
	r.OrganizationID = "org-1"
	r.BecameVerified = true

	jr := newJobResult(r)
	assert.Equal(t, "org-1", jr.OrganizationID)
	assert.Equal(t, "verified", jr.Status)
	assert.Equal(t, "exact", jr.Tier)
	assert.True(t, jr.BecameVerified)
	assert.Equal(t, int64(1500), jr.ProcessingTimeMs)

	pp := newProvisionPayload("job-1", r)
	assert.Equal(t, EventOrganizationVerified, pp.Event)
	assert.Equal(t, "org-1", pp.OrganizationID)
}

type enqueuedTask struct {
	task *asynq.Task
	opts map[asynq.OptionType]interface{}
}

type recordingEnqueuer struct {
	mu    sync.Mutex
	tasks []enqueuedTask
}

func (r *recordingEnqueuer) EnqueueContext(_ context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	values := make(map[asynq.OptionType]interface{}, len(opts))
	for _, o := range opts {
		values[o.Type()] = o.Value()
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tasks = append(r.tasks, enqueuedTask{task: task, opts: values})
	return &asynq.TaskInfo{}, nil
}

func (r *recordingEnqueuer) enqueued() []enqueuedTask {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]enqueuedTask(nil), r.tasks...)
}

func newTestConsumer(t *testing.T, v OrganizationVerifier) *Consumer {
	t.Helper()
	// asynq connects lazily; nothing below talks to Redis.
	c, err := NewConsumer(&ConsumerConfig{
		RedisURL:    "redis://localhost:6379/0",
		QueueName:   "docverify:jobs",
		Concurrency: 1,
		Handler:     newTestHandler(t, v, 0),
		Logger:      logging.NewNopLogger(),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.client.Close() })
	return c
}

func TestNewConsumerProvisioningQueue(t *testing.T) {
	c := newTestConsumer(t, &fakeVerifier{result: verifiedResult()})
	assert.Equal(t, "docverify:jobs:provisioning", c.config.ProvisioningQueue)

	_, err := NewConsumer(&ConsumerConfig{
		RedisURL:          "redis://localhost:6379/0",
		QueueName:         "docverify:jobs",
		ProvisioningQueue: "docverify:jobs",
		Handler:           newTestHandler(t, &fakeVerifier{}, 0),
		Logger:            logging.NewNopLogger(),
	})
	assert.Error(t, err)
}

func TestAsynqHandlerSkipsRetryForPermanentErrors(t *testing.T) {
	c := newTestConsumer(t, &fakeVerifier{err: werrors.NewOrganizationNotFoundError("job-1", "org-1")})

	err := c.handleVerifyOrganization(context.Background(), asynq.NewTask(TaskVerifyOrganization, []byte(`{"jobId":"job-1","organizationId":"org-1"}`)))
	require.Error(t, err)
	assert.ErrorIs(t, err, asynq.SkipRetry)
	assert.True(t, werrors.IsCode(err, werrors.ErrorOrganizationNotFound), "error code survives the SkipRetry wrap")

	err = c.handleVerifyOrganization(context.Background(), asynq.NewTask(TaskVerifyOrganization, []byte(`{}`)))
	assert.ErrorIs(t, err, asynq.SkipRetry)
}

func TestAsynqHandlerRetriesTransientErrors(t *testing.T) {
	c := newTestConsumer(t, &fakeVerifier{err: werrors.NewStorageFailedError("job-1", errors.New("db down"))})

	err := c.handleVerifyOrganization(context.Background(), asynq.NewTask(TaskVerifyOrganization, []byte(`{"jobId":"job-1","organizationId":"org-1"}`)))
	require.Error(t, err)
	assert.False(t, errors.Is(err, asynq.SkipRetry))
}

func TestAsynqHandlerCompletes(t *testing.T) {
	result := verifiedResult()
	result.BecameVerified = false
	v := &fakeVerifier{result: result}
	c := newTestConsumer(t, v)

	err := c.handleVerifyOrganization(context.Background(), asynq.NewTask(TaskVerifyOrganization, []byte(`{"jobId":"job-7","organizationId":"org-1"}`)))
	require.NoError(t, err)
	assert.Equal(t, []string{"job-7"}, v.seen())
}

func TestAsynqHandlerEnqueuesProvisioningOnFirstVerification(t *testing.T) {
	result := verifiedResult()
	result.BecameVerified = true
	c := newTestConsumer(t, &fakeVerifier{result: result})
	rec := &recordingEnqueuer{}
	c.enqueuer = rec

	err := c.handleVerifyOrganization(context.Background(), asynq.NewTask(TaskVerifyOrganization, []byte(`{"jobId":"job-9","organizationId":"org-1"}`)))
	require.NoError(t, err)

	tasks := rec.enqueued()
	require.Len(t, tasks, 1)
	assert.Equal(t, TaskProvisionOrganization, tasks[0].task.Type())
	assert.Equal(t, "docverify:jobs:provisioning", tasks[0].opts[asynq.QueueOpt])
	assert.NotEqual(t, c.config.QueueName, tasks[0].opts[asynq.QueueOpt], "the worker never serves its own provisioning tasks")
	assert.Equal(t, "provision:org-1:job-9", tasks[0].opts[asynq.TaskIDOpt])

	var payload ProvisionPayload
	require.NoError(t, json.Unmarshal(tasks[0].task.Payload(), &payload))
	assert.Equal(t, EventOrganizationVerified, payload.Event)
	assert.Equal(t, "org-1", payload.OrganizationID)
	assert.Equal(t, "job-9", payload.JobID)
}

func TestAsynqHandlerSkipsProvisioningWhenAlreadyVerified(t *testing.T) {
	c := newTestConsumer(t, &fakeVerifier{result: verifiedResult()})
	rec := &recordingEnqueuer{}
	c.enqueuer = rec

	err := c.handleVerifyOrganization(context.Background(), asynq.NewTask(TaskVerifyOrganization, []byte(`{"jobId":"job-9","organizationId":"org-1"}`)))
	require.NoError(t, err)
	assert.Empty(t, rec.enqueued())
}

func TestConsumerEnqueueTargetsWorkQueue(t *testing.T) {
	c := newTestConsumer(t, &fakeVerifier{result: verifiedResult()})
	rec := &recordingEnqueuer{}
	c.enqueuer = rec

	jobID, err := c.Enqueue(context.Background(), &VerifyPayload{OrganizationID: "org-1"})
	require.NoError(t, err)

	tasks := rec.enqueued()
	require.Len(t, tasks, 1)
	assert.Equal(t, TaskVerifyOrganization, tasks[0].task.Type())
	assert.Equal(t, "docverify:jobs", tasks[0].opts[asynq.QueueOpt])
	assert.Equal(t, jobID, tasks[0].opts[asynq.TaskIDOpt])
}
