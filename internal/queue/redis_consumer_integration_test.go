//go:build integration

package queue

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"

	werrors "github.com/adverant/nexus/docverify-worker/internal/errors"
	"github.com/adverant/nexus/docverify-worker/internal/logging"
)

func startRedis(t *testing.T) string {
	t.Helper()
	ctx := context.Background()

	container, err := tcredis.Run(ctx, "redis:7-alpine")
	testcontainers.CleanupContainer(t, container)
	require.NoError(t, err, "failed to start redis container")

	url, err := container.ConnectionString(ctx)
	require.NoError(t, err)
	return url
}

func newIntegrationConsumer(t *testing.T, url string, v OrganizationVerifier, maxRetries int) *RedisConsumer {
	t.Helper()
	c, err := NewRedisConsumer(&RedisConsumerConfig{
		RedisURL:     url,
		QueueName:    "docverify:test",
		Concurrency:  1,
		MaxRetries:   maxRetries,
		Handler:      newTestHandler(t, v, 5000),
		Logger:       logging.NewNopLogger(),
		PollInterval: 200 * time.Millisecond,
	})
	require.NoError(t, err)
	return c
}

func TestRedisConsumerCompletesAndPublishesProvisioning(t *testing.T) {
	ctx := context.Background()
	url := startRedis(t)

	result := verifiedResult()
	result.BecameVerified = true
	c := newIntegrationConsumer(t, url, &fakeVerifier{result: result}, 3)

	opt, err := redis.ParseURL(url)
	require.NoError(t, err)
	observer := redis.NewClient(opt)
	t.Cleanup(func() { _ = observer.Close() })

	sub := observer.Subscribe(ctx, "docverify:test:provisioning")
	t.Cleanup(func() { _ = sub.Close() })
	_, err = sub.Receive(ctx)
	require.NoError(t, err)

	jobID, err := c.Enqueue(ctx, &VerifyPayload{OrganizationID: "org-1", RequestedBy: "test"})
	require.NoError(t, err)

	require.NoError(t, c.Start())
	t.Cleanup(func() { _ = c.Stop() })

	select {
	case msg := <-sub.Channel():
		var payload ProvisionPayload
		require.NoError(t, json.Unmarshal([]byte(msg.Payload), &payload))
		assert.Equal(t, EventOrganizationVerified, payload.Event)
		assert.Equal(t, "org-1", payload.OrganizationID)
		assert.Equal(t, jobID, payload.JobID)
	case <-time.After(10 * time.Second):
		t.Fatal("no provisioning event received")
	}

	require.Eventually(t, func() bool {
		ok, _ := observer.SIsMember(ctx, "docverify:test:completed", jobID).Result()
		return ok
	}, 5*time.Second, 50*time.Millisecond)

	raw, err := observer.HGet(ctx, "docverify:test:results", jobID).Result()
	require.NoError(t, err)
	var jr JobResult
	require.NoError(t, json.Unmarshal([]byte(raw), &jr))
	assert.Equal(t, "verified", jr.Status)

	stats, err := c.GetStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats["completed"])
	assert.Equal(t, int64(0), stats["processing"])
}

func TestRedisConsumerFailsPermanentErrorsWithoutRetry(t *testing.T) {
	ctx := context.Background()
	url := startRedis(t)

	v := &fakeVerifier{err: werrors.NewOrganizationNotFoundError("", "org-404")}
	c := newIntegrationConsumer(t, url, v, 3)

	jobID, err := c.Enqueue(ctx, &VerifyPayload{OrganizationID: "org-404"})
	require.NoError(t, err)
	require.NoError(t, c.Start())
	t.Cleanup(func() { _ = c.Stop() })

	require.Eventually(t, func() bool {
		stats, err := c.GetStats(ctx)
		return err == nil && stats["failed"] == 1
	}, 10*time.Second, 50*time.Millisecond)

	stats, err := c.GetStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), stats["waiting"])
	assert.Equal(t, []string{jobID}, v.seen(), "permanent errors are not retried")
}

func TestRedisConsumerRetriesJobsWithoutMaxRetries(t *testing.T) {
	ctx := context.Background()
	url := startRedis(t)

	v := &fakeVerifier{
		result:    verifiedResult(),
		err:       werrors.NewStorageFailedError("", errors.New("db down")),
		failFirst: 1,
	}
	c := newIntegrationConsumer(t, url, v, 3)

	opt, err := redis.ParseURL(url)
	require.NoError(t, err)
	producer := redis.NewClient(opt)
	t.Cleanup(func() { _ = producer.Close() })

	// External producers may leave maxRetries out entirely.
	raw := `{"id":"ext-1","type":"verify-organization","payload":{"organizationId":"org-1"},"createdAt":"2026-01-01T00:00:00Z"}`
	require.NoError(t, producer.HSet(ctx, "docverify:test:data", "ext-1", raw).Err())
	require.NoError(t, producer.LPush(ctx, "docverify:test", "ext-1").Err())

	require.NoError(t, c.Start())
	t.Cleanup(func() { _ = c.Stop() })

	require.Eventually(t, func() bool {
		ok, _ := producer.SIsMember(ctx, "docverify:test:completed", "ext-1").Result()
		return ok
	}, 10*time.Second, 50*time.Millisecond)
	assert.Equal(t, []string{"ext-1", "ext-1"}, v.seen())
}
