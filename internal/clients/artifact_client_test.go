package clients

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adverant/nexus/docverify-worker/internal/logging"
)

func newTestClient(t *testing.T, handler http.Handler) *ArtifactClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c, err := NewArtifactClient(&ArtifactClientConfig{
		BaseURL:        srv.URL,
		MaxRetries:     3,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     2 * time.Millisecond,
		Logger:         logging.NewNopLogger(),
	})
	require.NoError(t, err)
	return c
}

func TestDownloadArtifactRetriesServerErrors(t *testing.T) {
	var calls int32
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/fileprocess/api/files/art-1/download", r.URL.Path)
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte("%PDF-1.4 content"))
	}))

	data, err := c.DownloadArtifact(context.Background(), "art-1", 1024)
	require.NoError(t, err)
	assert.Equal(t, "%PDF-1.4 content", string(data))
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestDownloadArtifactNotFoundIsNotRetried(t *testing.T) {
	var calls int32
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		http.NotFound(w, r)
	}))

	_, err := c.DownloadArtifact(context.Background(), "missing", 0)
	assert.ErrorIs(t, err, ErrArtifactNotFound)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestDownloadArtifactEnforcesSizeLimit(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(make([]byte, 2048))
	}))

	_, err := c.DownloadArtifact(context.Background(), "big", 1024)
	assert.ErrorIs(t, err, ErrArtifactTooLarge)
}

func TestDownloadArtifactGivesUpAfterMaxRetries(t *testing.T) {
	var calls int32
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))

	_, err := c.DownloadArtifact(context.Background(), "flaky", 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "after 3 attempts")
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestGetArtifactByID(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"success":true,"artifact":{"id":"art-9","filename":"rne.pdf","mime_type":"application/pdf","file_size":4096}}`))
	}))

	info, err := c.GetArtifactByID(context.Background(), "art-9")
	require.NoError(t, err)
	assert.Equal(t, "rne.pdf", info.Filename)
	assert.Equal(t, int64(4096), info.FileSize)
}

func TestHealthCheck(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusTeapot)
	}))
	assert.NoError(t, c.HealthCheck(context.Background()))
}

func TestNewArtifactClientRequiresBaseURL(t *testing.T) {
	_, err := NewArtifactClient(&ArtifactClientConfig{})
	assert.Error(t, err)
}
