/**
 * Artifact Client for the document verification worker
 *
 * Registration certificates are uploaded once to the FileProcess API and
 * referenced from the organization record by artifact ID. The worker only
 * reads them back:
 * 1. GET /fileprocess/api/files/{id}           - artifact metadata
 * 2. GET /fileprocess/api/files/{id}/download  - raw bytes
 *
 * Downloads retry with exponential backoff on network errors, 429 and 5xx.
 */

package clients

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"time"

	"github.com/adverant/nexus/docverify-worker/internal/logging"
)

// ErrArtifactNotFound is returned when the API answers 404.
var ErrArtifactNotFound = errors.New("artifact not found")

// ErrArtifactTooLarge is returned when a download exceeds the caller's limit.
var ErrArtifactTooLarge = errors.New("artifact exceeds size limit")

// ArtifactClient handles communication with the FileProcess API for artifact storage
type ArtifactClient struct {
	baseURL        string
	httpClient     *http.Client
	maxRetries     int
	initialBackoff time.Duration
	maxBackoff     time.Duration
	logger         *logging.Logger
}

// ArtifactClientConfig holds artifact client configuration
type ArtifactClientConfig struct {
	BaseURL        string
	HTTPClient     *http.Client
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Logger         *logging.Logger
}

// ArtifactInfo describes a stored artifact
type ArtifactInfo struct {
	ID             string `json:"id"`
	Filename       string `json:"filename"`
	FileSize       int64  `json:"file_size"`
	MimeType       string `json:"mime_type"`
	StorageBackend string `json:"storage_backend"`
	DownloadURL    string `json:"download_url"`
	CreatedAt      string `json:"created_at"`
	ExpiresAt      string `json:"expires_at,omitempty"`
}

// ArtifactResponse represents the API envelope around an artifact
type ArtifactResponse struct {
	Success  bool         `json:"success"`
	Artifact ArtifactInfo `json:"artifact,omitempty"`
	Error    string       `json:"error,omitempty"`
	Message  string       `json:"message,omitempty"`
}

// NewArtifactClient creates a new artifact client
func NewArtifactClient(cfg *ArtifactClientConfig) (*ArtifactClient, error) {
	if cfg == nil || cfg.BaseURL == "" {
		return nil, fmt.Errorf("artifact API base URL is required")
	}
	if _, err := url.Parse(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("invalid artifact API base URL: %w", err)
	}

	c := &ArtifactClient{
		baseURL:        cfg.BaseURL,
		httpClient:     cfg.HTTPClient,
		maxRetries:     cfg.MaxRetries,
		initialBackoff: cfg.InitialBackoff,
		maxBackoff:     cfg.MaxBackoff,
		logger:         cfg.Logger,
	}
	if c.httpClient == nil {
		c.httpClient = &http.Client{Timeout: 120 * time.Second}
	}
	if c.maxRetries <= 0 {
		c.maxRetries = 5
	}
	if c.initialBackoff <= 0 {
		c.initialBackoff = time.Second
	}
	if c.maxBackoff <= 0 {
		c.maxBackoff = 32 * time.Second
	}
	if c.logger == nil {
		c.logger = logging.NewLogger("ArtifactClient")
	}
	return c, nil
}

// HealthCheck verifies the FileProcess API is available
func (c *ArtifactClient) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("failed to create health check request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("artifact service health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("artifact service health check returned status %d: %s", resp.StatusCode, string(body))
	}

	return nil
}

// GetArtifactByID retrieves artifact metadata by ID
func (c *ArtifactClient) GetArtifactByID(ctx context.Context, artifactID string) (*ArtifactInfo, error) {
	if artifactID == "" {
		return nil, fmt.Errorf("artifact ID is required")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/fileprocess/api/files/"+url.PathEscape(artifactID), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create get artifact request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to get artifact: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("%w: %s", ErrArtifactNotFound, artifactID)
	}

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("get artifact returned HTTP %d: %s", resp.StatusCode, string(body))
	}

	var result ArtifactResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to parse artifact response: %w", err)
	}
	if !result.Success {
		return nil, fmt.Errorf("get artifact returned success=false: %s", result.Error)
	}

	return &result.Artifact, nil
}

// DownloadArtifact fetches the artifact bytes. maxBytes <= 0 disables the size check.
func (c *ArtifactClient) DownloadArtifact(ctx context.Context, artifactID string, maxBytes int64) ([]byte, error) {
	if artifactID == "" {
		return nil, fmt.Errorf("artifact ID is required")
	}

	downloadURL := c.baseURL + "/fileprocess/api/files/" + url.PathEscape(artifactID) + "/download"
	var lastErr error

	for attempt := 1; attempt <= c.maxRetries; attempt++ {
		c.logger.Debug("Download attempt", "artifact", artifactID, "attempt", attempt, "max", c.maxRetries)

		data, retryable, err := c.download(ctx, downloadURL, maxBytes)
		if err == nil {
			c.logger.Info("Artifact downloaded", "artifact", artifactID, "bytes", len(data), "attempt", attempt)
			return data, nil
		}
		if !retryable {
			return nil, err
		}

		lastErr = err
		c.logger.Warn("Download attempt failed", "artifact", artifactID, "attempt", attempt, "error", err)

		if attempt < c.maxRetries {
			backoff := c.backoff(attempt)
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return nil, fmt.Errorf("context cancelled during retry backoff: %w", ctx.Err())
			}
		}
	}

	return nil, fmt.Errorf("failed to download artifact after %d attempts: %w", c.maxRetries, lastErr)
}

func (c *ArtifactClient) backoff(attempt int) time.Duration {
	d := time.Duration(float64(c.initialBackoff) * math.Pow(2, float64(attempt-1)))
	if d > c.maxBackoff {
		d = c.maxBackoff
	}
	return d
}

// download performs one GET. The bool reports whether a retry may help.
func (c *ArtifactClient) download(ctx context.Context, downloadURL string, maxBytes int64) ([]byte, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, downloadURL, nil)
	if err != nil {
		return nil, false, fmt.Errorf("failed to create download request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, false, ctx.Err()
		}
		return nil, true, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, false, ErrArtifactNotFound
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return nil, true, fmt.Errorf("HTTP %d: %s", resp.StatusCode, resp.Status)
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return nil, false, fmt.Errorf("HTTP %d: %s", resp.StatusCode, resp.Status)
	}

	if maxBytes > 0 && resp.ContentLength > maxBytes {
		return nil, false, fmt.Errorf("%w: %d > %d bytes", ErrArtifactTooLarge, resp.ContentLength, maxBytes)
	}

	body := io.Reader(resp.Body)
	if maxBytes > 0 {
		body = io.LimitReader(resp.Body, maxBytes+1)
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return nil, true, fmt.Errorf("failed to read response body: %w", err)
	}
	if maxBytes > 0 && int64(len(data)) > maxBytes {
		return nil, false, fmt.Errorf("%w: more than %d bytes", ErrArtifactTooLarge, maxBytes)
	}
	return data, false, nil
}
