package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	werrors "github.com/adverant/nexus/docverify-worker/internal/errors"
	"github.com/adverant/nexus/docverify-worker/internal/logging"
	"github.com/adverant/nexus/docverify-worker/internal/metrics"
	"github.com/adverant/nexus/docverify-worker/internal/verification"
)

// Task types
const (
	TaskVerifyOrganization    = "verify-organization"
	TaskProvisionOrganization = "provision-organization"
)

// EventOrganizationVerified is published when is_verified flips to true.
const EventOrganizationVerified = "organization:verified"

const defaultProcessingTimeout = 300000 * time.Millisecond

// VerifyPayload is the body of a verify-organization job
type VerifyPayload struct {
	JobID          string `json:"jobId,omitempty"`
	OrganizationID string `json:"organizationId"`
	RequestedBy    string `json:"requestedBy,omitempty"`
}

// ParseVerifyPayload decodes and checks a verify-organization payload.
func ParseVerifyPayload(data []byte) (*VerifyPayload, error) {
	var p VerifyPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("failed to unmarshal job payload: %w", err)
	}
	if p.OrganizationID == "" {
		return nil, werrors.NewMissingInputError(p.JobID, "organizationId")
	}
	return &p, nil
}

// ProvisionPayload is the body of a provision-organization task and of
// organization:verified events.
type ProvisionPayload struct {
	Event          string    `json:"event"`
	OrganizationID string    `json:"organizationId"`
	JobID          string    `json:"jobId"`
	VerifiedAt     time.Time `json:"verifiedAt"`
}

// JobResult is stored in the results hash of completed jobs.
type JobResult struct {
	OrganizationID   string  `json:"organizationId"`
	Status           string  `json:"status"`
	Tier             string  `json:"tier"`
	IsVerified       bool    `json:"isVerified"`
	BecameVerified   bool    `json:"becameVerified"`
	Extracted        string  `json:"extractedIdentifier,omitempty"`
	Similarity       float64 `json:"similarity"`
	Confidence       float64 `json:"confidence"`
	ProcessingTimeMs int64   `json:"processingTime"`
	Notes            string  `json:"notes"`
}

// OrganizationVerifier is satisfied by *verification.Service.
type OrganizationVerifier interface {
	VerifyOrganization(ctx context.Context, jobID, organizationID string) (*verification.Result, error)
}

// Handler runs one verify-organization job. It is shared by both consumers.
type Handler struct {
	verifier OrganizationVerifier
	timeout  time.Duration
	metrics  *metrics.Metrics
	logger   *logging.Logger
}

// HandlerConfig holds handler configuration
type HandlerConfig struct {
	Verifier          OrganizationVerifier
	ProcessingTimeout int64 // milliseconds, default 300000
	Metrics           *metrics.Metrics
	Logger            *logging.Logger
}

// NewHandler creates a job handler
func NewHandler(cfg *HandlerConfig) (*Handler, error) {
	if cfg == nil || cfg.Verifier == nil {
		return nil, fmt.Errorf("verifier is required")
	}
	timeout := defaultProcessingTimeout
	if cfg.ProcessingTimeout > 0 {
		timeout = time.Duration(cfg.ProcessingTimeout) * time.Millisecond
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.NewLogger("queue")
	}
	return &Handler{verifier: cfg.Verifier, timeout: timeout, metrics: cfg.Metrics, logger: logger}, nil
}

// Handle verifies the organization named by payload within the processing timeout.
func (h *Handler) Handle(ctx context.Context, jobID string, payload *VerifyPayload) (*verification.Result, error) {
	startTime := time.Now()
	h.logger.Info("Processing verification job",
		"job", jobID, "organization", payload.OrganizationID, "requested_by", payload.RequestedBy, "timeout", h.timeout)

	processCtx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	result, err := h.verifier.VerifyOrganization(processCtx, jobID, payload.OrganizationID)
	duration := time.Since(startTime)
	if err != nil {
		if processCtx.Err() == context.DeadlineExceeded {
			h.logger.Warn("Verification job timed out", "job", jobID, "duration", duration, "timeout", h.timeout)
			return nil, werrors.NewProcessingTimeoutError(jobID, h.timeout, err)
		}
		h.logger.Error("Verification job failed", "job", jobID, "duration", duration, "error", err)
		return nil, err
	}

	h.logger.Info("Verification job completed",
		"job", jobID,
		"duration", duration,
		"status", result.Outcome.Status,
		"became_verified", result.BecameVerified)
	return result, nil
}

// IsPermanent reports whether retrying err cannot succeed.
func IsPermanent(err error) bool {
	return werrors.IsCode(err, werrors.ErrorOrganizationNotFound) ||
		werrors.IsCode(err, werrors.ErrorMissingInput)
}

func newJobResult(r *verification.Result) *JobResult {
	o := r.Outcome
	return &JobResult{
		OrganizationID:   r.OrganizationID,
		Status:           string(o.Status),
		Tier:             string(o.Tier),
		IsVerified:       o.IsVerified,
		BecameVerified:   r.BecameVerified,
		Extracted:        o.Extracted,
		Similarity:       o.Similarity,
		Confidence:       o.Confidence,
		ProcessingTimeMs: o.ProcessingTime.Milliseconds(),
		Notes:            o.Notes,
	}
}

func newProvisionPayload(jobID string, r *verification.Result) *ProvisionPayload {
	return &ProvisionPayload{
		Event:          EventOrganizationVerified,
		OrganizationID: r.OrganizationID,
		JobID:          jobID,
		VerifiedAt:     time.Now().UTC(),
	}
}
