package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	werrors "github.com/adverant/nexus/docverify-worker/internal/errors"
	"github.com/adverant/nexus/docverify-worker/internal/logging"
	"github.com/adverant/nexus/docverify-worker/internal/queue"
	"github.com/adverant/nexus/docverify-worker/internal/storage"
	"github.com/adverant/nexus/docverify-worker/internal/verification"
)

// DocumentVerifier verifies an uploaded document without touching the store.
type DocumentVerifier interface {
	Verify(ctx context.Context, document []byte, sourceName, expected string) verification.Outcome
}

// OrganizationService runs verifications against stored organizations.
type OrganizationService interface {
	VerifyOrganization(ctx context.Context, jobID, organizationID string) (*verification.Result, error)
	ManualVerify(ctx context.Context, jobID, organizationID string, status storage.VerificationStatus, notes string) (*verification.Result, error)
}

// Enqueuer submits verify-organization jobs to the queue backend.
type Enqueuer interface {
	Enqueue(ctx context.Context, payload *queue.VerifyPayload) (string, error)
}

// Notifier signals the provisioning workflow.
type Notifier interface {
	NotifyVerified(ctx context.Context, jobID string, result *verification.Result) error
}

// Pinger is a dependency checked by /health.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler wires the verification endpoints to the verification service.
type Handler struct {
	verifier    DocumentVerifier
	service     OrganizationService
	enqueuer    Enqueuer
	notifier    Notifier
	health      Pinger
	maxFileSize int64
	logger      *logging.Logger
}

// Options holds handler dependencies. Service, Enqueuer, Notifier and Health are optional.
type Options struct {
	Verifier    DocumentVerifier
	Service     OrganizationService
	Enqueuer    Enqueuer
	Notifier    Notifier
	Health      Pinger
	MaxFileSize int64
	Logger      *logging.Logger
}

// NewHandler constructs the HTTP handler.
func NewHandler(opts *Options) (*Handler, error) {
	if opts == nil || opts.Verifier == nil {
		return nil, fmt.Errorf("verifier is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.NewLogger("http")
	}
	return &Handler{
		verifier:    opts.Verifier,
		service:     opts.Service,
		enqueuer:    opts.Enqueuer,
		notifier:    opts.Notifier,
		health:      opts.Health,
		maxFileSize: opts.MaxFileSize,
		logger:      logger,
	}, nil
}

// Register mounts the endpoints on the router.
func (h *Handler) Register(r chi.Router) {
	r.Get("/health", h.HandleHealth)
	r.Route("/api", func(r chi.Router) {
		r.Post("/verify", h.HandleVerifyDocument)
		r.Post("/organizations/{id}/verify", h.HandleVerifyOrganization)
		r.Post("/organizations/{id}/manual-verification", h.HandleManualVerification)
	})
}

// HandleHealth handles GET /health.
func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	if h.health != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()
		if err := h.health.Ping(ctx); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unhealthy", "error": err.Error()})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// HandleVerifyDocument handles POST /api/verify with a multipart body holding
// the document file and the expected identifier.
func (h *Handler) HandleVerifyDocument(w http.ResponseWriter, r *http.Request) {
	if h.maxFileSize > 0 {
		// Room for the other form fields and multipart framing.
		r.Body = http.MaxBytesReader(w, r.Body, h.maxFileSize+1<<20)
	}
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, werrors.NewFileTooLargeError("", tooLarge.Limit, h.maxFileSize))
			return
		}
		writeError(w, werrors.NewMissingInputError("", "document"))
		return
	}

	file, header, err := r.FormFile("document")
	if err != nil {
		writeError(w, werrors.NewMissingInputError("", "document"))
		return
	}
	defer file.Close()

	document, err := io.ReadAll(file)
	if err != nil {
		writeError(w, werrors.NewMissingInputError("", "document"))
		return
	}
	if h.maxFileSize > 0 && int64(len(document)) > h.maxFileSize {
		writeError(w, werrors.NewFileTooLargeError("", int64(len(document)), h.maxFileSize))
		return
	}

	expected := r.FormValue("expected_identifier")
	outcome := h.verifier.Verify(r.Context(), document, header.Filename, expected)
	h.logger.Info("Document verified over HTTP", "file", header.Filename, "status", outcome.Status, "tier", outcome.Tier)
	writeJSON(w, http.StatusOK, FromOutcome(outcome))
}

// HandleVerifyOrganization handles POST /api/organizations/{id}/verify. With a
// queue configured the job is enqueued and 202 returned; otherwise the
// verification runs inline.
func (h *Handler) HandleVerifyOrganization(w http.ResponseWriter, r *http.Request) {
	orgID := chi.URLParam(r, "id")

	if h.enqueuer != nil {
		jobID, err := h.enqueuer.Enqueue(r.Context(), &queue.VerifyPayload{
			OrganizationID: orgID,
			RequestedBy:    r.Header.Get("X-Requested-By"),
		})
		if err != nil {
			h.logger.Error("Failed to enqueue verification", "organization", orgID, "error", err)
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]string{"jobId": jobID, "organizationId": orgID})
		return
	}

	if h.service == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "organization verification is not configured"})
		return
	}
	jobID := uuid.New().String()
	result, err := h.service.VerifyOrganization(r.Context(), jobID, orgID)
	if err != nil {
		writeError(w, err)
		return
	}
	h.notify(r.Context(), jobID, result)
	writeJSON(w, http.StatusOK, FromResult(result))
}

type manualVerificationRequest struct {
	Status string `json:"status"`
	Notes  string `json:"notes"`
}

// HandleManualVerification handles POST /api/organizations/{id}/manual-verification.
func (h *Handler) HandleManualVerification(w http.ResponseWriter, r *http.Request) {
	if h.service == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "organization verification is not configured"})
		return
	}
	orgID := chi.URLParam(r, "id")

	var req manualVerificationRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	jobID := uuid.New().String()
	result, err := h.service.ManualVerify(r.Context(), jobID, orgID, storage.VerificationStatus(req.Status), req.Notes)
	if err != nil {
		writeError(w, err)
		return
	}
	h.notify(r.Context(), jobID, result)
	writeJSON(w, http.StatusOK, FromResult(result))
}

func (h *Handler) notify(ctx context.Context, jobID string, result *verification.Result) {
	if !result.BecameVerified || h.notifier == nil {
		return
	}
	if err := h.notifier.NotifyVerified(ctx, jobID, result); err != nil {
		h.logger.Error("Provisioning notification failed", "job", jobID, "organization", result.OrganizationID, "error", err)
	}
}
