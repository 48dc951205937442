/**
 * Storage Manager for the document verification worker
 *
 * Coordinates the entity store (organization records) and the artifact
 * API (registration documents) so callers deal with one object:
 * load the organization, resolve its document bytes, write the outcome back.
 */

package storage

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/adverant/nexus/docverify-worker/internal/clients"
	werrors "github.com/adverant/nexus/docverify-worker/internal/errors"
	"github.com/adverant/nexus/docverify-worker/internal/logging"
)

// ArtifactFetcher downloads stored documents.
type ArtifactFetcher interface {
	DownloadArtifact(ctx context.Context, artifactID string, maxBytes int64) ([]byte, error)
}

// StorageManager coordinates the entity store and the artifact API
type StorageManager struct {
	store       OrganizationStore
	artifacts   ArtifactFetcher
	maxFileSize int64
	logger      *logging.Logger
}

// StorageManagerConfig holds storage manager configuration
type StorageManagerConfig struct {
	Store       OrganizationStore
	Artifacts   ArtifactFetcher // optional when documents are stored inline
	MaxFileSize int64
	Logger      *logging.Logger
}

// NewStorageManager creates a new storage manager
func NewStorageManager(cfg *StorageManagerConfig) (*StorageManager, error) {
	if cfg == nil || cfg.Store == nil {
		return nil, fmt.Errorf("organization store is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.NewLogger("storage")
	}
	return &StorageManager{
		store:       cfg.Store,
		artifacts:   cfg.Artifacts,
		maxFileSize: cfg.MaxFileSize,
		logger:      logger,
	}, nil
}

// LoadOrganization fetches the organization record for a job
func (sm *StorageManager) LoadOrganization(ctx context.Context, jobID, organizationID string) (*Organization, error) {
	org, err := sm.store.GetOrganization(ctx, organizationID)
	if errors.Is(err, ErrOrganizationNotFound) {
		return nil, werrors.NewOrganizationNotFoundError(jobID, organizationID)
	}
	if err != nil {
		return nil, werrors.NewStorageFailedError(jobID, err)
	}
	return org, nil
}

// LoadDocument resolves the registration document bytes of org.
// It returns (nil, nil) when no document is attached or the referenced
// artifact no longer exists.
func (sm *StorageManager) LoadDocument(ctx context.Context, jobID string, org *Organization) ([]byte, error) {
	if len(org.DocumentContent) > 0 {
		if sm.maxFileSize > 0 && int64(len(org.DocumentContent)) > sm.maxFileSize {
			return nil, werrors.NewFileTooLargeError(jobID, int64(len(org.DocumentContent)), sm.maxFileSize)
		}
		sm.logger.Debug("Using inline document", "job", jobID, "bytes", len(org.DocumentContent))
		return org.DocumentContent, nil
	}

	if org.DocumentArtifactID == "" {
		return nil, nil
	}
	if sm.artifacts == nil {
		return nil, werrors.NewDocumentFetchError(jobID, org.DocumentArtifactID, fmt.Errorf("artifact client not configured"))
	}

	sm.logger.Info("Downloading document artifact", "job", jobID, "artifact", org.DocumentArtifactID)
	data, err := sm.artifacts.DownloadArtifact(ctx, org.DocumentArtifactID, sm.maxFileSize)
	if errors.Is(err, clients.ErrArtifactNotFound) {
		sm.logger.Warn("Document artifact not found, treating as missing", "job", jobID, "artifact", org.DocumentArtifactID)
		return nil, nil
	}
	if errors.Is(err, clients.ErrArtifactTooLarge) {
		return nil, werrors.NewFileTooLargeError(jobID, sm.maxFileSize+1, sm.maxFileSize)
	}
	if err != nil {
		return nil, werrors.NewDocumentFetchError(jobID, org.DocumentArtifactID, err)
	}
	return data, nil
}

// SaveVerification persists the outcome fields
func (sm *StorageManager) SaveVerification(ctx context.Context, jobID, organizationID string, update VerificationUpdate) error {
	err := sm.store.SaveVerification(ctx, organizationID, update)
	if errors.Is(err, ErrOrganizationNotFound) {
		return werrors.NewOrganizationNotFoundError(jobID, organizationID)
	}
	if err != nil {
		return werrors.NewStorageFailedError(jobID, err)
	}
	return nil
}

// RecordAttempt writes an audit row when the store supports it.
// Failures are logged and never fail the job.
func (sm *StorageManager) RecordAttempt(ctx context.Context, attempt *VerificationAttempt) {
	recorder, ok := sm.store.(AttemptRecorder)
	if !ok {
		return
	}
	if err := recorder.RecordAttempt(ctx, attempt); err != nil {
		sm.logger.Warn("Failed to record verification attempt", "job", attempt.JobID, "organization", attempt.OrganizationID, "error", err)
	}
}

// Ping checks the store when it supports health checks.
func (sm *StorageManager) Ping(ctx context.Context) error {
	if p, ok := sm.store.(interface{ Ping(context.Context) error }); ok {
		return p.Ping(ctx)
	}
	return nil
}

// Close releases the underlying store
func (sm *StorageManager) Close() error {
	if c, ok := sm.store.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
