package storage

import (
	"context"
	"errors"
	"time"
)

// VerificationStatus is the lifecycle state of an organization's verification.
type VerificationStatus string

const (
	StatusPending  VerificationStatus = "pending"
	StatusVerified VerificationStatus = "verified"
	StatusFailed   VerificationStatus = "failed"
)

// Valid reports whether s is one of the known statuses.
func (s VerificationStatus) Valid() bool {
	switch s {
	case StatusPending, StatusVerified, StatusFailed:
		return true
	}
	return false
}

// ErrOrganizationNotFound is returned when no organization has the requested ID.
var ErrOrganizationNotFound = errors.New("organization not found")

// Organization is the entity record being verified.
type Organization struct {
	ID                 string
	Name               string
	DeclaredIdentifier string

	// The registration document is either stored inline or referenced by artifact ID.
	DocumentArtifactID string
	DocumentName       string
	DocumentContent    []byte

	VerificationStatus VerificationStatus
	VerificationNotes  string
	IsVerified         bool
	VerificationDate   *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// HasDocument reports whether a registration document is attached.
func (o *Organization) HasDocument() bool {
	return len(o.DocumentContent) > 0 || o.DocumentArtifactID != ""
}

// VerificationUpdate carries the four verification fields written back after a run.
type VerificationUpdate struct {
	Status           VerificationStatus
	Notes            string
	IsVerified       bool
	VerificationDate *time.Time
}

// VerificationAttempt is one audited run of the pipeline.
type VerificationAttempt struct {
	JobID            string
	OrganizationID   string
	Status           VerificationStatus
	Extracted        string
	Expected         string
	Similarity       float64
	Confidence       float64
	ProcessingTimeMs int64
	ErrorCode        string
	Metadata         map[string]interface{}
}

// OrganizationStore is the entity store the verifier reads from and writes to.
type OrganizationStore interface {
	GetOrganization(ctx context.Context, id string) (*Organization, error)
	SaveVerification(ctx context.Context, id string, update VerificationUpdate) error
}

// AttemptRecorder is implemented by stores that keep an audit trail of runs.
type AttemptRecorder interface {
	RecordAttempt(ctx context.Context, attempt *VerificationAttempt) error
}
