package verification

import (
	"context"
	"errors"
	"fmt"
	"time"

	werrors "github.com/adverant/nexus/docverify-worker/internal/errors"
	"github.com/adverant/nexus/docverify-worker/internal/logging"
	"github.com/adverant/nexus/docverify-worker/internal/storage"
)

// ErrInvalidStatus is returned by ManualVerify for unknown statuses.
var ErrInvalidStatus = errors.New("invalid verification status")

// persistTimeout bounds the write-back once the caller's context is done.
const persistTimeout = 10 * time.Second

// Store is what the service needs from the storage layer.
type Store interface {
	LoadOrganization(ctx context.Context, jobID, organizationID string) (*storage.Organization, error)
	LoadDocument(ctx context.Context, jobID string, org *storage.Organization) ([]byte, error)
	SaveVerification(ctx context.Context, jobID, organizationID string, update storage.VerificationUpdate) error
	RecordAttempt(ctx context.Context, attempt *storage.VerificationAttempt)
}

// Result is what a verification run did to one organization.
type Result struct {
	OrganizationID string
	Outcome        Outcome
	// BecameVerified is true only when is_verified flipped from false to true.
	BecameVerified bool
}

// Service verifies stored organizations and writes the outcome back.
type Service struct {
	store    Store
	verifier *Verifier
	logger   *logging.Logger
	now      func() time.Time
}

// NewService creates a new verification service
func NewService(store Store, verifier *Verifier, logger *logging.Logger) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if verifier == nil {
		return nil, fmt.Errorf("verifier is required")
	}
	if logger == nil {
		logger = logging.NewLogger("verification")
	}
	return &Service{store: store, verifier: verifier, logger: logger, now: time.Now}, nil
}

// Verifier returns the stateless verifier used by the service.
func (s *Service) Verifier() *Verifier {
	return s.verifier
}

// VerifyOrganization runs the pipeline for one organization and persists the
// outcome. Errors are returned only when the record cannot be loaded or saved,
// or the document cannot be fetched; verification failures are outcomes.
func (s *Service) VerifyOrganization(ctx context.Context, jobID, organizationID string) (*Result, error) {
	log := s.logger.With("job", jobID, "organization", organizationID)

	log.Info("Step 1: Loading organization")
	org, err := s.store.LoadOrganization(ctx, jobID, organizationID)
	if err != nil {
		return nil, err
	}

	log.Info("Step 2: Resolving registration document")
	document, err := s.store.LoadDocument(ctx, jobID, org)
	var outcome Outcome
	switch {
	case werrors.IsCode(err, werrors.ErrorFileTooLarge):
		log.Warn("Registration document rejected", "error", err)
		outcome = withProcessingTime(Outcome{
			Status:   storage.StatusFailed,
			Tier:     TierMissingInput,
			Expected: org.DeclaredIdentifier,
			Notes:    fmt.Sprintf("Registration document rejected: %v", err),
			Err:      err,
		}, 0)
	case err != nil:
		return nil, err
	default:
		log.Info("Step 3: Verifying document", "bytes", len(document))
		outcome = s.verifier.Verify(ctx, document, sourceName(org), org.DeclaredIdentifier)
	}

	log.Info("Step 4: Saving verification outcome", "status", outcome.Status, "tier", outcome.Tier)
	update, became := Apply(org, outcome, s.now())
	if err := s.persist(ctx, jobID, org.ID, update, attemptFor(jobID, org.ID, outcome)); err != nil {
		return nil, err
	}

	if became {
		log.Info("Organization verified for the first time")
	}
	return &Result{OrganizationID: org.ID, Outcome: outcome, BecameVerified: became}, nil
}

// ManualVerify overrides the verification state of an organization.
// A verified status sets the verification date; other statuses keep it.
func (s *Service) ManualVerify(ctx context.Context, jobID, organizationID string, status storage.VerificationStatus, notes string) (*Result, error) {
	if !status.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidStatus, status)
	}
	org, err := s.store.LoadOrganization(ctx, jobID, organizationID)
	if err != nil {
		return nil, err
	}

	outcome := Outcome{
		IsVerified: status == storage.StatusVerified,
		Status:     status,
		Tier:       TierManual,
		Notes:      notes,
		Expected:   org.DeclaredIdentifier,
	}
	update, became := Apply(org, outcome, s.now())
	attempt := attemptFor(jobID, org.ID, outcome)
	attempt.Metadata["manual"] = true
	if err := s.persist(ctx, jobID, org.ID, update, attempt); err != nil {
		return nil, err
	}

	s.logger.Info("Manual verification applied", "job", jobID, "organization", org.ID, "status", status, "became_verified", became)
	return &Result{OrganizationID: org.ID, Outcome: outcome, BecameVerified: became}, nil
}

// persist writes the update even when ctx is already cancelled, so a timed out
// run still leaves a failed outcome behind.
func (s *Service) persist(ctx context.Context, jobID, organizationID string, update storage.VerificationUpdate, attempt *storage.VerificationAttempt) error {
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()

	if err := s.store.SaveVerification(writeCtx, jobID, organizationID, update); err != nil {
		return err
	}
	s.store.RecordAttempt(writeCtx, attempt)
	return nil
}

func attemptFor(jobID, organizationID string, out Outcome) *storage.VerificationAttempt {
	attempt := &storage.VerificationAttempt{
		JobID:            jobID,
		OrganizationID:   organizationID,
		Status:           out.Status,
		Extracted:        out.Extracted,
		Expected:         out.Expected,
		Similarity:       out.Similarity,
		Confidence:       out.Confidence,
		ProcessingTimeMs: out.ProcessingTime.Milliseconds(),
		Metadata: map[string]interface{}{
			"tier":       string(out.Tier),
			"attempts":   out.Attempts,
			"early_exit": out.EarlyExit,
		},
	}
	var pe *werrors.ProcessingError
	if errors.As(out.Err, &pe) {
		attempt.ErrorCode = string(pe.Code)
	}
	return attempt
}

func sourceName(org *storage.Organization) string {
	if org.DocumentName != "" {
		return org.DocumentName
	}
	return org.ID
}
