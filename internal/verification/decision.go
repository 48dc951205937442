package verification

import (
	"fmt"
	"time"

	"github.com/adverant/nexus/docverify-worker/internal/storage"
)

// Thresholds are the similarity cut-offs of the decision tiers.
type Thresholds struct {
	Exact   float64
	Near    float64
	Partial float64
}

// DefaultThresholds returns 1.0 / 0.8 / 0.6.
func DefaultThresholds() Thresholds {
	return Thresholds{Exact: 1.0, Near: 0.8, Partial: 0.6}
}

// Validate checks 0 <= Partial <= Near <= Exact <= 1.
func (t Thresholds) Validate() error {
	if t.Exact < 0 || t.Exact > 1 || t.Near < 0 || t.Near > 1 || t.Partial < 0 || t.Partial > 1 {
		return fmt.Errorf("thresholds must be within [0,1]: %+v", t)
	}
	if t.Partial > t.Near || t.Near > t.Exact {
		return fmt.Errorf("thresholds must satisfy partial <= near <= exact: %+v", t)
	}
	return nil
}

// Tier names the branch of the decision that produced an outcome.
type Tier string

const (
	TierExact        Tier = "exact"
	TierNear         Tier = "minor_variations"
	TierPartial      Tier = "partial"
	TierMismatch     Tier = "mismatch"
	TierNotExtracted Tier = "not_extracted"
	TierMissingInput Tier = "missing_input"
	TierError        Tier = "error"
	TierManual       Tier = "manual"
)

// Outcome is the verification decision for one document.
type Outcome struct {
	IsVerified     bool
	Status         storage.VerificationStatus
	Tier           Tier
	Notes          string
	Extracted      string
	Expected       string
	Similarity     float64
	Confidence     float64
	Attempts       int
	EarlyExit      bool
	ProcessingTime time.Duration
	Err            error
}

const (
	noteMissingDocument   = "No registration document uploaded"
	noteMissingIdentifier = "No registration identifier provided"
	noteNotExtracted      = "Failed to extract identifier from document"
)

// Decide maps an extracted identifier and its confidence onto a tier.
// An empty extracted value means nothing could be extracted. expected must
// already be trimmed and upper-cased. Processing time is not included in the
// notes; Verify appends it once the whole run is measured.
func Decide(extracted string, confidence float64, expected string, t Thresholds) Outcome {
	out := Outcome{
		Status:     storage.StatusFailed,
		Extracted:  extracted,
		Expected:   expected,
		Confidence: confidence,
	}
	if extracted == "" {
		out.Tier = TierNotExtracted
		out.Notes = noteNotExtracted
		return out
	}

	s := Similarity(extracted, expected)
	out.Similarity = s

	switch {
	case s >= t.Exact:
		out.Tier = TierExact
		out.IsVerified = true
		out.Notes = fmt.Sprintf("Document verified successfully. Extracted ID: %s (Confidence: %.1f%%)", extracted, confidence)
	case s >= t.Near:
		out.Tier = TierNear
		out.IsVerified = true
		out.Notes = fmt.Sprintf("Document verified with minor variations. Extracted: %s, Expected: %s (Similarity: %.2f, Confidence: %.1f%%)",
			extracted, expected, s, confidence)
	case s >= t.Partial:
		out.Tier = TierPartial
		out.Notes = fmt.Sprintf("Partial match detected. Extracted: %s, Expected: %s (Similarity: %.2f, Confidence: %.1f%%)",
			extracted, expected, s, confidence)
	default:
		out.Tier = TierMismatch
		out.Notes = fmt.Sprintf("Verification failed. Extracted: %s, Expected: %s (Similarity: %.2f, Confidence: %.1f%%)",
			extracted, expected, s, confidence)
	}
	if out.IsVerified {
		out.Status = storage.StatusVerified
	}
	return out
}

func missingInput(notes string, expected string) Outcome {
	return Outcome{
		Status:   storage.StatusFailed,
		Tier:     TierMissingInput,
		Notes:    notes,
		Expected: expected,
	}
}

// withProcessingTime appends the total processing time line to the notes.
func withProcessingTime(out Outcome, elapsed time.Duration) Outcome {
	out.ProcessingTime = elapsed
	out.Notes += fmt.Sprintf("\nProcessing time: %.2f seconds", elapsed.Seconds())
	return out
}

// Apply computes the entity-store update for out. It reports whether
// is_verified flips from false to true, the only transition that triggers
// provisioning. verification_date is set only on verified outcomes.
func Apply(org *storage.Organization, out Outcome, now time.Time) (storage.VerificationUpdate, bool) {
	update := storage.VerificationUpdate{
		Status:     out.Status,
		Notes:      out.Notes,
		IsVerified: out.IsVerified,
	}
	if out.IsVerified {
		t := now
		update.VerificationDate = &t
	}
	return update, out.IsVerified && !org.IsVerified
}
