/**
 * Registration document verifier
 *
 * Ties extraction, comparison and the tiered decision together. Verify is a
 * pure function of (document bytes, expected identifier); persistence lives
 * in Service.
 */

package verification

import (
	"context"
	"fmt"
	"runtime/debug"
	"strings"
	"time"

	"github.com/adverant/nexus/docverify-worker/internal/logging"
	"github.com/adverant/nexus/docverify-worker/internal/metrics"
	"github.com/adverant/nexus/docverify-worker/internal/processor"
	"github.com/adverant/nexus/docverify-worker/internal/storage"
)

// IdentifierExtractor is satisfied by *processor.Extractor.
type IdentifierExtractor interface {
	Extract(ctx context.Context, document []byte, sourceName string) *processor.ExtractionResult
}

// VerifierConfig holds verifier dependencies
type VerifierConfig struct {
	Extractor  IdentifierExtractor
	Thresholds Thresholds
	Metrics    *metrics.Metrics
	Logger     *logging.Logger
}

// Verifier compares documents against expected identifiers.
type Verifier struct {
	extractor  IdentifierExtractor
	thresholds Thresholds
	metrics    *metrics.Metrics
	logger     *logging.Logger
}

// NewVerifier creates a new verifier
func NewVerifier(cfg *VerifierConfig) (*Verifier, error) {
	if cfg == nil || cfg.Extractor == nil {
		return nil, fmt.Errorf("extractor is required")
	}
	if err := cfg.Thresholds.Validate(); err != nil {
		return nil, err
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.NewLogger("verifier")
	}
	return &Verifier{
		extractor:  cfg.Extractor,
		thresholds: cfg.Thresholds,
		metrics:    cfg.Metrics,
		logger:     logger,
	}, nil
}

// Verify extracts the identifier from document and decides whether it
// matches expected. It never panics and never returns an error: every
// failure is a failed outcome whose notes explain what happened.
func (v *Verifier) Verify(ctx context.Context, document []byte, sourceName, expected string) (out Outcome) {
	start := time.Now()
	expected = strings.ToUpper(strings.TrimSpace(expected))

	defer func() {
		if rec := recover(); rec != nil {
			v.logger.Error("Verification panicked", "source", sourceName, "panic", rec, "stack", string(debug.Stack()))
			out = Outcome{
				Status:   storage.StatusFailed,
				Tier:     TierError,
				Expected: expected,
				Notes:    fmt.Sprintf("Verification error: %v", rec),
				Err:      fmt.Errorf("verification panicked: %v", rec),
			}
		}
		out = withProcessingTime(out, time.Since(start))
		v.metrics.ObserveVerification(string(out.Status))
		v.logger.Info("Verification result",
			"source", sourceName,
			"status", out.Status,
			"tier", out.Tier,
			"extracted", out.Extracted,
			"expected", expected,
			"similarity", out.Similarity,
			"confidence", out.Confidence)
	}()

	if len(document) == 0 {
		return missingInput(noteMissingDocument, expected)
	}
	if expected == "" {
		return missingInput(noteMissingIdentifier, expected)
	}

	result := v.extractor.Extract(ctx, document, sourceName)
	if result == nil {
		result = &processor.ExtractionResult{SourceName: sourceName}
	}

	out = Decide(result.Identifier, result.Confidence, expected, v.thresholds)
	out.Attempts = result.Attempts
	out.EarlyExit = result.EarlyExit
	if result.Err != nil {
		out.Err = result.Err
		if !result.Found() {
			out.Notes += fmt.Sprintf("\nError: %v", result.Err)
		}
	}
	return out
}
