package verification

import (
	"context"
	"errors"
	"image"
	"image/color"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	werrors "github.com/adverant/nexus/docverify-worker/internal/errors"
	"github.com/adverant/nexus/docverify-worker/internal/logging"
	"github.com/adverant/nexus/docverify-worker/internal/processor"
	"github.com/adverant/nexus/docverify-worker/internal/storage"
)

// fixedExtractor returns the same result for every document.
type fixedExtractor struct {
	result *processor.ExtractionResult
	panics bool
	calls  int32
}

func (f *fixedExtractor) Extract(_ context.Context, _ []byte, source string) *processor.ExtractionResult {
	atomic.AddInt32(&f.calls, 1)
	if f.panics {
		panic("engine exploded")
	}
	r := *f.result
	r.SourceName = source
	return &r
}

// pageRasterizer returns a blank page for any input.
type pageRasterizer struct{}

func (pageRasterizer) Rasterize(context.Context, []byte, int) (image.Image, error) {
	img := image.NewGray(image.Rect(0, 0, 1200, 1600))
	for i := range img.Pix {
		img.Pix[i] = color.White.Y
	}
	return img, nil
}

// textRecognizer returns the same text for every attempt and counts calls.
type textRecognizer struct {
	text  string
	calls int32
}

func (r *textRecognizer) Recognize(context.Context, image.Image, processor.PageSegMode, []string) (string, error) {
	atomic.AddInt32(&r.calls, 1)
	return r.text, nil
}

func newVerifier(t *testing.T, extractor IdentifierExtractor) *Verifier {
	t.Helper()
	v, err := NewVerifier(&VerifierConfig{
		Extractor:  extractor,
		Thresholds: DefaultThresholds(),
		Logger:     logging.NewNopLogger(),
	})
	require.NoError(t, err)
	return v
}

func newPipeline(t *testing.T, rasterizer processor.Rasterizer, recognizer processor.Recognizer) *Verifier {
	t.Helper()
	extractor, err := processor.NewExtractor(&processor.ExtractorOptions{
		Config:     processor.DefaultExtractorConfig(),
		Rasterizer: rasterizer,
		Recognizer: recognizer,
		Logger:     logging.NewNopLogger(),
	})
	require.NoError(t, err)
	return newVerifier(t, extractor)
}

func TestVerifyEndToEnd(t *testing.T) {
	tests := []struct {
		name     string
		expected string
		status   storage.VerificationStatus
		tier     Tier
		notes    string
	}{
		{
			name: "exact match", expected: "1234567A",
			status: storage.StatusVerified, tier: TierExact,
			notes: "Document verified successfully. Extracted ID: 1234567A (Confidence: 100.0%)",
		},
		{
			name: "lower case declared value", expected: " 1234567a ",
			status: storage.StatusVerified, tier: TierExact,
			notes: "Document verified successfully.",
		},
		{
			name: "one char off", expected: "1234568A",
			status: storage.StatusVerified, tier: TierNear,
			notes: "Document verified with minor variations. Extracted: 1234567A, Expected: 1234568A (Similarity: 0.88",
		},
		{
			name: "unrelated", expected: "7654321X",
			status: storage.StatusFailed, tier: TierMismatch,
			notes: "Verification failed. Extracted: 1234567A, Expected: 7654321X",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			recognizer := &textRecognizer{text: "REGISTRE NATIONAL 1234567A"}
			v := newPipeline(t, pageRasterizer{}, recognizer)

			out := v.Verify(context.Background(), []byte("%PDF-1.4"), "rne.pdf", tt.expected)
			assert.Equal(t, tt.status, out.Status)
			assert.Equal(t, tt.tier, out.Tier)
			assert.Equal(t, tt.status == storage.StatusVerified, out.IsVerified)
			assert.Contains(t, out.Notes, tt.notes)
			assert.Contains(t, out.Notes, "\nProcessing time: ")
			assert.True(t, out.EarlyExit)
			assert.Equal(t, int32(1), atomic.LoadInt32(&recognizer.calls))
		})
	}
}

func TestVerifyCorruptPDF(t *testing.T) {
	recognizer := &textRecognizer{text: "1234567A"}
	extractor, err := processor.NewExtractor(&processor.ExtractorOptions{
		Config:     processor.DefaultExtractorConfig(),
		Rasterizer: processor.NewDocumentRasterizerWith(logging.NewNopLogger()),
		Recognizer: recognizer,
		Logger:     logging.NewNopLogger(),
	})
	require.NoError(t, err)
	v := newVerifier(t, extractor)

	var out Outcome
	require.NotPanics(t, func() {
		out = v.Verify(context.Background(), []byte("%PDF-1.4\nthis is not a pdf body"), "broken.pdf", "1234567A")
	})
	assert.False(t, out.IsVerified)
	assert.Equal(t, storage.StatusFailed, out.Status)
	assert.Equal(t, TierNotExtracted, out.Tier)
	assert.Empty(t, out.Extracted)
	assert.Zero(t, out.Confidence)
	assert.Contains(t, out.Notes, "Failed to extract identifier from document")
	assert.True(t, werrors.IsCode(out.Err, werrors.ErrorRasterization))
	assert.Zero(t, atomic.LoadInt32(&recognizer.calls))
}

func TestVerifyMissingInputs(t *testing.T) {
	extractor := &fixedExtractor{result: &processor.ExtractionResult{Identifier: "1234567A", Confidence: 100}}
	v := newVerifier(t, extractor)

	out := v.Verify(context.Background(), nil, "rne.pdf", "1234567A")
	assert.Equal(t, storage.StatusFailed, out.Status)
	assert.Equal(t, TierMissingInput, out.Tier)
	assert.Contains(t, out.Notes, "No registration document uploaded")

	out = v.Verify(context.Background(), []byte("%PDF"), "rne.pdf", "   ")
	assert.Equal(t, TierMissingInput, out.Tier)
	assert.Contains(t, out.Notes, "No registration identifier provided")
	assert.Contains(t, out.Notes, "Processing time:")

	assert.Zero(t, atomic.LoadInt32(&extractor.calls), "missing inputs must not run extraction")
}

func TestVerifyRecoversFromPanics(t *testing.T) {
	v := newVerifier(t, &fixedExtractor{panics: true})

	var out Outcome
	require.NotPanics(t, func() {
		out = v.Verify(context.Background(), []byte("%PDF"), "rne.pdf", "1234567A")
	})
	assert.False(t, out.IsVerified)
	assert.Equal(t, storage.StatusFailed, out.Status)
	assert.Equal(t, TierError, out.Tier)
	assert.Contains(t, out.Notes, "Verification error: engine exploded")
	assert.Contains(t, out.Notes, "Processing time:")
	assert.Error(t, out.Err)
}

func TestVerifyCancelledContext(t *testing.T) {
	recognizer := &textRecognizer{text: "1234567A"}
	v := newPipeline(t, pageRasterizer{}, recognizer)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	out := v.Verify(ctx, []byte("%PDF"), "rne.pdf", "1234567A")
	assert.Equal(t, storage.StatusFailed, out.Status)
	assert.Equal(t, TierNotExtracted, out.Tier)
	assert.True(t, werrors.IsCode(out.Err, werrors.ErrorProcessingTimeout))
	assert.True(t, errors.Is(out.Err, context.Canceled))
}

func TestNewVerifierValidation(t *testing.T) {
	_, err := NewVerifier(&VerifierConfig{Thresholds: DefaultThresholds()})
	assert.Error(t, err)

	_, err = NewVerifier(&VerifierConfig{
		Extractor:  &fixedExtractor{},
		Thresholds: Thresholds{Exact: 0.5, Near: 0.8, Partial: 0.6},
	})
	assert.Error(t, err)
}

func TestVerifyProcessingTimeIsRecorded(t *testing.T) {
	v := newVerifier(t, &fixedExtractor{result: &processor.ExtractionResult{Identifier: "1234567A", Confidence: 71.42857}})

	out := v.Verify(context.Background(), []byte("%PDF"), "rne.pdf", "1234567A")
	assert.Greater(t, out.ProcessingTime, time.Duration(0))
	assert.Contains(t, out.Notes, "(Confidence: 71.4%)")
}
