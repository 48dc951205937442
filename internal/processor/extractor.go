/**
 * Identifier Extractor
 *
 * Runs the attempt plan (region x strategy x segmentation mode) over the
 * first page of a document and reconciles the candidates into one
 * identifier with a confidence score.
 */

package processor

import (
	"context"
	"fmt"
	"image"
	"runtime/debug"
	"time"

	werrors "github.com/adverant/nexus/docverify-worker/internal/errors"
	"github.com/adverant/nexus/docverify-worker/internal/logging"
	"github.com/adverant/nexus/docverify-worker/internal/metrics"
)

// ExtractorOptions holds extractor dependencies
type ExtractorOptions struct {
	Config     ExtractorConfig
	Rasterizer Rasterizer
	Recognizer Recognizer
	// Stop defaults to FirstAttemptUnanimous.
	Stop    StopPredicate
	Metrics *metrics.Metrics
	Logger  *logging.Logger
}

// Extractor pulls a registration identifier out of a document.
// It holds no per-call state and is safe for concurrent use.
type Extractor struct {
	cfg        ExtractorConfig
	plan       []Attempt
	patterns   *PatternExtractor
	rasterizer Rasterizer
	recognizer Recognizer
	stop       StopPredicate
	metrics    *metrics.Metrics
	logger     *logging.Logger
}

// NewExtractor creates a new extractor
func NewExtractor(opts *ExtractorOptions) (*Extractor, error) {
	if opts == nil {
		return nil, fmt.Errorf("options are required")
	}
	if opts.Rasterizer == nil {
		return nil, fmt.Errorf("rasterizer is required")
	}
	if opts.Recognizer == nil {
		return nil, fmt.Errorf("recognizer is required")
	}
	if err := opts.Config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid extractor config: %w", err)
	}

	patterns, err := NewPatternExtractor(opts.Config.Patterns)
	if err != nil {
		return nil, err
	}

	stop := opts.Stop
	if stop == nil {
		stop = FirstAttemptUnanimous
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.NewLogger("extractor")
	}

	return &Extractor{
		cfg:        opts.Config,
		plan:       PlanAttempts(opts.Config),
		patterns:   patterns,
		rasterizer: opts.Rasterizer,
		recognizer: opts.Recognizer,
		stop:       stop,
		metrics:    opts.Metrics,
		logger:     logger,
	}, nil
}

// Plan returns a copy of the attempt plan.
func (e *Extractor) Plan() []Attempt {
	out := make([]Attempt, len(e.plan))
	copy(out, e.plan)
	return out
}

type preprocessKey struct {
	region   int
	strategy string
}

// Extract never returns an error value of its own: every failure ends up as a
// result with an empty identifier, confidence 0 and Err set.
func (e *Extractor) Extract(ctx context.Context, document []byte, sourceName string) (result *ExtractionResult) {
	start := time.Now()
	result = &ExtractionResult{SourceName: sourceName}
	log := e.logger.With("source", sourceName)

	sink := newDebugSink(e.cfg.DebugDir, sourceName, log)
	defer sink.close()

	defer func() {
		if rec := recover(); rec != nil {
			log.Error("Extraction panicked", "panic", rec, "stack", string(debug.Stack()))
			result.Identifier = ""
			result.Confidence = 0
			result.EarlyExit = false
			result.Err = fmt.Errorf("extraction panicked: %v", rec)
		}
		result.ProcessingTime = time.Since(start)
		e.metrics.ObserveExtraction(result.Attempts, result.EarlyExit, result.Found(), result.Confidence, result.ProcessingTime)
		log.Info("Extraction finished",
			"identifier", result.Identifier,
			"confidence", result.Confidence,
			"attempts", result.Attempts,
			"early_exit", result.EarlyExit,
			"duration", result.ProcessingTime)
	}()

	log.Info("Step 1: Rasterizing first page", "bytes", len(document), "dpi", e.cfg.DPI)
	page, err := e.rasterizer.Rasterize(ctx, document, e.cfg.DPI)
	if err != nil {
		log.Error("Rasterization failed", "error", err)
		result.Err = err
		return result
	}
	log.Debug("Page rasterized", "width", page.Bounds().Dx(), "height", page.Bounds().Dy())
	sink.saveImage("page", page)

	log.Info("Step 2: Searching regions", "attempts", len(e.plan))
	run := &extractionRun{
		Extractor: e,
		source:    sourceName,
		page:      page,
		crops:     make(map[int]image.Image, len(e.cfg.Regions)),
		prepared:  make(map[preprocessKey]image.Image),
		sink:      sink,
		log:       log,
	}
	tally := NewTally()

	for _, a := range e.plan {
		if err := ctx.Err(); err != nil {
			log.Warn("Extraction cancelled", "after_attempts", result.Attempts, "error", err)
			result.Err = werrors.NewProcessingTimeoutError(sourceName, time.Since(start), err)
			return result
		}

		candidates := run.attempt(ctx, a)
		result.Attempts++
		tally.Add(candidates...)

		if e.stop(a, candidates) {
			result.Identifier, result.Confidence = tally.Winner()
			result.Candidates = tally.Total()
			result.EarlyExit = true
			log.Info("Early exit", "attempt", a.String(), "identifier", result.Identifier)
			return result
		}
	}

	log.Info("Step 3: Reconciling candidates", "candidates", tally.Total())
	result.Identifier, result.Confidence = tally.Winner()
	result.Candidates = tally.Total()
	return result
}

// extractionRun carries the per-call state of one Extract.
type extractionRun struct {
	*Extractor
	source   string
	page     image.Image
	crops    map[int]image.Image
	prepared map[preprocessKey]image.Image
	sink     *debugSink
	log      *logging.Logger
}

// attempt executes one attempt. Failures, panics included, yield no candidates.
func (r *extractionRun) attempt(ctx context.Context, a Attempt) (candidates []string) {
	defer func() {
		if rec := recover(); rec != nil {
			r.log.Warn("Attempt panicked", "attempt", a.String(), "panic", rec)
			candidates = nil
		}
	}()

	crop, ok := r.crops[a.RegionIndex]
	if !ok {
		crop = CropRegion(r.page, r.cfg.Regions[a.RegionIndex])
		r.crops[a.RegionIndex] = crop
		r.sink.saveImage(fmt.Sprintf("region_%d", a.RegionIndex), crop)
	}
	if crop.Bounds().Dx() < 2 || crop.Bounds().Dy() < 2 {
		r.log.Debug("Region crop is empty", "attempt", a.String())
		return nil
	}

	key := preprocessKey{region: a.RegionIndex, strategy: a.Strategy.Name}
	img, ok := r.prepared[key]
	if !ok {
		img = Preprocess(crop, a.Strategy)
		r.prepared[key] = img
		r.sink.saveImage(fmt.Sprintf("region_%d_%s", a.RegionIndex, a.Strategy.Name), img)
	}

	text, err := r.recognizer.Recognize(ctx, img, a.Mode, r.cfg.Languages)
	if err != nil {
		r.log.Warn("OCR attempt failed", "error", werrors.NewOCRFailedError(r.source, a.String(), err))
		return nil
	}

	candidates = r.patterns.Candidates(text)
	r.sink.logAttempt(a, text, candidates)
	r.log.Debug("OCR attempt", "attempt", a.String(), "text", text, "candidates", candidates)
	return candidates
}
