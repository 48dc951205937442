/**
 * OCR Types - Shared data structures for identifier extraction
 *
 * Regions, preprocessing strategies and attempts describe the search;
 * ExtractionResult is what a finished search hands back.
 */

package processor

import (
	"context"
	"fmt"
	"image"
	"time"
)

// PageSegMode mirrors the Tesseract page segmentation modes used by the search.
type PageSegMode int

const (
	SegSingleBlock PageSegMode = 6
	SegSingleLine  PageSegMode = 7
	SegSingleWord  PageSegMode = 8
	SegSparseText  PageSegMode = 11
)

func (m PageSegMode) String() string {
	switch m {
	case SegSingleBlock:
		return "single_block"
	case SegSingleLine:
		return "single_line"
	case SegSingleWord:
		return "single_word"
	case SegSparseText:
		return "sparse_text"
	default:
		return fmt.Sprintf("psm_%d", int(m))
	}
}

// Region is a rectangle expressed as fractions of the page size.
type Region struct {
	X float64
	Y float64
	W float64
	H float64
}

// StrategyKind selects the binarization a Strategy applies.
type StrategyKind string

const (
	StrategyAdaptive StrategyKind = "adaptive"
	StrategyOtsu     StrategyKind = "otsu"
)

// Strategy is one named preprocessing recipe.
// Alpha, Beta, BlockSize and ThresholdC only apply to adaptive strategies.
type Strategy struct {
	Name       string
	Kind       StrategyKind
	Alpha      float64
	Beta       float64
	BlockSize  int
	ThresholdC float64
}

// Attempt is one (region, strategy, mode) combination in search order.
type Attempt struct {
	Seq         int
	RegionIndex int
	Strategy    Strategy
	Mode        PageSegMode
}

func (a Attempt) String() string {
	return fmt.Sprintf("region=%d strategy=%s psm=%d", a.RegionIndex, a.Strategy.Name, int(a.Mode))
}

// ExtractionResult is the immutable outcome of one extraction.
// An empty Identifier means no identifier could be extracted.
type ExtractionResult struct {
	Identifier     string
	Confidence     float64
	ProcessingTime time.Duration
	SourceName     string
	Attempts       int
	Candidates     int
	EarlyExit      bool
	Err            error
}

// Found reports whether an identifier was extracted.
func (r *ExtractionResult) Found() bool {
	return r != nil && r.Identifier != ""
}

// Rasterizer turns document bytes into the image of its first page.
type Rasterizer interface {
	Rasterize(ctx context.Context, document []byte, dpi int) (image.Image, error)
}

// Recognizer runs OCR over an already preprocessed image.
type Recognizer interface {
	Recognize(ctx context.Context, img image.Image, mode PageSegMode, languages []string) (string, error)
}
