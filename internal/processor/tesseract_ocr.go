/**
 * Tesseract OCR - line and word recognition over preprocessed crops
 *
 * One gosseract client per call: clients are not safe for concurrent use
 * and the worker runs several verifications at once.
 */

package processor

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"strconv"

	"github.com/disintegration/imaging"
	"github.com/otiai10/gosseract/v2"
)

// TesseractOCR handles OCR using Tesseract
type TesseractOCR struct {
	dpi int
}

// TesseractConfig holds Tesseract configuration
type TesseractConfig struct {
	// DPI is passed to Tesseract as user_defined_dpi so it does not guess.
	DPI int
}

// NewTesseractOCR creates a new Tesseract OCR instance
func NewTesseractOCR(cfg *TesseractConfig) *TesseractOCR {
	dpi := cfg.DPI
	if dpi <= 0 {
		dpi = 300
	}
	return &TesseractOCR{dpi: dpi}
}

// Recognize returns the raw text Tesseract reads from img.
func (t *TesseractOCR) Recognize(ctx context.Context, img image.Image, mode PageSegMode, languages []string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.PNG); err != nil {
		return "", fmt.Errorf("failed to encode image: %w", err)
	}

	client := gosseract.NewClient()
	defer client.Close()

	if len(languages) > 0 {
		if err := client.SetLanguage(languages...); err != nil {
			return "", fmt.Errorf("failed to set languages: %w", err)
		}
	}
	if err := client.SetPageSegMode(gosseract.PageSegMode(mode)); err != nil {
		return "", fmt.Errorf("failed to set page segmentation mode: %w", err)
	}
	if err := client.SetVariable("user_defined_dpi", strconv.Itoa(t.dpi)); err != nil {
		return "", fmt.Errorf("failed to set dpi: %w", err)
	}
	if err := client.SetImageFromBytes(buf.Bytes()); err != nil {
		return "", fmt.Errorf("failed to set image: %w", err)
	}

	text, err := client.Text()
	if err != nil {
		return "", fmt.Errorf("tesseract OCR failed: %w", err)
	}
	return text, nil
}
