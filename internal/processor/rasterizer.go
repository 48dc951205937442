/**
 * Rasterizer - first page of an uploaded document as an image
 *
 * PDFs are checked with pdfcpu, then rendered by pdftoppm (poppler) from a
 * temporary file. When pdftoppm is missing or fails, imgconv renders the page
 * in pure Go. Scanned images (PNG, JPEG, TIFF...) are decoded directly.
 */

package processor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/disintegration/imaging"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/sunshineplan/imgconv"

	werrors "github.com/adverant/nexus/docverify-worker/internal/errors"
	"github.com/adverant/nexus/docverify-worker/internal/logging"
)

// Document kinds recognized from magic bytes.
const (
	KindPDF     = "application/pdf"
	KindPNG     = "image/png"
	KindJPEG    = "image/jpeg"
	KindGIF     = "image/gif"
	KindTIFF    = "image/tiff"
	KindBMP     = "image/bmp"
	KindUnknown = ""
)

var disablePDFConfigDir sync.Once

// DetectDocumentKind detects the document type from its leading bytes.
func DetectDocumentKind(data []byte) string {
	if len(data) < 4 {
		return KindUnknown
	}

	// PDF: %PDF-
	if bytes.HasPrefix(data, []byte("%PDF")) {
		return KindPDF
	}

	// PNG: 0x89 'P' 'N' 'G' 0x0D 0x0A 0x1A 0x0A
	if len(data) >= 8 && bytes.HasPrefix(data, []byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A}) {
		return KindPNG
	}

	// JPEG: 0xFF 0xD8 0xFF
	if bytes.HasPrefix(data, []byte{0xFF, 0xD8, 0xFF}) {
		return KindJPEG
	}

	if bytes.HasPrefix(data, []byte("GIF87a")) || bytes.HasPrefix(data, []byte("GIF89a")) {
		return KindGIF
	}

	// TIFF: little-endian or big-endian header
	if bytes.HasPrefix(data, []byte{0x49, 0x49, 0x2A, 0x00}) || bytes.HasPrefix(data, []byte{0x4D, 0x4D, 0x00, 0x2A}) {
		return KindTIFF
	}

	if bytes.HasPrefix(data, []byte("BM")) {
		return KindBMP
	}

	return KindUnknown
}

// CountPDFPages validates the PDF structure and returns its page count.
func CountPDFPages(data []byte) (int, error) {
	disablePDFConfigDir.Do(api.DisableConfigDir)

	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed

	n, err := api.PageCount(bytes.NewReader(data), conf)
	if err != nil {
		return 0, fmt.Errorf("invalid PDF: %w", err)
	}
	if n < 1 {
		return 0, fmt.Errorf("PDF has no pages")
	}
	return n, nil
}

// PdftoppmConfig holds pdftoppm configuration
type PdftoppmConfig struct {
	BinaryPath string
	TempDir    string
}

// PdftoppmRasterizer renders page 1 with poppler's pdftoppm.
type PdftoppmRasterizer struct {
	binary  string
	tempDir string
}

// NewPdftoppmRasterizer creates a pdftoppm backend
func NewPdftoppmRasterizer(cfg *PdftoppmConfig) *PdftoppmRasterizer {
	binary := cfg.BinaryPath
	if binary == "" {
		binary = "pdftoppm"
	}
	return &PdftoppmRasterizer{binary: binary, tempDir: cfg.TempDir}
}

// Available reports whether the pdftoppm binary can be found.
func (r *PdftoppmRasterizer) Available() bool {
	_, err := exec.LookPath(r.binary)
	return err == nil
}

// Rasterize writes the document to a temporary file, renders page 1 and
// removes every temporary artifact before returning.
func (r *PdftoppmRasterizer) Rasterize(ctx context.Context, document []byte, dpi int) (image.Image, error) {
	workDir, err := os.MkdirTemp(r.tempDir, "docverify-")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp dir: %w", err)
	}
	defer os.RemoveAll(workDir)

	pdfPath := filepath.Join(workDir, "document.pdf")
	if err := os.WriteFile(pdfPath, document, 0o600); err != nil {
		return nil, fmt.Errorf("failed to write temp PDF: %w", err)
	}
	defer os.Remove(pdfPath)

	outPrefix := filepath.Join(workDir, "page")
	cmd := exec.CommandContext(ctx, r.binary,
		"-png",
		"-r", strconv.Itoa(dpi),
		"-f", "1", "-l", "1",
		"-singlefile",
		pdfPath, outPrefix,
	)
	if out, err := cmd.CombinedOutput(); err != nil {
		return nil, fmt.Errorf("pdftoppm failed: %w (%s)", err, bytes.TrimSpace(out))
	}

	img, err := imaging.Open(outPrefix + ".png")
	if err != nil {
		return nil, fmt.Errorf("failed to decode rendered page: %w", err)
	}
	return img, nil
}

// ImgconvRasterizer renders page 1 in pure Go. The DPI is fixed by the decoder.
type ImgconvRasterizer struct{}

// Rasterize decodes the first page with imgconv.
func (ImgconvRasterizer) Rasterize(ctx context.Context, document []byte, dpi int) (img image.Image, err error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	defer func() {
		if rec := recover(); rec != nil {
			img, err = nil, fmt.Errorf("imgconv panicked: %v", rec)
		}
	}()
	img, err = imgconv.Decode(bytes.NewReader(document))
	if err != nil {
		return nil, fmt.Errorf("imgconv decode failed: %w", err)
	}
	return img, nil
}

type namedRasterizer struct {
	name string
	r    Rasterizer
}

// DocumentRasterizer dispatches on document kind and falls back across PDF backends.
type DocumentRasterizer struct {
	backends []namedRasterizer
	logger   *logging.Logger
}

// DocumentRasterizerConfig holds rasterizer configuration
type DocumentRasterizerConfig struct {
	PdftoppmPath string
	TempDir      string
	Logger       *logging.Logger
}

// NewDocumentRasterizer creates the default chain: pdftoppm when installed, then imgconv.
func NewDocumentRasterizer(cfg *DocumentRasterizerConfig) *DocumentRasterizer {
	logger := cfg.Logger
	if logger == nil {
		logger = logging.NewLogger("rasterizer")
	}

	d := &DocumentRasterizer{logger: logger}
	pdftoppm := NewPdftoppmRasterizer(&PdftoppmConfig{BinaryPath: cfg.PdftoppmPath, TempDir: cfg.TempDir})
	if pdftoppm.Available() {
		d.backends = append(d.backends, namedRasterizer{name: "pdftoppm", r: pdftoppm})
	} else {
		logger.Warn("pdftoppm not found, PDFs will be rendered by imgconv only", "binary", cfg.PdftoppmPath)
	}
	d.backends = append(d.backends, namedRasterizer{name: "imgconv", r: ImgconvRasterizer{}})
	return d
}

// NewDocumentRasterizerWith builds a rasterizer over explicit PDF backends, tried in order.
func NewDocumentRasterizerWith(logger *logging.Logger, backends ...Rasterizer) *DocumentRasterizer {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	d := &DocumentRasterizer{logger: logger}
	for i, b := range backends {
		d.backends = append(d.backends, namedRasterizer{name: fmt.Sprintf("backend-%d", i), r: b})
	}
	return d
}

// Rasterize returns the first page of document as an image.
func (d *DocumentRasterizer) Rasterize(ctx context.Context, document []byte, dpi int) (image.Image, error) {
	kind := DetectDocumentKind(document)
	switch kind {
	case KindPNG, KindJPEG, KindGIF, KindTIFF, KindBMP:
		img, err := imaging.Decode(bytes.NewReader(document), imaging.AutoOrientation(true))
		if err != nil {
			return nil, werrors.NewRasterizationError("", "image-decode", err)
		}
		return img, nil
	case KindPDF:
	default:
		return nil, werrors.NewRasterizationError("", "detect", fmt.Errorf("unsupported document type"))
	}

	pages, err := CountPDFPages(document)
	if err != nil {
		return nil, werrors.NewRasterizationError("", "pdfcpu", err)
	}
	d.logger.Debug("PDF validated", "pages", pages, "bytes", len(document))

	var errs []error
	for _, b := range d.backends {
		img, err := b.r.Rasterize(ctx, document, dpi)
		if err == nil {
			return img, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		d.logger.Warn("Rasterizer backend failed", "backend", b.name, "error", err)
		errs = append(errs, fmt.Errorf("%s: %w", b.name, err))
	}
	if len(errs) == 0 {
		errs = append(errs, fmt.Errorf("no rasterizer backend configured"))
	}
	return nil, werrors.NewRasterizationError("", "all", errors.Join(errs...))
}
