package processor

import (
	"fmt"
	"image"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/disintegration/imaging"

	"github.com/adverant/nexus/docverify-worker/internal/logging"
)

// debugSink dumps intermediate images and OCR output for one extraction.
// A nil sink discards everything.
type debugSink struct {
	dir    string
	log    *os.File
	logger *logging.Logger
}

func newDebugSink(root, source string, logger *logging.Logger) *debugSink {
	if root == "" {
		return nil
	}
	dir := filepath.Join(root, fmt.Sprintf("%s-%d", sanitizeName(source), time.Now().UnixNano()))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		logger.Warn("Debug output disabled", "dir", dir, "error", err)
		return nil
	}
	f, err := os.Create(filepath.Join(dir, "ocr.log"))
	if err != nil {
		logger.Warn("Debug OCR log disabled", "dir", dir, "error", err)
	}
	return &debugSink{dir: dir, log: f, logger: logger}
}

func (d *debugSink) saveImage(name string, img image.Image) {
	if d == nil || img == nil || img.Bounds().Empty() {
		return
	}
	if err := imaging.Save(img, filepath.Join(d.dir, name+".png")); err != nil {
		d.logger.Debug("Failed to save debug image", "name", name, "error", err)
	}
}

func (d *debugSink) logAttempt(a Attempt, text string, candidates []string) {
	if d == nil || d.log == nil {
		return
	}
	fmt.Fprintf(d.log, "[%d] %s\ntext: %q\ncandidates: %v\n\n", a.Seq, a, text, candidates)
}

func (d *debugSink) close() {
	if d == nil || d.log == nil {
		return
	}
	_ = d.log.Close()
}

func sanitizeName(s string) string {
	if s == "" {
		return "document"
	}
	s = filepath.Base(s)
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, s)
}
