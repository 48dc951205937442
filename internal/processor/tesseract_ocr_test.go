package processor

import (
	"context"
	"image"
	"image/color"
	"image/draw"
	"os/exec"
	"strings"
	"testing"

	"github.com/disintegration/imaging"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// ensureTesseractAvailable checks that the tesseract binary is reachable.
func ensureTesseractAvailable(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("tesseract"); err != nil {
		t.Skip("tesseract not installed in PATH")
	}
}

func renderLine(text string) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, 120, 24))
	draw.Draw(img, img.Bounds(), &image.Uniform{C: color.White}, image.Point{}, draw.Src)
	d := &font.Drawer{
		Dst:  img,
		Src:  image.Black,
		Face: basicfont.Face7x13,
		Dot:  fixed.P(6, 17),
	}
	d.DrawString(text)
	return imaging.Resize(img, img.Bounds().Dx()*4, 0, imaging.NearestNeighbor)
}

func TestTesseractRecognizeIdentifier(t *testing.T) {
	ensureTesseractAvailable(t)

	ocr := NewTesseractOCR(&TesseractConfig{DPI: 300})
	img := Preprocess(renderLine("1234567A"), Strategy{Name: "binary", Kind: StrategyOtsu})

	text, err := ocr.Recognize(context.Background(), img, SegSingleLine, []string{"eng"})
	if err != nil {
		t.Fatalf("Recognize() error = %v", err)
	}
	if !strings.Contains(text, "1234567") {
		t.Fatalf("unexpected OCR output: %q", text)
	}
}

func TestTesseractRecognizeCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	ocr := NewTesseractOCR(&TesseractConfig{})
	if _, err := ocr.Recognize(ctx, image.NewGray(image.Rect(0, 0, 10, 10)), SegSingleLine, nil); err == nil {
		t.Fatal("expected context error")
	}
}
