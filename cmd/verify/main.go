// Command verify checks one registration document against an expected
// identifier using the same pipeline as the worker, without a queue or
// database. It exits 0 when the document is verified and 1 otherwise.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"

	"github.com/adverant/nexus/docverify-worker/internal/httpserver"
	"github.com/adverant/nexus/docverify-worker/internal/logging"
	"github.com/adverant/nexus/docverify-worker/internal/processor"
	"github.com/adverant/nexus/docverify-worker/internal/verification"
)

func main() {
	var (
		file      = flag.String("file", "", "registration document (PDF, PNG or JPEG)")
		expected  = flag.String("expected", "", "expected registration identifier")
		dpi       = flag.Int("dpi", 300, "rasterization DPI")
		languages = flag.String("lang", "ara+eng", "Tesseract languages joined by +")
		debugDir  = flag.String("debug", "", "directory receiving crops and OCR text")
		pdftoppm  = flag.String("pdftoppm", "pdftoppm", "pdftoppm binary")
		logLevel  = flag.String("log-level", "warn", "log level")
	)
	flag.Parse()

	if *file == "" || *expected == "" {
		fmt.Fprintln(os.Stderr, "usage: verify -file <document> -expected <identifier>")
		flag.PrintDefaults()
		os.Exit(2)
	}
	logging.SetLevel(*logLevel)
	defer logging.Sync()

	document, err := os.ReadFile(*file)
	if err != nil {
		fmt.Fprintf(os.Stderr, "read %s: %v\n", *file, err)
		os.Exit(2)
	}

	cfg := processor.DefaultExtractorConfig()
	cfg.DPI = *dpi
	cfg.Languages = strings.Split(*languages, "+")
	cfg.DebugDir = *debugDir

	extractor, err := processor.NewExtractor(&processor.ExtractorOptions{
		Config: cfg,
		Rasterizer: processor.NewDocumentRasterizer(&processor.DocumentRasterizerConfig{
			PdftoppmPath: *pdftoppm,
			TempDir:      os.TempDir(),
		}),
		Recognizer: processor.NewTesseractOCR(&processor.TesseractConfig{DPI: *dpi}),
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "extractor: %v\n", err)
		os.Exit(2)
	}
	verifier, err := verification.NewVerifier(&verification.VerifierConfig{
		Extractor:  extractor,
		Thresholds: verification.DefaultThresholds(),
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "verifier: %v\n", err)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	outcome := verifier.Verify(ctx, document, filepath.Base(*file), *expected)

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(httpserver.FromOutcome(outcome))

	if !outcome.IsVerified {
		logging.Sync()
		os.Exit(1)
	}
}
