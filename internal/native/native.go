// Package native extracts text locally, without any network call.
//
// Searchable PDFs are read from their embedded text layer. Images and
// scanned pages are recognised with the tesseract binary; pdftoppm
// rasterises scanned PDFs first.
//
// Required binaries (only for OCR paths):
//   - tesseract (TESSERACT_PATH)
//   - pdftoppm from poppler-utils (PDFTOPPM_PATH)
package native

import (
	"github.com/rs/zerolog"

	"docextract/internal/logger"
)

const (
	DefaultProbePages        = 3
	DefaultMinTextChars      = 16
	DefaultMaxImageDimension = 4000
	DefaultDPI               = 300
	DefaultMaxPages          = 20
	DefaultLanguage          = "eng"
)

// Config configures the native extractor.
type Config struct {
	// ProbePages bounds how many leading pages IsSearchable inspects.
	ProbePages int

	// MinTextChars is the non-whitespace character count a page needs to count as searchable.
	MinTextChars int

	// Language is the tesseract language hint (e.g. "eng", "eng+deu").
	Language string

	// MaxImageDimension is the longest side an image may have before it is downscaled for OCR.
	MaxImageDimension int

	// DPI is the rasterisation resolution for scanned PDFs.
	DPI int

	// MaxPages caps how many scanned pages are OCR'd.
	MaxPages int

	Tesseract   string // binary name or absolute path; if empty -> "tesseract"
	Pdftoppm    string // binary name or absolute path; if empty -> "pdftoppm"
	TessdataDir string
}

// DefaultConfig returns the stock native extraction settings.
func DefaultConfig() Config {
	return Config{
		ProbePages:        DefaultProbePages,
		MinTextChars:      DefaultMinTextChars,
		Language:          DefaultLanguage,
		MaxImageDimension: DefaultMaxImageDimension,
		DPI:               DefaultDPI,
		MaxPages:          DefaultMaxPages,
		Tesseract:         "tesseract",
		Pdftoppm:          "pdftoppm",
	}
}

// Extractor performs local extraction.
type Extractor struct {
	cfg    Config
	runner Runner
	log    zerolog.Logger
}

// New creates an Extractor that shells out to the real binaries.
func New(cfg Config) *Extractor {
	return NewWithRunner(cfg, execRunner{})
}

// NewWithRunner creates an Extractor with an explicit command runner (for testing).
func NewWithRunner(cfg Config, runner Runner) *Extractor {
	def := DefaultConfig()
	if cfg.ProbePages <= 0 {
		cfg.ProbePages = def.ProbePages
	}
	if cfg.MinTextChars <= 0 {
		cfg.MinTextChars = def.MinTextChars
	}
	if cfg.Language == "" {
		cfg.Language = def.Language
	}
	if cfg.MaxImageDimension <= 0 {
		cfg.MaxImageDimension = def.MaxImageDimension
	}
	if cfg.DPI <= 0 {
		cfg.DPI = def.DPI
	}
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = def.MaxPages
	}
	if cfg.Tesseract == "" {
		cfg.Tesseract = def.Tesseract
	}
	if cfg.Pdftoppm == "" {
		cfg.Pdftoppm = def.Pdftoppm
	}

	return &Extractor{
		cfg:    cfg,
		runner: runner,
		log:    logger.WithComponent("native"),
	}
}
