// Package local serves the remote.Extractor contract from this host:
// tesseract for images and pdftoppm plus tesseract for scanned PDFs.
package local

import (
	"context"
	"errors"

	"docextract/internal/extraction"
	"docextract/internal/native"
	"docextract/internal/remote"
)

// ocrEngine is the part of *native.Extractor this provider needs.
type ocrEngine interface {
	ExtractOCR(ctx context.Context, image []byte) (string, error)
	ExtractScannedPDF(ctx context.Context, pdf []byte) (string, error)
	Available(ctx context.Context) error
}

var _ ocrEngine = (*native.Extractor)(nil)

// Extractor implements remote.Extractor without network access.
type Extractor struct {
	engine ocrEngine
}

var _ remote.Extractor = (*Extractor)(nil)

// New wraps a native extractor.
func New(engine ocrEngine) *Extractor {
	return &Extractor{engine: engine}
}

// Kind implements remote.Extractor.
func (e *Extractor) Kind() remote.Kind {
	return remote.KindNative
}

// ExtractImage OCRs the image locally.
func (e *Extractor) ExtractImage(ctx context.Context, req remote.Request) (string, error) {
	text, err := e.engine.ExtractOCR(ctx, req.Data)
	return text, e.mapError(ctx, err)
}

// ExtractDocument rasterises and OCRs the PDF locally.
func (e *Extractor) ExtractDocument(ctx context.Context, req remote.Request) (string, error) {
	text, err := e.engine.ExtractScannedPDF(ctx, req.Data)
	return text, e.mapError(ctx, err)
}

// Ping checks that tesseract can be executed.
func (e *Extractor) Ping(ctx context.Context) error {
	return e.engine.Available(ctx)
}

// mapError turns an attempt deadline into a retryable timeout. Decode and
// tool failures stay terminal.
func (e *Extractor) mapError(ctx context.Context, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, context.DeadlineExceeded):
		return &extraction.TimeoutError{Provider: e.Kind().String(), Err: err}
	case errors.Is(err, context.Canceled) && ctx.Err() != nil:
		return ctx.Err()
	default:
		return err
	}
}
