package native

import (
	"bytes"
	"context"
	"fmt"
	"image/png"
	"strconv"
	"strings"

	"docextract/internal/extraction"
)

// ExtractOCR recognises text in an image with tesseract. Images whose
// longest side exceeds MaxImageDimension are downscaled first.
func (e *Extractor) ExtractOCR(ctx context.Context, data []byte) (string, error) {
	const op = "ExtractOCR"

	img, format, err := decodeImage(data)
	if err != nil {
		return "", extraction.WrapUnsupportedFormat(op, err, "failed to decode image")
	}

	orig := img.Bounds()
	img = downscale(img, e.cfg.MaxImageDimension)
	if scaled := img.Bounds(); scaled != orig {
		e.log.Debug().
			Str("format", format).
			Int("width", orig.Dx()).
			Int("height", orig.Dy()).
			Int("scaled_width", scaled.Dx()).
			Int("scaled_height", scaled.Dy()).
			Msg("Downscaled image before OCR")
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return "", fmt.Errorf("%s: encode png: %w", op, err)
	}

	return e.recognize(ctx, buf.Bytes())
}

// recognize pipes a PNG through tesseract: tesseract stdin stdout -l <lang>.
func (e *Extractor) recognize(ctx context.Context, pngData []byte) (string, error) {
	const op = "recognize"

	args := []string{"stdin", "stdout", "-l", e.cfg.Language}
	if e.cfg.TessdataDir != "" {
		args = append(args, "--tessdata-dir", e.cfg.TessdataDir)
	}
	args = append(args, "--dpi", strconv.Itoa(e.cfg.DPI))

	out, errb, err := e.runner.Run(ctx, pngData, e.cfg.Tesseract, args...)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", ctxErr
		}
		return "", extraction.NewUnsupportedFormatError(op, err, "tesseract: "+truncate(string(errb), 512))
	}

	return normalizeOCR(string(out)), nil
}

// normalizeOCR drops tesseract's trailing form feed and surrounding blank lines.
func normalizeOCR(s string) string {
	s = strings.ReplaceAll(s, "\f", "")
	s = strings.ReplaceAll(s, "\r\n", "\n")
	return strings.TrimSpace(s)
}

// Available checks that the tesseract binary can be executed.
func (e *Extractor) Available(ctx context.Context) error {
	out, errb, err := e.runner.Run(ctx, nil, e.cfg.Tesseract, "--version")
	if err != nil {
		return fmt.Errorf("tesseract unavailable: %w: %s", err, truncate(string(errb), 256))
	}

	version, _, _ := strings.Cut(string(out), "\n")
	e.log.Debug().Str("version", strings.TrimSpace(version)).Msg("tesseract available")
	return nil
}
