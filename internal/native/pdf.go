package native

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"unicode"

	"github.com/ledongthuc/pdf"

	"docextract/internal/extraction"
)

// pageBreak separates pages in concatenated output.
func pageBreak(page int) string {
	return fmt.Sprintf("\n\n--- Page %d ---\n\n", page)
}

// IsSearchable reports whether any of the leading ProbePages pages carries
// an extractable text layer with at least MinTextChars non-whitespace runes.
func (e *Extractor) IsSearchable(data []byte) (bool, error) {
	const op = "IsSearchable"

	r, pages, err := openPDF(data)
	if err != nil {
		return false, extraction.WrapUnsupportedFormat(op, err, "failed to open PDF")
	}

	probe := min(pages, e.cfg.ProbePages)
	for i := 1; i <= probe; i++ {
		text, err := pageText(r, i)
		if err != nil {
			e.log.Debug().Err(err).Int("page", i).Msg("Skipping unreadable page during searchability probe")
			continue
		}
		if countNonSpace(text) >= e.cfg.MinTextChars {
			return true, nil
		}
	}
	return false, nil
}

// ExtractNative returns the text layer of every page in document order,
// separated by page-break markers.
func (e *Extractor) ExtractNative(data []byte) (string, error) {
	const op = "ExtractNative"

	r, pages, err := openPDF(data)
	if err != nil {
		return "", extraction.WrapUnsupportedFormat(op, err, "failed to open PDF")
	}

	var b strings.Builder
	for i := 1; i <= pages; i++ {
		text, err := pageText(r, i)
		if err != nil {
			return "", extraction.NewUnsupportedFormatError(op, err, fmt.Sprintf("failed to read page %d", i))
		}
		if i > 1 {
			b.WriteString(pageBreak(i))
		}
		b.WriteString(text)
	}

	e.log.Debug().
		Int("pages", pages).
		Int("text_length", b.Len()).
		Msg("Extracted PDF text layer")

	return b.String(), nil
}

// ExtractScannedPDF rasterises up to MaxPages pages with pdftoppm and OCRs
// each page image.
func (e *Extractor) ExtractScannedPDF(ctx context.Context, data []byte) (string, error) {
	const op = "ExtractScannedPDF"

	tmpDir, err := os.MkdirTemp("", "docextract-pdf-*")
	if err != nil {
		return "", fmt.Errorf("%s: create temp dir: %w", op, err)
	}
	defer func() {
		if err := os.RemoveAll(tmpDir); err != nil {
			e.log.Warn().Err(err).Str("dir", tmpDir).Msg("Failed to remove temp dir")
		}
	}()

	input := filepath.Join(tmpDir, "input.pdf")
	if err := os.WriteFile(input, data, 0o600); err != nil {
		return "", fmt.Errorf("%s: write temp pdf: %w", op, err)
	}

	prefix := filepath.Join(tmpDir, "page")
	// pdftoppm -r 300 -png -l <max> <in.pdf> <tmp/page>
	_, errb, err := e.runner.Run(ctx, nil, e.cfg.Pdftoppm,
		"-r", strconv.Itoa(e.cfg.DPI),
		"-png",
		"-l", strconv.Itoa(e.cfg.MaxPages),
		input, prefix)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", ctxErr
		}
		return "", extraction.NewUnsupportedFormatError(op, err, "pdftoppm: "+truncate(string(errb), 512))
	}

	// pdftoppm zero-pads page numbers, so lexical order is page order.
	images, _ := filepath.Glob(prefix + "-*.png")
	sort.Strings(images)
	if len(images) == 0 {
		return "", extraction.NewUnsupportedFormatError(op, errors.New("no pages rendered"), "")
	}

	var b strings.Builder
	for i, path := range images {
		img, err := os.ReadFile(path)
		if err != nil {
			return "", fmt.Errorf("%s: read page image: %w", op, err)
		}
		text, err := e.recognize(ctx, img)
		if err != nil {
			return "", err
		}
		if i > 0 {
			b.WriteString(pageBreak(i + 1))
		}
		b.WriteString(text)
	}

	e.log.Debug().
		Int("pages", len(images)).
		Int("text_length", b.Len()).
		Msg("OCR'd scanned PDF")

	return b.String(), nil
}

// openPDF guards the parser, which panics on some malformed inputs.
func openPDF(data []byte) (r *pdf.Reader, pages int, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			r, pages, err = nil, 0, fmt.Errorf("malformed PDF: %v", rec)
		}
	}()

	r, err = pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, 0, err
	}
	pages = r.NumPage()
	if pages <= 0 {
		return nil, 0, errors.New("PDF has no pages")
	}
	return r, pages, nil
}

func pageText(r *pdf.Reader, n int) (text string, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			text, err = "", fmt.Errorf("malformed page %d: %v", n, rec)
		}
	}()

	page := r.Page(n)
	if page.V.IsNull() {
		return "", nil
	}
	return page.GetPlainText(nil)
}

func countNonSpace(s string) int {
	n := 0
	for _, r := range s {
		if !unicode.IsSpace(r) {
			n++
		}
	}
	return n
}
