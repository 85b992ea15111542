package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"docextract/internal/extraction"
	"docextract/internal/logger"
)

// placeholderText replaces the text of a document that failed when --placeholder is set.
const placeholderText = "[document could not be processed]"

var extractCmd = &cobra.Command{
	Use:   "extract FILE...",
	Short: "Extract plain text from PDFs and images",
	Long: `Extract plain text from one or more PDF or image files.

Searchable PDFs are read locally. Scanned PDFs and images are sent to the
provider selected by EXTRACT_PROVIDER:

  native  - local tesseract (and pdftoppm for scanned PDFs)
  openai  - OpenAI-compatible API (OPENAI_API_KEY, OPENAI_BASE_URL)
  google  - Cloud Vision and Document AI (GOOGLE_CLOUD_PROJECT,
            DOCUMENT_AI_PROCESSOR_ID, GOOGLE_APPLICATION_CREDENTIALS or
            GOOGLE_CREDENTIALS)

Set CACHE_ADDR to a Redis-compatible server to cache results by content.`,
	Example: `  # Extract text from a scanned receipt to stdout
  docextract extract receipt.jpg

  # Extract several files concurrently as JSON
  docextract extract a.pdf b.png c.pdf --json -o results.json

  # Keep going when a document fails
  docextract extract *.pdf --placeholder`,
	Args: cobra.MinimumNArgs(1),
	RunE: runExtract,
}

// FileResult is one entry of the --json output.
type FileResult struct {
	File      string `json:"file"`
	Text      string `json:"text"`
	Provider  string `json:"provider,omitempty"`
	LatencyMs int64  `json:"latency_ms"`
	Attempt   int    `json:"attempt"`
	Error     string `json:"error,omitempty"`
}

func init() {
	rootCmd.AddCommand(extractCmd)

	extractCmd.Flags().StringP("output", "o", "", "Output file path (default: stdout)")
	extractCmd.Flags().Bool("json", false, "Output as JSON")
	extractCmd.Flags().Int("timeout", 300, "Overall timeout in seconds")
	extractCmd.Flags().String("idempotency-key", "", "Idempotency key sent to the provider (single file only)")
	extractCmd.Flags().IntP("concurrency", "c", 4, "Maximum number of files processed at once")
	extractCmd.Flags().Bool("placeholder", false, "Substitute a placeholder for documents that fail instead of aborting")
}

func runExtract(cmd *cobra.Command, args []string) error {
	log := logger.WithComponent("extract")

	outputPath, _ := cmd.Flags().GetString("output")
	jsonOutput, _ := cmd.Flags().GetBool("json")
	timeoutSecs, _ := cmd.Flags().GetInt("timeout")
	idempotencyKey, _ := cmd.Flags().GetString("idempotency-key")
	concurrency, _ := cmd.Flags().GetInt("concurrency")
	placeholder, _ := cmd.Flags().GetBool("placeholder")

	if idempotencyKey != "" && len(args) > 1 {
		return fmt.Errorf("--idempotency-key can only be used with a single file")
	}
	if concurrency < 1 {
		concurrency = 1
	}

	log.Info().
		Int("files", len(args)).
		Str("output", outputPath).
		Bool("json", jsonOutput).
		Int("timeout", timeoutSecs).
		Int("concurrency", concurrency).
		Msg("Starting extraction")

	rt, err := newRuntime(log)
	if err != nil {
		return err
	}
	defer rt.Close()

	ctx, cancel := createContextWithTimeout(time.Duration(timeoutSecs)*time.Second, log)
	defer cancel()

	results := make([]FileResult, len(args))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)

	for i, path := range args {
		g.Go(func() error {
			res, err := extractFile(gctx, rt, path, idempotencyKey)
			if err != nil {
				friendly := handleExtractError(err, path, log)
				if !placeholder {
					return friendly
				}
				res = FileResult{File: path, Text: placeholderText, Error: friendly.Error()}
			}
			results[i] = res
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}

	return outputResults(results, outputPath, jsonOutput, log)
}

func extractFile(ctx context.Context, rt *runtime, path, idempotencyKey string) (FileResult, error) {
	data, err := readDocument(path)
	if err != nil {
		return FileResult{}, err
	}

	mimeType := detectMIME(path, data)
	mediaType, err := extraction.MediaTypeFromMIME(mimeType)
	if err != nil {
		return FileResult{}, err
	}

	res, err := rt.router.Extract(ctx, extraction.Request{
		MediaType:      mediaType,
		Data:           data,
		MIMEType:       mimeType,
		Filename:       filepath.Base(path),
		IdempotencyKey: idempotencyKey,
	})
	if err != nil {
		return FileResult{}, err
	}

	return FileResult{
		File:      path,
		Text:      res.Text,
		Provider:  string(res.Provider),
		LatencyMs: res.LatencyMs,
		Attempt:   res.Attempt,
	}, nil
}

// readDocument checks the path is a readable regular file and loads it.
func readDocument(path string) ([]byte, error) {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("file not found: %s", path)
		}
		if os.IsPermission(err) {
			return nil, fmt.Errorf("permission denied accessing file: %s", path)
		}
		return nil, fmt.Errorf("error accessing file: %w", err)
	}
	if !info.Mode().IsRegular() {
		return nil, fmt.Errorf("path is not a regular file: %s", path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return data, nil
}

// detectMIME sniffs the content and falls back to the file extension.
func detectMIME(path string, data []byte) string {
	sniffed := http.DetectContentType(data)
	if sniffed == "application/pdf" || strings.HasPrefix(sniffed, "image/") {
		return sniffed
	}
	if byExt := mime.TypeByExtension(strings.ToLower(filepath.Ext(path))); byExt != "" {
		return byExt
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".tif", ".tiff":
		return "image/tiff"
	}
	return sniffed
}

// handleExtractError provides user-friendly error messages for extraction failures
func handleExtractError(err error, path string, log zerolog.Logger) error {
	log.Error().Err(err).Str("file", path).Msg("Extraction failed")

	name := filepath.Base(path)
	switch {
	case errors.Is(err, extraction.ErrCircuitOpen):
		return fmt.Errorf("%s: provider is failing and temporarily disabled, try again later: %w", name, err)
	case errors.Is(err, extraction.ErrTimeout):
		return fmt.Errorf("%s: provider did not answer in time (ATTEMPT_TIMEOUT): %w", name, err)
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%s: extraction timed out. Try increasing --timeout", name)
	case errors.Is(err, context.Canceled):
		return fmt.Errorf("%s: extraction was canceled", name)
	case errors.Is(err, extraction.ErrDocumentTooLarge):
		return fmt.Errorf("%s: file is too large. Raise MAX_DOCUMENT_BYTES or split the document: %w", name, err)
	case errors.Is(err, extraction.ErrEmptyDocument):
		return fmt.Errorf("%s: file is empty", name)
	case errors.Is(err, extraction.ErrInvalidMediaType):
		return fmt.Errorf("%s: not a PDF or image (detected type could not be mapped): %w", name, err)
	case errors.Is(err, extraction.ErrUnsupportedFormat):
		return fmt.Errorf("%s: unsupported or corrupt document (only PDFs and images are accepted): %w", name, err)
	case errors.Is(err, extraction.ErrRateLimited):
		return fmt.Errorf("%s: provider rate limit reached, try again later: %w", name, err)
	case errors.Is(err, extraction.ErrTransport):
		return fmt.Errorf("%s: could not reach the provider. Check network access and the base URL: %w", name, err)
	case errors.Is(err, extraction.ErrProvider):
		return fmt.Errorf("%s: provider rejected the request: %w", name, err)
	default:
		return fmt.Errorf("%s: extraction failed: %w", name, err)
	}
}

// outputResults formats and outputs the extraction results
func outputResults(results []FileResult, outputPath string, jsonOutput bool, log zerolog.Logger) error {
	var outputData []byte

	if jsonOutput {
		data, err := json.MarshalIndent(results, "", "  ")
		if err != nil {
			log.Error().Err(err).Msg("Failed to marshal JSON output")
			return fmt.Errorf("failed to create JSON output: %w", err)
		}
		outputData = append(data, '\n')
	} else {
		outputData = []byte(formatText(results))
	}

	if outputPath != "" {
		if err := os.WriteFile(outputPath, outputData, 0o644); err != nil {
			log.Error().
				Err(err).
				Str("output_file", outputPath).
				Msg("Failed to write output file")
			return fmt.Errorf("failed to write output file: %w", err)
		}

		log.Info().
			Str("output_file", outputPath).
			Int("bytes", len(outputData)).
			Msg("Extraction results written to file")
		return nil
	}

	if _, err := os.Stdout.Write(outputData); err != nil {
		log.Error().Err(err).Msg("Failed to write to stdout")
		return fmt.Errorf("failed to write output: %w", err)
	}
	return nil
}

// formatText prints a single result bare and several results under per-file headers.
func formatText(results []FileResult) string {
	if len(results) == 1 {
		return results[0].Text + "\n"
	}

	var b strings.Builder
	for i, r := range results {
		if i > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "=== %s ===\n", r.File)
		b.WriteString(r.Text)
		b.WriteString("\n")
	}
	return b.String()
}
