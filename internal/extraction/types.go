// Package extraction holds the data model shared by every stage of the
// document extraction pipeline: requests, results, media types, the error
// taxonomy and the content hasher.
//
// Extraction Flow:
//   - Requests are validated before any cache or provider is touched
//   - Searchable PDFs are served from their embedded text layer
//   - Images and scanned PDFs go to the active remote provider
//   - Results are cached by content hash
package extraction

import (
	"fmt"
	"strings"
)

const (
	// DefaultMaxDocumentBytes is the default upper bound for a single document (10MB).
	DefaultMaxDocumentBytes = 10 * 1024 * 1024
)

// MediaType identifies the broad kind of a document.
type MediaType string

const (
	MediaPDF   MediaType = "pdf"
	MediaImage MediaType = "image"
)

// Valid reports whether m is a known media type.
func (m MediaType) Valid() bool {
	return m == MediaPDF || m == MediaImage
}

// MediaTypeFromMIME maps a MIME type to a MediaType.
func MediaTypeFromMIME(mime string) (MediaType, error) {
	mime = strings.ToLower(strings.TrimSpace(mime))
	if i := strings.IndexByte(mime, ';'); i >= 0 {
		mime = strings.TrimSpace(mime[:i])
	}

	switch {
	case mime == "application/pdf":
		return MediaPDF, nil
	case strings.HasPrefix(mime, "image/"):
		return MediaImage, nil
	default:
		return "", NewUnsupportedFormatError("MediaTypeFromMIME", ErrUnsupportedFormat, fmt.Sprintf("mime type %q", mime))
	}
}

// Provider records which path produced a Result.
type Provider string

const (
	ProviderNative Provider = "NATIVE"
	ProviderRemote Provider = "REMOTE"
	ProviderCache  Provider = "CACHE"
)

// Request is a single document submitted for extraction.
// Data is owned by the caller; nothing in the pipeline keeps it after Extract returns.
type Request struct {
	MediaType MediaType

	Data []byte

	MIMEType string

	// Filename is only used for logging.
	Filename string

	// IdempotencyKey is forwarded to the remote provider. Derived from the
	// content hash when empty.
	IdempotencyKey string
}

// Validate checks the request invariants against the configured size limit.
func (r Request) Validate(maxBytes int) error {
	const op = "Validate"

	if !r.MediaType.Valid() {
		return NewRequestError(op, ErrInvalidMediaType, fmt.Sprintf("media type %q", r.MediaType))
	}
	if len(r.Data) == 0 {
		return NewRequestError(op, ErrEmptyDocument, "")
	}
	if maxBytes > 0 && len(r.Data) > maxBytes {
		return NewRequestError(op, ErrDocumentTooLarge, fmt.Sprintf("size %d bytes exceeds limit of %d bytes", len(r.Data), maxBytes))
	}
	return nil
}

// Result is the outcome of one Extract call.
type Result struct {
	// Text may be empty; an image without legible text is not an error.
	Text string `json:"text"`

	Provider Provider `json:"provider"`

	LatencyMs int64 `json:"latency_ms"`

	// Attempt is the number of remote attempts made, 0 when no remote call happened.
	Attempt int `json:"attempt"`
}
