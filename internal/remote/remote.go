// Package remote defines the provider-agnostic contract for extraction
// backends and the helpers every backend uses to classify failures.
//
// Implementations live in subpackages: local (tesseract on this host),
// openaicompat (OpenAI-compatible HTTP APIs) and gcloud (Cloud Vision and
// Document AI). Only internal/factory constructs them.
package remote

import (
	"context"
	"fmt"
	"strings"
)

// Kind identifies a provider implementation.
type Kind int

const (
	KindNative Kind = iota + 1
	KindOpenAI
	KindGoogle
)

// String returns the configuration name of the kind.
func (k Kind) String() string {
	switch k {
	case KindNative:
		return "native"
	case KindOpenAI:
		return "openai"
	case KindGoogle:
		return "google"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Kinds lists every known provider kind.
func Kinds() []Kind {
	return []Kind{KindNative, KindOpenAI, KindGoogle}
}

// ParseKind resolves a configured provider name. Matching ignores case and
// surrounding whitespace.
func ParseKind(s string) (Kind, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	for _, k := range Kinds() {
		if k.String() == name {
			return k, nil
		}
	}
	return 0, fmt.Errorf("unknown extraction provider %q (want native, openai or google)", s)
}

// Request is what a provider needs for one attempt.
type Request struct {
	Data     []byte
	MIMEType string

	// Filename is used for logging only.
	Filename string

	// IdempotencyKey is forwarded to providers that support deduplication.
	IdempotencyKey string
}

// Extractor is a remote extraction backend.
//
// ExtractImage handles a single image. ExtractDocument handles a PDF without
// a usable text layer. The two use different provider endpoints.
type Extractor interface {
	Kind() Kind
	ExtractImage(ctx context.Context, req Request) (string, error)
	ExtractDocument(ctx context.Context, req Request) (string, error)
	Ping(ctx context.Context) error
}

// PageBreak is inserted between pages when a provider returns text per page.
func PageBreak(page int) string {
	return fmt.Sprintf("\n\n--- Page %d ---\n\n", page)
}
