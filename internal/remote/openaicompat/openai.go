// Package openaicompat extracts text through an OpenAI-compatible API.
//
// Images go through the multimodal chat completion endpoint. Scanned PDFs
// go through the document OCR endpoint (POST {base}/ocr), which takes the
// document as a data URI and answers with per-page markdown.
package openaicompat

import (
	"context"
	"errors"
	"math"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"github.com/sashabaranov/go-openai"

	"docextract/internal/extraction"
	"docextract/internal/logger"
	"docextract/internal/remote"
)

const (
	DefaultBaseURL  = "https://api.openai.com/v1"
	DefaultModel    = openai.GPT4oMini
	DefaultOCRModel = "mistral-ocr-latest"
	DefaultTimeout  = 60 * time.Second
)

const imageInstruction = "Extract all legible text from this image. " +
	"Return only the extracted text, preserving line breaks and reading order. " +
	"Do not describe the image. If there is no text, return an empty response."

// Config configures the OpenAI-compatible provider.
type Config struct {
	APIKey   string
	BaseURL  string // e.g. https://api.openai.com/v1 or https://api.mistral.ai/v1
	Model    string // chat model used for images
	OCRModel string // model passed to the /ocr endpoint
	Timeout  time.Duration

	// HTTPClient overrides the transport (for testing).
	HTTPClient remote.HTTPDoer
}

// Extractor implements remote.Extractor.
type Extractor struct {
	cfg    Config
	client *openai.Client
	doer   remote.HTTPDoer
	log    zerolog.Logger
}

var _ remote.Extractor = (*Extractor)(nil)

// New creates the provider. An API key is required.
func New(cfg Config) (*Extractor, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("openaicompat: API key is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.OCRModel == "" {
		cfg.OCRModel = DefaultOCRModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}

	var base remote.HTTPDoer = &http.Client{Timeout: cfg.Timeout}
	if cfg.HTTPClient != nil {
		base = cfg.HTTPClient
	}
	doer := hintDoer{next: remote.IdempotentDoer{Next: base}}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	clientCfg.BaseURL = cfg.BaseURL
	clientCfg.HTTPClient = doer

	return &Extractor{
		cfg:    cfg,
		client: openai.NewClientWithConfig(clientCfg),
		doer:   doer,
		log:    logger.WithComponent("openai"),
	}, nil
}

// Kind implements remote.Extractor.
func (e *Extractor) Kind() remote.Kind {
	return remote.KindOpenAI
}

// ExtractImage sends the image as a data URI alongside a transcription
// instruction and returns the assistant message verbatim.
func (e *Extractor) ExtractImage(ctx context.Context, req remote.Request) (string, error) {
	ctx, hint := withHint(remote.WithIdempotencyKey(ctx, req.IdempotencyKey))

	resp, err := e.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: e.cfg.Model,
		// Zero is dropped by omitempty; the smallest float32 is sent instead.
		Temperature: math.SmallestNonzeroFloat32,
		Messages: []openai.ChatCompletionMessage{
			{
				Role: openai.ChatMessageRoleUser,
				MultiContent: []openai.ChatMessagePart{
					{
						Type: openai.ChatMessagePartTypeText,
						Text: imageInstruction,
					},
					{
						Type: openai.ChatMessagePartTypeImageURL,
						ImageURL: &openai.ChatMessageImageURL{
							URL:    remote.DataURI(req.MIMEType, req.Data),
							Detail: openai.ImageURLDetailHigh,
						},
					},
				},
			},
		},
	})
	if err != nil {
		return "", e.mapError(ctx, err, hint.get())
	}

	if len(resp.Choices) == 0 {
		return "", &extraction.ProviderError{
			Provider: e.Kind().String(),
			Message:  "chat completion returned no choices",
		}
	}

	e.log.Debug().
		Str("model", resp.Model).
		Int("prompt_tokens", resp.Usage.PromptTokens).
		Int("completion_tokens", resp.Usage.CompletionTokens).
		Msg("Chat completion finished")

	return resp.Choices[0].Message.Content, nil
}

// Ping lists models, which needs a valid key and a reachable endpoint.
func (e *Extractor) Ping(ctx context.Context) error {
	ctx, hint := withHint(ctx)
	if _, err := e.client.ListModels(ctx); err != nil {
		return e.mapError(ctx, err, hint.get())
	}
	return nil
}

func (e *Extractor) mapError(ctx context.Context, err error, retryAfter time.Duration) error {
	provider := e.Kind().String()

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) && apiErr.HTTPStatusCode != 0 {
		return remote.StatusError(provider, apiErr.HTTPStatusCode, apiErr.Message, retryAfter, err)
	}

	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) && reqErr.HTTPStatusCode != 0 {
		return remote.StatusError(provider, reqErr.HTTPStatusCode, "", retryAfter, err)
	}

	return remote.ClassifyTransport(ctx, provider, e.cfg.Timeout, err)
}
