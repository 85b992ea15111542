// Package gcloud extracts text with Google Cloud: Vision document text
// detection for images and a Document AI OCR processor for scanned PDFs.
package gcloud

import (
	"context"
	"errors"
	"fmt"
	"time"

	documentai "cloud.google.com/go/documentai/apiv1"
	"cloud.google.com/go/documentai/apiv1/documentaipb"
	vision "cloud.google.com/go/vision/v2/apiv1"
	"cloud.google.com/go/vision/v2/apiv1/visionpb"
	"github.com/googleapis/gax-go/v2"
	"github.com/rs/zerolog"
	"google.golang.org/api/option"
	"google.golang.org/grpc/metadata"

	"docextract/internal/logger"
	"docextract/internal/remote"
)

const (
	DefaultLocation = "us"
	DefaultTimeout  = 60 * time.Second

	// idempotencyMetadata is the outgoing gRPC metadata key carrying the request's idempotency key.
	idempotencyMetadata = "x-idempotency-key"
)

// Config configures the Google provider.
type Config struct {
	ProjectID   string
	Location    string // Document AI region, e.g. "us" or "eu"
	ProcessorID string // Document AI OCR processor

	// CredentialsJSON takes precedence over CredentialsFile. With neither,
	// application default credentials are used.
	CredentialsJSON string
	CredentialsFile string

	LanguageHints []string
	Timeout       time.Duration
}

// visionClient is the subset of *vision.ImageAnnotatorClient we call.
type visionClient interface {
	BatchAnnotateImages(ctx context.Context, req *visionpb.BatchAnnotateImagesRequest, opts ...gax.CallOption) (*visionpb.BatchAnnotateImagesResponse, error)
	Close() error
}

// documentClient is the subset of *documentai.DocumentProcessorClient we call.
type documentClient interface {
	ProcessDocument(ctx context.Context, req *documentaipb.ProcessRequest, opts ...gax.CallOption) (*documentaipb.ProcessResponse, error)
	GetProcessor(ctx context.Context, req *documentaipb.GetProcessorRequest, opts ...gax.CallOption) (*documentaipb.Processor, error)
	Close() error
}

// Extractor implements remote.Extractor.
type Extractor struct {
	cfg       Config
	vision    visionClient
	documents documentClient
	log       zerolog.Logger
}

var _ remote.Extractor = (*Extractor)(nil)

// New dials both Google clients.
func New(ctx context.Context, cfg Config) (*Extractor, error) {
	const op = "gcloud.New"

	cfg = withDefaults(cfg)
	if cfg.ProjectID == "" {
		return nil, fmt.Errorf("%s: project id is required", op)
	}
	if cfg.ProcessorID == "" {
		return nil, fmt.Errorf("%s: Document AI processor id is required", op)
	}

	var credOpts []option.ClientOption
	switch {
	case cfg.CredentialsJSON != "":
		credOpts = append(credOpts, option.WithCredentialsJSON([]byte(cfg.CredentialsJSON)))
	case cfg.CredentialsFile != "":
		credOpts = append(credOpts, option.WithCredentialsFile(cfg.CredentialsFile))
	}

	vc, err := vision.NewImageAnnotatorClient(ctx, credOpts...)
	if err != nil {
		return nil, fmt.Errorf("%s: create Vision client: %w", op, err)
	}

	docOpts := credOpts
	if cfg.Location != DefaultLocation {
		docOpts = append(docOpts[:len(docOpts):len(docOpts)],
			option.WithEndpoint(fmt.Sprintf("%s-documentai.googleapis.com:443", cfg.Location)))
	}
	dc, err := documentai.NewDocumentProcessorClient(ctx, docOpts...)
	if err != nil {
		_ = vc.Close()
		return nil, fmt.Errorf("%s: create Document AI client for location %s: %w", op, cfg.Location, err)
	}

	return NewWithClients(cfg, vc, dc), nil
}

// NewWithClients creates the provider over explicit clients (for testing).
func NewWithClients(cfg Config, vc visionClient, dc documentClient) *Extractor {
	return &Extractor{
		cfg:       withDefaults(cfg),
		vision:    vc,
		documents: dc,
		log:       logger.WithComponent("gcloud"),
	}
}

func withDefaults(cfg Config) Config {
	if cfg.Location == "" {
		cfg.Location = DefaultLocation
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	return cfg
}

// Kind implements remote.Extractor.
func (e *Extractor) Kind() remote.Kind {
	return remote.KindGoogle
}

// ExtractImage runs Vision DOCUMENT_TEXT_DETECTION on the image. An image
// without text yields an empty string.
func (e *Extractor) ExtractImage(ctx context.Context, req remote.Request) (string, error) {
	ctx, cancel := e.callContext(ctx, req.IdempotencyKey)
	defer cancel()

	resp, err := e.vision.BatchAnnotateImages(ctx, &visionpb.BatchAnnotateImagesRequest{
		Requests: []*visionpb.AnnotateImageRequest{
			{
				Image: &visionpb.Image{Content: req.Data},
				Features: []*visionpb.Feature{
					{Type: visionpb.Feature_DOCUMENT_TEXT_DETECTION},
				},
				ImageContext: &visionpb.ImageContext{LanguageHints: e.cfg.LanguageHints},
			},
		},
	})
	if err != nil {
		return "", e.mapError(ctx, err)
	}

	if len(resp.GetResponses()) == 0 {
		return "", e.malformed("Vision returned no responses")
	}

	imgResp := resp.GetResponses()[0]
	if st := imgResp.GetError(); st != nil && st.GetCode() != 0 {
		return "", e.mapStatus(codeOf(st.GetCode()), st.GetMessage(), 0, nil)
	}

	return imgResp.GetFullTextAnnotation().GetText(), nil
}

// ExtractDocument sends the PDF inline to the configured Document AI processor.
func (e *Extractor) ExtractDocument(ctx context.Context, req remote.Request) (string, error) {
	ctx, cancel := e.callContext(ctx, req.IdempotencyKey)
	defer cancel()

	mimeType := req.MIMEType
	if mimeType == "" {
		mimeType = "application/pdf"
	}

	resp, err := e.documents.ProcessDocument(ctx, &documentaipb.ProcessRequest{
		Name: e.processorName(),
		Source: &documentaipb.ProcessRequest_RawDocument{
			RawDocument: &documentaipb.RawDocument{
				Content:  req.Data,
				MimeType: mimeType,
			},
		},
	})
	if err != nil {
		return "", e.mapError(ctx, err)
	}

	doc := resp.GetDocument()
	if doc == nil {
		return "", e.malformed("Document AI returned no document")
	}
	if st := doc.GetError(); st != nil && st.GetCode() != 0 {
		return "", e.mapStatus(codeOf(st.GetCode()), st.GetMessage(), 0, nil)
	}

	e.log.Debug().
		Int("pages", len(doc.GetPages())).
		Int("text_length", len(doc.GetText())).
		Msg("Document AI processing finished")

	return doc.GetText(), nil
}

// Ping fetches the processor, which checks credentials, quota project and
// that the processor exists.
func (e *Extractor) Ping(ctx context.Context) error {
	ctx, cancel := e.callContext(ctx, "")
	defer cancel()

	proc, err := e.documents.GetProcessor(ctx, &documentaipb.GetProcessorRequest{Name: e.processorName()})
	if err != nil {
		return e.mapError(ctx, err)
	}
	if proc.GetState() != documentaipb.Processor_ENABLED && proc.GetState() != documentaipb.Processor_STATE_UNSPECIFIED {
		return fmt.Errorf("gcloud: processor %s is %s", proc.GetName(), proc.GetState())
	}
	return nil
}

// Close releases both clients.
func (e *Extractor) Close() error {
	var errs []error
	if e.vision != nil {
		errs = append(errs, e.vision.Close())
	}
	if e.documents != nil {
		errs = append(errs, e.documents.Close())
	}
	return errors.Join(errs...)
}

func (e *Extractor) callContext(ctx context.Context, idempotencyKey string) (context.Context, context.CancelFunc) {
	if idempotencyKey != "" {
		ctx = metadata.AppendToOutgoingContext(ctx, idempotencyMetadata, idempotencyKey)
	}
	return context.WithTimeout(ctx, e.cfg.Timeout)
}

func (e *Extractor) processorName() string {
	return fmt.Sprintf("projects/%s/locations/%s/processors/%s", e.cfg.ProjectID, e.cfg.Location, e.cfg.ProcessorID)
}
