package openaicompat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"docextract/internal/extraction"
	"docextract/internal/remote"
)

const maxErrorBody = 64 << 10

type ocrRequest struct {
	Model              string      `json:"model"`
	Document           ocrDocument `json:"document"`
	IncludeImageBase64 bool        `json:"include_image_base64"`
}

type ocrDocument struct {
	Type        string `json:"type"`
	DocumentURL string `json:"document_url"`
}

type ocrResponse struct {
	Model string    `json:"model"`
	Pages []ocrPage `json:"pages"`
	Usage struct {
		PagesProcessed int `json:"pages_processed"`
	} `json:"usage_info"`
}

type ocrPage struct {
	Index    int    `json:"index"`
	Markdown string `json:"markdown"`
}

type errorBody struct {
	Message string `json:"message"`
	Detail  any    `json:"detail"`
	Error   *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// ExtractDocument posts the PDF to the /ocr endpoint and joins the returned
// pages in index order.
func (e *Extractor) ExtractDocument(ctx context.Context, req remote.Request) (string, error) {
	const op = "ExtractDocument"
	provider := e.Kind().String()
	ctx = remote.WithIdempotencyKey(ctx, req.IdempotencyKey)

	mimeType := req.MIMEType
	if mimeType == "" {
		mimeType = "application/pdf"
	}
	body, err := json.Marshal(ocrRequest{
		Model: e.cfg.OCRModel,
		Document: ocrDocument{
			Type:        "document_url",
			DocumentURL: remote.DataURI(mimeType, req.Data),
		},
	})
	if err != nil {
		return "", fmt.Errorf("%s: marshal request: %w", op, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(e.cfg.BaseURL, "/")+"/ocr", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("%s: build request: %w", op, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+e.cfg.APIKey)

	resp, err := e.doer.Do(httpReq)
	if err != nil {
		return "", remote.ClassifyTransport(ctx, provider, e.cfg.Timeout, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return "", remote.StatusError(provider, resp.StatusCode, errorMessage(raw),
			remote.ParseRetryAfter(resp.Header.Get("Retry-After"), time.Now()), nil)
	}

	var out ocrResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", remote.ClassifyTransport(ctx, provider, e.cfg.Timeout, ctxErr)
		}
		return "", &extraction.ProviderError{
			Provider:   provider,
			StatusCode: resp.StatusCode,
			Message:    "malformed OCR response",
			Err:        err,
		}
	}

	sort.SliceStable(out.Pages, func(i, j int) bool { return out.Pages[i].Index < out.Pages[j].Index })

	var b strings.Builder
	for i, page := range out.Pages {
		if i > 0 {
			b.WriteString(remote.PageBreak(i + 1))
		}
		b.WriteString(page.Markdown)
	}

	e.log.Debug().
		Str("model", out.Model).
		Int("pages", len(out.Pages)).
		Int("pages_processed", out.Usage.PagesProcessed).
		Msg("Document OCR finished")

	return b.String(), nil
}

// errorMessage pulls a human readable message out of a provider error body.
func errorMessage(raw []byte) string {
	var body errorBody
	if err := json.Unmarshal(raw, &body); err == nil {
		switch {
		case body.Error != nil && body.Error.Message != "":
			return body.Error.Message
		case body.Message != "":
			return body.Message
		case body.Detail != nil:
			return fmt.Sprint(body.Detail)
		}
	}
	return strings.TrimSpace(string(raw[:min(len(raw), 512)]))
}
