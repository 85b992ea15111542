package openaicompat

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"docextract/internal/extraction"
	"docextract/internal/remote"
)

type captured struct {
	path           string
	idempotencyKey string
	authorization  string
	body           map[string]any
}

type fakeProvider struct {
	t      *testing.T
	mu     sync.Mutex
	calls  []captured
	handle func(w http.ResponseWriter, r *http.Request)
}

func (f *fakeProvider) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	raw, _ := io.ReadAll(r.Body)
	c := captured{
		path:           r.URL.Path,
		idempotencyKey: r.Header.Get(remote.IdempotencyHeader),
		authorization:  r.Header.Get("Authorization"),
	}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &c.body); err != nil {
			f.t.Errorf("request body is not JSON: %v", err)
		}
	}
	f.mu.Lock()
	f.calls = append(f.calls, c)
	f.mu.Unlock()
	f.handle(w, r)
}

func newProvider(t *testing.T, handle func(w http.ResponseWriter, r *http.Request)) (*Extractor, *fakeProvider) {
	t.Helper()

	fp := &fakeProvider{t: t, handle: handle}
	srv := httptest.NewServer(fp)
	t.Cleanup(srv.Close)

	e, err := New(Config{
		APIKey:  "sk-test",
		BaseURL: srv.URL + "/v1",
		Timeout: 5 * time.Second,
	})
	if err != nil {
		t.Fatalf("New() unexpected error: %v", err)
	}
	return e, fp
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func chatResponse(content string) map[string]any {
	return map[string]any{
		"id":     "chatcmpl-1",
		"object": "chat.completion",
		"model":  "gpt-4o-mini",
		"choices": []map[string]any{
			{"index": 0, "finish_reason": "stop", "message": map[string]any{"role": "assistant", "content": content}},
		},
		"usage": map[string]any{"prompt_tokens": 10, "completion_tokens": 2, "total_tokens": 12},
	}
}

func TestNew_RequiresKey(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Fatal("New() expected error without API key")
	}
}

func TestExtractImage(t *testing.T) {
	e, fp := newProvider(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, chatResponse("INVOICE #42\nTotal 13.37"))
	})

	text, err := e.ExtractImage(context.Background(), remote.Request{
		Data:           []byte{0x89, 'P', 'N', 'G'},
		MIMEType:       "image/png",
		Filename:       "receipt.png",
		IdempotencyKey: "abc123",
	})
	if err != nil {
		t.Fatalf("ExtractImage() unexpected error: %v", err)
	}
	if text != "INVOICE #42\nTotal 13.37" {
		t.Errorf("ExtractImage() = %q", text)
	}

	if len(fp.calls) != 1 {
		t.Fatalf("provider called %d times, want 1", len(fp.calls))
	}
	c := fp.calls[0]
	if c.path != "/v1/chat/completions" {
		t.Errorf("path = %q, want /v1/chat/completions", c.path)
	}
	if c.idempotencyKey != "abc123" {
		t.Errorf("Idempotency-Key = %q, want abc123", c.idempotencyKey)
	}
	if c.authorization != "Bearer sk-test" {
		t.Errorf("Authorization = %q", c.authorization)
	}

	raw, _ := json.Marshal(c.body)
	if !strings.Contains(string(raw), "data:image/png;base64,") {
		t.Errorf("request does not carry the image as a data URI: %s", raw)
	}
	temperature, ok := c.body["temperature"].(float64)
	if !ok || temperature <= 0 || temperature > 1e-6 {
		t.Errorf("temperature = %v (present %v), want a near-zero value on the wire", c.body["temperature"], ok)
	}
}

func TestExtractImage_EmptyTextIsValid(t *testing.T) {
	e, _ := newProvider(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, chatResponse(""))
	})

	text, err := e.ExtractImage(context.Background(), remote.Request{Data: []byte("x"), MIMEType: "image/png"})
	if err != nil {
		t.Fatalf("ExtractImage() unexpected error: %v", err)
	}
	if text != "" {
		t.Errorf("ExtractImage() = %q, want empty", text)
	}
}

func TestExtractImage_ErrorMapping(t *testing.T) {
	tests := []struct {
		name       string
		status     int
		header     map[string]string
		sentinel   error
		retryable  bool
		retryAfter time.Duration
	}{
		{name: "rate limited with hint", status: 429, header: map[string]string{"Retry-After": "2"}, sentinel: extraction.ErrRateLimited, retryable: true, retryAfter: 2 * time.Second},
		{name: "server error", status: 500, sentinel: extraction.ErrProvider, retryable: true},
		{name: "overloaded", status: 503, sentinel: extraction.ErrProvider, retryable: true},
		{name: "bad request", status: 400, sentinel: extraction.ErrProvider, retryable: false},
		{name: "bad key", status: 401, sentinel: extraction.ErrProvider, retryable: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, _ := newProvider(t, func(w http.ResponseWriter, r *http.Request) {
				for k, v := range tt.header {
					w.Header().Set(k, v)
				}
				writeJSON(w, tt.status, map[string]any{"error": map[string]any{"message": "nope", "type": "test"}})
			})

			_, err := e.ExtractImage(context.Background(), remote.Request{Data: []byte("x"), MIMEType: "image/png"})
			if !errors.Is(err, tt.sentinel) {
				t.Fatalf("ExtractImage() error = %v, want %v", err, tt.sentinel)
			}
			if got := extraction.IsRetryable(err); got != tt.retryable {
				t.Errorf("IsRetryable() = %v, want %v", got, tt.retryable)
			}
			if got := extraction.RetryAfter(err); got != tt.retryAfter {
				t.Errorf("RetryAfter() = %v, want %v", got, tt.retryAfter)
			}
		})
	}
}

func TestExtractImage_NonJSONError(t *testing.T) {
	e, _ := newProvider(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream connect error", http.StatusBadGateway)
	})

	_, err := e.ExtractImage(context.Background(), remote.Request{Data: []byte("x"), MIMEType: "image/png"})
	var provErr *extraction.ProviderError
	if !errors.As(err, &provErr) {
		t.Fatalf("ExtractImage() error = %v, want *ProviderError", err)
	}
	if provErr.StatusCode != http.StatusBadGateway || !provErr.Retryable {
		t.Errorf("ProviderError = %+v, want retryable 502", provErr)
	}
}

func TestExtractImage_Timeout(t *testing.T) {
	e, _ := newProvider(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := e.ExtractImage(ctx, remote.Request{Data: []byte("x"), MIMEType: "image/png"})
	if !errors.Is(err, extraction.ErrTimeout) {
		t.Fatalf("ExtractImage() error = %v, want ErrTimeout", err)
	}
}

func TestExtractImage_CallerCancel(t *testing.T) {
	e, _ := newProvider(t, func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	})

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(30*time.Millisecond, cancel)

	_, err := e.ExtractImage(ctx, remote.Request{Data: []byte("x"), MIMEType: "image/png"})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("ExtractImage() error = %v, want context.Canceled", err)
	}
	if extraction.IsRetryable(err) {
		t.Error("caller cancellation must not be retryable")
	}
}

func TestExtractImage_TransportFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	e, err := New(Config{APIKey: "sk-test", BaseURL: url + "/v1", Timeout: time.Second})
	if err != nil {
		t.Fatalf("New() unexpected error: %v", err)
	}

	_, err = e.ExtractImage(context.Background(), remote.Request{Data: []byte("x"), MIMEType: "image/png"})
	if !errors.Is(err, extraction.ErrTransport) {
		t.Fatalf("ExtractImage() error = %v, want ErrTransport", err)
	}
}

func TestExtractDocument(t *testing.T) {
	e, fp := newProvider(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"model": "mistral-ocr-latest",
			"pages": []map[string]any{
				{"index": 1, "markdown": "second"},
				{"index": 0, "markdown": "# first"},
			},
			"usage_info": map[string]any{"pages_processed": 2},
		})
	})

	text, err := e.ExtractDocument(context.Background(), remote.Request{
		Data:           []byte("%PDF-1.4 scanned"),
		MIMEType:       "application/pdf",
		IdempotencyKey: "doc-key",
	})
	if err != nil {
		t.Fatalf("ExtractDocument() unexpected error: %v", err)
	}
	if want := "# first\n\n--- Page 2 ---\n\nsecond"; text != want {
		t.Errorf("ExtractDocument() = %q, want %q", text, want)
	}

	c := fp.calls[0]
	if c.path != "/v1/ocr" {
		t.Errorf("path = %q, want /v1/ocr", c.path)
	}
	if c.idempotencyKey != "doc-key" {
		t.Errorf("Idempotency-Key = %q, want doc-key", c.idempotencyKey)
	}
	if c.body["model"] != DefaultOCRModel {
		t.Errorf("model = %v, want %s", c.body["model"], DefaultOCRModel)
	}
	doc, _ := c.body["document"].(map[string]any)
	if doc["type"] != "document_url" || !strings.HasPrefix(doc["document_url"].(string), "data:application/pdf;base64,") {
		t.Errorf("document = %v, want a PDF data URI", doc)
	}
}

func TestExtractDocument_ErrorMapping(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		body      string
		sentinel  error
		retryable bool
		message   string
	}{
		{name: "unavailable", status: 503, body: `{"message":"try later"}`, sentinel: extraction.ErrProvider, retryable: true, message: "try later"},
		{name: "validation", status: 422, body: `{"detail":"document_url invalid"}`, sentinel: extraction.ErrProvider, retryable: false, message: "document_url invalid"},
		{name: "rate limited", status: 429, body: `{"error":{"message":"slow down"}}`, sentinel: extraction.ErrRateLimited, retryable: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, _ := newProvider(t, func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Retry-After", "1")
				w.WriteHeader(tt.status)
				_, _ = io.WriteString(w, tt.body)
			})

			_, err := e.ExtractDocument(context.Background(), remote.Request{Data: []byte("%PDF"), MIMEType: "application/pdf"})
			if !errors.Is(err, tt.sentinel) {
				t.Fatalf("ExtractDocument() error = %v, want %v", err, tt.sentinel)
			}
			if got := extraction.IsRetryable(err); got != tt.retryable {
				t.Errorf("IsRetryable() = %v, want %v", got, tt.retryable)
			}
			var provErr *extraction.ProviderError
			if tt.message != "" && errors.As(err, &provErr) && provErr.Message != tt.message {
				t.Errorf("Message = %q, want %q", provErr.Message, tt.message)
			}
		})
	}
}

func TestExtractDocument_MalformedResponse(t *testing.T) {
	e, _ := newProvider(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = io.WriteString(w, "<html>not json</html>")
	})

	_, err := e.ExtractDocument(context.Background(), remote.Request{Data: []byte("%PDF"), MIMEType: "application/pdf"})
	if !errors.Is(err, extraction.ErrProvider) {
		t.Fatalf("ExtractDocument() error = %v, want ErrProvider", err)
	}
	if extraction.IsRetryable(err) {
		t.Error("malformed response should be terminal")
	}
}

func TestPing(t *testing.T) {
	e, fp := newProvider(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"object": "list", "data": []any{}})
	})

	if err := e.Ping(context.Background()); err != nil {
		t.Fatalf("Ping() unexpected error: %v", err)
	}
	if fp.calls[0].path != "/v1/models" {
		t.Errorf("path = %q, want /v1/models", fp.calls[0].path)
	}

	down, _ := newProvider(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"error": map[string]any{"message": "invalid key"}})
	})
	if err := down.Ping(context.Background()); !errors.Is(err, extraction.ErrProvider) {
		t.Errorf("Ping() error = %v, want ErrProvider", err)
	}
}
