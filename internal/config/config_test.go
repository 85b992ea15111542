package config

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"docextract/internal/remote"
)

var envKeys = []string{
	FileEnv,
	"EXTRACT_PROVIDER", "MAX_DOCUMENT_BYTES", "ATTEMPT_TIMEOUT",
	"RETRY_MAX_ATTEMPTS", "RETRY_BASE_DELAY", "RETRY_MAX_DELAY", "RETRY_JITTER", "RETRY_MAX_ELAPSED",
	"BREAKER_FAILURE_THRESHOLD", "BREAKER_RECOVERY_TIMEOUT",
	"CACHE_ADDR", "CACHE_PASSWORD", "CACHE_DB", "CACHE_TTL", "CACHE_WARN_INTERVAL", "CACHE_OP_TIMEOUT",
	"OCR_LANGUAGE", "OCR_MAX_IMAGE_DIMENSION", "OCR_DPI", "OCR_MAX_PAGES",
	"TESSERACT_PATH", "PDFTOPPM_PATH", "TESSDATA_DIR", "NATIVE_PROBE_PAGES", "NATIVE_MIN_TEXT_CHARS",
	"OPENAI_API_KEY", "OPENAI_BASE_URL", "OPENAI_MODEL", "OPENAI_OCR_MODEL", "OPENAI_TIMEOUT",
	"GOOGLE_CLOUD_PROJECT", "GOOGLE_CLOUD_LOCATION", "DOCUMENT_AI_PROCESSOR_ID",
	"GOOGLE_CREDENTIALS", "GOOGLE_APPLICATION_CREDENTIALS", "GOOGLE_LANGUAGE_HINTS", "GOOGLE_TIMEOUT",
	"LOG_LEVEL", "LOG_FORMAT", "LOG_TIME_FORMAT", "LOG_OUTPUT",
}

// clearEnv blanks every variable Load reads so the host environment cannot leak in.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range envKeys {
		t.Setenv(key, "")
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)
	t.Setenv("OPENAI_API_KEY", "sk-test")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.ProviderKind() != remote.KindOpenAI {
		t.Errorf("provider = %v, want openai", cfg.ProviderKind())
	}
	if cfg.MaxDocumentBytes != 10*1024*1024 {
		t.Errorf("MaxDocumentBytes = %d", cfg.MaxDocumentBytes)
	}
	if cfg.AttemptTimeout != 30*time.Second {
		t.Errorf("AttemptTimeout = %v", cfg.AttemptTimeout)
	}
	if cfg.GetCacheConfig().Enabled() {
		t.Error("cache should be disabled without CACHE_ADDR")
	}

	retryCfg := cfg.GetRetryConfig()
	if retryCfg.MaxAttempts != 3 || retryCfg.BaseDelay != 500*time.Millisecond || retryCfg.MaxDelay != 8*time.Second {
		t.Errorf("retry config = %+v", retryCfg)
	}

	breakerCfg := cfg.GetBreakerConfig()
	if breakerCfg.FailureThreshold != 5 || breakerCfg.RecoveryTimeout != 30*time.Second {
		t.Errorf("breaker config = %+v", breakerCfg)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("EXTRACT_PROVIDER", " Google ")
	t.Setenv("GOOGLE_CLOUD_PROJECT", "acme")
	t.Setenv("DOCUMENT_AI_PROCESSOR_ID", "proc-1")
	t.Setenv("GOOGLE_CLOUD_LOCATION", "eu")
	t.Setenv("GOOGLE_LANGUAGE_HINTS", "de, en,,")
	t.Setenv("RETRY_MAX_ATTEMPTS", "5")
	t.Setenv("RETRY_JITTER", "0.5")
	t.Setenv("CACHE_ADDR", "localhost:6379")
	t.Setenv("CACHE_TTL", "10m")
	t.Setenv("OCR_LANGUAGE", "deu")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.ProviderKind() != remote.KindGoogle {
		t.Errorf("provider = %v, want google", cfg.ProviderKind())
	}

	google := cfg.GetGoogleConfig()
	if google.ProjectID != "acme" || google.ProcessorID != "proc-1" || google.Location != "eu" {
		t.Errorf("google config = %+v", google)
	}
	if !reflect.DeepEqual(google.LanguageHints, []string{"de", "en"}) {
		t.Errorf("language hints = %q", google.LanguageHints)
	}

	if got := cfg.GetRetryConfig(); got.MaxAttempts != 5 || got.Jitter != 0.5 {
		t.Errorf("retry config = %+v", got)
	}

	cacheCfg := cfg.GetCacheConfig()
	if !cacheCfg.Enabled() || cacheCfg.TTL != 10*time.Minute {
		t.Errorf("cache config = %+v", cacheCfg)
	}
	if cfg.GetRouterConfig().CacheTTL != 10*time.Minute {
		t.Errorf("router cache TTL = %v", cfg.GetRouterConfig().CacheTTL)
	}
	if cfg.GetNativeConfig().Language != "deu" {
		t.Errorf("native language = %q", cfg.GetNativeConfig().Language)
	}
}

func TestLoad_File(t *testing.T) {
	clearEnv(t)

	path := filepath.Join(t.TempDir(), "docextract.yaml")
	content := `provider: native
attempt_timeout: 45s
ocr_dpi: 200
log_level: debug
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv(FileEnv, path)
	t.Setenv("LOG_LEVEL", "warn")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.ProviderKind() != remote.KindNative {
		t.Errorf("provider = %v, want native", cfg.ProviderKind())
	}
	if cfg.AttemptTimeout != 45*time.Second {
		t.Errorf("AttemptTimeout = %v", cfg.AttemptTimeout)
	}
	if cfg.OCRDPI != 200 {
		t.Errorf("OCRDPI = %d", cfg.OCRDPI)
	}
	if cfg.LogLevel != "warn" {
		t.Errorf("LogLevel = %q, environment should win over the file", cfg.LogLevel)
	}
}

func TestLoad_FileErrors(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()

	unknown := filepath.Join(dir, "unknown.yaml")
	if err := os.WriteFile(unknown, []byte("provider: native\nno_such_key: 1\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name string
		path string
	}{
		{name: "missing file", path: filepath.Join(dir, "absent.yaml")},
		{name: "unknown key", path: unknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(FileEnv, tt.path)
			if _, err := Load(); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		wantErr string
	}{
		{
			name:    "unknown provider",
			env:     map[string]string{"EXTRACT_PROVIDER": "azure"},
			wantErr: "EXTRACT_PROVIDER",
		},
		{
			name:    "openai without key",
			env:     map[string]string{"EXTRACT_PROVIDER": "openai"},
			wantErr: "OPENAI_API_KEY",
		},
		{
			name:    "google without processor",
			env:     map[string]string{"EXTRACT_PROVIDER": "google", "GOOGLE_CLOUD_PROJECT": "acme"},
			wantErr: "DOCUMENT_AI_PROCESSOR_ID",
		},
		{
			name:    "malformed integer and duration",
			env:     map[string]string{"EXTRACT_PROVIDER": "native", "RETRY_MAX_ATTEMPTS": "three", "CACHE_TTL": "soon"},
			wantErr: "CACHE_TTL",
		},
		{
			name:    "zero attempts",
			env:     map[string]string{"EXTRACT_PROVIDER": "native", "RETRY_MAX_ATTEMPTS": "0"},
			wantErr: "RETRY_MAX_ATTEMPTS",
		},
		{
			name:    "base delay above max delay",
			env:     map[string]string{"EXTRACT_PROVIDER": "native", "RETRY_BASE_DELAY": "10s", "RETRY_MAX_DELAY": "1s"},
			wantErr: "RETRY_BASE_DELAY",
		},
		{
			name:    "jitter out of range",
			env:     map[string]string{"EXTRACT_PROVIDER": "native", "RETRY_JITTER": "1.5"},
			wantErr: "RETRY_JITTER",
		},
		{
			name:    "zero breaker threshold",
			env:     map[string]string{"EXTRACT_PROVIDER": "native", "BREAKER_FAILURE_THRESHOLD": "0"},
			wantErr: "BREAKER_FAILURE_THRESHOLD",
		},
		{
			name:    "negative size limit",
			env:     map[string]string{"EXTRACT_PROVIDER": "native", "MAX_DOCUMENT_BYTES": "-1"},
			wantErr: "MAX_DOCUMENT_BYTES",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			_, err := Load()
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error %q does not mention %s", err, tt.wantErr)
			}
		})
	}
}
