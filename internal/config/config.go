package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v2"

	"docextract/internal/breaker"
	"docextract/internal/cache"
	"docextract/internal/extraction"
	"docextract/internal/logger"
	"docextract/internal/native"
	"docextract/internal/remote"
	"docextract/internal/remote/gcloud"
	"docextract/internal/remote/openaicompat"
	"docextract/internal/retry"
	"docextract/internal/router"
)

// FileEnv names the environment variable pointing at an optional YAML file.
// Values from the file are applied first and environment variables win.
const FileEnv = "DOCEXTRACT_CONFIG_FILE"

type Config struct {
	// Extraction
	Provider         string        `yaml:"provider"`
	MaxDocumentBytes int           `yaml:"max_document_bytes"`
	AttemptTimeout   time.Duration `yaml:"attempt_timeout"`

	// Retry policy
	RetryMaxAttempts int           `yaml:"retry_max_attempts"`
	RetryBaseDelay   time.Duration `yaml:"retry_base_delay"`
	RetryMaxDelay    time.Duration `yaml:"retry_max_delay"`
	RetryJitter      float64       `yaml:"retry_jitter"`
	RetryMaxElapsed  time.Duration `yaml:"retry_max_elapsed"`

	// Circuit breaker
	BreakerFailureThreshold int           `yaml:"breaker_failure_threshold"`
	BreakerRecoveryTimeout  time.Duration `yaml:"breaker_recovery_timeout"`

	// Cache (Redis protocol). Empty address disables caching.
	CacheAddr         string        `yaml:"cache_addr"`
	CachePassword     string        `yaml:"cache_password"`
	CacheDB           int           `yaml:"cache_db"`
	CacheTTL          time.Duration `yaml:"cache_ttl"`
	CacheWarnInterval time.Duration `yaml:"cache_warn_interval"`
	CacheOpTimeout    time.Duration `yaml:"cache_op_timeout"`

	// Local OCR
	OCRLanguage          string `yaml:"ocr_language"`
	OCRMaxImageDimension int    `yaml:"ocr_max_image_dimension"`
	OCRDPI               int    `yaml:"ocr_dpi"`
	OCRMaxPages          int    `yaml:"ocr_max_pages"`
	TesseractPath        string `yaml:"tesseract_path"`
	PdftoppmPath         string `yaml:"pdftoppm_path"`
	TessdataDir          string `yaml:"tessdata_dir"`
	NativeProbePages     int    `yaml:"native_probe_pages"`
	NativeMinTextChars   int    `yaml:"native_min_text_chars"`

	// OpenAI-compatible provider
	OpenAIAPIKey   string        `yaml:"openai_api_key"`
	OpenAIBaseURL  string        `yaml:"openai_base_url"`
	OpenAIModel    string        `yaml:"openai_model"`
	OpenAIOCRModel string        `yaml:"openai_ocr_model"`
	OpenAITimeout  time.Duration `yaml:"openai_timeout"`

	// Google Cloud provider
	GoogleCloudProject           string        `yaml:"google_cloud_project"`
	GoogleCloudLocation          string        `yaml:"google_cloud_location"`
	DocumentAIProcessorID        string        `yaml:"document_ai_processor_id"`
	GoogleCredentials            string        `yaml:"google_credentials"`
	GoogleApplicationCredentials string        `yaml:"google_application_credentials"`
	GoogleLanguageHints          []string      `yaml:"google_language_hints"`
	GoogleTimeout                time.Duration `yaml:"google_timeout"`

	// Logging Configuration
	LogLevel      string `yaml:"log_level"`
	LogFormat     string `yaml:"log_format"`
	LogTimeFormat string `yaml:"log_time_format"`
	LogOutput     string `yaml:"log_output"`
}

// Defaults returns the configuration used when nothing is set.
func Defaults() *Config {
	nativeDef := native.DefaultConfig()
	retryDef := retry.DefaultConfig()

	return &Config{
		Provider:         remote.KindOpenAI.String(),
		MaxDocumentBytes: extraction.DefaultMaxDocumentBytes,
		AttemptTimeout:   router.DefaultAttemptTimeout,

		RetryMaxAttempts: retryDef.MaxAttempts,
		RetryBaseDelay:   retryDef.BaseDelay,
		RetryMaxDelay:    retryDef.MaxDelay,
		RetryJitter:      retryDef.Jitter,

		BreakerFailureThreshold: breaker.DefaultFailureThreshold,
		BreakerRecoveryTimeout:  breaker.DefaultRecoveryTimeout,

		CacheTTL:          cache.DefaultTTL,
		CacheWarnInterval: cache.DefaultWarnInterval,
		CacheOpTimeout:    router.DefaultCacheOpTimeout,

		OCRLanguage:          nativeDef.Language,
		OCRMaxImageDimension: nativeDef.MaxImageDimension,
		OCRDPI:               nativeDef.DPI,
		OCRMaxPages:          nativeDef.MaxPages,
		TesseractPath:        nativeDef.Tesseract,
		PdftoppmPath:         nativeDef.Pdftoppm,
		NativeProbePages:     nativeDef.ProbePages,
		NativeMinTextChars:   nativeDef.MinTextChars,

		OpenAIBaseURL:  openaicompat.DefaultBaseURL,
		OpenAIModel:    openaicompat.DefaultModel,
		OpenAIOCRModel: openaicompat.DefaultOCRModel,
		OpenAITimeout:  openaicompat.DefaultTimeout,

		GoogleCloudLocation: gcloud.DefaultLocation,
		GoogleTimeout:       gcloud.DefaultTimeout,

		LogLevel:      "info",
		LogFormat:     "console",
		LogTimeFormat: time.RFC3339,
		LogOutput:     "stderr",
	}
}

// Load builds the configuration from defaults, the optional YAML file and
// the environment, in that order, and validates the result.
func Load() (*Config, error) {
	config := Defaults()

	if path := os.Getenv(FileEnv); path != "" {
		if err := config.loadFile(path); err != nil {
			return nil, err
		}
	}

	if err := config.loadEnv(); err != nil {
		return nil, fmt.Errorf("invalid environment: %w", err)
	}

	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file %s: %w", path, err)
	}
	if err := yaml.UnmarshalStrict(data, c); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) loadEnv() error {
	env := &envReader{}

	c.Provider = getEnv("EXTRACT_PROVIDER", c.Provider)
	c.MaxDocumentBytes = env.int("MAX_DOCUMENT_BYTES", c.MaxDocumentBytes)
	c.AttemptTimeout = env.duration("ATTEMPT_TIMEOUT", c.AttemptTimeout)

	c.RetryMaxAttempts = env.int("RETRY_MAX_ATTEMPTS", c.RetryMaxAttempts)
	c.RetryBaseDelay = env.duration("RETRY_BASE_DELAY", c.RetryBaseDelay)
	c.RetryMaxDelay = env.duration("RETRY_MAX_DELAY", c.RetryMaxDelay)
	c.RetryJitter = env.float("RETRY_JITTER", c.RetryJitter)
	c.RetryMaxElapsed = env.duration("RETRY_MAX_ELAPSED", c.RetryMaxElapsed)

	c.BreakerFailureThreshold = env.int("BREAKER_FAILURE_THRESHOLD", c.BreakerFailureThreshold)
	c.BreakerRecoveryTimeout = env.duration("BREAKER_RECOVERY_TIMEOUT", c.BreakerRecoveryTimeout)

	c.CacheAddr = getEnv("CACHE_ADDR", c.CacheAddr)
	c.CachePassword = getEnv("CACHE_PASSWORD", c.CachePassword)
	c.CacheDB = env.int("CACHE_DB", c.CacheDB)
	c.CacheTTL = env.duration("CACHE_TTL", c.CacheTTL)
	c.CacheWarnInterval = env.duration("CACHE_WARN_INTERVAL", c.CacheWarnInterval)
	c.CacheOpTimeout = env.duration("CACHE_OP_TIMEOUT", c.CacheOpTimeout)

	c.OCRLanguage = getEnv("OCR_LANGUAGE", c.OCRLanguage)
	c.OCRMaxImageDimension = env.int("OCR_MAX_IMAGE_DIMENSION", c.OCRMaxImageDimension)
	c.OCRDPI = env.int("OCR_DPI", c.OCRDPI)
	c.OCRMaxPages = env.int("OCR_MAX_PAGES", c.OCRMaxPages)
	c.TesseractPath = getEnv("TESSERACT_PATH", c.TesseractPath)
	c.PdftoppmPath = getEnv("PDFTOPPM_PATH", c.PdftoppmPath)
	c.TessdataDir = getEnv("TESSDATA_DIR", c.TessdataDir)
	c.NativeProbePages = env.int("NATIVE_PROBE_PAGES", c.NativeProbePages)
	c.NativeMinTextChars = env.int("NATIVE_MIN_TEXT_CHARS", c.NativeMinTextChars)

	c.OpenAIAPIKey = getEnv("OPENAI_API_KEY", c.OpenAIAPIKey)
	c.OpenAIBaseURL = getEnv("OPENAI_BASE_URL", c.OpenAIBaseURL)
	c.OpenAIModel = getEnv("OPENAI_MODEL", c.OpenAIModel)
	c.OpenAIOCRModel = getEnv("OPENAI_OCR_MODEL", c.OpenAIOCRModel)
	c.OpenAITimeout = env.duration("OPENAI_TIMEOUT", c.OpenAITimeout)

	c.GoogleCloudProject = getEnv("GOOGLE_CLOUD_PROJECT", c.GoogleCloudProject)
	c.GoogleCloudLocation = getEnv("GOOGLE_CLOUD_LOCATION", c.GoogleCloudLocation)
	c.DocumentAIProcessorID = getEnv("DOCUMENT_AI_PROCESSOR_ID", c.DocumentAIProcessorID)
	c.GoogleCredentials = getEnv("GOOGLE_CREDENTIALS", c.GoogleCredentials)
	c.GoogleApplicationCredentials = getEnv("GOOGLE_APPLICATION_CREDENTIALS", c.GoogleApplicationCredentials)
	c.GoogleLanguageHints = getEnvList("GOOGLE_LANGUAGE_HINTS", c.GoogleLanguageHints)
	c.GoogleTimeout = env.duration("GOOGLE_TIMEOUT", c.GoogleTimeout)

	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)
	c.LogFormat = getEnv("LOG_FORMAT", c.LogFormat)
	c.LogTimeFormat = getEnv("LOG_TIME_FORMAT", c.LogTimeFormat)
	c.LogOutput = getEnv("LOG_OUTPUT", c.LogOutput)

	return errors.Join(env.errs...)
}

func (c *Config) validate() error {
	kind, err := remote.ParseKind(c.Provider)
	if err != nil {
		return fmt.Errorf("EXTRACT_PROVIDER: %w", err)
	}

	switch kind {
	case remote.KindOpenAI:
		if c.OpenAIAPIKey == "" {
			return fmt.Errorf("OPENAI_API_KEY is required for provider %s", kind)
		}
	case remote.KindGoogle:
		if c.GoogleCloudProject == "" {
			return fmt.Errorf("GOOGLE_CLOUD_PROJECT is required for provider %s", kind)
		}
		if c.DocumentAIProcessorID == "" {
			return fmt.Errorf("DOCUMENT_AI_PROCESSOR_ID is required for provider %s", kind)
		}
	}

	if c.MaxDocumentBytes <= 0 {
		return fmt.Errorf("MAX_DOCUMENT_BYTES must be positive, got %d", c.MaxDocumentBytes)
	}
	if c.AttemptTimeout <= 0 {
		return fmt.Errorf("ATTEMPT_TIMEOUT must be positive, got %v", c.AttemptTimeout)
	}
	if c.RetryMaxAttempts < 1 {
		return fmt.Errorf("RETRY_MAX_ATTEMPTS must be at least 1, got %d", c.RetryMaxAttempts)
	}
	if c.RetryBaseDelay <= 0 || c.RetryMaxDelay < c.RetryBaseDelay {
		return fmt.Errorf("retry delays must satisfy 0 < RETRY_BASE_DELAY <= RETRY_MAX_DELAY, got %v and %v", c.RetryBaseDelay, c.RetryMaxDelay)
	}
	if c.RetryJitter < 0 || c.RetryJitter >= 1 {
		return fmt.Errorf("RETRY_JITTER must be in [0, 1), got %v", c.RetryJitter)
	}
	if c.RetryMaxElapsed < 0 {
		return fmt.Errorf("RETRY_MAX_ELAPSED must not be negative, got %v", c.RetryMaxElapsed)
	}
	if c.BreakerFailureThreshold < 1 {
		return fmt.Errorf("BREAKER_FAILURE_THRESHOLD must be at least 1, got %d", c.BreakerFailureThreshold)
	}
	if c.BreakerRecoveryTimeout <= 0 {
		return fmt.Errorf("BREAKER_RECOVERY_TIMEOUT must be positive, got %v", c.BreakerRecoveryTimeout)
	}
	if c.CacheTTL <= 0 {
		return fmt.Errorf("CACHE_TTL must be positive, got %v", c.CacheTTL)
	}
	return nil
}

// ProviderKind returns the validated provider kind.
func (c *Config) ProviderKind() remote.Kind {
	kind, _ := remote.ParseKind(c.Provider)
	return kind
}

// GetLoggerConfig returns a logger configuration from the main config
func (c *Config) GetLoggerConfig() logger.LogConfig {
	return logger.LogConfig{
		Level:      c.LogLevel,
		Format:     c.LogFormat,
		TimeFormat: c.LogTimeFormat,
		Output:     c.LogOutput,
	}
}

func (c *Config) GetRetryConfig() retry.Config {
	return retry.Config{
		MaxAttempts: c.RetryMaxAttempts,
		BaseDelay:   c.RetryBaseDelay,
		MaxDelay:    c.RetryMaxDelay,
		Jitter:      c.RetryJitter,
		MaxElapsed:  c.RetryMaxElapsed,
	}
}

func (c *Config) GetBreakerConfig() breaker.Config {
	return breaker.Config{
		FailureThreshold: c.BreakerFailureThreshold,
		RecoveryTimeout:  c.BreakerRecoveryTimeout,
	}
}

func (c *Config) GetCacheConfig() cache.Config {
	return cache.Config{
		Addr:         c.CacheAddr,
		Password:     c.CachePassword,
		DB:           c.CacheDB,
		TTL:          c.CacheTTL,
		WarnInterval: c.CacheWarnInterval,
	}
}

func (c *Config) GetNativeConfig() native.Config {
	return native.Config{
		ProbePages:        c.NativeProbePages,
		MinTextChars:      c.NativeMinTextChars,
		Language:          c.OCRLanguage,
		MaxImageDimension: c.OCRMaxImageDimension,
		DPI:               c.OCRDPI,
		MaxPages:          c.OCRMaxPages,
		Tesseract:         c.TesseractPath,
		Pdftoppm:          c.PdftoppmPath,
		TessdataDir:       c.TessdataDir,
	}
}

func (c *Config) GetOpenAIConfig() openaicompat.Config {
	return openaicompat.Config{
		APIKey:   c.OpenAIAPIKey,
		BaseURL:  c.OpenAIBaseURL,
		Model:    c.OpenAIModel,
		OCRModel: c.OpenAIOCRModel,
		Timeout:  c.OpenAITimeout,
	}
}

func (c *Config) GetGoogleConfig() gcloud.Config {
	return gcloud.Config{
		ProjectID:       c.GoogleCloudProject,
		Location:        c.GoogleCloudLocation,
		ProcessorID:     c.DocumentAIProcessorID,
		CredentialsJSON: c.GoogleCredentials,
		CredentialsFile: c.GoogleApplicationCredentials,
		LanguageHints:   c.GoogleLanguageHints,
		Timeout:         c.GoogleTimeout,
	}
}

func (c *Config) GetRouterConfig() router.Config {
	return router.Config{
		MaxDocumentBytes: c.MaxDocumentBytes,
		AttemptTimeout:   c.AttemptTimeout,
		CacheTTL:         c.CacheTTL,
		CacheOpTimeout:   c.CacheOpTimeout,
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// envReader parses typed variables and collects every malformed one.
type envReader struct {
	errs []error
}

func (r *envReader) int(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("%s: %q is not an integer", key, value))
		return defaultValue
	}
	return n
}

func (r *envReader) float(key string, defaultValue float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("%s: %q is not a number", key, value))
		return defaultValue
	}
	return f
}

func (r *envReader) duration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("%s: %q is not a duration", key, value))
		return defaultValue
	}
	return d
}
