/**
 * Configuration for the PDF intake worker
 *
 * Defaults, then an optional YAML file, then environment variables
 * (including those loaded from .env by main). Validate runs last.
 */

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	apperrors "github.com/adverant/nexus/pdf-intake-worker/internal/errors"
)

// MissingFilePolicy decides what happens to a message whose file is absent
type MissingFilePolicy string

const (
	MissingFileNack    MissingFilePolicy = "nack"
	MissingFileAckSkip MissingFilePolicy = "ack_skip"
)

// QueueBackend selects the broker transport
type QueueBackend string

const (
	BackendRedis QueueBackend = "redis"
	BackendAsynq QueueBackend = "asynq"
)

// Config holds worker configuration
type Config struct {
	// Broker configuration
	QueueBackend QueueBackend `yaml:"queue_backend"`
	RedisURL     string       `yaml:"redis_url"`
	QueueName    string       `yaml:"queue_name"`
	Prefetch     int          `yaml:"prefetch"`
	// consecutive connection failures before the consumer gives up
	MaxConnectionErrors int `yaml:"max_connection_errors"`

	// Input and output locations
	RootPath       string `yaml:"root_path"`
	PDFInputPath   string `yaml:"pdf_input_path"`
	JSONOutputPath string `yaml:"json_output_path"`

	// Acknowledgment policy
	OnMissingFile MissingFilePolicy `yaml:"on_missing_file"`
	NackRequeue   bool              `yaml:"nack_requeue"`

	// Object storage
	ObjectBucket string `yaml:"object_bucket"`
	ObjectPrefix string `yaml:"object_prefix"`

	// Cloud NLP (Vertex AI)
	GCPProject string `yaml:"gcp_project"`
	GCPRegion  string `yaml:"gcp_region"`
	NLPModel   string `yaml:"nlp_model"`

	// Offline replay: directory scan, no upload
	TestMode bool `yaml:"test_mode"`

	// Optional record store
	DatabaseURL string `yaml:"database_url"`

	// Summarizer
	SummaryEngine    string `yaml:"summary_engine"`
	SummarySentences int    `yaml:"summary_sentences"`

	// OCR
	OCRLanguages   []string `yaml:"ocr_languages"`
	OCRDPI         int      `yaml:"ocr_dpi"`
	OCRConcurrency int      `yaml:"ocr_concurrency"`
	MinNativeChars int      `yaml:"min_native_chars"`
	MaxPages       int      `yaml:"max_pages"`

	ProcessingTimeoutMs int64 `yaml:"processing_timeout_ms"`

	// Logging
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
}

// DefaultConfig returns the configuration used when nothing overrides it
func DefaultConfig() *Config {
	return &Config{
		QueueBackend:        BackendRedis,
		RedisURL:            "redis://localhost:6379/0",
		QueueName:           "pdf_ingest_q",
		Prefetch:            8,
		MaxConnectionErrors: 5,
		RootPath:            "/data",
		PDFInputPath:        "./input_pdfs",
		JSONOutputPath:      "./output_json",
		OnMissingFile:       MissingFileNack,
		ObjectPrefix:        "results",
		GCPRegion:           "us-central1",
		NLPModel:            "gemini-1.5-flash",
		SummaryEngine:       "textrank",
		SummarySentences:    5,
		OCRLanguages:        []string{"spa", "eng"},
		OCRDPI:              300,
		OCRConcurrency:      2,
		MinNativeChars:      20,
		ProcessingTimeoutMs: 300000, // 5 minutes
		LogLevel:            "info",
		LogFormat:           "console",
	}
}

// LoadConfig loads configuration from the optional YAML file at path and
// the environment
func LoadConfig(path string) (*Config, error) {
	return load(path, false)
}

// LoadOfflineConfig is LoadConfig with TEST_MODE forced on, for commands
// that never touch the broker or object storage
func LoadOfflineConfig(path string) (*Config, error) {
	return load(path, true)
}

func load(path string, offline bool) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	cfg.applyEnv()
	if offline {
		cfg.TestMode = true
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

func (c *Config) applyEnv() {
	c.QueueBackend = QueueBackend(strings.ToLower(getEnvOrDefault("QUEUE_BACKEND", string(c.QueueBackend))))
	c.RedisURL = getEnvOrDefault("REDIS_URL", c.RedisURL)
	c.QueueName = getEnvOrDefault("QUEUE_NAME", c.QueueName)
	c.Prefetch = getEnvAsIntOrDefault("PREFETCH", c.Prefetch)
	c.MaxConnectionErrors = getEnvAsIntOrDefault("MAX_CONNECTION_ERRORS", c.MaxConnectionErrors)
	c.RootPath = getEnvOrDefault("ROOT_PATH", c.RootPath)
	c.PDFInputPath = getEnvOrDefault("PDF_INPUT_PATH", c.PDFInputPath)
	c.JSONOutputPath = getEnvOrDefault("JSON_OUTPUT_PATH", c.JSONOutputPath)
	c.OnMissingFile = MissingFilePolicy(strings.ToLower(getEnvOrDefault("ON_MISSING_FILE", string(c.OnMissingFile))))
	c.NackRequeue = getEnvAsBoolOrDefault("NACK_REQUEUE", c.NackRequeue)
	c.ObjectBucket = getEnvOrDefault("OBJECT_BUCKET", c.ObjectBucket)
	c.ObjectPrefix = getEnvOrDefault("OBJECT_PREFIX", c.ObjectPrefix)
	c.GCPProject = getEnvOrDefault("GCP_PROJECT", c.GCPProject)
	c.GCPRegion = getEnvOrDefault("GCP_REGION", c.GCPRegion)
	c.NLPModel = getEnvOrDefault("NLP_MODEL", c.NLPModel)
	c.TestMode = getEnvAsBoolOrDefault("TEST_MODE", c.TestMode)
	c.DatabaseURL = getEnvOrDefault("DATABASE_URL", c.DatabaseURL)
	c.SummaryEngine = strings.ToLower(getEnvOrDefault("SUMMARY_ENGINE", c.SummaryEngine))
	c.SummarySentences = getEnvAsIntOrDefault("SUMMARY_SENTENCES", c.SummarySentences)
	if langs := os.Getenv("OCR_LANGUAGES"); langs != "" {
		c.OCRLanguages = splitList(langs)
	}
	c.OCRDPI = getEnvAsIntOrDefault("OCR_DPI", c.OCRDPI)
	c.OCRConcurrency = getEnvAsIntOrDefault("OCR_CONCURRENCY", c.OCRConcurrency)
	c.MinNativeChars = getEnvAsIntOrDefault("MIN_NATIVE_CHARS", c.MinNativeChars)
	c.MaxPages = getEnvAsIntOrDefault("MAX_PAGES", c.MaxPages)
	c.ProcessingTimeoutMs = getEnvAsInt64OrDefault("PROCESSING_TIMEOUT_MS", c.ProcessingTimeoutMs)
	c.LogLevel = getEnvOrDefault("LOG_LEVEL", c.LogLevel)
	c.LogFormat = getEnvOrDefault("LOG_FORMAT", c.LogFormat)
}

// Validate checks if configuration is valid
func (c *Config) Validate() error {
	switch c.QueueBackend {
	case BackendRedis, BackendAsynq:
	default:
		return apperrors.NewConfigError("QUEUE_BACKEND", fmt.Sprintf("must be redis or asynq, got %q", c.QueueBackend))
	}

	if !c.TestMode && c.RedisURL == "" {
		return apperrors.NewConfigError("REDIS_URL", "is required")
	}

	if c.QueueName == "" {
		return apperrors.NewConfigError("QUEUE_NAME", "is required")
	}

	if c.Prefetch < 1 || c.Prefetch > 100 {
		return apperrors.NewConfigError("PREFETCH", fmt.Sprintf("must be between 1 and 100, got %d", c.Prefetch))
	}

	if c.MaxConnectionErrors < 1 {
		return apperrors.NewConfigError("MAX_CONNECTION_ERRORS", fmt.Sprintf("must be at least 1, got %d", c.MaxConnectionErrors))
	}

	switch c.OnMissingFile {
	case MissingFileNack, MissingFileAckSkip:
	default:
		return apperrors.NewConfigError("ON_MISSING_FILE", fmt.Sprintf("must be nack or ack_skip, got %q", c.OnMissingFile))
	}

	if !c.TestMode && c.ObjectBucket == "" {
		return apperrors.NewConfigError("OBJECT_BUCKET", "is required unless TEST_MODE is enabled")
	}

	if c.JSONOutputPath == "" {
		return apperrors.NewConfigError("JSON_OUTPUT_PATH", "is required")
	}

	switch c.SummaryEngine {
	case "textrank", "frequency":
	case "keyphrases":
		if !c.NLPEnabled() {
			return apperrors.NewConfigError("SUMMARY_ENGINE", "keyphrases requires GCP_PROJECT")
		}
	default:
		return apperrors.NewConfigError("SUMMARY_ENGINE", fmt.Sprintf("must be textrank, frequency or keyphrases, got %q", c.SummaryEngine))
	}

	if c.SummarySentences < 1 || c.SummarySentences > 50 {
		return apperrors.NewConfigError("SUMMARY_SENTENCES", fmt.Sprintf("must be between 1 and 50, got %d", c.SummarySentences))
	}

	if c.OCRDPI < 72 || c.OCRDPI > 600 {
		return apperrors.NewConfigError("OCR_DPI", fmt.Sprintf("must be between 72 and 600, got %d", c.OCRDPI))
	}

	if c.OCRConcurrency < 1 {
		return apperrors.NewConfigError("OCR_CONCURRENCY", fmt.Sprintf("must be at least 1, got %d", c.OCRConcurrency))
	}

	if c.MinNativeChars < 0 || c.MaxPages < 0 {
		return apperrors.NewConfigError("MIN_NATIVE_CHARS", "page thresholds cannot be negative")
	}

	if c.ProcessingTimeoutMs < 1000 {
		return apperrors.NewConfigError("PROCESSING_TIMEOUT_MS", fmt.Sprintf("must be at least 1000, got %d", c.ProcessingTimeoutMs))
	}

	return nil
}

// NLPEnabled reports whether the cloud entity service should be wired
func (c *Config) NLPEnabled() bool {
	return c.GCPProject != "" && c.GCPRegion != ""
}

// getEnvOrDefault gets environment variable or returns default
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsIntOrDefault gets environment variable as int or returns default
func getEnvAsIntOrDefault(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}

	return value
}

// getEnvAsInt64OrDefault gets environment variable as int64 or returns default
func getEnvAsInt64OrDefault(key string, defaultValue int64) int64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseInt(valueStr, 10, 64)
	if err != nil {
		return defaultValue
	}

	return value
}

// getEnvAsBoolOrDefault accepts 1/true/yes/on as true and 0/false/no/off as false
func getEnvAsBoolOrDefault(key string, defaultValue bool) bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv(key))) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return defaultValue
	}
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == '+' || r == ' ' }) {
		out = append(out, part)
	}
	return out
}
