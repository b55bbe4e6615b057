/**
 * Configuration for the document extraction worker.
 *
 * Loaded from environment variables (optionally seeded from a .env file by
 * the entrypoint).
 */

package config

import (
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"
)

// Config holds worker configuration
type Config struct {
	// Redis configuration (task queue + status reporting)
	RedisURL string

	// PostgreSQL configuration (job and result persistence)
	DatabaseURL string

	// S3-compatible artifact storage
	S3Endpoint  string
	S3AccessKey string
	S3SecretKey string
	S3Bucket    string
	S3Region    string
	S3UseSSL    bool

	// Worker configuration
	WorkerConcurrency int
	ProcessingTimeout int // per-document budget in milliseconds
	MaxFileSize       int64

	// Extraction defaults (overridable per submission)
	DPI                int
	Languages          []string
	MaxPageParallelism int
	PageTimeoutMs      int

	// OCR engine selection: "tesseract" (local) or "remote" (HTTP service)
	OCREngine    string
	RemoteOCRURL string

	// Poppler tooling used by the rasterizer
	PdftoppmPath string
	PdfinfoPath  string

	// Temporary directory for rasterized page images
	TempDir string
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{
		RedisURL:           getEnvOrDefault("REDIS_URL", "redis://localhost:6379"),
		DatabaseURL:        getEnvOrDefault("DATABASE_URL", ""),
		S3Endpoint:         getEnvOrDefault("S3_ENDPOINT", ""),
		S3AccessKey:        getEnvOrDefault("S3_ACCESS_KEY", ""),
		S3SecretKey:        getEnvOrDefault("S3_SECRET_KEY", ""),
		S3Bucket:           getEnvOrDefault("S3_BUCKET", "docextract"),
		S3Region:           getEnvOrDefault("S3_REGION", "us-east-1"),
		S3UseSSL:           getEnvAsBoolOrDefault("S3_USE_SSL", false),
		WorkerConcurrency:  getEnvAsIntOrDefault("WORKER_CONCURRENCY", runtime.NumCPU()),
		ProcessingTimeout:  getEnvAsIntOrDefault("PROCESSING_TIMEOUT", 300000), // 5 minutes
		MaxFileSize:        getEnvAsInt64OrDefault("MAX_FILE_SIZE", 536870912), // 512MB
		DPI:                getEnvAsIntOrDefault("OCR_DPI", 300),
		Languages:          splitLanguages(getEnvOrDefault("OCR_LANGUAGES", "eng")),
		MaxPageParallelism: getEnvAsIntOrDefault("MAX_PAGE_PARALLELISM", runtime.NumCPU()),
		PageTimeoutMs:      getEnvAsIntOrDefault("PAGE_TIMEOUT_MS", 30000),
		OCREngine:          getEnvOrDefault("OCR_ENGINE", "tesseract"),
		RemoteOCRURL:       getEnvOrDefault("REMOTE_OCR_URL", ""),
		PdftoppmPath:       getEnvOrDefault("PDFTOPPM_PATH", "/usr/bin/pdftoppm"),
		PdfinfoPath:        getEnvOrDefault("PDFINFO_PATH", "/usr/bin/pdfinfo"),
		TempDir:            getEnvOrDefault("TEMP_DIR", os.TempDir()),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks if configuration is valid
func (c *Config) Validate() error {
	if c.RedisURL == "" {
		return fmt.Errorf("REDIS_URL is required")
	}

	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}

	if c.WorkerConcurrency < 1 || c.WorkerConcurrency > 100 {
		return fmt.Errorf("WORKER_CONCURRENCY must be between 1 and 100, got %d", c.WorkerConcurrency)
	}

	if c.MaxPageParallelism < 1 || c.MaxPageParallelism > 100 {
		return fmt.Errorf("MAX_PAGE_PARALLELISM must be between 1 and 100, got %d", c.MaxPageParallelism)
	}

	if c.DPI < 72 || c.DPI > 1200 {
		return fmt.Errorf("OCR_DPI must be between 72 and 1200, got %d", c.DPI)
	}

	if c.PageTimeoutMs < 1000 {
		return fmt.Errorf("PAGE_TIMEOUT_MS must be at least 1000, got %d", c.PageTimeoutMs)
	}

	if c.MaxFileSize < 1024 || c.MaxFileSize > 10737418240 { // 1KB to 10GB
		return fmt.Errorf("MAX_FILE_SIZE must be between 1KB and 10GB, got %d", c.MaxFileSize)
	}

	if len(c.Languages) == 0 {
		return fmt.Errorf("OCR_LANGUAGES must name at least one language")
	}

	switch c.OCREngine {
	case "tesseract":
	case "remote":
		if c.RemoteOCRURL == "" {
			return fmt.Errorf("REMOTE_OCR_URL is required when OCR_ENGINE=remote")
		}
	default:
		return fmt.Errorf("OCR_ENGINE must be 'tesseract' or 'remote', got %q", c.OCREngine)
	}

	return nil
}

func splitLanguages(value string) []string {
	parts := strings.Split(value, ",")
	langs := make([]string, 0, len(parts))
	for _, p := range parts {
		if lang := strings.TrimSpace(p); lang != "" {
			langs = append(langs, lang)
		}
	}
	return langs
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

func getEnvAsBoolOrDefault(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}

	return value
}
