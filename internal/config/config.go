/**
 * Configuration for the document verification worker
 *
 * Loads configuration from environment variables (optionally seeded from
 * an env file by cmd/worker through godotenv).
 */

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Queue backends understood by cmd/worker.
const (
	QueueBackendRedis = "redis"
	QueueBackendAsynq = "asynq"
)

// Config holds worker configuration
type Config struct {
	// Redis configuration
	RedisURL string

	// PostgreSQL configuration
	DatabaseURL string

	// Service URLs
	FileProcessAPIURL string // FileProcess API for document artifacts

	// Queue configuration
	QueueBackend      string
	QueueName         string
	ProvisioningQueue string // asynq queue / Redis channel for organization:verified
	MaxRetries        int

	// Worker configuration
	WorkerConcurrency int
	MaxFileSize       int64
	ProcessingTimeout int // milliseconds

	// Rasterization and OCR
	PdftoppmPath string
	RasterDPI    int
	OCRLanguages []string
	TempDir      string
	DebugDir     string

	// Similarity thresholds
	ExactThreshold   float64
	NearThreshold    float64
	PartialThreshold float64

	// HTTP surface
	HTTPAddr string

	LogLevel string
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{
		RedisURL:          getEnvOrDefault("REDIS_URL", "redis://nexus-redis:6379"),
		DatabaseURL:       getEnvOrDefault("DATABASE_URL", ""),
		FileProcessAPIURL: getEnvOrDefault("FILEPROCESS_API_URL", "http://nexus-fileprocess-api:8096"),
		QueueBackend:      strings.ToLower(getEnvOrDefault("QUEUE_BACKEND", QueueBackendRedis)),
		QueueName:         getEnvOrDefault("QUEUE_NAME", "docverify:jobs"),
		ProvisioningQueue: os.Getenv("PROVISIONING_QUEUE"),
		MaxRetries:        getEnvAsIntOrDefault("MAX_RETRIES", 3),
		WorkerConcurrency: getEnvAsIntOrDefault("WORKER_CONCURRENCY", 4),
		MaxFileSize:       getEnvAsInt64OrDefault("MAX_FILE_SIZE", 20971520), // 20MB
		ProcessingTimeout: getEnvAsIntOrDefault("PROCESSING_TIMEOUT", 300000), // 5 minutes
		PdftoppmPath:      getEnvOrDefault("PDFTOPPM_PATH", "pdftoppm"),
		RasterDPI:         getEnvAsIntOrDefault("RASTER_DPI", 300),
		OCRLanguages:      splitLanguages(getEnvOrDefault("OCR_LANGUAGES", "ara+eng")),
		TempDir:           getEnvOrDefault("TEMP_DIR", os.TempDir()),
		DebugDir:          getEnvOrDefault("DEBUG_DIR", ""),
		ExactThreshold:    getEnvAsFloatOrDefault("VERIFY_EXACT_THRESHOLD", 1.0),
		NearThreshold:     getEnvAsFloatOrDefault("VERIFY_NEAR_THRESHOLD", 0.8),
		PartialThreshold:  getEnvAsFloatOrDefault("VERIFY_PARTIAL_THRESHOLD", 0.6),
		HTTPAddr:          getEnvOrDefault("HTTP_ADDR", ":8098"),
		LogLevel:          getEnvOrDefault("LOG_LEVEL", "info"),
	}

	if cfg.ProvisioningQueue == "" {
		cfg.ProvisioningQueue = cfg.QueueName + ":provisioning"
	}

	// Validate required fields
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

	if c.QueueBackend != QueueBackendRedis && c.QueueBackend != QueueBackendAsynq {
		return fmt.Errorf("QUEUE_BACKEND must be %q or %q, got %q", QueueBackendRedis, QueueBackendAsynq, c.QueueBackend)
	}

	if c.ProvisioningQueue != "" && c.ProvisioningQueue == c.QueueName {
		return fmt.Errorf("PROVISIONING_QUEUE must differ from QUEUE_NAME")
	}

	if c.WorkerConcurrency < 1 || c.WorkerConcurrency > 100 {
		return fmt.Errorf("WORKER_CONCURRENCY must be between 1 and 100, got %d", c.WorkerConcurrency)
	}

	if c.MaxFileSize < 1024 || c.MaxFileSize > 1073741824 { // 1KB to 1GB
		return fmt.Errorf("MAX_FILE_SIZE must be between 1KB and 1GB, got %d", c.MaxFileSize)
	}

	if c.ProcessingTimeout < 1000 {
		return fmt.Errorf("PROCESSING_TIMEOUT must be at least 1000ms, got %d", c.ProcessingTimeout)
	}

	if c.RasterDPI < 72 || c.RasterDPI > 1200 {
		return fmt.Errorf("RASTER_DPI must be between 72 and 1200, got %d", c.RasterDPI)
	}

	if len(c.OCRLanguages) == 0 {
		return fmt.Errorf("OCR_LANGUAGES must name at least one language")
	}

	if c.MaxRetries < 0 {
		return fmt.Errorf("MAX_RETRIES must not be negative, got %d", c.MaxRetries)
	}

	return c.validateThresholds()
}

func (c *Config) validateThresholds() error {
	for name, v := range map[string]float64{
		"VERIFY_EXACT_THRESHOLD":   c.ExactThreshold,
		"VERIFY_NEAR_THRESHOLD":    c.NearThreshold,
		"VERIFY_PARTIAL_THRESHOLD": c.PartialThreshold,
	} {
		if v < 0 || v > 1 {
			return fmt.Errorf("%s must be within [0, 1], got %v", name, v)
		}
	}
	if !(c.PartialThreshold <= c.NearThreshold && c.NearThreshold <= c.ExactThreshold) {
		return fmt.Errorf("thresholds must satisfy partial <= near <= exact, got %v/%v/%v",
			c.PartialThreshold, c.NearThreshold, c.ExactThreshold)
	}
	return nil
}

// splitLanguages accepts both the Tesseract "ara+eng" form and comma lists.
func splitLanguages(v string) []string {
	fields := strings.FieldsFunc(v, func(r rune) bool {
		return r == '+' || r == ',' || r == ' '
	})
	return fields
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

func getEnvAsFloatOrDefault(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}

	return value
}
