/**
 * Configuration for the extraction pipeline.
 *
 * Loads configuration from environment variables, matching the keys
 * described in spec.md §6.
 */

package config

import (
	"fmt"
	"os"
	"strconv"
)

// Config holds process-wide configuration for the cache, template store,
// LLM client, parser, and batch scheduler.
type Config struct {
	// Cache
	CacheL1Capacity int
	CacheL2Dir      string
	CacheL2MaxBytes int64

	// Template store
	TemplateSimilarityThreshold float64
	TemplateConfidenceThreshold float64
	TemplateMinSamples          int
	TemplateDBPath              string

	// Batch scheduler
	BatchMaxWorkers int

	// LLM
	LLMTimeoutSeconds int
	LLMMaxRetries     int
	GoogleAPIKey      string

	// Parser
	ParserTimeoutSeconds int

	// Process environment
	Env string
}

// LoadConfig loads configuration from environment variables.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		CacheL1Capacity:             getEnvAsIntOrDefault("CACHE_L1_CAPACITY", 100),
		CacheL2Dir:                  getEnvOrDefault("CACHE_L2_DIR", "./data/cache"),
		CacheL2MaxBytes:             getEnvAsInt64OrDefault("CACHE_L2_MAX_BYTES", 1<<30), // 1GiB
		TemplateSimilarityThreshold: getEnvAsFloatOrDefault("TEMPLATE_SIMILARITY_THRESHOLD", 0.70),
		TemplateConfidenceThreshold: getEnvAsFloatOrDefault("TEMPLATE_CONFIDENCE_THRESHOLD", 0.80),
		TemplateMinSamples:          getEnvAsIntOrDefault("TEMPLATE_MIN_SAMPLES", 2),
		TemplateDBPath:              getEnvOrDefault("TEMPLATE_DB_PATH", "./data/templates.db"),
		BatchMaxWorkers:             getEnvAsIntOrDefault("BATCH_MAX_WORKERS", 0), // 0 => runtime.NumCPU()
		LLMTimeoutSeconds:           getEnvAsIntOrDefault("LLM_TIMEOUT_S", 120),
		LLMMaxRetries:               getEnvAsIntOrDefault("LLM_MAX_RETRIES", 1),
		GoogleAPIKey:                getEnvOrDefault("GOOGLE_API_KEY", ""),
		ParserTimeoutSeconds:        getEnvAsIntOrDefault("PARSER_TIMEOUT_S", 30),
		Env:                         getEnvOrDefault("ENV", "development"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks that configuration values are within acceptable ranges.
func (c *Config) Validate() error {
	if c.CacheL1Capacity < 1 {
		return fmt.Errorf("CACHE_L1_CAPACITY must be at least 1, got %d", c.CacheL1Capacity)
	}

	if c.CacheL2Dir == "" {
		return fmt.Errorf("CACHE_L2_DIR is required")
	}

	if c.CacheL2MaxBytes < 1024 {
		return fmt.Errorf("CACHE_L2_MAX_BYTES must be at least 1KB, got %d", c.CacheL2MaxBytes)
	}

	if c.TemplateSimilarityThreshold <= 0 || c.TemplateSimilarityThreshold > 1 {
		return fmt.Errorf("TEMPLATE_SIMILARITY_THRESHOLD must be in (0,1], got %f", c.TemplateSimilarityThreshold)
	}

	if c.TemplateConfidenceThreshold <= 0 || c.TemplateConfidenceThreshold > 1 {
		return fmt.Errorf("TEMPLATE_CONFIDENCE_THRESHOLD must be in (0,1], got %f", c.TemplateConfidenceThreshold)
	}

	if c.TemplateMinSamples < 1 {
		return fmt.Errorf("TEMPLATE_MIN_SAMPLES must be at least 1, got %d", c.TemplateMinSamples)
	}

	if c.BatchMaxWorkers < 0 {
		return fmt.Errorf("BATCH_MAX_WORKERS must be >= 0, got %d", c.BatchMaxWorkers)
	}

	if c.LLMTimeoutSeconds < 1 || c.LLMTimeoutSeconds > 120 {
		return fmt.Errorf("LLM_TIMEOUT_S must be between 1 and 120, got %d", c.LLMTimeoutSeconds)
	}

	if c.LLMMaxRetries < 0 || c.LLMMaxRetries > 5 {
		return fmt.Errorf("LLM_MAX_RETRIES must be between 0 and 5, got %d", c.LLMMaxRetries)
	}

	if c.ParserTimeoutSeconds < 1 || c.ParserTimeoutSeconds > 30 {
		return fmt.Errorf("PARSER_TIMEOUT_S must be between 1 and 30, got %d", c.ParserTimeoutSeconds)
	}

	return nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

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
