package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds all application configuration
type Config struct {
	Data     DataConfig
	Server   ServerConfig
	Gemini   GeminiConfig
	GCS      GCSConfig
	BigQuery BigQueryConfig
	Extract  ExtractConfig
}

// DataConfig holds file locations for the ledger and the anomaly report
type DataConfig struct {
	Dir        string
	LedgerPath string
	ReportPath string
	SecretsDir string
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port string
}

// GeminiConfig holds model-related configuration
type GeminiConfig struct {
	Model   string
	Timeout time.Duration
}

// GCSConfig holds the optional document-source bucket configuration
type GCSConfig struct {
	Bucket string
	Prefix string
}

// BigQueryConfig holds the optional ledger-mirror table configuration
type BigQueryConfig struct {
	ProjectID string
	Dataset   string
	Table     string
}

// ExtractConfig holds PDF text extraction configuration
type ExtractConfig struct {
	PdftotextBin string
	SpikeThresh  float64
}

// Load loads configuration from environment variables
func Load() *Config {
	dataDir := getEnv("OPS_DATA_DIR", "data")
	return &Config{
		Data: DataConfig{
			Dir:        dataDir,
			LedgerPath: getEnv("OPS_LEDGER_FILE", dataDir+"/master_ops_log.csv"),
			ReportPath: getEnv("OPS_REPORT_FILE", dataDir+"/anomalies_report.json"),
			SecretsDir: getEnv("OPS_SECRETS_DIR", ".secrets"),
		},
		Server: ServerConfig{
			Port: getEnv("PORT", "8080"),
		},
		Gemini: GeminiConfig{
			Model:   getEnv("GEMINI_MODEL", "gemini-2.5-flash"),
			Timeout: getEnvAsDuration("GEMINI_TIMEOUT", 90*time.Second),
		},
		GCS: GCSConfig{
			Bucket: getEnv("GCS_BUCKET", ""),
			Prefix: getEnv("GCS_PREFIX", "invoices/"),
		},
		BigQuery: BigQueryConfig{
			ProjectID: getEnv("BQ_PROJECT", ""),
			Dataset:   getEnv("BQ_DATASET", "ops"),
			Table:     getEnv("BQ_TABLE", "invoice_records"),
		},
		Extract: ExtractConfig{
			PdftotextBin: getEnv("PDFTOTEXT_BIN", "pdftotext"),
			SpikeThresh:  getEnvAsFloat64("OPS_SPIKE_THRESHOLD", 0.20),
		},
	}
}

// Helper functions for environment variable parsing
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsFloat64(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
