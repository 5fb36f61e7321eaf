package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config carries everything the service reads from the environment at startup.
type Config struct {
	NeonConnectionString string
	AuthAPIURL           string
	RetroAPIURL          string
	APIUsername          string
	APIPassword          string
	NeonTable            string
	BatchSize            int
	MaxRecords           int
	LogLevel             string
	HTTPAddr             string
	HTTPTimeout          time.Duration
}

// New reads the configuration from environment variables. The connection
// string and both API URLs are mandatory; everything else has defaults.
func New() (*Config, error) {
	cfg := &Config{
		NeonConnectionString: os.Getenv("NEON_CONNECTION_STRING"),
		AuthAPIURL:           os.Getenv("AUTH_API_URL"),
		RetroAPIURL:          os.Getenv("RETRO_API_URL"),
		APIUsername:          os.Getenv("API_USERNAME"),
		APIPassword:          os.Getenv("API_PASSWORD"),
		NeonTable:            getEnv("NEON_TABLE", "invoices"),
		LogLevel:             getEnv("LOG_LEVEL", "info"),
		HTTPAddr:             getEnv("HTTP_ADDR", ":8080"),
	}

	if cfg.NeonConnectionString == "" {
		return nil, fmt.Errorf("NEON_CONNECTION_STRING environment variable is not set")
	}
	if cfg.AuthAPIURL == "" {
		return nil, fmt.Errorf("AUTH_API_URL environment variable is not set")
	}
	if cfg.RetroAPIURL == "" {
		cfg.RetroAPIURL = cfg.AuthAPIURL
	}

	var err error
	cfg.BatchSize, err = getEnvAsInt("BATCH_SIZE", 50)
	if err != nil {
		return nil, err
	}
	if cfg.BatchSize <= 0 {
		return nil, fmt.Errorf("BATCH_SIZE must be positive, got %d", cfg.BatchSize)
	}

	cfg.MaxRecords, err = getEnvAsInt("MAX_RECORDS", 0)
	if err != nil {
		return nil, err
	}
	if cfg.MaxRecords < 0 {
		return nil, fmt.Errorf("MAX_RECORDS must not be negative, got %d", cfg.MaxRecords)
	}

	timeoutSec, err := getEnvAsInt("HTTP_TIMEOUT_SECONDS", 30)
	if err != nil {
		return nil, err
	}
	if timeoutSec <= 0 {
		return nil, fmt.Errorf("HTTP_TIMEOUT_SECONDS must be positive, got %d", timeoutSec)
	}
	cfg.HTTPTimeout = time.Duration(timeoutSec) * time.Second

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) (int, error) {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue, nil
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return 0, fmt.Errorf("invalid value for %s: expected an integer, got '%s'", key, valueStr)
	}
	return value, nil
}
