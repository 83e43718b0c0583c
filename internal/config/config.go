package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// MemoryDBSource selects the in-process store instead of Postgres.
const MemoryDBSource = "memory"

// StubClassifier selects the built-in static classifier.
const StubClassifier = "stub"

type Config struct {
	DBSource string
	Port     string
	Env      string

	StartingCredits    int64
	CreditCost         int64
	DefaultCountryCode string
	AdminKey           string
	MaxUploadBytes     int64

	ExtractTextPages   int
	ExtractRasterPages int
	ExtractRasterDPI   int
	ExtractMinChars    int
	OCRLanguage        string

	Classifier      string
	OpenAIAPIKey    string
	OpenAIModel     string
	OpenAIBaseURL   string
	ClassifyTimeout time.Duration

	KeepDiagnosticDrafts bool
}

func Load() (*Config, error) {
	dbSource := os.Getenv("DB_SOURCE")
	if dbSource == "" {
		return nil, fmt.Errorf("DB_SOURCE environment variable is required")
	}

	cfg := &Config{
		DBSource:           dbSource,
		Port:               getString("SERVER_PORT", "8080"),
		Env:                getString("ENVIRONMENT", "development"),
		DefaultCountryCode: getString("DEFAULT_COUNTRY_CODE", "39"),
		AdminKey:           os.Getenv("ADMIN_KEY"),
		OCRLanguage:        getString("OCR_LANGUAGE", "ita"),
		Classifier:         getString("CLASSIFIER", "openai"),
		OpenAIAPIKey:       os.Getenv("OPENAI_API_KEY"),
		OpenAIModel:        getString("OPENAI_MODEL", "gpt-4.1-mini"),
		OpenAIBaseURL:      os.Getenv("OPENAI_BASE_URL"),
	}

	var err error
	if cfg.StartingCredits, err = getInt64("STARTING_CREDITS", 1); err != nil {
		return nil, err
	}
	if cfg.CreditCost, err = getInt64("CREDIT_COST", 1); err != nil {
		return nil, err
	}
	if cfg.MaxUploadBytes, err = getInt64("MAX_UPLOAD_BYTES", 12<<20); err != nil {
		return nil, err
	}
	if cfg.ExtractTextPages, err = getInt("EXTRACT_TEXT_PAGES", 3); err != nil {
		return nil, err
	}
	if cfg.ExtractRasterPages, err = getInt("EXTRACT_RASTER_PAGES", 2); err != nil {
		return nil, err
	}
	if cfg.ExtractRasterDPI, err = getInt("EXTRACT_RASTER_DPI", 200); err != nil {
		return nil, err
	}
	if cfg.ExtractMinChars, err = getInt("EXTRACT_MIN_CHARS", 30); err != nil {
		return nil, err
	}
	if cfg.ClassifyTimeout, err = getDuration("CLASSIFY_TIMEOUT", 60*time.Second); err != nil {
		return nil, err
	}
	if cfg.KeepDiagnosticDrafts, err = getBool("KEEP_DIAGNOSTIC_DRAFTS", false); err != nil {
		return nil, err
	}

	if cfg.StartingCredits < 0 {
		return nil, fmt.Errorf("STARTING_CREDITS must not be negative")
	}
	if cfg.CreditCost <= 0 {
		return nil, fmt.Errorf("CREDIT_COST must be positive")
	}
	if cfg.MaxUploadBytes <= 0 {
		return nil, fmt.Errorf("MAX_UPLOAD_BYTES must be positive")
	}
	if cfg.Classifier != StubClassifier && cfg.OpenAIAPIKey == "" {
		return nil, fmt.Errorf("OPENAI_API_KEY environment variable is required unless CLASSIFIER=%s", StubClassifier)
	}

	return cfg, nil
}

func getString(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getInt64(key string, def int64) (int64, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}

func getInt(key string, def int) (int, error) {
	n, err := getInt64(key, int64(def))
	return int(n), err
}

func getDuration(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}

func getBool(key string, def bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("%s: %w", key, err)
	}
	return b, nil
}
