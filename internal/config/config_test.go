package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("DB_SOURCE", "memory")
	t.Setenv("CLASSIFIER", "stub")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Port != "8080" || cfg.Env != "development" {
		t.Errorf("server defaults = %s/%s", cfg.Port, cfg.Env)
	}
	if cfg.StartingCredits != 1 || cfg.CreditCost != 1 || cfg.DefaultCountryCode != "39" {
		t.Errorf("credit defaults = %+v", cfg)
	}
	if cfg.MaxUploadBytes != 12<<20 {
		t.Errorf("MaxUploadBytes = %d", cfg.MaxUploadBytes)
	}
	if cfg.ExtractTextPages != 3 || cfg.ExtractRasterPages != 2 || cfg.ExtractRasterDPI != 200 || cfg.ExtractMinChars != 30 {
		t.Errorf("extract defaults = %+v", cfg)
	}
	if cfg.OCRLanguage != "ita" || cfg.OpenAIModel != "gpt-4.1-mini" || cfg.ClassifyTimeout != time.Minute {
		t.Errorf("capability defaults = %+v", cfg)
	}
	if cfg.AdminKey != "" || cfg.KeepDiagnosticDrafts {
		t.Errorf("admin/diagnostic defaults = %+v", cfg)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("DB_SOURCE", "postgres://localhost/docledger")
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("STARTING_CREDITS", "3")
	t.Setenv("CREDIT_COST", "2")
	t.Setenv("EXTRACT_RASTER_DPI", "220")
	t.Setenv("CLASSIFY_TIMEOUT", "15s")
	t.Setenv("KEEP_DIAGNOSTIC_DRAFTS", "true")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.StartingCredits != 3 || cfg.CreditCost != 2 || cfg.ExtractRasterDPI != 220 {
		t.Errorf("overrides = %+v", cfg)
	}
	if cfg.ClassifyTimeout != 15*time.Second || !cfg.KeepDiagnosticDrafts {
		t.Errorf("overrides = %+v", cfg)
	}
}

func TestLoadErrors(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"missing db", map[string]string{"DB_SOURCE": "", "CLASSIFIER": "stub"}},
		{"missing openai key", map[string]string{"DB_SOURCE": "memory", "CLASSIFIER": "openai", "OPENAI_API_KEY": ""}},
		{"bad int", map[string]string{"DB_SOURCE": "memory", "CLASSIFIER": "stub", "CREDIT_COST": "one"}},
		{"zero cost", map[string]string{"DB_SOURCE": "memory", "CLASSIFIER": "stub", "CREDIT_COST": "0"}},
		{"negative start", map[string]string{"DB_SOURCE": "memory", "CLASSIFIER": "stub", "STARTING_CREDITS": "-1"}},
		{"bad duration", map[string]string{"DB_SOURCE": "memory", "CLASSIFIER": "stub", "CLASSIFY_TIMEOUT": "soon"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			if _, err := Load(); err == nil {
				t.Fatal("expected an error")
			}
		})
	}
}
