package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("Unexpected error for missing file: %v", err)
	}

	if cfg.Server.Port != 5001 {
		t.Errorf("Expected default port 5001, got %d", cfg.Server.Port)
	}
	if cfg.Server.MaxUploadMB != 100 {
		t.Errorf("Expected default upload limit 100, got %d", cfg.Server.MaxUploadMB)
	}
	if cfg.Mineru.BaseURL != "https://mineru.net" {
		t.Errorf("Expected default base URL, got '%s'", cfg.Mineru.BaseURL)
	}
	if cfg.Mineru.TimeoutSeconds != 600 {
		t.Errorf("Expected default timeout 600, got %d", cfg.Mineru.TimeoutSeconds)
	}
	if cfg.Mineru.PollIntervalSeconds != 5 {
		t.Errorf("Expected default poll interval 5, got %d", cfg.Mineru.PollIntervalSeconds)
	}
	if cfg.Mineru.MaxPages != 50 {
		t.Errorf("Expected default max pages 50, got %d", cfg.Mineru.MaxPages)
	}
	if !cfg.Mineru.FormulaEnabled() {
		t.Error("Expected formula recognition to default to on")
	}
	if cfg.Store.MaxJobs != 100 {
		t.Errorf("Expected default max jobs 100, got %d", cfg.Store.MaxJobs)
	}
}

func TestLoadFromFile(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 8080
mineru:
  api_key: file-key
  base_url: https://mineru.example/
  timeout_seconds: 120
  enable_formula: false
users:
  - username: alice
    password: secret
    tenant: lab
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	if cfg.Server.Port != 8080 {
		t.Errorf("Expected port 8080, got %d", cfg.Server.Port)
	}
	if cfg.Mineru.APIKey != "file-key" {
		t.Errorf("Expected api key from file, got '%s'", cfg.Mineru.APIKey)
	}
	// Trailing slash is stripped
	if cfg.Mineru.BaseURL != "https://mineru.example" {
		t.Errorf("Expected trimmed base URL, got '%s'", cfg.Mineru.BaseURL)
	}
	if cfg.Mineru.TimeoutSeconds != 120 {
		t.Errorf("Expected timeout 120, got %d", cfg.Mineru.TimeoutSeconds)
	}
	if cfg.Mineru.FormulaEnabled() {
		t.Error("Expected formula recognition disabled")
	}

	user := cfg.FindUser("alice")
	if user == nil || user.Tenant != "lab" {
		t.Errorf("Expected user alice in tenant lab, got %+v", user)
	}
	if cfg.FindUser("bob") != nil {
		t.Error("Expected nil for unknown user")
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	path := writeConfig(t, `
mineru:
  api_key: file-key
  timeout_seconds: 120
`)

	t.Setenv("MINERU_API_KEY", "env-key")
	t.Setenv("MINERU_TIMEOUT", "300")
	t.Setenv("MINERU_POLL_INTERVAL", "2")
	t.Setenv("OCR_MAX_PAGES", "25")
	t.Setenv("OCR_SERVICE_PORT", "9000")
	t.Setenv("LOG_LEVEL", "DEBUG")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	if cfg.Mineru.APIKey != "env-key" {
		t.Errorf("Expected environment to win, got '%s'", cfg.Mineru.APIKey)
	}
	if cfg.Mineru.TimeoutSeconds != 300 {
		t.Errorf("Expected timeout 300, got %d", cfg.Mineru.TimeoutSeconds)
	}
	if cfg.Mineru.PollIntervalSeconds != 2 {
		t.Errorf("Expected poll interval 2, got %d", cfg.Mineru.PollIntervalSeconds)
	}
	if cfg.Mineru.MaxPages != 25 {
		t.Errorf("Expected max pages 25, got %d", cfg.Mineru.MaxPages)
	}
	if cfg.Server.Port != 9000 {
		t.Errorf("Expected port 9000, got %d", cfg.Server.Port)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("Expected log level 'debug', got '%s'", cfg.Log.Level)
	}
}

func TestLoadInvalidEnvIgnored(t *testing.T) {
	t.Setenv("MINERU_TIMEOUT", "not-a-number")

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if cfg.Mineru.TimeoutSeconds != 600 {
		t.Errorf("Expected invalid env value to fall back to default, got %d", cfg.Mineru.TimeoutSeconds)
	}
}

func TestLoadInvalidYAML(t *testing.T) {
	path := writeConfig(t, "server: [not a mapping")

	if _, err := Load(path); err == nil {
		t.Error("Expected error for invalid YAML")
	}
}

func TestMineruConfigDurations(t *testing.T) {
	cfg := &MineruConfig{TimeoutSeconds: 600, PollIntervalSeconds: 5}

	if cfg.Timeout().Seconds() != 600 {
		t.Errorf("Expected 600s timeout, got %v", cfg.Timeout())
	}
	if cfg.PollInterval().Seconds() != 5 {
		t.Errorf("Expected 5s poll interval, got %v", cfg.PollInterval())
	}
}

func TestMinioConfigEnabled(t *testing.T) {
	cfg := &MinioConfig{}
	if cfg.Enabled() {
		t.Error("Expected archival disabled without endpoint")
	}
	cfg.Endpoint = "minio.local:9000"
	if !cfg.Enabled() {
		t.Error("Expected archival enabled with endpoint")
	}
}
