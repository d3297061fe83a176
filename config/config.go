package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server ServerConfig `yaml:"server"`
	Log    LogConfig    `yaml:"log"`
	Mineru MineruConfig `yaml:"mineru"`
	Minio  MinioConfig  `yaml:"minio"`
	Auth   AuthConfig   `yaml:"auth"`
	Store  StoreConfig  `yaml:"store"`
	Users  []User       `yaml:"users"`
}

type ServerConfig struct {
	Host        string `yaml:"host"`
	Port        int    `yaml:"port"`
	MaxUploadMB int    `yaml:"max_upload_mb"`
	RateLimit   int    `yaml:"rate_limit"` // requests per minute per IP, 0 = unlimited
}

type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}

// MineruConfig holds everything the extraction workflow needs. The values
// the workflow depends on (key, base URL, timeout, poll interval) can be
// overridden through MINERU_* environment variables.
type MineruConfig struct {
	APIKey              string `yaml:"api_key"`
	BaseURL             string `yaml:"base_url"`
	TimeoutSeconds      int    `yaml:"timeout_seconds"`
	PollIntervalSeconds int    `yaml:"poll_interval_seconds"`
	EnableFormula       *bool  `yaml:"enable_formula"`
	MaxPages            int    `yaml:"max_pages"`
	TempDir             string `yaml:"temp_dir"`
	ResultsDir          string `yaml:"results_dir"`
}

type MinioConfig struct {
	Endpoint   string `yaml:"endpoint"`
	AccessKey  string `yaml:"access_key"`
	SecretKey  string `yaml:"secret_key"`
	Bucket     string `yaml:"bucket"`
	UseSSL     bool   `yaml:"use_ssl"`
	ExpireDays int    `yaml:"expire_days"`
}

type AuthConfig struct {
	JWTSecret        string `yaml:"jwt_secret"`
	TokenExpireHours int    `yaml:"token_expire_hours"`
}

type StoreConfig struct {
	MaxJobs int `yaml:"max_jobs"`
}

type User struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Tenant   string `yaml:"tenant"`
}

// Enabled reports whether artifact archival is configured at all.
func (c *MinioConfig) Enabled() bool {
	return c.Endpoint != ""
}

func (c *MineruConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

func (c *MineruConfig) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalSeconds) * time.Second
}

// FormulaEnabled returns the formula-recognition flag, defaulting to on.
func (c *MineruConfig) FormulaEnabled() bool {
	if c.EnableFormula == nil {
		return true
	}
	return *c.EnableFormula
}

func Load(path string) (*Config, error) {
	var cfg Config

	data, err := os.ReadFile(path)
	if err != nil {
		// No config file is fine: run on defaults and environment only.
		if !os.IsNotExist(err) {
			return nil, err
		}
	} else {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, err
		}
	}

	cfg.applyEnv()
	cfg.applyDefaults()

	return &cfg, nil
}

// applyEnv layers the environment variables the service historically
// consumed on top of the file values.
func (c *Config) applyEnv() {
	if v := os.Getenv("MINERU_API_KEY"); v != "" {
		c.Mineru.APIKey = v
	}
	if v := os.Getenv("MINERU_BASE_URL"); v != "" {
		c.Mineru.BaseURL = v
	}
	if v := envInt("MINERU_TIMEOUT"); v > 0 {
		c.Mineru.TimeoutSeconds = v
	}
	if v := envInt("MINERU_POLL_INTERVAL"); v > 0 {
		c.Mineru.PollIntervalSeconds = v
	}
	if v := envInt("OCR_MAX_PAGES"); v > 0 {
		c.Mineru.MaxPages = v
	}
	if v := os.Getenv("OCR_TEMP_DIR"); v != "" {
		c.Mineru.TempDir = v
	}
	if v := os.Getenv("OCR_RESULTS_DIR"); v != "" {
		c.Mineru.ResultsDir = v
	}
	if v := envInt("OCR_SERVICE_PORT"); v > 0 {
		c.Server.Port = v
	} else if v := envInt("PORT"); v > 0 {
		c.Server.Port = v
	}
	if v := envInt("MAX_CONTENT_LENGTH"); v > 0 {
		c.Server.MaxUploadMB = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Log.Level = strings.ToLower(v)
	}
}

func (c *Config) applyDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 5001
	}
	if c.Server.MaxUploadMB == 0 {
		c.Server.MaxUploadMB = 100
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Mineru.BaseURL == "" {
		c.Mineru.BaseURL = "https://mineru.net"
	}
	c.Mineru.BaseURL = strings.TrimRight(c.Mineru.BaseURL, "/")
	if c.Mineru.TimeoutSeconds == 0 {
		c.Mineru.TimeoutSeconds = 600
	}
	if c.Mineru.PollIntervalSeconds == 0 {
		c.Mineru.PollIntervalSeconds = 5
	}
	if c.Mineru.MaxPages == 0 {
		c.Mineru.MaxPages = 50
	}
	if c.Mineru.TempDir == "" {
		c.Mineru.TempDir = "/tmp/ocr_service"
	}
	if c.Minio.ExpireDays == 0 {
		c.Minio.ExpireDays = 7
	}
	if c.Auth.TokenExpireHours == 0 {
		c.Auth.TokenExpireHours = 24
	}
	if c.Store.MaxJobs == 0 {
		c.Store.MaxJobs = 100
	}
}

// FindUser finds a user by username
func (c *Config) FindUser(username string) *User {
	for i := range c.Users {
		if c.Users[i].Username == username {
			return &c.Users[i]
		}
	}
	return nil
}

func envInt(key string) int {
	v := os.Getenv(key)
	if v == "" {
		return 0
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0
	}
	return n
}
