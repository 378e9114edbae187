// Package config provides XML-based configuration management.
package config

import (
	"encoding/xml"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// AppConfig represents the root XML configuration structure
type AppConfig struct {
	XMLName xml.Name `xml:"InterviewToQuote"`

	Server     ServerConfig     `xml:"Server"`
	Storage    StorageConfig    `xml:"Storage"`
	Extraction ExtractionConfig `xml:"Extraction"`
	Pricing    PricingConfig    `xml:"Pricing"`
	Documents  DocumentsConfig  `xml:"Documents"`
	Processing ProcessingConfig `xml:"Processing"`
	Security   SecurityConfig   `xml:"Security"`
	Advanced   AdvancedConfig   `xml:"Advanced"`
	Telemetry  TelemetryConfig  `xml:"Telemetry"`
}

// ServerConfig contains HTTP server settings
type ServerConfig struct {
	Port         int    `xml:"Port"`
	BindAddress  string `xml:"BindAddress"`
	EnableCORS   bool   `xml:"EnableCORS"`
	AllowOrigins string `xml:"AllowOrigins"`
	ReadTimeout  int    `xml:"ReadTimeoutSeconds"`
	WriteTimeout int    `xml:"WriteTimeoutSeconds"`
	IdleTimeout  int    `xml:"IdleTimeoutSeconds"`
	BodyLimit    string `xml:"BodyLimit"`
}

// StorageConfig contains database and blob storage settings
type StorageConfig struct {
	DataDirectory string      `xml:"DataDirectory"` // local blob root: uploads/ and documents/
	DatabasePath  string      `xml:"DatabasePath"`
	Backend       string      `xml:"Backend"` // local | minio
	Minio         MinioConfig `xml:"Minio"`
}

// MinioConfig holds object storage connection settings
type MinioConfig struct {
	Endpoint  string `xml:"Endpoint"`
	AccessKey string `xml:"AccessKey"`
	SecretKey string `xml:"SecretKey"`
	Bucket    string `xml:"Bucket"`
	Region    string `xml:"Region"` // empty lets the client look it up
	UseSSL    bool   `xml:"UseSSL"`
}

// ExtractionConfig controls the requirement extraction backend and the
// await loop used by the pipeline.
type ExtractionConfig struct {
	BaseURL                  string `xml:"BaseURL"`
	APIKey                   string `xml:"APIKey"`
	Model                    string `xml:"Model"`
	RequestTimeoutSeconds    int    `xml:"RequestTimeoutSeconds"`
	PollIntervalMs           int    `xml:"PollIntervalMs"`
	MaxWaitSeconds           int    `xml:"MaxWaitSeconds"`
	MaxConcurrentExtractions int    `xml:"MaxConcurrentExtractions"`
}

// PricingConfig points at the price catalog. An empty path uses the built-in catalog.
type PricingConfig struct {
	CatalogPath string `xml:"CatalogPath"`
}

// DocumentsConfig controls document rendering. PDFFontPath should point at
// a TrueType font with CJK glyphs; without it PDFs use a Latin core font.
type DocumentsConfig struct {
	PDFFontPath string `xml:"PDFFontPath"`
}

// ProcessingConfig contains pipeline job settings
type ProcessingConfig struct {
	JobRetentionMinutes    int  `xml:"JobRetentionMinutes"`
	CleanupIntervalMinutes int  `xml:"CleanupIntervalMinutes"`
	EnableCompression      bool `xml:"EnableCompression"`
	CompressionLevel       int  `xml:"CompressionLevel"`
}

// SecurityConfig contains security settings
type SecurityConfig struct {
	RequireAuth      bool         `xml:"RequireAuthentication"`
	JWTSecret        string       `xml:"JWTSecret"`
	TokenExpireHours int          `xml:"TokenExpireHours"`
	AllowedFileTypes string       `xml:"AllowedFileTypes"`
	Users            []UserConfig `xml:"Users>User"`
}

// UserConfig is a static login account
type UserConfig struct {
	Username string `xml:"username,attr"`
	Password string `xml:"password,attr"`
}

// AdvancedConfig contains advanced/tuning options
type AdvancedConfig struct {
	LogLevel             string `xml:"LogLevel"`
	LogMode              string `xml:"LogMode"`
	EnableRequestLogging bool   `xml:"EnableRequestLogging"`
	DuckDBThreads        int    `xml:"DuckDBThreads"`
	DuckDBMemoryLimit    string `xml:"DuckDBMemoryLimit"`
}

// TelemetryConfig controls OpenTelemetry tracing
type TelemetryConfig struct {
	Enabled     bool    `xml:"Enabled"`
	ServiceName string  `xml:"ServiceName"`
	Environment string  `xml:"Environment"`
	Endpoint    string  `xml:"Endpoint"` // empty means stdout exporter
	Insecure    bool    `xml:"Insecure"`
	SampleRatio float64 `xml:"SampleRatio"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *AppConfig {
	return &AppConfig{
		Server: ServerConfig{
			Port:         8090,
			BindAddress:  "0.0.0.0",
			EnableCORS:   true,
			AllowOrigins: "*",
			ReadTimeout:  30,
			WriteTimeout: 30,
			IdleTimeout:  120,
			BodyLimit:    "50M",
		},
		Storage: StorageConfig{
			DataDirectory: "./data",
			DatabasePath:  "./data/cases.duckdb",
			Backend:       "local",
			Minio: MinioConfig{
				Endpoint: "localhost:9000",
				Bucket:   "interview-to-quote",
			},
		},
		Extraction: ExtractionConfig{
			BaseURL:                  "https://api.openai.com/v1",
			Model:                    "gpt-4-turbo-preview",
			RequestTimeoutSeconds:    90,
			PollIntervalMs:           2000,
			MaxWaitSeconds:           120,
			MaxConcurrentExtractions: 2,
		},
		Processing: ProcessingConfig{
			JobRetentionMinutes:    60,
			CleanupIntervalMinutes: 5,
			EnableCompression:      true,
			CompressionLevel:       5,
		},
		Security: SecurityConfig{
			RequireAuth:      false,
			TokenExpireHours: 24,
			AllowedFileTypes: ".txt,.doc,.docx,.jpg,.jpeg,.png,.gif,.bmp,.webp",
		},
		Advanced: AdvancedConfig{
			LogLevel:             "info",
			LogMode:              "dev",
			EnableRequestLogging: true,
			DuckDBThreads:        2,
			DuckDBMemoryLimit:    "512MB",
		},
		Telemetry: TelemetryConfig{
			Enabled:     false,
			ServiceName: "interview-to-quote",
			Environment: "development",
			SampleRatio: 0.1,
		},
	}
}

// LoadConfig loads configuration from XML file. A .env file next to the
// config file (or in the working directory) is loaded first so that its
// variables take part in the environment overrides.
func LoadConfig(configPath string) (*AppConfig, error) {
	configDir := filepath.Dir(configPath)
	_ = godotenv.Load(filepath.Join(configDir, ".env"))
	_ = godotenv.Load()

	config := DefaultConfig()
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		if err := config.Save(configPath); err != nil {
			return nil, fmt.Errorf("failed to create default config: %w", err)
		}
	} else {
		data, err := os.ReadFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := xml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	config.applyEnvironmentOverrides()
	config.resolvePaths(configDir)

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// Save saves the configuration to XML file
func (c *AppConfig) Save(configPath string) error {
	output, err := xml.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	header := []byte(xml.Header + "\n<!-- Interview-to-Quote Configuration -->\n<!-- This file is auto-generated on first run -->\n\n")
	content := append(header, output...)

	if err := os.WriteFile(configPath, content, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// Validate rejects settings the server cannot start with.
func (c *AppConfig) Validate() error {
	switch c.Storage.Backend {
	case "local", "minio":
	default:
		return fmt.Errorf("invalid storage backend %q (want local or minio)", c.Storage.Backend)
	}
	if c.Extraction.PollIntervalMs <= 0 {
		return fmt.Errorf("Extraction.PollIntervalMs must be positive")
	}
	if c.Extraction.MaxWaitSeconds <= 0 {
		return fmt.Errorf("Extraction.MaxWaitSeconds must be positive")
	}
	if c.Security.RequireAuth && strings.TrimSpace(c.Security.JWTSecret) == "" {
		return fmt.Errorf("Security.JWTSecret is required when authentication is enabled")
	}
	return nil
}

// applyEnvironmentOverrides allows environment variables to override config values
func (c *AppConfig) applyEnvironmentOverrides() {
	if port := os.Getenv("PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			c.Server.Port = p
		}
	}
	if dataDir := os.Getenv("DATA_DIR"); dataDir != "" {
		c.Storage.DataDirectory = dataDir
	}

	overrideString(&c.Extraction.BaseURL, "LLM_BASE_URL")
	overrideString(&c.Extraction.APIKey, "LLM_API_KEY")
	overrideString(&c.Extraction.Model, "LLM_MODEL")
	overrideString(&c.Security.JWTSecret, "JWT_SECRET")
	overrideString(&c.Storage.Backend, "STORAGE_BACKEND")
	overrideString(&c.Storage.Minio.Endpoint, "MINIO_ENDPOINT")
	overrideString(&c.Storage.Minio.AccessKey, "MINIO_ACCESS_KEY")
	overrideString(&c.Storage.Minio.SecretKey, "MINIO_SECRET_KEY")
	overrideString(&c.Storage.Minio.Bucket, "MINIO_BUCKET")
	overrideString(&c.Storage.Minio.Region, "MINIO_REGION")
	overrideString(&c.Telemetry.Endpoint, "OTEL_EXPORTER_OTLP_ENDPOINT")
	overrideString(&c.Documents.PDFFontPath, "PDF_FONT_PATH")

	if v := strings.ToLower(os.Getenv("OTEL_ENABLED")); v != "" {
		c.Telemetry.Enabled = v == "1" || v == "true" || v == "yes" || v == "on"
	}
}

func overrideString(dst *string, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*dst = v
	}
}

// resolvePaths converts relative paths to absolute based on config file location
func (c *AppConfig) resolvePaths(configDir string) {
	for _, p := range []*string{
		&c.Storage.DataDirectory,
		&c.Storage.DatabasePath,
	} {
		if *p != "" && !filepath.IsAbs(*p) {
			*p = filepath.Join(configDir, *p)
		}
	}
	for _, p := range []*string{&c.Pricing.CatalogPath, &c.Documents.PDFFontPath} {
		if *p != "" && !filepath.IsAbs(*p) {
			*p = filepath.Join(configDir, *p)
		}
	}
}

// GetServerAddr returns the server bind address
func (c *AppConfig) GetServerAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.BindAddress, c.Server.Port)
}

// PollInterval returns the default extraction poll interval
func (c *AppConfig) PollInterval() time.Duration {
	return time.Duration(c.Extraction.PollIntervalMs) * time.Millisecond
}

// MaxWait returns the default extraction await ceiling
func (c *AppConfig) MaxWait() time.Duration {
	return time.Duration(c.Extraction.MaxWaitSeconds) * time.Second
}

// AllowedExtensions returns the lower-cased allow list of upload extensions
func (c *AppConfig) AllowedExtensions() []string {
	var out []string
	for _, ext := range strings.Split(c.Security.AllowedFileTypes, ",") {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if ext != "" {
			out = append(out, ext)
		}
	}
	return out
}

// EnsureDirectories creates all necessary directories
func (c *AppConfig) EnsureDirectories() error {
	dirs := []string{
		c.Storage.DataDirectory,
		filepath.Join(c.Storage.DataDirectory, "uploads"),
		filepath.Join(c.Storage.DataDirectory, "documents"),
		filepath.Dir(c.Storage.DatabasePath),
	}

	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}
	return nil
}
