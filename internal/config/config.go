package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds the application configuration
type Config struct {
	Server       ServerConfig       `json:"server"`
	Vision       VisionConfig       `json:"vision"`
	Segmentation SegmentationConfig `json:"segmentation"`
	Display      DisplayConfig      `json:"display"`
	Upload       UploadConfig       `json:"upload"`
	Output       OutputConfig       `json:"output"`
	Log          LogConfig          `json:"log"`
}

// ServerConfig holds HTTP server settings
type ServerConfig struct {
	Host string `json:"host"`
	Port int    `json:"port"`
	// RateLimit is requests per second per client IP, 0 disables limiting
	RateLimit float64 `json:"rate_limit"`
	RateBurst int     `json:"rate_burst"`
}

// VisionConfig selects and configures the vision model backend
type VisionConfig struct {
	Backend        string `json:"backend"`
	Model          string `json:"model"`
	APIKey         string `json:"-"`
	BaseURL        string `json:"base_url"`
	TimeoutSeconds int    `json:"timeout_seconds"`
	SendFormat     string `json:"send_format"`
	SendSize       int    `json:"send_size"`
	SendQuality    int    `json:"send_quality"`
}

// SegmentationConfig points at the SAM2 service
type SegmentationConfig struct {
	URL string `json:"url"`
}

// DisplayConfig bounds the rendered canvas
type DisplayConfig struct {
	MaxWidth  int `json:"max_width"`
	MaxHeight int `json:"max_height"`
}

// UploadConfig holds input validation limits
type UploadConfig struct {
	MaxBytes         int64    `json:"max_bytes"`
	SupportedFormats []string `json:"supported_formats"`
	MinImageSize     int      `json:"min_image_size"`
}

// OutputConfig holds settings for rendered images
type OutputConfig struct {
	Format   string `json:"format"`
	Quality  int    `json:"quality"`
	Lossless bool   `json:"lossless"`
	Dir      string `json:"dir"`
	Suffix   string `json:"suffix"`
}

// LogConfig holds logger settings
type LogConfig struct {
	Level      string `json:"level"`
	File       string `json:"file"`
	MaxSizeMB  int    `json:"max_size_mb"`
	MaxBackups int    `json:"max_backups"`
	MaxAgeDays int    `json:"max_age_days"`
}

var validBackends = []string{"openai", "gemini", "ollama", "llamacpp"}

// Default returns a configuration with default values
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:      "0.0.0.0",
			Port:      3000,
			RateLimit: 5,
			RateBurst: 10,
		},
		Vision: VisionConfig{
			Backend:        "openai",
			TimeoutSeconds: 60,
			SendFormat:     "jpg",
			SendSize:       1536,
			SendQuality:    85,
		},
		Segmentation: SegmentationConfig{
			URL: "http://localhost:8000",
		},
		Display: DisplayConfig{
			MaxWidth:  800,
			MaxHeight: 600,
		},
		Upload: UploadConfig{
			MaxBytes:         10 << 20,
			SupportedFormats: []string{"jpg", "jpeg", "png", "gif", "webp"},
			MinImageSize:     1,
		},
		Output: OutputConfig{
			Format:  "png",
			Quality: 90,
			Dir:     "./output",
			Suffix:  "_annotated",
		},
		Log: LogConfig{
			Level:      "info",
			MaxSizeMB:  100,
			MaxBackups: 3,
			MaxAgeDays: 7,
		},
	}
}

// LoadFromFile loads configuration from a JSON file on top of the defaults
func LoadFromFile(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := Default()
	if err := json.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return config, nil
}

// SaveToFile saves configuration to a JSON file
func (c *Config) SaveToFile(filename string) error {
	dir := filepath.Dir(filename)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(filename, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// LoadDotEnv loads variables from the given .env files into the process
// environment. Missing files are ignored.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	var existing []string
	for _, f := range files {
		if _, err := os.Stat(f); err == nil {
			existing = append(existing, f)
		}
	}
	if len(existing) == 0 {
		return nil
	}
	if err := godotenv.Load(existing...); err != nil {
		return fmt.Errorf("failed to load env file: %w", err)
	}
	return nil
}

// ApplyEnv overrides values from environment variables
func (c *Config) ApplyEnv() error {
	var errs []error
	str := func(key string, dst *string) {
		if v, ok := os.LookupEnv(key); ok && v != "" {
			*dst = v
		}
	}
	num := func(key string, dst *int) {
		if v, ok := os.LookupEnv(key); ok && v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = n
		}
	}

	str("APP_HOST", &c.Server.Host)
	num("APP_PORT", &c.Server.Port)
	if v := os.Getenv("RATE_LIMIT"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("RATE_LIMIT: %w", err))
		} else {
			c.Server.RateLimit = f
		}
	}
	num("RATE_BURST", &c.Server.RateBurst)

	str("VISION_BACKEND", &c.Vision.Backend)
	str("VISION_MODEL", &c.Vision.Model)
	str("VISION_BASE_URL", &c.Vision.BaseURL)
	num("VISION_TIMEOUT_SECONDS", &c.Vision.TimeoutSeconds)

	// Backend specific keys
	switch c.Vision.Backend {
	case "gemini":
		str("GEMINI_API_KEY", &c.Vision.APIKey)
		str("GEMINI_MODEL_NAME", &c.Vision.Model)
	case "openai":
		str("OPENAI_API_KEY", &c.Vision.APIKey)
		str("OPENAI_BASE_URL", &c.Vision.BaseURL)
	case "ollama":
		str("OLLAMA_HOST", &c.Vision.BaseURL)
	}
	str("VISION_API_KEY", &c.Vision.APIKey)

	str("SAM2_URL", &c.Segmentation.URL)
	num("DISPLAY_MAX_WIDTH", &c.Display.MaxWidth)
	num("DISPLAY_MAX_HEIGHT", &c.Display.MaxHeight)
	if v := os.Getenv("UPLOAD_MAX_BYTES"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("UPLOAD_MAX_BYTES: %w", err))
		} else {
			c.Upload.MaxBytes = n
		}
	}

	str("LOG_LEVEL", &c.Log.Level)
	str("LOG_FILE", &c.Log.File)

	return errors.Join(errs...)
}

// VisionTimeout returns the configured vision call timeout
func (c *Config) VisionTimeout() time.Duration {
	return time.Duration(c.Vision.TimeoutSeconds) * time.Second
}

// Addr returns the listen address
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535")
	}

	if c.Server.RateLimit < 0 {
		return fmt.Errorf("server.rate_limit cannot be negative")
	}

	if c.Server.RateLimit > 0 && c.Server.RateBurst < 1 {
		return fmt.Errorf("server.rate_burst must be positive when rate limiting is enabled")
	}

	backendOK := false
	for _, b := range validBackends {
		if c.Vision.Backend == b {
			backendOK = true
			break
		}
	}
	if !backendOK {
		return fmt.Errorf("vision.backend must be one of %s", strings.Join(validBackends, ", "))
	}

	if c.Vision.TimeoutSeconds < 1 {
		return fmt.Errorf("vision.timeout_seconds must be positive")
	}

	if c.Vision.SendQuality < 1 || c.Vision.SendQuality > 100 {
		return fmt.Errorf("vision.send_quality must be between 1 and 100")
	}

	if c.Vision.SendSize < 0 {
		return fmt.Errorf("vision.send_size cannot be negative")
	}

	if c.Display.MaxWidth < 0 || c.Display.MaxHeight < 0 {
		return fmt.Errorf("display bounds cannot be negative")
	}

	if c.Upload.MaxBytes < 1 {
		return fmt.Errorf("upload.max_bytes must be positive")
	}

	if len(c.Upload.SupportedFormats) == 0 {
		return fmt.Errorf("upload.supported_formats cannot be empty")
	}

	if c.Output.Quality < 1 || c.Output.Quality > 100 {
		return fmt.Errorf("output.quality must be between 1 and 100")
	}

	return nil
}

// GetConfigPath returns the default configuration file path
func GetConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "./config.json"
	}
	return filepath.Join(home, ".config", "image-annotator", "config.json")
}
