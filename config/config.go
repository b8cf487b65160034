package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"mediagrab/cache"
	"mediagrab/extractor"
	"mediagrab/recode"
	"mediagrab/storage"
	"mediagrab/transcription"
	"mediagrab/usage"
)

type Config struct {
	// Server settings
	ServerPort      string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
	Debug           bool

	// Application paths
	LogDir   string
	TempDir  string
	LogLevel string

	// Component configs
	Cache         cache.Config
	PurgeInterval time.Duration
	Extractor     extractor.Config
	Recode        recode.Config
	Transcription TranscriptionConfig
	Usage         usage.Config
	Storage       storage.Config

	// Middleware
	RateLimit  RateLimitConfig
	CORS       CORSConfig
	Middleware MiddlewareConfig
}

type TranscriptionConfig struct {
	APIKey        string
	APIBaseURL    string
	Model         string
	LocalEndpoint string
	Timeout       time.Duration
	Service       transcription.Config
}

type RateLimitConfig struct {
	Enabled           bool
	RequestsPerMinute int
}

type CORSConfig struct {
	AllowedOrigins []string
	AllowedMethods []string
	AllowedHeaders []string
}

type MiddlewareConfig struct {
	EnableRecover   bool
	EnableRequestID bool
	EnableLogger    bool
	EnableRateLimit bool
	EnableCORS      bool
	EnableCompress  bool
	EnableETag      bool
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{
		ServerPort:      getEnv("SERVER_PORT", "8080"),
		ReadTimeout:     getEnvAsDuration("READ_TIMEOUT", 15*time.Second),
		WriteTimeout:    getEnvAsDuration("WRITE_TIMEOUT", 30*time.Minute),
		IdleTimeout:     getEnvAsDuration("IDLE_TIMEOUT", 60*time.Second),
		ShutdownTimeout: getEnvAsDuration("SHUTDOWN_TIMEOUT", 30*time.Second),
		Debug:           getEnvAsBool("DEBUG", false),

		LogDir:   getEnv("LOG_DIR", "/var/log/mediagrab"),
		TempDir:  getEnv("TEMP_DIR", "/tmp/mediagrab"),
		LogLevel: getEnv("LOG_LEVEL", "info"),

		Cache: cache.Config{
			Dir: getEnv("CACHE_DIR", "/var/lib/mediagrab/cache"),
			TTL: getEnvAsDuration("CACHE_TTL", 24*time.Hour),
		},
		PurgeInterval: getEnvAsDuration("CACHE_PURGE_INTERVAL", time.Hour),

		Extractor: extractor.Config{
			BinPath:         getEnv("YTDLP_PATH", "yt-dlp"),
			Proxy:           getEnv("YTDLP_PROXY", ""),
			CookiesPath:     getEnv("YTDLP_COOKIES", ""),
			UserAgent:       getEnv("YTDLP_USER_AGENT", ""),
			Retries:         getEnvAsInt("YTDLP_RETRIES", 3),
			ProbeTimeout:    getEnvAsDuration("PROBE_TIMEOUT", 30*time.Second),
			SearchTimeout:   getEnvAsDuration("SEARCH_TIMEOUT", 45*time.Second),
			DownloadTimeout: getEnvAsDuration("DOWNLOAD_TIMEOUT", 15*time.Minute),
		},

		Recode: recode.Config{
			BinPath: getEnv("FFMPEG_PATH", "ffmpeg"),
			Timeout: getEnvAsDuration("FFMPEG_TIMEOUT", 20*time.Minute),
		},

		Transcription: TranscriptionConfig{
			APIKey:        getEnv("TRANSCRIBE_API_KEY", ""),
			APIBaseURL:    getEnv("TRANSCRIBE_API_BASE_URL", ""),
			Model:         getEnv("TRANSCRIBE_MODEL", "whisper-1"),
			LocalEndpoint: getEnv("TRANSCRIBE_LOCAL_ENDPOINT", ""),
			Timeout:       getEnvAsDuration("TRANSCRIBE_TIMEOUT", 10*time.Minute),
			Service: transcription.Config{
				Timeout: getEnvAsDuration("TRANSCRIBE_TOTAL_TIMEOUT", 15*time.Minute),
			},
		},

		Usage: usage.Config{
			Path:       getEnv("USAGE_LOG_PATH", "/var/lib/mediagrab/usage.ndjson"),
			MaxSizeMB:  getEnvAsInt("USAGE_LOG_MAX_SIZE_MB", 50),
			MaxBackups: getEnvAsInt("USAGE_LOG_MAX_BACKUPS", 3),
			MaxAgeDays: getEnvAsInt("USAGE_LOG_MAX_AGE_DAYS", 0),
		},

		Storage: storage.Config{
			AccessKey: getEnv("SPACES_ACCESS_KEY", ""),
			SecretKey: getEnv("SPACES_SECRET_KEY", ""),
			Region:    getEnv("SPACES_REGION", "us-east-1"),
			Endpoint:  getEnv("SPACES_ENDPOINT", ""),
			Bucket:    getEnv("SPACES_BUCKET", ""),
		},

		RateLimit: RateLimitConfig{
			Enabled:           getEnvAsBool("RATE_LIMIT_ENABLED", true),
			RequestsPerMinute: getEnvAsInt("RATE_LIMIT_RPM", 60),
		},

		CORS: CORSConfig{
			AllowedOrigins: getEnvAsStringSlice("CORS_ALLOWED_ORIGINS", []string{"*"}),
			AllowedMethods: getEnvAsStringSlice("CORS_ALLOWED_METHODS", []string{"GET", "POST", "DELETE", "OPTIONS"}),
			AllowedHeaders: getEnvAsStringSlice("CORS_ALLOWED_HEADERS", []string{"Content-Type"}),
		},

		Middleware: MiddlewareConfig{
			EnableRecover:   true,
			EnableRequestID: true,
			EnableLogger:    true,
			EnableRateLimit: getEnvAsBool("RATE_LIMIT_ENABLED", true),
			EnableCORS:      true,
			EnableCompress:  getEnvAsBool("ENABLE_COMPRESS", true),
			EnableETag:      getEnvAsBool("ENABLE_ETAG", false),
		},
	}

	cfg.Recode.TempDir = cfg.TempDir
	cfg.Transcription.Service.Timeout = maxDuration(cfg.Transcription.Service.Timeout, cfg.Transcription.Timeout)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if err := c.validatePaths(); err != nil {
		return err
	}
	if err := c.validateTimeouts(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validatePaths() error {
	paths := []struct {
		path string
		name string
	}{
		{c.LogDir, "log directory"},
		{c.TempDir, "temp directory"},
		{c.Cache.Dir, "cache directory"},
		{filepath.Dir(c.Usage.Path), "usage log directory"},
	}

	for _, p := range paths {
		if err := os.MkdirAll(p.path, 0o755); err != nil {
			return fmt.Errorf("failed to create %s: %w", p.name, err)
		}
	}
	return nil
}

func (c *Config) validateTimeouts() error {
	if c.ReadTimeout <= 0 {
		return fmt.Errorf("read timeout must be positive")
	}
	if c.WriteTimeout <= 0 {
		return fmt.Errorf("write timeout must be positive")
	}
	if c.Cache.TTL <= 0 {
		return fmt.Errorf("cache TTL must be positive")
	}
	if c.PurgeInterval <= 0 {
		return fmt.Errorf("cache purge interval must be positive")
	}
	return nil
}

func maxDuration(a, b time.Duration) time.Duration {
	if a > b {
		return a
	}
	return b
}

// Helper functions for reading environment variables
func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value, exists := os.LookupEnv(key); exists {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value, exists := os.LookupEnv(key); exists {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value, exists := os.LookupEnv(key); exists {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getEnvAsStringSlice(key string, defaultValue []string) []string {
	if value, exists := os.LookupEnv(key); exists {
		if value = strings.TrimSpace(value); value != "" {
			return strings.Split(value, ",")
		}
	}
	return defaultValue
}
