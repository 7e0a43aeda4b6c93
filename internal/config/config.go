/*
Copyright (C) 2026 Aerugo Labs

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Database backend selection.
type DatabaseBackend string

const (
	DatabasePostgres DatabaseBackend = "postgres"
	DatabaseMySQL    DatabaseBackend = "mysql"
	DatabaseSQLite   DatabaseBackend = "sqlite"
)

// Storage backend selection for the media library.
type StorageBackend string

const (
	StorageFS StorageBackend = "fs"
	StorageS3 StorageBackend = "s3"
)

// Config covers server process configuration read from environment variables.
type Config struct {
	Environment string
	HTTPBind    string
	HTTPPort    int
	BaseURL     string // Public base URL (e.g., http://192.168.1.50:8000)
	DBBackend   DatabaseBackend
	DBDSN       string

	// Media library
	LibraryRoots   []string // Directories scanned for video files
	FallbackPrefix string   // Path prefix whose assets are flagged as fallback content
	StorageBackend StorageBackend
	FFProbeBin     string
	ScanWorkers    int
	ScanOnStart    bool

	// Selection engine
	DefaultDailyQuota int

	// S3 Object Storage configuration
	S3AccessKeyID     string
	S3SecretAccessKey string
	S3Region          string
	S3Bucket          string
	S3Endpoint        string // For S3-compatible services (MinIO, Spaces, etc.)
	S3PublicBaseURL   string // Optional CDN/CloudFront URL
	S3UsePathStyle    bool   // Required for MinIO
	S3PresignTTL      time.Duration

	// Tracing configuration
	TracingEnabled    bool
	OTLPEndpoint      string
	TracingSampleRate float64

	// Redis (cache + per-device decision lease)
	RedisEnabled  bool
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// NATS event bridge
	NATSURL string

	InstanceID        string
	LegacyEnvWarnings []string
}

// Load reads environment variables, applies defaults, and validates the result.
func Load() (*Config, error) {
	cfg := &Config{
		Environment: getEnvAny([]string{"BOBAVISION_ENV"}, "development"),
		HTTPBind:    getEnvAny([]string{"BOBAVISION_HTTP_BIND"}, "0.0.0.0"),
		HTTPPort:    getEnvIntAny([]string{"BOBAVISION_HTTP_PORT"}, 8000),
		BaseURL:     getEnvAny([]string{"BOBAVISION_BASE_URL"}, ""),
		DBBackend:   DatabaseBackend(getEnvAny([]string{"BOBAVISION_DB_BACKEND"}, string(DatabaseSQLite))),
		DBDSN:       getEnvAny([]string{"BOBAVISION_DB_DSN", "DATABASE_URL"}, ""),

		LibraryRoots:   splitList(getEnvAny([]string{"BOBAVISION_LIBRARY_PATH"}, "./media")),
		FallbackPrefix: getEnvAny([]string{"BOBAVISION_FALLBACK_PREFIX"}, "fallback"),
		StorageBackend: StorageBackend(getEnvAny([]string{"BOBAVISION_STORAGE_BACKEND"}, string(StorageFS))),
		FFProbeBin:     getEnvAny([]string{"BOBAVISION_FFPROBE_BIN"}, "ffprobe"),
		ScanWorkers:    getEnvIntAny([]string{"BOBAVISION_SCAN_WORKERS"}, 4),
		ScanOnStart:    getEnvBoolAny([]string{"BOBAVISION_SCAN_ON_START"}, false),

		DefaultDailyQuota: getEnvIntAny([]string{"BOBAVISION_DEFAULT_DAILY_QUOTA"}, 3),

		// S3 Object Storage configuration
		S3AccessKeyID:     getEnvAny([]string{"BOBAVISION_S3_ACCESS_KEY_ID", "AWS_ACCESS_KEY_ID"}, ""),
		S3SecretAccessKey: getEnvAny([]string{"BOBAVISION_S3_SECRET_ACCESS_KEY", "AWS_SECRET_ACCESS_KEY"}, ""),
		S3Region:          getEnvAny([]string{"BOBAVISION_S3_REGION", "AWS_REGION"}, "us-east-1"),
		S3Bucket:          getEnvAny([]string{"BOBAVISION_S3_BUCKET", "S3_BUCKET"}, ""),
		S3Endpoint:        getEnvAny([]string{"BOBAVISION_S3_ENDPOINT", "S3_ENDPOINT"}, ""),
		S3PublicBaseURL:   getEnvAny([]string{"BOBAVISION_S3_PUBLIC_BASE_URL", "S3_PUBLIC_BASE_URL"}, ""),
		S3UsePathStyle:    getEnvBoolAny([]string{"BOBAVISION_S3_USE_PATH_STYLE", "S3_USE_PATH_STYLE"}, false),
		S3PresignTTL:      time.Duration(getEnvIntAny([]string{"BOBAVISION_S3_PRESIGN_TTL_MINUTES"}, 60)) * time.Minute,

		// Tracing configuration
		TracingEnabled:    getEnvBoolAny([]string{"BOBAVISION_TRACING_ENABLED"}, false),
		OTLPEndpoint:      getEnvAny([]string{"BOBAVISION_OTLP_ENDPOINT"}, "localhost:4317"),
		TracingSampleRate: getEnvFloatAny([]string{"BOBAVISION_TRACING_SAMPLE_RATE"}, 1.0),

		// Redis
		RedisEnabled:  getEnvBoolAny([]string{"BOBAVISION_REDIS_ENABLED"}, false),
		RedisAddr:     getEnvAny([]string{"BOBAVISION_REDIS_ADDR"}, "localhost:6379"),
		RedisPassword: getEnvAny([]string{"BOBAVISION_REDIS_PASSWORD"}, ""),
		RedisDB:       getEnvIntAny([]string{"BOBAVISION_REDIS_DB"}, 0),

		NATSURL: getEnvAny([]string{"BOBAVISION_NATS_URL"}, ""),

		InstanceID: getEnvAny([]string{"BOBAVISION_INSTANCE_ID"}, ""),
	}

	if cfg.DBBackend != DatabasePostgres && cfg.DBBackend != DatabaseMySQL && cfg.DBBackend != DatabaseSQLite {
		return nil, fmt.Errorf("unsupported database backend %q", cfg.DBBackend)
	}

	if cfg.DBDSN == "" {
		if cfg.DBBackend != DatabaseSQLite {
			return nil, fmt.Errorf("BOBAVISION_DB_DSN must be provided for backend %q", cfg.DBBackend)
		}
		cfg.DBDSN = "bobavision.db"
	}

	if cfg.StorageBackend != StorageFS && cfg.StorageBackend != StorageS3 {
		return nil, fmt.Errorf("unsupported storage backend %q", cfg.StorageBackend)
	}

	if cfg.StorageBackend == StorageS3 && cfg.S3Bucket == "" {
		return nil, fmt.Errorf("BOBAVISION_S3_BUCKET must be provided when the s3 storage backend is selected")
	}

	if cfg.DefaultDailyQuota < 1 {
		return nil, fmt.Errorf("BOBAVISION_DEFAULT_DAILY_QUOTA must be at least 1, got %d", cfg.DefaultDailyQuota)
	}

	if cfg.ScanWorkers < 1 {
		cfg.ScanWorkers = 1
	}

	if len(cfg.LibraryRoots) == 0 {
		return nil, fmt.Errorf("BOBAVISION_LIBRARY_PATH must name at least one directory")
	}

	cfg.LegacyEnvWarnings = detectLegacyEnvWarnings()

	return cfg, nil
}

// DeviceConfig covers the device agent's configuration.
type DeviceConfig struct {
	Environment string
	ServerURL   string
	DeviceID    string
	WebBind     string
	WebPort     int
	LogFile     string // Tee logs to this file (the SD card) in addition to stdout

	PlayerBin  string
	PlayerArgs []string // Extra args appended after the built-in kiosk flags
	GPIOPin    int
	Keyboard   bool // Read trigger presses from stdin (development)

	RequestTimeout  time.Duration
	StartGrace      time.Duration
	RecoveryBackoff time.Duration
	MaxSession      time.Duration
	WatchdogMargin  time.Duration
	Debounce        time.Duration

	// Tracing configuration
	TracingEnabled    bool
	OTLPEndpoint      string
	TracingSampleRate float64

	LegacyEnvWarnings []string
}

// LoadDevice reads the device agent's environment variables, applies
// defaults, and validates the result.
func LoadDevice() (*DeviceConfig, error) {
	cfg := &DeviceConfig{
		Environment: getEnvAny([]string{"BOBAVISION_ENV"}, "development"),
		ServerURL:   getEnvAny([]string{"BOBAVISION_SERVER_URL"}, "http://localhost:8000"),
		DeviceID:    getEnvAny([]string{"BOBAVISION_DEVICE_ID", "BOBAVISION_CLIENT_ID"}, "default-client"),
		WebBind:     getEnvAny([]string{"BOBAVISION_WEB_BIND"}, "0.0.0.0"),
		WebPort:     getEnvIntAny([]string{"BOBAVISION_WEB_PORT"}, 5000),
		LogFile:     getEnvAny([]string{"BOBAVISION_LOG_FILE"}, ""),

		PlayerBin:  getEnvAny([]string{"BOBAVISION_PLAYER_BIN"}, "mpv"),
		PlayerArgs: splitList(getEnvAny([]string{"BOBAVISION_PLAYER_ARGS"}, "")),
		GPIOPin:    getEnvIntAny([]string{"BOBAVISION_GPIO_PIN"}, 17),
		Keyboard:   getEnvBoolAny([]string{"BOBAVISION_KEYBOARD_TRIGGER"}, false),

		RequestTimeout:  time.Duration(getEnvIntAny([]string{"BOBAVISION_REQUEST_TIMEOUT_SECONDS"}, 10)) * time.Second,
		StartGrace:      time.Duration(getEnvIntAny([]string{"BOBAVISION_START_GRACE_SECONDS"}, 2)) * time.Second,
		RecoveryBackoff: time.Duration(getEnvIntAny([]string{"BOBAVISION_RECOVERY_BACKOFF_SECONDS"}, 5)) * time.Second,
		MaxSession:      time.Duration(getEnvIntAny([]string{"BOBAVISION_MAX_SESSION_MINUTES"}, 180)) * time.Minute,
		WatchdogMargin:  time.Duration(getEnvIntAny([]string{"BOBAVISION_WATCHDOG_MARGIN_MINUTES"}, 10)) * time.Minute,
		Debounce:        time.Duration(getEnvIntAny([]string{"BOBAVISION_DEBOUNCE_MS"}, 300)) * time.Millisecond,

		TracingEnabled:    getEnvBoolAny([]string{"BOBAVISION_TRACING_ENABLED"}, false),
		OTLPEndpoint:      getEnvAny([]string{"BOBAVISION_OTLP_ENDPOINT"}, "localhost:4317"),
		TracingSampleRate: getEnvFloatAny([]string{"BOBAVISION_TRACING_SAMPLE_RATE"}, 1.0),
	}

	if !strings.HasPrefix(cfg.ServerURL, "http://") && !strings.HasPrefix(cfg.ServerURL, "https://") {
		return nil, fmt.Errorf("BOBAVISION_SERVER_URL must be an http(s) URL, got %q", cfg.ServerURL)
	}
	cfg.ServerURL = strings.TrimRight(cfg.ServerURL, "/")

	if cfg.DeviceID == "" {
		return nil, fmt.Errorf("BOBAVISION_DEVICE_ID must not be empty")
	}

	if cfg.RequestTimeout <= 0 || cfg.RecoveryBackoff <= 0 || cfg.MaxSession <= 0 {
		return nil, fmt.Errorf("timeouts must be positive")
	}

	if os.Getenv("BOBAVISION_CLIENT_ID") != "" && os.Getenv("BOBAVISION_DEVICE_ID") == "" {
		cfg.LegacyEnvWarnings = append(cfg.LegacyEnvWarnings,
			"legacy env key BOBAVISION_CLIENT_ID is set; use BOBAVISION_DEVICE_ID")
	}

	return cfg, nil
}

func detectLegacyEnvWarnings() []string {
	legacy := map[string]string{
		"DATABASE_URL": "use BOBAVISION_DB_DSN",
	}

	warnings := make([]string, 0, len(legacy))
	for key, recommendation := range legacy {
		if os.Getenv(key) != "" {
			warnings = append(warnings, fmt.Sprintf("legacy env key %s is set; %s", key, recommendation))
		}
	}
	return warnings
}

// splitList parses a comma-separated environment value into its parts.
func splitList(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		out = append(out, part)
	}
	return out
}

// getEnvAny returns the first non-empty environment variable value from keys, or def if none set.
func getEnvAny(keys []string, def string) string {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			return v
		}
	}
	return def
}

// getEnvIntAny returns the first set integer environment variable value from keys, or def.
func getEnvIntAny(keys []string, def int) int {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			if parsed, err := strconv.Atoi(v); err == nil {
				return parsed
			}
		}
	}
	return def
}

// getEnvBoolAny returns the first set boolean environment variable value from keys, or def.
func getEnvBoolAny(keys []string, def bool) bool {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			v = strings.ToLower(strings.TrimSpace(v))
			if v == "true" || v == "1" || v == "yes" {
				return true
			}
			if v == "false" || v == "0" || v == "no" {
				return false
			}
		}
	}
	return def
}

// getEnvFloatAny returns the first set float environment variable value from keys, or def.
func getEnvFloatAny(keys []string, def float64) float64 {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			if parsed, err := strconv.ParseFloat(v, 64); err == nil {
				return parsed
			}
		}
	}
	return def
}
