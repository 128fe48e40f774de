package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	ListenAddr     string
	DataDir        string
	BaseURL        string
	ClientURL      string
	SessionSecret  string
	MaxUploadBytes int64
	WorkerCount    int
	LogLevel       string

	TokenTTL             time.Duration
	ClaimTimeout         time.Duration
	CompositeMaxAttempts int
	CleanupInterval      time.Duration

	DiskWarnYellowPct float64
	DiskWarnRedPct    float64
	DiskWarnBlockPct  float64

	SMTPHost string
	SMTPPort int
	SMTPUser string
	SMTPPass string
	SMTPFrom string
}

const defaultSecret = "change-me-in-production-32-bytes!"

var defaults = map[string]any{
	"LISTEN_ADDR":                   ":8080",
	"DATA_DIR":                      "./data",
	"BASE_URL":                      "http://localhost:8080",
	"CLIENT_URL":                    "http://localhost:5173",
	"SESSION_SECRET":                defaultSecret,
	"MAX_UPLOAD_BYTES":              10 << 20,
	"WORKER_COUNT":                  2,
	"LOG_LEVEL":                     "info",
	"TOKEN_TTL_HOURS":               168,
	"COMPLETION_CLAIM_TIMEOUT_SECS": 600,
	"COMPOSITE_MAX_ATTEMPTS":        3,
	"CLEANUP_INTERVAL_MINS":         60,
	"DISK_WARN_YELLOW_PCT":          15.0,
	"DISK_WARN_RED_PCT":             10.0,
	"DISK_WARN_BLOCK_PCT":           5.0,
	"SMTP_HOST":                     "",
	"SMTP_PORT":                     587,
	"SMTP_USER":                     "",
	"SMTP_PASS":                     "",
	"SMTP_FROM":                     "signflow@localhost",
}

// Load reads the configuration from the environment, on top of an optional
// YAML file named by CONFIG_FILE whose keys use the same names.
func Load() (*Config, error) {
	v := viper.New()
	for k, val := range defaults {
		v.SetDefault(k, val)
	}
	v.AutomaticEnv()

	if file := v.GetString("CONFIG_FILE"); file != "" {
		v.SetConfigFile(file)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", file, err)
		}
	}
	return parse(v)
}

func parse(v *viper.Viper) (*Config, error) {
	c := &Config{
		ListenAddr:     v.GetString("LISTEN_ADDR"),
		DataDir:        v.GetString("DATA_DIR"),
		BaseURL:        strings.TrimRight(v.GetString("BASE_URL"), "/"),
		ClientURL:      strings.TrimRight(v.GetString("CLIENT_URL"), "/"),
		SessionSecret:  v.GetString("SESSION_SECRET"),
		MaxUploadBytes: v.GetInt64("MAX_UPLOAD_BYTES"),
		WorkerCount:    v.GetInt("WORKER_COUNT"),
		LogLevel:       strings.ToLower(v.GetString("LOG_LEVEL")),

		TokenTTL:             time.Duration(v.GetInt("TOKEN_TTL_HOURS")) * time.Hour,
		ClaimTimeout:         time.Duration(v.GetInt("COMPLETION_CLAIM_TIMEOUT_SECS")) * time.Second,
		CompositeMaxAttempts: v.GetInt("COMPOSITE_MAX_ATTEMPTS"),
		CleanupInterval:      time.Duration(v.GetInt("CLEANUP_INTERVAL_MINS")) * time.Minute,

		DiskWarnYellowPct: v.GetFloat64("DISK_WARN_YELLOW_PCT"),
		DiskWarnRedPct:    v.GetFloat64("DISK_WARN_RED_PCT"),
		DiskWarnBlockPct:  v.GetFloat64("DISK_WARN_BLOCK_PCT"),

		SMTPHost: v.GetString("SMTP_HOST"),
		SMTPPort: v.GetInt("SMTP_PORT"),
		SMTPUser: v.GetString("SMTP_USER"),
		SMTPPass: v.GetString("SMTP_PASS"),
		SMTPFrom: v.GetString("SMTP_FROM"),
	}

	if c.TokenTTL <= 0 {
		return nil, errors.New("TOKEN_TTL_HOURS must be positive")
	}
	if c.MaxUploadBytes <= 0 {
		return nil, errors.New("MAX_UPLOAD_BYTES must be positive")
	}
	if len(c.SessionSecret) < 16 {
		return nil, errors.New("SESSION_SECRET must be at least 16 bytes")
	}
	if c.SessionSecret == defaultSecret {
		slog.Warn("using default SESSION_SECRET; set one in production")
	}
	return c, nil
}

// SlogLevel maps LogLevel to a slog level, defaulting to info.
func (c *Config) SlogLevel() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
