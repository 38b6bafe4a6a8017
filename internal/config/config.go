package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	DefaultLogDir           = "logs"
	DefaultHandshakeTimeout = 15 * time.Second
	DefaultRetryInterval    = time.Second
	DefaultDisplayWidth     = 80
	DefaultDisplayHeight    = 24
	DefaultUserAgent        = "ndgrclient/1.0"
)

// Config holds application configuration
type Config struct {
	LogDir    string
	LogLevel  slog.Level
	Debug     bool // Debug forces the log level to debug
	Telemetry bool // Export traces and metrics to rotating files in LogDir

	UserAgent        string
	HandshakeTimeout time.Duration // Bounds dial plus the messageServer/seat handshake
	RetryInterval    time.Duration // Pause after a failed entry poll

	DisplayWidth  int
	DisplayHeight int
}

// Default returns the configuration used when no variable is set.
func Default() Config {
	return Config{
		LogDir:           DefaultLogDir,
		LogLevel:         slog.LevelInfo,
		Telemetry:        true,
		UserAgent:        DefaultUserAgent,
		HandshakeTimeout: DefaultHandshakeTimeout,
		RetryInterval:    DefaultRetryInterval,
		DisplayWidth:     DefaultDisplayWidth,
		DisplayHeight:    DefaultDisplayHeight,
	}
}

// LoadDotEnv loads variables from the given .env files (".env" when none are
// given) without overriding the environment. Missing files are not an error.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load %s: %w", p, err)
		}
	}
	return nil
}

// Load reads the NDGR_* environment variables on top of Default.
func Load() (Config, error) {
	cfg := Default()
	var err error

	cfg.LogDir = getEnvOrDefault("NDGR_LOG_DIR", cfg.LogDir)
	cfg.UserAgent = getEnvOrDefault("NDGR_USER_AGENT", cfg.UserAgent)

	if raw := strings.TrimSpace(os.Getenv("NDGR_LOG_LEVEL")); raw != "" {
		if err := cfg.LogLevel.UnmarshalText([]byte(raw)); err != nil {
			return Config{}, fmt.Errorf("invalid NDGR_LOG_LEVEL value %q: %w", raw, err)
		}
	}
	if cfg.Debug, err = parseBoolEnv("NDGR_DEBUG", cfg.Debug); err != nil {
		return Config{}, err
	}
	if cfg.Debug {
		cfg.LogLevel = slog.LevelDebug
	}
	if cfg.Telemetry, err = parseBoolEnv("NDGR_TELEMETRY", cfg.Telemetry); err != nil {
		return Config{}, err
	}
	if cfg.HandshakeTimeout, err = parseDurationEnv("NDGR_HANDSHAKE_TIMEOUT", cfg.HandshakeTimeout); err != nil {
		return Config{}, err
	}
	if cfg.RetryInterval, err = parseDurationEnv("NDGR_RETRY_INTERVAL", cfg.RetryInterval); err != nil {
		return Config{}, err
	}
	if cfg.DisplayWidth, err = parsePositiveIntEnv("NDGR_DISPLAY_WIDTH", cfg.DisplayWidth); err != nil {
		return Config{}, err
	}
	if cfg.DisplayHeight, err = parsePositiveIntEnv("NDGR_DISPLAY_HEIGHT", cfg.DisplayHeight); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func parseBoolEnv(key string, defaultValue bool) (bool, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue, nil
	}

	val, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("invalid %s value %q: %w", key, raw, err)
	}
	return val, nil
}

func parseDurationEnv(key string, defaultValue time.Duration) (time.Duration, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue, nil
	}

	val, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s value %q: %w", key, raw, err)
	}
	if val < 0 {
		return 0, fmt.Errorf("invalid %s value %q: must not be negative", key, raw)
	}
	return val, nil
}

func parsePositiveIntEnv(key string, defaultValue int) (int, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue, nil
	}

	val, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s value %q: %w", key, raw, err)
	}
	if val <= 0 {
		return 0, fmt.Errorf("invalid %s value %q: must be positive", key, raw)
	}
	return val, nil
}
