package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"time"

	_ "github.com/joho/godotenv/autoload"
	"go.uber.org/zap/zapcore"
)

const (
	DefaultHost           = "http://localhost:8080"
	DefaultRequestTimeout = 10 * time.Second
	DefaultHistoryDriver  = "sqlite3"
	DefaultHistoryDSN     = "rps_history.db"
	DefaultLogLevel       = "info"
	DefaultPort           = 8080
)

// Config is read from the environment, with a .env file loaded first when
// present.
type Config struct {
	Host           string
	Username       string
	Token          string
	RequestTimeout time.Duration
	HistoryDriver  string
	HistoryDSN     string
	LogLevel       string
	Port           int
}

// Load reads the RPS_* variables and PORT. Malformed numeric values are
// reported as errors rather than silently replaced.
func Load() (Config, error) {
	cfg := Config{
		Host:           getenv("RPS_HOST", DefaultHost),
		Username:       os.Getenv("RPS_USERNAME"),
		Token:          os.Getenv("RPS_TOKEN"),
		RequestTimeout: DefaultRequestTimeout,
		HistoryDriver:  getenv("RPS_HISTORY_DRIVER", DefaultHistoryDriver),
		HistoryDSN:     getenv("RPS_HISTORY_DSN", DefaultHistoryDSN),
		LogLevel:       getenv("RPS_LOG_LEVEL", DefaultLogLevel),
		Port:           DefaultPort,
	}

	if v := os.Getenv("RPS_REQUEST_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid RPS_REQUEST_TIMEOUT %q: %w", v, err)
		}
		cfg.RequestTimeout = d
	}

	if v := os.Getenv("PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid PORT %q: %w", v, err)
		}
		cfg.Port = port
	}

	return cfg, cfg.Validate()
}

// Validate reports every invalid setting at once.
func (c Config) Validate() error {
	var errs []error

	u, err := url.Parse(c.Host)
	switch {
	case err != nil:
		errs = append(errs, fmt.Errorf("invalid RPS_HOST %q: %w", c.Host, err))
	case u.Scheme != "http" && u.Scheme != "https":
		errs = append(errs, fmt.Errorf("RPS_HOST must be an http or https URL, got %q", c.Host))
	case u.Host == "":
		errs = append(errs, fmt.Errorf("RPS_HOST has no host: %q", c.Host))
	}

	if c.RequestTimeout <= 0 {
		errs = append(errs, fmt.Errorf("RPS_REQUEST_TIMEOUT must be positive, got %s", c.RequestTimeout))
	}

	switch c.HistoryDriver {
	case "sqlite3", "pgx":
	default:
		errs = append(errs, fmt.Errorf("RPS_HISTORY_DRIVER must be sqlite3 or pgx, got %q", c.HistoryDriver))
	}

	if _, err := zapcore.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("invalid RPS_LOG_LEVEL: %w", err))
	}

	if c.Port < 1 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("PORT out of range: %d", c.Port))
	}

	return errors.Join(errs...)
}

// Addr is the sandbox listen address.
func (c Config) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
