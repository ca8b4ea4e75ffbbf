// Package config reads the process configuration from the environment, after
// loading an optional .env file.
//
// Commands use the values as flag defaults, so the precedence is
// flag, then environment, then the defaults below.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Store selects the storage backend.
type Store struct {
	Kind     string // sqlite, postgres or mssql
	DSN      string
	MaxConns int
}

// Metrics selects the metrics backend.
type Metrics struct {
	Backend    string // none or datadog
	JobName    string
	Tags       string // comma-separated Datadog tags
	FlushEvery time.Duration
}

// Log configures logging.
type Log struct {
	Level       string
	Development bool
	ErrorFile   string
}

// Config is everything the commands read from the environment.
type Config struct {
	Store         Store
	SelectorsPath string
	Metrics       Metrics
	Log           Log
	HTTPTimeout   time.Duration
}

// Defaults.
const (
	DefaultStoreKind     = "sqlite"
	DefaultSQLitePath    = "job_offers.db"
	DefaultSelectorsPath = "selectors.yaml"
	DefaultHTTPTimeout   = 10 * time.Second
)

// Load reads .env (when present) and then the environment.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}
	return FromEnv()
}

// FromEnv reads the environment only.
func FromEnv() (Config, error) {
	var errs []error

	kind := getEnv("STORE_KIND", DefaultStoreKind)
	dsn := os.Getenv("STORE_DSN")
	if dsn == "" && kind == DefaultStoreKind {
		dsn = DefaultSQLitePath
	}

	cfg := Config{
		Store: Store{
			Kind:     kind,
			DSN:      dsn,
			MaxConns: getEnvInt("STORE_MAX_CONNS", 0, &errs),
		},
		SelectorsPath: getEnv("SELECTORS_PATH", DefaultSelectorsPath),
		Metrics: Metrics{
			Backend:    getEnv("METRICS_BACKEND", "none"),
			JobName:    getEnv("METRICS_JOB", "joboffers"),
			Tags:       os.Getenv("METRICS_TAGS"),
			FlushEvery: getEnvDuration("METRICS_FLUSH_EVERY", 60*time.Second, &errs),
		},
		Log: Log{
			Level:       getEnv("LOG_LEVEL", "info"),
			Development: getEnvBool("LOG_DEVELOPMENT", false, &errs),
			ErrorFile:   os.Getenv("LOG_ERROR_FILE"),
		},
		HTTPTimeout: getEnvDuration("HTTP_TIMEOUT", DefaultHTTPTimeout, &errs),
	}
	return cfg, errors.Join(errs...)
}

// Validate checks the settings every command needs.
func (c Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Store.Kind) == "" {
		errs = append(errs, errors.New("store kind is required"))
	}
	if strings.TrimSpace(c.Store.DSN) == "" {
		errs = append(errs, errors.New("store dsn is required"))
	}
	if c.Store.MaxConns < 0 {
		errs = append(errs, fmt.Errorf("store max conns must be >= 0, got %d", c.Store.MaxConns))
	}
	switch c.Metrics.Backend {
	case "", "none", "datadog":
	default:
		errs = append(errs, fmt.Errorf("unknown metrics backend %q", c.Metrics.Backend))
	}
	return errors.Join(errs...)
}

func getEnv(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int, errs *[]error) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: %w", key, err))
		return def
	}
	return n
}

func getEnvBool(key string, def bool, errs *[]error) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: %w", key, err))
		return def
	}
	return b
}

func getEnvDuration(key string, def time.Duration, errs *[]error) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: %w", key, err))
		return def
	}
	return d
}
