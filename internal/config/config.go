// Package config loads and validates process configuration from environment
// variables, optionally seeded from a .env file.
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

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

// Store backends.
const (
	StorePostgres = "postgres"
	StoreSQLite   = "sqlite"
	StoreMemory   = "memory"
)

// Config holds all process configuration.
type Config struct {
	// Storage settings.
	Store       string `validate:"oneof=postgres sqlite memory"`
	DatabaseURL string `validate:"required_if=Store postgres"`
	SQLitePath  string `validate:"required_if=Store sqlite"`

	// Model settings. Generator and judge models are the defaults used when
	// a run is enqueued without explicit models.
	DefaultProvider string `validate:"oneof=openai anthropic google"`
	GeneratorModel  string `validate:"required"`
	JudgeModel      string `validate:"required"`
	ResponderModel  string
	PresetsFile     string

	// Provider transport settings. A zero rate limit, breaker threshold or
	// timeout disables that middleware.
	LLMRateLimit       float64       `validate:"gte=0"`
	LLMBurst           int           `validate:"gte=1"`
	LLMBreakerFailures int           `validate:"gte=0"`
	LLMBreakerCooldown time.Duration `validate:"gte=0"`
	LLMTimeout         time.Duration `validate:"gte=0"`

	// Worker settings.
	WorkerConcurrency  int           `validate:"min=1,max=64"`
	WorkerPollInterval time.Duration `validate:"gt=0"`

	// Observability settings.
	MetricsAddr  string
	OTELEndpoint string
	OTELInsecure bool
	ServiceName  string `validate:"required"`
	LogLevel     string `validate:"oneof=debug info warn error"`
}

// ConfigError reports an environment variable that could not be parsed or
// failed validation.
type ConfigError struct {
	Var     string
	Value   string
	Message string
}

func (e *ConfigError) Error() string {
	if e.Value == "" {
		return fmt.Sprintf("config: %s %s", e.Var, e.Message)
	}
	return fmt.Sprintf("config: %s=%q %s", e.Var, e.Value, e.Message)
}

// Load reads the optional .env files (".env" when none are given), then
// builds the configuration from the environment. Variables already set in
// the environment win over the files.
func Load(envFiles ...string) (Config, error) {
	if err := godotenv.Load(envFiles...); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("config: load env file: %w", err)
	}
	return FromEnv(os.LookupEnv)
}

// FromEnv builds and validates the configuration from lookup.
func FromEnv(lookup func(string) (string, bool)) (Config, error) {
	e := env{lookup: lookup}
	cfg := Config{
		Store:              strings.ToLower(e.str("QALAB_STORE", StoreSQLite)),
		DatabaseURL:        e.str("DATABASE_URL", ""),
		SQLitePath:         e.str("QALAB_SQLITE_PATH", "qalab.db"),
		DefaultProvider:    strings.ToLower(e.str("QALAB_DEFAULT_PROVIDER", "openai")),
		GeneratorModel:     e.str("QALAB_GENERATOR_MODEL", "openai/gpt-4o-mini"),
		JudgeModel:         e.str("QALAB_JUDGE_MODEL", "anthropic/claude-3-5-haiku-latest"),
		ResponderModel:     e.str("QALAB_RESPONDER_MODEL", ""),
		PresetsFile:        e.str("QALAB_PRESETS_FILE", ""),
		LLMRateLimit:       e.float("QALAB_LLM_RATE_LIMIT", 5),
		LLMBurst:           e.int("QALAB_LLM_BURST", 5),
		LLMBreakerFailures: e.int("QALAB_LLM_BREAKER_FAILURES", 5),
		LLMBreakerCooldown: e.duration("QALAB_LLM_BREAKER_COOLDOWN", 30*time.Second),
		LLMTimeout:         e.duration("QALAB_LLM_TIMEOUT", 0),
		WorkerConcurrency:  e.int("QALAB_WORKER_CONCURRENCY", 2),
		WorkerPollInterval: e.duration("QALAB_WORKER_POLL_INTERVAL", 5*time.Second),
		MetricsAddr:        e.str("QALAB_METRICS_ADDR", ""),
		OTELEndpoint:       e.str("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		OTELInsecure:       e.bool("OTEL_EXPORTER_OTLP_INSECURE", false),
		ServiceName:        e.str("OTEL_SERVICE_NAME", "qalab"),
		LogLevel:           strings.ToLower(e.str("QALAB_LOG_LEVEL", "info")),
	}
	if e.err != nil {
		return Config{}, e.err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// envVars maps Config fields to the variable that sets them.
var envVars = map[string]string{
	"Store":              "QALAB_STORE",
	"DatabaseURL":        "DATABASE_URL",
	"SQLitePath":         "QALAB_SQLITE_PATH",
	"DefaultProvider":    "QALAB_DEFAULT_PROVIDER",
	"GeneratorModel":     "QALAB_GENERATOR_MODEL",
	"JudgeModel":         "QALAB_JUDGE_MODEL",
	"LLMRateLimit":       "QALAB_LLM_RATE_LIMIT",
	"LLMBurst":           "QALAB_LLM_BURST",
	"LLMBreakerFailures": "QALAB_LLM_BREAKER_FAILURES",
	"LLMBreakerCooldown": "QALAB_LLM_BREAKER_COOLDOWN",
	"LLMTimeout":         "QALAB_LLM_TIMEOUT",
	"WorkerConcurrency":  "QALAB_WORKER_CONCURRENCY",
	"WorkerPollInterval": "QALAB_WORKER_POLL_INTERVAL",
	"ServiceName":        "OTEL_SERVICE_NAME",
	"LogLevel":           "QALAB_LOG_LEVEL",
}

var validate = validator.New()

// Validate checks the configuration and returns a *ConfigError naming the
// first offending variable.
func (c Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return fmt.Errorf("config: %w", err)
	}

	fe := fieldErrs[0]
	name := envVars[fe.StructField()]
	if name == "" {
		name = fe.StructField()
	}
	cerr := &ConfigError{Var: name, Value: fmt.Sprint(fe.Value())}
	switch fe.Tag() {
	case "required", "required_if":
		cerr.Value = ""
		cerr.Message = "is required"
		if fe.Tag() == "required_if" {
			cerr.Message = "is required when QALAB_STORE=" + c.Store
		}
	case "oneof":
		cerr.Message = "must be one of: " + strings.ReplaceAll(fe.Param(), " ", ", ")
	default:
		cerr.Message = fmt.Sprintf("failed %s=%s", fe.Tag(), fe.Param())
	}
	return cerr
}

// SlogLevel returns the configured log level.
func (c Config) SlogLevel() slog.Level {
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

// env reads typed values and keeps the first parse error.
type env struct {
	lookup func(string) (string, bool)
	err    error
}

func (e *env) raw(key string) (string, bool) {
	v, ok := e.lookup(key)
	v = strings.TrimSpace(v)
	return v, ok && v != ""
}

func (e *env) fail(key, value, kind string) {
	if e.err == nil {
		e.err = &ConfigError{Var: key, Value: value, Message: "is not a valid " + kind}
	}
}

func (e *env) str(key, def string) string {
	if v, ok := e.raw(key); ok {
		return v
	}
	return def
}

func (e *env) int(key string, def int) int {
	v, ok := e.raw(key)
	if !ok {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		e.fail(key, v, "integer")
		return def
	}
	return n
}

func (e *env) float(key string, def float64) float64 {
	v, ok := e.raw(key)
	if !ok {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		e.fail(key, v, "number")
		return def
	}
	return f
}

func (e *env) bool(key string, def bool) bool {
	v, ok := e.raw(key)
	if !ok {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		e.fail(key, v, "boolean")
		return def
	}
	return b
}

func (e *env) duration(key string, def time.Duration) time.Duration {
	v, ok := e.raw(key)
	if !ok {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		e.fail(key, v, "duration")
		return def
	}
	return d
}
