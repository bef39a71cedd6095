// Package config loads the station configuration.
//
// Sources are layered, later ones winning:
//
//  1. Built-in defaults (Default)
//  2. TOML file (stockscan.toml, or an explicit path)
//  3. .env file (values are exported into the environment, existing
//     variables are left alone)
//  4. STOCKSCAN_* environment variables
//  5. CLI flags, applied by the caller before Validate
//
// The merged result is checked against an embedded CUE schema.
package config

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"github.com/BurntSushi/toml"
	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"github.com/roach88/stockscan/internal/capture"
	"github.com/roach88/stockscan/internal/feedback"
)

//go:embed schema.cue
var schemaSource string

const (
	// DefaultFile is read when no config path is given and the file exists.
	DefaultFile = "stockscan.toml"

	// DefaultEnvFile is the dotenv file read when no other is given.
	DefaultEnvFile = ".env"

	// EnvPrefix prefixes every environment variable.
	EnvPrefix = "STOCKSCAN_"
)

// Config is the merged station configuration.
type Config struct {
	Engine   EngineConfig   `toml:"engine" json:"engine" envPrefix:"ENGINE_"`
	Store    StoreConfig    `toml:"store" json:"store" envPrefix:"STORE_"`
	Feedback FeedbackConfig `toml:"feedback" json:"feedback" envPrefix:"FEEDBACK_"`
	Export   ExportConfig   `toml:"export" json:"export" envPrefix:"EXPORT_"`
	Log      LogConfig      `toml:"log" json:"log" envPrefix:"LOG_"`
}

// EngineConfig selects and configures the capture engine.
type EngineConfig struct {
	Kind            string        `toml:"kind" json:"kind" env:"KIND"`
	LicenseKey      string        `toml:"license_key" json:"license_key" env:"LICENSE_KEY"`
	Symbology       string        `toml:"symbology" json:"symbology" env:"SYMBOLOGY"`
	LibraryLocation string        `toml:"library_location" json:"library_location" env:"LIBRARY_LOCATION"`
	Surface         string        `toml:"surface" json:"surface" env:"SURFACE"`
	NATSURL         string        `toml:"nats_url" json:"nats_url" env:"NATS_URL"`
	NATSPrefix      string        `toml:"nats_prefix" json:"nats_prefix" env:"NATS_PREFIX"`
	Timeout         time.Duration `toml:"timeout" json:"timeout" env:"TIMEOUT"`
	DedupWindow     time.Duration `toml:"dedup_window" json:"dedup_window" env:"DEDUP_WINDOW"`
}

// Settings returns the capture settings for Initialize.
func (e EngineConfig) Settings() capture.Settings {
	return capture.Settings{
		LicenseKey:      e.LicenseKey,
		Symbology:       e.Symbology,
		LibraryLocation: e.LibraryLocation,
	}
}

// StoreConfig selects the inventory persistence backend.
type StoreConfig struct {
	Kind        string `toml:"kind" json:"kind" env:"KIND"`
	Path        string `toml:"path" json:"path" env:"PATH"`
	RedisURL    string `toml:"redis_url" json:"redis_url" env:"REDIS_URL"`
	RedisPrefix string `toml:"redis_prefix" json:"redis_prefix" env:"REDIS_PREFIX"`
}

// FeedbackConfig configures scan feedback.
type FeedbackConfig struct {
	Bell    bool   `toml:"bell" json:"bell" env:"BELL"`
	NATSURL string `toml:"nats_url" json:"nats_url" env:"NATS_URL"`
	Topic   string `toml:"topic" json:"topic" env:"TOPIC"`
	Buffer  int    `toml:"buffer" json:"buffer" env:"BUFFER"`
}

// ExportConfig configures the S3 export destination.
type ExportConfig struct {
	S3Bucket   string `toml:"s3_bucket" json:"s3_bucket" env:"S3_BUCKET"`
	S3Region   string `toml:"s3_region" json:"s3_region" env:"S3_REGION"`
	S3Endpoint string `toml:"s3_endpoint" json:"s3_endpoint" env:"S3_ENDPOINT"`
	S3Key      string `toml:"s3_key" json:"s3_key" env:"S3_KEY"`
}

// LogConfig configures structured logging.
type LogConfig struct {
	Level  string `toml:"level" json:"level" env:"LEVEL"`
	Format string `toml:"format" json:"format" env:"FORMAT"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Engine: EngineConfig{
			Kind:        "sim",
			Symbology:   capture.DefaultSymbology,
			Surface:     "main",
			NATSPrefix:  capture.DefaultNATSPrefix,
			Timeout:     capture.DefaultRequestTimeout,
			DedupWindow: capture.DefaultDedupWindow,
		},
		Store: StoreConfig{
			Kind:        "sqlite",
			Path:        "stockscan.db",
			RedisPrefix: "stockscan:",
		},
		Feedback: FeedbackConfig{
			Topic:  feedback.TopicScanRecorded,
			Buffer: feedback.DefaultBuffer,
		},
		Export: ExportConfig{
			S3Region: "us-east-1",
			S3Key:    "stockscan/inventory.jsonl",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// LoadOptions controls where Load reads from.
type LoadOptions struct {
	// Path is an explicit TOML file. It must exist when set.
	Path string

	// EnvFile is the dotenv file. Empty means DefaultEnvFile. A missing file
	// is ignored.
	EnvFile string
}

// Load merges defaults, the TOML file, the dotenv file and the environment,
// then validates the result.
func Load(opts LoadOptions) (*Config, error) {
	cfg := Default()

	path, required := opts.Path, true
	if path == "" {
		path, required = DefaultFile, false
	}
	if err := decodeFile(path, required, &cfg); err != nil {
		return nil, err
	}

	envFile := opts.EnvFile
	if envFile == "" {
		envFile = DefaultEnvFile
	}
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load %s: %w", envFile, err)
	}

	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func decodeFile(path string, required bool, cfg *Config) error {
	if _, err := os.Stat(path); err != nil {
		if !required && errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("config file: %w", err)
	}

	md, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return &Error{Field: keys[0], Message: fmt.Sprintf("unknown key in %s (%s)", path, strings.Join(keys, ", "))}
	}
	return nil
}

// Validate normalizes the symbology and checks the configuration against the
// embedded schema.
func (c *Config) Validate() error {
	c.Engine.Symbology = capture.NormalizeSymbology(c.Engine.Symbology)
	c.Log.Level = strings.ToLower(c.Log.Level)
	c.Log.Format = strings.ToLower(c.Log.Format)

	ctx := cuecontext.New()
	schema := ctx.CompileString(schemaSource, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return fmt.Errorf("compile config schema: %w", err)
	}

	def := schema.LookupPath(cue.ParsePath("#Config"))
	v := def.Unify(ctx.Encode(c))
	if err := v.Validate(cue.Concrete(true)); err != nil {
		return formatCUEError(err)
	}
	return nil
}

// Error is a configuration validation failure.
type Error struct {
	Field   string
	Message string
}

func (e *Error) Error() string {
	if e.Field == "" {
		return "config: " + e.Message
	}
	return fmt.Sprintf("config: %s: %s", e.Field, e.Message)
}

// IsConfigError returns true if err is a configuration validation failure.
func IsConfigError(err error) bool {
	var cerr *Error
	return errors.As(err, &cerr)
}

// formatCUEError reports the first schema violation with its field path.
func formatCUEError(err error) error {
	errs := cueerrors.Errors(err)
	if len(errs) == 0 {
		return &Error{Message: err.Error()}
	}
	first := errs[0]
	format, args := first.Msg()
	return &Error{
		Field:   strings.Join(first.Path(), "."),
		Message: fmt.Sprintf(format, args...),
	}
}
