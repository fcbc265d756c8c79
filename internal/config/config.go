// Package config loads shab-cache settings from an optional YAML file,
// SHAB_* environment variables (including a .env file) and validates them.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"

	"github.com/eunmann/shab-cache/pkg/daily"
	"github.com/eunmann/shab-cache/pkg/mirror"
	"github.com/eunmann/shab-cache/pkg/registry"
	"github.com/eunmann/shab-cache/pkg/store"
)

// EnvConfigPath names the variable holding the YAML file path.
const EnvConfigPath = "SHAB_CONFIG"

// Config holds all runtime settings.
type Config struct {
	DataDir    string `yaml:"data_dir" validate:"required"`
	ExportDir  string `yaml:"export_dir" validate:"required"`
	StatusFile string `yaml:"status_file" validate:"required"`

	API API `yaml:"api"`

	LockTimeout time.Duration `yaml:"lock_timeout" validate:"gt=0"`
	YearsBack   int           `yaml:"years_back" validate:"min=1,max=30"`
	Recovery    string        `yaml:"recovery" validate:"oneof=fail rebuild"`

	Serve Serve    `yaml:"serve"`
	S3    S3Config `yaml:"s3"`

	Debug bool `yaml:"debug"`
	Human bool `yaml:"human"`
}

// API configures the registry client.
type API struct {
	BaseURL           string        `yaml:"base_url" validate:"required,url"`
	PageSize          int           `yaml:"page_size" validate:"min=1,max=3000"`
	MaxPages          int           `yaml:"max_pages" validate:"min=1"`
	Timeout           time.Duration `yaml:"timeout" validate:"gt=0"`
	RetryMax          int           `yaml:"retry_max" validate:"min=0,max=20"`
	RetryWaitMin      time.Duration `yaml:"retry_wait_min" validate:"gt=0"`
	RetryWaitMax      time.Duration `yaml:"retry_wait_max" validate:"gtefield=RetryWaitMin"`
	RequestsPerSecond float64       `yaml:"requests_per_second" validate:"gte=0"`
}

// Serve configures the HTTP server and the refresh schedule.
type Serve struct {
	Addr           string   `yaml:"addr" validate:"required,hostname_port"`
	AllowedOrigins []string `yaml:"allowed_origins"`
	// Schedule is a standard five-field cron spec. Empty disables it.
	Schedule string `yaml:"schedule" validate:"omitempty,cronspec"`
}

// S3Config configures the optional mirror. An empty bucket disables it.
type S3Config struct {
	Bucket   string `yaml:"bucket"`
	Prefix   string `yaml:"prefix"`
	Region   string `yaml:"region"`
	Endpoint string `yaml:"endpoint" validate:"omitempty,url"`
}

// Default returns the built-in settings.
func Default() Config {
	reg := registry.DefaultConfig()
	return Config{
		DataDir:    "./shab_data",
		ExportDir:  "./static/data",
		StatusFile: "./static/status.json",
		API: API{
			BaseURL:           reg.BaseURL,
			PageSize:          reg.PageSize,
			MaxPages:          daily.DefaultMaxPages,
			Timeout:           reg.Timeout,
			RetryMax:          reg.RetryMax,
			RetryWaitMin:      reg.RetryWaitMin,
			RetryWaitMax:      reg.RetryWaitMax,
			RequestsPerSecond: reg.RequestsPerSecond,
		},
		LockTimeout: 10 * time.Second,
		YearsBack:   3,
		Recovery:    store.RecoveryFail.String(),
		Serve: Serve{
			Addr:           ":8080",
			AllowedOrigins: []string{"*"},
			Schedule:       "0 3 * * *",
		},
	}
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("cronspec", func(fl validator.FieldLevel) bool {
		_, err := cron.ParseStandard(fl.Field().String())
		return err == nil
	})
	return v
}

// LoadDotEnv loads .env files into the environment without overriding
// variables that are already set. Missing files are ignored.
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

// Load builds the configuration: defaults, then the YAML file at path (if
// path is empty, SHAB_CONFIG is consulted; no file is fine), then SHAB_*
// environment overrides. The result is validated.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		path = os.Getenv(EnvConfigPath)
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config yaml: %w", err)
		}
	}

	if err := applyEnv(&cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return &cfg, nil
}

// Validate checks every field against its constraints.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var ve validator.ValidationErrors
		if !errors.As(err, &ve) {
			return err
		}
		msgs := make([]string, 0, len(ve))
		for _, fe := range ve {
			msgs = append(msgs, fmt.Sprintf("field '%s' failed '%s'", fe.Namespace(), fe.Tag()))
		}
		return errors.New(strings.Join(msgs, "; "))
	}
	return nil
}

// Layout is the file layout under DataDir.
func (c *Config) Layout() store.Layout {
	return store.Layout{Dir: c.DataDir}
}

// RecoveryPolicy parses Recovery. Validation guarantees it is known.
func (c *Config) RecoveryPolicy() store.RecoveryPolicy {
	p, _ := store.ParseRecoveryPolicy(c.Recovery)
	return p
}

// RegistryConfig maps the API section to the registry client settings.
func (c *Config) RegistryConfig() registry.Config {
	return registry.Config{
		BaseURL:           c.API.BaseURL,
		PageSize:          c.API.PageSize,
		Timeout:           c.API.Timeout,
		RetryMax:          c.API.RetryMax,
		RetryWaitMin:      c.API.RetryWaitMin,
		RetryWaitMax:      c.API.RetryWaitMax,
		RequestsPerSecond: c.API.RequestsPerSecond,
	}
}

// MirrorConfig maps the S3 section to the mirror settings.
func (c *Config) MirrorConfig() mirror.Config {
	return mirror.Config{
		Bucket:   c.S3.Bucket,
		Prefix:   c.S3.Prefix,
		Region:   c.S3.Region,
		Endpoint: c.S3.Endpoint,
	}
}

// PublishedFiles lists the files mirrored after a refresh: the aggregate, the
// exported files and the status document.
func (c *Config) PublishedFiles(exported []string) []string {
	files := []string{c.Layout().AggregatePath()}
	files = append(files, exported...)
	return append(files, filepath.Clean(c.StatusFile))
}

func applyEnv(cfg *Config) error {
	var errs []error
	str := func(key string, dst *string) {
		if v, ok := os.LookupEnv(key); ok && v != "" {
			*dst = v
		}
	}
	integer := func(key string, dst *int) {
		if v, ok := os.LookupEnv(key); ok && v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = n
		}
	}
	float := func(key string, dst *float64) {
		if v, ok := os.LookupEnv(key); ok && v != "" {
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = f
		}
	}
	duration := func(key string, dst *time.Duration) {
		if v, ok := os.LookupEnv(key); ok && v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = d
		}
	}
	boolean := func(key string, dst *bool) {
		if v, ok := os.LookupEnv(key); ok && v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = b
		}
	}

	str("SHAB_DATA_DIR", &cfg.DataDir)
	str("SHAB_EXPORT_DIR", &cfg.ExportDir)
	str("SHAB_STATUS_FILE", &cfg.StatusFile)

	str("SHAB_API_BASE_URL", &cfg.API.BaseURL)
	integer("SHAB_PAGE_SIZE", &cfg.API.PageSize)
	integer("SHAB_MAX_PAGES", &cfg.API.MaxPages)
	duration("SHAB_REQUEST_TIMEOUT", &cfg.API.Timeout)
	integer("SHAB_RETRY_MAX", &cfg.API.RetryMax)
	duration("SHAB_RETRY_WAIT_MIN", &cfg.API.RetryWaitMin)
	duration("SHAB_RETRY_WAIT_MAX", &cfg.API.RetryWaitMax)
	float("SHAB_REQUESTS_PER_SECOND", &cfg.API.RequestsPerSecond)

	duration("SHAB_LOCK_TIMEOUT", &cfg.LockTimeout)
	integer("SHAB_YEARS_BACK", &cfg.YearsBack)
	str("SHAB_RECOVERY", &cfg.Recovery)

	str("SHAB_LISTEN_ADDR", &cfg.Serve.Addr)
	str("SHAB_SCHEDULE", &cfg.Serve.Schedule)
	if v := os.Getenv("SHAB_ALLOWED_ORIGINS"); v != "" {
		cfg.Serve.AllowedOrigins = strings.Split(v, ",")
	}

	str("SHAB_S3_BUCKET", &cfg.S3.Bucket)
	str("SHAB_S3_PREFIX", &cfg.S3.Prefix)
	str("SHAB_S3_REGION", &cfg.S3.Region)
	str("SHAB_S3_ENDPOINT", &cfg.S3.Endpoint)

	boolean("SHAB_DEBUG", &cfg.Debug)
	boolean("SHAB_HUMAN", &cfg.Human)

	return errors.Join(errs...)
}
