// Package config provides configuration loading and validation for deicer.
// Supports YAML files with environment variable overrides and an optional
// .env file for credentials.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/subosito/gotenv"
	"gopkg.in/yaml.v3"
)

// ConfigPathEnv names the variable Load consults when no path is given.
const ConfigPathEnv = "DEICER_CONFIG"

// ErrMissingCredentials is returned by Validate when the AWS key pair is absent.
var ErrMissingCredentials = errors.New("missing AWS credentials")

// Config holds all configuration for a deicer invocation.
type Config struct {
	State         StateConfig         `yaml:"state"`
	AWS           AWSConfig           `yaml:"aws"`
	Retention     RetentionConfig     `yaml:"retention"`
	Deletion      DeletionConfig      `yaml:"deletion"`
	Observability ObservabilityConfig `yaml:"observability"`
	Audit         AuditConfig         `yaml:"audit"`
}

type StateConfig struct {
	// Path of the campaign's record store. ".db"/".sqlite" selects SQLite.
	Path string `yaml:"path" env:"DEICER_STATE"`
}

type AWSConfig struct {
	Region    string `yaml:"region" env:"AWS_DEFAULT_REGION"`
	Endpoint  string `yaml:"endpoint" env:"DEICER_GLACIER_ENDPOINT"`
	AccountID string `yaml:"accountId" env:"DEICER_ACCOUNT_ID"`

	// MaxAttempts bounds the SDK's own retries of throttled requests.
	MaxAttempts int `yaml:"maxAttempts" env:"DEICER_AWS_MAX_ATTEMPTS"`

	// EnvFile is read into the environment before credentials are resolved.
	// Variables already set in the environment win.
	EnvFile string `yaml:"envFile" env:"DEICER_ENV_FILE"`

	// Credentials are only taken from the environment.
	AccessKeyID     string `yaml:"-" env:"AWS_ACCESS_KEY_ID"`
	SecretAccessKey string `yaml:"-" env:"AWS_SECRET_ACCESS_KEY"`
	SessionToken    string `yaml:"-" env:"AWS_SESSION_TOKEN"`
}

type RetentionConfig struct {
	Window time.Duration `yaml:"window" env:"DEICER_RETENTION"`
}

type DeletionConfig struct {
	Attempts int           `yaml:"attempts" env:"DEICER_DELETE_ATTEMPTS"`
	Delay    time.Duration `yaml:"delay" env:"DEICER_DELETE_DELAY"`
}

type ObservabilityConfig struct {
	LogLevel  string `yaml:"logLevel" env:"DEICER_LOG_LEVEL"`
	LogFormat string `yaml:"logFormat" env:"DEICER_LOG_FORMAT"`

	// MetricsTextfile, when set, receives the run's metrics in the node
	// exporter textfile format.
	MetricsTextfile string `yaml:"metricsTextfile" env:"DEICER_METRICS_TEXTFILE"`

	// PushgatewayURL, when set, receives the run's metrics under PushJob.
	PushgatewayURL string `yaml:"pushgatewayUrl" env:"DEICER_PUSHGATEWAY_URL"`
	PushJob        string `yaml:"pushJob" env:"DEICER_PUSH_JOB"`
}

// AuditConfig configures the S3 audit log. Disabled when Bucket is empty.
// The AWS credentials and region are shared with the vault service.
type AuditConfig struct {
	Bucket       string `yaml:"bucket" env:"DEICER_AUDIT_BUCKET"`
	Prefix       string `yaml:"prefix" env:"DEICER_AUDIT_PREFIX"`
	Endpoint     string `yaml:"endpoint" env:"DEICER_AUDIT_ENDPOINT"`
	UsePathStyle bool   `yaml:"usePathStyle" env:"DEICER_AUDIT_PATH_STYLE"`
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		State: StateConfig{
			Path: "deicer-state.json",
		},
		AWS: AWSConfig{
			Region:    "us-east-1",
			AccountID: "-",
			EnvFile:   ".env",
		},
		Retention: RetentionConfig{
			Window: 24 * time.Hour,
		},
		Deletion: DeletionConfig{
			Attempts: 5,
			Delay:    300 * time.Second,
		},
		Observability: ObservabilityConfig{
			LogLevel:  "info",
			LogFormat: "text",
			PushJob:   "deicer",
		},
		Audit: AuditConfig{
			Prefix: "deicer",
		},
	}
}

// Load builds a Config from defaults, the YAML file at path (or at
// $DEICER_CONFIG when path is empty), the .env file and the environment,
// in that order of increasing precedence.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv(ConfigPathEnv)
	}
	cfg := Default()
	if path != "" {
		if err := cfg.mergeFile(path); err != nil {
			return nil, err
		}
	}

	envFile := cfg.AWS.EnvFile
	if v, ok := os.LookupEnv("DEICER_ENV_FILE"); ok {
		envFile = v
	}
	if err := loadEnvFile(envFile); err != nil {
		return nil, err
	}

	if err := applyEnv(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromPath parses a YAML file over the defaults without consulting the
// environment.
func LoadFromPath(path string) (*Config, error) {
	cfg := Default()
	if err := cfg.mergeFile(path); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) mergeFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}
	return nil
}

// loadEnvFile exports the variables of a dotenv file that are not already
// set. A missing file is not an error.
func loadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err := gotenv.Load(path); err != nil {
		return fmt.Errorf("config: load env file %s: %w", path, err)
	}
	return nil
}

var durationType = reflect.TypeOf(time.Duration(0))

// applyEnv overrides fields tagged with `env` from the environment.
func applyEnv(cfg *Config) error {
	return applyEnvStruct(reflect.ValueOf(cfg).Elem())
}

func applyEnvStruct(v reflect.Value) error {
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		field := v.Field(i)
		sf := t.Field(i)

		if field.Kind() == reflect.Struct && field.Type() != durationType {
			if err := applyEnvStruct(field); err != nil {
				return err
			}
			continue
		}

		name := sf.Tag.Get("env")
		if name == "" {
			continue
		}
		raw, ok := os.LookupEnv(name)
		if !ok {
			continue
		}
		if err := setField(field, strings.TrimSpace(raw)); err != nil {
			return fmt.Errorf("config: %s: %w", name, err)
		}
	}
	return nil
}

func setField(field reflect.Value, raw string) error {
	if field.Type() == durationType {
		d, err := time.ParseDuration(raw)
		if err != nil {
			return err
		}
		field.SetInt(int64(d))
		return nil
	}
	switch field.Kind() {
	case reflect.String:
		field.SetString(raw)
	case reflect.Int, reflect.Int64:
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return err
		}
		field.SetInt(n)
	case reflect.Bool:
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return err
		}
		field.SetBool(b)
	default:
		return fmt.Errorf("unsupported field kind %s", field.Kind())
	}
	return nil
}

// Validate checks the configuration including credentials. It is called
// before the record store is opened so that setup mistakes fail fast.
func (c *Config) Validate() error {
	var errs []error
	if c.AWS.AccessKeyID == "" || c.AWS.SecretAccessKey == "" {
		errs = append(errs, fmt.Errorf("%w: set AWS_ACCESS_KEY_ID and AWS_SECRET_ACCESS_KEY (environment or %s)", ErrMissingCredentials, c.AWS.EnvFile))
	}
	if err := c.ValidateSettings(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// ValidateSettings checks everything but credentials, for commands that
// never contact the service.
func (c *Config) ValidateSettings() error {
	var errs []error

	if c.AWS.Region == "" {
		errs = append(errs, errors.New("aws.region must not be empty"))
	}
	if c.AWS.MaxAttempts < 0 {
		errs = append(errs, errors.New("aws.maxAttempts must not be negative"))
	}
	if c.State.Path == "" {
		errs = append(errs, errors.New("state.path must not be empty"))
	}
	if c.Retention.Window <= 0 {
		errs = append(errs, fmt.Errorf("retention.window must be positive, got %s", c.Retention.Window))
	}
	if c.Deletion.Attempts <= 0 {
		errs = append(errs, fmt.Errorf("deletion.attempts must be positive, got %d", c.Deletion.Attempts))
	}
	if c.Deletion.Delay <= 0 {
		errs = append(errs, fmt.Errorf("deletion.delay must be positive, got %s", c.Deletion.Delay))
	}
	switch c.Observability.LogLevel {
	case "debug", "info", "warn", "warning", "error":
	default:
		errs = append(errs, fmt.Errorf("observability.logLevel %q is not one of debug, info, warn, error", c.Observability.LogLevel))
	}
	switch c.Observability.LogFormat {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("observability.logFormat %q is not text or json", c.Observability.LogFormat))
	}

	return errors.Join(errs...)
}

// CredentialPresence reports which credential variables are set, for
// logging. Values are never included.
func (c *Config) CredentialPresence() map[string]any {
	return map[string]any{
		"AWS_ACCESS_KEY_ID":     c.AWS.AccessKeyID != "",
		"AWS_SECRET_ACCESS_KEY": c.AWS.SecretAccessKey != "",
		"AWS_SESSION_TOKEN":     c.AWS.SessionToken != "",
		"region":                c.AWS.Region,
	}
}
