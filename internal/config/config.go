// Package config loads process configuration from defaults, an optional
// YAML file and BILLCYCLE_* environment variables, in increasing priority.
package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	"github.com/neomorfeo/billcycle/internal/domain"
)

// EnvPrefix prefixes every environment override, e.g. BILLCYCLE_LOG_LEVEL.
const EnvPrefix = "BILLCYCLE"

// FileEnv names the variable holding the optional config file path.
const FileEnv = EnvPrefix + "_CONFIG"

// Config holds all process configuration.
type Config struct {
	Port         int    `mapstructure:"port" validate:"gt=0,lte=65535"`
	DatabasePath string `mapstructure:"database_path" validate:"required"`
	Environment  string `mapstructure:"environment" validate:"required"`

	Log       LogConfig       `mapstructure:"log"`
	Dunning   DunningConfig   `mapstructure:"dunning"`
	Invoice   InvoiceConfig   `mapstructure:"invoice"`
	Bus       BusConfig       `mapstructure:"bus"`
	Workers   WorkersConfig   `mapstructure:"workers"`
	Renewal   RenewalConfig   `mapstructure:"renewal"`
	Workflows WorkflowsConfig `mapstructure:"workflows"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `mapstructure:"level" validate:"oneof=debug info warn error"`
	Format string `mapstructure:"format" validate:"oneof=json console"`
}

// DunningConfig holds the retry policy for failed invoices.
type DunningConfig struct {
	// RetrySchedule is a comma separated list of delays ("1d,3d,12h").
	RetrySchedule      string `mapstructure:"retry_schedule" validate:"required"`
	MaxAttempts        int    `mapstructure:"max_attempts" validate:"gte=0"`
	EmailNotifications bool   `mapstructure:"email_notifications"`
	SMSNotifications   bool   `mapstructure:"sms_notifications"`
}

// InvoiceConfig holds invoice defaults.
type InvoiceConfig struct {
	DueDays         int    `mapstructure:"due_days" validate:"gte=0"`
	DefaultCurrency string `mapstructure:"default_currency" validate:"required,len=3"`
}

// BusConfig sizes the event bus.
type BusConfig struct {
	Shards int `mapstructure:"shards" validate:"gt=0"`
}

// WorkersConfig sizes the job worker pools.
type WorkersConfig struct {
	Actions int `mapstructure:"actions" validate:"gt=0"`
	Dunning int `mapstructure:"dunning" validate:"gt=0"`
}

// RenewalConfig controls the overdue-renewal sweep.
type RenewalConfig struct {
	SweepInterval time.Duration `mapstructure:"sweep_interval" validate:"gte=0"`
}

// WorkflowsConfig points at workflow definitions loaded on startup.
type WorkflowsConfig struct {
	File string `mapstructure:"file"`
}

// RedisConfig enables the shared firing ledger when Addr is set.
type RedisConfig struct {
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db" validate:"gte=0"`
	Prefix   string        `mapstructure:"prefix"`
	TTL      time.Duration `mapstructure:"ttl" validate:"gte=0"`
}

// TelemetryConfig selects the OpenTelemetry exporters. The OTEL_SERVICE_NAME,
// OTEL_EXPORTER and OTEL_EXPORTER_INSECURE variables are honoured as well.
type TelemetryConfig struct {
	ServiceName string `mapstructure:"service_name" validate:"required"`
	Exporter    string `mapstructure:"exporter" validate:"oneof=stdout otlp none"`
	Insecure    bool   `mapstructure:"insecure"`
}

// telemetryEnv maps telemetry keys to the standard OTEL_* names, checked
// after the BILLCYCLE_* form.
var telemetryEnv = map[string]string{
	"telemetry.service_name": "OTEL_SERVICE_NAME",
	"telemetry.exporter":     "OTEL_EXPORTER",
	"telemetry.insecure":     "OTEL_EXPORTER_INSECURE",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("port", 8080)
	v.SetDefault("database_path", "billcycle.db")
	v.SetDefault("environment", "development")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")

	v.SetDefault("dunning.retry_schedule", "1d,3d,5d,7d")
	v.SetDefault("dunning.max_attempts", 0)
	v.SetDefault("dunning.email_notifications", true)
	v.SetDefault("dunning.sms_notifications", false)

	v.SetDefault("invoice.due_days", 7)
	v.SetDefault("invoice.default_currency", "usd")

	v.SetDefault("bus.shards", 8)
	v.SetDefault("workers.actions", 4)
	v.SetDefault("workers.dunning", 2)
	v.SetDefault("renewal.sweep_interval", time.Hour)
	v.SetDefault("workflows.file", "")

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.prefix", "billcycle:fired:")
	v.SetDefault("redis.ttl", 30*24*time.Hour)

	v.SetDefault("telemetry.service_name", "billcycle")
	v.SetDefault("telemetry.exporter", "stdout")
	v.SetDefault("telemetry.insecure", false)
}

// Load builds the configuration. The file named by BILLCYCLE_CONFIG, when
// set, must exist.
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, otelName := range telemetryEnv {
		envName := EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(key, envName, otelName); err != nil {
			return nil, fmt.Errorf("binding %s: %w", key, err)
		}
	}

	if path := v.GetString("config"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks field constraints and that the retry schedule parses
// into a valid dunning policy.
func (c *Config) Validate() error {
	v := validator.New(validator.WithRequiredStructEnabled())
	if err := v.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return fmt.Errorf("invalid config: %s failed %q", verrs[0].Namespace(), verrs[0].Tag())
		}
		return fmt.Errorf("invalid config: %w", err)
	}
	if _, err := c.DunningPolicy(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// DunningPolicy converts the dunning settings into the domain policy.
func (c *Config) DunningPolicy() (domain.DunningPolicy, error) {
	schedule, err := ParseSchedule(c.Dunning.RetrySchedule)
	if err != nil {
		return domain.DunningPolicy{}, err
	}
	p := domain.DunningPolicy{
		RetrySchedule:      schedule,
		MaxAttempts:        c.Dunning.MaxAttempts,
		EmailNotifications: c.Dunning.EmailNotifications,
		SMSNotifications:   c.Dunning.SMSNotifications,
	}
	if err := p.Validate(); err != nil {
		return domain.DunningPolicy{}, err
	}
	return p, nil
}

// ParseSchedule parses comma separated delays. Each entry is a whole
// number of days ("3d") or a Go duration ("36h").
func ParseSchedule(s string) ([]time.Duration, error) {
	var out []time.Duration
	for raw := range strings.SplitSeq(s, ",") {
		part := strings.TrimSpace(raw)
		if part == "" {
			continue
		}
		d, err := parseDelay(part)
		if err != nil {
			return nil, &domain.ValidationError{Field: "retry_schedule", Reason: err.Error()}
		}
		out = append(out, d)
	}
	if len(out) == 0 {
		return nil, &domain.ValidationError{Field: "retry_schedule", Reason: "must not be empty"}
	}
	return out, nil
}

func parseDelay(s string) (time.Duration, error) {
	if days, ok := strings.CutSuffix(s, "d"); ok {
		n, err := strconv.Atoi(days)
		if err != nil {
			return 0, fmt.Errorf("bad delay %q", s)
		}
		return time.Duration(n) * 24 * time.Hour, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("bad delay %q", s)
	}
	return d, nil
}
