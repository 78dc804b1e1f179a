package config_test

import (
	"os"
	"path/filepath"
	"slices"
	"testing"
	"time"

	"github.com/neomorfeo/billcycle/internal/config"
)

const day = 24 * time.Hour

func TestLoad_Defaults(t *testing.T) {
	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Port != 8080 || cfg.DatabasePath != "billcycle.db" || cfg.Environment != "development" {
		t.Errorf("got port=%d db=%q env=%q", cfg.Port, cfg.DatabasePath, cfg.Environment)
	}
	if cfg.Log.Level != "info" || cfg.Log.Format != "console" {
		t.Errorf("Log = %+v", cfg.Log)
	}
	if cfg.Invoice.DueDays != 7 || cfg.Invoice.DefaultCurrency != "usd" {
		t.Errorf("Invoice = %+v", cfg.Invoice)
	}
	if cfg.Bus.Shards != 8 || cfg.Workers.Actions != 4 || cfg.Workers.Dunning != 2 {
		t.Errorf("Bus = %+v, Workers = %+v", cfg.Bus, cfg.Workers)
	}
	if cfg.Renewal.SweepInterval != time.Hour {
		t.Errorf("SweepInterval = %v, want 1h", cfg.Renewal.SweepInterval)
	}
	if cfg.Redis.Addr != "" {
		t.Errorf("Redis.Addr = %q, want empty", cfg.Redis.Addr)
	}
	if cfg.Telemetry.ServiceName != "billcycle" || cfg.Telemetry.Exporter != "stdout" || cfg.Telemetry.Insecure {
		t.Errorf("Telemetry = %+v", cfg.Telemetry)
	}

	p, err := cfg.DunningPolicy()
	if err != nil {
		t.Fatalf("DunningPolicy failed: %v", err)
	}
	want := []time.Duration{day, 3 * day, 5 * day, 7 * day}
	if !slices.Equal(p.RetrySchedule, want) {
		t.Errorf("RetrySchedule = %v, want %v", p.RetrySchedule, want)
	}
	if p.Attempts() != 4 || !p.EmailNotifications || p.SMSNotifications {
		t.Errorf("policy = %+v", p)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("BILLCYCLE_PORT", "9090")
	t.Setenv("BILLCYCLE_LOG_LEVEL", "debug")
	t.Setenv("BILLCYCLE_DUNNING_RETRY_SCHEDULE", "12h,2d")
	t.Setenv("BILLCYCLE_DUNNING_SMS_NOTIFICATIONS", "true")
	t.Setenv("BILLCYCLE_REDIS_ADDR", "localhost:6379")

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Port != 9090 || cfg.Log.Level != "debug" || cfg.Redis.Addr != "localhost:6379" {
		t.Errorf("got port=%d level=%q redis=%q", cfg.Port, cfg.Log.Level, cfg.Redis.Addr)
	}
	p, err := cfg.DunningPolicy()
	if err != nil {
		t.Fatalf("DunningPolicy failed: %v", err)
	}
	if !slices.Equal(p.RetrySchedule, []time.Duration{12 * time.Hour, 2 * day}) || !p.SMSNotifications {
		t.Errorf("policy = %+v", p)
	}
}

func TestLoad_TelemetryEnv(t *testing.T) {
	t.Setenv("OTEL_SERVICE_NAME", "billing-eu")
	t.Setenv("OTEL_EXPORTER", "otlp")
	t.Setenv("OTEL_EXPORTER_INSECURE", "true")

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Telemetry.ServiceName != "billing-eu" || cfg.Telemetry.Exporter != "otlp" || !cfg.Telemetry.Insecure {
		t.Errorf("Telemetry = %+v", cfg.Telemetry)
	}

	// The prefixed form wins.
	t.Setenv("BILLCYCLE_TELEMETRY_EXPORTER", "none")
	cfg, err = config.Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Telemetry.Exporter != "none" {
		t.Errorf("Exporter = %q, want none", cfg.Telemetry.Exporter)
	}
}

func TestLoad_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "billcycle.yaml")
	doc := "port: 7000\ninvoice:\n  due_days: 14\nworkflows:\n  file: /etc/billcycle/workflows.yaml\n"
	if err := os.WriteFile(path, []byte(doc), 0o600); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	t.Setenv(config.FileEnv, path)
	t.Setenv("BILLCYCLE_PORT", "7001")

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Port != 7001 {
		t.Errorf("Port = %d, want env to win over file", cfg.Port)
	}
	if cfg.Invoice.DueDays != 14 || cfg.Workflows.File != "/etc/billcycle/workflows.yaml" {
		t.Errorf("Invoice = %+v, Workflows = %+v", cfg.Invoice, cfg.Workflows)
	}
}

func TestLoad_Rejects(t *testing.T) {
	tests := []struct {
		name, key, value string
	}{
		{"missing file", config.FileEnv, "/nonexistent/billcycle.yaml"},
		{"bad port", "BILLCYCLE_PORT", "70000"},
		{"bad level", "BILLCYCLE_LOG_LEVEL", "loud"},
		{"bad currency", "BILLCYCLE_INVOICE_DEFAULT_CURRENCY", "dollars"},
		{"decreasing schedule", "BILLCYCLE_DUNNING_RETRY_SCHEDULE", "3d,1d"},
		{"zero shards", "BILLCYCLE_BUS_SHARDS", "0"},
		{"bad exporter", "OTEL_EXPORTER", "jaeger"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			if _, err := config.Load(); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestParseSchedule(t *testing.T) {
	tests := []struct {
		in      string
		want    []time.Duration
		wantErr bool
	}{
		{"1d,3d", []time.Duration{day, 3 * day}, false},
		{" 90m , 2d ", []time.Duration{90 * time.Minute, 2 * day}, false},
		{"", nil, true},
		{"1w", nil, true},
		{"xd", nil, true},
	}
	for _, tt := range tests {
		got, err := config.ParseSchedule(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseSchedule(%q) err = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if !slices.Equal(got, tt.want) {
			t.Errorf("ParseSchedule(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
