package observability

import (
	"context"
	"testing"
	"time"
)

func TestConfigDefaults(t *testing.T) {
	cfg := NewConfig()

	if cfg.Exporter != "none" {
		t.Errorf("expected default exporter 'none', got %q", cfg.Exporter)
	}
	if cfg.ServiceName != "sqlbridge" {
		t.Errorf("expected default service name 'sqlbridge', got %q", cfg.ServiceName)
	}
	if cfg.SampleRate != 1.0 {
		t.Errorf("expected default sample rate 1.0, got %f", cfg.SampleRate)
	}
	if !cfg.MetricsEnabled || !cfg.TracesEnabled {
		t.Error("expected both signals enabled by default")
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr bool
	}{
		{"defaults", func(*Config) {}, false},
		{"stdout", func(c *Config) { c.Exporter = ExporterStdout }, false},
		{"otlp", func(c *Config) { c.Exporter = ExporterOTLP }, false},
		{"otlp without endpoint", func(c *Config) { c.Exporter = ExporterOTLP; c.Endpoint = "" }, true},
		{"unknown exporter", func(c *Config) { c.Exporter = "jaeger" }, true},
		{"sample rate too high", func(c *Config) { c.SampleRate = 1.5 }, true},
		{"negative sample rate", func(c *Config) { c.SampleRate = -0.1 }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewConfig()
			tt.modify(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestTelemetryInitRejectsInvalidConfig(t *testing.T) {
	cfg := NewConfig()
	cfg.Exporter = "jaeger"

	if _, _, err := Init(context.Background(), cfg); err == nil {
		t.Fatal("expected error for unknown exporter")
	}
}

func TestConfigWithExporter(t *testing.T) {
	cfg := NewConfig()
	cfg.Exporter = "stdout"

	if !cfg.ShouldEnable() {
		t.Error("expected ShouldEnable to return true with exporter")
	}
}

func TestTelemetryInitDisabled(t *testing.T) {
	ctx := context.Background()
	cfg := NewConfig()
	cfg.Exporter = "none"

	_, cleanup, err := Init(ctx, cfg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cleanup == nil {
		t.Error("expected cleanup function to be returned")
	}
	cleanup()
}

func TestTelemetryInitStdout(t *testing.T) {
	ctx := context.Background()
	cfg := NewConfig()
	cfg.Exporter = "stdout"
	cfg.MetricsEnabled = true
	cfg.TracesEnabled = true

	tel, cleanup, err := Init(ctx, cfg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tel == nil {
		t.Fatal("expected telemetry to be returned")
	}
	if tel.TracerProvider() == nil {
		t.Error("expected tracer provider")
	}
	if tel.MeterProvider() == nil {
		t.Error("expected meter provider")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := tel.Shutdown(shutdownCtx); err != nil {
		t.Errorf("shutdown failed: %v", err)
	}
	cleanup()
}
