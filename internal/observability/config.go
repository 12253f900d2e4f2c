package observability

import "fmt"

// Exporters accepted in Config.Exporter.
const (
	ExporterNone   = "none"
	ExporterStdout = "stdout"
	ExporterOTLP   = "otlp"
)

// Config selects where function-dispatch metrics and query spans go.
// Telemetry is off unless Exporter names a real exporter; the signal
// switches only narrow what an enabled exporter receives.
type Config struct {
	Exporter    string
	Endpoint    string // OTLP gRPC collector, host:port
	ServiceName string

	// SampleRate is the fraction of query spans kept. Every statement is a
	// root span, so 1.0 keeps all of them.
	SampleRate float64

	MetricsEnabled bool
	TracesEnabled  bool
}

// NewConfig returns the configuration used when no flags or environment
// variables are given: telemetry off, both signals on once an exporter is
// chosen.
func NewConfig() *Config {
	return &Config{
		Exporter:       ExporterNone,
		Endpoint:       "localhost:4317",
		ServiceName:    "sqlbridge",
		SampleRate:     1.0,
		MetricsEnabled: true,
		TracesEnabled:  true,
	}
}

// ShouldEnable returns true if OTel should be initialized.
func (c *Config) ShouldEnable() bool {
	return c.Exporter != ExporterNone
}

// Validate rejects unknown exporters, sample rates outside [0, 1] and an
// otlp exporter without an endpoint.
func (c *Config) Validate() error {
	switch c.Exporter {
	case ExporterNone, ExporterStdout:
	case ExporterOTLP:
		if c.Endpoint == "" {
			return fmt.Errorf("otlp exporter requires an endpoint")
		}
	default:
		return fmt.Errorf("unknown exporter %q (want none, stdout or otlp)", c.Exporter)
	}
	if c.SampleRate < 0 || c.SampleRate > 1 {
		return fmt.Errorf("sample rate %v outside [0, 1]", c.SampleRate)
	}
	return nil
}
