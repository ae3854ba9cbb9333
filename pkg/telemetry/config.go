package telemetry

import (
	"fmt"
	"time"
)

// Config contains the telemetry configuration for pdreach.
type Config struct {
	// ServiceName is the name reported on traces and metrics.
	ServiceName string `toml:"service_name"`

	// ServiceVersion is the version of the binary.
	ServiceVersion string `toml:"service_version"`

	// Environment names the deployment (development, ci, production).
	Environment string `toml:"environment"`

	Logging LoggingConfig `toml:"logging"`
	Tracing TracingConfig `toml:"tracing"`
	Metrics MetricsConfig `toml:"metrics"`
	Events  EventsConfig  `toml:"events"`

	// ResourceAttributes are extra attributes attached to the trace resource.
	ResourceAttributes map[string]string `toml:"resource_attributes"`
}

// LoggingConfig configures structured logging.
type LoggingConfig struct {
	// Level sets the minimum log level (trace, debug, info, warn, error, fatal).
	Level string `toml:"level"`

	// Format is console or json.
	Format string `toml:"format"`

	// Output is stdout, stderr or a file path.
	Output string `toml:"output"`

	EnableCaller bool `toml:"enable_caller"`

	// EnableSampling thins out high-frequency messages such as per-query logs
	// in large batches.
	EnableSampling     bool `toml:"enable_sampling"`
	SamplingInitial    int  `toml:"sampling_initial"`
	SamplingThereafter int  `toml:"sampling_thereafter"`

	// TimeFormat is unix, unixms, unixmicro or rfc3339.
	TimeFormat string `toml:"time_format"`
}

// TracingConfig configures OpenTelemetry tracing.
type TracingConfig struct {
	Enabled bool `toml:"enabled"`

	// Exporter is otlp, stdout or none.
	Exporter string `toml:"exporter"`

	// Endpoint is the OTLP gRPC collector address.
	Endpoint string `toml:"endpoint"`

	// SamplingRate is the fraction of traces kept (0.0 to 1.0).
	SamplingRate float64 `toml:"sampling_rate"`

	MaxExportBatchSize int           `toml:"max_export_batch_size"`
	ExportTimeout      time.Duration `toml:"export_timeout"`

	// Headers are sent with every OTLP export.
	Headers map[string]string `toml:"headers"`

	// Insecure disables TLS towards the collector.
	Insecure bool `toml:"insecure"`
}

// MetricsConfig configures Prometheus metrics.
type MetricsConfig struct {
	Enabled bool `toml:"enabled"`

	// ListenAddress is where the /metrics endpoint is served, if at all.
	ListenAddress string `toml:"listen_address"`

	Path string `toml:"path"`

	// Namespace prefixes every metric name.
	Namespace string `toml:"namespace"`

	// DefaultHistogramBuckets are the duration buckets in seconds.
	DefaultHistogramBuckets []float64 `toml:"histogram_buckets"`
}

// EventsConfig configures the in-process event publisher.
type EventsConfig struct {
	Enabled bool `toml:"enabled"`

	BufferSize int `toml:"buffer_size"`

	// EnableAsync delivers events to subscribers from a background goroutine.
	EnableAsync bool `toml:"enable_async"`
}

// DefaultConfig returns the configuration used by the CLI when no settings
// file overrides it. Tracing is off and metrics are collected but not served.
func DefaultConfig() *Config {
	return &Config{
		ServiceName:    "pdreach",
		ServiceVersion: "dev",
		Environment:    "development",
		Logging: LoggingConfig{
			Level:              "info",
			Format:             "console",
			Output:             "stderr",
			EnableCaller:       false,
			EnableSampling:     false,
			SamplingInitial:    100,
			SamplingThereafter: 100,
			TimeFormat:         "rfc3339",
		},
		Tracing: TracingConfig{
			Enabled:            false,
			Exporter:           "none",
			SamplingRate:       1.0,
			MaxExportBatchSize: 512,
			ExportTimeout:      30 * time.Second,
			Headers:            make(map[string]string),
			Insecure:           true,
		},
		Metrics: MetricsConfig{
			Enabled:       true,
			ListenAddress: "",
			Path:          "/metrics",
			Namespace:     "pdreach",
			DefaultHistogramBuckets: []float64{
				0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0, 5.0, 30.0,
			},
		},
		Events: EventsConfig{
			Enabled:     true,
			BufferSize:  1000,
			EnableAsync: true,
		},
		ResourceAttributes: make(map[string]string),
	}
}

// ProductionConfig returns JSON logging with sampled OTLP tracing.
func ProductionConfig() *Config {
	cfg := DefaultConfig()
	cfg.Environment = "production"
	cfg.Logging.Format = "json"
	cfg.Logging.EnableSampling = true
	cfg.Logging.TimeFormat = "unix"
	cfg.Tracing.Enabled = true
	cfg.Tracing.Exporter = "otlp"
	cfg.Tracing.Endpoint = "localhost:4317"
	cfg.Tracing.SamplingRate = 0.1
	cfg.Tracing.Insecure = false
	return cfg
}

// DevelopmentConfig returns verbose console logging with stdout traces.
func DevelopmentConfig() *Config {
	cfg := DefaultConfig()
	cfg.Logging.Level = "debug"
	cfg.Logging.EnableCaller = true
	cfg.Tracing.Enabled = true
	cfg.Tracing.Exporter = "stdout"
	return cfg
}

// Validate checks if the configuration is usable.
func (c *Config) Validate() error {
	if c.ServiceName == "" {
		return fmt.Errorf("service name is required")
	}

	if c.ServiceVersion == "" {
		return fmt.Errorf("service version is required")
	}

	validLevels := map[string]bool{
		"trace": true, "debug": true, "info": true,
		"warn": true, "error": true, "fatal": true,
	}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	}

	if c.Logging.Format != "console" && c.Logging.Format != "json" {
		return fmt.Errorf("invalid log format: %s (must be 'console' or 'json')", c.Logging.Format)
	}

	validExporters := map[string]bool{"otlp": true, "stdout": true, "none": true}
	if c.Tracing.Enabled && !validExporters[c.Tracing.Exporter] {
		return fmt.Errorf("invalid trace exporter: %s", c.Tracing.Exporter)
	}
	if c.Tracing.Enabled && c.Tracing.Exporter == "otlp" && c.Tracing.Endpoint == "" {
		return fmt.Errorf("otlp exporter requires an endpoint")
	}

	if c.Tracing.SamplingRate < 0 || c.Tracing.SamplingRate > 1 {
		return fmt.Errorf("trace sampling rate must be between 0 and 1, got: %f", c.Tracing.SamplingRate)
	}

	if c.Events.Enabled && c.Events.BufferSize <= 0 {
		return fmt.Errorf("event buffer size must be positive, got: %d", c.Events.BufferSize)
	}

	return nil
}
