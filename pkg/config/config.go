// Package config provides the YAML configuration for the stacktake CLI and
// engine, with struct-tag validation and a file watcher for hot reload.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/stacktake/stacktake/pkg/telemetry"
)

// Config is the root configuration for a stacktake process.
type Config struct {
	Engine    EngineConfig    `yaml:"engine"`
	Transport TransportConfig `yaml:"transport"`
	History   HistoryConfig   `yaml:"history"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// EngineConfig tunes the orchestrator.
type EngineConfig struct {
	// MaxConcurrentExtractors bounds the worker pool.
	MaxConcurrentExtractors int `yaml:"max_concurrent_extractors" validate:"gte=0"`

	// ExtractorTimeout bounds each extractor call.
	ExtractorTimeout time.Duration `yaml:"extractor_timeout"`

	// DefaultBatchSize is used when a job does not set one.
	DefaultBatchSize int `yaml:"default_batch_size" validate:"gte=0"`
}

// TransportConfig selects and configures the delivery transport.
type TransportConfig struct {
	// Type selects the transport implementation.
	Type string `yaml:"type" validate:"required,oneof=httppush objectstore sftppush localdir discard"`

	Retry       RetryConfig       `yaml:"retry"`
	HTTP        HTTPConfig        `yaml:"http"`
	ObjectStore ObjectStoreConfig `yaml:"objectstore"`
	SFTP        SFTPConfig        `yaml:"sftp"`
	LocalDir    LocalDirConfig    `yaml:"localdir"`
}

// RetryConfig configures the retry decorator around the transport.
type RetryConfig struct {
	MaxAttempts   int           `yaml:"max_attempts" validate:"gte=0"`
	BaseDelay     time.Duration `yaml:"base_delay"`
	ThrottleDelay time.Duration `yaml:"throttle_delay"`
	MaxDelay      time.Duration `yaml:"max_delay"`
}

// HTTPConfig configures the httppush transport.
type HTTPConfig struct {
	Endpoint string            `yaml:"endpoint" validate:"omitempty,url"`
	Headers  map[string]string `yaml:"headers"`
	Timeout  time.Duration     `yaml:"timeout"`
}

// ObjectStoreConfig configures the objectstore transport.
type ObjectStoreConfig struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	UseSSL    bool   `yaml:"use_ssl"`
	Region    string `yaml:"region"`
	Bucket    string `yaml:"bucket"`
	Prefix    string `yaml:"prefix"`
}

// SFTPConfig configures the sftppush transport.
type SFTPConfig struct {
	Host                  string        `yaml:"host"`
	Port                  int           `yaml:"port" validate:"gte=0,lte=65535"`
	User                  string        `yaml:"user"`
	AuthMethod            string        `yaml:"auth_method" validate:"omitempty,oneof=password key"`
	Password              string        `yaml:"password"`
	PrivateKeyPath        string        `yaml:"private_key_path"`
	KnownHostsPath        string        `yaml:"known_hosts_path"`
	StrictHostKeyChecking bool          `yaml:"strict_host_key_checking"`
	ConnectionTimeout     time.Duration `yaml:"connection_timeout"`
	RemoteDir             string        `yaml:"remote_dir"`
}

// LocalDirConfig configures the localdir transport.
type LocalDirConfig struct {
	Dir         string `yaml:"dir"`
	PrettyPrint bool   `yaml:"pretty_print"`
}

// HistoryConfig configures durable job history.
type HistoryConfig struct {
	// Enabled turns on SQLite-backed job history.
	Enabled bool `yaml:"enabled"`

	// Path is the SQLite database file.
	Path string `yaml:"path"`
}

// TelemetryConfig is the flattened telemetry configuration exposed in the
// YAML file. It maps onto the telemetry package's Config.
type TelemetryConfig struct {
	LogLevel  string `yaml:"log_level" validate:"omitempty,oneof=trace debug info warn error fatal"`
	LogFormat string `yaml:"log_format" validate:"omitempty,oneof=console json"`
	LogOutput string `yaml:"log_output"`

	MetricsEnabled       bool   `yaml:"metrics_enabled"`
	MetricsListenAddress string `yaml:"metrics_listen_address"`

	TracingEnabled  bool    `yaml:"tracing_enabled"`
	TracingExporter string  `yaml:"tracing_exporter" validate:"omitempty,oneof=otlp stdout none"`
	TracingEndpoint string  `yaml:"tracing_endpoint"`
	SamplingRate    float64 `yaml:"sampling_rate" validate:"gte=0,lte=1"`
}

// Default returns the configuration defaults: discard transport, history
// off, quiet telemetry.
func Default() *Config {
	return &Config{
		Engine: EngineConfig{
			MaxConcurrentExtractors: 10,
			ExtractorTimeout:        5 * time.Minute,
			DefaultBatchSize:        100,
		},
		Transport: TransportConfig{
			Type: "discard",
			Retry: RetryConfig{
				MaxAttempts:   3,
				BaseDelay:     250 * time.Millisecond,
				ThrottleDelay: 2 * time.Second,
				MaxDelay:      30 * time.Second,
			},
			SFTP: SFTPConfig{
				Port:                  22,
				AuthMethod:            "key",
				StrictHostKeyChecking: true,
				ConnectionTimeout:     30 * time.Second,
				RemoteDir:             "stacktake",
			},
		},
		History: HistoryConfig{
			Enabled: false,
			Path:    "stacktake.db",
		},
		Telemetry: TelemetryConfig{
			LogLevel:             "info",
			LogFormat:            "console",
			LogOutput:            "stderr",
			MetricsListenAddress: ":9090",
			TracingExporter:      "none",
			SamplingRate:         1.0,
		},
	}
}

// Load reads and validates the configuration file at path, layered over
// the defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates YAML configuration, layered over the
// defaults.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks struct tags and cross-field requirements.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	// Per-transport requirements only bind for the selected type.
	switch c.Transport.Type {
	case "httppush":
		if c.Transport.HTTP.Endpoint == "" {
			return fmt.Errorf("invalid config: transport.http.endpoint is required for httppush")
		}
	case "objectstore":
		o := c.Transport.ObjectStore
		if o.Endpoint == "" || o.Bucket == "" {
			return fmt.Errorf("invalid config: transport.objectstore endpoint and bucket are required")
		}
	case "sftppush":
		s := c.Transport.SFTP
		if s.Host == "" || s.User == "" {
			return fmt.Errorf("invalid config: transport.sftp host and user are required")
		}
	case "localdir":
		if c.Transport.LocalDir.Dir == "" {
			return fmt.Errorf("invalid config: transport.localdir.dir is required")
		}
	}

	if c.History.Enabled && c.History.Path == "" {
		return fmt.Errorf("invalid config: history.path is required when history is enabled")
	}

	return nil
}

// TelemetrySettings maps the flattened YAML telemetry section onto the
// telemetry package's configuration.
func (c *Config) TelemetrySettings(serviceVersion string) *telemetry.Config {
	tc := telemetry.DefaultConfig()
	tc.ServiceVersion = serviceVersion
	tc.Logging.Level = c.Telemetry.LogLevel
	tc.Logging.Format = c.Telemetry.LogFormat
	tc.Logging.Output = c.Telemetry.LogOutput
	tc.Metrics.Enabled = c.Telemetry.MetricsEnabled
	tc.Metrics.ListenAddress = c.Telemetry.MetricsListenAddress
	tc.Tracing.Enabled = c.Telemetry.TracingEnabled
	tc.Tracing.Exporter = c.Telemetry.TracingExporter
	tc.Tracing.Endpoint = c.Telemetry.TracingEndpoint
	tc.Tracing.SamplingRate = c.Telemetry.SamplingRate
	if tc.Tracing.Enabled && tc.Tracing.Exporter == "" {
		tc.Tracing.Exporter = "none"
	}
	return tc
}
