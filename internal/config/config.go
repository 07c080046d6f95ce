// Package config provides configuration loading with layered overrides.
// Load order: defaults -> YAML file -> environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	configloader "github.com/GabrielNunesIT/go-libs/config-loader"
)

// ErrInvalidConfig is wrapped by every validation failure.
var ErrInvalidConfig = errors.New("invalid configuration")

// Transport kinds.
const (
	TransportHTTP          = "http"
	TransportStdout        = "stdout"
	TransportFile          = "file"
	TransportElasticsearch = "elasticsearch"
	TransportPostgres      = "postgres"
)

// Config is the root configuration structure for the agent.
type Config struct {
	LogLevel  string          `koanf:"loglevel" yaml:"log_level" json:"log_level"`
	Client    ClientConfig    `koanf:"client"`
	Transport TransportConfig `koanf:"transport"`
	Pipeline  PipelineConfig  `koanf:"pipeline"`
	Ingestors IngestorConfig  `koanf:"ingestors"`
}

// ClientConfig holds the delivery settings. They are read once when the
// client is built and never change afterwards.
type ClientConfig struct {
	PublicKey     string        `koanf:"publickey" yaml:"public_key" json:"public_key"`
	APIHost       string        `koanf:"apihost" yaml:"api_host" json:"api_host"`
	FlushInterval time.Duration `koanf:"flushinterval" yaml:"flush_interval" json:"flush_interval"`
	MaxBatchSize  int           `koanf:"maxbatchsize" yaml:"max_batch_size" json:"max_batch_size"`
	Timeout       time.Duration `koanf:"timeout" yaml:"timeout" json:"timeout"`
}

// TransportConfig selects and configures the delivery destination.
type TransportConfig struct {
	Kind          string                       `koanf:"kind"`
	Stdout        StdoutTransportConfig        `koanf:"stdout"`
	File          FileTransportConfig          `koanf:"file"`
	Elasticsearch ElasticsearchTransportConfig `koanf:"elasticsearch"`
	Postgres      PostgresTransportConfig      `koanf:"postgres"`
}

// StdoutTransportConfig configures the dry-run transport.
type StdoutTransportConfig struct {
	Format string `koanf:"format"` // "json" or "text"
}

// FileTransportConfig configures the rotating file transport.
type FileTransportConfig struct {
	Path       string `koanf:"path"`
	MaxSizeMB  int    `koanf:"maxsizemb" yaml:"max_size_mb" json:"max_size_mb"`
	MaxBackups int    `koanf:"maxbackups" yaml:"max_backups" json:"max_backups"`
	MaxAgeDays int    `koanf:"maxagedays" yaml:"max_age_days" json:"max_age_days"`
	Compress   bool   `koanf:"compress"`
}

// ElasticsearchTransportConfig configures the Elasticsearch transport.
type ElasticsearchTransportConfig struct {
	Addresses []string `koanf:"addresses"`
	Index     string   `koanf:"index"`
	Username  string   `koanf:"username"`
	Password  string   `koanf:"password"`
}

// PostgresTransportConfig configures the Postgres transport.
type PostgresTransportConfig struct {
	DBURL        string `koanf:"dburl" yaml:"db_url" json:"db_url"`
	Table        string `koanf:"table"`
	EnsureSchema bool   `koanf:"ensureschema" yaml:"ensure_schema" json:"ensure_schema"`
}

// PipelineConfig controls the pipeline behavior.
type PipelineConfig struct {
	BufferSize      int           `koanf:"buffersize" yaml:"buffer_size" json:"buffer_size"`
	ShutdownTimeout time.Duration `koanf:"shutdowntimeout" yaml:"shutdown_timeout" json:"shutdown_timeout"`
}

// IngestorConfig holds configuration for all ingestors.
type IngestorConfig struct {
	File    FileIngestorConfig    `koanf:"file"`
	Syslog  SyslogIngestorConfig  `koanf:"syslog"`
	Journal JournalIngestorConfig `koanf:"journal"`
	Stdin   StdinIngestorConfig   `koanf:"stdin"`
	HTTP    HTTPIngestorConfig    `koanf:"http"`
}

// FileIngestorConfig configures the file tailing ingestor.
type FileIngestorConfig struct {
	Enabled   bool            `koanf:"enabled"`
	Paths     []string        `koanf:"paths"`
	Exclude   []string        `koanf:"exclude"`
	Processor ProcessorConfig `koanf:"processor"`
}

// SyslogIngestorConfig configures the syslog ingestor.
type SyslogIngestorConfig struct {
	Enabled   bool            `koanf:"enabled"`
	Protocol  string          `koanf:"protocol"` // "udp" or "tcp"
	Address   string          `koanf:"address"`
	Processor ProcessorConfig `koanf:"processor"`
}

// JournalIngestorConfig configures the systemd journal ingestor.
type JournalIngestorConfig struct {
	Enabled   bool            `koanf:"enabled"`
	Units     []string        `koanf:"units"`
	Processor ProcessorConfig `koanf:"processor"`
}

// StdinIngestorConfig configures the stdin ingestor.
type StdinIngestorConfig struct {
	Enabled   bool            `koanf:"enabled"`
	Processor ProcessorConfig `koanf:"processor"`
}

// HTTPIngestorConfig configures the local HTTP ingest endpoint.
type HTTPIngestorConfig struct {
	Enabled   bool            `koanf:"enabled"`
	Address   string          `koanf:"address"`
	APIKeys   []string        `koanf:"apikeys" yaml:"api_keys" json:"api_keys"`
	MaxEvents int             `koanf:"maxevents" yaml:"max_events" json:"max_events"`
	Processor ProcessorConfig `koanf:"processor"`
}

// ProcessorConfig holds the processor chain configuration per ingestor.
type ProcessorConfig struct {
	Decoder  DecoderConfig  `koanf:"decoder"`
	Enricher EnricherConfig `koanf:"enricher"`
	Filter   FilterConfig   `koanf:"filter"`
}

// DecoderConfig configures how raw records become events.
type DecoderConfig struct {
	// Validate drops events missing variant-specific required fields.
	Validate bool `koanf:"validate"`
}

// EnricherConfig configures the enrichment processor.
type EnricherConfig struct {
	Enabled          bool              `koanf:"enabled"`
	AddHostname      bool              `koanf:"addhostname" yaml:"add_hostname" json:"add_hostname"`
	AddSource        bool              `koanf:"addsource" yaml:"add_source" json:"add_source"`
	StaticProperties map[string]string `koanf:"staticproperties" yaml:"static_properties" json:"static_properties"`
}

// FilterConfig configures the CEL event filter.
type FilterConfig struct {
	// Expression is a CEL expression evaluated per event; events for which it
	// is false are dropped. Empty disables filtering.
	Expression string `koanf:"expression"`
}

func defaultProcessor() ProcessorConfig {
	return ProcessorConfig{
		Decoder:  DecoderConfig{Validate: true},
		Enricher: EnricherConfig{Enabled: true},
	}
}

// defaults returns the default configuration values.
func defaults() Config {
	return Config{
		LogLevel: "info",
		Client: ClientConfig{
			APIHost:       "https://app.outlit.ai",
			FlushInterval: 10 * time.Second,
			MaxBatchSize:  100,
			Timeout:       10 * time.Second,
		},
		Transport: TransportConfig{
			Kind: TransportHTTP,
			Stdout: StdoutTransportConfig{
				Format: "json",
			},
			File: FileTransportConfig{
				MaxSizeMB:  100,
				MaxBackups: 3,
				MaxAgeDays: 7,
				Compress:   true,
			},
			Elasticsearch: ElasticsearchTransportConfig{
				Index: "outlit-events",
			},
			Postgres: PostgresTransportConfig{
				Table:        "outlit_events",
				EnsureSchema: true,
			},
		},
		Pipeline: PipelineConfig{
			BufferSize:      1000,
			ShutdownTimeout: 30 * time.Second,
		},
		Ingestors: IngestorConfig{
			File: FileIngestorConfig{
				Processor: ProcessorConfig{
					Decoder: DecoderConfig{Validate: true},
					Enricher: EnricherConfig{
						Enabled:     true,
						AddHostname: true,
					},
				},
			},
			Syslog: SyslogIngestorConfig{
				Protocol:  "udp",
				Address:   ":5514",
				Processor: defaultProcessor(),
			},
			Journal: JournalIngestorConfig{
				Processor: defaultProcessor(),
			},
			Stdin: StdinIngestorConfig{
				Processor: defaultProcessor(),
			},
			HTTP: HTTPIngestorConfig{
				Address:   "127.0.0.1:8089",
				MaxEvents: 500,
				Processor: defaultProcessor(),
			},
		},
	}
}

// Load reads configuration from all sources with proper override order.
// Order: defaults -> config file -> environment variables.
func Load(configPath string) (*Config, error) {
	opts := []configloader.Option[Config]{
		configloader.WithDefaults[Config](defaults()),
	}

	// Add file source if path provided or if default config exists
	if configPath != "" {
		opts = append(opts, configloader.WithFile[Config](configPath))
	} else {
		for _, path := range []string{"./config.yaml", "/etc/outlit-agent/config.yaml"} {
			if _, err := os.Stat(path); err == nil {
				opts = append(opts, configloader.WithFile[Config](path))
				break
			}
		}
	}

	opts = append(opts, configloader.WithEnv[Config]("OUTLIT_AGENT_"))

	loader := configloader.NewConfigLoader[Config](opts...)
	cfg, err := loader.Load()
	if err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks the client and transport settings.
func (c *Config) Validate() error {
	if c.Client.FlushInterval <= 0 {
		return fmt.Errorf("%w: client.flushinterval must be positive", ErrInvalidConfig)
	}
	if c.Client.MaxBatchSize <= 0 {
		return fmt.Errorf("%w: client.maxbatchsize must be positive", ErrInvalidConfig)
	}
	if c.Client.Timeout <= 0 {
		return fmt.Errorf("%w: client.timeout must be positive", ErrInvalidConfig)
	}

	switch c.Transport.Kind {
	case TransportHTTP:
		if c.Client.PublicKey == "" {
			return fmt.Errorf("%w: client.publickey cannot be empty", ErrInvalidConfig)
		}
		if c.Client.APIHost == "" {
			return fmt.Errorf("%w: client.apihost cannot be empty", ErrInvalidConfig)
		}
	case TransportStdout:
	case TransportFile:
		if c.Transport.File.Path == "" {
			return fmt.Errorf("%w: transport.file.path cannot be empty", ErrInvalidConfig)
		}
	case TransportElasticsearch:
		if len(c.Transport.Elasticsearch.Addresses) == 0 {
			return fmt.Errorf("%w: transport.elasticsearch.addresses cannot be empty", ErrInvalidConfig)
		}
	case TransportPostgres:
		if c.Transport.Postgres.DBURL == "" {
			return fmt.Errorf("%w: transport.postgres.dburl cannot be empty", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: unknown transport kind %q", ErrInvalidConfig, c.Transport.Kind)
	}

	return nil
}
