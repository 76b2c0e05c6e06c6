// Package config loads the service configuration: YAML file, then .env,
// then environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"xrpl-nft-archiver/internal/analytics"
	"xrpl-nft-archiver/internal/fetcher"
	"xrpl-nft-archiver/internal/identity"
	"xrpl-nft-archiver/internal/imaging"
	"xrpl-nft-archiver/internal/retry"
	"xrpl-nft-archiver/internal/tokenapi"
)

// Storage backends.
const (
	BackendMemory = "memory"
	BackendS3     = "s3"
)

// Config is the complete service configuration.
type Config struct {
	Service   ServiceConfig   `yaml:"service"`
	XRPL      XRPLConfig      `yaml:"xrpl"`
	Fetcher   fetcher.Config  `yaml:"fetcher"`
	Archive   BucketConfig    `yaml:"archive"`
	Failures  BucketConfig    `yaml:"failures"`
	Storage   StorageConfig   `yaml:"storage"`
	Lookup    tokenapi.Config `yaml:"lookup"`
	Identity  identity.Config `yaml:"identity"`
	Retry     retry.Config    `yaml:"retry"`
	Imaging   ImagingConfig   `yaml:"imaging"`
	Ingest    IngestConfig    `yaml:"ingest"`
	Analytics AnalyticsConfig `yaml:"analytics"`
	Log       LogConfig       `yaml:"log"`
}

// ServiceConfig holds service-level settings.
type ServiceConfig struct {
	Name             string `yaml:"name"`
	HTTPAddr         string `yaml:"http_addr"`
	MetricsNamespace string `yaml:"metrics_namespace"`
}

// XRPLConfig holds ledger endpoints.
type XRPLConfig struct {
	RPCEndpoint string        `yaml:"rpc_endpoint"`
	WSEndpoint  string        `yaml:"ws_endpoint"`
	Timeout     time.Duration `yaml:"timeout"`
	MaxRetries  int           `yaml:"max_retries"`
}

// BucketConfig names an object-storage bucket and key prefix.
type BucketConfig struct {
	Bucket string `yaml:"bucket"`
	Prefix string `yaml:"prefix"`
}

// StorageConfig selects the store backends.
type StorageConfig struct {
	// Backend is "s3" or "memory" for the archive and failure buckets.
	Backend  string `yaml:"backend"`
	Region   string `yaml:"region"`
	Endpoint string `yaml:"endpoint"`
	// PostgresDSN enables the asset index when set.
	PostgresDSN string `yaml:"postgres_dsn"`
	// ClickhouseDSN enables the extraction event store when set.
	ClickhouseDSN string `yaml:"clickhouse_dsn"`
	AutoMigrate   bool   `yaml:"auto_migrate"`
}

// ImagingConfig bounds image decoding.
type ImagingConfig struct {
	// MaxPixels rejects images whose header declares more pixels.
	MaxPixels int64 `yaml:"max_pixels"`
}

// IngestConfig configures the live runner.
type IngestConfig struct {
	Workers   int `yaml:"workers"`
	QueueSize int `yaml:"queue_size"`
}

// AnalyticsConfig configures the extraction event emitter.
type AnalyticsConfig struct {
	Enabled          bool `yaml:"enabled"`
	analytics.Config `yaml:",inline"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

// Default returns a complete configuration with in-memory storage.
func Default() *Config {
	return &Config{
		Service: ServiceConfig{
			Name:             "xrpl-nft-archiver",
			HTTPAddr:         ":8080",
			MetricsNamespace: "nft_archiver",
		},
		XRPL: XRPLConfig{
			RPCEndpoint: "https://xrplcluster.com",
			WSEndpoint:  "wss://xrplcluster.com",
			Timeout:     30 * time.Second,
			MaxRetries:  3,
		},
		Fetcher:  fetcher.DefaultConfig(),
		Archive:  BucketConfig{Bucket: "nft-data-dump"},
		Failures: BucketConfig{Bucket: "nft-cache-failed-log"},
		Storage: StorageConfig{
			Backend:     BackendMemory,
			AutoMigrate: true,
		},
		Lookup:   tokenapi.DefaultConfig(),
		Identity: identity.DefaultConfig(),
		Retry:    retry.DefaultConfig(),
		Imaging:  ImagingConfig{MaxPixels: imaging.DefaultMaxPixels},
		Ingest: IngestConfig{
			Workers:   8,
			QueueSize: 1000,
		},
		Analytics: AnalyticsConfig{
			Enabled: true,
			Config:  analytics.DefaultConfig(),
		},
		Log: LogConfig{Level: "info"},
	}
}

// Load reads path over the defaults, then applies environment overrides.
// An empty path uses the defaults only.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}
	cfg.ApplyEnv(os.LookupEnv)
	return cfg, nil
}

// ApplyEnv overrides secrets and endpoints from the environment.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) {
	set := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}

	set("DATA_DUMP_BUCKET", &c.Archive.Bucket)
	set("CACHE_FAILED_LOG_BUCKET", &c.Failures.Bucket)
	set("BITHOMP_TOKEN", &c.Lookup.Token)
	set("POSTGRES_DSN", &c.Storage.PostgresDSN)
	set("CLICKHOUSE_DSN", &c.Storage.ClickhouseDSN)
	set("XRPL_RPC_ENDPOINT", &c.XRPL.RPCEndpoint)
	set("XRPL_WS_ENDPOINT", &c.XRPL.WSEndpoint)
	set("AWS_REGION", &c.Storage.Region)
	set("S3_ENDPOINT", &c.Storage.Endpoint)
	set("STORAGE_BACKEND", &c.Storage.Backend)
	set("LOG_LEVEL", &c.Log.Level)
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	var errs []error

	if err := c.Fetcher.Validate(); err != nil {
		errs = append(errs, err)
	}
	switch c.Storage.Backend {
	case BackendMemory:
	case BackendS3:
		if c.Archive.Bucket == "" {
			errs = append(errs, errors.New("archive.bucket is required for the s3 backend"))
		}
		if c.Failures.Bucket == "" {
			errs = append(errs, errors.New("failures.bucket is required for the s3 backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("storage.backend must be %q or %q, got %q", BackendS3, BackendMemory, c.Storage.Backend))
	}
	if c.Retry.ChunkSize < 1 {
		errs = append(errs, errors.New("retry.chunk_size must be at least 1"))
	}
	if c.Retry.MaxAttempts < 0 {
		errs = append(errs, errors.New("retry.max_attempts must not be negative"))
	}
	if c.Imaging.MaxPixels < 1 {
		errs = append(errs, errors.New("imaging.max_pixels must be at least 1"))
	}
	if c.Ingest.Workers < 1 {
		errs = append(errs, errors.New("ingest.workers must be at least 1"))
	}
	if c.Ingest.QueueSize < 0 {
		errs = append(errs, errors.New("ingest.queue_size must not be negative"))
	}
	for i, tpl := range c.Identity.Templates {
		if tpl.Domain == "" || !strings.Contains(tpl.Template, "{token_id}") {
			errs = append(errs, fmt.Errorf("identity.domain_templates[%d] needs a domain and a {token_id} placeholder", i))
		}
	}
	return errors.Join(errs...)
}

// LoadEnvFile sets variables from a .env file without overriding variables
// that are already set. A missing file is not an error.
func LoadEnvFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read env file: %w", err)
	}

	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(strings.TrimPrefix(key, "export "))
		value = strings.Trim(strings.TrimSpace(value), `"'`)

		if os.Getenv(key) == "" {
			os.Setenv(key, value)
		}
	}
	return nil
}
