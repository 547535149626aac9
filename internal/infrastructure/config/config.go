package config

import (
	"fmt"
	"runtime"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// Config is the full runtime configuration. Values are layered:
// struct defaults, then configs/config.yaml if present, then DLA_*
// environment variables.
type Config struct {
	Version     string `koanf:"version"`
	Environment string `koanf:"environment"`

	Logging   LoggingConfig   `koanf:"logging"`
	Server    ServerConfig    `koanf:"server"`
	Database  DatabaseConfig  `koanf:"database"`
	Redis     RedisConfig     `koanf:"redis"`
	Storage   StorageConfig   `koanf:"storage"`
	Auth      AuthConfig      `koanf:"auth"`
	Quota     QuotaConfig     `koanf:"quota"`
	Upload    UploadConfig    `koanf:"upload"`
	Parsers   ParsersConfig   `koanf:"parsers"`
	Retention RetentionConfig `koanf:"retention"`
	RateLimit RateLimitConfig `koanf:"ratelimit"`
	Geo       GeoConfig       `koanf:"geo"`
	Telemetry TelemetryConfig `koanf:"telemetry"`
}

type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

type ServerConfig struct {
	Host            string        `koanf:"host"`
	Port            int           `koanf:"port"`
	ReadTimeout     time.Duration `koanf:"read_timeout"`
	WriteTimeout    time.Duration `koanf:"write_timeout"`
	RequestTimeout  time.Duration `koanf:"request_timeout"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`

	// CORSOrigins lists allowed origins; empty disables CORS headers.
	CORSOrigins []string `koanf:"cors_origins"`

	// TrustedProxies are addresses whose X-Forwarded-For entries are
	// skipped when resolving the client IP.
	TrustedProxies []string `koanf:"trusted_proxies"`
}

type DatabaseConfig struct {
	URL             string        `koanf:"url"`
	MaxOpenConns    int           `koanf:"max_open_conns"`
	MinIdleConns    int           `koanf:"min_idle_conns"`
	ConnMaxLifetime time.Duration `koanf:"conn_max_lifetime"`
}

type RedisConfig struct {
	URL          string        `koanf:"url"`
	Password     string        `koanf:"password"`
	DB           int           `koanf:"db"`
	PoolSize     int           `koanf:"pool_size"`
	MinIdleConns int           `koanf:"min_idle_conns"`
	MaxRetries   int           `koanf:"max_retries"`
	DialTimeout  time.Duration `koanf:"dial_timeout"`
	ReadTimeout  time.Duration `koanf:"read_timeout"`
	WriteTimeout time.Duration `koanf:"write_timeout"`
}

type StorageConfig struct {
	// Backend selects the object store implementation: local or s3.
	Backend string `koanf:"backend"`

	// ScratchDir holds in-flight uploads and filtered archives. It is
	// a separate tree from the local store root so partial files never
	// appear under durable paths.
	ScratchDir string `koanf:"scratch_dir"`

	Local LocalStorageConfig `koanf:"local"`
	S3    S3StorageConfig    `koanf:"s3"`
}

type LocalStorageConfig struct {
	Root string `koanf:"root"`
}

type S3StorageConfig struct {
	Bucket         string `koanf:"bucket"`
	Region         string `koanf:"region"`
	Endpoint       string `koanf:"endpoint"`
	KeyPrefix      string `koanf:"key_prefix"`
	ForcePathStyle bool   `koanf:"force_path_style"`
}

type AuthConfig struct {
	TokenTTL             time.Duration `koanf:"token_ttl"`
	BcryptCost           int           `koanf:"bcrypt_cost"`
	SessionPurgeInterval time.Duration `koanf:"session_purge_interval"`
}

type QuotaConfig struct {
	DefaultBytes int64 `koanf:"default_bytes"`
}

type UploadConfig struct {
	MaxBytes        int64         `koanf:"max_bytes"`
	URLFetchTimeout time.Duration `koanf:"url_fetch_timeout"`
}

type ParsersConfig struct {
	// Workers sizes the parse worker pool; 0 means NumCPU.
	Workers int `koanf:"workers"`

	DefaultTimeout   time.Duration `koanf:"default_timeout"`
	MemoryLimitBytes int64         `koanf:"memory_limit_bytes"`

	// Binaries maps mode_key to the parser executable path. Binary
	// paths come only from configuration, never from the database.
	Binaries map[string]string `koanf:"binaries"`
}

type RetentionConfig struct {
	SoftAfterDays     int           `koanf:"soft_after_days"`
	HardAfterSoftDays int           `koanf:"hard_after_soft_days"`
	SoftInterval      time.Duration `koanf:"soft_interval"`
	HardInterval      time.Duration `koanf:"hard_interval"`
	BatchSize         int           `koanf:"batch_size"`
}

type RateLimitConfig struct {
	Enabled bool `koanf:"enabled"`
}

type GeoConfig struct {
	MMDBPath  string `koanf:"mmdb_path"`
	RemoteURL string `koanf:"remote_url"`
	CacheSize int    `koanf:"cache_size"`
}

type TelemetryConfig struct {
	Enabled      bool          `koanf:"enabled"`
	OTLPEndpoint string        `koanf:"otlp_endpoint"`
	SamplingRate float64       `koanf:"sampling_rate"`
	ExportTimeout time.Duration `koanf:"export_timeout"`
	BatchTimeout  time.Duration `koanf:"batch_timeout"`
}

// Load reads configuration from defaults, an optional YAML file and
// DLA_ environment variables, in that order of precedence.
func Load(paths ...string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaults(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("loading defaults: %w", err)
	}

	path := "configs/config.yaml"
	if len(paths) > 0 && paths[0] != "" {
		path = paths[0]
	}
	// The config file is optional; environment variables alone are a
	// complete configuration.
	_ = k.Load(file.Provider(path), yaml.Parser())

	if err := k.Load(env.Provider("DLA_", ".", func(s string) string {
		return strings.Replace(strings.ToLower(
			strings.TrimPrefix(s, "DLA_")), "_", ".", -1)
	}), nil); err != nil {
		return nil, fmt.Errorf("loading environment variables: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func defaults() *Config {
	return &Config{
		Version:     "dev",
		Environment: "development",
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			RequestTimeout:  30 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
		Database: DatabaseConfig{
			MaxOpenConns:    25,
			MinIdleConns:    5,
			ConnMaxLifetime: 30 * time.Minute,
		},
		Redis: RedisConfig{
			URL:          "localhost:6379",
			PoolSize:     10,
			MinIdleConns: 5,
			MaxRetries:   3,
			DialTimeout:  5 * time.Second,
			ReadTimeout:  3 * time.Second,
			WriteTimeout: 3 * time.Second,
		},
		Storage: StorageConfig{
			Backend:    "local",
			ScratchDir: "/var/lib/loghawk/scratch",
			Local: LocalStorageConfig{
				Root: "/var/lib/loghawk/store",
			},
			S3: S3StorageConfig{
				Region: "us-east-1",
			},
		},
		Auth: AuthConfig{
			TokenTTL:             24 * time.Hour,
			BcryptCost:           12,
			SessionPurgeInterval: time.Hour,
		},
		Quota: QuotaConfig{
			DefaultBytes: 10 << 30, // 10 GiB
		},
		Upload: UploadConfig{
			MaxBytes:        500 << 20, // 500 MiB
			URLFetchTimeout: 5 * time.Minute,
		},
		Parsers: ParsersConfig{
			Workers:          0, // NumCPU
			DefaultTimeout:   10 * time.Minute,
			MemoryLimitBytes: 2 << 30, // 2 GiB soft cap
		},
		Retention: RetentionConfig{
			SoftAfterDays:     30,
			HardAfterSoftDays: 90,
			SoftInterval:      time.Hour,
			HardInterval:      24 * time.Hour,
			BatchSize:         500,
		},
		RateLimit: RateLimitConfig{
			Enabled: true,
		},
		Geo: GeoConfig{
			CacheSize: 4096,
		},
		Telemetry: TelemetryConfig{
			Enabled:      false,
			SamplingRate: 0.1,
			ExportTimeout: 30 * time.Second,
			BatchTimeout:  5 * time.Second,
		},
	}
}

// Validate rejects configurations the server cannot run with.
func (c *Config) Validate() error {
	if c.Database.URL == "" {
		return fmt.Errorf("config: database.url is required")
	}
	switch c.Storage.Backend {
	case "local":
		if c.Storage.Local.Root == "" {
			return fmt.Errorf("config: storage.local.root is required for the local backend")
		}
	case "s3":
		if c.Storage.S3.Bucket == "" {
			return fmt.Errorf("config: storage.s3.bucket is required for the s3 backend")
		}
	default:
		return fmt.Errorf("config: unknown storage.backend %q", c.Storage.Backend)
	}
	if c.Auth.BcryptCost < 12 {
		return fmt.Errorf("config: auth.bcrypt_cost must be at least 12")
	}
	if c.Upload.MaxBytes <= 0 {
		return fmt.Errorf("config: upload.max_bytes must be positive")
	}
	if c.Retention.SoftAfterDays <= 0 || c.Retention.HardAfterSoftDays <= 0 {
		return fmt.Errorf("config: retention periods must be positive")
	}
	return nil
}

// ParserWorkers resolves the worker pool size, defaulting to the
// number of CPUs.
func (c *Config) ParserWorkers() int {
	if c.Parsers.Workers > 0 {
		return c.Parsers.Workers
	}
	return runtime.NumCPU()
}
