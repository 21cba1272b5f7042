package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"hedge/observability/logging"
	telemetry "hedge/observability/otel"
)

const (
	defaultListen          = ":8443"
	defaultScanInterval    = 15 * time.Second
	defaultLeaderboardSize = 20
	defaultClockSkew       = 2 * time.Minute
)

// Config captures the runtime settings for the lending daemon.
type Config struct {
	ListenAddress string           `yaml:"listen"`
	Environment   string           `yaml:"environment"`
	Bootstrap     string           `yaml:"bootstrap"`
	Storage       StorageConfig    `yaml:"storage"`
	Log           LogConfig        `yaml:"log"`
	Telemetry     telemetry.Config `yaml:"telemetry"`
	Auth          AuthConfig       `yaml:"auth"`
	RateLimit     RateLimitConfig  `yaml:"rateLimit"`
	Quota         QuotaConfig      `yaml:"quota"`
	Scanner       ScannerConfig    `yaml:"scanner"`
	Indexer       IndexerConfig    `yaml:"indexer"`
	Oracle        OracleConfig     `yaml:"oracle"`
}

// StorageConfig selects the key-value backend holding market state.
type StorageConfig struct {
	// Backend is leveldb, bolt or memory.
	Backend string `yaml:"backend"`
	Path    string `yaml:"path"`
}

// LogConfig controls log level and the optional rotated file.
type LogConfig struct {
	Level string             `yaml:"level"`
	File  logging.FileConfig `yaml:"file"`
}

// AuthConfig describes the HS256 bearer tokens accepted by the API.
type AuthConfig struct {
	HMACSecret string        `yaml:"hmacSecret"`
	Issuer     string        `yaml:"issuer"`
	Audience   string        `yaml:"audience"`
	ClockSkew  time.Duration `yaml:"clockSkew"`
}

// RateLimitConfig is applied per client address.
type RateLimitConfig struct {
	RequestsPerMinute float64 `yaml:"requestsPerMinute"`
	Burst             int     `yaml:"burst"`
}

// QuotaConfig caps state-changing requests per owner.
type QuotaConfig struct {
	MaxRequestsPerMin uint32 `yaml:"maxRequestsPerMin"`
	MaxAmountPerEpoch uint64 `yaml:"maxAmountPerEpoch"`
	EpochSeconds      uint32 `yaml:"epochSeconds"`
}

// ScannerConfig drives the background refresh loop.
type ScannerConfig struct {
	Interval        time.Duration `yaml:"interval"`
	LeaderboardSize int           `yaml:"leaderboardSize"`
}

// IndexerConfig selects the SQL database receiving market events. An empty
// driver disables the indexer.
type IndexerConfig struct {
	// Driver is sqlite or postgres.
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

// OracleConfig enables feed refreshes from a Hermes endpoint.
type OracleConfig struct {
	HermesURL string        `yaml:"hermesURL"`
	MaxAge    time.Duration `yaml:"maxAge"`
}

// Load reads the YAML configuration from disk and validates the result.
func Load(path string) (Config, error) {
	if strings.TrimSpace(path) == "" {
		return Config{}, fmt.Errorf("config path required")
	}
	file, err := os.Open(path)
	if err != nil {
		return Config{}, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()

	var cfg Config
	decoder := yaml.NewDecoder(file)
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}

	cfg.normalize()
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (cfg *Config) normalize() {
	cfg.ListenAddress = strings.TrimSpace(cfg.ListenAddress)
	if cfg.ListenAddress == "" {
		cfg.ListenAddress = defaultListen
	}
	cfg.Environment = strings.TrimSpace(cfg.Environment)
	cfg.Bootstrap = strings.TrimSpace(cfg.Bootstrap)

	cfg.Storage.Backend = strings.ToLower(strings.TrimSpace(cfg.Storage.Backend))
	if cfg.Storage.Backend == "" {
		cfg.Storage.Backend = "leveldb"
	}
	cfg.Storage.Path = strings.TrimSpace(cfg.Storage.Path)

	cfg.Auth.HMACSecret = strings.TrimSpace(cfg.Auth.HMACSecret)
	cfg.Auth.Issuer = strings.TrimSpace(cfg.Auth.Issuer)
	cfg.Auth.Audience = strings.TrimSpace(cfg.Auth.Audience)
	if cfg.Auth.ClockSkew <= 0 {
		cfg.Auth.ClockSkew = defaultClockSkew
	}

	if cfg.Scanner.Interval <= 0 {
		cfg.Scanner.Interval = defaultScanInterval
	}
	if cfg.Scanner.LeaderboardSize <= 0 {
		cfg.Scanner.LeaderboardSize = defaultLeaderboardSize
	}

	cfg.Indexer.Driver = strings.ToLower(strings.TrimSpace(cfg.Indexer.Driver))
	cfg.Indexer.DSN = strings.TrimSpace(cfg.Indexer.DSN)
	cfg.Oracle.HermesURL = strings.TrimSpace(cfg.Oracle.HermesURL)

	cfg.Telemetry.ServiceName = "lendingd"
	cfg.Telemetry.Environment = cfg.Environment
}

func (cfg *Config) validate() error {
	switch cfg.Storage.Backend {
	case "memory":
	case "leveldb", "bolt":
		if cfg.Storage.Path == "" {
			return fmt.Errorf("storage: path required for %s backend", cfg.Storage.Backend)
		}
	default:
		return fmt.Errorf("storage: unknown backend %q", cfg.Storage.Backend)
	}
	if cfg.Bootstrap == "" {
		return fmt.Errorf("bootstrap: market file required")
	}
	if len(cfg.Auth.HMACSecret) < 32 {
		return fmt.Errorf("auth: hmacSecret must be at least 32 bytes")
	}
	if cfg.RateLimit.RequestsPerMinute < 0 || cfg.RateLimit.Burst < 0 {
		return fmt.Errorf("rateLimit: values must be non-negative")
	}
	switch cfg.Indexer.Driver {
	case "":
	case "sqlite", "postgres":
		if cfg.Indexer.DSN == "" {
			return fmt.Errorf("indexer: dsn required for %s", cfg.Indexer.Driver)
		}
	default:
		return fmt.Errorf("indexer: unknown driver %q", cfg.Indexer.Driver)
	}
	if cfg.Telemetry.SampleRatio < 0 || cfg.Telemetry.SampleRatio > 1 {
		return fmt.Errorf("telemetry: sampleRatio must be within [0,1]")
	}
	return nil
}
