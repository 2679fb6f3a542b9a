// Package config loads marketd runtime configuration from the environment,
// with an optional YAML overlay for deployments that ship a config file.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the full marketd runtime configuration.
type Config struct {
	HTTPAddr string `env:"HTTP_ADDR,default=:8080" yaml:"http_addr"`
	LogLevel string `env:"LOG_LEVEL,default=info" yaml:"log_level"`

	// AuthTokens is the comma-separated set of accepted bearer tokens. Empty
	// disables API authentication.
	AuthTokens string `env:"AUTH_TOKENS" yaml:"auth_tokens"`

	// DatabaseURL selects the postgres store when set; otherwise marketd runs
	// on the in-memory store.
	DatabaseURL string `env:"DATABASE_URL" yaml:"database_url"`

	// AdminAddress is seeded with the admin and minter roles at startup.
	AdminAddress string `env:"ADMIN_ADDRESS" yaml:"admin_address"`
	// OperatorAddress is the escrow operator identity sellers approve.
	OperatorAddress string `env:"OPERATOR_ADDRESS,default=marketd-operator" yaml:"operator_address"`

	MetadataGateway   string        `env:"METADATA_GATEWAY,default=https://ipfs.io" yaml:"metadata_gateway"`
	MetadataTimeout   time.Duration `env:"METADATA_TIMEOUT,default=5s" yaml:"metadata_timeout"`
	MetadataRedisAddr string        `env:"METADATA_REDIS_ADDR" yaml:"metadata_redis_addr"`
	MetadataCacheTTL  time.Duration `env:"METADATA_CACHE_TTL,default=10m" yaml:"metadata_cache_ttl"`

	// RouterURL points at the external value-transfer endpoint. Empty keeps
	// payment routing in process.
	RouterURL    string `env:"ROUTER_URL" yaml:"router_url"`
	RouterAPIKey string `env:"ROUTER_API_KEY" yaml:"router_api_key"`

	SnapshotInterval    time.Duration `env:"SNAPSHOT_INTERVAL,default=30s" yaml:"snapshot_interval"`
	SnapshotConcurrency int           `env:"SNAPSHOT_CONCURRENCY,default=8" yaml:"snapshot_concurrency"`

	RateLimitRPS   int `env:"RATE_LIMIT_RPS,default=50" yaml:"rate_limit_rps"`
	RateLimitBurst int `env:"RATE_LIMIT_BURST,default=100" yaml:"rate_limit_burst"`
}

// Load reads configuration from the environment. A .env file is honoured when
// present, and MARKETD_CONFIG_FILE names an optional YAML overlay whose set
// fields take precedence over the environment.
func Load() (Config, error) {
	_ = godotenv.Load() // best-effort for local runs

	var cfg Config
	if err := envdecode.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode environment: %w", err)
	}

	if path := strings.TrimSpace(os.Getenv("MARKETD_CONFIG_FILE")); path != "" {
		if err := cfg.applyFile(path); err != nil {
			return Config{}, err
		}
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}

	var overlay Config
	if err := yaml.Unmarshal(data, &overlay); err != nil {
		return fmt.Errorf("parse config file: %w", err)
	}

	if overlay.HTTPAddr != "" {
		c.HTTPAddr = overlay.HTTPAddr
	}
	if overlay.LogLevel != "" {
		c.LogLevel = overlay.LogLevel
	}
	if overlay.AuthTokens != "" {
		c.AuthTokens = overlay.AuthTokens
	}
	if overlay.DatabaseURL != "" {
		c.DatabaseURL = overlay.DatabaseURL
	}
	if overlay.AdminAddress != "" {
		c.AdminAddress = overlay.AdminAddress
	}
	if overlay.OperatorAddress != "" {
		c.OperatorAddress = overlay.OperatorAddress
	}
	if overlay.MetadataGateway != "" {
		c.MetadataGateway = overlay.MetadataGateway
	}
	if overlay.MetadataTimeout > 0 {
		c.MetadataTimeout = overlay.MetadataTimeout
	}
	if overlay.MetadataRedisAddr != "" {
		c.MetadataRedisAddr = overlay.MetadataRedisAddr
	}
	if overlay.MetadataCacheTTL > 0 {
		c.MetadataCacheTTL = overlay.MetadataCacheTTL
	}
	if overlay.RouterURL != "" {
		c.RouterURL = overlay.RouterURL
	}
	if overlay.RouterAPIKey != "" {
		c.RouterAPIKey = overlay.RouterAPIKey
	}
	if overlay.SnapshotInterval > 0 {
		c.SnapshotInterval = overlay.SnapshotInterval
	}
	if overlay.SnapshotConcurrency > 0 {
		c.SnapshotConcurrency = overlay.SnapshotConcurrency
	}
	if overlay.RateLimitRPS > 0 {
		c.RateLimitRPS = overlay.RateLimitRPS
	}
	if overlay.RateLimitBurst > 0 {
		c.RateLimitBurst = overlay.RateLimitBurst
	}
	return nil
}

// BearerTokens returns the parsed bearer token set.
func (c *Config) BearerTokens() []string {
	var tokens []string
	for _, tok := range strings.Split(c.AuthTokens, ",") {
		if tok = strings.TrimSpace(tok); tok != "" {
			tokens = append(tokens, tok)
		}
	}
	return tokens
}

func (c *Config) validate() error {
	if strings.TrimSpace(c.OperatorAddress) == "" {
		return fmt.Errorf("OPERATOR_ADDRESS must not be empty")
	}
	if c.SnapshotConcurrency < 0 {
		return fmt.Errorf("SNAPSHOT_CONCURRENCY must not be negative")
	}
	return nil
}
