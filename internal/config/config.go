// Package config defines the YAML/environment configuration schema of §6,
// generalized from the teacher's flat Config struct (port, upstream_url,
// database_dsn, ...) to the nested server/rpc.networks.<key>/cache/cors/
// helmet schema the spec requires. Loaded with spf13/viper exactly as the
// teacher does (viper.Unmarshal + viper.AutomaticEnv), per SPEC_FULL.md §6.
package config

import (
	"strconv"
	"strings"
	"time"
)

// Config is the root of the YAML schema described in spec.md §6.
type Config struct {
	Server ServerConfig `mapstructure:"server"`
	RPC    RPCConfig    `mapstructure:"rpc"`
	Cache  CacheConfig  `mapstructure:"cache"`
	CORS   CORSConfig   `mapstructure:"cors"`
	Helmet HelmetConfig `mapstructure:"helmet"`
}

// ServerConfig holds the HTTP surface settings.
type ServerConfig struct {
	Port                  string  `mapstructure:"port"`
	AuthToken             string  `mapstructure:"auth_token"`
	BatchConcurrencyLimit int     `mapstructure:"batch_concurrency_limit"`
	RateLimit             float64 `mapstructure:"rate_limit"`
}

// RPCConfig holds the network registry and the global upstream fallback
// pair (§6 "rpc.upstreams.{primary,fallback} ... global fallback pair used
// when a network has none").
type RPCConfig struct {
	Networks  map[string]NetworkConfig `mapstructure:"networks"`
	Upstreams UpstreamsConfig          `mapstructure:"upstreams"`
}

// NetworkConfig is one entry of rpc.networks.<key>.
type NetworkConfig struct {
	URL         string        `mapstructure:"url"`
	FallbackURL string        `mapstructure:"fallback_url"`
	Timeout     time.Duration `mapstructure:"timeout"`
	Retries     int           `mapstructure:"retries"`
	RetryDelay  time.Duration `mapstructure:"retry_delay"`
	Priority    int           `mapstructure:"priority"`
}

// UpstreamsConfig is the global primary/fallback pair used when a network
// defines no fallback of its own.
type UpstreamsConfig struct {
	Primary  NetworkConfig `mapstructure:"primary"`
	Fallback NetworkConfig `mapstructure:"fallback"`
}

// CacheConfig holds cache.{max_age,db_file,max_size,enable_db}.
type CacheConfig struct {
	MaxAge   time.Duration `mapstructure:"max_age"`
	DBFile   string        `mapstructure:"db_file"`
	MaxSize  string        `mapstructure:"max_size"`
	EnableDB bool          `mapstructure:"enable_db"`

	// CleanupSlackRatio and DatabaseDSN extend the teacher's cleanup
	// manager/Postgres store to the new schema.
	CleanupSlackRatio float64 `mapstructure:"cleanup_slack_ratio"`
	DatabaseDSN       string  `mapstructure:"database_dsn"`
}

// CORSConfig mirrors the teacher's acknowledged-but-external CORS section
// (§1 Out of scope, §6).
type CORSConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// HelmetConfig mirrors the teacher's acknowledged-but-external security
// headers section.
type HelmetConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// GetMaxCacheSizeBytes parses cache.max_size into bytes, per the teacher's
// ParseBytes helper.
func (c *CacheConfig) GetMaxCacheSizeBytes() (int64, error) {
	return ParseBytes(c.MaxSize)
}

// ParseBytes parses a human size string ("512MB", "2GB", "1024") into bytes.
// Carried unchanged from the teacher's internal/config.ParseBytes.
func ParseBytes(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	s = strings.ToUpper(s)

	var multiplier int64 = 1
	switch {
	case strings.HasSuffix(s, "K") || strings.HasSuffix(s, "KB"):
		multiplier = 1024
		s = strings.TrimSuffix(strings.TrimSuffix(s, "B"), "K")
	case strings.HasSuffix(s, "M") || strings.HasSuffix(s, "MB"):
		multiplier = 1024 * 1024
		s = strings.TrimSuffix(strings.TrimSuffix(s, "B"), "M")
	case strings.HasSuffix(s, "G") || strings.HasSuffix(s, "GB"):
		multiplier = 1024 * 1024 * 1024
		s = strings.TrimSuffix(strings.TrimSuffix(s, "B"), "G")
	}

	val, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return 0, err
	}
	return val * multiplier, nil
}
