// Package config loads the server configuration.
//
// Values are layered: built-in defaults, then an optional YAML file, then environment
// variables. Later layers win. Environment variables use the ADMINGUARD_ prefix and a
// double underscore for nesting, so ADMINGUARD_CACHE__REDIS_URL sets cache.redis_url.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
	"github.com/org/adminguard/internal/audit"
	"github.com/org/adminguard/internal/cache"
	"github.com/org/adminguard/internal/csrf"
	"github.com/org/adminguard/internal/identity"
	"github.com/org/adminguard/internal/security"
)

const (
	// PathEnvVar overrides the config file location.
	PathEnvVar = "ADMINGUARD_CONFIG"
	// DefaultPath is used when PathEnvVar is unset. A missing file is not an error.
	DefaultPath = "config.yaml"

	envPrefix = "ADMINGUARD_"
)

// ServerConfig holds listener and logging settings.
type ServerConfig struct {
	ListenAddr      string        `koanf:"listen_addr" validate:"required"`
	TLSCertFile     string        `koanf:"tls_cert" validate:"required_with=TLSKeyFile"`
	TLSKeyFile      string        `koanf:"tls_key" validate:"required_with=TLSCertFile"`
	AuthEntryPoint  string        `koanf:"auth_entry_point" validate:"required,startswith=/"`
	LogLevel        string        `koanf:"log_level" validate:"oneof=trace debug info warn error"`
	LogFormat       string        `koanf:"log_format" validate:"oneof=console json"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
	// TrustedProxies may set X-Forwarded-For and X-Real-IP. Empty means the peer
	// address is always the client address.
	TrustedProxies  []string      `koanf:"trusted_proxies" validate:"dive,cidr|ip"`
}

// DatabaseConfig selects the persistence backend. An empty URL keeps everything in memory.
type DatabaseConfig struct {
	URL           string `koanf:"url"`
	MigrationsDir string `koanf:"migrations_dir"`
}

// RateLimitConfig sizes the per-IP token bucket. RPS 0 disables limiting.
type RateLimitConfig struct {
	RPS   float64 `koanf:"rps" validate:"gte=0"`
	Burst int     `koanf:"burst" validate:"gte=0"`
}

// Config is the complete server configuration.
type Config struct {
	Server     ServerConfig           `koanf:"server"`
	Database   DatabaseConfig         `koanf:"database"`
	Cache      cache.Config           `koanf:"cache"`
	Detection  security.Config        `koanf:"detection"`
	CSRF       csrf.Config            `koanf:"csrf"`
	Audit      audit.Config           `koanf:"audit"`
	RateLimit  RateLimitConfig        `koanf:"rate_limit"`
	PolicyFile string                 `koanf:"policy_file"`
	Tokens     []identity.TokenConfig `koanf:"tokens" validate:"dive"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			ListenAddr:      ":8080",
			AuthEntryPoint:  "/login",
			LogLevel:        "info",
			LogFormat:       "console",
			ShutdownTimeout: 30 * time.Second,
		},
		Database: DatabaseConfig{MigrationsDir: "migrations"},
		Cache: cache.Config{
			Backend:    cache.BackendMemory,
			TTL:        cache.DefaultTTL,
			MaxEntries: cache.DefaultMaxEntries,
			Prefix:     cache.DefaultPrefix,
		},
		Detection: security.DefaultConfig(),
		CSRF:      csrf.Config{MaxAge: csrf.DefaultMaxAge},
		Audit:     audit.DefaultConfig(),
		RateLimit: RateLimitConfig{RPS: 100, Burst: 200},
	}
}

var validate = validator.New()

// Validate checks field constraints and the cross-field rules the tags cannot express.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if c.Cache.Backend == cache.BackendRedis && c.Cache.RedisURL == "" {
		return errors.New("invalid configuration: cache.redis_url is required for the redis backend")
	}
	if c.Detection.BruteForceThreshold > c.Detection.AutoBlockThreshold {
		return errors.New("invalid configuration: detection.brute_force_threshold exceeds auto_block_threshold")
	}
	return nil
}

// Load builds the configuration from defaults, the file at path and the environment.
// An empty path falls back to $ADMINGUARD_CONFIG, then DefaultPath.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(Default(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	explicit := path != "" || os.Getenv(PathEnvVar) != ""
	if path == "" {
		path = os.Getenv(PathEnvVar)
	}
	if path == "" {
		path = DefaultPath
	}
	if _, err := os.Stat(path); err == nil {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	} else if explicit {
		return nil, fmt.Errorf("config file %s: %w", path, err)
	}

	if err := k.Load(env.Provider(envPrefix, ".", envTransform), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// envTransform maps ADMINGUARD_DETECTION__AUTO_BLOCK_THRESHOLD to
// detection.auto_block_threshold. PathEnvVar itself is not a config key.
func envTransform(key string) string {
	if key == PathEnvVar {
		return ""
	}
	key = strings.TrimPrefix(key, envPrefix)
	return strings.ReplaceAll(strings.ToLower(key), "__", ".")
}

// LoadDotEnv loads variables from a .env file into the process environment without
// overriding ones already set. A missing file is ignored.
func LoadDotEnv(path string) error {
	if path == "" {
		path = ".env"
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("loading %s: %w", path, err)
	}
	return nil
}
