// Package config loads the server configuration from a TOML file, SONGSTREAM_*
// environment variables and built-in defaults, in that order of precedence
// from lowest to highest: defaults, file, environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. SONGSTREAM_SERVER_PORT.
const EnvPrefix = "SONGSTREAM"

// Config is the complete server configuration.
type Config struct {
	Server    ServerConfig    `mapstructure:"server" toml:"server"`
	Streaming StreamingConfig `mapstructure:"streaming" toml:"streaming"`
	Catalog   CatalogConfig   `mapstructure:"catalog" toml:"catalog"`
	Cache     CacheConfig     `mapstructure:"cache" toml:"cache"`
	Logging   LoggingConfig   `mapstructure:"logging" toml:"logging"`
	Metrics   MetricsConfig   `mapstructure:"metrics" toml:"metrics"`
}

// ServerConfig configures the control listener.
type ServerConfig struct {
	Host string `mapstructure:"host" toml:"host"`
	Port int    `mapstructure:"port" toml:"port" validate:"gte=0,lte=65535"`
	// IdleTimeout closes silent control connections. Zero disables it.
	IdleTimeout time.Duration `mapstructure:"idle_timeout" toml:"idle_timeout" validate:"gte=0"`
	// WriteTimeout bounds writing one response.
	WriteTimeout time.Duration `mapstructure:"write_timeout" toml:"write_timeout" validate:"gte=0"`
	// MaxLineLength is the longest accepted request line in bytes.
	MaxLineLength int `mapstructure:"max_line_length" toml:"max_line_length" validate:"gte=64"`
}

// StreamingConfig configures data connections.
type StreamingConfig struct {
	// BasePort is the first streaming port handed out.
	BasePort int `mapstructure:"base_port" toml:"base_port" validate:"gt=0,lte=65535"`
	// AcceptTimeout bounds the wait for a client to open the data connection.
	AcceptTimeout time.Duration `mapstructure:"accept_timeout" toml:"accept_timeout" validate:"gte=0"`
	// FramesPerChunk sets the write size in audio frames.
	FramesPerChunk int `mapstructure:"frames_per_chunk" toml:"frames_per_chunk" validate:"gt=0"`
	// MaxBytesPerSecond throttles each stream. Zero disables throttling.
	MaxBytesPerSecond int `mapstructure:"max_bytes_per_second" toml:"max_bytes_per_second" validate:"gte=0"`
	// DrainTimeout bounds waiting for streams on shutdown.
	DrainTimeout time.Duration `mapstructure:"drain_timeout" toml:"drain_timeout" validate:"gt=0"`
}

// CatalogConfig locates songs and persisted data.
type CatalogConfig struct {
	SongsDir string `mapstructure:"songs_dir" toml:"songs_dir" validate:"required"`
	DataDir  string `mapstructure:"data_dir" toml:"data_dir" validate:"required"`
}

// CacheConfig selects the query cache backend.
type CacheConfig struct {
	Backend  string        `mapstructure:"backend" toml:"backend" validate:"oneof=memory redis none"`
	TTL      time.Duration `mapstructure:"ttl" toml:"ttl" validate:"gte=0"`
	RedisURL string        `mapstructure:"redis_url" toml:"redis_url" validate:"required_if=Backend redis"`
}

// LoggingConfig configures the logger.
type LoggingConfig struct {
	Level string `mapstructure:"level" toml:"level" validate:"oneof=debug info warn error DEBUG INFO WARN ERROR"`
	// Dir enables daily-rotated log files when set.
	Dir string `mapstructure:"dir" toml:"dir"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled" toml:"enabled"`
	Addr    string `mapstructure:"addr" toml:"addr" validate:"required_if=Enabled true"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:          "",
			Port:          6999,
			IdleTimeout:   30 * time.Minute,
			WriteTimeout:  10 * time.Second,
			MaxLineLength: 4096,
		},
		Streaming: StreamingConfig{
			BasePort:       7000,
			AcceptTimeout:  30 * time.Second,
			FramesPerChunk: 1024,
			DrainTimeout:   10 * time.Second,
		},
		Catalog: CatalogConfig{
			SongsDir: "songs",
			DataDir:  "data",
		},
		Cache: CacheConfig{
			Backend: "memory",
			TTL:     time.Minute,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
		Metrics: MetricsConfig{
			Addr: ":9090",
		},
	}
}

// Load reads configuration from path (optional), applies environment
// overrides and validates the result. A missing file is not an error when
// path is empty.
//
// Parameters:
//   - path: TOML file to read, or "" for defaults and environment only
//
// Returns:
//   - The validated configuration
//   - An error if the file cannot be parsed or validation fails
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v, Default())

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("toml")

		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// Validate checks field constraints.
func Validate(cfg *Config) error {
	return validator.New(validator.WithRequiredStructEnabled()).Struct(cfg)
}

// setDefaults registers every key so environment variables are picked up
// even when the file does not mention them.
func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("server.host", d.Server.Host)
	v.SetDefault("server.port", d.Server.Port)
	v.SetDefault("server.idle_timeout", d.Server.IdleTimeout)
	v.SetDefault("server.write_timeout", d.Server.WriteTimeout)
	v.SetDefault("server.max_line_length", d.Server.MaxLineLength)

	v.SetDefault("streaming.base_port", d.Streaming.BasePort)
	v.SetDefault("streaming.accept_timeout", d.Streaming.AcceptTimeout)
	v.SetDefault("streaming.frames_per_chunk", d.Streaming.FramesPerChunk)
	v.SetDefault("streaming.max_bytes_per_second", d.Streaming.MaxBytesPerSecond)
	v.SetDefault("streaming.drain_timeout", d.Streaming.DrainTimeout)

	v.SetDefault("catalog.songs_dir", d.Catalog.SongsDir)
	v.SetDefault("catalog.data_dir", d.Catalog.DataDir)

	v.SetDefault("cache.backend", d.Cache.Backend)
	v.SetDefault("cache.ttl", d.Cache.TTL)
	v.SetDefault("cache.redis_url", d.Cache.RedisURL)

	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.dir", d.Logging.Dir)

	v.SetDefault("metrics.enabled", d.Metrics.Enabled)
	v.SetDefault("metrics.addr", d.Metrics.Addr)
}

// ErrConfigExists is returned by WriteDefault when path already exists.
var ErrConfigExists = errors.New("config file already exists")

// WriteDefault writes the default configuration as TOML to path. It refuses
// to overwrite an existing file unless force is set.
func WriteDefault(path string, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%w: %s", ErrConfigExists, path)
		}
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create config directory: %w", err)
		}
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer f.Close()

	if err := toml.NewEncoder(f).Encode(Default()); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}

	return nil
}

// ControlAddr is the host:port the control listener binds.
func (c *Config) ControlAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}
