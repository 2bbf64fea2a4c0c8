package siox

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"github.com/ramory-l/siox/engineio"
)

// EnvPrefix prefixes every environment variable read by ConfigFromEnv.
const EnvPrefix = "SIOX_"

// Config represents Socket.IO server configuration
type Config struct {
	PingInterval   time.Duration `yaml:"ping_interval"   env:"PING_INTERVAL"`
	PingTimeout    time.Duration `yaml:"ping_timeout"    env:"PING_TIMEOUT"`
	MaxPayload     int           `yaml:"max_payload"     env:"MAX_PAYLOAD"`
	WriteTimeout   time.Duration `yaml:"write_timeout"   env:"WRITE_TIMEOUT"`
	SendBuffer     int           `yaml:"send_buffer"     env:"SEND_BUFFER"`
	AllowedOrigins []string      `yaml:"allowed_origins" env:"ALLOWED_ORIGINS" envSeparator:","`

	// Path is where the Socket.IO endpoint is mounted.
	Path string `yaml:"path" env:"PATH"`
	// DocPath serves the protocol document.
	DocPath string `yaml:"doc_path"    env:"DOC_PATH"`
	Title   string `yaml:"title"       env:"TITLE"`
	Version string `yaml:"doc_version" env:"DOC_VERSION"`

	// KebabCase hyphenates event and field names on the wire.
	KebabCase bool `yaml:"kebab_case" env:"KEBAB_CASE"`
	// HandshakeRate limits new connections per client IP and minute. Zero
	// disables the limit.
	HandshakeRate int    `yaml:"handshake_rate" env:"HANDSHAKE_RATE"`
	LogLevel      string `yaml:"log_level"      env:"LOG_LEVEL"`

	Redis RedisConfig `yaml:"redis" envPrefix:"REDIS_"`
}

// RedisConfig enables the Redis room adapter when URL is set.
type RedisConfig struct {
	URL    string `yaml:"url"    env:"URL"`
	Prefix string `yaml:"prefix" env:"PREFIX"`
}

// DefaultConfig returns the configuration used for zero fields.
func DefaultConfig() Config {
	eio := engineio.DefaultConfig()
	return Config{
		PingInterval: eio.PingInterval,
		PingTimeout:  eio.PingTimeout,
		MaxPayload:   eio.MaxPayload,
		WriteTimeout: eio.WriteTimeout,
		SendBuffer:   eio.SendBuffer,
		Path:         "/socket.io/",
		DocPath:      "/sio-doc/",
		Title:        "SIO",
		Version:      "1.0.0",
		Redis:        RedisConfig{Prefix: "siox"},
	}
}

// LoadConfig reads a YAML file over the defaults, then applies environment
// overrides.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}

	if err := applyEnv(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, cfg.Validate()
}

// ConfigFromEnv returns the defaults overridden by SIOX_* variables.
func ConfigFromEnv() (Config, error) {
	cfg := DefaultConfig()
	if err := applyEnv(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, cfg.Validate()
}

func applyEnv(cfg *Config) error {
	if err := env.ParseWithOptions(cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// Validate reports the first invalid field.
func (c Config) Validate() error {
	switch {
	case c.PingInterval < 0 || c.PingTimeout < 0 || c.WriteTimeout < 0:
		return errors.New("siox: durations must not be negative")
	case c.MaxPayload < 0 || c.SendBuffer < 0 || c.HandshakeRate < 0:
		return errors.New("siox: sizes and rates must not be negative")
	case !strings.HasPrefix(c.Path, "/"):
		return fmt.Errorf("siox: path %q must start with /", c.Path)
	case !strings.HasPrefix(c.DocPath, "/"):
		return fmt.Errorf("siox: doc path %q must start with /", c.DocPath)
	}
	return nil
}

func (c Config) engineConfig() engineio.Config {
	return engineio.Config{
		PingInterval:   c.PingInterval,
		PingTimeout:    c.PingTimeout,
		MaxPayload:     c.MaxPayload,
		WriteTimeout:   c.WriteTimeout,
		SendBuffer:     c.SendBuffer,
		AllowedOrigins: c.AllowedOrigins,
	}
}

// withDefaults fills zero fields from DefaultConfig.
func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.Path == "" {
		c.Path = def.Path
	}
	if c.DocPath == "" {
		c.DocPath = def.DocPath
	}
	if c.Title == "" {
		c.Title = def.Title
	}
	if c.Version == "" {
		c.Version = def.Version
	}
	if c.Redis.Prefix == "" {
		c.Redis.Prefix = def.Redis.Prefix
	}
	return c
}
