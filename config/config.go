// Package config loads the screenary TOML configuration. Keys missing from
// the file keep their defaults.
package config

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/rs/zerolog"

	"github.com/cyberinferno/screenary/logger"
	"github.com/cyberinferno/screenary/pdu"
)

const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
)

type Config struct {
	Server    ServerConfig
	Log       LogConfig
	Transport TransportConfig
	Directory DirectoryConfig
	Metrics   MetricsConfig
}

type ServerConfig struct {
	Host         string
	Port         int
	Node         string
	WriteTimeout time.Duration
}

// Address returns host:port for listening or dialing.
func (s ServerConfig) Address() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}

type LogConfig struct {
	Level zerolog.Level
	// Dir enables daily log files in this directory when set.
	Dir string
}

type TransportConfig struct {
	ConnectTimeout time.Duration
	WriteTimeout   time.Duration
	MaxMessageSize int
}

type DirectoryConfig struct {
	Backend       string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	// TTL bounds how long a session stays registered; 0 keeps it until it ends.
	TTL time.Duration
	// CacheTTL is how long redis lookups are cached in memory.
	CacheTTL time.Duration
}

type MetricsConfig struct {
	Enabled bool
	Addr    string
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Host: "127.0.0.1",
			Port: 4489,
			Node: "screenary-1",
		},
		Log: LogConfig{
			Level: zerolog.InfoLevel,
		},
		Transport: TransportConfig{
			ConnectTimeout: 10 * time.Second,
			MaxMessageSize: pdu.DefaultMaxMessageSize,
		},
		Directory: DirectoryConfig{
			Backend:  BackendMemory,
			TTL:      12 * time.Hour,
			CacheTTL: 30 * time.Second,
		},
		Metrics: MetricsConfig{
			Addr: "127.0.0.1:9489",
		},
	}
}

type fileConfig struct {
	Server struct {
		Host         string `toml:"host"`
		Port         int    `toml:"port"`
		Node         string `toml:"node"`
		WriteTimeout string `toml:"write_timeout"`
	} `toml:"server"`
	Log struct {
		Level string `toml:"level"`
		Dir   string `toml:"dir"`
	} `toml:"log"`
	Transport struct {
		ConnectTimeout string `toml:"connect_timeout"`
		WriteTimeout   string `toml:"write_timeout"`
		MaxMessageSize int    `toml:"max_message_size"`
	} `toml:"transport"`
	Directory struct {
		Backend       string `toml:"backend"`
		RedisAddr     string `toml:"redis_addr"`
		RedisPassword string `toml:"redis_password"`
		RedisDB       int    `toml:"redis_db"`
		TTL           string `toml:"ttl"`
		CacheTTL      string `toml:"cache_ttl"`
	} `toml:"directory"`
	Metrics struct {
		Enabled bool   `toml:"enabled"`
		Addr    string `toml:"addr"`
	} `toml:"metrics"`
}

// Load reads the TOML file at path over Default and validates the result.
func Load(path string) (Config, error) {
	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return Config{}, fmt.Errorf("load config: %w", err)
	}

	return build(meta, raw)
}

// Parse is Load for configuration held in memory.
func Parse(data string) (Config, error) {
	var raw fileConfig
	meta, err := toml.Decode(data, &raw)
	if err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}

	return build(meta, raw)
}

func build(meta toml.MetaData, raw fileConfig) (Config, error) {
	cfg := Default()

	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return Config{}, fmt.Errorf("unknown config key %q", undecoded[0].String())
	}

	if meta.IsDefined("server", "host") {
		cfg.Server.Host = strings.TrimSpace(raw.Server.Host)
	}

	if meta.IsDefined("server", "port") {
		cfg.Server.Port = raw.Server.Port
	}

	if meta.IsDefined("server", "node") {
		cfg.Server.Node = strings.TrimSpace(raw.Server.Node)
	}

	if meta.IsDefined("server", "write_timeout") {
		d, err := parseDuration("server.write_timeout", raw.Server.WriteTimeout)
		if err != nil {
			return Config{}, err
		}
		cfg.Server.WriteTimeout = d
	}

	if meta.IsDefined("log", "level") {
		level, ok := logger.ParseLevel(raw.Log.Level)
		if !ok {
			return Config{}, fmt.Errorf("parse log.level: unknown level %q", raw.Log.Level)
		}
		cfg.Log.Level = level
	}

	if meta.IsDefined("log", "dir") {
		cfg.Log.Dir = strings.TrimSpace(raw.Log.Dir)
	}

	if meta.IsDefined("transport", "connect_timeout") {
		d, err := parseDuration("transport.connect_timeout", raw.Transport.ConnectTimeout)
		if err != nil {
			return Config{}, err
		}
		cfg.Transport.ConnectTimeout = d
	}

	if meta.IsDefined("transport", "write_timeout") {
		d, err := parseDuration("transport.write_timeout", raw.Transport.WriteTimeout)
		if err != nil {
			return Config{}, err
		}
		cfg.Transport.WriteTimeout = d
	}

	if meta.IsDefined("transport", "max_message_size") {
		cfg.Transport.MaxMessageSize = raw.Transport.MaxMessageSize
	}

	if meta.IsDefined("directory", "backend") {
		cfg.Directory.Backend = strings.ToLower(strings.TrimSpace(raw.Directory.Backend))
	}

	if meta.IsDefined("directory", "redis_addr") {
		cfg.Directory.RedisAddr = strings.TrimSpace(raw.Directory.RedisAddr)
	}

	if meta.IsDefined("directory", "redis_password") {
		cfg.Directory.RedisPassword = raw.Directory.RedisPassword
	}

	if meta.IsDefined("directory", "redis_db") {
		cfg.Directory.RedisDB = raw.Directory.RedisDB
	}

	if meta.IsDefined("directory", "ttl") {
		d, err := parseDuration("directory.ttl", raw.Directory.TTL)
		if err != nil {
			return Config{}, err
		}
		cfg.Directory.TTL = d
	}

	if meta.IsDefined("directory", "cache_ttl") {
		d, err := parseDuration("directory.cache_ttl", raw.Directory.CacheTTL)
		if err != nil {
			return Config{}, err
		}
		cfg.Directory.CacheTTL = d
	}

	if meta.IsDefined("metrics", "enabled") {
		cfg.Metrics.Enabled = raw.Metrics.Enabled
	}

	if meta.IsDefined("metrics", "addr") {
		cfg.Metrics.Addr = strings.TrimSpace(raw.Metrics.Addr)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// Validate reports every invalid setting.
func (c Config) Validate() error {
	var errs []error

	if c.Server.Port < 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range", c.Server.Port))
	}

	if c.Transport.MaxMessageSize < 0 {
		errs = append(errs, errors.New("transport.max_message_size must not be negative"))
	}

	switch c.Directory.Backend {
	case BackendMemory:
	case BackendRedis:
		if c.Directory.RedisAddr == "" {
			errs = append(errs, errors.New("directory.redis_addr is required for the redis backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("directory.backend %q is not %q or %q", c.Directory.Backend, BackendMemory, BackendRedis))
	}

	if c.Metrics.Enabled && c.Metrics.Addr == "" {
		errs = append(errs, errors.New("metrics.addr is required when metrics are enabled"))
	}

	return errors.Join(errs...)
}

func parseDuration(key, raw string) (time.Duration, error) {
	d, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}

	if d < 0 {
		return 0, fmt.Errorf("parse %s: negative duration %s", key, d)
	}

	return d, nil
}
