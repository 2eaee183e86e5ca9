// Package config loads the chat server configuration from an optional YAML
// file overlaid by environment variables.
package config

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// Storage drivers.
const (
	DriverMemory   = "memory"
	DriverRedis    = "redis"
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

type Config struct {
	HTTP    HTTPConfig    `yaml:"http"`
	Storage StorageConfig `yaml:"storage"`
	Chat    ChatConfig    `yaml:"chat"`
	Auth    AuthConfig    `yaml:"auth"`
	Log     LogConfig     `yaml:"log"`
}

type HTTPConfig struct {
	Addr string `yaml:"addr" env:"LISTEN_ADDR" env-default:":3000"`

	ReadTimeout     time.Duration `yaml:"read_timeout" env:"HTTP_READ_TIMEOUT" env-default:"15s"`
	IdleTimeout     time.Duration `yaml:"idle_timeout" env:"HTTP_IDLE_TIMEOUT" env-default:"60s"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"HTTP_SHUTDOWN_TIMEOUT" env-default:"10s"`

	// AllowedOrigins are host patterns accepted for WebSocket upgrades and
	// CORS. "*" allows every origin.
	AllowedOrigins []string `yaml:"allowed_origins" env:"ALLOWED_ORIGINS" env-separator:"," env-default:"*"`
}

type StorageConfig struct {
	Driver string `yaml:"driver" env:"STORAGE_DRIVER" env-default:"sqlite"`

	PostgresDSN string `yaml:"postgres_dsn" env:"PG_DSN"`
	SQLitePath  string `yaml:"sqlite_path" env:"SQLITE_PATH" env-default:"chat.db"`

	// RedisURL overrides RedisAddr/RedisPassword/RedisDB if set.
	RedisAddr     string `yaml:"redis_addr" env:"REDIS_ADDR" env-default:"localhost:6379"`
	RedisPassword string `yaml:"redis_password" env:"REDIS_PASSWORD"`
	RedisDB       int    `yaml:"redis_db" env:"REDIS_DB" env-default:"0"`
	RedisURL      string `yaml:"redis_url" env:"REDIS_URL"`

	// MessageRetention caps the number of stored messages for the memory and
	// redis drivers. 0 keeps everything.
	MessageRetention int `yaml:"message_retention" env:"MESSAGE_RETENTION" env-default:"0"`

	ConnectTimeout time.Duration `yaml:"connect_timeout" env:"STORAGE_CONNECT_TIMEOUT" env-default:"5s"`
}

type ChatConfig struct {
	HistoryLimit int           `yaml:"history_limit" env:"HISTORY_LIMIT" env-default:"50"`
	SendBuffer   int           `yaml:"send_buffer" env:"SEND_BUFFER" env-default:"16"`
	WriteTimeout time.Duration `yaml:"write_timeout" env:"WRITE_TIMEOUT" env-default:"5s"`
	MaxConns     int           `yaml:"max_conns" env:"MAX_CONNS" env-default:"0"`
	IdleTimeout  time.Duration `yaml:"idle_timeout" env:"IDLE_TIMEOUT" env-default:"0s"`

	// ReadLimit is the largest inbound WebSocket message in bytes; -1
	// disables the limit.
	ReadLimit int64 `yaml:"read_limit" env:"WS_READ_LIMIT" env-default:"1048576"`
}

type AuthConfig struct {
	BcryptCost int `yaml:"bcrypt_cost" env:"BCRYPT_COST" env-default:"10"`
}

type LogConfig struct {
	Level  string `yaml:"level" env:"LOG_LEVEL" env-default:"info"`
	Format string `yaml:"format" env:"LOG_FORMAT" env-default:"json"`
}

// Load reads the YAML file at path (when non-empty) and then applies
// environment overrides. Without a file only the environment and defaults
// are used.
func Load(path string) (*Config, error) {
	var cfg Config
	if path != "" {
		if err := cleanenv.ReadConfig(path, &cfg); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	} else if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, fmt.Errorf("read env: %w", err)
	}

	if cfg.Storage.RedisURL != "" {
		addr, password, db, err := parseRedisURL(cfg.Storage.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("REDIS_URL: %w", err)
		}
		cfg.Storage.RedisAddr = addr
		cfg.Storage.RedisPassword = password
		cfg.Storage.RedisDB = db
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks cross-field constraints that struct tags cannot express.
func (c *Config) Validate() error {
	switch c.Storage.Driver {
	case DriverMemory, DriverSQLite:
	case DriverRedis:
		if c.Storage.RedisAddr == "" {
			return fmt.Errorf("storage: redis driver requires REDIS_ADDR or REDIS_URL")
		}
	case DriverPostgres:
		if c.Storage.PostgresDSN == "" {
			return fmt.Errorf("storage: postgres driver requires PG_DSN")
		}
	default:
		return fmt.Errorf("storage: unknown driver %q", c.Storage.Driver)
	}
	if c.Chat.HistoryLimit <= 0 {
		return fmt.Errorf("chat: history_limit must be positive, got %d", c.Chat.HistoryLimit)
	}
	if c.Chat.SendBuffer <= 0 {
		return fmt.Errorf("chat: send_buffer must be positive, got %d", c.Chat.SendBuffer)
	}
	return nil
}

// parseRedisURL extracts host:port, password and DB from redis:// or rediss:// URL.
func parseRedisURL(s string) (addr, password string, db int, err error) {
	u, err := url.Parse(strings.TrimSpace(s))
	if err != nil {
		return "", "", 0, err
	}
	if u.Scheme != "redis" && u.Scheme != "rediss" {
		return "", "", 0, fmt.Errorf("scheme must be redis or rediss, got %q", u.Scheme)
	}
	addr = u.Host
	if addr == "" {
		return "", "", 0, fmt.Errorf("missing host in Redis URL")
	}
	if u.User != nil {
		password, _ = u.User.Password()
	}
	if u.Path != "" && len(u.Path) > 1 {
		db, _ = strconv.Atoi(strings.TrimPrefix(u.Path, "/"))
	}
	return addr, password, db, nil
}
