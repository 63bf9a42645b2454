package config

import "time"

// Registry backend selection.
const (
	RegistryMemory = "memory"
	RegistryRedis  = "redis"
)

// Config is the single canonical source of server configuration.
type Config struct {
	Addr              string        `mapstructure:"addr" yaml:"addr"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout" yaml:"read_header_timeout"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`

	DatabasePath string `mapstructure:"database_path" yaml:"database_path"`

	LogLevel  string `mapstructure:"log_level" yaml:"log_level"`
	LogFormat string `mapstructure:"log_format" yaml:"log_format"`

	// RegistryBackend selects where live connections are tracked:
	// "memory" (single process) or "redis".
	RegistryBackend string        `mapstructure:"registry_backend" yaml:"registry_backend"`
	RedisAddr       string        `mapstructure:"redis_addr" yaml:"redis_addr"`
	ConnectionTTL   time.Duration `mapstructure:"connection_ttl" yaml:"connection_ttl"`

	// PushWorkers caps concurrent pushes within one broadcast.
	PushWorkers  int `mapstructure:"push_workers" yaml:"push_workers"`
	HistoryLimit int `mapstructure:"history_limit" yaml:"history_limit"`
}

// Default returns configuration with reasonable starter defaults.
func Default() Config {
	return Config{
		Addr:              ":8080",
		ReadHeaderTimeout: 5 * time.Second,
		ShutdownTimeout:   5 * time.Second,
		DatabasePath:      "chatsync.db",
		LogLevel:          "info",
		LogFormat:         "console",
		RegistryBackend:   RegistryMemory,
		RedisAddr:         "localhost:6379",
		ConnectionTTL:     24 * time.Hour,
		PushWorkers:       16,
		HistoryLimit:      25,
	}
}
