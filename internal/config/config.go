package config

import "time"

// Storage backend names accepted in configuration.
const (
	StorageJSONFile = "jsonfile"
	StorageSQLite   = "sqlite"
	StorageMemory   = "memory"
)

// Config holds server configuration values.
type Config struct {
	Addr   string `mapstructure:"addr" yaml:"addr"`
	WSAddr string `mapstructure:"ws_addr" yaml:"ws_addr"`

	Storage      string `mapstructure:"storage" yaml:"storage"`
	DataDir      string `mapstructure:"data_dir" yaml:"data_dir"`
	DatabasePath string `mapstructure:"database_path" yaml:"database_path"`
	EventLogMax  int    `mapstructure:"event_log_max" yaml:"event_log_max"`

	LogLevel string `mapstructure:"log_level" yaml:"log_level"`

	PollInterval    time.Duration `mapstructure:"poll_interval" yaml:"poll_interval"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout" yaml:"idle_timeout"`
	QueueDepth      int           `mapstructure:"queue_depth" yaml:"queue_depth"`
	RatePerSec      float64       `mapstructure:"rate_per_sec" yaml:"rate_per_sec"`
	RateBurst       int           `mapstructure:"rate_burst" yaml:"rate_burst"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
}

// Default returns configuration with reasonable starter defaults.
func Default() Config {
	return Config{
		Addr:            ":5555",
		WSAddr:          "",
		Storage:         StorageJSONFile,
		DataDir:         "./data",
		DatabasePath:    "./data/topichat.db",
		EventLogMax:     10000,
		LogLevel:        "info",
		PollInterval:    200 * time.Millisecond,
		IdleTimeout:     5 * time.Minute,
		QueueDepth:      64,
		RatePerSec:      20,
		RateBurst:       40,
		ShutdownTimeout: 5 * time.Second,
	}
}

// UpdateFrom overwrites non-zero values from other config into receiver.
func (c *Config) UpdateFrom(other Config) {
	if other.Addr != "" {
		c.Addr = other.Addr
	}
	if other.WSAddr != "" {
		c.WSAddr = other.WSAddr
	}
	if other.Storage != "" {
		c.Storage = other.Storage
	}
	if other.DataDir != "" {
		c.DataDir = other.DataDir
	}
	if other.DatabasePath != "" {
		c.DatabasePath = other.DatabasePath
	}
	if other.EventLogMax != 0 {
		c.EventLogMax = other.EventLogMax
	}
	if other.LogLevel != "" {
		c.LogLevel = other.LogLevel
	}
	if other.PollInterval != 0 {
		c.PollInterval = other.PollInterval
	}
	if other.IdleTimeout != 0 {
		c.IdleTimeout = other.IdleTimeout
	}
	if other.QueueDepth != 0 {
		c.QueueDepth = other.QueueDepth
	}
	if other.RatePerSec != 0 {
		c.RatePerSec = other.RatePerSec
	}
	if other.RateBurst != 0 {
		c.RateBurst = other.RateBurst
	}
	if other.ShutdownTimeout != 0 {
		c.ShutdownTimeout = other.ShutdownTimeout
	}
}
