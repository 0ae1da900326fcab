package config

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Port           int
	DBPath         string
	BufferSize     int
	RequestTimeout time.Duration
	QueryTimeout   time.Duration
	Retention      time.Duration
	PruneInterval  time.Duration
	DevicesFile    string
	Autostart      bool
	LogFormat      string
	LogLevel       string
}

// Parse reads an optional .env file, then command line flags. Environment
// variables provide the flag defaults.
func Parse() *Config {
	// .env is optional; variables may be set directly.
	_ = godotenv.Load()

	cfg, err := ParseArgs(flag.CommandLine, os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	return cfg
}

// ParseArgs parses args into a Config using fs.
func ParseArgs(fs *flag.FlagSet, args []string) (*Config, error) {
	cfg := &Config{}

	fs.IntVar(&cfg.Port, "port", getInt("POLEKO_PORT", 8000), "Web server port")
	fs.StringVar(&cfg.DBPath, "db-path", getEnv("POLEKO_DB_PATH", "./poleko.db"), "SQLite database path")
	fs.IntVar(&cfg.BufferSize, "buffer-size", getInt("POLEKO_BUFFER_SIZE", 300), "Readings buffered per device before a flush")
	fs.DurationVar(&cfg.RequestTimeout, "request-timeout", getDuration("POLEKO_REQUEST_TIMEOUT", 10*time.Second), "Instrument request timeout")
	fs.DurationVar(&cfg.QueryTimeout, "query-timeout", getDuration("POLEKO_QUERY_TIMEOUT", 10*time.Second), "Database query timeout")
	fs.DurationVar(&cfg.Retention, "retention", getDuration("POLEKO_RETENTION", 0), "Measurement retention time (0 keeps everything)")
	fs.DurationVar(&cfg.PruneInterval, "prune-interval", getDuration("POLEKO_PRUNE_INTERVAL", time.Hour), "How often old measurements are pruned")
	fs.StringVar(&cfg.DevicesFile, "devices", getEnv("POLEKO_DEVICES_FILE", ""), "YAML file with devices to register at startup")
	fs.BoolVar(&cfg.Autostart, "autostart", getBool("POLEKO_AUTOSTART", true), "Start polling registered devices at startup")
	fs.StringVar(&cfg.LogFormat, "log-format", getEnv("POLEKO_LOG_FORMAT", "text"), "Log format: text or json")
	fs.StringVar(&cfg.LogLevel, "log-level", getEnv("POLEKO_LOG_LEVEL", "info"), "Log level: debug, info, warn, error")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks value ranges.
func (c *Config) Validate() error {
	var errs []error
	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("port %d out of range", c.Port))
	}
	if c.DBPath == "" {
		errs = append(errs, errors.New("db-path is required"))
	}
	if c.BufferSize <= 0 {
		errs = append(errs, fmt.Errorf("buffer-size must be positive, got %d", c.BufferSize))
	}
	if c.RequestTimeout <= 0 {
		errs = append(errs, errors.New("request-timeout must be positive"))
	}
	if c.QueryTimeout <= 0 {
		errs = append(errs, errors.New("query-timeout must be positive"))
	}
	if c.Retention < 0 {
		errs = append(errs, errors.New("retention must not be negative"))
	}
	if c.Retention > 0 && c.PruneInterval <= 0 {
		errs = append(errs, errors.New("prune-interval must be positive when retention is set"))
	}
	if c.LogFormat != "text" && c.LogFormat != "json" {
		errs = append(errs, fmt.Errorf("unknown log format %q", c.LogFormat))
	}
	return errors.Join(errs...)
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) time.Duration {
	if v, ok := os.LookupEnv(key); ok {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func getBool(key string, fallback bool) bool {
	if v, ok := os.LookupEnv(key); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}
