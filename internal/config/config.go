package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds the relay configuration.
type Config struct {
	Bot        BotConfig        `yaml:"bot"`
	RateLimit  RateLimitConfig  `yaml:"ratelimit"`
	Broadcast  BroadcastConfig  `yaml:"broadcast"`
	Relay      RelayConfig      `yaml:"relay"`
	Storage    StorageConfig    `yaml:"storage"`
	Server     ServerConfig     `yaml:"server"`
	Moderation ModerationConfig `yaml:"moderation"`
	Log        LogConfig        `yaml:"log"`
}

// BotConfig holds the bootstrap admin set and conversation settings.
type BotConfig struct {
	Name            string        `yaml:"name"`
	Admins          []string      `yaml:"admins"`
	ReplySessionTTL time.Duration `yaml:"reply_session_ttl"`
	HistoryLimit    int           `yaml:"history_limit"`
}

// RateLimitConfig configures the per-user sliding window.
type RateLimitConfig struct {
	History     int           `yaml:"history"`
	MinInterval time.Duration `yaml:"min_interval"`
	Window      time.Duration `yaml:"window"`
	MaxMessages int           `yaml:"max_messages"`
}

// BroadcastConfig bounds broadcast fan-out.
type BroadcastConfig struct {
	Concurrency int           `yaml:"concurrency"`
	SendTimeout time.Duration `yaml:"send_timeout"`
	PerSecond   float64       `yaml:"per_second"`
}

// RelayConfig holds event dispatcher settings.
type RelayConfig struct {
	Workers     int           `yaml:"workers"`
	QueueSize   int           `yaml:"queue_size"`
	SendTimeout time.Duration `yaml:"send_timeout"`
	RefSecret   string        `yaml:"ref_secret"`
}

// StorageConfig selects the persistence backend.
type StorageConfig struct {
	Driver string `yaml:"driver"`
	Path   string `yaml:"path"`
}

// ServerConfig holds network listener settings.
type ServerConfig struct {
	SSHPort     int    `yaml:"ssh_port"`
	WSPort      int    `yaml:"ws_port"`
	HealthPort  int    `yaml:"health_port"`
	MaxSessions int    `yaml:"max_sessions"`
	HostKey     string `yaml:"host_key"`
	BannerDir   string `yaml:"banner_dir"`
}

// ModerationConfig holds optional content filtering settings.
type ModerationConfig struct {
	FilterScript string `yaml:"filter_script"`
}

// LogConfig holds logger settings.
type LogConfig struct {
	Level  string `yaml:"level"`
	Pretty bool   `yaml:"pretty"`
}

// Storage drivers.
const (
	DriverSQLite = "sqlite"
	DriverPebble = "pebble"
)

// Default returns the configuration used when a key is absent from the file.
func Default() *Config {
	return &Config{
		Bot: BotConfig{
			Name:            "Talk to Admin",
			ReplySessionTTL: 10 * time.Minute,
			HistoryLimit:    10,
		},
		RateLimit: RateLimitConfig{
			History:     5,
			MinInterval: 2 * time.Second,
			Window:      60 * time.Second,
			MaxMessages: 5,
		},
		Broadcast: BroadcastConfig{
			Concurrency: 8,
			SendTimeout: 5 * time.Second,
			PerSecond:   25,
		},
		Relay: RelayConfig{
			Workers:     4,
			QueueSize:   256,
			SendTimeout: 5 * time.Second,
		},
		Storage: StorageConfig{
			Driver: DriverSQLite,
			Path:   "./data/relay.db",
		},
		Server: ServerConfig{
			SSHPort:     2222,
			WSPort:      8080,
			HealthPort:  8081,
			MaxSessions: 32,
			HostKey:     "./data/ssh_host_key",
		BannerDir:   "./text",
		},
		Log: LogConfig{
			Level:  "info",
			Pretty: true,
		},
	}
}

// Load reads and parses a YAML config file, then applies environment
// overrides. A missing file is not an error: defaults plus environment are
// enough to run.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadEnv loads KEY=VALUE pairs from an env file into the process
// environment without overriding variables that are already set.
func LoadEnv(path string) error {
	if path == "" {
		return nil
	}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("load env file %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() error {
	if v := os.Getenv("ADMIN_IDS"); v != "" {
		c.Bot.Admins = ParseIDList(v)
	}
	if v := os.Getenv("RATE_LIMIT_MESSAGES"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("parse RATE_LIMIT_MESSAGES: %w", err)
		}
		c.RateLimit.MaxMessages = n
	}
	if v := os.Getenv("RATE_LIMIT_WINDOW"); v != "" {
		d, err := parseSeconds(v)
		if err != nil {
			return fmt.Errorf("parse RATE_LIMIT_WINDOW: %w", err)
		}
		c.RateLimit.Window = d
	}
	if v := os.Getenv("RELAY_DB"); v != "" {
		c.Storage.Path = v
	}
	if v := os.Getenv("RELAY_STORAGE_DRIVER"); v != "" {
		c.Storage.Driver = v
	}
	if v := os.Getenv("RELAY_REF_SECRET"); v != "" {
		c.Relay.RefSecret = v
	}
	if v := os.Getenv("RELAY_LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	return nil
}

// parseSeconds accepts either a Go duration ("90s") or a bare number of
// seconds ("60").
func parseSeconds(v string) (time.Duration, error) {
	if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
		return time.Duration(n) * time.Second, nil
	}
	return time.ParseDuration(strings.TrimSpace(v))
}

// ParseIDList splits a comma separated id list, dropping blanks.
func ParseIDList(v string) []string {
	var ids []string
	for _, part := range strings.Split(v, ",") {
		if id := strings.TrimSpace(part); id != "" {
			ids = append(ids, id)
		}
	}
	return ids
}

// Validate reports the first configuration problem found.
func (c *Config) Validate() error {
	if len(c.Bot.Admins) == 0 {
		return errors.New("config: at least one bootstrap admin is required (bot.admins or ADMIN_IDS)")
	}
	if c.RateLimit.MaxMessages <= 0 || c.RateLimit.Window <= 0 {
		return errors.New("config: ratelimit.max_messages and ratelimit.window must be positive")
	}
	if c.RateLimit.History <= 0 {
		return errors.New("config: ratelimit.history must be positive")
	}
	if c.Broadcast.Concurrency <= 0 {
		return errors.New("config: broadcast.concurrency must be positive")
	}
	if c.Broadcast.SendTimeout <= 0 || c.Relay.SendTimeout <= 0 {
		return errors.New("config: send timeouts must be positive")
	}
	if c.Relay.Workers <= 0 {
		return errors.New("config: relay.workers must be positive")
	}
	switch c.Storage.Driver {
	case DriverSQLite, DriverPebble:
	default:
		return fmt.Errorf("config: unknown storage driver %q", c.Storage.Driver)
	}
	return nil
}
