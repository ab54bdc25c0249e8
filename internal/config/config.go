// Package config loads sbasync settings from defaults, a config file, a
// .env file and SBASYNC_* environment variables, in increasing precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/MYKHIL/sbapromaster-sub000/internal/schema"
)

// EnvPrefix prefixes every environment variable, e.g. SBASYNC_REMOTE_URL.
const EnvPrefix = "SBASYNC"

// Config is the full sbasync configuration.
type Config struct {
	DataDir   string          `mapstructure:"data_dir"`
	Remote    RemoteConfig    `mapstructure:"remote"`
	School    SchoolConfig    `mapstructure:"school"`
	Sync      SyncConfig      `mapstructure:"sync"`
	Server    ServerConfig    `mapstructure:"server"`
	Dashboard DashboardConfig `mapstructure:"dashboard"`
	Log       LogConfig       `mapstructure:"log"`
}

// RemoteConfig points at the document server.
type RemoteConfig struct {
	URL     string        `mapstructure:"url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// SchoolConfig selects the school document. ID wins over the
// name/year/term triple.
type SchoolConfig struct {
	ID   string `mapstructure:"id"`
	Name string `mapstructure:"name"`
	Year string `mapstructure:"year"`
	Term string `mapstructure:"term"`
}

type SyncConfig struct {
	AutoSaveDelay      time.Duration `mapstructure:"autosave_delay"`
	ActiveTypingWindow time.Duration `mapstructure:"typing_window"`
	RefreshInterval    time.Duration `mapstructure:"refresh_interval"`
	ProbeInterval      time.Duration `mapstructure:"probe_interval"`
	PollInterval       time.Duration `mapstructure:"poll_interval"`
	Offline            bool          `mapstructure:"offline"`
}

type ServerConfig struct {
	Addr            string `mapstructure:"addr"`
	DB              string `mapstructure:"db"`
	DailyWriteLimit int    `mapstructure:"daily_write_limit"`
	RequestLogs     bool   `mapstructure:"request_logs"`
}

type DashboardConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

// Addr returns host:port.
func (d DashboardConfig) Addr() string {
	return fmt.Sprintf("%s:%d", d.Host, d.Port)
}

// Options controls Load.
type Options struct {
	// ConfigFile is an explicit config file. When empty, sbasync.{yaml,toml,json}
	// is searched in the working directory and the data directory.
	ConfigFile string

	// EnvFile is loaded into the environment before variables are read.
	// Missing files are ignored. Defaults to .env.
	EnvFile string
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".sbasync"
	}
	return filepath.Join(home, ".sbasync")
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("data_dir", defaultDataDir())

	v.SetDefault("remote.url", "http://127.0.0.1:8787")
	v.SetDefault("remote.timeout", 15*time.Second)

	v.SetDefault("school.id", "")
	v.SetDefault("school.name", "")
	v.SetDefault("school.year", "")
	v.SetDefault("school.term", "")

	v.SetDefault("sync.autosave_delay", 5*time.Second)
	v.SetDefault("sync.typing_window", 3*time.Second)
	v.SetDefault("sync.refresh_interval", 5*time.Minute)
	v.SetDefault("sync.probe_interval", 30*time.Second)
	v.SetDefault("sync.poll_interval", 2*time.Second)
	v.SetDefault("sync.offline", false)

	v.SetDefault("server.addr", "127.0.0.1:8787")
	v.SetDefault("server.db", "")
	v.SetDefault("server.daily_write_limit", 0)
	v.SetDefault("server.request_logs", false)

	v.SetDefault("dashboard.host", "127.0.0.1")
	v.SetDefault("dashboard.port", 8080)

	v.SetDefault("log.file", "")
	v.SetDefault("log.sync_file", "")
	v.SetDefault("log.max_size_mb", 10)
	v.SetDefault("log.max_backups", 3)
	v.SetDefault("log.max_age_days", 28)
	v.SetDefault("log.compress", false)
}

// Load reads the configuration.
func Load(opts Options) (*Config, error) {
	envFile := opts.EnvFile
	if envFile == "" {
		envFile = ".env"
	}
	if _, err := os.Stat(envFile); err == nil {
		if err := godotenv.Load(envFile); err != nil {
			return nil, fmt.Errorf("failed to load %s: %w", envFile, err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to stat %s: %w", envFile, err)
	}

	v := viper.New()
	v.SetTypeByDefaultValue(true)
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if opts.ConfigFile != "" {
		v.SetConfigFile(opts.ConfigFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", opts.ConfigFile, err)
		}
	} else {
		v.SetConfigName("sbasync")
		v.AddConfigPath(".")
		v.AddConfigPath(v.GetString("data_dir"))
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("failed to read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks value ranges.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("data_dir cannot be empty")
	}
	durations := map[string]time.Duration{
		"remote.timeout":        c.Remote.Timeout,
		"sync.autosave_delay":   c.Sync.AutoSaveDelay,
		"sync.typing_window":    c.Sync.ActiveTypingWindow,
		"sync.refresh_interval": c.Sync.RefreshInterval,
		"sync.probe_interval":   c.Sync.ProbeInterval,
		"sync.poll_interval":    c.Sync.PollInterval,
	}
	for key, d := range durations {
		if d < 0 {
			return fmt.Errorf("%s must not be negative, got %s", key, d)
		}
	}
	if c.Dashboard.Port < 0 || c.Dashboard.Port > 65535 {
		return fmt.Errorf("dashboard.port out of range: %d", c.Dashboard.Port)
	}
	if c.Log.MaxSizeMB < 0 || c.Log.MaxBackups < 0 {
		return fmt.Errorf("log.max_size_mb and log.max_backups must not be negative")
	}
	return nil
}

// ErrNoSchool is returned by SchoolID when no school is configured.
var ErrNoSchool = errors.New("no school configured: set school.id or school.name, school.year and school.term")

// SchoolID returns the configured document id.
func (c *Config) SchoolID() (string, error) {
	if c.School.ID != "" {
		return c.School.ID, nil
	}
	if c.School.Name == "" || c.School.Year == "" || c.School.Term == "" {
		return "", ErrNoSchool
	}
	return schema.DocumentID(c.School.Name, c.School.Year, c.School.Term), nil
}

// KVPath is the local state database.
func (c *Config) KVPath() string {
	return filepath.Join(c.DataDir, "local.db")
}

// LockDir holds the cross-process queue locks.
func (c *Config) LockDir() string {
	return filepath.Join(c.DataDir, "locks")
}

// ServerDB is the document server database, defaulting into the data dir.
func (c *Config) ServerDB() string {
	if c.Server.DB != "" {
		return c.Server.DB
	}
	return filepath.Join(c.DataDir, "documents.db")
}
