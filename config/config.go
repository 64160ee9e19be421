// Package config loads dbdocsync settings from dbdocsync.yaml, the
// environment and an optional .env file.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// DefaultFile is looked up in the working directory when no --config is given.
const DefaultFile = "dbdocsync.yaml"

type DatabaseConfig struct {
	URL string `mapstructure:"url" yaml:"url"`
}

type RemoteConfig struct {
	BaseURL string        `mapstructure:"base_url" yaml:"base_url"`
	Token   string        `mapstructure:"token" yaml:"token"`   // AES-GCM ciphertext, see session.Seal
	Secret  string        `mapstructure:"secret" yaml:"secret"` // passphrase for Token
	Tenant  string        `mapstructure:"tenant" yaml:"tenant"`
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

type SyncConfig struct {
	BatchSize       int           `mapstructure:"batch_size" yaml:"batch_size"`
	DetailBatchSize int           `mapstructure:"detail_batch_size" yaml:"detail_batch_size"`
	BatchDelay      time.Duration `mapstructure:"batch_delay" yaml:"batch_delay"`
	Timeout         time.Duration `mapstructure:"timeout" yaml:"timeout"`
	Attempts        int           `mapstructure:"attempts" yaml:"attempts"`
}

type DrainConfig struct {
	Interval   time.Duration `mapstructure:"interval" yaml:"interval"`
	Limit      int           `mapstructure:"limit" yaml:"limit"`
	MaxRetries int           `mapstructure:"max_retries" yaml:"max_retries"`
	Backoff    time.Duration `mapstructure:"backoff" yaml:"backoff"`
	MaxBackoff time.Duration `mapstructure:"max_backoff" yaml:"max_backoff"`
}

type ServerConfig struct {
	Addr string `mapstructure:"addr" yaml:"addr"`
}

type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"` // text or json
	File   string `mapstructure:"file" yaml:"file"`
}

type Config struct {
	Database DatabaseConfig `mapstructure:"database" yaml:"database"`
	Remote   RemoteConfig   `mapstructure:"remote" yaml:"remote"`
	Sync     SyncConfig     `mapstructure:"sync" yaml:"sync"`
	Drain    DrainConfig    `mapstructure:"drain" yaml:"drain"`
	Server   ServerConfig   `mapstructure:"server" yaml:"server"`
	Log      LogConfig      `mapstructure:"log" yaml:"log"`
}

// Defaults returns the built-in configuration.
func Defaults() Config {
	return Config{
		Remote: RemoteConfig{Timeout: 30 * time.Second},
		Sync: SyncConfig{
			BatchSize:       50,
			DetailBatchSize: 100,
			BatchDelay:      500 * time.Millisecond,
			Timeout:         time.Hour,
			Attempts:        3,
		},
		Drain: DrainConfig{
			Interval:   5 * time.Minute,
			Limit:      50,
			MaxRetries: 3,
			Backoff:    time.Minute,
			MaxBackoff: time.Hour,
		},
		Server: ServerConfig{Addr: ":8088"},
		Log:    LogConfig{Level: "info", Format: "text"},
	}
}

func setDefaults(v *viper.Viper) {
	d := Defaults()
	v.SetDefault("database.url", d.Database.URL)
	v.SetDefault("remote.base_url", d.Remote.BaseURL)
	v.SetDefault("remote.token", d.Remote.Token)
	v.SetDefault("remote.secret", d.Remote.Secret)
	v.SetDefault("remote.tenant", d.Remote.Tenant)
	v.SetDefault("remote.timeout", d.Remote.Timeout)
	v.SetDefault("sync.batch_size", d.Sync.BatchSize)
	v.SetDefault("sync.detail_batch_size", d.Sync.DetailBatchSize)
	v.SetDefault("sync.batch_delay", d.Sync.BatchDelay)
	v.SetDefault("sync.timeout", d.Sync.Timeout)
	v.SetDefault("sync.attempts", d.Sync.Attempts)
	v.SetDefault("drain.interval", d.Drain.Interval)
	v.SetDefault("drain.limit", d.Drain.Limit)
	v.SetDefault("drain.max_retries", d.Drain.MaxRetries)
	v.SetDefault("drain.backoff", d.Drain.Backoff)
	v.SetDefault("drain.max_backoff", d.Drain.MaxBackoff)
	v.SetDefault("server.addr", d.Server.Addr)
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)
	v.SetDefault("log.file", d.Log.File)
}

// Load reads configuration from path (or dbdocsync.yaml when path is empty),
// then overlays DBDOC_* environment variables. A missing file is not an error.
func Load(path string) (Config, error) {
	LoadEnv()

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("DBDOC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := v.BindEnv("database.url", "DBDOC_DATABASE_URL", "DATABASE_URL"); err != nil {
		return Config{}, fmt.Errorf("bind database url: %w", err)
	}

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName(strings.TrimSuffix(DefaultFile, ".yaml"))
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !(path != "" && errors.Is(err, os.ErrNotExist)) {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

// Validate reports the first setting that cannot work.
func (c Config) Validate() error {
	switch {
	case c.Database.URL == "":
		return errors.New("database.url not set (DATABASE_URL, .env or config file)")
	case c.Sync.BatchSize <= 0:
		return fmt.Errorf("sync.batch_size must be positive, got %d", c.Sync.BatchSize)
	case c.Sync.DetailBatchSize <= 0:
		return fmt.Errorf("sync.detail_batch_size must be positive, got %d", c.Sync.DetailBatchSize)
	case c.Sync.Attempts <= 0:
		return fmt.Errorf("sync.attempts must be positive, got %d", c.Sync.Attempts)
	case c.Drain.Limit <= 0:
		return fmt.Errorf("drain.limit must be positive, got %d", c.Drain.Limit)
	case c.Drain.MaxRetries <= 0:
		return fmt.Errorf("drain.max_retries must be positive, got %d", c.Drain.MaxRetries)
	case c.Drain.Interval <= 0:
		return fmt.Errorf("drain.interval must be positive, got %s", c.Drain.Interval)
	}
	return nil
}

// Marshal renders cfg as YAML, the format Load reads back.
func Marshal(cfg Config) ([]byte, error) {
	out, err := yaml.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("marshal config: %w", err)
	}
	return out, nil
}

// Write stores cfg at path. It refuses to overwrite an existing file.
func Write(path string, cfg Config) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("%s already exists", path)
	}
	out, err := Marshal(cfg)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, out, 0o600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}
