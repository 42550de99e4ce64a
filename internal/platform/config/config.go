package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const DefaultChunkSize = 6 * 1024 * 1024

type Config struct {
	APIURL        string        `mapstructure:"api_url"`
	AnonKey       string        `mapstructure:"anon_key"`
	StorageURL    string        `mapstructure:"storage_url"`
	Bucket        string        `mapstructure:"bucket"`
	ChunkSize     int64         `mapstructure:"chunk_size"`
	UploadWorkers int           `mapstructure:"upload_workers"`
	ChunkRetries  int           `mapstructure:"chunk_retries"`
	RetryBackoff  time.Duration `mapstructure:"retry_backoff"`
	StateDir      string        `mapstructure:"state_dir"`
	Journal       string        `mapstructure:"journal"`
	RedisAddr     string        `mapstructure:"redis_addr"`
	Preferences   string        `mapstructure:"preferences"`
	AMQPURL       string        `mapstructure:"amqp_url"`
	LogLevel      string        `mapstructure:"log_level"`
}

// Load layers defaults, an optional YAML file, a .env file and POCUS_* environment variables.
func Load(file string) (Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix("POCUS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", file, err)
		}
	}

	cfg := Config{}
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	v.SetDefault("api_url", "http://127.0.0.1:54321")
	v.SetDefault("anon_key", "")
	v.SetDefault("storage_url", "")
	v.SetDefault("bucket", "pocus-media")
	v.SetDefault("chunk_size", DefaultChunkSize)
	v.SetDefault("upload_workers", 3)
	v.SetDefault("chunk_retries", 3)
	v.SetDefault("retry_backoff", "500ms")
	v.SetDefault("state_dir", filepath.Join(home, ".pocus"))
	v.SetDefault("journal", "sqlite")
	v.SetDefault("redis_addr", "localhost:6379")
	v.SetDefault("preferences", "file")
	v.SetDefault("amqp_url", "")
	v.SetDefault("log_level", "info")
}

func (c Config) Validate() error {
	if _, err := url.ParseRequestURI(c.APIURL); err != nil {
		return fmt.Errorf("api_url is invalid: %w", err)
	}
	if c.StorageURL != "" {
		if _, err := url.ParseRequestURI(c.StorageURL); err != nil {
			return fmt.Errorf("storage_url is invalid: %w", err)
		}
	}
	if strings.TrimSpace(c.Bucket) == "" {
		return fmt.Errorf("bucket is required")
	}
	if c.ChunkSize <= 0 {
		return fmt.Errorf("chunk_size must be positive")
	}
	if c.UploadWorkers <= 0 {
		return fmt.Errorf("upload_workers must be positive")
	}
	if c.StateDir == "" {
		return fmt.Errorf("state_dir is required")
	}
	switch c.Journal {
	case "sqlite", "redis":
	default:
		return fmt.Errorf("journal must be sqlite or redis, got %q", c.Journal)
	}
	switch c.Preferences {
	case "file", "badger":
	default:
		return fmt.Errorf("preferences must be file or badger, got %q", c.Preferences)
	}
	return nil
}

// ResumableEndpoint is the chunked-upload endpoint. Storage defaults to the API host.
func (c Config) ResumableEndpoint() string {
	base := c.StorageURL
	if base == "" {
		base = c.APIURL
	}
	return strings.TrimRight(base, "/") + "/storage/v1/upload/resumable"
}

func (c Config) DBPath() string {
	return filepath.Join(c.StateDir, "pocus.db")
}

func (c Config) SessionPath() string {
	return filepath.Join(c.StateDir, "session.json")
}

func (c Config) PreferencesPath() string {
	if c.Preferences == "badger" {
		return filepath.Join(c.StateDir, "prefs")
	}
	return filepath.Join(c.StateDir, "preferences.json")
}
