// Package config manages application configuration.
//
// Values are layered as defaults, an optional .env file, an optional YAML
// config file and finally YTRELAY_* environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/alecthomas/units"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix is the prefix of every environment override.
const EnvPrefix = "YTRELAY"

// Config holds all application configuration.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Log        LogConfig        `mapstructure:"log"`
	Ytdlp      YtdlpConfig      `mapstructure:"ytdlp"`
	Download   DownloadConfig   `mapstructure:"download"`
	Upload     UploadConfig     `mapstructure:"upload"`
	Workers    WorkersConfig    `mapstructure:"workers"`
	Automation AutomationConfig `mapstructure:"automation"`
	Platforms  PlatformsConfig  `mapstructure:"platforms"`
	Probe      ProbeConfig      `mapstructure:"probe"`
	Store      StoreConfig      `mapstructure:"store"`
	OAuth      OAuthConfig      `mapstructure:"oauth"`
	YouTube    YouTubeConfig    `mapstructure:"youtube"`
	Cache      CacheConfig      `mapstructure:"cache"`
	Formats    FormatsConfig    `mapstructure:"formats"`
}

type ServerConfig struct {
	Addr string `mapstructure:"addr"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// YtdlpConfig locates the extraction tool.
type YtdlpConfig struct {
	// Path is the yt-dlp executable (default: "yt-dlp").
	Path string `mapstructure:"path"`
	// Timeout bounds a single metadata extraction.
	Timeout time.Duration `mapstructure:"timeout"`
}

// DownloadConfig controls the fetch phase.
type DownloadConfig struct {
	Dir       string `mapstructure:"dir"`
	MaxSize   string `mapstructure:"max_size"`
	ChunkSize string `mapstructure:"chunk_size"`

	// Parsed from MaxSize and ChunkSize by Load.
	MaxSizeBytes   int64 `mapstructure:"-"`
	ChunkSizeBytes int64 `mapstructure:"-"`
}

// UploadConfig controls the resumable upload phase.
type UploadConfig struct {
	ChunkSize      string        `mapstructure:"chunk_size"`
	Privacy        string        `mapstructure:"privacy"`
	Category       string        `mapstructure:"category"`
	MaxRetries     int           `mapstructure:"max_retries"`
	InitialBackoff time.Duration `mapstructure:"initial_backoff"`
	MaxBackoff     time.Duration `mapstructure:"max_backoff"`

	ChunkSizeBytes int64 `mapstructure:"-"`
}

// WorkersConfig bounds concurrent transfers.
type WorkersConfig struct {
	Global  int `mapstructure:"global"`
	PerUser int `mapstructure:"per_user"`
	Queue   int `mapstructure:"queue"`
}

type AutomationConfig struct {
	DefaultInterval time.Duration `mapstructure:"default_interval"`
	DefaultQuality  string        `mapstructure:"default_quality"`
	IdleWait        time.Duration `mapstructure:"idle_wait"`
	ErrorCooldown   time.Duration `mapstructure:"error_cooldown"`
	LogRetention    int           `mapstructure:"log_retention"`
}

type PlatformsConfig struct {
	// OverridesFile is an optional YAML file patching the built-in table.
	OverridesFile string `mapstructure:"overrides_file"`
	CookiesDir    string `mapstructure:"cookies_dir"`
}

type ProbeConfig struct {
	Timeout time.Duration `mapstructure:"timeout"`
}

// StoreConfig selects the persistence backend: json, sqlite or postgres.
type StoreConfig struct {
	Driver string `mapstructure:"driver"`
	Path   string `mapstructure:"path"`
	DSN    string `mapstructure:"dsn"`
}

type OAuthConfig struct {
	ClientID     string `mapstructure:"client_id"`
	ClientSecret string `mapstructure:"client_secret"`
	RedirectURL  string `mapstructure:"redirect_url"`
}

type YouTubeConfig struct {
	// APIKey is used when a user has not configured their own key.
	APIKey string `mapstructure:"api_key"`
}

type CacheConfig struct {
	TTL time.Duration `mapstructure:"ttl"`
}

// FormatsConfig overrides the scoring tables, keyed by video height.
type FormatsConfig struct {
	Targets   map[string]int `mapstructure:"targets"`
	Estimates map[string]int `mapstructure:"estimates"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("ytdlp.path", "yt-dlp")
	v.SetDefault("ytdlp.timeout", 2*time.Minute)
	v.SetDefault("download.dir", "downloads")
	v.SetDefault("download.max_size", "300MiB")
	v.SetDefault("download.chunk_size", "10MiB")
	v.SetDefault("upload.chunk_size", "8MiB")
	v.SetDefault("upload.privacy", "public")
	v.SetDefault("upload.category", "22")
	v.SetDefault("upload.max_retries", 5)
	v.SetDefault("upload.initial_backoff", 2*time.Second)
	v.SetDefault("upload.max_backoff", 64*time.Second)
	v.SetDefault("workers.global", 4)
	v.SetDefault("workers.per_user", 2)
	v.SetDefault("workers.queue", 16)
	v.SetDefault("automation.default_interval", 300*time.Second)
	v.SetDefault("automation.default_quality", "1080p")
	v.SetDefault("automation.idle_wait", 10*time.Second)
	v.SetDefault("automation.error_cooldown", time.Minute)
	v.SetDefault("automation.log_retention", 1000)
	v.SetDefault("platforms.overrides_file", "")
	v.SetDefault("platforms.cookies_dir", "cookies")
	v.SetDefault("probe.timeout", 5*time.Second)
	v.SetDefault("store.driver", "json")
	v.SetDefault("store.path", "ytrelay.json")
	v.SetDefault("store.dsn", "")
	v.SetDefault("oauth.client_id", "")
	v.SetDefault("oauth.client_secret", "")
	v.SetDefault("oauth.redirect_url", "http://localhost:8080/oauth/callback")
	v.SetDefault("youtube.api_key", "")
	v.SetDefault("cache.ttl", 10*time.Minute)
	v.SetDefault("formats.targets", map[string]int{})
	v.SetDefault("formats.estimates", map[string]int{})
}

// DefaultConfig returns configuration with safe defaults.
func DefaultConfig() *Config {
	v := viper.New()
	setDefaults(v)
	cfg, err := decode(v)
	if err != nil {
		// Defaults are static and always decode.
		panic(err)
	}
	return cfg
}

// Load loads configuration. If path is empty, ytrelay.yaml is looked up in
// the working directory and in $HOME/.config/ytrelay; a missing file is not
// an error. Priority: env vars > config file > .env > defaults.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := v.BindEnv("youtube.api_key", EnvPrefix+"_YOUTUBE_API_KEY", "YOUTUBE_API_KEY"); err != nil {
		return nil, err
	}

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("ytrelay")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.config/ytrelay")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("load config file: %w", err)
		}
	}

	cfg, err := decode(v)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func decode(v *viper.Viper) (*Config, error) {
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	var err error
	if cfg.Download.MaxSizeBytes, err = parseBytes("download.max_size", cfg.Download.MaxSize); err != nil {
		return nil, err
	}
	if cfg.Download.ChunkSizeBytes, err = parseBytes("download.chunk_size", cfg.Download.ChunkSize); err != nil {
		return nil, err
	}
	if cfg.Upload.ChunkSizeBytes, err = parseBytes("upload.chunk_size", cfg.Upload.ChunkSize); err != nil {
		return nil, err
	}
	return cfg, nil
}

func parseBytes(key, value string) (int64, error) {
	n, err := units.ParseStrictBytes(value)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid byte size %q: %w", key, value, err)
	}
	return n, nil
}

// uploadChunkQuantum is the granularity the resumable upload protocol
// requires for every chunk but the last.
const uploadChunkQuantum = 256 * 1024

// Validate checks that configuration values are valid and consistent.
// It returns an error if any configuration value is invalid.
func (c *Config) Validate() error {
	if c.Ytdlp.Path == "" {
		return fmt.Errorf("ytdlp.path must not be empty")
	}
	if c.Ytdlp.Timeout <= 0 {
		return fmt.Errorf("ytdlp.timeout must be positive")
	}
	if c.Download.MaxSizeBytes <= 0 {
		return fmt.Errorf("download.max_size must be positive")
	}
	if c.Upload.ChunkSizeBytes <= 0 || c.Upload.ChunkSizeBytes%uploadChunkQuantum != 0 {
		return fmt.Errorf("upload.chunk_size must be a positive multiple of 256KiB")
	}
	switch c.Upload.Privacy {
	case "public", "private", "unlisted":
	default:
		return fmt.Errorf("upload.privacy must be public, private or unlisted")
	}
	if c.Upload.MaxRetries < 0 {
		return fmt.Errorf("upload.max_retries must be non-negative")
	}
	if c.Upload.InitialBackoff <= 0 {
		return fmt.Errorf("upload.initial_backoff must be positive")
	}
	if c.Upload.MaxBackoff < c.Upload.InitialBackoff {
		return fmt.Errorf("upload.max_backoff must be >= upload.initial_backoff")
	}
	if c.Workers.Global <= 0 || c.Workers.PerUser <= 0 {
		return fmt.Errorf("workers.global and workers.per_user must be positive")
	}
	if c.Workers.Queue < 0 {
		return fmt.Errorf("workers.queue must be non-negative")
	}
	if c.Automation.DefaultInterval < time.Second {
		return fmt.Errorf("automation.default_interval must be at least 1s")
	}
	if c.Automation.LogRetention <= 0 {
		return fmt.Errorf("automation.log_retention must be positive")
	}
	if c.Probe.Timeout <= 0 {
		return fmt.Errorf("probe.timeout must be positive")
	}
	switch c.Store.Driver {
	case "json", "sqlite":
		if c.Store.Path == "" {
			return fmt.Errorf("store.path is required for the %s driver", c.Store.Driver)
		}
	case "postgres":
		if c.Store.DSN == "" {
			return fmt.Errorf("store.dsn is required for the postgres driver")
		}
	default:
		return fmt.Errorf("store.driver must be json, sqlite or postgres")
	}
	return nil
}
