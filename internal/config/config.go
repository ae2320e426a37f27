package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"
)

const (
	EnvLocal = "local"
	EnvDebug = "debug"
	EnvProd  = "prod"
)

type Config struct {
	Env        string     `yaml:"env" toml:"env" env:"MEDIAQ_ENV" env-default:"local"`
	HTTPServer HTTPServer `yaml:"http" toml:"http"`
	Storage    Storage    `yaml:"storage" toml:"storage"`
	Worker     Worker     `yaml:"worker" toml:"worker"`
	Tools      Tools      `yaml:"tools" toml:"tools"`
	Listing    Listing    `yaml:"listing" toml:"listing"`
}

type HTTPServer struct {
	Address        string        `yaml:"address" toml:"address" env:"MEDIAQ_HTTP_ADDR" env-default:"0.0.0.0:8080"`
	ReadTimeout    time.Duration `yaml:"read_timeout" toml:"read_timeout" env:"MEDIAQ_HTTP_READ_TIMEOUT" env-default:"15s"`
	IdleTimeout    time.Duration `yaml:"idle_timeout" toml:"idle_timeout" env:"MEDIAQ_HTTP_IDLE_TIMEOUT" env-default:"60s"`
	AllowedOrigins []string      `yaml:"allowed_origins" toml:"allowed_origins" env:"MEDIAQ_ALLOWED_ORIGINS" env-separator:","`
}

type Storage struct {
	StateDir    string        `yaml:"state_dir" toml:"state_dir" env:"MEDIAQ_STATE_DIR" env-default:"/state"`
	DBPath      string        `yaml:"db" toml:"db" env:"MEDIAQ_DB"`
	CachePath   string        `yaml:"cache" toml:"cache" env:"MEDIAQ_CACHE"`
	DownloadDir string        `yaml:"download_dir" toml:"download_dir" env:"MEDIAQ_DOWNLOAD_DIR"`
	ArchiveDir  string        `yaml:"archive_dir" toml:"archive_dir" env:"MEDIAQ_ARCHIVE_DIR"`
	Retention   time.Duration `yaml:"retention" toml:"retention" env:"MEDIAQ_RETENTION" env-default:"1h"`
	CacheTTL    time.Duration `yaml:"cache_ttl" toml:"cache_ttl" env:"MEDIAQ_CACHE_TTL" env-default:"30m"`
}

type Worker struct {
	Count         int `yaml:"count" toml:"count" env:"MEDIAQ_WORKERS" env-default:"2"`
	MaxBatchItems int `yaml:"max_batch_items" toml:"max_batch_items" env:"MEDIAQ_MAX_BATCH_ITEMS" env-default:"50"`
}

type Tools struct {
	YtDlp        string `yaml:"ytdlp" toml:"ytdlp" env:"MEDIAQ_YTDLP" env-default:"yt-dlp"`
	AltExtractor string `yaml:"alt_extractor" toml:"alt_extractor" env:"MEDIAQ_ALT_EXTRACTOR"`
	Python       string `yaml:"python" toml:"python" env:"MEDIAQ_PYTHON" env-default:"python3"`
	FFmpeg       string `yaml:"ffmpeg" toml:"ffmpeg" env:"MEDIAQ_FFMPEG"`
	Proxy        string `yaml:"proxy" toml:"proxy" env:"MEDIAQ_PROXY"`
}

type Listing struct {
	APIKeys []string `yaml:"api_keys" toml:"api_keys" env:"MEDIAQ_API_KEYS" env-separator:","`
	BaseURL string   `yaml:"base_url" toml:"base_url" env:"MEDIAQ_LISTING_BASE_URL" env-default:"https://www.googleapis.com/youtube/v3"`
}

// Load reads .env (if present), then the file named by MEDIAQ_CONFIG (if set),
// then the environment. Derived paths are filled and the result validated.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("loading .env: %w", err)
	}
	var cfg Config
	if path := os.Getenv("MEDIAQ_CONFIG"); path != "" {
		if err := cleanenv.ReadConfig(path, &cfg); err != nil {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
	} else if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, fmt.Errorf("reading environment: %w", err)
	}
	cfg.fillDerived()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

func (c *Config) fillDerived() {
	if c.Storage.DBPath == "" {
		c.Storage.DBPath = filepath.Join(c.Storage.StateDir, "mediaq.db")
	}
	if c.Storage.CachePath == "" {
		c.Storage.CachePath = filepath.Join(c.Storage.StateDir, "probe-cache.db")
	}
	if c.Storage.DownloadDir == "" {
		c.Storage.DownloadDir = filepath.Join(c.Storage.StateDir, "downloads")
	}
	if c.Storage.ArchiveDir == "" {
		c.Storage.ArchiveDir = filepath.Join(c.Storage.StateDir, "archives")
	}
}

// Validate checks values are within acceptable bounds.
func (c *Config) Validate() error {
	switch c.Env {
	case EnvLocal, EnvDebug, EnvProd:
	default:
		return fmt.Errorf("unsupported env %q (valid: local, debug, prod)", c.Env)
	}
	if c.HTTPServer.Address == "" {
		return errors.New("http address cannot be empty")
	}
	if c.Worker.Count < 1 || c.Worker.Count > 32 {
		return fmt.Errorf("workers must be between 1 and 32, got %d", c.Worker.Count)
	}
	if c.Worker.MaxBatchItems < 1 || c.Worker.MaxBatchItems > 500 {
		return fmt.Errorf("max batch items must be between 1 and 500, got %d", c.Worker.MaxBatchItems)
	}
	if c.Storage.Retention < time.Minute {
		return fmt.Errorf("retention must be at least 1m, got %s", c.Storage.Retention)
	}
	if c.Storage.CacheTTL < 0 {
		return fmt.Errorf("cache ttl cannot be negative")
	}
	if c.Tools.YtDlp == "" && c.Tools.Python == "" {
		return errors.New("either ytdlp or python must be set")
	}
	if c.Tools.Proxy != "" {
		u, err := url.Parse(c.Tools.Proxy)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("invalid proxy url %q", c.Tools.Proxy)
		}
	}
	if _, err := url.ParseRequestURI(c.Listing.BaseURL); err != nil {
		return fmt.Errorf("invalid listing base url %q", c.Listing.BaseURL)
	}
	return nil
}
