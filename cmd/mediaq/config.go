package main

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// cliConfig is read from $XDG_CONFIG_HOME/mediaq/config.toml. Flags override it.
type cliConfig struct {
	API       string        `toml:"api"`
	Format    string        `toml:"format"`
	Quality   string        `toml:"quality"`
	Container string        `toml:"container"`
	OutDir    string        `toml:"out_dir"`
	Interval  time.Duration `toml:"interval"`
	Timeout   time.Duration `toml:"timeout"`
}

func defaultConfig() *cliConfig {
	return &cliConfig{
		API:      "http://127.0.0.1:8080",
		Format:   "video",
		Quality:  "best",
		OutDir:   ".",
		Interval: time.Second,
		Timeout:  10 * time.Second,
	}
}

func configPath() (string, error) {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "mediaq", "config.toml"), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("getting home directory: %w", err)
	}
	return filepath.Join(home, ".config", "mediaq", "config.toml"), nil
}

// loadCLIConfig merges the config file over defaults. A missing file is not an error.
func loadCLIConfig() (*cliConfig, error) {
	cfg := defaultConfig()

	path, err := configPath()
	if err != nil {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("reading config: %w", err)
	}
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func (c *cliConfig) Validate() error {
	u, err := url.Parse(c.API)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("api must be an http(s) URL, got %q", c.API)
	}
	switch strings.ToLower(c.Format) {
	case "video", "audio":
	default:
		return fmt.Errorf("unsupported format %q (valid: video, audio)", c.Format)
	}
	if c.Interval < 100*time.Millisecond {
		return fmt.Errorf("interval must be at least 100ms, got %s", c.Interval)
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive")
	}
	return nil
}
