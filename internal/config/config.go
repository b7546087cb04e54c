// Package config loads tracker configuration from an optional YAML
// file, applies defaults, and honors DXX_* environment overrides
// (including a .env file when present).
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds the application configuration.
type Config struct {
	ListenAddr      string        `yaml:"listen_addr"`
	UDPPort         int           `yaml:"udp_port"`
	WSPort          int           `yaml:"ws_port"`
	HTTPPort        int           `yaml:"http_port"`
	LocalPlayer     string        `yaml:"local_player"`
	GamelogDirs     []string      `yaml:"gamelog_dirs"`
	SnapshotPath    string        `yaml:"snapshot_path"`
	ArchivePath     string        `yaml:"archive_path"`
	PollInterval    time.Duration `yaml:"poll_interval"`
	CleanupInterval time.Duration `yaml:"cleanup_interval"`
	Debug           bool          `yaml:"debug"`
}

// Load reads configuration. path may be empty: defaults plus
// environment overrides then apply alone.
func Load(path string) (*Config, error) {
	// A .env file is optional and never an error.
	godotenv.Load()

	cfg := &Config{}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	cfg.applyEnv()

	// Defaults.
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = "0.0.0.0"
	}
	if cfg.UDPPort == 0 {
		cfg.UDPPort = 9999
	}
	if cfg.WSPort == 0 {
		cfg.WSPort = 8081
	}
	if cfg.HTTPPort == 0 {
		cfg.HTTPPort = 9998
	}
	if cfg.SnapshotPath == "" {
		cfg.SnapshotPath = "data/live.json"
	}
	if cfg.PollInterval == 0 {
		cfg.PollInterval = 5 * time.Second
	}
	if cfg.CleanupInterval == 0 {
		cfg.CleanupInterval = 60 * time.Second
	}
	// Note: ArchivePath intentionally has no default - empty means
	// archive to a null sink.
	return cfg, nil
}

// applyEnv overlays DXX_* environment variables onto the config.
func (c *Config) applyEnv() {
	if v := os.Getenv("DXX_UDP_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.UDPPort = n
		}
	}
	if v := os.Getenv("DXX_WS_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.WSPort = n
		}
	}
	if v := os.Getenv("DXX_HTTP_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.HTTPPort = n
		}
	}
	if v := os.Getenv("DXX_LOCAL_PLAYER"); v != "" {
		c.LocalPlayer = v
	}
	if v := os.Getenv("DXX_GAMELOG_DIRS"); v != "" {
		var dirs []string
		for _, dir := range strings.Split(v, string(os.PathListSeparator)) {
			if dir = strings.TrimSpace(dir); dir != "" {
				dirs = append(dirs, dir)
			}
		}
		c.GamelogDirs = dirs
	}
	if v := os.Getenv("DXX_SNAPSHOT_PATH"); v != "" {
		c.SnapshotPath = v
	}
	if v := os.Getenv("DXX_ARCHIVE_PATH"); v != "" {
		c.ArchivePath = v
	}
	if v := os.Getenv("DXX_DEBUG"); v != "" {
		c.Debug = v == "1" || strings.EqualFold(v, "true")
	}
}
