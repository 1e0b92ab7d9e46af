// Package config loads hub and agent settings from a TOML file, falling
// back to defaults when the file is missing.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"
)

// Hub is the coordinator's configuration.
type Hub struct {
	ListenAddr    string        `toml:"listen_addr"`
	UploadDir     string        `toml:"upload_dir"`
	MaxFileSizeMB int64         `toml:"max_file_size_mb"`
	AnnouncePort  int           `toml:"announce_port"`
	AnnounceEvery time.Duration `toml:"-"`
}

// Agent is the terminal client's configuration.
type Agent struct {
	HubURL      string `toml:"hub_url"` // empty: discover over the LAN
	DeviceName  string `toml:"device_name"`
	DeviceType  string `toml:"device_type"`
	DownloadDir string `toml:"download_dir"`
}

// Config is the full file layout.
type Config struct {
	Hub   Hub   `toml:"hub"`
	Agent Agent `toml:"agent"`
}

const defaultAnnouncePort = 52130

// Default returns the stock configuration.
func Default() Config {
	hostname, _ := os.Hostname()
	if hostname == "" {
		hostname = "lan-hub"
	}
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return Config{
		Hub: Hub{
			ListenAddr:    ":8080",
			UploadDir:     "./uploads",
			MaxFileSizeMB: 10000,
			AnnouncePort:  defaultAnnouncePort,
			AnnounceEvery: 3 * time.Second,
		},
		Agent: Agent{
			DeviceName:  hostname,
			DeviceType:  "desktop",
			DownloadDir: filepath.Join(home, "Downloads"),
		},
	}
}

// Load parses the config at path, layered over defaults. A missing file is
// not an error unless the path was set explicitly.
func Load(path string, explicit bool) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) && !explicit {
			return cfg, nil
		}
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}

	cfg.Hub.ListenAddr = strings.TrimSpace(cfg.Hub.ListenAddr)
	if cfg.Hub.ListenAddr == "" {
		cfg.Hub.ListenAddr = ":8080"
	}
	if cfg.Hub.UploadDir == "" {
		cfg.Hub.UploadDir = "./uploads"
	}
	if cfg.Hub.AnnouncePort == 0 {
		cfg.Hub.AnnouncePort = defaultAnnouncePort
	}
	if cfg.Hub.AnnounceEvery == 0 {
		cfg.Hub.AnnounceEvery = 3 * time.Second
	}
	return cfg, nil
}
