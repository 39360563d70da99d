package main

import (
	"fmt"
	"strings"

	"github.com/BurntSushi/toml"
)

// fileConfig is the on-disk shape, following danmuck/edgectl's
// cmd/ghostctl/config.go pattern of a private struct decoded with
// toml.DecodeFile and only overriding defaults for fields the file
// actually sets.
type fileConfig struct {
	Network      string `toml:"network"`
	Address      string `toml:"address"`
	Scheme       string `toml:"scheme"`
	StreamBuffer int    `toml:"stream_buffer"`
}

type daemonConfig struct {
	Network      string
	Address      string
	Scheme       string
	StreamBuffer int
}

func defaultDaemonConfig() daemonConfig {
	return daemonConfig{
		Network:      "tcp",
		Address:      "127.0.0.1:7331",
		Scheme:       "mascara",
		StreamBuffer: 16,
	}
}

func loadDaemonConfig(path string) (daemonConfig, error) {
	cfg := defaultDaemonConfig()
	if path == "" {
		return cfg, nil
	}

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return daemonConfig{}, fmt.Errorf("load daemon config: %w", err)
	}

	if meta.IsDefined("network") {
		if v := strings.TrimSpace(raw.Network); v != "" {
			cfg.Network = v
		}
	}
	if meta.IsDefined("address") {
		if v := strings.TrimSpace(raw.Address); v != "" {
			cfg.Address = v
		}
	}
	if meta.IsDefined("scheme") {
		if v := strings.TrimSpace(raw.Scheme); v != "" {
			cfg.Scheme = v
		}
	}
	if meta.IsDefined("stream_buffer") && raw.StreamBuffer > 0 {
		cfg.StreamBuffer = raw.StreamBuffer
	}

	return cfg, nil
}
