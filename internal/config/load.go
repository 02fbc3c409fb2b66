package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
)

// Environment variable names for overrides.
const (
	EnvConfig   = "DROPBOX_GO_CONFIG"
	EnvLogLevel = "DROPBOX_GO_LOG_LEVEL"
)

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

var validLogFormats = map[string]bool{
	"auto": true,
	"text": true,
	"json": true,
}

// Load reads and parses a TOML config file and returns the Config, with
// unset fields holding defaults. Unknown keys are fatal — silently
// ignoring a typo in a config file leads to hard-to-debug behavior.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	md, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, fmt.Errorf("parsing config file %s: %w", path, err)
	}

	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("config: unknown key %q in %s", undecoded[0].String(), path)
	}

	return cfg, nil
}

// LoadOrDefault reads a TOML config file if it exists, otherwise returns
// a Config with all defaults. Supports the zero-config first run.
func LoadOrDefault(path string) (*Config, error) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return DefaultConfig(), nil
	}

	return Load(path)
}

// Resolve loads configuration and applies the override chain:
// defaults -> config file -> environment variables. Size and duration
// strings are parsed and validated here so the rest of the program never
// sees raw config text.
func Resolve(configPath string) (*Resolved, error) {
	if configPath == "" {
		configPath = os.Getenv(EnvConfig)
	}

	if configPath == "" {
		configPath = DefaultConfigPath()
	}

	cfg, err := LoadOrDefault(configPath)
	if err != nil {
		return nil, err
	}

	if lvl := os.Getenv(EnvLogLevel); lvl != "" {
		cfg.Logging.LogLevel = lvl
	}

	return resolve(cfg)
}

func resolve(cfg *Config) (*Resolved, error) {
	if !validLogLevels[cfg.Logging.LogLevel] {
		return nil, fmt.Errorf("config: invalid log_level %q", cfg.Logging.LogLevel)
	}

	if !validLogFormats[cfg.Logging.LogFormat] {
		return nil, fmt.Errorf("config: invalid log_format %q", cfg.Logging.LogFormat)
	}

	if cfg.Transfers.ParallelUploads < 1 {
		return nil, fmt.Errorf("config: parallel_uploads must be at least 1, got %d", cfg.Transfers.ParallelUploads)
	}

	chunkSize, err := ParseSize(cfg.Transfers.ChunkSize)
	if err != nil {
		return nil, err
	}

	if chunkSize < 1 {
		return nil, fmt.Errorf("config: chunk_size must be positive, got %q", cfg.Transfers.ChunkSize)
	}

	threshold, err := ParseSize(cfg.Transfers.SessionThreshold)
	if err != nil {
		return nil, err
	}

	timeout, err := time.ParseDuration(cfg.Network.Timeout)
	if err != nil {
		return nil, fmt.Errorf("config: invalid timeout: %w", err)
	}

	longpoll, err := time.ParseDuration(cfg.Network.LongpollTimeout)
	if err != nil {
		return nil, fmt.Errorf("config: invalid longpoll_timeout: %w", err)
	}

	return &Resolved{
		ParallelUploads:  cfg.Transfers.ParallelUploads,
		ChunkSize:        chunkSize,
		SessionThreshold: threshold,
		LogLevel:         cfg.Logging.LogLevel,
		LogFormat:        cfg.Logging.LogFormat,
		Timeout:          timeout,
		LongpollTimeout:  longpoll,
	}, nil
}
