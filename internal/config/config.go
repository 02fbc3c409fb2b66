// Package config implements TOML configuration loading, validation, and
// platform-specific path resolution for dropbox-go. It supports a
// three-layer override chain: defaults -> config file -> environment.
// CLI flags that override config (e.g. --verbose) are applied by the CLI
// layer on top of the resolved values, so flags always win.
package config

import "time"

// Config is the top-level configuration structure parsed from a TOML file.
type Config struct {
	Transfers TransfersConfig `toml:"transfers"`
	Logging   LoggingConfig   `toml:"logging"`
	Network   NetworkConfig   `toml:"network"`
}

// TransfersConfig controls parallel workers and the upload chunk size.
// chunk_size applies to upload sessions; files at or below the session
// threshold go through the single-request upload endpoint.
type TransfersConfig struct {
	ParallelUploads  int    `toml:"parallel_uploads"`
	ChunkSize        string `toml:"chunk_size"`
	SessionThreshold string `toml:"session_threshold"`
}

// LoggingConfig controls log output behavior.
type LoggingConfig struct {
	LogLevel  string `toml:"log_level"`
	LogFormat string `toml:"log_format"` // "text", "json", or "auto" (json when not a TTY)
}

// NetworkConfig controls HTTP client behavior. The longpoll timeout is
// separate because change polls intentionally hold connections open far
// longer than any normal request.
type NetworkConfig struct {
	Timeout         string `toml:"timeout"`
	LongpollTimeout string `toml:"longpoll_timeout"`
}

// Default values for configuration options: safe starting points that work
// without any config file.
const (
	defaultParallelUploads  = 4
	defaultChunkSize        = "8MiB"
	defaultSessionThreshold = "16MiB"
	defaultLogLevel         = "info"
	defaultLogFormat        = "auto"
	defaultTimeout          = "60s"
	defaultLongpollTimeout  = "90s"
)

// DefaultConfig returns a Config populated with all default values.
// Used both as the starting point for TOML decoding (so unset fields
// retain defaults) and as the fallback when no config file exists.
func DefaultConfig() *Config {
	return &Config{
		Transfers: TransfersConfig{
			ParallelUploads:  defaultParallelUploads,
			ChunkSize:        defaultChunkSize,
			SessionThreshold: defaultSessionThreshold,
		},
		Logging: LoggingConfig{
			LogLevel:  defaultLogLevel,
			LogFormat: defaultLogFormat,
		},
		Network: NetworkConfig{
			Timeout:         defaultTimeout,
			LongpollTimeout: defaultLongpollTimeout,
		},
	}
}

// Resolved carries the effective configuration with parsed values, ready
// for use by the CLI and transfer manager.
type Resolved struct {
	ParallelUploads  int
	ChunkSize        int64
	SessionThreshold int64
	LogLevel         string
	LogFormat        string
	Timeout          time.Duration
	LongpollTimeout  time.Duration
}
