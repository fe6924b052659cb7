// Package config loads the typed application configuration.
//
// Precedence, highest first: runtime overrides, CODEQ_* environment
// variables, the codeq.yaml config file, built-in defaults.
package config

import (
	"path/filepath"
	"strings"
	"time"

	gfconfig "github.com/fulmenhq/gofulmen/config"

	"github.com/runveil/codeq/pkg/queue"
)

// AppName names the application for config and data directories.
const AppName = "codeq"

// EnvPrefix is the prefix of every environment variable the loader reads.
const EnvPrefix = "CODEQ"

// Config is the loaded application configuration.
type Config struct {
	// Identity is the datasite identity this process acts as, both for
	// submitting and for serving.
	Identity string `mapstructure:"identity"`

	// DataRoot is the queue payload root. Empty means the default under
	// the user's app data dir; see ResolveDataRoot.
	DataRoot string `mapstructure:"data_root"`

	Server  ServerConfig  `mapstructure:"server"`
	Logging LoggingConfig `mapstructure:"logging"`
	Queue   QueueConfig   `mapstructure:"queue"`
	Store   StoreConfig   `mapstructure:"store"`
	Health  HealthConfig  `mapstructure:"health"`
	Debug   DebugConfig   `mapstructure:"debug"`
}

// ServerConfig configures the admin HTTP server.
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// LoggingConfig configures process logging.
type LoggingConfig struct {
	Level   string `mapstructure:"level"`
	Profile string `mapstructure:"profile"`
	File    string `mapstructure:"file"`
}

// QueueConfig carries the queue tuning knobs.
type QueueConfig struct {
	Name              string        `mapstructure:"name"`
	MaxConcurrentJobs int           `mapstructure:"max_concurrent_jobs"`
	JobTimeout        time.Duration `mapstructure:"job_timeout"`
	PollInterval      time.Duration `mapstructure:"poll_interval"`
	MaxOutputSize     int64         `mapstructure:"max_output_size"`
	EntryScript       string        `mapstructure:"entry_script"`
	CommandAllowlist  []string      `mapstructure:"command_allowlist"`
	CommandDenylist   []string      `mapstructure:"command_denylist"`
	DispatchRateLimit float64       `mapstructure:"dispatch_rate_limit"`
}

// StoreConfig selects and configures the job record backend.
type StoreConfig struct {
	// Backend is "fs" or "s3".
	Backend string `mapstructure:"backend"`

	S3 S3Config `mapstructure:"s3"`
}

// S3Config configures the S3 record backend.
type S3Config struct {
	Bucket         string `mapstructure:"bucket"`
	Prefix         string `mapstructure:"prefix"`
	Region         string `mapstructure:"region"`
	Endpoint       string `mapstructure:"endpoint"`
	Profile        string `mapstructure:"profile"`
	ForcePathStyle bool   `mapstructure:"force_path_style"`
}

// HealthConfig toggles the health endpoints.
type HealthConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// DebugConfig toggles debug features.
type DebugConfig struct {
	Enabled      bool `mapstructure:"enabled"`
	PprofEnabled bool `mapstructure:"pprof_enabled"`
}

// QueueSettings converts the loaded knobs into the queue's config type,
// with defaults applied.
func (c *Config) QueueSettings() queue.Config {
	return queue.Config{
		QueueName:         c.Queue.Name,
		MaxConcurrentJobs: c.Queue.MaxConcurrentJobs,
		JobTimeout:        c.Queue.JobTimeout,
		PollInterval:      c.Queue.PollInterval,
		MaxOutputSize:     c.Queue.MaxOutputSize,
		CommandAllowlist:  c.Queue.CommandAllowlist,
		CommandDenylist:   c.Queue.CommandDenylist,
		EntryScript:       c.Queue.EntryScript,
		DispatchRateLimit: c.Queue.DispatchRateLimit,
	}.WithDefaults()
}

// ResolveDataRoot returns the payload root: the configured one, or the
// queue's directory under the user's app data dir.
func (c *Config) ResolveDataRoot() string {
	if strings.TrimSpace(c.DataRoot) != "" {
		return c.DataRoot
	}
	name := c.Queue.Name
	if name == "" {
		name = queue.DefaultQueueName
	}
	return filepath.Join(gfconfig.GetAppDataDir(AppName), name)
}
