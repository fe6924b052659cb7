package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	gfconfig "github.com/fulmenhq/gofulmen/config"
	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"github.com/runveil/codeq/pkg/queue"
)

var (
	configMu  sync.RWMutex
	appConfig *Config
)

// envSpec maps one environment variable to the config key it sets.
type envSpec struct {
	Name string
	Path string
}

// getEnvSpecs lists every environment variable the loader honors.
func getEnvSpecs() []envSpec {
	return []envSpec{
		{EnvPrefix + "_IDENTITY", "identity"},
		{EnvPrefix + "_DATA_ROOT", "data_root"},
		{EnvPrefix + "_HOST", "server.host"},
		{EnvPrefix + "_PORT", "server.port"},
		{EnvPrefix + "_READ_TIMEOUT", "server.read_timeout"},
		{EnvPrefix + "_WRITE_TIMEOUT", "server.write_timeout"},
		{EnvPrefix + "_IDLE_TIMEOUT", "server.idle_timeout"},
		{EnvPrefix + "_SHUTDOWN_TIMEOUT", "server.shutdown_timeout"},
		{EnvPrefix + "_LOG_LEVEL", "logging.level"},
		{EnvPrefix + "_LOG_PROFILE", "logging.profile"},
		{EnvPrefix + "_LOG_FILE", "logging.file"},
		{EnvPrefix + "_QUEUE_NAME", "queue.name"},
		{EnvPrefix + "_MAX_CONCURRENT_JOBS", "queue.max_concurrent_jobs"},
		{EnvPrefix + "_JOB_TIMEOUT", "queue.job_timeout"},
		{EnvPrefix + "_POLL_INTERVAL", "queue.poll_interval"},
		{EnvPrefix + "_MAX_OUTPUT_SIZE", "queue.max_output_size"},
		{EnvPrefix + "_ENTRY_SCRIPT", "queue.entry_script"},
		{EnvPrefix + "_DISPATCH_RATE_LIMIT", "queue.dispatch_rate_limit"},
		{EnvPrefix + "_STORE_BACKEND", "store.backend"},
		{EnvPrefix + "_S3_BUCKET", "store.s3.bucket"},
		{EnvPrefix + "_S3_PREFIX", "store.s3.prefix"},
		{EnvPrefix + "_S3_REGION", "store.s3.region"},
		{EnvPrefix + "_S3_ENDPOINT", "store.s3.endpoint"},
		{EnvPrefix + "_S3_PROFILE", "store.s3.profile"},
		{EnvPrefix + "_S3_FORCE_PATH_STYLE", "store.s3.force_path_style"},
		{EnvPrefix + "_HEALTH_ENABLED", "health.enabled"},
		{EnvPrefix + "_DEBUG", "debug.enabled"},
		{EnvPrefix + "_PPROF", "debug.pprof_enabled"},
	}
}

// Load reads configuration from defaults, config file, environment, and
// runtime overrides, in ascending precedence. The loaded config is cached
// for GetConfig.
func Load(_ context.Context, overrides ...map[string]any) (*Config, error) {
	v := viper.New()
	SetDefaults(v)

	v.SetConfigName(AppName)
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	for _, p := range getUserConfigPaths() {
		v.AddConfigPath(p)
	}
	if path := os.Getenv(EnvPrefix + "_CONFIG"); path != "" {
		v.SetConfigFile(path)
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("config: read config file: %w", err)
		}
	}

	for _, spec := range getEnvSpecs() {
		if err := v.BindEnv(spec.Path, spec.Name); err != nil {
			return nil, fmt.Errorf("config: bind %s: %w", spec.Name, err)
		}
	}

	for _, o := range overrides {
		applyOverrides(v, o, "")
	}

	var cfg Config
	hook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))
	if err := v.Unmarshal(&cfg, hook); err != nil {
		return nil, fmt.Errorf("config: decode: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, err
	}

	configMu.Lock()
	appConfig = &cfg
	configMu.Unlock()
	return &cfg, nil
}

// GetConfig returns the last config Load produced, or nil before the
// first successful Load.
func GetConfig() *Config {
	configMu.RLock()
	defer configMu.RUnlock()
	return appConfig
}

// applyOverrides sets runtime overrides with viper's highest precedence,
// flattening nested maps into dotted keys.
func applyOverrides(v *viper.Viper, m map[string]any, prefix string) {
	for k, val := range m {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		if sub, ok := val.(map[string]any); ok {
			applyOverrides(v, sub, key)
			continue
		}
		v.Set(key, val)
	}
}

// SetDefaults seeds every config key with its built-in default. The CLI
// applies the same set to its global viper so flag binding and the typed
// loader cannot drift.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("identity", "")
	v.SetDefault("data_root", "")

	v.SetDefault("server.host", "localhost")
	v.SetDefault("server.port", 8750)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.idle_timeout", "120s")
	v.SetDefault("server.shutdown_timeout", "10s")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.profile", "structured")
	v.SetDefault("logging.file", "")

	v.SetDefault("queue.name", queue.DefaultQueueName)
	v.SetDefault("queue.max_concurrent_jobs", queue.DefaultMaxConcurrentJobs)
	v.SetDefault("queue.job_timeout", queue.DefaultJobTimeout.String())
	v.SetDefault("queue.poll_interval", queue.DefaultPollInterval.String())
	v.SetDefault("queue.max_output_size", queue.DefaultMaxOutputSize)
	v.SetDefault("queue.entry_script", queue.DefaultEntryScript)
	v.SetDefault("queue.dispatch_rate_limit", 0)

	v.SetDefault("store.backend", "fs")
	v.SetDefault("store.s3.force_path_style", false)

	v.SetDefault("health.enabled", true)
	v.SetDefault("debug.enabled", false)
	v.SetDefault("debug.pprof_enabled", false)
}

// getUserConfigPaths lists the per-user directories searched for
// codeq.yaml, in order.
func getUserConfigPaths() []string {
	var paths []string
	if dir, err := os.UserConfigDir(); err == nil {
		paths = append(paths, filepath.Join(dir, AppName))
	}
	paths = append(paths, gfconfig.GetAppDataDir(AppName))
	return paths
}

func validate(cfg *Config) error {
	switch cfg.Store.Backend {
	case "fs", "s3":
	default:
		return fmt.Errorf("config: unknown store backend %q (want fs or s3)", cfg.Store.Backend)
	}
	if cfg.Store.Backend == "s3" && cfg.Store.S3.Bucket == "" {
		return fmt.Errorf("config: store backend s3 requires store.s3.bucket")
	}
	if cfg.Server.Port < 0 || cfg.Server.Port > 65535 {
		return fmt.Errorf("config: server port %d out of range", cfg.Server.Port)
	}
	return nil
}
