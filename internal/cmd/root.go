// Package cmd implements the codeq command line interface.
package cmd

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/runveil/codeq/internal/config"
	"github.com/runveil/codeq/internal/observability"
)

// versionInfo holds build metadata injected through SetVersionInfo at
// startup.
var versionInfo = struct {
	Version   string
	Commit    string
	BuildDate string
}{
	Version:   "dev",
	Commit:    "HEAD",
	BuildDate: "unknown",
}

// SetVersionInfo records build metadata for the version command and the
// HTTP version endpoint.
func SetVersionInfo(version, commit, buildDate string) {
	versionInfo.Version = version
	versionInfo.Commit = commit
	versionInfo.BuildDate = buildDate
}

// AppIdentity names the application for binaries, environment variables,
// and config files.
type AppIdentity struct {
	BinaryName string
	EnvPrefix  string
	ConfigName string
}

var appIdentity *AppIdentity

// GetAppIdentity returns the resolved application identity, or nil before
// CLI initialization.
func GetAppIdentity() *AppIdentity {
	return appIdentity
}

var (
	cfgFile      string
	logLevel     string
	logProfile   string
	identityFlag string
	readOnly     bool
)

var rootCmd = &cobra.Command{
	Use:   "codeq",
	Short: "Approval-gated code execution queue between datasites",
	Long: `codeq queues code packages for execution on a remote datasite.

A requester submits a folder of code addressed to a target identity. The
target reviews the pending job and approves or rejects it; approved jobs
run under the target's execution policy and their output and logs are
written back where the requester can read them.

Examples:
  codeq submit --to bob@example.com --code ./analysis
  codeq jobs list --json
  codeq jobs approve 3f2a
  codeq serve`,
	PersistentPreRunE: initCLI,
	SilenceUsage:      true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to config file (default: codeq.yaml in ., user config dir)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error")
	rootCmd.PersistentFlags().StringVar(&logProfile, "log-profile", "", "Log profile: cli or structured")
	rootCmd.PersistentFlags().StringVar(&identityFlag, "identity", "", "Datasite identity to act as (overrides config)")
	rootCmd.PersistentFlags().BoolVar(&readOnly, "readonly", false, "Refuse commands that modify the queue")
	_ = viper.BindPFlag("readonly", rootCmd.PersistentFlags().Lookup("readonly"))
}

// initCLI resolves the app identity, seeds defaults, and installs the CLI
// logger before any subcommand runs.
func initCLI(cmd *cobra.Command, _ []string) error {
	if appIdentity == nil {
		appIdentity = &AppIdentity{
			BinaryName: config.AppName,
			EnvPrefix:  config.EnvPrefix,
			ConfigName: config.AppName,
		}
	}

	setDefaults()
	viper.SetEnvPrefix(appIdentity.EnvPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if cfgFile != "" {
		// The typed loader honors the same variable, so one flag serves
		// both config paths.
		if err := os.Setenv(appIdentity.EnvPrefix+"_CONFIG", cfgFile); err != nil {
			return fmt.Errorf("set config path: %w", err)
		}
	}

	level := logLevel
	if level == "" {
		level = viper.GetString("logging.level")
	}
	profile := logProfile
	if profile == "" {
		profile = observability.ProfileCLI
	}
	if err := observability.InitCLILogger(observability.LogConfig{
		Level:   level,
		Profile: profile,
	}); err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	return nil
}

// setDefaults seeds the global viper with the shared defaults so flag and
// env lookups outside the typed loader agree with it.
func setDefaults() {
	config.SetDefaults(viper.GetViper())
}

// ensureWritable refuses queue mutations under --readonly.
func ensureWritable(action string) error {
	if readOnly || viper.GetBool("readonly") {
		return exitError(foundry.ExitInvalidArgument, "Blocked by readonly mode",
			fmt.Errorf("readonly mode refuses to %s", action))
	}
	return nil
}

// loadConfig loads the typed config with CLI-level overrides applied.
func loadConfig(ctx context.Context) (*config.Config, error) {
	var overrides []map[string]any
	if identityFlag != "" {
		overrides = append(overrides, map[string]any{"identity": identityFlag})
	}
	cfg, err := config.Load(ctx, overrides...)
	if err != nil {
		return nil, exitError(foundry.ExitInvalidArgument, "Invalid configuration", err)
	}
	return cfg, nil
}

// ExitWithCode logs the failure and terminates the process with the given
// exit code.
func ExitWithCode(log *zap.Logger, code int, message string, err error) {
	if log != nil {
		log.Error(message, zap.Error(err), zap.Int("exit_code", code))
	}
	observability.Sync()
	os.Exit(code)
}

// exitError creates an error that causes the CLI to exit with the given code.
func exitError(code int, message string, err error) error {
	return fmt.Errorf("%s: %w (exit code %d)", message, err, code)
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
