package cmd

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"runtime"

	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/fulmenhq/gofulmen/crucible"
	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	appconfig "github.com/runveil/codeq/internal/config"
	errwrap "github.com/runveil/codeq/internal/errors"
	"github.com/runveil/codeq/internal/observability"
)

var (
	doctorStore string
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Run diagnostic checks",
	Long: `Run diagnostic checks on the system and suggest fixes for common issues.

Checks the toolchain, the queue data root, and the shell interpreter that
entry scripts run under.

Examples:
  codeq doctor             # Full environment check
  codeq doctor --store s3  # Include S3 record store checks`,
	Run: runDoctor,
}

func init() {
	rootCmd.AddCommand(doctorCmd)
	doctorCmd.Flags().StringVar(&doctorStore, "store", "", "Run store-specific checks (s3)")
}

// checkReporter numbers the diagnostic lines and tracks whether anything
// failed or warned along the way.
type checkReporter struct {
	num       int
	total     int
	allPassed bool
}

func (r *checkReporter) pass(label, detail string, fields ...zap.Field) {
	observability.CLILogger.Info(fmt.Sprintf("[%d/%d] %s... ✅ %s", r.num, r.total, label, detail), fields...)
	r.num++
}

func (r *checkReporter) warn(label, detail string, fields ...zap.Field) {
	observability.CLILogger.Warn(fmt.Sprintf("[%d/%d] %s... ⚠️  %s", r.num, r.total, label, detail), fields...)
	r.allPassed = false
	r.num++
}

func (r *checkReporter) fail(label, detail string, fields ...zap.Field) {
	observability.CLILogger.Error(fmt.Sprintf("[%d/%d] %s... ❌ %s", r.num, r.total, label, detail), fields...)
	r.allPassed = false
	r.num++
}

func runDoctor(cmd *cobra.Command, args []string) {
	identity := GetAppIdentity()
	bannerName := "doctor"
	if identity != nil && identity.BinaryName != "" {
		bannerName = identity.BinaryName + " doctor"
	}
	observability.CLILogger.Info("=== " + bannerName + " ===")
	observability.CLILogger.Info("")
	observability.CLILogger.Info("Running diagnostic checks...")
	observability.CLILogger.Info("")

	r := &checkReporter{num: 1, total: 7, allPassed: true}
	if doctorStore == "s3" {
		r.total = 10
	}

	if v := runtime.Version(); v >= "go1.23" {
		r.pass("Checking Go version", v, zap.String("go_version", v))
	} else {
		r.warn("Checking Go version", v+" (recommended: go1.23+)", zap.String("go_version", v))
	}

	version := crucible.GetVersion()
	if version.Crucible != "" {
		r.pass("Checking Crucible access", "v"+version.Crucible, zap.String("crucible_version", version.Crucible))
	} else {
		r.fail("Checking Crucible access", "Cannot access Crucible")
		ExitWithCode(observability.CLILogger, foundry.ExitExternalServiceUnavailable, "Cannot access Crucible",
			errwrap.NewExternalServiceError("Crucible service unavailable"))
	}

	if version.Gofulmen != "" {
		r.pass("Checking Gofulmen access", "v"+version.Gofulmen, zap.String("gofulmen_version", version.Gofulmen))
	} else {
		r.fail("Checking Gofulmen access", "Cannot access Gofulmen")
	}

	configDir, err := os.UserConfigDir()
	if err != nil {
		r.fail("Checking config directory", "Cannot find config directory", zap.Error(err))
		ExitWithCode(observability.CLILogger, foundry.ExitFileNotFound, "Cannot find config directory",
			errwrap.WrapInternal(cmd.Context(), err, "Cannot find config directory"))
	} else {
		r.pass("Checking config directory", configDir, zap.String("config_dir", configDir))
	}

	r.pass("Checking environment", runtime.GOOS+"/"+runtime.GOARCH,
		zap.String("os", runtime.GOOS),
		zap.String("arch", runtime.GOARCH))

	cfg, cfgErr := loadConfig(cmd.Context())
	if cfgErr != nil {
		r.fail("Checking data root", "Cannot load configuration", zap.Error(cfgErr))
	} else {
		dataRoot := cfg.ResolveDataRoot()
		if err := probeDataRoot(dataRoot); err != nil {
			r.fail("Checking data root", dataRoot+" is not writable",
				zap.String("data_root", dataRoot), zap.Error(err))
		} else {
			r.pass("Checking data root", dataRoot+" (writable)", zap.String("data_root", dataRoot))
		}
	}

	// Entry scripts launch via sh. A host without it cannot execute jobs.
	if shPath, err := exec.LookPath("sh"); err != nil {
		r.fail("Checking shell interpreter", "sh not found in PATH; jobs cannot execute", zap.Error(err))
	} else {
		r.pass("Checking shell interpreter", shPath, zap.String("sh", shPath))
	}

	if doctorStore == "s3" {
		runS3Checks(cmd.Context(), cfg, r)
	}

	observability.CLILogger.Info("")
	if r.allPassed {
		observability.CLILogger.Info(fmt.Sprintf("✅ All checks passed! Your %s installation is healthy.", bannerName))
	} else {
		observability.CLILogger.Warn("⚠️  Some checks failed. Review the output above for details.")
	}
	observability.CLILogger.Info("")
	observability.CLILogger.Info("=== End Diagnostics ===")
}

// probeDataRoot verifies the payload root exists and accepts writes.
func probeDataRoot(root string) error {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return err
	}
	f, err := os.CreateTemp(root, ".doctor-*")
	if err != nil {
		return err
	}
	name := f.Name()
	if _, err := f.WriteString("ok"); err != nil {
		_ = f.Close()
		_ = os.Remove(name)
		return err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(name)
		return err
	}
	return os.Remove(name)
}

// runS3Checks covers what the fs backend never needs: a bucket name and
// working AWS credentials.
func runS3Checks(ctx context.Context, appCfg *appconfig.Config, r *checkReporter) {
	observability.CLILogger.Info("")
	observability.CLILogger.Info("S3 Record Store Checks:")

	bucket := ""
	if appCfg != nil {
		bucket = appCfg.Store.S3.Bucket
	}
	if bucket == "" {
		r.warn("Checking bucket config", "store.s3.bucket is not set")
	} else {
		r.pass("Checking bucket config", bucket, zap.String("bucket", bucket))
	}

	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		r.fail("Checking AWS credentials", "Cannot load AWS config", zap.Error(err))
		printAWSCredentialsHelp()
		return
	}
	creds, err := cfg.Credentials.Retrieve(ctx)
	if err != nil {
		r.fail("Checking AWS credentials", "Cannot retrieve credentials", zap.Error(err))
		printAWSCredentialsHelp()
		return
	}
	r.pass("Checking AWS credentials", "Found credentials",
		zap.String("access_key", maskAccessKey(creds.AccessKeyID)),
		zap.String("source", creds.Source))

	source := creds.Source
	if source == "" {
		source = "unknown"
	}
	r.pass("Checking credential source", source, zap.String("credential_source", source))
}

// maskAccessKey masks all but the last 4 characters of an access key.
func maskAccessKey(key string) string {
	if len(key) <= 4 {
		return "****"
	}
	return "****" + key[len(key)-4:]
}

// printAWSCredentialsHelp prints help for configuring AWS credentials.
func printAWSCredentialsHelp() {
	observability.CLILogger.Info("")
	observability.CLILogger.Info("To configure AWS credentials:")
	observability.CLILogger.Info("  1. Set AWS_ACCESS_KEY_ID and AWS_SECRET_ACCESS_KEY environment variables, or")
	observability.CLILogger.Info("  2. Run 'aws configure' to set up a profile, or")
	observability.CLILogger.Info("  3. Use IAM role when running on AWS infrastructure")
	observability.CLILogger.Info("")
	observability.CLILogger.Info("For S3-compatible storage (MinIO, Wasabi, etc.), also set:")
	observability.CLILogger.Info("  - AWS_ENDPOINT_URL or configure store.s3.endpoint")
	observability.CLILogger.Info("")
}
