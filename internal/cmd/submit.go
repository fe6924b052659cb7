package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/runveil/codeq/internal/config"
	"github.com/runveil/codeq/internal/observability"
	"github.com/runveil/codeq/pkg/client"
	"github.com/runveil/codeq/pkg/manifest"
	"github.com/runveil/codeq/pkg/store"
	storefs "github.com/runveil/codeq/pkg/store/fs"
	stores3 "github.com/runveil/codeq/pkg/store/s3"
)

var submitCmd = &cobra.Command{
	Use:   "submit",
	Short: "Submit a code package to a target datasite",
	Long: `Submit a local folder of code for execution on a target datasite.

The job is created pending and waits for the target to approve or reject
it. Flags name the target and code directly; --manifest reads them from a
job manifest instead, with flags taking precedence.

Examples:
  codeq submit --to bob@example.com --code ./analysis
  codeq submit --manifest job.yaml
  codeq submit --to bob@example.com --code ./analysis --name "study 12" --tag eda`,
	RunE: runSubmit,
}

var (
	submitManifestPath string
	submitTo           string
	submitCode         string
	submitName         string
	submitDescription  string
	submitTags         []string
)

func init() {
	rootCmd.AddCommand(submitCmd)

	submitCmd.Flags().StringVarP(&submitManifestPath, "manifest", "m", "", "Path to job manifest (YAML or JSON)")
	submitCmd.Flags().StringVar(&submitTo, "to", "", "Target datasite identity")
	submitCmd.Flags().StringVar(&submitCode, "code", "", "Path to the code folder to submit")
	submitCmd.Flags().StringVar(&submitName, "name", "", "Job name (default: code folder name)")
	submitCmd.Flags().StringVar(&submitDescription, "description", "", "Job description")
	submitCmd.Flags().StringSliceVar(&submitTags, "tag", nil, "Job tag (repeatable)")
	submitCmd.Flags().Bool("json", false, "Output as JSON")
}

func runSubmit(cmd *cobra.Command, _ []string) error {
	if err := ensureWritable("submit a job"); err != nil {
		return err
	}
	ctx := cmd.Context()

	req := client.SubmitRequest{
		TargetIdentity: strings.TrimSpace(submitTo),
		CodeLocation:   submitCode,
		Name:           submitName,
		Description:    submitDescription,
		Tags:           submitTags,
	}

	if submitManifestPath != "" {
		m, err := manifest.Load(submitManifestPath)
		if err != nil {
			observability.CLILogger.Error("Failed to load manifest",
				zap.String("path", submitManifestPath),
				zap.Error(err))
			return exitError(foundry.ExitInvalidArgument, "Invalid manifest", err)
		}
		if req.TargetIdentity == "" {
			req.TargetIdentity = m.Target
		}
		if req.Name == "" {
			req.Name = m.Name
		}
		if req.Description == "" {
			req.Description = m.Description
		}
		if len(req.Tags) == 0 {
			req.Tags = m.Tags
		}
		if req.CodeLocation == "" {
			req.CodeLocation = m.ResolveCodeDir(submitManifestPath)
		}
	}

	if req.TargetIdentity == "" {
		return exitError(foundry.ExitInvalidArgument, "Missing target", fmt.Errorf("--to or a manifest target is required"))
	}
	if req.CodeLocation == "" {
		return exitError(foundry.ExitInvalidArgument, "Missing code folder", fmt.Errorf("--code or a manifest code dir is required"))
	}

	cfg, err := loadConfig(ctx)
	if err != nil {
		return err
	}
	st, err := buildStore(ctx, cfg)
	if err != nil {
		return err
	}
	c, err := buildClient(cfg, st)
	if err != nil {
		return err
	}

	job, err := c.Submit(ctx, req)
	if err != nil {
		return exitError(foundry.ExitFileWriteError, "Submit failed", err)
	}

	if jsonOutput, _ := cmd.Flags().GetBool("json"); jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(job)
	}

	_, _ = fmt.Fprintf(os.Stdout, "job_id=%s\n", job.ID)
	_, _ = fmt.Fprintf(os.Stdout, "status=%s\n", job.Status)
	_, _ = fmt.Fprintf(os.Stdout, "target=%s\n", job.TargetIdentity)
	return nil
}

// buildStore constructs the configured job record backend.
func buildStore(ctx context.Context, cfg *config.Config) (store.Store, error) {
	switch cfg.Store.Backend {
	case "s3":
		s, err := stores3.New(ctx, stores3.Config{
			Bucket:         cfg.Store.S3.Bucket,
			Prefix:         cfg.Store.S3.Prefix,
			Region:         cfg.Store.S3.Region,
			Endpoint:       cfg.Store.S3.Endpoint,
			Profile:        cfg.Store.S3.Profile,
			ForcePathStyle: cfg.Store.S3.ForcePathStyle,
		})
		if err != nil {
			return nil, exitError(foundry.ExitExternalServiceUnavailable, "Failed to open S3 store", err)
		}
		return s, nil
	default:
		return storefs.New(cfg.ResolveDataRoot()), nil
	}
}

// buildClient constructs the requester-side client on an already built
// store.
func buildClient(cfg *config.Config, st store.Store) (*client.Client, error) {
	if strings.TrimSpace(cfg.Identity) == "" {
		return nil, exitError(foundry.ExitInvalidArgument, "Missing identity",
			fmt.Errorf("set identity in config, %s_IDENTITY, or --identity", config.EnvPrefix))
	}
	c, err := client.New(client.Config{
		Store:    st,
		DataRoot: cfg.ResolveDataRoot(),
		Identity: cfg.Identity,
		Queue:    cfg.QueueSettings(),
		Logger:   observability.CLILogger,
	})
	if err != nil {
		return nil, exitError(foundry.ExitInvalidArgument, "Invalid client configuration", err)
	}
	return c, nil
}
