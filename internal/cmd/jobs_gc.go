package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/runveil/codeq/pkg/store"
)

var jobsGCCmd = &cobra.Command{
	Use:   "gc",
	Short: "Garbage collect old job records",
	Long: `Delete finished jobs older than --max-age, payloads included.

Only terminal jobs (completed, failed, rejected, cancelled) are deleted;
pending, approved, and running jobs are never touched.`,
	RunE: runJobsGC,
}

func init() {
	jobsCmd.AddCommand(jobsGCCmd)

	jobsGCCmd.Flags().String("max-age", "168h", "Delete terminal jobs older than this duration")
	jobsGCCmd.Flags().Bool("dry-run", false, "Show how many jobs would be deleted")
	jobsGCCmd.Flags().Bool("json", false, "Output as JSON")
}

type jobsGCResult struct {
	Deleted      int    `json:"deleted"`
	WouldDelete  int    `json:"would_delete"`
	DryRun       bool   `json:"dry_run"`
	MaxAgeString string `json:"max_age"`
}

func runJobsGC(cmd *cobra.Command, _ []string) error {
	dryRunFlag, _ := cmd.Flags().GetBool("dry-run")
	if !dryRunFlag {
		if err := ensureWritable("delete job records"); err != nil {
			return err
		}
	}

	maxAgeStr, _ := cmd.Flags().GetString("max-age")
	maxAgeStr = strings.TrimSpace(maxAgeStr)
	if maxAgeStr == "" {
		maxAgeStr = "168h"
	}
	maxAge, err := time.ParseDuration(maxAgeStr)
	if err != nil {
		return fmt.Errorf("invalid --max-age: %w", err)
	}
	if maxAge <= 0 {
		return fmt.Errorf("--max-age must be > 0")
	}

	jsonOutput, _ := cmd.Flags().GetBool("json")
	dryRun := dryRunFlag

	ctx := cmd.Context()
	cfg, err := loadConfig(ctx)
	if err != nil {
		return err
	}
	st, err := buildStore(ctx, cfg)
	if err != nil {
		return err
	}

	jobs, err := st.List(ctx, store.Filter{})
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	deleted := 0
	for _, j := range jobs {
		if !j.Expired(maxAge, now) {
			continue
		}
		if !dryRun {
			if err := st.Delete(ctx, j.ID); err != nil {
				return fmt.Errorf("delete job %s: %w", shortJobID(j.ID), err)
			}
		}
		deleted++
	}

	if jsonOutput {
		res := jobsGCResult{DryRun: dryRun, MaxAgeString: maxAgeStr}
		if dryRun {
			res.WouldDelete = deleted
		} else {
			res.Deleted = deleted
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	}

	if dryRun {
		_, _ = fmt.Fprintf(os.Stdout, "would_delete=%d\n", deleted)
		return nil
	}
	_, _ = fmt.Fprintf(os.Stdout, "deleted=%d\n", deleted)
	return nil
}
