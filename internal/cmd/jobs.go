package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/runveil/codeq/pkg/queue"
	"github.com/runveil/codeq/pkg/store"
)

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Inspect and manage queued jobs",
	Long: `Inspect and manage jobs in the code queue.

This command group is designed to be agent-friendly:

- stable job ids
- predictable on-disk locations
- optional JSON output for machine parsing`,
}

var jobsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List jobs",
	RunE:  runJobsList,
}

var jobsStatusCmd = &cobra.Command{
	Use:   "status <job_id>",
	Short: "Show status for a job",
	Args:  cobra.ExactArgs(1),
	RunE:  runJobsStatus,
}

func init() {
	rootCmd.AddCommand(jobsCmd)
	jobsCmd.AddCommand(jobsListCmd)
	jobsCmd.AddCommand(jobsStatusCmd)

	jobsListCmd.Flags().Bool("json", false, "Output as JSON")
	jobsListCmd.Flags().String("status", "", "Filter by status (pending, approved, running, completed, failed, rejected, cancelled)")
	jobsListCmd.Flags().Bool("mine", false, "Only jobs this identity submitted")
	jobsListCmd.Flags().Bool("inbox", false, "Only jobs targeted at this identity")
	jobsListCmd.Flags().String("requester", "", "Only jobs submitted by this identity")
	jobsListCmd.Flags().String("target", "", "Only jobs targeted at this identity")
	jobsListCmd.Flags().Int("limit", 0, "Cap the number of jobs shown (0 = no cap)")
	jobsStatusCmd.Flags().Bool("json", false, "Output as JSON")
}

func runJobsList(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	jsonOutput, _ := cmd.Flags().GetBool("json")

	cfg, err := loadConfig(ctx)
	if err != nil {
		return err
	}
	st, err := buildStore(ctx, cfg)
	if err != nil {
		return err
	}

	filter := store.Filter{}
	if statusStr, _ := cmd.Flags().GetString("status"); statusStr != "" {
		status := queue.Status(strings.ToLower(strings.TrimSpace(statusStr)))
		if !status.Valid() {
			return fmt.Errorf("invalid --status %q", statusStr)
		}
		filter.Status = status
	}
	if mine, _ := cmd.Flags().GetBool("mine"); mine {
		filter.RequesterIdentity = cfg.Identity
	}
	if inbox, _ := cmd.Flags().GetBool("inbox"); inbox {
		filter.TargetIdentity = cfg.Identity
	}
	// Explicit identities win over the shorthand flags.
	if requester, _ := cmd.Flags().GetString("requester"); requester != "" {
		filter.RequesterIdentity = strings.TrimSpace(requester)
	}
	if target, _ := cmd.Flags().GetString("target"); target != "" {
		filter.TargetIdentity = strings.TrimSpace(target)
	}
	if limit, _ := cmd.Flags().GetInt("limit"); limit > 0 {
		filter.Limit = limit
	}

	jobs, err := st.List(ctx, filter)
	if err != nil {
		return err
	}
	if len(jobs) == 0 {
		_, _ = fmt.Fprintln(os.Stdout, "No jobs found")
		return nil
	}

	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(jobs)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	defer func() { _ = w.Flush() }()

	_, _ = fmt.Fprintln(w, "JOB ID\tNAME\tSTATUS\tREQUESTER\tTARGET\tCREATED\tFINISHED")
	for _, j := range jobs {
		name := j.Name
		if name == "" {
			name = "-"
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			shortJobID(j.ID),
			name,
			j.Status,
			j.RequesterIdentity,
			j.TargetIdentity,
			j.CreatedAt.UTC().Format(time.RFC3339),
			formatOptionalTime(j.FinishedAt),
		)
	}

	return nil
}

func runJobsStatus(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	jsonOutput, _ := cmd.Flags().GetBool("json")

	cfg, err := loadConfig(ctx)
	if err != nil {
		return err
	}
	st, err := buildStore(ctx, cfg)
	if err != nil {
		return err
	}

	job, err := getJobByRef(ctx, st, args[0])
	if err != nil {
		return err
	}

	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(job)
	}

	_, _ = fmt.Fprintf(os.Stdout, "job_id=%s\n", job.ID)
	if job.Name != "" {
		_, _ = fmt.Fprintf(os.Stdout, "name=%s\n", job.Name)
	}
	_, _ = fmt.Fprintf(os.Stdout, "status=%s\n", job.Status)
	_, _ = fmt.Fprintf(os.Stdout, "requester=%s\n", job.RequesterIdentity)
	_, _ = fmt.Fprintf(os.Stdout, "target=%s\n", job.TargetIdentity)
	_, _ = fmt.Fprintf(os.Stdout, "created_at=%s\n", job.CreatedAt.UTC().Format(time.RFC3339))
	if job.DecidedAt != nil {
		_, _ = fmt.Fprintf(os.Stdout, "decided_at=%s\n", job.DecidedAt.UTC().Format(time.RFC3339))
	}
	if job.StartedAt != nil {
		_, _ = fmt.Fprintf(os.Stdout, "started_at=%s\n", job.StartedAt.UTC().Format(time.RFC3339))
	}
	if job.FinishedAt != nil {
		_, _ = fmt.Fprintf(os.Stdout, "finished_at=%s\n", job.FinishedAt.UTC().Format(time.RFC3339))
	}
	if job.RejectionReason != "" {
		_, _ = fmt.Fprintf(os.Stdout, "rejection_reason=%s\n", job.RejectionReason)
	}
	if job.ExitCode != nil {
		_, _ = fmt.Fprintf(os.Stdout, "exit_code=%d\n", *job.ExitCode)
	}
	if job.ErrorDetail != "" {
		_, _ = fmt.Fprintf(os.Stdout, "error=%s\n", job.ErrorDetail)
	}
	if job.OutputLocation != "" {
		_, _ = fmt.Fprintf(os.Stdout, "output=%s\n", job.OutputLocation)
	}
	if job.LogsLocation != "" {
		_, _ = fmt.Fprintf(os.Stdout, "logs=%s\n", job.LogsLocation)
	}

	return nil
}

func shortJobID(id string) string {
	id = strings.TrimSpace(id)
	if len(id) <= 12 {
		return id
	}
	return id[:12]
}

func formatOptionalTime(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.UTC().Format(time.RFC3339)
}

// getJobByRef resolves a full or prefix job id and loads the record.
func getJobByRef(ctx context.Context, st store.Store, ref string) (*queue.Job, error) {
	id, err := resolveJobID(ctx, st, ref)
	if err != nil {
		return nil, err
	}
	return st.Get(ctx, id)
}

// resolveJobID accepts a full job id or a unique prefix (as printed by the
// list table) and returns the full id.
func resolveJobID(ctx context.Context, st store.Store, input string) (string, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return "", fmt.Errorf("job_id is required")
	}

	// Exact match first.
	if _, err := st.Get(ctx, input); err == nil {
		return input, nil
	}

	// Prefix match (allows table-friendly short IDs).
	jobs, err := st.List(ctx, store.Filter{})
	if err != nil {
		return "", err
	}
	matches := make([]string, 0, 2)
	for _, j := range jobs {
		if strings.HasPrefix(j.ID, input) {
			matches = append(matches, j.ID)
		}
	}
	if len(matches) == 0 {
		return "", fmt.Errorf("job not found: %s", input)
	}
	if len(matches) > 1 {
		return "", fmt.Errorf("job id prefix is ambiguous (%d matches); use full job_id or --json", len(matches))
	}
	return matches[0], nil
}
