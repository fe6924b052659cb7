package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/runveil/codeq/pkg/queue"
)

var jobsApproveCmd = &cobra.Command{
	Use:   "approve <job_id>",
	Short: "Approve a pending job for execution",
	Long: `Approve a pending job addressed to this identity.

The job becomes eligible for dispatch on the server's next poll tick.
Approving requires a running or future 'codeq serve' on this datasite to
actually execute the job.`,
	Args: cobra.ExactArgs(1),
	RunE: runJobsApprove,
}

var jobsRejectCmd = &cobra.Command{
	Use:   "reject <job_id>",
	Short: "Reject a pending job",
	Args:  cobra.ExactArgs(1),
	RunE:  runJobsReject,
}

var jobsCancelCmd = &cobra.Command{
	Use:   "cancel <job_id>",
	Short: "Cancel a job you submitted",
	Long: `Cancel a job before it starts running.

Only pending and approved jobs can be cancelled; a job that is already
running, finished, or decided against cannot.`,
	Args: cobra.ExactArgs(1),
	RunE: runJobsCancel,
}

var rejectReason string

func init() {
	jobsCmd.AddCommand(jobsApproveCmd)
	jobsCmd.AddCommand(jobsRejectCmd)
	jobsCmd.AddCommand(jobsCancelCmd)

	jobsRejectCmd.Flags().StringVar(&rejectReason, "reason", "", "Why the job was rejected (recorded on the job)")
}

func runJobsApprove(cmd *cobra.Command, args []string) error {
	if err := ensureWritable("approve a job"); err != nil {
		return err
	}
	ctx := cmd.Context()

	cfg, err := loadConfig(ctx)
	if err != nil {
		return err
	}
	st, err := buildStore(ctx, cfg)
	if err != nil {
		return err
	}
	engine, err := buildEngine(cfg, st)
	if err != nil {
		return err
	}

	id, err := resolveJobID(ctx, st, args[0])
	if err != nil {
		return err
	}
	job, err := engine.Approve(ctx, id)
	if err != nil {
		return err
	}
	printDecision(job)
	return nil
}

func runJobsReject(cmd *cobra.Command, args []string) error {
	if err := ensureWritable("reject a job"); err != nil {
		return err
	}
	ctx := cmd.Context()

	cfg, err := loadConfig(ctx)
	if err != nil {
		return err
	}
	st, err := buildStore(ctx, cfg)
	if err != nil {
		return err
	}
	engine, err := buildEngine(cfg, st)
	if err != nil {
		return err
	}

	id, err := resolveJobID(ctx, st, args[0])
	if err != nil {
		return err
	}
	job, err := engine.Reject(ctx, id, rejectReason)
	if err != nil {
		return err
	}
	printDecision(job)
	return nil
}

func runJobsCancel(cmd *cobra.Command, args []string) error {
	if err := ensureWritable("cancel a job"); err != nil {
		return err
	}
	ctx := cmd.Context()

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

	id, err := resolveJobID(ctx, st, args[0])
	if err != nil {
		return err
	}

	job, err := c.Cancel(ctx, id)
	if err != nil {
		return err
	}
	printDecision(job)
	return nil
}

func printDecision(job *queue.Job) {
	_, _ = fmt.Fprintf(os.Stdout, "job_id=%s\n", job.ID)
	_, _ = fmt.Fprintf(os.Stdout, "status=%s\n", job.Status)
	if job.RejectionReason != "" {
		_, _ = fmt.Fprintf(os.Stdout, "rejection_reason=%s\n", job.RejectionReason)
	}
}
