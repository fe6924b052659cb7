package cmd

import (
	"bufio"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
)

var jobsLogsCmd = &cobra.Command{
	Use:   "logs <job_id>",
	Short: "Show execution logs for a job",
	Args:  cobra.ExactArgs(1),
	RunE:  runJobsLogs,
}

var jobsOutputCmd = &cobra.Command{
	Use:   "output <job_id>",
	Short: "Show the output folder for a finished job",
	Args:  cobra.ExactArgs(1),
	RunE:  runJobsOutput,
}

func init() {
	jobsCmd.AddCommand(jobsLogsCmd)
	jobsCmd.AddCommand(jobsOutputCmd)

	jobsLogsCmd.Flags().Int("tail", 0, "Show last N lines (0 = everything)")
	jobsOutputCmd.Flags().Bool("files", false, "List the files in the output folder")
}

func runJobsLogs(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

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

	if job.LogsLocation == "" {
		_, _ = fmt.Fprintf(os.Stdout, "no logs for job %s (status %s)\n", shortJobID(job.ID), job.Status)
		return nil
	}

	tailN, _ := cmd.Flags().GetInt("tail")
	if tailN < 0 {
		tailN = 0
	}
	return printLogTail(job.LogsLocation, tailN)
}

func runJobsOutput(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

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

	if job.OutputLocation == "" {
		return fmt.Errorf("no output for job %s (status %s)", shortJobID(job.ID), job.Status)
	}

	_, _ = fmt.Fprintln(os.Stdout, job.OutputLocation)

	if listFiles, _ := cmd.Flags().GetBool("files"); listFiles {
		entries, err := os.ReadDir(job.OutputLocation)
		if err != nil {
			return fmt.Errorf("read output folder: %w", err)
		}
		for _, e := range entries {
			name := e.Name()
			if e.IsDir() {
				name += "/"
			}
			_, _ = fmt.Fprintf(os.Stdout, "  %s\n", name)
		}
	}
	return nil
}

func printLogTail(path string, tailN int) error {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			_, _ = fmt.Fprintln(os.Stdout, "log file not found:", path)
			return nil
		}
		return err
	}
	defer func() { _ = f.Close() }()

	if tailN <= 0 {
		_, err := io.Copy(os.Stdout, f)
		return err
	}

	lines, err := tailLines(f, tailN)
	if err != nil {
		return err
	}
	for _, line := range lines {
		_, _ = fmt.Fprintln(os.Stdout, line)
	}
	return nil
}

func tailLines(r io.Reader, n int) ([]string, error) {
	if n <= 0 {
		return nil, nil
	}

	scanner := bufio.NewScanner(r)
	buf := make([]string, 0, n)

	for scanner.Scan() {
		line := scanner.Text()
		if len(buf) < n {
			buf = append(buf, line)
			continue
		}
		copy(buf, buf[1:])
		buf[n-1] = line
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return buf, nil
}
