package runner

import (
	"os"

	"github.com/runveil/codeq/pkg/queue"
)

// Environment variables exposed to the entry script. These, plus the output
// directory itself, are the only channel for executed code to receive its
// context and hand results back.
//
// NOTE: the names are a published compatibility surface; submitted code
// depends on them. Do not rename.
const (
	EnvJobID     = "CODEQ_JOB_ID"
	EnvJobName   = "CODEQ_JOB_NAME"
	EnvOutputDir = "CODEQ_OUTPUT_DIR"
	EnvRequester = "CODEQ_REQUESTER"
)

// jobEnv extends the parent environment with the job's execution variables.
func jobEnv(job queue.Job, outputDir string) []string {
	return append(os.Environ(),
		EnvJobID+"="+job.ID,
		EnvJobName+"="+job.Name,
		EnvOutputDir+"="+outputDir,
		EnvRequester+"="+job.RequesterIdentity,
	)
}
