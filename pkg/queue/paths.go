package queue

import "path/filepath"

// Payload layout under a queue data root:
//
//	<root>/<job_id>/job.json
//	<root>/<job_id>/code/
//	<root>/<job_id>/output/
//	<root>/<job_id>/logs/run.log
//
// Code is written at submission, output and logs during execution, and the
// record file is owned by the filesystem store. Client, runner, and store
// all resolve paths through these helpers so the layout stays in one place.

const (
	// RecordFileName is the per-job record file.
	RecordFileName = "job.json"

	// LogFileName holds the combined stdout+stderr capture.
	LogFileName = "run.log"
)

// JobDir is the directory holding everything belonging to one job.
func JobDir(root, id string) string {
	return filepath.Join(root, id)
}

// RecordPath is the job record file.
func RecordPath(root, id string) string {
	return filepath.Join(root, id, RecordFileName)
}

// CodeDir holds the submitted code folder.
func CodeDir(root, id string) string {
	return filepath.Join(root, id, "code")
}

// OutputDir is the private directory the executed code writes results into.
func OutputDir(root, id string) string {
	return filepath.Join(root, id, "output")
}

// LogsDir holds execution logs.
func LogsDir(root, id string) string {
	return filepath.Join(root, id, "logs")
}

// LogsPath is the combined execution log file.
func LogsPath(root, id string) string {
	return filepath.Join(LogsDir(root, id), LogFileName)
}
