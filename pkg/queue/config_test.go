package queue

import (
	"path/filepath"
	"testing"
	"time"
)

func TestConfigWithDefaults(t *testing.T) {
	got := Config{}.WithDefaults()

	if got.QueueName != DefaultQueueName {
		t.Fatalf("queue name = %q, want %q", got.QueueName, DefaultQueueName)
	}
	if got.MaxConcurrentJobs != DefaultMaxConcurrentJobs {
		t.Fatalf("max concurrent = %d, want %d", got.MaxConcurrentJobs, DefaultMaxConcurrentJobs)
	}
	if got.JobTimeout != DefaultJobTimeout {
		t.Fatalf("job timeout = %v, want %v", got.JobTimeout, DefaultJobTimeout)
	}
	if got.PollInterval != DefaultPollInterval {
		t.Fatalf("poll interval = %v, want %v", got.PollInterval, DefaultPollInterval)
	}
	if got.MaxOutputSize != DefaultMaxOutputSize {
		t.Fatalf("max output = %d, want %d", got.MaxOutputSize, DefaultMaxOutputSize)
	}
	if got.EntryScript != DefaultEntryScript {
		t.Fatalf("entry script = %q, want %q", got.EntryScript, DefaultEntryScript)
	}

	// Explicit values survive.
	custom := Config{
		QueueName:         "lab",
		MaxConcurrentJobs: 7,
		JobTimeout:        time.Minute,
		EntryScript:       "main.sh",
	}.WithDefaults()
	if custom.QueueName != "lab" || custom.MaxConcurrentJobs != 7 ||
		custom.JobTimeout != time.Minute || custom.EntryScript != "main.sh" {
		t.Fatalf("explicit values overwritten: %+v", custom)
	}
}

func TestConfigValidate(t *testing.T) {
	if err := (Config{}.WithDefaults()).Validate(); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}

	bad := []Config{
		{MaxConcurrentJobs: -1},
		{JobTimeout: -time.Second},
		{PollInterval: -time.Second},
		{MaxOutputSize: -1},
		{DispatchRateLimit: -0.5},
	}
	for i, cfg := range bad {
		if err := cfg.Validate(); err == nil {
			t.Fatalf("case %d: negative value accepted: %+v", i, cfg)
		}
	}
}

func TestPayloadLayout(t *testing.T) {
	root := "/srv/queue"
	id := "7c2e"

	if got, want := JobDir(root, id), filepath.Join(root, id); got != want {
		t.Fatalf("JobDir = %q, want %q", got, want)
	}
	if got, want := RecordPath(root, id), filepath.Join(root, id, "job.json"); got != want {
		t.Fatalf("RecordPath = %q, want %q", got, want)
	}
	if got, want := CodeDir(root, id), filepath.Join(root, id, "code"); got != want {
		t.Fatalf("CodeDir = %q, want %q", got, want)
	}
	if got, want := OutputDir(root, id), filepath.Join(root, id, "output"); got != want {
		t.Fatalf("OutputDir = %q, want %q", got, want)
	}
	if got, want := LogsPath(root, id), filepath.Join(root, id, "logs", "run.log"); got != want {
		t.Fatalf("LogsPath = %q, want %q", got, want)
	}
	if got, want := LogsPath(root, id), filepath.Join(LogsDir(root, id), LogFileName); got != want {
		t.Fatalf("LogsPath = %q, want %q", got, want)
	}
}
