package queue

import (
	"fmt"
	"time"
)

// Queue defaults. These mirror the published behavior of the wire format and
// change only with a compatibility note.
const (
	DefaultQueueName         = "code-queue"
	DefaultMaxConcurrentJobs = 3
	DefaultJobTimeout        = 5 * time.Minute
	DefaultPollInterval      = 5 * time.Second
	DefaultMaxOutputSize     = int64(10 << 20) // 10 MiB
	DefaultEntryScript       = "run.sh"
)

// Config carries the queue-wide execution limits. It is immutable once a
// client or server facade has been constructed around it.
type Config struct {
	// QueueName labels the mailbox; it appears in logs and the admin API.
	QueueName string

	// MaxConcurrentJobs bounds simultaneous executions.
	MaxConcurrentJobs int

	// JobTimeout is the hard wall-clock limit per execution.
	JobTimeout time.Duration

	// PollInterval is the scheduler tick.
	PollInterval time.Duration

	// MaxOutputSize caps the captured stdout+stderr stream per job. Excess
	// output is dropped, not fatal.
	MaxOutputSize int64

	// CommandAllowlist and CommandDenylist are doublestar patterns matched
	// against commands invoked by the entry script. The denylist wins when
	// both match.
	CommandAllowlist []string
	CommandDenylist  []string

	// EntryScript is the file the engine launches inside the code folder.
	EntryScript string

	// DispatchRateLimit paces scheduler dispatches per second. Zero means
	// unlimited.
	DispatchRateLimit float64
}

// WithDefaults returns a copy of c with zero-valued fields replaced by the
// package defaults.
func (c Config) WithDefaults() Config {
	if c.QueueName == "" {
		c.QueueName = DefaultQueueName
	}
	if c.MaxConcurrentJobs == 0 {
		c.MaxConcurrentJobs = DefaultMaxConcurrentJobs
	}
	if c.JobTimeout == 0 {
		c.JobTimeout = DefaultJobTimeout
	}
	if c.PollInterval == 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.MaxOutputSize == 0 {
		c.MaxOutputSize = DefaultMaxOutputSize
	}
	if c.EntryScript == "" {
		c.EntryScript = DefaultEntryScript
	}
	return c
}

// Validate rejects configurations the scheduler cannot honor.
func (c Config) Validate() error {
	if c.MaxConcurrentJobs < 0 {
		return fmt.Errorf("max_concurrent_jobs must be positive, got %d", c.MaxConcurrentJobs)
	}
	if c.JobTimeout < 0 {
		return fmt.Errorf("job_timeout must not be negative, got %s", c.JobTimeout)
	}
	if c.PollInterval < 0 {
		return fmt.Errorf("poll_interval must not be negative, got %s", c.PollInterval)
	}
	if c.MaxOutputSize < 0 {
		return fmt.Errorf("max_output_size must not be negative, got %d", c.MaxOutputSize)
	}
	if c.DispatchRateLimit < 0 {
		return fmt.Errorf("dispatch_rate_limit must not be negative, got %g", c.DispatchRateLimit)
	}
	return nil
}
