package runner

import (
	"io"
	"math"
	"sync"
)

// cappedWriter writes through to w until the byte limit is reached, then
// silently drops the excess while keeping count. Dropping instead of
// erroring keeps the subordinate process's pipes draining, so a chatty job
// is truncated rather than killed.
//
// Safe for concurrent use: the stdout and stderr pipes share one instance.
type cappedWriter struct {
	mu      sync.Mutex
	w       io.Writer
	remain  int64
	dropped int64
}

// newCappedWriter wraps w with a byte limit. A non-positive limit means
// unlimited.
func newCappedWriter(w io.Writer, limit int64) *cappedWriter {
	if limit <= 0 {
		limit = math.MaxInt64
	}
	return &cappedWriter{w: w, remain: limit}
}

func (cw *cappedWriter) Write(p []byte) (int, error) {
	cw.mu.Lock()
	defer cw.mu.Unlock()

	n := len(p)
	if cw.remain <= 0 {
		cw.dropped += int64(n)
		return n, nil
	}
	if int64(n) <= cw.remain {
		m, err := cw.w.Write(p)
		cw.remain -= int64(m)
		if err != nil {
			return m, err
		}
		return n, nil
	}

	head := p[:cw.remain]
	m, err := cw.w.Write(head)
	cw.remain -= int64(m)
	if err != nil {
		return m, err
	}
	cw.dropped += int64(n - m)
	return n, nil
}

// Dropped returns how many bytes were discarded past the limit.
func (cw *cappedWriter) Dropped() int64 {
	cw.mu.Lock()
	defer cw.mu.Unlock()
	return cw.dropped
}
