// Package scratch manages per-job scratch directories and guarantees their
// deletion on every exit path.
package scratch

import (
	"fmt"
	"os"
	"sync"

	"github.com/rs/zerolog"
)

// Janitor owns one scratch directory for the lifetime of a job. Cleanup is
// idempotent so it can be deferred and also called explicitly.
type Janitor struct {
	dir  string
	log  zerolog.Logger
	once sync.Once
}

// New creates a fresh scratch directory under root. The directory is never
// shared across jobs.
func New(root, jobID string, log zerolog.Logger) (*Janitor, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create scratch root: %w", err)
	}
	dir, err := os.MkdirTemp(root, "job-"+jobID+"-*")
	if err != nil {
		return nil, fmt.Errorf("create scratch dir: %w", err)
	}
	return &Janitor{dir: dir, log: log}, nil
}

// Dir returns the scratch directory path.
func (j *Janitor) Dir() string {
	return j.dir
}

// Cleanup removes the scratch directory and everything in it.
func (j *Janitor) Cleanup() {
	j.once.Do(func() {
		if err := os.RemoveAll(j.dir); err != nil {
			j.log.Error().Err(err).Str("dir", j.dir).Msg("scratch cleanup failed")
			return
		}
		j.log.Debug().Str("dir", j.dir).Msg("scratch reclaimed")
	})
}
