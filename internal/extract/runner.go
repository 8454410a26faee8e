// Package extract acquires media through yt-dlp, falling back across
// client identities when the upstream service rejects automation.
package extract

import (
	"bufio"
	"context"
	"fmt"
	"os/exec"
	"sync"

	"github.com/rs/zerolog"
)

// Runner abstracts external tool invocation so the chain can be tested
// without a yt-dlp binary.
type Runner interface {
	Run(ctx context.Context, dir, name string, args []string, onLine func(string)) error
}

type execRunner struct {
	log zerolog.Logger
}

// NewRunner returns a Runner backed by os/exec.
func NewRunner(log zerolog.Logger) Runner {
	return &execRunner{log: log}
}

// Run executes the command with dir as working directory, streaming stdout
// and stderr line by line into onLine. onLine calls are serialized.
func (r *execRunner) Run(ctx context.Context, dir, name string, args []string, onLine func(string)) error {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start %s: %w", name, err)
	}

	var mu sync.Mutex
	var wg sync.WaitGroup
	scan := func(rd *bufio.Scanner) {
		defer wg.Done()
		for rd.Scan() {
			line := rd.Text()
			r.log.Debug().Str("tool", name).Msg(line)
			mu.Lock()
			onLine(line)
			mu.Unlock()
		}
	}
	wg.Add(2)
	go scan(bufio.NewScanner(stdout))
	go scan(bufio.NewScanner(stderr))
	wg.Wait()

	if err := cmd.Wait(); err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	return nil
}
