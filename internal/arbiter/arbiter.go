// Package arbiter guarantees a single active update consumer: a filesystem
// lock keeps out concurrent processes, and webhook clearing plus bounded
// conflict retries keep the pull consumer exclusive on the transport side.
package arbiter

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
	"github.com/rs/zerolog"
)

// Sentinel errors.
var (
	ErrAlreadyRunning     = errors.New("another instance holds the lock")
	ErrConflictUnresolved = errors.New("update consumer conflict not resolved")
)

// WebhookClearer removes any registered push-delivery target, discarding
// updates buffered during the gap. Push and pull delivery are mutually
// exclusive on the transport.
type WebhookClearer interface {
	ClearWebhook(ctx context.Context, dropPending bool) error
}

// Arbiter enforces single-consumer semantics for one credential scope.
type Arbiter struct {
	lock    *flock.Flock
	clearer WebhookClearer
	retries int
	backoff time.Duration
	log     zerolog.Logger

	conflicts int
}

// New creates an arbiter locking lockPath.
func New(lockPath string, clearer WebhookClearer, retries int, backoff time.Duration, log zerolog.Logger) *Arbiter {
	return &Arbiter{
		lock:    flock.New(lockPath),
		clearer: clearer,
		retries: retries,
		backoff: backoff,
		log:     log,
	}
}

// Acquire takes the process-wide exclusive lock. If another live process
// holds it, ErrAlreadyRunning is returned and the caller must exit without
// side effects.
func (a *Arbiter) Acquire() error {
	if err := os.MkdirAll(filepath.Dir(a.lock.Path()), 0o755); err != nil {
		return fmt.Errorf("create lock dir: %w", err)
	}
	locked, err := a.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock %s: %w", a.lock.Path(), err)
	}
	if !locked {
		return fmt.Errorf("%w (%s)", ErrAlreadyRunning, a.lock.Path())
	}
	a.log.Info().Str("path", a.lock.Path()).Msg("arbiter lock acquired")
	return nil
}

// Release drops the lock. Called on every shutdown path.
func (a *Arbiter) Release() {
	if err := a.lock.Unlock(); err != nil {
		a.log.Error().Err(err).Msg("arbiter lock release failed")
		return
	}
	a.log.Info().Msg("arbiter lock released")
}

// PrepareConsumer clears any stale push target and drops buffered updates
// before the pull loop starts.
func (a *Arbiter) PrepareConsumer(ctx context.Context) error {
	if err := a.clearer.ClearWebhook(ctx, true); err != nil {
		return fmt.Errorf("clear webhook: %w", err)
	}
	a.log.Info().Msg("push target cleared, pending updates dropped")
	return nil
}

// OnConflict handles a "another consumer is active" rejection from the
// transport: clear the push target again, wait a short fixed backoff, and
// allow a bounded number of retries before escalating to a fatal error.
func (a *Arbiter) OnConflict(ctx context.Context) error {
	a.conflicts++
	if a.conflicts > a.retries {
		return fmt.Errorf("%w after %d retries", ErrConflictUnresolved, a.retries)
	}
	a.log.Warn().Int("attempt", a.conflicts).Int("max", a.retries).
		Msg("consumer conflict, clearing push target and backing off")

	if err := a.clearer.ClearWebhook(ctx, true); err != nil {
		a.log.Error().Err(err).Msg("webhook clear during conflict failed")
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(a.backoff):
		return nil
	}
}

// ResetConflicts clears the conflict counter after a successful poll.
func (a *Arbiter) ResetConflicts() {
	a.conflicts = 0
}
