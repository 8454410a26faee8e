// Package progress converts a stream of pipeline events into throttled,
// idempotent chat status updates.
package progress

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"trackdrop/internal/domain"
)

// Editor is the single side effect the reporter performs: editing the
// status message in place.
type Editor interface {
	EditText(ctx context.Context, chatID int64, messageID int, text string) error
}

const defaultInterval = 2500 * time.Millisecond

// eventBuffer bounds how many undelivered events are held. Producers drop
// on a full buffer rather than block extraction.
const eventBuffer = 64

// Reporter coalesces progress events and edits one status message at a
// bounded rate. Re-rendering identical content is a no-op.
type Reporter struct {
	editor    Editor
	chatID    int64
	messageID int
	interval  time.Duration
	log       zerolog.Logger

	events chan domain.ProgressEvent
	done   chan struct{}
	onGone func()

	mu       sync.Mutex
	latest   domain.ProgressEvent
	dirty    bool
	lastSent string
	finished bool

	// sendMu serializes edits so no progress update can land after the
	// final one.
	sendMu sync.Mutex
}

// New creates a reporter bound to an existing status message.
func New(editor Editor, chatID int64, messageID int, interval time.Duration, log zerolog.Logger) *Reporter {
	if interval <= 0 {
		interval = defaultInterval
	}
	return &Reporter{
		editor:    editor,
		chatID:    chatID,
		messageID: messageID,
		interval:  interval,
		log:       log,
		events:    make(chan domain.ProgressEvent, eventBuffer),
		done:      make(chan struct{}),
	}
}

// OnGone registers a callback invoked once when the chat context turns out
// to be invalid. Must be set before Run.
func (r *Reporter) OnGone(f func()) {
	r.onGone = f
}

// Offer submits an event without blocking. Events are dropped when the
// buffer is full; the next tick renders the latest state anyway.
func (r *Reporter) Offer(ev domain.ProgressEvent) {
	select {
	case r.events <- ev:
	default:
	}
}

// Run consumes events until Finish is called or ctx is cancelled.
func (r *Reporter) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-r.done:
			return
		case ev := <-r.events:
			r.mu.Lock()
			r.latest = ev
			r.dirty = true
			r.mu.Unlock()
		case <-ticker.C:
			r.flush(ctx)
		}
	}
}

func (r *Reporter) flush(ctx context.Context) {
	r.mu.Lock()
	if r.finished || !r.dirty {
		r.mu.Unlock()
		return
	}
	text := render(r.latest)
	if text == r.lastSent {
		r.dirty = false
		r.mu.Unlock()
		return
	}
	r.mu.Unlock()

	r.sendMu.Lock()
	defer r.sendMu.Unlock()

	r.mu.Lock()
	finished := r.finished
	r.mu.Unlock()
	if finished {
		return
	}

	err := r.editor.EditText(ctx, r.chatID, r.messageID, text)

	r.mu.Lock()
	defer r.mu.Unlock()
	if err != nil {
		if errors.Is(err, domain.ErrChatGone) && r.onGone != nil {
			gone := r.onGone
			r.onGone = nil
			go gone()
		}
		return
	}
	r.lastSent = text
	r.dirty = false
}

// Finish stops progress updates and emits exactly one final message
// superseding them. Safe to call once per reporter.
func (r *Reporter) Finish(ctx context.Context, text string) error {
	r.mu.Lock()
	if r.finished {
		r.mu.Unlock()
		return nil
	}
	r.finished = true
	r.mu.Unlock()
	close(r.done)

	r.sendMu.Lock()
	defer r.sendMu.Unlock()
	return r.editor.EditText(ctx, r.chatID, r.messageID, text)
}

const barWidth = 20

func render(ev domain.ProgressEvent) string {
	var b strings.Builder

	switch ev.Phase {
	case domain.PhaseExtracting:
		b.WriteString("⬇️ Downloading")
	case domain.PhaseTranscoding:
		b.WriteString("🎛 Converting")
	case domain.PhaseArchiving:
		b.WriteString("🗜 Packing archive")
	case domain.PhaseUploading:
		b.WriteString("☁️ Uploading")
	default:
		b.WriteString("⏳ Working")
	}

	if ev.Indeterminate {
		b.WriteString("…")
	} else {
		fmt.Fprintf(&b, " %.1f%%\n%s", ev.Percent, bar(ev.Percent))
	}
	if ev.Total > 1 {
		fmt.Fprintf(&b, "\nTracks: %d/%d", ev.Done, ev.Total)
	}
	if ev.Detail != "" {
		fmt.Fprintf(&b, "\n%s", ev.Detail)
	}
	return b.String()
}

func bar(percent float64) string {
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}
	filled := int(float64(barWidth) * percent / 100)
	return "[" + strings.Repeat("=", filled) + strings.Repeat("-", barWidth-filled) + "]"
}
