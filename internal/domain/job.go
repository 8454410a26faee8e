package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// MediaKind selects the broad output type of an extraction.
type MediaKind string

const (
	KindAudio MediaKind = "audio"
	KindVideo MediaKind = "video"
)

// MediaFormat is the requested output format: a kind plus a quality tier.
// For audio the quality is a bitrate tier ("128", "192", "320", "best");
// for video it is a resolution height ("480", "720", "1080", ...).
type MediaFormat struct {
	Kind    MediaKind
	Quality string
}

func (f MediaFormat) String() string {
	return fmt.Sprintf("%s/%s", f.Kind, f.Quality)
}

// Request is one accepted inbound download request. Immutable once built.
type Request struct {
	ID        string
	URL       string
	Format    MediaFormat
	ChatID    int64
	Requester string
}

// NewRequest builds a request with a fresh opaque ID.
func NewRequest(url string, format MediaFormat, chatID int64, requester string) Request {
	return Request{
		ID:        uuid.NewString(),
		URL:       url,
		Format:    format,
		ChatID:    chatID,
		Requester: requester,
	}
}

// JobState represents the lifecycle position of a job.
type JobState string

const (
	StateQueued      JobState = "queued"
	StateExtracting  JobState = "extracting"
	StateTranscoding JobState = "transcoding"
	StateRouting     JobState = "routing"
	StateDelivering  JobState = "delivering"
	StateDelivered   JobState = "delivered"
	StateFailed      JobState = "failed"
)

// stateRank orders states for the monotonicity check. failed is terminal
// and reachable from any non-terminal state.
var stateRank = map[JobState]int{
	StateQueued:      0,
	StateExtracting:  1,
	StateTranscoding: 2,
	StateRouting:     3,
	StateDelivering:  4,
	StateDelivered:   5,
	StateFailed:      6,
}

// Terminal reports whether the state ends the job lifecycle.
func (s JobState) Terminal() bool {
	return s == StateDelivered || s == StateFailed
}

// AttemptOutcome tags the result of one extraction attempt.
type AttemptOutcome string

const (
	OutcomeSuccess          AttemptOutcome = "success"
	OutcomeRetryableFailure AttemptOutcome = "retryable-failure"
	OutcomeFatalFailure     AttemptOutcome = "fatal-failure"
)

// ExtractionAttempt records one strategy invocation for a job.
type ExtractionAttempt struct {
	Strategy string
	Outcome  AttemptOutcome
	Error    string
}

// Artifact is one produced media file, owned by its job until handed to
// delivery. Name may contain arbitrary Unicode.
type Artifact struct {
	Path string
	Name string
	Size int64
}

// Archive is a password-protected container bundling one or more artifacts.
type Archive struct {
	Path     string
	Password string
	Size     int64
}

// UploadResult is a retrievable link for an uploaded archive.
type UploadResult struct {
	Link    string
	Expires time.Time
}

// Job coordinates one request from queued to a terminal state. A job is
// owned by a single goroutine; its fields are not safe for concurrent use.
type Job struct {
	Request   Request
	State     JobState
	Attempts  []ExtractionAttempt
	Artifacts []Artifact
	Err       error
	CreatedAt time.Time
}

// NewJob creates a queued job for the request.
func NewJob(req Request) *Job {
	return &Job{
		Request:   req,
		State:     StateQueued,
		CreatedAt: time.Now(),
	}
}

// Transition advances the job to next. Regressions and transitions out of a
// terminal state are rejected.
func (j *Job) Transition(next JobState) error {
	if j.State.Terminal() {
		return fmt.Errorf("job %s: cannot leave terminal state %s", j.Request.ID, j.State)
	}
	if stateRank[next] <= stateRank[j.State] {
		return fmt.Errorf("job %s: cannot regress %s -> %s", j.Request.ID, j.State, next)
	}
	j.State = next
	return nil
}

// Advance moves the job forward to next if that is a forward move, and is a
// no-op otherwise. Used for event-driven nudges where a stale or duplicate
// signal must not count as an error.
func (j *Job) Advance(next JobState) {
	if j.State.Terminal() || stateRank[next] <= stateRank[j.State] {
		return
	}
	j.State = next
}

// Fail moves the job to failed, capturing the last meaningful error for
// user display.
func (j *Job) Fail(err error) {
	if j.State.Terminal() {
		return
	}
	j.State = StateFailed
	j.Err = err
}
