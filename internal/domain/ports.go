package domain

import (
	"context"
	"errors"
)

// ErrChatGone reports that the originating chat context is no longer valid
// (message deleted, bot blocked). Jobs observing it are abandoned.
var ErrChatGone = errors.New("chat context gone")

// Extractor is the driven port for media acquisition. It materializes
// artifacts inside dir and returns the append-only attempt log alongside
// them. emit must never block.
type Extractor interface {
	Extract(ctx context.Context, req Request, dir string, emit func(ProgressEvent)) ([]Artifact, []ExtractionAttempt, error)
}

// Archiver packages artifacts into a single password-protected container.
type Archiver interface {
	Create(dest string, artifacts []Artifact) (*Archive, error)
}

// Uploader pushes an archive to a remote object store.
type Uploader interface {
	Upload(ctx context.Context, ar *Archive) (*UploadResult, error)
}

// Messenger is the driven port for the chat transport side effects the
// pipeline needs. Implementations map transport-specific "chat is gone"
// failures to ErrChatGone.
type Messenger interface {
	SendText(ctx context.Context, chatID int64, text string) (messageID int, err error)
	EditText(ctx context.Context, chatID int64, messageID int, text string) error
	SendArtifact(ctx context.Context, chatID int64, a Artifact) error
}

// SourceInfo is catalog metadata about a requested source.
type SourceInfo struct {
	Title   string
	Channel string
	Tracks  int
}

// Catalog looks up source metadata from the catalog metadata API without
// downloading anything. An optional collaborator; the pipeline works
// without it.
type Catalog interface {
	Describe(ctx context.Context, url string) (*SourceInfo, error)
}

// JobRepository is the driven port for job history persistence.
type JobRepository interface {
	Create(ctx context.Context, job *Job) error
	SetState(ctx context.Context, id string, state JobState) error
	Finish(ctx context.Context, id string, state JobState, errMsg, link string) error
	MarkInterrupted(ctx context.Context) (int64, error)
	CountByState(ctx context.Context, state JobState) (int64, error)
}
