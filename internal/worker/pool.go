// Package worker runs download jobs: each accepted request gets its own
// goroutine, gated by a global concurrency ceiling, and is driven from
// queued to a terminal state.
package worker

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"trackdrop/internal/domain"
	"trackdrop/internal/extract"
	"trackdrop/internal/progress"
	"trackdrop/internal/scratch"
	"trackdrop/internal/upload"
)

// Deps are the collaborators a job pipeline needs. Catalog is optional;
// when nil, status messages go out without source titles.
type Deps struct {
	Extractor        domain.Extractor
	Archiver         domain.Archiver
	Uploader         domain.Uploader
	Repo             domain.JobRepository
	Messenger        domain.Messenger
	Catalog          domain.Catalog
	WorkDir          string
	Ceiling          int64
	ProgressInterval time.Duration
	Log              zerolog.Logger
}

// Pool dispatches jobs up to a fixed concurrency ceiling. Jobs never share
// scratch directories or attempt state; the semaphore is the only state
// crossing job boundaries.
type Pool struct {
	deps Deps
	sem  chan struct{}
	wg   sync.WaitGroup
}

// NewPool creates a pool allowing maxConcurrent simultaneous jobs.
func NewPool(deps Deps, maxConcurrent int) *Pool {
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	if deps.Ceiling <= 0 {
		deps.Ceiling = domain.TelegramUploadCeiling
	}
	return &Pool{
		deps: deps,
		sem:  make(chan struct{}, maxConcurrent),
	}
}

// Submit schedules a request. Returns immediately; the job runs once a
// concurrency slot frees up.
func (p *Pool) Submit(ctx context.Context, req domain.Request) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		select {
		case p.sem <- struct{}{}:
		case <-ctx.Done():
			return
		}
		defer func() { <-p.sem }()
		p.run(ctx, req)
	}()
}

// Wait blocks until all submitted jobs finished.
func (p *Pool) Wait() {
	p.wg.Wait()
}

func (p *Pool) run(ctx context.Context, req domain.Request) {
	log := p.deps.Log.With().Str("job", req.ID).Logger()
	job := domain.NewJob(req)

	if err := p.deps.Repo.Create(ctx, job); err != nil {
		log.Error().Err(err).Msg("persist job failed")
	}

	jobCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	msgID, err := p.deps.Messenger.SendText(jobCtx, req.ChatID, p.queuedText(jobCtx, req, log))
	if err != nil {
		log.Error().Err(err).Msg("cannot reach chat, abandoning job")
		p.finish(ctx, log, req.ID, domain.StateFailed, err.Error(), "")
		return
	}

	rep := progress.New(p.deps.Messenger, req.ChatID, msgID, p.deps.ProgressInterval, log)
	rep.OnGone(func() {
		log.Warn().Msg("chat context gone, abandoning job")
		cancel()
	})
	go rep.Run(jobCtx)

	jan, err := scratch.New(p.deps.WorkDir, req.ID, log)
	if err != nil {
		p.fail(ctx, job, rep, "Could not allocate working space.", err, log)
		return
	}
	defer jan.Cleanup()

	// extracting
	job.Transition(domain.StateExtracting)
	p.setState(ctx, log, req.ID, job.State)

	artifacts, attempts, err := p.deps.Extractor.Extract(jobCtx, req, jan.Dir(), rep.Offer)
	job.Attempts = attempts
	if err != nil {
		p.fail(ctx, job, rep, userCause(err), err, log)
		return
	}
	job.Artifacts = artifacts
	log.Info().Int("artifacts", len(artifacts)).Int("attempts", len(attempts)).Msg("extraction complete")

	// Format conversion happens inside the extraction step (yt-dlp
	// post-processing); record the stage for audio requests where it
	// always applies.
	if req.Format.Kind == domain.KindAudio {
		job.Transition(domain.StateTranscoding)
		p.setState(ctx, log, req.ID, job.State)
	}

	// routing
	job.Transition(domain.StateRouting)
	p.setState(ctx, log, req.ID, job.State)
	path := domain.ChooseDelivery(artifacts, p.deps.Ceiling)
	log.Info().Str("path", string(path)).Msg("delivery path chosen")

	// delivering
	job.Transition(domain.StateDelivering)
	p.setState(ctx, log, req.ID, job.State)

	var link string
	switch path {
	case domain.DeliverDirect:
		if err := p.deps.Messenger.SendArtifact(jobCtx, req.ChatID, artifacts[0]); err != nil {
			p.fail(ctx, job, rep, "Sending the file failed.", err, log)
			return
		}
	case domain.DeliverArchive:
		link, err = p.deliverArchive(jobCtx, job, jan.Dir(), rep)
		if err != nil {
			p.fail(ctx, job, rep, userCause(err), err, log)
			return
		}
	}

	job.Transition(domain.StateDelivered)
	p.finish(ctx, log, req.ID, domain.StateDelivered, "", link)
	rep.Finish(jobCtx, fmt.Sprintf("✅ Done: %d file(s) delivered.", len(artifacts)))
	log.Info().Msg("job delivered")
}

// queuedText builds the initial status message, enriched with the catalog
// title when the metadata API is configured and knows the source.
func (p *Pool) queuedText(ctx context.Context, req domain.Request, log zerolog.Logger) string {
	if p.deps.Catalog == nil {
		return "⏳ Queued…"
	}
	info, err := p.deps.Catalog.Describe(ctx, req.URL)
	if err != nil || info.Title == "" {
		log.Debug().Err(err).Msg("catalog lookup unavailable")
		return "⏳ Queued…"
	}
	log.Info().Str("title", info.Title).Int("tracks", info.Tracks).Msg("catalog metadata resolved")
	return "⏳ Queued: " + info.Title
}

func (p *Pool) setState(ctx context.Context, log zerolog.Logger, id string, state domain.JobState) {
	if err := p.deps.Repo.SetState(ctx, id, state); err != nil {
		log.Error().Err(err).Str("state", string(state)).Msg("persist state failed")
	}
}

func (p *Pool) finish(ctx context.Context, log zerolog.Logger, id string, state domain.JobState, errMsg, link string) {
	if err := p.deps.Repo.Finish(ctx, id, state, errMsg, link); err != nil {
		log.Error().Err(err).Str("state", string(state)).Msg("persist outcome failed")
	}
}

// deliverArchive packs the artifact set, uploads it, and sends the link
// and the password as separate messages.
func (p *Pool) deliverArchive(ctx context.Context, job *domain.Job, dir string, rep *progress.Reporter) (string, error) {
	req := job.Request

	rep.Offer(domain.ProgressEvent{Phase: domain.PhaseArchiving, Indeterminate: true})
	dest := filepath.Join(dir, archiveBaseName(job.Artifacts)+".zip")
	ar, err := p.deps.Archiver.Create(dest, job.Artifacts)
	if err != nil {
		return "", err
	}

	rep.Offer(domain.ProgressEvent{Phase: domain.PhaseUploading, Indeterminate: true})
	res, err := p.deps.Uploader.Upload(ctx, ar)
	if err != nil {
		return "", err
	}

	text := fmt.Sprintf("📦 Your download is ready (%.1f MB):\n%s",
		float64(ar.Size)/(1024*1024), res.Link)
	if _, err := p.deps.Messenger.SendText(ctx, req.ChatID, text); err != nil {
		return "", err
	}
	// Password goes out separately from the link.
	if _, err := p.deps.Messenger.SendText(ctx, req.ChatID, "🔑 Archive password: "+ar.Password); err != nil {
		return "", err
	}
	return res.Link, nil
}

func (p *Pool) fail(ctx context.Context, job *domain.Job, rep *progress.Reporter, userMsg string, err error, log zerolog.Logger) {
	job.Fail(err)
	log.Error().Err(err).Msg("job failed")
	p.finish(ctx, log, job.Request.ID, domain.StateFailed, err.Error(), "")
	rep.Finish(ctx, "❌ "+userMsg)
}

// userCause maps internal failures to the single human-readable terminal
// message shown to the requester.
func userCause(err error) string {
	switch {
	case errors.Is(err, extract.ErrStrategiesExhausted):
		return "The source keeps rejecting automated downloads right now. Please try again later."
	case errors.Is(err, extract.ErrNothingProduced):
		return "Nothing could be downloaded from that link."
	case errors.Is(err, extract.ErrTracksUnavailable):
		return "Some tracks in this collection are unavailable, so the download was aborted."
	case errors.Is(err, upload.ErrPermanent):
		return "The cloud storage rejected the upload."
	case errors.Is(err, context.Canceled):
		return "The request was cancelled."
	default:
		return "Download failed: " + err.Error()
	}
}

// archiveBaseName derives an ASCII-safe container name from the artifact
// set. Entry names inside the archive keep their full Unicode form.
func archiveBaseName(artifacts []domain.Artifact) string {
	base := "trackdrop"
	if len(artifacts) > 0 {
		name := artifacts[0].Name
		base = strings.TrimSuffix(name, filepath.Ext(name))
	}

	var b strings.Builder
	for _, r := range base {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	out := strings.Trim(b.String(), "_")
	if out == "" {
		out = "trackdrop"
	}
	if len(out) > 80 {
		out = out[:80]
	}
	return out
}
