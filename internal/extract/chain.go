package extract

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/rs/zerolog"

	"trackdrop/internal/config"
	"trackdrop/internal/domain"
)

// Sentinel errors for extraction outcomes.
var (
	ErrBotChallenge        = errors.New("upstream anti-automation challenge")
	ErrNothingProduced     = errors.New("nothing was produced")
	ErrStrategiesExhausted = errors.New("all client identities rejected")
	ErrTracksUnavailable   = errors.New("tracks unavailable")
)

// partialSuffixes mark in-flight yt-dlp output that never counts as an
// artifact.
var partialSuffixes = []string{".part", ".ytdl", ".temp", ".tmp"}

// Chain tries extraction with each configured client identity in order,
// advancing on anti-automation rejections only. Spotify sources get their
// own strategy ladder because the default tool cannot extract them.
// Implements domain.Extractor.
type Chain struct {
	strategies []config.Strategy
	spotify    []config.Strategy
	runner     Runner
	prober     *Prober
	policy     string
	log        zerolog.Logger
}

// NewChain creates a strategy chain. policy is config.PolicySkip or
// config.PolicyStrict for partially unavailable catalog sources.
func NewChain(strategies, spotify []config.Strategy, runner Runner, policy string, log zerolog.Logger) *Chain {
	return &Chain{
		strategies: strategies,
		spotify:    spotify,
		runner:     runner,
		prober:     NewProber(runner, log),
		policy:     policy,
		log:        log,
	}
}

func (c *Chain) strategiesFor(url string) []config.Strategy {
	if SpotifyURL(url) {
		return c.spotify
	}
	return c.strategies
}

// Extract runs the chain for one request. Attempts are strictly sequential;
// partial output from a failed attempt is discarded before the next one
// starts. The returned attempt log is append-only and complete.
func (c *Chain) Extract(ctx context.Context, req domain.Request, dir string, emit func(domain.ProgressEvent)) ([]domain.Artifact, []domain.ExtractionAttempt, error) {
	expected := 0
	// The probe is a yt-dlp invocation, so Spotify sources skip it.
	if MultiTrack(req.URL) && !SpotifyURL(req.URL) {
		n, err := c.prober.PlaylistSize(ctx, req.URL)
		if err != nil {
			c.log.Warn().Err(err).Msg("playlist size probe failed")
		} else {
			expected = n
			emit(domain.ProgressEvent{Phase: domain.PhaseExtracting, Indeterminate: true, Total: expected})
		}
	}

	var attempts []domain.ExtractionAttempt
	var lastErr error

	for i, s := range c.strategiesFor(req.URL) {
		if err := ctx.Err(); err != nil {
			return nil, attempts, err
		}

		attemptDir := filepath.Join(dir, fmt.Sprintf("attempt-%d-%s", i, s.Name))
		if err := os.MkdirAll(attemptDir, 0o755); err != nil {
			return nil, attempts, fmt.Errorf("create attempt dir: %w", err)
		}

		c.log.Info().Str("job", req.ID).Str("strategy", s.Name).Msg("extraction attempt")
		artifacts, err := c.attempt(ctx, req, s, attemptDir, expected, emit)
		if err == nil {
			attempts = append(attempts, domain.ExtractionAttempt{
				Strategy: s.Name,
				Outcome:  domain.OutcomeSuccess,
			})
			return artifacts, attempts, nil
		}

		if errors.Is(err, ErrBotChallenge) {
			attempts = append(attempts, domain.ExtractionAttempt{
				Strategy: s.Name,
				Outcome:  domain.OutcomeRetryableFailure,
				Error:    err.Error(),
			})
			// Discard partial output so it never leaks into a later
			// attempt's artifact set.
			os.RemoveAll(attemptDir)
			lastErr = err
			continue
		}

		attempts = append(attempts, domain.ExtractionAttempt{
			Strategy: s.Name,
			Outcome:  domain.OutcomeFatalFailure,
			Error:    err.Error(),
		})
		return nil, attempts, err
	}

	if lastErr == nil {
		lastErr = ErrNothingProduced
	}
	return nil, attempts, fmt.Errorf("%w: %v", ErrStrategiesExhausted, lastErr)
}

func (c *Chain) attempt(ctx context.Context, req domain.Request, s config.Strategy, dir string, expected int, emit func(domain.ProgressEvent)) ([]domain.Artifact, error) {
	parser := newLineParser(emit)
	runErr := c.runner.Run(ctx, dir, tool(s), c.buildArgs(req, s, dir), parser.feed)

	if parser.botChallenge {
		return nil, fmt.Errorf("%w (identity %s)", ErrBotChallenge, s.Name)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	artifacts, err := collectArtifacts(dir)
	if err != nil {
		return nil, fmt.Errorf("collect artifacts: %w", err)
	}
	if len(artifacts) == 0 {
		if runErr != nil {
			return nil, runErr
		}
		return nil, ErrNothingProduced
	}

	if expected > 0 && len(artifacts) < expected {
		missing := expected - len(artifacts)
		if c.policy == config.PolicyStrict {
			return nil, fmt.Errorf("%w: %d of %d tracks could not be resolved", ErrTracksUnavailable, missing, expected)
		}
		c.log.Warn().Str("job", req.ID).Int("missing", missing).Int("expected", expected).
			Msg("skipping unavailable tracks")
		emit(domain.ProgressEvent{
			Phase:  domain.PhaseExtracting,
			Done:   len(artifacts),
			Total:  expected,
			Detail: fmt.Sprintf("%d track(s) unavailable, skipped", missing),
		})
	}

	return artifacts, nil
}

func tool(s config.Strategy) string {
	if s.Tool != "" {
		return s.Tool
	}
	return "yt-dlp"
}

// buildArgs maps a request and a client identity onto an extraction tool
// invocation.
func (c *Chain) buildArgs(req domain.Request, s config.Strategy, dir string) []string {
	if tool(s) == "spotdl" {
		return c.buildSpotdlArgs(req, s, dir)
	}
	args := []string{
		"--newline",
		"-o", filepath.Join(dir, "%(title)s.%(ext)s"),
	}
	if s.PlayerClient != "" {
		args = append(args, "--extractor-args", "youtube:player_client="+s.PlayerClient)
	}
	if s.CookiesFile != "" {
		args = append(args, "--cookies", s.CookiesFile)
	}

	switch req.Format.Kind {
	case domain.KindAudio:
		args = append(args, "-x", "--audio-format", "mp3")
		if q := req.Format.Quality; q != "" && q != "best" {
			args = append(args, "--audio-quality", q+"K")
		}
	case domain.KindVideo:
		if h := req.Format.Quality; h != "" && h != "best" {
			args = append(args, "-f", fmt.Sprintf("bestvideo[height<=%s]+bestaudio/best[height<=%s]", h, h))
		} else {
			args = append(args, "-f", "bestvideo+bestaudio/best")
		}
		args = append(args, "--merge-output-format", "mp4")
	}

	if c.policy == config.PolicySkip {
		args = append(args, "--ignore-errors")
	} else {
		args = append(args, "--abort-on-error")
	}

	return append(args, req.URL)
}

// buildSpotdlArgs maps a request onto a spotdl invocation. Spotify sources
// are audio-only.
func (c *Chain) buildSpotdlArgs(req domain.Request, s config.Strategy, dir string) []string {
	bitrate := "320k"
	if q := req.Format.Quality; q != "" && q != "best" {
		bitrate = q + "k"
	}
	return []string{
		"download", req.URL,
		"--output", dir,
		"--format", "mp3",
		"--bitrate", bitrate,
		"--threads", "2",
		"--max-retries", "2",
		"--print-errors",
		"--no-cache",
	}
}

// collectArtifacts gathers completed nonzero files from an attempt
// directory, sorted by name.
func collectArtifacts(dir string) ([]domain.Artifact, error) {
	var artifacts []domain.Artifact
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || partial(d.Name()) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		if info.Size() == 0 {
			return nil
		}
		artifacts = append(artifacts, domain.Artifact{
			Path: path,
			Name: d.Name(),
			Size: info.Size(),
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(artifacts, func(i, j int) bool { return artifacts[i].Name < artifacts[j].Name })
	return artifacts, nil
}

func partial(name string) bool {
	for _, s := range partialSuffixes {
		if strings.HasSuffix(name, s) {
			return true
		}
	}
	return false
}

// MultiTrack reports whether the URL refers to a catalog-style source that
// can produce more than one artifact.
func MultiTrack(url string) bool {
	return strings.Contains(url, "list=") ||
		strings.Contains(url, "/playlist") ||
		strings.Contains(url, "/album/") ||
		strings.Contains(url, "/sets/")
}

var spotifyRe = regexp.MustCompile(`^https?://open\.spotify\.com/(track|album|playlist|artist)/`)

// SpotifyURL reports whether the URL points at the Spotify catalog service.
func SpotifyURL(url string) bool {
	return spotifyRe.MatchString(url)
}
