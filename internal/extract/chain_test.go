package extract

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"testing"

	"github.com/rs/zerolog"

	"trackdrop/internal/config"
	"trackdrop/internal/domain"
)

// fakeRunner scripts yt-dlp behavior per extraction attempt. Probe
// invocations (--flat-playlist) are answered from playlistIDs and do not
// count as attempts.
type fakeRunner struct {
	mu          sync.Mutex
	playlistIDs []string
	attempt     func(call int, dir string, args []string, onLine func(string)) error
	calls       int
	probes      int
	names       []string
	argsLog     [][]string
}

func (f *fakeRunner) Run(ctx context.Context, dir, name string, args []string, onLine func(string)) error {
	if slices.Contains(args, "--flat-playlist") {
		f.mu.Lock()
		f.probes++
		f.mu.Unlock()
		for _, id := range f.playlistIDs {
			onLine(id)
		}
		return nil
	}
	f.mu.Lock()
	f.calls++
	call := f.calls
	f.names = append(f.names, name)
	f.argsLog = append(f.argsLog, args)
	f.mu.Unlock()
	return f.attempt(call, dir, args, onLine)
}

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func audioRequest(url string) domain.Request {
	return domain.NewRequest(url, domain.MediaFormat{Kind: domain.KindAudio, Quality: "192"}, 42, "tester")
}

func discard(domain.ProgressEvent) {}

func TestChain_AdvancesPastBotChallenges(t *testing.T) {
	runner := &fakeRunner{
		attempt: func(call int, dir string, args []string, onLine func(string)) error {
			if call < 3 {
				// Rejected identity leaves partial output behind.
				writeFile(t, dir, "song.mp3.part", "partial")
				onLine("ERROR: Sign in to confirm you're not a bot")
				return errors.New("exit status 1")
			}
			onLine("[download] Destination: Track One.mp3")
			onLine("[download] 100.0% of 3MiB")
			writeFile(t, dir, "Track One.mp3", "real bytes")
			return nil
		},
	}

	chain := NewChain(config.DefaultStrategies(), config.DefaultSpotifyStrategies(), runner, config.PolicySkip, zerolog.Nop())
	dir := t.TempDir()
	artifacts, attempts, err := chain.Extract(context.Background(), audioRequest("https://example.com/watch?v=x"), dir, discard)
	if err != nil {
		t.Fatalf("Extract() error: %v", err)
	}

	if len(artifacts) != 1 || artifacts[0].Name != "Track One.mp3" {
		t.Fatalf("artifacts = %+v, want the third identity's track", artifacts)
	}

	// The attempt log records every identity tried, in order.
	if len(attempts) != 3 {
		t.Fatalf("got %d attempts, want 3", len(attempts))
	}
	for i, a := range attempts[:2] {
		if a.Outcome != domain.OutcomeRetryableFailure {
			t.Errorf("attempt %d outcome = %s, want retryable failure", i, a.Outcome)
		}
	}
	if attempts[2].Outcome != domain.OutcomeSuccess {
		t.Errorf("final attempt outcome = %s", attempts[2].Outcome)
	}

	// Earlier identities' partial output is gone.
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Errorf("failed attempt dirs not discarded: %v", entries)
	}
}

func TestChain_ExhaustsAllIdentities(t *testing.T) {
	runner := &fakeRunner{
		attempt: func(call int, dir string, args []string, onLine func(string)) error {
			onLine("ERROR: HTTP Error 429: Too Many Requests")
			return errors.New("exit status 1")
		},
	}

	chain := NewChain(config.DefaultStrategies(), config.DefaultSpotifyStrategies(), runner, config.PolicySkip, zerolog.Nop())
	_, attempts, err := chain.Extract(context.Background(), audioRequest("https://example.com/watch?v=x"), t.TempDir(), discard)
	if !errors.Is(err, ErrStrategiesExhausted) {
		t.Fatalf("error = %v, want ErrStrategiesExhausted", err)
	}
	if want := len(config.DefaultStrategies()); len(attempts) != want {
		t.Errorf("got %d attempts, want %d", len(attempts), want)
	}
	if runner.calls != len(attempts) {
		t.Errorf("runner ran %d times for %d attempts", runner.calls, len(attempts))
	}
}

func TestChain_NonChallengeFailureIsFatal(t *testing.T) {
	runner := &fakeRunner{
		attempt: func(call int, dir string, args []string, onLine func(string)) error {
			onLine("ERROR: unsupported URL")
			return errors.New("exit status 1")
		},
	}

	chain := NewChain(config.DefaultStrategies(), config.DefaultSpotifyStrategies(), runner, config.PolicySkip, zerolog.Nop())
	_, attempts, err := chain.Extract(context.Background(), audioRequest("https://example.com/nope"), t.TempDir(), discard)
	if err == nil || errors.Is(err, ErrStrategiesExhausted) {
		t.Fatalf("error = %v, want a fatal first-attempt failure", err)
	}
	if len(attempts) != 1 || attempts[0].Outcome != domain.OutcomeFatalFailure {
		t.Errorf("attempts = %+v, want a single fatal attempt", attempts)
	}
}

func TestChain_CleanExitWithNoOutput(t *testing.T) {
	runner := &fakeRunner{
		attempt: func(call int, dir string, args []string, onLine func(string)) error {
			writeFile(t, dir, "song.mp3.part", "partial")
			writeFile(t, dir, "empty.mp3", "")
			return nil
		},
	}

	chain := NewChain(config.DefaultStrategies(), config.DefaultSpotifyStrategies(), runner, config.PolicySkip, zerolog.Nop())
	_, _, err := chain.Extract(context.Background(), audioRequest("https://example.com/watch?v=x"), t.TempDir(), discard)
	if !errors.Is(err, ErrNothingProduced) {
		t.Fatalf("error = %v, want ErrNothingProduced", err)
	}
}

func TestChain_PlaylistSkipDeliversAvailableTracks(t *testing.T) {
	runner := &fakeRunner{
		playlistIDs: []string{"a", "b", "c"},
		attempt: func(call int, dir string, args []string, onLine func(string)) error {
			writeFile(t, dir, "01 One.mp3", "one")
			writeFile(t, dir, "02 Two.mp3", "two")
			onLine("ERROR: [youtube] c: Video unavailable")
			return nil
		},
	}

	chain := NewChain(config.DefaultStrategies(), config.DefaultSpotifyStrategies(), runner, config.PolicySkip, zerolog.Nop())
	var events []domain.ProgressEvent
	artifacts, _, err := chain.Extract(context.Background(),
		audioRequest("https://example.com/playlist?list=PL1"), t.TempDir(),
		func(ev domain.ProgressEvent) { events = append(events, ev) })
	if err != nil {
		t.Fatalf("Extract() error: %v", err)
	}
	if len(artifacts) != 2 {
		t.Fatalf("got %d artifacts, want the 2 available tracks", len(artifacts))
	}

	skipped := false
	for _, ev := range events {
		if ev.Detail != "" {
			skipped = true
		}
	}
	if !skipped {
		t.Error("no progress event reported the skipped track")
	}
}

func TestChain_PlaylistStrictFailsOnMissingTracks(t *testing.T) {
	runner := &fakeRunner{
		playlistIDs: []string{"a", "b", "c"},
		attempt: func(call int, dir string, args []string, onLine func(string)) error {
			writeFile(t, dir, "01 One.mp3", "one")
			writeFile(t, dir, "02 Two.mp3", "two")
			return nil
		},
	}

	chain := NewChain(config.DefaultStrategies(), config.DefaultSpotifyStrategies(), runner, config.PolicyStrict, zerolog.Nop())
	_, attempts, err := chain.Extract(context.Background(),
		audioRequest("https://example.com/playlist?list=PL1"), t.TempDir(), discard)
	if !errors.Is(err, ErrTracksUnavailable) {
		t.Fatalf("error = %v, want ErrTracksUnavailable", err)
	}
	if len(attempts) != 1 || attempts[0].Outcome != domain.OutcomeFatalFailure {
		t.Errorf("attempts = %+v, want a single fatal attempt", attempts)
	}
}

func TestChain_CanceledContextStopsTheChain(t *testing.T) {
	runner := &fakeRunner{
		attempt: func(call int, dir string, args []string, onLine func(string)) error {
			onLine("ERROR: Sign in to confirm you're not a bot")
			return errors.New("exit status 1")
		},
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	chain := NewChain(config.DefaultStrategies(), config.DefaultSpotifyStrategies(), runner, config.PolicySkip, zerolog.Nop())
	_, _, err := chain.Extract(ctx, audioRequest("https://example.com/watch?v=x"), t.TempDir(), discard)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("error = %v, want context.Canceled", err)
	}
	if runner.calls != 0 {
		t.Errorf("runner invoked %d times on a canceled context", runner.calls)
	}
}

func TestChain_BuildArgs(t *testing.T) {
	chain := NewChain(nil, nil, nil, config.PolicySkip, zerolog.Nop())
	strict := NewChain(nil, nil, nil, config.PolicyStrict, zerolog.Nop())

	tests := []struct {
		name    string
		chain   *Chain
		req     domain.Request
		s       config.Strategy
		want    []string
		notWant []string
	}{
		{
			name:  "audio with quality and identity",
			chain: chain,
			req:   domain.NewRequest("https://u", domain.MediaFormat{Kind: domain.KindAudio, Quality: "320"}, 1, ""),
			s:     config.Strategy{Name: "android-web", PlayerClient: "android,web"},
			want: []string{
				"-x", "--audio-format", "mp3", "--audio-quality", "320K",
				"--extractor-args", "youtube:player_client=android,web",
				"--ignore-errors",
			},
		},
		{
			name:  "best audio omits quality cap",
			chain: chain,
			req:   domain.NewRequest("https://u", domain.MediaFormat{Kind: domain.KindAudio, Quality: "best"}, 1, ""),
			s:     config.Strategy{Name: "android", PlayerClient: "android"},
			notWant: []string{
				"--audio-quality",
			},
		},
		{
			name:  "video with height ceiling",
			chain: strict,
			req:   domain.NewRequest("https://u", domain.MediaFormat{Kind: domain.KindVideo, Quality: "720"}, 1, ""),
			s:     config.Strategy{Name: "web-mweb", PlayerClient: "web,mweb"},
			want: []string{
				"-f", "bestvideo[height<=720]+bestaudio/best[height<=720]",
				"--merge-output-format", "mp4",
				"--abort-on-error",
			},
		},
		{
			name:  "cookies file is passed through",
			chain: chain,
			req:   domain.NewRequest("https://u", domain.MediaFormat{Kind: domain.KindAudio}, 1, ""),
			s:     config.Strategy{Name: "cookies", CookiesFile: "/etc/trackdrop/cookies.txt"},
			want:  []string{"--cookies", "/etc/trackdrop/cookies.txt"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			args := tt.chain.buildArgs(tt.req, tt.s, "/scratch")
			for _, w := range tt.want {
				if !slices.Contains(args, w) {
					t.Errorf("args missing %q: %v", w, args)
				}
			}
			for _, nw := range tt.notWant {
				if slices.Contains(args, nw) {
					t.Errorf("args contain %q: %v", nw, args)
				}
			}
			if args[len(args)-1] != tt.req.URL {
				t.Errorf("URL is not the final argument: %v", args)
			}
		})
	}
}

func TestChain_SpotifySourceUsesSpotdl(t *testing.T) {
	runner := &fakeRunner{
		attempt: func(call int, dir string, args []string, onLine func(string)) error {
			writeFile(t, dir, "Artist - Track.mp3", "bytes")
			return nil
		},
	}

	chain := NewChain(config.DefaultStrategies(), config.DefaultSpotifyStrategies(), runner, config.PolicySkip, zerolog.Nop())
	artifacts, attempts, err := chain.Extract(context.Background(),
		audioRequest("https://open.spotify.com/track/3n3Ppam7vgaVa1iaRUc9Lp"), t.TempDir(), discard)
	if err != nil {
		t.Fatalf("Extract() error: %v", err)
	}
	if len(artifacts) != 1 {
		t.Fatalf("got %d artifacts, want 1", len(artifacts))
	}
	if len(attempts) != 1 || attempts[0].Strategy != "spotdl" {
		t.Fatalf("attempts = %+v, want a single spotdl attempt", attempts)
	}
	if len(runner.names) != 1 || runner.names[0] != "spotdl" {
		t.Errorf("invoked tools = %v, want spotdl", runner.names)
	}
}

func TestChain_SpotifyAlbumSkipsPlaylistProbe(t *testing.T) {
	runner := &fakeRunner{
		playlistIDs: []string{"a", "b"},
		attempt: func(call int, dir string, args []string, onLine func(string)) error {
			writeFile(t, dir, "01 One.mp3", "one")
			writeFile(t, dir, "02 Two.mp3", "two")
			return nil
		},
	}

	chain := NewChain(config.DefaultStrategies(), config.DefaultSpotifyStrategies(), runner, config.PolicyStrict, zerolog.Nop())
	artifacts, _, err := chain.Extract(context.Background(),
		audioRequest("https://open.spotify.com/album/6QaVfG1pHYl1z15ZxkvVDW"), t.TempDir(), discard)
	if err != nil {
		t.Fatalf("Extract() error: %v", err)
	}
	if len(artifacts) != 2 {
		t.Fatalf("got %d artifacts, want 2", len(artifacts))
	}
	if runner.probes != 0 {
		t.Errorf("playlist probe ran %d times for a Spotify source, want 0", runner.probes)
	}
}

func TestChain_BuildSpotdlArgs(t *testing.T) {
	chain := NewChain(nil, nil, nil, config.PolicySkip, zerolog.Nop())
	s := config.Strategy{Name: "spotdl", Tool: "spotdl"}

	req := domain.NewRequest("https://open.spotify.com/track/abc",
		domain.MediaFormat{Kind: domain.KindAudio, Quality: "192"}, 1, "")
	args := chain.buildArgs(req, s, "/scratch")

	if args[0] != "download" || args[1] != req.URL {
		t.Fatalf("args = %v, want download followed by the URL", args)
	}
	for _, w := range []string{"--output", "/scratch", "--format", "mp3", "--bitrate", "192k", "--no-cache"} {
		if !slices.Contains(args, w) {
			t.Errorf("args missing %q: %v", w, args)
		}
	}

	best := domain.NewRequest("https://open.spotify.com/track/abc",
		domain.MediaFormat{Kind: domain.KindAudio, Quality: "best"}, 1, "")
	if args := chain.buildArgs(best, s, "/scratch"); !slices.Contains(args, "320k") {
		t.Errorf("best quality should pin the top bitrate: %v", args)
	}
}

func TestCollectArtifacts_SkipsPartialAndEmpty(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "b.mp3", "bb")
	writeFile(t, dir, "a.mp3", "aa")
	writeFile(t, dir, "a.mp3.part", "in flight")
	writeFile(t, dir, "frag.ytdl", "state")
	writeFile(t, dir, "zero.mp3", "")

	artifacts, err := collectArtifacts(dir)
	if err != nil {
		t.Fatalf("collectArtifacts() error: %v", err)
	}
	if len(artifacts) != 2 {
		t.Fatalf("got %d artifacts, want 2: %+v", len(artifacts), artifacts)
	}
	if artifacts[0].Name != "a.mp3" || artifacts[1].Name != "b.mp3" {
		t.Errorf("artifacts not sorted by name: %+v", artifacts)
	}
}

func TestMultiTrack(t *testing.T) {
	tests := []struct {
		url  string
		want bool
	}{
		{"https://www.youtube.com/watch?v=abc", false},
		{"https://www.youtube.com/watch?v=abc&list=PLxyz", true},
		{"https://www.youtube.com/playlist?list=PLxyz", true},
		{"https://music.example.com/album/123", true},
		{"https://soundcloud.com/artist/sets/mixtape", true},
		{"https://soundcloud.com/artist/track", false},
	}
	for _, tt := range tests {
		if got := MultiTrack(tt.url); got != tt.want {
			t.Errorf("MultiTrack(%q) = %v, want %v", tt.url, got, tt.want)
		}
	}
}

func TestSpotifyURL(t *testing.T) {
	tests := []struct {
		url  string
		want bool
	}{
		{"https://open.spotify.com/track/3n3Ppam7vgaVa1iaRUc9Lp", true},
		{"https://open.spotify.com/album/6QaVfG1pHYl1z15ZxkvVDW", true},
		{"https://open.spotify.com/playlist/37i9dQZF1DXcBWIGoYBM5M", true},
		{"https://open.spotify.com/artist/0OdUWJ0sBjDrqHygGUXeCF", true},
		{"https://www.youtube.com/watch?v=abc", false},
		{"https://example.com/open.spotify.com/track/x", false},
	}
	for _, tt := range tests {
		if got := SpotifyURL(tt.url); got != tt.want {
			t.Errorf("SpotifyURL(%q) = %v, want %v", tt.url, got, tt.want)
		}
	}
}
