package extract

import (
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"trackdrop/internal/domain"
)

var (
	reDownloadPct  = regexp.MustCompile(`\[download\]\s+(\d+(?:\.\d+)?)%`)
	rePlaylistItem = regexp.MustCompile(`\[download\] Downloading item (\d+) of (\d+)`)
	reDestination  = regexp.MustCompile(`Destination: (.+)`)
)

// botChallengeMarkers identify anti-automation rejections in yt-dlp output.
// These are the distinguishable error class that advances the strategy
// chain instead of failing the job.
var botChallengeMarkers = []string{
	"Sign in to confirm you're not a bot",
	"HTTP Error 429",
	"Too Many Requests",
}

// unavailableMarkers identify per-track failures on catalog sources.
var unavailableMarkers = []string{
	"Video unavailable",
	"Private video",
	"This video is not available",
	"has been removed",
}

// lineParser folds yt-dlp output lines into progress events and outcome
// classification for one attempt.
type lineParser struct {
	emit func(domain.ProgressEvent)

	botChallenge bool
	unavailable  int
	done         int
	total        int
	current      string
	transcoding  bool
}

func newLineParser(emit func(domain.ProgressEvent)) *lineParser {
	return &lineParser{emit: emit}
}

func (p *lineParser) feed(line string) {
	for _, m := range botChallengeMarkers {
		if strings.Contains(line, m) {
			p.botChallenge = true
			return
		}
	}
	for _, m := range unavailableMarkers {
		if strings.Contains(line, m) {
			p.unavailable++
			return
		}
	}

	if m := rePlaylistItem.FindStringSubmatch(line); m != nil {
		item, _ := strconv.Atoi(m[1])
		total, _ := strconv.Atoi(m[2])
		p.done = item - 1
		p.total = total
		p.emit(domain.ProgressEvent{
			Phase:  domain.PhaseExtracting,
			Done:   p.done,
			Total:  p.total,
			Detail: p.current,
		})
		return
	}

	// Post-processor lines also carry a Destination, so this check runs
	// before the destination capture.
	if strings.Contains(line, "[ExtractAudio]") || strings.Contains(line, "[Merger]") {
		p.transcoding = true
		p.emit(domain.ProgressEvent{
			Phase:         domain.PhaseTranscoding,
			Indeterminate: true,
			Detail:        p.current,
			Done:          p.done,
			Total:         p.total,
		})
		return
	}

	if m := reDestination.FindStringSubmatch(line); m != nil {
		p.current = filepath.Base(strings.TrimSpace(m[1]))
		return
	}

	if m := reDownloadPct.FindStringSubmatch(line); m != nil {
		pct, _ := strconv.ParseFloat(m[1], 64)
		p.emit(domain.ProgressEvent{
			Phase:   domain.PhaseExtracting,
			Percent: pct,
			Detail:  p.current,
			Done:    p.done,
			Total:   p.total,
		})
	}
}
