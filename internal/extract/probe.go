package extract

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/rs/zerolog"
)

// Prober asks yt-dlp about a source without downloading anything.
type Prober struct {
	runner Runner
	log    zerolog.Logger
}

// NewProber creates a Prober.
func NewProber(runner Runner, log zerolog.Logger) *Prober {
	return &Prober{runner: runner, log: log}
}

// PlaylistSize returns the number of entries in a catalog-style source.
func (p *Prober) PlaylistSize(ctx context.Context, url string) (int, error) {
	count := 0
	err := p.runner.Run(ctx, "", "yt-dlp",
		[]string{"--flat-playlist", "--print", "%(id)s", url},
		func(line string) {
			if strings.TrimSpace(line) != "" {
				count++
			}
		})
	if err != nil {
		return 0, fmt.Errorf("playlist probe: %w", err)
	}
	return count, nil
}

type probeFormat struct {
	Height int `json:"height"`
}

type probeInfo struct {
	Formats []probeFormat `json:"formats"`
}

// Resolutions returns the distinct video heights available for a source,
// ascending. Used to build the quality selection menu.
func (p *Prober) Resolutions(ctx context.Context, url string) ([]int, error) {
	var raw strings.Builder
	err := p.runner.Run(ctx, "", "yt-dlp",
		[]string{"-j", "--no-playlist", url},
		func(line string) { raw.WriteString(line) })
	if err != nil {
		return nil, fmt.Errorf("format probe: %w", err)
	}

	var info probeInfo
	if err := json.Unmarshal([]byte(raw.String()), &info); err != nil {
		return nil, fmt.Errorf("parse format probe: %w", err)
	}

	seen := make(map[int]bool)
	var heights []int
	for _, f := range info.Formats {
		if f.Height > 0 && !seen[f.Height] {
			seen[f.Height] = true
			heights = append(heights, f.Height)
		}
	}
	sort.Ints(heights)
	return heights, nil
}
