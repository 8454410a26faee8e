// Package catalog queries the catalog metadata API for titles and track
// counts, enriching status messages without spawning the extraction tool.
package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"time"

	"github.com/rs/zerolog"

	"trackdrop/internal/domain"
)

// ErrUnknownSource reports a URL the catalog cannot describe.
var ErrUnknownSource = errors.New("catalog: source not recognized")

var (
	reListID  = regexp.MustCompile(`[?&]list=([A-Za-z0-9_-]+)`)
	reVideoID = regexp.MustCompile(`(?:[?&]v=|youtu\.be/)([A-Za-z0-9_-]+)`)
)

// Options configures the client.
type Options struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// DefaultOptions returns options pointing at the public API.
func DefaultOptions() Options {
	return Options{
		BaseURL: "https://www.googleapis.com/youtube/v3",
		Timeout: 10 * time.Second,
	}
}

// Client implements domain.Catalog against the YouTube Data API v3.
type Client struct {
	httpc *http.Client
	opts  Options
	log   zerolog.Logger
}

// NewClient creates a Client.
func NewClient(opts Options, log zerolog.Logger) *Client {
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultOptions().BaseURL
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultOptions().Timeout
	}
	return &Client{
		httpc: &http.Client{Timeout: opts.Timeout},
		opts:  opts,
		log:   log,
	}
}

type snippet struct {
	Title        string `json:"title"`
	ChannelTitle string `json:"channelTitle"`
}

type contentDetails struct {
	ItemCount int `json:"itemCount"`
}

type listItem struct {
	Snippet        snippet        `json:"snippet"`
	ContentDetails contentDetails `json:"contentDetails"`
}

type listResponse struct {
	Items []listItem `json:"items"`
}

// Describe resolves metadata for a video or playlist URL. Playlist URLs win
// over video URLs when both IDs are present, matching extraction behavior.
func (c *Client) Describe(ctx context.Context, rawURL string) (*domain.SourceInfo, error) {
	if m := reListID.FindStringSubmatch(rawURL); m != nil {
		return c.playlistInfo(ctx, m[1])
	}
	if m := reVideoID.FindStringSubmatch(rawURL); m != nil {
		return c.videoInfo(ctx, m[1])
	}
	return nil, ErrUnknownSource
}

func (c *Client) videoInfo(ctx context.Context, id string) (*domain.SourceInfo, error) {
	item, err := c.lookup(ctx, "videos", "snippet,contentDetails", id)
	if err != nil {
		return nil, err
	}
	return &domain.SourceInfo{
		Title:   item.Snippet.Title,
		Channel: item.Snippet.ChannelTitle,
		Tracks:  1,
	}, nil
}

func (c *Client) playlistInfo(ctx context.Context, id string) (*domain.SourceInfo, error) {
	item, err := c.lookup(ctx, "playlists", "snippet,contentDetails", id)
	if err != nil {
		return nil, err
	}
	return &domain.SourceInfo{
		Title:   item.Snippet.Title,
		Channel: item.Snippet.ChannelTitle,
		Tracks:  item.ContentDetails.ItemCount,
	}, nil
}

func (c *Client) lookup(ctx context.Context, resource, part, id string) (*listItem, error) {
	q := url.Values{}
	q.Set("part", part)
	q.Set("id", id)
	q.Set("key", c.opts.APIKey)
	endpoint := fmt.Sprintf("%s/%s?%s", c.opts.BaseURL, resource, q.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("catalog: create request: %w", err)
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("catalog: %s: %w", resource, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("catalog: %s returned status %d", resource, resp.StatusCode)
	}

	var lr listResponse
	if err := json.NewDecoder(resp.Body).Decode(&lr); err != nil {
		return nil, fmt.Errorf("catalog: decode %s response: %w", resource, err)
	}
	if len(lr.Items) == 0 {
		return nil, fmt.Errorf("catalog: %s %s not found", resource, id)
	}
	return &lr.Items[0], nil
}
