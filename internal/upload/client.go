// Package upload pushes archives to a pixeldrain-style object store and
// retries transient failures with capped, jittered backoff.
package upload

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"trackdrop/internal/domain"
)

// ErrPermanent marks store rejections that retrying cannot fix (auth,
// quota, oversized payload). Surfaced to the job as a fatal delivery
// failure.
var ErrPermanent = errors.New("upload: permanent rejection")

// Options configures the client.
type Options struct {
	BaseURL    string
	APIKey     string
	Attempts   int
	Backoff    time.Duration
	MaxBackoff time.Duration
	Timeout    time.Duration
}

// DefaultOptions returns options with sensible defaults.
func DefaultOptions() Options {
	return Options{
		BaseURL:    "https://pixeldrain.com",
		Attempts:   4,
		Backoff:    time.Second,
		MaxBackoff: 30 * time.Second,
		Timeout:    10 * time.Minute,
	}
}

// Client uploads archives to the object store.
type Client struct {
	httpc *http.Client
	opts  Options
	log   zerolog.Logger
}

// NewClient creates a Client.
func NewClient(opts Options, log zerolog.Logger) *Client {
	if opts.Attempts <= 0 {
		opts.Attempts = DefaultOptions().Attempts
	}
	if opts.Backoff <= 0 {
		opts.Backoff = DefaultOptions().Backoff
	}
	if opts.MaxBackoff <= 0 {
		opts.MaxBackoff = DefaultOptions().MaxBackoff
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

type uploadResponse struct {
	Success bool   `json:"success"`
	ID      string `json:"id"`
	Value   string `json:"value"`
	Message string `json:"message"`
}

type fileInfo struct {
	Success bool   `json:"success"`
	ID      string `json:"id"`
	Name    string `json:"name"`
	Size    int64  `json:"size"`
}

// Upload pushes the archive and returns a retrievable link. The uploaded
// size is verified against the local archive before success is declared; a
// mismatch counts as a transient failure and is retried.
func (c *Client) Upload(ctx context.Context, ar *domain.Archive) (*domain.UploadResult, error) {
	var lastErr error

	for attempt := 0; attempt < c.opts.Attempts; attempt++ {
		if attempt > 0 {
			if err := c.backoff(ctx, attempt); err != nil {
				return nil, err
			}
			c.log.Warn().Int("attempt", attempt+1).Err(lastErr).Msg("retrying upload")
		}

		res, err := c.tryUpload(ctx, ar)
		if err == nil {
			return res, nil
		}
		if errors.Is(err, ErrPermanent) || ctx.Err() != nil {
			return nil, err
		}
		lastErr = err
	}

	return nil, fmt.Errorf("upload failed after %d attempts: %w", c.opts.Attempts, lastErr)
}

func (c *Client) tryUpload(ctx context.Context, ar *domain.Archive) (*domain.UploadResult, error) {
	f, err := os.Open(ar.Path)
	if err != nil {
		return nil, fmt.Errorf("%w: open archive: %v", ErrPermanent, err)
	}
	defer f.Close()

	endpoint := fmt.Sprintf("%s/api/file/%s", c.opts.BaseURL, url.PathEscape(archiveName(ar)))
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, endpoint, f)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.ContentLength = ar.Size
	req.Header.Set("Content-Type", "application/octet-stream")
	if c.opts.APIKey != "" {
		req.SetBasicAuth("", c.opts.APIKey)
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("put: %w", err)
	}
	defer resp.Body.Close()

	if err := classifyStatus(resp.StatusCode); err != nil {
		return nil, err
	}

	var ur uploadResponse
	if err := json.NewDecoder(resp.Body).Decode(&ur); err != nil {
		return nil, fmt.Errorf("decode upload response: %w", err)
	}
	if ur.ID == "" {
		return nil, fmt.Errorf("upload response missing id (%s: %s)", ur.Value, ur.Message)
	}

	if err := c.verifySize(ctx, ur.ID, ar.Size); err != nil {
		return nil, err
	}

	link := fmt.Sprintf("%s/u/%s", c.opts.BaseURL, ur.ID)
	c.log.Info().Str("link", link).Int64("size", ar.Size).Msg("archive uploaded")
	return &domain.UploadResult{Link: link}, nil
}

// verifySize cross-checks the stored object size against the local archive.
func (c *Client) verifySize(ctx context.Context, id string, want int64) error {
	endpoint := fmt.Sprintf("%s/api/file/%s/info", c.opts.BaseURL, url.PathEscape(id))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("create info request: %w", err)
	}
	if c.opts.APIKey != "" {
		req.SetBasicAuth("", c.opts.APIKey)
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("info: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		// Store does not expose metadata for this object; accept the upload
		// rather than fail a delivery we cannot double-check.
		c.log.Warn().Int("status", resp.StatusCode).Msg("size verification unavailable")
		return nil
	}

	var info fileInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return fmt.Errorf("decode info response: %w", err)
	}
	if info.Size != want {
		return fmt.Errorf("uploaded size %d does not match local %d", info.Size, want)
	}
	return nil
}

func classifyStatus(code int) error {
	switch {
	case code >= 200 && code < 300:
		return nil
	case code == http.StatusUnauthorized,
		code == http.StatusForbidden,
		code == http.StatusRequestEntityTooLarge,
		code == http.StatusUnprocessableEntity:
		return fmt.Errorf("%w: status %d", ErrPermanent, code)
	default:
		return fmt.Errorf("transient status %d", code)
	}
}

// backoff waits for an exponentially increasing duration with jitter.
func (c *Client) backoff(ctx context.Context, attempt int) error {
	d := c.opts.Backoff * time.Duration(1<<uint(attempt-1))
	if d > c.opts.MaxBackoff {
		d = c.opts.MaxBackoff
	}
	jitter := time.Duration(float64(d) * (0.5 + rand.Float64()))

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(jitter):
		return nil
	}
}

func archiveName(ar *domain.Archive) string {
	return filepath.Base(ar.Path)
}
