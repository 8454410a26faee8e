package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// duration wraps time.Duration so it can be written as "3s" in TOML.
type duration struct {
	time.Duration
}

func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// Strategy describes one extraction client identity, tried in file order.
// Tool selects the extraction binary; empty means yt-dlp.
type Strategy struct {
	Name         string `toml:"name"`
	Tool         string `toml:"tool"`
	PlayerClient string `toml:"player_client"`
	CookiesFile  string `toml:"cookies_file"`
}

// Telegram holds the update-consumer settings.
type Telegram struct {
	PollTimeout      duration `toml:"poll_timeout"`
	ConflictRetries  int      `toml:"conflict_retries"`
	ConflictBackoff  duration `toml:"conflict_backoff"`
	ProgressInterval duration `toml:"progress_interval"`
}

// Upload holds the object-store client settings.
type Upload struct {
	BaseURL    string   `toml:"base_url"`
	Attempts   int      `toml:"attempts"`
	Backoff    duration `toml:"backoff"`
	MaxBackoff duration `toml:"max_backoff"`
}

// Catalog holds the catalog metadata API settings. The key itself comes
// from the environment.
type Catalog struct {
	BaseURL string `toml:"base_url"`
}

// Config holds application configuration. Credentials come from the
// environment only; everything else from the TOML file with defaults.
type Config struct {
	WorkDir           string     `toml:"work_dir"`
	LockPath          string     `toml:"lock_path"`
	DBPath            string     `toml:"db_path"`
	HealthAddr        string     `toml:"health_addr"`
	MaxConcurrentJobs int        `toml:"max_concurrent_jobs"`
	PlaylistPolicy    string     `toml:"playlist_policy"`
	Telegram          Telegram   `toml:"telegram"`
	Upload            Upload     `toml:"upload"`
	Catalog           Catalog    `toml:"catalog"`
	Strategies        []Strategy `toml:"strategy"`
	SpotifyStrategies []Strategy `toml:"spotify_strategy"`

	BotToken   string `toml:"-"`
	StoreKey   string `toml:"-"`
	CatalogKey string `toml:"-"`
}

// Playlist policies. skip delivers what resolved; strict fails the job when
// any track is unavailable.
const (
	PolicySkip   = "skip"
	PolicyStrict = "strict"
)

// ErrNoBotToken is returned when the chat transport credential is missing.
var ErrNoBotToken = errors.New("TRACKDROP_BOT_TOKEN not set")

func cacheDir() string {
	if dir := os.Getenv("XDG_CACHE_HOME"); dir != "" {
		return filepath.Join(dir, "trackdrop")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".cache", "trackdrop")
}

// DefaultLockPath returns the well-known arbiter lock path.
func DefaultLockPath() string {
	return filepath.Join(cacheDir(), "arbiter.lock")
}

// DefaultDBPath returns the default job history database path.
func DefaultDBPath() string {
	return filepath.Join(cacheDir(), "jobs.db")
}

// Load reads the TOML file at path (missing file means defaults only) and
// applies environment overrides for credentials and paths.
func Load(path string) (*Config, error) {
	cfg := &Config{
		HealthAddr:        ":8764",
		MaxConcurrentJobs: 3,
		PlaylistPolicy:    PolicySkip,
		Telegram: Telegram{
			PollTimeout:      duration{30 * time.Second},
			ConflictRetries:  5,
			ConflictBackoff:  duration{3 * time.Second},
			ProgressInterval: duration{2500 * time.Millisecond},
		},
		Upload: Upload{
			BaseURL:    "https://pixeldrain.com",
			Attempts:   4,
			Backoff:    duration{time.Second},
			MaxBackoff: duration{30 * time.Second},
		},
		Catalog: Catalog{
			BaseURL: "https://www.googleapis.com/youtube/v3",
		},
	}

	if path != "" {
		if _, err := toml.DecodeFile(path, cfg); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if cfg.WorkDir == "" {
		cfg.WorkDir = filepath.Join(os.TempDir(), "trackdrop")
	}
	if cfg.LockPath == "" {
		cfg.LockPath = DefaultLockPath()
	}
	if cfg.DBPath == "" {
		cfg.DBPath = DefaultDBPath()
	}
	if len(cfg.Strategies) == 0 {
		cfg.Strategies = DefaultStrategies()
	}
	if len(cfg.SpotifyStrategies) == 0 {
		cfg.SpotifyStrategies = DefaultSpotifyStrategies()
	}
	if cfg.PlaylistPolicy != PolicySkip && cfg.PlaylistPolicy != PolicyStrict {
		return nil, fmt.Errorf("invalid playlist_policy %q", cfg.PlaylistPolicy)
	}

	// Env overrides
	if v := os.Getenv("TRACKDROP_WORK_DIR"); v != "" {
		cfg.WorkDir = v
	}
	if v := os.Getenv("TRACKDROP_DB"); v != "" {
		cfg.DBPath = v
	}
	cfg.BotToken = os.Getenv("TRACKDROP_BOT_TOKEN")
	cfg.StoreKey = os.Getenv("TRACKDROP_STORE_KEY")
	cfg.CatalogKey = os.Getenv("TRACKDROP_CATALOG_KEY")

	if cfg.BotToken == "" {
		return nil, ErrNoBotToken
	}

	return cfg, nil
}

// DefaultStrategies is the fallback client-identity ladder used when the
// config file does not define any.
func DefaultStrategies() []Strategy {
	return []Strategy{
		{Name: "android-web", PlayerClient: "android,web"},
		{Name: "web-mweb", PlayerClient: "web,mweb"},
		{Name: "android", PlayerClient: "android"},
	}
}

// DefaultSpotifyStrategies is the ladder for catalog-service sources that
// the default tool cannot extract directly.
func DefaultSpotifyStrategies() []Strategy {
	return []Strategy{
		{Name: "spotdl", Tool: "spotdl"},
	}
}
