// Package sqlite persists job history: every request, its state
// transitions, and the terminal outcome.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"trackdrop/internal/domain"
)

const schema = `
CREATE TABLE IF NOT EXISTS jobs (
    id         TEXT PRIMARY KEY,
    chat_id    INTEGER NOT NULL,
    url        TEXT NOT NULL,
    format     TEXT NOT NULL,
    state      TEXT NOT NULL,
    error      TEXT,
    link       TEXT,
    created_at DATETIME,
    updated_at DATETIME
);
CREATE INDEX IF NOT EXISTS idx_jobs_state ON jobs(state);
`

// Repository implements domain.JobRepository using SQLite.
type Repository struct {
	db *sql.DB
}

// New opens the database at dbPath, initializing the schema if needed.
func New(dbPath string) (*Repository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, err
	}
	return &Repository{db: db}, nil
}

// Close closes the database connection.
func (r *Repository) Close() error {
	return r.db.Close()
}

// Create inserts a new job row.
func (r *Repository) Create(ctx context.Context, job *domain.Job) error {
	now := time.Now()
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO jobs (id, chat_id, url, format, state, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		job.Request.ID, job.Request.ChatID, job.Request.URL,
		job.Request.Format.String(), job.State, now, now,
	)
	return err
}

// SetState records a state transition.
func (r *Repository) SetState(ctx context.Context, id string, state domain.JobState) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE jobs SET state = ?, updated_at = ? WHERE id = ?`,
		state, time.Now(), id,
	)
	return err
}

// Finish records the terminal state with the user-visible error (for
// failed) or the delivery link (for archived deliveries).
func (r *Repository) Finish(ctx context.Context, id string, state domain.JobState, errMsg, link string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE jobs SET state = ?, error = ?, link = ?, updated_at = ? WHERE id = ?`,
		state, errMsg, link, time.Now(), id,
	)
	return err
}

// MarkInterrupted closes out rows left non-terminal by a previous run.
// Their scratch directories are gone, so they can only be reported, not
// resumed.
func (r *Repository) MarkInterrupted(ctx context.Context) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE jobs SET state = ?, error = 'interrupted by restart', updated_at = ?
		 WHERE state NOT IN (?, ?)`,
		domain.StateFailed, time.Now(), domain.StateDelivered, domain.StateFailed,
	)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// CountByState returns the number of jobs in the given state.
func (r *Repository) CountByState(ctx context.Context, state domain.JobState) (int64, error) {
	var n int64
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM jobs WHERE state = ?`, state).Scan(&n)
	return n, err
}

// JobRecord is a stored job row.
type JobRecord struct {
	ID        string
	ChatID    int64
	URL       string
	Format    string
	State     domain.JobState
	Error     string
	Link      string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Get retrieves one job row.
func (r *Repository) Get(ctx context.Context, id string) (*JobRecord, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT id, chat_id, url, format, state, COALESCE(error, ''), COALESCE(link, ''),
		        created_at, updated_at
		 FROM jobs WHERE id = ?`, id)

	var rec JobRecord
	var state string
	err := row.Scan(&rec.ID, &rec.ChatID, &rec.URL, &rec.Format, &state,
		&rec.Error, &rec.Link, &rec.CreatedAt, &rec.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("job %s not found", id)
	}
	if err != nil {
		return nil, err
	}
	rec.State = domain.JobState(state)
	return &rec, nil
}
