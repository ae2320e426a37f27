package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Fixed width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// Store keeps a durable history of jobs and their events.
// The in-memory pool stays authoritative for live jobs.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db, now: func() time.Time { return time.Now().UTC() }}
}

// Record upserts the latest snapshot of j.
func (s *Store) Record(ctx context.Context, j Job) error {
	now := s.now().Format(timeLayout)
	var clipStart, clipEnd any
	if j.Clip != nil {
		clipStart, clipEnd = j.Clip.Start, j.Clip.End
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO jobs (id, url, family, quality, container, clip_start, clip_end, status, progress, error, output_path,
                  created_at, updated_at, started_at, finished_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
  status = excluded.status,
  progress = excluded.progress,
  error = excluded.error,
  output_path = excluded.output_path,
  updated_at = excluded.updated_at,
  started_at = excluded.started_at,
  finished_at = excluded.finished_at
`, j.ID, j.URL, j.Family, j.Quality, j.Container, clipStart, clipEnd, j.Status, j.Progress,
		nullString(j.Error), nullString(j.OutputPath),
		j.CreatedAt.UTC().Format(timeLayout), now, formatTime(j.StartedAt), formatTime(j.FinishedAt))
	return err
}

const jobColumns = `id, url, family, quality, container, clip_start, clip_end, status, progress, error, output_path,
       created_at, started_at, finished_at`

func (s *Store) GetJob(ctx context.Context, id string) (*Job, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id)
	j, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return j, err
}

// ListJobs returns the most recent jobs first, optionally filtered by status.
func (s *Store) ListJobs(ctx context.Context, status string, limit int) ([]Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs`
	args := []any{}
	where := []string{}
	if status != "" {
		where = append(where, "status = ?")
		args = append(args, status)
	}
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC, id DESC"
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *j)
	}
	return out, rows.Err()
}

func (s *Store) AddEvent(ctx context.Context, jobID, level, msg string) error {
	now := s.now().Format(timeLayout)
	_, err := s.db.ExecContext(ctx, `
INSERT INTO job_events (job_id, level, message, created_at) VALUES (?, ?, ?, ?)
`, jobID, level, msg, now)
	return err
}

// ListEvents returns formatted history lines, newest first.
func (s *Store) ListEvents(ctx context.Context, jobID string, limit int) ([]string, error) {
	query := `SELECT created_at || ' ' || level || ' ' || message FROM job_events WHERE job_id = ? ORDER BY id DESC`
	args := []any{jobID}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var line string
		if err := rows.Scan(&line); err != nil {
			return nil, err
		}
		out = append(out, line)
	}
	return out, rows.Err()
}

// Purge deletes terminal jobs finished before cutoff together with their events.
func (s *Store) Purge(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
DELETE FROM jobs WHERE status IN (?, ?) AND finished_at IS NOT NULL AND finished_at < ?
`, StatusCompleted, StatusFailed, cutoff.UTC().Format(timeLayout))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*Job, error) {
	var (
		j                        Job
		quality, errMsg, outPath sql.NullString
		clipStart, clipEnd       sql.NullString
		createdAt                string
		startedAt, finishedAt    sql.NullString
	)
	if err := row.Scan(&j.ID, &j.URL, &j.Family, &quality, &j.Container, &clipStart, &clipEnd, &j.Status,
		&j.Progress, &errMsg, &outPath, &createdAt, &startedAt, &finishedAt); err != nil {
		return nil, err
	}
	j.Quality = quality.String
	j.Error = errMsg.String
	j.OutputPath = outPath.String
	if clipStart.Valid && clipEnd.Valid {
		j.Clip = &ClipRange{Start: clipStart.String, End: clipEnd.String}
	}
	t, err := time.Parse(timeLayout, createdAt)
	if err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	j.CreatedAt = t
	j.StartedAt = parseTime(startedAt)
	j.FinishedAt = parseTime(finishedAt)
	if j.Status == StatusCompleted {
		j.Filename = DownloadName(j)
	}
	return &j, nil
}

func nullString(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func formatTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Format(timeLayout)
}

func parseTime(v sql.NullString) *time.Time {
	if !v.Valid {
		return nil
	}
	t, err := time.Parse(timeLayout, v.String)
	if err != nil {
		return nil
	}
	return &t
}
