// Package jobs records submitted pipeline runs. A submitted document is a
// frozen copy: later edits in the builder never reach it.
package jobs

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/interloop-de/forecast-in-a-box-sub001/internal/fable"
	"github.com/interloop-de/forecast-in-a-box-sub001/internal/log"
	"github.com/interloop-de/forecast-in-a-box-sub001/internal/storage"
)

type Status string

const (
	StatusSubmitted Status = "submitted"
)

var ErrJobNotFound = errors.New("job not found")

// Job is a submitted pipeline with its metadata.
type Job struct {
	ID               string            `json:"id"`
	Name             string            `json:"name"`
	Description      string            `json:"description"`
	Tags             []string          `json:"tags"`
	Environment      map[string]string `json:"environment"`
	Fable            *fable.Builder    `json:"fable"`
	FableFingerprint string            `json:"fable_fingerprint"`
	Status           Status            `json:"status"`
	CreatedAt        time.Time         `json:"created_at"`
}

// SubmitRequest is the job submission payload.
type SubmitRequest struct {
	Fable       *fable.Builder    `json:"fable"`
	Name        string            `json:"name"`
	Description string            `json:"description"`
	Tags        []string          `json:"tags"`
	Environment map[string]string `json:"environment"`
}

type Queue struct {
	db *sql.DB
}

func New(db *sql.DB) *Queue {
	return &Queue{db: db}
}

// Submit stores a copy of req.Fable and returns the new job id.
func (q *Queue) Submit(ctx context.Context, req SubmitRequest) (string, error) {
	if req.Fable == nil {
		return "", fmt.Errorf("fable is empty")
	}
	if req.Name == "" {
		return "", fmt.Errorf("job name is empty")
	}

	frozen := req.Fable.Clone()
	body, err := json.Marshal(frozen)
	if err != nil {
		return "", fmt.Errorf("marshal fable: %w", err)
	}
	fp, err := frozen.Fingerprint()
	if err != nil {
		return "", err
	}
	tags, err := json.Marshal(orEmpty(req.Tags))
	if err != nil {
		return "", fmt.Errorf("marshal tags: %w", err)
	}
	env := req.Environment
	if env == nil {
		env = map[string]string{}
	}
	envJSON, err := json.Marshal(env)
	if err != nil {
		return "", fmt.Errorf("marshal environment: %w", err)
	}

	id := uuid.NewString()
	_, err = q.db.ExecContext(ctx, `
INSERT INTO jobs(id, name, description, tags, environment, fable, fable_fingerprint, status, created_at)
VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?);
`, id, req.Name, req.Description, string(tags), string(envJSON), string(body), fp, StatusSubmitted, storage.FormatTime(time.Now()))
	if err != nil {
		return "", fmt.Errorf("submit job: %w", err)
	}
	log.WithJob(id).Debug("job recorded", "name", req.Name, "fingerprint", fp)
	return id, nil
}

const jobColumns = `id, name, description, tags, environment, fable, fable_fingerprint, status, created_at`

// Get returns one job or ErrJobNotFound.
func (q *Queue) Get(ctx context.Context, id string) (*Job, error) {
	row := q.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?;`, id)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	return job, err
}

// List returns the newest jobs first.
func (q *Queue) List(ctx context.Context, limit int) ([]*Job, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := q.db.QueryContext(ctx, `SELECT `+jobColumns+` FROM jobs ORDER BY created_at DESC, rowid DESC LIMIT ?;`, limit)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	out := []*Job{}
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, job)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanJob(row scanner) (*Job, error) {
	var (
		job                        Job
		tags, env, body, createdAt string
	)
	if err := row.Scan(&job.ID, &job.Name, &job.Description, &tags, &env, &body, &job.FableFingerprint, &job.Status, &createdAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan job: %w", err)
	}
	if err := json.Unmarshal([]byte(tags), &job.Tags); err != nil {
		return nil, fmt.Errorf("decode tags of job %s: %w", job.ID, err)
	}
	if err := json.Unmarshal([]byte(env), &job.Environment); err != nil {
		return nil, fmt.Errorf("decode environment of job %s: %w", job.ID, err)
	}
	doc := fable.New()
	if err := json.Unmarshal([]byte(body), doc); err != nil {
		return nil, fmt.Errorf("decode fable of job %s: %w", job.ID, err)
	}
	job.Fable = doc.Clone()
	job.Tags = orEmpty(job.Tags)
	ts, err := storage.ParseTime(createdAt)
	if err != nil {
		return nil, fmt.Errorf("parse created_at of job %s: %w", job.ID, err)
	}
	job.CreatedAt = ts
	return &job, nil
}

func orEmpty(tags []string) []string {
	if tags == nil {
		return []string{}
	}
	return tags
}
