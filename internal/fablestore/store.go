// Package fablestore persists named pipeline documents.
package fablestore

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

// DefaultMaxFableBytes caps the stored JSON of one document.
const DefaultMaxFableBytes = 1 << 20

var ErrFableNotFound = errors.New("fable not found")

// ErrFableTooLarge is returned when the encoded document exceeds the limit.
var ErrFableTooLarge = errors.New("fable too large")

// Record is a saved fable.
type Record struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Fable     *fable.Builder `json:"fable"`
	Tags      []string       `json:"tags"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// Summary is a Record without its document, for listings.
type Summary struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Tags        []string  `json:"tags"`
	Blocks      int       `json:"blocks"`
	Fingerprint string    `json:"fingerprint"`
	UpdatedAt   time.Time `json:"updated_at"`
}

type Store struct {
	db       *sql.DB
	maxBytes int
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db, maxBytes: DefaultMaxFableBytes}
}

// Create saves a new document and returns its record.
func (s *Store) Create(ctx context.Context, name string, doc *fable.Builder, tags []string) (*Record, error) {
	if name == "" {
		return nil, fmt.Errorf("fable name is empty")
	}
	body, fp, err := s.encode(doc)
	if err != nil {
		return nil, err
	}
	tagsJSON, err := json.Marshal(nonNil(tags))
	if err != nil {
		return nil, fmt.Errorf("marshal tags: %w", err)
	}

	id := uuid.NewString()
	now := time.Now().UTC()
	nowS := storage.FormatTime(now)
	_, err = s.db.ExecContext(ctx, `
INSERT INTO fables(id, name, fable, tags, fingerprint, created_at, updated_at)
VALUES(?, ?, ?, ?, ?, ?, ?);
`, id, name, string(body), string(tagsJSON), fp, nowS, nowS)
	if err != nil {
		return nil, fmt.Errorf("insert fable: %w", err)
	}
	log.WithFable(id).Debug("fable stored", "fingerprint", fp)
	return &Record{ID: id, Name: name, Fable: doc.Clone(), Tags: nonNil(tags), CreatedAt: now, UpdatedAt: now}, nil
}

// Get returns a saved fable or ErrFableNotFound.
func (s *Store) Get(ctx context.Context, id string) (*Record, error) {
	var (
		rec                  Record
		body, tags           string
		createdAt, updatedAt string
	)
	err := s.db.QueryRowContext(ctx, `
SELECT id, name, fable, tags, created_at, updated_at FROM fables WHERE id = ?;
`, id).Scan(&rec.ID, &rec.Name, &body, &tags, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrFableNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("read fable: %w", err)
	}

	doc := fable.New()
	if err := json.Unmarshal([]byte(body), doc); err != nil {
		return nil, fmt.Errorf("stored fable %q is invalid JSON: %w", id, err)
	}
	rec.Fable = doc.Clone()
	if err := json.Unmarshal([]byte(tags), &rec.Tags); err != nil {
		return nil, fmt.Errorf("stored tags for fable %q are invalid JSON: %w", id, err)
	}
	rec.Tags = nonNil(rec.Tags)
	if rec.CreatedAt, err = storage.ParseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	if rec.UpdatedAt, err = storage.ParseTime(updatedAt); err != nil {
		return nil, fmt.Errorf("parse updated_at: %w", err)
	}
	return &rec, nil
}

// Update replaces name, document and tags of an existing fable.
func (s *Store) Update(ctx context.Context, id, name string, doc *fable.Builder, tags []string) (*Record, error) {
	if name == "" {
		return nil, fmt.Errorf("fable name is empty")
	}
	body, fp, err := s.encode(doc)
	if err != nil {
		return nil, err
	}
	tagsJSON, err := json.Marshal(nonNil(tags))
	if err != nil {
		return nil, fmt.Errorf("marshal tags: %w", err)
	}

	res, err := s.db.ExecContext(ctx, `
UPDATE fables SET name = ?, fable = ?, tags = ?, fingerprint = ?, updated_at = ?
WHERE id = ?;
`, name, string(body), string(tagsJSON), fp, storage.FormatTime(time.Now()), id)
	if err != nil {
		return nil, fmt.Errorf("update fable: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return nil, fmt.Errorf("%w: %s", ErrFableNotFound, id)
	}
	return s.Get(ctx, id)
}

// Delete removes a fable. Deleting a missing fable returns ErrFableNotFound.
func (s *Store) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM fables WHERE id = ?;", id)
	if err != nil {
		return fmt.Errorf("delete fable: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %s", ErrFableNotFound, id)
	}
	log.WithFable(id).Debug("fable deleted")
	return nil
}

// List returns saved fables, most recently updated first.
func (s *Store) List(ctx context.Context, limit int) ([]Summary, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT id, name, tags, fingerprint, fable, updated_at
FROM fables ORDER BY updated_at DESC, rowid DESC LIMIT ?;
`, limit)
	if err != nil {
		return nil, fmt.Errorf("list fables: %w", err)
	}
	defer rows.Close()

	out := []Summary{}
	for rows.Next() {
		var (
			sum             Summary
			tags, body, upd string
		)
		if err := rows.Scan(&sum.ID, &sum.Name, &tags, &sum.Fingerprint, &body, &upd); err != nil {
			return nil, fmt.Errorf("scan fable: %w", err)
		}
		if err := json.Unmarshal([]byte(tags), &sum.Tags); err != nil {
			return nil, fmt.Errorf("stored tags for fable %q are invalid JSON: %w", sum.ID, err)
		}
		sum.Tags = nonNil(sum.Tags)
		var doc fable.Builder
		if err := json.Unmarshal([]byte(body), &doc); err != nil {
			return nil, fmt.Errorf("stored fable %q is invalid JSON: %w", sum.ID, err)
		}
		sum.Blocks = len(doc.Blocks)
		if sum.UpdatedAt, err = storage.ParseTime(upd); err != nil {
			return nil, fmt.Errorf("parse updated_at: %w", err)
		}
		out = append(out, sum)
	}
	return out, rows.Err()
}

func (s *Store) encode(doc *fable.Builder) ([]byte, string, error) {
	if doc == nil {
		doc = fable.New()
	}
	body, err := json.Marshal(doc.Clone())
	if err != nil {
		return nil, "", fmt.Errorf("marshal fable: %w", err)
	}
	if len(body) > s.maxBytes {
		return nil, "", fmt.Errorf("%w: %d > %d bytes", ErrFableTooLarge, len(body), s.maxBytes)
	}
	fp, err := doc.Fingerprint()
	if err != nil {
		return nil, "", err
	}
	return body, fp, nil
}

func nonNil(tags []string) []string {
	if tags == nil {
		return []string{}
	}
	return tags
}
