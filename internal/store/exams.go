// Package store provides PostgreSQL-backed access to the platform's exams,
// questions, and users. The recommendation core consumes these stores through
// narrow fetch/exists contracts; CRUD administration lives elsewhere in the
// platform.
package store

import (
	"context"
	"database/sql"
	goerrors "errors"
	"fmt"
	"strings"

	"github.com/lib/pq"

	"github.com/examforge/recommender/pkg/errors"
	"github.com/examforge/recommender/pkg/postgres"
)

// Exam is a purchasable exam with its recommendation-relevant fields.
//
// Backing table:
//
//	CREATE TABLE exams (
//	    id          TEXT PRIMARY KEY,
//	    title       TEXT NOT NULL,
//	    description TEXT NOT NULL DEFAULT '',
//	    tags        TEXT[] NOT NULL DEFAULT '{}',
//	    created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
//	);
type Exam struct {
	ID          string   `json:"id"`
	Title       string   `json:"title"`
	Description string   `json:"description,omitempty"`
	Tags        []string `json:"tags"`
}

// EntityID returns the exam id.
func (e Exam) EntityID() string { return e.ID }

// EntityTags returns the exam's tags.
func (e Exam) EntityTags() []string { return e.Tags }

// Document returns the exam's corpus text: title, description, and tags,
// space-separated.
func (e Exam) Document() string {
	parts := make([]string, 0, 2+len(e.Tags))
	parts = append(parts, e.Title)
	if e.Description != "" {
		parts = append(parts, e.Description)
	}
	parts = append(parts, e.Tags...)
	return strings.Join(parts, " ")
}

// ExamStore reads exams from PostgreSQL.
type ExamStore struct {
	db *postgres.Client
}

// NewExamStore creates an ExamStore.
func NewExamStore(db *postgres.Client) *ExamStore {
	return &ExamStore{db: db}
}

// FetchAll returns every exam in insertion order. The order is stable across
// calls, which keeps corpus positions reproducible between index rebuilds
// over an unchanged catalog.
func (s *ExamStore) FetchAll(ctx context.Context) ([]Exam, error) {
	rows, err := s.db.DB.QueryContext(ctx,
		`SELECT id, title, description, tags FROM exams ORDER BY created_at, id`,
	)
	if err != nil {
		return nil, fmt.Errorf("fetching exams: %w", err)
	}
	defer rows.Close()

	var exams []Exam
	for rows.Next() {
		var e Exam
		if err := rows.Scan(&e.ID, &e.Title, &e.Description, pq.Array(&e.Tags)); err != nil {
			return nil, fmt.Errorf("scanning exam row: %w", err)
		}
		exams = append(exams, e)
	}
	return exams, rows.Err()
}

// Get returns one exam, or errors.ErrExamNotFound.
func (s *ExamStore) Get(ctx context.Context, id string) (Exam, error) {
	var e Exam
	err := s.db.DB.QueryRowContext(ctx,
		`SELECT id, title, description, tags FROM exams WHERE id = $1`, id,
	).Scan(&e.ID, &e.Title, &e.Description, pq.Array(&e.Tags))
	if goerrors.Is(err, sql.ErrNoRows) {
		return Exam{}, errors.Newf(errors.ErrExamNotFound, 404, "exam %s", id)
	}
	if err != nil {
		return Exam{}, fmt.Errorf("fetching exam %s: %w", id, err)
	}
	return e, nil
}
