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

// Question is a community question with its recommendation-relevant fields.
//
// Backing table:
//
//	CREATE TABLE questions (
//	    id         TEXT PRIMARY KEY,
//	    question   TEXT NOT NULL,
//	    tags       TEXT[] NOT NULL DEFAULT '{}',
//	    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
//	);
type Question struct {
	ID       string   `json:"id"`
	Question string   `json:"question"`
	Tags     []string `json:"tags"`
}

// EntityID returns the question id.
func (q Question) EntityID() string { return q.ID }

// EntityTags returns the question's tags.
func (q Question) EntityTags() []string { return q.Tags }

// Document returns the question's corpus text: question text and tags,
// space-separated.
func (q Question) Document() string {
	parts := make([]string, 0, 1+len(q.Tags))
	parts = append(parts, q.Question)
	parts = append(parts, q.Tags...)
	return strings.Join(parts, " ")
}

// QuestionStore reads questions from PostgreSQL.
type QuestionStore struct {
	db *postgres.Client
}

// NewQuestionStore creates a QuestionStore.
func NewQuestionStore(db *postgres.Client) *QuestionStore {
	return &QuestionStore{db: db}
}

// FetchAll returns every question in insertion order.
func (s *QuestionStore) FetchAll(ctx context.Context) ([]Question, error) {
	rows, err := s.db.DB.QueryContext(ctx,
		`SELECT id, question, tags FROM questions ORDER BY created_at, id`,
	)
	if err != nil {
		return nil, fmt.Errorf("fetching questions: %w", err)
	}
	defer rows.Close()

	var questions []Question
	for rows.Next() {
		var q Question
		if err := rows.Scan(&q.ID, &q.Question, pq.Array(&q.Tags)); err != nil {
			return nil, fmt.Errorf("scanning question row: %w", err)
		}
		questions = append(questions, q)
	}
	return questions, rows.Err()
}

// Get returns one question, or errors.ErrQuestionNotFound.
func (s *QuestionStore) Get(ctx context.Context, id string) (Question, error) {
	var q Question
	err := s.db.DB.QueryRowContext(ctx,
		`SELECT id, question, tags FROM questions WHERE id = $1`, id,
	).Scan(&q.ID, &q.Question, pq.Array(&q.Tags))
	if goerrors.Is(err, sql.ErrNoRows) {
		return Question{}, errors.Newf(errors.ErrQuestionNotFound, 404, "question %s", id)
	}
	if err != nil {
		return Question{}, fmt.Errorf("fetching question %s: %w", id, err)
	}
	return q, nil
}
