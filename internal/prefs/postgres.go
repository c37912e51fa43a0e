package prefs

import (
	"context"
	"fmt"

	"github.com/lib/pq"

	"github.com/examforge/recommender/pkg/errors"
	"github.com/examforge/recommender/pkg/postgres"
)

// PostgresRepository persists preference entries in PostgreSQL.
//
// It requires a `user_preference_scores` table:
//
//	CREATE TABLE user_preference_scores (
//	    user_id       TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
//	    tag           TEXT NOT NULL,
//	    score         DOUBLE PRECISION NOT NULL,
//	    added_by_user BOOLEAN NOT NULL,
//	    PRIMARY KEY (user_id, tag, added_by_user)
//	);
type PostgresRepository struct {
	db *postgres.Client
}

// NewPostgresRepository creates a PostgresRepository.
func NewPostgresRepository(db *postgres.Client) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) UserExists(ctx context.Context, userID string) error {
	var exists bool
	err := r.db.DB.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM users WHERE id = $1)`, userID,
	).Scan(&exists)
	if err != nil {
		return fmt.Errorf("checking user %s: %w", userID, err)
	}
	if !exists {
		return errors.Newf(errors.ErrUserNotFound, 404, "user %s", userID)
	}
	return nil
}

func (r *PostgresRepository) Entries(ctx context.Context, userID string) ([]Entry, error) {
	rows, err := r.db.DB.QueryContext(ctx,
		`SELECT tag, score, added_by_user
		   FROM user_preference_scores
		  WHERE user_id = $1
		  ORDER BY tag, added_by_user`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("querying preference entries: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.Tag, &e.Score, &e.AddedByUser); err != nil {
			return nil, fmt.Errorf("scanning preference entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (r *PostgresRepository) Upsert(ctx context.Context, userID, tag string, addedByUser bool, createScore, increment float64) error {
	_, err := r.db.DB.ExecContext(ctx,
		`INSERT INTO user_preference_scores (user_id, tag, score, added_by_user)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (user_id, tag, added_by_user)
		 DO UPDATE SET score = user_preference_scores.score + $5`,
		userID, tag, createScore, addedByUser, increment,
	)
	if err != nil {
		return fmt.Errorf("upserting preference (%s, %s): %w", userID, tag, err)
	}
	return nil
}

func (r *PostgresRepository) DeleteDeclaredExcept(ctx context.Context, userID string, keep []string) error {
	_, err := r.db.DB.ExecContext(ctx,
		`DELETE FROM user_preference_scores
		  WHERE user_id = $1
		    AND added_by_user
		    AND NOT (tag = ANY($2))`,
		userID, pq.Array(keep),
	)
	if err != nil {
		return fmt.Errorf("pruning declared tags for %s: %w", userID, err)
	}
	return nil
}
