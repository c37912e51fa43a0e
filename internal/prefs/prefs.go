// Package prefs maintains per-user tag affinity scores. Each entry records a
// tag, an accumulated score, and whether the user declared the tag explicitly
// or the system inferred it from behaviour. A user can hold at most one
// declared and one inferred entry per tag; they are separate records so that
// editing the declared tag set never disturbs inferred history.
package prefs

import (
	"context"
	goerrors "errors"
	"log/slog"
)

// Default score parameters. Tags of an item a user acted on directly get the
// primary increment, co-occurring or related tags the secondary one, and
// explicitly declared tags the declared score.
const (
	DefaultPrimaryIncrement   = 0.25
	DefaultSecondaryIncrement = 0.1
	DefaultDeclaredScore      = 1.0
)

// Entry is one tag affinity record attached to a user.
type Entry struct {
	Tag         string  `json:"tag"`
	Score       float64 `json:"score"`
	AddedByUser bool    `json:"added_by_user"`
}

// Repository is the persistence contract for preference entries.
type Repository interface {
	// UserExists returns errors.ErrUserNotFound for unknown users.
	UserExists(ctx context.Context, userID string) error
	// Entries returns all of a user's preference entries.
	Entries(ctx context.Context, userID string) ([]Entry, error)
	// Upsert creates the (userID, tag, addedByUser) entry with createScore,
	// or increments an existing entry's score by increment.
	Upsert(ctx context.Context, userID, tag string, addedByUser bool, createScore, increment float64) error
	// DeleteDeclaredExcept removes declared entries whose tag is not in keep.
	// Inferred entries are never touched.
	DeleteDeclaredExcept(ctx context.Context, userID string, keep []string) error
}

// Store applies preference-signal semantics on top of a Repository.
type Store struct {
	repo          Repository
	declaredScore float64
	logger        *slog.Logger
}

// NewStore creates a Store. declaredScore is the fixed score given to newly
// declared tags; pass DefaultDeclaredScore unless configured otherwise.
func NewStore(repo Repository, declaredScore float64) *Store {
	if declaredScore <= 0 {
		declaredScore = DefaultDeclaredScore
	}
	return &Store{
		repo:          repo,
		declaredScore: declaredScore,
		logger:        slog.Default().With("component", "prefs"),
	}
}

// RecordSignal applies one affinity signal for each tag: new entries are
// created with createScore, existing ones incremented by increment. Each tag
// update is independent; a failing tag is logged and the rest are still
// attempted, with all failures joined into the returned error.
func (s *Store) RecordSignal(ctx context.Context, userID string, tags []string, createScore, increment float64, addedByUser bool) error {
	if err := s.repo.UserExists(ctx, userID); err != nil {
		return err
	}
	var errs []error
	for _, tag := range tags {
		if tag == "" {
			continue
		}
		if err := s.repo.Upsert(ctx, userID, tag, addedByUser, createScore, increment); err != nil {
			s.logger.Error("preference upsert failed",
				"user_id", userID,
				"tag", tag,
				"error", err,
			)
			errs = append(errs, err)
		}
	}
	return goerrors.Join(errs...)
}

// ReplaceDeclaredTags makes tags the user's complete declared set: declared
// entries absent from the new set are removed, then every tag in the set is
// recorded as declared. Inferred entries are never affected, even for
// overlapping tags.
func (s *Store) ReplaceDeclaredTags(ctx context.Context, userID string, tags []string) error {
	if err := s.repo.UserExists(ctx, userID); err != nil {
		return err
	}
	if err := s.repo.DeleteDeclaredExcept(ctx, userID, tags); err != nil {
		return err
	}
	return s.RecordSignal(ctx, userID, tags, s.declaredScore, s.declaredScore, true)
}

// Entries returns all preference entries of the user.
func (s *Store) Entries(ctx context.Context, userID string) ([]Entry, error) {
	if err := s.repo.UserExists(ctx, userID); err != nil {
		return nil, err
	}
	return s.repo.Entries(ctx, userID)
}

// TagScores flattens a user's entries into a tag-to-score map for use as a
// recommendation query vector. Declared and inferred scores for the same tag
// are summed.
func (s *Store) TagScores(ctx context.Context, userID string) (map[string]float64, error) {
	entries, err := s.Entries(ctx, userID)
	if err != nil {
		return nil, err
	}
	scores := make(map[string]float64, len(entries))
	for _, e := range entries {
		scores[e.Tag] += e.Score
	}
	return scores, nil
}

// Exists reports whether the user is known, as errors.ErrUserNotFound or nil.
func (s *Store) Exists(ctx context.Context, userID string) error {
	return s.repo.UserExists(ctx, userID)
}
