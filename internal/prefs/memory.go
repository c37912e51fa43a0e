package prefs

import (
	"context"
	"slices"
	"sync"

	"github.com/examforge/recommender/pkg/errors"
)

type entryKey struct {
	tag         string
	addedByUser bool
}

// MemoryRepository is an in-memory Repository. It backs tests and local runs
// without PostgreSQL.
type MemoryRepository struct {
	mu      sync.RWMutex
	users   map[string]struct{}
	entries map[string]map[entryKey]float64
}

// NewMemoryRepository creates an empty MemoryRepository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		users:   make(map[string]struct{}),
		entries: make(map[string]map[entryKey]float64),
	}
}

// AddUser registers a user id.
func (r *MemoryRepository) AddUser(userID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.users[userID] = struct{}{}
}

func (r *MemoryRepository) UserExists(ctx context.Context, userID string) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if _, ok := r.users[userID]; !ok {
		return errors.Newf(errors.ErrUserNotFound, 404, "user %s", userID)
	}
	return nil
}

func (r *MemoryRepository) Entries(ctx context.Context, userID string) ([]Entry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	byKey := r.entries[userID]
	result := make([]Entry, 0, len(byKey))
	for key, score := range byKey {
		result = append(result, Entry{
			Tag:         key.tag,
			Score:       score,
			AddedByUser: key.addedByUser,
		})
	}
	slices.SortFunc(result, func(a, b Entry) int {
		if a.Tag != b.Tag {
			if a.Tag < b.Tag {
				return -1
			}
			return 1
		}
		if a.AddedByUser == b.AddedByUser {
			return 0
		}
		if a.AddedByUser {
			return 1
		}
		return -1
	})
	return result, nil
}

func (r *MemoryRepository) Upsert(ctx context.Context, userID, tag string, addedByUser bool, createScore, increment float64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	byKey := r.entries[userID]
	if byKey == nil {
		byKey = make(map[entryKey]float64)
		r.entries[userID] = byKey
	}
	key := entryKey{tag: tag, addedByUser: addedByUser}
	if score, ok := byKey[key]; ok {
		byKey[key] = score + increment
	} else {
		byKey[key] = createScore
	}
	return nil
}

func (r *MemoryRepository) DeleteDeclaredExcept(ctx context.Context, userID string, keep []string) error {
	keepSet := make(map[string]struct{}, len(keep))
	for _, tag := range keep {
		keepSet[tag] = struct{}{}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for key := range r.entries[userID] {
		if !key.addedByUser {
			continue
		}
		if _, kept := keepSet[key.tag]; !kept {
			delete(r.entries[userID], key)
		}
	}
	return nil
}
