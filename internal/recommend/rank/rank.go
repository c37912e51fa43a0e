// Package rank scores corpus entities against a query vector and returns a
// paginated window of the ranking.
package rank

import (
	"sort"

	"github.com/examforge/recommender/internal/recommend/vector"
	"github.com/examforge/recommender/pkg/errors"
)

// NoExclusion disables self-exclusion in Recommend.
const NoExclusion = -1

// Page is an offset/limit pair. Offset counts whole pages of size Limit, not
// records: the window starts at Offset*Limit. This convention is shared with
// the platform's recommendation endpoints and differs from the record-offset
// pagination used elsewhere.
type Page struct {
	Offset int
	Limit  int
}

// Validate rejects negative offsets and non-positive limits.
func (p Page) Validate() error {
	if p.Offset < 0 {
		return errors.Newf(errors.ErrInvalidPagination, 400, "offset %d is negative", p.Offset)
	}
	if p.Limit <= 0 {
		return errors.Newf(errors.ErrInvalidPagination, 400, "limit %d is not positive", p.Limit)
	}
	return nil
}

// window clamps the page to a ranking of n items.
func (p Page) window(n int) (start, end int) {
	start = p.Offset * p.Limit
	if start > n {
		start = n
	}
	end = start + p.Limit
	if end > n {
		end = n
	}
	return start, end
}

// Scored is a corpus position with its similarity to the query.
type Scored struct {
	Position int
	Score    float64
}

// Recommend computes the cosine similarity of query against every candidate,
// drops excludePos (pass NoExclusion to keep all), sorts by descending
// similarity with ties kept in corpus order, and returns the page window.
// Empty candidates yield an empty result.
func Recommend(query vector.Vector, candidates []vector.Vector, excludePos int, page Page) []Scored {
	scored := make([]Scored, 0, len(candidates))
	for pos, cand := range candidates {
		if pos == excludePos {
			continue
		}
		scored = append(scored, Scored{
			Position: pos,
			Score:    vector.Cosine(query, cand),
		})
	}

	// Stable: equal scores keep corpus order, which makes the all-zero query
	// vector of a user with no preferences return a deterministic ranking.
	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].Score > scored[j].Score
	})

	start, end := page.window(len(scored))
	return scored[start:end]
}
