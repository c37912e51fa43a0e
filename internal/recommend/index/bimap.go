package index

import (
	"fmt"

	"github.com/examforge/recommender/pkg/errors"
)

// bimap is a bidirectional mapping between entity ids and corpus positions.
// Positions are assigned from insertion order at construction and the map is
// never mutated afterwards, so both directions stay consistent for the
// lifetime of the index that owns it.
type bimap struct {
	byID  map[string]int
	byPos []string
}

// newBimap builds the two-way lookup from an ordered id list. A duplicate id
// would leave one of the two directions ambiguous, so it is rejected.
func newBimap(ids []string) (*bimap, error) {
	b := &bimap{
		byID:  make(map[string]int, len(ids)),
		byPos: make([]string, len(ids)),
	}
	for pos, id := range ids {
		if _, dup := b.byID[id]; dup {
			return nil, errors.Newf(errors.ErrIndexInconsistent, 500,
				"duplicate entity id %q in corpus", id)
		}
		b.byID[id] = pos
		b.byPos[pos] = id
	}
	return b, nil
}

func (b *bimap) position(id string) (int, bool) {
	pos, ok := b.byID[id]
	return pos, ok
}

func (b *bimap) id(pos int) (string, error) {
	if pos < 0 || pos >= len(b.byPos) {
		return "", fmt.Errorf("%w: position %d out of range [0,%d)",
			errors.ErrIndexInconsistent, pos, len(b.byPos))
	}
	return b.byPos[pos], nil
}

func (b *bimap) len() int {
	return len(b.byPos)
}
