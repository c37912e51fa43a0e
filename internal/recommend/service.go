package recommend

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/examforge/recommender/internal/prefs"
	"github.com/examforge/recommender/internal/recommend/index"
	"github.com/examforge/recommender/internal/recommend/rank"
	"github.com/examforge/recommender/internal/recommend/vector"
	"github.com/examforge/recommender/pkg/errors"
	"github.com/examforge/recommender/pkg/metrics"
)

// Service recommends entities of one kind. Its term index starts nil
// (uninitialized) and becomes ready on the first Setup; rebuilds construct a
// fresh index off to the side and swap the pointer atomically, so concurrent
// readers never observe a half-built model. Concurrent forced rebuilds may
// race; the last writer wins, which is fine for a derived cache over a store
// that remains the source of truth.
type Service[E Entity] struct {
	kind    string
	src     Source[E]
	prefs   *prefs.Store
	idx     atomic.Pointer[index.Index]
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// NewService creates a Service for one entity kind ("exam", "question").
// m may be nil to disable instrumentation.
func NewService[E Entity](kind string, src Source[E], prefStore *prefs.Store, m *metrics.Metrics) *Service[E] {
	return &Service[E]{
		kind:    kind,
		src:     src,
		prefs:   prefStore,
		metrics: m,
		logger:  slog.Default().With("component", "recommend", "kind", kind),
	}
}

// Kind returns the entity kind this service recommends.
func (s *Service[E]) Kind() string {
	return s.kind
}

// Ready reports whether the term index has been built at least once.
func (s *Service[E]) Ready() bool {
	return s.idx.Load() != nil
}

// Setup fetches the full current corpus and, when force is set or the index
// has never been built, rebuilds the term index over it. The fetched corpus
// is returned either way.
func (s *Service[E]) Setup(ctx context.Context, force bool) ([]E, error) {
	corpus, err := s.src.FetchAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetching %s corpus: %w", s.kind, err)
	}
	if !force && s.idx.Load() != nil {
		return corpus, nil
	}

	start := time.Now()
	docs := make([]index.Document, len(corpus))
	for i, e := range corpus {
		docs[i] = index.Document{ID: e.EntityID(), Text: e.Document()}
	}
	ix, err := index.Build(docs)
	if err != nil {
		return nil, fmt.Errorf("building %s index: %w", s.kind, err)
	}
	s.idx.Store(ix)

	trigger := "initial"
	if force {
		trigger = "forced"
	}
	if s.metrics != nil {
		s.metrics.IndexRebuildsTotal.WithLabelValues(s.kind, trigger).Inc()
		s.metrics.IndexRebuildDuration.Observe(time.Since(start).Seconds())
		s.metrics.CorpusSize.WithLabelValues(s.kind).Set(float64(ix.Len()))
	}
	s.logger.Info("term index rebuilt",
		"trigger", trigger,
		"documents", ix.Len(),
		"duration", time.Since(start),
	)
	return corpus, nil
}

// SimilarTo returns entities ranked by similarity to the given entity,
// excluding the entity itself. Unknown ids propagate the store's not-found
// error.
func (s *Service[E]) SimilarTo(ctx context.Context, id string, page rank.Page) ([]E, error) {
	if _, err := s.src.Get(ctx, id); err != nil {
		return nil, err
	}
	corpus, err := s.Setup(ctx, false)
	if err != nil {
		return nil, err
	}
	ix := s.idx.Load()

	pos, ok := ix.Position(id)
	if !ok {
		// The entity exists but postdates the last build. Rebuild once;
		// a position still missing afterwards is a real inconsistency.
		if corpus, err = s.Setup(ctx, true); err != nil {
			return nil, err
		}
		ix = s.idx.Load()
		if pos, ok = ix.Position(id); !ok {
			return nil, errors.Newf(errors.ErrIndexInconsistent, 500,
				"%s %s missing from freshly built index", s.kind, id)
		}
	}

	space := vector.NewSpace(ix)
	query, err := space.VectorFor(pos)
	if err != nil {
		return nil, err
	}
	candidates, err := space.All()
	if err != nil {
		return nil, err
	}
	ranked := rank.Recommend(query, candidates, pos, page)
	return s.resolve(ix, ranked, corpus)
}

// ForUser returns entities ranked by similarity to the user's preference
// vector. A user with no preference entries gets the corpus in its original
// order (every similarity is zero and the ranking is stable).
func (s *Service[E]) ForUser(ctx context.Context, userID string, page rank.Page) ([]E, error) {
	scores, err := s.prefs.TagScores(ctx, userID)
	if err != nil {
		return nil, err
	}
	corpus, err := s.Setup(ctx, false)
	if err != nil {
		return nil, err
	}
	ix := s.idx.Load()

	space := vector.NewSpace(ix)
	candidates, err := space.All()
	if err != nil {
		return nil, err
	}
	ranked := rank.Recommend(vector.FromScores(scores), candidates, rank.NoExclusion, page)
	return s.resolve(ix, ranked, corpus)
}

// OnUserConsumed records an inferred preference signal for every tag of the
// consumed entity: new tags start at createScore, repeat tags gain increment.
func (s *Service[E]) OnUserConsumed(ctx context.Context, userID, entityID string, createScore, increment float64) error {
	e, err := s.src.Get(ctx, entityID)
	if err != nil {
		return err
	}
	if err := s.prefs.RecordSignal(ctx, userID, e.EntityTags(), createScore, increment, false); err != nil {
		return fmt.Errorf("recording %s consumption signal: %w", s.kind, err)
	}
	if s.metrics != nil {
		s.metrics.PreferenceSignals.WithLabelValues("inferred").Add(float64(len(e.EntityTags())))
	}
	return nil
}

// resolve maps ranked corpus positions back to entities. Entities deleted
// from the store after the index was built are skipped.
func (s *Service[E]) resolve(ix *index.Index, ranked []rank.Scored, corpus []E) ([]E, error) {
	byID := make(map[string]E, len(corpus))
	for _, e := range corpus {
		byID[e.EntityID()] = e
	}
	result := make([]E, 0, len(ranked))
	for _, sc := range ranked {
		id, err := ix.ID(sc.Position)
		if err != nil {
			return nil, err
		}
		if e, ok := byID[id]; ok {
			result = append(result, e)
		}
	}
	return result, nil
}
