package events

import (
	"context"
	"encoding/json"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/examforge/recommender/internal/prefs"
	"github.com/examforge/recommender/internal/recommend"
	"github.com/examforge/recommender/internal/recommend/rank"
	"github.com/examforge/recommender/internal/store"
	"github.com/examforge/recommender/pkg/errors"
	"github.com/examforge/recommender/pkg/kafka"
)

func rankPage() rank.Page {
	return rank.Page{Offset: 0, Limit: 10}
}

// fakePublisher records published batches.
type fakePublisher struct {
	mu      sync.Mutex
	batches [][]kafka.Event
	err     error
}

func (f *fakePublisher) PublishBatch(ctx context.Context, events []kafka.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.batches = append(f.batches, slices.Clone(events))
	return nil
}

func (f *fakePublisher) published() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, b := range f.batches {
		n += len(b)
	}
	return n
}

func TestCollectorFlushesOnInterval(t *testing.T) {
	pub := &fakePublisher{}
	c := NewCollector(pub, 100, 10*time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())
	c.Start(ctx)

	c.Track(Event{Type: TypeExamPurchased, UserID: "u1", EntityID: "e1"})
	c.Track(Event{Type: TypeQuestionUpvoted, UserID: "u1", EntityID: "q1"})

	deadline := time.After(2 * time.Second)
	for pub.published() < 2 {
		select {
		case <-deadline:
			t.Fatalf("published %d events before deadline, want 2", pub.published())
		case <-time.After(5 * time.Millisecond):
		}
	}
	cancel()
	c.Close()
}

func TestCollectorFinalFlushOnShutdown(t *testing.T) {
	pub := &fakePublisher{}
	c := NewCollector(pub, 100, time.Hour)
	ctx, cancel := context.WithCancel(context.Background())
	c.Start(ctx)

	c.Track(Event{Type: TypeExamPurchased, UserID: "u1", EntityID: "e1"})
	cancel()
	c.Close()

	if pub.published() != 1 {
		t.Fatalf("published %d events after shutdown, want 1", pub.published())
	}
}

func TestCollectorKeysEventsByUser(t *testing.T) {
	pub := &fakePublisher{}
	c := NewCollector(pub, 100, time.Hour)
	ctx, cancel := context.WithCancel(context.Background())
	c.Start(ctx)

	c.Track(Event{Type: TypeExamPurchased, UserID: "u1", EntityID: "e1"})
	c.Track(Event{Type: TypeExamCreated, EntityID: "e2"})
	cancel()
	c.Close()

	if pub.published() != 2 {
		t.Fatalf("published %d events, want 2", pub.published())
	}
	keys := []string{pub.batches[0][0].Key, pub.batches[0][1].Key}
	if !slices.Equal(keys, []string{"u1", "e2"}) {
		t.Errorf("keys = %v, want [u1 e2]", keys)
	}
}

// dispatcher test fixtures

type fakeExamSource struct {
	mu    sync.Mutex
	exams []store.Exam
}

func (f *fakeExamSource) FetchAll(ctx context.Context) ([]store.Exam, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.exams), nil
}

func (f *fakeExamSource) Get(ctx context.Context, id string) (store.Exam, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, e := range f.exams {
		if e.ID == id {
			return e, nil
		}
	}
	return store.Exam{}, errors.Newf(errors.ErrExamNotFound, 404, "exam %s", id)
}

type fakeQuestionSource struct {
	questions []store.Question
}

func (f *fakeQuestionSource) FetchAll(ctx context.Context) ([]store.Question, error) {
	return slices.Clone(f.questions), nil
}

func (f *fakeQuestionSource) Get(ctx context.Context, id string) (store.Question, error) {
	for _, q := range f.questions {
		if q.ID == id {
			return q, nil
		}
	}
	return store.Question{}, errors.Newf(errors.ErrQuestionNotFound, 404, "question %s", id)
}

func newTestDispatcher(t *testing.T) (*Dispatcher, *prefs.Store, *fakeExamSource) {
	t.Helper()
	examSrc := &fakeExamSource{exams: []store.Exam{
		{ID: "e1", Title: "Algebra basics", Tags: []string{"math", "algebra"}},
	}}
	questionSrc := &fakeQuestionSource{questions: []store.Question{
		{ID: "q1", Question: "What is a mole?", Tags: []string{"chemistry"}},
	}}
	repo := prefs.NewMemoryRepository()
	repo.AddUser("u1")
	prefStore := prefs.NewStore(repo, prefs.DefaultDeclaredScore)

	exams := recommend.NewService[store.Exam]("exam", examSrc, prefStore, nil)
	questions := recommend.NewService[store.Question]("question", questionSrc, prefStore, nil)
	return NewDispatcher(exams, questions, nil, 0.25, 0.1, nil), prefStore, examSrc
}

func encode(t *testing.T, e Event) []byte {
	t.Helper()
	data, err := json.Marshal(e)
	if err != nil {
		t.Fatalf("marshal event: %v", err)
	}
	return data
}

func TestDispatcherAppliesPurchaseSignal(t *testing.T) {
	d, prefStore, _ := newTestDispatcher(t)
	ctx := context.Background()

	handle := d.Handler()
	err := handle(ctx, []byte("u1"), encode(t, Event{
		Type: TypeExamPurchased, UserID: "u1", EntityID: "e1",
	}))
	if err != nil {
		t.Fatalf("handle: %v", err)
	}

	scores, err := prefStore.TagScores(ctx, "u1")
	if err != nil {
		t.Fatalf("TagScores: %v", err)
	}
	if scores["math"] != 0.25 || scores["algebra"] != 0.25 {
		t.Errorf("scores = %v, want math/algebra at 0.25", scores)
	}
}

func TestDispatcherAppliesUpvoteWithSecondaryIncrement(t *testing.T) {
	d, prefStore, _ := newTestDispatcher(t)
	ctx := context.Background()

	err := d.Handler()(ctx, []byte("u1"), encode(t, Event{
		Type: TypeQuestionUpvoted, UserID: "u1", EntityID: "q1",
	}))
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	scores, _ := prefStore.TagScores(ctx, "u1")
	if scores["chemistry"] != 0.1 {
		t.Errorf("scores[chemistry] = %f, want 0.1", scores["chemistry"])
	}
}

// Missing users and entities are terminal: the event is logged, dropped, and
// the consumer commits (nil error), with no retries against the store.
func TestDispatcherDropsNotFound(t *testing.T) {
	d, _, _ := newTestDispatcher(t)
	tests := []struct {
		name  string
		event Event
	}{
		{"unknown user", Event{Type: TypeExamPurchased, UserID: "ghost", EntityID: "e1"}},
		{"unknown exam", Event{Type: TypeExamPurchased, UserID: "u1", EntityID: "ghost"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := d.Handler()(context.Background(), nil, encode(t, tt.event)); err != nil {
				t.Fatalf("handle: %v, want nil for not-found", err)
			}
		})
	}
}

func TestDispatcherDropsUndecodableAndUnknownEvents(t *testing.T) {
	d, _, _ := newTestDispatcher(t)
	if err := d.Handler()(context.Background(), nil, []byte("not json")); err != nil {
		t.Fatalf("undecodable event: %v, want nil", err)
	}
	if err := d.Handler()(context.Background(), nil, encode(t, Event{Type: "mystery"})); err != nil {
		t.Fatalf("unknown event type: %v, want nil", err)
	}
}

func TestDispatcherCatalogChangeForcesRebuild(t *testing.T) {
	d, _, examSrc := newTestDispatcher(t)
	ctx := context.Background()

	if _, err := d.exams.Setup(ctx, false); err != nil {
		t.Fatalf("Setup: %v", err)
	}
	examSrc.mu.Lock()
	examSrc.exams = append(examSrc.exams, store.Exam{ID: "e2", Title: "Calculus", Tags: []string{"math"}})
	examSrc.mu.Unlock()

	err := d.Handler()(ctx, nil, encode(t, Event{Type: TypeExamCreated, EntityID: "e2"}))
	if err != nil {
		t.Fatalf("handle: %v", err)
	}

	// The rebuilt index must already know the new exam: similar-to works
	// without another rebuild round-trip.
	got, err := d.exams.SimilarTo(ctx, "e2", rankPage())
	if err != nil {
		t.Fatalf("SimilarTo after rebuild: %v", err)
	}
	if len(got) != 1 || got[0].ID != "e1" {
		t.Errorf("recommendations = %v, want [e1]", got)
	}
}
