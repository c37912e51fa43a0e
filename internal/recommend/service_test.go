package recommend

import (
	"context"
	goerrors "errors"
	"slices"
	"sync"
	"testing"

	"github.com/examforge/recommender/internal/prefs"
	"github.com/examforge/recommender/internal/recommend/rank"
	"github.com/examforge/recommender/internal/store"
	"github.com/examforge/recommender/pkg/errors"
)

// fakeExamSource is an in-memory Source[store.Exam] that counts corpus
// fetches so tests can observe rebuild behaviour.
type fakeExamSource struct {
	mu       sync.Mutex
	exams    []store.Exam
	fetchals int
}

func (f *fakeExamSource) FetchAll(ctx context.Context) ([]store.Exam, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetchals++
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

func (f *fakeExamSource) add(e store.Exam) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.exams = append(f.exams, e)
}

func testCatalog() []store.Exam {
	return []store.Exam{
		{ID: "e1", Title: "Algebra basics", Tags: []string{"math", "algebra"}},
		{ID: "e2", Title: "Organic chemistry", Tags: []string{"chemistry"}},
		{ID: "e3", Title: "Advanced algebra", Tags: []string{"math", "algebra", "advanced"}},
	}
}

func newTestService(t *testing.T, exams []store.Exam, users ...string) (*Service[store.Exam], *fakeExamSource, *prefs.Store) {
	t.Helper()
	src := &fakeExamSource{exams: exams}
	repo := prefs.NewMemoryRepository()
	for _, u := range users {
		repo.AddUser(u)
	}
	prefStore := prefs.NewStore(repo, prefs.DefaultDeclaredScore)
	return NewService[store.Exam]("exam", src, prefStore, nil), src, prefStore
}

func ids(exams []store.Exam) []string {
	out := make([]string, len(exams))
	for i, e := range exams {
		out[i] = e.ID
	}
	return out
}

func TestSetupLifecycle(t *testing.T) {
	svc, src, _ := newTestService(t, testCatalog())
	ctx := context.Background()

	if svc.Ready() {
		t.Fatal("service ready before first Setup")
	}
	corpus, err := svc.Setup(ctx, false)
	if err != nil {
		t.Fatalf("Setup: %v", err)
	}
	if len(corpus) != 3 || !svc.Ready() {
		t.Fatalf("corpus = %d entities, ready = %v", len(corpus), svc.Ready())
	}

	// A non-forced Setup on a ready service refetches the corpus but keeps
	// the index.
	ix := svc.idx.Load()
	if _, err := svc.Setup(ctx, false); err != nil {
		t.Fatalf("second Setup: %v", err)
	}
	if svc.idx.Load() != ix {
		t.Error("non-forced Setup rebuilt a ready index")
	}
	if _, err := svc.Setup(ctx, true); err != nil {
		t.Fatalf("forced Setup: %v", err)
	}
	if svc.idx.Load() == ix {
		t.Error("forced Setup kept the old index")
	}
	if src.fetchals != 3 {
		t.Errorf("corpus fetched %d times, want 3", src.fetchals)
	}
}

func TestSimilarToRanksSharedTagsFirst(t *testing.T) {
	svc, _, _ := newTestService(t, testCatalog())

	got, err := svc.SimilarTo(context.Background(), "e1", rank.Page{Offset: 0, Limit: 10})
	if err != nil {
		t.Fatalf("SimilarTo: %v", err)
	}
	want := []string{"e3", "e2"}
	if !slices.Equal(ids(got), want) {
		t.Errorf("ranking = %v, want %v", ids(got), want)
	}
}

func TestSimilarToNeverIncludesSelf(t *testing.T) {
	catalog := testCatalog()
	svc, _, _ := newTestService(t, catalog)

	for _, e := range catalog {
		got, err := svc.SimilarTo(context.Background(), e.ID, rank.Page{Offset: 0, Limit: 10})
		if err != nil {
			t.Fatalf("SimilarTo(%s): %v", e.ID, err)
		}
		if slices.Contains(ids(got), e.ID) {
			t.Errorf("SimilarTo(%s) recommended the exam itself", e.ID)
		}
	}
}

func TestSimilarToUnknownExam(t *testing.T) {
	svc, _, _ := newTestService(t, testCatalog())
	_, err := svc.SimilarTo(context.Background(), "ghost", rank.Page{Offset: 0, Limit: 10})
	if !goerrors.Is(err, errors.ErrExamNotFound) {
		t.Fatalf("err = %v, want ErrExamNotFound", err)
	}
}

// An entity created after the last build is found via a one-shot forced
// rebuild instead of failing.
func TestSimilarToRebuildsForStaleIndex(t *testing.T) {
	svc, src, _ := newTestService(t, testCatalog())
	ctx := context.Background()

	if _, err := svc.Setup(ctx, false); err != nil {
		t.Fatalf("Setup: %v", err)
	}
	src.add(store.Exam{ID: "e4", Title: "Linear algebra", Tags: []string{"math", "algebra"}})

	got, err := svc.SimilarTo(ctx, "e4", rank.Page{Offset: 0, Limit: 10})
	if err != nil {
		t.Fatalf("SimilarTo after catalog growth: %v", err)
	}
	if len(got) == 0 {
		t.Fatal("no recommendations for freshly added exam")
	}
	if got[0].ID != "e1" && got[0].ID != "e3" {
		t.Errorf("top recommendation = %s, want an algebra exam", got[0].ID)
	}
}

func TestForUserMatchesPreferences(t *testing.T) {
	svc, _, prefStore := newTestService(t, testCatalog(), "u1")
	ctx := context.Background()

	if err := prefStore.RecordSignal(ctx, "u1", []string{"chemistry"}, 0.25, 0.25, false); err != nil {
		t.Fatalf("RecordSignal: %v", err)
	}
	got, err := svc.ForUser(ctx, "u1", rank.Page{Offset: 0, Limit: 10})
	if err != nil {
		t.Fatalf("ForUser: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("len = %d, want 3 (no self-exclusion for user queries)", len(got))
	}
	if got[0].ID != "e2" {
		t.Errorf("top recommendation = %s, want e2", got[0].ID)
	}
}

// A user with no preference entries gets every similarity 0 and therefore the
// corpus in its original order.
func TestForUserWithoutPreferencesKeepsCorpusOrder(t *testing.T) {
	svc, _, _ := newTestService(t, testCatalog(), "u1")

	got, err := svc.ForUser(context.Background(), "u1", rank.Page{Offset: 0, Limit: 10})
	if err != nil {
		t.Fatalf("ForUser: %v", err)
	}
	if !slices.Equal(ids(got), []string{"e1", "e2", "e3"}) {
		t.Errorf("order = %v, want corpus order", ids(got))
	}
}

func TestForUserUnknownUser(t *testing.T) {
	svc, _, _ := newTestService(t, testCatalog())
	_, err := svc.ForUser(context.Background(), "ghost", rank.Page{Offset: 0, Limit: 10})
	if !goerrors.Is(err, errors.ErrUserNotFound) {
		t.Fatalf("err = %v, want ErrUserNotFound", err)
	}
}

func TestForUserEmptyCorpus(t *testing.T) {
	svc, _, _ := newTestService(t, nil, "u1")
	got, err := svc.ForUser(context.Background(), "u1", rank.Page{Offset: 0, Limit: 10})
	if err != nil {
		t.Fatalf("ForUser on empty corpus: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("len = %d, want 0", len(got))
	}
}

func TestOnUserConsumedRecordsEntityTags(t *testing.T) {
	svc, _, prefStore := newTestService(t, testCatalog(), "u1")
	ctx := context.Background()

	if err := svc.OnUserConsumed(ctx, "u1", "e3", 0.25, 0.25); err != nil {
		t.Fatalf("OnUserConsumed: %v", err)
	}
	scores, err := prefStore.TagScores(ctx, "u1")
	if err != nil {
		t.Fatalf("TagScores: %v", err)
	}
	for _, tag := range []string{"math", "algebra", "advanced"} {
		if scores[tag] != 0.25 {
			t.Errorf("scores[%s] = %f, want 0.25", tag, scores[tag])
		}
	}
}

func TestOnUserConsumedUnknownEntity(t *testing.T) {
	svc, _, _ := newTestService(t, testCatalog(), "u1")
	err := svc.OnUserConsumed(context.Background(), "u1", "ghost", 0.25, 0.25)
	if !goerrors.Is(err, errors.ErrExamNotFound) {
		t.Fatalf("err = %v, want ErrExamNotFound", err)
	}
}

func TestSimilarToPagination(t *testing.T) {
	exams := make([]store.Exam, 13)
	exams[0] = store.Exam{ID: "query", Title: "topic zero", Tags: []string{"shared"}}
	for i := 1; i < 13; i++ {
		exams[i] = store.Exam{
			ID:    "e" + string(rune('a'+i-1)),
			Title: "topic",
			Tags:  []string{"shared"},
		}
	}
	svc, _, _ := newTestService(t, exams)

	// 12 candidates after self-exclusion; page 1 of size 5 is ranks 5..9.
	got, err := svc.SimilarTo(context.Background(), "query", rank.Page{Offset: 1, Limit: 5})
	if err != nil {
		t.Fatalf("SimilarTo: %v", err)
	}
	if len(got) != 5 {
		t.Fatalf("len = %d, want 5", len(got))
	}
}
