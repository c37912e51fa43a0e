package prefs

import (
	"context"
	goerrors "errors"
	"math"
	"testing"

	"github.com/examforge/recommender/pkg/errors"
)

func newTestStore(t *testing.T, users ...string) (*Store, *MemoryRepository) {
	t.Helper()
	repo := NewMemoryRepository()
	for _, u := range users {
		repo.AddUser(u)
	}
	return NewStore(repo, DefaultDeclaredScore), repo
}

func entryFor(t *testing.T, entries []Entry, tag string, addedByUser bool) (Entry, bool) {
	t.Helper()
	for _, e := range entries {
		if e.Tag == tag && e.AddedByUser == addedByUser {
			return e, true
		}
	}
	return Entry{}, false
}

func TestRecordSignalIsAdditive(t *testing.T) {
	store, _ := newTestStore(t, "u1")
	ctx := context.Background()

	if err := store.RecordSignal(ctx, "u1", []string{"math"}, 0.25, 0.1, false); err != nil {
		t.Fatalf("first signal: %v", err)
	}
	if err := store.RecordSignal(ctx, "u1", []string{"math"}, 0.25, 0.1, false); err != nil {
		t.Fatalf("second signal: %v", err)
	}

	entries, err := store.Entries(ctx, "u1")
	if err != nil {
		t.Fatalf("Entries: %v", err)
	}
	e, ok := entryFor(t, entries, "math", false)
	if !ok {
		t.Fatal("no inferred entry for math")
	}
	if math.Abs(e.Score-0.35) > 1e-12 {
		t.Errorf("score = %f, want 0.35", e.Score)
	}
}

func TestRecordSignalCreatesOneEntryPerTag(t *testing.T) {
	store, _ := newTestStore(t, "u1")
	ctx := context.Background()

	if err := store.RecordSignal(ctx, "u1", []string{"math", "algebra", "math"}, 0.25, 0.1, false); err != nil {
		t.Fatalf("RecordSignal: %v", err)
	}
	entries, _ := store.Entries(ctx, "u1")
	if len(entries) != 2 {
		t.Fatalf("entries = %d, want 2", len(entries))
	}
	// The repeated tag in one signal increments the entry it just created.
	e, _ := entryFor(t, entries, "math", false)
	if math.Abs(e.Score-0.35) > 1e-12 {
		t.Errorf("score = %f, want 0.35", e.Score)
	}
}

func TestRecordSignalUnknownUser(t *testing.T) {
	store, _ := newTestStore(t)
	err := store.RecordSignal(context.Background(), "ghost", []string{"math"}, 0.25, 0.1, false)
	if !goerrors.Is(err, errors.ErrUserNotFound) {
		t.Fatalf("err = %v, want ErrUserNotFound", err)
	}
}

func TestRecordSignalSkipsEmptyTags(t *testing.T) {
	store, _ := newTestStore(t, "u1")
	if err := store.RecordSignal(context.Background(), "u1", []string{"", "math"}, 0.25, 0.1, false); err != nil {
		t.Fatalf("RecordSignal: %v", err)
	}
	entries, _ := store.Entries(context.Background(), "u1")
	if len(entries) != 1 {
		t.Fatalf("entries = %d, want 1", len(entries))
	}
}

func TestReplaceDeclaredTags(t *testing.T) {
	store, _ := newTestStore(t, "u1")
	ctx := context.Background()

	if err := store.ReplaceDeclaredTags(ctx, "u1", []string{"math", "physics"}); err != nil {
		t.Fatalf("first replace: %v", err)
	}
	// An inferred entry under the same name as a declared tag.
	if err := store.RecordSignal(ctx, "u1", []string{"physics"}, 0.25, 0.25, false); err != nil {
		t.Fatalf("inferred signal: %v", err)
	}

	if err := store.ReplaceDeclaredTags(ctx, "u1", []string{"math"}); err != nil {
		t.Fatalf("second replace: %v", err)
	}

	entries, err := store.Entries(ctx, "u1")
	if err != nil {
		t.Fatalf("Entries: %v", err)
	}
	if _, ok := entryFor(t, entries, "physics", true); ok {
		t.Error("declared physics entry survived removal from the declared set")
	}
	if _, ok := entryFor(t, entries, "physics", false); !ok {
		t.Error("inferred physics entry was removed by a declared-set edit")
	}
	if _, ok := entryFor(t, entries, "math", true); !ok {
		t.Error("declared math entry missing")
	}
}

func TestReplaceDeclaredTagsIncrementsKeptTags(t *testing.T) {
	store, _ := newTestStore(t, "u1")
	ctx := context.Background()

	if err := store.ReplaceDeclaredTags(ctx, "u1", []string{"math"}); err != nil {
		t.Fatalf("first replace: %v", err)
	}
	if err := store.ReplaceDeclaredTags(ctx, "u1", []string{"math"}); err != nil {
		t.Fatalf("second replace: %v", err)
	}
	entries, _ := store.Entries(ctx, "u1")
	e, ok := entryFor(t, entries, "math", true)
	if !ok {
		t.Fatal("declared math entry missing")
	}
	if math.Abs(e.Score-2*DefaultDeclaredScore) > 1e-12 {
		t.Errorf("score = %f, want %f", e.Score, 2*DefaultDeclaredScore)
	}
}

func TestTagScoresSumsDeclaredAndInferred(t *testing.T) {
	store, _ := newTestStore(t, "u1")
	ctx := context.Background()

	if err := store.ReplaceDeclaredTags(ctx, "u1", []string{"math"}); err != nil {
		t.Fatalf("ReplaceDeclaredTags: %v", err)
	}
	if err := store.RecordSignal(ctx, "u1", []string{"math"}, 0.25, 0.25, false); err != nil {
		t.Fatalf("RecordSignal: %v", err)
	}
	scores, err := store.TagScores(ctx, "u1")
	if err != nil {
		t.Fatalf("TagScores: %v", err)
	}
	if math.Abs(scores["math"]-1.25) > 1e-12 {
		t.Errorf("scores[math] = %f, want 1.25", scores["math"])
	}
}

// failingRepo fails upserts for one tag; the other tags must still land.
type failingRepo struct {
	*MemoryRepository
	failTag string
}

func (r *failingRepo) Upsert(ctx context.Context, userID, tag string, addedByUser bool, createScore, increment float64) error {
	if tag == r.failTag {
		return goerrors.New("storage hiccup")
	}
	return r.MemoryRepository.Upsert(ctx, userID, tag, addedByUser, createScore, increment)
}

func TestRecordSignalContinuesPastFailingTag(t *testing.T) {
	repo := &failingRepo{MemoryRepository: NewMemoryRepository(), failTag: "broken"}
	repo.AddUser("u1")
	store := NewStore(repo, DefaultDeclaredScore)

	err := store.RecordSignal(context.Background(), "u1", []string{"math", "broken", "algebra"}, 0.25, 0.1, false)
	if err == nil {
		t.Fatal("expected joined error for failing tag")
	}
	entries, _ := store.Entries(context.Background(), "u1")
	if len(entries) != 2 {
		t.Fatalf("entries = %d, want 2 despite one failing tag", len(entries))
	}
}
