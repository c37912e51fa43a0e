// Package recommend orchestrates content-based recommendations: it maintains
// a TF-IDF term index per entity kind, ranks corpus entities by cosine
// similarity against item or user-preference query vectors, and feeds user
// activity back into the preference score store.
package recommend

import "context"

// Entity is a recommendable item: it can identify itself, expose its tags,
// and render the text document it is indexed under.
type Entity interface {
	EntityID() string
	EntityTags() []string
	Document() string
}

// Source is the backing entity store for one entity kind. FetchAll must
// return a stable order; corpus positions are assigned from it.
type Source[E Entity] interface {
	FetchAll(ctx context.Context) ([]E, error)
	Get(ctx context.Context, id string) (E, error)
}
