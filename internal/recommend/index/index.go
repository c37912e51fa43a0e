// Package index builds an in-memory term-frequency / inverse-document-frequency
// model over a corpus of text documents, one per recommendable entity.
//
// An Index is immutable once built. Callers that need to pick up corpus
// changes build a fresh Index and swap the reference, so concurrent readers
// always observe either the old or the fully-built new model, never a partial
// one.
package index

import (
	"fmt"
	"math"

	"github.com/examforge/recommender/pkg/errors"
)

// Document is one corpus entry: an entity id and its text representation.
type Document struct {
	ID   string
	Text string
}

// Index holds per-document term frequencies, corpus-wide document frequencies,
// and the bidirectional id/position lookup.
type Index struct {
	ids   *bimap
	freqs []map[string]int
	// df counts, per term, how many documents contain the term at least once.
	df map[string]int
}

// Build constructs an Index over the given documents. Positions equal the
// document's index in the input order, so building twice from the same input
// yields identical position assignments.
func Build(docs []Document) (*Index, error) {
	ids := make([]string, len(docs))
	for i, d := range docs {
		ids[i] = d.ID
	}
	bm, err := newBimap(ids)
	if err != nil {
		return nil, err
	}

	ix := &Index{
		ids:   bm,
		freqs: make([]map[string]int, len(docs)),
		df:    make(map[string]int),
	}
	for pos, d := range docs {
		tf := make(map[string]int)
		for _, term := range Tokenize(d.Text) {
			tf[term]++
		}
		ix.freqs[pos] = tf
		for term := range tf {
			ix.df[term]++
		}
	}
	return ix, nil
}

// Len returns the number of documents in the corpus.
func (ix *Index) Len() int {
	return ix.ids.len()
}

// Position returns the corpus position of an entity id.
func (ix *Index) Position(id string) (int, bool) {
	return ix.ids.position(id)
}

// ID returns the entity id at a corpus position.
func (ix *Index) ID(pos int) (string, error) {
	return ix.ids.id(pos)
}

// TermWeights returns the sparse TF-IDF weights of the document at pos:
// term frequency in the document times ln(corpusSize / documentsContainingTerm).
// Terms absent from the document are omitted. An out-of-range position means
// the caller holds a position from a different index instance, which is an
// internal consistency error.
func (ix *Index) TermWeights(pos int) (map[string]float64, error) {
	if pos < 0 || pos >= len(ix.freqs) {
		return nil, fmt.Errorf("%w: position %d out of range [0,%d)",
			errors.ErrIndexInconsistent, pos, len(ix.freqs))
	}
	n := float64(len(ix.freqs))
	weights := make(map[string]float64, len(ix.freqs[pos]))
	for term, tf := range ix.freqs[pos] {
		idf := math.Log(n / float64(ix.df[term]))
		weights[term] = float64(tf) * idf
	}
	return weights, nil
}
