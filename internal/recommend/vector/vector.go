// Package vector provides sparse term-weight vectors and cosine similarity,
// plus a Space that materializes corpus documents from a built index.
package vector

import (
	"math"

	"github.com/examforge/recommender/internal/recommend/index"
)

// Vector is a sparse mapping from term to weight. Corpus vectors carry TF-IDF
// weights; user query vectors carry raw preference scores. Vectors are
// recomputed per request and never cached.
type Vector map[string]float64

// FromScores builds a query vector whose components are exactly the supplied
// tag/score pairs, unweighted by corpus statistics.
func FromScores(scores map[string]float64) Vector {
	v := make(Vector, len(scores))
	for tag, score := range scores {
		v[tag] = score
	}
	return v
}

// Dot returns the inner product over shared terms.
func (v Vector) Dot(o Vector) float64 {
	// Iterate the smaller operand.
	if len(o) < len(v) {
		v, o = o, v
	}
	var sum float64
	for term, w := range v {
		if ow, ok := o[term]; ok {
			sum += w * ow
		}
	}
	return sum
}

// Norm returns the Euclidean magnitude.
func (v Vector) Norm() float64 {
	var sum float64
	for _, w := range v {
		sum += w * w
	}
	return math.Sqrt(sum)
}

// Cosine returns the cosine similarity of a and b. If either vector has zero
// magnitude the similarity is 0.
func Cosine(a, b Vector) float64 {
	na, nb := a.Norm(), b.Norm()
	if na == 0 || nb == 0 {
		return 0
	}
	return a.Dot(b) / (na * nb)
}

// Space materializes the documents of a built index as sparse vectors.
type Space struct {
	ix *index.Index
}

// NewSpace wraps a built index.
func NewSpace(ix *index.Index) *Space {
	return &Space{ix: ix}
}

// VectorFor returns the TF-IDF vector of the corpus document at pos.
func (s *Space) VectorFor(pos int) (Vector, error) {
	weights, err := s.ix.TermWeights(pos)
	if err != nil {
		return nil, err
	}
	return Vector(weights), nil
}

// All returns one vector per corpus document, ordered by position.
func (s *Space) All() ([]Vector, error) {
	vectors := make([]Vector, s.ix.Len())
	for pos := range vectors {
		v, err := s.VectorFor(pos)
		if err != nil {
			return nil, err
		}
		vectors[pos] = v
	}
	return vectors, nil
}
