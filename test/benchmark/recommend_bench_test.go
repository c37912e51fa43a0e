// Package benchmark contains Go benchmarks for the term index, vector
// similarity, and ranking pipeline, measuring throughput and allocation
// behaviour.
package benchmark

import (
	"fmt"
	"testing"

	"github.com/examforge/recommender/internal/recommend/index"
	"github.com/examforge/recommender/internal/recommend/rank"
	"github.com/examforge/recommender/internal/recommend/vector"
)

var subjects = []string{"algebra", "calculus", "geometry", "chemistry", "physics", "biology", "history", "statistics"}

func corpus(n int) []index.Document {
	docs := make([]index.Document, n)
	for i := range docs {
		docs[i] = index.Document{
			ID: fmt.Sprintf("exam-%d", i),
			Text: fmt.Sprintf("introduction to %s covering %s and applied %s problems",
				subjects[i%len(subjects)], subjects[(i+1)%len(subjects)], subjects[(i+3)%len(subjects)]),
		}
	}
	return docs
}

// BenchmarkIndexBuild measures full index construction at various corpus
// sizes.
func BenchmarkIndexBuild(b *testing.B) {
	sizes := []int{100, 1000, 10000}
	for _, n := range sizes {
		b.Run(fmt.Sprintf("docs_%d", n), func(b *testing.B) {
			docs := corpus(n)
			b.ReportAllocs()
			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				ix, err := index.Build(docs)
				if err != nil {
					b.Fatal(err)
				}
				_ = ix
			}
		})
	}
}

// BenchmarkTermWeights measures per-document weight computation over a 10 000
// document corpus.
func BenchmarkTermWeights(b *testing.B) {
	ix, err := index.Build(corpus(10000))
	if err != nil {
		b.Fatal(err)
	}

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		weights, err := ix.TermWeights(i % ix.Len())
		if err != nil {
			b.Fatal(err)
		}
		_ = weights
	}
}

// BenchmarkCosine measures one similarity comparison between two document
// vectors.
func BenchmarkCosine(b *testing.B) {
	ix, err := index.Build(corpus(10000))
	if err != nil {
		b.Fatal(err)
	}
	space := vector.NewSpace(ix)
	a, err := space.VectorFor(0)
	if err != nil {
		b.Fatal(err)
	}
	c, err := space.VectorFor(1)
	if err != nil {
		b.Fatal(err)
	}

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = vector.Cosine(a, c)
	}
}

// BenchmarkRecommend measures a full ranking pass at various corpus sizes,
// the hot path behind every similarity request.
func BenchmarkRecommend(b *testing.B) {
	sizes := []int{100, 1000, 10000}
	for _, n := range sizes {
		b.Run(fmt.Sprintf("docs_%d", n), func(b *testing.B) {
			ix, err := index.Build(corpus(n))
			if err != nil {
				b.Fatal(err)
			}
			space := vector.NewSpace(ix)
			candidates, err := space.All()
			if err != nil {
				b.Fatal(err)
			}
			query, err := space.VectorFor(0)
			if err != nil {
				b.Fatal(err)
			}
			page := rank.Page{Offset: 0, Limit: 10}

			b.ReportAllocs()
			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				_ = rank.Recommend(query, candidates, 0, page)
			}
		})
	}
}

// BenchmarkRecommendParallel measures concurrent ranking throughput over a
// shared immutable index.
func BenchmarkRecommendParallel(b *testing.B) {
	ix, err := index.Build(corpus(10000))
	if err != nil {
		b.Fatal(err)
	}
	space := vector.NewSpace(ix)
	candidates, err := space.All()
	if err != nil {
		b.Fatal(err)
	}
	query, err := space.VectorFor(0)
	if err != nil {
		b.Fatal(err)
	}
	page := rank.Page{Offset: 0, Limit: 10}

	b.ReportAllocs()
	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			_ = rank.Recommend(query, candidates, 0, page)
		}
	})
}
