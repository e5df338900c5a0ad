package index

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"

	"docchat/src/core/chunker"
)

var (
	ErrCorrupt = errors.New("corrupt index")
)

// Embedder converts text into a fixed-dimension vector. The same provider
// and model must be used for building an index and embedding its queries.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Record pairs a chunk with its embedding vector.
type Record struct {
	Chunk  chunker.Chunk
	Vector []float32
}

// Result is a search hit: a chunk and its similarity score.
type Result struct {
	Chunk chunker.Chunk
	Score float64
}

// Index holds the embedding records for one document. It is immutable after
// Build, so concurrent searches need no locking.
type Index struct {
	documentID string
	dimension  int
	records    []Record
}

type buildConfig struct {
	progress func(done, total int)
}

type BuildOption func(*buildConfig)

// WithProgress registers a callback invoked after each chunk is embedded.
func WithProgress(fn func(done, total int)) BuildOption {
	return func(cfg *buildConfig) {
		cfg.progress = fn
	}
}

// Build embeds every chunk and assembles the index. Any embedding failure
// aborts the whole build: ingestion is all-or-nothing, a partially embedded
// index is never returned.
func Build(ctx context.Context, embedder Embedder, documentID string, chunks []chunker.Chunk, opts ...BuildOption) (*Index, error) {
	if len(chunks) == 0 {
		return nil, fmt.Errorf("no chunks to index for document %s", documentID)
	}

	var cfg buildConfig
	for _, opt := range opts {
		opt(&cfg)
	}

	idx := &Index{
		documentID: documentID,
		records:    make([]Record, 0, len(chunks)),
	}

	for i, chunk := range chunks {
		vector, err := embedder.Embed(ctx, chunk.Text)
		if err != nil {
			return nil, fmt.Errorf("failed to embed chunk %d: %w", chunk.Index, err)
		}
		if len(vector) == 0 {
			return nil, fmt.Errorf("embedding provider returned an empty vector for chunk %d", chunk.Index)
		}

		if idx.dimension == 0 {
			idx.dimension = len(vector)
		} else if len(vector) != idx.dimension {
			return nil, fmt.Errorf("%w: chunk %d has dimension %d, index has %d",
				ErrCorrupt, chunk.Index, len(vector), idx.dimension)
		}

		idx.records = append(idx.records, Record{Chunk: chunk, Vector: vector})
		if cfg.progress != nil {
			cfg.progress(i+1, len(chunks))
		}
	}

	return idx, nil
}

func (idx *Index) DocumentID() string { return idx.documentID }
func (idx *Index) Dimension() int     { return idx.dimension }
func (idx *Index) Len() int           { return len(idx.records) }

// Search embeds the query with the same provider used at build time and
// returns the k highest scoring chunks in descending score order, ties
// broken by ascending chunk index. If the index holds fewer than k records,
// all of them are returned.
func (idx *Index) Search(ctx context.Context, embedder Embedder, query string, k int) ([]Result, error) {
	if k < 1 {
		return nil, fmt.Errorf("search k must be >= 1, got %d", k)
	}

	vector, err := embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}
	if len(vector) != idx.dimension {
		return nil, fmt.Errorf("%w: query vector has dimension %d, index has %d",
			ErrCorrupt, len(vector), idx.dimension)
	}

	results := make([]Result, 0, len(idx.records))
	for _, rec := range idx.records {
		results = append(results, Result{
			Chunk: rec.Chunk,
			Score: cosineSimilarity(vector, rec.Vector),
		})
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].Chunk.Index < results[j].Chunk.Index
	})

	if k < len(results) {
		results = results[:k]
	}
	return results, nil
}

func cosineSimilarity(a, b []float32) float64 {
	var dot, magA, magB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		magA += float64(a[i]) * float64(a[i])
		magB += float64(b[i]) * float64(b[i])
	}
	if magA == 0 || magB == 0 {
		return 0
	}
	return dot / (math.Sqrt(magA) * math.Sqrt(magB))
}
