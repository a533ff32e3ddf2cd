// Package vector provides a document-scoped vector index and similarity search.
package vector

import "context"

// Hit is a single similarity-search result. Score is cosine similarity
// in [-1, 1] for unit-normalized vectors.
type Hit struct {
	ChunkID string
	Score   float64
}

// Index stores chunk embeddings partitioned by document and answers top-k
// nearest-neighbor queries under cosine similarity. Search never errors on
// a small or empty partition; it returns what is available.
type Index interface {
	Upsert(ctx context.Context, documentID string, chunkIDs []string, vectors [][]float32) error
	Search(ctx context.Context, documentID string, query []float32, k int) ([]*Hit, error)
	RemoveDocument(ctx context.Context, documentID string) error
	Save(path string) error
	Load(path string) error
	Size() int
	Close() error
}
