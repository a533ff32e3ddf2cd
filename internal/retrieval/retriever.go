// Package retrieval turns a question into ranked chunks and a context window.
package retrieval

import (
	"context"
	"errors"
	"fmt"

	"github.com/studyowl/studyowl/internal/embedding"
	"github.com/studyowl/studyowl/internal/models"
	"github.com/studyowl/studyowl/internal/storage"
	"github.com/studyowl/studyowl/internal/vector"
)

// ErrEmbeddingUnavailable signals that the query could not be embedded.
// Callers may degrade to answering without document context.
var ErrEmbeddingUnavailable = errors.New("embedding unavailable")

// Retriever finds the chunks of one document most similar to a question.
type Retriever struct {
	embedder embedding.Embedder
	index    vector.Index
	storage  storage.Storage
}

// NewRetriever creates a retriever with the given dependencies.
func NewRetriever(embedder embedding.Embedder, index vector.Index, store storage.Storage) *Retriever {
	return &Retriever{
		embedder: embedder,
		index:    index,
		storage:  store,
	}
}

// Retrieve embeds the query and returns the top k chunks of the document by
// cosine similarity, ordered best first. An empty result is not an error;
// it means the document has no embedded chunks.
func (r *Retriever) Retrieve(ctx context.Context, documentID, query string, k int) (models.RetrievalResult, error) {
	vecs, err := r.embedder.EmbedBatch(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEmbeddingUnavailable, err)
	}
	queryVec := vecs[0]

	hits, err := r.index.Search(ctx, documentID, queryVec, k)
	if err != nil {
		return nil, fmt.Errorf("vector search failed: %w", err)
	}

	result := make(models.RetrievalResult, 0, len(hits))
	for _, hit := range hits {
		chunk, err := r.storage.GetChunk(ctx, hit.ChunkID)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				// Index and storage drifted; skip the stale entry.
				continue
			}
			return nil, fmt.Errorf("failed to load chunk %s: %w", hit.ChunkID, err)
		}
		result = append(result, &models.RetrievedChunk{
			Chunk:      chunk,
			Similarity: hit.Score,
			PageNumber: chunk.PageNumber,
		})
	}
	return result, nil
}
