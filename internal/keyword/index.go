// Package keyword provides exact-phrase search over chunk text.
package keyword

import (
	"context"

	"github.com/studyowl/studyowl/internal/models"
)

// Index defines keyword search operations over document chunks.
type Index interface {
	// IndexChunks adds a batch of chunks to the index.
	IndexChunks(ctx context.Context, chunks []*models.Chunk) error
	// Search returns chunks of one document matching the query, best first.
	Search(ctx context.Context, documentID, query string, limit int) ([]*Result, error)
	// DeleteDocument removes every chunk of a document from the index.
	DeleteDocument(ctx context.Context, documentID string) error
	// DocCount returns the total number of indexed chunks.
	DocCount() (uint64, error)
	Close() error
}

// Result is a single keyword search hit.
type Result struct {
	ChunkID  string  `json:"chunk_id"`
	Page     int     `json:"page"`
	Score    float64 `json:"score"`
	Fragment string  `json:"fragment"`
}
