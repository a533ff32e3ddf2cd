// Package storage defines the persistence interface for documents, chunks, and chats.
package storage

import (
	"context"
	"errors"

	"github.com/studyowl/studyowl/internal/models"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// Storage defines document, chunk, and chat persistence operations.
type Storage interface {
	// Document operations
	CreateDocument(ctx context.Context, doc *models.Document) error
	GetDocument(ctx context.Context, id string) (*models.Document, error)
	UpdateDocument(ctx context.Context, doc *models.Document) error
	DeleteDocument(ctx context.Context, id string) error
	ListDocuments(ctx context.Context, offset, limit int) ([]*models.Document, error)

	// Chunk operations. Chunks are written once at ingestion and never
	// updated; an absent embedding is stored as NULL.
	BatchCreateChunks(ctx context.Context, chunks []*models.Chunk) error
	GetChunk(ctx context.Context, id string) (*models.Chunk, error)
	GetChunksByDocumentID(ctx context.Context, docID string) ([]*models.Chunk, error)
	GetEmbeddedChunks(ctx context.Context) ([]*models.Chunk, error)
	DeleteChunksByDocumentID(ctx context.Context, docID string) error

	// Chat operations
	CreateChat(ctx context.Context, chat *models.Chat) error
	GetChat(ctx context.Context, id string) (*models.Chat, error)
	ListChatsByDocumentID(ctx context.Context, docID string) ([]*models.Chat, error)
	DeleteChat(ctx context.Context, id string) error
	DeleteChatsByDocumentID(ctx context.Context, docID string) error
	CreateMessage(ctx context.Context, msg *models.Message) error
	GetMessagesByChatID(ctx context.Context, chatID string) ([]*models.Message, error)

	// Stats
	CountDocuments(ctx context.Context) (int64, error)
	CountChunks(ctx context.Context) (int64, error)

	Close() error
}
