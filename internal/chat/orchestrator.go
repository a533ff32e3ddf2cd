// Package chat orchestrates one question-answer turn against a document.
package chat

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/studyowl/studyowl/internal/citation"
	"github.com/studyowl/studyowl/internal/generate"
	"github.com/studyowl/studyowl/internal/models"
	"github.com/studyowl/studyowl/internal/retrieval"
	"github.com/studyowl/studyowl/internal/storage"
	"github.com/studyowl/studyowl/pkg/utils"
)

const (
	titleLength   = 50
	snippetLength = 100
)

// Turn is the outcome of one answered question.
type Turn struct {
	ChatID   string
	Answer   citation.Answer
	Metadata *models.CitationMetadata
}

// Orchestrator wires retrieval, generation, and persistence into the
// question-answer flow.
type Orchestrator struct {
	storage   storage.Storage
	retriever *retrieval.Retriever
	generator generate.Generator
	topK      int
	logger    *zap.Logger
}

// NewOrchestrator creates an orchestrator. topK is the number of chunks
// retrieved per question.
func NewOrchestrator(store storage.Storage, retriever *retrieval.Retriever, generator generate.Generator, topK int, logger *zap.Logger) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		storage:   store,
		retriever: retriever,
		generator: generator,
		topK:      topK,
		logger:    logger,
	}
}

// Ask answers the last user message of req against its document. Tokens are
// streamed to onToken as they arrive; the returned Turn carries the parsed
// answer and citation metadata. Both conversation turns are persisted; on
// generation failure nothing is saved for the assistant.
func (o *Orchestrator) Ask(ctx context.Context, req *models.ChatRequest, onToken generate.TokenFunc) (*Turn, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	doc, err := o.storage.GetDocument(ctx, req.DocumentID)
	if err != nil {
		return nil, err
	}

	question := req.Question()
	chat, err := o.findOrCreateChat(ctx, req, question)
	if err != nil {
		return nil, err
	}

	result, err := o.retriever.Retrieve(ctx, req.DocumentID, question, o.topK)
	if err != nil {
		if !errors.Is(err, retrieval.ErrEmbeddingUnavailable) {
			return nil, err
		}
		// Degrade to answering without document context.
		o.logger.Warn("retrieval degraded, answering without context",
			zap.String("document_id", req.DocumentID), zap.Error(err))
		result = nil
	}
	promptCtx := retrieval.BuildContext(result)
	metadata := buildMetadata(result)

	o.logger.Debug("answering question",
		zap.String("document_id", req.DocumentID),
		zap.String("chat_id", chat.ID),
		zap.Int("chunks_found", len(result)),
		zap.Int("primary_page", promptCtx.PrimaryPage))

	if err := o.storage.CreateMessage(ctx, &models.Message{
		ID:      uuid.NewString(),
		ChatID:  chat.ID,
		Role:    "user",
		Content: question,
	}); err != nil {
		return nil, fmt.Errorf("failed to save user message: %w", err)
	}

	system := systemPrompt(doc.Filename, promptCtx.Text, result.Pages())
	text, err := o.generator.Generate(ctx, system, req.Messages, onToken)
	if err != nil {
		return nil, fmt.Errorf("generation failed: %w", err)
	}

	if err := o.storage.CreateMessage(ctx, &models.Message{
		ID:       uuid.NewString(),
		ChatID:   chat.ID,
		Role:     "assistant",
		Content:  text,
		Metadata: metadata,
	}); err != nil {
		return nil, fmt.Errorf("failed to save assistant message: %w", err)
	}

	return &Turn{
		ChatID:   chat.ID,
		Answer:   citation.Parse(text),
		Metadata: metadata,
	}, nil
}

// findOrCreateChat resolves the chat for this turn. An unknown provided
// chat ID falls through to creating a fresh chat rather than failing the
// question.
func (o *Orchestrator) findOrCreateChat(ctx context.Context, req *models.ChatRequest, question string) (*models.Chat, error) {
	if req.ChatID != "" {
		chat, err := o.storage.GetChat(ctx, req.ChatID)
		if err == nil {
			return chat, nil
		}
		if !errors.Is(err, storage.ErrNotFound) {
			return nil, err
		}
	}

	title := utils.Snippet(question, titleLength)
	if title == "" {
		title = "New Chat"
	}
	chat := &models.Chat{
		ID:         uuid.NewString(),
		DocumentID: req.DocumentID,
		Title:      title,
	}
	if err := o.storage.CreateChat(ctx, chat); err != nil {
		return nil, fmt.Errorf("failed to create chat: %w", err)
	}
	return chat, nil
}

// buildMetadata summarizes the retrieval grounding of an answer. Pages keep
// relevance order; snippets are bounded prefixes of chunk text.
func buildMetadata(result models.RetrievalResult) *models.CitationMetadata {
	meta := &models.CitationMetadata{
		PrimaryPage:   1,
		RelevantPages: result.Pages(),
		Chunks:        make([]models.ChunkRef, len(result)),
	}
	if len(result) > 0 {
		meta.PrimaryPage = result[0].PageNumber
	}
	for i, rc := range result {
		meta.Chunks[i] = models.ChunkRef{
			Page:       rc.PageNumber,
			Snippet:    utils.Snippet(rc.Chunk.Content, snippetLength),
			Similarity: rc.Similarity,
		}
	}
	return meta
}

// History returns the persisted messages of a chat in order.
func (o *Orchestrator) History(ctx context.Context, chatID string) ([]*models.Message, error) {
	if _, err := o.storage.GetChat(ctx, chatID); err != nil {
		return nil, err
	}
	return o.storage.GetMessagesByChatID(ctx, chatID)
}
