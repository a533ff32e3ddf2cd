package models

import (
	"fmt"
	"time"
)

// ChatMessage is one turn of a conversation.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatRequest is the input for one question against a document.
// JSON field names follow the front-end contract.
type ChatRequest struct {
	Messages   []ChatMessage `json:"messages"`
	DocumentID string        `json:"documentId"`
	ChatID     string        `json:"chatId,omitempty"`
}

// Validate ensures the request carries a document ID and ends with a user message.
func (r *ChatRequest) Validate() error {
	if r.DocumentID == "" {
		return fmt.Errorf("documentId is required")
	}
	if len(r.Messages) == 0 {
		return fmt.Errorf("messages cannot be empty")
	}
	last := r.Messages[len(r.Messages)-1]
	if last.Role != "user" {
		return fmt.Errorf("last message must have role \"user\", got %q", last.Role)
	}
	if last.Content == "" {
		return fmt.Errorf("question cannot be empty")
	}
	return nil
}

// Question returns the last user message's content.
func (r *ChatRequest) Question() string {
	if len(r.Messages) == 0 {
		return ""
	}
	return r.Messages[len(r.Messages)-1].Content
}

// ChunkRef is a compact reference to a retrieved chunk, included in the
// finish metadata sent to the front end.
type ChunkRef struct {
	Page       int     `json:"page"`
	Snippet    string  `json:"snippet"`
	Similarity float64 `json:"similarity"`
}

// CitationMetadata is the finish-event payload for one answered question.
// The field names and shape are a front-end contract and must not change.
type CitationMetadata struct {
	PrimaryPage   int        `json:"primaryPage"`
	RelevantPages []int      `json:"relevantPages"`
	Chunks        []ChunkRef `json:"chunks"`
}

// Chat is a conversation bound to one document.
type Chat struct {
	ID         string    `json:"id" db:"id"`
	DocumentID string    `json:"document_id" db:"document_id"`
	Title      string    `json:"title" db:"title"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
}

// Message is a persisted chat message. Metadata is set on assistant
// messages to record the retrieval grounding of the answer.
type Message struct {
	ID        string            `json:"id" db:"id"`
	ChatID    string            `json:"chat_id" db:"chat_id"`
	Role      string            `json:"role" db:"role"`
	Content   string            `json:"content" db:"content"`
	Metadata  *CitationMetadata `json:"metadata,omitempty" db:"metadata"`
	CreatedAt time.Time         `json:"created_at" db:"created_at"`
}
