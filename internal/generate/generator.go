// Package generate streams answers from a chat-completion service.
package generate

import (
	"context"

	"github.com/studyowl/studyowl/internal/models"
)

// TokenFunc receives each generated token as it arrives. A nil TokenFunc
// disables streaming delivery; the full answer is still returned.
type TokenFunc func(token string)

// Generator produces an answer from a system prompt and conversation
// history. Generate returns the complete answer text after the stream ends.
type Generator interface {
	Generate(ctx context.Context, system string, messages []models.ChatMessage, onToken TokenFunc) (string, error)
	Close() error
}
