package generate

import (
	"context"
	"strings"

	"github.com/studyowl/studyowl/internal/models"
)

// MockGenerator returns a fixed answer, streamed word by word. Used in
// tests and when no generation service is configured.
type MockGenerator struct {
	Answer string
	// Err, when set, is returned instead of an answer.
	Err error
}

// NewMockGenerator creates a generator that always answers with answer.
func NewMockGenerator(answer string) *MockGenerator {
	return &MockGenerator{Answer: answer}
}

// Generate streams the fixed answer and returns it.
func (m *MockGenerator) Generate(ctx context.Context, system string, messages []models.ChatMessage, onToken TokenFunc) (string, error) {
	if m.Err != nil {
		return "", m.Err
	}
	if onToken != nil {
		words := strings.SplitAfter(m.Answer, " ")
		for _, w := range words {
			if w == "" {
				continue
			}
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			default:
			}
			onToken(w)
		}
	}
	return m.Answer, nil
}

// Close is a no-op.
func (m *MockGenerator) Close() error {
	return nil
}
