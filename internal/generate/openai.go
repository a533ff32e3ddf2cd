package generate

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/studyowl/studyowl/internal/models"
)

const streamTimeout = 120 * time.Second

// OpenAIGenerator calls an OpenAI-compatible /chat/completions endpoint
// with streaming enabled.
type OpenAIGenerator struct {
	httpClient  *http.Client
	baseURL     string
	apiKey      string
	model       string
	maxTokens   int
	temperature float64
	maxRetries  int
}

// NewOpenAIGenerator creates a generator for the given service. maxRetries
// applies only to establishing the stream; once tokens flow, a broken
// stream is an error.
func NewOpenAIGenerator(baseURL, apiKey, model string, maxTokens int, temperature float64, maxRetries int) *OpenAIGenerator {
	return &OpenAIGenerator{
		httpClient:  &http.Client{Timeout: streamTimeout},
		baseURL:     baseURL,
		apiKey:      apiKey,
		model:       model,
		maxTokens:   maxTokens,
		temperature: temperature,
		maxRetries:  maxRetries,
	}
}

type chatCompletionRequest struct {
	Model       string               `json:"model"`
	Messages    []models.ChatMessage `json:"messages"`
	MaxTokens   int                  `json:"max_tokens,omitempty"`
	Temperature float64              `json:"temperature"`
	Stream      bool                 `json:"stream"`
}

type chatCompletionChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		FinishReason *string `json:"finish_reason"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// Generate streams an answer and returns the full text once the stream ends.
func (g *OpenAIGenerator) Generate(ctx context.Context, system string, messages []models.ChatMessage, onToken TokenFunc) (string, error) {
	all := make([]models.ChatMessage, 0, len(messages)+1)
	if system != "" {
		all = append(all, models.ChatMessage{Role: "system", Content: system})
	}
	all = append(all, messages...)

	body, err := json.Marshal(chatCompletionRequest{
		Model:       g.model,
		Messages:    all,
		MaxTokens:   g.maxTokens,
		Temperature: g.temperature,
		Stream:      true,
	})
	if err != nil {
		return "", fmt.Errorf("marshal chat request: %w", err)
	}

	resp, err := g.openStream(ctx, body)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	return readStream(resp.Body, onToken)
}

// openStream posts the request and returns a response whose body is the SSE
// stream, retrying transient failures before any token has been read.
func (g *OpenAIGenerator) openStream(ctx context.Context, body []byte) (*http.Response, error) {
	var lastErr error
	for attempt := 0; attempt <= g.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(time.Duration(attempt) * 500 * time.Millisecond):
			}
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/chat/completions", bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("build chat request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "text/event-stream")
		if g.apiKey != "" {
			req.Header.Set("Authorization", "Bearer "+g.apiKey)
		}
		resp, err := g.httpClient.Do(req)
		if err != nil {
			lastErr = fmt.Errorf("chat request failed: %w", err)
			continue
		}
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			data, _ := io.ReadAll(resp.Body)
			_ = resp.Body.Close()
			lastErr = fmt.Errorf("chat service returned %d: %s", resp.StatusCode, string(data))
			continue
		}
		if resp.StatusCode != http.StatusOK {
			data, _ := io.ReadAll(resp.Body)
			_ = resp.Body.Close()
			return nil, fmt.Errorf("chat service returned %d: %s", resp.StatusCode, string(data))
		}
		return resp, nil
	}
	return nil, fmt.Errorf("chat retries exhausted: %w", lastErr)
}

// readStream consumes SSE "data:" events until [DONE] or EOF, delivering
// each content delta to onToken and accumulating the full answer.
func readStream(r io.Reader, onToken TokenFunc) (string, error) {
	var answer strings.Builder
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if payload == "[DONE]" {
			break
		}
		var chunk chatCompletionChunk
		if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
			return "", fmt.Errorf("decode stream chunk: %w", err)
		}
		if chunk.Error != nil {
			return "", fmt.Errorf("chat service error: %s", chunk.Error.Message)
		}
		for _, choice := range chunk.Choices {
			if choice.Delta.Content == "" {
				continue
			}
			answer.WriteString(choice.Delta.Content)
			if onToken != nil {
				onToken(choice.Delta.Content)
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return "", fmt.Errorf("read stream: %w", err)
	}
	return answer.String(), nil
}

// Close is a no-op; the HTTP client has no resources to release.
func (g *OpenAIGenerator) Close() error {
	return nil
}
