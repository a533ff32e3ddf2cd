package generate

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/studyowl/studyowl/internal/models"
)

func sseHandler(t *testing.T, tokens []string) http.HandlerFunc {
	t.Helper()
	return func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "text/event-stream")
		for _, tok := range tokens {
			fmt.Fprintf(w, "data: {\"choices\":[{\"delta\":{\"content\":%q}}]}\n\n", tok)
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	}
}

func TestGenerateStreamsTokens(t *testing.T) {
	srv := httptest.NewServer(sseHandler(t, []string{"The answer ", "is on ", "[PAGE: 3]."}))
	defer srv.Close()

	g := NewOpenAIGenerator(srv.URL, "key", "gpt-4o-mini", 100, 0.4, 0)

	var streamed []string
	answer, err := g.Generate(context.Background(), "be helpful",
		[]models.ChatMessage{{Role: "user", Content: "where?"}},
		func(token string) { streamed = append(streamed, token) },
	)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	want := "The answer is on [PAGE: 3]."
	if answer != want {
		t.Errorf("answer = %q, want %q", answer, want)
	}
	if len(streamed) != 3 {
		t.Errorf("got %d streamed tokens, want 3", len(streamed))
	}
	if strings.Join(streamed, "") != want {
		t.Errorf("streamed tokens join to %q", strings.Join(streamed, ""))
	}
}

func TestGenerateSendsSystemPrompt(t *testing.T) {
	var gotSystem atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req chatCompletionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if len(req.Messages) > 0 && req.Messages[0].Role == "system" {
			gotSystem.Store(req.Messages[0].Content)
		}
		if !req.Stream {
			t.Errorf("stream flag not set")
		}
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"ok\"}}]}\n\n")
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	g := NewOpenAIGenerator(srv.URL, "", "gpt-4o-mini", 100, 0.4, 0)
	if _, err := g.Generate(context.Background(), "tutor prompt",
		[]models.ChatMessage{{Role: "user", Content: "hi"}}, nil); err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if gotSystem.Load() != "tutor prompt" {
		t.Errorf("system prompt = %v, want tutor prompt", gotSystem.Load())
	}
}

func TestGenerateRetriesTransientFailure(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"recovered\"}}]}\n\n")
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	g := NewOpenAIGenerator(srv.URL, "", "gpt-4o-mini", 100, 0.4, 2)
	answer, err := g.Generate(context.Background(), "",
		[]models.ChatMessage{{Role: "user", Content: "hi"}}, nil)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if answer != "recovered" {
		t.Errorf("answer = %q", answer)
	}
	if calls.Load() != 2 {
		t.Errorf("got %d calls, want 2", calls.Load())
	}
}

func TestGenerateClientErrorNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	g := NewOpenAIGenerator(srv.URL, "", "gpt-4o-mini", 100, 0.4, 2)
	if _, err := g.Generate(context.Background(), "",
		[]models.ChatMessage{{Role: "user", Content: "hi"}}, nil); err == nil {
		t.Fatalf("expected error for 400 response")
	}
	if calls.Load() != 1 {
		t.Errorf("got %d calls, want 1", calls.Load())
	}
}

func TestMockGeneratorStreams(t *testing.T) {
	m := NewMockGenerator("see [PAGE: 2] for details")

	var streamed strings.Builder
	answer, err := m.Generate(context.Background(), "", nil, func(token string) {
		streamed.WriteString(token)
	})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if answer != "see [PAGE: 2] for details" {
		t.Errorf("answer = %q", answer)
	}
	if streamed.String() != answer {
		t.Errorf("streamed %q, want %q", streamed.String(), answer)
	}
}
