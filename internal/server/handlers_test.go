package server

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/studyowl/studyowl/internal/chat"
	"github.com/studyowl/studyowl/internal/chunker"
	"github.com/studyowl/studyowl/internal/config"
	"github.com/studyowl/studyowl/internal/embedding"
	"github.com/studyowl/studyowl/internal/generate"
	"github.com/studyowl/studyowl/internal/ingest"
	"github.com/studyowl/studyowl/internal/keyword"
	"github.com/studyowl/studyowl/internal/models"
	"github.com/studyowl/studyowl/internal/retrieval"
	"github.com/studyowl/studyowl/internal/storage"
	"github.com/studyowl/studyowl/internal/vector"
)

type testServer struct {
	srv      *Server
	ingestor *ingest.Ingestor
	store    storage.Storage
}

func newTestServer(t *testing.T, answer string) *testServer {
	t.Helper()
	dir := t.TempDir()
	cfg := &config.Config{}
	config.ApplyDefaults(cfg)
	cfg.Storage.DatabasePath = filepath.Join(dir, "test.db")
	cfg.Storage.BleveIndexPath = filepath.Join(dir, "keyword.bleve")
	cfg.Storage.VectorIndexPath = filepath.Join(dir, "vectors.bin")

	store, err := storage.NewSQLiteStorage(cfg.Storage.DatabasePath)
	if err != nil {
		t.Fatalf("NewSQLiteStorage: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	embedder := embedding.NewMockEmbedder(8)
	vecIdx, err := vector.NewMemoryIndex(8)
	if err != nil {
		t.Fatalf("NewMemoryIndex: %v", err)
	}
	kwIdx, err := keyword.NewBleveIndex(cfg.Storage.BleveIndexPath)
	if err != nil {
		t.Fatalf("NewBleveIndex: %v", err)
	}
	t.Cleanup(func() { kwIdx.Close() })

	ch, err := chunker.New(cfg.Retrieval.ChunkSize, cfg.Retrieval.ChunkOverlap, cfg.Retrieval.MinChunkChars)
	if err != nil {
		t.Fatalf("chunker.New: %v", err)
	}
	ingestor := ingest.NewIngestor(store, embedder, vecIdx, kwIdx, ch, cfg.Embedding.BatchSize)
	retriever := retrieval.NewRetriever(embedder, vecIdx, store)
	orchestrator := chat.NewOrchestrator(store, retriever, generate.NewMockGenerator(answer), cfg.Retrieval.TopK, nil)

	srv := NewServer(orchestrator, ingestor, store, kwIdx, vecIdx, cfg, zap.NewNop())
	return &testServer{srv: srv, ingestor: ingestor, store: store}
}

func (ts *testServer) ingestDoc(t *testing.T, docID string, texts ...string) {
	t.Helper()
	pages := make([]models.PageContent, len(texts))
	for i, text := range texts {
		pages[i] = models.PageContent{Number: i + 1, Text: text, Width: 612, Height: 792}
	}
	if _, err := ts.ingestor.IngestPages(context.Background(), docID, docID+".pdf", pages, nil); err != nil {
		t.Fatalf("IngestPages: %v", err)
	}
}

func doRequest(t *testing.T, srv *Server, method, path string, body []byte) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != nil {
		req = httptest.NewRequest(method, path, bytes.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, req)
	return w
}

func TestHealthEndpoint(t *testing.T) {
	ts := newTestServer(t, "ok")
	w := doRequest(t, ts.srv, http.MethodGet, "/health", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
}

func TestUploadRejectsInvalidPDF(t *testing.T) {
	ts := newTestServer(t, "ok")

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", "broken.pdf")
	if err != nil {
		t.Fatal(err)
	}
	fw.Write([]byte("this is not a pdf"))
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/api/v1/documents", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	w := httptest.NewRecorder()
	ts.srv.Router().ServeHTTP(w, req)

	if w.Code != http.StatusUnprocessableEntity {
		t.Errorf("status = %d, want 422", w.Code)
	}
}

func TestUploadRequiresFileField(t *testing.T) {
	ts := newTestServer(t, "ok")

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	mw.WriteField("other", "value")
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/api/v1/documents", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	w := httptest.NewRecorder()
	ts.srv.Router().ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestDocumentEndpoints(t *testing.T) {
	ts := newTestServer(t, "ok")
	ts.ingestDoc(t, "doc1", "The mitochondria is the powerhouse of the cell and also rather small.")

	w := doRequest(t, ts.srv, http.MethodGet, "/api/v1/documents", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("list status = %d", w.Code)
	}
	var list struct {
		Documents []*models.Document `json:"documents"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &list); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if len(list.Documents) != 1 {
		t.Fatalf("got %d documents, want 1", len(list.Documents))
	}

	w = doRequest(t, ts.srv, http.MethodGet, "/api/v1/documents/doc1", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("get status = %d", w.Code)
	}

	w = doRequest(t, ts.srv, http.MethodGet, "/api/v1/documents/missing", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("get missing status = %d, want 404", w.Code)
	}

	w = doRequest(t, ts.srv, http.MethodDelete, "/api/v1/documents/doc1", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("delete status = %d", w.Code)
	}
	w = doRequest(t, ts.srv, http.MethodGet, "/api/v1/documents/doc1", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("get after delete status = %d, want 404", w.Code)
	}

	w = doRequest(t, ts.srv, http.MethodDelete, "/api/v1/documents/missing", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("delete missing status = %d, want 404", w.Code)
	}
}

func TestListChunksEndpoint(t *testing.T) {
	ts := newTestServer(t, "ok")
	ts.ingestDoc(t, "doc1",
		"The mitochondria is the powerhouse of the cell and also rather small.",
		"Photosynthesis converts light into chemical energy for later use by the plant.")

	w := doRequest(t, ts.srv, http.MethodGet, "/api/v1/documents/doc1/chunks", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var resp struct {
		Chunks []*models.Chunk `json:"chunks"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Chunks) != 2 {
		t.Errorf("got %d chunks, want 2", len(resp.Chunks))
	}

	w = doRequest(t, ts.srv, http.MethodGet, "/api/v1/documents/missing/chunks", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("missing doc status = %d, want 404", w.Code)
	}
}

func TestSearchChunksEndpoint(t *testing.T) {
	ts := newTestServer(t, "ok")
	ts.ingestDoc(t, "doc1", "The mitochondria is the powerhouse of the cell and also rather small.")

	w := doRequest(t, ts.srv, http.MethodGet, "/api/v1/documents/doc1/search?q=mitochondria", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var resp struct {
		Results []*keyword.Result `json:"results"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Results) != 1 {
		t.Fatalf("got %d results, want 1", len(resp.Results))
	}
	if resp.Results[0].Page != 1 {
		t.Errorf("page = %d, want 1", resp.Results[0].Page)
	}

	w = doRequest(t, ts.srv, http.MethodGet, "/api/v1/documents/doc1/search", nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("missing q status = %d, want 400", w.Code)
	}
}

func TestChatEndpointStreamsSSE(t *testing.T) {
	answer := `Energy comes from mitochondria. [PAGE: 1] [HIGHLIGHT: page 1, "powerhouse"]`
	ts := newTestServer(t, answer)
	ts.ingestDoc(t, "doc1", "The mitochondria is the powerhouse of the cell and also rather small.")

	body, _ := json.Marshal(models.ChatRequest{
		DocumentID: "doc1",
		Messages:   []models.ChatMessage{{Role: "user", Content: "where does energy come from?"}},
	})
	w := doRequest(t, ts.srv, http.MethodPost, "/api/v1/chat", body)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	if ct := w.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("content type = %q", ct)
	}

	raw := w.Body.String()
	if !strings.Contains(raw, "event: token\n") {
		t.Errorf("no token events in stream:\n%s", raw)
	}

	finishIdx := strings.Index(raw, "event: finish\n")
	if finishIdx < 0 {
		t.Fatalf("no finish event in stream:\n%s", raw)
	}
	dataLine := raw[finishIdx+len("event: finish\n"):]
	dataLine = strings.TrimPrefix(dataLine, "data: ")
	if i := strings.Index(dataLine, "\n"); i >= 0 {
		dataLine = dataLine[:i]
	}

	var finish finishEvent
	if err := json.Unmarshal([]byte(dataLine), &finish); err != nil {
		t.Fatalf("decode finish event: %v", err)
	}
	if finish.ChatID == "" {
		t.Errorf("finish event missing chatId")
	}
	if finish.Answer.CleanText != "Energy comes from mitochondria." {
		t.Errorf("clean text = %q", finish.Answer.CleanText)
	}
	if finish.Answer.PageFocus == nil || finish.Answer.PageFocus.Page != 1 {
		t.Errorf("page focus = %+v", finish.Answer.PageFocus)
	}
	if finish.Metadata == nil || finish.Metadata.PrimaryPage != 1 {
		t.Errorf("metadata = %+v", finish.Metadata)
	}

	// The conversation should now be retrievable.
	w = doRequest(t, ts.srv, http.MethodGet, "/api/v1/chats/"+finish.ChatID+"/messages", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("messages status = %d", w.Code)
	}
	var msgs struct {
		Messages []*models.Message `json:"messages"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &msgs); err != nil {
		t.Fatalf("decode messages: %v", err)
	}
	if len(msgs.Messages) != 2 {
		t.Errorf("got %d messages, want 2", len(msgs.Messages))
	}

	w = doRequest(t, ts.srv, http.MethodGet, "/api/v1/documents/doc1/chats", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("chats status = %d", w.Code)
	}
}

func TestDeleteChatEndpoint(t *testing.T) {
	ts := newTestServer(t, "ok")
	ts.ingestDoc(t, "doc1", "The mitochondria is the powerhouse of the cell and also rather small.")

	ctx := context.Background()
	if err := ts.store.CreateChat(ctx, &models.Chat{ID: "chat1", DocumentID: "doc1", Title: "t"}); err != nil {
		t.Fatalf("CreateChat: %v", err)
	}
	if err := ts.store.CreateMessage(ctx, &models.Message{ID: "m1", ChatID: "chat1", Role: "user", Content: "hi"}); err != nil {
		t.Fatalf("CreateMessage: %v", err)
	}

	w := doRequest(t, ts.srv, http.MethodDelete, "/api/v1/chats/chat1", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("delete status = %d", w.Code)
	}
	w = doRequest(t, ts.srv, http.MethodGet, "/api/v1/chats/chat1/messages", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("messages after delete status = %d, want 404", w.Code)
	}
	w = doRequest(t, ts.srv, http.MethodDelete, "/api/v1/chats/chat1", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("second delete status = %d, want 404", w.Code)
	}
}

func TestChatEndpointUnknownDocument(t *testing.T) {
	ts := newTestServer(t, "ok")
	body, _ := json.Marshal(models.ChatRequest{
		DocumentID: "missing",
		Messages:   []models.ChatMessage{{Role: "user", Content: "hi"}},
	})
	w := doRequest(t, ts.srv, http.MethodPost, "/api/v1/chat", body)
	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
}

func TestChatEndpointInvalidRequest(t *testing.T) {
	ts := newTestServer(t, "ok")
	body, _ := json.Marshal(models.ChatRequest{
		Messages: []models.ChatMessage{{Role: "user", Content: "hi"}},
	})
	w := doRequest(t, ts.srv, http.MethodPost, "/api/v1/chat", body)
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestStatusEndpoint(t *testing.T) {
	ts := newTestServer(t, "ok")
	ts.ingestDoc(t, "doc1", "The mitochondria is the powerhouse of the cell and also rather small.")

	w := doRequest(t, ts.srv, http.MethodGet, "/api/v1/status", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var resp map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp["documents"].(float64) != 1 {
		t.Errorf("documents = %v, want 1", resp["documents"])
	}
	if resp["vector_index_size"].(float64) != 1 {
		t.Errorf("vector_index_size = %v, want 1", resp["vector_index_size"])
	}
	if _, ok := resp["config"]; !ok {
		t.Errorf("config section missing")
	}
}
